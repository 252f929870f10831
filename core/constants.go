package core

// Severity levels used by detection rules and alerts.
const (
	SeverityInformational = "informational"
	SeverityLow           = "low"
	SeverityMedium        = "medium"
	SeverityHigh          = "high"
	SeverityCritical      = "critical"
)

// DefaultSeverity is applied when a rule file carries no level.
const DefaultSeverity = SeverityMedium

// UncategorizedCategory is assigned to rules sitting directly in the
// rules root, outside any category subdirectory.
const UncategorizedCategory = "uncategorized"

// internalServices are the SIEMBox sibling services. Their own
// telemetry must never trigger detections.
var internalServices = map[string]struct{}{
	"api":             {},
	"collector":       {},
	"detection":       {},
	"iplookup":        {},
	"frontend":        {},
	"detections_page": {},
}

// IsInternalService reports whether source names one of the SIEMBox
// services themselves.
func IsInternalService(source string) bool {
	_, ok := internalServices[source]
	return ok
}

// ValidSeverity reports whether level is one of the five severity
// levels used by the rule corpus.
func ValidSeverity(level string) bool {
	switch level {
	case SeverityInformational, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}
