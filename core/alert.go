package core

import (
	"time"

	"github.com/google/uuid"
)

// Alert is raised when an enabled rule matches an inbound event. At
// most one alert is created per event (first-match-wins).
type Alert struct {
	ID         string                 `json:"id"`
	RuleID     string                 `json:"rule_id"`
	RuleName   string                 `json:"rule_name"`
	Timestamp  time.Time              `json:"timestamp"`
	LogSource  string                 `json:"log_source"`
	MatchedLog map[string]interface{} `json:"matched_log"`
	Severity   string                 `json:"severity"`
}

// NewAlert builds an alert for a matched rule. logSource is the
// event's source for legacy events and category_name for OCSF events;
// callers pass "unknown" when neither is present.
func NewAlert(rule *Rule, event *LogEvent, logSource string) *Alert {
	return &Alert{
		ID:         uuid.NewString(),
		RuleID:     rule.ID,
		RuleName:   rule.Title,
		Timestamp:  time.Now().UTC(),
		LogSource:  logSource,
		MatchedLog: event.Fields,
		Severity:   rule.Level,
	}
}
