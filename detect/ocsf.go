package detect

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"siembox/core"
)

// CategorySynonyms maps a Sigma logsource category to the OCSF
// category/activity names it may appear under. The table is a
// best-effort heuristic bridge, not a schema transform: coverage is
// incomplete, and categories without an entry fall back to a direct
// substring check. It is data, not logic - deployments can override it
// with a YAML file.
type CategorySynonyms map[string][]string

// DefaultCategorySynonyms returns the built-in synonym table, covering
// the Sigma categories observed in the loaded corpus.
func DefaultCategorySynonyms() CategorySynonyms {
	return CategorySynonyms{
		"process_creation": {"process activity", "process creation"},
		"authentication":   {"identity & access management", "authentication"},
		"network_connection": {
			"network activity", "network connection",
		},
		"dns_query":      {"dns activity", "dns query"},
		"dns":            {"dns activity"},
		"firewall":       {"network activity", "firewall"},
		"file_event":     {"file system activity", "file activity"},
		"file_change":    {"file system activity", "file activity"},
		"registry_event": {"registry key activity", "registry value activity"},
		"registry_set":   {"registry key activity", "registry value activity"},
		"webserver":      {"http activity", "web resources activity"},
		"proxy":          {"http activity", "network activity"},
	}
}

// LoadCategorySynonyms reads a synonym table override from a YAML
// file: a mapping of category name to a list of OCSF names.
func LoadCategorySynonyms(path string) (CategorySynonyms, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read synonyms file: %w", err)
	}
	var table CategorySynonyms
	if err := yaml.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse synonyms file: %w", err)
	}
	return table, nil
}

// matchOCSF evaluates a rule against an OCSF-shaped event. Selection
// and keyword checks run over the union of raw_event and the top-level
// fields; the logsource category is bridged through the synonym table.
func matchOCSF(rule *core.Rule, event *core.LogEvent, synonyms CategorySynonyms) bool {
	if !ocsfCategoryMatches(rule.Logsource.Category, event, synonyms) {
		return false
	}

	combined := event.Combined()

	if rule.Detection.HasSelection {
		return matchSelection(rule.Detection.Selection, combined)
	}
	if len(rule.Detection.Keywords) > 0 {
		return matchKeywords(rule.Detection.Keywords, serializeMap(combined))
	}
	return false
}

// ocsfCategoryMatches applies the category filter. A rule without a
// logsource category passes. A category with known synonyms requires
// one of them to appear in the event's category_name or activity_name;
// an unknown category falls back to a direct substring check that also
// considers class_name.
func ocsfCategoryMatches(ruleCategory string, event *core.LogEvent, synonyms CategorySynonyms) bool {
	if ruleCategory == "" {
		return true
	}

	categoryName := strings.ToLower(event.CategoryName())
	activityName := strings.ToLower(event.ActivityName())

	if names, ok := synonyms[strings.ToLower(ruleCategory)]; ok {
		for _, name := range names {
			name = strings.ToLower(name)
			if strings.Contains(categoryName, name) || strings.Contains(activityName, name) {
				return true
			}
		}
		return false
	}

	// Unknown category: best-effort direct substring check.
	needle := strings.ToLower(ruleCategory)
	className := strings.ToLower(event.ClassName())
	return strings.Contains(categoryName, needle) ||
		strings.Contains(activityName, needle) ||
		strings.Contains(className, needle)
}

// serializeMap renders a field map as JSON for keyword scanning.
func serializeMap(data map[string]interface{}) string {
	out, err := json.Marshal(data)
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(out)
}
