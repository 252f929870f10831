// Package detect implements the log-matching engine: the per-rule
// matcher, the analysis pipeline with dedup and first-match-wins
// semantics, and the engine's rolling statistics.
package detect

import (
	"fmt"
	"strings"

	"siembox/core"
)

// Matches reports whether event satisfies rule's detection predicate.
// It is pure and never panics outward: any internal failure while
// evaluating a single rule is treated as a non-match so one bad rule
// cannot block the corpus.
func Matches(rule *core.Rule, event *core.LogEvent, synonyms CategorySynonyms) (matched bool) {
	defer func() {
		if r := recover(); r != nil {
			matched = false
		}
	}()

	switch event.Shape() {
	case core.ShapeOCSF:
		return matchOCSF(rule, event, synonyms)
	default:
		return matchLegacy(rule, event)
	}
}

// matchLegacy evaluates a rule against a flat collector-format event.
func matchLegacy(rule *core.Rule, event *core.LogEvent) bool {
	source := strings.ToLower(event.Source())

	// Logsource product/service are advisory substring filters on the
	// event source.
	if rule.Logsource.Product != "" && !strings.Contains(source, strings.ToLower(rule.Logsource.Product)) {
		return false
	}
	if rule.Logsource.Service != "" && !strings.Contains(source, strings.ToLower(rule.Logsource.Service)) {
		return false
	}

	metadata := event.Metadata()

	// When the log carries its own product/category metadata, it must
	// agree with the rule's logsource.
	if product, ok := lookupFold(metadata, "product"); ok && rule.Logsource.Product != "" {
		if !strings.EqualFold(stringify(product), rule.Logsource.Product) {
			return false
		}
	}
	if category, ok := lookupFold(metadata, "category"); ok && rule.Logsource.Category != "" {
		if !strings.EqualFold(stringify(category), rule.Logsource.Category) {
			return false
		}
	}

	if rule.Detection.HasSelection {
		return matchSelection(rule.Detection.Selection, metadata)
	}
	if len(rule.Detection.Keywords) > 0 {
		return matchKeywords(rule.Detection.Keywords, event.Serialize())
	}
	return false
}

// matchSelection evaluates an AND-combined selection field map against
// data. Every field must pass; an empty or malformed selection never
// matches.
func matchSelection(selection map[string]interface{}, data map[string]interface{}) bool {
	if len(selection) == 0 {
		return false
	}

	for field, expected := range selection {
		if strings.Contains(field, "|contains") {
			actualField := strings.SplitN(field, "|", 2)[0]
			fieldValue := foldValue(data, actualField)
			if !containsAny(fieldValue, expected) {
				return false
			}
		} else {
			fieldValue := foldValue(data, field)
			if !equalsAny(fieldValue, expected) {
				return false
			}
		}
	}
	return true
}

// matchKeywords reports whether any keyword occurs in the case-folded
// serialized event.
func matchKeywords(keywords []string, serialized string) bool {
	haystack := strings.ToLower(serialized)
	for _, kw := range keywords {
		if strings.Contains(haystack, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// containsAny implements the |contains modifier: the rule value (or
// any element of a list value) must be a substring of the field value.
func containsAny(fieldValue string, expected interface{}) bool {
	if list, ok := expected.([]interface{}); ok {
		for _, v := range list {
			if strings.Contains(fieldValue, strings.ToLower(stringify(v))) {
				return true
			}
		}
		return false
	}
	return strings.Contains(fieldValue, strings.ToLower(stringify(expected)))
}

// equalsAny implements exact matching: the field value must equal the
// rule value, or any element of a list value, case-insensitively.
func equalsAny(fieldValue string, expected interface{}) bool {
	if list, ok := expected.([]interface{}); ok {
		for _, v := range list {
			if fieldValue == strings.ToLower(stringify(v)) {
				return true
			}
		}
		return false
	}
	return fieldValue == strings.ToLower(stringify(expected))
}

// foldValue resolves a field from data case-insensitively and returns
// its case-folded string form. Missing fields resolve to "".
func foldValue(data map[string]interface{}, field string) string {
	v, ok := lookupFold(data, field)
	if !ok || v == nil {
		return ""
	}
	return strings.ToLower(stringify(v))
}

// lookupFold finds a key in data by case-insensitive comparison,
// preferring an exact match.
func lookupFold(data map[string]interface{}, key string) (interface{}, bool) {
	if v, ok := data[key]; ok {
		return v, true
	}
	for k, v := range data {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func stringify(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
