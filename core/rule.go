package core

import (
	"fmt"
	"sync/atomic"
)

// Logsource is the advisory filter block of a rule, evaluated before
// the detection predicate.
type Logsource struct {
	Product  string `json:"product,omitempty"`
	Service  string `json:"service,omitempty"`
	Category string `json:"category,omitempty"`
}

// Detection is the predicate of a rule: either a selection field map
// (AND semantics, all fields must match) or a keyword list (OR
// semantics against the serialized event). This intentionally covers
// only the subset of the Sigma language exercised by the corpus, not
// the full condition grammar.
type Detection struct {
	// Selection maps a field name (optionally suffixed "|contains") to
	// an expected value or list of values. Nil when HasSelection is
	// false, or when the source document's selection was not a mapping.
	Selection map[string]interface{}

	// HasSelection records that the source document carried a selection
	// block, even a malformed one. A malformed block never matches.
	HasSelection bool

	// Keywords is the flattened keyword list. A single scalar keyword
	// in the source is normalized to a one-element list.
	Keywords []string
}

// Empty reports whether the detection carries neither predicate form.
func (d Detection) Empty() bool {
	return !d.HasSelection && len(d.Keywords) == 0
}

// ParseDetection extracts the supported predicate forms from a raw
// detection document. Unsupported constructs are ignored so that a rule
// using only richer Sigma syntax simply never matches.
func ParseDetection(raw map[string]interface{}) Detection {
	var d Detection

	if sel, ok := raw["selection"]; ok {
		d.HasSelection = true
		if m, ok := sel.(map[string]interface{}); ok {
			d.Selection = m
		}
	}

	if kw, ok := raw["keywords"]; ok {
		switch v := kw.(type) {
		case []interface{}:
			for _, item := range v {
				d.Keywords = append(d.Keywords, fmt.Sprintf("%v", item))
			}
		case string:
			d.Keywords = []string{v}
		default:
			d.Keywords = []string{fmt.Sprintf("%v", v)}
		}
	}

	return d
}

// Rule is one loaded detection rule. Rules are immutable after load
// except for the enabled flag, which the state store patches in place
// on toggles and periodic refreshes. Readers access it lock-free.
type Rule struct {
	ID          string
	Title       string
	Description string
	Level       string
	Detection   Detection
	Logsource   Logsource

	// Category is derived once at load time from the rule file's
	// position under the rules root.
	Category string

	// FilePath is the origin file, kept for diagnostics.
	FilePath string

	enabled atomic.Bool
}

// Enabled reports whether the rule is currently active.
func (r *Rule) Enabled() bool { return r.enabled.Load() }

// SetEnabled flips the rule's active flag. Safe for concurrent use
// with readers; it is the only mutation a loaded rule ever sees.
func (r *Rule) SetEnabled(v bool) { r.enabled.Store(v) }
