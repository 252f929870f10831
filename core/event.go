package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// EventShape discriminates the two wire formats the engine accepts.
type EventShape int

const (
	// ShapeLegacy is the flat collector format:
	// {source, level, message, metadata|log_metadata, id?}.
	ShapeLegacy EventShape = iota
	// ShapeOCSF is the nested OCSF-style format:
	// {category_name, activity_name, class_name, severity, time,
	// raw_event, src_endpoint?, dst_endpoint?, id?}.
	ShapeOCSF
)

// LogEvent is one inbound log event. The original keys are retained
// verbatim in Fields for forward compatibility; typed accessors read
// through them with case-insensitive key lookup, which the matcher
// relies on.
type LogEvent struct {
	Fields map[string]interface{}
}

// NewEvent wraps a decoded JSON object as a LogEvent. A nil map is
// normalized to an empty one.
func NewEvent(fields map[string]interface{}) *LogEvent {
	if fields == nil {
		fields = map[string]interface{}{}
	}
	return &LogEvent{Fields: fields}
}

// Shape reports whether the event is OCSF-shaped, detected by the
// presence of category_name or an explicit format marker.
func (e *LogEvent) Shape() EventShape {
	if _, ok := e.lookup("category_name"); ok {
		return ShapeOCSF
	}
	if format, ok := e.lookupString("format"); ok && strings.EqualFold(format, "ocsf") {
		return ShapeOCSF
	}
	return ShapeLegacy
}

// ID returns the event's dedup identifier, or "" when the event has
// none (such events cannot be deduplicated).
func (e *LogEvent) ID() string {
	v, ok := e.lookup("id")
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

// Source returns the legacy source field, or "" when absent.
func (e *LogEvent) Source() string {
	s, _ := e.lookupString("source")
	return s
}

// CategoryName returns the OCSF category_name field.
func (e *LogEvent) CategoryName() string {
	s, _ := e.lookupString("category_name")
	return s
}

// ActivityName returns the OCSF activity_name field.
func (e *LogEvent) ActivityName() string {
	s, _ := e.lookupString("activity_name")
	return s
}

// ClassName returns the OCSF class_name field.
func (e *LogEvent) ClassName() string {
	s, _ := e.lookupString("class_name")
	return s
}

// Metadata returns the legacy metadata map, preferring metadata over
// the older log_metadata key. Never nil.
func (e *LogEvent) Metadata() map[string]interface{} {
	if m, ok := e.lookupMap("metadata"); ok && len(m) > 0 {
		return m
	}
	if m, ok := e.lookupMap("log_metadata"); ok {
		return m
	}
	return map[string]interface{}{}
}

// Combined returns the union of the OCSF raw_event payload and the
// event's top-level fields. Top-level fields win on key collision so
// the normalized taxonomy values stay visible to selections.
func (e *LogEvent) Combined() map[string]interface{} {
	combined := map[string]interface{}{}
	if raw, ok := e.lookupMap("raw_event"); ok {
		for k, v := range raw {
			combined[k] = v
		}
	}
	for k, v := range e.Fields {
		combined[k] = v
	}
	return combined
}

// Serialize renders the whole event as a JSON string for keyword
// scanning. On marshal failure it falls back to the fmt rendering so
// keyword matching stays best-effort instead of erroring.
func (e *LogEvent) Serialize() string {
	data, err := json.Marshal(e.Fields)
	if err != nil {
		return fmt.Sprintf("%v", e.Fields)
	}
	return string(data)
}

// lookup finds a top-level field by case-insensitive key.
func (e *LogEvent) lookup(key string) (interface{}, bool) {
	if v, ok := e.Fields[key]; ok {
		return v, true
	}
	for k, v := range e.Fields {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func (e *LogEvent) lookupString(key string) (string, bool) {
	v, ok := e.lookup(key)
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Sprintf("%v", v), true
	}
	return s, true
}

func (e *LogEvent) lookupMap(key string) (map[string]interface{}, bool) {
	v, ok := e.lookup(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]interface{})
	return m, ok
}
