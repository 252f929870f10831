package detect

import (
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"siembox/core"
	"siembox/metrics"
	"siembox/rules"
)

// ErrRuleNotFound is returned when a toggle names an unknown rule id.
var ErrRuleNotFound = errors.New("rule not found")

// Engine is the analysis pipeline. It owns the current rule corpus
// snapshot and evaluates every inbound event against all enabled rules
// in load order, stopping at the first match.
//
// The rule slice is only ever replaced wholesale (on reload) and read
// through an atomic pointer, so request handling never takes a lock
// around evaluation. The state refresher patches only the per-rule
// enabled flag, which is itself atomic.
type Engine struct {
	logger   *zap.SugaredLogger
	state    *rules.StateStore
	stats    *Stats
	synonyms CategorySynonyms

	rules atomic.Pointer[[]*core.Rule]
	dedup *recentIDs
}

// NewEngine creates an engine with an empty corpus.
func NewEngine(state *rules.StateStore, stats *Stats, synonyms CategorySynonyms, dedupSize int, logger *zap.SugaredLogger) *Engine {
	if synonyms == nil {
		synonyms = DefaultCategorySynonyms()
	}
	e := &Engine{
		logger:   logger,
		state:    state,
		stats:    stats,
		synonyms: synonyms,
		dedup:    newRecentIDs(dedupSize),
	}
	empty := []*core.Rule{}
	e.rules.Store(&empty)
	return e
}

// SetRules swaps in a freshly loaded corpus snapshot and recomputes
// the rule counters. Readers switch to the new snapshot atomically.
func (e *Engine) SetRules(loaded []*core.Rule) {
	if loaded == nil {
		loaded = []*core.Rule{}
	}
	e.rules.Store(&loaded)

	enabled := 0
	for _, r := range loaded {
		if r.Enabled() {
			enabled++
		}
	}
	e.stats.SetRuleCounts(len(loaded), enabled)
	metrics.RulesLoaded.WithLabelValues("total").Set(float64(len(loaded)))
	metrics.RulesLoaded.WithLabelValues("enabled").Set(float64(enabled))
}

// Rules returns the current corpus snapshot in load order.
func (e *Engine) Rules() []*core.Rule {
	return *e.rules.Load()
}

// Analyze runs the full pipeline for one inbound event and returns the
// alert raised by the first matching enabled rule, or nil.
func (e *Engine) Analyze(event *core.LogEvent) *core.Alert {
	shape := event.Shape()

	// Internal telemetry must never self-trigger detections.
	if shape == core.ShapeLegacy && core.IsInternalService(event.Source()) {
		return nil
	}

	if id := event.ID(); id != "" {
		if e.dedup.SeenOrRecord(id) {
			e.logger.Debugw("Skipping duplicate log", "id", id)
			metrics.DuplicateLogsSkipped.Inc()
			return nil
		}
	}

	e.stats.RecordProcessed()
	metrics.LogsAnalyzed.WithLabelValues(shapeLabel(shape)).Inc()

	for _, rule := range e.Rules() {
		if !rule.Enabled() {
			continue
		}
		if Matches(rule, event, e.synonyms) {
			alert := core.NewAlert(rule, event, alertLogSource(event, shape))
			e.stats.RecordAlert()
			metrics.AlertsGenerated.WithLabelValues(alert.Severity).Inc()
			return alert
		}
	}
	return nil
}

// ApplyStates patches the enabled flag of loaded rules in place for
// every rule whose remote state differs, and returns the number of
// flags changed. The snapshot itself is untouched.
func (e *Engine) ApplyStates(states map[string]bool) int {
	changed := 0
	enabled := 0
	for _, rule := range e.Rules() {
		if want, ok := states[rule.ID]; ok && want != rule.Enabled() {
			rule.SetEnabled(want)
			changed++
		}
		if rule.Enabled() {
			enabled++
		}
	}
	if changed > 0 {
		e.logger.Infow("Applied rule state changes", "changed", changed)
	}
	e.stats.SetEnabledCount(enabled)
	metrics.RulesLoaded.WithLabelValues("enabled").Set(float64(enabled))
	return changed
}

// Toggle enables or disables one rule. The in-memory view changes
// immediately; propagation to the authoritative store happens in the
// background. Returns ErrRuleNotFound for an unknown id.
func (e *Engine) Toggle(id string, enabled bool) error {
	var target *core.Rule
	for _, rule := range e.Rules() {
		if rule.ID == id {
			target = rule
			break
		}
	}
	if target == nil {
		return ErrRuleNotFound
	}

	target.SetEnabled(enabled)
	e.state.Toggle(id, enabled)
	e.recountEnabled()
	return nil
}

// BulkToggle enables or disables every rule, optionally restricted to
// one category, and returns how many rules were updated.
func (e *Engine) BulkToggle(enabled bool, category string) int {
	updated := map[string]bool{}
	for _, rule := range e.Rules() {
		if category != "" && rule.Category != category {
			continue
		}
		rule.SetEnabled(enabled)
		updated[rule.ID] = enabled
	}
	e.state.BulkApply(updated)
	e.recountEnabled()
	return len(updated)
}

// Stats exposes the engine's statistics tracker.
func (e *Engine) Stats() *Stats {
	return e.stats
}

func (e *Engine) recountEnabled() {
	enabled := 0
	for _, rule := range e.Rules() {
		if rule.Enabled() {
			enabled++
		}
	}
	e.stats.SetEnabledCount(enabled)
	metrics.RulesLoaded.WithLabelValues("enabled").Set(float64(enabled))
}

// alertLogSource derives the alert's log_source field per event shape.
func alertLogSource(event *core.LogEvent, shape core.EventShape) string {
	var source string
	if shape == core.ShapeOCSF {
		source = event.CategoryName()
	} else {
		source = event.Source()
	}
	if source == "" {
		return "unknown"
	}
	return source
}

func shapeLabel(shape core.EventShape) string {
	if shape == core.ShapeOCSF {
		return "ocsf"
	}
	return "legacy"
}
