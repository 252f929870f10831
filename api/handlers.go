package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"

	"siembox/core"
	"siembox/detect"
)

// ruleView is one entry of the /rules listing.
type ruleView struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
	Enabled     bool   `json:"enabled"`
	Category    string `json:"category"`
}

// ruleStateRequest is the /rules/toggle body.
type ruleStateRequest struct {
	RuleID   string `json:"rule_id" validate:"required"`
	Enabled  *bool  `json:"enabled" validate:"required"`
	Category string `json:"category"`
}

// bulkRuleStateRequest is the /rules/bulk-toggle body.
type bulkRuleStateRequest struct {
	Enabled  *bool  `json:"enabled" validate:"required"`
	Category string `json:"category"`
}

// respondJSON writes a JSON response with proper error handling.
func (a *API) respondJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Errorw("Failed to encode JSON response",
			"error", err,
			"data_type", fmt.Sprintf("%T", data))
	}
}

// analyzeLog evaluates one inbound event against all enabled rules.
// The response carries zero or one alerts: evaluation stops at the
// first matching rule.
func (a *API) analyzeLog(w http.ResponseWriter, r *http.Request) {
	var fields map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}

	alert := a.engine.Analyze(core.NewEvent(fields))

	alerts := []*core.Alert{}
	if alert != nil {
		alerts = append(alerts, alert)
	}
	a.respondJSON(w, map[string]interface{}{"alerts": alerts}, http.StatusOK)
}

// getRules lists the loaded corpus in load order.
func (a *API) getRules(w http.ResponseWriter, r *http.Request) {
	loaded := a.engine.Rules()

	views := make([]ruleView, 0, len(loaded))
	for _, rule := range loaded {
		views = append(views, ruleView{
			ID:          rule.ID,
			Title:       rule.Title,
			Severity:    rule.Level,
			Description: rule.Description,
			Enabled:     rule.Enabled(),
			Category:    rule.Category,
		})
	}

	a.respondJSON(w, map[string]interface{}{
		"total": len(views),
		"rules": views,
	}, http.StatusOK)
}

// toggleRule enables or disables a single rule.
func (a *API) toggleRule(w http.ResponseWriter, r *http.Request) {
	var req ruleStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	enabled := *req.Enabled
	if err := a.engine.Toggle(req.RuleID, enabled); err != nil {
		if errors.Is(err, detect.ErrRuleNotFound) {
			http.Error(w, fmt.Sprintf("Rule %s not found", req.RuleID), http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to toggle rule: %v", err), http.StatusInternalServerError)
		return
	}

	a.respondJSON(w, map[string]interface{}{
		"success": true,
		"message": fmt.Sprintf("Rule %s %s", req.RuleID, enabledWord(enabled)),
	}, http.StatusOK)
}

// bulkToggleRules enables or disables all rules, optionally limited to
// one category.
func (a *API) bulkToggleRules(w http.ResponseWriter, r *http.Request) {
	var req bulkRuleStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON body", http.StatusBadRequest)
		return
	}
	if err := a.validate.Struct(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid request: %v", err), http.StatusBadRequest)
		return
	}

	enabled := *req.Enabled
	updated := a.engine.BulkToggle(enabled, req.Category)

	categoryMsg := ""
	if req.Category != "" {
		categoryMsg = fmt.Sprintf(" in category '%s'", req.Category)
	}

	a.respondJSON(w, map[string]interface{}{
		"success":       true,
		"message":       fmt.Sprintf("%d rules%s %s", updated, categoryMsg, enabledWord(enabled)),
		"updated_count": updated,
	}, http.StatusOK)
}

// getStats reports rule counts, rates and engine status, plus host
// cpu/memory usage.
func (a *API) getStats(w http.ResponseWriter, r *http.Request) {
	snapshot := a.engine.Stats().Snapshot()

	system := map[string]interface{}{}
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		system["cpu_usage"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		system["memory_usage"] = vm.UsedPercent
	}

	a.respondJSON(w, map[string]interface{}{
		"enabled_rules":   snapshot.EnabledRules,
		"total_rules":     snapshot.TotalRules,
		"alerts_last_24h": snapshot.AlertsLast24h,
		"processing_rate": snapshot.ProcessingRate,
		"status":          snapshot.Status,
		"uptime":          snapshot.UptimeSeconds,
		"system_metrics":  system,
	}, http.StatusOK)
}

// healthCheck reports readiness. It distinguishes "never started"
// (corpus missing or no load completed yet) from "started but
// degraded", independent of the lifecycle status.
func (a *API) healthCheck(w http.ResponseWriter, r *http.Request) {
	stats := a.engine.Stats()
	snapshot := stats.Snapshot()

	rulesDirExists := a.corpus.RootExists()
	rulesLoaded := stats.RulesLoaded()

	status := snapshot.Status
	switch {
	case !rulesDirExists:
		status = detect.StatusDegraded
	case !rulesLoaded:
		status = detect.StatusStarting
	}

	a.respondJSON(w, map[string]interface{}{
		"status":       status,
		"rules_loaded": snapshot.TotalRules,
		"timestamp":    time.Now().Format(time.RFC3339),
		"details": map[string]interface{}{
			"rules_dir_exists": rulesDirExists,
			"rules_loaded":     rulesLoaded,
			"enabled_rules":    snapshot.EnabledRules,
		},
	}, http.StatusOK)
}

func enabledWord(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
