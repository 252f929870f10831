package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"siembox/config"
	"siembox/core"
	"siembox/detect"
	"siembox/rules"
)

type fakeCorpus struct {
	exists bool
}

func (f *fakeCorpus) RootExists() bool { return f.exists }

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.API.Port = 8000
	cfg.API.RateLimit.RequestsPerSecond = 1000
	cfg.API.RateLimit.Burst = 1000
	return cfg
}

func newTestAPI(t *testing.T, corpus *fakeCorpus) (*API, *detect.Engine) {
	t.Helper()
	logger := zap.NewNop().Sugar()
	state := rules.NewStateStore("http://127.0.0.1:1", time.Second, logger)
	engine := detect.NewEngine(state, detect.NewStats(), nil, 100, logger)
	a := NewAPI(engine, corpus, testConfig(), logger)
	t.Cleanup(func() { close(a.stopCh) })
	return a, engine
}

func loadTestRules(engine *detect.Engine) {
	r1 := &core.Rule{
		ID:    "ssh-failed-password",
		Title: "SSH Failed Password",
		Level: core.SeverityHigh,
		Detection: core.Detection{
			Keywords: []string{"failed password"},
		},
		Logsource: core.Logsource{Service: "ssh"},
		Category:  "linux/auth",
	}
	r1.SetEnabled(true)

	r2 := &core.Rule{
		ID:    "sudo-usage",
		Title: "Sudo Usage",
		Level: core.SeverityLow,
		Detection: core.Detection{
			Keywords: []string{"sudo"},
		},
		Category: "linux/auth",
	}

	engine.SetRules([]*core.Rule{r1, r2})
}

func doJSON(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestAnalyzeReturnsAlert(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: true})
	loadTestRules(engine)

	rec := doJSON(t, a.Handler(), http.MethodPost, "/analyze", map[string]interface{}{
		"source":  "sshd",
		"message": "Failed password for root from 10.0.0.5",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	alerts := body["alerts"].([]interface{})
	require.Len(t, alerts, 1)

	alert := alerts[0].(map[string]interface{})
	assert.Equal(t, "ssh-failed-password", alert["rule_id"])
	assert.Equal(t, "SSH Failed Password", alert["rule_name"])
	assert.Equal(t, "high", alert["severity"])
	assert.Equal(t, "sshd", alert["log_source"])
	assert.NotEmpty(t, alert["id"])
}

func TestAnalyzeNoMatchReturnsEmptyList(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: true})
	loadTestRules(engine)

	rec := doJSON(t, a.Handler(), http.MethodPost, "/analyze", map[string]interface{}{
		"source":  "sshd",
		"message": "Accepted publickey for deploy",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Empty(t, body["alerts"])
	assert.NotNil(t, body["alerts"])
}

func TestAnalyzeInvalidBody(t *testing.T) {
	a, _ := newTestAPI(t, &fakeCorpus{exists: true})

	req := httptest.NewRequest(http.MethodPost, "/analyze", bytes.NewReader([]byte("not json")))
	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetRules(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: true})
	loadTestRules(engine)

	rec := doJSON(t, a.Handler(), http.MethodGet, "/rules", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total"])

	views := body["rules"].([]interface{})
	require.Len(t, views, 2)

	first := views[0].(map[string]interface{})
	assert.Equal(t, "ssh-failed-password", first["id"])
	assert.Equal(t, "SSH Failed Password", first["title"])
	assert.Equal(t, "high", first["severity"])
	assert.Equal(t, "linux/auth", first["category"])
	assert.Equal(t, true, first["enabled"])

	second := views[1].(map[string]interface{})
	assert.Equal(t, false, second["enabled"])
}

func TestToggleRule(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: true})
	loadTestRules(engine)

	enabled := true
	rec := doJSON(t, a.Handler(), http.MethodPost, "/rules/toggle", map[string]interface{}{
		"rule_id": "sudo-usage",
		"enabled": enabled,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Rule sudo-usage enabled", body["message"])
	assert.True(t, engine.Rules()[1].Enabled())
}

func TestToggleRuleNotFound(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: true})
	loadTestRules(engine)

	rec := doJSON(t, a.Handler(), http.MethodPost, "/rules/toggle", map[string]interface{}{
		"rule_id": "no-such-rule",
		"enabled": true,
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestToggleRuleValidation(t *testing.T) {
	a, _ := newTestAPI(t, &fakeCorpus{exists: true})

	// Missing enabled flag.
	rec := doJSON(t, a.Handler(), http.MethodPost, "/rules/toggle", map[string]interface{}{
		"rule_id": "ssh-failed-password",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Missing rule id.
	rec = doJSON(t, a.Handler(), http.MethodPost, "/rules/toggle", map[string]interface{}{
		"enabled": true,
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBulkToggleRules(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: true})
	loadTestRules(engine)

	rec := doJSON(t, a.Handler(), http.MethodPost, "/rules/bulk-toggle", map[string]interface{}{
		"enabled": true,
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(2), body["updated_count"])
	for _, rule := range engine.Rules() {
		assert.True(t, rule.Enabled())
	}
}

func TestBulkToggleByCategory(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: true})
	loadTestRules(engine)

	rec := doJSON(t, a.Handler(), http.MethodPost, "/rules/bulk-toggle", map[string]interface{}{
		"enabled":  false,
		"category": "windows/process_creation",
	})

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(0), body["updated_count"])
}

func TestGetStats(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: true})
	loadTestRules(engine)
	engine.Stats().MarkLoaded()

	rec := doJSON(t, a.Handler(), http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(2), body["total_rules"])
	assert.Equal(t, float64(1), body["enabled_rules"])
	assert.Equal(t, "operational", body["status"])
	assert.Contains(t, body, "alerts_last_24h")
	assert.Contains(t, body, "processing_rate")
	assert.Contains(t, body, "uptime")
	assert.Contains(t, body, "system_metrics")
}

func TestHealthCheckStarting(t *testing.T) {
	a, _ := newTestAPI(t, &fakeCorpus{exists: true})

	rec := doJSON(t, a.Handler(), http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "starting", body["status"])

	details := body["details"].(map[string]interface{})
	assert.Equal(t, true, details["rules_dir_exists"])
	assert.Equal(t, false, details["rules_loaded"])
}

func TestHealthCheckOperational(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: true})
	loadTestRules(engine)
	engine.Stats().MarkLoaded()

	rec := doJSON(t, a.Handler(), http.MethodGet, "/health", nil)
	body := decodeBody(t, rec)
	assert.Equal(t, "operational", body["status"])
	assert.Equal(t, float64(2), body["rules_loaded"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestHealthCheckDegradedWhenCorpusMissing(t *testing.T) {
	a, engine := newTestAPI(t, &fakeCorpus{exists: false})
	loadTestRules(engine)
	engine.Stats().MarkLoaded()

	rec := doJSON(t, a.Handler(), http.MethodGet, "/health", nil)
	body := decodeBody(t, rec)

	// The corpus directory disappearing overrides the lifecycle status.
	assert.Equal(t, "degraded", body["status"])
}

func TestMetricsEndpoint(t *testing.T) {
	a, _ := newTestAPI(t, &fakeCorpus{exists: true})

	rec := doJSON(t, a.Handler(), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestRateLimitRejectsFlood(t *testing.T) {
	logger := zap.NewNop().Sugar()
	state := rules.NewStateStore("http://127.0.0.1:1", time.Second, logger)
	engine := detect.NewEngine(state, detect.NewStats(), nil, 100, logger)

	cfg := testConfig()
	cfg.API.RateLimit.RequestsPerSecond = 1
	cfg.API.RateLimit.Burst = 2

	a := NewAPI(engine, &fakeCorpus{exists: true}, cfg, logger)
	t.Cleanup(func() { close(a.stopCh) })

	limited := false
	for i := 0; i < 5; i++ {
		rec := doJSON(t, a.Handler(), http.MethodGet, "/health", nil)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	assert.True(t, limited)
}
