package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	LogsAnalyzed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siembox_logs_analyzed_total",
			Help: "Total number of log events analyzed",
		},
		[]string{"shape"},
	)

	AlertsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "siembox_alerts_generated_total",
			Help: "Total number of alerts generated",
		},
		[]string{"severity"},
	)

	DuplicateLogsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siembox_duplicate_logs_skipped_total",
			Help: "Total number of duplicate log events skipped by id",
		},
	)

	RulesLoaded = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "siembox_rules_loaded",
			Help: "Number of loaded detection rules by state",
		},
		[]string{"state"},
	)

	RuleLoadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "siembox_rule_load_duration_seconds",
			Help:    "Time taken to load the rule corpus",
			Buckets: prometheus.DefBuckets,
		},
	)

	StateRefreshFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "siembox_state_refresh_failures_total",
			Help: "Total number of failed rule state fetches",
		},
	)
)
