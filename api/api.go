// Package api exposes the detection engine over HTTP: event analysis,
// rule listing and toggling, statistics and health.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"siembox/config"
	"siembox/detect"
)

// CorpusChecker reports on-disk corpus presence for the health check.
type CorpusChecker interface {
	RootExists() bool
}

// rateLimiterEntry holds a per-client rate limiter with last seen time.
type rateLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// API holds the HTTP server for the detection engine.
type API struct {
	router   *mux.Router
	server   *http.Server
	engine   *detect.Engine
	corpus   CorpusChecker
	config   *config.Config
	logger   *zap.SugaredLogger
	validate *validator.Validate

	rateLimiters   map[string]*rateLimiterEntry
	rateLimitersMu sync.Mutex
	stopCh         chan struct{}
}

// NewAPI creates the API server and registers its routes.
func NewAPI(engine *detect.Engine, corpus CorpusChecker, cfg *config.Config, logger *zap.SugaredLogger) *API {
	a := &API{
		router:       mux.NewRouter(),
		engine:       engine,
		corpus:       corpus,
		config:       cfg,
		logger:       logger,
		validate:     validator.New(),
		rateLimiters: make(map[string]*rateLimiterEntry),
		stopCh:       make(chan struct{}),
	}
	a.setupRoutes()
	go a.cleanupRateLimiters()
	return a
}

// setupRoutes sets up the API routes.
func (a *API) setupRoutes() {
	a.router.Use(a.rateLimitMiddleware)
	a.router.HandleFunc("/analyze", a.analyzeLog).Methods("POST")
	a.router.HandleFunc("/rules", a.getRules).Methods("GET")
	a.router.HandleFunc("/rules/toggle", a.toggleRule).Methods("POST")
	a.router.HandleFunc("/rules/bulk-toggle", a.bulkToggleRules).Methods("POST")
	a.router.HandleFunc("/stats", a.getStats).Methods("GET")
	a.router.HandleFunc("/health", a.healthCheck).Methods("GET")
	a.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

// Start starts the API server.
func (a *API) Start(addr string) error {
	a.server = &http.Server{
		Addr:    addr,
		Handler: a.router,
	}
	return a.server.ListenAndServe()
}

// Stop stops the API server.
func (a *API) Stop(ctx context.Context) error {
	close(a.stopCh)
	if a.server != nil {
		return a.server.Shutdown(ctx)
	}
	return nil
}

// Handler exposes the router, used by tests.
func (a *API) Handler() http.Handler {
	return a.router
}
