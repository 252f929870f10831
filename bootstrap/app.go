package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"siembox/api"
	"siembox/config"
	"siembox/detect"
	"siembox/rules"
)

// App represents the detection engine process with all its components.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Source    *rules.Source
	Loader    *rules.Loader
	State     *rules.StateStore
	Refresher *rules.Refresher

	Engine    *detect.Engine
	Stats     *detect.Stats
	APIServer *api.API

	serviceWg  *sync.WaitGroup
	startupCtx context.Context
	cancel     context.CancelFunc
}

// NewApp creates a new application instance and initializes all
// components. Nothing touches the network yet; that happens in Start.
func NewApp(ctx context.Context) (*App, error) {
	app := &App{
		serviceWg: &sync.WaitGroup{},
	}
	app.startupCtx, app.cancel = context.WithCancel(ctx)

	logger, sugar, err := InitLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	app.Logger = logger
	app.Sugar = sugar

	sugar.Info("SIEMBox detection engine starting...")

	cfg, err := InitConfig(sugar)
	if err != nil {
		return nil, err
	}
	app.Config = cfg

	app.Source = rules.NewSource(
		rules.SourceMode(cfg.Rules.Mode),
		cfg.Rules.Dir,
		cfg.Rules.RepoURL,
		cfg.Rules.Branch,
		sugar,
	)
	app.Loader = rules.NewLoader(app.Source, cfg.Rules.LoadRetries, cfg.Rules.LoadRetryDelay, sugar)
	app.State = rules.NewStateStore(cfg.Store.URL, cfg.Store.Timeout, sugar)
	app.Stats = detect.NewStats()

	synonyms, err := loadSynonyms(cfg, sugar)
	if err != nil {
		return nil, err
	}

	app.Engine = detect.NewEngine(app.State, app.Stats, synonyms, cfg.Engine.DedupCacheSize, sugar)
	app.Refresher = rules.NewRefresher(app.State, cfg.Rules.RefreshInterval, app.refreshApply, sugar)

	app.APIServer = api.NewAPI(app.Engine, app.Source, cfg, sugar)

	return app, nil
}

// Start launches the startup sequence, the state refresher and the API
// server. The startup sequence runs in the background so the health
// endpoint answers "starting" while the corpus is being provisioned.
func (a *App) Start(ctx context.Context) error {
	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		a.runStartupSequence()
	}()

	a.Refresher.Start()

	a.serviceWg.Add(1)
	go func() {
		defer a.serviceWg.Done()
		addr := fmt.Sprintf(":%d", a.Config.API.Port)
		a.Sugar.Infof("API server started on %s", addr)
		if err := a.APIServer.Start(addr); err != nil && err.Error() != "http: Server closed" {
			a.Sugar.Errorf("API server error: %v", err)
		}
	}()

	return nil
}

// runStartupSequence waits out the configured startup delay (giving a
// co-deployed corpus provisioner time to populate the directory),
// pulls the initial rule state and loads the corpus.
func (a *App) runStartupSequence() {
	if delay := a.Config.Rules.StartupDelay; delay > 0 {
		a.Sugar.Infow("Waiting before initial rule load", "delay", delay)
		select {
		case <-a.startupCtx.Done():
			return
		case <-time.After(delay):
		}
	}

	states := a.State.FetchWithRetry(
		a.startupCtx,
		a.Config.Rules.StateFetchRetries,
		a.Config.Rules.StateFetchDelay,
	)
	a.State.SetAll(states)

	loaded, stats := a.Loader.Load(a.startupCtx, a.State)
	a.Engine.SetRules(loaded)

	if stats.Degraded {
		a.Stats.MarkDegraded()
		a.Sugar.Warnw("Engine degraded after initial load", "rules", len(loaded))
		return
	}

	a.Stats.MarkLoaded()
	a.Sugar.Infow("Initial rule load complete",
		"rules", len(loaded), "skipped", stats.Skipped, "attempts", stats.Attempts)
}

// refreshApply reconciles freshly fetched rule states with the loaded
// corpus. While no load has ever succeeded, the corpus load itself is
// retried on the refresh cadence, so an engine degraded by initial-load
// exhaustion recovers once the rules directory becomes available.
func (a *App) refreshApply(states map[string]bool) {
	a.Engine.ApplyStates(states)

	if a.Stats.RulesLoaded() {
		a.Stats.MarkOperational()
		return
	}

	loaded, stats := a.Loader.Load(a.startupCtx, a.State)
	if len(loaded) > 0 {
		a.Engine.SetRules(loaded)
	}
	if stats.Degraded {
		return
	}

	a.Stats.MarkLoaded()
	a.Sugar.Infow("Rule corpus recovered on refresh", "rules", len(loaded))
}

// WaitForShutdown blocks until a shutdown signal is received.
func (a *App) WaitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

// Shutdown gracefully shuts down all components.
func (a *App) Shutdown() {
	a.Sugar.Info("Shutting down...")

	a.cancel()
	a.Refresher.Stop()

	if a.APIServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.APIServer.Stop(ctx); err != nil {
			a.Sugar.Errorw("Failed to stop API server", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		a.serviceWg.Wait()
		close(done)
	}()
	select {
	case <-done:
		a.Sugar.Info("All service goroutines stopped")
	case <-time.After(15 * time.Second):
		a.Sugar.Warn("Service goroutine shutdown timed out")
	}

	a.Sugar.Info("Shutdown complete")
	a.Logger.Sync()
}

// loadSynonyms resolves the OCSF category synonym table: the built-in
// defaults, or an override file when configured.
func loadSynonyms(cfg *config.Config, sugar *zap.SugaredLogger) (detect.CategorySynonyms, error) {
	if cfg.Rules.SynonymsFile == "" {
		return detect.DefaultCategorySynonyms(), nil
	}
	table, err := detect.LoadCategorySynonyms(cfg.Rules.SynonymsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load category synonyms: %w", err)
	}
	sugar.Infow("Loaded category synonym overrides",
		"file", cfg.Rules.SynonymsFile, "categories", len(table))
	return table, nil
}
