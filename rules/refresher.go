package rules

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Refresher periodically re-fetches the authoritative rule state and
// hands it to an apply callback. It never blocks request handling and
// keeps the last-known-good state on fetch failure.
type Refresher struct {
	store    *StateStore
	interval time.Duration
	apply    func(states map[string]bool)
	logger   *zap.SugaredLogger

	stopCh     chan struct{}
	wg         sync.WaitGroup
	running    bool
	runningMux sync.Mutex
}

// NewRefresher creates a refresher pulling from store every interval.
// apply receives each non-empty fetched state map.
func NewRefresher(store *StateStore, interval time.Duration, apply func(map[string]bool), logger *zap.SugaredLogger) *Refresher {
	return &Refresher{
		store:    store,
		interval: interval,
		apply:    apply,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start starts the refresh loop. Calling Start on a running refresher
// is a no-op.
func (r *Refresher) Start() {
	r.runningMux.Lock()
	defer r.runningMux.Unlock()

	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})

	r.wg.Add(1)
	go r.run()

	r.logger.Info("Rule state refresher started")
}

// Stop stops the refresh loop and waits for it to exit.
func (r *Refresher) Stop() {
	r.runningMux.Lock()
	defer r.runningMux.Unlock()

	if !r.running {
		return
	}
	close(r.stopCh)
	r.wg.Wait()
	r.running = false

	r.logger.Info("Rule state refresher stopped")
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.refreshOnce()
		}
	}
}

// refreshOnce performs one best-effort reconciliation. An empty fetch
// result means the store was unreachable or empty; local state stays
// as last-known-good either way.
func (r *Refresher) refreshOnce() {
	ctx, cancel := context.WithTimeout(context.Background(), r.interval)
	defer cancel()

	go func() {
		select {
		case <-r.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	states := r.store.Fetch(ctx)
	if len(states) == 0 {
		return
	}

	r.store.SetAll(states)
	if r.apply != nil {
		r.apply(states)
	}
}
