package rules

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"siembox/metrics"
)

// StateStore caches the per-rule enabled flags. The authoritative copy
// lives in the external store service; this cache is reconciled on
// startup and on a recurring interval, and is lost on restart.
//
// All writes funnel through the mutex; reads take it briefly as well
// since the map itself is shared. Rule objects keep their own atomic
// enabled flag for the hot read path.
type StateStore struct {
	mu     sync.Mutex
	states map[string]bool

	baseURL string
	client  *http.Client
	logger  *zap.SugaredLogger
}

// NewStateStore creates a state store backed by the store service at
// baseURL.
func NewStateStore(baseURL string, timeout time.Duration, logger *zap.SugaredLogger) *StateStore {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &StateStore{
		states:  make(map[string]bool),
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Get returns the cached enabled flag for id. Unknown rules are
// disabled by default; a rule is active only if the external state
// explicitly turned it on.
func (s *StateStore) Get(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.states[id]
}

// Set updates the cached flag for a single rule.
func (s *StateStore) Set(id string, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[id] = enabled
}

// SetAll updates the cached flags for many rules at once.
func (s *StateStore) SetAll(states map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, enabled := range states {
		s.states[id] = enabled
	}
}

// Snapshot returns a copy of the cached state map.
func (s *StateStore) Snapshot() map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]bool, len(s.states))
	for id, enabled := range s.states {
		out[id] = enabled
	}
	return out
}

// Fetch pulls the authoritative state map from the store service. It
// is best-effort: any network or decode failure is logged and an empty
// map returned, never an error. The local cache is not modified; the
// caller decides how to merge.
func (s *StateStore) Fetch(ctx context.Context) map[string]bool {
	endpoint := s.baseURL + "/api/rule-states"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		s.logger.Errorw("Failed to build rule-states request", "error", err)
		return map[string]bool{}
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Errorw("Error getting rule states from store", "error", err, "url", endpoint)
		metrics.StateRefreshFailures.Inc()
		return map[string]bool{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warnw("Unexpected status fetching rule states",
			"status", resp.StatusCode, "url", endpoint)
		metrics.StateRefreshFailures.Inc()
		return map[string]bool{}
	}

	var states map[string]bool
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		s.logger.Errorw("Error decoding rule states response", "error", err)
		metrics.StateRefreshFailures.Inc()
		return map[string]bool{}
	}
	if states == nil {
		states = map[string]bool{}
	}
	return states
}

// FetchWithRetry attempts Fetch up to attempts times with a fixed
// delay. Failures never block startup indefinitely: after the last
// attempt an empty map is returned and loading proceeds with all rules
// default-disabled.
func (s *StateStore) FetchWithRetry(ctx context.Context, attempts int, delay time.Duration) map[string]bool {
	if attempts < 1 {
		attempts = 1
	}
	for attempt := 1; attempt <= attempts; attempt++ {
		states := s.Fetch(ctx)
		if len(states) > 0 {
			s.logger.Infow("Loaded rule states from store", "count", len(states), "attempt", attempt)
			return states
		}
		if attempt < attempts {
			s.logger.Warnw("Rule state fetch returned nothing, retrying",
				"attempt", attempt, "max_attempts", attempts)
			sleepCtx(ctx, delay)
		}
		if ctx.Err() != nil {
			break
		}
	}
	s.logger.Warn("Proceeding without rule states; all rules default to disabled")
	return map[string]bool{}
}

// Toggle updates the local cache immediately and propagates the change
// to the authoritative store in the background. Propagation failure is
// logged only; the next periodic refresh self-heals any divergence.
func (s *StateStore) Toggle(id string, enabled bool) {
	s.Set(id, enabled)
	go s.propagateToggle(id, enabled)
}

// BulkApply updates the local cache for the given rules and propagates
// the batch to the store in the background.
func (s *StateStore) BulkApply(states map[string]bool) {
	if len(states) == 0 {
		return
	}
	s.SetAll(states)
	go s.propagateBulk(states)
}

func (s *StateStore) propagateToggle(id string, enabled bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/rule-states/%s?enabled=%s",
		s.baseURL, url.PathEscape(id), strconv.FormatBool(enabled))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		s.logger.Errorw("Failed to build rule state update request", "error", err, "rule_id", id)
		return
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warnw("Failed to persist rule state to store", "error", err, "rule_id", id)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warnw("Store rejected rule state update",
			"status", resp.StatusCode, "rule_id", id)
	}
}

func (s *StateStore) propagateBulk(states map[string]bool) {
	ctx, cancel := context.WithTimeout(context.Background(), s.client.Timeout)
	defer cancel()

	body, err := json.Marshal(states)
	if err != nil {
		s.logger.Errorw("Failed to encode bulk rule states", "error", err)
		return
	}

	endpoint := s.baseURL + "/api/rule-states/bulk"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		s.logger.Errorw("Failed to build bulk rule state request", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warnw("Failed to persist bulk rule states to store",
			"error", err, "count", len(states))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warnw("Store rejected bulk rule state update",
			"status", resp.StatusCode, "count", len(states))
	}
}
