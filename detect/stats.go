package detect

import (
	"sync"
	"time"
)

// Status is the engine lifecycle state: starting until the first
// successful load, operational after, degraded on load or fetch
// exhaustion. Degraded engines return to operational on the next
// successful refresh; there is no terminal state.
type Status string

const (
	StatusStarting    Status = "starting"
	StatusOperational Status = "operational"
	StatusDegraded    Status = "degraded"
)

const (
	rateSampleCapacity  = 60
	alertWindowCapacity = 1440
	alertWindow         = 24 * time.Hour
)

type rateSample struct {
	at    time.Time
	count int64
}

// Stats tracks process-wide engine statistics: processed counts, the
// rolling per-minute processing rate, the rolling 24h alert window,
// rule counts and lifecycle status. Not persisted.
type Stats struct {
	mu sync.Mutex

	startTime time.Time
	processed int64

	rateSamples []rateSample

	alertTimes []time.Time

	totalRules   int
	enabledRules int

	status      Status
	rulesLoaded bool
}

// StatsSnapshot is a point-in-time view of the statistics, shaped for
// the /stats response.
type StatsSnapshot struct {
	EnabledRules   int    `json:"enabled_rules"`
	TotalRules     int    `json:"total_rules"`
	AlertsLast24h  int    `json:"alerts_last_24h"`
	ProcessingRate int    `json:"processing_rate"`
	Status         Status `json:"status"`
	UptimeSeconds  int64  `json:"uptime"`
}

// NewStats creates a statistics tracker in the starting state.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
		status:    StatusStarting,
	}
}

// RecordProcessed increments the processed counter and pushes a rate
// sample onto the fixed-size ring.
func (s *Stats) RecordProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.processed++
	s.rateSamples = append(s.rateSamples, rateSample{at: time.Now(), count: s.processed})
	if len(s.rateSamples) > rateSampleCapacity {
		s.rateSamples = s.rateSamples[len(s.rateSamples)-rateSampleCapacity:]
	}
}

// RecordAlert pushes an alert timestamp onto the rolling 24h window.
func (s *Stats) RecordAlert() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.alertTimes = append(s.alertTimes, time.Now())
	if len(s.alertTimes) > alertWindowCapacity {
		s.alertTimes = s.alertTimes[len(s.alertTimes)-alertWindowCapacity:]
	}
	s.pruneAlertsLocked(time.Now())
}

// SetRuleCounts records the corpus size after a load.
func (s *Stats) SetRuleCounts(total, enabled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRules = total
	s.enabledRules = enabled
}

// SetEnabledCount records the enabled rule count after a toggle or
// state refresh.
func (s *Stats) SetEnabledCount(enabled int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabledRules = enabled
}

// MarkLoaded records that at least one load completed and the engine
// is operational.
func (s *Stats) MarkLoaded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesLoaded = true
	s.status = StatusOperational
}

// MarkDegraded records load or fetch exhaustion.
func (s *Stats) MarkDegraded() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusDegraded
}

// MarkOperational restores the operational state after a successful
// periodic refresh.
func (s *Stats) MarkOperational() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusOperational
}

// Status returns the current lifecycle status.
func (s *Stats) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// RulesLoaded reports whether at least one load has completed,
// independent of the current status.
func (s *Stats) RulesLoaded() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rulesLoaded
}

// Snapshot returns the current statistics view. The alert window is
// pruned and the processing rate derived from the oldest and newest
// samples in the ring.
func (s *Stats) Snapshot() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.pruneAlertsLocked(now)

	rate := 0
	if len(s.rateSamples) > 1 {
		oldest := s.rateSamples[0]
		newest := s.rateSamples[len(s.rateSamples)-1]
		elapsed := newest.at.Sub(oldest.at).Seconds()
		if elapsed > 0 {
			rate = int(float64(newest.count-oldest.count) / elapsed)
		}
	}

	return StatsSnapshot{
		EnabledRules:   s.enabledRules,
		TotalRules:     s.totalRules,
		AlertsLast24h:  len(s.alertTimes),
		ProcessingRate: rate,
		Status:         s.status,
		UptimeSeconds:  int64(now.Sub(s.startTime).Seconds()),
	}
}

func (s *Stats) pruneAlertsLocked(now time.Time) {
	cutoff := now.Add(-alertWindow)
	firstValid := 0
	for firstValid < len(s.alertTimes) && s.alertTimes[firstValid].Before(cutoff) {
		firstValid++
	}
	if firstValid > 0 {
		s.alertTimes = s.alertTimes[firstValid:]
	}
}
