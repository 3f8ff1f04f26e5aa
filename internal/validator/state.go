package validator

import (
	"errors"
	"sync"
	"time"

	"lock-in/validator-node/internal/journal"
	"lock-in/validator-node/internal/processor"
	"lock-in/validator-node/internal/registry"
)

// State is the node's view of itself: registry standing plus local counters.
// It is owned by the Node and handed to the components that update it.
type State struct {
	mu sync.RWMutex

	address          string
	active           bool
	reputation       int
	totalValidations int64
	lastSync         time.Time
	lastSyncErr      string
	startedAt        time.Time

	succeeded int64
	failed    int64
	degraded  int64
	rejected  int64
	dropped   int64
}

// HealthReport is the /health payload.
type HealthReport struct {
	Status           string    `json:"status"`
	Validator        string    `json:"validator"`
	Active           bool      `json:"active"`
	Reputation       int       `json:"reputation"`
	TotalValidations int64     `json:"total_validations"`
	LastSync         time.Time `json:"last_sync"`
	LastSyncError    string    `json:"last_sync_error,omitempty"`
}

// StatsReport is the /stats payload.
type StatsReport struct {
	Succeeded     int64     `json:"succeeded"`
	Failed        int64     `json:"failed"`
	Degraded      int64     `json:"degraded"`
	Rejected      int64     `json:"rejected"`
	Dropped       int64     `json:"dropped"`
	InFlight      int       `json:"in_flight"`
	QueueDepth    int       `json:"queue_depth"`
	StartedAt     time.Time `json:"started_at"`
	UptimeSeconds int64     `json:"uptime_seconds"`
}

// NewState creates state for address. The node is inactive until the first
// registry sync says otherwise.
func NewState(address string) *State {
	return &State{address: address, startedAt: time.Now().UTC()}
}

// Address returns the validator address.
func (s *State) Address() string { return s.address }

// ApplyRegistry records a successful registry sync.
func (s *State) ApplyRegistry(info registry.ValidatorInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = info.Active
	s.reputation = info.Reputation
	s.totalValidations = info.TotalValidations
	s.lastSync = time.Now().UTC()
	s.lastSyncErr = ""
}

// SyncFailed records a failed registry sync. Previous values are kept.
func (s *State) SyncFailed(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSyncErr = err.Error()
}

// RecordResult folds a processing result into the counters.
func (s *State) RecordResult(res processor.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if res.Succeeded() {
		s.succeeded++
	} else {
		s.failed++
		if errors.Is(res.Err, processor.ErrVoteRejected) {
			s.rejected++
		}
	}
	if res.Adjudication != nil && res.Adjudication.Degraded {
		s.degraded++
	}
}

// Restore seeds the outcome counters from the journal so totals survive a
// restart.
func (s *State) Restore(c journal.Counts) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.succeeded = c.Done
	s.failed = c.Failed
	s.rejected = c.Rejected
	s.degraded = c.Degraded
}

// RecordDropped counts a discovery dropped for backpressure.
func (s *State) RecordDropped() {
	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()
}

// Active reports the last known registry active flag.
func (s *State) Active() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

// Health returns the health report.
func (s *State) Health() HealthReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	status := "healthy"
	switch {
	case s.lastSync.IsZero() || s.lastSyncErr != "":
		status = "degraded"
	case !s.active:
		status = "inactive"
	}
	return HealthReport{
		Status:           status,
		Validator:        s.address,
		Active:           s.active,
		Reputation:       s.reputation,
		TotalValidations: s.totalValidations,
		LastSync:         s.lastSync,
		LastSyncError:    s.lastSyncErr,
	}
}

// Stats returns the counters. inFlight and queueDepth are supplied by the
// node, which owns those structures.
func (s *State) Stats(inFlight, queueDepth int) StatsReport {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StatsReport{
		Succeeded:     s.succeeded,
		Failed:        s.failed,
		Degraded:      s.degraded,
		Rejected:      s.rejected,
		Dropped:       s.dropped,
		InFlight:      inFlight,
		QueueDepth:    queueDepth,
		StartedAt:     s.startedAt,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	}
}
