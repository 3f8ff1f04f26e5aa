package journal

import (
	"context"
	"time"
)

// Outcome values recorded for an entry. DONE and REJECTED are settled: the
// registry has either accepted or refused this validator's vote, and the
// request is never worked on again.
const (
	OutcomeDone     = "DONE"
	OutcomeRejected = "REJECTED"
	OutcomeFailed   = "FAILED"
)

// Entry is the local record of one terminal processing attempt.
type Entry struct {
	RequestID     uint64    `db:"request_id" json:"request_id"`
	ValidatorID   string    `db:"validator_id" json:"validator_id"`
	GoalID        string    `db:"goal_id" json:"goal_id"`
	AttemptID     string    `db:"attempt_id" json:"attempt_id"`
	Outcome       string    `db:"outcome" json:"outcome"`
	Approved      bool      `db:"approved" json:"approved"`
	Confidence    int       `db:"confidence" json:"confidence"`
	ReasoningRef  string    `db:"reasoning_ref" json:"reasoning_ref"`
	Degraded      bool      `db:"degraded" json:"degraded"`
	FailureStage  string    `db:"failure_stage" json:"failure_stage,omitempty"`
	FailureReason string    `db:"failure_reason" json:"failure_reason,omitempty"`
	RecordedAt    time.Time `db:"recorded_at" json:"recorded_at"`
}

// Settled reports whether e closes the request for its validator.
func (e *Entry) Settled() bool {
	return e != nil && (e.Outcome == OutcomeDone || e.Outcome == OutcomeRejected)
}

// Counts aggregates entries by outcome. Failed includes rejected votes.
type Counts struct {
	Done     int64 `db:"done" json:"done"`
	Failed   int64 `db:"failed" json:"failed"`
	Rejected int64 `db:"rejected" json:"rejected"`
	Degraded int64 `db:"degraded" json:"degraded"`
}

// Journal remembers which requests this validator already settled, so a
// restart does not redo work the registry has already accepted or refused.
// Record never replaces a settled entry. Get returns nil for an unknown request.
type Journal interface {
	Record(ctx context.Context, entry *Entry) error
	Get(ctx context.Context, validatorID string, requestID uint64) (*Entry, error)
	Counts(ctx context.Context, validatorID string) (*Counts, error)
}
