package workflows

import (
	"fmt"
	"time"
)

// Stage is a step of a verification request's local processing.
type Stage string

const (
	StageDiscovered          Stage = "DISCOVERED"
	StageFetching            Stage = "FETCHING"
	StageAdjudicating        Stage = "ADJUDICATING"
	StagePublishingReasoning Stage = "PUBLISHING_REASONING"
	StageVoting              Stage = "VOTING"
	StageDone                Stage = "DONE"
	StageFailed              Stage = "FAILED"
)

// StateMachine enforces processing stage transitions
type StateMachine struct {
	allowedTransitions map[Stage][]Stage
}

// NewStateMachine creates a new state machine with allowed transitions
func NewStateMachine() *StateMachine {
	return &StateMachine{
		allowedTransitions: map[Stage][]Stage{
			StageDiscovered:          {StageFetching, StageFailed},
			StageFetching:            {StageAdjudicating, StageFailed},
			StageAdjudicating:        {StagePublishingReasoning, StageFailed},
			StagePublishingReasoning: {StageVoting, StageFailed},
			StageVoting:              {StageDone, StageFailed},
			StageDone:                {},
			StageFailed:              {},
		},
	}
}

// CanTransition checks if a stage transition is allowed
func (sm *StateMachine) CanTransition(from, to Stage) bool {
	for _, allowedTo := range sm.allowedTransitions[from] {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next stages for a given stage
func (sm *StateMachine) GetAllowedTransitions(from Stage) []Stage {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []Stage{}
	}
	return allowed
}

// IsTerminal reports whether no transition leaves s.
func (sm *StateMachine) IsTerminal(s Stage) bool {
	allowed, exists := sm.allowedTransitions[s]
	return exists && len(allowed) == 0
}

// Transition is one recorded stage change.
type Transition struct {
	From Stage
	To   Stage
	At   time.Time
}

// Tracker follows a single request through the machine. It is not safe for
// concurrent use; each request is owned by one worker.
type Tracker struct {
	sm      *StateMachine
	current Stage
	reason  string
	history []Transition
}

// NewTracker starts a tracker in StageDiscovered.
func NewTracker(sm *StateMachine) *Tracker {
	return &Tracker{sm: sm, current: StageDiscovered}
}

// Current returns the current stage.
func (t *Tracker) Current() Stage { return t.current }

// FailureReason is set once the tracker reaches StageFailed.
func (t *Tracker) FailureReason() string { return t.reason }

// History returns the transitions taken so far.
func (t *Tracker) History() []Transition { return t.history }

// Advance moves to the next stage.
func (t *Tracker) Advance(to Stage) error {
	if !t.sm.CanTransition(t.current, to) {
		return fmt.Errorf("invalid stage transition %s -> %s (allowed: %v)", t.current, to, t.sm.GetAllowedTransitions(t.current))
	}
	t.history = append(t.history, Transition{From: t.current, To: to, At: time.Now()})
	t.current = to
	return nil
}

// Fail moves to StageFailed from any non-terminal stage.
func (t *Tracker) Fail(reason string) {
	if t.sm.IsTerminal(t.current) {
		return
	}
	t.history = append(t.history, Transition{From: t.current, To: StageFailed, At: time.Now()})
	t.current = StageFailed
	t.reason = reason
}
