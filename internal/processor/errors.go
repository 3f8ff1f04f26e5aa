package processor

import (
	"errors"
	"fmt"

	"lock-in/validator-node/pkg/workflows"
)

// Failure kinds. Adjudication degradation is not among them: the judge
// always yields a verdict.
var (
	// ErrRetrievalFailure means every artifact gateway was exhausted.
	ErrRetrievalFailure = errors.New("retrieval failure")
	// ErrVoteRejected means the registry refused the vote. Never retried.
	ErrVoteRejected = errors.New("vote rejected")
	// ErrTransportFailure means a transient error persisted past the retry budget.
	ErrTransportFailure = errors.New("transport failure")
	// ErrShutdown means the node stopped the request between stages.
	ErrShutdown = errors.New("processing stopped for shutdown")
)

// StageError is the terminal failure of one request.
type StageError struct {
	Stage workflows.Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage workflows.Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
