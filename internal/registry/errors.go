package registry

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrTransport marks a failure to reach the registry. It is retryable.
var ErrTransport = errors.New("registry transport failure")

// Application-level rejections. These are authoritative and never retried.
var (
	ErrAlreadyVoted   = errors.New("validator already voted on this request")
	ErrRequestClosed  = errors.New("request no longer accepts votes")
	ErrNotSelected    = errors.New("validator not selected for this request")
	ErrUnknownRequest = errors.New("unknown verification request")
	ErrUnknownGoal    = errors.New("unknown goal")
	ErrBadSignature   = errors.New("vote signature invalid")
	ErrInvalidVote    = errors.New("malformed vote")
)

var codes = map[string]error{
	"already_voted":   ErrAlreadyVoted,
	"request_closed":  ErrRequestClosed,
	"not_selected":    ErrNotSelected,
	"unknown_request": ErrUnknownRequest,
	"unknown_goal":    ErrUnknownGoal,
	"bad_signature":   ErrBadSignature,
	"invalid_vote":    ErrInvalidVote,
}

var statuses = map[error]int{
	ErrAlreadyVoted:   http.StatusConflict,
	ErrRequestClosed:  http.StatusGone,
	ErrNotSelected:    http.StatusForbidden,
	ErrUnknownRequest: http.StatusNotFound,
	ErrUnknownGoal:    http.StatusNotFound,
	ErrBadSignature:   http.StatusUnauthorized,
	ErrInvalidVote:    http.StatusBadRequest,
}

// RejectionError is an application-level refusal by the registry.
type RejectionError struct {
	Code    string
	Message string
	Reason  error
}

func (e *RejectionError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("registry rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("registry rejected (%s)", e.Code)
}

func (e *RejectionError) Unwrap() error { return e.Reason }

// IsRejection reports whether err is an application-level refusal.
func IsRejection(err error) bool {
	var rej *RejectionError
	return errors.As(err, &rej)
}

// IsRetryable reports whether err is a transient transport failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport)
}

func codeFor(err error) string {
	for code, sentinel := range codes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return "internal"
}

func statusFor(err error) int {
	for sentinel, status := range statuses {
		if errors.Is(err, sentinel) {
			return status
		}
	}
	return http.StatusInternalServerError
}

func rejection(code, message string) *RejectionError {
	reason, ok := codes[code]
	if !ok {
		reason = errors.New(code)
	}
	return &RejectionError{Code: code, Message: message, Reason: reason}
}
