package pipeline

import (
	"errors"
	"fmt"

	"github.com/mohammad-safakhou/wayfarer/session/session_models"
)

// ErrEmptyRequest is returned by Start for a blank request.
var ErrEmptyRequest = errors.New("user request is empty")

// ErrMissingStrategy marks a checkpoint that reached execution without a plan.
var ErrMissingStrategy = errors.New("checkpoint has no search strategy")

// InvalidStateError reports an operation that is not valid in the session's stage,
// including losing a race against a concurrent decision.
type InvalidStateError struct {
	SessionID string
	Op        string
	Stage     session_models.Stage
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s session %s in stage %s", e.Op, e.SessionID, e.Stage)
}

// SessionNotFoundError reports an unknown or expired session id.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %s not found", e.SessionID)
}

func (e *SessionNotFoundError) Unwrap() error { return session_models.ErrNotFound }
