package session_models

import (
	"errors"
	"time"

	"github.com/mohammad-safakhou/wayfarer/models"
)

var (
	// ErrNotFound is returned when no checkpoint exists for a session (or it expired).
	ErrNotFound = errors.New("checkpoint not found")
	// ErrExists is returned by Create when the session id is already taken.
	ErrExists = errors.New("checkpoint already exists")
	// ErrConflict is returned by Save when the stored revision moved on.
	ErrConflict = errors.New("checkpoint revision conflict")
)

// Stage is the persisted position of a session in the pipeline.
type Stage string

const (
	StagePlanning         Stage = "planning"
	StageAwaitingApproval Stage = "awaiting_approval"
	StageExecuting        Stage = "executing"
	StageSynthesizing     Stage = "synthesizing"
	StageDone             Stage = "done"
	StageRejected         Stage = "rejected"
	StageFailed           Stage = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	switch s {
	case StageDone, StageRejected, StageFailed:
		return true
	default:
		return false
	}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StagePlanning, StageAwaitingApproval, StageExecuting, StageSynthesizing,
		StageDone, StageRejected, StageFailed:
		return true
	default:
		return false
	}
}

func (s Stage) String() string { return string(s) }

// Checkpoint is the durable snapshot of one session.
// Revision is bumped by the store on every successful write.
type Checkpoint struct {
	SessionID string               `json:"session_id"`
	Stage     Stage                `json:"stage"`
	State     models.PipelineState `json:"state"`
	Revision  int64                `json:"revision"`
	Error     string               `json:"error,omitempty"`
	DecidedBy string               `json:"decided_by,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// MatchesStages reports whether the checkpoint is in any of stages (all when empty).
func (c Checkpoint) MatchesStages(stages ...Stage) bool {
	if len(stages) == 0 {
		return true
	}
	for _, s := range stages {
		if c.Stage == s {
			return true
		}
	}
	return false
}
