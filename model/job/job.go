// Package job defines the async job model backing the durable queue. The
// database row is the source of truth for queued work; the broker only
// carries wake-up signals.
package job

import (
	"time"

	"github.com/autoact/autoact/errcode"
)

// Type identifies the work a job performs.
type Type string

const (
	TypeExecuteDecision     Type = "EXECUTE_DECISION"
	TypeAdvancePlaybookStep Type = "ADVANCE_PLAYBOOK_STEP"
)

// Status is the job state machine position.
type Status string

const (
	StatusQueued     Status = "QUEUED"
	StatusRunning    Status = "RUNNING"
	StatusSuccess    Status = "SUCCESS"
	StatusFailed     Status = "FAILED"
	StatusDeadLetter Status = "DEAD_LETTER"
	StatusCancelled  Status = "CANCELLED"
)

// Active reports whether the job still occupies its (type, entity) dedup
// slot.
func (s Status) Active() bool {
	return s == StatusQueued || s == StatusRunning
}

// Terminal reports whether the job reached a final state.
func (s Status) Terminal() bool {
	return s == StatusSuccess || s == StatusDeadLetter || s == StatusCancelled
}

// Priority orders jobs in the durable queue.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Numeric maps a priority onto the broker's numeric scale; lower runs
// first.
func (p Priority) Numeric() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 10
	default:
		return 5
	}
}

// Job is one row of the async job ledger. EntityID is the deduplication
// key: at most one QUEUED/RUNNING job may exist per (Type, EntityID).
type Job struct {
	ID               string     `json:"id"`
	Type             Type       `json:"type"`
	OrganizationID   string     `json:"organizationId"`
	CorrelationID    string     `json:"correlationId"`
	EntityID         string     `json:"entityId"`
	Status           Status     `json:"status"`
	Priority         Priority   `json:"priority"`
	Attempts         int        `json:"attempts"`
	MaxAttempts      int        `json:"maxAttempts"`
	LastErrorCode    string     `json:"lastErrorCode,omitempty"`
	LastErrorMessage string     `json:"lastErrorMessage,omitempty"`
	CreatedBy        string     `json:"createdBy"`
	CreatedAt        time.Time  `json:"createdAt"`
	StartedAt        *time.Time `json:"startedAt,omitempty"`
	FinishedAt       *time.Time `json:"finishedAt,omitempty"`

	// Deduplicated is a transient flag set when an enqueue call returned an
	// existing active job instead of inserting a new one. Never persisted.
	Deduplicated bool `json:"deduplicated,omitempty"`
}

// Succeed marks the job as successfully finished.
func (j *Job) Succeed() {
	now := time.Now()
	j.FinishedAt = &now
	j.Status = StatusSuccess
}

// Fail records a failure outcome: retryable failures with remaining budget
// go to FAILED (manually or automatically re-queueable), everything else
// dead-letters.
func (j *Job) Fail(code errcode.Code, message string) {
	now := time.Now()
	j.FinishedAt = &now
	j.LastErrorCode = string(code)
	j.LastErrorMessage = message
	if !errcode.IsRetryable(code) || j.Attempts >= j.MaxAttempts {
		j.Status = StatusDeadLetter
		return
	}
	j.Status = StatusFailed
}

// ResetForRetry clears error state ahead of a manual retry.
func (j *Job) ResetForRetry() {
	j.Attempts = 0
	j.LastErrorCode = ""
	j.LastErrorMessage = ""
	j.StartedAt = nil
	j.FinishedAt = nil
	j.Status = StatusQueued
}

// Clone returns a copy so ledger callers can hand out rows without
// aliasing internal state.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	return &clone
}
