// Package models defines the core domain models for crew execution tracking
package models

import "time"

// ExecutionStatus represents the lifecycle state of a job execution.
type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "PENDING"
	ExecutionStatusRunning   ExecutionStatus = "RUNNING"
	ExecutionStatusCompleted ExecutionStatus = "COMPLETED"
	ExecutionStatusFailed    ExecutionStatus = "FAILED"
)

var statusOrder = map[ExecutionStatus]int{
	ExecutionStatusPending:   0,
	ExecutionStatusRunning:   1,
	ExecutionStatusCompleted: 2,
	ExecutionStatusFailed:    2,
}

// IsValid reports whether s is one of the known execution states.
func (s ExecutionStatus) IsValid() bool {
	_, ok := statusOrder[s]

	return ok
}

// IsTerminal reports whether no further transition is allowed from s.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

// CanTransitionTo reports whether moving from s to next keeps the state
// machine one-directional. Rewriting the same non-terminal state is allowed.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	if !s.IsValid() || !next.IsValid() {
		return false
	}

	if s.IsTerminal() {
		return false
	}

	return statusOrder[next] >= statusOrder[s]
}

// RepeatsTerminal reports whether writing next over s would rewrite the same
// terminal status. Stores treat such a write as already applied.
func (s ExecutionStatus) RepeatsTerminal(next ExecutionStatus) bool {
	return s.IsTerminal() && s == next
}

// ExecutionStatusRecord is the durable status row of a single job.
type ExecutionStatusRecord struct {
	JobID       string          `json:"job_id"`
	Status      ExecutionStatus `json:"status"`
	Message     string          `json:"message,omitempty"`
	Result      map[string]any  `json:"result,omitempty"`
	RunName     string          `json:"run_name,omitempty"`
	GroupID     string          `json:"group_id,omitempty"`
	GroupEmail  string          `json:"group_email,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// ExecutionLogLine is one buffered log line captured while a job ran.
type ExecutionLogLine struct {
	JobID     string    `json:"job_id"`
	Level     string    `json:"level"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	GroupID   string    `json:"group_id,omitempty"`
}
