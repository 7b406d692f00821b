// Package persistence provides the storage abstraction for execution statuses, traces and logs.
package persistence

import (
	"context"

	"github.com/crewplane/crewplane/pkg/models"
)

type Persistence interface {
	ExecutionRepository() ExecutionRepository
	TraceRepository() TraceRepository
	LogRepository() LogRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// ExecutionRepository stores the status row of each job.
type ExecutionRepository interface {
	// CreateExecution persists a new PENDING record. It fails with
	// ErrExecutionAlreadyExists when the job id is taken.
	CreateExecution(ctx context.Context, record *models.ExecutionStatusRecord) error

	// UpdateStatus moves a job to status. A missing row is created so a
	// runner started outside the submission path still leaves a trail.
	// Rewriting the current terminal status is a no-op that succeeds, so a
	// retried write that already landed is not reported as a failure.
	// Other backward transitions fail with ErrInvalidStatusTransition.
	UpdateStatus(ctx context.Context, jobID string, status models.ExecutionStatus, message string, result map[string]any) error

	GetExecution(ctx context.Context, jobID string) (*models.ExecutionStatusRecord, error)
}

// TraceRepository stores significant trace records.
type TraceRepository interface {
	CreateTrace(ctx context.Context, trace *models.ExecutionTrace) error
	TracesByJob(ctx context.Context, jobID string) ([]*models.ExecutionTrace, error)
}

// LogRepository stores the flushed per-job log buffers.
type LogRepository interface {
	AppendLogs(ctx context.Context, jobID string, lines []models.ExecutionLogLine) error
	LogsByJob(ctx context.Context, jobID string) ([]models.ExecutionLogLine, error)
}
