package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// ExecutionRepository handles execution status database operations.
type ExecutionRepository struct {
	db *sql.DB
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(db *sql.DB) *ExecutionRepository {
	return &ExecutionRepository{db: db}
}

// CreateExecution inserts a new status row.
func (er *ExecutionRepository) CreateExecution(ctx context.Context, record *models.ExecutionStatusRecord) error {
	resultJSON, err := marshalResult(record.Result)
	if err != nil {
		return err
	}

	status := record.Status
	if status == "" {
		status = models.ExecutionStatusPending
	}

	now := time.Now().UTC()

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}

	query := `
		INSERT INTO execution_history (
			job_id, status, message, result, run_name, group_id, group_email, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = er.db.ExecContext(ctx, query,
		record.JobID,
		status,
		record.Message,
		resultJSON,
		record.RunName,
		record.GroupID,
		record.GroupEmail,
		createdAt,
		now,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return persistence.NewExecutionError("CreateExecution", record.JobID, persistence.ErrExecutionAlreadyExists)
		}

		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

// UpdateStatus applies a status transition inside a row-locking transaction.
func (er *ExecutionRepository) UpdateStatus(ctx context.Context, jobID string, status models.ExecutionStatus, message string, result map[string]any) error {
	resultJSON, err := marshalResult(result)
	if err != nil {
		return err
	}

	transaction, err := er.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = transaction.Rollback() }()

	now := time.Now().UTC()

	var completedAt *time.Time
	if status.IsTerminal() {
		completedAt = &now
	}

	var current models.ExecutionStatus

	err = transaction.QueryRowContext(ctx,
		"SELECT status FROM execution_history WHERE job_id = $1 FOR UPDATE", jobID,
	).Scan(&current)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if !models.ExecutionStatusPending.CanTransitionTo(status) {
			return persistence.NewExecutionError("UpdateStatus", jobID,
				fmt.Errorf("%w: %s -> %s", persistence.ErrInvalidStatusTransition, models.ExecutionStatusPending, status))
		}

		_, err = transaction.ExecContext(ctx, `
			INSERT INTO execution_history (job_id, status, message, result, created_at, updated_at, completed_at)
			VALUES ($1, $2, $3, $4, $5, $5, $6)
		`, jobID, status, message, resultJSON, now, completedAt)
		if err != nil {
			return fmt.Errorf("failed to insert execution status: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to read execution status: %w", err)
	case current.RepeatsTerminal(status):
		return nil
	default:
		if !current.CanTransitionTo(status) {
			return persistence.NewExecutionError("UpdateStatus", jobID,
				fmt.Errorf("%w: %s -> %s", persistence.ErrInvalidStatusTransition, current, status))
		}

		_, err = transaction.ExecContext(ctx, `
			UPDATE execution_history
			SET status = $2, message = $3, result = COALESCE($4, result), updated_at = $5, completed_at = $6
			WHERE job_id = $1
		`, jobID, status, message, resultJSON, now, completedAt)
		if err != nil {
			return fmt.Errorf("failed to update execution status: %w", err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit execution status: %w", err)
	}

	return nil
}

// GetExecution retrieves a status row by job id.
func (er *ExecutionRepository) GetExecution(ctx context.Context, jobID string) (*models.ExecutionStatusRecord, error) {
	query := `
		SELECT job_id, status, message, result, run_name, group_id, group_email,
			   created_at, updated_at, completed_at
		FROM execution_history
		WHERE job_id = $1
	`

	var (
		record     models.ExecutionStatusRecord
		resultJSON []byte
	)

	err := er.db.QueryRowContext(ctx, query, jobID).Scan(
		&record.JobID,
		&record.Status,
		&record.Message,
		&resultJSON,
		&record.RunName,
		&record.GroupID,
		&record.GroupEmail,
		&record.CreatedAt,
		&record.UpdatedAt,
		&record.CompletedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetExecution", jobID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	if resultJSON != nil {
		err = json.Unmarshal(resultJSON, &record.Result)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
	}

	return &record, nil
}

func marshalResult(result map[string]any) ([]byte, error) {
	if result == nil {
		return nil, nil
	}

	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal result: %w", err)
	}

	return data, nil
}
