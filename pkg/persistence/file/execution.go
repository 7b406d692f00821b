package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
)

// ExecutionRepository handles execution status file operations.
type ExecutionRepository struct {
	root string
	mu   sync.Mutex
}

// NewExecutionRepository creates a new execution repository.
func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, "executions")
}

func (er *ExecutionRepository) path(jobID string) string {
	return filepath.Join(er.dir(), jobID+".json")
}

// CreateExecution writes a new status file for the job.
func (er *ExecutionRepository) CreateExecution(ctx context.Context, record *models.ExecutionStatusRecord) error {
	err := validateJobID(record.JobID)
	if err != nil {
		return fmt.Errorf("invalid job ID: %w", err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	_, err = er.read(record.JobID)
	if err == nil {
		return persistence.NewExecutionError("CreateExecution", record.JobID, persistence.ErrExecutionAlreadyExists)
	}

	if !persistence.IsExecutionNotFound(err) {
		return err
	}

	toSave := *record
	if toSave.Status == "" {
		toSave.Status = models.ExecutionStatusPending
	}

	now := time.Now().UTC()
	if toSave.CreatedAt.IsZero() {
		toSave.CreatedAt = now
	}

	toSave.UpdatedAt = now

	return er.write(&toSave)
}

// UpdateStatus applies a status transition to the job's file, creating it when absent.
func (er *ExecutionRepository) UpdateStatus(ctx context.Context, jobID string, status models.ExecutionStatus, message string, result map[string]any) error {
	err := validateJobID(jobID)
	if err != nil {
		return fmt.Errorf("invalid job ID: %w", err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	now := time.Now().UTC()

	record, err := er.read(jobID)
	if persistence.IsExecutionNotFound(err) {
		record = &models.ExecutionStatusRecord{
			JobID:     jobID,
			Status:    models.ExecutionStatusPending,
			CreatedAt: now,
		}
	} else if err != nil {
		return err
	}

	if record.Status.RepeatsTerminal(status) {
		return nil
	}

	if !record.Status.CanTransitionTo(status) {
		return persistence.NewExecutionError("UpdateStatus", jobID,
			fmt.Errorf("%w: %s -> %s", persistence.ErrInvalidStatusTransition, record.Status, status))
	}

	record.Status = status
	record.Message = message
	record.UpdatedAt = now

	if result != nil {
		record.Result = result
	}

	if status.IsTerminal() {
		record.CompletedAt = &now
	}

	return er.write(record)
}

// GetExecution retrieves a job's status record.
func (er *ExecutionRepository) GetExecution(ctx context.Context, jobID string) (*models.ExecutionStatusRecord, error) {
	err := validateJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("invalid job ID: %w", err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	return er.read(jobID)
}

func (er *ExecutionRepository) read(jobID string) (*models.ExecutionStatusRecord, error) {
	data, err := os.ReadFile(er.path(jobID)) // #nosec G304 -- jobID is validated
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, persistence.NewExecutionError("GetExecution", jobID, persistence.ErrExecutionNotFound)
		}

		return nil, fmt.Errorf("failed to read execution %s: %w", jobID, err)
	}

	var record models.ExecutionStatusRecord

	err = json.Unmarshal(data, &record)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", jobID, err)
	}

	return &record, nil
}

func (er *ExecutionRepository) write(record *models.ExecutionStatusRecord) error {
	err := os.MkdirAll(er.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create executions directory: %w", err)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", record.JobID, err)
	}

	err = os.WriteFile(er.path(record.JobID), data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write execution %s: %w", record.JobID, err)
	}

	return nil
}
