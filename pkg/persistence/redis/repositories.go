package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
)

// ExecutionRepository stores each status record as a JSON string key.
type ExecutionRepository struct {
	client redis.UniversalClient
}

func (er *ExecutionRepository) CreateExecution(ctx context.Context, record *models.ExecutionStatusRecord) error {
	toSave := *record
	if toSave.Status == "" {
		toSave.Status = models.ExecutionStatusPending
	}

	now := time.Now().UTC()
	if toSave.CreatedAt.IsZero() {
		toSave.CreatedAt = now
	}

	toSave.UpdatedAt = now

	data, err := json.Marshal(toSave)
	if err != nil {
		return fmt.Errorf("failed to marshal execution %s: %w", record.JobID, err)
	}

	created, err := er.client.SetNX(ctx, executionKey(record.JobID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", record.JobID, err)
	}

	if !created {
		return persistence.NewExecutionError("CreateExecution", record.JobID, persistence.ErrExecutionAlreadyExists)
	}

	return nil
}

// UpdateStatus applies a transition under an optimistic WATCH on the record key.
func (er *ExecutionRepository) UpdateStatus(ctx context.Context, jobID string, status models.ExecutionStatus, message string, result map[string]any) error {
	key := executionKey(jobID)

	return er.client.Watch(ctx, func(tx *redis.Tx) error {
		now := time.Now().UTC()

		record, err := getRecord(ctx, tx, jobID)
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

		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("failed to marshal execution %s: %w", jobID, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)

			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to update execution %s: %w", jobID, err)
		}

		return nil
	}, key)
}

func (er *ExecutionRepository) GetExecution(ctx context.Context, jobID string) (*models.ExecutionStatusRecord, error) {
	return getRecord(ctx, er.client, jobID)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getRecord(ctx context.Context, client getter, jobID string) (*models.ExecutionStatusRecord, error) {
	data, err := client.Get(ctx, executionKey(jobID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
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

// TraceRepository keeps each job's traces in a Redis list.
type TraceRepository struct {
	client redis.UniversalClient
}

func (tr *TraceRepository) CreateTrace(ctx context.Context, trace *models.ExecutionTrace) error {
	toSave := *trace
	if toSave.ID == "" {
		toSave.ID = uuid.New().String()
	}

	if toSave.CreatedAt.IsZero() {
		toSave.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(toSave)
	if err != nil {
		return fmt.Errorf("failed to marshal trace: %w", err)
	}

	err = tr.client.RPush(ctx, tracesKey(trace.JobID), data).Err()
	if err != nil {
		return fmt.Errorf("failed to push trace for %s: %w", trace.JobID, err)
	}

	return nil
}

func (tr *TraceRepository) TracesByJob(ctx context.Context, jobID string) ([]*models.ExecutionTrace, error) {
	return listRange[*models.ExecutionTrace](ctx, tr.client, tracesKey(jobID))
}

// LogRepository keeps each job's flushed log lines in a Redis list.
type LogRepository struct {
	client redis.UniversalClient
}

func (lr *LogRepository) AppendLogs(ctx context.Context, jobID string, lines []models.ExecutionLogLine) error {
	if len(lines) == 0 {
		return nil
	}

	values := make([]any, 0, len(lines))

	for _, line := range lines {
		data, err := json.Marshal(line)
		if err != nil {
			return fmt.Errorf("failed to marshal log line: %w", err)
		}

		values = append(values, data)
	}

	err := lr.client.RPush(ctx, logsKey(jobID), values...).Err()
	if err != nil {
		return fmt.Errorf("failed to push logs for %s: %w", jobID, err)
	}

	return nil
}

func (lr *LogRepository) LogsByJob(ctx context.Context, jobID string) ([]models.ExecutionLogLine, error) {
	return listRange[models.ExecutionLogLine](ctx, lr.client, logsKey(jobID))
}

func listRange[T any](ctx context.Context, client redis.UniversalClient, key string) ([]T, error) {
	raw, err := client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	items := make([]T, 0, len(raw))

	for _, entry := range raw {
		var item T

		err = json.Unmarshal([]byte(entry), &item)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry of %s: %w", key, err)
		}

		items = append(items, item)
	}

	return items, nil
}
