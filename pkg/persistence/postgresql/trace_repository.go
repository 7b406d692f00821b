package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/google/uuid"
)

// TraceRepository handles execution trace database operations.
type TraceRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewTraceRepository creates a new trace repository.
func NewTraceRepository(db *sql.DB, logger *slog.Logger) *TraceRepository {
	return &TraceRepository{db: db, logger: logger}
}

// CreateTrace inserts one trace row.
func (tr *TraceRepository) CreateTrace(ctx context.Context, trace *models.ExecutionTrace) error {
	metadataJSON, err := json.Marshal(trace.TraceMetadata)
	if err != nil {
		return fmt.Errorf("failed to marshal trace metadata: %w", err)
	}

	id := trace.ID
	if id == "" {
		id = uuid.New().String()
	}

	createdAt := trace.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO execution_trace (
			id, job_id, event_source, event_context, event_type, output,
			trace_metadata, group_id, group_email, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = tr.db.ExecContext(ctx, query,
		id,
		trace.JobID,
		trace.EventSource,
		trace.EventContext,
		trace.EventType,
		trace.Output,
		metadataJSON,
		trace.GroupID,
		trace.GroupEmail,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create trace: %w", err)
	}

	return nil
}

// TracesByJob returns a job's traces in insertion order.
func (tr *TraceRepository) TracesByJob(ctx context.Context, jobID string) ([]*models.ExecutionTrace, error) {
	query := `
		SELECT id, job_id, event_source, event_context, event_type, output,
			   trace_metadata, group_id, group_email, created_at
		FROM execution_trace
		WHERE job_id = $1
		ORDER BY seq ASC
	`

	rows, err := tr.db.QueryContext(ctx, query, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query traces: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			tr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	traces := make([]*models.ExecutionTrace, 0)

	for rows.Next() {
		var (
			trace        models.ExecutionTrace
			metadataJSON []byte
		)

		err := rows.Scan(
			&trace.ID,
			&trace.JobID,
			&trace.EventSource,
			&trace.EventContext,
			&trace.EventType,
			&trace.Output,
			&metadataJSON,
			&trace.GroupID,
			&trace.GroupEmail,
			&trace.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trace: %w", err)
		}

		if metadataJSON != nil {
			err = json.Unmarshal(metadataJSON, &trace.TraceMetadata)
			if err != nil {
				return nil, fmt.Errorf("failed to unmarshal trace metadata: %w", err)
			}
		}

		traces = append(traces, &trace)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating traces: %w", err)
	}

	return traces, nil
}
