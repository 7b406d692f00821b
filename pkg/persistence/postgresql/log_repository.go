package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/crewplane/crewplane/pkg/models"
)

// LogRepository handles execution log database operations.
type LogRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewLogRepository creates a new log repository.
func NewLogRepository(db *sql.DB, logger *slog.Logger) *LogRepository {
	return &LogRepository{db: db, logger: logger}
}

// AppendLogs inserts all lines in one transaction.
func (lr *LogRepository) AppendLogs(ctx context.Context, jobID string, lines []models.ExecutionLogLine) error {
	if len(lines) == 0 {
		return nil
	}

	transaction, err := lr.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() { _ = transaction.Rollback() }()

	statement, err := transaction.PrepareContext(ctx, `
		INSERT INTO execution_logs (job_id, level, content, group_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare log insert: %w", err)
	}

	defer func() { _ = statement.Close() }()

	for _, line := range lines {
		_, err = statement.ExecContext(ctx, jobID, line.Level, line.Content, line.GroupID, line.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert log line: %w", err)
		}
	}

	err = transaction.Commit()
	if err != nil {
		return fmt.Errorf("failed to commit log lines: %w", err)
	}

	return nil
}

// LogsByJob returns a job's log lines in insertion order.
func (lr *LogRepository) LogsByJob(ctx context.Context, jobID string) ([]models.ExecutionLogLine, error) {
	rows, err := lr.db.QueryContext(ctx, `
		SELECT job_id, level, content, group_id, created_at
		FROM execution_logs
		WHERE job_id = $1
		ORDER BY seq ASC
	`, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}

	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			lr.logger.ErrorContext(ctx, "failed to close rows", "error", closeErr)
		}
	}()

	lines := make([]models.ExecutionLogLine, 0)

	for rows.Next() {
		var line models.ExecutionLogLine

		err := rows.Scan(&line.JobID, &line.Level, &line.Content, &line.GroupID, &line.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("failed to scan log line: %w", err)
		}

		lines = append(lines, line)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating logs: %w", err)
	}

	return lines, nil
}
