package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/crewplane/crewplane/pkg/persistence/postgresql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"execution_logs", "execution_trace", "execution_history", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	err = db.Close()
	require.NoError(t, err)
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("crewplane_test"),
			postgres.WithUsername("crewplane"),
			postgres.WithPassword("crewplane"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)

		err = p.Close(ctx)
		require.NoError(t, err)

		cancel()
	})

	return p, ctx
}

func TestPostgreSQL_ExecutionLifecycle(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.ExecutionRepository()

	require.NoError(t, p.HealthCheck(ctx))

	err := repo.CreateExecution(ctx, &models.ExecutionStatusRecord{
		JobID:      "exec-1",
		RunName:    "research",
		GroupID:    "g-1",
		GroupEmail: "ops@example.com",
	})
	require.NoError(t, err)

	err = repo.CreateExecution(ctx, &models.ExecutionStatusRecord{JobID: "exec-1"})
	require.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)

	require.NoError(t, repo.UpdateStatus(ctx, "exec-1", models.ExecutionStatusRunning, "", nil))
	require.NoError(t, repo.UpdateStatus(ctx, "exec-1", models.ExecutionStatusCompleted, "done", map[string]any{"raw": "report"}))

	record, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.Equal(t, "report", record.Result["raw"])
	assert.Equal(t, "g-1", record.GroupID)
	assert.NotNil(t, record.CompletedAt)

	require.NoError(t, repo.UpdateStatus(ctx, "exec-1", models.ExecutionStatusCompleted, "retried", nil))

	record, err = repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "done", record.Message)

	err = repo.UpdateStatus(ctx, "exec-1", models.ExecutionStatusFailed, "late", nil)
	require.ErrorIs(t, err, persistence.ErrInvalidStatusTransition)

	_, err = repo.GetExecution(ctx, "missing")
	assert.True(t, persistence.IsExecutionNotFound(err))
}

func TestPostgreSQL_UpdateStatusCreatesRow(t *testing.T) {
	p, ctx := setupTestDB(t)
	repo := p.ExecutionRepository()

	require.NoError(t, repo.UpdateStatus(ctx, "exec-2", models.ExecutionStatusFailed, "boom", nil))

	record, err := repo.GetExecution(ctx, "exec-2")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Equal(t, "boom", record.Message)
}

func TestPostgreSQL_TracesAndLogs(t *testing.T) {
	p, ctx := setupTestDB(t)

	for _, source := range []string{"Crew", "Researcher"} {
		err := p.TraceRepository().CreateTrace(ctx, &models.ExecutionTrace{
			JobID:         "exec-1",
			EventSource:   source,
			EventContext:  "step",
			EventType:     models.EventTypeAgentExecution,
			Output:        "out",
			TraceMetadata: map[string]any{"agent_role": source},
			GroupID:       "g-1",
		})
		require.NoError(t, err)
	}

	traces, err := p.TraceRepository().TracesByJob(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "Crew", traces[0].EventSource)
	assert.Equal(t, "Researcher", traces[1].TraceMetadata["agent_role"])

	err = p.LogRepository().AppendLogs(ctx, "exec-1", []models.ExecutionLogLine{
		{JobID: "exec-1", Level: "INFO", Content: "hello", Timestamp: time.Now().UTC()},
	})
	require.NoError(t, err)

	lines, err := p.LogRepository().LogsByJob(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0].Content)
}
