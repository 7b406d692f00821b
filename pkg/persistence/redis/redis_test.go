package redis_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
	redispersistence "github.com/crewplane/crewplane/pkg/persistence/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupRedis(t *testing.T) (*redispersistence.Persistence, context.Context) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Started: true,
	})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := redispersistence.NewPersistence(ctx, logger, "redis://"+endpoint+"/0")
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, p.Close(ctx))
		require.NoError(t, container.Terminate(ctx))
		cancel()
	})

	return p, ctx
}

func TestRedis_ExecutionLifecycle(t *testing.T) {
	p, ctx := setupRedis(t)
	repo := p.ExecutionRepository()

	require.NoError(t, p.HealthCheck(ctx))
	require.NoError(t, repo.CreateExecution(ctx, &models.ExecutionStatusRecord{JobID: "exec-1", GroupID: "g-1"}))

	err := repo.CreateExecution(ctx, &models.ExecutionStatusRecord{JobID: "exec-1"})
	require.ErrorIs(t, err, persistence.ErrExecutionAlreadyExists)

	require.NoError(t, repo.UpdateStatus(ctx, "exec-1", models.ExecutionStatusRunning, "", nil))
	require.NoError(t, repo.UpdateStatus(ctx, "exec-1", models.ExecutionStatusFailed, "boom", nil))

	record, err := repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusFailed, record.Status)
	assert.Equal(t, "boom", record.Message)
	assert.Equal(t, "g-1", record.GroupID)

	require.NoError(t, repo.UpdateStatus(ctx, "exec-1", models.ExecutionStatusFailed, "retried", nil))

	record, err = repo.GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "boom", record.Message)

	err = repo.UpdateStatus(ctx, "exec-1", models.ExecutionStatusCompleted, "", nil)
	require.ErrorIs(t, err, persistence.ErrInvalidStatusTransition)
}

func TestRedis_TracesAndLogs(t *testing.T) {
	p, ctx := setupRedis(t)

	require.NoError(t, p.TraceRepository().CreateTrace(ctx, &models.ExecutionTrace{JobID: "exec-1", EventSource: "Crew"}))
	require.NoError(t, p.TraceRepository().CreateTrace(ctx, &models.ExecutionTrace{JobID: "exec-1", EventSource: "Researcher"}))

	traces, err := p.TraceRepository().TracesByJob(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, "Crew", traces[0].EventSource)
	assert.NotEmpty(t, traces[1].ID)

	require.NoError(t, p.LogRepository().AppendLogs(ctx, "exec-1", []models.ExecutionLogLine{{Level: "INFO", Content: "hello"}}))

	lines, err := p.LogRepository().LogsByJob(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, "hello", lines[0].Content)
}
