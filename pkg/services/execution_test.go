package services

import (
	"context"
	"errors"
	"testing"

	"github.com/crewplane/crewplane/pkg/events"
	"github.com/crewplane/crewplane/pkg/mocks"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func validConfig() models.JobConfig {
	return models.JobConfig{
		RunName: "weekly-report",
		Agents:  []models.AgentConfig{{ID: "a1", Role: "Researcher"}},
		Tasks:   []models.TaskConfig{{ID: "t1", Description: "Collect sources", AgentID: "a1"}},
	}
}

func newService(t *testing.T) (*Execution, *mocks.MockPersistence, *mocks.MockEventBus) {
	t.Helper()

	store := mocks.NewMockPersistence()
	bus := &mocks.MockEventBus{}

	service, err := NewExecution(store, bus)
	require.NoError(t, err)

	return service, store, bus
}

func TestExecution_ValidateConfig(t *testing.T) {
	service, _, _ := newService(t)

	tests := []struct {
		name    string
		mutate  func(c *models.JobConfig)
		wantErr bool
	}{
		{"valid", func(c *models.JobConfig) {}, false},
		{"no agents", func(c *models.JobConfig) { c.Agents = nil }, true},
		{"no tasks", func(c *models.JobConfig) { c.Tasks = nil }, true},
		{"agent without role", func(c *models.JobConfig) { c.Agents[0].Role = "" }, true},
		{"task without description", func(c *models.JobConfig) { c.Tasks[0].Description = "" }, true},
		{"task with unknown agent", func(c *models.JobConfig) { c.Tasks[0].AgentID = "missing" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := service.ValidateConfig(config)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidationError(err))
				assert.ErrorIs(t, err, ErrInvalidJobConfig)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestExecution_Submit(t *testing.T) {
	service, store, bus := newService(t)
	ctx := context.Background()
	group := &models.GroupContext{GroupID: "g-1", GroupEmail: "team@example.com"}

	store.Executions.On("CreateExecution", ctx, mock.MatchedBy(func(r *models.ExecutionStatusRecord) bool {
		return r.JobID == "exec-1" && r.Status == models.ExecutionStatusPending && r.GroupID == "g-1" && r.RunName == "weekly-report"
	})).Return(nil)
	bus.On("Publish", ctx, "exec-1", mock.MatchedBy(func(e events.ExecutionSubmitted) bool {
		return e.ExecutionID == "exec-1" && e.UserToken == "tok" && e.Group.ID() == "g-1"
	})).Return(nil)

	record, err := service.Submit(ctx, SubmitRequest{
		ExecutionID: "exec-1",
		Config:      validConfig(),
		Group:       group,
		UserToken:   "tok",
	})
	require.NoError(t, err)
	assert.Equal(t, "exec-1", record.JobID)
	assert.Equal(t, models.ExecutionStatusPending, record.Status)
	assert.Equal(t, "team@example.com", record.GroupEmail)

	store.Executions.AssertExpectations(t)
	bus.AssertExpectations(t)
}

func TestExecution_Submit_GeneratesID(t *testing.T) {
	service, store, bus := newService(t)

	store.Executions.On("CreateExecution", mock.Anything, mock.Anything).Return(nil)
	bus.On("Publish", mock.Anything, mock.AnythingOfType("string"), mock.Anything).Return(nil)

	record, err := service.Submit(context.Background(), SubmitRequest{Config: validConfig()})
	require.NoError(t, err)
	assert.Len(t, record.JobID, 36)
}

func TestExecution_Submit_InvalidRequest(t *testing.T) {
	service, store, bus := newService(t)

	_, err := service.Submit(context.Background(), SubmitRequest{ExecutionID: "a/b", Config: validConfig()})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = service.Submit(context.Background(), SubmitRequest{Config: models.JobConfig{}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidJobConfig)

	store.Executions.AssertNotCalled(t, "CreateExecution", mock.Anything, mock.Anything)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecution_Submit_Conflict(t *testing.T) {
	service, store, bus := newService(t)

	store.Executions.On("CreateExecution", mock.Anything, mock.Anything).
		Return(persistence.NewExecutionError("CreateExecution", "exec-1", persistence.ErrExecutionAlreadyExists))

	_, err := service.Submit(context.Background(), SubmitRequest{ExecutionID: "exec-1", Config: validConfig()})
	require.Error(t, err)
	assert.True(t, IsConflictError(err))

	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestExecution_Submit_PublishFailureMarksFailed(t *testing.T) {
	service, store, bus := newService(t)

	store.Executions.On("CreateExecution", mock.Anything, mock.Anything).Return(nil)
	bus.On("Publish", mock.Anything, "exec-1", mock.Anything).Return(errors.New("broker down"))
	store.Executions.On("UpdateStatus", mock.Anything, "exec-1", models.ExecutionStatusFailed, "failed to dispatch: broker down", mock.Anything).
		Return(nil)

	_, err := service.Submit(context.Background(), SubmitRequest{ExecutionID: "exec-1", Config: validConfig()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")

	store.Executions.AssertExpectations(t)
}

func TestExecution_Get(t *testing.T) {
	service, store, _ := newService(t)
	ctx := context.Background()

	store.Executions.On("GetExecution", ctx, "exec-1").
		Return(&models.ExecutionStatusRecord{JobID: "exec-1", Status: models.ExecutionStatusRunning}, nil)
	store.Executions.On("GetExecution", ctx, "missing").
		Return(nil, persistence.NewExecutionError("GetExecution", "missing", persistence.ErrExecutionNotFound))
	store.Executions.On("GetExecution", ctx, "broken").Return(nil, errors.New("connection reset"))

	record, err := service.Get(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusRunning, record.Status)

	_, err = service.Get(ctx, "missing")
	assert.True(t, IsNotFoundError(err))

	_, err = service.Get(ctx, "broken")
	require.Error(t, err)
	assert.False(t, IsNotFoundError(err))
}

func TestExecution_TracesAndLogs(t *testing.T) {
	service, store, _ := newService(t)
	ctx := context.Background()

	store.Executions.On("GetExecution", ctx, "exec-1").Return(&models.ExecutionStatusRecord{JobID: "exec-1"}, nil)
	store.Executions.On("GetExecution", ctx, "missing").Return(nil, persistence.ErrExecutionNotFound)
	store.Traces.On("TracesByJob", ctx, "exec-1").
		Return([]*models.ExecutionTrace{{JobID: "exec-1", EventType: models.EventTypeCrewStarted}}, nil)
	store.Logs.On("LogsByJob", ctx, "exec-1").
		Return([]models.ExecutionLogLine{{JobID: "exec-1", Level: "INFO", Content: "Execution started"}}, nil)

	traces, err := service.Traces(ctx, "exec-1")
	require.NoError(t, err)
	assert.Len(t, traces, 1)

	lines, err := service.Logs(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, "Execution started", lines[0].Content)

	_, err = service.Traces(ctx, "missing")
	assert.True(t, IsNotFoundError(err))

	store.Traces.AssertNotCalled(t, "TracesByJob", ctx, "missing")
}

func TestExecution_HealthCheck(t *testing.T) {
	service, store, _ := newService(t)

	store.On("HealthCheck", mock.Anything).Return(nil).Once()
	message, ok := service.HealthCheck(context.Background())
	assert.True(t, ok)
	assert.Equal(t, "Persistence layer is healthy", message)

	store.On("HealthCheck", mock.Anything).Return(errors.New("down")).Once()
	message, ok = service.HealthCheck(context.Background())
	assert.False(t, ok)
	assert.Contains(t, message, "down")
}

func TestConfigValidator_Validate(t *testing.T) {
	validator, err := NewConfigValidator()
	require.NoError(t, err)

	assert.NoError(t, validator.Validate(validConfig()))

	config := validConfig()
	config.Tasks[0].AgentID = "missing"

	err = validator.Validate(config)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "references unknown agent missing")
}
