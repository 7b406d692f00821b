package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/crewplane/crewplane/pkg/diagnostics"
	"github.com/crewplane/crewplane/pkg/framework"
	"github.com/crewplane/crewplane/pkg/mocks"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence/file"
	"github.com/crewplane/crewplane/pkg/registry"
	"github.com/crewplane/crewplane/pkg/services"
	"github.com/crewplane/crewplane/pkg/web"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type fakeRunner []string

func (f fakeRunner) Running() []string {
	return f
}

type nopSink struct{}

func (nopSink) Enqueue(models.TraceRecord) error {
	return nil
}

type testEnv struct {
	app   *fiber.App
	store *file.Persistence
	bus   *mocks.MockEventBus
}

func setupTestApp(t *testing.T) testEnv {
	t.Helper()

	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())
	bus := &mocks.MockEventBus{}

	executionService, err := services.NewExecution(store, bus)
	require.NoError(t, err)

	frameworkBus := framework.NewInMemoryBus(logger)
	t.Cleanup(func() { _ = frameworkBus.Close() })

	reg := registry.New(frameworkBus, logger)
	t.Cleanup(func() { _ = reg.Close() })
	reg.Register("exec-running", []string{"Researcher"}, &models.GroupContext{GroupID: "g-1"}, nopSink{})

	collector := diagnostics.NewCollector(reg, fakeRunner{"exec-running"}, nil)
	handlers := web.NewAPIHandlers(executionService, validator.New(validator.WithRequiredStructEnabled()), collector)

	app := fiber.New()
	handlers.Register(app)

	return testEnv{app: app, store: store, bus: bus}
}

func validRequest() web.SubmitExecutionRequest {
	return web.SubmitExecutionRequest{
		ExecutionID: "exec-1",
		Config: &models.JobConfig{
			RunName: "weekly-report",
			Agents:  []models.AgentConfig{{ID: "a1", Role: "Researcher"}},
			Tasks:   []models.TaskConfig{{ID: "t1", Description: "Collect sources", AgentID: "a1"}},
		},
		Group: &models.GroupContext{GroupID: "g-1", GroupEmail: "team@example.com"},
	}
}

func doRequest(t *testing.T, app *fiber.App, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader io.Reader

	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			payload, err := json.Marshal(b)
			require.NoError(t, err)

			reader = bytes.NewBuffer(payload)
		}
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, data
}

func TestAPIHandlers_SubmitExecution(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		requestBody    any
		publishErr     error
		expectedStatus int
		expectedError  string
	}{
		{
			name:           "accepted",
			requestBody:    validRequest(),
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "invalid json",
			requestBody:    "{not json",
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Invalid JSON format",
		},
		{
			name: "missing config",
			requestBody: web.SubmitExecutionRequest{
				ExecutionID: "exec-1",
			},
			expectedStatus: http.StatusBadRequest,
			expectedError:  "Config",
		},
		{
			name: "task references unknown agent",
			requestBody: func() web.SubmitExecutionRequest {
				req := validRequest()
				req.Config.Tasks[0].AgentID = "ghost"

				return req
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "unknown agent ghost",
		},
		{
			name: "group without id",
			requestBody: func() web.SubmitExecutionRequest {
				req := validRequest()
				req.Group = &models.GroupContext{GroupEmail: "team@example.com"}

				return req
			}(),
			expectedStatus: http.StatusBadRequest,
			expectedError:  "GroupID",
		},
		{
			name:           "dispatch failure",
			requestBody:    validRequest(),
			publishErr:     errors.New("broker down"),
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			env := setupTestApp(t)
			env.bus.On("Publish", mock.Anything, "exec-1", mock.Anything).Return(tt.publishErr).Maybe()

			resp, body := doRequest(t, env.app, http.MethodPost, "/executions", tt.requestBody)
			assert.Equal(t, tt.expectedStatus, resp.StatusCode, string(body))

			if tt.expectedError != "" {
				assert.Contains(t, string(body), tt.expectedError)
			}

			if tt.expectedStatus == http.StatusAccepted {
				var record models.ExecutionStatusRecord
				require.NoError(t, json.Unmarshal(body, &record))
				assert.Equal(t, "exec-1", record.JobID)
				assert.Equal(t, models.ExecutionStatusPending, record.Status)
				assert.Equal(t, "g-1", record.GroupID)
				assert.Equal(t, "/executions/exec-1", resp.Header.Get("Location"))
			}

			if tt.publishErr != nil {
				stored, err := env.store.ExecutionRepository().GetExecution(context.Background(), "exec-1")
				require.NoError(t, err)
				assert.Equal(t, models.ExecutionStatusFailed, stored.Status)
			}
		})
	}
}

func TestAPIHandlers_SubmitExecution_Conflict(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	env.bus.On("Publish", mock.Anything, "exec-1", mock.Anything).Return(nil).Once()

	resp, _ := doRequest(t, env.app, http.MethodPost, "/executions", validRequest())
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, body := doRequest(t, env.app, http.MethodPost, "/executions", validRequest())
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "conflict")

	env.bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestAPIHandlers_GetExecution(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	ctx := context.Background()
	repo := env.store.ExecutionRepository()

	require.NoError(t, repo.CreateExecution(ctx, &models.ExecutionStatusRecord{JobID: "exec-1", Status: models.ExecutionStatusPending}))
	require.NoError(t, repo.UpdateStatus(ctx, "exec-1", models.ExecutionStatusCompleted, "", map[string]any{"output": "done"}))

	resp, body := doRequest(t, env.app, http.MethodGet, "/executions/exec-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var record models.ExecutionStatusRecord
	require.NoError(t, json.Unmarshal(body, &record))
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)
	assert.Equal(t, "done", record.Result["output"])

	resp, body = doRequest(t, env.app, http.MethodGet, "/executions/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "execution_not_found")
}

func TestAPIHandlers_TracesAndLogs(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)
	ctx := context.Background()

	require.NoError(t, env.store.ExecutionRepository().CreateExecution(ctx, &models.ExecutionStatusRecord{JobID: "exec-1", Status: models.ExecutionStatusPending}))
	require.NoError(t, env.store.TraceRepository().CreateTrace(ctx, &models.ExecutionTrace{
		JobID:        "exec-1",
		EventType:    models.EventTypeCrewStarted,
		EventSource:  "Crew",
		EventContext: "start",
		Output:       "weekly-report",
	}))
	require.NoError(t, env.store.LogRepository().AppendLogs(ctx, "exec-1", []models.ExecutionLogLine{
		{JobID: "exec-1", Level: "INFO", Content: "Execution started"},
	}))

	resp, body := doRequest(t, env.app, http.MethodGet, "/executions/exec-1/traces", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var traces web.TracesResponse
	require.NoError(t, json.Unmarshal(body, &traces))
	assert.Equal(t, 1, traces.Count)
	assert.Equal(t, models.EventTypeCrewStarted, traces.Traces[0].EventType)

	resp, body = doRequest(t, env.app, http.MethodGet, "/executions/exec-1/logs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var logs web.LogsResponse
	require.NoError(t, json.Unmarshal(body, &logs))
	assert.Equal(t, 1, logs.Count)
	assert.Equal(t, "Execution started", logs.Logs[0].Content)

	resp, _ = doRequest(t, env.app, http.MethodGet, "/executions/missing/traces", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAPIHandlers_RunningAndDiagnostics(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp, body := doRequest(t, env.app, http.MethodGet, "/executions/running", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var running web.RunningResponse
	require.NoError(t, json.Unmarshal(body, &running))
	assert.Equal(t, []string{"exec-running"}, running.Running)
	assert.Equal(t, 1, running.Count)

	resp, body = doRequest(t, env.app, http.MethodGet, "/diagnostics/registry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var report diagnostics.Report
	require.NoError(t, json.Unmarshal(body, &report))
	require.Len(t, report.Registrations, 1)
	assert.Equal(t, "exec-running", report.Registrations[0].ExecutionID)
	assert.Equal(t, []string{"Researcher"}, report.AgentIdentifiers)
}

func TestAPIHandlers_HealthCheck(t *testing.T) {
	t.Parallel()

	env := setupTestApp(t)

	resp, body := doRequest(t, env.app, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)
}
