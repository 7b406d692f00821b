package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/crewplane/crewplane/pkg/channels/gochannel"
	"github.com/crewplane/crewplane/pkg/eventbus"
	"github.com/crewplane/crewplane/pkg/events"
	"github.com/crewplane/crewplane/pkg/mocks"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence/file"
	"github.com/crewplane/crewplane/pkg/runner"
	"github.com/crewplane/crewplane/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type runnerFunc func(ctx context.Context, job runner.Job) runner.Outcome

func (f runnerFunc) Run(ctx context.Context, job runner.Job) runner.Outcome {
	return f(ctx, job)
}

func jobConfig() models.JobConfig {
	return models.JobConfig{
		RunName: "weekly-report",
		Agents:  []models.AgentConfig{{ID: "a1", Role: "Researcher", Tools: []string{"search"}}},
		Tasks:   []models.TaskConfig{{ID: "t1", Name: "collect", Description: "Collect {topic}", AgentID: "a1"}},
		Inputs:  map[string]any{"topic": "go"},
	}
}

func TestManager_HandleExecutionSubmitted_InvalidEvent(t *testing.T) {
	bus := &mocks.MockEventBus{}
	called := false
	m := NewManager("w-1", runnerFunc(func(context.Context, runner.Job) runner.Outcome {
		called = true

		return runner.Outcome{}
	}), bus, slog.New(slog.DiscardHandler), 1)

	require.NoError(t, m.handleExecutionSubmitted(context.Background(), "invalid-event"))

	invalid := events.NewExecutionSubmitted("exec-1", models.JobConfig{}, nil, "")
	require.NoError(t, m.handleExecutionSubmitted(context.Background(), &invalid))

	m.Wait()
	assert.False(t, called)
	bus.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestManager_PublishesOutcome(t *testing.T) {
	tests := []struct {
		name     string
		outcome  runner.Outcome
		expected events.EventType
	}{
		{
			name:     "completed",
			outcome:  runner.Outcome{Status: models.ExecutionStatusCompleted, StatusPersisted: true},
			expected: events.ExecutionCompletedEvent,
		},
		{
			name:     "failed",
			outcome:  runner.Outcome{Status: models.ExecutionStatusFailed, Err: errors.New("boom")},
			expected: events.ExecutionFailedEvent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := &mocks.MockEventBus{}
			bus.On("Publish", mock.Anything, "exec-1", mock.MatchedBy(func(e eventbus.Event) bool {
				return e.GetType() == tt.expected
			})).Return(nil).Once()

			var got runner.Job

			m := NewManager("w-1", runnerFunc(func(_ context.Context, job runner.Job) runner.Outcome {
				got = job
				out := tt.outcome
				out.JobID = job.ID

				return out
			}), bus, slog.New(slog.DiscardHandler), 1)

			submitted := events.NewExecutionSubmitted("exec-1", jobConfig(), &models.GroupContext{GroupID: "g-1"}, "tok")
			require.NoError(t, m.handleExecutionSubmitted(context.Background(), &submitted))

			m.Wait()

			assert.Equal(t, "exec-1", got.ID)
			assert.Equal(t, "tok", got.UserToken)
			assert.Equal(t, "g-1", got.Group.ID())
			assert.Equal(t, "weekly-report", got.Config.RunName)
			bus.AssertExpectations(t)
		})
	}
}

func TestManager_BoundsConcurrency(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	var current, peak atomic.Int32

	release := make(chan struct{})

	m := NewManager("w-1", runnerFunc(func(_ context.Context, job runner.Job) runner.Outcome {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		<-release
		current.Add(-1)

		return runner.Outcome{JobID: job.ID, Status: models.ExecutionStatusCompleted}
	}), bus, slog.New(slog.DiscardHandler), 2)

	var wg sync.WaitGroup

	for _, id := range []string{"exec-1", "exec-2", "exec-3", "exec-4"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			submitted := events.NewExecutionSubmitted(id, jobConfig(), nil, "")
			assert.NoError(t, m.handleExecutionSubmitted(context.Background(), &submitted))
		}()
	}

	assert.Eventually(t, func() bool { return current.Load() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
	m.Wait()

	assert.Equal(t, int32(2), peak.Load())
	bus.AssertNumberOfCalls(t, "Publish", 4)
}

func TestManager_CancelledWhileWaitingForSlot(t *testing.T) {
	bus := &mocks.MockEventBus{}
	bus.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	release := make(chan struct{})
	m := NewManager("w-1", runnerFunc(func(_ context.Context, job runner.Job) runner.Outcome {
		<-release

		return runner.Outcome{JobID: job.ID, Status: models.ExecutionStatusCompleted}
	}), bus, slog.New(slog.DiscardHandler), 1)

	first := events.NewExecutionSubmitted("exec-1", jobConfig(), nil, "")
	require.NoError(t, m.handleExecutionSubmitted(context.Background(), &first))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	second := events.NewExecutionSubmitted("exec-2", jobConfig(), nil, "")
	require.NoError(t, m.handleExecutionSubmitted(ctx, &second))

	close(release)
	m.Wait()

	bus.AssertNumberOfCalls(t, "Publish", 1)
}

func TestPipeline_EndToEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.DiscardHandler)
	store := file.NewPersistence(t.TempDir())

	pipeline := NewPipeline(store, logger, PipelineConfig{
		StatusOptions: []status.Option{status.WithSleeper(func(context.Context, time.Duration) error { return nil })},
	})
	pipeline.Start(ctx)

	pub, sub, err := gochannel.CreateTestChannel(watermill.NopLogger{})
	require.NoError(t, err)

	bus := eventbus.NewWatermillEventBus(pub, sub)
	defer func() { _ = bus.Close() }()

	finished := make(chan *events.ExecutionCompleted, 1)
	require.NoError(t, bus.Handle(events.ExecutionCompletedEvent, func(_ context.Context, event any) error {
		finished <- event.(*events.ExecutionCompleted)

		return nil
	}))

	manager := NewManager("w-1", pipeline.Runner, bus, logger, 2)
	require.NoError(t, manager.Start(ctx))

	require.NoError(t, store.ExecutionRepository().CreateExecution(ctx, &models.ExecutionStatusRecord{JobID: "exec-1", Status: models.ExecutionStatusPending}))

	submitted := events.NewExecutionSubmitted("exec-1", jobConfig(), &models.GroupContext{GroupID: "g-1"}, "")
	require.NoError(t, bus.Publish(ctx, "exec-1", submitted))

	select {
	case completed := <-finished:
		assert.Equal(t, "exec-1", completed.ExecutionID)
		assert.Equal(t, "w-1", completed.WorkerID)
		assert.True(t, completed.StatusPersisted)
		assert.Contains(t, completed.Result["output"], "Collect go")
	case <-time.After(5 * time.Second):
		t.Fatal("execution did not complete")
	}

	manager.Wait()
	require.NoError(t, pipeline.Close())

	record, err := store.ExecutionRepository().GetExecution(ctx, "exec-1")
	require.NoError(t, err)
	assert.Equal(t, models.ExecutionStatusCompleted, record.Status)

	traces, err := store.TraceRepository().TracesByJob(ctx, "exec-1")
	require.NoError(t, err)
	assert.NotEmpty(t, traces)

	for _, trace := range traces {
		assert.Equal(t, "g-1", trace.GroupID)
	}

	lines, err := store.LogRepository().LogsByJob(ctx, "exec-1")
	require.NoError(t, err)
	assert.NotEmpty(t, lines)

	report := pipeline.Collector.Collect()
	assert.Empty(t, report.Running)
	assert.Empty(t, report.Registrations)
	require.NotNil(t, report.Traces)
	assert.Positive(t, report.Traces.Persisted)
}
