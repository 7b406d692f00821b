package tracing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingTraceRepository struct{}

func (failingTraceRepository) CreateTrace(context.Context, *models.ExecutionTrace) error {
	return errors.New("disk on fire")
}

func (failingTraceRepository) TracesByJob(context.Context, string) ([]*models.ExecutionTrace, error) {
	return nil, nil
}

func newFileWriter(t *testing.T, opts ...Option) (*Writer, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	return NewWriter(p.TraceRepository(), slog.Default(), opts...), p
}

func TestSink_EnqueueFullAndClosed(t *testing.T) {
	writer, _ := newFileWriter(t, WithQueueSize(2))
	sink := writer.NewSink("exec-1")

	record := models.NewTraceRecord("exec-1", models.EventTypeLLMCall, "Researcher", "llm_call", "hi", nil, nil)

	require.NoError(t, sink.Enqueue(record))
	require.NoError(t, sink.Enqueue(record))
	assert.ErrorIs(t, sink.Enqueue(record), ErrSinkFull)

	sink.Close()
	assert.True(t, sink.Closed())
	assert.ErrorIs(t, sink.Enqueue(record), ErrSinkClosed)
	assert.Equal(t, 2, writer.Stats().Pending)
}

func TestSink_RejectsForeignRecord(t *testing.T) {
	writer, _ := newFileWriter(t)
	sink := writer.NewSink("exec-1")

	record := models.NewTraceRecord("exec-2", models.EventTypeLLMCall, "Researcher", "llm_call", "hi", nil, nil)

	assert.ErrorIs(t, sink.Enqueue(record), ErrJobMismatch)
}

func TestSink_NilIsClosed(t *testing.T) {
	var sink *Sink

	assert.ErrorIs(t, sink.Enqueue(models.TraceRecord{}), ErrSinkClosed)
}

func TestWriter_FiltersNonSignificant(t *testing.T) {
	writer, p := newFileWriter(t)
	ctx := context.Background()

	group := &models.GroupContext{GroupID: "g-1", GroupEmail: "team@example.com"}

	assert.True(t, writer.Process(ctx, models.NewTraceRecord("exec-1", models.EventTypeCrewStarted, "Crew", "crew_start", "", group, nil)))
	assert.False(t, writer.Process(ctx, models.NewTraceRecord("exec-1", models.EventTypeCrewFailed, "Crew", "crew_failed", "boom", group, nil)))
	assert.False(t, writer.Process(ctx, models.NewTraceRecord("exec-1", "debug_info", "Crew", "", "", group, nil)))
	assert.True(t, writer.Process(ctx, models.NewTraceRecord("exec-1", models.EventTypeTaskCompleted, "Researcher", "completion", "done", group, nil)))

	traces, err := p.TraceRepository().TracesByJob(ctx, "exec-1")
	require.NoError(t, err)
	require.Len(t, traces, 2)
	assert.Equal(t, models.EventTypeCrewStarted, traces[0].EventType)
	assert.Equal(t, models.EventTypeTaskCompleted, traces[1].EventType)
	assert.Equal(t, "g-1", traces[0].GroupID)
	assert.Equal(t, "team@example.com", traces[0].GroupEmail)
	assert.Contains(t, traces[0].TraceMetadata, "timestamp")

	stats := writer.Stats()
	assert.Equal(t, uint64(2), stats.Persisted)
	assert.Equal(t, uint64(2), stats.Filtered)
}

func TestWriter_CustomAllowList(t *testing.T) {
	writer, _ := newFileWriter(t, WithSignificantEvents(models.EventTypeCrewFailed))

	assert.True(t, writer.IsSignificant(models.EventTypeCrewFailed))
	assert.False(t, writer.IsSignificant(models.EventTypeLLMCall))
}

func TestWriter_PersistFailureIsLogged(t *testing.T) {
	writer := NewWriter(failingTraceRepository{}, slog.Default())

	ok := writer.Process(context.Background(), models.NewTraceRecord("exec-1", models.EventTypeLLMCall, "Researcher", "llm_call", "", nil, nil))

	assert.False(t, ok)
	assert.Equal(t, uint64(1), writer.Stats().Failed)
}

func TestWriter_RunPreservesOrderAndDrains(t *testing.T) {
	writer, p := newFileWriter(t)
	sink := writer.NewSink("exec-1")

	for _, source := range []string{"first", "second", "third"} {
		require.NoError(t, sink.Enqueue(models.NewTraceRecord("exec-1", models.EventTypeAgentExecution, source, "step", "", nil, nil)))
	}

	ctx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()
		writer.Run(ctx)
	}()

	require.NoError(t, sink.Enqueue(models.NewTraceRecord("exec-1", models.EventTypeAgentExecution, "fourth", "step", "", nil, nil)))

	cancel()
	wg.Wait()

	traces, err := p.TraceRepository().TracesByJob(context.Background(), "exec-1")
	require.NoError(t, err)
	require.Len(t, traces, 4)

	sources := make([]string, 0, len(traces))
	for _, trace := range traces {
		sources = append(sources, trace.EventSource)
	}

	assert.Equal(t, []string{"first", "second", "third", "fourth"}, sources)
	assert.Equal(t, 0, writer.Stats().Pending)
}

func TestWriter_ConcurrentJobsStayIsolated(t *testing.T) {
	writer, p := newFileWriter(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		writer.Run(ctx)
		close(done)
	}()

	var wg sync.WaitGroup

	for _, jobID := range []string{"exec-a", "exec-b"} {
		wg.Add(1)

		go func(jobID string) {
			defer wg.Done()

			sink := writer.NewSink(jobID)
			for range 50 {
				assert.NoError(t, sink.Enqueue(models.NewTraceRecord(jobID, models.EventTypeLLMCall, jobID, "llm_call", "", nil, nil)))
			}
		}(jobID)
	}

	wg.Wait()
	cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("writer did not stop")
	}

	for _, jobID := range []string{"exec-a", "exec-b"} {
		traces, err := p.TraceRepository().TracesByJob(context.Background(), jobID)
		require.NoError(t, err)
		require.Len(t, traces, 50)

		for _, trace := range traces {
			assert.Equal(t, jobID, trace.EventSource)
		}
	}
}
