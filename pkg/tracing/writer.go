package tracing

import (
	"context"
	"log/slog"
	"maps"
	"sync/atomic"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
)

const DefaultQueueSize = 10000

// Stats counts what the writer did with dequeued records.
type Stats struct {
	Persisted uint64 `json:"persisted"`
	Filtered  uint64 `json:"filtered"`
	Failed    uint64 `json:"failed"`
	Pending   int    `json:"pending"`
}

// Writer is the single process-wide consumer of trace records. All sinks
// share one bounded queue, so records of the same job are persisted in the
// order they were enqueued.
type Writer struct {
	store       persistence.TraceRepository
	logger      *slog.Logger
	queue       chan models.TraceRecord
	significant map[models.EventType]struct{}

	persisted atomic.Uint64
	filtered  atomic.Uint64
	failed    atomic.Uint64
}

type Option func(*Writer)

// WithQueueSize sets the capacity of the shared queue.
func WithQueueSize(size int) Option {
	return func(w *Writer) {
		if size > 0 {
			w.queue = make(chan models.TraceRecord, size)
		}
	}
}

// WithSignificantEvents replaces the allow-list of persisted event types.
func WithSignificantEvents(eventTypes ...models.EventType) Option {
	return func(w *Writer) {
		w.significant = make(map[models.EventType]struct{}, len(eventTypes))
		for _, eventType := range eventTypes {
			w.significant[eventType] = struct{}{}
		}
	}
}

func NewWriter(store persistence.TraceRepository, logger *slog.Logger, opts ...Option) *Writer {
	w := &Writer{
		store:  store,
		logger: logger.With("module", "trace_writer"),
		queue:  make(chan models.TraceRecord, DefaultQueueSize),
	}

	WithSignificantEvents(models.SignificantEventTypes()...)(w)

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// NewSink returns a handle that enqueues records for jobID.
func (w *Writer) NewSink(jobID string) *Sink {
	return &Sink{jobID: jobID, queue: w.queue}
}

// IsSignificant reports whether records of eventType are persisted.
func (w *Writer) IsSignificant(eventType models.EventType) bool {
	_, ok := w.significant[eventType]

	return ok
}

// Run consumes the queue until ctx is done, then writes whatever is still
// queued before returning.
func (w *Writer) Run(ctx context.Context) {
	w.logger.InfoContext(ctx, "Trace writer started", "capacity", cap(w.queue))

	saveCtx := context.WithoutCancel(ctx)

	for {
		select {
		case record := <-w.queue:
			w.Process(saveCtx, record)
		case <-ctx.Done():
			drained := w.drain(saveCtx)
			w.logger.InfoContext(saveCtx, "Trace writer stopped", "drained", drained)

			return
		}
	}
}

func (w *Writer) drain(ctx context.Context) int {
	count := 0

	for {
		select {
		case record := <-w.queue:
			w.Process(ctx, record)
			count++
		default:
			return count
		}
	}
}

// Process filters one record and persists it when significant. It returns
// true only when the record was stored. Failures are logged, never returned.
func (w *Writer) Process(ctx context.Context, record models.TraceRecord) bool {
	if !w.IsSignificant(record.EventType) {
		w.filtered.Add(1)
		w.logger.DebugContext(ctx, "Skipping non-significant trace",
			"job_id", record.JobID,
			"event_type", record.EventType,
		)

		return false
	}

	err := w.store.CreateTrace(ctx, toExecutionTrace(record))
	if err != nil {
		w.failed.Add(1)
		w.logger.ErrorContext(ctx, "Failed to persist trace",
			"job_id", record.JobID,
			"event_type", record.EventType,
			"event_source", record.EventSource,
			"error", err,
		)

		return false
	}

	w.persisted.Add(1)

	return true
}

func (w *Writer) Stats() Stats {
	return Stats{
		Persisted: w.persisted.Load(),
		Filtered:  w.filtered.Load(),
		Failed:    w.failed.Load(),
		Pending:   len(w.queue),
	}
}

func toExecutionTrace(record models.TraceRecord) *models.ExecutionTrace {
	createdAt, err := time.Parse(time.RFC3339Nano, record.Timestamp)
	if err != nil {
		createdAt = time.Now().UTC()
	}

	metadata := maps.Clone(record.ExtraData)
	if metadata == nil {
		metadata = make(map[string]any)
	}

	metadata["timestamp"] = record.Timestamp

	return &models.ExecutionTrace{
		JobID:         record.JobID,
		EventSource:   record.EventSource,
		EventContext:  record.EventContext,
		EventType:     record.EventType,
		Output:        record.OutputContent,
		TraceMetadata: metadata,
		GroupID:       record.GroupID,
		GroupEmail:    record.GroupEmail,
		CreatedAt:     createdAt,
	}
}
