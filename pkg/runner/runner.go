// Package runner drives one execution from RUNNING to a terminal status.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crewplane/crewplane/pkg/adapters"
	"github.com/crewplane/crewplane/pkg/ambient"
	"github.com/crewplane/crewplane/pkg/callbacks"
	"github.com/crewplane/crewplane/pkg/framework"
	"github.com/crewplane/crewplane/pkg/log"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/otelhelper"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/crewplane/crewplane/pkg/registry"
	"github.com/crewplane/crewplane/pkg/tracing"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrAlreadyRunning = errors.New("execution is already running")
	ErrAgentConflict  = errors.New("agent roles collide with a running execution")
	ErrKickoffPanic   = errors.New("kickoff panicked")
	ErrInvalidJob     = errors.New("invalid job")
)

// ExecutionRegistry is the part of the registry the runner depends on.
type ExecutionRegistry interface {
	Register(executionID string, agentIdentifiers []string, group *models.GroupContext, sink registry.TraceSink)
	RegisterExclusive(executionID string, agentIdentifiers []string, group *models.GroupContext, sink registry.TraceSink) []string
	Unregister(executionID string)
}

// ToolAdapters owns the tool connections of one job.
type ToolAdapters interface {
	framework.ToolTracker
	StopAll(ctx context.Context) error
}

type StatusUpdater interface {
	UpdateWithRetry(ctx context.Context, jobID string, status models.ExecutionStatus, message string, result map[string]any) bool
}

type SinkProvider interface {
	NewSink(jobID string) *tracing.Sink
}

// Job is one accepted execution request.
type Job struct {
	ID        string
	Config    *models.JobConfig
	Group     *models.GroupContext
	UserToken string
}

// Outcome is the authoritative result of a run, whether or not the
// terminal status reached storage.
type Outcome struct {
	JobID           string
	Status          models.ExecutionStatus
	Result          *framework.Result
	Err             error
	StatusPersisted bool
	Duration        time.Duration
}

type Runner struct {
	builder   framework.Builder
	registry  ExecutionRegistry
	status    StatusUpdater
	sinks     SinkProvider
	callbacks *callbacks.Factory
	logs      persistence.LogRepository
	logger    *slog.Logger
	tracer    trace.Tracer

	newAdapters      func(logger *slog.Logger) ToolAdapters
	strictAgentRoles bool

	mu      sync.Mutex
	running map[string]time.Time
}

type Option func(*Runner)

func WithTracer(tracer trace.Tracer) Option {
	return func(r *Runner) {
		r.tracer = tracer
	}
}

// WithLogRepository stores each job's log lines when the job ends.
func WithLogRepository(logs persistence.LogRepository) Option {
	return func(r *Runner) {
		r.logs = logs
	}
}

// WithStrictAgentRoles fails jobs whose agent roles are already used by a
// running job instead of sharing bus attribution with it.
func WithStrictAgentRoles(strict bool) Option {
	return func(r *Runner) {
		r.strictAgentRoles = strict
	}
}

func WithAdapterFactory(factory func(logger *slog.Logger) ToolAdapters) Option {
	return func(r *Runner) {
		r.newAdapters = factory
	}
}

func New(
	builder framework.Builder,
	executionRegistry ExecutionRegistry,
	status StatusUpdater,
	sinks SinkProvider,
	logger *slog.Logger,
	opts ...Option,
) *Runner {
	logger = logger.With("module", "runner")

	r := &Runner{
		builder:   builder,
		registry:  executionRegistry,
		status:    status,
		sinks:     sinks,
		callbacks: callbacks.NewFactory(logger),
		logger:    logger,
		tracer:    otel.Tracer("github.com/crewplane/crewplane/pkg/runner"),
		newAdapters: func(logger *slog.Logger) ToolAdapters {
			return adapters.NewPool(logger)
		},
		running: make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Running returns the ids of jobs currently inside Run, sorted.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.running))
	for id := range r.running {
		ids = append(ids, id)
	}

	sort.Strings(ids)

	return ids
}

// Run executes job to completion. It blocks until the engine returns and
// cleanup has finished.
func (r *Runner) Run(ctx context.Context, job Job) Outcome {
	started := time.Now()

	if job.ID == "" || job.Config == nil {
		return Outcome{JobID: job.ID, Status: models.ExecutionStatusFailed, Err: ErrInvalidJob}
	}

	if !r.markRunning(job.ID, started) {
		r.logger.WarnContext(ctx, "Execution already running, ignoring duplicate", "job_id", job.ID)

		return Outcome{JobID: job.ID, Status: models.ExecutionStatusFailed, Err: ErrAlreadyRunning}
	}

	ctx, span := otelhelper.StartSpan(ctx, r.tracer, "runner.execute",
		attribute.String(otelhelper.ExecutionIDKey, job.ID),
		attribute.String(otelhelper.RunNameKey, job.Config.RunName),
		attribute.String(otelhelper.GroupIDKey, job.Group.ID()),
		attribute.Int(otelhelper.AgentCountKey, len(job.Config.Agents)),
		attribute.Int(otelhelper.TaskCountKey, len(job.Config.Tasks)),
	)
	defer span.End()

	ctx = ambient.WithGroupContext(ctx, job.Group)
	if job.UserToken != "" {
		ctx = ambient.WithUserToken(ctx, job.UserToken)
	}

	buffer := log.NewJobBuffer(job.ID, job.Group.ID(), r.logger.Handler())
	logger := buffer.Logger()
	sink := r.sinks.NewSink(job.ID)
	tools := r.newAdapters(logger)

	var crew framework.Crew

	cleanup := sync.OnceFunc(func() {
		r.cleanup(ctx, job.ID, crew, buffer, logger, tools, sink)
	})
	defer cleanup()

	agents := job.Config.AgentIdentifiers()

	if r.strictAgentRoles {
		if conflicts := r.registry.RegisterExclusive(job.ID, agents, job.Group, sink); len(conflicts) > 0 {
			err := fmt.Errorf("%w: %s", ErrAgentConflict, strings.Join(conflicts, ", "))

			return r.finish(ctx, span, logger, job.ID, nil, err, started)
		}
	} else {
		r.registry.Register(job.ID, agents, job.Group, sink)
	}

	logger.InfoContext(ctx, "Execution started", "agents", agents, "tasks", len(job.Config.Tasks))

	if !r.status.UpdateWithRetry(ctx, job.ID, models.ExecutionStatusRunning, "", nil) {
		logger.WarnContext(ctx, "RUNNING status not persisted, continuing")
	}

	step, task := r.callbacks.CreateExecutionCallbacks(job.ID, job.Config, job.Group, sink)

	built, err := r.builder.Build(job.Config, framework.Hooks{
		Step:   step,
		Task:   task,
		Crew:   r.callbacks.CreateCrewCallbacks(job.ID, job.Config, job.Group, sink),
		Tools:  tools,
		Logger: logger,
	})
	if err != nil {
		r.registry.Unregister(job.ID)

		return r.finish(ctx, span, logger, job.ID, nil, fmt.Errorf("failed to build crew: %w", err), started)
	}

	crew = built

	result, err := kickoff(ctx, crew)

	// the engine is done emitting; stop routing before the terminal write
	r.registry.Unregister(job.ID)

	return r.finish(ctx, span, logger, job.ID, result, err, started)
}

// kickoff runs the engine's blocking entry point on its own goroutine and
// turns a panic into an error.
func kickoff(ctx context.Context, crew framework.Crew) (*framework.Result, error) {
	type kickoffResult struct {
		result *framework.Result
		err    error
	}

	done := make(chan kickoffResult, 1)

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- kickoffResult{err: fmt.Errorf("%w: %v", ErrKickoffPanic, rec)}
			}
		}()

		result, err := crew.Kickoff(ctx)
		done <- kickoffResult{result: result, err: err}
	}()

	out := <-done
	if out.err == nil && out.result == nil {
		out.result = &framework.Result{}
	}

	return out.result, out.err
}

func (r *Runner) finish(
	ctx context.Context,
	span trace.Span,
	logger *slog.Logger,
	jobID string,
	result *framework.Result,
	runErr error,
	started time.Time,
) Outcome {
	outcome := Outcome{
		JobID:  jobID,
		Status: models.ExecutionStatusCompleted,
		Result: result,
		Err:    runErr,
	}

	message := ""

	var payload map[string]any

	if runErr != nil {
		outcome.Status = models.ExecutionStatusFailed
		outcome.Result = nil
		message = runErr.Error()

		otelhelper.SetError(span, runErr, attribute.String(otelhelper.ExecutionIDKey, jobID))
		logger.ErrorContext(ctx, "Execution failed", "error", runErr)
	} else {
		payload = result.AsMap()

		logger.InfoContext(ctx, "Execution completed", "tasks", len(result.Tasks))
	}

	outcome.StatusPersisted = r.status.UpdateWithRetry(context.WithoutCancel(ctx), jobID, outcome.Status, message, payload)
	if !outcome.StatusPersisted {
		logger.ErrorContext(ctx, "Terminal status not persisted", "status", outcome.Status)
	}

	outcome.Duration = time.Since(started)
	span.SetAttributes(attribute.String(otelhelper.ExecutionStatusKey, string(outcome.Status)))

	return outcome
}

func (r *Runner) cleanup(
	ctx context.Context,
	jobID string,
	crew framework.Crew,
	buffer *log.JobBuffer,
	logger *slog.Logger,
	tools ToolAdapters,
	sink *tracing.Sink,
) {
	ctx = context.WithoutCancel(ctx)

	r.safely(ctx, jobID, "close_stream", func() {
		if closer, ok := crew.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				logger.WarnContext(ctx, "Failed to close event stream", "error", err)
			}
		}
	})

	r.safely(ctx, jobID, "flush_logs", func() {
		logger.InfoContext(ctx, "Execution cleaned up")

		if r.logs != nil {
			r.logger.DebugContext(ctx, "Persisting execution logs", "job_id", jobID, "lines", buffer.Len())

			if err := buffer.Flush(ctx, r.logs); err != nil {
				r.logger.WarnContext(ctx, "Failed to persist execution logs", "job_id", jobID, "error", err)
			}
		}

		buffer.Close()
	})

	r.safely(ctx, jobID, "stop_adapters", func() {
		if err := tools.StopAll(ctx); err != nil {
			r.logger.WarnContext(ctx, "Failed to stop tool adapters", "job_id", jobID, "error", err)
		}
	})

	r.safely(ctx, jobID, "unregister", func() {
		r.registry.Unregister(jobID)
	})

	sink.Close()
	r.unmarkRunning(jobID)
}

func (r *Runner) safely(ctx context.Context, jobID, step string, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "Recovered from panic during cleanup", "job_id", jobID, "step", step, "panic", rec)
		}
	}()

	fn()
}

func (r *Runner) markRunning(jobID string, since time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.running[jobID]; ok {
		return false
	}

	r.running[jobID] = since

	return true
}

func (r *Runner) unmarkRunning(jobID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.running, jobID)
}
