// Package worker assembles the in-process execution pipeline and feeds it
// from the job event bus.
package worker

import (
	"context"
	"errors"
	"log/slog"

	"github.com/crewplane/crewplane/pkg/diagnostics"
	"github.com/crewplane/crewplane/pkg/framework"
	"github.com/crewplane/crewplane/pkg/framework/sequential"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/crewplane/crewplane/pkg/registry"
	"github.com/crewplane/crewplane/pkg/runner"
	"github.com/crewplane/crewplane/pkg/status"
	"github.com/crewplane/crewplane/pkg/tracing"
	"go.opentelemetry.io/otel/trace"
)

type PipelineConfig struct {
	TraceQueueSize   int
	StrictAgentRoles bool
	Tracer           trace.Tracer
	Builder          framework.Builder
	StatusOptions    []status.Option
}

// Pipeline holds the process-wide pieces every job shares: the framework
// bus, the execution registry and the trace writer.
type Pipeline struct {
	Bus       framework.Bus
	Registry  *registry.Registry
	Writer    *tracing.Writer
	Status    *status.Updater
	Runner    *runner.Runner
	Collector *diagnostics.Collector

	logger *slog.Logger
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPipeline(p persistence.Persistence, logger *slog.Logger, config PipelineConfig) *Pipeline {
	bus := framework.NewInMemoryBus(logger)

	reg := registry.New(bus, logger)

	writerOpts := []tracing.Option{}
	if config.TraceQueueSize > 0 {
		writerOpts = append(writerOpts, tracing.WithQueueSize(config.TraceQueueSize))
	}

	writer := tracing.NewWriter(p.TraceRepository(), logger, writerOpts...)
	updater := status.NewUpdater(p.ExecutionRepository(), logger, config.StatusOptions...)

	builder := config.Builder
	if builder == nil {
		builder = sequential.NewBuilder(bus)
	}

	runnerOpts := []runner.Option{
		runner.WithLogRepository(p.LogRepository()),
		runner.WithStrictAgentRoles(config.StrictAgentRoles),
	}
	if config.Tracer != nil {
		runnerOpts = append(runnerOpts, runner.WithTracer(config.Tracer))
	}

	r := runner.New(builder, reg, updater, writer, logger, runnerOpts...)

	return &Pipeline{
		Bus:       bus,
		Registry:  reg,
		Writer:    writer,
		Status:    updater,
		Runner:    r,
		Collector: diagnostics.NewCollector(reg, r, writer),
		logger:    logger.With("module", "pipeline"),
	}
}

// Start launches the trace writer. It keeps running until Close.
func (p *Pipeline) Start(ctx context.Context) {
	if p.done != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)

		p.Writer.Run(ctx)
	}()

	p.logger.InfoContext(ctx, "Execution pipeline started")
}

// Close stops the writer after it drained its queue, then tears down the
// registry and the framework bus.
func (p *Pipeline) Close() error {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}

	err := errors.Join(p.Registry.Close(), p.Bus.Close())

	p.logger.Info("Execution pipeline stopped", "traces", p.Writer.Stats())

	return err
}
