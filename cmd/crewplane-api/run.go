package main

import (
	"context"
	"log/slog"

	"github.com/crewplane/crewplane/pkg/cmd"
	"github.com/crewplane/crewplane/pkg/diagnostics"
	"github.com/crewplane/crewplane/pkg/eventbus"
	"github.com/crewplane/crewplane/pkg/log"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/crewplane/crewplane/pkg/worker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "crewplane-api"

func runAPI(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	logger := log.WithModule("api")

	logger.InfoContext(ctx, "Initializing crewplane API")

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		err := persistence.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	provider := command.String("event-bus")

	eventBus := cmd.NewEventBus(provider, command.StringSlice("kafka-brokers"), serviceName, logger)
	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	var collector *diagnostics.Collector

	if provider == "gochannel" {
		embedded, err := startEmbeddedWorker(ctx, command, logger, persistence, eventBus)
		if err != nil {
			return err
		}
		defer embedded.stop()

		collector = embedded.pipeline.Collector
	}

	api := NewAPI(logger, persistence, eventBus, collector)

	err := api.Start(command.Int("port"))
	if err != nil {
		logger.ErrorContext(ctx, "Failed to start API server", "error", err)
	}

	return nil
}

type embeddedWorker struct {
	pipeline *worker.Pipeline
	manager  *worker.Manager
	reporter *diagnostics.Reporter
	cancel   context.CancelFunc
	logger   *slog.Logger
	shutdown func(context.Context) error
}

// startEmbeddedWorker runs jobs inside the API process. The in-memory bus
// only reaches subscribers of the same process.
func startEmbeddedWorker(
	ctx context.Context,
	command *cli.Command,
	logger *slog.Logger,
	persistence persistence.Persistence,
	eventBus eventbus.EventBus,
) (*embeddedWorker, error) {
	workerID := "api-worker-" + uuid.New().String()[:8]
	logger = logger.With("worker_id", workerID)

	tracer, shutdown := cmd.NewTracer(ctx, logger, command.Bool("otel-enabled"), serviceName)

	pipeline := worker.NewPipeline(persistence, logger, worker.PipelineConfig{
		TraceQueueSize:   command.Int("trace-queue-size"),
		StrictAgentRoles: command.Bool("strict-agent-roles"),
		Tracer:           tracer,
	})
	pipeline.Start(ctx)

	reporter := diagnostics.NewReporter(pipeline.Collector, command.String("diagnostics-schedule"), logger)

	err := reporter.Start(ctx)
	if err != nil {
		_ = pipeline.Close()

		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)

	manager := worker.NewManager(workerID, pipeline.Runner, eventBus, logger, int64(command.Int("max-concurrent-jobs")))

	err = manager.Start(ctx)
	if err != nil {
		cancel()
		reporter.Stop()
		_ = pipeline.Close()

		return nil, err
	}

	return &embeddedWorker{
		pipeline: pipeline,
		manager:  manager,
		reporter: reporter,
		cancel:   cancel,
		logger:   logger,
		shutdown: shutdown,
	}, nil
}

func (w *embeddedWorker) stop() {
	w.cancel()
	w.manager.Wait()
	w.reporter.Stop()

	err := w.pipeline.Close()
	if err != nil {
		w.logger.Error("Failed to close execution pipeline", "error", err)
	}

	err = w.shutdown(context.Background())
	if err != nil {
		w.logger.Error("Failed to shutdown tracer", "error", err)
	}
}
