package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/crewplane/crewplane/pkg/cmd"
	"github.com/crewplane/crewplane/pkg/diagnostics"
	"github.com/crewplane/crewplane/pkg/log"
	"github.com/crewplane/crewplane/pkg/worker"
	"github.com/google/uuid"
	cli "github.com/urfave/cli/v3"
)

const serviceName = "crewplane-worker"

func workerFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "worker-id",
			Aliases: []string{"id"},
			Usage:   "Custom worker ID (auto-generated if not provided)",
			Value:   "",
			Sources: cli.EnvVars("WORKER_ID"),
		},
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "Database connection URL for persistence",
			Sources: cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type (kafka, gochannel)",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringSliceFlag{
			Name:    "kafka-brokers",
			Usage:   "Kafka broker addresses",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
		},
		&cli.IntFlag{
			Name:    "max-concurrent-jobs",
			Usage:   "Maximum number of jobs run at the same time",
			Value:   worker.DefaultMaxConcurrentJobs,
			Sources: cli.EnvVars("MAX_CONCURRENT_JOBS"),
		},
		&cli.IntFlag{
			Name:    "trace-queue-size",
			Usage:   "Capacity of the shared trace queue",
			Value:   0,
			Sources: cli.EnvVars("TRACE_QUEUE_SIZE"),
		},
		&cli.BoolFlag{
			Name:    "strict-agent-roles",
			Usage:   "Fail jobs whose agent roles collide with a running job",
			Sources: cli.EnvVars("STRICT_AGENT_ROLES"),
		},
		&cli.StringFlag{
			Name:    "diagnostics-schedule",
			Usage:   "Cron schedule of the diagnostics report",
			Value:   diagnostics.DefaultSchedule,
			Sources: cli.EnvVars("DIAGNOSTICS_SCHEDULE"),
		},
		&cli.BoolFlag{
			Name:    "otel-enabled",
			Usage:   "Export execution spans over OTLP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
	}
}

var ErrMissingFlag = errors.New("required flag not set")

func runWorker(ctx context.Context, command *cli.Command) error {
	log.Setup(command.String("log-level"))

	for _, name := range []string{"database-url", "event-bus"} {
		if command.String(name) == "" {
			return fmt.Errorf("%w: %s", ErrMissingFlag, name)
		}
	}

	workerID := command.String("worker-id")
	if workerID == "" {
		workerID = "worker-" + uuid.New().String()[:8]
	}

	logger := log.WithModule(serviceName).With("worker_id", workerID)

	logger.InfoContext(ctx, "Initializing crewplane worker")

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracer, shutdownTracer := cmd.NewTracer(ctx, logger, command.Bool("otel-enabled"), serviceName)
	defer func() {
		err := shutdownTracer(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to shutdown tracer", "error", err)
		}
	}()

	persistence := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	defer func() {
		err := persistence.Close(context.WithoutCancel(ctx))
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
		}
	}()

	eventBus := cmd.NewEventBus(command.String("event-bus"), command.StringSlice("kafka-brokers"), serviceName, logger)
	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	pipeline := worker.NewPipeline(persistence, logger, worker.PipelineConfig{
		TraceQueueSize:   command.Int("trace-queue-size"),
		StrictAgentRoles: command.Bool("strict-agent-roles"),
		Tracer:           tracer,
	})
	pipeline.Start(ctx)

	defer func() {
		err := pipeline.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close execution pipeline", "error", err)
		}
	}()

	reporter := diagnostics.NewReporter(pipeline.Collector, command.String("diagnostics-schedule"), logger)

	err := reporter.Start(ctx)
	if err != nil {
		return err
	}
	defer reporter.Stop()

	manager := worker.NewManager(workerID, pipeline.Runner, eventBus, logger, int64(command.Int("max-concurrent-jobs")))

	err = manager.Start(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to start worker", "error", err)

		return err
	}

	<-ctx.Done()
	logger.InfoContext(ctx, "Shutting down worker, waiting for running jobs")

	manager.Wait()

	return nil
}
