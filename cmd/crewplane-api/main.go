package main

import (
	"context"
	"os"

	"github.com/crewplane/crewplane/pkg/diagnostics"
	"github.com/crewplane/crewplane/pkg/worker"
	cli "github.com/urfave/cli/v3"
)

const defaultPort = 9091

func main() {
	cmd := &cli.Command{
		Name:                  "crewplane-api",
		Usage:                 "Submit crew jobs and inspect their status, traces and logs",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus type (kafka, gochannel); gochannel runs an embedded worker",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringSliceFlag{
				Name:    "kafka-brokers",
				Usage:   "Kafka broker addresses",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "max-concurrent-jobs",
				Usage:   "Maximum number of jobs the embedded worker runs at the same time",
				Value:   worker.DefaultMaxConcurrentJobs,
				Sources: cli.EnvVars("MAX_CONCURRENT_JOBS"),
			},
			&cli.IntFlag{
				Name:    "trace-queue-size",
				Usage:   "Capacity of the embedded worker's trace queue",
				Sources: cli.EnvVars("TRACE_QUEUE_SIZE"),
			},
			&cli.BoolFlag{
				Name:    "strict-agent-roles",
				Usage:   "Fail jobs whose agent roles collide with a running job",
				Sources: cli.EnvVars("STRICT_AGENT_ROLES"),
			},
			&cli.StringFlag{
				Name:    "diagnostics-schedule",
				Usage:   "Cron schedule of the embedded worker's diagnostics report",
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
		},
		Action: runAPI,
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
