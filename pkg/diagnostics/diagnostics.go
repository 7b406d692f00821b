// Package diagnostics collects and periodically logs the state of the
// in-process execution pipeline.
package diagnostics

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/crewplane/crewplane/pkg/registry"
	"github.com/crewplane/crewplane/pkg/tracing"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs the reporter once a minute.
const DefaultSchedule = "@every 1m"

type RegistrySource interface {
	Snapshot() []registry.Info
	ActiveAgentIdentifiers() []string
}

type RunnerSource interface {
	Running() []string
}

type TraceSource interface {
	Stats() tracing.Stats
}

// Report is a point-in-time view of the pipeline.
type Report struct {
	Registrations    []registry.Info `json:"registrations"`
	AgentIdentifiers []string        `json:"agent_identifiers"`
	Running          []string        `json:"running"`
	Traces           *tracing.Stats  `json:"traces,omitempty"`
	GeneratedAt      time.Time       `json:"generated_at"`
}

// Collector builds reports from whichever sources are wired. Any source may
// be nil, e.g. in an API process without an embedded worker.
type Collector struct {
	registry RegistrySource
	runner   RunnerSource
	traces   TraceSource
}

func NewCollector(registry RegistrySource, runner RunnerSource, traces TraceSource) *Collector {
	return &Collector{
		registry: registry,
		runner:   runner,
		traces:   traces,
	}
}

func (c *Collector) Collect() Report {
	report := Report{
		Registrations:    []registry.Info{},
		AgentIdentifiers: []string{},
		Running:          []string{},
		GeneratedAt:      time.Now().UTC(),
	}

	if c == nil {
		return report
	}

	if c.registry != nil {
		report.Registrations = c.registry.Snapshot()
		report.AgentIdentifiers = c.registry.ActiveAgentIdentifiers()
	}

	if c.runner != nil {
		report.Running = c.runner.Running()
	}

	if c.traces != nil {
		stats := c.traces.Stats()
		report.Traces = &stats
	}

	return report
}

// Reporter logs a Report on a cron schedule.
type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	schedule  string

	mu   sync.Mutex
	cron *cron.Cron
}

func NewReporter(collector *Collector, schedule string, logger *slog.Logger) *Reporter {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	return &Reporter{
		collector: collector,
		logger:    logger.With("module", "diagnostics"),
		schedule:  schedule,
	}
}

// Validate checks the schedule expression without starting anything.
func (r *Reporter) Validate() error {
	_, err := cron.ParseStandard(r.schedule)
	if err != nil {
		return fmt.Errorf("invalid diagnostics schedule '%s': %w", r.schedule, err)
	}

	return nil
}

func (r *Reporter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cron != nil {
		return nil
	}

	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	entryID, err := c.AddFunc(r.schedule, func() {
		r.Report(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule diagnostics report: %w", err)
	}

	c.Start()
	r.cron = c

	r.logger.InfoContext(ctx, "Diagnostics reporter started", "schedule", r.schedule, "entry_id", entryID)

	return nil
}

// Report logs one report immediately.
func (r *Reporter) Report(ctx context.Context) {
	report := r.collector.Collect()

	attrs := []any{
		"registrations", len(report.Registrations),
		"agent_identifiers", report.AgentIdentifiers,
		"running", len(report.Running),
	}

	if report.Traces != nil {
		attrs = append(attrs,
			"traces_persisted", report.Traces.Persisted,
			"traces_filtered", report.Traces.Filtered,
			"traces_failed", report.Traces.Failed,
			"traces_pending", report.Traces.Pending,
		)
	}

	r.logger.InfoContext(ctx, "Pipeline diagnostics", attrs...)
}

// Stop halts the scheduler and waits for a running report to finish.
func (r *Reporter) Stop() {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()

	if c == nil {
		return
	}

	<-c.Stop().Done()

	r.logger.Info("Diagnostics reporter stopped")
}
