package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/crewplane/crewplane/pkg/eventbus"
	"github.com/crewplane/crewplane/pkg/events"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/runner"
	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentJobs bounds the jobs one worker runs at the same time.
const DefaultMaxConcurrentJobs = 4

type JobRunner interface {
	Run(ctx context.Context, job runner.Job) runner.Outcome
}

type Manager struct {
	id       string
	logger   *slog.Logger
	runner   JobRunner
	eventBus eventbus.EventBus
	slots    *semaphore.Weighted

	wg sync.WaitGroup
}

func NewManager(
	id string,
	jobRunner JobRunner,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
	maxConcurrentJobs int64,
) *Manager {
	if maxConcurrentJobs <= 0 {
		maxConcurrentJobs = DefaultMaxConcurrentJobs
	}

	return &Manager{
		id:       id,
		logger:   logger.With("module", "worker_manager", "worker_id", id),
		runner:   jobRunner,
		eventBus: eventBus,
		slots:    semaphore.NewWeighted(maxConcurrentJobs),
	}
}

// Start registers the submission handler and subscribes to the bus. It
// returns once the subscription is in place.
func (m *Manager) Start(ctx context.Context) error {
	m.logger.InfoContext(ctx, "Starting worker manager")

	err := m.eventBus.Handle(events.ExecutionSubmittedEvent, m.handleExecutionSubmitted)
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		m.logger.ErrorContext(ctx, "Failed to subscribe to event bus", "error", err)

		return err
	}

	m.logger.InfoContext(ctx, "Worker started successfully")

	return nil
}

// Wait blocks until every accepted job has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// handleExecutionSubmitted blocks while all slots are busy, then runs the job
// in the background. It never asks for redelivery: a job that was picked up
// reports its own failure through the status row and a failed event.
func (m *Manager) handleExecutionSubmitted(ctx context.Context, event any) error {
	submitted, ok := event.(*events.ExecutionSubmitted)
	if !ok {
		m.logger.ErrorContext(ctx, "Invalid event type for ExecutionSubmitted")

		return nil
	}

	logger := m.logger.With("job_id", submitted.ExecutionID, "event_id", submitted.ID)

	err := submitted.Validate()
	if err != nil {
		logger.ErrorContext(ctx, "Discarding invalid submission", "error", err)

		return nil
	}

	err = m.slots.Acquire(ctx, 1)
	if err != nil {
		logger.WarnContext(ctx, "Worker stopping, submission not started", "error", err)

		return nil
	}

	logger.InfoContext(ctx, "Processing execution submitted event")

	m.wg.Add(1)

	go func() {
		defer m.wg.Done()
		defer m.slots.Release(1)

		m.execute(context.WithoutCancel(ctx), logger, submitted)
	}()

	return nil
}

func (m *Manager) execute(ctx context.Context, logger *slog.Logger, submitted *events.ExecutionSubmitted) {
	config := submitted.Config

	outcome := m.runner.Run(ctx, runner.Job{
		ID:        submitted.ExecutionID,
		Config:    &config,
		Group:     submitted.Group,
		UserToken: submitted.UserToken,
	})

	var result eventbus.Event

	if outcome.Status == models.ExecutionStatusCompleted {
		completed := events.ExecutionCompleted{
			BaseEvent:       events.NewBaseEvent(events.ExecutionCompletedEvent, submitted.ExecutionID),
			Duration:        outcome.Duration,
			StatusPersisted: outcome.StatusPersisted,
		}
		if outcome.Result != nil {
			completed.Result = outcome.Result.AsMap()
		}

		completed.WorkerID = m.id
		result = completed
	} else {
		failed := events.ExecutionFailed{
			BaseEvent:       events.NewBaseEvent(events.ExecutionFailedEvent, submitted.ExecutionID),
			Duration:        outcome.Duration,
			StatusPersisted: outcome.StatusPersisted,
		}
		if outcome.Err != nil {
			failed.Error = outcome.Err.Error()
		}

		failed.WorkerID = m.id
		result = failed
	}

	logger.InfoContext(ctx, "Execution finished", "status", outcome.Status, "duration", outcome.Duration)

	err := m.eventBus.Publish(ctx, submitted.ExecutionID, result)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to publish execution result event", "error", err)
	}
}
