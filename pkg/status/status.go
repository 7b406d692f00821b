// Package status persists execution status transitions with bounded retries.
package status

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
)

const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = time.Second
	DefaultMultiplier      = 2
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

type Updater struct {
	repo            persistence.ExecutionRepository
	logger          *slog.Logger
	sleep           Sleeper
	maxAttempts     int
	initialInterval time.Duration
}

type Option func(*Updater)

// WithSleeper replaces the wait between attempts.
func WithSleeper(sleep Sleeper) Option {
	return func(u *Updater) {
		u.sleep = sleep
	}
}

func WithMaxAttempts(attempts int) Option {
	return func(u *Updater) {
		if attempts > 0 {
			u.maxAttempts = attempts
		}
	}
}

func WithInitialInterval(interval time.Duration) Option {
	return func(u *Updater) {
		if interval > 0 {
			u.initialInterval = interval
		}
	}
}

func NewUpdater(repo persistence.ExecutionRepository, logger *slog.Logger, opts ...Option) *Updater {
	u := &Updater{
		repo:            repo,
		logger:          logger.With("module", "status_updater"),
		sleep:           sleepContext,
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: DefaultInitialInterval,
	}

	for _, opt := range opts {
		opt(u)
	}

	return u
}

// UpdateWithRetry persists status for jobID. It sleeps 1s then 2s between
// failed attempts and reports whether any attempt succeeded. Errors are
// logged, never returned. A rejected transition is not retried.
func (u *Updater) UpdateWithRetry(ctx context.Context, jobID string, status models.ExecutionStatus, message string, result map[string]any) bool {
	schedule := u.newBackOff()
	attempt := 0

	for {
		attempt++

		err := u.repo.UpdateStatus(ctx, jobID, status, message, result)
		if err == nil {
			if attempt > 1 {
				u.logger.InfoContext(ctx, "Status persisted after retry", "job_id", jobID, "status", status, "attempt", attempt)
			}

			return true
		}

		u.logger.WarnContext(ctx, "Failed to persist status",
			"job_id", jobID,
			"status", status,
			"attempt", attempt,
			"max_attempts", u.maxAttempts,
			"error", err,
		)

		if errors.Is(err, persistence.ErrInvalidStatusTransition) {
			u.logger.ErrorContext(ctx, "Status transition rejected, not retrying", "job_id", jobID, "status", status)

			return false
		}

		wait := schedule.NextBackOff()
		if wait == backoff.Stop {
			u.logger.ErrorContext(ctx, "Giving up persisting status", "job_id", jobID, "status", status, "attempts", attempt)

			return false
		}

		err = u.sleep(ctx, wait)
		if err != nil {
			u.logger.ErrorContext(ctx, "Status retry interrupted", "job_id", jobID, "status", status, "error", err)

			return false
		}
	}
}

func (u *Updater) newBackOff() backoff.BackOff {
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = u.initialInterval
	exponential.Multiplier = DefaultMultiplier
	exponential.RandomizationFactor = 0
	exponential.MaxInterval = u.initialInterval << u.maxAttempts
	exponential.MaxElapsedTime = 0
	exponential.Reset()

	return backoff.WithMaxRetries(exponential, uint64(u.maxAttempts-1))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
