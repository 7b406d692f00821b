// Package adapters owns the tool connections a job opens while it runs.
package adapters

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/crewplane/crewplane/pkg/framework"
)

// Pool collects the adapters of one job and stops them together.
type Pool struct {
	logger *slog.Logger

	mu       sync.Mutex
	adapters []framework.ToolAdapter
	stopped  bool
}

func NewPool(logger *slog.Logger) *Pool {
	return &Pool{logger: logger.With("module", "tool_adapters")}
}

// Track adds adapter to the pool. Adapters tracked after StopAll are
// stopped right away.
func (p *Pool) Track(adapter framework.ToolAdapter) {
	p.mu.Lock()

	if p.stopped {
		p.mu.Unlock()

		err := adapter.Stop(context.Background())
		if err != nil {
			p.logger.Warn("Failed to stop late adapter", "adapter", adapter.Name(), "error", err)
		}

		return
	}

	p.adapters = append(p.adapters, adapter)
	p.mu.Unlock()
}

// StopAll stops every tracked adapter in reverse order. Each adapter is
// stopped at most once; the errors of all failures are joined.
func (p *Pool) StopAll(ctx context.Context) error {
	p.mu.Lock()
	adapters := p.adapters
	p.adapters = nil
	p.stopped = true
	p.mu.Unlock()

	var errs []error

	for i := len(adapters) - 1; i >= 0; i-- {
		adapter := adapters[i]

		err := stopSafely(ctx, adapter)
		if err != nil {
			p.logger.WarnContext(ctx, "Failed to stop adapter", "adapter", adapter.Name(), "error", err)
			errs = append(errs, fmt.Errorf("failed to stop adapter %s: %w", adapter.Name(), err))
		}
	}

	return errors.Join(errs...)
}

func stopSafely(ctx context.Context, adapter framework.ToolAdapter) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while stopping: %v", rec)
		}
	}()

	return adapter.Stop(ctx)
}
