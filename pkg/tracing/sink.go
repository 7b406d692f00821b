// Package tracing carries trace records from execution callbacks to durable storage.
package tracing

import (
	"errors"
	"sync/atomic"

	"github.com/crewplane/crewplane/pkg/models"
)

var (
	// ErrSinkFull is returned when the shared queue has no free slot.
	ErrSinkFull = errors.New("trace sink full")

	// ErrSinkClosed is returned after the owning job has been cleaned up.
	ErrSinkClosed = errors.New("trace sink closed")

	// ErrJobMismatch is returned when a record names a different job than its sink.
	ErrJobMismatch = errors.New("trace record belongs to another job")
)

// Sink is one job's handle onto the writer's queue. Enqueue never blocks.
type Sink struct {
	jobID  string
	queue  chan<- models.TraceRecord
	closed atomic.Bool
}

func (s *Sink) JobID() string {
	return s.jobID
}

// Enqueue offers record to the queue without blocking.
func (s *Sink) Enqueue(record models.TraceRecord) error {
	if s == nil || s.closed.Load() {
		return ErrSinkClosed
	}

	if record.JobID != s.jobID {
		return ErrJobMismatch
	}

	select {
	case s.queue <- record:
		return nil
	default:
		return ErrSinkFull
	}
}

// Close stops accepting records. Records already queued are still written.
func (s *Sink) Close() {
	s.closed.Store(true)
}

// Closed reports whether Close has been called.
func (s *Sink) Closed() bool {
	return s.closed.Load()
}
