package log

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
)

const DefaultJobBufferLimit = 5000

// JobBuffer is a slog.Handler that forwards every record to the process
// handler and also keeps a copy, so the lines of one execution can be
// stored next to its status once the execution ends.
type JobBuffer struct {
	next  slog.Handler
	attrs []slog.Attr
	group string
	state *jobBufferState
}

type jobBufferState struct {
	mu      sync.Mutex
	jobID   string
	groupID string
	limit   int
	lines   []models.ExecutionLogLine
	dropped int
	closed  bool
}

func NewJobBuffer(jobID, groupID string, next slog.Handler) *JobBuffer {
	return &JobBuffer{
		next: next,
		state: &jobBufferState{
			jobID:   jobID,
			groupID: groupID,
			limit:   DefaultJobBufferLimit,
		},
	}
}

// Logger returns a logger that writes through the buffer.
func (b *JobBuffer) Logger() *slog.Logger {
	return slog.New(b).With("job_id", b.state.jobID)
}

func (b *JobBuffer) Enabled(ctx context.Context, level slog.Level) bool {
	return b.next.Enabled(ctx, level)
}

func (b *JobBuffer) Handle(ctx context.Context, record slog.Record) error {
	b.state.append(models.ExecutionLogLine{
		JobID:     b.state.jobID,
		Level:     record.Level.String(),
		Content:   b.format(record),
		Timestamp: record.Time.UTC(),
		GroupID:   b.state.groupID,
	})

	return b.next.Handle(ctx, record)
}

func (b *JobBuffer) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *b
	clone.next = b.next.WithAttrs(attrs)
	clone.attrs = append(append([]slog.Attr{}, b.attrs...), b.qualify(attrs)...)

	return &clone
}

func (b *JobBuffer) WithGroup(name string) slog.Handler {
	if name == "" {
		return b
	}

	clone := *b
	clone.next = b.next.WithGroup(name)

	if b.group == "" {
		clone.group = name
	} else {
		clone.group = b.group + "." + name
	}

	return &clone
}

// Len returns the number of buffered lines.
func (b *JobBuffer) Len() int {
	b.state.mu.Lock()
	defer b.state.mu.Unlock()

	return len(b.state.lines)
}

// Flush hands the buffered lines to repo and empties the buffer.
func (b *JobBuffer) Flush(ctx context.Context, repo persistence.LogRepository) error {
	b.state.mu.Lock()
	lines := b.state.lines
	dropped := b.state.dropped
	b.state.lines = nil
	b.state.dropped = 0
	b.state.mu.Unlock()

	if dropped > 0 {
		lines = append(lines, models.ExecutionLogLine{
			JobID:     b.state.jobID,
			Level:     slog.LevelWarn.String(),
			Content:   fmt.Sprintf("%d log lines dropped, buffer limit reached", dropped),
			Timestamp: time.Now().UTC(),
			GroupID:   b.state.groupID,
		})
	}

	if len(lines) == 0 {
		return nil
	}

	if err := repo.AppendLogs(ctx, b.state.jobID, lines); err != nil {
		return fmt.Errorf("failed to flush logs for job %s: %w", b.state.jobID, err)
	}

	return nil
}

// Close stops buffering. Records are still forwarded to the process handler.
func (b *JobBuffer) Close() {
	b.state.mu.Lock()
	b.state.closed = true
	b.state.mu.Unlock()
}

func (s *jobBufferState) append(line models.ExecutionLogLine) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	if len(s.lines) >= s.limit {
		s.dropped++

		return
	}

	s.lines = append(s.lines, line)
}

func (b *JobBuffer) qualify(attrs []slog.Attr) []slog.Attr {
	if b.group == "" {
		return attrs
	}

	qualified := make([]slog.Attr, 0, len(attrs))
	for _, attr := range attrs {
		qualified = append(qualified, slog.Attr{Key: b.group + "." + attr.Key, Value: attr.Value})
	}

	return qualified
}

func (b *JobBuffer) format(record slog.Record) string {
	var sb strings.Builder

	sb.WriteString(record.Message)

	write := func(attr slog.Attr) {
		if attr.Key == "job_id" {
			return
		}

		sb.WriteByte(' ')
		sb.WriteString(attr.Key)
		sb.WriteByte('=')
		sb.WriteString(attr.Value.Resolve().String())
	}

	for _, attr := range b.attrs {
		write(attr)
	}

	record.Attrs(func(attr slog.Attr) bool {
		for _, qualified := range b.qualify([]slog.Attr{attr}) {
			write(qualified)
		}

		return true
	})

	return sb.String()
}
