package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/google/uuid"
)

// TraceRepository appends execution traces to one JSON-lines file per job.
type TraceRepository struct {
	root string
	mu   sync.Mutex
}

// NewTraceRepository creates a new trace repository.
func NewTraceRepository(root string) *TraceRepository {
	return &TraceRepository{root: root}
}

func (tr *TraceRepository) CreateTrace(ctx context.Context, trace *models.ExecutionTrace) error {
	err := validateJobID(trace.JobID)
	if err != nil {
		return fmt.Errorf("invalid job ID: %w", err)
	}

	toSave := *trace
	if toSave.ID == "" {
		toSave.ID = uuid.New().String()
	}

	if toSave.CreatedAt.IsZero() {
		toSave.CreatedAt = time.Now().UTC()
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	return appendLines(filepath.Join(tr.root, "traces"), toSave.JobID, []models.ExecutionTrace{toSave})
}

func (tr *TraceRepository) TracesByJob(ctx context.Context, jobID string) ([]*models.ExecutionTrace, error) {
	err := validateJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("invalid job ID: %w", err)
	}

	tr.mu.Lock()
	defer tr.mu.Unlock()

	return readLines[*models.ExecutionTrace](filepath.Join(tr.root, "traces"), jobID)
}
