package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/crewplane/crewplane/pkg/models"
)

// LogRepository appends flushed job log lines to one JSON-lines file per job.
type LogRepository struct {
	root string
	mu   sync.Mutex
}

// NewLogRepository creates a new log repository.
func NewLogRepository(root string) *LogRepository {
	return &LogRepository{root: root}
}

func (lr *LogRepository) AppendLogs(ctx context.Context, jobID string, lines []models.ExecutionLogLine) error {
	err := validateJobID(jobID)
	if err != nil {
		return fmt.Errorf("invalid job ID: %w", err)
	}

	if len(lines) == 0 {
		return nil
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()

	return appendLines(filepath.Join(lr.root, "logs"), jobID, lines)
}

func (lr *LogRepository) LogsByJob(ctx context.Context, jobID string) ([]models.ExecutionLogLine, error) {
	err := validateJobID(jobID)
	if err != nil {
		return nil, fmt.Errorf("invalid job ID: %w", err)
	}

	lr.mu.Lock()
	defer lr.mu.Unlock()

	return readLines[models.ExecutionLogLine](filepath.Join(lr.root, "logs"), jobID)
}
