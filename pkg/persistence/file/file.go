// Package file provides file-based persistence for execution statuses, traces and logs.
package file

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/crewplane/crewplane/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root          string
	executionRepo *ExecutionRepository
	traceRepo     *TraceRepository
	logRepo       *LogRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:          cleanRoot,
		executionRepo: NewExecutionRepository(cleanRoot),
		traceRepo:     NewTraceRepository(cleanRoot),
		logRepo:       NewLogRepository(cleanRoot),
	}
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); errors.Is(err, os.ErrNotExist) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) TraceRepository() persistence.TraceRepository {
	return fp.traceRepo
}

func (fp *Persistence) LogRepository() persistence.LogRepository {
	return fp.logRepo
}

// validateJobID validates that the job ID is safe for file operations.
func validateJobID(jobID string) error {
	if jobID == "" {
		return errors.New("job ID cannot be empty")
	}

	// Check for path traversal attempts
	if strings.Contains(jobID, "..") || strings.Contains(jobID, "/") || strings.Contains(jobID, "\\") {
		return errors.New("job ID contains invalid characters")
	}

	return nil
}
