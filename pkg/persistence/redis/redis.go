// Package redis provides Redis persistence for execution statuses, traces and logs.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/crewplane/crewplane/pkg/persistence"
	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "crewplane"

func executionKey(jobID string) string { return keyPrefix + ":execution:" + jobID }
func tracesKey(jobID string) string    { return keyPrefix + ":traces:" + jobID }
func logsKey(jobID string) string      { return keyPrefix + ":logs:" + jobID }

// Persistence implements the persistence layer on top of a Redis client.
type Persistence struct {
	client        redis.UniversalClient
	logger        *slog.Logger
	executionRepo *ExecutionRepository
	traceRepo     *TraceRepository
	logRepo       *LogRepository
}

// NewPersistence connects to the Redis server described by a redis:// URL.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (*Persistence, error) {
	options, err := redis.ParseURL(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(options)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(pingCtx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return NewPersistenceWithClient(client, logger), nil
}

// NewPersistenceWithClient wraps an existing client.
func NewPersistenceWithClient(client redis.UniversalClient, logger *slog.Logger) *Persistence {
	return &Persistence{
		client:        client,
		logger:        logger,
		executionRepo: &ExecutionRepository{client: client},
		traceRepo:     &TraceRepository{client: client},
		logRepo:       &LogRepository{client: client},
	}
}

func (p *Persistence) Close(ctx context.Context) error {
	err := p.client.Close()
	if err != nil {
		return fmt.Errorf("failed to close Redis client: %w", err)
	}

	return nil
}

func (p *Persistence) HealthCheck(ctx context.Context) error {
	err := p.client.Ping(ctx).Err()
	if err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}

	return nil
}

func (p *Persistence) ExecutionRepository() persistence.ExecutionRepository {
	return p.executionRepo
}

func (p *Persistence) TraceRepository() persistence.TraceRepository {
	return p.traceRepo
}

func (p *Persistence) LogRepository() persistence.LogRepository {
	return p.logRepo
}
