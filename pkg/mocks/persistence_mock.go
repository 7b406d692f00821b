package mocks

import (
	"context"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/stretchr/testify/mock"
)

// MockExecutionRepository is a mock implementation of persistence.ExecutionRepository interface.
type MockExecutionRepository struct {
	mock.Mock
}

func (m *MockExecutionRepository) CreateExecution(ctx context.Context, record *models.ExecutionStatusRecord) error {
	args := m.Called(ctx, record)

	return args.Error(0)
}

func (m *MockExecutionRepository) UpdateStatus(
	ctx context.Context,
	jobID string,
	status models.ExecutionStatus,
	message string,
	result map[string]any,
) error {
	args := m.Called(ctx, jobID, status, message, result)

	return args.Error(0)
}

func (m *MockExecutionRepository) GetExecution(ctx context.Context, jobID string) (*models.ExecutionStatusRecord, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*models.ExecutionStatusRecord), args.Error(1)
}

// MockTraceRepository is a mock implementation of persistence.TraceRepository interface.
type MockTraceRepository struct {
	mock.Mock
}

func (m *MockTraceRepository) CreateTrace(ctx context.Context, trace *models.ExecutionTrace) error {
	args := m.Called(ctx, trace)

	return args.Error(0)
}

func (m *MockTraceRepository) TracesByJob(ctx context.Context, jobID string) ([]*models.ExecutionTrace, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]*models.ExecutionTrace), args.Error(1)
}

// MockLogRepository is a mock implementation of persistence.LogRepository interface.
type MockLogRepository struct {
	mock.Mock
}

func (m *MockLogRepository) AppendLogs(ctx context.Context, jobID string, lines []models.ExecutionLogLine) error {
	args := m.Called(ctx, jobID, lines)

	return args.Error(0)
}

func (m *MockLogRepository) LogsByJob(ctx context.Context, jobID string) ([]models.ExecutionLogLine, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]models.ExecutionLogLine), args.Error(1)
}

// MockPersistence is a mock implementation of persistence.Persistence interface.
type MockPersistence struct {
	mock.Mock

	Executions *MockExecutionRepository
	Traces     *MockTraceRepository
	Logs       *MockLogRepository
}

func NewMockPersistence() *MockPersistence {
	return &MockPersistence{
		Executions: &MockExecutionRepository{},
		Traces:     &MockTraceRepository{},
		Logs:       &MockLogRepository{},
	}
}

//nolint:ireturn // mocks return the interface they stand in for
func (m *MockPersistence) ExecutionRepository() persistence.ExecutionRepository {
	return m.Executions
}

//nolint:ireturn // mocks return the interface they stand in for
func (m *MockPersistence) TraceRepository() persistence.TraceRepository {
	return m.Traces
}

//nolint:ireturn // mocks return the interface they stand in for
func (m *MockPersistence) LogRepository() persistence.LogRepository {
	return m.Logs
}

func (m *MockPersistence) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}

func (m *MockPersistence) Close(ctx context.Context) error {
	args := m.Called(ctx)

	return args.Error(0)
}
