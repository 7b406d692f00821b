package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/crewplane/crewplane/pkg/eventbus"
	"github.com/crewplane/crewplane/pkg/events"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
)

// SubmitRequest is one job handed in for execution.
type SubmitRequest struct {
	ExecutionID string               `json:"execution_id,omitempty" validate:"omitempty,max=128,excludesall=/?#"`
	Config      models.JobConfig     `json:"config"                 validate:"-"`
	Group       *models.GroupContext `json:"group,omitempty"        validate:"omitempty"`
	UserToken   string               `json:"user_token,omitempty"`
}

// ConfigValidator checks job configurations before they are accepted.
type ConfigValidator struct {
	validate *validator.Validate
	schema   *gojsonschema.Schema
}

func NewConfigValidator() (*ConfigValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(models.JobConfigSchema()))
	if err != nil {
		return nil, fmt.Errorf("failed to compile job config schema: %w", err)
	}

	return &ConfigValidator{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		schema:   schema,
	}, nil
}

type Execution struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	configs     *ConfigValidator
}

// NewExecution creates a new execution service.
func NewExecution(persistence persistence.Persistence, publisher eventbus.EventPublisher) (*Execution, error) {
	configs, err := NewConfigValidator()
	if err != nil {
		return nil, err
	}

	return &Execution{
		persistence: persistence,
		publisher:   publisher,
		configs:     configs,
	}, nil
}

// HealthCheck checks the health of the persistence layer.
func (e *Execution) HealthCheck(ctx context.Context) (string, bool) {
	if e.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := e.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ValidateConfig checks config against the JSON schema and verifies that
// every task names a defined agent.
func (e *Execution) ValidateConfig(config models.JobConfig) error {
	return e.configs.Validate(config)
}

// Validate checks config against the JSON schema, the struct rules and
// the task to agent references.
func (v *ConfigValidator) Validate(config models.JobConfig) error {
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(config))
	if err != nil {
		return NewValidationError("validate_config", "INVALID_JOB_CONFIG", err.Error(), ErrInvalidJobConfig)
	}

	if !result.Valid() {
		messages := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			messages = append(messages, desc.String())
		}

		return NewValidationError("validate_config", "INVALID_JOB_CONFIG", strings.Join(messages, "; "), ErrInvalidJobConfig)
	}

	err = v.validate.Struct(config)
	if err != nil {
		return NewValidationError("validate_config", "INVALID_JOB_CONFIG", err.Error(), ErrInvalidJobConfig)
	}

	for _, task := range config.Tasks {
		if _, ok := config.AgentByID(task.AgentID); !ok {
			message := fmt.Sprintf("task %s references unknown agent %s", task.ID, task.AgentID)

			return NewValidationError("validate_config", "UNKNOWN_AGENT", message, ErrInvalidJobConfig)
		}
	}

	return nil
}

// Submit stores the job as PENDING and dispatches it to the workers.
func (e *Execution) Submit(ctx context.Context, req SubmitRequest) (*models.ExecutionStatusRecord, error) {
	err := e.configs.validate.Struct(req)
	if err != nil {
		return nil, NewValidationError("submit", "INVALID_REQUEST", err.Error(), ErrInvalidRequest)
	}

	err = e.ValidateConfig(req.Config)
	if err != nil {
		return nil, err
	}

	if req.ExecutionID == "" {
		req.ExecutionID = uuid.New().String()
	}

	now := time.Now().UTC()
	record := &models.ExecutionStatusRecord{
		JobID:      req.ExecutionID,
		Status:     models.ExecutionStatusPending,
		RunName:    req.Config.RunName,
		GroupID:    req.Group.ID(),
		GroupEmail: req.Group.Email(),
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = e.persistence.ExecutionRepository().CreateExecution(ctx, record)
	if err != nil {
		if errors.Is(err, persistence.ErrExecutionAlreadyExists) {
			return nil, &ServiceError{Op: "submit", Code: "EXECUTION_EXISTS", Message: "execution " + req.ExecutionID + " already exists", Err: ErrExecutionConflict}
		}

		return nil, fmt.Errorf("failed to create execution: %w", err)
	}

	event := events.NewExecutionSubmitted(req.ExecutionID, req.Config, req.Group, req.UserToken)

	err = e.publisher.Publish(ctx, req.ExecutionID, event)
	if err != nil {
		updateErr := e.persistence.ExecutionRepository().UpdateStatus(
			context.WithoutCancel(ctx), req.ExecutionID, models.ExecutionStatusFailed, "failed to dispatch: "+err.Error(), nil,
		)

		return nil, errors.Join(fmt.Errorf("failed to publish execution: %w", err), updateErr)
	}

	return record, nil
}

func (e *Execution) Get(ctx context.Context, executionID string) (*models.ExecutionStatusRecord, error) {
	record, err := e.persistence.ExecutionRepository().GetExecution(ctx, executionID)
	if err != nil {
		if persistence.IsExecutionNotFound(err) {
			return nil, ErrExecutionNotFound
		}

		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	return record, nil
}

// Traces returns the persisted traces of an existing execution, oldest first.
func (e *Execution) Traces(ctx context.Context, executionID string) ([]*models.ExecutionTrace, error) {
	_, err := e.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	traces, err := e.persistence.TraceRepository().TracesByJob(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list traces: %w", err)
	}

	return traces, nil
}

// Logs returns the stored log lines of an existing execution.
func (e *Execution) Logs(ctx context.Context, executionID string) ([]models.ExecutionLogLine, error) {
	_, err := e.Get(ctx, executionID)
	if err != nil {
		return nil, err
	}

	lines, err := e.persistence.LogRepository().LogsByJob(ctx, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	return lines, nil
}
