// Package events defines event types and structures for execution lifecycle notifications.
package events

import (
	"errors"
	"time"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/google/uuid"
)

type EventType string

const Topic = "crewplane.executions"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionSubmittedEvent EventType = "execution.submitted"
	ExecutionCompletedEvent EventType = "execution.completed"
	ExecutionFailedEvent    EventType = "execution.failed"
)

// ErrInvalidEventData is returned when an event is missing required fields.
var ErrInvalidEventData = errors.New("invalid event data")

type BaseEvent struct {
	ID          string         `json:"id"`
	Type        EventType      `json:"type"`
	Timestamp   time.Time      `json:"timestamp"`
	ExecutionID string         `json:"execution_id"`
	WorkerID    string         `json:"worker_id,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

func NewBaseEvent(eventType EventType, executionID string) BaseEvent {
	return BaseEvent{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: executionID,
		Metadata:    make(map[string]any),
	}
}

// ExecutionSubmitted asks a worker to run a job that was stored as PENDING.
type ExecutionSubmitted struct {
	BaseEvent

	Config    models.JobConfig     `json:"config"`
	Group     *models.GroupContext `json:"group,omitempty"`
	UserToken string               `json:"user_token,omitempty"`
}

func (e ExecutionSubmitted) GetType() EventType {
	return ExecutionSubmittedEvent
}

func (e ExecutionSubmitted) Validate() error {
	if e.ExecutionID == "" {
		return errors.Join(ErrInvalidEventData, errors.New("execution_id is required"))
	}

	if len(e.Config.Agents) == 0 || len(e.Config.Tasks) == 0 {
		return errors.Join(ErrInvalidEventData, errors.New("config needs agents and tasks"))
	}

	return nil
}

func NewExecutionSubmitted(executionID string, config models.JobConfig, group *models.GroupContext, userToken string) ExecutionSubmitted {
	return ExecutionSubmitted{
		BaseEvent: NewBaseEvent(ExecutionSubmittedEvent, executionID),
		Config:    config,
		Group:     group,
		UserToken: userToken,
	}
}

type ExecutionCompleted struct {
	BaseEvent

	Result          map[string]any `json:"result,omitempty"`
	Duration        time.Duration  `json:"duration"`
	StatusPersisted bool           `json:"status_persisted"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	Error           string        `json:"error"`
	Duration        time.Duration `json:"duration"`
	StatusPersisted bool          `json:"status_persisted"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}
