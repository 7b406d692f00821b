package events

import (
	"encoding/json"
	"testing"

	"github.com/crewplane/crewplane/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() models.JobConfig {
	return models.JobConfig{
		Agents: []models.AgentConfig{{ID: "a1", Role: "Researcher"}},
		Tasks:  []models.TaskConfig{{ID: "t1", Description: "Research", AgentID: "a1"}},
	}
}

func TestNewExecutionSubmitted(t *testing.T) {
	event := NewExecutionSubmitted("exec-1", validConfig(), &models.GroupContext{GroupID: "g-1"}, "tok")

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, ExecutionSubmittedEvent, event.Type)
	assert.Equal(t, ExecutionSubmittedEvent, event.GetType())
	assert.Equal(t, "exec-1", event.ExecutionID)
	assert.False(t, event.Timestamp.IsZero())
	require.NoError(t, event.Validate())

	payload, err := json.Marshal(event)
	require.NoError(t, err)
	assert.Contains(t, string(payload), `"execution_id":"exec-1"`)
	assert.Contains(t, string(payload), `"group_id":"g-1"`)
}

func TestExecutionSubmitted_Validate(t *testing.T) {
	tests := []struct {
		name  string
		event ExecutionSubmitted
	}{
		{"missing execution id", NewExecutionSubmitted("", validConfig(), nil, "")},
		{"missing agents", NewExecutionSubmitted("exec-1", models.JobConfig{Tasks: validConfig().Tasks}, nil, "")},
		{"missing tasks", NewExecutionSubmitted("exec-1", models.JobConfig{Agents: validConfig().Agents}, nil, "")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.event.Validate(), ErrInvalidEventData)
		})
	}
}

func TestTerminalEventTypes(t *testing.T) {
	assert.Equal(t, ExecutionCompletedEvent, ExecutionCompleted{}.GetType())
	assert.Equal(t, ExecutionFailedEvent, ExecutionFailed{}.GetType())
}
