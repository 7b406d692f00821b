package callbacks

import (
	"strings"
	"unicode/utf8"

	"github.com/crewplane/crewplane/pkg/framework"
	"github.com/crewplane/crewplane/pkg/models"
)

// Kind tells how a source name was obtained.
type Kind int

const (
	Unknown Kind = iota
	Fallback
	Found
)

func (k Kind) String() string {
	switch k {
	case Found:
		return "found"
	case Fallback:
		return "fallback"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of a source lookup. Value is never empty.
type Resolution struct {
	Kind  Kind
	Value string
}

const (
	stepEventTypeName = "StepOutput"
	taskEventTypeName = "TaskOutput"

	maxDescriptionSource = 60
)

// ResolveAgentSource names the agent behind a payload: its role, the role
// configured for its id, its name, a synthesized Agent-<id>, or
// UnknownAgent-<eventTypeName>, in that order.
func ResolveAgentSource(agent *framework.Agent, config *models.JobConfig, eventTypeName string) Resolution {
	if agent != nil {
		if role := strings.TrimSpace(agent.Role); role != "" {
			return Resolution{Kind: Found, Value: role}
		}

		if config != nil && agent.ID != "" {
			if configured, ok := config.AgentByID(agent.ID); ok && configured.Role != "" {
				return Resolution{Kind: Found, Value: configured.Role}
			}
		}

		if name := strings.TrimSpace(agent.Name); name != "" {
			return Resolution{Kind: Fallback, Value: name}
		}

		if agent.ID != "" {
			return Resolution{Kind: Fallback, Value: "Agent-" + agent.ID}
		}
	}

	return Resolution{Kind: Unknown, Value: "UnknownAgent-" + eventTypeName}
}

// ResolveTaskSource names a completed task: its agent when known, else the
// task name, else a shortened description, else UnknownTask-<eventTypeName>.
func ResolveTaskSource(task framework.TaskOutput, config *models.JobConfig, eventTypeName string) Resolution {
	if agent := ResolveAgentSource(task.Agent, config, eventTypeName); agent.Kind == Found {
		return agent
	}

	if name := strings.TrimSpace(task.Name); name != "" {
		return Resolution{Kind: Fallback, Value: name}
	}

	if description := strings.TrimSpace(task.Description); description != "" {
		return Resolution{Kind: Fallback, Value: shorten(description, maxDescriptionSource)}
	}

	return Resolution{Kind: Unknown, Value: "UnknownTask-" + eventTypeName}
}

func shorten(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}

	runes := []rune(s)

	return string(runes[:limit]) + "..."
}
