// Package framework defines the contract between crewplane and the multi-agent execution engine.
package framework

import (
	"context"
	"log/slog"

	"github.com/crewplane/crewplane/pkg/models"
)

// Agent identifies the agent behind a step or task payload. Any field may be empty.
type Agent struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
}

// StepOutput is handed to the step callback after each agent step.
type StepOutput struct {
	Agent     *Agent `json:"agent,omitempty"`
	Thought   string `json:"thought,omitempty"`
	Tool      string `json:"tool,omitempty"`
	ToolInput string `json:"tool_input,omitempty"`
	Output    string `json:"output"`
	Final     bool   `json:"final"`
}

// TaskOutput is handed to the task callback when a task completes.
type TaskOutput struct {
	Name        string `json:"name,omitempty"`
	Description string `json:"description,omitempty"`
	Agent       *Agent `json:"agent,omitempty"`
	Output      string `json:"output"`
}

type (
	StepCallback func(step StepOutput)
	TaskCallback func(task TaskOutput)
)

// CrewCallbacks are invoked around a whole kickoff.
type CrewCallbacks struct {
	OnStart    func(runName string)
	OnComplete func(result *Result)
	OnError    func(err error)
}

// ToolAdapter is an external tool connection opened for one job.
type ToolAdapter interface {
	Name() string
	Stop(ctx context.Context) error
}

// ToolTracker takes ownership of adapters so they are stopped with the job.
type ToolTracker interface {
	Track(adapter ToolAdapter)
}

// Hooks are the per-job injection points passed to a Builder.
type Hooks struct {
	Step   StepCallback
	Task   TaskCallback
	Crew   CrewCallbacks
	Tools  ToolTracker
	Logger *slog.Logger
}

// Result is what a successful kickoff returns.
type Result struct {
	Output string       `json:"output"`
	Tasks  []TaskOutput `json:"tasks,omitempty"`
}

// AsMap returns the result in the shape stored on the status record.
func (r *Result) AsMap() map[string]any {
	if r == nil {
		return nil
	}

	tasks := make([]map[string]any, 0, len(r.Tasks))
	for _, task := range r.Tasks {
		entry := map[string]any{
			"name":   task.Name,
			"output": task.Output,
		}
		if task.Agent != nil {
			entry["agent"] = task.Agent.Role
		}

		tasks = append(tasks, entry)
	}

	return map[string]any{
		"output": r.Output,
		"tasks":  tasks,
	}
}

// Crew is one built job. Kickoff blocks until the job finishes.
// Implementations that hold an event stream also implement io.Closer.
type Crew interface {
	Kickoff(ctx context.Context) (*Result, error)
}

type Builder interface {
	Build(config *models.JobConfig, hooks Hooks) (Crew, error)
}
