// Package sequential is an in-process engine that runs a job's tasks one after another.
package sequential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/crewplane/crewplane/pkg/framework"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/template"
)

var ErrUnknownAgent = errors.New("task references unknown agent")

// Executor produces the answer of one agent for one task.
type Executor func(ctx context.Context, agent models.AgentConfig, task models.TaskConfig, input string) (string, error)

// TemplateExecutor answers with the task description rendered against the
// job inputs and the previous task's output.
func TemplateExecutor(inputs map[string]any) Executor {
	return func(_ context.Context, agent models.AgentConfig, task models.TaskConfig, input string) (string, error) {
		description, err := template.RenderTask(task.Description, template.TaskData{
			Inputs:   inputs,
			Agent:    agent,
			Task:     task,
			Previous: input,
		})
		if err != nil {
			return "", err
		}

		var sb strings.Builder

		fmt.Fprintf(&sb, "%s: %s", agent.Role, description)

		if input != "" {
			fmt.Fprintf(&sb, "\nContext: %s", input)
		}

		return sb.String(), nil
	}
}

type Builder struct {
	bus      framework.Bus
	executor Executor
}

type Option func(*Builder)

func WithExecutor(executor Executor) Option {
	return func(b *Builder) {
		b.executor = executor
	}
}

func NewBuilder(bus framework.Bus, opts ...Option) *Builder {
	b := &Builder{bus: bus}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

func (b *Builder) Build(config *models.JobConfig, hooks framework.Hooks) (framework.Crew, error) {
	if config == nil {
		return nil, errors.New("job config is required")
	}

	for _, task := range config.Tasks {
		if _, ok := config.AgentByID(task.AgentID); !ok {
			return nil, fmt.Errorf("%w: task %q uses %q", ErrUnknownAgent, task.Description, task.AgentID)
		}
	}

	executor := b.executor
	if executor == nil {
		executor = TemplateExecutor(config.Inputs)
	}

	logger := hooks.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &crew{
		config:   config,
		hooks:    hooks,
		bus:      b.bus,
		executor: executor,
		logger:   logger.With("module", "sequential_crew"),
	}, nil
}

type crew struct {
	config   *models.JobConfig
	hooks    framework.Hooks
	bus      framework.Bus
	executor Executor
	logger   *slog.Logger
}

func (c *crew) Kickoff(ctx context.Context) (*framework.Result, error) {
	if c.hooks.Crew.OnStart != nil {
		c.hooks.Crew.OnStart(c.config.RunName)
	}

	c.publish(ctx, framework.BusEvent{Type: framework.BusEventCrewKickoffStarted})

	result, err := c.run(ctx)
	if err != nil {
		if c.hooks.Crew.OnError != nil {
			c.hooks.Crew.OnError(err)
		}

		return nil, err
	}

	if c.hooks.Crew.OnComplete != nil {
		c.hooks.Crew.OnComplete(result)
	}

	return result, nil
}

func (c *crew) run(ctx context.Context) (*framework.Result, error) {
	result := &framework.Result{}
	previous := ""
	opened := make(map[string]struct{})

	for _, task := range c.config.Tasks {
		err := ctx.Err()
		if err != nil {
			return nil, fmt.Errorf("kickoff interrupted: %w", err)
		}

		agentConfig, _ := c.config.AgentByID(task.AgentID)
		agent := &framework.Agent{ID: agentConfig.ID, Role: agentConfig.Role, Name: agentConfig.Name}

		c.publish(ctx, framework.BusEvent{
			Type:      framework.BusEventTaskStarted,
			AgentRole: agent.Role,
			TaskName:  taskName(task),
		})

		for _, tool := range toolsFor(agentConfig, task) {
			if _, ok := opened[tool]; !ok && c.hooks.Tools != nil {
				c.hooks.Tools.Track(&localTool{name: tool})
				opened[tool] = struct{}{}
			}

			observation := fmt.Sprintf("%s invoked for %s", tool, taskName(task))

			c.step(framework.StepOutput{Agent: agent, Tool: tool, ToolInput: task.Description, Output: observation})
			c.publish(ctx, framework.BusEvent{
				Type:      framework.BusEventToolUsageFinished,
				AgentRole: agent.Role,
				ToolName:  tool,
				Output:    observation,
			})
		}

		output, err := c.executor(ctx, agentConfig, task, previous)
		if err != nil {
			return nil, fmt.Errorf("agent %s failed task %s: %w", agent.Role, taskName(task), err)
		}

		c.publish(ctx, framework.BusEvent{
			Type:      framework.BusEventLLMCallCompleted,
			AgentRole: agent.Role,
			Model:     modelFor(c.config, agentConfig),
			Output:    output,
		})

		c.step(framework.StepOutput{Agent: agent, Output: output, Final: true})

		taskOutput := framework.TaskOutput{
			Name:        task.Name,
			Description: task.Description,
			Agent:       agent,
			Output:      output,
		}
		if c.hooks.Task != nil {
			c.hooks.Task(taskOutput)
		}

		result.Tasks = append(result.Tasks, taskOutput)
		previous = output
	}

	result.Output = previous

	return result, nil
}

func (c *crew) step(step framework.StepOutput) {
	if c.hooks.Step != nil {
		c.hooks.Step(step)
	}
}

func (c *crew) publish(ctx context.Context, event framework.BusEvent) {
	if c.bus == nil {
		return
	}

	err := c.bus.Publish(ctx, event)
	if err != nil {
		c.logger.WarnContext(ctx, "Failed to publish engine event", "type", event.Type, "error", err)
	}
}

// localTool stands in for a tool connection; it has nothing to release.
type localTool struct {
	name string
}

func (t *localTool) Name() string {
	return t.name
}

func (t *localTool) Stop(context.Context) error {
	return nil
}

func taskName(task models.TaskConfig) string {
	if task.Name != "" {
		return task.Name
	}

	return task.ID
}

func toolsFor(agent models.AgentConfig, task models.TaskConfig) []string {
	if len(task.Tools) > 0 {
		return task.Tools
	}

	return agent.Tools
}

func modelFor(config *models.JobConfig, agent models.AgentConfig) string {
	if agent.Model != "" {
		return agent.Model
	}

	return config.Model
}
