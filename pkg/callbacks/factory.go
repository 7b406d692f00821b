// Package callbacks builds the per-execution hooks handed to the engine.
package callbacks

import (
	"log/slog"

	"github.com/crewplane/crewplane/pkg/framework"
	"github.com/crewplane/crewplane/pkg/models"
)

// TraceSink accepts records for one execution without blocking.
type TraceSink interface {
	Enqueue(record models.TraceRecord) error
}

// Factory creates closures bound to a single job id. The closures never
// consult the registry and never panic into the engine.
type Factory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{logger: logger.With("module", "callbacks")}
}

// CreateExecutionCallbacks returns the step and task callbacks of jobID.
func (f *Factory) CreateExecutionCallbacks(
	jobID string,
	config *models.JobConfig,
	group *models.GroupContext,
	sink TraceSink,
) (framework.StepCallback, framework.TaskCallback) {
	group = cloneGroup(group)

	step := func(step framework.StepOutput) {
		defer f.recoverCallback(jobID, "step")

		source := ResolveAgentSource(step.Agent, config, stepEventTypeName)
		extra := map[string]any{
			"agent_role":      source.Value,
			"source_kind":     source.Kind.String(),
			"event_type_name": stepEventTypeName,
		}

		if step.Thought != "" {
			extra["thought"] = models.TruncateOutput(step.Thought)
		}

		eventType := models.EventTypeAgentExecution
		eventContext := "step"

		switch {
		case step.Tool != "":
			eventType = models.EventTypeToolUsage
			eventContext = "tool:" + step.Tool
			extra["tool"] = step.Tool
			extra["tool_input"] = models.TruncateOutput(step.ToolInput)
		case step.Final:
			eventContext = "completion"
		}

		f.emit(sink, models.NewTraceRecord(jobID, eventType, source.Value, eventContext, step.Output, group, extra))
	}

	task := func(task framework.TaskOutput) {
		defer f.recoverCallback(jobID, "task")

		source := ResolveTaskSource(task, config, taskEventTypeName)
		extra := map[string]any{
			"source_kind":     source.Kind.String(),
			"event_type_name": taskEventTypeName,
		}

		if task.Name != "" {
			extra["task_name"] = task.Name
		}

		if task.Description != "" {
			extra["task_description"] = models.TruncateOutput(task.Description)
		}

		f.emit(sink, models.NewTraceRecord(jobID, models.EventTypeTaskCompleted, source.Value, "completion", task.Output, group, extra))
	}

	return step, task
}

// CreateCrewCallbacks returns the crew-level callbacks of jobID.
func (f *Factory) CreateCrewCallbacks(
	jobID string,
	config *models.JobConfig,
	group *models.GroupContext,
	sink TraceSink,
) framework.CrewCallbacks {
	group = cloneGroup(group)

	agents := 0
	if config != nil {
		agents = len(config.Agents)
	}

	return framework.CrewCallbacks{
		OnStart: func(runName string) {
			defer f.recoverCallback(jobID, "crew_start")

			extra := map[string]any{"agents": agents}
			if runName != "" {
				extra["run_name"] = runName
			}

			f.emit(sink, models.NewTraceRecord(jobID, models.EventTypeCrewStarted, "Crew", "start", runName, group, extra))
		},
		OnComplete: func(result *framework.Result) {
			defer f.recoverCallback(jobID, "crew_complete")

			output := ""
			tasks := 0

			if result != nil {
				output = result.Output
				tasks = len(result.Tasks)
			}

			f.emit(sink, models.NewTraceRecord(jobID, models.EventTypeCrewCompleted, "Crew", "completion", output, group, map[string]any{"tasks": tasks}))
		},
		OnError: func(err error) {
			defer f.recoverCallback(jobID, "crew_error")

			message := "unknown error"
			if err != nil {
				message = err.Error()
			}

			f.emit(sink, models.NewTraceRecord(jobID, models.EventTypeCrewFailed, "Crew", "error", message, group, nil))
		},
	}
}

func (f *Factory) emit(sink TraceSink, record models.TraceRecord) {
	if sink == nil {
		return
	}

	err := sink.Enqueue(record)
	if err != nil {
		f.logger.Warn("Dropped trace",
			"job_id", record.JobID,
			"event_type", record.EventType,
			"event_source", record.EventSource,
			"error", err,
		)
	}
}

func (f *Factory) recoverCallback(jobID, callback string) {
	if rec := recover(); rec != nil {
		f.logger.Error("Recovered from panic in callback", "job_id", jobID, "callback", callback, "panic", rec)
	}
}

func cloneGroup(group *models.GroupContext) *models.GroupContext {
	if group == nil {
		return nil
	}

	clone := *group

	return &clone
}
