package registry

import (
	"context"
	"errors"

	"github.com/crewplane/crewplane/pkg/framework"
	"github.com/crewplane/crewplane/pkg/models"
	"github.com/crewplane/crewplane/pkg/tracing"
)

// routedEventTypes lists the bus events that carry no job id. Tool usage
// reaches the job through its step callback and is not routed here.
var routedEventTypes = map[framework.BusEventType]models.EventType{
	framework.BusEventLLMCallCompleted: models.EventTypeLLMCall,
	framework.BusEventTaskStarted:      models.EventTypeTaskStarted,
}

// HandleEvent attributes one global bus event to the execution that owns its
// agent identifier. When several executions share the identifier the
// earliest registered one receives the record.
func (r *Registry) HandleEvent(ctx context.Context, event framework.BusEvent) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "Recovered from panic while routing bus event",
				"event_id", event.ID,
				"event_type", event.Type,
				"panic", rec,
			)
		}
	}()

	eventType, ok := routedEventTypes[event.Type]
	if !ok || event.AgentRole == "" {
		return
	}

	matches := r.match(event.AgentRole)
	if len(matches) == 0 {
		r.logger.DebugContext(ctx, "No active execution for agent", "agent", event.AgentRole, "event_type", event.Type)

		return
	}

	owner := matches[0]

	if len(matches) > 1 {
		candidates := make([]string, 0, len(matches))
		for _, match := range matches {
			candidates = append(candidates, match.ExecutionID)
		}

		r.logger.WarnContext(ctx, "Ambiguous agent identifier, routing to earliest registered execution",
			"agent", event.AgentRole,
			"event_type", event.Type,
			"candidates", candidates,
			"selected", owner.ExecutionID,
		)
	}

	if owner.Sink == nil {
		return
	}

	record := models.NewTraceRecord(
		owner.ExecutionID,
		eventType,
		event.AgentRole,
		eventContext(eventType, event),
		event.Output,
		owner.Group,
		extraData(event),
	)

	err := owner.Sink.Enqueue(record)
	if err != nil {
		level := r.logger.WarnContext
		if errors.Is(err, tracing.ErrSinkClosed) {
			level = r.logger.DebugContext
		}

		level(ctx, "Dropped bus trace",
			"execution_id", owner.ExecutionID,
			"event_type", eventType,
			"error", err,
		)
	}
}

func eventContext(eventType models.EventType, event framework.BusEvent) string {
	if eventType == models.EventTypeTaskStarted {
		if event.TaskName != "" {
			return "task:" + event.TaskName
		}

		return "task"
	}

	return string(eventType)
}

func extraData(event framework.BusEvent) map[string]any {
	extra := map[string]any{
		"agent_role":     event.AgentRole,
		"bus_event_id":   event.ID,
		"bus_event_type": string(event.Type),
	}

	if event.Model != "" {
		extra["model"] = event.Model
	}

	if event.TaskName != "" {
		extra["task_name"] = event.TaskName
	}

	if event.ToolName != "" {
		extra["tool_name"] = event.ToolName
	}

	for key, value := range event.Metadata {
		if _, taken := extra[key]; !taken {
			extra[key] = value
		}
	}

	return extra
}
