package models

import (
	"time"
	"unicode/utf8"
)

// EventType classifies a captured trace record.
type EventType string

const (
	EventTypeAgentExecution EventType = "agent_execution"
	EventTypeToolUsage      EventType = "tool_usage"
	EventTypeCrewStarted    EventType = "crew_started"
	EventTypeCrewCompleted  EventType = "crew_completed"
	EventTypeCrewFailed     EventType = "crew_failed"
	EventTypeTaskStarted    EventType = "task_started"
	EventTypeTaskCompleted  EventType = "task_completed"
	EventTypeLLMCall        EventType = "llm_call"
)

// MaxOutputLength bounds the payload carried by a trace record.
const MaxOutputLength = 10000

const truncatedSuffix = "... [truncated]"

// SignificantEventTypes returns the event types that are persisted by default.
func SignificantEventTypes() []EventType {
	return []EventType{
		EventTypeAgentExecution,
		EventTypeToolUsage,
		EventTypeCrewStarted,
		EventTypeCrewCompleted,
		EventTypeTaskStarted,
		EventTypeTaskCompleted,
		EventTypeLLMCall,
	}
}

// TraceRecord is one captured event attributed to a job. Records are never
// mutated after creation: the group fields are copied in at enqueue time so
// a record outlives the registration that produced it.
type TraceRecord struct {
	JobID         string         `json:"job_id"`
	EventType     EventType      `json:"event_type"`
	EventSource   string         `json:"event_source"`
	EventContext  string         `json:"event_context"`
	OutputContent string         `json:"output_content"`
	Timestamp     string         `json:"timestamp"`
	GroupID       string         `json:"group_id,omitempty"`
	GroupEmail    string         `json:"group_email,omitempty"`
	ExtraData     map[string]any `json:"extra_data,omitempty"`
}

// NewTraceRecord builds a record stamped with the current UTC time and the
// group of the owning job.
func NewTraceRecord(jobID string, eventType EventType, source, eventContext, output string, group *GroupContext, extra map[string]any) TraceRecord {
	return TraceRecord{
		JobID:         jobID,
		EventType:     eventType,
		EventSource:   source,
		EventContext:  eventContext,
		OutputContent: TruncateOutput(output),
		Timestamp:     time.Now().UTC().Format(time.RFC3339Nano),
		GroupID:       group.ID(),
		GroupEmail:    group.Email(),
		ExtraData:     extra,
	}
}

// ExecutionTrace is the persisted shape of a trace record.
type ExecutionTrace struct {
	ID            string         `json:"id"`
	JobID         string         `json:"job_id"`
	EventSource   string         `json:"event_source"`
	EventContext  string         `json:"event_context"`
	EventType     EventType      `json:"event_type"`
	Output        string         `json:"output"`
	TraceMetadata map[string]any `json:"trace_metadata,omitempty"`
	GroupID       string         `json:"group_id,omitempty"`
	GroupEmail    string         `json:"group_email,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}

// TruncateOutput cuts s to MaxOutputLength bytes on a rune boundary.
func TruncateOutput(s string) string {
	if len(s) <= MaxOutputLength {
		return s
	}

	cut := MaxOutputLength - len(truncatedSuffix)
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}

	return s[:cut] + truncatedSuffix
}
