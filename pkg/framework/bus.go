package framework

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
)

// BusTopic is the single topic every engine event is published on.
const BusTopic = "crewplane.framework.events"

type BusEventType string

const (
	BusEventLLMCallCompleted   BusEventType = "llm_call_completed"
	BusEventTaskStarted        BusEventType = "task_started"
	BusEventToolUsageFinished  BusEventType = "tool_usage_finished"
	BusEventAgentStepStarted   BusEventType = "agent_step_started"
	BusEventCrewKickoffStarted BusEventType = "crew_kickoff_started"
)

// BusEvent is what the engine publishes on its global bus. It names the
// agent that caused it but never the execution.
type BusEvent struct {
	ID        string         `json:"id"`
	Type      BusEventType   `json:"type"`
	AgentRole string         `json:"agent_role,omitempty"`
	TaskName  string         `json:"task_name,omitempty"`
	ToolName  string         `json:"tool_name,omitempty"`
	Model     string         `json:"model,omitempty"`
	Output    string         `json:"output,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type BusHandler func(ctx context.Context, event BusEvent)

// Bus is the process-wide, execution-agnostic event bus of the engine.
type Bus interface {
	Publish(ctx context.Context, event BusEvent) error
	Subscribe(ctx context.Context, handler BusHandler) error
	Close() error
}

type WatermillBus struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	logger     *slog.Logger
	closeOnce  sync.Once
}

func NewWatermillBus(publisher message.Publisher, subscriber message.Subscriber, logger *slog.Logger) *WatermillBus {
	return &WatermillBus{
		publisher:  publisher,
		subscriber: subscriber,
		logger:     logger.With("module", "framework_bus"),
	}
}

// NewInMemoryBus returns a bus backed by a gochannel pub/sub. Publish waits
// until every subscriber acknowledged the event, so handlers have seen it
// by the time the engine moves on.
func NewInMemoryBus(logger *slog.Logger) *WatermillBus {
	pubSub := gochannel.NewGoChannel(
		gochannel.Config{
			OutputChannelBuffer:            256,
			BlockPublishUntilSubscriberAck: true,
		},
		watermill.NewSlogLogger(logger),
	)

	return NewWatermillBus(pubSub, pubSub, logger)
}

func (b *WatermillBus) Publish(ctx context.Context, event BusEvent) error {
	if event.ID == "" {
		event.ID = watermill.NewULID()
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal bus event: %w", err)
	}

	msg := message.NewMessage(event.ID, payload)
	msg.SetContext(ctx)

	return b.publisher.Publish(BusTopic, msg)
}

func (b *WatermillBus) Subscribe(ctx context.Context, handler BusHandler) error {
	messages, err := b.subscriber.Subscribe(ctx, BusTopic)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", BusTopic, err)
	}

	go func() {
		for msg := range messages {
			var event BusEvent

			err := json.Unmarshal(msg.Payload, &event)
			if err != nil {
				b.logger.Warn("Dropping malformed bus event", "message_id", msg.UUID, "error", err)
				msg.Ack()

				continue
			}

			handler(msg.Context(), event)
			msg.Ack()
		}
	}()

	return nil
}

func (b *WatermillBus) Close() error {
	var err error

	b.closeOnce.Do(func() {
		err = b.publisher.Close()
		if err != nil {
			return
		}

		if any(b.subscriber) != any(b.publisher) {
			err = b.subscriber.Close()
		}
	})

	return err
}
