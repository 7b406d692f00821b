package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/crewplane/crewplane/pkg/channels/gochannel"
	"github.com/crewplane/crewplane/pkg/channels/kafka"
	"github.com/crewplane/crewplane/pkg/eventbus"
)

// NewEventBus creates the job event bus for provider. "gochannel" only
// reaches workers inside the same process.
func NewEventBus(provider string, brokers []string, serviceName string, logger *slog.Logger) *eventbus.WatermillEventBus {
	wlogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(wlogger, brokers, serviceName)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	case "gochannel":
		pub, sub, err := gochannel.CreateChannel(wlogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-memory pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		panic("Unsupported event bus provider: " + provider)
	}
}
