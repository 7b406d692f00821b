package cmd

import (
	"context"
	"log/slog"

	"github.com/crewplane/crewplane/pkg/otelhelper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// NewTracer returns an OTLP tracer when enabled, otherwise the global
// tracer, which is a no-op unless something else installed a provider.
//
//nolint:ireturn // OpenTelemetry tracers are interfaces
func NewTracer(ctx context.Context, logger *slog.Logger, enabled bool, serviceName string) (trace.Tracer, func(context.Context) error) {
	noop := func(context.Context) error { return nil }

	if !enabled {
		return otel.Tracer(serviceName), noop
	}

	tracer, shutdown, err := otelhelper.NewTracer(ctx, serviceName)
	if err != nil {
		logger.WarnContext(ctx, "Failed to initialize tracer, spans disabled", "error", err)

		return otel.Tracer(serviceName), noop
	}

	logger.InfoContext(ctx, "Tracing enabled", "service", serviceName)

	return tracer, shutdown
}
