package pubsub

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracingConfig holds configuration for OpenTelemetry tracing
type TracingConfig struct {
	Enabled     bool   // Whether tracing is enabled
	ServiceName string // Service name for traces
	ZipkinURL   string // Zipkin exporter URL
}

// SetupOTel initializes OpenTelemetry with a Zipkin exporter so bus traffic
// (presence changes, stored message rebroadcasts) can be traced.
// If config.Enabled is false, returns a no-op tracer.
func SetupOTel(ctx context.Context, config TracingConfig) (trace.Tracer, func(), error) {
	if !config.Enabled {
		// Return no-op tracer when disabled
		tracer := noop.NewTracerProvider().Tracer("relay-pubsub")
		cleanup := func() {} // No-op cleanup
		return tracer, cleanup, nil
	}

	// Create Zipkin exporter
	exporter, err := zipkin.New(config.ZipkinURL)
	if err != nil {
		return nil, nil, err
	}

	// Create resource with service information
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(config.ServiceName),
			semconv.ServiceVersionKey.String("1.0.0"),
		),
	)
	if err != nil {
		return nil, nil, err
	}

	// Create tracer provider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)

	// Set global tracer provider
	otel.SetTracerProvider(tp)

	// Create tracer
	tracer := tp.Tracer("relay-pubsub")

	// Return cleanup function
	cleanup := func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			slog.Error("Failed to shut down tracer provider", "error", err)
		}
	}

	return tracer, cleanup, nil
}
