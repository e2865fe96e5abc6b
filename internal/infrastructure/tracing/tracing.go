// Package tracing wires the gateway's OpenTelemetry span pipeline: an
// OTLP-over-HTTP exporter feeding a batch span processor. Metrics and log
// export are intentionally not set up here (see DESIGN.md).
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/ark-relay/gateway"

// Init configures the global tracer provider against collectorEndpoint (a
// host:port, e.g. "localhost:4318") and returns a shutdown func the caller
// must invoke during graceful teardown. A blank endpoint disables tracing
// and returns a no-op shutdown.
func Init(ctx context.Context, collectorEndpoint string) (func(context.Context) error, error) {
	if collectorEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpoint(collectorEndpoint), otlptracehttp.WithInsecure())
	if err != nil {
		return nil, fmt.Errorf("failed to create otlp trace exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewSchemaless(semconv.ServiceName("ark-relay-gateway")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// Tracer returns the gateway's named tracer, usable before or after Init
// (it resolves against whatever provider is currently registered).
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}
