// Package telemetry sets up OpenTelemetry tracing for the proxy.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
)

// Tracing is a handle on the installed tracer provider. Stop must be called
// during shutdown so buffered spans reach the exporter.
type Tracing struct {
	provider *sdktrace.TracerProvider
}

// Start installs a global tracer provider for the named service. Spans are
// batched and written to stdout, where a collector sidecar can pick them up.
func Start(service string, logger *slog.Logger) (*Tracing, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("create stdout exporter: %w", err)
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", semconv.ServiceName(service)),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(provider)

	logger.Info("tracing enabled", slog.String("service", service))
	return &Tracing{provider: provider}, nil
}

// Stop flushes pending spans and shuts the provider down.
func (t *Tracing) Stop(ctx context.Context) error {
	return t.provider.Shutdown(ctx)
}
