// Package telemetry installs the OpenTelemetry tracer provider used by the
// store spans.
package telemetry

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const serviceName = "wishlistd"

// Shutdown flushes and stops the tracer provider.
type Shutdown func(ctx context.Context) error

// SetupTracing exports spans over OTLP/HTTP to endpoint. With an empty
// endpoint the global no-op provider stays in place.
func SetupTracing(ctx context.Context, endpoint, version string, logger *logrus.Logger) (Shutdown, error) {
	if endpoint == "" {
		logger.Debug("Tracing disabled")
		return func(context.Context) error { return nil }, nil
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewSchemaless(
			attribute.String("service.name", serviceName),
			attribute.String("service.version", version),
		)),
	)
	otel.SetTracerProvider(provider)

	logger.Infof("Exporting traces to %s", endpoint)
	return provider.Shutdown, nil
}
