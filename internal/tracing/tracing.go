// Package tracing installs the OpenTelemetry tracer provider that the
// remote dispatcher and the OpenSearch client record their spans with.
package tracing

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/me/weaver/internal/config"
)

// ServiceName identifies Weaver spans.
const ServiceName = "weaver"

// Exporters accepted by the weaver.tracing setting.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// ShutdownFunc flushes pending spans and stops the provider.
type ShutdownFunc func(ctx context.Context) error

// Setup installs the global tracer provider selected by exporter. Spans
// of the stdout exporter are written as JSON to w. With no exporter the
// global no-op provider stays in place.
func Setup(exporter string, w io.Writer, logger *slog.Logger) (ShutdownFunc, error) {
	switch exporter {
	case "", ExporterNone:
		return func(context.Context) error { return nil }, nil
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("create stdout trace exporter: %w", err)
		}
		tp := NewProvider(sdktrace.WithBatcher(exp))
		otel.SetTracerProvider(tp)
		logger.Info("tracing enabled", "exporter", exporter)
		return tp.Shutdown, nil
	}
	return nil, fmt.Errorf("unknown trace exporter %q (want %s or %s)", exporter, ExporterNone, ExporterStdout)
}

// FromSettings calls Setup with the weaver.tracing setting.
func FromSettings(settings *config.Settings, w io.Writer, logger *slog.Logger) (ShutdownFunc, error) {
	return Setup(settings.String(config.KeyTracing), w, logger)
}

// NewProvider returns a tracer provider tagged with the Weaver service
// name. opts add span processors or exporters.
func NewProvider(opts ...sdktrace.TracerProviderOption) *sdktrace.TracerProvider {
	res := resource.NewSchemaless(attribute.String("service.name", ServiceName))
	return sdktrace.NewTracerProvider(append([]sdktrace.TracerProviderOption{sdktrace.WithResource(res)}, opts...)...)
}
