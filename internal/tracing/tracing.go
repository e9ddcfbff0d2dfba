// Package tracing installs the OpenTelemetry tracer provider.
package tracing

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New builds a tracer provider from cfg. It returns nil when tracing is
// disabled; callers then keep the global no-op provider.
//
// Exporter "log" writes finished spans through logger at debug level.
// Exporter "none" samples and propagates trace IDs without exporting.
func New(cfg domain.TracingConfig, version string, logger *slog.Logger) (*sdktrace.TracerProvider, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	name := cfg.ServiceName
	if name == "" {
		name = "kestrel"
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", version),
	)

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}

	switch cfg.ExporterType {
	case "", "none":
	case "log":
		if logger == nil {
			logger = slog.Default()
		}
		opts = append(opts, sdktrace.WithBatcher(NewLogExporter(logger)))
	default:
		return nil, fmt.Errorf("%w: unknown tracing exporter %q", domain.ErrConfiguration, cfg.ExporterType)
	}

	return sdktrace.NewTracerProvider(opts...), nil
}

// LogExporter is a SpanExporter that writes each span as one slog record.
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter returns an exporter writing to logger.
func NewLogExporter(logger *slog.Logger) *LogExporter {
	return &LogExporter{logger: logger}
}

// ExportSpans logs spans.
func (e *LogExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	for _, s := range spans {
		attrs := []any{
			"span", s.Name(),
			"trace_id", s.SpanContext().TraceID().String(),
			"span_id", s.SpanContext().SpanID().String(),
			"duration_ms", s.EndTime().Sub(s.StartTime()).Milliseconds(),
			"status", s.Status().Code.String(),
		}
		if s.Parent().IsValid() {
			attrs = append(attrs, "parent_id", s.Parent().SpanID().String())
		}
		for _, kv := range s.Attributes() {
			attrs = append(attrs, string(kv.Key), kv.Value.Emit())
		}
		e.logger.DebugContext(ctx, "span finished", attrs...)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter.
func (e *LogExporter) Shutdown(ctx context.Context) error {
	return nil
}
