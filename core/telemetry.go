package core

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry is the nil-safe tracing/metrics seam used by jobs.Manager and
// executor.Executor, mirrored on gomind/core.Telemetry. Callers must
// nil-check before use; NoOpTelemetry is supplied as the safe default.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, Span)
	RecordMetric(name string, value float64, labels map[string]string)
}

// Span is a single traced operation.
type Span interface {
	End()
	SetAttribute(key string, value interface{})
	RecordError(err error)
}

// NoOpTelemetry discards everything. Used when no tracer provider was wired.
type NoOpTelemetry struct{}

func (NoOpTelemetry) StartSpan(ctx context.Context, _ string) (context.Context, Span) {
	return ctx, noOpSpan{}
}
func (NoOpTelemetry) RecordMetric(string, float64, map[string]string) {}

type noOpSpan struct{}

func (noOpSpan) End()                            {}
func (noOpSpan) SetAttribute(string, interface{}) {}
func (noOpSpan) RecordError(error)               {}

var _ Telemetry = NoOpTelemetry{}

// OTelTelemetry adapts a go.opentelemetry.io/otel Tracer to the Telemetry
// interface. Metric recording goes to the optional metricRecord func;
// NewOTelTelemetry leaves it unset, so RecordMetric discards values.
type OTelTelemetry struct {
	tracer       trace.Tracer
	metricRecord func(name string, value float64, labels map[string]string)
}

// NewOTelTelemetry wraps the global tracer provider under instrumentation
// name "fuzzerapi". Call NewTracerProvider first to back it with a real
// exporter; otherwise otel falls back to its own no-op implementation.
func NewOTelTelemetry() *OTelTelemetry {
	return &OTelTelemetry{tracer: otel.Tracer("fuzzerapi")}
}

// NewTracerProvider builds a real SDK-backed TracerProvider that batches
// spans out as JSON to w, and installs it as the process-wide global
// provider so the otel.Tracer("fuzzerapi") used by NewOTelTelemetry picks it
// up. The caller owns the returned provider and must Shutdown it on exit to
// flush any spans still in the batch.
func NewTracerProvider(serviceName string, w io.Writer) (*sdktrace.TracerProvider, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		)),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func (t *OTelTelemetry) StartSpan(ctx context.Context, name string) (context.Context, Span) {
	ctx, span := t.tracer.Start(ctx, name)
	return ctx, &otelSpan{span: span}
}

func (t *OTelTelemetry) RecordMetric(name string, value float64, labels map[string]string) {
	if t.metricRecord != nil {
		t.metricRecord(name, value, labels)
	}
}

type otelSpan struct {
	span trace.Span
}

func (s *otelSpan) End() { s.span.End() }
func (s *otelSpan) SetAttribute(key string, value interface{}) {
	s.span.SetAttributes(attribute.String(key, toAttrString(value)))
}
func (s *otelSpan) RecordError(err error) {
	if err != nil {
		s.span.RecordError(err)
	}
}

func toAttrString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}

var _ Telemetry = (*OTelTelemetry)(nil)
