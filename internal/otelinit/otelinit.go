// Package otelinit wires turtle.Tracer to a real OpenTelemetry exporter,
// grounded on _examples/nevindra-oasis/observer's Init/NewTracer split —
// trimmed to tracing only, since this module's go.mod carries just the
// OTEL trace SDK and the otlptracehttp exporter, not the metric/log stack.
package otelinit

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"

	turtle "github.com/sea-turtle/sea-turtle"
)

const scopeName = "github.com/sea-turtle/sea-turtle"

// Init configures the global OTEL TracerProvider with an OTLP/HTTP exporter
// (endpoint taken from the standard OTEL_EXPORTER_OTLP_* env vars) and
// returns a turtle.Tracer plus a shutdown func to flush and close on exit.
func Init(ctx context.Context) (turtle.Tracer, func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceName("sea-turtle")),
		resource.WithFromEnv(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("otelinit: build resource: %w", err)
	}

	exp, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("otelinit: build exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return NewTracer(), tp.Shutdown, nil
}

// NewTracer returns a turtle.Tracer backed by the global OTEL
// TracerProvider. Usable without Init — spans then go to OTEL's no-op
// default tracer, which is harmless and cheap.
func NewTracer() turtle.Tracer {
	return &otelTracer{inner: otel.Tracer(scopeName)}
}

type otelTracer struct {
	inner trace.Tracer
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...turtle.SpanAttr) (context.Context, turtle.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(toOTELAttrs(attrs)...))
	return ctx, &otelSpan{inner: span}
}

type otelSpan struct {
	inner trace.Span
}

func (s *otelSpan) SetAttr(attrs ...turtle.SpanAttr) {
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) Event(name string, attrs ...turtle.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *otelSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.inner.End()
}

func toOTELAttrs(attrs []turtle.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		switch v := a.Value.(type) {
		case string:
			out[i] = attribute.String(a.Key, v)
		case int:
			out[i] = attribute.Int(a.Key, v)
		case int64:
			out[i] = attribute.Int64(a.Key, v)
		case float64:
			out[i] = attribute.Float64(a.Key, v)
		case bool:
			out[i] = attribute.Bool(a.Key, v)
		default:
			out[i] = attribute.String(a.Key, fmt.Sprintf("%v", v))
		}
	}
	return out
}

var _ turtle.Tracer = (*otelTracer)(nil)
var _ turtle.Span = (*otelSpan)(nil)
