package observer

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	superagent "github.com/superagent-core/superagent"
)

// otelTracer bridges the core's Tracer interface to OpenTelemetry.
type otelTracer struct {
	inner trace.Tracer
}

// NewTracer returns a Tracer backed by the global OTEL TracerProvider. Call
// Init first to configure the provider; otherwise spans go to a no-op
// backend.
func NewTracer() superagent.Tracer {
	return &otelTracer{inner: otel.Tracer(scopeName)}
}

func (t *otelTracer) Start(ctx context.Context, name string, attrs ...superagent.SpanAttr) (context.Context, superagent.Span) {
	ctx, span := t.inner.Start(ctx, name, trace.WithAttributes(toOTELAttrs(attrs)...))
	return ctx, &otelSpan{inner: span}
}

// otelSpan adapts an OTEL span to the core's Span interface.
type otelSpan struct {
	inner trace.Span
}

func (s *otelSpan) SetAttr(attrs ...superagent.SpanAttr) {
	s.inner.SetAttributes(toOTELAttrs(attrs)...)
}

func (s *otelSpan) Event(name string, attrs ...superagent.SpanAttr) {
	s.inner.AddEvent(name, trace.WithAttributes(toOTELAttrs(attrs)...))
}

func (s *otelSpan) Error(err error) {
	s.inner.RecordError(err)
	s.inner.SetStatus(codes.Error, err.Error())
}

func (s *otelSpan) End() {
	s.inner.End()
}

func toOTELAttrs(attrs []superagent.SpanAttr) []attribute.KeyValue {
	out := make([]attribute.KeyValue, len(attrs))
	for i, a := range attrs {
		out[i] = toOTELAttr(a)
	}
	return out
}

func toOTELAttr(a superagent.SpanAttr) attribute.KeyValue {
	switch v := a.Value.(type) {
	case string:
		return attribute.String(a.Key, v)
	case int:
		return attribute.Int(a.Key, v)
	case int64:
		return attribute.Int64(a.Key, v)
	case float64:
		return attribute.Float64(a.Key, v)
	case bool:
		return attribute.Bool(a.Key, v)
	default:
		return attribute.String(a.Key, fmt.Sprintf("%v", v))
	}
}

var (
	_ superagent.Tracer = (*otelTracer)(nil)
	_ superagent.Span   = (*otelSpan)(nil)
)
