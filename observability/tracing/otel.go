package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultInstrumentationName names the tracer when the caller supplies none.
const DefaultInstrumentationName = "github.com/deicod/catalog"

// NewOTelTracer returns a Tracer backed by provider, or by the global
// provider when provider is nil. Spans are client spans: each one stands for
// a call to the database.
func NewOTelTracer(provider trace.TracerProvider, instrumentationName string) Tracer {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	if instrumentationName == "" {
		instrumentationName = DefaultInstrumentationName
	}
	return otelTracer{tracer: provider.Tracer(instrumentationName)}
}

type otelTracer struct {
	tracer trace.Tracer
}

func (t otelTracer) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	if t.tracer == nil {
		return ctx, noopSpan{}
	}
	kvs := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if kv, ok := keyValue(attr); ok {
			kvs = append(kvs, kv)
		}
	}
	ctx, span := t.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindClient), trace.WithAttributes(kvs...))
	return ctx, otelSpan{span}
}

type otelSpan struct {
	trace.Span
}

func (s otelSpan) End(err error) {
	if err != nil {
		s.Span.RecordError(err)
		s.Span.SetStatus(codes.Error, err.Error())
	}
	s.Span.End()
}

func keyValue(attr Attribute) (attribute.KeyValue, bool) {
	if attr.Key == "" {
		return attribute.KeyValue{}, false
	}
	key := attribute.Key(attr.Key)
	switch v := attr.Value.(type) {
	case string:
		return key.String(v), true
	case bool:
		return key.Bool(v), true
	case int:
		return key.Int(v), true
	case int64:
		return key.Int64(v), true
	case float64:
		return key.Float64(v), true
	case time.Duration:
		return key.Int64(v.Milliseconds()), true
	case []int64:
		return key.Int64Slice(v), true
	case []string:
		return key.StringSlice(v), true
	case fmt.Stringer:
		return key.String(v.String()), true
	case nil:
		return attribute.KeyValue{}, false
	default:
		return key.String(fmt.Sprint(v)), true
	}
}
