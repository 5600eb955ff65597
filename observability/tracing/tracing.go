// Package tracing defines the span abstraction used by the catalog store and
// its query observer. The default implementation discards everything; an
// OpenTelemetry adapter lives in otel.go.
package tracing

import "context"

// Attribute is a key/value pair attached to a span.
type Attribute struct {
	Key   string
	Value any
}

// Span is an in-flight span. End must be called exactly once.
type Span interface {
	End(err error)
}

// Tracer starts spans.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// NoopTracer discards all spans.
type NoopTracer struct{}

// Start implements Tracer.
func (NoopTracer) Start(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noopSpan{}
}

type noopSpan struct{}

func (noopSpan) End(error) {}

type fanoutTracer []Tracer

func (f fanoutTracer) Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span) {
	spans := make(fanoutSpan, 0, len(f))
	for _, tracer := range f {
		var span Span
		ctx, span = tracer.Start(ctx, name, attrs...)
		if span != nil {
			spans = append(spans, span)
		}
	}
	return ctx, spans
}

type fanoutSpan []Span

func (spans fanoutSpan) End(err error) {
	// close in reverse so child contexts finish before their parents
	for i := len(spans) - 1; i >= 0; i-- {
		spans[i].End(err)
	}
}

// WithTracer combines the non-nil tracers into one. It never returns nil.
func WithTracer(primary Tracer, others ...Tracer) Tracer {
	var tracers fanoutTracer
	for _, t := range append([]Tracer{primary}, others...) {
		if t != nil {
			tracers = append(tracers, t)
		}
	}
	switch len(tracers) {
	case 0:
		return NoopTracer{}
	case 1:
		return tracers[0]
	default:
		return tracers
	}
}

// String builds a string attribute.
func String(key, value string) Attribute { return Attribute{Key: key, Value: value} }

// Int builds an int attribute.
func Int(key string, value int) Attribute { return Attribute{Key: key, Value: value} }

// Int64 builds an int64 attribute.
func Int64(key string, value int64) Attribute { return Attribute{Key: key, Value: value} }

// Bool builds a bool attribute.
func Bool(key string, value bool) Attribute { return Attribute{Key: key, Value: value} }
