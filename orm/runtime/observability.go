package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/deicod/catalog/observability/metrics"
	"github.com/deicod/catalog/observability/tracing"
)

// QueryOperation identifies the kind of round-trip being executed.
type QueryOperation string

const (
	OperationSelect    QueryOperation = "select"
	OperationAggregate QueryOperation = "aggregate"
	OperationInsert    QueryOperation = "insert"
	OperationExec      QueryOperation = "exec"
)

// QueryLog is the structured payload emitted once per round-trip.
type QueryLog struct {
	Operation     QueryOperation
	Table         string
	SQL           string
	Args          []any
	Duration      time.Duration
	Err           error
	CorrelationID string
	Attributes    []tracing.Attribute
}

// QueryLogger receives structured query events.
type QueryLogger interface {
	LogQuery(ctx context.Context, entry QueryLog)
}

// QueryLoggerFunc adapts plain functions to QueryLogger.
type QueryLoggerFunc func(context.Context, QueryLog)

// LogQuery implements QueryLogger.
func (fn QueryLoggerFunc) LogQuery(ctx context.Context, entry QueryLog) {
	if fn == nil {
		return
	}
	fn(ctx, entry)
}

// CorrelationProvider extracts correlation IDs from a context.
type CorrelationProvider interface {
	CorrelationID(context.Context) string
}

// CorrelationProviderFunc adapts functions into CorrelationProvider implementations.
type CorrelationProviderFunc func(context.Context) string

// CorrelationID implements CorrelationProvider.
func (fn CorrelationProviderFunc) CorrelationID(ctx context.Context) string {
	if fn == nil {
		return ""
	}
	return fn(ctx)
}

type correlationKey struct{}

// WithCorrelationID stores id on ctx for ContextCorrelation to pick up.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// ContextCorrelation reads IDs stored with WithCorrelationID.
var ContextCorrelation = CorrelationProviderFunc(func(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
})

// ObservationOption customises a single observation.
type ObservationOption func(*observationConfig)

type observationConfig struct {
	attrs []tracing.Attribute
}

// WithObservationAttributes attaches extra span and log attributes.
func WithObservationAttributes(attrs ...tracing.Attribute) ObservationOption {
	return func(cfg *observationConfig) {
		cfg.attrs = append(cfg.attrs, attrs...)
	}
}

// QueryObserver coordinates logging, metrics and tracing for store round-trips.
// The zero value is usable and records nothing.
type QueryObserver struct {
	Logger     QueryLogger
	Tracer     tracing.Tracer
	Collector  metrics.Collector
	Correlator CorrelationProvider
}

// Observe opens an observation for one round-trip. Call End on the result
// once the driver call completes.
func (o QueryObserver) Observe(ctx context.Context, op QueryOperation, table, sql string, args []any, opts ...ObservationOption) QueryObservation {
	if ctx == nil {
		ctx = context.Background()
	}
	var cfg observationConfig
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	tracer := o.Tracer
	if tracer == nil {
		tracer = tracing.NoopTracer{}
	}

	correlation := ""
	if o.Correlator != nil {
		correlation = o.Correlator.CorrelationID(ctx)
	}

	attrs := []tracing.Attribute{
		tracing.String("orm.table", table),
		tracing.String("orm.operation", string(op)),
		tracing.Int("orm.arg_count", len(args)),
	}
	if correlation != "" {
		attrs = append(attrs, tracing.String("catalog.correlation_id", correlation))
	}
	attrs = append(attrs, cfg.attrs...)

	spanCtx, span := tracer.Start(ctx, fmt.Sprintf("orm.%s.%s", table, op), attrs...)

	obs := QueryObservation{
		ctx:           spanCtx,
		start:         time.Now(),
		op:            op,
		table:         table,
		sql:           sql,
		span:          span,
		collector:     o.Collector,
		logger:        o.Logger,
		correlationID: correlation,
		attrs:         cfg.attrs,
	}
	if o.Logger != nil {
		obs.args = append([]any(nil), args...)
	}
	return obs
}

// RecordBatch forwards a batched lookup of size keys to the collector.
func (o QueryObserver) RecordBatch(name string, size int, duration time.Duration) {
	if o.Collector != nil {
		o.Collector.RecordBatch(name, size, duration)
	}
}

// QueryObservation tracks a single in-flight round-trip.
type QueryObservation struct {
	ctx           context.Context
	start         time.Time
	op            QueryOperation
	table         string
	sql           string
	args          []any
	attrs         []tracing.Attribute
	span          tracing.Span
	collector     metrics.Collector
	logger        QueryLogger
	correlationID string
}

// Context returns the context to hand to the driver call.
func (obs QueryObservation) Context() context.Context {
	if obs.ctx != nil {
		return obs.ctx
	}
	return context.Background()
}

// End finalises the observation: the span is closed, the collector sees one
// query and the logger one entry.
func (obs QueryObservation) End(err error) {
	if obs.span != nil {
		obs.span.End(err)
	}
	duration := time.Since(obs.start)

	if obs.collector != nil {
		obs.collector.RecordQuery(obs.table, string(obs.op), duration, err)
	}
	if obs.logger != nil {
		obs.logger.LogQuery(obs.Context(), QueryLog{
			Operation:     obs.op,
			Table:         obs.table,
			SQL:           obs.sql,
			Args:          obs.args,
			Duration:      duration,
			Err:           err,
			CorrelationID: obs.correlationID,
			Attributes:    obs.attrs,
		})
	}
}
