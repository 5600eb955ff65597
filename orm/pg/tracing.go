package pg

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/deicod/catalog/observability/tracing"
)

// statementTracer turns every statement the driver sends into a span named
// after its verb, so a listing shows up as one span per round-trip.
type statementTracer struct {
	tracer tracing.Tracer
}

type statementSpanKey struct{}

func newPGXTracer(tracer tracing.Tracer) pgx.QueryTracer {
	if tracer == nil {
		return nil
	}
	return statementTracer{tracer: tracer}
}

func (t statementTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	verb := statementVerb(data.SQL)
	ctx, span := t.tracer.Start(ctx, "pg."+verb,
		tracing.String("db.system", "postgresql"),
		tracing.String("db.operation", verb),
		tracing.String("db.statement", data.SQL),
		tracing.Int("db.arg_count", len(data.Args)),
	)
	return context.WithValue(ctx, statementSpanKey{}, span)
}

func (statementTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span, _ := ctx.Value(statementSpanKey{}).(tracing.Span)
	if span == nil {
		return
	}
	span.End(data.Err)
}

func statementVerb(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "query"
	}
	return strings.ToLower(fields[0])
}
