package logging

import (
	"context"
	"log/slog"
	"time"

	"github.com/deicod/catalog/observability/metrics"
	"github.com/deicod/catalog/orm/runtime"
)

// QueryLogger reports each store round-trip to logger: debug when it
// succeeds, error when it fails. A nil logger uses slog.Default().
func QueryLogger(logger *slog.Logger) runtime.QueryLogger {
	return runtime.QueryLoggerFunc(func(ctx context.Context, entry runtime.QueryLog) {
		l := logger
		if l == nil {
			l = slog.Default()
		}
		attrs := []slog.Attr{
			slog.String("table", entry.Table),
			slog.String("operation", string(entry.Operation)),
			slog.Duration("duration", entry.Duration),
			slog.Int("args", len(entry.Args)),
		}
		if entry.CorrelationID != "" {
			attrs = append(attrs, slog.String("correlation_id", entry.CorrelationID))
		}
		for _, attr := range entry.Attributes {
			attrs = append(attrs, slog.Any(attr.Key, attr.Value))
		}
		attrs = append(attrs, slog.String("sql", entry.SQL))
		if entry.Err != nil {
			attrs = append(attrs, slog.Any("error", entry.Err))
			l.LogAttrs(ctx, slog.LevelError, "query failed", attrs...)
			return
		}
		l.LogAttrs(ctx, slog.LevelDebug, "query", attrs...)
	})
}

// BatchCollector logs batched relation loads at debug level. Per-query events
// are left to QueryLogger.
func BatchCollector(logger *slog.Logger) metrics.Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return batchCollector{logger: logger}
}

type batchCollector struct {
	logger *slog.Logger
}

func (batchCollector) RecordQuery(string, string, time.Duration, error) {}

func (c batchCollector) RecordBatch(name string, size int, duration time.Duration) {
	c.logger.Debug("batch loaded", "relation", name, "size", size, "duration", duration)
}
