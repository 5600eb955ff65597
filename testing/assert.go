package testkit

import (
	"context"
	"fmt"
	"strings"
	stdtesting "testing"

	"github.com/deicod/catalog/observability/metrics"
	"github.com/deicod/catalog/orm/pg"
)

// Rollback begins a transaction on db and registers a cleanup that rolls it
// back however the test ends. Fixtures created through the returned DB are
// discarded with it.
func Rollback(tb stdtesting.TB, db *pg.DB) *pg.DB {
	tb.Helper()
	if db == nil {
		tb.Fatalf("testkit: rollback: nil database")
	}
	tx, err := db.Begin(context.Background())
	if err != nil {
		tb.Fatalf("testkit: %v", err)
	}
	tb.Cleanup(func() {
		if err := tx.Rollback(context.Background()); err != nil {
			tb.Errorf("testkit: rollback: %v", err)
		}
	})
	return tx.DB
}

// AssertNumQueries runs fn and fails the test unless exactly want round-trips
// were recorded by counter while it ran.
func AssertNumQueries(tb stdtesting.TB, counter *metrics.QueryCounter, want int, fn func()) {
	tb.Helper()
	if counter == nil {
		tb.Fatalf("testkit: AssertNumQueries: nil counter")
		return
	}
	mark := counter.Mark()
	fn()
	executed, held := counter.Since(mark)
	if executed == want {
		return
	}
	tb.Fatalf("%d queries executed, %d expected\n%s", executed, want, describe(held))
}

func describe(queries []metrics.Query) string {
	if len(queries) == 0 {
		return "captured queries were: none"
	}
	var sb strings.Builder
	sb.WriteString("captured queries were:")
	for i, q := range queries {
		fmt.Fprintf(&sb, "\n%d. %s %s", i+1, q.Operation, q.Table)
		if q.Err != nil {
			fmt.Fprintf(&sb, " (error: %v)", q.Err)
		}
	}
	return sb.String()
}
