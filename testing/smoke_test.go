package testkit

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/deicod/catalog/observability/metrics"
	"github.com/deicod/catalog/orm/runtime"
)

func TestSandboxSmoke(t *testing.T) {
	sandbox := NewPostgresSandbox(t)
	if sandbox.DB() == nil || sandbox.Counter() == nil || sandbox.Mock() == nil {
		t.Fatalf("expected sandbox to be initialised")
	}
	if sandbox.Context().Err() != nil {
		t.Fatalf("sandbox context cancelled early")
	}
	sandbox.ExpectationsWereMet(t)
}

func TestSandboxRollbackWrapsTest(t *testing.T) {
	sandbox := NewPostgresSandbox(t)
	mock := sandbox.Mock()

	t.Run("fixture", func(t *testing.T) {
		db := sandbox.Rollback(t)
		mock.ExpectQuery("SELECT COUNT(*) FROM products").
			WillReturnRows(mock.NewRows([]string{"count"}).AddRow(int64(0)))

		AssertNumQueries(t, sandbox.Counter(), 1, func() {
			var n int64
			if err := db.Aggregate(sandbox.Context(), runtime.AggregateSpec{
				Table:     "products",
				Aggregate: runtime.Aggregate{Func: runtime.AggCount},
			}).Scan(&n); err != nil {
				t.Fatalf("count: %v", err)
			}
		})
	})

	// BEGIN and ROLLBACK are not query round-trips.
	if got := sandbox.Counter().Count(); got != 1 {
		t.Fatalf("expected 1 counted query, got %d", got)
	}
	sandbox.ExpectationsWereMet(t)
}

func TestExpectSeedScriptsBulkInsert(t *testing.T) {
	sandbox := NewPostgresSandbox(t)
	f := NewFixture("Books", 2)
	sandbox.ExpectSeed(f)

	ctx := context.Background()
	db := sandbox.DB()
	var (
		id   int64
		name string
	)
	if err := db.InsertRow(ctx, "categories", "INSERT INTO categories (name) VALUES ($1) RETURNING id, name", "Books").Scan(&id, &name); err != nil {
		t.Fatalf("insert category: %v", err)
	}
	rows, err := db.Insert(ctx, "products",
		"INSERT INTO products (title, category_id) VALUES ($1, $2), ($3, $4) RETURNING id, title, category_id",
		"product_1", int64(1), "product_2", int64(1))
	if err != nil {
		t.Fatalf("insert products: %v", err)
	}
	var n int
	for rows.Next() {
		n++
	}
	rows.Close()
	if n != 2 {
		t.Fatalf("expected 2 product rows, got %d", n)
	}
	sandbox.ExpectationsWereMet(t)
}

func TestNewFixture(t *testing.T) {
	f := DefaultFixture()
	if f.Category.Name != "Test category" || len(f.Products) != 9 {
		t.Fatalf("unexpected default fixture: %+v", f)
	}
	for i, p := range f.Products {
		if p.ID != int64(i+1) || p.Title != fmt.Sprintf("product_%d", i+1) || p.CategoryID != f.Category.ID {
			t.Fatalf("unexpected product %d: %+v", i, p)
		}
	}
	if empty := NewFixture("Empty", 0); len(empty.Products) != 0 {
		t.Fatalf("expected no products, got %+v", empty.Products)
	}
}

func TestAssertNumQueriesReportsMismatch(t *testing.T) {
	counter := metrics.NewQueryCounter()
	tb := &recordingTB{TB: t}

	AssertNumQueries(tb, counter, 1, func() {
		counter.RecordQuery("products", "select", time.Millisecond, nil)
		counter.RecordQuery("categories", "select", time.Millisecond, nil)
	})
	if !tb.failed {
		t.Fatalf("expected mismatch to fail the test")
	}
	if !strings.Contains(tb.msg, "2 queries executed, 1 expected") || !strings.Contains(tb.msg, "2. select categories") {
		t.Fatalf("unexpected failure message: %q", tb.msg)
	}

	tb = &recordingTB{TB: t}
	AssertNumQueries(tb, counter, 0, func() {})
	if tb.failed {
		t.Fatalf("expected no failure for matching count: %s", tb.msg)
	}
}

func TestAssertNumQueriesCountsAcrossReset(t *testing.T) {
	counter := metrics.NewQueryCounter()
	for range 3 {
		counter.RecordQuery("products", "select", time.Millisecond, nil)
	}
	tb := &recordingTB{TB: t}
	AssertNumQueries(tb, counter, 5, func() {
		counter.Reset()
		for range 5 {
			counter.RecordQuery("categories", "select", time.Millisecond, nil)
		}
	})
	if tb.failed {
		t.Fatalf("expected 5 queries across a reset: %s", tb.msg)
	}

	tb = &recordingTB{TB: t}
	AssertNumQueries(tb, counter, 0, func() {
		counter.RecordQuery("products", "select", time.Millisecond, nil)
		counter.Reset()
	})
	if !tb.failed || !strings.HasPrefix(tb.msg, "1 queries executed, 0 expected") {
		t.Fatalf("expected reset query to still count, got %q", tb.msg)
	}
}

type recordingTB struct {
	testing.TB
	failed bool
	msg    string
}

func (r *recordingTB) Helper() {}

func (r *recordingTB) Fatalf(format string, args ...any) {
	r.failed = true
	r.msg = fmt.Sprintf(format, args...)
}
