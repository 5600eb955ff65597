package testkit

import (
	"context"
	stdtesting "testing"

	pgxmock "github.com/pashagolub/pgxmock/v4"

	"github.com/deicod/catalog/observability/metrics"
	"github.com/deicod/catalog/orm/pg"
	"github.com/deicod/catalog/orm/runtime"
)

type mockPool struct {
	pgxmock.PgxConnIface
}

func (m *mockPool) Close() {
	_ = m.PgxConnIface.Close(context.Background())
}

// Sandbox couples a mocked Postgres connection with a round-trip counter.
type Sandbox struct {
	ctx     context.Context
	cancel  context.CancelFunc
	mock    pgxmock.PgxConnIface
	db      *pg.DB
	counter *metrics.QueryCounter
}

// NewPostgresSandbox returns a sandbox backed by pgxmock with QueryMatcherEqual
// semantics. Every statement issued through DB() is counted.
func NewPostgresSandbox(tb stdtesting.TB) *Sandbox {
	tb.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	mock, err := pgxmock.NewConn(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherEqual))
	if err != nil {
		cancel()
		tb.Fatalf("pgxmock.NewConn: %v", err)
	}
	counter := metrics.NewQueryCounter()
	sandbox := &Sandbox{
		ctx:     ctx,
		cancel:  cancel,
		mock:    mock,
		counter: counter,
		db: &pg.DB{
			Pool:     &mockPool{PgxConnIface: mock},
			Observer: runtime.QueryObserver{Collector: counter, Correlator: runtime.ContextCorrelation},
		},
	}
	tb.Cleanup(sandbox.Close)
	return sandbox
}

// Context returns the sandbox context. It is cancelled on cleanup.
func (s *Sandbox) Context() context.Context {
	if s == nil {
		return context.Background()
	}
	return s.ctx
}

// Mock exposes the underlying pgxmock connection for expectation management.
func (s *Sandbox) Mock() pgxmock.PgxConnIface {
	if s == nil {
		return nil
	}
	return s.mock
}

// DB returns the pg.DB wrapper bound to the sandbox connection.
func (s *Sandbox) DB() *pg.DB {
	if s == nil {
		return nil
	}
	return s.db
}

// Counter returns the collector that sees every round-trip made through DB().
func (s *Sandbox) Counter() *metrics.QueryCounter {
	if s == nil {
		return nil
	}
	return s.counter
}

// Rollback scripts BEGIN and ROLLBACK on the mock and returns a DB scoped to
// a transaction that is rolled back when the test finishes.
func (s *Sandbox) Rollback(tb stdtesting.TB) *pg.DB {
	tb.Helper()
	s.mock.ExpectBegin()
	db := Rollback(tb, s.db)
	// Cleanups run last-in first-out, so this is scripted just before the
	// rollback registered above executes.
	tb.Cleanup(func() { s.mock.ExpectRollback() })
	return db
}

// Close releases sandbox resources. Tests typically rely on the registered
// cleanup to invoke it.
func (s *Sandbox) Close() {
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	if s.mock != nil {
		_ = s.mock.Close(context.Background())
	}
}

// ExpectationsWereMet fails the test if outstanding pgxmock expectations remain.
func (s *Sandbox) ExpectationsWereMet(tb stdtesting.TB) {
	if s == nil {
		return
	}
	tb.Helper()
	if err := s.mock.ExpectationsWereMet(); err != nil {
		tb.Fatalf("pgx expectations: %v", err)
	}
}
