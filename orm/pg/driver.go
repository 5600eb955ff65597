// Package pg is the PostgreSQL store used by the catalog. Every statement
// issued through DB is observed exactly once, which is what makes round-trip
// counting possible.
package pg

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deicod/catalog/observability/tracing"
	"github.com/deicod/catalog/orm/runtime"
)

// Pool is the subset of pgxpool behaviour the store needs. pgxmock connections
// satisfy it as well, which is how tests run without a server.
type Pool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Close()
}

// DB couples a Pool with the observer that sees each round-trip.
type DB struct {
	Pool     Pool
	Observer runtime.QueryObserver
}

// PoolConfig describes connection pool tuning knobs exposed via configuration.
type PoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// Option configures pgx connections.
type Option func(*pgxpool.Config)

// Connect opens a pgx pool for url.
func Connect(ctx context.Context, url string, opts ...Option) (*DB, error) {
	cfg, err := newPoolConfig(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("pg: parse config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pg: create pool: %w", err)
	}
	return &DB{Pool: pool}, nil
}

// Close releases the underlying pool.
func (db *DB) Close() {
	if db == nil || db.Pool == nil {
		return
	}
	db.Pool.Close()
}

// UseObserver attaches a query observer to the database handle.
func (db *DB) UseObserver(observer runtime.QueryObserver) {
	if db == nil {
		return
	}
	db.Observer = observer
}

// Select issues a SELECT built from spec. Invalid specs fail before any
// round-trip is made.
func (db *DB) Select(ctx context.Context, spec runtime.SelectSpec) (pgx.Rows, error) {
	if err := spec.Validate(); err != nil {
		return nil, fmt.Errorf("pg: select: %w", err)
	}
	sql, args := runtime.BuildSelectSQL(spec)
	var opts []runtime.ObservationOption
	if len(spec.Joins) > 0 {
		opts = append(opts, runtime.WithObservationAttributes(tracing.Int("orm.join_count", len(spec.Joins))))
	}
	return db.query(ctx, runtime.OperationSelect, spec.Table, sql, args, opts...)
}

// SelectOne issues a SELECT built from spec and yields its first row.
// Scanning an empty result returns pgx.ErrNoRows.
func (db *DB) SelectOne(ctx context.Context, spec runtime.SelectSpec) pgx.Row {
	if err := spec.Validate(); err != nil {
		return errRow{err: fmt.Errorf("pg: select: %w", err)}
	}
	sql, args := runtime.BuildSelectSQL(spec)
	return db.queryRow(ctx, runtime.OperationSelect, spec.Table, sql, args)
}

// Aggregate issues an aggregate query built from spec.
func (db *DB) Aggregate(ctx context.Context, spec runtime.AggregateSpec) pgx.Row {
	if err := spec.Validate(); err != nil {
		return errRow{err: fmt.Errorf("pg: aggregate: %w", err)}
	}
	sql, args := runtime.BuildAggregateSQL(spec)
	return db.queryRow(ctx, runtime.OperationAggregate, spec.Table, sql, args)
}

// Query issues an ad-hoc read statement.
func (db *DB) Query(ctx context.Context, table, sql string, args ...any) (pgx.Rows, error) {
	return db.query(ctx, runtime.OperationSelect, table, sql, args)
}

// QueryRow issues an ad-hoc read statement returning at most one row.
func (db *DB) QueryRow(ctx context.Context, table, sql string, args ...any) pgx.Row {
	return db.queryRow(ctx, runtime.OperationSelect, table, sql, args)
}

// Insert issues an INSERT ... RETURNING statement that may yield many rows.
func (db *DB) Insert(ctx context.Context, table, sql string, args ...any) (pgx.Rows, error) {
	return db.query(ctx, runtime.OperationInsert, table, sql, args)
}

// InsertRow issues an INSERT ... RETURNING statement for a single row.
func (db *DB) InsertRow(ctx context.Context, table, sql string, args ...any) pgx.Row {
	return db.queryRow(ctx, runtime.OperationInsert, table, sql, args)
}

// Exec issues a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, table, sql string, args ...any) (pgconn.CommandTag, error) {
	obs := db.Observer.Observe(ctx, runtime.OperationExec, table, sql, args)
	tag, err := db.Pool.Exec(obs.Context(), sql, args...)
	obs.End(err)
	return tag, err
}

func (db *DB) query(ctx context.Context, op runtime.QueryOperation, table, sql string, args []any, opts ...runtime.ObservationOption) (pgx.Rows, error) {
	obs := db.Observer.Observe(ctx, op, table, sql, args, opts...)
	rows, err := db.Pool.Query(obs.Context(), sql, args...)
	obs.End(err)
	return rows, err
}

func (db *DB) queryRow(ctx context.Context, op runtime.QueryOperation, table, sql string, args []any) pgx.Row {
	obs := db.Observer.Observe(ctx, op, table, sql, args)
	return &observedRow{Row: db.Pool.QueryRow(obs.Context(), sql, args...), obs: obs}
}

// Tx is a DB scoped to a single transaction. Statements issued through the
// embedded DB share the parent's observer.
type Tx struct {
	*DB
	tx pgx.Tx
}

// Begin starts a transaction. BEGIN itself is not reported to the observer.
func (db *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("pg: begin transaction: %w", err)
	}
	return &Tx{DB: &DB{Pool: txPool{tx: tx}, Observer: db.Observer}, tx: tx}, nil
}

// Commit commits the transaction.
func (t *Tx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

// Rollback aborts the transaction. Rolling back a finished transaction is a no-op.
func (t *Tx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return err
}

// InTx runs fn inside a transaction, committing when it returns nil and
// rolling back otherwise.
func (db *DB) InTx(ctx context.Context, fn func(*DB) error) error {
	tx, err := db.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx.DB); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return errors.Join(err, fmt.Errorf("pg: rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pg: commit: %w", err)
	}
	return nil
}

type txPool struct {
	tx pgx.Tx
}

func (p txPool) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.tx.Query(ctx, sql, args...)
}

func (p txPool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.tx.QueryRow(ctx, sql, args...)
}

func (p txPool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.tx.Exec(ctx, sql, args...)
}

// Begin opens a savepoint inside the enclosing transaction.
func (p txPool) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.tx.Begin(ctx)
}

// Close is a no-op; the transaction owner decides when to commit or roll back.
func (txPool) Close() {}

type observedRow struct {
	pgx.Row
	obs  runtime.QueryObservation
	once sync.Once
}

func (r *observedRow) Scan(dest ...any) error {
	err := r.Row.Scan(dest...)
	r.once.Do(func() { r.obs.End(err) })
	return err
}

type errRow struct{ err error }

func (r errRow) Scan(...any) error { return r.err }

func newPoolConfig(url string, opts ...Option) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	for _, opt := range opts {
		if opt != nil {
			opt(cfg)
		}
	}
	return cfg, nil
}

func applyDefaults(cfg *pgxpool.Config) {
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = time.Hour
}

// WithMaxConns sets the maximum pool size.
func WithMaxConns(n int32) Option {
	return func(cfg *pgxpool.Config) { cfg.MaxConns = n }
}

// WithMinConns sets the minimum pool size.
func WithMinConns(n int32) Option {
	return func(cfg *pgxpool.Config) { cfg.MinConns = n }
}

// WithMaxConnLifetime configures the maximum connection lifetime.
func WithMaxConnLifetime(d time.Duration) Option {
	return func(cfg *pgxpool.Config) { cfg.MaxConnLifetime = d }
}

// WithMaxConnIdleTime configures how long an idle connection may remain in the pool.
func WithMaxConnIdleTime(d time.Duration) Option {
	return func(cfg *pgxpool.Config) { cfg.MaxConnIdleTime = d }
}

// WithHealthCheckPeriod configures the background health check period.
func WithHealthCheckPeriod(d time.Duration) Option {
	return func(cfg *pgxpool.Config) { cfg.HealthCheckPeriod = d }
}

// WithPoolConfig applies the non-zero settings of pc.
func WithPoolConfig(pc PoolConfig) Option {
	return func(cfg *pgxpool.Config) {
		if pc.MaxConns > 0 {
			cfg.MaxConns = pc.MaxConns
		}
		if pc.MinConns > 0 {
			cfg.MinConns = pc.MinConns
		}
		if pc.MaxConnLifetime > 0 {
			cfg.MaxConnLifetime = pc.MaxConnLifetime
		}
		if pc.MaxConnIdleTime > 0 {
			cfg.MaxConnIdleTime = pc.MaxConnIdleTime
		}
		if pc.HealthCheckPeriod > 0 {
			cfg.HealthCheckPeriod = pc.HealthCheckPeriod
		}
	}
}

// WithTracer enables driver-level pgx tracing. A nil tracer disables it.
func WithTracer(tracer tracing.Tracer) Option {
	return func(cfg *pgxpool.Config) {
		cfg.ConnConfig.Tracer = newPGXTracer(tracer)
	}
}
