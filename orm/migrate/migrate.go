// Package migrate applies the catalog's SQL migrations. Every operation runs
// inside one transaction guarded by pg_advisory_xact_lock, and applied
// versions are tracked in catalog_schema_migrations.
package migrate

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	defaultDirectory    = "migrations"
	defaultAdvisoryLock = int64(0x636174616c6f67) // "catalog"

	trackingTableDDL = `CREATE TABLE IF NOT EXISTS catalog_schema_migrations (
    version    text PRIMARY KEY,
    applied_at timestamptz NOT NULL DEFAULT now()
)`
	undefinedTable = "42P01"
)

// MigrationType differentiates forward scripts from rollback scripts.
type MigrationType int

const (
	MigrationTypeUp MigrationType = iota
	MigrationTypeDown
)

func (mt MigrationType) String() string {
	if mt == MigrationTypeDown {
		return "down"
	}
	return "up"
}

// TxStarter abstracts connections capable of starting a transaction.
type TxStarter interface {
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
}

var _ TxStarter = (*pgx.Conn)(nil)

// Options configures how migrations are discovered and applied.
type Options struct {
	// Directory is the root within the fs.FS holding migration files.
	// Defaults to "migrations".
	Directory string
	// BatchSize caps how many pending migrations run per invocation. Zero
	// means no cap.
	BatchSize int
	// AdvisoryLockID overrides the pg_advisory_xact_lock key.
	AdvisoryLockID int64
}

// Option mutates Options.
type Option func(*Options)

// WithDirectory looks for migration files under dir.
func WithDirectory(dir string) Option {
	return func(o *Options) {
		if dir != "" {
			o.Directory = dir
		}
	}
}

// WithBatchSize limits the number of pending migrations executed per call.
func WithBatchSize(size int) Option {
	return func(o *Options) {
		if size > 0 {
			o.BatchSize = size
		}
	}
}

// WithAdvisoryLock overrides the advisory lock identifier.
func WithAdvisoryLock(id int64) Option {
	return func(o *Options) {
		if id != 0 {
			o.AdvisoryLockID = id
		}
	}
}

// FileMigration is a single SQL file discovered on disk.
type FileMigration struct {
	Version string
	Name    string
	Path    string
	Type    MigrationType
}

// PlanResult lists what Apply would do without doing it.
type PlanResult struct {
	Pending []FileMigration
	Applied []string
}

// SchemaDriftError reports versions recorded in the database whose SQL files
// are gone.
type SchemaDriftError struct {
	Missing []string
}

func (e SchemaDriftError) Error() string {
	return fmt.Sprintf("migrate: schema drift detected: %s", strings.Join(e.Missing, ", "))
}

// ErrNoAppliedMigrations is returned by Rollback when nothing has been applied.
var ErrNoAppliedMigrations = errors.New("migrate: no applied migrations to rollback")

// ParseVersion takes the part of a filename before the first "__", "_" or
// "-" separator, or the whole stem when there is none.
func ParseVersion(name string) (string, error) {
	if name == "" {
		return "", errors.New("migrate: empty filename")
	}
	base := strings.TrimSuffix(name, path.Ext(name))
	if base == "" {
		return "", fmt.Errorf("migrate: could not derive version from %q", name)
	}
	for _, sep := range []string{"__", "_", "-"} {
		if idx := strings.Index(base, sep); idx > 0 {
			return base[:idx], nil
		}
	}
	return base, nil
}

// Discover returns the .sql files under dir ordered by version. A missing
// directory yields no migrations.
func Discover(ctx context.Context, fsys fs.FS, dir string) ([]FileMigration, error) {
	if fsys == nil {
		return nil, errors.New("migrate: filesystem cannot be nil")
	}
	if dir == "" {
		dir = defaultDirectory
	}
	if _, err := fs.Stat(fsys, dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("migrate: inspect %s: %w", dir, err)
	}

	var files []FileMigration
	err := fs.WalkDir(fsys, dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.HasSuffix(strings.ToLower(d.Name()), ".sql") {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		version, err := ParseVersion(d.Name())
		if err != nil {
			return fmt.Errorf("migrate: %s: %w", p, err)
		}
		files = append(files, FileMigration{Version: version, Name: d.Name(), Path: p, Type: classify(d.Name())})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].Version == files[j].Version {
			return files[i].Path < files[j].Path
		}
		return files[i].Version < files[j].Version
	})

	seen := make(map[string]string, len(files))
	for _, f := range files {
		if f.Type == MigrationTypeDown {
			continue
		}
		if prev, ok := seen[f.Version]; ok {
			return nil, fmt.Errorf("migrate: duplicate version %q in %s and %s", f.Version, prev, f.Path)
		}
		seen[f.Version] = f.Path
	}
	return files, nil
}

// Plan reports pending forward migrations and fails with SchemaDriftError
// when recorded versions no longer exist on disk.
func Plan(ctx context.Context, conn TxStarter, fsys fs.FS, opts ...Option) (PlanResult, error) {
	var result PlanResult
	err := run(ctx, conn, fsys, opts, false, func(tx pgx.Tx, s set) error {
		applied, err := appliedVersions(ctx, tx, "SELECT version FROM catalog_schema_migrations ORDER BY applied_at")
		if err != nil {
			var pgErr *pgconn.PgError
			if !errors.As(err, &pgErr) || pgErr.Code != undefinedTable {
				return err
			}
			// no tracking table yet: nothing has been applied
			applied = nil
		}
		var missing []string
		for _, version := range applied {
			if _, ok := s.up[version]; !ok {
				missing = append(missing, version)
			}
		}
		if len(missing) > 0 {
			return SchemaDriftError{Missing: missing}
		}
		result = PlanResult{Pending: s.pending(applied), Applied: applied}
		return nil
	})
	return result, err
}

// Apply executes pending forward migrations and records them.
func Apply(ctx context.Context, conn TxStarter, fsys fs.FS, opts ...Option) error {
	return run(ctx, conn, fsys, opts, true, func(tx pgx.Tx, s set) error {
		applied, err := appliedVersions(ctx, tx, "SELECT version FROM catalog_schema_migrations")
		if err != nil {
			return err
		}
		for _, mig := range s.pending(applied) {
			if err := execFile(ctx, tx, s.fsys, mig); err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, "INSERT INTO catalog_schema_migrations (version) VALUES ($1) ON CONFLICT DO NOTHING", mig.Version); err != nil {
				return fmt.Errorf("migrate: record %s: %w", mig.Version, err)
			}
		}
		return nil
	})
}

// Rollback runs the down script of the most recently applied migration and
// forgets its version.
func Rollback(ctx context.Context, conn TxStarter, fsys fs.FS, opts ...Option) (FileMigration, error) {
	var reverted FileMigration
	err := run(ctx, conn, fsys, opts, true, func(tx pgx.Tx, s set) error {
		var latest string
		err := tx.QueryRow(ctx, "SELECT version FROM catalog_schema_migrations ORDER BY applied_at DESC LIMIT 1").Scan(&latest)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNoAppliedMigrations
		}
		if err != nil {
			return fmt.Errorf("migrate: inspect applied migrations: %w", err)
		}
		if _, ok := s.up[latest]; !ok {
			return SchemaDriftError{Missing: []string{latest}}
		}
		down, ok := s.down[latest]
		if !ok {
			return fmt.Errorf("migrate: no rollback script for version %s", latest)
		}
		if err := execFile(ctx, tx, s.fsys, down); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, "DELETE FROM catalog_schema_migrations WHERE version = $1", latest); err != nil {
			return fmt.Errorf("migrate: remove %s: %w", latest, err)
		}
		reverted = down
		return nil
	})
	return reverted, err
}

type set struct {
	fsys      fs.FS
	ordered   []FileMigration
	up        map[string]FileMigration
	down      map[string]FileMigration
	batchSize int
}

func (s set) pending(applied []string) []FileMigration {
	done := make(map[string]struct{}, len(applied))
	for _, v := range applied {
		done[v] = struct{}{}
	}
	var out []FileMigration
	for _, mig := range s.ordered {
		if _, ok := done[mig.Version]; ok {
			continue
		}
		out = append(out, mig)
		if s.batchSize > 0 && len(out) == s.batchSize {
			break
		}
	}
	return out
}

// run discovers migrations, opens a locked transaction, hands both to fn and
// commits only when commit is set and fn succeeds.
func run(ctx context.Context, conn TxStarter, fsys fs.FS, opts []Option, commit bool, fn func(pgx.Tx, set) error) error {
	if conn == nil {
		return errors.New("migrate: nil connection")
	}
	if fsys == nil {
		return errors.New("migrate: nil filesystem")
	}
	settings := resolveOptions(opts...)
	files, err := Discover(ctx, fsys, settings.Directory)
	if err != nil {
		return err
	}
	s := set{
		fsys:      fsys,
		up:        make(map[string]FileMigration, len(files)),
		down:      make(map[string]FileMigration, len(files)),
		batchSize: settings.BatchSize,
	}
	for _, f := range files {
		if f.Type == MigrationTypeDown {
			s.down[f.Version] = f
			continue
		}
		s.up[f.Version] = f
		s.ordered = append(s.ordered, f)
	}

	tx, err := conn.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("migrate: begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", settings.AdvisoryLockID); err != nil {
		return fmt.Errorf("migrate: acquire advisory lock: %w", err)
	}
	if commit {
		if _, err := tx.Exec(ctx, trackingTableDDL); err != nil {
			return fmt.Errorf("migrate: ensure tracking table: %w", err)
		}
	}
	if err := fn(tx, s); err != nil {
		return err
	}
	if !commit {
		return nil
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("migrate: commit transaction: %w", err)
	}
	committed = true
	return nil
}

func appliedVersions(ctx context.Context, tx pgx.Tx, query string) ([]string, error) {
	rows, err := tx.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("migrate: list applied versions: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("migrate: read applied versions: %w", err)
	}
	return versions, nil
}

func execFile(ctx context.Context, tx pgx.Tx, fsys fs.FS, mig FileMigration) error {
	raw, err := fs.ReadFile(fsys, mig.Path)
	if err != nil {
		return fmt.Errorf("migrate: %s: %w", mig.Path, err)
	}
	if _, err := tx.Exec(ctx, string(raw)); err != nil {
		return wrapExecError(mig.Path, string(raw), err)
	}
	return nil
}

func resolveOptions(opts ...Option) Options {
	settings := Options{
		Directory:      defaultDirectory,
		AdvisoryLockID: defaultAdvisoryLock,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&settings)
		}
	}
	return settings
}

func classify(name string) MigrationType {
	lower := strings.ToLower(name)
	for _, suffix := range []string{".down.sql", "_down.sql", "-down.sql"} {
		if strings.HasSuffix(lower, suffix) {
			return MigrationTypeDown
		}
	}
	if strings.Contains(lower, ".rollback.") {
		return MigrationTypeDown
	}
	return MigrationTypeUp
}

func wrapExecError(path, sql string, execErr error) error {
	var pgErr *pgconn.PgError
	if errors.As(execErr, &pgErr) {
		if pgErr.Line > 0 {
			return fmt.Errorf("%s:%d: %w", path, pgErr.Line, execErr)
		}
		if pgErr.Position > 0 {
			line, column := lineColumn(sql, int(pgErr.Position))
			return fmt.Errorf("%s:%d:%d: %w", path, line, column, execErr)
		}
	}
	return fmt.Errorf("%s: %w", path, execErr)
}

// lineColumn converts a 1-indexed character position into line and column.
func lineColumn(sql string, position int) (int, int) {
	line, column := 1, 1
	for i, r := range []rune(sql) {
		if i+1 >= position {
			break
		}
		if r == '\n' {
			line++
			column = 1
			continue
		}
		column++
	}
	return line, column
}
