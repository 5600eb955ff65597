package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/deicod/catalog/internal/catalog"
	"github.com/deicod/catalog/orm/migrate"
	"github.com/deicod/catalog/orm/pg"
	testkit "github.com/deicod/catalog/testing"
)

const selectRelatedSQL = "SELECT products.id, products.title, categories.name FROM products INNER JOIN categories ON categories.id = products.category_id ORDER BY products.id ASC"

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	t.Setenv(envDatabaseURL, "")
	t.Setenv(envProfile, "")
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func useSandbox(t *testing.T) *testkit.Sandbox {
	t.Helper()
	sandbox := testkit.NewPostgresSandbox(t)
	prevOpen, prevOut := openDatabase, logOutput
	openDatabase = func(context.Context, string, projectConfig) (*pg.DB, error) {
		return sandbox.DB(), nil
	}
	logOutput = io.Discard
	t.Cleanup(func() { openDatabase, logOutput = prevOpen, prevOut })
	return sandbox
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestProductsCommandTable(t *testing.T) {
	cfg := writeConfig(t, "database:\n  url: postgres://localhost/catalog\n")
	sandbox := useSandbox(t)
	mock := sandbox.Mock()
	f := testkit.DefaultFixture()
	rows := mock.NewRows([]string{"id", "title", "name"})
	for _, p := range f.Products {
		rows.AddRow(p.ID, p.Title, f.Category.Name)
	}
	mock.ExpectQuery(selectRelatedSQL).WillReturnRows(rows)

	out, err := runCLI(t, "products", "--config", cfg)
	if err != nil {
		t.Fatalf("products: %v", err)
	}
	if !strings.Contains(out, "product_9") || !strings.Contains(out, "Test category") {
		t.Fatalf("missing records in output:\n%s", out)
	}
	if !strings.Contains(out, "9 product(s), 1 queries (strategy select-related, expected 1)") {
		t.Fatalf("missing query summary in output:\n%s", out)
	}
	sandbox.ExpectationsWereMet(t)
}

func TestProductsCommandJSONNaive(t *testing.T) {
	cfg := writeConfig(t, "database:\n  url: postgres://localhost/catalog\nlogging:\n  level: debug\n")
	sandbox := useSandbox(t)
	mock := sandbox.Mock()
	f := testkit.NewFixture("Books", 2)
	mock.ExpectQuery("SELECT id, title, category_id FROM products ORDER BY id ASC").WillReturnRows(testkit.SeedRows(f))
	for range f.Products {
		mock.ExpectQuery("SELECT id, name FROM categories WHERE id = $1").
			WithArgs(f.Category.ID).
			WillReturnRows(mock.NewRows([]string{"id", "name"}).AddRow(f.Category.ID, f.Category.Name))
	}

	cmd := NewRootCmd()
	var stdout bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"products", "--config", cfg, "--strategy", "naive", "--format", "json"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("products: %v", err)
	}

	var report productsReport
	if err := json.Unmarshal(stdout.Bytes(), &report); err != nil {
		t.Fatalf("decode output %q: %v", stdout.String(), err)
	}
	if report.Queries != 3 || report.Expected != 3 || len(report.Products) != 2 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if report.Products[1].Title != "product_2" || report.Products[1].Category != "Books" {
		t.Fatalf("unexpected record: %+v", report.Products[1])
	}
	sandbox.ExpectationsWereMet(t)
}

func TestProductsUnknownStrategySuggestsClosest(t *testing.T) {
	cfg := writeConfig(t, "database:\n  url: postgres://localhost/catalog\n")
	useSandbox(t)

	_, err := runCLI(t, "products", "--config", cfg, "--strategy", "selct-related")
	var cerr CommandError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CommandError, got %v", err)
	}
	if cerr.ExitStatus() != 2 || !strings.Contains(cerr.Suggestion, `"select-related"`) {
		t.Fatalf("unexpected error: %+v", cerr)
	}
}

func TestFailedCommandClosesLogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "catalog.log")
	cfg := writeConfig(t, "database:\n  url: postgres://localhost/catalog\nlogging:\n  output: "+logPath+"\n")
	useSandbox(t)

	s := &session{}
	cmd := newRootCmd(s)
	cmd.SetOut(io.Discard)
	cmd.SetErr(io.Discard)
	cmd.SetArgs([]string{"products", "--config", cfg, "--verbose", "--strategy", "bogus"})
	if err := run(context.Background(), s, cmd); err == nil {
		t.Fatalf("expected unknown strategy to fail")
	}
	if s.logger == nil {
		t.Fatalf("expected session to have started")
	}
	if s.closeLog != nil {
		t.Fatalf("expected log output to be closed after a failed command")
	}
	data, err := os.ReadFile(logPath)
	if err != nil || !strings.Contains(string(data), "command started") {
		t.Fatalf("expected log file to hold the start entry, got %q, %v", data, err)
	}
}

func TestProductsRejectsUnknownFormat(t *testing.T) {
	cfg := writeConfig(t, "database:\n  url: postgres://localhost/catalog\n")
	useSandbox(t)

	_, err := runCLI(t, "products", "--config", cfg, "--format", "xml")
	var cerr CommandError
	if !errors.As(err, &cerr) || cerr.ExitStatus() != 2 {
		t.Fatalf("expected usage error, got %v", err)
	}
}

func TestCommandsRequireDatabaseURL(t *testing.T) {
	cfg := writeConfig(t, "logging:\n  format: text\n")
	useSandbox(t)

	for _, args := range [][]string{
		{"products", "--config", cfg},
		{"seed", "--config", cfg},
		{"migrate", "--config", cfg},
	} {
		_, err := runCLI(t, args...)
		var cerr CommandError
		if !errors.As(err, &cerr) || cerr.ExitStatus() != 2 || !strings.Contains(cerr.Message, "database.url") {
			t.Fatalf("%v: expected missing database url error, got %v", args, err)
		}
	}
}

func TestSeedCommand(t *testing.T) {
	cfg := writeConfig(t, "database:\n  url: postgres://localhost/catalog\n")
	sandbox := useSandbox(t)
	mock := sandbox.Mock()
	mock.ExpectBegin()
	sandbox.ExpectSeed(testkit.NewFixture("Books", 3))
	mock.ExpectCommit()

	out, err := runCLI(t, "seed", "--config", cfg, "--category", "Books", "--products", "3")
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if !strings.Contains(out, `created category "Books" (id 1) with 3 product(s) in 2 queries`) {
		t.Fatalf("unexpected output: %s", out)
	}
	sandbox.ExpectationsWereMet(t)
}

func TestSeedCommandRejectsNegativeCount(t *testing.T) {
	cfg := writeConfig(t, "database:\n  url: postgres://localhost/catalog\n")
	useSandbox(t)
	if _, err := runCLI(t, "seed", "--config", cfg, "--products", "-2"); err == nil {
		t.Fatalf("expected error for negative product count")
	}
}

type fakeMigrationConn struct{ closed bool }

func (c *fakeMigrationConn) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	return nil, errors.New("not used")
}

func (c *fakeMigrationConn) Close(context.Context) error {
	c.closed = true
	return nil
}

func stubMigrations(t *testing.T, plan migrate.PlanResult, planErr error) (*fakeMigrationConn, *int) {
	t.Helper()
	conn := &fakeMigrationConn{}
	applied := 0
	prevOpen, prevPlan, prevApply, prevRollback := openMigrationConn, planMigrations, applyMigrations, rollbackMigrations
	openMigrationConn = func(context.Context, string) (migrationConn, error) { return conn, nil }
	planMigrations = func(context.Context, migrate.TxStarter, fs.FS, ...migrate.Option) (migrate.PlanResult, error) {
		return plan, planErr
	}
	applyMigrations = func(context.Context, migrate.TxStarter, fs.FS, ...migrate.Option) error {
		applied++
		return nil
	}
	rollbackMigrations = func(context.Context, migrate.TxStarter, fs.FS, ...migrate.Option) (migrate.FileMigration, error) {
		return migrate.FileMigration{}, migrate.ErrNoAppliedMigrations
	}
	t.Cleanup(func() {
		openMigrationConn, planMigrations, applyMigrations, rollbackMigrations = prevOpen, prevPlan, prevApply, prevRollback
	})
	return conn, &applied
}

func TestMigratePlanAndApply(t *testing.T) {
	cfg := writeConfig(t, "database:\n  url: postgres://localhost/catalog\n  environments:\n    staging:\n      url: postgres://staging/catalog\n")
	useSandbox(t)
	pending := migrate.PlanResult{Pending: []migrate.FileMigration{{Version: "0001", Name: "0001_catalog.sql"}}}
	conn, applied := stubMigrations(t, pending, nil)

	out, err := runCLI(t, "migrate", "--config", cfg, "--mode", "plan", "--env", "staging")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !strings.Contains(out, "migrate: plan for staging") || !strings.Contains(out, "pending: 0001 (0001_catalog.sql)") {
		t.Fatalf("unexpected plan output: %s", out)
	}
	if *applied != 0 {
		t.Fatalf("plan must not apply migrations")
	}

	out, err = runCLI(t, "migrate", "--config", cfg)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if *applied != 1 || !strings.Contains(out, "migrate: completed successfully") {
		t.Fatalf("expected one apply, got %d; output: %s", *applied, out)
	}
	if !conn.closed {
		t.Fatalf("expected migration connection to be closed")
	}
}

func TestMigrateErrors(t *testing.T) {
	cfg := writeConfig(t, "database:\n  url: postgres://localhost/catalog\n")
	useSandbox(t)

	stubMigrations(t, migrate.PlanResult{}, migrate.SchemaDriftError{Missing: []string{"0009"}})
	_, err := runCLI(t, "migrate", "--config", cfg)
	var cerr CommandError
	if !errors.As(err, &cerr) || !strings.Contains(cerr.Message, "schema drift detected for 0009") {
		t.Fatalf("expected drift error, got %v", err)
	}

	stubMigrations(t, migrate.PlanResult{}, nil)
	_, err = runCLI(t, "migrate", "--config", cfg, "--mode", "rollback")
	if !errors.Is(err, migrate.ErrNoAppliedMigrations) {
		t.Fatalf("expected ErrNoAppliedMigrations, got %v", err)
	}

	_, err = runCLI(t, "migrate", "--config", cfg, "--mode", "aply")
	if !errors.As(err, &cerr) || cerr.ExitStatus() != 2 || !strings.Contains(cerr.Suggestion, `"apply"`) {
		t.Fatalf("expected unsupported mode error with suggestion, got %v", err)
	}

	_, err = runCLI(t, "migrate", "--config", cfg, "--mode", "rollback", "--watch")
	if !errors.As(err, &cerr) || cerr.ExitStatus() != 2 {
		t.Fatalf("expected --watch with rollback to be rejected, got %v", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	cfg := writeConfig(t, "database: [unterminated\n")
	_, err := runCLI(t, "products", "--config", cfg)
	var cerr CommandError
	if !errors.As(err, &cerr) || cerr.ExitStatus() != 2 {
		t.Fatalf("expected config error, got %v", err)
	}
}

func TestLoadProjectConfig(t *testing.T) {
	path := writeConfig(t, `database:
  url: postgres://localhost/catalog
  environments:
    prod:
      url: postgres://prod/catalog
  pool:
    max_conns: 20
    max_conn_lifetime: 30m
logging:
  level: debug
  format: text
tracing:
  enabled: true
  service: catalog-cli
`)
	cfg, err := loadProjectConfig(path)
	if err != nil {
		t.Fatalf("loadProjectConfig: %v", err)
	}
	if cfg.Database.Pool.MaxConns != 20 || cfg.Database.Pool.MaxConnLifetime != 30*time.Minute {
		t.Fatalf("unexpected pool config: %+v", cfg.Database.Pool)
	}
	if cfg.Logging.Format != "text" || !cfg.Tracing.Enabled || cfg.Tracing.Service != "catalog-cli" {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if opts := cfg.Database.Pool.options(); opts.MaxConns != 20 || opts.MinConns != 0 {
		t.Fatalf("unexpected pool options: %+v", opts)
	}

	dsn, profile := cfg.resolveDSN("")
	if dsn != "postgres://localhost/catalog" || profile != "dev" {
		t.Fatalf("default profile resolved to %q (%s)", dsn, profile)
	}
	t.Setenv(envProfile, "prod")
	if dsn, _ := cfg.resolveDSN(""); dsn != "postgres://prod/catalog" {
		t.Fatalf("CATALOG_ENV ignored, got %q", dsn)
	}
	t.Setenv(envDatabaseURL, "postgres://override/catalog")
	if dsn, _ := cfg.resolveDSN("prod"); dsn != "postgres://override/catalog" {
		t.Fatalf("CATALOG_DATABASE_URL must win, got %q", dsn)
	}

	missing, err := loadProjectConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil || missing.Database.URL != "" {
		t.Fatalf("missing file should yield zero config, got %+v, %v", missing, err)
	}
}

func TestReport(t *testing.T) {
	var buf bytes.Buffer
	code := report(&buf, CommandError{Message: "boom", Cause: errors.New("root cause"), Suggestion: "retry", ExitCode: 3}, true)
	if code != 3 {
		t.Fatalf("expected exit code 3, got %d", code)
	}
	out := buf.String()
	if !strings.Contains(out, "boom\n") || !strings.Contains(out, "details: root cause") || !strings.Contains(out, "hint: retry") {
		t.Fatalf("unexpected report output: %q", out)
	}

	buf.Reset()
	if code := report(&buf, errors.New("plain"), false); code != 1 || buf.String() != "plain\n" {
		t.Fatalf("unexpected plain report: %d %q", code, buf.String())
	}
}

func TestClosest(t *testing.T) {
	candidates := []string{"naive", "select-related", "prefetch-related"}
	cases := map[string]string{
		"prefetch":      "prefetch-related",
		"select":        "select-related",
		"pre":           "prefetch-related",
		"selct-related": "select-related",
		"niave":         "naive",
		"joined":        "",
		"zzz":           "",
		"":              "",
	}
	for input, want := range cases {
		if got := closest(input, candidates, maxSuggestionDistance); got != want {
			t.Fatalf("closest(%q) = %q, want %q", input, got, want)
		}
	}
	if got := closest("se", []string{"select-related", "sel"}, maxSuggestionDistance); got != "sel" {
		t.Fatalf("expected shortest prefixed candidate, got %q", got)
	}
}

func TestUnknownStrategySuggestions(t *testing.T) {
	cases := map[string]string{
		"prefetch": `Did you mean "prefetch-related"?`,
		"select":   `Did you mean "select-related"?`,
		"Joined":   `Did you mean "select-related"?`,
		"batch":    `Did you mean "prefetch-related"?`,
		"zzz":      "",
	}
	for input, want := range cases {
		var cerr CommandError
		if !errors.As(unknownStrategyError(input, errors.New("unknown")), &cerr) {
			t.Fatalf("%s: expected CommandError", input)
		}
		if !errors.Is(cerr, catalog.ErrUnknownStrategy) {
			t.Fatalf("%s: expected ErrUnknownStrategy in chain", input)
		}
		if want == "" {
			if strings.Contains(cerr.Suggestion, "Did you mean") {
				t.Fatalf("%s: unexpected suggestion %q", input, cerr.Suggestion)
			}
			continue
		}
		if !strings.HasPrefix(cerr.Suggestion, want) {
			t.Fatalf("%s: suggestion %q, want prefix %q", input, cerr.Suggestion, want)
		}
	}
}

func TestIsMigrationEvent(t *testing.T) {
	cases := []struct {
		event fsnotify.Event
		want  bool
	}{
		{fsnotify.Event{Name: "migrations/0002_x.sql", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "migrations/0002_x.SQL", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "migrations/0002_x.sql", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "migrations/notes.md", Op: fsnotify.Write}, false},
		{fsnotify.Event{}, false},
	}
	for _, tc := range cases {
		if got := isMigrationEvent(tc.event); got != tc.want {
			t.Fatalf("isMigrationEvent(%v) = %v, want %v", tc.event, got, tc.want)
		}
	}
}

func TestWatchMigrationsRerunsOnChange(t *testing.T) {
	dir := t.TempDir()
	prev := watchDebounce
	watchDebounce = 10 * time.Millisecond
	t.Cleanup(func() { watchDebounce = prev })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd := &cobra.Command{}
	cmd.SetContext(ctx)
	cmd.SetErr(io.Discard)

	ran := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- watchMigrations(cmd, dir, func() error {
			select {
			case ran <- struct{}{}:
			default:
			}
			return nil
		})
	}()

	deadline := time.After(5 * time.Second)
	tick := time.NewTicker(25 * time.Millisecond)
	defer tick.Stop()
loop:
	for i := 0; ; i++ {
		select {
		case <-ran:
			break loop
		case <-tick.C:
			// the watcher may not be registered yet, so keep touching files
			name := filepath.Join(dir, "0002_change.sql")
			if err := os.WriteFile(name, []byte("SELECT "+string(rune('0'+i%10))+";"), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
		case <-deadline:
			t.Fatalf("watch did not re-run migrations")
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("watch returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("watch did not stop after cancellation")
	}
}
