package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/jackc/pgx/v5"
	"github.com/spf13/cobra"

	"github.com/deicod/catalog/migrations"
	"github.com/deicod/catalog/orm/migrate"
)

type migrationConn interface {
	migrate.TxStarter
	Close(ctx context.Context) error
}

var (
	openMigrationConn = func(ctx context.Context, url string) (migrationConn, error) {
		return pgx.Connect(ctx, url)
	}
	applyMigrations    = migrate.Apply
	planMigrations     = migrate.Plan
	rollbackMigrations = migrate.Rollback
	watchDebounce      = 200 * time.Millisecond
)

type migrateOptions struct {
	mode    string
	profile string
	dir     string
	watch   bool
}

func newMigrateCmd(s *session) *cobra.Command {
	var opts migrateOptions
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Plan, apply or roll back the catalog schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mode := strings.ToLower(strings.TrimSpace(opts.mode))
			if mode == "" {
				mode = "apply"
			}
			switch mode {
			case "plan", "apply", "rollback":
			default:
				suggestion := "Use one of plan, apply, or rollback."
				if near := closest(mode, []string{"plan", "apply", "rollback"}, 3); near != "" {
					suggestion = fmt.Sprintf("Did you mean %q? %s", near, suggestion)
				}
				return CommandError{
					Message:    fmt.Sprintf("migrate: unsupported mode %q", mode),
					Suggestion: suggestion,
					ExitCode:   2,
				}
			}
			if opts.watch && mode == "rollback" {
				return CommandError{Message: "migrate: --watch cannot be combined with --mode rollback", ExitCode: 2}
			}

			dsn, profile := s.cfg.resolveDSN(opts.profile)
			if dsn == "" {
				return missingDSNError("migrate")
			}
			ctx := cmd.Context()
			conn, err := openMigrationConn(ctx, dsn)
			if err != nil {
				return wrapError(fmt.Sprintf("migrate: connect database (%s)", profile), err, "Verify the database is reachable and credentials are correct.", 1)
			}
			defer conn.Close(context.Background())

			dir := opts.dir
			if dir == "" && opts.watch {
				dir = "migrations"
			}
			fsys := migrationSource(dir)
			if err := runMigration(ctx, cmd.OutOrStdout(), conn, fsys, mode, profile); err != nil {
				return err
			}
			s.logger.Info("migrations finished", "mode", mode, "profile", profile)
			if !opts.watch {
				return nil
			}
			return watchMigrations(cmd, dir, func() error {
				return runMigration(ctx, cmd.OutOrStdout(), conn, migrationSource(dir), mode, profile)
			})
		},
	}
	cmd.Flags().StringVar(&opts.mode, "mode", "apply", "Select plan, apply, or rollback execution mode")
	cmd.Flags().StringVar(&opts.profile, "env", "", "Target environment profile (dev, staging, prod)")
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Read migrations from this directory instead of the embedded set")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-run the migration mode whenever a .sql file in --dir changes")
	return cmd
}

// migrationSource returns the embedded migrations when dir is empty.
func migrationSource(dir string) fs.FS {
	if dir == "" {
		return migrations.FS
	}
	return os.DirFS(dir)
}

func runMigration(ctx context.Context, out io.Writer, conn migrate.TxStarter, fsys fs.FS, mode, profile string) error {
	root := migrate.WithDirectory(".")
	plan, err := planMigrations(ctx, conn, fsys, root)
	if err != nil {
		var driftErr migrate.SchemaDriftError
		if errors.As(err, &driftErr) {
			return CommandError{
				Message:    fmt.Sprintf("migrate: schema drift detected for %s", strings.Join(driftErr.Missing, ", ")),
				Cause:      err,
				Suggestion: "Restore the missing SQL files or reconcile the database state before continuing.",
				ExitCode:   1,
			}
		}
		return wrapError("migrate: plan migrations", err, "Resolve the planning error before retrying.", 1)
	}

	switch mode {
	case "plan":
		fmt.Fprintf(out, "migrate: plan for %s\n", profile)
		if len(plan.Pending) == 0 {
			fmt.Fprintln(out, "migrate: database is up-to-date")
			return nil
		}
		for _, mig := range plan.Pending {
			fmt.Fprintf(out, "  pending: %s (%s)\n", mig.Version, mig.Name)
		}
	case "apply":
		if len(plan.Pending) == 0 {
			fmt.Fprintln(out, "migrate: database is up-to-date")
			return nil
		}
		fmt.Fprintf(out, "migrate: applying %d migration(s)\n", len(plan.Pending))
		if err := applyMigrations(ctx, conn, fsys, root); err != nil {
			return wrapError("migrate: apply migrations", err, "Fix the failing migration and re-run `catalog migrate --mode apply`.", 1)
		}
		fmt.Fprintln(out, "migrate: completed successfully")
	case "rollback":
		reverted, err := rollbackMigrations(ctx, conn, fsys, root)
		if err != nil {
			if errors.Is(err, migrate.ErrNoAppliedMigrations) {
				return CommandError{
					Message:    "migrate: no applied migrations to rollback",
					Cause:      err,
					Suggestion: "Apply at least one migration before running rollback.",
					ExitCode:   1,
				}
			}
			return wrapError("migrate: rollback", err, "Ensure a matching *_down.sql exists and the database is reachable.", 1)
		}
		fmt.Fprintf(out, "migrate: rolled back %s (%s)\n", reverted.Version, reverted.Name)
	}
	return nil
}

// watchMigrations calls run after each burst of .sql changes under dir until
// the command context is cancelled.
func watchMigrations(cmd *cobra.Command, dir string, run func() error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return wrapError(fmt.Sprintf("migrate: watch failed: %v", err), err, "Install inotify/fsevents support and retry.", 1)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return wrapError(fmt.Sprintf("migrate: unable to watch %s: %v", dir, err), err, "Ensure the migrations directory exists before using --watch.", 1)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "migrate: watching %s for changes\n", dir)

	debounce := time.NewTimer(0)
	if !debounce.Stop() {
		<-debounce.C
	}
	pending := false
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isMigrationEvent(event) {
				continue
			}
			pending = true
			if !debounce.Stop() {
				select {
				case <-debounce.C:
				default:
				}
			}
			debounce.Reset(watchDebounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "migrate: watch error: %v\n", err)
		case <-debounce.C:
			if !pending {
				continue
			}
			pending = false
			if err := run(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "migrate: watch run failed: %v\n", err)
			}
		}
	}
}

func isMigrationEvent(event fsnotify.Event) bool {
	if event.Name == "" || !strings.EqualFold(filepath.Ext(event.Name), ".sql") {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}
