// Package cli implements the catalog command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/deicod/catalog/internal/logging"
	"github.com/deicod/catalog/observability/metrics"
	"github.com/deicod/catalog/observability/tracing"
	"github.com/deicod/catalog/orm/pg"
	"github.com/deicod/catalog/orm/runtime"
)

// session is the per-invocation state shared by subcommands.
type session struct {
	configPath    string
	verbose       bool
	cfg           projectConfig
	logger        *slog.Logger
	closeLog      logging.CloseFunc
	correlationID string
}

var (
	openDatabase = func(ctx context.Context, dsn string, cfg projectConfig) (*pg.DB, error) {
		opts := []pg.Option{pg.WithPoolConfig(cfg.Database.Pool.options())}
		if cfg.Tracing.Enabled {
			opts = append(opts, pg.WithTracer(newTracer(cfg)))
		}
		return pg.Connect(ctx, dsn, opts...)
	}
	logOutput io.Writer = os.Stderr
)

// NewRootCmd constructs the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	return newRootCmd(&session{})
}

func newRootCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "catalog - product listing with round-trip accounting over PostgreSQL",
		Long:  "catalog manages the product catalog schema, seeds fixtures and lists products with naive, joined or batched category loading.",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return s.start(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			s.stop()
		},
	}
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.PersistentFlags().StringVar(&s.configPath, "config", defaultConfigPath, "Path to the catalog configuration file")
	cmd.PersistentFlags().BoolVarP(&s.verbose, "verbose", "v", false, "Enable verbose logging output")
	cmd.AddCommand(newMigrateCmd(s))
	cmd.AddCommand(newSeedCmd(s))
	cmd.AddCommand(newProductsCmd(s))
	return cmd
}

// Execute runs the CLI entrypoint.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	s := &session{}
	cmd := newRootCmd(s)
	if err := run(ctx, s, cmd); err != nil {
		stop()
		os.Exit(report(cmd.ErrOrStderr(), err, verboseFlag(cmd)))
	}
}

// run executes cmd and closes the session log whether or not it failed;
// cobra skips post-run hooks when RunE returns an error.
func run(ctx context.Context, s *session, cmd *cobra.Command) error {
	defer s.stop()
	return cmd.ExecuteContext(ctx)
}

func verboseFlag(cmd *cobra.Command) bool {
	v, err := cmd.PersistentFlags().GetBool("verbose")
	return err == nil && v
}

// report prints err for humans and returns the exit code to use.
func report(w io.Writer, err error, verbose bool) int {
	var cerr CommandError
	if !errors.As(err, &cerr) {
		fmt.Fprintln(w, err)
		return 1
	}
	msg := strings.TrimSpace(cerr.Message)
	if msg == "" && cerr.Cause != nil {
		msg = cerr.Cause.Error()
	}
	if msg != "" {
		fmt.Fprintln(w, msg)
	}
	if cerr.Cause != nil && msg != cerr.Cause.Error() && verbose {
		fmt.Fprintf(w, "details: %v\n", cerr.Cause)
	}
	if cerr.Suggestion != "" {
		fmt.Fprintln(w, formatSuggestion(cerr.Suggestion))
	}
	return cerr.ExitStatus()
}

func (s *session) start(cmd *cobra.Command) error {
	cfg, err := loadProjectConfig(s.configPath)
	if err != nil {
		return wrapError("catalog: read config", err, "Fix the YAML in "+s.configPath+" or pass --config.", 2)
	}
	s.cfg = cfg

	logCfg := cfg.Logging
	if s.verbose {
		logCfg.Level = "debug"
	}
	s.logger, s.closeLog = logging.Setup(logCfg, logOutput)
	s.correlationID = uuid.NewString()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(runtime.WithCorrelationID(ctx, s.correlationID))
	s.logger.Debug("command started", "command", cmd.CommandPath(), "correlation_id", s.correlationID)
	return nil
}

// stop closes the log output. It is safe to call more than once.
func (s *session) stop() {
	if s.closeLog != nil {
		_ = s.closeLog()
		s.closeLog = nil
	}
}

// connect opens the configured database and attaches an observer that logs
// every round-trip and reports it to counter.
func (s *session) connect(cmd *cobra.Command, command, profile string, counter *metrics.QueryCounter) (*pg.DB, error) {
	dsn, resolved := s.cfg.resolveDSN(profile)
	if dsn == "" {
		return nil, missingDSNError(command)
	}
	db, err := openDatabase(cmd.Context(), dsn, s.cfg)
	if err != nil {
		return nil, wrapError(fmt.Sprintf("%s: connect database (%s)", command, resolved), err, "Verify the database is reachable and credentials are correct.", 1)
	}
	var collectors []metrics.Collector
	if counter != nil {
		collectors = append(collectors, counter)
	}
	observer := runtime.QueryObserver{
		Logger:     logging.QueryLogger(s.logger),
		Collector:  metrics.WithCollector(logging.BatchCollector(s.logger), collectors...),
		Correlator: runtime.ContextCorrelation,
	}
	if s.cfg.Tracing.Enabled {
		observer.Tracer = newTracer(s.cfg)
	}
	db.UseObserver(observer)
	return db, nil
}

func newTracer(cfg projectConfig) tracing.Tracer {
	name := cfg.Tracing.Service
	if name == "" {
		name = tracing.DefaultInstrumentationName
	}
	return tracing.NewOTelTracer(otel.GetTracerProvider(), name)
}
