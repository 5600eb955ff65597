// Package logging configures log/slog for the catalog binary and adapts it to
// the store's query logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config selects the level, encoding and destination of log output.
type Config struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// CloseFunc releases the log destination. It is safe to call for stdout and
// stderr.
type CloseFunc func() error

// Setup builds a logger from cfg. Output "stdout", "stderr" or empty uses
// fallback when non-nil; any other value is opened as an append-only file.
// A file that cannot be opened also falls back.
func Setup(cfg Config, fallback io.Writer) (*slog.Logger, CloseFunc) {
	writer, closer := openOutput(cfg.Output, fallback)
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler), closer
}

// ParseLevel maps a level name to slog.Level. Unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func openOutput(output string, fallback io.Writer) (io.Writer, CloseFunc) {
	noop := func() error { return nil }
	pick := func(std io.Writer) io.Writer {
		if fallback != nil {
			return fallback
		}
		return std
	}

	switch strings.ToLower(output) {
	case "", "stdout":
		return pick(os.Stdout), noop
	case "stderr":
		return pick(os.Stderr), noop
	}
	file, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644) //nolint:gosec // path comes from the config file
	if err != nil {
		slog.Warn("failed to open log file, falling back", "path", output, "error", err)
		return pick(os.Stdout), noop
	}
	return file, file.Close
}
