package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Options selects where logs go and how much is written.
type Options struct {
	// Level overrides LOG_LEVEL. Empty falls back to the environment.
	Level string
	// Format is "text" (default) or "json". LOG_FORMAT is used when empty.
	Format string
	// File receives logs instead of stderr. The live views own the
	// terminal, so sessions log to a file or not at all.
	File string
}

// ParseLevel maps a level name to a slog level. Unknown names are errors.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "dev", "development", "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "", "error", "production", "prod":
		return slog.LevelError, nil
	}
	return slog.LevelError, fmt.Errorf("logging: unknown level %q", name)
}

// New builds a logger writing to w.
func New(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init installs the default logger. The returned close func flushes and
// closes the log file, if any.
func Init(opts Options) (*slog.Logger, func() error, error) {
	name := opts.Level
	if name == "" {
		name = os.Getenv("LOG_LEVEL")
	}
	level, err := ParseLevel(name)
	if err != nil {
		return nil, nil, err
	}
	format := opts.Format
	if format == "" {
		format = os.Getenv("LOG_FORMAT")
	}

	var w io.Writer = os.Stderr
	closeFn := func() error { return nil }
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("logging: open %s: %w", opts.File, err)
		}
		w = f
		closeFn = f.Close
	}

	logger := New(w, level, format)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}
