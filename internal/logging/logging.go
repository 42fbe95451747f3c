// Package logging constructs the zerolog loggers used across the harness.
//
// DESIGN: One root logger per process. Components derive their own logger via
// Component(), which tags every event with a "component" field. Console format
// (color, HH:MM:SS) when attached to a terminal, JSON otherwise.
package logging

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Config controls root logger construction.
type Config struct {
	Level  string `yaml:"level"`  // trace|debug|info|warn|error (default info)
	Format string `yaml:"format"` // console|json|auto (default auto)
	Output string `yaml:"output"` // stderr|stdout|<file path> (default stderr)
}

type contextKey string

// SessionIDKey carries the active ATIF session ID through contexts so chat
// and sandbox calls can tag their log events.
const SessionIDKey contextKey = "session_id"

// New builds a logger from cfg.
func New(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var writer io.Writer
	var fd uintptr
	switch cfg.Output {
	case "stdout":
		writer, fd = os.Stdout, os.Stdout.Fd()
	case "stderr", "":
		writer, fd = os.Stderr, os.Stderr.Fd()
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			writer, fd = os.Stderr, os.Stderr.Fd()
		} else {
			writer = f
		}
	}

	format := cfg.Format
	if format == "" || format == "auto" {
		if fd != 0 && term.IsTerminal(int(fd)) {
			format = "console"
		} else {
			format = "json"
		}
	}
	if format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: "15:04:05"}
	}

	return zerolog.New(writer).Level(level).With().Timestamp().Logger()
}

// Global installs a logger built from cfg as the process-wide default.
func Global(cfg Config) zerolog.Logger {
	logger := New(cfg)
	log.Logger = logger
	return logger
}

// Component derives a logger tagged with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// SessionIDFromContext retrieves the session ID from ctx, if any.
func SessionIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(SessionIDKey).(string); ok {
		return id
	}
	return ""
}

// WithSessionID returns a context carrying the session ID.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, SessionIDKey, sessionID)
}
