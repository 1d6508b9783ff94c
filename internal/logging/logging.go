// Package logging builds the zerolog logger shared by the CLI, server and engine.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"scriptline/internal/config"
)

// New returns a logger writing to w (stderr when nil) in the configured
// format and level.
func New(cfg config.Log, w io.Writer) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if cfg.Format != "json" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	zerolog.TimeFieldFormat = time.RFC3339
	return zerolog.New(w).With().Timestamp().Logger().Level(ParseLevel(cfg.Level))
}

// ParseLevel maps a config level name to a zerolog level, defaulting to info.
func ParseLevel(level string) zerolog.Level {
	switch level {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Component returns a child logger tagged with a component name.
func Component(l zerolog.Logger, name string) *zerolog.Logger {
	child := l.With().Str("component", name).Logger()
	return &child
}
