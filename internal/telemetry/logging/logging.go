// Package logging configures the process-wide structured logger, built on
// github.com/joeycumines/logiface backed by github.com/joeycumines/izerolog
// (github.com/rs/zerolog). Loggers are constructed once and injected, never
// reached via a package-level var.
package logging

import (
	"io"
	"os"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// Logger is the interface-typed logiface logger every package in this
// module accepts via constructor injection.
type Logger = logiface.Logger[logiface.Event]

// Config controls logger construction.
type Config struct {
	// Writer defaults to os.Stderr.
	Writer io.Writer
	// Level defaults to LevelInformational.
	Level logiface.Level
	// Pretty enables zerolog's human-readable console writer, for
	// interactive/simulation profiles.
	Pretty bool
}

// New constructs a process-wide Logger per cfg.
func New(cfg Config) *Logger {
	w := cfg.Writer
	if w == nil {
		w = os.Stderr
	}
	if cfg.Pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}
	lvl := cfg.Level
	if lvl == 0 {
		lvl = logiface.LevelInformational
	}
	zl := zerolog.New(w).With().Timestamp().Logger()
	return izerolog.L.New(
		izerolog.L.WithZerolog(zl),
		izerolog.L.WithLevel(lvl),
	).Logger()
}

// Nop returns a logger with logging disabled, for tests.
func Nop() *Logger {
	return izerolog.L.New(
		izerolog.L.WithZerolog(zerolog.Nop()),
		izerolog.L.WithLevel(logiface.LevelDisabled),
	).Logger()
}

// WithFields is a small helper used throughout the runtime to attach a
// task/entity name to every subsequent log line from a component, without
// each package having to know the exact logiface chaining calls.
func WithFields(l *Logger, fields map[string]string) *Logger {
	ctx := l.Clone()
	for k, v := range fields {
		ctx = ctx.Str(k, v)
	}
	return ctx.Logger()
}
