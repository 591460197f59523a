// Package logger wraps zerolog with the field conventions used across
// pagesql's components: a Component sub-logger tags its lines with a
// "component" name, and a Logger built with Config.InstanceID set tags
// every line with an "engine" instance id, so interleaved log output from
// multiple open engines (common in tests) stays attributable.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls how a Logger is constructed.
type Config struct {
	Level      string // "debug", "info", "warn", "error"; default "info"
	Pretty     bool
	Output     io.Writer // default os.Stderr
	InstanceID string    // e.g. the engine's uuid
}

// Logger is a thin component-scoped wrapper around zerolog.Logger.
type Logger struct {
	zlog zerolog.Logger
}

// New builds a root Logger from cfg.
func New(cfg Config) *Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	base := zerolog.New(out).With().Timestamp()
	if cfg.InstanceID != "" {
		base = base.Str("engine", cfg.InstanceID)
	}
	return &Logger{zlog: base.Logger()}
}

// Nop returns a Logger that discards everything, for tests that don't care.
func Nop() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// Component returns a child Logger tagging every line with the given
// component name (e.g. "pager", "btree", "wal", "catalog", "engine").
func (l *Logger) Component(name string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", name).Logger()}
}

func (l *Logger) Debug() *zerolog.Event { return l.zlog.Debug() }
func (l *Logger) Info() *zerolog.Event  { return l.zlog.Info() }
func (l *Logger) Warn() *zerolog.Event  { return l.zlog.Warn() }
func (l *Logger) Error() *zerolog.Event { return l.zlog.Error() }
func (l *Logger) Fatal() *zerolog.Event { return l.zlog.Fatal() }

// Zerolog exposes the underlying zerolog.Logger for callers that need the
// full event-builder API beyond the leveled helpers above.
func (l *Logger) Zerolog() zerolog.Logger { return l.zlog }
