// Package log provides structured logging for the lightfold prover. It
// wraps zerolog with per-module child loggers and optional file rotation.
package log

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config controls the process logger.
type Config struct {
	// Level is one of debug, info, warn, error. Unknown values mean info.
	Level string

	// Console switches from JSON to human-readable console output.
	Console bool

	// File, when set, sends output to a size-rotated log file instead of
	// stderr.
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// New builds the root logger.
func New(cfg Config) zerolog.Logger {
	var out io.Writer = os.Stderr
	if cfg.File != "" {
		out = &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
		}
	}
	if cfg.Console {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(parseLevel(cfg.Level)).With().Timestamp().Logger()
}

// Module returns a child logger tagged with the subsystem name. This is the
// primary way subsystems (driver, relay, node, ...) obtain their own
// contextual logger.
func Module(l zerolog.Logger, name string) zerolog.Logger {
	return l.With().Str("module", name).Logger()
}

// Nop returns a logger that discards everything; handy in tests.
func Nop() zerolog.Logger { return zerolog.Nop() }

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(s) {
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

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
