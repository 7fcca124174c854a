// Package corallog configures the process-wide structured logger used by
// every other Coral package.
package corallog

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance. Init must be called once before
// any Coral component starts logging; until then it writes to stderr
// with no level of its own (zerolog's global default, debug), so early
// startup errors are never silently dropped.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Level is a Coral log level, decoupled from zerolog's own type so
// callers never need to import zerolog directly.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config holds logging configuration for Init.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init initializes the global logger.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithComponent creates a child logger tagged with the owning component
// (e.g. "agent", "execution", "discovery").
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithSlaveID tags a child logger with the slave a log line is about.
func WithSlaveID(base zerolog.Logger, slaveID uint16) zerolog.Logger {
	return base.With().Uint16("slave_id", slaveID).Logger()
}

// WithExecutionName tags a child logger with the owning execution.
func WithExecutionName(base zerolog.Logger, name string) zerolog.Logger {
	return base.With().Str("execution", name).Logger()
}

// WithStepID tags a child logger with the step a log line is about.
func WithStepID(base zerolog.Logger, stepID uint64) zerolog.Logger {
	return base.With().Uint64("step_id", stepID).Logger()
}
