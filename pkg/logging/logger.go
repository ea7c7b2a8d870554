// Package logging configures zerolog for the harvester.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs every page and request.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs batch progress and run summaries.
	LevelInfo LogLevel = "info"

	// LevelWarn logs unit failures and cool-downs.
	LevelWarn LogLevel = "warn"

	// LevelError logs setup failures only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var output = cfg.Output
	if output == nil {
		output = os.Stderr
	}
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: output}
	}

	logger := zerolog.New(output).With().Timestamp().Logger()
	log.Logger = logger

	return logger
}

// ValidateLevel reports an error for level names Setup would not recognize.
func ValidateLevel(level string) error {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("unknown log level %q", level)
	}
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// WithRun tags logger with a run id so the lines of concurrent runs can be
// told apart.
func WithRun(logger zerolog.Logger, runID string) zerolog.Logger {
	return logger.With().Str("run_id", runID).Logger()
}

// Log Level Guidelines:
//
// Debug: per-request and per-page flow
//   - Probe verdicts
//   - Pages fetched (edges, has_more)
//   - Duplicate rows dropped
//
// Info: run progress
//   - Batch start, dispatch progress every N units
//   - Run summaries (rows, duplicates, failed)
//   - Metrics server startup/shutdown
//
// Warn: conditions that lose or delay data
//   - Unit failures (with partial record counts)
//   - Cool-downs triggered
//   - Circuit breaker state changes
//   - Units abandoned after their grace period
//
// Error: setup failures
//   - Invalid configuration
//   - Unreadable input, unwritable output
//
// Context Fields:
//   - component: package emitting the line
//   - run_id: harvest run
//   - job: professors or reviews
//   - unit / resource: work item key or resource reference
//   - error_class: client, server, rate_limit, network, timeout, malformed, circuit_open
//   - duration, cooldown, remaining
