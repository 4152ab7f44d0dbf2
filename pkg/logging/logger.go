// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
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
	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
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

// OpenRunLog creates a timestamped log file under outputDir/logs and
// returns it. Each collection run gets its own file, for example
// output/logs/inventory_20240115_143000.log. The caller owns the file
// and closes it when the run finishes.
func OpenRunLog(outputDir string) (*os.File, error) {
	logDir := filepath.Join(outputDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", logDir, err)
	}

	name := fmt.Sprintf("inventory_%s.log", time.Now().Format("20060102_150405"))
	f, err := os.Create(filepath.Join(logDir, name))
	if err != nil {
		return nil, fmt.Errorf("create run log file: %w", err)
	}
	return f, nil
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Page cursors and per-page node counts
//   - Credential probe results (remaining quota, reset time)
//   - Cache operations (hit/miss, key, TTL)
//   - Per-request timing
//
// Info: Normal operation events
//   - Organization collection started/finished
//   - Credential rotation
//   - Sink writes (CSV rows, database upserts)
//   - Run summary totals
//
// Warn: Warning conditions that don't prevent operation
//   - Permission-denied fields in responses
//   - Enrichment fallback to zero values
//   - Low remaining quota, cooldown waits
//   - Retry attempts
//
// Error: Error conditions requiring attention
//   - Failed requests (after retries)
//   - Organization skipped after unrecoverable failure
//   - Sink write failures
//   - Configuration errors
//
// Context Fields:
//   - org: organization login
//   - repo: repository name
//   - endpoint: API endpoint path
//   - status_code: HTTP status code
//   - duration: request duration
//   - error_class: error classification (forbidden, quota, transient, network)
//   - remaining: credential quota remaining
//   - cache_hit: boolean indicating cache hit
