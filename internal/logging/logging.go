// Package logging configures structured logging for Thoth.
//
// Log records are JSON when LOG_FORMAT=json is set or when stderr is not a
// terminal (the normal case when running behind a log pipeline); otherwise a
// human-readable text handler is used. All records pass through a redaction
// handler before formatting so that secrets never reach the pipeline.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// Config contains logging configuration.
type Config struct {
	// Level is the minimum log level (debug, info, warn, error).
	Level string
	// Format is "json", "text", or "" for auto-detection.
	Format string
	// Output is the destination writer. Defaults to stderr.
	Output io.Writer
}

// DefaultConfig returns the default logging configuration.
// Format honors the LOG_FORMAT environment variable.
func DefaultConfig() Config {
	return Config{
		Level:  "info",
		Format: os.Getenv("LOG_FORMAT"),
	}
}

// Setup builds the logger described by cfg.
func Setup(cfg Config) *slog.Logger {
	output := cfg.Output
	if output == nil {
		output = os.Stderr
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}

	var handler slog.Handler
	if useJSON(cfg.Format) {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(NewRedactHandler(handler))
}

// SetupDefault configures the process-wide default logger.
func SetupDefault() *slog.Logger {
	logger := Setup(DefaultConfig())
	slog.SetDefault(logger)
	return logger
}

// useJSON decides between JSON and text output.
// Explicit LOG_FORMAT wins; otherwise JSON unless stderr is a terminal.
func useJSON(format string) bool {
	switch strings.ToLower(format) {
	case "json":
		return true
	case "text":
		return false
	}
	return !isatty.IsTerminal(os.Stderr.Fd())
}

// parseLevel converts string level to slog.Level.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
