package tier2

import (
	"log/slog"

	"github.com/hupe1980/tier2/internal/logging"
)

// Logger is the structured logger shared by the allocator and the
// optimizer. Warnings such as OS fallbacks are throttled.
type Logger = logging.Logger

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	return logging.New(handler)
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
func NewJSONLogger(level slog.Level) *Logger {
	return logging.NewJSON(level)
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return logging.NewText(level)
}

// NoopLogger creates a Logger that discards all output.
func NoopLogger() *Logger {
	return logging.Noop()
}
