// Package logging wraps log/slog with the field names and operation helpers
// shared by the allocator and the trace optimizer.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/time/rate"
)

// DefaultMaxWarnings is the warning burst allowed before throttling kicks in.
const DefaultMaxWarnings = 16

// Logger wraps slog.Logger with tier2-specific context.
type Logger struct {
	*slog.Logger
	warnings *rate.Limiter
}

// New creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func New(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger:   slog.New(handler),
		warnings: newWarningLimiter(DefaultMaxWarnings),
	}
}

// NewJSON creates a Logger that outputs JSON-formatted logs.
func NewJSON(level slog.Level) *Logger {
	return New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewText creates a Logger that outputs human-readable text logs.
func NewText(level slog.Level) *Logger {
	return New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// Noop creates a Logger that discards all log output.
func Noop() *Logger {
	return New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	}))
}

// newWarningLimiter allows a burst of max warnings and then one per minute.
func newWarningLimiter(max int) *rate.Limiter {
	if max <= 0 {
		return rate.NewLimiter(0, 0)
	}
	return rate.NewLimiter(rate.Every(time.Minute), max)
}

// WithMaxWarnings returns a copy whose throttled warnings allow a burst of max.
// A max of zero silences throttled warnings entirely.
func (l *Logger) WithMaxWarnings(max int) *Logger {
	return &Logger{Logger: l.Logger, warnings: newWarningLimiter(max)}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), warnings: l.warnings}
}

// WithComponent tags records with the emitting component.
func (l *Logger) WithComponent(name string) *Logger {
	return l.with("component", name)
}

// WithArena adds an arena index field.
func (l *Logger) WithArena(index int) *Logger {
	return l.with("arena", index)
}

// WithNode adds a NUMA node field.
func (l *Logger) WithNode(node int) *Logger {
	return l.with("numa_node", node)
}

// WithTrace adds a trace identifier field.
func (l *Logger) WithTrace(id uint64) *Logger {
	return l.with("trace", id)
}

// WarnThrottled logs a warning unless the warning budget is exhausted.
func (l *Logger) WarnThrottled(ctx context.Context, msg string, args ...any) {
	if l.warnings != nil && !l.warnings.Allow() {
		return
	}
	l.WarnContext(ctx, msg, args...)
}

// LogReserve logs an OS reservation that backs a new arena.
func (l *Logger) LogReserve(ctx context.Context, size uint64, large bool, node int, err error) {
	if err != nil {
		l.WarnThrottled(ctx, "arena reservation failed",
			"size_kib", size/1024,
			"large", large,
			"numa_node", node,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "arena reserved",
		"size_kib", size/1024,
		"large", large,
		"numa_node", node,
	)
}

// LogFallback logs an allocation served directly by the OS.
func (l *Logger) LogFallback(ctx context.Context, size, alignment uint64, reason string) {
	l.WarnThrottled(ctx, "allocating directly from the OS",
		"size", size,
		"alignment", alignment,
		"reason", reason,
	)
}

// LogCorruption logs a detected heap invariant violation.
func (l *Logger) LogCorruption(ctx context.Context, addr uintptr, size uint64, memID uint64, err error) {
	l.ErrorContext(ctx, "arena corruption detected",
		"addr", addr,
		"size", size,
		"memid", memID,
		"error", err,
	)
}

// LogOptimize logs the outcome of one optimizer pass.
func (l *Logger) LogOptimize(ctx context.Context, length, eliminated int, err error) {
	if err != nil {
		l.DebugContext(ctx, "trace optimization aborted",
			"length", length,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "trace optimized",
		"length", length,
		"eliminated", eliminated,
	)
}

// LogInvalidate logs an executor invalidation sweep.
func (l *Logger) LogInvalidate(ctx context.Context, objID uint64, invalidated int) {
	if invalidated == 0 {
		return
	}
	l.InfoContext(ctx, "executors invalidated",
		"object", objID,
		"count", invalidated,
	)
}
