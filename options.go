package tier2

import (
	"github.com/hupe1980/tier2/internal/arena"
	"github.com/hupe1980/tier2/internal/executor"
	"github.com/hupe1980/tier2/internal/mmap"
	"github.com/hupe1980/tier2/internal/optimizer"
)

// ArenaConfig holds the allocator tunables.
type ArenaConfig = arena.Config

// OptimizerConfig holds the optimizer limits.
type OptimizerConfig = optimizer.Config

// DefaultArenaConfig returns the default allocator configuration: 32 MiB
// blocks, up to 64 arenas, no startup reservations.
func DefaultArenaConfig() ArenaConfig { return arena.DefaultConfig() }

// DefaultOptimizerConfig returns the default optimizer limits.
func DefaultOptimizerConfig() OptimizerConfig { return optimizer.DefaultConfig() }

type options struct {
	arena            ArenaConfig
	optimizer        OptimizerConfig
	cacheSize        int
	metricsCollector MetricsCollector
	logger           *Logger
	os               mmap.OS
	onCorruption     arena.CorruptionHandler
}

func defaultOptions() options {
	return options{
		arena:            arena.DefaultConfig(),
		optimizer:        optimizer.DefaultConfig(),
		cacheSize:        executor.DefaultCacheSize,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
}

// Option configures New.
type Option func(*options)

// WithArenaConfig replaces the allocator configuration.
func WithArenaConfig(cfg ArenaConfig) Option {
	return func(o *options) {
		o.arena = cfg
	}
}

// WithOptimizerConfig replaces the optimizer configuration.
func WithOptimizerConfig(cfg OptimizerConfig) Option {
	return func(o *options) {
		o.optimizer = cfg
	}
}

// WithExecutorCacheSize sets how many optimized traces are cached by their
// instruction hash.
func WithExecutorCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithMetricsCollector sets a metrics collector for allocator and optimizer
// events.
//
// If nil is passed, metrics are discarded.
func WithMetricsCollector(m MetricsCollector) Option {
	return func(o *options) {
		if m == nil {
			m = NoopMetricsCollector{}
		}
		o.metricsCollector = m
	}
}

// WithLogger sets the logger.
//
// If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithOS replaces the operating system collaborator behind the allocator.
// Intended for tests.
func WithOS(os mmap.OS) Option {
	return func(o *options) {
		o.os = os
	}
}

// WithCorruptionHandler sets the handler for detected heap corruption.
// The default logs the corruption and panics.
func WithCorruptionHandler(h arena.CorruptionHandler) Option {
	return func(o *options) {
		o.onCorruption = h
	}
}
