package arena

import (
	"fmt"
	"time"

	"github.com/hupe1980/tier2/internal/logging"
	"github.com/hupe1980/tier2/internal/mmap"
	"github.com/hupe1980/tier2/internal/resource"
)

const (
	// DefaultBlockSize is the default arena block size (32 MiB).
	DefaultBlockSize = 32 << 20
	// MaxArenas is the capacity of the arena registry.
	MaxArenas = 64

	minBlockSize = 64 << 10
)

// Config holds the allocator tunables.
type Config struct {
	// BlockSize is the arena block size; also the alignment of arena memory.
	// Must be a power of two between 64 KiB and 1 GiB.
	BlockSize uintptr

	// MaxArenas caps the number of registered arenas (at most MaxArenas).
	MaxArenas int

	// LimitOSAlloc forbids direct OS allocations; requests that no arena can
	// serve fail with ErrOutOfMemory.
	LimitOSAlloc bool

	// EagerCommit commits arena reservations up front.
	EagerCommit bool

	// ReserveOSMemory is the number of bytes reserved as an arena by New.
	ReserveOSMemory uintptr

	// ReserveHugePages is the number of 1 GiB pages reserved by New.
	ReserveHugePages int

	// ReserveHugePagesAt pins the huge page reservation to one node.
	// Negative interleaves the pages over all nodes.
	ReserveHugePagesAt int

	// UseNumaNodes caps the number of NUMA nodes considered; 0 uses all.
	UseNumaNodes int

	// MaxWarnings is the burst of throttled warnings (OS fallback, failed
	// reservations) before they are rate limited. 0 silences them.
	MaxWarnings int

	// MemoryLimitBytes caps the bytes obtained from the OS; 0 is unlimited.
	MemoryLimitBytes int64

	// MaxBackgroundWorkers bounds parallel per-node reservations.
	MaxBackgroundWorkers int64
}

// DefaultConfig returns the default allocator configuration.
func DefaultConfig() Config {
	return Config{
		BlockSize:            DefaultBlockSize,
		MaxArenas:            MaxArenas,
		ReserveHugePagesAt:   -1,
		MaxWarnings:          logging.DefaultMaxWarnings,
		MaxBackgroundWorkers: 4,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if !mmap.IsPowerOfTwo(c.BlockSize) || c.BlockSize < minBlockSize || c.BlockSize > mmap.HugePageSize {
		return fmt.Errorf("%w: block size %d", ErrInvalidConfig, c.BlockSize)
	}
	if c.MaxArenas < 0 || c.MaxArenas > MaxArenas {
		return fmt.Errorf("%w: max arenas %d", ErrInvalidConfig, c.MaxArenas)
	}
	if c.ReserveHugePages < 0 || c.UseNumaNodes < 0 || c.MemoryLimitBytes < 0 {
		return fmt.Errorf("%w: negative reservation or limit", ErrInvalidConfig)
	}
	return nil
}

// hugePageTimeout mirrors the per-page budget used for startup reservations.
func hugePageTimeout(pages int) time.Duration {
	return time.Duration(pages) * 500 * time.Millisecond
}

// MetricsCollector receives allocator events.
type MetricsCollector interface {
	RecordAllocate(size uint64, fromArena bool, duration time.Duration, err error)
	RecordRelease(size uint64, fromArena bool, err error)
	RecordReserve(size uint64, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordAllocate(uint64, bool, time.Duration, error) {}
func (noopMetrics) RecordRelease(uint64, bool, error)                 {}
func (noopMetrics) RecordReserve(uint64, error)                       {}

type options struct {
	os         mmap.OS
	logger     *logging.Logger
	metrics    MetricsCollector
	controller *resource.Controller
	onCorrupt  CorruptionHandler
}

// Option configures an Allocator.
type Option func(*options)

// WithOS sets the OS collaborator. Defaults to mmap.NewSystem.
func WithOS(os mmap.OS) Option {
	return func(o *options) {
		o.os = os
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithResourceController shares a resource controller instead of creating
// one from the config limits.
func WithResourceController(c *resource.Controller) Option {
	return func(o *options) {
		o.controller = c
	}
}

// WithCorruptionHandler sets the handler for detected heap corruption.
func WithCorruptionHandler(h CorruptionHandler) Option {
	return func(o *options) {
		o.onCorrupt = h
	}
}
