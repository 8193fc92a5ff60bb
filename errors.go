package tier2

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tier2/internal/arena"
	"github.com/hupe1980/tier2/internal/executor"
	"github.com/hupe1980/tier2/internal/optimizer"
	"github.com/hupe1980/tier2/internal/tracefile"
	"github.com/hupe1980/tier2/internal/uop"
)

var (
	// ErrOutOfMemory is returned when neither an arena nor the OS can serve
	// an allocation or reservation.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrCorruption is returned when a release violates allocator invariants.
	ErrCorruption = errors.New("heap corruption detected")
	// ErrOutOfSpace is returned when an optimizer pass exhausts its symbols,
	// slots or frames. The trace is left unchanged.
	ErrOutOfSpace = errors.New("optimizer out of space")
	// ErrNotProfitable is returned when a trace is certain to exit early.
	ErrNotProfitable = errors.New("trace not profitable")
	// ErrMalformedTrace is returned for traces that are not well formed.
	ErrMalformedTrace = errors.New("malformed trace")
	// ErrInvalidConfig is returned by New for unusable options.
	ErrInvalidConfig = errors.New("invalid config")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("runtime is closed")
)

// IsAbort reports whether err aborted an optimization without indicating a
// problem with the trace.
func IsAbort(err error) bool {
	return errors.Is(err, ErrOutOfSpace) || errors.Is(err, ErrNotProfitable)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}

	// Corruption first: a corrupted release may also carry an
	// out-of-memory cause.
	if arena.IsCorruption(err) {
		return fmt.Errorf("%w: %w", ErrCorruption, err)
	}
	if errors.Is(err, arena.ErrOutOfMemory) {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}

	if errors.Is(err, optimizer.ErrOutOfSpace) {
		return fmt.Errorf("%w: %w", ErrOutOfSpace, err)
	}
	if errors.Is(err, optimizer.ErrNotProfitable) {
		return fmt.Errorf("%w: %w", ErrNotProfitable, err)
	}
	if errors.Is(err, optimizer.ErrMalformedTrace) ||
		errors.Is(err, uop.ErrSyntax) ||
		errors.Is(err, uop.ErrUnknownObject) ||
		errors.Is(err, uop.ErrUndefinedOpcode) ||
		errors.Is(err, tracefile.ErrCorrupt) ||
		errors.Is(err, tracefile.ErrChecksum) ||
		errors.Is(err, tracefile.ErrBadMagic) ||
		errors.Is(err, executor.ErrNoEntry) {
		return fmt.Errorf("%w: %w", ErrMalformedTrace, err)
	}

	if errors.Is(err, arena.ErrInvalidConfig) ||
		errors.Is(err, optimizer.ErrInvalidConfig) ||
		errors.Is(err, executor.ErrInvalidCacheSize) {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return err
}
