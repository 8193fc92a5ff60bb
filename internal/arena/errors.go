package arena

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSize is returned for zero-sized requests and reservations.
	ErrInvalidSize = errors.New("arena: invalid size")
	// ErrInvalidAlignment is returned when an alignment is not a power of two.
	ErrInvalidAlignment = errors.New("arena: alignment must be a power of two")
	// ErrInvalidConfig is returned by New for unusable tunables.
	ErrInvalidConfig = errors.New("arena: invalid config")
	// ErrOutOfMemory is returned when neither an arena nor the OS can serve a request.
	ErrOutOfMemory = errors.New("arena: out of memory")
	// ErrRegistryFull is returned when no more arenas can be registered.
	ErrRegistryFull = errors.New("arena: registry full")
	// ErrMisaligned is returned when a registered range is not block aligned.
	ErrMisaligned = errors.New("arena: range is not block aligned")
	// ErrInvalidMemID is returned when a memory id names no arena or an out-of-bounds range.
	ErrInvalidMemID = errors.New("arena: invalid memory id")
	// ErrDoubleFree is returned when released blocks were not all in use.
	ErrDoubleFree = errors.New("arena: double free")
)

// CorruptionError describes a Release that violated allocator invariants.
type CorruptionError struct {
	Addr  uintptr
	Size  uintptr
	MemID MemID
	Err   error
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("arena: corrupted release of %#x (size %d, memid %#x): %v", e.Addr, e.Size, uint64(e.MemID), e.Err)
}

func (e *CorruptionError) Unwrap() error { return e.Err }

// CorruptionHandler is invoked for every detected corruption after it has
// been logged. A handler that returns lets Release report the error instead.
type CorruptionHandler func(err *CorruptionError)

// PanicOnCorruption is the default handler.
func PanicOnCorruption(err *CorruptionError) {
	panic(err)
}

// IgnoreCorruption lets Release return the error to the caller.
func IgnoreCorruption(*CorruptionError) {}
