package mmap

import (
	"context"
	"errors"
)

// AccessPattern tells the kernel how a View will be read.
type AccessPattern int

const (
	// AccessDefault gives no advice.
	AccessDefault AccessPattern = iota
	// AccessSequential suits a single front-to-back decode.
	AccessSequential
	// AccessWillNeed starts read-ahead of the whole file.
	AccessWillNeed
)

// HugePageSize is the size of one huge OS page reserved by MapHugePages.
const HugePageSize = 1 << 30

var (
	// ErrInvalidSize is returned for zero or unrepresentable sizes.
	ErrInvalidSize = errors.New("mmap: invalid size")
	// ErrShortFile is returned by OpenView for files below the minimum size.
	ErrShortFile = errors.New("mmap: file too short")
	// ErrTooLarge is returned by OpenView for files above the maximum size.
	ErrTooLarge = errors.New("mmap: file too large")
	// ErrInvalidAlignment is returned when alignment is not a power of two.
	ErrInvalidAlignment = errors.New("mmap: alignment must be a power of two")
	// ErrHugePagesUnsupported is returned where huge OS pages are unavailable.
	ErrHugePagesUnsupported = errors.New("mmap: huge pages not supported")
)

// Region describes anonymous memory obtained from the OS.
type Region struct {
	Addr      uintptr
	Size      uintptr
	Committed bool // pages are accessible
	Large     bool // backed by large OS pages
	Zeroed    bool // contents are known to be zero
}

// HugeRegion describes a run of huge OS pages. Pages may be less than the
// number requested when the OS ran out of huge pages or the deadline passed.
type HugeRegion struct {
	Addr  uintptr
	Size  uintptr
	Pages int
}

// OS is the memory-mapping collaborator used by the arena allocator.
type OS interface {
	// Map reserves size bytes aligned to alignment; commit makes them accessible.
	Map(size, alignment uintptr, commit, allowLarge bool) (Region, error)
	// Unmap returns a region obtained from Map.
	Unmap(addr, size uintptr) error
	// Commit makes [addr, addr+size) accessible and reports whether it reads as zero.
	Commit(addr, size uintptr) (zeroed bool, err error)
	// Decommit releases the physical pages backing [addr, addr+size).
	Decommit(addr, size uintptr) error
	// MapHugePages reserves up to pages huge pages, preferring the given node.
	MapHugePages(ctx context.Context, pages, node int) (HugeRegion, error)
	// UnmapHugePages returns a region obtained from MapHugePages.
	UnmapHugePages(addr, size uintptr) error
	// NumaNode returns the node of the calling thread.
	NumaNode() int
	// NumaNodeCount returns the number of NUMA nodes (at least 1).
	NumaNodeCount() int
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// IsPowerOfTwo reports whether n is a power of two.
func IsPowerOfTwo(n uintptr) bool {
	return n != 0 && n&(n-1) == 0
}
