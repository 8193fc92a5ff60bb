//go:build unix

package mmap

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/hupe1980/tier2/internal/numa"
)

// System is the OS implementation backed by mmap(2).
type System struct {
	topo     *numa.Topology
	pageSize uintptr
}

// NewSystem returns the OS collaborator for the running platform.
// A nil topology is treated as a single node.
func NewSystem(topo *numa.Topology) *System {
	return &System{topo: topo, pageSize: uintptr(os.Getpagesize())} //nolint:gosec // page size is positive
}

// Map reserves anonymous memory. Alignments larger than the page size are
// satisfied by over-reserving and trimming both ends.
func (s *System) Map(size, alignment uintptr, commit, allowLarge bool) (Region, error) {
	if size == 0 {
		return Region{}, ErrInvalidSize
	}
	if alignment < s.pageSize {
		alignment = s.pageSize
	}
	if !IsPowerOfTwo(alignment) {
		return Region{}, ErrInvalidAlignment
	}
	size = AlignUp(size, s.pageSize)

	prot := unix.PROT_NONE
	if commit {
		prot = unix.PROT_READ | unix.PROT_WRITE
	}
	flags := unix.MAP_PRIVATE | unix.MAP_ANON | mapNoReserve

	over := size
	if alignment > s.pageSize {
		over = size + alignment - s.pageSize
	}
	if over < size {
		return Region{}, ErrInvalidSize
	}

	ptr, err := unix.MmapPtr(-1, 0, nil, over, prot, flags)
	if err != nil {
		return Region{}, fmt.Errorf("mmap: reserve %d bytes: %w", over, err)
	}
	base := uintptr(ptr)
	addr := AlignUp(base, alignment)

	if head := addr - base; head > 0 {
		if err := munmap(base, head); err != nil {
			_ = munmap(base, over)
			return Region{}, err
		}
	}
	if tail := base + over - (addr + size); tail > 0 {
		if err := munmap(addr+size, tail); err != nil {
			_ = munmap(addr, over-(addr-base))
			return Region{}, err
		}
	}

	if allowLarge && commit {
		// Transparent huge pages are a hint; the region stays usable without them.
		_ = unix.Madvise(bytesAt(addr, size), madvHugePage)
	}

	return Region{Addr: addr, Size: size, Committed: commit, Zeroed: true}, nil
}

// Unmap releases a region obtained from Map.
func (s *System) Unmap(addr, size uintptr) error {
	if size == 0 {
		return nil
	}
	return munmap(addr, AlignUp(size, s.pageSize))
}

// Commit makes the range readable and writable. Fresh or decommitted anonymous
// pages read as zero on Linux; other kernels keep the old contents after
// MADV_DONTNEED so nothing is promised there.
func (s *System) Commit(addr, size uintptr) (bool, error) {
	if size == 0 {
		return true, nil
	}
	if err := unix.Mprotect(bytesAt(addr, size), unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return false, fmt.Errorf("mmap: commit %#x+%d: %w", addr, size, err)
	}
	return runtime.GOOS == "linux", nil
}

// Decommit drops the physical pages and makes the range inaccessible.
func (s *System) Decommit(addr, size uintptr) error {
	if size == 0 {
		return nil
	}
	b := bytesAt(addr, size)
	if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
		return fmt.Errorf("mmap: decommit %#x+%d: %w", addr, size, err)
	}
	return unix.Mprotect(b, unix.PROT_NONE)
}

// MapHugePages reserves huge pages on the given node.
func (s *System) MapHugePages(ctx context.Context, pages, node int) (HugeRegion, error) {
	if pages <= 0 {
		return HugeRegion{}, ErrInvalidSize
	}
	return mapHugePages(ctx, pages, node)
}

// UnmapHugePages releases a region obtained from MapHugePages.
func (s *System) UnmapHugePages(addr, size uintptr) error {
	if size == 0 {
		return nil
	}
	return munmap(addr, size)
}

// NumaNode returns the node of the calling thread.
func (s *System) NumaNode() int { return s.topo.CurrentNode() }

// NumaNodeCount returns the number of NUMA nodes.
func (s *System) NumaNodeCount() int { return s.topo.NodeCount() }

func munmap(addr, size uintptr) error {
	if err := unix.MunmapPtr(unsafe.Pointer(addr), size); err != nil { //nolint:govet // addr is an OS mapping, not Go memory
		return fmt.Errorf("mmap: unmap %#x+%d: %w", addr, size, err)
	}
	return nil
}

func mapFile(f *os.File, size int) ([]byte, error) {
	return unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED) //nolint:gosec // fd fits in int
}

func unmapFile(data []byte) error {
	return unix.Munmap(data)
}

func adviseFile(data []byte, pattern AccessPattern) error {
	advice := unix.MADV_NORMAL
	switch pattern {
	case AccessSequential:
		advice = unix.MADV_SEQUENTIAL
	case AccessWillNeed:
		advice = unix.MADV_WILLNEED
	}
	return unix.Madvise(data, advice)
}

func bytesAt(addr, size uintptr) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size) //nolint:govet // addr is an OS mapping, not Go memory
}

var _ OS = (*System)(nil)
