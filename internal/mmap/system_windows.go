//go:build windows

package mmap

import (
	"context"
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/hupe1980/tier2/internal/numa"
)

const allocationGranularity = 64 << 10

// System is the OS implementation backed by VirtualAlloc.
type System struct {
	topo *numa.Topology
}

// NewSystem returns the OS collaborator for the running platform.
func NewSystem(topo *numa.Topology) *System {
	return &System{topo: topo}
}

// Map reserves address space and optionally commits it. Larger alignments are
// obtained by trying an over-sized reservation and re-reserving at the
// aligned address inside it.
func (s *System) Map(size, alignment uintptr, commit, _ bool) (Region, error) {
	if size == 0 {
		return Region{}, ErrInvalidSize
	}
	if alignment < allocationGranularity {
		alignment = allocationGranularity
	}
	if !IsPowerOfTwo(alignment) {
		return Region{}, ErrInvalidAlignment
	}
	size = AlignUp(size, allocationGranularity)

	flags := uint32(windows.MEM_RESERVE)
	if commit {
		flags |= windows.MEM_COMMIT
	}

	for attempt := 0; attempt < 3; attempt++ {
		trial, err := windows.VirtualAlloc(0, size+alignment, windows.MEM_RESERVE, windows.PAGE_NOACCESS)
		if err != nil {
			return Region{}, fmt.Errorf("mmap: reserve %d bytes: %w", size, err)
		}
		addr := AlignUp(trial, alignment)
		_ = windows.VirtualFree(trial, 0, windows.MEM_RELEASE)

		got, err := windows.VirtualAlloc(addr, size, flags, windows.PAGE_READWRITE)
		if err == nil {
			return Region{Addr: got, Size: size, Committed: commit, Zeroed: true}, nil
		}
	}
	return Region{}, fmt.Errorf("mmap: aligned reservation of %d bytes failed", size)
}

// Unmap releases a region obtained from Map.
func (s *System) Unmap(addr, _ uintptr) error {
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

// Commit makes the range accessible. Freshly committed pages are zero.
func (s *System) Commit(addr, size uintptr) (bool, error) {
	if size == 0 {
		return true, nil
	}
	if _, err := windows.VirtualAlloc(addr, size, windows.MEM_COMMIT, windows.PAGE_READWRITE); err != nil {
		return false, fmt.Errorf("mmap: commit %#x+%d: %w", addr, size, err)
	}
	return true, nil
}

// Decommit returns the physical pages but keeps the reservation.
func (s *System) Decommit(addr, size uintptr) error {
	if size == 0 {
		return nil
	}
	return windows.VirtualFree(addr, size, windows.MEM_DECOMMIT)
}

// MapHugePages is not supported on Windows.
func (s *System) MapHugePages(context.Context, int, int) (HugeRegion, error) {
	return HugeRegion{}, ErrHugePagesUnsupported
}

// UnmapHugePages releases a region obtained from MapHugePages.
func (s *System) UnmapHugePages(addr, size uintptr) error {
	return s.Unmap(addr, size)
}

// NumaNode returns the node of the calling thread.
func (s *System) NumaNode() int { return s.topo.CurrentNode() }

// NumaNodeCount returns the number of NUMA nodes.
func (s *System) NumaNodeCount() int { return s.topo.NodeCount() }

func mapFile(f *os.File, size int) ([]byte, error) {
	h, err := windows.CreateFileMapping(windows.Handle(f.Fd()), nil, windows.PAGE_READONLY, 0, 0, nil)
	if err != nil {
		return nil, err
	}
	// The view holds its own reference to the mapping object.
	defer windows.CloseHandle(h) //nolint:errcheck // handle only

	addr, err := windows.MapViewOfFile(h, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		return nil, err
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(addr)), size), nil //nolint:govet // addr is an OS mapping, not Go memory
}

func unmapFile(data []byte) error {
	return windows.UnmapViewOfFile(uintptr(unsafe.Pointer(&data[0])))
}

// Windows has no madvise equivalent for file views.
func adviseFile([]byte, AccessPattern) error { return nil }

var _ OS = (*System)(nil)
