//go:build linux

package mmap

import (
	"context"
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	mapNoReserve = unix.MAP_NORESERVE
	madvHugePage = unix.MADV_HUGEPAGE

	mapHuge1GB    = 30 << 26 // log2(1GiB) << MAP_HUGE_SHIFT
	mpolPreferred = 1
)

// mapHugePages reserves an aligned span and maps 1GiB pages into it one at a
// time so that a partial reservation can be returned when the pool runs dry.
func mapHugePages(ctx context.Context, pages, node int) (HugeRegion, error) {
	span := uintptr(pages) * HugePageSize //nolint:gosec // pages > 0
	over := span + HugePageSize
	if span/HugePageSize != uintptr(pages) || over < span { //nolint:gosec // overflow check
		return HugeRegion{}, ErrInvalidSize
	}

	ptr, err := unix.MmapPtr(-1, 0, nil, over, unix.PROT_NONE, unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_NORESERVE)
	if err != nil {
		return HugeRegion{}, fmt.Errorf("mmap: reserve huge span: %w", err)
	}
	base := uintptr(ptr)
	addr := AlignUp(base, HugePageSize)

	mapped := 0
	var lastErr error
	for mapped < pages {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}
		at := addr + uintptr(mapped)*HugePageSize //nolint:gosec // mapped < pages
		_, err := unix.MmapPtr(-1, 0, unsafe.Pointer(at), HugePageSize, //nolint:govet // fixed address inside our reservation
			unix.PROT_READ|unix.PROT_WRITE,
			unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED|unix.MAP_HUGETLB|mapHuge1GB)
		if err != nil {
			lastErr = err
			break
		}
		if node >= 0 {
			bindNode(at, HugePageSize, node)
		}
		mapped++
	}

	size := uintptr(mapped) * HugePageSize //nolint:gosec // mapped <= pages
	if head := addr - base; head > 0 {
		_ = munmap(base, head)
	}
	if rest := base + over - (addr + size); rest > 0 {
		_ = munmap(addr+size, rest)
	}

	if mapped == 0 {
		if lastErr == nil {
			lastErr = ErrHugePagesUnsupported
		}
		if errors.Is(lastErr, unix.EINVAL) || errors.Is(lastErr, unix.ENOMEM) {
			return HugeRegion{}, fmt.Errorf("%w: %v", ErrHugePagesUnsupported, lastErr)
		}
		return HugeRegion{}, lastErr
	}
	return HugeRegion{Addr: addr, Size: size, Pages: mapped}, nil
}

// bindNode asks the kernel to prefer node for the range. Failure only loses
// locality, so errors are ignored.
func bindNode(addr, size uintptr, node int) {
	if node >= 64 {
		return
	}
	mask := uint64(1) << uint(node) //nolint:gosec // 0 <= node < 64
	_, _, _ = unix.Syscall6(unix.SYS_MBIND, addr, size, mpolPreferred,
		uintptr(unsafe.Pointer(&mask)), 64, 0) //nolint:gosec // syscall argument
}
