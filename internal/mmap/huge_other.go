//go:build unix && !linux

package mmap

import (
	"context"

	"golang.org/x/sys/unix"
)

const (
	mapNoReserve = 0
	madvHugePage = unix.MADV_NORMAL
)

func mapHugePages(context.Context, int, int) (HugeRegion, error) {
	return HugeRegion{}, ErrHugePagesUnsupported
}
