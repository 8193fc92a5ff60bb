//go:build linux

package numa

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

func currentNode() int {
	var cpu, node uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU,
		uintptr(unsafe.Pointer(&cpu)),  //nolint:gosec // syscall out-parameter
		uintptr(unsafe.Pointer(&node)), //nolint:gosec // syscall out-parameter
		0)
	if errno != 0 {
		return 0
	}
	return int(node)
}
