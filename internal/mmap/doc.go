// Package mmap wraps the operating system's virtual memory calls.
//
// System implements OS, the collaborator the arena allocator reserves,
// commits, decommits and releases memory through:
//
//   - Unix: mmap(2) with PROT_NONE reservations, mprotect(2) to commit and
//     madvise(MADV_DONTNEED) to decommit. Linux additionally maps 1GiB huge
//     pages with MAP_HUGETLB and binds them to a node with mbind(2).
//   - Windows: VirtualAlloc/VirtualFree. Huge pages are not supported.
//
// Addresses are plain uintptr values; the memory is never owned by the Go
// garbage collector.
//
// View maps a trace file read-only, rejecting files outside the size
// bounds before mapping them:
//
//	v, err := mmap.OpenView("loop.t2tr", headerSize, maxFile, mmap.AccessSequential)
//	if err != nil { ... }
//	defer v.Close()
//	data := v.Bytes()
package mmap
