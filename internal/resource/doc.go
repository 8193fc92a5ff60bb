// Package resource implements the resource Controller that governs OS memory.
//
// The Controller provides centralized management of two resource types:
//
//   - Memory: bytes obtained from the OS for arenas and direct allocations
//     (non-blocking, fail-fast)
//   - Concurrency: the number of OS reservation jobs running at once
//     (per-node huge page reservations)
//
// # Architecture
//
//	┌───────────────────────────────────────────────┐
//	│                  Controller                   │
//	├───────────────────────┬───────────────────────┤
//	│  Memory Limit         │  Background Workers   │
//	│  (fail-fast)          │  (semaphore)          │
//	├───────────────────────┼───────────────────────┤
//	│  AcquireMemory        │  AcquireBackground    │
//	│  ReleaseMemory        │  TryAcquireBackground │
//	│  MemoryUsage          │  ReleaseBackground    │
//	└───────────────────────┴───────────────────────┘
//
// # Memory Management
//
// Memory tracking uses a weighted semaphore for hard limits and an atomic
// counter for usage. AcquireMemory never blocks:
//
//	rc := resource.NewController(resource.Config{
//	    MemoryLimitBytes: 1 << 30,
//	})
//
//	if err := rc.AcquireMemory(64 << 20); err != nil {
//	    // ErrMemoryLimitExceeded - the allocator reports out of memory
//	}
//	defer rc.ReleaseMemory(64 << 20)
//
// # Nil Safety
//
// All methods handle a nil Controller gracefully; they become no-ops.
package resource
