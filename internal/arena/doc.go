// Package arena allocates large, block-aligned memory ranges out of
// OS-reserved arenas.
//
// An arena is a contiguous reservation split into fixed-size blocks
// (32 MiB by default). Blocks are claimed and released through atomic
// bitmaps, so Allocate and Release never take a lock. Requests smaller than
// half a block, or aligned beyond a block, are served directly by the OS.
//
// # Concurrency Model
//
//   - Allocate and Release are safe from any goroutine.
//   - Arenas are appended to a fixed-capacity registry and never removed.
//   - The per-arena search cursor is a hint; a stale value only costs a
//     longer scan.
//
// # NUMA
//
// Arenas remember the node they were reserved on. Allocation first searches
// arenas on the caller's node (and node-agnostic ones), then the rest.
//
// # Memory IDs
//
// Every allocation carries a MemID identifying the arena and first block.
// MemIDOS marks memory that came straight from the OS. Passing a MemID that
// does not match an outstanding allocation to Release is a heap corruption
// and is reported to the CorruptionHandler.
package arena
