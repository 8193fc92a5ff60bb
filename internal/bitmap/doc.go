// Package bitmap implements the lock-free block bitmaps of the arena
// allocator.
//
// A Bitmap is a slice of atomic 64-bit fields. Runs of up to FieldBits bits
// are claimed and released with a single compare-and-swap, so a run never
// crosses a field boundary:
//
//	inUse := bitmap.NewSet(1, fields)[0]
//	idx, ok := inUse.TryFindFromClaim(start, 2) // two adjacent blocks
//	if ok {
//	    defer inUse.Unclaim(2, idx)
//	}
//
// Claim and Unclaim report whether the bits were previously clear or set,
// which the allocator uses to detect double frees and to decide whether a
// range needs committing.
package bitmap
