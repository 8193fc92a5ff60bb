package arena

import (
	"sync/atomic"

	"github.com/hupe1980/tier2/internal/bitmap"
)

// arena is one registered memory range, split into blocks.
type arena struct {
	index      int
	start      uintptr
	blockCount int
	numaNode   int // -1 if node agnostic
	isLarge    bool
	// isCommitted means the whole range is committed; committed is nil then.
	isCommitted bool
	isZeroInit  bool

	searchIdx atomic.Uint64 // field hint, relaxed

	inUse     bitmap.Bitmap
	dirty     bitmap.Bitmap
	committed bitmap.Bitmap
}

func newArena(start uintptr, blocks int, isCommitted, isLarge, isZero bool, node int) *arena {
	fields := (blocks + bitmap.FieldBits - 1) / bitmap.FieldBits
	n := 3
	if isCommitted {
		n = 2
	}
	set := bitmap.NewSet(n, fields)

	a := &arena{
		start:       start,
		blockCount:  blocks,
		numaNode:    node,
		isLarge:     isLarge,
		isCommitted: isCommitted,
		isZeroInit:  isZero,
		inUse:       set[0],
		dirty:       set[1],
	}
	if !isCommitted {
		a.committed = set[2]
	}

	// Bits past the last block are claimed for good.
	if post := fields*bitmap.FieldBits - blocks; post > 0 {
		a.inUse.Claim(post, bitmap.NewIndex(fields-1, bitmap.FieldBits-post))
	}
	return a
}

func (a *arena) blockAddr(idx bitmap.Index, blockSize uintptr) uintptr {
	return a.start + uintptr(idx)*blockSize
}

func (a *arena) affine(node int) bool {
	return a.numaNode < 0 || a.numaNode == node
}

// registry is the fixed-capacity, append-only arena table.
type registry struct {
	arenas [MaxArenas]atomic.Pointer[arena]
	count  atomic.Int64
	limit  int
}

// add claims the next slot. The count is the only serialization point; on
// overflow the increment is rolled back and the table is left unchanged.
func (r *registry) add(a *arena) error {
	i := r.count.Add(1) - 1
	if i >= int64(r.limit) {
		r.count.Add(-1)
		return ErrRegistryFull
	}
	a.index = int(i)
	r.arenas[i].Store(a)
	return nil
}

// len returns the number of slots handed out, capped at the limit.
func (r *registry) len() int {
	n := int(r.count.Load())
	if n > r.limit {
		n = r.limit
	}
	return n
}

// get returns the arena at i or nil. A slot can be nil briefly between its
// claim and its store.
func (r *registry) get(i int) *arena {
	if i < 0 || i >= r.len() {
		return nil
	}
	return r.arenas[i].Load()
}
