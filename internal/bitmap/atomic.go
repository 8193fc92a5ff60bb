package bitmap

import (
	"math/bits"
	"sync/atomic"
)

// FieldBits is the number of bits in one bitmap field.
const FieldBits = 64

const fieldFull = ^uint64(0)

// Index addresses a bit inside a Bitmap as field*FieldBits + bit.
type Index uint64

// NewIndex creates an index from a field number and a bit offset in that field.
func NewIndex(field, bit int) Index {
	return Index(uint64(field)*FieldBits + uint64(bit)) //nolint:gosec // field and bit are non-negative
}

// Field returns the field number.
func (i Index) Field() int { return int(i / FieldBits) }

// Bit returns the bit offset within the field.
func (i Index) Bit() int { return int(i % FieldBits) }

// Bitmap is a sequence of atomic fields. A run of bits never crosses a field
// boundary, so a single claim covers at most FieldBits bits.
type Bitmap []atomic.Uint64

// NewSet allocates n bitmaps of the given field count out of one contiguous
// backing slice.
func NewSet(n, fields int) []Bitmap {
	backing := make([]atomic.Uint64, n*fields)
	set := make([]Bitmap, n)
	for i := range set {
		set[i] = Bitmap(backing[i*fields : (i+1)*fields : (i+1)*fields])
	}
	return set
}

// Fields returns the number of fields.
func (b Bitmap) Fields() int { return len(b) }

func mask(count, bit int) uint64 {
	switch {
	case count <= 0:
		return 0
	case count >= FieldBits:
		return fieldFull
	default:
		return ((uint64(1) << uint(count)) - 1) << uint(bit)
	}
}

// Valid reports whether a run of count bits at idx lies inside one field of b.
func (b Bitmap) Valid(count int, idx Index) bool {
	return count > 0 && count <= FieldBits && idx.Field() < len(b) && idx.Bit()+count <= FieldBits
}

// TryFindFromClaim searches for count consecutive zero bits, starting at
// field start and wrapping around, and atomically sets them.
func (b Bitmap) TryFindFromClaim(start, count int) (Index, bool) {
	if count <= 0 || count > FieldBits || len(b) == 0 {
		return 0, false
	}
	if start < 0 || start >= len(b) {
		start = 0
	}
	for i := 0; i < len(b); i++ {
		field := start + i
		if field >= len(b) {
			field -= len(b)
		}
		if idx, ok := b.tryFindClaimField(field, count); ok {
			return idx, true
		}
	}
	return 0, false
}

func (b Bitmap) tryFindClaimField(field, count int) (Index, bool) {
	f := &b[field]
	cur := f.Load()
	if cur == fieldFull {
		return 0, false
	}

	last := FieldBits - count
	bit := bits.TrailingZeros64(^cur)
	m := mask(count, 0) << uint(bit)

	for bit <= last {
		hit := cur & m
		if hit == 0 {
			if f.CompareAndSwap(cur, cur|m) {
				return NewIndex(field, bit), true
			}
			// Lost a race; re-examine the same position against the new value.
			cur = f.Load()
			continue
		}
		// Skip past the highest conflicting bit.
		shift := 1
		if count > 1 {
			shift = (FieldBits - 1 - bits.LeadingZeros64(hit)) - bit + 1
		}
		bit += shift
		m <<= uint(shift)
	}
	return 0, false
}

// Claim sets count bits at idx. It reports whether all bits were clear before
// and whether any bit was clear before.
func (b Bitmap) Claim(count int, idx Index) (allClear, anyClear bool) {
	m := mask(count, idx.Bit())
	prev := b[idx.Field()].Or(m)
	return prev&m == 0, prev&m != m
}

// Unclaim clears count bits at idx and reports whether all of them were set.
func (b Bitmap) Unclaim(count int, idx Index) bool {
	m := mask(count, idx.Bit())
	prev := b[idx.Field()].And(^m)
	return prev&m == m
}

// IsClaimed reports whether all count bits at idx are set.
func (b Bitmap) IsClaimed(count int, idx Index) bool {
	m := mask(count, idx.Bit())
	return b[idx.Field()].Load()&m == m
}

// IsAnyClaimed reports whether any of the count bits at idx is set.
func (b Bitmap) IsAnyClaimed(count int, idx Index) bool {
	m := mask(count, idx.Bit())
	return b[idx.Field()].Load()&m != 0
}

// Count returns the number of set bits.
func (b Bitmap) Count() int {
	n := 0
	for i := range b {
		n += bits.OnesCount64(b[i].Load())
	}
	return n
}
