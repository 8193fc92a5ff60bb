package optimizer

import (
	"encoding/binary"
	"errors"
	"math/bits"
)

const (
	bloomWords  = 8
	bloomBits   = bloomWords * 32
	bloomProbes = 6
)

// ErrCorruptedDependencies indicates serialized dependencies of the wrong size.
var ErrCorruptedDependencies = errors.New("optimizer: corrupted dependency filter")

// Dependencies is a 256-bit Bloom filter over the ids of objects an optimized
// trace relies on: inlined functions and code, and the namespaces its global
// loads read. It can say an object is definitely not a dependency, and may
// report false positives.
type Dependencies struct {
	bits [bloomWords]uint32
}

// Add records a dependency on id.
func (d *Dependencies) Add(id uint64) {
	h := bloomHash(id)
	for range bloomProbes {
		bit := h & (bloomBits - 1)
		d.bits[bit/32] |= 1 << (bit % 32)
		h >>= 8
	}
}

// MayContain reports whether id may be a dependency.
func (d *Dependencies) MayContain(id uint64) bool {
	h := bloomHash(id)
	for range bloomProbes {
		bit := h & (bloomBits - 1)
		if d.bits[bit/32]&(1<<(bit%32)) == 0 {
			return false
		}
		h >>= 8
	}
	return true
}

// Intersects reports whether the filters share a set bit, i.e. whether some
// dependency of one may be a dependency of the other.
func (d *Dependencies) Intersects(o *Dependencies) bool {
	for i := range d.bits {
		if d.bits[i]&o.bits[i] != 0 {
			return true
		}
	}
	return false
}

// Union adds every dependency of o.
func (d *Dependencies) Union(o *Dependencies) {
	for i := range d.bits {
		d.bits[i] |= o.bits[i]
	}
}

// IsEmpty reports whether nothing was added.
func (d *Dependencies) IsEmpty() bool {
	return d.bits == [bloomWords]uint32{}
}

// PopCount returns the number of set bits.
func (d *Dependencies) PopCount() int {
	n := 0
	for _, w := range d.bits {
		n += bits.OnesCount32(w)
	}
	return n
}

// MarshalBinary encodes the filter as 32 little-endian bytes.
func (d *Dependencies) MarshalBinary() ([]byte, error) {
	buf := make([]byte, bloomWords*4)
	for i, w := range d.bits {
		binary.LittleEndian.PutUint32(buf[i*4:], w)
	}
	return buf, nil
}

// UnmarshalBinary decodes a filter written by MarshalBinary.
func (d *Dependencies) UnmarshalBinary(data []byte) error {
	if len(data) != bloomWords*4 {
		return ErrCorruptedDependencies
	}
	for i := range d.bits {
		d.bits[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	return nil
}

// bloomHash spreads an object id over 64 bits; each probe uses the next
// eight bits.
func bloomHash(id uint64) uint64 {
	// splitmix64 finalizer
	id += 0x9e3779b97f4a7c15
	id = (id ^ (id >> 30)) * 0xbf58476d1ce4e5b9
	id = (id ^ (id >> 27)) * 0x94d049bb133111eb
	return id ^ (id >> 31)
}
