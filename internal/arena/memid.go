package arena

import "github.com/hupe1980/tier2/internal/bitmap"

// MemID identifies where an allocation came from.
type MemID uint64

// MemIDOS marks memory allocated directly from the OS.
const MemIDOS MemID = 0

const memIDArenaBits = 8

func newMemID(arenaIndex int, idx bitmap.Index) MemID {
	return MemID(uint64(idx)<<memIDArenaBits | uint64(arenaIndex+1)) //nolint:gosec // arenaIndex < MaxArenas
}

// IsOS reports whether the memory came directly from the OS.
func (m MemID) IsOS() bool { return m == MemIDOS }

// Arena returns the arena index, or -1 for OS memory.
func (m MemID) Arena() int {
	return int(m&(1<<memIDArenaBits-1)) - 1
}

// Index returns the bitmap index of the first block.
func (m MemID) Index() bitmap.Index {
	return bitmap.Index(m >> memIDArenaBits)
}
