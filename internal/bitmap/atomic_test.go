package bitmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIndex(t *testing.T) {
	idx := NewIndex(3, 17)
	assert.Equal(t, 3, idx.Field())
	assert.Equal(t, 17, idx.Bit())
	assert.Equal(t, Index(3*64+17), idx)
}

func TestNewSet_SharesBacking(t *testing.T) {
	set := NewSet(3, 2)
	require.Len(t, set, 3)
	for _, b := range set {
		assert.Equal(t, 2, b.Fields())
	}

	set[1].Claim(1, NewIndex(0, 0))
	assert.Equal(t, 0, set[0].Count())
	assert.Equal(t, 1, set[1].Count())
	assert.Equal(t, 0, set[2].Count())
}

func TestTryFindFromClaim(t *testing.T) {
	b := NewSet(1, 2)[0]

	idx, ok := b.TryFindFromClaim(0, 3)
	require.True(t, ok)
	assert.Equal(t, NewIndex(0, 0), idx)

	idx, ok = b.TryFindFromClaim(0, 2)
	require.True(t, ok)
	assert.Equal(t, NewIndex(0, 3), idx)

	// Starting at field 1 finds space there first.
	idx, ok = b.TryFindFromClaim(1, 4)
	require.True(t, ok)
	assert.Equal(t, NewIndex(1, 0), idx)

	assert.Equal(t, 9, b.Count())
}

func TestTryFindFromClaim_SkipsHoles(t *testing.T) {
	b := NewSet(1, 1)[0]
	// Occupy bits 2 and 5, leaving holes of 2 and 2 before bit 6.
	b.Claim(1, NewIndex(0, 2))
	b.Claim(1, NewIndex(0, 5))

	idx, ok := b.TryFindFromClaim(0, 3)
	require.True(t, ok)
	assert.Equal(t, NewIndex(0, 6), idx)
}

func TestTryFindFromClaim_NoCrossField(t *testing.T) {
	b := NewSet(1, 2)[0]
	// Leave only the top 2 bits of field 0 and the bottom 2 of field 1 free.
	b.Claim(62, NewIndex(0, 0))
	b.Claim(62, NewIndex(1, 2))

	_, ok := b.TryFindFromClaim(0, 4)
	assert.False(t, ok, "run must not span fields")

	_, ok = b.TryFindFromClaim(0, 2)
	assert.True(t, ok)
}

func TestTryFindFromClaim_FullField(t *testing.T) {
	b := NewSet(1, 1)[0]
	idx, ok := b.TryFindFromClaim(0, FieldBits)
	require.True(t, ok)
	assert.Equal(t, NewIndex(0, 0), idx)

	_, ok = b.TryFindFromClaim(0, 1)
	assert.False(t, ok)

	_, ok = b.TryFindFromClaim(0, FieldBits+1)
	assert.False(t, ok)
	_, ok = b.TryFindFromClaim(0, 0)
	assert.False(t, ok)
}

func TestClaimUnclaim(t *testing.T) {
	b := NewSet(1, 1)[0]
	idx := NewIndex(0, 4)

	allClear, anyClear := b.Claim(4, idx)
	assert.True(t, allClear)
	assert.True(t, anyClear)
	assert.True(t, b.IsClaimed(4, idx))

	allClear, anyClear = b.Claim(4, idx)
	assert.False(t, allClear)
	assert.False(t, anyClear)

	// Partially overlapping claim.
	allClear, anyClear = b.Claim(6, NewIndex(0, 2))
	assert.False(t, allClear)
	assert.True(t, anyClear)

	assert.True(t, b.Unclaim(6, NewIndex(0, 2)))
	assert.False(t, b.Unclaim(6, NewIndex(0, 2)), "second unclaim must report missing bits")
	assert.False(t, b.IsAnyClaimed(6, NewIndex(0, 2)))
}

func TestValid(t *testing.T) {
	b := NewSet(1, 2)[0]
	assert.True(t, b.Valid(1, NewIndex(1, 63)))
	assert.False(t, b.Valid(2, NewIndex(1, 63)))
	assert.False(t, b.Valid(1, NewIndex(2, 0)))
	assert.False(t, b.Valid(0, NewIndex(0, 0)))
	assert.True(t, b.Valid(64, NewIndex(0, 0)))
}

func TestTryFindFromClaim_Concurrent(t *testing.T) {
	const fields = 4
	b := NewSet(1, fields)[0]

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[Index]bool)
	)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(start int) {
			defer wg.Done()
			for {
				idx, ok := b.TryFindFromClaim(start%fields, 2)
				if !ok {
					return
				}
				mu.Lock()
				claimed[idx] = true
				mu.Unlock()
			}
		}(g)
	}
	wg.Wait()

	assert.Len(t, claimed, fields*FieldBits/2)
	assert.Equal(t, fields*FieldBits, b.Count())
}
