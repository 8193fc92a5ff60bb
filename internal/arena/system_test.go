//go:build unix

package arena

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocator_SystemMemory(t *testing.T) {
	a, err := New(DefaultConfig())
	require.NoError(t, err)

	if err := a.ReserveOSMemory(2*bs, false, false); err != nil {
		t.Skipf("cannot reserve address space: %v", err)
	}

	alloc, err := a.Allocate(bs, 0, true, false)
	require.NoError(t, err)
	require.True(t, alloc.FromArena())
	assert.True(t, alloc.Committed)

	p := (*byte)(unsafe.Pointer(alloc.Addr)) //nolint:govet // arena memory is outside the Go heap
	*p = 0x5a
	assert.Equal(t, byte(0x5a), *p)

	require.NoError(t, a.Release(alloc.Addr, alloc.Size, alloc.MemID, true))
	assert.Equal(t, 0, a.Arenas()[0].InUse)
}
