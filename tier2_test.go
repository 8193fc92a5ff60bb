package tier2

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tier2/internal/arena"
	"github.com/hupe1980/tier2/internal/uop"
	"github.com/hupe1980/tier2/testutil"
)

const addLoop = `
$0 code loop id=1 args=2 locals=2 stack=4
.entry $0 stack=0
_LOAD_FAST 0
_LOAD_FAST 1
_GUARD_BOTH_INT 0
_BINARY_OP_ADD_INT 0
_STORE_FAST 0
_LOAD_FAST 0
_LOAD_FAST 1
_GUARD_BOTH_INT 0   ; both operands are known ints here
_BINARY_OP_ADD_INT 0
_STORE_FAST 1
_EXIT_TRACE 0 target=7
`

func newTestRuntime(t *testing.T, optFns ...Option) (*Runtime, *testutil.FakeOS) {
	t.Helper()
	fos := testutil.NewFakeOS()
	rt, err := New(append([]Option{WithOS(fos)}, optFns...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, fos
}

func TestRuntime_AllocateRelease(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	rt, _ := newTestRuntime(t, WithMetricsCollector(metrics))

	require.NoError(t, rt.ReserveOSMemory(64<<20, true, false))

	a, err := rt.Allocate(16<<20, 0, true, false)
	require.NoError(t, err)
	assert.True(t, a.FromArena())

	b, err := rt.Allocate(1<<20, 0, true, false)
	require.NoError(t, err)
	assert.False(t, b.FromArena(), "small requests bypass arenas")

	require.NoError(t, rt.Release(a))
	require.NoError(t, rt.Release(b))
	require.NoError(t, rt.Release(Allocation{}))

	stats := metrics.GetStats()
	assert.Equal(t, int64(2), stats.AllocateCount)
	assert.Equal(t, int64(1), stats.ArenaAllocs)
	assert.Equal(t, int64(1), stats.OSAllocs)
	assert.Equal(t, int64(2), stats.ReleaseCount)
	assert.Equal(t, int64(1), stats.ReserveCount)
	assert.Equal(t, int64(64<<20), stats.BytesReserved)

	rs := rt.Stats()
	assert.Equal(t, 1, rs.Arena.Arenas)
	assert.Zero(t, rs.Arena.BytesInUse)
}

func TestRuntime_OutOfMemory(t *testing.T) {
	cfg := DefaultArenaConfig()
	cfg.LimitOSAlloc = true
	rt, _ := newTestRuntime(t, WithArenaConfig(cfg))

	_, err := rt.Allocate(32<<20, 0, true, false)
	require.ErrorIs(t, err, ErrOutOfMemory)
	assert.ErrorIs(t, err, arena.ErrOutOfMemory)
}

func TestRuntime_Corruption(t *testing.T) {
	var reported int
	rt, _ := newTestRuntime(t, WithCorruptionHandler(func(*arena.CorruptionError) { reported++ }))
	require.NoError(t, rt.ReserveOSMemory(64<<20, true, false))

	a, err := rt.Allocate(32<<20, 0, true, false)
	require.NoError(t, err)
	require.NoError(t, rt.Release(a))

	err = rt.Release(a)
	require.ErrorIs(t, err, ErrCorruption)
	assert.ErrorIs(t, err, arena.ErrDoubleFree)
	assert.Equal(t, 1, reported)
}

func TestRuntime_ReserveHugePages(t *testing.T) {
	rt, fos := newTestRuntime(t)
	fos.SetNumaNodes(2, 0)
	fos.SetHugePages(4)

	require.NoError(t, rt.ReserveHugePages(t.Context(), 2, -1))
	assert.Equal(t, 2, rt.Allocator().ArenaCount())
	assert.Len(t, fos.HugeCalls(), 2)
}

func TestRuntime_Optimize(t *testing.T) {
	metrics := &BasicMetricsCollector{}
	rt, _ := newTestRuntime(t, WithMetricsCollector(metrics))

	tr, err := ParseTrace(addLoop)
	require.NoError(t, err)

	res, err := rt.Optimize(t.Context(), tr)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Eliminated)
	assert.Equal(t, uop.GuardBothInt, tr.Instructions[2].Opcode)
	assert.Equal(t, uop.Nop, tr.Instructions[7].Opcode)
	assert.True(t, res.Rewritten.Test(7))

	stats := metrics.GetStats()
	assert.Equal(t, int64(1), stats.OptimizeCount)
	assert.Equal(t, int64(1), stats.Eliminated)
	assert.Equal(t, int64(11), stats.InstructionsSeen)
}

func TestRuntime_OptimizeErrors(t *testing.T) {
	cfg := DefaultOptimizerConfig()
	cfg.MaxSymbols = 2
	rt, _ := newTestRuntime(t, WithOptimizerConfig(cfg))

	tr, err := ParseTrace(addLoop)
	require.NoError(t, err)
	before := append([]Instruction(nil), tr.Instructions...)

	_, err = rt.Optimize(t.Context(), tr)
	require.ErrorIs(t, err, ErrOutOfSpace)
	assert.True(t, IsAbort(err))
	assert.Equal(t, before, tr.Instructions)

	noEntry := testutil.NewTraceBuilder().Op(uop.LoadFast, 0).Exit().Build()
	_, err = rt.Optimize(t.Context(), noEntry)
	assert.True(t, IsMalformed(err))
	assert.False(t, IsAbort(err))
}

func TestRuntime_InstallInvalidate(t *testing.T) {
	rt, _ := newTestRuntime(t)
	dict := &uop.Dict{ID: 77}
	tr := testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 0, 0, 4), 0).
		OpObject(uop.GuardGlobalsVersion, 0, dict).
		OpObject(uop.LoadGlobalModule, 0, dict).
		OpObject(uop.GuardGlobalsVersion, 0, dict).
		Op(uop.PopTop, 0).
		Exit().
		Build()

	e, err := rt.Install(t.Context(), tr)
	require.NoError(t, err)
	assert.True(t, e.Valid())

	got, ok := rt.Lookup(e.ID)
	require.True(t, ok)
	assert.Same(t, e, got)

	assert.Equal(t, 1, rt.Invalidate(t.Context(), 77))
	assert.False(t, e.Valid())
	_, ok = rt.Lookup(e.ID)
	assert.False(t, ok)

	_, err = rt.Install(t.Context(), &Trace{})
	assert.ErrorIs(t, err, ErrMalformedTrace)
}

func TestRuntime_Close(t *testing.T) {
	rt, _ := newTestRuntime(t)
	tr, err := ParseTrace(addLoop)
	require.NoError(t, err)
	e, err := rt.Install(t.Context(), tr)
	require.NoError(t, err)

	require.NoError(t, rt.Close())
	require.NoError(t, rt.Close())
	assert.False(t, e.Valid())

	_, err = rt.Allocate(32<<20, 0, true, false)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = rt.Optimize(context.Background(), tr)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = rt.Install(context.Background(), tr)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultArenaConfig()
	cfg.BlockSize = 3 << 20
	_, err := New(WithOS(testutil.NewFakeOS()), WithArenaConfig(cfg))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(WithOS(testutil.NewFakeOS()), WithExecutorCacheSize(0))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	ocfg := DefaultOptimizerConfig()
	ocfg.MaxFrameDepth = 0
	_, err = New(WithOS(testutil.NewFakeOS()), WithOptimizerConfig(ocfg))
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestLoadSaveTrace(t *testing.T) {
	dir := t.TempDir()
	want, err := ParseTrace(addLoop)
	require.NoError(t, err)

	for _, name := range []string{"loop.trace", "loop.bin", "loop.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			c := CompressionLZ4
			if name == "loop.zst" {
				c = CompressionZSTD
			}
			require.NoError(t, SaveTrace(path, want, c))

			got, err := LoadTrace(path)
			require.NoError(t, err)
			assert.True(t, want.Equal(got))
			require.NotNil(t, got.Entry)
			assert.Equal(t, "loop", got.Entry.Name)
		})
	}

	_, err = ParseTrace("_BOGUS 0")
	assert.ErrorIs(t, err, ErrMalformedTrace)
}

func TestRuntime_ConcurrentUse(t *testing.T) {
	rt, _ := newTestRuntime(t)
	require.NoError(t, rt.ReserveOSMemory(256<<20, true, false))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				a, err := rt.Allocate(32<<20, 0, true, false)
				if !assert.NoError(t, err) {
					return
				}
				tr, err := ParseTrace(addLoop)
				if !assert.NoError(t, err) {
					return
				}
				_, err = rt.Optimize(context.Background(), tr)
				assert.NoError(t, err)
				assert.NoError(t, rt.Release(a))
			}
		}()
	}
	wg.Wait()

	assert.Zero(t, rt.Stats().Arena.BytesInUse)
}
