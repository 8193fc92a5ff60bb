package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tier2/internal/optimizer"
	"github.com/hupe1980/tier2/internal/uop"
	"github.com/hupe1980/tier2/testutil"
)

func newRegistry(t *testing.T, opts ...Option) *Registry {
	t.Helper()
	opt, err := optimizer.New(optimizer.DefaultConfig())
	require.NoError(t, err)
	r, err := New(opt, opts...)
	require.NoError(t, err)
	return r
}

func globalsTrace(dict *uop.Dict) *uop.Trace {
	return testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 0, 0, 4), 0).
		OpObject(uop.GuardGlobalsVersion, 0, dict).
		OpObject(uop.LoadGlobalModule, 0, dict).
		OpObject(uop.GuardGlobalsVersion, 0, dict).
		Op(uop.PopTop, 0).
		Exit().
		Build()
}

func callTrace(fn *uop.Function) *uop.Trace {
	return testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 0, 0, 8), 0).
		Const(fn).
		Op(uop.PushNull, 0).
		OpObject(uop.InitCallPyExactArgs, 0, fn).
		Op(uop.PushFrame, 0).
		Op(uop.PushNull, 0).
		Op(uop.PopFrame, 0).
		Op(uop.PopTop, 0).
		Exit().
		Build()
}

func TestInstall(t *testing.T) {
	r := newRegistry(t)
	tr := globalsTrace(&uop.Dict{ID: 42})
	before := append([]uop.Instruction(nil), tr.Instructions...)

	e, err := r.Install(t.Context(), tr)
	require.NoError(t, err)
	assert.True(t, e.Valid())
	assert.NotZero(t, e.ID)
	assert.Equal(t, before, tr.Instructions, "source trace is not modified")
	assert.Equal(t, uop.Nop, e.Trace.Instructions[2].Opcode)
	assert.Equal(t, 1, e.Result.Eliminated)
	assert.Equal(t, []uint64{42}, e.DependsOn())

	got, ok := r.Lookup(e.ID)
	require.True(t, ok)
	assert.Same(t, e, got)
	assert.Equal(t, 1, r.Len())
}

func TestInstallDeduplicates(t *testing.T) {
	r := newRegistry(t)
	tr := globalsTrace(&uop.Dict{ID: 42})

	e1, err := r.Install(t.Context(), tr)
	require.NoError(t, err)
	e2, err := r.Install(t.Context(), tr.Clone())
	require.NoError(t, err)
	assert.Same(t, e1, e2)

	s := r.Stats()
	assert.Equal(t, uint64(1), s.Installed)
	assert.Equal(t, uint64(1), s.CacheHits)
	assert.Equal(t, 1, s.Live)
}

func addTrace(code *uop.Code, a, b any) *uop.Trace {
	return testutil.NewTraceBuilder().
		Entry(code, 0).
		OpObject(uop.LoadConstInline, 0, a).
		OpObject(uop.LoadConstInline, 0, b).
		Op(uop.GuardBothInt, 0).
		Op(uop.BinaryOpAddInt, 0).
		Op(uop.PopTop, 0).
		Exit().
		Build()
}

func TestInstallDistinguishesObjects(t *testing.T) {
	r := newRegistry(t)
	code := testutil.NewCode(1, 0, 0, 4)

	ints, err := r.Install(t.Context(), addTrace(code, int64(1), int64(2)))
	require.NoError(t, err)
	assert.Equal(t, uop.Nop, ints.Trace.Instructions[2].Opcode)

	floats := addTrace(code, 1.5, 2.5)
	require.Equal(t, ints.source, floats.Instructions, "same instruction words")

	e, err := r.Install(t.Context(), floats)
	require.NoError(t, err)
	assert.NotSame(t, ints, e)
	assert.Equal(t, uop.GuardBothInt, e.Trace.Instructions[2].Opcode, "float operands keep the int guard")
	assert.Equal(t, []any{1.5, 2.5}, e.Trace.Objects[:2])
	assert.Zero(t, r.Stats().CacheHits)
}

func TestInstallDistinguishesDependencies(t *testing.T) {
	r := newRegistry(t)

	a, err := r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 42}))
	require.NoError(t, err)
	b, err := r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 7}))
	require.NoError(t, err)
	assert.NotSame(t, a, b)
	assert.Equal(t, []uint64{7}, b.DependsOn())

	assert.Equal(t, 1, r.InvalidateDependency(t.Context(), 7))
	assert.False(t, b.Valid())
	assert.True(t, a.Valid())
}

func TestInstallDistinguishesEntry(t *testing.T) {
	r := newRegistry(t)
	dict := &uop.Dict{ID: 42}
	tr := globalsTrace(dict)

	a, err := r.Install(t.Context(), tr)
	require.NoError(t, err)

	other := tr.Clone()
	other.Entry = testutil.NewCode(1, 0, 0, 4)
	b, err := r.Install(t.Context(), other)
	require.NoError(t, err)
	assert.NotSame(t, a, b)
}

func TestInstallErrors(t *testing.T) {
	r := newRegistry(t)

	_, err := r.Install(t.Context(), testutil.NewTraceBuilder().Exit().Build())
	assert.ErrorIs(t, err, ErrNoEntry)

	bad := testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 0, 0, 1), 0).
		Op(uop.PopTop, 0).
		Build()
	_, err = r.Install(t.Context(), bad)
	assert.ErrorIs(t, err, optimizer.ErrMalformedTrace)
	assert.Equal(t, uint64(1), r.Stats().Aborted)
	assert.Zero(t, r.Len())
}

func TestInvalidateDependency(t *testing.T) {
	r := newRegistry(t)
	fn := &uop.Function{ID: 7, Code: testutil.NewCode(8, 0, 0, 1)}

	a, err := r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 42}))
	require.NoError(t, err)
	b, err := r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 43}))
	require.NoError(t, err)
	c, err := r.Install(t.Context(), callTrace(fn))
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint64{7, 8}, c.DependsOn())

	assert.Equal(t, []uint32{a.ID}, r.Dependents(42))

	n := r.InvalidateDependency(t.Context(), 42)
	assert.Equal(t, 1, n)
	assert.False(t, a.Valid())
	assert.True(t, b.Valid())
	assert.True(t, c.Valid())
	_, ok := r.Lookup(a.ID)
	assert.False(t, ok)
	assert.Empty(t, r.Dependents(42))

	// Inlined code objects are dependencies too.
	assert.Equal(t, 1, r.InvalidateDependency(t.Context(), 8))
	assert.False(t, c.Valid())

	assert.Zero(t, r.InvalidateDependency(t.Context(), 42))

	s := r.Stats()
	assert.Equal(t, uint64(2), s.Invalidated)
	assert.Zero(t, s.FalsePositives)
	assert.Equal(t, 1, s.Live)

	// The invalidated trace can be installed again.
	again, err := r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 42}))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, again.ID)
	assert.True(t, again.Valid())
}

func TestInvalidateAll(t *testing.T) {
	r := newRegistry(t)
	a, err := r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 1}))
	require.NoError(t, err)
	b, err := r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 2}))
	require.NoError(t, err)

	assert.Equal(t, 2, r.InvalidateAll(t.Context()))
	assert.False(t, a.Valid())
	assert.False(t, b.Valid())
	assert.Zero(t, r.Len())
	assert.Zero(t, r.Stats().Evictions)
}

func TestCacheEviction(t *testing.T) {
	r := newRegistry(t, WithCacheSize(1))
	a, err := r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 1}))
	require.NoError(t, err)
	_, err = r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 2}))
	require.NoError(t, err)

	s := r.Stats()
	assert.Equal(t, uint64(1), s.Evictions)
	assert.Equal(t, 2, s.Live, "eviction only forgets the trace for deduplication")
	assert.True(t, a.Valid())

	// a is no longer cached, so an identical trace gets a new executor.
	a2, err := r.Install(t.Context(), globalsTrace(&uop.Dict{ID: 1}))
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, a2.ID)
}

func TestNewInvalidCacheSize(t *testing.T) {
	opt, err := optimizer.New(optimizer.DefaultConfig())
	require.NoError(t, err)
	_, err = New(opt, WithCacheSize(0))
	assert.ErrorIs(t, err, ErrInvalidCacheSize)
}

func TestKey(t *testing.T) {
	tr := globalsTrace(&uop.Dict{ID: 1})
	k := Key(tr)
	assert.Equal(t, k, Key(tr.Clone()))

	other := tr.Clone()
	other.StackEntries = 1
	assert.NotEqual(t, k, Key(other))

	other = tr.Clone()
	other.Instructions[0].Oparg = 1
	assert.NotEqual(t, k, Key(other))

	other = tr.Clone()
	other.Objects[0] = &uop.Dict{ID: 2}
	assert.NotEqual(t, k, Key(other))

	ints := addTrace(tr.Entry, int64(1), int64(2))
	assert.NotEqual(t, Key(ints), Key(addTrace(tr.Entry, 1.5, 2.5)))
	assert.NotEqual(t, Key(ints), Key(addTrace(tr.Entry, int64(1), int64(3))))
}
