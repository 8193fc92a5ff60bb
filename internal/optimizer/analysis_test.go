package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/tier2/internal/uop"
	"github.com/hupe1980/tier2/testutil"
)

func analyzeTrace(t *testing.T, cfg Config, tr *uop.Trace) (*abstractContext, error) {
	t.Helper()
	c := newAbstractContext(cfg)
	c.reset(cfg.FailSymbolAt)
	require.NoError(t, c.init(tr.Entry, tr.StackEntries))
	return c, c.analyze(tr, cfg.CustomEvalFrame)
}

func stackOf(c *abstractContext) []*Symbol {
	return c.slots[c.frame.stack:c.frame.sp]
}

func TestCopySwapStackEffect(t *testing.T) {
	tr := testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 0, 0, 8), 0).
		Const(int64(1)).
		Const(2.5).
		Const("s").
		Build()

	c, err := analyzeTrace(t, DefaultConfig(), tr)
	require.NoError(t, err)
	before := append([]*Symbol(nil), stackOf(c)...)
	require.Len(t, before, 3)

	require.NoError(t, c.step(tr, &uop.Instruction{Opcode: uop.Copy, Oparg: 3}, false))
	after := stackOf(c)
	require.Len(t, after, 4)
	assert.Same(t, before[0], after[3])
	assert.Equal(t, before, after[:3])

	require.NoError(t, c.step(tr, &uop.Instruction{Opcode: uop.PopTop}, false))
	require.NoError(t, c.step(tr, &uop.Instruction{Opcode: uop.Swap, Oparg: 3}, false))
	after = stackOf(c)
	require.Len(t, after, 3)
	assert.Same(t, before[2], after[0])
	assert.Same(t, before[1], after[1])
	assert.Same(t, before[0], after[2])

	require.NoError(t, c.step(tr, &uop.Instruction{Opcode: uop.Swap, Oparg: 2}, false))
	after = stackOf(c)
	assert.Same(t, before[0], after[1])
	assert.Same(t, before[1], after[2])

	assert.ErrorIs(t, c.step(tr, &uop.Instruction{Opcode: uop.Copy, Oparg: 4}, false), ErrMalformedTrace)
	assert.ErrorIs(t, c.step(tr, &uop.Instruction{Opcode: uop.Copy, Oparg: 0}, false), ErrMalformedTrace)
	assert.ErrorIs(t, c.step(tr, &uop.Instruction{Opcode: uop.Swap, Oparg: 1}, false), ErrMalformedTrace)
	assert.Len(t, stackOf(c), 3)
}

func TestUnpackDestroysInformation(t *testing.T) {
	for _, op := range []uop.Opcode{uop.UnpackSequence, uop.UnpackSequenceTuple, uop.UnpackSequenceList} {
		t.Run(op.String(), func(t *testing.T) {
			tuple := &uop.Tuple{Items: []any{int64(1), int64(2), int64(3)}}
			tr := testutil.NewTraceBuilder().
				Entry(testutil.NewCode(1, 0, 0, 4), 0).
				Const(tuple).
				Op(op, 3).
				Build()

			c, err := analyzeTrace(t, DefaultConfig(), tr)
			require.NoError(t, err)
			st := stackOf(c)
			require.Len(t, st, 3)
			for _, s := range st {
				assert.Equal(t, KindUnknown, s.Kind())
			}
		})
	}
}

func TestUnpackEx(t *testing.T) {
	tr := testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 1, 1, 8), 0).
		Op(uop.LoadFast, 0).
		Op(uop.UnpackEx, 0x0201).
		Build()

	c, err := analyzeTrace(t, DefaultConfig(), tr)
	require.NoError(t, err)
	assert.Len(t, stackOf(c), 4)
}

func TestLocals(t *testing.T) {
	tr := testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 1, 2, 4), 0).
		Const(int64(4)).
		Op(uop.StoreFast, 1).
		Op(uop.LoadFastAndClear, 1).
		Op(uop.LoadFast, 0).
		Build()

	c, err := analyzeTrace(t, DefaultConfig(), tr)
	require.NoError(t, err)

	st := stackOf(c)
	require.Len(t, st, 2)
	assert.True(t, st[0].IsConst())
	assert.Equal(t, KindUnknown, st[1].Kind())

	cleared, err := c.local(1)
	require.NoError(t, err)
	assert.True(t, cleared.IsNull())

	_, err = c.local(2)
	assert.ErrorIs(t, err, ErrMalformedTrace)
}

func TestAttrAndGlobalResults(t *testing.T) {
	dict := &uop.Dict{ID: 9}
	tr := testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 1, 1, 8), 0).
		Op(uop.LoadFast, 0).
		Op(uop.LoadAttrInstanceValue, 1).
		OpObject(uop.LoadGlobalModule, 0, dict).
		OpObject(uop.LoadGlobalBuiltins, 1, dict).
		Build()

	c, err := analyzeTrace(t, DefaultConfig(), tr)
	require.NoError(t, err)

	st := stackOf(c)
	require.Len(t, st, 5)
	assert.True(t, st[0].IsNotNull())
	assert.True(t, st[1].IsNull())
	assert.True(t, st[2].IsNotNull())
	assert.True(t, st[3].IsNotNull())
	assert.True(t, st[4].IsNull())
	assert.True(t, c.deps.MayContain(9))
}

func TestLoadAttrModuleOperand(t *testing.T) {
	mod := &uop.Module{ID: 11, Name: "m"}
	tests := []struct {
		name    string
		operand any
		dep     bool
	}{
		{"module", mod, true},
		{"dict", &uop.Dict{ID: 11}, false},
		{"constant", int64(11), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := testutil.NewTraceBuilder().
				Entry(testutil.NewCode(1, 1, 1, 4), 0).
				Op(uop.LoadFast, 0).
				OpObject(uop.LoadAttrModule, 1, tt.operand).
				Build()

			c, err := analyzeTrace(t, DefaultConfig(), tr)
			require.NoError(t, err)

			st := stackOf(c)
			require.Len(t, st, 2)
			assert.True(t, st[0].IsNotNull())
			assert.True(t, st[1].IsNull())
			assert.Equal(t, tt.dep, c.deps.MayContain(11))
		})
	}
}

func TestTypedResults(t *testing.T) {
	tests := []struct {
		op   uop.Opcode
		want *uop.Type
	}{
		{uop.BinaryOpAddInt, uop.IntType},
		{uop.BinaryOpMultiplyFloat, uop.FloatType},
		{uop.BinaryOpAddUnicode, uop.StrType},
		{uop.CompareOpInt, uop.BoolType},
		{uop.BuildTuple, uop.TupleType},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			tr := testutil.NewTraceBuilder().
				Entry(testutil.NewCode(1, 2, 2, 4), 0).
				Op(uop.LoadFast, 0).
				Op(uop.LoadFast, 1).
				Op(tt.op, 2).
				Build()

			c, err := analyzeTrace(t, DefaultConfig(), tr)
			require.NoError(t, err)
			st := stackOf(c)
			require.Len(t, st, 1)
			assert.True(t, st[0].MatchesType(tt.want))
			assert.False(t, st[0].IsConst(), "no constant folding")
		})
	}
}

func TestRangeIteration(t *testing.T) {
	tr := testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 1, 1, 4), 0).
		Op(uop.LoadFast, 0).
		Op(uop.IterCheckRange, 0).
		Op(uop.GuardNotExhaustedRange, 0).
		Op(uop.IterNextRange, 0).
		Op(uop.StoreFast, 0).
		Op(uop.IterCheckRange, 0).
		Build()

	c, err := analyzeTrace(t, DefaultConfig(), tr)
	require.NoError(t, err)

	assert.Equal(t, uop.IterCheckRange, tr.Instructions[1].Opcode)
	assert.Equal(t, uop.Nop, tr.Instructions[5].Opcode)

	st := stackOf(c)
	require.Len(t, st, 1)
	assert.True(t, st[0].MatchesType(uop.RangeIterType))
	next, err := c.local(0)
	require.NoError(t, err)
	assert.True(t, next.MatchesType(uop.IntType))
}

func TestBoundMethodCallAliasesSelf(t *testing.T) {
	callee := testutil.NewCode(2, 2, 2, 2)
	fn := &uop.Function{ID: 3, Code: callee, Version: 1}

	b := testutil.NewTraceBuilder().Entry(testutil.NewCode(1, 1, 1, 8), 0)
	tr := b.
		Op(uop.LoadFast, 0).
		Op(uop.PushNull, 0).
		Const(int64(5)).
		Op(uop.CheckCallBoundMethodExactArgs, 1).
		Op(uop.InitCallBoundMethodExactArgs, 1).
		Op(uop.CheckFunctionExactArgs, 1).
		OpObject(uop.InitCallPyExactArgs, 1, fn).
		Op(uop.SaveReturnOffset, 0).
		Op(uop.PushFrame, 0).
		Op(uop.LoadFast, 1).
		Op(uop.LoadFast, 1).
		Op(uop.GuardBothInt, 0).
		Build()

	c, err := analyzeTrace(t, DefaultConfig(), tr)
	require.NoError(t, err)

	assert.Equal(t, 2, c.depth)
	assert.Same(t, callee, c.frame.code)
	self, err := c.local(0)
	require.NoError(t, err)
	assert.True(t, self.IsNotNull())
	assert.Equal(t, uop.Nop, tr.Instructions[11].Opcode)
	assert.True(t, c.deps.MayContain(3))
	assert.True(t, c.deps.MayContain(2))
}

func TestUnknownSelfGetsFreshLocals(t *testing.T) {
	callee := testutil.NewCode(2, 1, 1, 2)
	fn := &uop.Function{ID: 3, Code: callee}

	tr := testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 2, 2, 8), 0).
		Op(uop.LoadFast, 0).
		Op(uop.LoadFast, 1). // self or null, unknown
		Const(int64(5)).
		OpObject(uop.InitCallPyExactArgs, 1, fn).
		Op(uop.PushFrame, 0).
		Op(uop.LoadFast, 0).
		Build()

	c, err := analyzeTrace(t, DefaultConfig(), tr)
	require.NoError(t, err)
	st := stackOf(c)
	require.Len(t, st, 1)
	assert.False(t, st[0].IsConst())
	assert.Equal(t, KindUnknown, st[0].Kind())
	// Entry frame: 2 locals + 8 stack; callee placed after it.
	assert.Equal(t, 10, c.frame.locals)
}

func TestGuardPopWithConstantCondition(t *testing.T) {
	tr := testutil.NewTraceBuilder().
		Entry(testutil.NewCode(1, 1, 1, 4), 0).
		Const(true).
		Op(uop.GuardIsTruePop, 0).
		Const(false).
		Op(uop.GuardIsTruePop, 0).
		Const(uop.None).
		Op(uop.GuardIsNonePop, 0).
		Op(uop.LoadFast, 0).
		Op(uop.GuardIsFalsePop, 0).
		Build()

	c, err := analyzeTrace(t, DefaultConfig(), tr)
	require.NoError(t, err)
	assert.Equal(t, uop.PopTop, tr.Instructions[1].Opcode)
	assert.Equal(t, uop.GuardIsTruePop, tr.Instructions[3].Opcode)
	assert.Equal(t, uop.PopTop, tr.Instructions[5].Opcode)
	assert.Equal(t, uop.GuardIsFalsePop, tr.Instructions[7].Opcode)
	assert.Empty(t, stackOf(c))
}

func TestStackDiscipline(t *testing.T) {
	code := testutil.NewCode(1, 0, 0, 1)
	tests := map[string]*uop.Trace{
		"underflow": testutil.NewTraceBuilder().Entry(code, 0).Op(uop.PopTop, 0).Build(),
		"overflow":  testutil.NewTraceBuilder().Entry(code, 0).Op(uop.PushNull, 0).Op(uop.PushNull, 0).Build(),
		"guard":     testutil.NewTraceBuilder().Entry(code, 0).Op(uop.PushNull, 0).Op(uop.GuardBothInt, 0).Build(),
		"generic":   testutil.NewTraceBuilder().Entry(code, 0).Op(uop.StoreAttr, 0).Build(),
		"local":     testutil.NewTraceBuilder().Entry(code, 0).Op(uop.LoadFast, 0).Build(),
		"const":     testutil.NewTraceBuilder().Entry(code, 0).Op(uop.LoadConst, 0).Build(),
	}
	for name, tr := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := analyzeTrace(t, DefaultConfig(), tr)
			assert.ErrorIs(t, err, ErrMalformedTrace)
			var te *TraceError
			assert.ErrorAs(t, err, &te)
		})
	}
}
