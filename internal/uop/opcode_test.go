package uop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpcodeNames(t *testing.T) {
	for _, op := range Opcodes() {
		name := op.String()
		got, ok := StringToOp(name)
		require.True(t, ok, name)
		assert.Equal(t, op, got)

		got, ok = StringToOp(name[1:])
		require.True(t, ok, "without underscore: %s", name)
		assert.Equal(t, op, got)

		_, hasMeta := operations[op]
		assert.True(t, hasMeta, "%s has no metadata", name)
	}

	_, ok := StringToOp("_NOT_AN_OP")
	assert.False(t, ok)
	assert.False(t, Opcode(0xff).Defined())
	assert.Contains(t, Opcode(0xff).String(), "not defined")
}

func TestStackEffect(t *testing.T) {
	tests := []struct {
		op     Opcode
		oparg  int
		pops   int
		pushes int
	}{
		{LoadFast, 3, 0, 1},
		{StoreFast, 0, 1, 0},
		{Copy, 3, 3, 4},
		{Swap, 2, 2, 2},
		{GuardBothInt, 0, 2, 2},
		{BinaryOpAddInt, 0, 2, 1},
		{LoadAttrInstanceValue, 0, 1, 1},
		{LoadAttrInstanceValue, 1, 1, 2},
		{LoadGlobalModule, 1, 0, 2},
		{LoadConstInlineWithNull, 0, 0, 2},
		{InitCallPyExactArgs, 2, 4, 1},
		{CheckFunctionExactArgs, 1, 3, 3},
		{UnpackSequence, 3, 1, 3},
		{UnpackEx, 0x0102, 1, 4},
		{IterNextRange, 0, 1, 2},
		{BuildTuple, 3, 3, 1},
		{ExitTrace, 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			pops, pushes := tt.op.StackEffect(tt.oparg)
			assert.Equal(t, tt.pops, pops)
			assert.Equal(t, tt.pushes, pushes)
		})
	}

	pops, pushes := Opcode(0xff).StackEffect(1)
	assert.Zero(t, pops)
	assert.Zero(t, pushes)
}

func TestFlags(t *testing.T) {
	assert.True(t, GuardBothInt.Flags().Has(FlagGuard|FlagPassthrough))
	assert.True(t, ExitTrace.IsTerminator())
	assert.True(t, JumpToTop.IsTerminator())
	assert.False(t, PushFrame.IsTerminator())
	assert.True(t, ToBool.Flags().Has(FlagEscapes))
	assert.False(t, LoadFast.Flags().Has(FlagEscapes))
	assert.True(t, InitCallPyExactArgs.Flags().Has(FlagObjectOperand))
}

func TestTypeOf(t *testing.T) {
	code := &Code{ID: 1}
	assert.Same(t, IntType, TypeOf(int64(1)))
	assert.Same(t, IntType, TypeOf(1))
	assert.Same(t, FloatType, TypeOf(1.5))
	assert.Same(t, StrType, TypeOf("x"))
	assert.Same(t, BoolType, TypeOf(true))
	assert.Same(t, NoneType, TypeOf(None))
	assert.Same(t, FunctionType, TypeOf(&Function{Code: code}))
	assert.Same(t, CodeType, TypeOf(code))
	assert.Nil(t, TypeOf(struct{}{}))

	id, ok := ObjectID(&Dict{ID: 9})
	assert.True(t, ok)
	assert.Equal(t, uint64(9), id)
	_, ok = ObjectID(int64(9))
	assert.False(t, ok)
}
