package uop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTraceIntern(t *testing.T) {
	tr := &Trace{}
	d := &Dict{ID: 1}

	assert.Equal(t, uint64(0), tr.Intern(int64(7)))
	assert.Equal(t, uint64(1), tr.Intern(d))
	assert.Equal(t, uint64(0), tr.Intern(int64(7)))
	assert.Equal(t, uint64(1), tr.Intern(d))
	// Same contents, different identity.
	assert.Equal(t, uint64(2), tr.Intern(&Dict{ID: 1}))
	// Different Go type, same numeric value.
	assert.Equal(t, uint64(3), tr.Intern(7.0))
	assert.Len(t, tr.Objects, 4)
}

func TestTraceValidate(t *testing.T) {
	tr := &Trace{
		Instructions: []Instruction{
			{Opcode: LoadConstInline, Operand: 0},
			{Opcode: ExitTrace},
		},
		Objects: []any{int64(1)},
	}
	require.NoError(t, tr.Validate())

	tr.Instructions[0].Operand = 5
	assert.ErrorIs(t, tr.Validate(), ErrUnknownObject)

	tr.Instructions[0] = Instruction{Opcode: Opcode(0xfe)}
	assert.ErrorIs(t, tr.Validate(), ErrUndefinedOpcode)
}

func TestTraceClone(t *testing.T) {
	tr := &Trace{
		Instructions: []Instruction{{Opcode: GuardBothInt}},
		Objects:      []any{int64(1)},
	}
	c := tr.Clone()
	require.True(t, c.Equal(tr))

	c.Instructions[0].Opcode = Nop
	c.Intern("x")
	assert.Equal(t, GuardBothInt, tr.Instructions[0].Opcode)
	assert.Len(t, tr.Objects, 1)
	assert.False(t, c.Equal(tr))
}

func TestInstructionString(t *testing.T) {
	assert.Equal(t, "_LOAD_FAST 2", Instruction{Opcode: LoadFast, Oparg: 2}.String())
	assert.Equal(t, "_LOAD_CONST_INLINE 0 0", Instruction{Opcode: LoadConstInline}.String())
	assert.Equal(t, "_EXIT_TRACE 0 target=12", Instruction{Opcode: ExitTrace, Target: 12}.String())
}
