package optimizer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/tier2/internal/uop"
)

func TestRemoveUnneededUops(t *testing.T) {
	instrs := []uop.Instruction{
		{Opcode: uop.SetIP, Operand: 1}, // 0: nothing needs it
		{Opcode: uop.LoadFast},          // 1
		{Opcode: uop.SetIP, Operand: 2}, // 2: kept for the add
		{Opcode: uop.BinaryOpAddInt},    // 3: may raise
		{Opcode: uop.CheckValidity},     // 4: first check is kept
		{Opcode: uop.CheckValidity},     // 5: nothing escaped
		{Opcode: uop.ToBool},            // 6: escapes
		{Opcode: uop.CheckValidity},     // 7: kept
		{Opcode: uop.SetIP, Operand: 3}, // 8: trailing
		{Opcode: uop.ExitTrace},         // 9
		{Opcode: uop.SetIP, Operand: 4}, // 10: after the terminator
	}
	removeUnneededUops(instrs)

	assert.Equal(t, uop.Instruction{Opcode: uop.Nop}, instrs[0])
	assert.Equal(t, uop.Instruction{Opcode: uop.SetIP, Operand: 2}, instrs[2])
	assert.Equal(t, uop.CheckValidity, instrs[4].Opcode)
	assert.Equal(t, uop.Nop, instrs[5].Opcode)
	assert.Equal(t, uop.CheckValidity, instrs[7].Opcode)
	assert.Equal(t, uop.Nop, instrs[8].Opcode)
	assert.Equal(t, uop.Instruction{Opcode: uop.SetIP, Operand: 4}, instrs[10])
}

func TestRemoveUnneededUopsPushFrameNeedsIP(t *testing.T) {
	instrs := []uop.Instruction{
		{Opcode: uop.SetIP, Operand: 5},
		{Opcode: uop.PushFrame},
	}
	removeUnneededUops(instrs)
	assert.Equal(t, uop.SetIP, instrs[0].Opcode)
	assert.Equal(t, uint64(5), instrs[0].Operand)
}

func TestRemoveUnneededUopsIdempotent(t *testing.T) {
	instrs := []uop.Instruction{
		{Opcode: uop.SetIP, Operand: 1},
		{Opcode: uop.CheckValidity},
		{Opcode: uop.SetIP, Operand: 2},
		{Opcode: uop.StoreAttr},
		{Opcode: uop.CheckValidity},
		{Opcode: uop.CheckValidity},
		{Opcode: uop.JumpToTop},
	}
	removeUnneededUops(instrs)
	once := append([]uop.Instruction(nil), instrs...)
	removeUnneededUops(instrs)
	assert.Equal(t, once, instrs)
}
