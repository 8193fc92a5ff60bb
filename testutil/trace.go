package testutil

import (
	"github.com/hupe1980/tier2/internal/uop"
)

// TraceBuilder assembles a uop.Trace instruction by instruction.
type TraceBuilder struct {
	t *uop.Trace
}

// NewTraceBuilder returns an empty builder.
func NewTraceBuilder() *TraceBuilder {
	return &TraceBuilder{t: &uop.Trace{}}
}

// Entry sets the code object and stack depth the trace starts with.
func (b *TraceBuilder) Entry(code *uop.Code, stackEntries int) *TraceBuilder {
	b.t.Entry = code
	b.t.StackEntries = stackEntries
	return b
}

// Op appends an instruction without operand.
func (b *TraceBuilder) Op(op uop.Opcode, oparg int) *TraceBuilder {
	b.t.Instructions = append(b.t.Instructions, uop.Instruction{Opcode: op, Oparg: uint16(oparg)}) //nolint:gosec // test fixtures
	return b
}

// OpOperand appends an instruction with a raw operand.
func (b *TraceBuilder) OpOperand(op uop.Opcode, oparg int, operand uint64) *TraceBuilder {
	b.t.Instructions = append(b.t.Instructions, uop.Instruction{Opcode: op, Oparg: uint16(oparg), Operand: operand}) //nolint:gosec // test fixtures
	return b
}

// OpObject appends an instruction whose operand names obj, interning it.
func (b *TraceBuilder) OpObject(op uop.Opcode, oparg int, obj any) *TraceBuilder {
	return b.OpOperand(op, oparg, b.t.Intern(obj))
}

// Const appends _LOAD_CONST_INLINE_BORROW of v.
func (b *TraceBuilder) Const(v any) *TraceBuilder {
	return b.OpObject(uop.LoadConstInlineBorrow, 0, v)
}

// Object interns obj and returns its operand.
func (b *TraceBuilder) Object(obj any) uint64 {
	return b.t.Intern(obj)
}

// Exit appends _EXIT_TRACE.
func (b *TraceBuilder) Exit() *TraceBuilder {
	return b.Op(uop.ExitTrace, 0)
}

// Build returns the trace. The builder must not be used afterwards.
func (b *TraceBuilder) Build() *uop.Trace {
	return b.t
}

// NewCode returns a code object for fixtures.
func NewCode(id uint64, args, locals, stack int, consts ...any) *uop.Code {
	return &uop.Code{
		ID:          id,
		Name:        "fixture",
		ArgCount:    args,
		NLocalsPlus: locals,
		StackSize:   stack,
		Consts:      consts,
	}
}
