package uop

import (
	"errors"
	"fmt"
)

// MaxTraceLength is the longest trace the optimizer accepts.
const MaxTraceLength = 512

var (
	// ErrUnknownObject is returned when an operand names no object.
	ErrUnknownObject = errors.New("uop: operand names no object")
	// ErrUndefinedOpcode is returned for opcodes without metadata.
	ErrUndefinedOpcode = errors.New("uop: undefined opcode")
)

// Instruction is one micro-op.
type Instruction struct {
	Opcode  Opcode
	Oparg   uint16
	Target  uint32
	Operand uint64
}

func (in Instruction) String() string {
	s := fmt.Sprintf("%s %d", in.Opcode, in.Oparg)
	if in.Operand != 0 || in.Opcode.Flags().Has(FlagObjectOperand) {
		s += fmt.Sprintf(" %d", in.Operand)
	}
	if in.Target != 0 {
		s += fmt.Sprintf(" target=%d", in.Target)
	}
	return s
}

// Trace is a recorded micro-op sequence and the objects its operands name.
type Trace struct {
	Instructions []Instruction
	Objects      []any

	// Entry is the code object the trace starts in, if known.
	Entry *Code
	// StackEntries is the stack depth of the entry frame at trace start.
	StackEntries int
}

// Len returns the number of instructions.
func (t *Trace) Len() int { return len(t.Instructions) }

// Clone returns a copy whose instruction and object slices can be modified
// without affecting t. The objects themselves are shared.
func (t *Trace) Clone() *Trace {
	return &Trace{
		Instructions: append([]Instruction(nil), t.Instructions...),
		Objects:      append([]any(nil), t.Objects...),
		Entry:        t.Entry,
		StackEntries: t.StackEntries,
	}
}

// Object resolves an object operand.
func (t *Trace) Object(operand uint64) (any, error) {
	if operand >= uint64(len(t.Objects)) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownObject, operand)
	}
	return t.Objects[operand], nil
}

// Intern returns the index of v in the object table, appending it if absent.
func (t *Trace) Intern(v any) uint64 {
	for i, o := range t.Objects {
		if sameObject(o, v) {
			return uint64(i)
		}
	}
	t.Objects = append(t.Objects, v)
	return uint64(len(t.Objects) - 1)
}

// SameObjects reports whether two object tables name the same objects in the
// same order: constants compare by value, everything else by identity.
func SameObjects(a, b []any) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !sameObject(a[i], b[i]) {
			return false
		}
	}
	return true
}

func sameObject(a, b any) bool {
	switch a.(type) {
	case int64, int, float64, string, bool, NoneValue:
		return a == b
	default:
		// Pointers compare by identity.
		return TypeOf(a) != nil && a == b
	}
}

// Validate checks that every opcode is defined and every object operand
// resolves.
func (t *Trace) Validate() error {
	for i, in := range t.Instructions {
		if !in.Opcode.Defined() {
			return fmt.Errorf("instruction %d: %w: %#x", i, ErrUndefinedOpcode, uint16(in.Opcode))
		}
		if in.Opcode.Flags().Has(FlagObjectOperand) {
			if _, err := t.Object(in.Operand); err != nil {
				return fmt.Errorf("instruction %d (%s): %w", i, in.Opcode, err)
			}
		}
	}
	return nil
}

// Equal reports whether two traces have identical instructions.
func (t *Trace) Equal(o *Trace) bool {
	if len(t.Instructions) != len(o.Instructions) {
		return false
	}
	for i := range t.Instructions {
		if t.Instructions[i] != o.Instructions[i] {
			return false
		}
	}
	return true
}
