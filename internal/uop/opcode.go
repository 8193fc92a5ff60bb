package uop

import "fmt"

// Opcode identifies a micro-op.
type Opcode uint16

// Frame locals and constants.
const (
	Nop Opcode = iota
	LoadFastCheck
	LoadFast
	LoadFastAndClear
	LoadConst
	LoadConstInline
	LoadConstInlineBorrow
	LoadConstInlineWithNull
	LoadConstInlineBorrowWithNull
	StoreFast
	PopTop
	PushNull
	Copy
	Swap
)

// Type guards and specialized arithmetic.
const (
	GuardBothInt Opcode = iota + 0x20
	GuardBothFloat
	GuardBothUnicode
	BinaryOpAddInt
	BinaryOpSubtractInt
	BinaryOpMultiplyInt
	BinaryOpAddFloat
	BinaryOpSubtractFloat
	BinaryOpMultiplyFloat
	BinaryOpAddUnicode
	CompareOpInt
	BinarySubscr
	ToBool
	BuildTuple
	GuardIsTruePop
	GuardIsFalsePop
	GuardIsNonePop
)

// Attribute access.
const (
	GuardTypeVersion Opcode = iota + 0x40
	CheckManagedObjectHasValues
	CheckAttrModule
	CheckAttrClass
	LoadAttrInstanceValue
	LoadAttrSlot
	LoadAttrModule
	LoadAttrWithHint
	LoadAttrClass
	StoreAttr
)

// Calls and frames.
const (
	CheckPEP523 Opcode = iota + 0x60
	CheckFunctionExactArgs
	CheckCallBoundMethodExactArgs
	InitCallBoundMethodExactArgs
	CheckStackSpace
	InitCallPyExactArgs
	SaveReturnOffset
	PushFrame
	PopFrame
	CallBuiltinFast
)

// Unpacking and iteration.
const (
	UnpackSequence Opcode = iota + 0x80
	UnpackSequenceTwoTuple
	UnpackSequenceTuple
	UnpackSequenceList
	UnpackEx
	IterCheckRange
	GuardNotExhaustedRange
	IterNextRange
)

// Globals.
const (
	GuardGlobalsVersion Opcode = iota + 0xa0
	GuardBuiltinsVersion
	LoadGlobalModule
	LoadGlobalBuiltins
)

// Trace control.
const (
	SetIP Opcode = iota + 0xc0
	CheckValidity
	ExitTrace
	JumpToTop
)

var opcodeToString = map[Opcode]string{
	Nop:                           "_NOP",
	LoadFastCheck:                 "_LOAD_FAST_CHECK",
	LoadFast:                      "_LOAD_FAST",
	LoadFastAndClear:              "_LOAD_FAST_AND_CLEAR",
	LoadConst:                     "_LOAD_CONST",
	LoadConstInline:               "_LOAD_CONST_INLINE",
	LoadConstInlineBorrow:         "_LOAD_CONST_INLINE_BORROW",
	LoadConstInlineWithNull:       "_LOAD_CONST_INLINE_WITH_NULL",
	LoadConstInlineBorrowWithNull: "_LOAD_CONST_INLINE_BORROW_WITH_NULL",
	StoreFast:                     "_STORE_FAST",
	PopTop:                        "_POP_TOP",
	PushNull:                      "_PUSH_NULL",
	Copy:                          "_COPY",
	Swap:                          "_SWAP",

	GuardBothInt:          "_GUARD_BOTH_INT",
	GuardBothFloat:        "_GUARD_BOTH_FLOAT",
	GuardBothUnicode:      "_GUARD_BOTH_UNICODE",
	BinaryOpAddInt:        "_BINARY_OP_ADD_INT",
	BinaryOpSubtractInt:   "_BINARY_OP_SUBTRACT_INT",
	BinaryOpMultiplyInt:   "_BINARY_OP_MULTIPLY_INT",
	BinaryOpAddFloat:      "_BINARY_OP_ADD_FLOAT",
	BinaryOpSubtractFloat: "_BINARY_OP_SUBTRACT_FLOAT",
	BinaryOpMultiplyFloat: "_BINARY_OP_MULTIPLY_FLOAT",
	BinaryOpAddUnicode:    "_BINARY_OP_ADD_UNICODE",
	CompareOpInt:          "_COMPARE_OP_INT",
	BinarySubscr:          "_BINARY_SUBSCR",
	ToBool:                "_TO_BOOL",
	BuildTuple:            "_BUILD_TUPLE",
	GuardIsTruePop:        "_GUARD_IS_TRUE_POP",
	GuardIsFalsePop:       "_GUARD_IS_FALSE_POP",
	GuardIsNonePop:        "_GUARD_IS_NONE_POP",

	GuardTypeVersion:            "_GUARD_TYPE_VERSION",
	CheckManagedObjectHasValues: "_CHECK_MANAGED_OBJECT_HAS_VALUES",
	CheckAttrModule:             "_CHECK_ATTR_MODULE",
	CheckAttrClass:              "_CHECK_ATTR_CLASS",
	LoadAttrInstanceValue:       "_LOAD_ATTR_INSTANCE_VALUE",
	LoadAttrSlot:                "_LOAD_ATTR_SLOT",
	LoadAttrModule:              "_LOAD_ATTR_MODULE",
	LoadAttrWithHint:            "_LOAD_ATTR_WITH_HINT",
	LoadAttrClass:               "_LOAD_ATTR_CLASS",
	StoreAttr:                   "_STORE_ATTR",

	CheckPEP523:                   "_CHECK_PEP_523",
	CheckFunctionExactArgs:        "_CHECK_FUNCTION_EXACT_ARGS",
	CheckCallBoundMethodExactArgs: "_CHECK_CALL_BOUND_METHOD_EXACT_ARGS",
	InitCallBoundMethodExactArgs:  "_INIT_CALL_BOUND_METHOD_EXACT_ARGS",
	CheckStackSpace:               "_CHECK_STACK_SPACE",
	InitCallPyExactArgs:           "_INIT_CALL_PY_EXACT_ARGS",
	SaveReturnOffset:              "_SAVE_RETURN_OFFSET",
	PushFrame:                     "_PUSH_FRAME",
	PopFrame:                      "_POP_FRAME",
	CallBuiltinFast:               "_CALL_BUILTIN_FAST",

	UnpackSequence:         "_UNPACK_SEQUENCE",
	UnpackSequenceTwoTuple: "_UNPACK_SEQUENCE_TWO_TUPLE",
	UnpackSequenceTuple:    "_UNPACK_SEQUENCE_TUPLE",
	UnpackSequenceList:     "_UNPACK_SEQUENCE_LIST",
	UnpackEx:               "_UNPACK_EX",
	IterCheckRange:         "_ITER_CHECK_RANGE",
	GuardNotExhaustedRange: "_GUARD_NOT_EXHAUSTED_RANGE",
	IterNextRange:          "_ITER_NEXT_RANGE",

	GuardGlobalsVersion:  "_GUARD_GLOBALS_VERSION",
	GuardBuiltinsVersion: "_GUARD_BUILTINS_VERSION",
	LoadGlobalModule:     "_LOAD_GLOBAL_MODULE",
	LoadGlobalBuiltins:   "_LOAD_GLOBAL_BUILTINS",

	SetIP:         "_SET_IP",
	CheckValidity: "_CHECK_VALIDITY",
	ExitTrace:     "_EXIT_TRACE",
	JumpToTop:     "_JUMP_TO_TOP",
}

var stringToOp = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeToString))
	for op, name := range opcodeToString {
		m[name] = op
	}
	return m
}()

func (op Opcode) String() string {
	str := opcodeToString[op]
	if len(str) == 0 {
		return fmt.Sprintf("opcode 0x%x not defined", uint16(op))
	}
	return str
}

// Defined reports whether op is a known opcode.
func (op Opcode) Defined() bool {
	_, ok := opcodeToString[op]
	return ok
}

// StringToOp looks up an opcode by name. The leading underscore is optional.
func StringToOp(name string) (Opcode, bool) {
	if op, ok := stringToOp[name]; ok {
		return op, true
	}
	op, ok := stringToOp["_"+name]
	return op, ok
}

// Opcodes returns every defined opcode in ascending order.
func Opcodes() []Opcode {
	ops := make([]Opcode, 0, len(opcodeToString))
	for op := Opcode(0); op < 0x100; op++ {
		if op.Defined() {
			ops = append(ops, op)
		}
	}
	return ops
}
