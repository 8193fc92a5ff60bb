package uop

// Type is a runtime type known to the optimizer. Types are compared by
// identity.
type Type struct {
	Name string
}

func (t *Type) String() string {
	if t == nil {
		return "<unknown>"
	}
	return t.Name
}

// Runtime types the optimizer reasons about.
var (
	IntType       = &Type{Name: "int"}
	FloatType     = &Type{Name: "float"}
	StrType       = &Type{Name: "str"}
	BoolType      = &Type{Name: "bool"}
	NoneType      = &Type{Name: "NoneType"}
	TupleType     = &Type{Name: "tuple"}
	ListType      = &Type{Name: "list"}
	FunctionType  = &Type{Name: "function"}
	MethodType    = &Type{Name: "method"}
	CodeType      = &Type{Name: "code"}
	RangeIterType = &Type{Name: "range_iterator"}
	ModuleType    = &Type{Name: "module"}
	DictType      = &Type{Name: "dict"}
)

// NoneValue is the None singleton.
type NoneValue struct{}

// None is the value of None.
var None = NoneValue{}

// Code describes a code object: argument and local counts and constants.
type Code struct {
	ID          uint64
	Name        string
	ArgCount    int
	NLocalsPlus int
	StackSize   int
	Consts      []any
}

// Function is a function object bound to its code.
type Function struct {
	ID      uint64
	Code    *Code
	Version uint32
}

// BoundMethod pairs a function with its receiver.
type BoundMethod struct {
	Func *Function
	Self any
}

// Dict is a namespace dictionary identified by id, guarded by version.
type Dict struct {
	ID      uint64
	Version uint32
}

// Module is a module object.
type Module struct {
	ID   uint64
	Name string
}

// Tuple is an immutable sequence constant.
type Tuple struct {
	Items []any
}

// List is a mutable sequence.
type List struct {
	Items []any
}

// RangeIter is a range iterator.
type RangeIter struct {
	Next, Stop, Step int64
}

// TypeOf returns the exact type of an object, or nil when it is not one of
// the types the optimizer knows.
func TypeOf(v any) *Type {
	switch v.(type) {
	case int64, int:
		return IntType
	case float64:
		return FloatType
	case string:
		return StrType
	case bool:
		return BoolType
	case NoneValue:
		return NoneType
	case *Tuple:
		return TupleType
	case *List:
		return ListType
	case *Function:
		return FunctionType
	case *BoundMethod:
		return MethodType
	case *Code:
		return CodeType
	case *RangeIter:
		return RangeIterType
	case *Module:
		return ModuleType
	case *Dict:
		return DictType
	default:
		return nil
	}
}

// ObjectID returns the identity used for dependency tracking.
func ObjectID(v any) (uint64, bool) {
	switch o := v.(type) {
	case *Code:
		return o.ID, true
	case *Function:
		return o.ID, true
	case *Dict:
		return o.ID, true
	case *Module:
		return o.ID, true
	default:
		return 0, false
	}
}
