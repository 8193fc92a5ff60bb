package uop

// Flag describes static properties of an opcode.
type Flag uint8

const (
	// FlagGuard marks ops that deoptimize when their check fails.
	FlagGuard Flag = 1 << iota
	// FlagPassthrough marks ops whose outputs are their inputs, unchanged.
	FlagPassthrough
	// FlagEscapes marks ops that may run arbitrary code.
	FlagEscapes
	// FlagError marks ops that may raise.
	FlagError
	// FlagTerminator marks ops that end the trace.
	FlagTerminator
	// FlagObjectOperand marks ops whose operand is an index into Trace.Objects.
	FlagObjectOperand
)

// Has reports whether all bits of g are set.
func (f Flag) Has(g Flag) bool { return f&g == g }

// operation is the static metadata of an opcode, in the manner of a jump table.
type operation struct {
	pops   func(oparg int) int
	pushes func(oparg int) int
	flags  Flag
}

func fixed(n int) func(int) int { return func(int) int { return n } }

func opargPlus(n int) func(int) int { return func(oparg int) int { return oparg + n } }

func oneOrTwo(oparg int) int { return 1 + oparg&1 }

func unpackExCount(oparg int) int { return oparg&0xFF + oparg>>8 + 1 }

var (
	none    = fixed(0)
	one     = fixed(1)
	two     = fixed(2)
	withArg = opargPlus(0)
)

var operations = map[Opcode]operation{
	Nop:                           {none, none, 0},
	LoadFastCheck:                 {none, one, FlagError},
	LoadFast:                      {none, one, 0},
	LoadFastAndClear:              {none, one, 0},
	LoadConst:                     {none, one, 0},
	LoadConstInline:               {none, one, FlagObjectOperand},
	LoadConstInlineBorrow:         {none, one, FlagObjectOperand},
	LoadConstInlineWithNull:       {none, two, FlagObjectOperand},
	LoadConstInlineBorrowWithNull: {none, two, FlagObjectOperand},
	StoreFast:                     {one, none, 0},
	PopTop:                        {one, none, 0},
	PushNull:                      {none, one, 0},
	Copy:                          {withArg, opargPlus(1), 0},
	Swap:                          {withArg, withArg, 0},

	GuardBothInt:          {two, two, FlagGuard | FlagPassthrough},
	GuardBothFloat:        {two, two, FlagGuard | FlagPassthrough},
	GuardBothUnicode:      {two, two, FlagGuard | FlagPassthrough},
	BinaryOpAddInt:        {two, one, FlagError},
	BinaryOpSubtractInt:   {two, one, FlagError},
	BinaryOpMultiplyInt:   {two, one, FlagError},
	BinaryOpAddFloat:      {two, one, 0},
	BinaryOpSubtractFloat: {two, one, 0},
	BinaryOpMultiplyFloat: {two, one, 0},
	BinaryOpAddUnicode:    {two, one, FlagError},
	CompareOpInt:          {two, one, 0},
	BinarySubscr:          {two, one, FlagEscapes | FlagError},
	ToBool:                {one, one, FlagEscapes | FlagError},
	BuildTuple:            {withArg, one, FlagError},
	GuardIsTruePop:        {one, none, FlagGuard},
	GuardIsFalsePop:       {one, none, FlagGuard},
	GuardIsNonePop:        {one, none, FlagGuard},

	GuardTypeVersion:            {one, one, FlagGuard | FlagPassthrough},
	CheckManagedObjectHasValues: {one, one, FlagGuard | FlagPassthrough},
	CheckAttrModule:             {one, one, FlagGuard | FlagPassthrough},
	CheckAttrClass:              {one, one, FlagGuard | FlagPassthrough},
	LoadAttrInstanceValue:       {one, oneOrTwo, 0},
	LoadAttrSlot:                {one, oneOrTwo, 0},
	LoadAttrModule:              {one, oneOrTwo, FlagObjectOperand},
	LoadAttrWithHint:            {one, oneOrTwo, 0},
	LoadAttrClass:               {one, oneOrTwo, 0},
	StoreAttr:                   {two, none, FlagEscapes | FlagError},

	CheckPEP523:                   {none, none, FlagGuard},
	CheckFunctionExactArgs:        {opargPlus(2), opargPlus(2), FlagGuard | FlagPassthrough},
	CheckCallBoundMethodExactArgs: {opargPlus(2), opargPlus(2), FlagGuard | FlagPassthrough},
	InitCallBoundMethodExactArgs:  {opargPlus(2), opargPlus(2), 0},
	CheckStackSpace:               {opargPlus(2), opargPlus(2), FlagGuard | FlagPassthrough},
	InitCallPyExactArgs:           {opargPlus(2), one, FlagObjectOperand},
	SaveReturnOffset:              {none, none, 0},
	PushFrame:                     {one, none, 0},
	PopFrame:                      {one, none, 0},
	CallBuiltinFast:               {opargPlus(2), one, FlagEscapes | FlagError},

	UnpackSequence:         {one, withArg, FlagEscapes | FlagError},
	UnpackSequenceTwoTuple: {one, withArg, FlagGuard},
	UnpackSequenceTuple:    {one, withArg, FlagGuard},
	UnpackSequenceList:     {one, withArg, FlagGuard},
	UnpackEx:               {one, unpackExCount, FlagEscapes | FlagError},
	IterCheckRange:         {one, one, FlagGuard | FlagPassthrough},
	GuardNotExhaustedRange: {one, one, FlagGuard | FlagPassthrough},
	IterNextRange:          {one, two, FlagError},

	GuardGlobalsVersion:  {none, none, FlagGuard | FlagObjectOperand},
	GuardBuiltinsVersion: {none, none, FlagGuard | FlagObjectOperand},
	LoadGlobalModule:     {none, oneOrTwo, FlagObjectOperand},
	LoadGlobalBuiltins:   {none, oneOrTwo, FlagObjectOperand},

	SetIP:         {none, none, 0},
	CheckValidity: {none, none, FlagGuard},
	ExitTrace:     {none, none, FlagTerminator},
	JumpToTop:     {none, none, FlagTerminator},
}

// Flags returns the static flags of op.
func (op Opcode) Flags() Flag {
	return operations[op].flags
}

// StackEffect returns how many values op pops and pushes for oparg.
// Undefined opcodes report zero for both.
func (op Opcode) StackEffect(oparg int) (pops, pushes int) {
	o, ok := operations[op]
	if !ok {
		return 0, 0
	}
	return o.pops(oparg), o.pushes(oparg)
}

// IsTerminator reports whether op ends a trace.
func (op Opcode) IsTerminator() bool { return op.Flags().Has(FlagTerminator) }
