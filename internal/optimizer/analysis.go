package optimizer

import (
	"fmt"

	"github.com/hupe1980/tier2/internal/uop"
)

// analyze runs the abstract interpreter over t, rewriting t.Instructions in
// place. Only the instruction being interpreted is ever rewritten.
func (c *abstractContext) analyze(t *uop.Trace, customEvalFrame bool) error {
	for i := range t.Instructions {
		in := &t.Instructions[i]
		if in.Opcode.IsTerminator() {
			return nil
		}
		op := in.Opcode
		if err := c.step(t, in, customEvalFrame); err != nil {
			return &TraceError{Index: i, Opcode: op, Err: err}
		}
		if op.Flags().Has(uop.FlagEscapes) {
			clear(c.guarded)
		}
	}
	return nil
}

func replaceWithNop(in *uop.Instruction) {
	in.Opcode = uop.Nop
	in.Oparg = 0
	in.Operand = 0
}

func (c *abstractContext) step(t *uop.Trace, in *uop.Instruction, customEvalFrame bool) error {
	oparg := int(in.Oparg)

	switch in.Opcode {
	case uop.Nop, uop.SetIP, uop.CheckValidity, uop.SaveReturnOffset:
		return nil

	case uop.LoadFastCheck:
		v, err := c.local(oparg)
		if err != nil {
			return err
		}
		if v.IsNull() {
			// Guaranteed to raise UnboundLocalError.
			return ErrNotProfitable
		}
		return c.push(v)

	case uop.LoadFast:
		v, err := c.local(oparg)
		if err != nil {
			return err
		}
		return c.push(v)

	case uop.LoadFastAndClear:
		v, err := c.local(oparg)
		if err != nil {
			return err
		}
		null, err := c.symbols.newNull()
		if err != nil {
			return err
		}
		if err := c.setLocal(oparg, null); err != nil {
			return err
		}
		return c.push(v)

	case uop.StoreFast:
		v, err := c.pop()
		if err != nil {
			return err
		}
		return c.setLocal(oparg, v)

	case uop.LoadConst:
		consts := c.frame.code.Consts
		if oparg >= len(consts) {
			return fmt.Errorf("%w: constant %d of %d in %s", ErrMalformedTrace, oparg, len(consts), c.frame.code.Name)
		}
		v := consts[oparg]
		s, err := c.symbols.newConst(v)
		if err != nil {
			return err
		}
		if err := c.push(s); err != nil {
			return err
		}
		in.Opcode = uop.LoadConstInlineBorrow
		in.Oparg = 0
		in.Operand = t.Intern(v)
		return nil

	case uop.LoadConstInline, uop.LoadConstInlineBorrow,
		uop.LoadConstInlineWithNull, uop.LoadConstInlineBorrowWithNull:
		v, err := t.Object(in.Operand)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrMalformedTrace, err)
		}
		s, err := c.symbols.newConst(v)
		if err != nil {
			return err
		}
		if err := c.push(s); err != nil {
			return err
		}
		if in.Opcode == uop.LoadConstInline || in.Opcode == uop.LoadConstInlineBorrow {
			return nil
		}
		null, err := c.symbols.newNull()
		if err != nil {
			return err
		}
		return c.push(null)

	case uop.PopTop:
		_, err := c.pop()
		return err

	case uop.PushNull:
		null, err := c.symbols.newNull()
		if err != nil {
			return err
		}
		return c.push(null)

	case uop.Copy:
		v, err := c.peek(oparg)
		if err != nil {
			return err
		}
		return c.push(v)

	case uop.Swap:
		if oparg < 2 {
			return fmt.Errorf("%w: swap %d", ErrMalformedTrace, oparg)
		}
		top, err := c.peek(1)
		if err != nil {
			return err
		}
		bottom, err := c.peek(oparg)
		if err != nil {
			return err
		}
		if err := c.setPeek(1, bottom); err != nil {
			return err
		}
		return c.setPeek(oparg, top)

	case uop.GuardBothInt:
		return c.guardBoth(in, uop.IntType)
	case uop.GuardBothFloat:
		return c.guardBoth(in, uop.FloatType)
	case uop.GuardBothUnicode:
		return c.guardBoth(in, uop.StrType)

	case uop.BinaryOpAddInt, uop.BinaryOpSubtractInt, uop.BinaryOpMultiplyInt:
		return c.binaryOp(uop.IntType)
	case uop.BinaryOpAddFloat, uop.BinaryOpSubtractFloat, uop.BinaryOpMultiplyFloat:
		return c.binaryOp(uop.FloatType)
	case uop.BinaryOpAddUnicode:
		return c.binaryOp(uop.StrType)
	case uop.CompareOpInt:
		return c.binaryOp(uop.BoolType)

	case uop.ToBool:
		if _, err := c.pop(); err != nil {
			return err
		}
		return c.pushType(uop.BoolType)

	case uop.BuildTuple:
		if err := c.popN(oparg); err != nil {
			return err
		}
		return c.pushType(uop.TupleType)

	case uop.GuardIsTruePop, uop.GuardIsFalsePop, uop.GuardIsNonePop:
		return c.guardPop(in)

	case uop.LoadAttrInstanceValue, uop.LoadAttrSlot, uop.LoadAttrWithHint, uop.LoadAttrClass:
		if _, err := c.pop(); err != nil {
			return err
		}
		return c.pushNotNullMaybeNull(in.Oparg)

	case uop.LoadAttrModule:
		// The operand is opaque cache data; only a module names a dependency.
		if obj, err := t.Object(in.Operand); err == nil {
			if m, ok := obj.(*uop.Module); ok {
				c.deps.Add(m.ID)
			}
		}
		if _, err := c.pop(); err != nil {
			return err
		}
		return c.pushNotNullMaybeNull(in.Oparg)

	case uop.CheckPEP523:
		if !customEvalFrame {
			replaceWithNop(in)
		}
		return nil

	case uop.CheckFunctionExactArgs:
		callable, err := c.peek(oparg + 2)
		if err != nil {
			return err
		}
		callable.SetType(uop.FunctionType)
		return nil

	case uop.CheckCallBoundMethodExactArgs:
		callable, err := c.peek(oparg + 2)
		if err != nil {
			return err
		}
		null, err := c.peek(oparg + 1)
		if err != nil {
			return err
		}
		null.SetNull()
		callable.SetType(uop.MethodType)
		return nil

	case uop.InitCallBoundMethodExactArgs:
		if _, err := c.peek(oparg + 2); err != nil {
			return err
		}
		fn, err := c.symbols.newNotNull()
		if err != nil {
			return err
		}
		self, err := c.symbols.newNotNull()
		if err != nil {
			return err
		}
		if err := c.setPeek(oparg+2, fn); err != nil {
			return err
		}
		return c.setPeek(oparg+1, self)

	case uop.InitCallPyExactArgs:
		return c.initCallPy(t, in)

	case uop.PushFrame:
		return c.pushFrame()

	case uop.PopFrame:
		retval, err := c.pop()
		if err != nil {
			return err
		}
		if err := c.popFrame(); err != nil {
			return err
		}
		return c.push(retval)

	case uop.UnpackSequence, uop.UnpackSequenceTwoTuple, uop.UnpackSequenceTuple,
		uop.UnpackSequenceList, uop.UnpackEx:
		// The source's contents are never tracked.
		if _, err := c.pop(); err != nil {
			return err
		}
		_, pushes := in.Opcode.StackEffect(oparg)
		return c.pushUnknowns(pushes)

	case uop.IterCheckRange:
		iter, err := c.peek(1)
		if err != nil {
			return err
		}
		if iter.MatchesType(uop.RangeIterType) {
			replaceWithNop(in)
		}
		iter.SetType(uop.RangeIterType)
		return nil

	case uop.IterNextRange:
		if _, err := c.peek(1); err != nil {
			return err
		}
		return c.pushType(uop.IntType)

	case uop.GuardGlobalsVersion, uop.GuardBuiltinsVersion:
		if _, err := c.objectOf(t, in, uop.DictType); err != nil {
			return err
		}
		key := guardKey{op: in.Opcode, operand: in.Operand}
		if _, ok := c.guarded[key]; ok {
			replaceWithNop(in)
			return nil
		}
		c.guarded[key] = struct{}{}
		return nil

	case uop.LoadGlobalModule, uop.LoadGlobalBuiltins:
		if _, err := c.objectOf(t, in, uop.DictType); err != nil {
			return err
		}
		return c.pushNotNullMaybeNull(in.Oparg)
	}

	return c.generic(in)
}

// generic applies the metadata stack effect: passthrough ops keep their
// inputs, everything else produces unknowns.
func (c *abstractContext) generic(in *uop.Instruction) error {
	pops, pushes := in.Opcode.StackEffect(int(in.Oparg))
	if in.Opcode.Flags().Has(uop.FlagPassthrough) && pops == pushes {
		if pops > c.frame.depth() {
			return fmt.Errorf("%w: stack underflow in %s", ErrMalformedTrace, c.frame.code.Name)
		}
		return nil
	}
	if err := c.popN(pops); err != nil {
		return err
	}
	return c.pushUnknowns(pushes)
}

func (c *abstractContext) guardBoth(in *uop.Instruction, typ *uop.Type) error {
	left, err := c.peek(2)
	if err != nil {
		return err
	}
	right, _ := c.peek(1)
	if left.MatchesType(typ) && right.MatchesType(typ) {
		replaceWithNop(in)
	}
	left.SetType(typ)
	right.SetType(typ)
	return nil
}

func (c *abstractContext) binaryOp(result *uop.Type) error {
	if err := c.popN(2); err != nil {
		return err
	}
	return c.pushType(result)
}

// guardPop handles the boolean and None exit guards. A constant condition
// that is known to hold turns the guard into a plain pop.
func (c *abstractContext) guardPop(in *uop.Instruction) error {
	flag, err := c.pop()
	if err != nil {
		return err
	}
	v, ok := flag.Const()
	if !ok {
		return nil
	}
	var holds bool
	switch in.Opcode {
	case uop.GuardIsTruePop:
		holds = v == true
	case uop.GuardIsFalsePop:
		holds = v == false
	case uop.GuardIsNonePop:
		holds = v == uop.None
	}
	if holds {
		in.Opcode = uop.PopTop
		in.Oparg = 0
		in.Operand = 0
	}
	return nil
}

// objectOf resolves the instruction's object operand, checks its type and
// records it as a dependency.
func (c *abstractContext) objectOf(t *uop.Trace, in *uop.Instruction, typ *uop.Type) (any, error) {
	obj, err := t.Object(in.Operand)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedTrace, err)
	}
	if uop.TypeOf(obj) != typ {
		return nil, fmt.Errorf("%w: operand %d is %T, want %s", ErrMalformedTrace, in.Operand, obj, typ)
	}
	if id, ok := uop.ObjectID(obj); ok {
		c.deps.Add(id)
	}
	return obj, nil
}

// initCallPy sets up the callee frame of a Python-to-Python call. When the
// nullness of self is known the callee's locals alias the argument window on
// the caller's stack.
func (c *abstractContext) initCallPy(t *uop.Trace, in *uop.Instruction) error {
	obj, err := c.objectOf(t, in, uop.FunctionType)
	if err != nil {
		return err
	}
	fn := obj.(*uop.Function)
	if fn.Code == nil {
		return fmt.Errorf("%w: function %d has no code", ErrMalformedTrace, fn.ID)
	}
	c.deps.Add(fn.Code.ID)

	argcount := int(in.Oparg)
	selfOrNull, err := c.peek(argcount + 1)
	if err != nil {
		return err
	}
	if _, err := c.peek(argcount + 2); err != nil {
		return err
	}
	callableIdx := c.frame.sp - argcount - 2
	args := c.frame.sp - argcount
	if selfOrNull.IsNotNull() {
		args--
		argcount++
	}

	localsStart, filled := max(c.consumed, c.frame.limit()), 0
	if selfOrNull.IsKnown() {
		localsStart, filled = args, argcount
	}
	callee, err := c.frameNew(fn.Code, localsStart, filled, 0)
	if err != nil {
		return err
	}

	c.frame.sp = callableIdx
	c.pending = callee
	return c.push(&c.marker)
}
