package optimizer

import (
	"fmt"

	"github.com/hupe1980/tier2/internal/uop"
)

// frame is one abstract call frame. Its locals and stack are windows into the
// context's slot space; a callee's locals may alias its caller's arguments.
type frame struct {
	code   *uop.Code
	locals int // first local slot
	stack  int // first stack slot
	sp     int // next free stack slot
}

func (f *frame) limit() int { return f.stack + f.code.StackSize }

func (f *frame) depth() int { return f.sp - f.stack }

// abstractContext is the state of one pass. Contexts are pooled by the
// Optimizer and reset between traces.
type abstractContext struct {
	symbols  *symbolArena
	slots    []*Symbol
	consumed int

	frames []frame
	depth  int
	frame  *frame

	// pending is the callee set up by _INIT_CALL_PY_EXACT_ARGS, entered by
	// the following _PUSH_FRAME. marker stands in for it on the stack.
	pending *frame
	marker  Symbol

	deps *Dependencies
	// guarded holds global guards already checked since the last escape.
	guarded map[guardKey]struct{}
}

type guardKey struct {
	op      uop.Opcode
	operand uint64
}

func newAbstractContext(cfg Config) *abstractContext {
	return &abstractContext{
		symbols: newSymbolArena(cfg.MaxSymbols),
		slots:   make([]*Symbol, cfg.MaxSlots),
		frames:  make([]frame, cfg.MaxFrameDepth),
		guarded: make(map[guardKey]struct{}),
	}
}

func (c *abstractContext) reset(failAt int) {
	c.symbols.reset(failAt)
	clear(c.slots)
	clear(c.frames)
	clear(c.guarded)
	c.consumed = 0
	c.depth = 0
	c.frame = nil
	c.pending = nil
	c.deps = &Dependencies{}
}

// init sets up the entry frame with stackEntries unknown values on its stack.
func (c *abstractContext) init(code *uop.Code, stackEntries int) error {
	f, err := c.frameNew(code, -1, 0, stackEntries)
	if err != nil {
		return err
	}
	c.frame = f
	c.depth = 1
	return nil
}

// frameNew lays out a frame for code at the next depth. Locals start at slot
// localsStart, or after everything consumed when localsStart is negative.
// The first filled locals are already in place; the rest and stackEntries
// stack slots are set to unknown.
func (c *abstractContext) frameNew(code *uop.Code, localsStart, filled, stackEntries int) (*frame, error) {
	if c.depth >= len(c.frames) {
		return nil, ErrOutOfSpace
	}
	if code == nil {
		return nil, fmt.Errorf("%w: missing code object", ErrMalformedTrace)
	}
	if filled > code.NLocalsPlus || stackEntries > code.StackSize || stackEntries < 0 {
		return nil, fmt.Errorf("%w: %s: %d arguments and %d stack entries do not fit %d locals and %d stack",
			ErrMalformedTrace, code.Name, filled, stackEntries, code.NLocalsPlus, code.StackSize)
	}
	if localsStart < 0 {
		localsStart = c.consumed
	}
	end := localsStart + code.NLocalsPlus + code.StackSize
	if end > len(c.slots) {
		return nil, ErrOutOfSpace
	}

	f := &c.frames[c.depth]
	*f = frame{
		code:   code,
		locals: localsStart,
		stack:  localsStart + code.NLocalsPlus,
	}
	f.sp = f.stack + stackEntries
	c.consumed = end

	for i := localsStart + filled; i < f.stack; i++ {
		s, err := c.symbols.newUnknown()
		if err != nil {
			return nil, err
		}
		c.slots[i] = s
	}
	for i := f.stack; i < f.sp; i++ {
		s, err := c.symbols.newUnknown()
		if err != nil {
			return nil, err
		}
		c.slots[i] = s
	}
	return f, nil
}

// pushFrame enters the pending frame.
func (c *abstractContext) pushFrame() error {
	top, err := c.pop()
	if err != nil {
		return err
	}
	if top != &c.marker || c.pending == nil {
		return fmt.Errorf("%w: _PUSH_FRAME without a frame set up", ErrMalformedTrace)
	}
	c.frame = c.pending
	c.pending = nil
	c.depth++
	return nil
}

// popFrame returns to the caller. The entry frame is never popped.
func (c *abstractContext) popFrame() error {
	if c.depth <= 1 {
		return ErrFrameUnderflow
	}
	c.consumed = c.frame.locals
	c.depth--
	c.frame = &c.frames[c.depth-1]
	return nil
}

func (c *abstractContext) push(s *Symbol) error {
	f := c.frame
	if f.sp >= f.limit() {
		return fmt.Errorf("%w: stack overflow in %s", ErrMalformedTrace, f.code.Name)
	}
	c.slots[f.sp] = s
	f.sp++
	return nil
}

func (c *abstractContext) pop() (*Symbol, error) {
	f := c.frame
	if f.sp <= f.stack {
		return nil, fmt.Errorf("%w: stack underflow in %s", ErrMalformedTrace, f.code.Name)
	}
	f.sp--
	s := c.slots[f.sp]
	c.slots[f.sp] = nil
	return s, nil
}

func (c *abstractContext) popN(n int) error {
	if n > c.frame.depth() {
		return fmt.Errorf("%w: stack underflow in %s", ErrMalformedTrace, c.frame.code.Name)
	}
	for range n {
		if _, err := c.pop(); err != nil {
			return err
		}
	}
	return nil
}

// peek returns the n-th value from the top, 1 being the top.
func (c *abstractContext) peek(n int) (*Symbol, error) {
	i, err := c.stackIndex(n)
	if err != nil {
		return nil, err
	}
	return c.slots[i], nil
}

func (c *abstractContext) setPeek(n int, s *Symbol) error {
	i, err := c.stackIndex(n)
	if err != nil {
		return err
	}
	c.slots[i] = s
	return nil
}

func (c *abstractContext) stackIndex(n int) (int, error) {
	f := c.frame
	if n < 1 || n > f.depth() {
		return 0, fmt.Errorf("%w: stack access %d with depth %d", ErrMalformedTrace, n, f.depth())
	}
	return f.sp - n, nil
}

func (c *abstractContext) local(i int) (*Symbol, error) {
	if i >= c.frame.code.NLocalsPlus {
		return nil, fmt.Errorf("%w: local %d of %d in %s", ErrMalformedTrace, i, c.frame.code.NLocalsPlus, c.frame.code.Name)
	}
	return c.slots[c.frame.locals+i], nil
}

func (c *abstractContext) setLocal(i int, s *Symbol) error {
	if i >= c.frame.code.NLocalsPlus {
		return fmt.Errorf("%w: local %d of %d in %s", ErrMalformedTrace, i, c.frame.code.NLocalsPlus, c.frame.code.Name)
	}
	c.slots[c.frame.locals+i] = s
	return nil
}

func (c *abstractContext) pushUnknowns(n int) error {
	for range n {
		s, err := c.symbols.newUnknown()
		if err != nil {
			return err
		}
		if err := c.push(s); err != nil {
			return err
		}
	}
	return nil
}

// pushNotNullMaybeNull pushes a non-null result, followed by a null when the
// low oparg bit asks for one.
func (c *abstractContext) pushNotNullMaybeNull(oparg uint16) error {
	s, err := c.symbols.newNotNull()
	if err != nil {
		return err
	}
	if err := c.push(s); err != nil {
		return err
	}
	if oparg&1 == 0 {
		return nil
	}
	null, err := c.symbols.newNull()
	if err != nil {
		return err
	}
	return c.push(null)
}

func (c *abstractContext) pushType(t *uop.Type) error {
	s, err := c.symbols.newType(t)
	if err != nil {
		return err
	}
	return c.push(s)
}
