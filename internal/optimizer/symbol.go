package optimizer

import (
	"fmt"

	"github.com/hupe1980/tier2/internal/uop"
)

// Kind classifies what is known about a symbol.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotNull
	KindNull
	KindKnownType
	KindConst
	KindBottom
)

func (k Kind) String() string {
	switch k {
	case KindUnknown:
		return "unknown"
	case KindNotNull:
		return "not_null"
	case KindNull:
		return "null"
	case KindKnownType:
		return "known_type"
	case KindConst:
		return "const"
	case KindBottom:
		return "bottom"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

type symFlags uint8

const (
	symNull symFlags = 1 << iota
	symNotNull
	symConst
)

// Symbol is the static knowledge about one value. Facts only accumulate:
// contradictory facts make the symbol bottom, which matches nothing.
type Symbol struct {
	flags symFlags
	typ   *uop.Type
	value any
}

// Kind returns the most specific classification of s.
func (s *Symbol) Kind() Kind {
	switch {
	case s.IsBottom():
		return KindBottom
	case s.flags&symConst != 0:
		return KindConst
	case s.typ != nil:
		return KindKnownType
	case s.flags&symNull != 0:
		return KindNull
	case s.flags&symNotNull != 0:
		return KindNotNull
	default:
		return KindUnknown
	}
}

// IsBottom reports whether s carries contradictory facts.
func (s *Symbol) IsBottom() bool {
	return s.flags&(symNull|symNotNull) == symNull|symNotNull
}

// IsNull reports whether s is known to be null.
func (s *Symbol) IsNull() bool {
	return s.flags&(symNull|symNotNull) == symNull
}

// IsNotNull reports whether s is known not to be null.
func (s *Symbol) IsNotNull() bool {
	return s.flags&(symNull|symNotNull) == symNotNull
}

// IsKnown reports whether the nullness of s is known.
func (s *Symbol) IsKnown() bool {
	return s.IsNull() || s.IsNotNull()
}

// IsConst reports whether s is a known constant.
func (s *Symbol) IsConst() bool {
	return s.flags&symConst != 0 && !s.IsBottom()
}

// Const returns the constant value of s.
func (s *Symbol) Const() (any, bool) {
	if !s.IsConst() {
		return nil, false
	}
	return s.value, true
}

// Type returns the known type of s, or nil.
func (s *Symbol) Type() *uop.Type {
	if s.IsBottom() {
		return nil
	}
	return s.typ
}

// MatchesType reports whether s is known to have exactly type t.
func (s *Symbol) MatchesType(t *uop.Type) bool {
	return t != nil && !s.IsBottom() && s.typ == t
}

// SetType records that s has type t. A conflicting type makes s bottom.
func (s *Symbol) SetType(t *uop.Type) {
	if s.typ != nil && s.typ != t {
		s.setBottom()
		return
	}
	s.typ = t
	s.flags |= symNotNull
}

// SetNull records that s is null.
func (s *Symbol) SetNull() { s.flags |= symNull }

// SetNotNull records that s is not null.
func (s *Symbol) SetNotNull() { s.flags |= symNotNull }

func (s *Symbol) setBottom() { s.flags |= symNull | symNotNull }

func (s *Symbol) String() string {
	switch k := s.Kind(); k {
	case KindConst:
		return fmt.Sprintf("const(%v)", s.value)
	case KindKnownType:
		return "type(" + s.typ.String() + ")"
	default:
		return k.String()
	}
}

// symbolArena is a bump allocator for one pass. Its backing array never
// grows, so handed out pointers stay valid until reset.
type symbolArena struct {
	syms []Symbol
	n    int // allocations attempted, for fault injection
	// failAt makes the failAt-th allocation fail when positive.
	failAt int
}

func newSymbolArena(capacity int) *symbolArena {
	return &symbolArena{syms: make([]Symbol, 0, capacity)}
}

func (a *symbolArena) reset(failAt int) {
	clear(a.syms)
	a.syms = a.syms[:0]
	a.n = 0
	a.failAt = failAt
}

func (a *symbolArena) alloc() (*Symbol, error) {
	a.n++
	if a.failAt > 0 && a.n == a.failAt {
		return nil, ErrOutOfSpace
	}
	if len(a.syms) == cap(a.syms) {
		return nil, ErrOutOfSpace
	}
	a.syms = append(a.syms, Symbol{})
	return &a.syms[len(a.syms)-1], nil
}

func (a *symbolArena) len() int { return len(a.syms) }

func (a *symbolArena) newUnknown() (*Symbol, error) { return a.alloc() }

func (a *symbolArena) newNotNull() (*Symbol, error) {
	s, err := a.alloc()
	if err != nil {
		return nil, err
	}
	s.SetNotNull()
	return s, nil
}

func (a *symbolArena) newNull() (*Symbol, error) {
	s, err := a.alloc()
	if err != nil {
		return nil, err
	}
	s.SetNull()
	return s, nil
}

func (a *symbolArena) newType(t *uop.Type) (*Symbol, error) {
	s, err := a.alloc()
	if err != nil {
		return nil, err
	}
	s.SetType(t)
	return s, nil
}

func (a *symbolArena) newConst(v any) (*Symbol, error) {
	s, err := a.alloc()
	if err != nil {
		return nil, err
	}
	s.flags = symNotNull | symConst
	s.typ = uop.TypeOf(v)
	s.value = v
	return s, nil
}
