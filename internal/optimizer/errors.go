package optimizer

import (
	"errors"
	"fmt"

	"github.com/hupe1980/tier2/internal/uop"
)

var (
	// ErrOutOfSpace is returned when the symbol arena, the slot space or the
	// frame stack is exhausted. The trace should run unoptimized.
	ErrOutOfSpace = errors.New("optimizer: out of space")
	// ErrMalformedTrace is returned for traces that violate stack or frame
	// discipline, or name objects of the wrong kind.
	ErrMalformedTrace = errors.New("optimizer: malformed trace")
	// ErrNotProfitable is returned when the trace is known to fail at runtime.
	ErrNotProfitable = errors.New("optimizer: not profitable")
	// ErrFrameUnderflow is returned when a trace pops its entry frame.
	ErrFrameUnderflow = fmt.Errorf("%w: frame underflow", ErrMalformedTrace)
	// ErrTraceTooLong is returned for traces over the configured length.
	ErrTraceTooLong = fmt.Errorf("%w: trace too long", ErrMalformedTrace)
	// ErrInvalidConfig is returned by New for unusable limits.
	ErrInvalidConfig = errors.New("optimizer: invalid config")
)

// TraceError locates an abort at one instruction.
type TraceError struct {
	Index  int
	Opcode uop.Opcode
	Err    error
}

func (e *TraceError) Error() string {
	return fmt.Sprintf("optimizer: instruction %d (%s): %v", e.Index, e.Opcode, e.Err)
}

func (e *TraceError) Unwrap() error { return e.Err }

// IsAbort reports whether err means "run the trace unoptimized" rather than
// a broken trace.
func IsAbort(err error) bool {
	return errors.Is(err, ErrOutOfSpace) || errors.Is(err, ErrNotProfitable)
}
