// Package optimizer runs a single forward abstract interpretation over a uop
// trace and rewrites guards it can prove redundant to _NOP.
//
// Every stack slot and local of every inlined frame holds a *Symbol, the best
// static fact known about the runtime value at that point: unknown, null,
// not null, of a known type, a constant, or contradictory (bottom). Guards
// whose condition is already implied by the symbols are replaced in place;
// every other guard narrows its inputs for the rest of the trace.
//
// The pass works on a copy of the trace and commits it back only on success.
// Any abort (ErrOutOfSpace, ErrNotProfitable, ErrMalformedTrace) leaves the
// caller's trace untouched, so the unoptimized trace can always be run.
//
//	opt, err := optimizer.New(optimizer.DefaultConfig())
//	res, err := opt.Optimize(ctx, trace, code, 0)
package optimizer
