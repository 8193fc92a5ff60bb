// Package tier2 bundles the two building blocks of a tracing tier: a
// NUMA-aware arena allocator for large memory ranges and an optimizer that
// removes redundant guards from micro-op traces.
//
// # Quick Start
//
//	rt, _ := tier2.New(tier2.WithLogger(tier2.NewTextLogger(slog.LevelInfo)))
//	defer rt.Close()
//
//	// Large allocations come from 32 MiB-block arenas or straight from the OS.
//	a, _ := rt.Allocate(16<<20, 0, true, false)
//	defer rt.Release(a)
//
//	// Traces are read from their text or binary form.
//	trace, _ := tier2.LoadTrace("loop.trace")
//	res, _ := rt.Optimize(ctx, trace)
//	fmt.Println(res.Eliminated, "guards removed")
//
// # Executors
//
// Install optimizes a trace and keeps it as an executor until one of the
// objects it depends on changes:
//
//	exec, _ := rt.Install(ctx, trace)
//	rt.Invalidate(ctx, globalsDictID) // exec.Valid() is now false
//
// # Errors
//
// Errors returned by the runtime wrap one of the package sentinels
// (ErrOutOfMemory, ErrCorruption, ErrOutOfSpace, ErrNotProfitable,
// ErrMalformedTrace, ErrInvalidConfig) around the underlying cause. An
// optimizer abort (IsAbort) leaves the trace unchanged and is not a failure
// of the trace itself.
package tier2
