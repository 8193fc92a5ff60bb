package tier2

import (
	"context"
	"sync/atomic"

	"github.com/hupe1980/tier2/internal/arena"
	"github.com/hupe1980/tier2/internal/executor"
	"github.com/hupe1980/tier2/internal/optimizer"
)

// Allocation describes memory handed out by Allocate.
type Allocation = arena.Allocation

// Result describes a successful optimizer pass.
type Result = optimizer.Result

// Executor is an installed optimized trace.
type Executor = executor.Executor

// Stats is a snapshot of the runtime counters.
type Stats struct {
	Arena    arena.Stats
	Executor executor.Stats
}

// Runtime owns an arena allocator, a trace optimizer and the registry of
// installed executors. It is safe for concurrent use.
type Runtime struct {
	alloc   *arena.Allocator
	opt     *optimizer.Optimizer
	execs   *executor.Registry
	logger  *Logger
	metrics MetricsCollector
	closed  atomic.Bool
}

// New creates a Runtime. Startup reservations named in the arena config are
// attempted here; their failures are logged, not returned.
func New(optFns ...Option) (*Runtime, error) {
	o := defaultOptions()
	for _, fn := range optFns {
		fn(&o)
	}

	arenaOpts := []arena.Option{
		arena.WithLogger(o.logger),
		arena.WithMetrics(o.metricsCollector),
	}
	if o.os != nil {
		arenaOpts = append(arenaOpts, arena.WithOS(o.os))
	}
	if o.onCorruption != nil {
		arenaOpts = append(arenaOpts, arena.WithCorruptionHandler(o.onCorruption))
	}
	alloc, err := arena.New(o.arena, arenaOpts...)
	if err != nil {
		return nil, translateError(err)
	}

	opt, err := optimizer.New(o.optimizer,
		optimizer.WithLogger(o.logger),
		optimizer.WithMetrics(o.metricsCollector),
	)
	if err != nil {
		return nil, translateError(err)
	}

	execs, err := executor.New(opt,
		executor.WithCacheSize(o.cacheSize),
		executor.WithLogger(o.logger),
	)
	if err != nil {
		return nil, translateError(err)
	}

	return &Runtime{
		alloc:   alloc,
		opt:     opt,
		execs:   execs,
		logger:  o.logger,
		metrics: o.metricsCollector,
	}, nil
}

// Allocate returns size bytes aligned to alignment. Zero asks for no
// alignment: arena memory is block aligned regardless, OS memory only page
// aligned. Requests of at least half a block are served from arenas when
// possible and from the OS otherwise.
func (r *Runtime) Allocate(size, alignment uintptr, commit, large bool) (Allocation, error) {
	if r.closed.Load() {
		return Allocation{}, ErrClosed
	}
	a, err := r.alloc.Allocate(size, alignment, commit, large)
	return a, translateError(err)
}

// Release returns an allocation. Releasing a zero Allocation is a no-op.
func (r *Runtime) Release(a Allocation) error {
	return translateError(r.alloc.Release(a.Addr, a.Size, a.MemID, a.Committed))
}

// ReserveOSMemory reserves size bytes from the OS and registers them as an
// arena.
func (r *Runtime) ReserveOSMemory(size uintptr, commit, large bool) error {
	if r.closed.Load() {
		return ErrClosed
	}
	return translateError(r.alloc.ReserveOSMemory(size, commit, large))
}

// ReserveHugePages reserves 1 GiB pages as arenas. A negative node spreads
// the pages over all NUMA nodes.
func (r *Runtime) ReserveHugePages(ctx context.Context, pages, node int) error {
	if r.closed.Load() {
		return ErrClosed
	}
	if node < 0 {
		return translateError(r.alloc.ReserveHugePagesInterleaved(ctx, pages, 0, 0))
	}
	return translateError(r.alloc.ReserveHugePagesAt(ctx, pages, node))
}

// Allocator exposes the underlying allocator.
func (r *Runtime) Allocator() *arena.Allocator { return r.alloc }

// Optimize removes redundant guards from t in place, starting in t.Entry.
// On error t is unchanged.
func (r *Runtime) Optimize(ctx context.Context, t *Trace) (Result, error) {
	if r.closed.Load() {
		return Result{}, ErrClosed
	}
	res, err := r.opt.OptimizeTrace(ctx, t)
	return res, translateError(err)
}

// Install optimizes a copy of t and registers it as an executor. Identical
// traces share the cached executor while it is valid.
func (r *Runtime) Install(ctx context.Context, t *Trace) (*Executor, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	e, err := r.execs.Install(ctx, t)
	return e, translateError(err)
}

// Lookup returns a valid executor by id.
func (r *Runtime) Lookup(id uint32) (*Executor, bool) {
	return r.execs.Lookup(id)
}

// Invalidate invalidates every executor that may depend on the object with
// the given id and returns how many were invalidated.
func (r *Runtime) Invalidate(ctx context.Context, objID uint64) int {
	return r.execs.InvalidateDependency(ctx, objID)
}

// Stats returns a snapshot of the allocator and executor counters.
func (r *Runtime) Stats() Stats {
	return Stats{
		Arena:    r.alloc.Stats(),
		Executor: r.execs.Stats(),
	}
}

// Close invalidates all executors. Arena memory stays mapped for the life
// of the process; outstanding allocations may still be released.
func (r *Runtime) Close() error {
	if r.closed.Swap(true) {
		return nil
	}
	n := r.execs.InvalidateAll(context.Background())
	r.logger.Debug("runtime closed", "invalidated", n, "arenas", r.alloc.ArenaCount())
	return nil
}
