package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/RoaringBitmap/roaring/v2"
	lru "github.com/hashicorp/golang-lru"

	"github.com/hupe1980/tier2/internal/hash"
	"github.com/hupe1980/tier2/internal/logging"
	"github.com/hupe1980/tier2/internal/optimizer"
	"github.com/hupe1980/tier2/internal/uop"
)

// DefaultCacheSize is the number of traces remembered for deduplication.
const DefaultCacheSize = 256

var (
	// ErrInvalidCacheSize is returned by New for a non-positive cache size.
	ErrInvalidCacheSize = errors.New("executor: cache size must be positive")
	// ErrNoEntry is returned when a trace has no entry code object.
	ErrNoEntry = errors.New("executor: trace has no entry code")
)

// Executor is an optimized trace.
type Executor struct {
	ID     uint32
	Trace  *uop.Trace
	Result optimizer.Result

	key     uint32
	source  []uop.Instruction
	objects []any
	entry   *uop.Code
	stack   int
	deps    []uint64
	valid  atomic.Bool
}

// Valid reports whether the executor may still run.
func (e *Executor) Valid() bool { return e.valid.Load() }

// DependsOn returns the ids of the objects the trace names in its guards,
// global loads and inlined calls.
func (e *Executor) DependsOn() []uint64 { return append([]uint64(nil), e.deps...) }

// Stats is a snapshot of registry counters.
type Stats struct {
	Live           int
	Installed      uint64
	CacheHits      uint64
	Aborted        uint64
	Invalidated    uint64
	FalsePositives uint64
	Evictions      uint64
}

type options struct {
	cacheSize int
	logger    *logging.Logger
}

// Option configures a Registry.
type Option func(*options)

// WithCacheSize sets the number of traces remembered for deduplication.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Registry owns the executors created from one optimizer.
type Registry struct {
	opt    *optimizer.Optimizer
	logger *logging.Logger

	mu        sync.Mutex
	cache     *lru.Cache // trace key -> *Executor
	executors map[uint32]*Executor
	live      *roaring.Bitmap
	byObject  map[uint64]*roaring.Bitmap
	nextID    uint32

	installed      atomic.Uint64
	cacheHits      atomic.Uint64
	aborted        atomic.Uint64
	invalidated    atomic.Uint64
	falsePositives atomic.Uint64
	evictions      atomic.Uint64
}

// New returns an empty registry.
func New(opt *optimizer.Optimizer, opts ...Option) (*Registry, error) {
	o := options{
		cacheSize: DefaultCacheSize,
		logger:    logging.Noop(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if o.cacheSize <= 0 {
		return nil, ErrInvalidCacheSize
	}

	r := &Registry{
		opt:       opt,
		logger:    o.logger.WithComponent("executor"),
		executors: make(map[uint32]*Executor),
		live:      roaring.New(),
		byObject:  make(map[uint64]*roaring.Bitmap),
	}
	// Removing an invalidated executor is not an eviction.
	cache, err := lru.NewWithEvict(o.cacheSize, func(_, v interface{}) {
		if e, ok := v.(*Executor); ok && e.Valid() {
			r.evictions.Add(1)
		}
	})
	if err != nil {
		return nil, err
	}
	r.cache = cache
	return r, nil
}

// Install optimizes t and registers the result. t itself is not modified.
// A trace installed earlier with the same instructions, objects and entry
// state, and still valid, is returned as is.
func (r *Registry) Install(ctx context.Context, t *uop.Trace) (*Executor, error) {
	if t.Entry == nil {
		return nil, ErrNoEntry
	}
	key := Key(t)

	r.mu.Lock()
	if v, ok := r.cache.Get(key); ok {
		if e := v.(*Executor); e.Valid() && e.matches(t) { //nolint:errcheck // cache only holds executors
			r.mu.Unlock()
			r.cacheHits.Add(1)
			return e, nil
		}
	}
	r.mu.Unlock()

	work := t.Clone()
	res, err := r.opt.OptimizeTrace(ctx, work)
	if err != nil {
		r.aborted.Add(1)
		return nil, fmt.Errorf("executor: install: %w", err)
	}

	e := &Executor{
		Trace:   work,
		Result:  res,
		key:     key,
		source:  append([]uop.Instruction(nil), t.Instructions...),
		objects: append([]any(nil), t.Objects...),
		entry:   t.Entry,
		stack:   t.StackEntries,
		deps:    dependencyIDs(t),
	}
	e.valid.Store(true)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	e.ID = r.nextID
	r.executors[e.ID] = e
	r.live.Add(e.ID)
	for _, id := range e.deps {
		bm, ok := r.byObject[id]
		if !ok {
			bm = roaring.New()
			r.byObject[id] = bm
		}
		bm.Add(e.ID)
	}
	r.cache.Add(key, e)
	r.installed.Add(1)
	return e, nil
}

// Lookup returns a live executor by id.
func (r *Registry) Lookup(id uint32) (*Executor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.executors[id]
	return e, ok
}

// Dependents returns the ids of live executors that name objID.
func (r *Registry) Dependents(objID uint64) []uint32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	bm, ok := r.byObject[objID]
	if !ok {
		return nil
	}
	return roaring.And(bm, r.live).ToArray()
}

// InvalidateDependency invalidates every executor that may depend on objID
// and returns how many were invalidated.
func (r *Registry) InvalidateDependency(ctx context.Context, objID uint64) int {
	r.mu.Lock()
	victims := roaring.New()
	it := r.live.Iterator()
	for it.HasNext() {
		id := it.Next()
		if r.executors[id].Result.Dependencies.MayContain(objID) {
			victims.Add(id)
		}
	}
	exact := r.byObject[objID]
	if exact != nil {
		// Exact dependents always go, whatever the filter says.
		victims.Or(roaring.And(exact, r.live))
	}

	n := 0
	vit := victims.Iterator()
	for vit.HasNext() {
		id := vit.Next()
		if exact == nil || !exact.Contains(id) {
			r.falsePositives.Add(1)
		}
		r.invalidateLocked(id)
		n++
	}
	r.mu.Unlock()

	r.logger.LogInvalidate(ctx, objID, n)
	return n
}

// InvalidateAll invalidates every executor.
func (r *Registry) InvalidateAll(ctx context.Context) int {
	r.mu.Lock()
	ids := r.live.ToArray()
	for _, id := range ids {
		r.invalidateLocked(id)
	}
	r.cache.Purge()
	r.mu.Unlock()

	r.logger.LogInvalidate(ctx, 0, len(ids))
	return len(ids)
}

func (r *Registry) invalidateLocked(id uint32) {
	e, ok := r.executors[id]
	if !ok {
		return
	}
	e.valid.Store(false)
	delete(r.executors, id)
	r.live.Remove(id)
	for _, obj := range e.deps {
		if bm, ok := r.byObject[obj]; ok {
			bm.Remove(id)
			if bm.IsEmpty() {
				delete(r.byObject, obj)
			}
		}
	}
	if v, ok := r.cache.Peek(e.key); ok && v.(*Executor) == e { //nolint:errcheck // cache only holds executors
		r.cache.Remove(e.key)
	}
	r.invalidated.Add(1)
}

// Len returns the number of live executors.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.live.GetCardinality()) //nolint:gosec // bounded by uint32 ids
}

// Stats returns a snapshot of the registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Live:           r.Len(),
		Installed:      r.installed.Load(),
		CacheHits:      r.cacheHits.Load(),
		Aborted:        r.aborted.Load(),
		Invalidated:    r.invalidated.Load(),
		FalsePositives: r.falsePositives.Load(),
		Evictions:      r.evictions.Load(),
	}
}

// matches reports whether t is the trace e was optimized from. Objects are
// compared by identity, so a trace naming different objects at the same
// operand indices never shares an executor.
func (e *Executor) matches(t *uop.Trace) bool {
	return e.entry == t.Entry &&
		e.stack == t.StackEntries &&
		sameInstructions(e.source, t.Instructions) &&
		uop.SameObjects(e.objects, t.Objects)
}

// Key returns the deduplication key of a trace: a CRC32C over its
// instructions, object table, entry code id and entry stack depth.
func Key(t *uop.Trace) uint32 {
	d := hash.NewDigest()
	for _, in := range t.Instructions {
		d.Uint16(uint16(in.Opcode))
		d.Uint16(in.Oparg)
		d.Uint32(in.Target)
		d.Uint64(in.Operand)
	}
	for _, obj := range t.Objects {
		d.String(uop.TypeOf(obj).String())
		if id, ok := uop.ObjectID(obj); ok {
			d.Uint64(id)
			continue
		}
		switch obj.(type) {
		case int64, int, float64, string, bool:
			d.String(fmt.Sprint(obj))
		}
	}
	if t.Entry != nil {
		d.Uint64(t.Entry.ID)
		d.Uint64(uint64(t.StackEntries)) //nolint:gosec // non-negative
	}
	return d.Sum32()
}

func sameInstructions(a, b []uop.Instruction) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// dependencyIDs lists the objects named by guards, global loads and inlined
// calls up to the first terminator.
func dependencyIDs(t *uop.Trace) []uint64 {
	seen := make(map[uint64]struct{})
	var ids []uint64
	add := func(id uint64) {
		if _, ok := seen[id]; !ok {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	for _, in := range t.Instructions {
		if in.Opcode.IsTerminator() {
			break
		}
		switch in.Opcode {
		case uop.GuardGlobalsVersion, uop.GuardBuiltinsVersion,
			uop.LoadGlobalModule, uop.LoadGlobalBuiltins, uop.LoadAttrModule:
			obj, err := t.Object(in.Operand)
			if err != nil {
				continue
			}
			if id, ok := uop.ObjectID(obj); ok {
				add(id)
			}
		case uop.InitCallPyExactArgs:
			obj, err := t.Object(in.Operand)
			if err != nil {
				continue
			}
			if fn, ok := obj.(*uop.Function); ok {
				add(fn.ID)
				if fn.Code != nil {
					add(fn.Code.ID)
				}
			}
		}
	}
	return ids
}
