package arena

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tier2/internal/bitmap"
	"github.com/hupe1980/tier2/internal/logging"
	"github.com/hupe1980/tier2/internal/mmap"
	"github.com/hupe1980/tier2/internal/numa"
	"github.com/hupe1980/tier2/internal/resource"
)

// Allocation describes memory handed out by Allocate.
type Allocation struct {
	Addr  uintptr
	Size  uintptr
	MemID MemID
	// Zeroed reports that the memory is known to read as zero.
	Zeroed bool
	// Pinned memory cannot be decommitted or reset by the caller.
	Pinned    bool
	Committed bool
	Large     bool
}

// FromArena reports whether the allocation came from an arena.
func (a Allocation) FromArena() bool { return !a.MemID.IsOS() }

// Stats is a snapshot of allocator counters.
type Stats struct {
	Arenas           int
	ArenaBytes       uint64 // bytes registered as arenas
	ArenaAllocs      uint64 // cumulative allocations served by arenas
	OSAllocs         uint64 // cumulative allocations served by the OS
	Releases         uint64
	BytesInUse       uint64 // arena bytes currently handed out
	OSBytesInUse     uint64 // direct OS bytes currently handed out
	Commits          uint64 // partial commits performed on claim
	Decommits        uint64
	Corruptions      uint64
	FailedAllocs     uint64
	FailedReserves   uint64
	MemoryUsageBytes int64 // bytes charged to the resource controller
}

type atomicStats struct {
	ArenaBytes     atomic.Uint64
	ArenaAllocs    atomic.Uint64
	OSAllocs       atomic.Uint64
	Releases       atomic.Uint64
	BytesInUse     atomic.Uint64
	OSBytesInUse   atomic.Uint64
	Commits        atomic.Uint64
	Decommits      atomic.Uint64
	Corruptions    atomic.Uint64
	FailedAllocs   atomic.Uint64
	FailedReserves atomic.Uint64
}

// ArenaInfo describes one registered arena.
type ArenaInfo struct {
	Index       int
	Base        uintptr
	Size        uintptr
	Blocks      int
	InUse       int
	NumaNode    int
	Large       bool
	Committed   bool
	ZeroInit    bool
	SearchField int
}

// Allocator owns an arena registry and the OS collaborator that backs it.
type Allocator struct {
	cfg        Config
	blockSize  uintptr
	os         mmap.OS
	logger     *logging.Logger
	metrics    MetricsCollector
	controller *resource.Controller
	onCorrupt  CorruptionHandler

	arenas registry
	stats  atomicStats
}

// New creates an allocator and performs the startup reservations named in cfg.
// Startup reservation failures are logged, not returned.
func New(cfg Config, opts ...Option) (*Allocator, error) {
	if cfg.BlockSize == 0 {
		cfg.BlockSize = DefaultBlockSize
	}
	if cfg.MaxArenas == 0 {
		cfg.MaxArenas = MaxArenas
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.os == nil {
		o.os = mmap.NewSystem(numa.Detect(cfg.UseNumaNodes))
	}
	if o.logger == nil {
		o.logger = logging.Noop()
	}
	if o.metrics == nil {
		o.metrics = noopMetrics{}
	}
	if o.controller == nil {
		o.controller = resource.NewController(resource.Config{
			MemoryLimitBytes:     cfg.MemoryLimitBytes,
			MaxBackgroundWorkers: cfg.MaxBackgroundWorkers,
		})
	}
	if o.onCorrupt == nil {
		o.onCorrupt = PanicOnCorruption
	}

	a := &Allocator{
		cfg:        cfg,
		blockSize:  cfg.BlockSize,
		os:         o.os,
		logger:     o.logger.WithMaxWarnings(cfg.MaxWarnings).WithComponent("arena"),
		metrics:    o.metrics,
		controller: o.controller,
		onCorrupt:  o.onCorrupt,
	}
	a.arenas.limit = cfg.MaxArenas

	a.reserveAtStartup()
	return a, nil
}

func (a *Allocator) reserveAtStartup() {
	ctx := context.Background()
	if pages := a.cfg.ReserveHugePages; pages > 0 {
		var err error
		if a.cfg.ReserveHugePagesAt >= 0 {
			ctx, cancel := context.WithTimeout(ctx, hugePageTimeout(pages))
			err = a.ReserveHugePagesAt(ctx, pages, a.cfg.ReserveHugePagesAt)
			cancel()
		} else {
			err = a.ReserveHugePagesInterleaved(ctx, pages, 0, hugePageTimeout(pages))
		}
		if err != nil {
			a.logger.WarnThrottled(ctx, "failed to reserve huge pages at startup", "pages", pages, "error", err)
		}
	}
	if size := a.cfg.ReserveOSMemory; size > 0 {
		if err := a.ReserveOSMemory(size, a.cfg.EagerCommit, true); err != nil {
			a.logger.WarnThrottled(ctx, "failed to reserve OS memory at startup", "size", size, "error", err)
		}
	}
}

// BlockSize returns the arena block size.
func (a *Allocator) BlockSize() uintptr { return a.blockSize }

// MinArenaSize is the smallest request served from an arena.
func (a *Allocator) MinArenaSize() uintptr { return a.blockSize / 2 }

// Allocate returns size bytes aligned to alignment. Requests of at least half
// a block with alignment up to the block size are served from an arena when
// one has room; everything else goes to the OS unless LimitOSAlloc is set.
func (a *Allocator) Allocate(size, alignment uintptr, wantCommit, wantLarge bool) (Allocation, error) {
	start := time.Now()
	alloc, err := a.allocate(size, alignment, wantCommit, wantLarge)
	if err != nil {
		a.stats.FailedAllocs.Add(1)
	}
	a.metrics.RecordAllocate(uint64(size), err == nil && alloc.FromArena(), time.Since(start), err)
	return alloc, err
}

func (a *Allocator) allocate(size, alignment uintptr, wantCommit, wantLarge bool) (Allocation, error) {
	if size == 0 {
		return Allocation{}, ErrInvalidSize
	}
	if alignment == 0 {
		alignment = 1
	}
	if !mmap.IsPowerOfTwo(alignment) {
		return Allocation{}, ErrInvalidAlignment
	}

	reason := "no arena registered"
	if alignment <= a.blockSize && size >= a.MinArenaSize() && a.arenas.len() > 0 {
		blocks := (size + a.blockSize - 1) / a.blockSize
		if blocks <= bitmap.FieldBits {
			alloc, ok, err := a.allocateFromArenas(int(blocks), a.os.NumaNode(), wantCommit, wantLarge) //nolint:gosec // blocks <= 64
			if err != nil || ok {
				return alloc, err
			}
		}
		reason = "arenas exhausted"
	} else if alignment > a.blockSize {
		reason = "alignment exceeds block size"
	} else if size < a.MinArenaSize() {
		reason = "below arena size"
	}

	if a.cfg.LimitOSAlloc {
		return Allocation{}, fmt.Errorf("%w: %s", ErrOutOfMemory, reason)
	}
	if reason == "arenas exhausted" {
		a.logger.LogFallback(context.Background(), uint64(size), uint64(alignment), reason)
	}
	return a.allocateFromOS(size, alignment, wantCommit, wantLarge)
}

// allocateFromArenas searches node-affine arenas first, then the others.
func (a *Allocator) allocateFromArenas(blocks, node int, wantCommit, wantLarge bool) (Allocation, bool, error) {
	n := a.arenas.len()
	for pass := 0; pass < 2; pass++ {
		for i := 0; i < n; i++ {
			ar := a.arenas.get(i)
			if ar == nil || (ar.isLarge && !wantLarge) {
				continue
			}
			if ar.affine(node) != (pass == 0) {
				continue
			}
			alloc, ok, err := a.allocateFrom(ar, blocks, wantCommit)
			if err != nil || ok {
				return alloc, ok, err
			}
		}
	}
	return Allocation{}, false, nil
}

func (a *Allocator) allocateFrom(ar *arena, blocks int, wantCommit bool) (Allocation, bool, error) {
	start := int(ar.searchIdx.Load()) //nolint:gosec // field index
	idx, ok := ar.inUse.TryFindFromClaim(start, blocks)
	if !ok {
		return Allocation{}, false, nil
	}
	ar.searchIdx.Store(uint64(idx.Field())) //nolint:gosec // field index

	size := uintptr(blocks) * a.blockSize //nolint:gosec // blocks <= 64
	addr := ar.blockAddr(idx, a.blockSize)

	wasClean, _ := ar.dirty.Claim(blocks, idx)
	alloc := Allocation{
		Addr:   addr,
		Size:   size,
		MemID:  newMemID(ar.index, idx),
		Zeroed: ar.isZeroInit && wasClean,
		Large:  ar.isLarge,
		Pinned: ar.isLarge || ar.isCommitted,
	}

	switch {
	case ar.committed == nil:
		alloc.Committed = true
	case wantCommit:
		_, anyUncommitted := ar.committed.Claim(blocks, idx)
		if anyUncommitted {
			zeroed, err := a.os.Commit(addr, size)
			if err != nil {
				ar.committed.Unclaim(blocks, idx)
				ar.inUse.Unclaim(blocks, idx)
				return Allocation{}, false, fmt.Errorf("arena: commit %d bytes: %w", size, err)
			}
			a.stats.Commits.Add(1)
			if zeroed {
				alloc.Zeroed = true
			}
		}
		alloc.Committed = true
	default:
		alloc.Committed = ar.committed.IsClaimed(blocks, idx)
	}

	a.stats.ArenaAllocs.Add(1)
	a.stats.BytesInUse.Add(uint64(size))
	return alloc, true, nil
}

func (a *Allocator) allocateFromOS(size, alignment uintptr, wantCommit, wantLarge bool) (Allocation, error) {
	if err := a.controller.AcquireMemory(int64(size)); err != nil { //nolint:gosec // size fits
		return Allocation{}, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	region, err := a.os.Map(size, alignment, wantCommit, wantLarge)
	if err != nil {
		a.controller.ReleaseMemory(int64(size)) //nolint:gosec // size fits
		return Allocation{}, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	a.stats.OSAllocs.Add(1)
	a.stats.OSBytesInUse.Add(uint64(size))
	return Allocation{
		Addr:      region.Addr,
		Size:      size,
		MemID:     MemIDOS,
		Zeroed:    true,
		Pinned:    region.Large,
		Committed: region.Committed,
		Large:     region.Large,
	}, nil
}

// Release returns memory obtained from Allocate. allCommitted tells whether
// the caller kept the whole range committed; arenas that track commitment
// decommit the range regardless.
func (a *Allocator) Release(addr, size uintptr, memID MemID, allCommitted bool) error {
	if addr == 0 || size == 0 {
		return nil
	}
	err := a.release(addr, size, memID, allCommitted)
	a.metrics.RecordRelease(uint64(size), !memID.IsOS(), err)
	return err
}

func (a *Allocator) release(addr, size uintptr, memID MemID, allCommitted bool) error {
	if memID.IsOS() {
		if err := a.os.Unmap(addr, size); err != nil {
			return err
		}
		a.controller.ReleaseMemory(int64(size)) //nolint:gosec // size fits
		a.stats.OSBytesInUse.Add(^uint64(size - 1))
		a.stats.Releases.Add(1)
		return nil
	}

	ar := a.arenas.get(memID.Arena())
	if ar == nil {
		return a.corrupt(addr, size, memID, ErrInvalidMemID)
	}
	idx := memID.Index()
	blocks := int((size + a.blockSize - 1) / a.blockSize) //nolint:gosec // bounded by the check below
	if !ar.inUse.Valid(blocks, idx) || int(idx)+blocks > ar.blockCount || ar.blockAddr(idx, a.blockSize) != addr { //nolint:gosec // idx bounded by Valid
		return a.corrupt(addr, size, memID, ErrInvalidMemID)
	}

	span := uintptr(blocks) * a.blockSize //nolint:gosec // blocks <= 64
	if ar.committed != nil {
		if err := a.os.Decommit(addr, span); err != nil {
			a.logger.DebugContext(context.Background(), "decommit failed", "addr", addr, "size", span, "error", err)
		} else {
			a.stats.Decommits.Add(1)
		}
		ar.committed.Unclaim(blocks, idx)
	} else if !allCommitted {
		a.logger.DebugContext(context.Background(), "partially decommitted range released to a committed arena", "addr", addr)
	}

	if !ar.inUse.Unclaim(blocks, idx) {
		return a.corrupt(addr, size, memID, ErrDoubleFree)
	}
	a.stats.BytesInUse.Add(^uint64(span - 1))
	a.stats.Releases.Add(1)
	return nil
}

func (a *Allocator) corrupt(addr, size uintptr, memID MemID, err error) error {
	a.stats.Corruptions.Add(1)
	cerr := &CorruptionError{Addr: addr, Size: size, MemID: memID, Err: err}
	a.logger.LogCorruption(context.Background(), addr, uint64(size), uint64(memID), err)
	a.onCorrupt(cerr)
	return cerr
}

// RegisterArena manages an externally obtained range as an arena. base must
// be block aligned and size at least one block; a trailing partial block is
// ignored. Large ranges are always committed.
func (a *Allocator) RegisterArena(base, size uintptr, isCommitted, isLarge, isZero bool, numaNode int) error {
	if size < a.blockSize {
		return fmt.Errorf("%w: size %d is below one block", ErrInvalidSize, size)
	}
	if base == 0 || base%a.blockSize != 0 {
		return fmt.Errorf("%w: base %#x", ErrMisaligned, base)
	}
	if isLarge {
		isCommitted = true
	}
	if numaNode < -1 {
		numaNode = -1
	}
	blocks := int(size / a.blockSize) //nolint:gosec // size / blockSize fits
	ar := newArena(base, blocks, isCommitted, isLarge, isZero, numaNode)
	if err := a.arenas.add(ar); err != nil {
		return err
	}
	a.stats.ArenaBytes.Add(uint64(blocks) * uint64(a.blockSize)) //nolint:gosec // blocks > 0
	return nil
}

// ReserveOSMemory reserves size bytes (rounded up to whole blocks) from the
// OS and registers them as a node-agnostic arena.
func (a *Allocator) ReserveOSMemory(size uintptr, commit, allowLarge bool) error {
	if size == 0 {
		return ErrInvalidSize
	}
	size = mmap.AlignUp(size, a.blockSize)
	commit = commit || a.cfg.EagerCommit
	ctx := context.Background()

	err := a.reserveOS(size, commit, allowLarge)
	if err != nil {
		a.stats.FailedReserves.Add(1)
	}
	a.logger.LogReserve(ctx, uint64(size), allowLarge, -1, err)
	a.metrics.RecordReserve(uint64(size), err)
	return err
}

func (a *Allocator) reserveOS(size uintptr, commit, allowLarge bool) error {
	if err := a.controller.AcquireMemory(int64(size)); err != nil { //nolint:gosec // size fits
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	region, err := a.os.Map(size, a.blockSize, commit, allowLarge)
	if err != nil {
		a.controller.ReleaseMemory(int64(size)) //nolint:gosec // size fits
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	if err := a.RegisterArena(region.Addr, region.Size, region.Committed || region.Large, region.Large, true, -1); err != nil {
		_ = a.os.Unmap(region.Addr, region.Size)
		a.controller.ReleaseMemory(int64(size)) //nolint:gosec // size fits
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	return nil
}

// ReserveHugePagesAt reserves 1 GiB pages on one NUMA node and registers them
// as a committed large arena. A node of -1 leaves placement to the OS. A
// partial reservation is kept.
func (a *Allocator) ReserveHugePagesAt(ctx context.Context, pages, node int) error {
	if pages <= 0 {
		return nil
	}
	if node < -1 {
		node = -1
	}
	if node >= 0 {
		node %= a.nodeCount()
	}

	size := uintptr(pages) * mmap.HugePageSize //nolint:gosec // pages > 0
	err := a.reserveHuge(ctx, pages, node)
	if err != nil {
		a.stats.FailedReserves.Add(1)
	}
	a.logger.LogReserve(ctx, uint64(size), true, node, err)
	a.metrics.RecordReserve(uint64(size), err)
	return err
}

func (a *Allocator) reserveHuge(ctx context.Context, pages, node int) error {
	want := int64(pages) * mmap.HugePageSize
	if err := a.controller.AcquireMemory(want); err != nil {
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	region, err := a.os.MapHugePages(ctx, pages, node)
	if err == nil && region.Pages == 0 {
		err = mmap.ErrHugePagesUnsupported
	}
	if err != nil {
		a.controller.ReleaseMemory(want)
		return fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	if got := int64(region.Size); got < want { //nolint:gosec // region.Size <= want
		a.controller.ReleaseMemory(want - got)
		a.logger.WarnThrottled(ctx, "reserved fewer huge pages than requested",
			"requested", pages, "reserved", region.Pages, "numa_node", node)
	}
	if err := a.RegisterArena(region.Addr, region.Size, true, true, true, node); err != nil {
		_ = a.os.UnmapHugePages(region.Addr, region.Size)
		a.controller.ReleaseMemory(int64(region.Size)) //nolint:gosec // size fits
		return err
	}
	return nil
}

// ReserveHugePagesInterleaved spreads pages evenly over nodeCount nodes
// (0 uses every node); the first pages%nodeCount nodes get one extra page.
// Nodes are reserved in parallel, bounded by the background worker limit.
// The first error is returned; nodes that succeeded stay registered.
func (a *Allocator) ReserveHugePagesInterleaved(ctx context.Context, pages, nodeCount int, timeout time.Duration) error {
	if pages <= 0 {
		return nil
	}
	if nodeCount <= 0 {
		nodeCount = a.nodeCount()
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	perNode := pages / nodeCount
	extra := pages % nodeCount

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.controller.MaxBackgroundWorkers())
	for node := 0; node < nodeCount; node++ {
		n := perNode
		if node < extra {
			n++
		}
		if n == 0 {
			continue
		}
		g.Go(func() error {
			return a.ReserveHugePagesAt(gctx, n, node)
		})
	}
	return g.Wait()
}

func (a *Allocator) nodeCount() int {
	n := a.os.NumaNodeCount()
	if a.cfg.UseNumaNodes > 0 && n > a.cfg.UseNumaNodes {
		n = a.cfg.UseNumaNodes
	}
	if n < 1 {
		n = 1
	}
	return n
}

// ArenaCount returns the number of registered arenas.
func (a *Allocator) ArenaCount() int {
	return a.arenas.len()
}

// Arenas describes every registered arena.
func (a *Allocator) Arenas() []ArenaInfo {
	n := a.arenas.len()
	infos := make([]ArenaInfo, 0, n)
	for i := 0; i < n; i++ {
		ar := a.arenas.get(i)
		if ar == nil {
			continue
		}
		trailing := ar.inUse.Fields()*bitmap.FieldBits - ar.blockCount
		infos = append(infos, ArenaInfo{
			Index:       ar.index,
			Base:        ar.start,
			Size:        uintptr(ar.blockCount) * a.blockSize, //nolint:gosec // blockCount > 0
			Blocks:      ar.blockCount,
			InUse:       ar.inUse.Count() - trailing,
			NumaNode:    ar.numaNode,
			Large:       ar.isLarge,
			Committed:   ar.isCommitted,
			ZeroInit:    ar.isZeroInit,
			SearchField: int(ar.searchIdx.Load()), //nolint:gosec // field index
		})
	}
	return infos
}

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	return Stats{
		Arenas:           a.arenas.len(),
		ArenaBytes:       a.stats.ArenaBytes.Load(),
		ArenaAllocs:      a.stats.ArenaAllocs.Load(),
		OSAllocs:         a.stats.OSAllocs.Load(),
		Releases:         a.stats.Releases.Load(),
		BytesInUse:       a.stats.BytesInUse.Load(),
		OSBytesInUse:     a.stats.OSBytesInUse.Load(),
		Commits:          a.stats.Commits.Load(),
		Decommits:        a.stats.Decommits.Load(),
		Corruptions:      a.stats.Corruptions.Load(),
		FailedAllocs:     a.stats.FailedAllocs.Load(),
		FailedReserves:   a.stats.FailedReserves.Load(),
		MemoryUsageBytes: a.controller.MemoryUsage(),
	}
}

// String renders the arena table.
func (a *Allocator) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "arenas: %d (block size %d KiB)\n", a.ArenaCount(), a.blockSize>>10)
	for _, info := range a.Arenas() {
		fmt.Fprintf(&sb, "  #%d base=%#x blocks=%d in_use=%d node=%d large=%t committed=%t\n",
			info.Index, info.Base, info.Blocks, info.InUse, info.NumaNode, info.Large, info.Committed)
	}
	return sb.String()
}

// IsCorruption reports whether err is a detected heap corruption.
func IsCorruption(err error) bool {
	var cerr *CorruptionError
	return errors.As(err, &cerr)
}
