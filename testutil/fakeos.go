package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hupe1980/tier2/internal/mmap"
)

const (
	fakePageSize = 4096
	fakeBase     = uintptr(1) << 40
)

// HugeCall records one MapHugePages request.
type HugeCall struct {
	Pages int
	Node  int
}

// FakeOS is an in-memory mmap.OS. It is safe for concurrent use.
type FakeOS struct {
	mu sync.Mutex

	next    uintptr
	regions map[uintptr]uintptr

	node  int
	nodes int

	mapErr    error
	commitErr error
	hugeErr   error
	hugePages int // remaining huge pages, -1 for unlimited

	zeroOnCommit bool

	commits       int
	decommits     int
	commitBytes   uintptr
	decommitBytes uintptr
	hugeCalls     []HugeCall
}

// NewFakeOS returns a single-node fake with unlimited huge pages.
func NewFakeOS() *FakeOS {
	return &FakeOS{
		next:         fakeBase,
		regions:      make(map[uintptr]uintptr),
		nodes:        1,
		hugePages:    -1,
		zeroOnCommit: true,
	}
}

// SetNumaNodes sets the node count and the node reported for the caller.
func (f *FakeOS) SetNumaNodes(count, current int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes, f.node = count, current
}

// FailMap makes Map fail with err (nil restores).
func (f *FakeOS) FailMap(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mapErr = err
}

// FailCommit makes Commit fail with err (nil restores).
func (f *FakeOS) FailCommit(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commitErr = err
}

// FailHugePages makes MapHugePages fail with err (nil restores).
func (f *FakeOS) FailHugePages(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hugeErr = err
}

// SetHugePages limits the huge pages still available.
func (f *FakeOS) SetHugePages(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hugePages = n
}

// SetZeroOnCommit controls what Commit reports about page contents.
func (f *FakeOS) SetZeroOnCommit(zero bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.zeroOnCommit = zero
}

func (f *FakeOS) reserve(size, alignment uintptr) uintptr {
	if alignment < fakePageSize {
		alignment = fakePageSize
	}
	addr := mmap.AlignUp(f.next, alignment)
	size = mmap.AlignUp(size, fakePageSize)
	f.regions[addr] = size
	f.next = addr + size + fakePageSize // guard gap between regions
	return addr
}

// Map implements mmap.OS.
func (f *FakeOS) Map(size, alignment uintptr, commit, _ bool) (mmap.Region, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mapErr != nil {
		return mmap.Region{}, f.mapErr
	}
	if size == 0 {
		return mmap.Region{}, mmap.ErrInvalidSize
	}
	if alignment != 0 && !mmap.IsPowerOfTwo(alignment) {
		return mmap.Region{}, mmap.ErrInvalidAlignment
	}
	addr := f.reserve(size, alignment)
	return mmap.Region{Addr: addr, Size: f.regions[addr], Committed: commit, Zeroed: true}, nil
}

// Unmap implements mmap.OS.
func (f *FakeOS) Unmap(addr, _ uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.regions[addr]; !ok {
		return fmt.Errorf("fakeos: unmap of unknown region %#x", addr)
	}
	delete(f.regions, addr)
	return nil
}

// Commit implements mmap.OS.
func (f *FakeOS) Commit(_, size uintptr) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commitErr != nil {
		return false, f.commitErr
	}
	f.commits++
	f.commitBytes += size
	return f.zeroOnCommit, nil
}

// Decommit implements mmap.OS.
func (f *FakeOS) Decommit(_, size uintptr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.decommits++
	f.decommitBytes += size
	return nil
}

// MapHugePages implements mmap.OS. Fewer pages than requested are returned
// when the budget set by SetHugePages runs out.
func (f *FakeOS) MapHugePages(ctx context.Context, pages, node int) (mmap.HugeRegion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hugeCalls = append(f.hugeCalls, HugeCall{Pages: pages, Node: node})
	if f.hugeErr != nil {
		return mmap.HugeRegion{}, f.hugeErr
	}
	if err := ctx.Err(); err != nil {
		return mmap.HugeRegion{}, err
	}
	n := pages
	if f.hugePages >= 0 && n > f.hugePages {
		n = f.hugePages
	}
	if n <= 0 {
		return mmap.HugeRegion{}, mmap.ErrHugePagesUnsupported
	}
	if f.hugePages >= 0 {
		f.hugePages -= n
	}
	size := uintptr(n) * mmap.HugePageSize
	addr := f.reserve(size, mmap.HugePageSize)
	return mmap.HugeRegion{Addr: addr, Size: size, Pages: n}, nil
}

// UnmapHugePages implements mmap.OS.
func (f *FakeOS) UnmapHugePages(addr, size uintptr) error {
	return f.Unmap(addr, size)
}

// NumaNode implements mmap.OS.
func (f *FakeOS) NumaNode() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.node
}

// NumaNodeCount implements mmap.OS.
func (f *FakeOS) NumaNodeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nodes
}

// Mapped returns the number of live regions.
func (f *FakeOS) Mapped() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.regions)
}

// Commits returns the number of Commit calls and the bytes committed.
func (f *FakeOS) Commits() (int, uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.commits, f.commitBytes
}

// Decommits returns the number of Decommit calls and the bytes decommitted.
func (f *FakeOS) Decommits() (int, uintptr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.decommits, f.decommitBytes
}

// HugeCalls returns the MapHugePages requests, sorted by node.
func (f *FakeOS) HugeCalls() []HugeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	calls := append([]HugeCall(nil), f.hugeCalls...)
	sort.Slice(calls, func(i, j int) bool { return calls[i].Node < calls[j].Node })
	return calls
}

var _ mmap.OS = (*FakeOS)(nil)
