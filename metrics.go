package tier2

import (
	"sync/atomic"
	"time"

	"github.com/hupe1980/tier2/internal/arena"
	"github.com/hupe1980/tier2/internal/optimizer"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
type MetricsCollector interface {
	// RecordAllocate is called after each allocation. fromArena is false
	// for requests served directly by the OS.
	RecordAllocate(size uint64, fromArena bool, duration time.Duration, err error)

	// RecordRelease is called after each release.
	RecordRelease(size uint64, fromArena bool, err error)

	// RecordReserve is called after each arena reservation.
	RecordReserve(size uint64, err error)

	// RecordOptimize is called after each optimizer pass over a trace of
	// length instructions.
	RecordOptimize(length, eliminated int, duration time.Duration, err error)
}

var (
	_ arena.MetricsCollector     = MetricsCollector(nil)
	_ optimizer.MetricsCollector = MetricsCollector(nil)
)

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordAllocate(uint64, bool, time.Duration, error) {}
func (NoopMetricsCollector) RecordRelease(uint64, bool, error)                 {}
func (NoopMetricsCollector) RecordReserve(uint64, error)                       {}
func (NoopMetricsCollector) RecordOptimize(int, int, time.Duration, error)     {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	AllocateCount      atomic.Int64
	AllocateErrors     atomic.Int64
	AllocateTotalNanos atomic.Int64
	ArenaAllocs        atomic.Int64
	OSAllocs           atomic.Int64
	BytesAllocated     atomic.Int64
	ReleaseCount       atomic.Int64
	ReleaseErrors      atomic.Int64
	ReserveCount       atomic.Int64
	ReserveErrors      atomic.Int64
	BytesReserved      atomic.Int64
	OptimizeCount      atomic.Int64
	OptimizeErrors     atomic.Int64
	OptimizeTotalNanos atomic.Int64
	InstructionsSeen   atomic.Int64
	Eliminated         atomic.Int64
}

// RecordAllocate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordAllocate(size uint64, fromArena bool, duration time.Duration, err error) {
	b.AllocateCount.Add(1)
	b.AllocateTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.AllocateErrors.Add(1)
		return
	}
	if fromArena {
		b.ArenaAllocs.Add(1)
	} else {
		b.OSAllocs.Add(1)
	}
	b.BytesAllocated.Add(int64(size)) //nolint:gosec // sizes fit
}

// RecordRelease implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRelease(_ uint64, _ bool, err error) {
	b.ReleaseCount.Add(1)
	if err != nil {
		b.ReleaseErrors.Add(1)
	}
}

// RecordReserve implements MetricsCollector.
func (b *BasicMetricsCollector) RecordReserve(size uint64, err error) {
	b.ReserveCount.Add(1)
	if err != nil {
		b.ReserveErrors.Add(1)
		return
	}
	b.BytesReserved.Add(int64(size)) //nolint:gosec // sizes fit
}

// RecordOptimize implements MetricsCollector.
func (b *BasicMetricsCollector) RecordOptimize(length, eliminated int, duration time.Duration, err error) {
	b.OptimizeCount.Add(1)
	b.OptimizeTotalNanos.Add(duration.Nanoseconds())
	b.InstructionsSeen.Add(int64(length))
	if err != nil {
		b.OptimizeErrors.Add(1)
		return
	}
	b.Eliminated.Add(int64(eliminated))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		AllocateCount:    b.AllocateCount.Load(),
		AllocateErrors:   b.AllocateErrors.Load(),
		AllocateAvgNanos: avg(b.AllocateTotalNanos.Load(), b.AllocateCount.Load()),
		ArenaAllocs:      b.ArenaAllocs.Load(),
		OSAllocs:         b.OSAllocs.Load(),
		BytesAllocated:   b.BytesAllocated.Load(),
		ReleaseCount:     b.ReleaseCount.Load(),
		ReleaseErrors:    b.ReleaseErrors.Load(),
		ReserveCount:     b.ReserveCount.Load(),
		ReserveErrors:    b.ReserveErrors.Load(),
		BytesReserved:    b.BytesReserved.Load(),
		OptimizeCount:    b.OptimizeCount.Load(),
		OptimizeErrors:   b.OptimizeErrors.Load(),
		OptimizeAvgNanos: avg(b.OptimizeTotalNanos.Load(), b.OptimizeCount.Load()),
		InstructionsSeen: b.InstructionsSeen.Load(),
		Eliminated:       b.Eliminated.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	AllocateCount    int64
	AllocateErrors   int64
	AllocateAvgNanos int64
	ArenaAllocs      int64
	OSAllocs         int64
	BytesAllocated   int64
	ReleaseCount     int64
	ReleaseErrors    int64
	ReserveCount     int64
	ReserveErrors    int64
	BytesReserved    int64
	OptimizeCount    int64
	OptimizeErrors   int64
	OptimizeAvgNanos int64
	InstructionsSeen int64
	Eliminated       int64
}
