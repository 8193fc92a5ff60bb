package optimizer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bits-and-blooms/bitset"

	"github.com/hupe1980/tier2/internal/logging"
	"github.com/hupe1980/tier2/internal/uop"
)

const (
	// DefaultMaxSymbols is the size of the per-pass symbol arena.
	DefaultMaxSymbols = 2048
	// DefaultMaxSlots is the number of locals and stack slots shared by all frames.
	DefaultMaxSlots = 2048
	// DefaultMaxFrameDepth bounds the entry frame plus inlined calls.
	DefaultMaxFrameDepth = 7
)

// Config holds the optimizer limits.
type Config struct {
	MaxSymbols     int
	MaxSlots       int
	MaxFrameDepth  int
	MaxTraceLength int

	// Peephole enables removal of unneeded _SET_IP and _CHECK_VALIDITY.
	Peephole bool

	// CustomEvalFrame keeps _CHECK_PEP_523 guards, for runtimes where a
	// custom frame evaluator may be installed.
	CustomEvalFrame bool

	// FailSymbolAt makes the n-th symbol allocation of every pass fail with
	// ErrOutOfSpace. Zero disables it. For tests.
	FailSymbolAt int
}

// DefaultConfig returns the default optimizer configuration.
func DefaultConfig() Config {
	return Config{
		MaxSymbols:     DefaultMaxSymbols,
		MaxSlots:       DefaultMaxSlots,
		MaxFrameDepth:  DefaultMaxFrameDepth,
		MaxTraceLength: uop.MaxTraceLength,
		Peephole:       true,
	}
}

// Validate checks the config.
func (c Config) Validate() error {
	if c.MaxSymbols <= 0 || c.MaxSlots <= 0 || c.MaxFrameDepth <= 0 || c.MaxTraceLength <= 0 {
		return fmt.Errorf("%w: limits must be positive", ErrInvalidConfig)
	}
	if c.FailSymbolAt < 0 {
		return fmt.Errorf("%w: fail symbol at %d", ErrInvalidConfig, c.FailSymbolAt)
	}
	return nil
}

// MetricsCollector receives optimizer events.
type MetricsCollector interface {
	RecordOptimize(length, eliminated int, duration time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) RecordOptimize(int, int, time.Duration, error) {}

type options struct {
	logger  *logging.Logger
	metrics MetricsCollector
}

// Option configures an Optimizer.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// Result describes a successful pass.
type Result struct {
	// Eliminated counts instructions that became _NOP.
	Eliminated int
	// Rewritten has a bit set for every instruction that changed.
	Rewritten *bitset.BitSet
	// FinalDepth is the abstract frame depth at the end of the trace. It is
	// above 1 when the trace ends inside an inlined call.
	FinalDepth int
	// Dependencies may contain the ids of objects the optimized trace
	// relies on.
	Dependencies *Dependencies
}

// Optimizer eliminates redundant guards from traces. It is safe for
// concurrent use; each pass has its own context.
type Optimizer struct {
	cfg     Config
	logger  *logging.Logger
	metrics MetricsCollector
	pool    sync.Pool
}

// New returns an Optimizer.
func New(cfg Config, opts ...Option) (*Optimizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{
		logger:  logging.Noop(),
		metrics: noopMetrics{},
	}
	for _, fn := range opts {
		fn(&o)
	}
	opt := &Optimizer{
		cfg:     cfg,
		logger:  o.logger.WithComponent("optimizer"),
		metrics: o.metrics,
	}
	opt.pool.New = func() any { return newAbstractContext(cfg) }
	return opt, nil
}

// Config returns the configuration the optimizer was created with.
func (o *Optimizer) Config() Config { return o.cfg }

// OptimizeTrace optimizes t starting in t.Entry with t.StackEntries values
// on the entry frame's stack.
func (o *Optimizer) OptimizeTrace(ctx context.Context, t *uop.Trace) (Result, error) {
	return o.Optimize(ctx, t, t.Entry, t.StackEntries)
}

// Optimize optimizes t in place. code is the entry frame's code object and
// stackEntries the number of values on its stack when the trace starts.
// On error t is left unchanged.
func (o *Optimizer) Optimize(ctx context.Context, t *uop.Trace, code *uop.Code, stackEntries int) (Result, error) {
	start := time.Now()
	res, err := o.optimize(t, code, stackEntries)
	o.metrics.RecordOptimize(t.Len(), res.Eliminated, time.Since(start), err)
	o.logger.LogOptimize(ctx, t.Len(), res.Eliminated, err)
	if err == nil && res.FinalDepth > 1 {
		o.logger.DebugContext(ctx, "trace ends inside an inlined call", "depth", res.FinalDepth)
	}
	return res, err
}

func (o *Optimizer) optimize(t *uop.Trace, code *uop.Code, stackEntries int) (Result, error) {
	if t.Len() > o.cfg.MaxTraceLength {
		return Result{}, fmt.Errorf("%w: %d instructions, limit %d", ErrTraceTooLong, t.Len(), o.cfg.MaxTraceLength)
	}
	if err := t.Validate(); err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrMalformedTrace, err)
	}

	c := o.pool.Get().(*abstractContext) //nolint:errcheck // pool only holds contexts
	defer o.pool.Put(c)
	c.reset(o.cfg.FailSymbolAt)

	if err := c.init(code, stackEntries); err != nil {
		return Result{}, err
	}

	work := t.Clone()
	if err := c.analyze(work, o.cfg.CustomEvalFrame); err != nil {
		return Result{}, err
	}
	if o.cfg.Peephole {
		removeUnneededUops(work.Instructions)
	}

	res := Result{
		Rewritten:    bitset.New(uint(t.Len())),
		FinalDepth:   c.depth,
		Dependencies: c.deps,
	}
	for i, in := range work.Instructions {
		orig := t.Instructions[i]
		if in == orig {
			continue
		}
		res.Rewritten.Set(uint(i))
		if in.Opcode == uop.Nop && orig.Opcode != uop.Nop {
			res.Eliminated++
		}
	}

	copy(t.Instructions, work.Instructions)
	t.Objects = work.Objects
	return res, nil
}
