package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/tier2"
)

var arenaCommand = &cli.Command{
	Name:   "arena",
	Usage:  "Runs a concurrent allocate/release workload against the arena allocator",
	Action: arenaCmd,
	Flags: []cli.Flag{
		ReserveFlag,
		HugePagesFlag,
		HugePagesAtFlag,
		BlockSizeFlag,
		LimitOSAllocFlag,
		NumaNodesFlag,
		MemoryLimitFlag,
		SizeFlag,
		WorkersFlag,
		IterationsFlag,
	},
}

func arenaCmd(ctx *cli.Context) error {
	size := ctx.Int(SizeFlag.Name)
	workers := ctx.Int(WorkersFlag.Name)
	iterations := ctx.Int(IterationsFlag.Name)
	if size <= 0 || workers <= 0 || iterations < 0 {
		return errors.New("size and workers must be positive")
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.newLogger(ctx)
	if err != nil {
		return err
	}
	arenaCfg, err := cfg.Arena.toArena()
	if err != nil {
		return err
	}

	metrics := &tier2.BasicMetricsCollector{}
	rt, err := tier2.New(
		tier2.WithLogger(logger),
		tier2.WithMetricsCollector(metrics),
		tier2.WithArenaConfig(arenaCfg),
	)
	if err != nil {
		return err
	}
	defer rt.Close()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx.Context)
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for i := 0; i < iterations; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				a, err := rt.Allocate(uintptr(size)<<20, 0, true, false) //nolint:gosec // size > 0
				if err != nil {
					return err
				}
				if err := rt.Release(a); err != nil {
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)

	w := ctx.App.Writer
	fmt.Fprint(w, rt.Allocator().String())
	s := metrics.GetStats()
	as := rt.Stats().Arena
	fmt.Fprintf(w, "allocations: %d (arena %d, os %d, failed %d) in %s\n",
		s.AllocateCount, s.ArenaAllocs, s.OSAllocs, s.AllocateErrors, elapsed.Round(time.Microsecond))
	fmt.Fprintf(w, "avg allocate: %s\n", time.Duration(s.AllocateAvgNanos))
	fmt.Fprintf(w, "reserved: %d MiB in %d arenas (%d failed reservations)\n",
		as.ArenaBytes>>20, as.Arenas, as.FailedReserves)
	fmt.Fprintf(w, "commits: %d, decommits: %d\n", as.Commits, as.Decommits)
	return nil
}
