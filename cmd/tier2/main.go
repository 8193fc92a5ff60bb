// tier2 optimizes recorded micro-op traces and exercises the arena allocator.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/tier2"
)

const (
	optimizerCategory = "OPTIMIZER"
	arenaCategory     = "ARENA"
)

var (
	ConfigFlag = &cli.StringFlag{
		Name:    "config",
		Usage:   "TOML configuration file",
		EnvVars: []string{"TIER2_CONFIG"},
	}
	LogLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "log level (debug|info|warn|error)",
		Value:   "warn",
		EnvVars: []string{"TIER2_LOG_LEVEL"},
	}
	LogJSONFlag = &cli.BoolFlag{
		Name:    "log.json",
		Usage:   "log in JSON instead of text",
		EnvVars: []string{"TIER2_LOG_JSON"},
	}

	OutputFlag = &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "write the result to this file (.trace/.txt for text, anything else binary)",
	}
	CompressionFlag = &cli.StringFlag{
		Name:    "compression",
		Usage:   "binary trace compression (none|lz4|zstd)",
		Value:   "lz4",
		EnvVars: []string{"TIER2_COMPRESSION"},
	}

	MaxSymbolsFlag = &cli.IntFlag{
		Name:     "max-symbols",
		Usage:    "symbol arena size per pass",
		Value:    tier2.DefaultOptimizerConfig().MaxSymbols,
		EnvVars:  []string{"TIER2_MAX_SYMBOLS"},
		Category: optimizerCategory,
	}
	MaxSlotsFlag = &cli.IntFlag{
		Name:     "max-slots",
		Usage:    "locals and stack slots shared by all frames",
		Value:    tier2.DefaultOptimizerConfig().MaxSlots,
		EnvVars:  []string{"TIER2_MAX_SLOTS"},
		Category: optimizerCategory,
	}
	MaxFrameDepthFlag = &cli.IntFlag{
		Name:     "max-frame-depth",
		Usage:    "entry frame plus inlined calls",
		Value:    tier2.DefaultOptimizerConfig().MaxFrameDepth,
		EnvVars:  []string{"TIER2_MAX_FRAME_DEPTH"},
		Category: optimizerCategory,
	}
	NoPeepholeFlag = &cli.BoolFlag{
		Name:     "no-peephole",
		Usage:    "keep every _SET_IP and _CHECK_VALIDITY",
		Category: optimizerCategory,
	}
	CustomEvalFrameFlag = &cli.BoolFlag{
		Name:     "custom-eval-frame",
		Usage:    "keep _CHECK_PEP_523 guards",
		EnvVars:  []string{"TIER2_CUSTOM_EVAL_FRAME"},
		Category: optimizerCategory,
	}

	ReserveFlag = &cli.Int64Flag{
		Name:     "reserve",
		Usage:    "MiB reserved as an arena before the workload",
		Value:    64,
		EnvVars:  []string{"TIER2_RESERVE_OS_MEMORY"},
		Category: arenaCategory,
	}
	HugePagesFlag = &cli.IntFlag{
		Name:     "huge-pages",
		Usage:    "1 GiB pages reserved before the workload",
		EnvVars:  []string{"TIER2_RESERVE_HUGE_PAGES"},
		Category: arenaCategory,
	}
	HugePagesAtFlag = &cli.IntFlag{
		Name:     "huge-pages-at",
		Usage:    "NUMA node for the huge pages (-1 interleaves)",
		Value:    -1,
		EnvVars:  []string{"TIER2_RESERVE_HUGE_PAGES_AT"},
		Category: arenaCategory,
	}
	BlockSizeFlag = &cli.Int64Flag{
		Name:     "block-size",
		Usage:    "arena block size in MiB",
		Value:    32,
		EnvVars:  []string{"TIER2_ARENA_BLOCK_SIZE"},
		Category: arenaCategory,
	}
	LimitOSAllocFlag = &cli.BoolFlag{
		Name:     "limit-os-alloc",
		Usage:    "fail instead of allocating from the OS",
		EnvVars:  []string{"TIER2_LIMIT_OS_ALLOC"},
		Category: arenaCategory,
	}
	NumaNodesFlag = &cli.IntFlag{
		Name:     "numa-nodes",
		Usage:    "cap on the NUMA nodes used (0 uses all)",
		EnvVars:  []string{"TIER2_USE_NUMA_NODES"},
		Category: arenaCategory,
	}
	MemoryLimitFlag = &cli.Int64Flag{
		Name:     "memory-limit",
		Usage:    "MiB the allocator may obtain from the OS (0 is unlimited)",
		EnvVars:  []string{"TIER2_MEMORY_LIMIT"},
		Category: arenaCategory,
	}
	SizeFlag = &cli.IntFlag{
		Name:     "size",
		Usage:    "MiB per allocation",
		Value:    16,
		Category: arenaCategory,
	}
	WorkersFlag = &cli.IntFlag{
		Name:     "workers",
		Usage:    "concurrent allocating goroutines",
		Value:    4,
		Category: arenaCategory,
	}
	IterationsFlag = &cli.IntFlag{
		Name:     "iterations",
		Usage:    "allocate/release rounds per worker",
		Value:    100,
		Category: arenaCategory,
	}
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "tier2",
		Usage: "trace optimizer and arena allocator tools",
		Flags: []cli.Flag{
			ConfigFlag,
			LogLevelFlag,
			LogJSONFlag,
		},
		Commands: []*cli.Command{
			optimizeCommand,
			convertCommand,
			arenaCommand,
			numaCommand,
			dumpConfigCommand,
		},
	}
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
