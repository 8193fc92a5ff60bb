package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/urfave/cli/v2"

	"github.com/hupe1980/tier2"
	"github.com/hupe1980/tier2/internal/conv"
)

// config is the TOML configuration file. Flags that are set explicitly
// override it.
type config struct {
	Log       logConfig       `toml:"log"`
	Optimizer optimizerConfig `toml:"optimizer"`
	Arena     arenaConfig     `toml:"arena"`
}

type logConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

type optimizerConfig struct {
	MaxSymbols      int  `toml:"max_symbols"`
	MaxSlots        int  `toml:"max_slots"`
	MaxFrameDepth   int  `toml:"max_frame_depth"`
	Peephole        bool `toml:"peephole"`
	CustomEvalFrame bool `toml:"custom_eval_frame"`
}

type arenaConfig struct {
	BlockSizeMiB   int64 `toml:"block_size_mib"`
	ReserveMiB     int64 `toml:"reserve_mib"`
	HugePages      int   `toml:"huge_pages"`
	HugePagesAt    int   `toml:"huge_pages_at"`
	LimitOSAlloc   bool  `toml:"limit_os_alloc"`
	EagerCommit    bool  `toml:"eager_commit"`
	NumaNodes      int   `toml:"numa_nodes"`
	MemoryLimitMiB int64 `toml:"memory_limit_mib"`
	MaxWarnings    int   `toml:"max_warnings"`
}

func defaultConfig() config {
	opt := tier2.DefaultOptimizerConfig()
	ar := tier2.DefaultArenaConfig()
	return config{
		Log: logConfig{Level: LogLevelFlag.Value},
		Optimizer: optimizerConfig{
			MaxSymbols:    opt.MaxSymbols,
			MaxSlots:      opt.MaxSlots,
			MaxFrameDepth: opt.MaxFrameDepth,
			Peephole:      opt.Peephole,
		},
		Arena: arenaConfig{
			BlockSizeMiB: int64(ar.BlockSize >> 20),
			ReserveMiB:   ReserveFlag.Value,
			HugePagesAt:  ar.ReserveHugePagesAt,
			MaxWarnings:  ar.MaxWarnings,
		},
	}
}

// loadConfig merges the defaults, the --config file and the flags set on
// the command line or through the environment.
func loadConfig(ctx *cli.Context) (config, error) {
	cfg := defaultConfig()
	if path := ctx.String(ConfigFlag.Name); path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}

	if ctx.IsSet(LogLevelFlag.Name) {
		cfg.Log.Level = ctx.String(LogLevelFlag.Name)
	}
	if ctx.IsSet(LogJSONFlag.Name) {
		cfg.Log.JSON = ctx.Bool(LogJSONFlag.Name)
	}

	if ctx.IsSet(MaxSymbolsFlag.Name) {
		cfg.Optimizer.MaxSymbols = ctx.Int(MaxSymbolsFlag.Name)
	}
	if ctx.IsSet(MaxSlotsFlag.Name) {
		cfg.Optimizer.MaxSlots = ctx.Int(MaxSlotsFlag.Name)
	}
	if ctx.IsSet(MaxFrameDepthFlag.Name) {
		cfg.Optimizer.MaxFrameDepth = ctx.Int(MaxFrameDepthFlag.Name)
	}
	if ctx.IsSet(NoPeepholeFlag.Name) {
		cfg.Optimizer.Peephole = !ctx.Bool(NoPeepholeFlag.Name)
	}
	if ctx.IsSet(CustomEvalFrameFlag.Name) {
		cfg.Optimizer.CustomEvalFrame = ctx.Bool(CustomEvalFrameFlag.Name)
	}

	if ctx.IsSet(BlockSizeFlag.Name) {
		cfg.Arena.BlockSizeMiB = ctx.Int64(BlockSizeFlag.Name)
	}
	if ctx.IsSet(ReserveFlag.Name) {
		cfg.Arena.ReserveMiB = ctx.Int64(ReserveFlag.Name)
	}
	if ctx.IsSet(HugePagesFlag.Name) {
		cfg.Arena.HugePages = ctx.Int(HugePagesFlag.Name)
	}
	if ctx.IsSet(HugePagesAtFlag.Name) {
		cfg.Arena.HugePagesAt = ctx.Int(HugePagesAtFlag.Name)
	}
	if ctx.IsSet(LimitOSAllocFlag.Name) {
		cfg.Arena.LimitOSAlloc = ctx.Bool(LimitOSAllocFlag.Name)
	}
	if ctx.IsSet(NumaNodesFlag.Name) {
		cfg.Arena.NumaNodes = ctx.Int(NumaNodesFlag.Name)
	}
	if ctx.IsSet(MemoryLimitFlag.Name) {
		cfg.Arena.MemoryLimitMiB = ctx.Int64(MemoryLimitFlag.Name)
	}
	return cfg, nil
}

func (c optimizerConfig) toOptimizer() tier2.OptimizerConfig {
	cfg := tier2.DefaultOptimizerConfig()
	cfg.MaxSymbols = c.MaxSymbols
	cfg.MaxSlots = c.MaxSlots
	cfg.MaxFrameDepth = c.MaxFrameDepth
	cfg.Peephole = c.Peephole
	cfg.CustomEvalFrame = c.CustomEvalFrame
	return cfg
}

func (c arenaConfig) toArena() (tier2.ArenaConfig, error) {
	cfg := tier2.DefaultArenaConfig()
	var err error
	if cfg.BlockSize, err = conv.MiB(c.BlockSizeMiB); err != nil {
		return cfg, err
	}
	if cfg.ReserveOSMemory, err = conv.MiB(c.ReserveMiB); err != nil {
		return cfg, err
	}
	limit, err := conv.MiB(c.MemoryLimitMiB)
	if err != nil {
		return cfg, err
	}
	cfg.MemoryLimitBytes = int64(limit) //nolint:gosec // bounded by conv.MiB
	cfg.ReserveHugePages = c.HugePages
	cfg.ReserveHugePagesAt = c.HugePagesAt
	cfg.LimitOSAlloc = c.LimitOSAlloc
	cfg.EagerCommit = c.EagerCommit
	cfg.UseNumaNodes = c.NumaNodes
	cfg.MaxWarnings = c.MaxWarnings
	return cfg, nil
}

func (c logConfig) newLogger(ctx *cli.Context) (*tier2.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", c.Level)
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	if c.JSON {
		return tier2.NewLogger(slog.NewJSONHandler(ctx.App.ErrWriter, handlerOpts)), nil
	}
	return tier2.NewLogger(slog.NewTextHandler(ctx.App.ErrWriter, handlerOpts)), nil
}

var dumpConfigCommand = &cli.Command{
	Name:   "dumpconfig",
	Usage:  "Prints the effective configuration as TOML",
	Action: dumpConfigCmd,
	Flags: []cli.Flag{
		MaxSymbolsFlag,
		MaxSlotsFlag,
		MaxFrameDepthFlag,
		NoPeepholeFlag,
		CustomEvalFrameFlag,
		ReserveFlag,
		HugePagesFlag,
		HugePagesAtFlag,
		BlockSizeFlag,
		LimitOSAllocFlag,
		NumaNodesFlag,
		MemoryLimitFlag,
	},
}

func dumpConfigCmd(ctx *cli.Context) error {
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	return toml.NewEncoder(ctx.App.Writer).Encode(cfg)
}
