package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/tier2"
	"github.com/hupe1980/tier2/internal/tracefile"
)

var optimizeCommand = &cli.Command{
	Name:      "optimize",
	Usage:     "Removes redundant guards from a trace",
	ArgsUsage: "<trace>",
	Action:    optimizeCmd,
	Flags: []cli.Flag{
		OutputFlag,
		CompressionFlag,
		MaxSymbolsFlag,
		MaxSlotsFlag,
		MaxFrameDepthFlag,
		NoPeepholeFlag,
		CustomEvalFrameFlag,
	},
}

func optimizeCmd(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("optimize needs exactly one trace file")
	}
	compression, err := tracefile.ParseCompression(ctx.String(CompressionFlag.Name))
	if err != nil {
		return err
	}
	cfg, err := loadConfig(ctx)
	if err != nil {
		return err
	}
	logger, err := cfg.Log.newLogger(ctx)
	if err != nil {
		return err
	}

	rt, err := tier2.New(
		tier2.WithLogger(logger),
		tier2.WithOptimizerConfig(cfg.Optimizer.toOptimizer()),
	)
	if err != nil {
		return err
	}
	defer rt.Close()

	path := ctx.Args().First()
	t, err := tier2.LoadTrace(path)
	if err != nil {
		return err
	}

	res, err := rt.Optimize(ctx.Context, t)
	if tier2.IsAbort(err) {
		// The trace is unchanged; report it and still emit it.
		fmt.Fprintf(ctx.App.ErrWriter, "%s: optimization aborted: %v\n", path, err)
	} else if err != nil {
		return err
	} else {
		fmt.Fprintf(ctx.App.ErrWriter, "%s: %d of %d instructions eliminated, %d rewritten, final depth %d\n",
			path, res.Eliminated, t.Len(), res.Rewritten.Count(), res.FinalDepth)
	}

	if out := ctx.String(OutputFlag.Name); out != "" {
		return tier2.SaveTrace(out, t, compression)
	}
	text, err := tier2.FormatTrace(t)
	if err != nil {
		return err
	}
	_, err = fmt.Fprint(ctx.App.Writer, text)
	return err
}
