package main

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/tier2"
	"github.com/hupe1980/tier2/internal/tracefile"
)

var convertCommand = &cli.Command{
	Name:      "convert",
	Usage:     "Converts a trace between the text and binary forms",
	ArgsUsage: "<in> <out>",
	Action:    convertCmd,
	Flags: []cli.Flag{
		CompressionFlag,
	},
	Description: `
The output form follows the file name: .trace and .txt files are written as
text, everything else as a binary trace file.`,
}

func convertCmd(ctx *cli.Context) error {
	if ctx.NArg() != 2 {
		return errors.New("convert needs an input and an output file")
	}
	compression, err := tracefile.ParseCompression(ctx.String(CompressionFlag.Name))
	if err != nil {
		return err
	}
	in, out := ctx.Args().Get(0), ctx.Args().Get(1)

	t, err := tier2.LoadTrace(in)
	if err != nil {
		return err
	}
	if err := tier2.SaveTrace(out, t, compression); err != nil {
		return err
	}
	fmt.Fprintf(ctx.App.ErrWriter, "%s -> %s: %d instructions, %d objects\n", in, out, t.Len(), len(t.Objects))
	return nil
}
