package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/hupe1980/tier2/internal/numa"
)

var numaCommand = &cli.Command{
	Name:   "numa",
	Usage:  "Prints the NUMA topology used for arena placement",
	Action: numaCmd,
	Flags: []cli.Flag{
		NumaNodesFlag,
	},
}

func numaCmd(ctx *cli.Context) error {
	topo := numa.Detect(ctx.Int(NumaNodesFlag.Name))
	w := ctx.App.Writer
	fmt.Fprintf(w, "nodes: %d\n", topo.NodeCount())
	fmt.Fprintf(w, "current node: %d\n", topo.CurrentNode())
	for node := 0; node < topo.NodeCount(); node++ {
		cpus, err := numa.NodeCPUs(numa.SysfsRoot, node)
		if err != nil {
			fmt.Fprintf(w, "  node %d: cpus unknown\n", node)
			continue
		}
		fmt.Fprintf(w, "  node %d: %d cpus %v\n", node, len(cpus), cpus)
	}
	return nil
}
