// Package numa discovers the NUMA layout used to order arena searches.
package numa

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// SysfsRoot is where the kernel exposes the node layout.
const SysfsRoot = "/sys/devices/system/node"

// Topology describes the NUMA nodes visible to the process.
type Topology struct {
	nodes   int
	current func() int
}

// Detect reads the node layout from sysfs. maxNodes caps the node count when
// positive. On systems without NUMA information a single node is reported.
func Detect(maxNodes int) *Topology {
	return DetectAt(SysfsRoot, maxNodes)
}

// DetectAt is Detect with an explicit sysfs directory.
func DetectAt(root string, maxNodes int) *Topology {
	n := countNodes(root)
	if maxNodes > 0 && n > maxNodes {
		n = maxNodes
	}
	return &Topology{nodes: n, current: currentNode}
}

// Fixed returns a topology with a fixed node count and current node.
func Fixed(nodes, current int) *Topology {
	if nodes < 1 {
		nodes = 1
	}
	return &Topology{nodes: nodes, current: func() int { return current }}
}

// NodeCount returns the number of nodes (at least 1).
func (t *Topology) NodeCount() int {
	if t == nil || t.nodes < 1 {
		return 1
	}
	return t.nodes
}

// CurrentNode returns the node of the CPU the calling thread runs on.
// Goroutines may migrate, so the answer is a placement hint only.
func (t *Topology) CurrentNode() int {
	if t == nil || t.nodes <= 1 || t.current == nil {
		return 0
	}
	node := t.current()
	if node < 0 {
		return 0
	}
	return node % t.nodes
}

func countNodes(root string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		return 1
	}
	n := 0
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "node") {
			continue
		}
		if _, err := strconv.Atoi(strings.TrimPrefix(name, "node")); err != nil {
			continue
		}
		n++
	}
	if n == 0 {
		return 1
	}
	return n
}

// NodeCPUs parses the cpulist of a node (for example "0-3,8-11").
func NodeCPUs(root string, node int) ([]int, error) {
	data, err := os.ReadFile(filepath.Join(root, "node"+strconv.Itoa(node), "cpulist"))
	if err != nil {
		return nil, err
	}
	return ParseCPUList(strings.TrimSpace(string(data)))
}

// ParseCPUList parses the kernel's list format ("0-3,8,10-11").
func ParseCPUList(s string) ([]int, error) {
	var cpus []int
	if s == "" {
		return cpus, nil
	}
	for _, part := range strings.Split(s, ",") {
		lo, hi, isRange := strings.Cut(part, "-")
		start, err := strconv.Atoi(lo)
		if err != nil {
			return nil, err
		}
		end := start
		if isRange {
			if end, err = strconv.Atoi(hi); err != nil {
				return nil, err
			}
		}
		for c := start; c <= end; c++ {
			cpus = append(cpus, c)
		}
	}
	return cpus, nil
}
