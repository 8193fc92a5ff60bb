//go:build !linux

package numa

func currentNode() int { return 0 }
