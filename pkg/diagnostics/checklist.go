package diagnostics

import (
	"fmt"
	"strings"
)

// Gate names one checklist precondition.
type Gate int

const (
	MemoryDetected Gate = iota
	MemoryValidated
	MediaAccessible
	KernelLoaded
	KernelValid
	BootInfoValid

	gateCount
)

// Gates lists every gate in checklist order.
var Gates = []Gate{
	MemoryDetected,
	MemoryValidated,
	MediaAccessible,
	KernelLoaded,
	KernelValid,
	BootInfoValid,
}

func (g Gate) String() string {
	switch g {
	case MemoryDetected:
		return "memory detected"
	case MemoryValidated:
		return "memory validated"
	case MediaAccessible:
		return "media accessible"
	case KernelLoaded:
		return "kernel loaded"
	case KernelValid:
		return "kernel valid"
	case BootInfoValid:
		return "boot info valid"
	default:
		return "unknown gate"
	}
}

// Checklist is the six-gate verification record. Each gate is set at most
// once by its pipeline step and never reset; a fresh session gets a fresh
// checklist.
type Checklist struct {
	gates [gateCount]bool
}

// Pass sets a gate. Setting an already-passed gate is a no-op.
func (c *Checklist) Pass(g Gate) {
	if g >= 0 && g < gateCount {
		c.gates[g] = true
	}
}

// Passed reports whether a gate has been set.
func (c *Checklist) Passed(g Gate) bool {
	return g >= 0 && g < gateCount && c.gates[g]
}

// AllPassed reports whether all six gates are set.
func (c *Checklist) AllPassed() bool {
	for _, ok := range c.gates {
		if !ok {
			return false
		}
	}
	return true
}

// FirstUnpassed returns the lowest unset gate; the second result is false
// when all gates are set.
func (c *Checklist) FirstUnpassed() (Gate, bool) {
	for g := Gate(0); g < gateCount; g++ {
		if !c.gates[g] {
			return g, true
		}
	}
	return 0, false
}

// Summary renders the checklist for the post-mortem report.
func (c *Checklist) Summary() string {
	var b strings.Builder
	for g := Gate(0); g < gateCount; g++ {
		mark := " "
		if c.gates[g] {
			mark = "x"
		}
		fmt.Fprintf(&b, "  [%s] %s\n", mark, g)
	}
	return b.String()
}
