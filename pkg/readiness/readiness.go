// Package readiness aggregates the final pre-transfer system checklist.
//
// The checker is a recorder: pipeline and environment code report check
// outcomes into it, and Ready is a pure function over what was recorded.
// Nothing here re-runs a check, which keeps the verdict deterministic and
// replayable in tests.
package readiness

import (
	"fmt"
	"strings"
)

// Outcome is one check's result.
type Outcome int

const (
	Pass Outcome = iota
	Warn
	Fail
)

func (o Outcome) String() string {
	switch o {
	case Pass:
		return "PASS"
	case Warn:
		return "WARN"
	case Fail:
		return "FAIL"
	default:
		return "????"
	}
}

// Check names in battery order. The battery is fixed; Record rejects
// unknown names so a typo cannot silently vanish from the verdict.
const (
	CheckCPUFeatures   = "cpu features"
	CheckMemoryConfig  = "memory configuration"
	CheckMediaIface    = "media interface"
	CheckKernelSig     = "kernel signature"
	CheckKernelHeader  = "kernel header"
	CheckBootInfo      = "boot info structure"
	CheckMemoryMap     = "memory map"
	CheckGDT           = "GDT configuration"
	CheckIDT           = "IDT configuration"
	CheckPaging        = "paging setup"
)

// Battery is the fixed, ordered list of named checks.
var Battery = []string{
	CheckCPUFeatures,
	CheckMemoryConfig,
	CheckMediaIface,
	CheckKernelSig,
	CheckKernelHeader,
	CheckBootInfo,
	CheckMemoryMap,
	CheckGDT,
	CheckIDT,
	CheckPaging,
}

// Result is one recorded check outcome.
type Result struct {
	Name    string
	Outcome Outcome
	Detail  string
}

// Checker records check outcomes and environment flags, and aggregates
// them into a single readiness verdict.
type Checker struct {
	results []Result

	// Environment flags, reported by environment-specific code before
	// the verdict is taken.
	StackValid  bool
	HeapValid   bool
	PowerStatus bool
}

// NewChecker returns an empty checker. All environment flags start false;
// the environment layer must assert them explicitly.
func NewChecker() *Checker {
	return &Checker{}
}

func known(name string) bool {
	for _, n := range Battery {
		if n == name {
			return true
		}
	}
	return false
}

// Record appends one check outcome. The name must belong to the battery.
func (c *Checker) Record(name string, outcome Outcome, detail string) error {
	if !known(name) {
		return fmt.Errorf("readiness: unknown check %q", name)
	}
	c.results = append(c.results, Result{Name: name, Outcome: outcome, Detail: detail})
	return nil
}

// Results returns the recorded outcomes in record order.
func (c *Checker) Results() []Result { return c.results }

// FailCount counts recorded failures.
func (c *Checker) FailCount() int {
	n := 0
	for _, r := range c.results {
		if r.Outcome == Fail {
			n++
		}
	}
	return n
}

// WarnCount counts recorded warnings. Warnings never block readiness.
func (c *Checker) WarnCount() int {
	n := 0
	for _, r := range c.results {
		if r.Outcome == Warn {
			n++
		}
	}
	return n
}

// Ready is the aggregate verdict: no recorded failures, at least one
// recorded check, and all three environment flags asserted.
func (c *Checker) Ready() bool {
	return len(c.results) > 0 &&
		c.FailCount() == 0 &&
		c.StackValid && c.HeapValid && c.PowerStatus
}

// FirstFailure returns the name of the first recorded failure, or the
// first missing environment flag when no check failed. The second result
// is false when the checker is ready.
func (c *Checker) FirstFailure() (string, bool) {
	for _, r := range c.results {
		if r.Outcome == Fail {
			return r.Name, true
		}
	}
	if len(c.results) == 0 {
		return "no checks recorded", true
	}
	switch {
	case !c.StackValid:
		return "stack", true
	case !c.HeapValid:
		return "heap", true
	case !c.PowerStatus:
		return "power", true
	}
	return "", false
}

// Report renders the recorded battery for the post-mortem report.
func (c *Checker) Report() string {
	var b strings.Builder
	verdict := "NOT READY"
	if c.Ready() {
		verdict = "READY"
	}
	fmt.Fprintf(&b, "=== System Readiness: %s ===\n", verdict)
	fmt.Fprintf(&b, "checks: %d recorded, %d failed, %d warned\n",
		len(c.results), c.FailCount(), c.WarnCount())
	for _, r := range c.results {
		fmt.Fprintf(&b, "  [%s] %s", r.Outcome, r.Name)
		if r.Detail != "" {
			fmt.Fprintf(&b, ": %s", r.Detail)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "stack: %v  heap: %v  power: %v\n",
		c.StackValid, c.HeapValid, c.PowerStatus)
	return b.String()
}
