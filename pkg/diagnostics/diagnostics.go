// Package diagnostics holds the boot session's bookkeeping: the
// verification checklist, the bounded error ledger, and the bounded
// diagnostics log.
//
// These components record what happened; they never gate a stage
// transition. Both logs saturate rather than evict: once full they drop
// new writes, preserving the earliest failure context. That is a
// deliberate design choice, not an LRU ring waiting to be written.
package diagnostics

import (
	"errors"
	"fmt"
	"strings"

	"github.com/nos-project/nosboot/pkg/stage"
)

// ErrLedgerFull signals a dropped write to a saturated log. It is
// non-fatal bookkeeping exhaustion; callers carry on.
var ErrLedgerFull = errors.New("ledger full, entry dropped")

// ErrorCapacity is the error ledger's fixed slot count.
const ErrorCapacity = 8

// ErrorEntry records one pipeline failure and the stage it happened at.
type ErrorEntry struct {
	Message string
	Stage   stage.Stage
}

// ErrorLedger is a fixed-capacity, saturating sequence of boot errors.
type ErrorLedger struct {
	entries [ErrorCapacity]ErrorEntry
	n       int
	dropped int
}

// Record appends an entry. When the ledger is saturated the entry is
// dropped and ErrLedgerFull returned; existing entries are never
// overwritten.
func (l *ErrorLedger) Record(message string, at stage.Stage) error {
	if l.n == ErrorCapacity {
		l.dropped++
		return ErrLedgerFull
	}
	l.entries[l.n] = ErrorEntry{Message: message, Stage: at}
	l.n++
	return nil
}

// Len returns the number of stored entries.
func (l *ErrorLedger) Len() int { return l.n }

// Dropped returns how many writes were lost to saturation.
func (l *ErrorLedger) Dropped() int { return l.dropped }

// Entries returns the stored entries in write order.
func (l *ErrorLedger) Entries() []ErrorEntry {
	out := make([]ErrorEntry, l.n)
	copy(out, l.entries[:l.n])
	return out
}

// LogCapacity is the diagnostics log's fixed slot count.
const LogCapacity = 32

// Event records one pipeline step outcome. Ordinal is a monotonically
// increasing per-session counter, not wall-clock time; no clock exists
// this early in boot.
type Event struct {
	Kind    string
	Ordinal uint64
	Success bool
}

// Log is a fixed-capacity, saturating sequence of boot events.
type Log struct {
	events  [LogCapacity]Event
	n       int
	ordinal uint64
	dropped int
}

// Record appends an event, stamping it with the next ordinal. The ordinal
// advances even for dropped events so gaps are detectable post-mortem.
func (l *Log) Record(kind string, success bool) error {
	l.ordinal++
	if l.n == LogCapacity {
		l.dropped++
		return ErrLedgerFull
	}
	l.events[l.n] = Event{Kind: kind, Ordinal: l.ordinal, Success: success}
	l.n++
	return nil
}

// Len returns the number of stored events.
func (l *Log) Len() int { return l.n }

// Dropped returns how many writes were lost to saturation.
func (l *Log) Dropped() int { return l.dropped }

// Events returns the stored events in write order.
func (l *Log) Events() []Event {
	out := make([]Event, l.n)
	copy(out, l.events[:l.n])
	return out
}

// SuccessCount counts stored events with Success set.
func (l *Log) SuccessCount() int {
	c := 0
	for _, e := range l.events[:l.n] {
		if e.Success {
			c++
		}
	}
	return c
}

// FailureCount counts stored events with Success unset.
func (l *Log) FailureCount() int { return l.n - l.SuccessCount() }

// AllSucceeded reports whether every stored event succeeded. An empty log
// vacuously succeeds.
func (l *Log) AllSucceeded() bool { return l.FailureCount() == 0 }

// Summary renders the log for the post-mortem report.
func (l *Log) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "diagnostics: %d events (%d ok, %d failed, %d dropped)\n",
		l.n, l.SuccessCount(), l.FailureCount(), l.dropped)
	for _, e := range l.events[:l.n] {
		status := "ok"
		if !e.Success {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "  %4d  %-28s %s\n", e.Ordinal, e.Kind, status)
	}
	return b.String()
}
