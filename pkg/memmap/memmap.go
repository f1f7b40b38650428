// Package memmap adapts an externally produced physical memory map into a
// validated, fixed-capacity region table.
//
// The firmware layer produces raw (base, length, type-code) triples; this
// package copies them into a RegionTable, preserving insertion order, and
// checks the result against a target-architecture layout policy. It owns no
// firmware calls and performs no address arithmetic beyond the copy.
package memmap

import (
	"errors"
	"fmt"
)

// MaxRegions caps the region table. Firmware maps larger than this are
// rejected rather than truncated.
const MaxRegions = 256

// RegionType classifies a physical memory region.
type RegionType int

const (
	Usable RegionType = iota
	Reserved
	AcpiReclaimable
	AcpiNvs
	Bad
)

func (t RegionType) String() string {
	switch t {
	case Usable:
		return "usable"
	case Reserved:
		return "reserved"
	case AcpiReclaimable:
		return "ACPI reclaimable"
	case AcpiNvs:
		return "ACPI NVS"
	case Bad:
		return "bad"
	default:
		return "unknown"
	}
}

// Region is one entry of the adapted map.
type Region struct {
	Base   uint64
	Length uint64
	Type   RegionType
}

// End returns the exclusive end address, saturating on overflow.
func (r Region) End() uint64 {
	end := r.Base + r.Length
	if end < r.Base {
		return ^uint64(0)
	}
	return end
}

// RawRegion is the firmware-shaped input triple. Type codes follow the
// E820 convention: 1 usable, 2 reserved, 3 ACPI reclaimable, 4 ACPI NVS,
// 5 bad. Any other code maps to Reserved.
type RawRegion struct {
	Base     uint64
	Length   uint64
	TypeCode uint32
}

func classify(code uint32) RegionType {
	switch code {
	case 1:
		return Usable
	case 2:
		return Reserved
	case 3:
		return AcpiReclaimable
	case 4:
		return AcpiNvs
	case 5:
		return Bad
	default:
		return Reserved
	}
}

// LayoutPolicy validates an adapted map against the target architecture's
// memory layout expectations (reserved firmware windows, minimum usable
// memory, alignment). Implementations live with the architecture layer.
type LayoutPolicy interface {
	Validate(regions []Region) error
}

// PolicyFunc adapts a plain function to LayoutPolicy.
type PolicyFunc func(regions []Region) error

func (f PolicyFunc) Validate(regions []Region) error { return f(regions) }

var (
	// ErrTooManyRegions reports a firmware map exceeding MaxRegions.
	ErrTooManyRegions = errors.New("memory map exceeds region capacity")
	// ErrLayoutinvalid wraps a policy rejection.
	ErrLayoutInvalid = errors.New("memory layout invalid")
)

// RegionTable is the adapted, ordered memory map. Insertion order is
// significant: the first usable entry is the default allocation hint.
type RegionTable struct {
	regions []Region
}

// Adapt copies raw firmware triples into a RegionTable and validates the
// result against the layout policy. A nil policy skips validation; an
// empty input produces an empty (but allocated) table, which downstream
// validation will reject when boot information is built.
func Adapt(raw []RawRegion, policy LayoutPolicy) (*RegionTable, error) {
	if len(raw) > MaxRegions {
		return nil, fmt.Errorf("%w: %d entries", ErrTooManyRegions, len(raw))
	}
	t := &RegionTable{regions: make([]Region, 0, len(raw))}
	for _, r := range raw {
		t.regions = append(t.regions, Region{Base: r.Base, Length: r.Length, Type: classify(r.TypeCode)})
	}
	if policy != nil {
		if err := policy.Validate(t.regions); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLayoutInvalid, err)
		}
	}
	return t, nil
}

// Len returns the number of regions.
func (t *RegionTable) Len() int { return len(t.regions) }

// Regions returns the regions in insertion order. Callers must not mutate
// the returned slice.
func (t *RegionTable) Regions() []Region { return t.regions }

// AllocationHint returns the base of the first usable region, the default
// placement hint for early allocations. The second result is false when no
// usable region exists.
func (t *RegionTable) AllocationHint() (uint64, bool) {
	for _, r := range t.regions {
		if r.Type == Usable {
			return r.Base, true
		}
	}
	return 0, false
}

// TotalUsable sums the lengths of all usable regions.
func (t *RegionTable) TotalUsable() uint64 {
	var total uint64
	for _, r := range t.regions {
		if r.Type == Usable {
			total += r.Length
		}
	}
	return total
}

// HighestUsable returns the highest exclusive end address over usable
// regions, or 0 when none exist. Saturating, per Region.End.
func (t *RegionTable) HighestUsable() uint64 {
	var high uint64
	for _, r := range t.regions {
		if r.Type == Usable && r.End() > high {
			high = r.End()
		}
	}
	return high
}
