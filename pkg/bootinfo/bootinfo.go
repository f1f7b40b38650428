// Package bootinfo assembles the hand-off payload the kernel consumes at
// entry: memory regions, boot modules, the command line, and the loader's
// identity.
package bootinfo

import (
	"errors"
	"fmt"

	"github.com/nos-project/nosboot/pkg/memmap"
)

// MaxModules caps the module sequence.
const MaxModules = 16

// Module describes one boot module handed to the kernel.
type Module struct {
	Start      uint64
	End        uint64
	Identifier string
}

// Size returns the module's byte size, zero when the range is inverted.
func (m Module) Size() uint64 {
	if m.End < m.Start {
		return 0
	}
	return m.End - m.Start
}

var (
	// ErrEmptyMemoryMap reports a payload built with no memory regions.
	ErrEmptyMemoryMap = errors.New("boot info: empty memory map")
	// ErrNoUsableMemory reports a payload whose regions hold no usable
	// memory at all.
	ErrNoUsableMemory = errors.New("boot info: no usable memory")
	// ErrTooManyModules reports more than MaxModules boot modules.
	ErrTooManyModules = errors.New("boot info: too many modules")
	// ErrSealed reports mutation after successful validation.
	ErrSealed = errors.New("boot info: sealed after validation")
)

// BootInformation is the hand-off payload. Build it with a Builder; after
// Validate succeeds it is sealed and must be treated as read-only.
type BootInformation struct {
	Regions        []memmap.Region
	Modules        []Module
	CommandLine    string
	LoaderIdentity string

	TotalUsableMemory    uint64
	TotalModuleSize      uint64
	HighestUsableAddress uint64

	sealed bool
}

// AvailableForKernel is the usable memory left after modules, saturating
// at zero.
func (bi *BootInformation) AvailableForKernel() uint64 {
	if bi.TotalModuleSize > bi.TotalUsableMemory {
		return 0
	}
	return bi.TotalUsableMemory - bi.TotalModuleSize
}

// Sealed reports whether Validate has succeeded.
func (bi *BootInformation) Sealed() bool { return bi.sealed }

// Validate checks the payload invariants: the region sequence must be
// non-empty and must contain usable memory. On success the payload is
// sealed.
func (bi *BootInformation) Validate() error {
	if len(bi.Regions) == 0 {
		return ErrEmptyMemoryMap
	}
	if bi.TotalUsableMemory == 0 {
		return ErrNoUsableMemory
	}
	bi.sealed = true
	return nil
}

// Builder accumulates the payload pieces in pipeline order.
type Builder struct {
	regions  *memmap.RegionTable
	modules  []Module
	cmdline  string
	identity string
	err      error
}

// NewBuilder starts a payload for the given loader identity. The identity
// is metadata only and is never validated.
func NewBuilder(loaderIdentity string) *Builder {
	return &Builder{identity: loaderIdentity}
}

// WithRegions supplies the validated memory map.
func (b *Builder) WithRegions(t *memmap.RegionTable) *Builder {
	b.regions = t
	return b
}

// WithCommandLine supplies the kernel command line.
func (b *Builder) WithCommandLine(cmdline string) *Builder {
	b.cmdline = cmdline
	return b
}

// AddModule appends a boot module. Exceeding MaxModules poisons the
// builder; the error surfaces from Build.
func (b *Builder) AddModule(m Module) *Builder {
	if b.err != nil {
		return b
	}
	if len(b.modules) == MaxModules {
		b.err = fmt.Errorf("%w: %d", ErrTooManyModules, MaxModules+1)
		return b
	}
	b.modules = append(b.modules, m)
	return b
}

// Build assembles the payload and computes the derived totals. It does not
// validate; the orchestrator validates as its own step so the failure is
// attributed to the right stage.
func (b *Builder) Build() (*BootInformation, error) {
	if b.err != nil {
		return nil, b.err
	}

	bi := &BootInformation{
		Modules:        b.modules,
		CommandLine:    b.cmdline,
		LoaderIdentity: b.identity,
	}
	if b.regions != nil {
		bi.Regions = b.regions.Regions()
		bi.TotalUsableMemory = b.regions.TotalUsable()
		bi.HighestUsableAddress = b.regions.HighestUsable()
	}
	for _, m := range b.modules {
		bi.TotalModuleSize += m.Size()
	}
	return bi, nil
}

// CheckPlacement applies the historical ordering check between the boot
// info address and the memory map address: it only requires one base to be
// below the other, it is NOT a range-overlap check. Known gap, preserved
// as-is; strengthening it would change observable validation behavior.
func CheckPlacement(bootInfoAddr, memMapAddr uint64) error {
	if bootInfoAddr >= memMapAddr {
		return fmt.Errorf("boot info at %#x not below memory map at %#x", bootInfoAddr, memMapAddr)
	}
	return nil
}
