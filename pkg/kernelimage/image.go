// Package kernelimage loads a kernel image from boot media into its
// physical load window and verifies the image header.
//
// Loading and verification are separate steps with separate failure modes:
// a loaded image starts unverified, and only the verifier may mark it
// verified, after both header checks pass. All header access is a
// bounds-checked byte-slice decode; no address arithmetic leaks out of
// this package.
package kernelimage

import (
	"errors"
	"fmt"
	"math"

	"github.com/nos-project/nosboot/pkg/media"
)

// Header layout constants. The image header sits at a fixed offset from
// the load address and holds four little-endian 32-bit words.
const (
	HeaderOffset = 0
	HeaderSize   = 16

	// Magic is the fixed image-format magic the first header word must
	// carry.
	Magic uint32 = 0xE85250D6
)

// Signature is the decoded image header.
type Signature struct {
	Magic    uint32
	Version  uint32
	Flags    uint32
	Checksum uint32
}

// LoadedImage describes a kernel image placed in its load window.
// Verified is false until Verify succeeds.
type LoadedImage struct {
	LoadAddress uint64
	Size        uint64
	EntryPoint  uint64
	Signature   Signature
	Verified    bool
}

// Memory is the physical load window the loader writes into and the
// verifier reads back from. Implementations wrap the identity-mapped
// window set up by the architecture layer.
type Memory interface {
	WriteAt(p []byte, addr uint64) (int, error)
	ReadAt(p []byte, addr uint64) (int, error)
}

// LoadParams locates the image on media and in memory.
type LoadParams struct {
	StartLBA    uint64
	SectorCount uint64
	LoadAddress uint64
	// EntryOffset is added to LoadAddress to form the entry point.
	EntryOffset uint64
}

// ErrLoadFailed is the root cause class for loader failures.
var ErrLoadFailed = errors.New("kernel load failed")

// Load copies SectorCount sectors starting at StartLBA into the load
// window. The returned image is unverified.
func Load(dev media.Device, mem Memory, p LoadParams) (*LoadedImage, error) {
	if p.SectorCount == 0 {
		return nil, fmt.Errorf("%w: zero-length image", ErrLoadFailed)
	}
	geo := dev.Geometry()
	if geo.SectorSize == 0 {
		return nil, fmt.Errorf("%w: device reports zero sector size", ErrLoadFailed)
	}

	if p.SectorCount > math.MaxUint64/uint64(geo.SectorSize) {
		return nil, fmt.Errorf("%w: sector count %d overflows with %d-byte sectors",
			ErrLoadFailed, p.SectorCount, geo.SectorSize)
	}
	size := p.SectorCount * uint64(geo.SectorSize)
	buf := make([]byte, size)
	n, err := dev.ReadSectors(p.StartLBA, p.SectorCount, buf)
	if err != nil {
		return nil, fmt.Errorf("%w: read LBA %d+%d: %v", ErrLoadFailed, p.StartLBA, p.SectorCount, err)
	}
	if uint64(n) != size {
		return nil, fmt.Errorf("%w: short read (%d of %d bytes)", ErrLoadFailed, n, size)
	}

	if n, err := mem.WriteAt(buf, p.LoadAddress); err != nil || uint64(n) != size {
		if err == nil {
			err = fmt.Errorf("short write (%d of %d bytes)", n, size)
		}
		return nil, fmt.Errorf("%w: copy to %#x: %v", ErrLoadFailed, p.LoadAddress, err)
	}

	return &LoadedImage{
		LoadAddress: p.LoadAddress,
		Size:        size,
		EntryPoint:  p.LoadAddress + p.EntryOffset,
	}, nil
}
