// Package media confirms that the boot device is accessible and usable
// before the kernel loader touches it.
package media

import (
	"errors"
	"fmt"
)

// DriveGeometry describes the boot device as reported by its driver.
type DriveGeometry struct {
	SectorSize   uint32
	TotalSectors uint64
}

// Device is the disk handle supplied by the driver layer. ReadSectors
// reads count sectors starting at startLBA into dst and returns the number
// of bytes read.
type Device interface {
	ReadSectors(startLBA, count uint64, dst []byte) (int, error)
	Geometry() DriveGeometry
}

// ErrInaccessible is the root cause class for all media validation
// failures.
var ErrInaccessible = errors.New("boot media inaccessible")

// Validate confirms the device is usable: the reported geometry must be
// sane and the first sector must be readable in full. It reads nothing
// beyond sector zero.
func Validate(dev Device) error {
	geo := dev.Geometry()
	if geo.SectorSize == 0 || geo.TotalSectors == 0 {
		return fmt.Errorf("%w: bad geometry (sector size %d, sectors %d)",
			ErrInaccessible, geo.SectorSize, geo.TotalSectors)
	}

	buf := make([]byte, geo.SectorSize)
	n, err := dev.ReadSectors(0, 1, buf)
	if err != nil {
		return fmt.Errorf("%w: sector 0 read: %v", ErrInaccessible, err)
	}
	if n != int(geo.SectorSize) {
		return fmt.Errorf("%w: short read on sector 0 (%d of %d bytes)",
			ErrInaccessible, n, geo.SectorSize)
	}
	return nil
}
