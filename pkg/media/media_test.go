package media

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDevice struct {
	geo     DriveGeometry
	readErr error
	short   bool
}

func (d *fakeDevice) Geometry() DriveGeometry { return d.geo }

func (d *fakeDevice) ReadSectors(startLBA, count uint64, dst []byte) (int, error) {
	if d.readErr != nil {
		return 0, d.readErr
	}
	n := int(count) * int(d.geo.SectorSize)
	if d.short {
		n /= 2
	}
	return n, nil
}

func TestValidateAcceptsGoodDevice(t *testing.T) {
	dev := &fakeDevice{geo: DriveGeometry{SectorSize: 512, TotalSectors: 1 << 20}}
	assert.NoError(t, Validate(dev))
}

func TestValidateRejectsBadGeometry(t *testing.T) {
	for _, geo := range []DriveGeometry{
		{SectorSize: 0, TotalSectors: 100},
		{SectorSize: 512, TotalSectors: 0},
	} {
		err := Validate(&fakeDevice{geo: geo})
		require.ErrorIs(t, err, ErrInaccessible)
	}
}

func TestValidateRejectsUnreadableFirstSector(t *testing.T) {
	dev := &fakeDevice{
		geo:     DriveGeometry{SectorSize: 512, TotalSectors: 100},
		readErr: errors.New("controller timeout"),
	}
	err := Validate(dev)
	require.ErrorIs(t, err, ErrInaccessible)
	assert.Contains(t, err.Error(), "controller timeout")
}

func TestValidateRejectsShortRead(t *testing.T) {
	dev := &fakeDevice{geo: DriveGeometry{SectorSize: 512, TotalSectors: 100}, short: true}
	err := Validate(dev)
	require.ErrorIs(t, err, ErrInaccessible)
	assert.Contains(t, err.Error(), "short read")
}
