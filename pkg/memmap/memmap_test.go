package memmap

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdaptPreservesOrderAndTypes(t *testing.T) {
	raw := []RawRegion{
		{Base: 0x0, Length: 0x9FC00, TypeCode: 1},
		{Base: 0x9FC00, Length: 0x400, TypeCode: 2},
		{Base: 0xF0000, Length: 0x10000, TypeCode: 3},
		{Base: 0x100000, Length: 0x7F00000, TypeCode: 1},
		{Base: 0xFFC0000, Length: 0x40000, TypeCode: 4},
		{Base: 0x10000000, Length: 0x1000, TypeCode: 5},
		{Base: 0x20000000, Length: 0x1000, TypeCode: 99},
	}

	tbl, err := Adapt(raw, nil)
	require.NoError(t, err)
	require.Equal(t, 7, tbl.Len())

	got := tbl.Regions()
	assert.Equal(t, Usable, got[0].Type)
	assert.Equal(t, Reserved, got[1].Type)
	assert.Equal(t, AcpiReclaimable, got[2].Type)
	assert.Equal(t, AcpiNvs, got[4].Type)
	assert.Equal(t, Bad, got[5].Type)
	assert.Equal(t, Reserved, got[6].Type, "unknown codes map to reserved")
	assert.Equal(t, uint64(0x9FC00), got[0].Length)
}

func TestAllocationHintIsFirstUsable(t *testing.T) {
	tbl, err := Adapt([]RawRegion{
		{Base: 0x1000, Length: 0x1000, TypeCode: 2},
		{Base: 0x100000, Length: 0x1000, TypeCode: 1},
		{Base: 0x0, Length: 0x9FC00, TypeCode: 1},
	}, nil)
	require.NoError(t, err)

	hint, ok := tbl.AllocationHint()
	require.True(t, ok)
	assert.Equal(t, uint64(0x100000), hint, "insertion order decides the hint, not address order")
}

func TestAllocationHintAbsent(t *testing.T) {
	tbl, err := Adapt([]RawRegion{{Base: 0, Length: 0x1000, TypeCode: 2}}, nil)
	require.NoError(t, err)
	_, ok := tbl.AllocationHint()
	assert.False(t, ok)
}

func TestTotalAndHighestUsable(t *testing.T) {
	tbl, err := Adapt([]RawRegion{
		{Base: 0x0, Length: 0x9FC00, TypeCode: 1},
		{Base: 0x100000, Length: 0x100000, TypeCode: 1},
		{Base: 0x300000, Length: 0x1000, TypeCode: 2},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x9FC00+0x100000), tbl.TotalUsable())
	assert.Equal(t, uint64(0x200000), tbl.HighestUsable())
}

func TestHighestUsableSaturates(t *testing.T) {
	tbl, err := Adapt([]RawRegion{
		{Base: ^uint64(0) - 0x100, Length: 0x1000, TypeCode: 1},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, ^uint64(0), tbl.HighestUsable())
}

func TestCapacityRejected(t *testing.T) {
	raw := make([]RawRegion, MaxRegions+1)
	_, err := Adapt(raw, nil)
	require.ErrorIs(t, err, ErrTooManyRegions)

	raw = raw[:MaxRegions]
	_, err = Adapt(raw, nil)
	assert.NoError(t, err, "exactly MaxRegions entries are allowed")
}

func TestPolicyRejectionWrapped(t *testing.T) {
	cause := errors.New("no usable memory below 1 MiB")
	reject := PolicyFunc(func([]Region) error { return cause })

	_, err := Adapt([]RawRegion{{Base: 0, Length: 0x1000, TypeCode: 1}}, reject)
	require.ErrorIs(t, err, ErrLayoutInvalid)
}

func TestEmptyMapAdaptsButIsEmpty(t *testing.T) {
	tbl, err := Adapt(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, tbl.Len())
	assert.Equal(t, uint64(0), tbl.TotalUsable())
}
