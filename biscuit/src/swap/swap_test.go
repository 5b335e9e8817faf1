package swap

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corefs/biscuit/src/device"
	"corefs/biscuit/src/pagedir"
)

func fill(b byte) []byte {
	buf := make([]byte, pagedir.PageSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestOutInRoundtrip(t *testing.T) {
	dev := device.NewMemDevice(device.Sector(sectorsPerSlot * 4))
	a := New(dev, 4)

	slot, err := a.Out(fill(0x42))
	require.NoError(t, err)

	dst := make([]byte, pagedir.PageSize)
	require.NoError(t, a.In(slot, dst))
	require.Equal(t, fill(0x42), dst)
}

func TestInClearsOccupiedBit(t *testing.T) {
	dev := device.NewMemDevice(device.Sector(sectorsPerSlot * 2))
	a := New(dev, 2)
	slot, err := a.Out(fill(1))
	require.NoError(t, err)
	require.NoError(t, a.In(slot, make([]byte, pagedir.PageSize)))

	// slot is free again, a second Out can reuse it.
	slot2, err := a.Out(fill(2))
	require.NoError(t, err)
	require.Equal(t, slot, slot2)
}

func TestOutFailsWhenFull(t *testing.T) {
	dev := device.NewMemDevice(device.Sector(sectorsPerSlot))
	a := New(dev, 1)
	_, err := a.Out(fill(1))
	require.NoError(t, err)
	_, err = a.Out(fill(2))
	require.ErrorIs(t, err, ErrSwapFull)
}

func TestFreeWithoutReadingBack(t *testing.T) {
	dev := device.NewMemDevice(device.Sector(sectorsPerSlot))
	a := New(dev, 1)
	slot, err := a.Out(fill(1))
	require.NoError(t, err)
	a.Free(slot)

	slot2, err := a.Out(fill(9))
	require.NoError(t, err)
	require.Equal(t, slot, slot2)
}
