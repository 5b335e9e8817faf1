package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corefs/biscuit/src/device"
)

func fill(b byte) []byte {
	buf := make([]byte, device.SectorSize)
	for i := range buf {
		buf[i] = b
	}
	return buf
}

func TestReadWriteRoundtrip(t *testing.T) {
	dev := device.NewMemDevice(8)
	c := New(dev)

	require.NoError(t, c.Write(3, fill(0xab)))
	dst := make([]byte, device.SectorSize)
	require.NoError(t, c.Read(3, dst))
	require.Equal(t, fill(0xab), dst)

	occ, dirty := c.Stats()
	require.Equal(t, 1, occ)
	require.Equal(t, 1, dirty)
}

func TestFlushClearsDirty(t *testing.T) {
	dev := device.NewMemDevice(8)
	c := New(dev)
	require.NoError(t, c.Write(1, fill(1)))
	require.NoError(t, c.Write(2, fill(2)))
	require.NoError(t, c.Flush())

	_, dirty := c.Stats()
	require.Equal(t, 0, dirty)

	// the device itself must now have the flushed data, independent
	// of the cache.
	raw := make([]byte, device.SectorSize)
	require.NoError(t, dev.ReadSector(1, raw))
	require.Equal(t, fill(1), raw)
}

func TestEvictionWritesBackDirtyVictim(t *testing.T) {
	dev := device.NewMemDevice(100)
	c := New(dev)

	for i := 0; i < nentries; i++ {
		require.NoError(t, c.Write(device.Sector(i), fill(byte(i))))
	}
	occ, _ := c.Stats()
	require.Equal(t, nentries, occ)

	// one more sector forces eviction of entry 0 (scan-from-start).
	require.NoError(t, c.Write(device.Sector(nentries), fill(0xff)))

	raw := make([]byte, device.SectorSize)
	require.NoError(t, dev.ReadSector(0, raw))
	require.Equal(t, fill(0), raw, "evicted dirty victim must be written back")

	dst := make([]byte, device.SectorSize)
	require.NoError(t, c.Read(0, dst))
	require.Equal(t, fill(0), dst, "re-reading evicted sector must fetch from the device")
}

func TestAtMostOneEntryPerSector(t *testing.T) {
	dev := device.NewMemDevice(8)
	c := New(dev)
	require.NoError(t, c.Write(5, fill(9)))
	require.NoError(t, c.Write(5, fill(10)))

	occ, _ := c.Stats()
	require.Equal(t, 1, occ)
}
