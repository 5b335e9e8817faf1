package fs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corefs/biscuit/src/cache"
	"corefs/biscuit/src/device"
)

// fakeAlloc is a trivial bump allocator satisfying Allocator, used to
// test Inode growth/free without a real Freemap.
type fakeAlloc struct {
	next device.Sector
	free map[device.Sector]bool
}

func newFakeAlloc(start device.Sector) *fakeAlloc {
	return &fakeAlloc{next: start, free: map[device.Sector]bool{}}
}

func (a *fakeAlloc) Allocate(n int) (device.Sector, bool) {
	if n != 1 {
		panic("fakeAlloc only supports n=1")
	}
	s := a.next
	a.next++
	return s, true
}

func (a *fakeAlloc) Release(sector device.Sector, n int) {
	a.free[sector] = true
}

func TestCreateInodeZeroLength(t *testing.T) {
	dev := device.NewMemDevice(16)
	c := cache.New(dev)
	alloc := newFakeAlloc(2)

	ip, err := createInode(c, alloc, 1, 0, TFile)
	require.NoError(t, err)
	require.Equal(t, int64(0), ip.Len())
	require.Equal(t, TFile, ip.Type())
}

func TestWriteAtGrowsAndReadsBack(t *testing.T) {
	dev := device.NewMemDevice(1024)
	c := cache.New(dev)
	alloc := newFakeAlloc(2)

	ip, err := createInode(c, alloc, 1, 0, TFile)
	require.NoError(t, err)

	data := make([]byte, device.SectorSize*3+17)
	for i := range data {
		data[i] = byte(i)
	}
	n, err := ip.WriteAt(data, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, int64(len(data)), ip.Len())

	readback := make([]byte, len(data))
	n, err = ip.ReadAt(readback, 0)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.Equal(t, data, readback)
}

func TestWriteAtUnalignedOffset(t *testing.T) {
	dev := device.NewMemDevice(64)
	c := cache.New(dev)
	alloc := newFakeAlloc(2)

	ip, err := createInode(c, alloc, 1, 0, TFile)
	require.NoError(t, err)

	first := make([]byte, device.SectorSize)
	for i := range first {
		first[i] = 0xaa
	}
	_, err = ip.WriteAt(first, 0)
	require.NoError(t, err)

	patch := []byte{1, 2, 3, 4}
	_, err = ip.WriteAt(patch, 100)
	require.NoError(t, err)

	readback := make([]byte, device.SectorSize)
	_, err = ip.ReadAt(readback, 0)
	require.NoError(t, err)
	require.Equal(t, byte(0xaa), readback[99])
	require.Equal(t, []byte{1, 2, 3, 4}, readback[100:104])
	require.Equal(t, byte(0xaa), readback[104])
}

func TestReadAtEOFReturnsShortCount(t *testing.T) {
	dev := device.NewMemDevice(64)
	c := cache.New(dev)
	alloc := newFakeAlloc(2)

	ip, err := createInode(c, alloc, 1, 0, TFile)
	require.NoError(t, err)
	_, err = ip.WriteAt([]byte("hello"), 0)
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := ip.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf[:5]))
}

func TestGrowThroughSingleIndirect(t *testing.T) {
	dev := device.NewMemDevice(4096)
	c := cache.New(dev)
	alloc := newFakeAlloc(2)

	ip, err := createInode(c, alloc, 1, 0, TFile)
	require.NoError(t, err)

	// push the write past the 123 direct pointers into the
	// single-indirect range.
	off := int64((NDirect + 5) * device.SectorSize)
	_, err = ip.WriteAt([]byte("indirect"), off)
	require.NoError(t, err)
	require.NotEqual(t, device.Sector(0), ip.disk.indirect)

	buf := make([]byte, 8)
	n, err := ip.ReadAt(buf, off)
	require.NoError(t, err)
	require.Equal(t, 8, n)
	require.Equal(t, "indirect", string(buf))
}

func TestGrowIsIdempotent(t *testing.T) {
	dev := device.NewMemDevice(4096)
	c := cache.New(dev)
	alloc := newFakeAlloc(2)

	ip, err := createInode(c, alloc, 1, 0, TFile)
	require.NoError(t, err)

	require.NoError(t, ip.grow(int32(device.SectorSize*10)))
	snapshot := ip.disk.direct
	require.NoError(t, ip.grow(int32(device.SectorSize*10)))
	require.Equal(t, snapshot, ip.disk.direct, "re-growing to the same length must not reallocate")
}

func TestDenyWriteBlocksWrites(t *testing.T) {
	dev := device.NewMemDevice(64)
	c := cache.New(dev)
	alloc := newFakeAlloc(2)

	ip, err := createInode(c, alloc, 1, 0, TFile)
	require.NoError(t, err)
	ip.DenyWrite()

	n, err := ip.WriteAt([]byte("nope"), 0)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	ip.AllowWrite()
	n, err = ip.WriteAt([]byte("yes!"), 0)
	require.NoError(t, err)
	require.Equal(t, 4, n)
}

func TestFreeStorageReleasesAllocatedSectors(t *testing.T) {
	dev := device.NewMemDevice(4096)
	c := cache.New(dev)
	alloc := newFakeAlloc(2)

	ip, err := createInode(c, alloc, 1, 0, TFile)
	require.NoError(t, err)
	off := int64((NDirect + 5) * device.SectorSize)
	_, err = ip.WriteAt([]byte("x"), off)
	require.NoError(t, err)

	require.NoError(t, ip.freeStorage())
	require.True(t, alloc.free[1])
	require.True(t, alloc.free[ip.disk.direct[0]])
}

func TestCreateFreemapBootstrap(t *testing.T) {
	dev := device.NewMemDevice(256)
	c := cache.New(dev)

	f, err := createFreemap(c, 256)
	require.NoError(t, err)
	require.True(t, f.Used(FreemapSector))
	require.True(t, f.Used(RootDirSector))
	// the bitmap's own data block is allocated from itself first.
	require.True(t, f.Used(firstDataSector))

	s, ok := f.Allocate(1)
	require.True(t, ok)
	require.Equal(t, firstDataSector+1, s)
}

func TestFreemapPersistRoundtrip(t *testing.T) {
	dev := device.NewMemDevice(256)
	c := cache.New(dev)

	f, err := createFreemap(c, 256)
	require.NoError(t, err)
	s, ok := f.Allocate(3)
	require.True(t, ok)
	require.NoError(t, f.persist())

	f2, err := openFreemap(c, 256)
	require.NoError(t, err)
	require.True(t, f2.Used(s))
	require.True(t, f2.Used(s+1))
	require.True(t, f2.Used(s+2))
}
