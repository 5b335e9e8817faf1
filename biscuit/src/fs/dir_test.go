package fs

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corefs/biscuit/src/device"
)

func mkfsMem(t *testing.T, nsects device.Sector) *Fs_t {
	t.Helper()
	dev := device.NewMemDevice(nsects)
	f, err := Mkfs(dev, nsects)
	require.NoError(t, err)
	return f
}

func TestMkfsRootIsEmptyDir(t *testing.T) {
	f := mkfsMem(t, 512)
	root, err := f.Root()
	require.NoError(t, err)
	defer root.Close()

	names, err := root.Readdir()
	require.NoError(t, err)
	require.Empty(t, names)

	s, typ, ok, err := root.Lookup("..")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, TDir, typ)
	require.Equal(t, RootDirSector, s)
}

func TestCreateAndOpenFile(t *testing.T) {
	f := mkfsMem(t, 512)
	ip, err := f.Create(nil, "/hello.txt")
	require.NoError(t, err)
	_, err = ip.WriteAt([]byte("hi"), 0)
	require.NoError(t, err)
	require.NoError(t, f.tab.Close(ip))

	opened, err := f.Open(nil, "/hello.txt")
	require.NoError(t, err)
	buf := make([]byte, 2)
	n, err := opened.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, "hi", string(buf))
	require.NoError(t, f.tab.Close(opened))
}

func TestMkdirChdirOpen(t *testing.T) {
	f := mkfsMem(t, 512)
	require.NoError(t, f.Mkdir(nil, "/x"))
	require.NoError(t, f.Mkdir(nil, "/x/y"))

	xdir, err := f.OpenDir(nil, "/x")
	require.NoError(t, err)
	defer xdir.Close()

	_, err = f.Create(xdir, "y/leaf")
	require.NoError(t, err)

	leaf, err := f.Open(xdir, "y/leaf")
	require.NoError(t, err)
	require.NoError(t, f.tab.Close(leaf))
}

func TestRemoveRejectsNonEmptyDir(t *testing.T) {
	f := mkfsMem(t, 512)
	require.NoError(t, f.Mkdir(nil, "/x"))
	_, err := f.Create(nil, "/x/a")
	require.NoError(t, err)

	err = f.Remove(nil, "/x")
	require.ErrorIs(t, err, ErrNotEmpty)

	require.NoError(t, f.Remove(nil, "/x/a"))
	require.NoError(t, f.Remove(nil, "/x"))
}

func TestCreateDuplicateNameFails(t *testing.T) {
	f := mkfsMem(t, 512)
	ip, err := f.Create(nil, "/dup")
	require.NoError(t, err)
	require.NoError(t, f.tab.Close(ip))

	_, err = f.Create(nil, "/dup")
	require.ErrorIs(t, err, ErrExist)
}

func TestOpenMissingFails(t *testing.T) {
	f := mkfsMem(t, 512)
	_, err := f.Open(nil, "/nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRemoveThenOpenFails(t *testing.T) {
	f := mkfsMem(t, 512)
	ip, err := f.Create(nil, "/gone")
	require.NoError(t, err)
	require.NoError(t, f.tab.Close(ip))
	require.NoError(t, f.Remove(nil, "/gone"))

	_, err = f.Open(nil, "/gone")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMountAfterShutdownPersists(t *testing.T) {
	dev := device.NewMemDevice(512)
	f, err := Mkfs(dev, 512)
	require.NoError(t, err)
	ip, err := f.Create(nil, "/a")
	require.NoError(t, err)
	_, err = ip.WriteAt([]byte("persisted"), 0)
	require.NoError(t, err)
	require.NoError(t, f.tab.Close(ip))
	require.NoError(t, f.Shutdown())

	f2, err := Mount(dev, 512)
	require.NoError(t, err)
	ip2, err := f2.Open(nil, "/a")
	require.NoError(t, err)
	buf := make([]byte, len("persisted"))
	_, err = ip2.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, "persisted", string(buf))
}

func TestDotAndDotDotInNestedDir(t *testing.T) {
	f := mkfsMem(t, 512)
	require.NoError(t, f.Mkdir(nil, "/a"))
	a, err := f.OpenDir(nil, "/a")
	require.NoError(t, err)
	defer a.Close()

	s, _, ok, err := a.Lookup(".")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.ip.Sector(), s)

	s, _, ok, err = a.Lookup("..")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, RootDirSector, s)
}
