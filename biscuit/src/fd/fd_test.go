package fd

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corefs/biscuit/src/device"
	"corefs/biscuit/src/fs"
)

func mkfsMem(t *testing.T) *fs.Fs_t {
	t.Helper()
	dev := device.NewMemDevice(512)
	f, err := fs.Mkfs(dev, 512)
	require.NoError(t, err)
	return f
}

func TestFdReadWriteSeekTell(t *testing.T) {
	fsys := mkfsMem(t)
	ip, err := fsys.Create(nil, "/a")
	require.NoError(t, err)

	f := &Fd_t{Inode: ip, Perms: FD_READ | FD_WRITE}
	n, errno := f.Write([]byte("hello world"))
	require.Equal(t, 0, int(errno))
	require.Equal(t, 11, n)
	require.Equal(t, int64(11), f.Tell())

	require.Equal(t, 0, int(f.Seek(0)))
	buf := make([]byte, 5)
	n, errno = f.Read(buf)
	require.Equal(t, 0, int(errno))
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
	require.Equal(t, int64(5), f.Tell())
}

func TestFdReadOnlyRejectsWrite(t *testing.T) {
	fsys := mkfsMem(t)
	ip, err := fsys.Create(nil, "/ro")
	require.NoError(t, err)
	f := &Fd_t{Inode: ip, Perms: FD_READ}
	_, errno := f.Write([]byte("x"))
	require.NotEqual(t, 0, int(errno))
}

func TestTableAllocSkipsReservedFds(t *testing.T) {
	tab := NewTable()
	fd0, errno := tab.Alloc(&Fd_t{})
	require.Equal(t, 0, int(errno))
	require.GreaterOrEqual(t, fd0, reservedFds)
}

func TestTableCloseFreesSlot(t *testing.T) {
	tab := NewTable()
	n, _ := tab.Alloc(&Fd_t{})
	require.NotNil(t, tab.Get(n))
	closed := tab.Close(n)
	require.NotNil(t, closed)
	require.Nil(t, tab.Get(n))
}

func TestTableExhaustionReturnsEMFILE(t *testing.T) {
	tab := NewTable()
	var last int
	var errno int
	for i := 0; i < len(tab.fds)+1; i++ {
		n, e := tab.Alloc(&Fd_t{})
		last, errno = n, int(e)
		if e != 0 {
			break
		}
	}
	require.Equal(t, -1, last)
	require.NotEqual(t, 0, errno)
}

func TestChdirReplacesCurrentDir(t *testing.T) {
	fsys := mkfsMem(t)
	require.NoError(t, fsys.Mkdir(nil, "/x"))
	root, err := fsys.Root()
	require.NoError(t, err)
	cwd := MkRootCwd(root)

	x, err := fsys.OpenDir(nil, "/x")
	require.NoError(t, err)
	require.NoError(t, cwd.Chdir(x))
	require.Equal(t, x, cwd.Get())
}
