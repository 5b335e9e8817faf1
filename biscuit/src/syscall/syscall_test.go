package syscall

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corefs/biscuit/src/defs"
	"corefs/biscuit/src/device"
	"corefs/biscuit/src/fs"
	"corefs/biscuit/src/mem"
	"corefs/biscuit/src/proc"
	"corefs/biscuit/src/swap"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	dev := device.NewMemDevice(1024)
	fsys, err := fs.Mkfs(dev, 1024)
	require.NoError(t, err)
	root, err := fsys.Root()
	require.NoError(t, err)

	frames := mem.NewTable(64)
	swapDev := device.NewMemDevice(256)
	area := swap.New(swapDev, 4)
	p := proc.New(defs.Tid_t(1), frames, area, root, fsys)
	return &Adapter{Fsys: fsys, Proc: p}
}

// userBuf lies within the 8 MiB stack region below vm.PhysBase, so
// pinRange can grow fresh pages there.
const userBuf = uintptr(0xbfff0000)

func TestCreateZeroLengthWriteSeekClose(t *testing.T) {
	a := newTestAdapter(t)
	fdnum, errno := a.Create("/hello", 0)
	require.Equal(t, 0, int(errno))
	require.GreaterOrEqual(t, fdnum, 2)

	src := userBuf
	n, errno := a.Write(fdnum, src, 0, 0) // zero-length write, just checks no panic
	require.Equal(t, 0, int(errno))
	require.Equal(t, 0, n)

	require.Equal(t, defs.Err_t(0), a.Seek(fdnum, 0))
	require.Equal(t, defs.Err_t(0), a.Close(fdnum))
}

func TestWriteThenReadThroughUserPages(t *testing.T) {
	a := newTestAdapter(t)
	fdnum, errno := a.Create("/data", 0)
	require.Equal(t, 0, int(errno))

	// stage payload bytes directly into the process's simulated user
	// pages by writing through the same copy path a real syscall would
	// (mimics a program that already populated its buffer before
	// calling write).
	release, errno := a.pinRange(userBuf, 5, userBuf)
	require.Equal(t, 0, int(errno))
	require.Equal(t, 0, int(a.copyOut(userBuf, []byte("howdy"))))
	release()

	n, errno := a.Write(fdnum, userBuf, 5, userBuf)
	require.Equal(t, 0, int(errno))
	require.Equal(t, 5, n)

	require.Equal(t, defs.Err_t(0), a.Seek(fdnum, 0))
	readAddr := userBuf + uintptr(mem.PageSize)
	n, errno = a.Read(fdnum, readAddr, 5, readAddr)
	require.Equal(t, 0, int(errno))
	require.Equal(t, 5, n)

	got, errno := a.copyIn(readAddr, 5)
	require.Equal(t, 0, int(errno))
	require.Equal(t, "howdy", string(got))
}

func TestOpenMissingReturnsENOENT(t *testing.T) {
	a := newTestAdapter(t)
	fdnum, errno := a.Open("/nope")
	require.Equal(t, -1, fdnum)
	require.Equal(t, defs.ENOENT, errno)
}

func TestCloseUnknownFdIsEBADF(t *testing.T) {
	a := newTestAdapter(t)
	require.Equal(t, defs.EBADF, a.Close(2))
}

func TestMkdirChdir(t *testing.T) {
	a := newTestAdapter(t)
	require.Equal(t, defs.Err_t(0), a.Mkdir("/x"))
	require.Equal(t, defs.Err_t(0), a.Chdir("/x"))
	fdnum, errno := a.Create("leaf", 0)
	require.Equal(t, 0, int(errno))
	require.GreaterOrEqual(t, fdnum, 2)
}

func TestMmapRejectsConsoleFd(t *testing.T) {
	a := newTestAdapter(t)
	id, errno := a.Mmap(0, userBuf)
	require.Equal(t, -1, id)
	require.Equal(t, defs.EINVAL, errno)
}

func TestMmapMunmap(t *testing.T) {
	a := newTestAdapter(t)
	fdnum, errno := a.Create("/mapfile", int64(mem.PageSize))
	require.Equal(t, 0, int(errno))

	id, errno := a.Mmap(fdnum, uintptr(0x08200000))
	require.Equal(t, 0, int(errno))
	require.Equal(t, defs.Err_t(0), a.Munmap(id))
}

func TestExecWaitHaltAreUnimplemented(t *testing.T) {
	a := newTestAdapter(t)
	_, errno := a.Exec("/bin/ls")
	require.Equal(t, defs.ENOSYS, errno)
	_, errno = a.Wait(1)
	require.Equal(t, defs.ENOSYS, errno)
	a.Halt()
}
