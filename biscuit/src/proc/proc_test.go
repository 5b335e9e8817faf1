package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"corefs/biscuit/src/defs"
	"corefs/biscuit/src/device"
	"corefs/biscuit/src/fd"
	"corefs/biscuit/src/fs"
	"corefs/biscuit/src/mem"
	"corefs/biscuit/src/swap"
)

func newTestProc(t *testing.T) (*Proc, *fs.Fs_t) {
	t.Helper()
	dev := device.NewMemDevice(512)
	fsys, err := fs.Mkfs(dev, 512)
	require.NoError(t, err)
	root, err := fsys.Root()
	require.NoError(t, err)

	frames := mem.NewTable(16)
	swapDev := device.NewMemDevice(256)
	area := swap.New(swapDev, 4)

	p := New(defs.Tid_t(7), frames, area, root, fsys)
	return p, fsys
}

func TestNewProcHasRootCwd(t *testing.T) {
	p, _ := newTestProc(t)
	require.NotNil(t, p.Cwd.Get())
}

func TestKillTogglesKilled(t *testing.T) {
	p, _ := newTestProc(t)
	require.False(t, p.Killed())
	p.Kill()
	require.True(t, p.Killed())
}

func TestTeardownClosesOpenFds(t *testing.T) {
	p, fsys := newTestProc(t)
	ip, err := fsys.Create(nil, "/a")
	require.NoError(t, err)
	_, errno := p.Fds.Alloc(&fd.Fd_t{Inode: ip, Perms: fd.FD_READ | fd.FD_WRITE})
	require.Equal(t, 0, int(errno))

	require.NoError(t, p.Teardown(fsys))
	require.Empty(t, p.Fds.OpenFds())
}

func TestTeardownUnmapsLiveMmapWithoutExplicitMunmap(t *testing.T) {
	p, fsys := newTestProc(t)
	ip, err := fsys.Create(nil, "/mapped")
	require.NoError(t, err)
	_, err = ip.WriteAt(make([]byte, mem.PageSize), 0)
	require.NoError(t, err)

	_, errno := p.Fds.Alloc(&fd.Fd_t{Inode: ip, Perms: fd.FD_READ | fd.FD_WRITE})
	require.Equal(t, 0, int(errno))

	const addr = uintptr(0x08100000)
	id, mErr := p.Mmaps.Mmap(addr, ip, false)
	require.NoError(t, mErr)
	require.NotEmpty(t, p.Mmaps.IDs())
	require.Contains(t, p.Mmaps.IDs(), id)

	require.NoError(t, p.Teardown(fsys))
	require.Empty(t, p.Mmaps.IDs())
}
