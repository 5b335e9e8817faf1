// Package syscall implements the syscall adapters of spec.md §4.10:
// thin, validating wrappers around package fs/fd/vm/proc that
// translate the numeric syscalls named in spec.md §6 ("halt, exit,
// exec, wait, create, remove, open, filesize, read, write, seek,
// tell, close, mmap, munmap, chdir, mkdir") into calls on the core
// layers, pinning every user page a read/write syscall touches for
// its duration per spec.md §5's pinning rule. exec/wait/halt name the
// thread scheduler and user-program loader spec.md §1 places out of
// scope ("the user-program loader and system-call dispatch shim");
// they are stubbed here to the narrow contract this core can satisfy
// on its own.
package syscall

import (
	"corefs/biscuit/src/defs"
	"corefs/biscuit/src/fd"
	"corefs/biscuit/src/fs"
	"corefs/biscuit/src/mem"
	"corefs/biscuit/src/proc"
	"corefs/biscuit/src/util"
	"corefs/biscuit/src/vm"
)

// Adapter binds one process to the filesystem it syscalls against.
type Adapter struct {
	Fsys *fs.Fs_t
	Proc *proc.Proc
}

func pageBase(addr uintptr) uintptr { return util.Rounddown(addr, uintptr(mem.PageSize)) }

// pinRange faults in and pins every page spanning [addr, addr+sz),
// returning a release function that unpins them all. Used around
// every syscall that touches a user buffer, so eviction cannot
// reclaim a page mid-transfer. esp is the user stack pointer captured
// at syscall entry (spec.md §4.8), consulted only if a touched page
// has no SPTE yet and must be considered for stack growth.
func (a *Adapter) pinRange(addr uintptr, sz int, esp uintptr) (func(), defs.Err_t) {
	if sz == 0 {
		return func() {}, 0
	}
	start := pageBase(addr)
	end := pageBase(addr+uintptr(sz)-1) + mem.PageSize
	var pinned []uintptr
	release := func() {
		for _, up := range pinned {
			a.Proc.SPT.Unpin(up)
		}
	}
	for up := start; up < end; up += mem.PageSize {
		if _, ok := a.Proc.SPT.Lookup(up); ok {
			if err := a.Proc.SPT.LoadPage(up); err != nil {
				release()
				return nil, defs.EFAULT
			}
		} else if err := a.Proc.SPT.HandleFault(up, vm.CauseNotPresent, esp); err != nil {
			release()
			return nil, defs.EFAULT
		}
		a.Proc.SPT.Pin(up)
		pinned = append(pinned, up)
	}
	return release, 0
}

// copyOut copies data into the user pages starting at addr, marking
// each touched page dirty.
func (a *Adapter) copyOut(addr uintptr, data []byte) defs.Err_t {
	for len(data) > 0 {
		up := pageBase(addr)
		off := int(addr - up)
		n := mem.PageSize - off
		if n > len(data) {
			n = len(data)
		}
		buf, ok := a.Proc.SPT.PageBytes(up)
		if !ok {
			return defs.EFAULT
		}
		copy(buf[off:off+n], data[:n])
		a.Proc.SPT.MarkDirty(up)
		data = data[n:]
		addr += uintptr(n)
	}
	return 0
}

// copyIn reads sz bytes out of the user pages starting at addr.
func (a *Adapter) copyIn(addr uintptr, sz int) ([]byte, defs.Err_t) {
	out := make([]byte, sz)
	dst := out
	for len(dst) > 0 {
		up := pageBase(addr)
		off := int(addr - up)
		n := mem.PageSize - off
		if n > len(dst) {
			n = len(dst)
		}
		buf, ok := a.Proc.SPT.PageBytes(up)
		if !ok {
			return nil, defs.EFAULT
		}
		copy(dst[:n], buf[off:off+n])
		dst = dst[n:]
		addr += uintptr(n)
	}
	return out, 0
}

// Create implements create(name, size): makes a new zero-length file
// and an open descriptor for it, pre-extending it to size bytes.
func (a *Adapter) Create(name string, size int64) (int, defs.Err_t) {
	ip, err := a.Fsys.Create(a.Proc.Cwd.Get(), name)
	if err != nil {
		return -1, toErrno(err)
	}
	if size > 0 {
		if _, err := ip.WriteAt(make([]byte, size), 0); err != nil {
			a.Fsys.CloseFile(ip)
			return -1, toErrno(err)
		}
	}
	return a.installFd(ip, fd.FD_READ|fd.FD_WRITE)
}

// Open implements open(name).
func (a *Adapter) Open(name string) (int, defs.Err_t) {
	ip, err := a.Fsys.Open(a.Proc.Cwd.Get(), name)
	if err != nil {
		return -1, toErrno(err)
	}
	return a.installFd(ip, fd.FD_READ|fd.FD_WRITE)
}

func (a *Adapter) installFd(ip *fs.Inode, perms int) (int, defs.Err_t) {
	fdnum, errno := a.Proc.Fds.Alloc(&fd.Fd_t{Inode: ip, Perms: perms})
	if errno != 0 {
		a.Fsys.CloseFile(ip)
		return -1, errno
	}
	return fdnum, 0
}

// Remove implements remove(name).
func (a *Adapter) Remove(name string) defs.Err_t {
	if err := a.Fsys.Remove(a.Proc.Cwd.Get(), name); err != nil {
		return toErrno(err)
	}
	return 0
}

// Close implements close(fd).
func (a *Adapter) Close(fdnum int) defs.Err_t {
	f := a.Proc.Fds.Close(fdnum)
	if f == nil {
		return defs.EBADF
	}
	if err := a.Fsys.CloseFile(f.Inode); err != nil {
		return toErrno(err)
	}
	return 0
}

// Filesize implements filesize(fd).
func (a *Adapter) Filesize(fdnum int) (int64, defs.Err_t) {
	f := a.Proc.Fds.Get(fdnum)
	if f == nil {
		return -1, defs.EBADF
	}
	return f.Filesize(), 0
}

// Seek implements seek(fd, pos).
func (a *Adapter) Seek(fdnum int, pos int64) defs.Err_t {
	f := a.Proc.Fds.Get(fdnum)
	if f == nil {
		return defs.EBADF
	}
	return f.Seek(pos)
}

// Tell implements tell(fd).
func (a *Adapter) Tell(fdnum int) (int64, defs.Err_t) {
	f := a.Proc.Fds.Get(fdnum)
	if f == nil {
		return -1, defs.EBADF
	}
	return f.Tell(), 0
}

// Read implements read(fd, addr, sz): pins the destination user pages,
// reads from the file into a staging buffer, then copies it out,
// marking the touched pages dirty.
func (a *Adapter) Read(fdnum int, addr uintptr, sz int, esp uintptr) (int, defs.Err_t) {
	f := a.Proc.Fds.Get(fdnum)
	if f == nil {
		return -1, defs.EBADF
	}
	release, errno := a.pinRange(addr, sz, esp)
	if errno != 0 {
		return -1, errno
	}
	defer release()

	buf := make([]byte, sz)
	n, errno := f.Read(buf)
	if errno != 0 {
		return -1, errno
	}
	if errno := a.copyOut(addr, buf[:n]); errno != 0 {
		return -1, errno
	}
	return n, 0
}

// Write implements write(fd, addr, sz): pins the source user pages,
// copies them into a staging buffer, then writes it to the file.
func (a *Adapter) Write(fdnum int, addr uintptr, sz int, esp uintptr) (int, defs.Err_t) {
	f := a.Proc.Fds.Get(fdnum)
	if f == nil {
		return -1, defs.EBADF
	}
	release, errno := a.pinRange(addr, sz, esp)
	if errno != 0 {
		return -1, errno
	}
	defer release()

	buf, errno := a.copyIn(addr, sz)
	if errno != 0 {
		return -1, errno
	}
	n, errno := f.Write(buf)
	if errno != 0 {
		return -1, errno
	}
	return n, 0
}

// Mmap implements mmap(fd, addr). A console fd (0 or 1) is always
// rejected, matching spec.md §4.9.
func (a *Adapter) Mmap(fdnum int, addr uintptr) (int, defs.Err_t) {
	if fdnum == 0 || fdnum == 1 {
		return -1, defs.EINVAL
	}
	f := a.Proc.Fds.Get(fdnum)
	if f == nil {
		return -1, defs.EBADF
	}
	id, err := a.Proc.Mmaps.Mmap(addr, f.Inode, false)
	if err != nil {
		return -1, defs.EINVAL
	}
	return id, 0
}

// Munmap implements munmap(id).
func (a *Adapter) Munmap(id int) defs.Err_t {
	if err := a.Proc.Mmaps.Munmap(id); err != nil {
		return defs.EINVAL
	}
	return 0
}

// Chdir implements chdir(dir): opens dir as a directory handle and
// replaces the process's current one, closing the previous handle
// (the corrected behavior of spec.md §10's REDESIGN FLAG).
func (a *Adapter) Chdir(dir string) defs.Err_t {
	nd, err := a.Fsys.OpenDir(a.Proc.Cwd.Get(), dir)
	if err != nil {
		return toErrno(err)
	}
	if err := a.Proc.Cwd.Chdir(nd); err != nil {
		return defs.EIO
	}
	return 0
}

// Mkdir implements mkdir(dir).
func (a *Adapter) Mkdir(dir string) defs.Err_t {
	if err := a.Fsys.Mkdir(a.Proc.Cwd.Get(), dir); err != nil {
		return toErrno(err)
	}
	return 0
}

// Halt implements halt: out of scope (spec.md §1 names the CLI and
// kernel boot as external collaborators); this core has nothing of
// its own to tear down beyond what Teardown already does per-process.
func (a *Adapter) Halt() {}

// Exec implements exec(cmd): loading and starting a new program image
// is the user-program loader's job, which spec.md §1 explicitly places
// out of scope ("the user-program loader and system-call dispatch
// shim"). Callers needing real process creation must supply their own
// loader and drive package proc directly; this adapter cannot do it.
func (a *Adapter) Exec(cmd string) (defs.Tid_t, defs.Err_t) {
	return 0, defs.ENOSYS
}

// Wait implements wait(pid): waiting for another thread's exit status
// is the scheduler's job (spec.md §1), not designed here.
func (a *Adapter) Wait(pid defs.Tid_t) (int, defs.Err_t) {
	return -1, defs.ENOSYS
}

func toErrno(err error) defs.Err_t {
	switch err {
	case fs.ErrNotFound:
		return defs.ENOENT
	case fs.ErrExist:
		return defs.EEXIST
	case fs.ErrNotDir:
		return defs.ENOTDIR
	case fs.ErrIsDir:
		return defs.EISDIR
	case fs.ErrNotEmpty:
		return defs.ENOTEMPTY
	case fs.ErrInvalidName, fs.ErrNameTooLong:
		return defs.EINVAL
	case fs.ErrNoSpace:
		return defs.ENOSPC
	case fs.ErrTooLarge:
		return defs.ENOSPC
	default:
		return defs.EIO
	}
}
