// Package fd implements the per-process file-descriptor table
// consumed by the syscall layer (spec.md §5's read/write/seek/tell/
// close/mmap). Adapted from Biscuit's fd.Fd_t/Cwd_t
// (biscuit/src/fd/fd.go): the permission bits and Cwd_t shape carry
// over, but Fops's Fdops_i indirection (built to unify files, pipes,
// sockets, and devices behind one interface) is narrowed to a direct
// *fs.Inode reference, since this kernel core's only fd backing store
// is the on-disk filesystem -- pipes, sockets, and consoles are
// external collaborators spec.md §1 places out of scope.
package fd

import (
	"sync"

	"corefs/biscuit/src/defs"
	"corefs/biscuit/src/fs"
)

// Permission bits, unchanged from Biscuit's fd.Fd_t.
const (
	FD_READ    = 0x1
	FD_WRITE   = 0x2
	FD_CLOEXEC = 0x4
)

// Fd_t is one open file descriptor: a seek offset into a shared
// *fs.Inode plus the permission bits it was opened with.
type Fd_t struct {
	mu    sync.Mutex
	Inode *fs.Inode
	Off   int64
	Perms int
}

// Read reads up to len(buf) bytes at the descriptor's current offset,
// advancing it by the number of bytes read.
func (f *Fd_t) Read(buf []byte) (int, defs.Err_t) {
	if f.Perms&FD_READ == 0 {
		return 0, defs.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Inode.ReadAt(buf, f.Off)
	if err != nil {
		return 0, defs.EIO
	}
	f.Off += int64(n)
	return n, 0
}

// Write writes len(buf) bytes at the descriptor's current offset,
// advancing it by the number of bytes written (spec.md §4.3: 0 if the
// inode is currently write-denied).
func (f *Fd_t) Write(buf []byte) (int, defs.Err_t) {
	if f.Perms&FD_WRITE == 0 {
		return 0, defs.EBADF
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.Inode.WriteAt(buf, f.Off)
	if err != nil {
		if err == fs.ErrTooLarge {
			return 0, defs.ENOSPC
		}
		return 0, defs.EIO
	}
	f.Off += int64(n)
	return n, 0
}

// Seek sets the descriptor's offset to pos; negative positions are
// rejected.
func (f *Fd_t) Seek(pos int64) defs.Err_t {
	if pos < 0 {
		return defs.EINVAL
	}
	f.mu.Lock()
	f.Off = pos
	f.mu.Unlock()
	return 0
}

// Tell returns the descriptor's current offset.
func (f *Fd_t) Tell() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Off
}

// Filesize returns the backing inode's current length.
func (f *Fd_t) Filesize() int64 {
	return f.Inode.Len()
}

// Reopen returns 0 and does nothing else: it does not change the
// underlying inode's open count.
func (f *Fd_t) Reopen() defs.Err_t {
	return 0
}

// Copyfd duplicates an open file descriptor, sharing the same inode
// and offset semantics as a fresh Fd_t pointing at the same file.
func Copyfd(f *Fd_t) *Fd_t {
	return &Fd_t{Inode: f.Inode, Off: f.Off, Perms: f.Perms}
}

// Cwd_t tracks a process's current working directory, serializing
// concurrent chdirs exactly as Biscuit's Cwd_t does.
type Cwd_t struct {
	mu  sync.Mutex
	Dir *fs.Dir
}

// MkRootCwd builds a Cwd_t pointing at root.
func MkRootCwd(root *fs.Dir) *Cwd_t {
	return &Cwd_t{Dir: root}
}

// Chdir replaces the current directory handle with nd, closing the
// previous one -- per spec.md §10's REDESIGN FLAG: "the correct
// behavior is to open the path into a directory handle and replace
// the previous one (closing it)," not merely reassign a path string.
func (cwd *Cwd_t) Chdir(nd *fs.Dir) error {
	cwd.mu.Lock()
	defer cwd.mu.Unlock()
	old := cwd.Dir
	cwd.Dir = nd
	return old.Close()
}

// Get returns the current directory handle under the cwd lock.
func (cwd *Cwd_t) Get() *fs.Dir {
	cwd.mu.Lock()
	defer cwd.mu.Unlock()
	return cwd.Dir
}
