// Package proc glues a process's address-space machinery (package
// pagedir, package vm), file-descriptor table (package fd), and
// current-directory handle (package fd.Cwd_t) to an explicit
// identity, spec.md's defs.Tid_t. Biscuit's own per-thread state
// (biscuit/src/tinfo/tinfo.go's Tnote_t) is reached implicitly
// through a goroutine-local pointer installed via the forked
// runtime's runtime.Gptr/Setgptr -- a trick that only exists because
// Biscuit recompiles the Go runtime itself. A normal `go.mod` module
// has no such hook, so identity here is carried explicitly: every
// operation that needs "the current process" takes a *Proc or a
// defs.Tid_t parameter instead of consulting ambient goroutine state.
package proc

import (
	"sync"

	"corefs/biscuit/src/defs"
	"corefs/biscuit/src/fd"
	"corefs/biscuit/src/fs"
	"corefs/biscuit/src/mem"
	"corefs/biscuit/src/pagedir"
	"corefs/biscuit/src/swap"
	"corefs/biscuit/src/vm"
)

// Proc is one process's kernel-core-visible state: its page
// directory, supplemental page table, mmap table, descriptor table,
// and current-working-directory handle.
type Proc struct {
	Tid defs.Tid_t

	PageDir *pagedir.PageDir
	SPT     *vm.SPT
	Mmaps   *vm.Mmaps

	Fds *fd.Table
	Cwd *fd.Cwd_t

	mu     sync.Mutex
	killed bool
}

// New creates a process rooted at cwd (typically the filesystem
// root), sharing the given frame table and swap area with the rest
// of the system. fsys is the filesystem mmap reopens/closes files
// through, independent of whatever fd a mapping was created from.
func New(tid defs.Tid_t, frames *mem.Table, swapArea *swap.Area, cwd *fs.Dir, fsys *fs.Fs_t) *Proc {
	pd := pagedir.New(tid)
	spt := vm.New(tid, frames, swapArea, pd)
	p := &Proc{
		Tid:     tid,
		PageDir: pd,
		SPT:     spt,
		Mmaps:   vm.NewMmaps(spt, fsys),
		Fds:     fd.NewTable(),
		Cwd:     fd.MkRootCwd(cwd),
	}
	return p
}

// Killed reports whether Kill has been called on this process.
func (p *Proc) Killed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.killed
}

// Kill marks the process for termination; the scheduler (out of
// scope for this core) is expected to observe this and stop
// dispatching it.
func (p *Proc) Kill() {
	p.mu.Lock()
	p.killed = true
	p.mu.Unlock()
}

// Teardown implements spec.md §5's exit-time cleanup: "close all open
// files, free all mapped regions, release all SPTEs and frames, then
// exit." Every open descriptor's inode is closed through fsys so
// reference counts drop correctly; every live mmap, enumerated
// directly from p.Mmaps rather than trusted to a caller-supplied
// list, is unmapped (releasing SPTEs, frames, and its reopened file
// handle); the supplemental page table is unregistered as a
// frame-table evictor last, once nothing can fault against it
// anymore.
func (p *Proc) Teardown(fsys *fs.Fs_t) error {
	for _, fdnum := range p.Fds.OpenFds() {
		if f := p.Fds.Close(fdnum); f != nil {
			if err := fsys.CloseFile(f.Inode); err != nil {
				return err
			}
		}
	}
	for _, id := range p.Mmaps.IDs() {
		if err := p.Mmaps.Munmap(id); err != nil {
			return err
		}
	}
	p.SPT.Close()
	return nil
}
