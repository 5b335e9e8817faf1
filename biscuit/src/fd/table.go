package fd

import (
	"sync"

	"corefs/biscuit/src/defs"
	"corefs/biscuit/src/limits"
)

// Table is a process's fixed-capacity file-descriptor table. Slots 0
// and 1 are reserved for the console (an external collaborator per
// spec.md §1) and are never handed out by Alloc.
type Table struct {
	mu   sync.Mutex
	fds  [limits.NOFILE]*Fd_t
}

const reservedFds = 2

// NewTable returns an empty descriptor table.
func NewTable() *Table {
	return &Table{}
}

// Alloc installs f at the lowest-numbered unreserved free slot,
// returning defs.EMFILE if the table is full.
func (t *Table) Alloc(f *Fd_t) (int, defs.Err_t) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := reservedFds; i < len(t.fds); i++ {
		if t.fds[i] == nil {
			t.fds[i] = f
			return i, 0
		}
	}
	return -1, defs.EMFILE
}

// Get returns the descriptor at fdnum, or nil if it is not open.
func (t *Table) Get(fdnum int) *Fd_t {
	if fdnum < 0 || fdnum >= len(t.fds) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fds[fdnum]
}

// Close removes the descriptor at fdnum and returns it, or nil if it
// was not open.
func (t *Table) Close(fdnum int) *Fd_t {
	if fdnum < 0 || fdnum >= len(t.fds) {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	f := t.fds[fdnum]
	t.fds[fdnum] = nil
	return f
}

// OpenFds returns the descriptor numbers currently in use, for
// process teardown.
func (t *Table) OpenFds() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []int
	for i, f := range t.fds {
		if f != nil {
			out = append(out, i)
		}
	}
	return out
}
