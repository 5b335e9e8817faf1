// Package pagedir models the page-directory abstraction spec.md §1
// names as a consumed, not designed, interface: "a page-directory
// abstraction mapping user virtual addresses to physical frames."
// Biscuit's own vm/as.go and mem/mem.go implement a real x86 page
// table with COW bits and TLB shootdown -- machinery that belongs to
// the user-program loader and low-level MMU driver spec.md places out
// of scope. What's modeled here is the narrow contract package mem
// and package vm actually call through: Install/Clear/Get/IsDirty.
// The accounting bookkeeping style (one struct per address space,
// guarded by its own mutex) is carried over from as.go's Addrspace_t.
package pagedir

import (
	"sync"

	"corefs/biscuit/src/defs"
)

// Page size in bytes, matching Biscuit's mem.PGSIZE.
const PageSize = 4096

// Mapping is one user-page -> frame mapping installed in a page
// directory.
type Mapping struct {
	Frame    uintptr
	Writable bool
	dirty    bool
}

// PageDir is a per-process page directory: a map from page-aligned
// user virtual address to its current mapping.
type PageDir struct {
	mu    sync.Mutex
	owner defs.Tid_t
	pages map[uintptr]*Mapping
}

// New returns an empty page directory for owner.
func New(owner defs.Tid_t) *PageDir {
	return &PageDir{owner: owner, pages: map[uintptr]*Mapping{}}
}

// Install maps upage to kpage (a physical frame address) with the
// given writable bit, overwriting any previous mapping for upage.
func (pd *PageDir) Install(upage, kpage uintptr, writable bool) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	pd.pages[upage] = &Mapping{Frame: kpage, Writable: writable}
}

// Clear removes the mapping for upage, if any.
func (pd *PageDir) Clear(upage uintptr) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	delete(pd.pages, upage)
}

// Get returns the frame mapped at upage and whether a mapping exists.
func (pd *PageDir) Get(upage uintptr) (uintptr, bool) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	m, ok := pd.pages[upage]
	if !ok {
		return 0, false
	}
	return m.Frame, true
}

// IsDirty reports the hardware dirty bit spec.md §4.6's munmap logic
// consults alongside the SPTE's own dirty flag. In the absence of a
// real MMU this is tracked explicitly by MarkDirty, set whenever a
// syscall adapter records a write through a mapped page.
func (pd *PageDir) IsDirty(upage uintptr) bool {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	m, ok := pd.pages[upage]
	return ok && m.dirty
}

// MarkDirty sets the simulated dirty bit for upage. Called by the
// syscall layer's write path instead of relying on real hardware
// page-table dirty bits.
func (pd *PageDir) MarkDirty(upage uintptr) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if m, ok := pd.pages[upage]; ok {
		m.dirty = true
	}
}

// ClearDirty resets the simulated dirty bit, called once a dirty page
// has been written back.
func (pd *PageDir) ClearDirty(upage uintptr) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if m, ok := pd.pages[upage]; ok {
		m.dirty = false
	}
}

// Owner returns the thread/process identity this page directory
// belongs to.
func (pd *PageDir) Owner() defs.Tid_t { return pd.owner }
