// Package mem implements the frame table of spec.md §4.5: the
// allocator and bookkeeping layer for physical user-page frames,
// sitting on top of a fixed capacity instead of Biscuit's real
// physical-page allocator (biscuit/src/mem/mem.go's Page_i /
// Refpg_new/Refup/Refdown reference-counted allocator). The locking
// discipline -- a separate allocation lock and free lock, a thread
// never holding both -- is carried over directly from mem.go's
// Physmem-wide locks, generalized from Biscuit's refcounted-sharing
// model to this spec's single-owner-per-frame model (spec.md's
// ownership summary: "a frame is exclusively owned by the frame
// table").
package mem

import (
	"fmt"
	"sync"

	"corefs/biscuit/src/defs"
	"corefs/biscuit/src/limits"
	"corefs/biscuit/src/pagedir"
)

// PageSize mirrors pagedir.PageSize for callers that only import mem.
const PageSize = pagedir.PageSize

// ErrNoFrames is returned by Allocate when the page allocator is
// exhausted and eviction could not free a victim (spec.md §7:
// resource exhaustion, terminates the faulting process with -1 on the
// page-fault path).
var ErrNoFrames = fmt.Errorf("mem: frame allocator exhausted, no unpinned victim")

// Evictor is implemented by a process's supplemental page table
// (package vm). WritebackAndInvalidate is called by the frame table
// just before a frame is reassigned: it must persist data (to the
// swap area or, for file-backed pages, back to the file) and update
// its own SPTE bookkeeping to reflect that the page is no longer
// resident. The frame table itself clears the page-directory mapping
// after this returns.
type Evictor interface {
	WritebackAndInvalidate(upage uintptr, data []byte, pd *pagedir.PageDir) error
}

type frameEntry struct {
	addr    uintptr
	data    []byte
	owner   defs.Tid_t
	upage   uintptr
	pd      *pagedir.PageDir
	pinned  bool
}

// Table is the frame table: every live user-page frame, FIFO-ordered
// by allocation time for the unpinned-FIFO eviction policy spec.md §9
// selects (pinning + per-process SPT + unpinned-FIFO).
type Table struct {
	allocMu sync.Mutex
	freeMu  sync.Mutex

	frames []*frameEntry
	byAddr map[uintptr]*frameEntry
	next   uintptr

	evictorsMu sync.Mutex
	evictors   map[defs.Tid_t]Evictor

	budget *limits.Sysatomic_t
}

// NewTable returns a frame table with room for capacity frames.
func NewTable(capacity int) *Table {
	return &Table{
		byAddr:   map[uintptr]*frameEntry{},
		evictors: map[defs.Tid_t]Evictor{},
		budget:   limits.NewSysatomic(int64(capacity)),
		next:     1,
	}
}

// RegisterEvictor associates owner's supplemental page table with the
// frame table so pages it owns can be evicted. Call once per process
// at creation time.
func (t *Table) RegisterEvictor(owner defs.Tid_t, ev Evictor) {
	t.evictorsMu.Lock()
	defer t.evictorsMu.Unlock()
	t.evictors[owner] = ev
}

// UnregisterEvictor removes owner's evictor, called during process
// teardown.
func (t *Table) UnregisterEvictor(owner defs.Tid_t) {
	t.evictorsMu.Lock()
	defer t.evictorsMu.Unlock()
	delete(t.evictors, owner)
}

func (t *Table) evictorFor(owner defs.Tid_t) Evictor {
	t.evictorsMu.Lock()
	defer t.evictorsMu.Unlock()
	return t.evictors[owner]
}

// Allocate obtains a fresh frame for upage in pd, owned by owner.
// The page allocator is tried first; on exhaustion a victim is
// evicted and the attempt retried once, per spec.md §4.5's "MUST
// succeed under the invariant that at least one unpinned frame
// exists." The frame starts pinned; callers unpin it once the page
// is safely installed.
func (t *Table) Allocate(owner defs.Tid_t, upage uintptr, pd *pagedir.PageDir, writable bool) (uintptr, []byte, error) {
	t.allocMu.Lock()
	defer t.allocMu.Unlock()

	if !t.budget.Take() {
		if err := t.evictLocked(); err != nil {
			return 0, nil, ErrNoFrames
		}
		if !t.budget.Take() {
			return 0, nil, ErrNoFrames
		}
	}

	addr := t.next
	t.next++
	fe := &frameEntry{
		addr:   addr,
		data:   make([]byte, PageSize),
		owner:  owner,
		upage:  upage,
		pd:     pd,
		pinned: true,
	}
	t.frames = append(t.frames, fe)
	t.byAddr[addr] = fe
	pd.Install(upage, addr, writable)
	return addr, fe.data, nil
}

// evictLocked runs the eviction policy with allocMu already held, per
// spec.md §4.5's locking discipline ("eviction takes the free lock
// only for the final release").
func (t *Table) evictLocked() error {
	idx := -1
	for i, f := range t.frames {
		if !f.pinned {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrNoFrames
	}
	victim := t.frames[idx]

	if ev := t.evictorFor(victim.owner); ev != nil {
		if err := ev.WritebackAndInvalidate(victim.upage, victim.data, victim.pd); err != nil {
			return err
		}
	}
	victim.pd.Clear(victim.upage)

	t.freeMu.Lock()
	t.frames = append(t.frames[:idx:idx], t.frames[idx+1:]...)
	delete(t.byAddr, victim.addr)
	t.freeMu.Unlock()

	t.budget.Give()
	return nil
}

// Free releases kpage: unmaps it from its owner's page directory,
// returns it to the allocator, and drops its bookkeeping entry.
func (t *Table) Free(kpage uintptr) error {
	t.freeMu.Lock()
	fe, ok := t.byAddr[kpage]
	if !ok {
		t.freeMu.Unlock()
		return fmt.Errorf("mem: free of unknown frame %d", kpage)
	}
	delete(t.byAddr, kpage)
	for i, f := range t.frames {
		if f.addr == kpage {
			t.frames = append(t.frames[:i:i], t.frames[i+1:]...)
			break
		}
	}
	t.freeMu.Unlock()

	fe.pd.Clear(fe.upage)
	t.budget.Give()
	return nil
}

// Pin marks kpage ineligible for eviction.
func (t *Table) Pin(kpage uintptr) {
	t.allocMu.Lock()
	defer t.allocMu.Unlock()
	if fe, ok := t.byAddr[kpage]; ok {
		fe.pinned = true
	}
}

// Unpin marks kpage eligible for eviction again.
func (t *Table) Unpin(kpage uintptr) {
	t.allocMu.Lock()
	defer t.allocMu.Unlock()
	if fe, ok := t.byAddr[kpage]; ok {
		fe.pinned = false
	}
}

// Data returns the byte slice backing kpage, or nil if it is not a
// live frame.
func (t *Table) Data(kpage uintptr) []byte {
	t.freeMu.Lock()
	defer t.freeMu.Unlock()
	if fe, ok := t.byAddr[kpage]; ok {
		return fe.data
	}
	return nil
}

// Len reports the number of currently live frames, for tests
// asserting the budget invariants of spec.md §8.
func (t *Table) Len() int {
	t.freeMu.Lock()
	defer t.freeMu.Unlock()
	return len(t.frames)
}
