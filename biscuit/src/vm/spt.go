// Package vm implements the supplemental page table, page-fault
// handler, and mmap logic of spec.md §4.6-4.8: the layer that ties
// the frame table (package mem), the swap area (package swap), and
// the page-directory abstraction (package pagedir) together into
// per-process lazy/lazy-zero/swapped/file-backed page descriptors.
// Adapted in spirit from Biscuit's vm/as.go Addrspace_t (the
// per-process address-space struct with its own lock) generalized
// away from Biscuit's real x86 COW/TLB-shootdown machinery -- this
// spec treats the page directory as a simple consumed interface (see
// package pagedir) -- toward original_source/src/vm/page.c's SPTE
// status-machine design, which spec.md §4.6 distills directly.
package vm

import (
	"fmt"
	"sync"

	"corefs/biscuit/src/defs"
	"corefs/biscuit/src/fs"
	"corefs/biscuit/src/mem"
	"corefs/biscuit/src/pagedir"
	"corefs/biscuit/src/swap"
)

// Status is an SPTE's residency state.
type Status int

const (
	InFrame Status = iota
	InSwap
	Fsys
	AllZero
)

func (s Status) String() string {
	switch s {
	case InFrame:
		return "IN_FRAME"
	case InSwap:
		return "IN_SWAP"
	case Fsys:
		return "FSYS"
	case AllZero:
		return "ALL_ZERO"
	default:
		return "?"
	}
}

// Spte is one supplemental page table entry, keyed by user virtual
// page address in its owning SPT.
type Spte struct {
	Status   Status
	Writable bool

	Frame    uintptr
	HasFrame bool

	SwapSlot    int
	HasSwapSlot bool

	// Valid when Status == Fsys.
	File      *fs.Inode
	Offset    int64
	ReadBytes int
	ZeroBytes int

	Dirty bool
}

// SPT is a process's supplemental page table.
type SPT struct {
	mu     sync.Mutex
	owner  defs.Tid_t
	pages  map[uintptr]*Spte
	frames *mem.Table
	swap   *swap.Area
	pd     *pagedir.PageDir
}

// New returns an empty supplemental page table for owner, and
// registers it as the frame table's evictor for owner's frames.
func New(owner defs.Tid_t, frames *mem.Table, area *swap.Area, pd *pagedir.PageDir) *SPT {
	s := &SPT{owner: owner, pages: map[uintptr]*Spte{}, frames: frames, swap: area, pd: pd}
	frames.RegisterEvictor(owner, s)
	return s
}

// Close frees every page still in this SPT (see FreePage) and then
// unregisters it from the frame table. Called during process teardown.
func (s *SPT) Close() {
	s.mu.Lock()
	upages := make([]uintptr, 0, len(s.pages))
	for up := range s.pages {
		upages = append(upages, up)
	}
	s.mu.Unlock()
	for _, up := range upages {
		s.FreePage(up)
	}
	s.frames.UnregisterEvictor(s.owner)
}

// MakeSpte records an already-resident page (stack growth, a
// load-time zero page already backed by a live frame): status
// IN_FRAME.
func (s *SPT) MakeSpte(upage uintptr, frame uintptr, writable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[upage] = &Spte{Status: InFrame, Writable: writable, Frame: frame, HasFrame: true}
}

// MakeSpteAllZero records a lazily zero-filled page: nothing is
// allocated until LoadPage is called.
func (s *SPT) MakeSpteAllZero(upage uintptr, writable bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[upage] = &Spte{Status: AllZero, Writable: writable}
}

// MakeSpteFilesys records a file-backed page: offset into file, with
// readBytes real bytes followed by zeroBytes zero padding (readBytes
// + zeroBytes must equal the page size).
func (s *SPT) MakeSpteFilesys(upage uintptr, file *fs.Inode, offset int64, readBytes, zeroBytes int, writable bool) error {
	if readBytes+zeroBytes != mem.PageSize {
		return fmt.Errorf("vm: read_bytes+zero_bytes must equal page size")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[upage] = &Spte{
		Status: Fsys, Writable: writable, File: file,
		Offset: offset, ReadBytes: readBytes, ZeroBytes: zeroBytes,
	}
	return nil
}

// Lookup returns the SPTE at upage, if any.
func (s *SPT) Lookup(upage uintptr) (*Spte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pages[upage]
	return e, ok
}

// LoadPage brings the page at upage into residency, following the
// state machine of spec.md §4.6, and leaves the resulting frame
// pinned -- callers must Unpin once the page is safely in use.
func (s *SPT) LoadPage(upage uintptr) error {
	s.mu.Lock()
	e, ok := s.pages[upage]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("vm: no SPTE for page %#x", upage)
	}

	switch e.Status {
	case InFrame:
		return nil

	case InSwap:
		addr, data, err := s.frames.Allocate(s.owner, upage, s.pd, e.Writable)
		if err != nil {
			return err
		}
		if err := s.swap.In(e.SwapSlot, data); err != nil {
			return err
		}
		s.mu.Lock()
		e.Status = InFrame
		e.Frame, e.HasFrame = addr, true
		e.HasSwapSlot = false
		s.mu.Unlock()
		return nil

	case Fsys:
		addr, data, err := s.frames.Allocate(s.owner, upage, s.pd, e.Writable)
		if err != nil {
			return err
		}
		n, err := e.File.ReadAt(data[:e.ReadBytes], e.Offset)
		if err != nil {
			return err
		}
		for i := n; i < mem.PageSize; i++ {
			data[i] = 0
		}
		s.mu.Lock()
		e.Status = InFrame
		e.Frame, e.HasFrame = addr, true
		s.mu.Unlock()
		return nil

	case AllZero:
		addr, data, err := s.frames.Allocate(s.owner, upage, s.pd, e.Writable)
		if err != nil {
			return err
		}
		for i := range data {
			data[i] = 0
		}
		s.mu.Lock()
		e.Status = InFrame
		e.Frame, e.HasFrame = addr, true
		s.mu.Unlock()
		return nil
	}
	return fmt.Errorf("vm: unknown SPTE status %v", e.Status)
}

// PageBytes returns the live frame bytes backing upage, for a
// resident page. The second result is false if upage has no SPTE or
// is not currently IN_FRAME.
func (s *SPT) PageBytes(upage uintptr) ([]byte, bool) {
	s.mu.Lock()
	e, ok := s.pages[upage]
	s.mu.Unlock()
	if !ok || e.Status != InFrame {
		return nil, false
	}
	return s.frames.Data(e.Frame), true
}

// Pin marks upage's frame ineligible for eviction while kernel code
// is copying into or out of it (spec.md §4.5's pin/unpin, used around
// syscall I/O per §5's pinning rule).
func (s *SPT) Pin(upage uintptr) {
	s.mu.Lock()
	e, ok := s.pages[upage]
	s.mu.Unlock()
	if ok && e.Status == InFrame {
		s.frames.Pin(e.Frame)
	}
}

// Unpin releases the pin taken by Pin.
func (s *SPT) Unpin(upage uintptr) {
	s.mu.Lock()
	e, ok := s.pages[upage]
	s.mu.Unlock()
	if ok && e.Status == InFrame {
		s.frames.Unpin(e.Frame)
	}
}

// FreePage removes the SPTE at upage, clears the page-directory
// mapping, frees its frame if resident, and releases its swap slot if
// swapped out.
func (s *SPT) FreePage(upage uintptr) error {
	s.mu.Lock()
	e, ok := s.pages[upage]
	if ok {
		delete(s.pages, upage)
	}
	s.mu.Unlock()
	if !ok {
		return nil
	}
	s.pd.Clear(upage)
	if e.HasFrame {
		if err := s.frames.Free(e.Frame); err != nil {
			return err
		}
	}
	if e.HasSwapSlot {
		s.swap.Free(e.SwapSlot)
	}
	return nil
}

// MarkDirty records that upage has been written through, used by the
// syscall write path since this simulated page directory does not
// raise real hardware dirty bits on its own.
func (s *SPT) MarkDirty(upage uintptr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.pages[upage]; ok {
		e.Dirty = true
	}
	s.pd.MarkDirty(upage)
}

// WritebackAndInvalidate implements mem.Evictor: it is called by the
// frame table just before reassigning the frame backing upage.
//
// Per spec.md's REDESIGN FLAG ("mmap-backed pages be written to their
// file when evicted dirty, not to swap"), a file-backed page (one with
// a File) is written back directly to its file if dirty and left in
// the FSYS state (reloadable on the next fault); every other resident
// page is swapped out.
func (s *SPT) WritebackAndInvalidate(upage uintptr, data []byte, pd *pagedir.PageDir) error {
	s.mu.Lock()
	e, ok := s.pages[upage]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("vm: eviction of page %#x with no SPTE", upage)
	}

	dirty := e.Dirty || pd.IsDirty(upage)

	if e.File != nil {
		if dirty {
			if _, err := e.File.WriteAt(data[:e.ReadBytes], e.Offset); err != nil {
				return err
			}
		}
		s.mu.Lock()
		e.Status = Fsys
		e.HasFrame = false
		e.Dirty = false
		s.mu.Unlock()
		pd.ClearDirty(upage)
		return nil
	}

	slot, err := s.swap.Out(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	e.Status = InSwap
	e.HasFrame = false
	e.SwapSlot, e.HasSwapSlot = slot, true
	e.Dirty = false
	s.mu.Unlock()
	pd.ClearDirty(upage)
	return nil
}
