package vm

import (
	"fmt"
	"sync"

	"corefs/biscuit/src/fs"
	"corefs/biscuit/src/mem"
)

// ErrInvalidMmap covers every mmap precondition violation of spec.md
// §4.9: null/misaligned/out-of-range addr, a zero-length file, or an
// address range that overlaps an existing mapping.
var ErrInvalidMmap = fmt.Errorf("vm: invalid mmap request")

// mapping records one mmap(2) region: the reopened file handle it
// keeps alive and the pages it covers, in order, so munmap can walk
// them.
type mapping struct {
	file  *fs.Inode
	pages []uintptr
}

// Mmaps tracks a process's active memory-mapped file regions,
// assigning the mapid spec.md §4.9 describes ("max existing +1,
// starting at 1").
type Mmaps struct {
	mu      sync.Mutex
	spt     *SPT
	fsys    *fs.Fs_t
	entries map[int]*mapping
}

// NewMmaps returns an empty mmap table bound to spt, reopening and
// closing mapped files through fsys.
func NewMmaps(spt *SPT, fsys *fs.Fs_t) *Mmaps {
	return &Mmaps{spt: spt, fsys: fsys, entries: map[int]*mapping{}}
}

func isPageAligned(addr uintptr) bool { return addr%mem.PageSize == 0 }

func inUserRange(addr uintptr) bool {
	return addr > userLowBound && addr < PhysBase
}

// Mmap maps file's full contents starting at addr, page by page, as
// FSYS SPTEs. It refuses fd-is-console, a null/misaligned/
// out-of-range addr, a zero-length file, and any overlap with an
// existing SPTE. Per spec.md §4.9, the file is reopened through fsys
// before mapping -- the mapping holds its own reference, independent
// of the fd file was looked up through, so closing that fd does not
// free the file's storage while the mapping is still live.
func (m *Mmaps) Mmap(addr uintptr, file *fs.Inode, isConsole bool) (int, error) {
	if isConsole || addr == 0 || !isPageAligned(addr) || !inUserRange(addr) {
		return 0, ErrInvalidMmap
	}
	size := file.Len()
	if size == 0 {
		return 0, ErrInvalidMmap
	}

	npages := int((size + mem.PageSize - 1) / mem.PageSize)
	pages := make([]uintptr, 0, npages)
	for i := 0; i < npages; i++ {
		upage := addr + uintptr(i*mem.PageSize)
		if !inUserRange(upage) {
			return 0, ErrInvalidMmap
		}
		if _, ok := m.spt.Lookup(upage); ok {
			return 0, ErrInvalidMmap
		}
		pages = append(pages, upage)
	}

	ip, err := m.fsys.Reopen(file)
	if err != nil {
		return 0, err
	}

	for i, upage := range pages {
		off := int64(i * mem.PageSize)
		readBytes := mem.PageSize
		if remaining := size - off; remaining < int64(mem.PageSize) {
			readBytes = int(remaining)
		}
		zeroBytes := mem.PageSize - readBytes
		if err := m.spt.MakeSpteFilesys(upage, ip, off, readBytes, zeroBytes, true); err != nil {
			for _, p := range pages[:i] {
				m.spt.FreePage(p)
			}
			m.fsys.CloseFile(ip)
			return 0, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	id := 1
	for existing := range m.entries {
		if existing >= id {
			id = existing + 1
		}
	}
	m.entries[id] = &mapping{file: ip, pages: pages}
	return id, nil
}

// IDs returns every currently live mmap id. Used at process exit to
// walk and tear down every mapping without requiring the caller to
// have tracked the list itself.
func (m *Mmaps) IDs() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int, 0, len(m.entries))
	for id := range m.entries {
		ids = append(ids, id)
	}
	return ids
}

// Munmap tears down mapping id per spec.md §4.9: a dirty resident
// page is written back to the file at its offset; a dirty swapped-out
// page is faulted back in (into a scratch frame) and written back;
// an unloaded FSYS page needs no writeback. The mapped file is then
// closed and the entry dropped.
func (m *Mmaps) Munmap(id int) error {
	m.mu.Lock()
	mp, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("vm: no such mmap id %d", id)
	}

	for _, upage := range mp.pages {
		if err := m.writebackPage(upage); err != nil {
			return err
		}
		if err := m.spt.FreePage(upage); err != nil {
			return err
		}
	}
	return m.fsys.CloseFile(mp.file)
}

func (m *Mmaps) writebackPage(upage uintptr) error {
	e, ok := m.spt.Lookup(upage)
	if !ok {
		return nil
	}
	switch e.Status {
	case InFrame:
		if e.Dirty || m.spt.pd.IsDirty(upage) {
			data := m.spt.frames.Data(e.Frame)
			if _, err := e.File.WriteAt(data[:e.ReadBytes], e.Offset); err != nil {
				return err
			}
		}
	case InSwap:
		if e.Dirty {
			scratch := make([]byte, mem.PageSize)
			if err := m.spt.swap.In(e.SwapSlot, scratch); err != nil {
				return err
			}
			m.spt.mu.Lock()
			e.HasSwapSlot = false
			m.spt.mu.Unlock()
			if _, err := e.File.WriteAt(scratch[:e.ReadBytes], e.Offset); err != nil {
				return err
			}
		}
	case Fsys:
		// never loaded since the mapping was created; nothing to do.
	}
	return nil
}
