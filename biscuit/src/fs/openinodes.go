package fs

import (
	"sync"

	"corefs/biscuit/src/cache"
	"corefs/biscuit/src/device"
)

// inodeTable deduplicates concurrent opens of the same on-disk inode
// so that every Fd_t or Dir referencing sector S shares one *Inode and
// its reference count, per spec.md §3's "Cyclic / shared structures"
// guidance. It is a narrowed descendant of Biscuit's generic
// hashtable (biscuit/src/hashtable/hashtable.go): that table is built
// for lock-free reads over arbitrary interface{} keys across many
// unrelated consumers, but here the key space is a single dense
// device.Sector range and every value already serializes its own
// refcount internally, so a plain mutex-guarded map is the right
// amount of machinery -- the lock-free bucket chaining would add
// complexity this table has no need for.
type inodeTable struct {
	mu      sync.Mutex
	c       *cache.Cache
	alloc   Allocator
	entries map[device.Sector]*Inode
}

func newInodeTable(c *cache.Cache, alloc Allocator) *inodeTable {
	return &inodeTable{c: c, alloc: alloc, entries: map[device.Sector]*Inode{}}
}

// Open returns the shared *Inode for sector, reading it from disk on
// the first reference and bumping the open count on every subsequent
// one.
func (t *inodeTable) Open(sector device.Sector) (*Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ip, ok := t.entries[sector]; ok {
		ip.reopen()
		return ip, nil
	}
	ip, err := openInode(t.c, t.alloc, sector)
	if err != nil {
		return nil, err
	}
	t.entries[sector] = ip
	return ip, nil
}

// Create formats a brand-new inode at sector and registers it as
// already open with count 1.
func (t *inodeTable) Create(sector device.Sector, length int32, typ Type) (*Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.entries[sector]; ok {
		return nil, ErrCorrupt{Reason: "create of already-open inode sector"}
	}
	ip, err := createInode(t.c, t.alloc, sector, length, typ)
	if err != nil {
		return nil, err
	}
	t.entries[sector] = ip
	return ip, nil
}

// Close drops one reference to the inode at sector. If it was the
// last reference and the inode had been marked removed, its storage
// is freed and the table entry dropped.
func (t *inodeTable) Close(ip *Inode) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	last, shouldFree := ip.close()
	if !last {
		return nil
	}
	delete(t.entries, ip.sector)
	if shouldFree {
		return ip.freeStorage()
	}
	return nil
}

// Remove marks the inode at sector for deletion once its last opener
// closes it.
func (t *inodeTable) Remove(sector device.Sector) {
	t.mu.Lock()
	ip, ok := t.entries[sector]
	t.mu.Unlock()
	if ok {
		ip.remove()
	}
}
