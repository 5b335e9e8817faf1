// Package cache implements the 64-entry write-back buffer cache that
// mediates every access between the filesystem layer and the block
// device (spec.md §4.1). It is adapted from the cache entry shape of
// Biscuit's fs.Bdev_block_t (biscuit/src/fs/blk.go) generalized from
// Biscuit's page-backed, refcounted block object to the plain
// fixed-array cache the original Pintos cache.c implements, since this
// kernel core has no physical-frame-backed block pages of its own --
// those are reserved for user memory (see package mem).
package cache

import (
	"fmt"
	"sync"

	"corefs/biscuit/src/device"
)

const nentries = 64

type entry struct {
	occupied bool
	sector   device.Sector
	payload  [device.SectorSize]byte
	dirty    bool
}

// Cache is the fixed 64-slot write-back buffer cache. All operations
// are serialized on a single exclusive lock, exactly as spec.md §5
// requires ("cache_lock (exclusive) -- entire buffer cache; held
// across sector I/O").
type Cache struct {
	mu      sync.Mutex
	dev     device.Device
	entries [nentries]entry
}

// New creates a buffer cache fronting dev.
func New(dev device.Device) *Cache {
	return &Cache{dev: dev}
}

// lookup returns the index of the entry caching sector, or -1.
// Callers must hold c.mu.
func (c *Cache) lookup(sector device.Sector) int {
	for i := range c.entries {
		if c.entries[i].occupied && c.entries[i].sector == sector {
			return i
		}
	}
	return -1
}

// firstFree returns the index of an unoccupied entry, or -1 if the
// cache is full.
func (c *Cache) firstFree() int {
	for i := range c.entries {
		if !c.entries[i].occupied {
			return i
		}
	}
	return -1
}

// victim implements the scan-from-start eviction policy: the first
// occupied slot found, in index order. There is always exactly one
// victim since the cache is never empty once anything has been
// allocated, and write-back only happens when the victim is dirty.
func (c *Cache) victim() int {
	for i := range c.entries {
		if c.entries[i].occupied {
			return i
		}
	}
	panic("cache: no victim in a full cache -- impossible, cache has 64 slots")
}

// writeback flushes entry i to the device if dirty and clears its
// dirty bit. Callers must hold c.mu.
func (c *Cache) writeback(i int) error {
	e := &c.entries[i]
	if !e.dirty {
		return nil
	}
	if err := c.dev.WriteSector(e.sector, e.payload[:]); err != nil {
		return err
	}
	e.dirty = false
	return nil
}

// allocate finds a slot for sector, evicting if necessary, and reads
// the sector's current contents into it. Callers must hold c.mu.
func (c *Cache) allocate(sector device.Sector) (int, error) {
	i := c.firstFree()
	if i < 0 {
		i = c.victim()
		if err := c.writeback(i); err != nil {
			return -1, err
		}
		c.entries[i] = entry{}
	}
	e := &c.entries[i]
	if err := c.dev.ReadSector(sector, e.payload[:]); err != nil {
		return -1, err
	}
	e.occupied = true
	e.sector = sector
	e.dirty = false
	return i, nil
}

// Read copies the contents of sector into dst, which must be exactly
// device.SectorSize bytes. A cache miss allocates a slot (evicting a
// victim if the cache is full) and reads through to the device.
func (c *Cache) Read(sector device.Sector, dst []byte) error {
	if len(dst) != device.SectorSize {
		return device.ErrBadBuffer{Len: len(dst)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.lookup(sector)
	if i < 0 {
		var err error
		i, err = c.allocate(sector)
		if err != nil {
			return err
		}
	}
	copy(dst, c.entries[i].payload[:])
	return nil
}

// Write copies src, which must be exactly device.SectorSize bytes,
// into the cached entry for sector and marks it dirty. Like Read, a
// miss first allocates a slot and reads the sector through; src then
// replaces the whole payload.
func (c *Cache) Write(sector device.Sector, src []byte) error {
	if len(src) != device.SectorSize {
		return device.ErrBadBuffer{Len: len(src)}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.lookup(sector)
	if i < 0 {
		var err error
		i, err = c.allocate(sector)
		if err != nil {
			return err
		}
	}
	e := &c.entries[i]
	copy(e.payload[:], src)
	e.dirty = true
	return nil
}

// Flush writes back every dirty entry. After Flush returns
// successfully, no entry in the cache is dirty.
func (c *Cache) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].occupied {
			if err := c.writeback(i); err != nil {
				return err
			}
		}
	}
	return c.dev.Flush()
}

// Stats reports the number of occupied and dirty entries, useful for
// tests asserting the invariants of spec.md §8 ("a dirty cache entry
// is occupied", "a flushed cache has no dirty entries").
func (c *Cache) Stats() (occupied, dirty int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.entries {
		if c.entries[i].occupied {
			occupied++
			if c.entries[i].dirty {
				dirty++
			}
		}
	}
	return
}

func (c *Cache) String() string {
	occ, dirty := c.Stats()
	return fmt.Sprintf("cache{entries=%d occupied=%d dirty=%d}", nentries, occ, dirty)
}
