package fs

import (
	"sync"

	"corefs/biscuit/src/cache"
	"corefs/biscuit/src/device"
)

// FreemapSector and RootDirSector are the two reserved sectors named
// by spec.md §6: "Sector 0: free-map inode. Sector 1: root directory
// inode. Remaining sectors: data."
const (
	FreemapSector    device.Sector = 0
	RootDirSector    device.Sector = 1
	firstDataSector  device.Sector = 2
)

// Freemap is the bitmap of allocated sectors on disk (spec.md §4.2).
// Like Pintos's free-map.c, the bitmap lives in memory for the
// lifetime of the mount and is backed by a regular inode (sector 0)
// only for persistence across Close/Open; every Allocate/Release call
// mutates the in-memory copy directly so callers never pay a cache
// round-trip for bookkeeping.
type Freemap struct {
	mu     sync.Mutex
	bits   []byte // one bit per sector, bit=1 means allocated
	nsects device.Sector
	inode  *Inode // backing store for persistence; nil until attached
}

func bitmapBytes(nsects device.Sector) int {
	return (int(nsects) + 7) / 8
}

func (f *Freemap) test(s device.Sector) bool {
	return f.bits[s/8]&(1<<(s%8)) != 0
}

func (f *Freemap) set(s device.Sector, v bool) {
	if v {
		f.bits[s/8] |= 1 << (s % 8)
	} else {
		f.bits[s/8] &^= 1 << (s % 8)
	}
}

// newFreemap builds an all-free in-memory bitmap over nsects sectors
// with no backing inode attached yet. Used only during Mkfs.
func newFreemap(nsects device.Sector) *Freemap {
	return &Freemap{bits: make([]byte, bitmapBytes(nsects)), nsects: nsects}
}

// Allocate finds n consecutive free sectors, marks them allocated, and
// returns the first sector number. It returns false if no run of n
// free sectors exists; spec.md §4.2 treats allocation failure as
// first-class, so callers must unwind any partial allocation already
// performed in the same operation.
func (f *Freemap) Allocate(n int) (device.Sector, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n <= 0 {
		return 0, false
	}
	run := 0
	var start device.Sector
	for s := device.Sector(0); s < f.nsects; s++ {
		if !f.test(s) {
			if run == 0 {
				start = s
			}
			run++
			if run == n {
				for i := 0; i < n; i++ {
					f.set(start+device.Sector(i), true)
				}
				return start, true
			}
		} else {
			run = 0
		}
	}
	return 0, false
}

// Release clears the bits for the n sectors starting at sector.
func (f *Freemap) Release(sector device.Sector, n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := 0; i < n; i++ {
		f.set(sector+device.Sector(i), false)
	}
}

// Used reports whether sector is currently marked allocated; exposed
// for tests asserting the free-map invariants of spec.md §8.
func (f *Freemap) Used(sector device.Sector) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.test(sector)
}

// Count returns the number of allocated sectors.
func (f *Freemap) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for s := device.Sector(0); s < f.nsects; s++ {
		if f.test(s) {
			n++
		}
	}
	return n
}

// createFreemap formats a brand-new free-sector bitmap: sectors 0 and
// 1 (the free-map inode and the root directory inode) are reserved up
// front, then the bitmap's own data blocks are allocated from itself
// before it is written out for the first time -- exactly the
// bootstrap order free-map.c in Pintos uses.
func createFreemap(c *cache.Cache, nsects device.Sector) (*Freemap, error) {
	f := newFreemap(nsects)
	f.set(FreemapSector, true)
	f.set(RootDirSector, true)

	inode, err := createInode(c, f, FreemapSector, int32(len(f.bits)), TFile)
	if err != nil {
		return nil, err
	}
	f.inode = inode
	if err := f.persist(); err != nil {
		return nil, err
	}
	return f, nil
}

// openFreemap reads back a previously formatted free-map from sector
// 0, loading its bitmap contents into memory.
func openFreemap(c *cache.Cache, nsects device.Sector) (*Freemap, error) {
	f := newFreemap(nsects)
	inode, err := openInode(c, f, FreemapSector)
	if err != nil {
		return nil, err
	}
	f.inode = inode
	n, err := inode.ReadAt(f.bits, 0)
	if err != nil {
		return nil, err
	}
	if n != len(f.bits) {
		return nil, ErrCorrupt{Reason: "free map shorter than expected"}
	}
	return f, nil
}

// persist writes the in-memory bitmap back through the inode that
// backs it. Called on Sync and on orderly shutdown.
func (f *Freemap) persist() error {
	f.mu.Lock()
	bits := append([]byte(nil), f.bits...)
	f.mu.Unlock()
	_, err := f.inode.WriteAt(bits, 0)
	return err
}
