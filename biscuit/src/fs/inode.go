// Package fs implements the on-disk inode and directory filesystem of
// spec.md §4.3-4.4: extensible files via direct/single-indirect/
// double-indirect sector pointers, reference-counted in-memory
// inodes, and a hierarchical directory tree. It is grounded on
// Biscuit's fs.Bdev_block_t/Superblock_t shape (biscuit/src/fs) for
// the buffer-cache-backed plumbing and on original_source/'s
// inode.c/directory.c (Pintos) for the exact indirection and growth
// algorithm, which spec.md §4.3 distills but does not spell out to
// the byte.
package fs

import (
	"encoding/binary"
	"fmt"
	"sync"

	"corefs/biscuit/src/cache"
	"corefs/biscuit/src/device"
)

// Layout constants from spec.md §3/§6.
const (
	NDirect      = 123
	NIndirect    = device.SectorSize / 4 // 128 u32 pointers per indirect sector
	inodeMagic   = 0x494E4F44
	NameMax      = 14
	diskInodeLen = NDirect*4 + 4 + 4 + 4 + 4 + 4 // == device.SectorSize
)

func init() {
	if diskInodeLen != device.SectorSize {
		panic(fmt.Sprintf("fs: on-disk inode is %d bytes, want %d", diskInodeLen, device.SectorSize))
	}
}

// MaxFileSize is the largest possible file: (123 + 128 + 128*128)
// sectors, matching spec.md §3's "~8.4 MiB".
const MaxFileSize = (NDirect + NIndirect + NIndirect*NIndirect) * device.SectorSize

// Type distinguishes a regular file inode from a directory inode.
type Type uint32

const (
	TFile Type = 1
	TDir  Type = 2
)

// diskInode is the exact 512-byte on-disk inode image of spec.md §6:
// 123 direct sector pointers, one single-indirect pointer, one
// double-indirect pointer, a type tag, a length, and a magic number.
// A sector pointer value of 0 means "unallocated".
type diskInode struct {
	direct   [NDirect]device.Sector
	indirect device.Sector
	dindir   device.Sector
	typ      Type
	length   int32
	magic    uint32
}

func (d *diskInode) marshal() []byte {
	buf := make([]byte, device.SectorSize)
	off := 0
	for _, s := range d.direct {
		binary.LittleEndian.PutUint32(buf[off:], uint32(s))
		off += 4
	}
	binary.LittleEndian.PutUint32(buf[off:], uint32(d.indirect))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(d.dindir))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(d.typ))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], uint32(d.length))
	off += 4
	binary.LittleEndian.PutUint32(buf[off:], d.magic)
	return buf
}

func unmarshalInode(buf []byte) (diskInode, error) {
	var d diskInode
	if len(buf) != device.SectorSize {
		return d, device.ErrBadBuffer{Len: len(buf)}
	}
	off := 0
	for i := range d.direct {
		d.direct[i] = device.Sector(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
	}
	d.indirect = device.Sector(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	d.dindir = device.Sector(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	d.typ = Type(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	d.length = int32(binary.LittleEndian.Uint32(buf[off:]))
	off += 4
	d.magic = binary.LittleEndian.Uint32(buf[off:])
	if d.magic != inodeMagic {
		return d, ErrCorrupt{Reason: fmt.Sprintf("bad inode magic %#x", d.magic)}
	}
	return d, nil
}

// Allocator is the free-sector-map interface the inode layer grows
// files through. Freemap satisfies it; tests may substitute a fake to
// exercise allocation-failure unwinding.
type Allocator interface {
	Allocate(n int) (device.Sector, bool)
	Release(sector device.Sector, n int)
}

// ErrCorrupt signals a violated on-disk invariant (bad magic, a
// length that disagrees with the allocated sector tree). spec.md §7
// classifies this as an "internal assertion" failure -- fatal, not a
// runtime condition to recover from -- so callers that receive it
// should treat it as a kernel panic in the style of Biscuit's own
// XXXPANIC comments, not retry.
type ErrCorrupt struct{ Reason string }

func (e ErrCorrupt) Error() string { return "fs: corrupt on-disk state: " + e.Reason }

// Inode is the in-memory, reference-counted handle onto one on-disk
// inode (spec.md §3 "In-memory inode"). Many Fd_t handles to the same
// file share one Inode; the last closer releases its storage if the
// inode was removed.
type Inode struct {
	mu sync.Mutex

	c     *cache.Cache
	alloc Allocator

	sector    device.Sector
	openCount int
	removed   bool
	denyCount int
	disk      diskInode
}

// Sector returns the inode's backing sector number, used as its
// stable identity (directory entries reference inodes by sector).
func (ip *Inode) Sector() device.Sector { return ip.sector }

// Type reports whether this inode is a regular file or a directory.
func (ip *Inode) Type() Type {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.disk.typ
}

// Len returns the current length of the inode's data in bytes.
func (ip *Inode) Len() int64 {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return int64(ip.disk.length)
}

// Removed reports whether Remove has been called on this inode (it
// will be deleted once the last opener closes it).
func (ip *Inode) Removed() bool {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.removed
}

// createInode formats a brand-new inode of the given type and length
// at sector, allocating and zeroing its data sectors, and writes the
// inode sector itself through the cache. It does not register the
// inode in any open-inode table -- callers (Freemap bootstrap, and
// inodeTable.Create) do that themselves once they hold the result.
func createInode(c *cache.Cache, alloc Allocator, sector device.Sector, length int32, typ Type) (*Inode, error) {
	if length < 0 {
		return nil, ErrCorrupt{Reason: "negative inode length"}
	}
	ip := &Inode{
		c:         c,
		alloc:     alloc,
		sector:    sector,
		openCount: 1,
		disk: diskInode{
			typ:    typ,
			length: length,
			magic:  inodeMagic,
		},
	}
	if err := ip.grow(length); err != nil {
		return nil, err
	}
	if err := ip.writeDiskInode(); err != nil {
		return nil, err
	}
	return ip, nil
}

// openInode reads an inode's on-disk image fresh from sector, without
// consulting any open-inode table. Used internally by the table's
// Open, and directly by code (the free map) that manages its own
// single always-open inode.
func openInode(c *cache.Cache, alloc Allocator, sector device.Sector) (*Inode, error) {
	buf := make([]byte, device.SectorSize)
	if err := c.Read(sector, buf); err != nil {
		return nil, err
	}
	d, err := unmarshalInode(buf)
	if err != nil {
		return nil, err
	}
	return &Inode{c: c, alloc: alloc, sector: sector, openCount: 1, disk: d}, nil
}

func (ip *Inode) writeDiskInode() error {
	return ip.c.Write(ip.sector, ip.disk.marshal())
}

func zeroSector(c *cache.Cache, s device.Sector) error {
	return c.Write(s, make([]byte, device.SectorSize))
}

// byteToSector maps a byte offset to the sector that holds it,
// following spec.md §4.3: direct for idx<123, single-indirect for
// idx<251, doubly-indirect otherwise. It returns ok=false if pos is
// at or past the inode's current length.
func (ip *Inode) byteToSector(pos int64) (device.Sector, bool, error) {
	if pos >= int64(ip.disk.length) {
		return 0, false, nil
	}
	idx := int(pos / device.SectorSize)
	switch {
	case idx < NDirect:
		return ip.disk.direct[idx], true, nil
	case idx < NDirect+NIndirect:
		s, err := ip.indirectLookup(ip.disk.indirect, idx-NDirect)
		return s, true, err
	default:
		idx -= NDirect + NIndirect
		outer := idx / NIndirect
		inner := idx % NIndirect
		buf := make([]byte, device.SectorSize)
		if ip.disk.dindir == 0 {
			return 0, true, nil
		}
		if err := ip.c.Read(ip.disk.dindir, buf); err != nil {
			return 0, false, err
		}
		mid := device.Sector(binary.LittleEndian.Uint32(buf[outer*4:]))
		s, err := ip.indirectLookup(mid, inner)
		return s, true, err
	}
}

func (ip *Inode) indirectLookup(sector device.Sector, idx int) (device.Sector, error) {
	if sector == 0 {
		return 0, nil
	}
	buf := make([]byte, device.SectorSize)
	if err := ip.c.Read(sector, buf); err != nil {
		return 0, err
	}
	return device.Sector(binary.LittleEndian.Uint32(buf[idx*4:])), nil
}

// grow is the idempotent growth algorithm of spec.md §4.3, adapted
// directly from original_source/src/filesys/inode.c's
// allocate_inode/allocate_indirect_inode: compute the number of
// sectors required for a target length, walk direct slots allocating
// any still-zero entry, then recurse one level into single- and
// double-indirect sectors as needed. Re-running grow with a length
// already satisfied is a no-op because every allocation is guarded by
// "still zero".
func (ip *Inode) grow(length int32) error {
	need := int((int64(length) + device.SectorSize - 1) / device.SectorSize)

	nd := need
	if nd > NDirect {
		nd = NDirect
	}
	for i := 0; i < nd; i++ {
		if ip.disk.direct[i] == 0 {
			s, ok := ip.alloc.Allocate(1)
			if !ok {
				return ErrNoSpace
			}
			if err := zeroSector(ip.c, s); err != nil {
				return err
			}
			ip.disk.direct[i] = s
		}
	}
	need -= nd
	if need == 0 {
		return nil
	}

	n1 := need
	if n1 > NIndirect {
		n1 = NIndirect
	}
	if err := ip.growIndirect(&ip.disk.indirect, n1, 1); err != nil {
		return err
	}
	need -= n1
	if need == 0 {
		return nil
	}

	n2 := need
	if n2 > NIndirect*NIndirect {
		n2 = NIndirect * NIndirect
	}
	if err := ip.growIndirect(&ip.disk.dindir, n2, 2); err != nil {
		return err
	}
	need -= n2
	if need != 0 {
		return ErrCorrupt{Reason: "grow: sector accounting mismatch"}
	}
	return nil
}

// growIndirect ensures *sector (a single- or double-indirect block)
// exists and that its first nsects logical sectors (depth 1: direct
// pointers; depth 2: pointers to single-indirect blocks) are
// allocated, recursing one level at depth 2.
func (ip *Inode) growIndirect(sector *device.Sector, nsects int, depth int) error {
	if *sector == 0 {
		s, ok := ip.alloc.Allocate(1)
		if !ok {
			return ErrNoSpace
		}
		if err := zeroSector(ip.c, s); err != nil {
			return err
		}
		*sector = s
	}
	buf := make([]byte, device.SectorSize)
	if err := ip.c.Read(*sector, buf); err != nil {
		return err
	}
	unit := 1
	if depth == 2 {
		unit = NIndirect
	}
	n := (nsects + unit - 1) / unit
	dirty := false
	for i := 0; i < n; i++ {
		size := nsects
		if size > unit {
			size = unit
		}
		child := device.Sector(binary.LittleEndian.Uint32(buf[i*4:]))
		if depth == 1 {
			if child == 0 {
				s, ok := ip.alloc.Allocate(1)
				if !ok {
					return ErrNoSpace
				}
				if err := zeroSector(ip.c, s); err != nil {
					return err
				}
				child = s
				binary.LittleEndian.PutUint32(buf[i*4:], uint32(child))
				dirty = true
			}
		} else {
			before := child
			if err := ip.growIndirect(&child, size, depth-1); err != nil {
				return err
			}
			if child != before {
				binary.LittleEndian.PutUint32(buf[i*4:], uint32(child))
				dirty = true
			}
		}
		nsects -= size
	}
	if dirty {
		if err := ip.c.Write(*sector, buf); err != nil {
			return err
		}
	}
	return nil
}

// ErrNoSpace is returned by Inode operations when the free-sector map
// cannot satisfy a growth request.
var ErrNoSpace = fmt.Errorf("fs: free-sector map exhausted")

// ReadAt reads len(buf) bytes starting at offset off, returning the
// number of bytes actually read -- fewer than len(buf) at EOF, as
// spec.md §4.3 and the original inode_read_at both specify. A
// full-sector-aligned chunk is copied directly from the cache;
// otherwise a bounce buffer is used, matching original_source's exact
// chunking.
func (ip *Inode) ReadAt(buf []byte, off int64) (int, error) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.readAtLocked(buf, off)
}

func (ip *Inode) readAtLocked(buf []byte, off int64) (int, error) {
	total := 0
	for len(buf) > 0 {
		sector, ok, err := ip.byteToSector(off)
		if err != nil {
			return total, err
		}
		if !ok {
			break
		}
		sectorOff := int(off % device.SectorSize)
		left := int64(ip.disk.length) - off
		sectorLeft := device.SectorSize - sectorOff
		minLeft := sectorLeft
		if left < int64(minLeft) {
			minLeft = int(left)
		}
		chunk := len(buf)
		if chunk > minLeft {
			chunk = minLeft
		}
		if chunk <= 0 {
			break
		}
		if sector == 0 {
			// a hole: direct pointer never allocated (can only
			// happen for a sparse region inside an indirect block
			// that was extended by a sibling's growth).
			for i := 0; i < chunk; i++ {
				buf[i] = 0
			}
		} else if sectorOff == 0 && chunk == device.SectorSize {
			if err := ip.c.Read(sector, buf[:device.SectorSize]); err != nil {
				return total, err
			}
		} else {
			bounce := make([]byte, device.SectorSize)
			if err := ip.c.Read(sector, bounce); err != nil {
				return total, err
			}
			copy(buf[:chunk], bounce[sectorOff:sectorOff+chunk])
		}
		buf = buf[chunk:]
		off += int64(chunk)
		total += chunk
	}
	return total, nil
}

// WriteAt writes len(buf) bytes to offset off, extending (growing)
// the inode first if the write would end past the current length.
// Returns 0 if the inode is currently write-denied (spec.md §4.3).
func (ip *Inode) WriteAt(buf []byte, off int64) (int, error) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.denyCount > 0 {
		return 0, nil
	}
	end := off + int64(len(buf))
	if end > int64(ip.disk.length) {
		if end > MaxFileSize {
			return 0, ErrTooLarge
		}
		if err := ip.grow(int32(end)); err != nil {
			return 0, err
		}
		ip.disk.length = int32(end)
		if err := ip.writeDiskInode(); err != nil {
			return 0, err
		}
	}

	total := 0
	for len(buf) > 0 {
		sector, ok, err := ip.byteToSector(off)
		if err != nil {
			return total, err
		}
		if !ok {
			break
		}
		sectorOff := int(off % device.SectorSize)
		left := int64(ip.disk.length) - off
		sectorLeft := device.SectorSize - sectorOff
		minLeft := sectorLeft
		if left < int64(minLeft) {
			minLeft = int(left)
		}
		chunk := len(buf)
		if chunk > minLeft {
			chunk = minLeft
		}
		if chunk <= 0 {
			break
		}
		if sectorOff == 0 && chunk == device.SectorSize {
			if err := ip.c.Write(sector, buf[:device.SectorSize]); err != nil {
				return total, err
			}
		} else {
			bounce := make([]byte, device.SectorSize)
			if sectorOff > 0 || chunk < sectorLeft {
				if err := ip.c.Read(sector, bounce); err != nil {
					return total, err
				}
			}
			copy(bounce[sectorOff:sectorOff+chunk], buf[:chunk])
			if err := ip.c.Write(sector, bounce); err != nil {
				return total, err
			}
		}
		buf = buf[chunk:]
		off += int64(chunk)
		total += chunk
	}
	return total, nil
}

// ErrTooLarge is returned by WriteAt when the write would grow a file
// past MaxFileSize.
var ErrTooLarge = fmt.Errorf("fs: write would exceed maximum file size")

// DenyWrite increments the deny-write counter; while positive,
// WriteAt is a no-op. Used while a file is being executed.
func (ip *Inode) DenyWrite() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.denyCount++
	if ip.denyCount > ip.openCount {
		panic("fs: deny_write_count exceeds open_count")
	}
}

// AllowWrite decrements the deny-write counter.
func (ip *Inode) AllowWrite() {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	if ip.denyCount <= 0 {
		panic("fs: allow_write without matching deny_write")
	}
	ip.denyCount--
}

// reopen increments the open count (dedup on a second Open of the
// same sector).
func (ip *Inode) reopen() {
	ip.mu.Lock()
	ip.openCount++
	ip.mu.Unlock()
}

// remove marks the inode for deletion once the last opener closes it.
func (ip *Inode) remove() {
	ip.mu.Lock()
	ip.removed = true
	ip.mu.Unlock()
}

// close decrements the open count and reports whether this was the
// last close (callers use this to know whether to drop the inode from
// the open table and, if removed, free its storage).
func (ip *Inode) close() (last bool, shouldFree bool) {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	ip.openCount--
	if ip.openCount < 0 {
		panic("fs: inode closed more times than opened")
	}
	if ip.openCount == 0 {
		return true, ip.removed
	}
	return false, false
}

// freeStorage releases every allocated data sector plus the inode
// sector itself. Called once, by the table, after the last closer of
// a removed inode.
func (ip *Inode) freeStorage() error {
	need := int((int64(ip.disk.length) + device.SectorSize - 1) / device.SectorSize)
	nd := need
	if nd > NDirect {
		nd = NDirect
	}
	for i := 0; i < nd; i++ {
		if ip.disk.direct[i] != 0 {
			ip.alloc.Release(ip.disk.direct[i], 1)
		}
	}
	need -= nd

	n1 := need
	if n1 > NIndirect {
		n1 = NIndirect
	}
	if n1 > 0 {
		if err := ip.freeIndirect(ip.disk.indirect, n1, 1); err != nil {
			return err
		}
		need -= n1
	}

	n2 := need
	if n2 > NIndirect*NIndirect {
		n2 = NIndirect * NIndirect
	}
	if n2 > 0 {
		if err := ip.freeIndirect(ip.disk.dindir, n2, 2); err != nil {
			return err
		}
	}
	ip.alloc.Release(ip.sector, 1)
	return nil
}

func (ip *Inode) freeIndirect(sector device.Sector, nsects int, depth int) error {
	if sector == 0 {
		return nil
	}
	buf := make([]byte, device.SectorSize)
	if err := ip.c.Read(sector, buf); err != nil {
		return err
	}
	unit := 1
	if depth == 2 {
		unit = NIndirect
	}
	n := (nsects + unit - 1) / unit
	for i := 0; i < n; i++ {
		size := nsects
		if size > unit {
			size = unit
		}
		child := device.Sector(binary.LittleEndian.Uint32(buf[i*4:]))
		if depth == 1 {
			if child != 0 {
				ip.alloc.Release(child, 1)
			}
		} else if err := ip.freeIndirect(child, size, depth-1); err != nil {
			return err
		}
		nsects -= size
	}
	ip.alloc.Release(sector, 1)
	return nil
}
