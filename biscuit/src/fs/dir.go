package fs

import (
	"strings"

	"corefs/biscuit/src/device"
)

// entrySize is the fixed size of one directory entry: a 4-byte
// sector number, a 15-byte NUL-terminated name (NameMax=14 plus the
// terminator), and a 1-byte in-use flag -- spec.md §6's "a 20-byte
// structure (after natural alignment) is acceptable provided size is
// constant and ≤ NAME_MAX=14."
const entrySize = 4 + (NameMax + 1) + 1

// dirEntry is one slot of a directory's body. Entry 0 of every
// directory is reserved for the parent back-link (spec.md §4.4) and
// is never in_use.
type dirEntry struct {
	sector device.Sector
	name   string
	inUse  bool
}

func (e dirEntry) marshal() []byte {
	buf := make([]byte, entrySize)
	buf[0] = byte(e.sector)
	buf[1] = byte(e.sector >> 8)
	buf[2] = byte(e.sector >> 16)
	buf[3] = byte(e.sector >> 24)
	copy(buf[4:4+NameMax+1], e.name)
	if e.inUse {
		buf[entrySize-1] = 1
	}
	return buf
}

func unmarshalEntry(buf []byte) dirEntry {
	sector := device.Sector(buf[0]) | device.Sector(buf[1])<<8 | device.Sector(buf[2])<<16 | device.Sector(buf[3])<<24
	nameBytes := buf[4 : 4+NameMax+1]
	nul := len(nameBytes)
	for i, b := range nameBytes {
		if b == 0 {
			nul = i
			break
		}
	}
	return dirEntry{
		sector: sector,
		name:   string(nameBytes[:nul]),
		inUse:  buf[entrySize-1] != 0,
	}
}

// Dir is a directory: an inode whose body is a sequence of
// fixed-size entries, per spec.md §4.4.
type Dir struct {
	ip  *Inode
	tab *inodeTable
}

// Inode returns the directory's backing inode (used by callers that
// need its sector number, e.g. to record a child's parent back-link).
func (d *Dir) Inode() *Inode { return d.ip }

// createDir formats a brand-new directory inode at sector and writes
// its offset-0 parent back-link to parentSector. For the root
// directory, parentSector is the root's own sector.
func createDir(tab *inodeTable, sector, parentSector device.Sector) (*Dir, error) {
	ip, err := tab.Create(sector, int32(entrySize), TDir)
	if err != nil {
		return nil, err
	}
	back := dirEntry{sector: parentSector, inUse: false}
	if _, err := ip.WriteAt(back.marshal(), 0); err != nil {
		return nil, err
	}
	return &Dir{ip: ip, tab: tab}, nil
}

// openDir opens the directory inode at sector, failing if it is not
// in fact a directory.
func openDir(tab *inodeTable, sector device.Sector) (*Dir, error) {
	ip, err := tab.Open(sector)
	if err != nil {
		return nil, err
	}
	if ip.Type() != TDir {
		tab.Close(ip)
		return nil, ErrNotDir
	}
	return &Dir{ip: ip, tab: tab}, nil
}

// Close releases this directory handle's reference on its inode.
func (d *Dir) Close() error {
	return d.tab.Close(d.ip)
}

func (d *Dir) readEntry(idx int) (dirEntry, bool, error) {
	buf := make([]byte, entrySize)
	n, err := d.ip.ReadAt(buf, int64(idx)*entrySize)
	if err != nil {
		return dirEntry{}, false, err
	}
	if n < entrySize {
		return dirEntry{}, false, nil
	}
	return unmarshalEntry(buf), true, nil
}

func (d *Dir) numEntries() int {
	return int(d.ip.Len() / entrySize)
}

func (d *Dir) parentBackLink() (device.Sector, error) {
	e, ok, err := d.readEntry(0)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrCorrupt{Reason: "directory missing back-link entry"}
	}
	return e.sector, nil
}

// Lookup scans for name and returns its child sector and type. "."
// resolves to this directory's own inode; ".." resolves via the
// offset-0 back-link without a linear scan.
func (d *Dir) Lookup(name string) (device.Sector, Type, bool, error) {
	if name == "." {
		return d.ip.Sector(), TDir, true, nil
	}
	if name == ".." {
		s, err := d.parentBackLink()
		if err != nil {
			return 0, 0, false, err
		}
		return s, TDir, true, nil
	}
	n := d.numEntries()
	for i := 1; i < n; i++ {
		e, ok, err := d.readEntry(i)
		if err != nil {
			return 0, 0, false, err
		}
		if ok && e.inUse && e.name == name {
			childType := TFile
			if d.tab != nil {
				if ip, err := d.tab.Open(e.sector); err == nil {
					childType = ip.Type()
					d.tab.Close(ip)
				}
			}
			return e.sector, childType, true, nil
		}
	}
	return 0, 0, false, nil
}

// Add inserts a new entry for name naming child_sector. Rejects
// empty or over-long names and duplicates. If the child is itself a
// directory, its parent back-link is stamped with this directory's
// sector first.
func (d *Dir) Add(name string, childSector device.Sector, childType Type) error {
	if name == "" {
		return ErrInvalidName
	}
	if len(name) > NameMax {
		return ErrNameTooLong
	}
	if _, _, found, err := d.Lookup(name); err != nil {
		return err
	} else if found {
		return ErrExist
	}

	if childType == TDir {
		child, err := d.tab.Open(childSector)
		if err != nil {
			return err
		}
		back := dirEntry{sector: d.ip.Sector(), inUse: false}
		_, err = child.WriteAt(back.marshal(), 0)
		d.tab.Close(child)
		if err != nil {
			return err
		}
	}

	n := d.numEntries()
	slot := -1
	for i := 1; i < n; i++ {
		e, ok, err := d.readEntry(i)
		if err != nil {
			return err
		}
		if ok && !e.inUse {
			slot = i
			break
		}
	}
	if slot < 0 {
		slot = n
	}
	entry := dirEntry{sector: childSector, name: name, inUse: true}
	_, err := d.ip.WriteAt(entry.marshal(), int64(slot)*entrySize)
	return err
}

// Remove deletes the entry named name. If its child is itself a
// non-empty directory, the removal is refused.
func (d *Dir) Remove(name string) error {
	if name == "." || name == ".." {
		return ErrInvalidName
	}
	n := d.numEntries()
	for i := 1; i < n; i++ {
		e, ok, err := d.readEntry(i)
		if err != nil {
			return err
		}
		if !ok || !e.inUse || e.name != name {
			continue
		}

		child, err := d.tab.Open(e.sector)
		if err != nil {
			return err
		}
		if child.Type() == TDir {
			cd := &Dir{ip: child, tab: d.tab}
			empty, err := cd.isEmpty()
			if err != nil {
				d.tab.Close(child)
				return err
			}
			if !empty {
				d.tab.Close(child)
				return ErrNotEmpty
			}
		}

		cleared := dirEntry{inUse: false}
		if _, err := d.ip.WriteAt(cleared.marshal(), int64(i)*entrySize); err != nil {
			d.tab.Close(child)
			return err
		}
		d.tab.Remove(e.sector)
		return d.tab.Close(child)
	}
	return ErrNotFound
}

func (d *Dir) isEmpty() (bool, error) {
	n := d.numEntries()
	for i := 1; i < n; i++ {
		e, ok, err := d.readEntry(i)
		if err != nil {
			return false, err
		}
		if ok && e.inUse {
			return false, nil
		}
	}
	return true, nil
}

// Readdir returns the names of all in_use entries, hiding the
// offset-0 parent back-link.
func (d *Dir) Readdir() ([]string, error) {
	var names []string
	n := d.numEntries()
	for i := 1; i < n; i++ {
		e, ok, err := d.readEntry(i)
		if err != nil {
			return nil, err
		}
		if ok && e.inUse {
			names = append(names, e.name)
		}
	}
	return names, nil
}

// SplitPath splits an absolute or relative path on '/', dropping
// empty components (so "/a//b/" becomes ["a", "b"]).
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// dirOpenPath resolves path to a directory handle, starting from root
// if path is absolute (begins with '/') or from cwd otherwise. Every
// intermediate component must exist and be a directory; the final
// directory must not have been removed concurrently.
func dirOpenPath(tab *inodeTable, root, cwd *Dir, path string) (*Dir, error) {
	cur := cwd
	if strings.HasPrefix(path, "/") || cur == nil {
		cur = root
	}
	owned := false
	for _, comp := range SplitPath(path) {
		sector, typ, found, err := cur.Lookup(comp)
		if err != nil {
			if owned {
				cur.Close()
			}
			return nil, err
		}
		if !found || typ != TDir {
			if owned {
				cur.Close()
			}
			return nil, ErrNotFound
		}
		next, err := openDir(tab, sector)
		if owned {
			cur.Close()
		}
		if err != nil {
			return nil, err
		}
		cur = next
		owned = true
	}
	if cur.ip.Removed() {
		if owned {
			cur.Close()
		}
		return nil, ErrNotFound
	}
	if !owned {
		// path had zero components ("", "."): return a fresh
		// reference to the start directory rather than aliasing the
		// caller's handle.
		return openDir(tab, cur.ip.Sector())
	}
	return cur, nil
}
