// Package fs's Fs_t is the top-level facade a syscall adapter talks
// to, adapted from Biscuit's ufs.Ufs_t (biscuit/src/ufs/ufs.go) and
// its Fs_t driver (biscuit/src/ufs/driver.go): one struct gluing the
// buffer cache, the free-sector map, and the root directory together,
// exposing path-based operations instead of Biscuit's raw block-log
// plumbing.
package fs

import (
	"corefs/biscuit/src/cache"
	"corefs/biscuit/src/device"
)

// Fs_t is a mounted instance of the on-disk filesystem described by
// spec.md §4: a buffer cache over a block device, a free-sector
// bitmap, and a hierarchical directory tree rooted at RootDirSector.
type Fs_t struct {
	cache *cache.Cache
	free  *Freemap
	tab   *inodeTable
	root  *Dir
}

// Mkfs formats dev as a brand-new, empty filesystem of nsects
// sectors: a free map (sector 0), a root directory (sector 1) whose
// parent back-link points to itself, and everything else free.
func Mkfs(dev device.Device, nsects device.Sector) (*Fs_t, error) {
	c := cache.New(dev)
	free, err := createFreemap(c, nsects)
	if err != nil {
		return nil, err
	}
	tab := newInodeTable(c, free)
	root, err := createDir(tab, RootDirSector, RootDirSector)
	if err != nil {
		return nil, err
	}
	f := &Fs_t{cache: c, free: free, tab: tab, root: root}
	if err := f.Sync(); err != nil {
		return nil, err
	}
	return f, nil
}

// Mount opens a previously formatted filesystem image.
func Mount(dev device.Device, nsects device.Sector) (*Fs_t, error) {
	c := cache.New(dev)
	free, err := openFreemap(c, nsects)
	if err != nil {
		return nil, err
	}
	tab := newInodeTable(c, free)
	root, err := openDir(tab, RootDirSector)
	if err != nil {
		return nil, err
	}
	return &Fs_t{cache: c, free: free, tab: tab, root: root}, nil
}

// Root returns a fresh handle onto the root directory; callers own
// the returned handle and must Close it.
func (f *Fs_t) Root() (*Dir, error) {
	return openDir(f.tab, f.root.ip.Sector())
}

// resolveParentAndLeaf splits path into the directory handle holding
// its final component and the component name itself, resolved
// relative to cwd (nil means root).
func (f *Fs_t) resolveParentAndLeaf(cwd *Dir, path string) (*Dir, string, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		return nil, "", ErrInvalidName
	}
	dirPath := "/" + joinSlash(parts[:len(parts)-1])
	if !isAbs(path) {
		dirPath = joinSlash(parts[:len(parts)-1])
	}
	parent, err := dirOpenPath(f.tab, f.root, cwd, dirPath)
	if err != nil {
		return nil, "", err
	}
	return parent, parts[len(parts)-1], nil
}

func isAbs(path string) bool { return len(path) > 0 && path[0] == '/' }

func joinSlash(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += "/"
		}
		out += p
	}
	return out
}

// Create makes a new regular file named by path (resolved relative to
// cwd) with zero length, returning an open handle to its inode.
func (f *Fs_t) Create(cwd *Dir, path string) (*Inode, error) {
	parent, name, err := f.resolveParentAndLeaf(cwd, path)
	if err != nil {
		return nil, err
	}
	defer parent.Close()

	sector, ok := f.free.Allocate(1)
	if !ok {
		return nil, ErrNoSpace
	}
	ip, err := f.tab.Create(sector, 0, TFile)
	if err != nil {
		f.free.Release(sector, 1)
		return nil, err
	}
	if err := parent.Add(name, sector, TFile); err != nil {
		f.tab.Remove(sector)
		f.tab.Close(ip)
		return nil, err
	}
	return ip, nil
}

// Mkdir makes a new, empty directory named by path.
func (f *Fs_t) Mkdir(cwd *Dir, path string) error {
	parent, name, err := f.resolveParentAndLeaf(cwd, path)
	if err != nil {
		return err
	}
	defer parent.Close()

	sector, ok := f.free.Allocate(1)
	if !ok {
		return ErrNoSpace
	}
	child, err := createDir(f.tab, sector, parent.ip.Sector())
	if err != nil {
		f.free.Release(sector, 1)
		return err
	}
	if err := parent.Add(name, sector, TDir); err != nil {
		child.Close()
		f.tab.Remove(sector)
		return err
	}
	return child.Close()
}

// Open resolves path to an inode and returns an open handle on it.
func (f *Fs_t) Open(cwd *Dir, path string) (*Inode, error) {
	parts := SplitPath(path)
	if len(parts) == 0 {
		root, err := f.Root()
		if err != nil {
			return nil, err
		}
		ip := root.ip
		ip.reopen()
		root.Close()
		return ip, nil
	}
	parent, name, err := f.resolveParentAndLeaf(cwd, path)
	if err != nil {
		return nil, err
	}
	defer parent.Close()
	sector, _, found, err := parent.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return f.tab.Open(sector)
}

// OpenDir resolves path to a directory and returns an open handle,
// used by Chdir and by mkdir/readdir implementations.
func (f *Fs_t) OpenDir(cwd *Dir, path string) (*Dir, error) {
	return dirOpenPath(f.tab, f.root, cwd, path)
}

// CloseFile drops one reference to an inode previously returned by
// Create or Open.
func (f *Fs_t) CloseFile(ip *Inode) error {
	return f.tab.Close(ip)
}

// Reopen returns a fresh reference to ip's underlying inode, bumping
// its open count independently of the handle ip itself. Callers that
// must keep a file alive beyond the lifetime of the descriptor that
// named it -- mmap is the one case in this tree -- reopen it this way
// instead of holding the original handle, so closing that original
// descriptor does not free the file's storage out from under them.
func (f *Fs_t) Reopen(ip *Inode) (*Inode, error) {
	return f.tab.Open(ip.Sector())
}

// Remove unlinks the file or empty directory named by path.
func (f *Fs_t) Remove(cwd *Dir, path string) error {
	parent, name, err := f.resolveParentAndLeaf(cwd, path)
	if err != nil {
		return err
	}
	defer parent.Close()
	return parent.Remove(name)
}

// Sync writes the free map back through the cache, then flushes the
// cache to the device. Inode sectors need no step of their own: they
// are written through the cache whenever they change.
func (f *Fs_t) Sync() error {
	if err := f.free.persist(); err != nil {
		return err
	}
	return f.cache.Flush()
}

// Shutdown syncs and releases the root directory handle. Further use
// of f is invalid afterward.
func (f *Fs_t) Shutdown() error {
	if err := f.Sync(); err != nil {
		return err
	}
	return f.root.Close()
}
