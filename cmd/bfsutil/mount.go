package main

import (
	"context"
	"fmt"
	"sync"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
	"github.com/spf13/cobra"

	"corefs/biscuit/src/device"
	"corefs/biscuit/src/fs"
)

// node bridges one corefs inode into go-fuse's InodeEmbedder tree,
// the way hanwen-go-fuse's own LoopbackNode bridges a host directory
// entry: it carries just enough to re-resolve itself against the real
// filesystem on every operation rather than caching stateful handles,
// since fs.Fs_t's own inode table is already the cache that matters.
type node struct {
	gofs.Inode

	fsys *bridgeFS
	path string
	typ  fs.Type
}

// bridgeFS owns the single *fs.Fs_t a mount serves and serializes
// every call into it with one mutex.
type bridgeFS struct {
	mu   sync.Mutex
	fsys *fs.Fs_t
}

var _ = (gofs.NodeLookuper)((*node)(nil))
var _ = (gofs.NodeReaddirer)((*node)(nil))
var _ = (gofs.NodeOpener)((*node)(nil))
var _ = (gofs.NodeGetattrer)((*node)(nil))

func (n *node) childPath(name string) string {
	if n.path == "/" {
		return "/" + name
	}
	return n.path + "/" + name
}

func (n *node) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	childPath := n.childPath(name)
	ip, err := n.fsys.fsys.Open(nil, childPath)
	if err != nil {
		return nil, fsToErrno(err)
	}
	st := fs.Stat(ip)
	n.fsys.fsys.CloseFile(ip)

	mode := modeOf(st.Mode())
	out.Attr.Mode = mode
	out.Attr.Size = uint64(st.Size())

	child := n.NewInode(ctx, &node{fsys: n.fsys, path: childPath, typ: st.Mode()},
		gofs.StableAttr{Mode: mode, Ino: uint64(st.Ino())})
	return child, 0
}

func (n *node) Readdir(ctx context.Context) (gofs.DirStream, syscall.Errno) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	dir, err := n.fsys.fsys.OpenDir(nil, n.path)
	if err != nil {
		return nil, fsToErrno(err)
	}
	defer dir.Close()
	names, err := dir.Readdir()
	if err != nil {
		return nil, fsToErrno(err)
	}

	entries := make([]fuse.DirEntry, 0, len(names))
	for _, name := range names {
		entries = append(entries, fuse.DirEntry{Name: name})
	}
	return gofs.NewListDirStream(entries), 0
}

func (n *node) Getattr(ctx context.Context, f gofs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	ip, err := n.fsys.fsys.Open(nil, n.path)
	if err != nil {
		return fsToErrno(err)
	}
	st := fs.Stat(ip)
	n.fsys.fsys.CloseFile(ip)
	out.Attr.Mode = modeOf(st.Mode())
	out.Attr.Size = uint64(st.Size())
	return 0
}

// Open returns the node itself as a FileHandle: Read below re-resolves
// the path on every call rather than keeping an *fs.Inode pinned open
// for the file handle's lifetime, keeping this bridge's own lifetime
// management out of fs.Fs_t's open-inode refcounting.
func (n *node) Open(ctx context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	return n, 0, 0
}

var _ = (gofs.FileReader)((*node)(nil))

func (n *node) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	n.fsys.mu.Lock()
	defer n.fsys.mu.Unlock()

	ip, err := n.fsys.fsys.Open(nil, n.path)
	if err != nil {
		return nil, fsToErrno(err)
	}
	defer n.fsys.fsys.CloseFile(ip)

	nr, err := ip.ReadAt(dest, off)
	if err != nil {
		return nil, fsToErrno(err)
	}
	return &fuse.ReadResultData{Data: dest[:nr]}, 0
}

func modeOf(t fs.Type) uint32 {
	if t == fs.TDir {
		return syscall.S_IFDIR | 0755
	}
	return syscall.S_IFREG | 0644
}

func fsToErrno(err error) syscall.Errno {
	switch err {
	case fs.ErrNotFound:
		return syscall.ENOENT
	case fs.ErrNotDir:
		return syscall.ENOTDIR
	case fs.ErrIsDir:
		return syscall.EISDIR
	default:
		return syscall.EIO
	}
}

func mountCmd() *cobra.Command {
	var nsectors int
	cmd := &cobra.Command{
		Use:   "mount <image> <mountpoint>",
		Short: "mount an image read-only at a real directory via FUSE",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, mountpoint := args[0], args[1]
			dev, err := device.OpenFileDevice(image, device.Sector(nsectors))
			if err != nil {
				return err
			}
			defer dev.Close()

			fsys, err := fs.Mount(dev, device.Sector(nsectors))
			if err != nil {
				return fmt.Errorf("bfsutil: mounting %s: %w", image, err)
			}
			defer fsys.Shutdown()

			b := &bridgeFS{fsys: fsys}
			root := &node{fsys: b, path: "/", typ: fs.TDir}

			server, err := gofs.Mount(mountpoint, root, &gofs.Options{
				MountOptions: fuse.MountOptions{
					AllowOther: false,
				},
			})
			if err != nil {
				return fmt.Errorf("bfsutil: mount: %w", err)
			}
			fmt.Printf("mounted %s at %s (unmount with fusermount -u)\n", image, mountpoint)
			server.Wait()
			return nil
		},
	}
	cmd.Flags().IntVar(&nsectors, "sectors", 65536, "number of 512-byte sectors in the image")
	return cmd
}
