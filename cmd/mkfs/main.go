// Command mkfs formats a disk image with the filesystem of spec.md
// §4 and optionally seeds it from a host skeleton directory, the way
// Biscuit's own mkfs/mkfs.go builds a bootable image's filesystem
// contents from a skeldir before the bootloader and kernel are laid
// down around it. This version has no bootloader/kernel to embed --
// spec.md §1 places booting an actual kernel out of scope -- so it
// only knows how to produce and seed the filesystem image itself.
package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"corefs/biscuit/src/device"
	"corefs/biscuit/src/fs"
	"corefs/biscuit/src/volid"
)

var (
	nsectors int
	skeldir  string
)

func main() {
	root := &cobra.Command{
		Use:   "mkfs <image>",
		Short: "format a new filesystem image",
		Args:  cobra.ExactArgs(1),
		RunE:  runMkfs,
	}
	root.Flags().IntVar(&nsectors, "sectors", 65536, "number of 512-byte sectors in the image")
	root.Flags().StringVar(&skeldir, "skel", "", "host directory tree to copy into the new image")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runMkfs(cmd *cobra.Command, args []string) error {
	image := args[0]
	dev, err := device.CreateFileDevice(image, device.Sector(nsectors))
	if err != nil {
		return fmt.Errorf("mkfs: creating %s: %w", image, err)
	}
	defer dev.Close()

	fsys, err := fs.Mkfs(dev, device.Sector(nsectors))
	if err != nil {
		return fmt.Errorf("mkfs: formatting %s: %w", image, err)
	}

	if skeldir != "" {
		if err := addTree(fsys, skeldir); err != nil {
			return err
		}
	}

	id, err := volid.Stamp(image)
	if err != nil {
		return err
	}
	fmt.Printf("formatted %s (%d sectors), volume %s\n", image, nsectors, id)

	return fsys.Shutdown()
}

// addTree walks skeldir on the host and replicates its contents into
// fsys, following Biscuit's mkfs.go addfiles/copydata recursive walk.
func addTree(fsys *fs.Fs_t, skeldir string) error {
	return filepath.WalkDir(skeldir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("mkfs: walking %s: %w", path, err)
		}
		rel := strings.TrimPrefix(strings.TrimPrefix(path, skeldir), string(filepath.Separator))
		if rel == "" {
			return nil
		}
		rel = "/" + filepath.ToSlash(rel)

		if d.IsDir() {
			if err := fsys.Mkdir(nil, rel); err != nil {
				return fmt.Errorf("mkfs: mkdir %s: %w", rel, err)
			}
			return nil
		}
		return copyFile(fsys, path, rel)
	})
}

func copyFile(fsys *fs.Fs_t, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	ip, err := fsys.Create(nil, dst)
	if err != nil {
		return fmt.Errorf("mkfs: create %s: %w", dst, err)
	}
	defer fsys.CloseFile(ip)

	buf, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	if _, err := ip.WriteAt(buf, 0); err != nil {
		return fmt.Errorf("mkfs: writing %s: %w", dst, err)
	}
	return nil
}
