package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"corefs/biscuit/src/device"
	"corefs/biscuit/src/fs"
)

func openImage(image string, nsectors int) (*fs.Fs_t, func() error, error) {
	dev, err := device.OpenFileDevice(image, device.Sector(nsectors))
	if err != nil {
		return nil, nil, err
	}
	fsys, err := fs.Mount(dev, device.Sector(nsectors))
	if err != nil {
		dev.Close()
		return nil, nil, fmt.Errorf("bfsutil: mounting %s: %w", image, err)
	}
	return fsys, func() error {
		err := fsys.Shutdown()
		dev.Close()
		return err
	}, nil
}

func lsCmd() *cobra.Command {
	var nsectors int
	cmd := &cobra.Command{
		Use:   "ls <image> [path]",
		Short: "list a directory's entries",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/"
			if len(args) == 2 {
				path = args[1]
			}
			fsys, closeFn, err := openImage(args[0], nsectors)
			if err != nil {
				return err
			}
			defer closeFn()

			dir, err := fsys.OpenDir(nil, path)
			if err != nil {
				return fmt.Errorf("bfsutil: ls %s: %w", path, err)
			}
			defer dir.Close()

			names, err := dir.Readdir()
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&nsectors, "sectors", 65536, "number of 512-byte sectors in the image")
	return cmd
}

func catCmd() *cobra.Command {
	var nsectors int
	cmd := &cobra.Command{
		Use:   "cat <image> <path>",
		Short: "print a file's contents to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			image, path := args[0], args[1]
			fsys, closeFn, err := openImage(image, nsectors)
			if err != nil {
				return err
			}
			defer closeFn()

			ip, err := fsys.Open(nil, path)
			if err != nil {
				return fmt.Errorf("bfsutil: open %s: %w", path, err)
			}
			defer fsys.CloseFile(ip)

			const chunk = 16 * 1024
			buf := make([]byte, chunk)
			var off int64
			for {
				n, err := ip.ReadAt(buf, off)
				if n > 0 {
					if _, werr := os.Stdout.Write(buf[:n]); werr != nil {
						return werr
					}
					off += int64(n)
				}
				if err == io.EOF || n < chunk {
					break
				}
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&nsectors, "sectors", 65536, "number of 512-byte sectors in the image")
	return cmd
}
