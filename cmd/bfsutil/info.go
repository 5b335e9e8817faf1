package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"corefs/biscuit/src/device"
	"corefs/biscuit/src/fs"
	"corefs/biscuit/src/volid"
)

func infoCmd() *cobra.Command {
	var nsectors int
	cmd := &cobra.Command{
		Use:   "info <image>",
		Short: "print an image's volume id and root entry count",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			image := args[0]
			id, err := volid.Read(image)
			if err != nil {
				id = "(unstamped)"
			}

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

			root, err := fsys.Root()
			if err != nil {
				return err
			}
			defer root.Close()
			names, err := root.Readdir()
			if err != nil {
				return err
			}

			fmt.Printf("image:   %s\n", image)
			fmt.Printf("volume:  %s\n", id)
			fmt.Printf("sectors: %d\n", nsectors)
			fmt.Printf("root entries: %d\n", len(names))
			return nil
		},
	}
	cmd.Flags().IntVar(&nsectors, "sectors", 65536, "number of 512-byte sectors in the image")
	return cmd
}
