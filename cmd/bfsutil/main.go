// Command bfsutil inspects and mounts filesystem images produced by
// cmd/mkfs, the way Biscuit's own tooling (mkfs.go plus the kernel's
// syscall layer) is the only code that ever speaks the on-disk
// format directly. bfsutil exposes that format to an operator's shell
// without requiring a running kernel: "info" reports the volume's
// stamped identity, "ls"/"cat" walk the tree directly through package
// fs, and "mount" bridges it to a real mountpoint with go-fuse.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:   "bfsutil",
		Short: "inspect and mount corefs filesystem images",
	}
	root.AddCommand(infoCmd(), lsCmd(), catCmd(), mountCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
