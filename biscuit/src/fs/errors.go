package fs

import "fmt"

// These are the "not-found / precondition violation" class of
// spec.md §7: returned to the caller as an ordinary failure, never a
// panic.
var (
	ErrNotFound    = fmt.Errorf("fs: no such file or directory")
	ErrExist       = fmt.Errorf("fs: file exists")
	ErrNotDir      = fmt.Errorf("fs: not a directory")
	ErrIsDir       = fmt.Errorf("fs: is a directory")
	ErrNotEmpty    = fmt.Errorf("fs: directory not empty")
	ErrInvalidName = fmt.Errorf("fs: invalid name")
	ErrNameTooLong = fmt.Errorf("fs: name exceeds NAME_MAX")
)
