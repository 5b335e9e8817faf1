package defs

// Err_t is the kernel's errno type: syscalls and internal operations
// return a negative Err_t on failure and report success with 0 (or,
// for byte counts / descriptors, a non-negative value).
type Err_t int

// Error codes returned by the filesystem and virtual memory layers.
// Values mirror the subset of errno actually produced by this kernel;
// they are not meant to match the host OS's errno numbering.
const (
	EPERM        Err_t = 1
	ENOENT       Err_t = 2
	ESRCH        Err_t = 3
	EINTR        Err_t = 4
	EIO          Err_t = 5
	EBADF        Err_t = 9
	ENOMEM       Err_t = 12
	EFAULT       Err_t = 14
	EEXIST       Err_t = 17
	ENODEV       Err_t = 19
	ENOTDIR      Err_t = 20
	EISDIR       Err_t = 21
	EINVAL       Err_t = 22
	EMFILE       Err_t = 24
	ENOSPC       Err_t = 28
	EROFS        Err_t = 30
	ENAMETOOLONG Err_t = 36
	ENOTEMPTY    Err_t = 39
	ENOHEAP      Err_t = 40
	ENOSYS       Err_t = 38
)

// Tid_t identifies the thread that owns a frame, an SPTE, or a
// filesystem handle. The scheduler that allocates these is an
// external collaborator; this kernel core only stores and compares
// the identifier.
type Tid_t int
