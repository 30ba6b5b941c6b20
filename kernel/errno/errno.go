// Package errno defines the flat error-code enumeration returned across the
// syscall boundary (spec.md section 4.8). Kernel-internal subsystems use
// *kernel.Error values (see the top-level kernel package); errno.Code is the
// translation that userspace actually observes.
package errno

// Code is a negative-valued error code returned by a syscall. A successful
// syscall always returns a non-negative value, so callers can distinguish
// errors from results with a single sign check.
type Code int64

// The full set of errno values the syscall surface can return. There is no
// open-ended error taxonomy: every failure a syscall can produce maps to one
// of these.
const (
	OK            Code = 0
	EBADF         Code = -1 // fd does not index a live slot in the caller's fd_table.
	ENOENT        Code = -2 // path not present in the ramdisk.
	EROFS         Code = -3 // write attempted against the read-only ramdisk.
	ENOMEM        Code = -4 // a frame, heap block, or VMO could not be allocated.
	EFAULT        Code = -5 // a user pointer argument was invalid.
	EIO           Code = -6 // external I/O failure (keyboard overflow, ramdisk checksum).
	EAGAIN        Code = -7 // resource temporarily unavailable (process table full).
	EINVAL        Code = -8 // argument was structurally invalid (bad whence, bad flags, overflow).
	ESRCH         Code = -9 // no such process (bad pid argument).
	ENOSYS        Code = -10 // syscall number not implemented.
)

// String returns a short mnemonic for c, matching the names used in spec.md.
func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case EBADF:
		return "EBADF"
	case ENOENT:
		return "ENOENT"
	case EROFS:
		return "EROFS"
	case ENOMEM:
		return "ENOMEM"
	case EFAULT:
		return "EFAULT"
	case EIO:
		return "EIO"
	case EAGAIN:
		return "EAGAIN"
	case EINVAL:
		return "EINVAL"
	case ESRCH:
		return "ESRCH"
	case ENOSYS:
		return "ENOSYS"
	default:
		return "EUNKNOWN"
	}
}

// Error implements the error interface so errno.Code can be returned from
// ordinary Go functions that prefer `error` over a raw code.
func (c Code) Error() string { return c.String() }
