//go:build unix

package errors

import (
	"golang.org/x/sys/unix"
)

// Errno maps err to the POSIX errno an adapter should return.
// nil maps to 0; errors outside the taxonomy map to EIO.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	switch DetailOf(err) {
	case DetailLoop:
		return unix.ELOOP
	case DetailNameTooLong:
		return unix.ENAMETOOLONG
	case DetailNoAttr:
		return unix.ENODATA
	case DetailFileTooLarge:
		return unix.EFBIG
	}
	switch CodeOf(err) {
	case ErrNotFound:
		return unix.ENOENT
	case ErrAlreadyExists:
		return unix.EEXIST
	case ErrAccessDenied:
		return unix.EACCES
	case ErrOperationNotPermitted:
		return unix.EPERM
	case ErrNotADirectory:
		return unix.ENOTDIR
	case ErrIsADirectory:
		return unix.EISDIR
	case ErrDirectoryNotEmpty:
		return unix.ENOTEMPTY
	case ErrNoSpace:
		return unix.ENOSPC
	case ErrInvalidArgument:
		return unix.EINVAL
	case ErrResourceBusy:
		return unix.EBUSY
	case ErrOperationNotSupported:
		return unix.ENOTSUP
	case ErrInvalidHandle:
		return unix.EBADF
	case ErrEventsDisabled:
		return unix.ENOSYS
	case ErrBufferTooSmall:
		return unix.ERANGE
	default:
		return unix.EIO
	}
}
