//go:build unix

package errors

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestErrno(t *testing.T) {
	tests := []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{NewAccessDeniedError("/f", "write permission denied"), unix.EACCES},
		{NewNotPermittedError("/f", "not owner"), unix.EPERM},
		{NewNotEmptyError("/d"), unix.ENOTEMPTY},
		{NewBufferTooSmallError("/f", 10), unix.ERANGE},
		{NewInvalidHandleError("closed"), unix.EBADF},
		{NewBusyError("branch", "bound"), unix.EBUSY},
		{NewLoopError("/l", "too many levels of symbolic links"), unix.ELOOP},
		{NewNameTooLongError("/x", "file name too long"), unix.ENAMETOOLONG},
		{NewNoAttrError("/f", "user.tag"), unix.ENODATA},
		{NewFileTooLargeError("/f"), unix.EFBIG},
		{NewInvalidArgumentError("/f", "negative offset"), unix.EINVAL},
		{NewNotFoundError("/f", "entry"), unix.ENOENT},
		{assert.AnError, unix.EIO},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Errno(tt.err), "%v", tt.err)
	}
}
