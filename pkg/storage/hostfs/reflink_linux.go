//go:build linux

package hostfs

import (
	"errors"
	"os"

	"github.com/spf13/afero"
	"golang.org/x/sys/unix"
)

var errNotOSFile = errors.New("reflink requires host files")

// reflink clones src into dst with FICLONE. Only real host files qualify.
func reflink(src, dst afero.File) error {
	s, ok := src.(*os.File)
	if !ok {
		return errNotOSFile
	}
	d, ok := dst.(*os.File)
	if !ok {
		return errNotOSFile
	}
	return unix.IoctlFileClone(int(d.Fd()), int(s.Fd()))
}

func isNoSpace(err error) bool {
	return errors.Is(err, unix.ENOSPC) || errors.Is(err, unix.EDQUOT)
}
