//go:build !linux

package hostfs

import (
	"errors"

	"github.com/spf13/afero"
)

var errNoReflink = errors.New("reflink not supported on this platform")

func reflink(src, dst afero.File) error {
	return errNoReflink
}

func isNoSpace(err error) bool {
	return false
}
