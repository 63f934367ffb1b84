package storage

import (
	"errors"
)

// Standard backend errors. The core maps these onto its error taxonomy.
var (
	// ErrContentNotFound indicates the stream does not exist.
	ErrContentNotFound = errors.New("content not found")

	// ErrBackendClosed indicates the backend has been closed.
	ErrBackendClosed = errors.New("storage backend is closed")

	// ErrNoSpace indicates the backend's capacity limit has been reached.
	ErrNoSpace = errors.New("storage backend is full")

	// ErrInvalidOffset indicates a negative offset or size.
	ErrInvalidOffset = errors.New("invalid offset")
)

// MaxStreamSize is the largest stream length a backend accepts (1 TiB).
const MaxStreamSize int64 = 1 << 40

// CheckRange validates a write of n bytes at off, or a resize to off when n
// is 0. Ranges ending past MaxStreamSize, including ones whose end would
// overflow int64, report ErrNoSpace.
func CheckRange(off int64, n int) error {
	if off < 0 || n < 0 {
		return ErrInvalidOffset
	}
	if off > MaxStreamSize || int64(n) > MaxStreamSize-off {
		return ErrNoSpace
	}
	return nil
}
