// Package storage defines the byte-content store the AgentFS core writes
// file data to. The core is backend-agnostic: it only holds ContentIDs and
// asks the backend to read, write, truncate, clone and sync them.
package storage

import (
	"context"
)

// ContentID is an opaque handle identifying a byte stream in a Backend.
type ContentID string

// Backend stores independent byte streams addressed by ContentID.
//
// Implementations must be safe for concurrent use. Each WriteAt must be
// atomic over the range it touches: concurrent readers see either the
// old or the new bytes for that range, never a mix from one call.
type Backend interface {
	// Create allocates a new empty stream.
	Create(ctx context.Context) (ContentID, error)

	// ReadAt reads up to len(p) bytes at off. It returns io.EOF when fewer
	// bytes than requested are available at the end of the stream.
	// Returns ErrContentNotFound for unknown ids.
	ReadAt(ctx context.Context, id ContentID, p []byte, off int64) (int, error)

	// WriteAt writes p at off, extending the stream and zero-filling any
	// gap between the old end and off.
	WriteAt(ctx context.Context, id ContentID, p []byte, off int64) (int, error)

	// Truncate sets the stream length. Growing zero-fills, shrinking frees
	// the trailing bytes.
	Truncate(ctx context.Context, id ContentID, size int64) error

	// Size returns the current stream length.
	Size(ctx context.Context, id ContentID) (int64, error)

	// Clone creates a new stream with the same bytes as id. Later writes to
	// either stream never affect the other.
	Clone(ctx context.Context, id ContentID) (ContentID, error)

	// Sync blocks until the stream's bytes are as durable as the backend
	// can make them.
	Sync(ctx context.Context, id ContentID) error

	// Delete removes the stream. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id ContentID) error

	// Stats reports aggregate usage.
	Stats(ctx context.Context) (Stats, error)

	// Close releases backend resources. Further calls return ErrBackendClosed.
	Close() error
}

// Stats contains aggregate usage of a Backend.
type Stats struct {
	// ResidentBytes is the number of bytes held in the backend's primary
	// (fast) tier.
	ResidentBytes uint64

	// SpilledBytes is the number of bytes moved to a secondary tier.
	// Always 0 for single-tier backends.
	SpilledBytes uint64

	// Streams is the number of live streams.
	Streams uint64
}
