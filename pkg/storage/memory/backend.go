// Package memory provides an in-memory storage backend. It is the default
// backend and the reference the other backends are tested against.
package memory

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/agentfs/pkg/storage"
)

// Config configures the in-memory backend.
type Config struct {
	// MaxSize caps the total bytes held across all streams. 0 means unlimited.
	MaxSize uint64
}

// stream is a single byte stream guarded by its own lock so writes to
// different streams don't contend.
type stream struct {
	mu      sync.RWMutex
	data    []byte
	deleted bool
}

// Backend is an in-memory implementation of storage.Backend.
type Backend struct {
	mu      sync.RWMutex
	streams map[storage.ContentID]*stream
	used    uint64
	maxSize uint64
	closed  bool
}

// New creates a new in-memory backend.
func New(cfg Config) *Backend {
	return &Backend{
		streams: make(map[storage.ContentID]*stream),
		maxSize: cfg.MaxSize,
	}
}

// Create allocates a new empty stream.
func (b *Backend) Create(ctx context.Context) (storage.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", storage.ErrBackendClosed
	}

	id := storage.ContentID(uuid.NewString())
	b.streams[id] = &stream{}
	return id, nil
}

// get returns the stream for id.
func (b *Backend) get(id storage.ContentID) (*stream, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, storage.ErrBackendClosed
	}
	s, ok := b.streams[id]
	if !ok {
		return nil, storage.ErrContentNotFound
	}
	return s, nil
}

// ReadAt reads from the stream at off.
func (b *Backend) ReadAt(ctx context.Context, id storage.ContentID, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, storage.ErrInvalidOffset
	}
	s, err := b.get(id)
	if err != nil {
		return 0, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.deleted {
		return 0, storage.ErrContentNotFound
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p at off, zero-filling any gap.
func (b *Backend) WriteAt(ctx context.Context, id storage.ContentID, p []byte, off int64) (int, error) {
	if err := storage.CheckRange(off, len(p)); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s, err := b.get(id)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return 0, storage.ErrContentNotFound
	}
	end := off + int64(len(p))
	if end > int64(len(s.data)) {
		if err := b.reserve(uint64(end - int64(len(s.data)))); err != nil {
			return 0, err
		}
		s.data = grow(s.data, end)
	}
	copy(s.data[off:], p)
	return len(p), nil
}

// Truncate resizes the stream.
func (b *Backend) Truncate(ctx context.Context, id storage.ContentID, size int64) error {
	if err := storage.CheckRange(size, 0); err != nil {
		return err
	}
	s, err := b.get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return storage.ErrContentNotFound
	}
	cur := int64(len(s.data))
	switch {
	case size > cur:
		if err := b.reserve(uint64(size - cur)); err != nil {
			return err
		}
		s.data = grow(s.data, size)
	case size < cur:
		// Copy so the freed tail is actually released.
		trimmed := make([]byte, size)
		copy(trimmed, s.data[:size])
		s.data = trimmed
		b.release(uint64(cur - size))
	}
	return nil
}

// Size returns the stream length.
func (b *Backend) Size(ctx context.Context, id storage.ContentID) (int64, error) {
	s, err := b.get(id)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.data)), nil
}

// Clone copies the stream into a new one.
func (b *Backend) Clone(ctx context.Context, id storage.ContentID) (storage.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := b.get(id)
	if err != nil {
		return "", err
	}

	src.mu.RLock()
	data := make([]byte, len(src.data))
	copy(data, src.data)
	src.mu.RUnlock()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return "", storage.ErrBackendClosed
	}
	if err := b.reserveLocked(uint64(len(data))); err != nil {
		return "", err
	}

	newID := storage.ContentID(uuid.NewString())
	b.streams[newID] = &stream{data: data}
	return newID, nil
}

// Sync is immediate for memory; it only validates the id.
func (b *Backend) Sync(ctx context.Context, id storage.ContentID) error {
	_, err := b.get(id)
	return err
}

// Delete removes a stream.
func (b *Backend) Delete(ctx context.Context, id storage.ContentID) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return storage.ErrBackendClosed
	}
	s, ok := b.streams[id]
	if !ok {
		b.mu.Unlock()
		return nil
	}
	delete(b.streams, id)
	b.mu.Unlock()

	// Stream locks are always taken before the backend lock, never after.
	s.mu.Lock()
	n := uint64(len(s.data))
	s.data = nil
	s.deleted = true
	s.mu.Unlock()

	b.release(n)
	return nil
}

// Stats reports usage.
func (b *Backend) Stats(ctx context.Context) (storage.Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return storage.Stats{}, storage.ErrBackendClosed
	}
	return storage.Stats{
		ResidentBytes: b.used,
		Streams:       uint64(len(b.streams)),
	}, nil
}

// Close drops all streams.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.streams = nil
	b.used = 0
	return nil
}

func (b *Backend) reserve(n uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reserveLocked(n)
}

func (b *Backend) reserveLocked(n uint64) error {
	if b.maxSize > 0 && b.used+n > b.maxSize {
		return storage.ErrNoSpace
	}
	b.used += n
	return nil
}

func (b *Backend) release(n uint64) {
	b.mu.Lock()
	b.used -= n
	b.mu.Unlock()
}

// grow extends data to size with zero bytes.
func grow(data []byte, size int64) []byte {
	if int64(cap(data)) >= size {
		old := len(data)
		data = data[:size]
		clear(data[old:])
		return data
	}
	out := make([]byte, size, size+size/4)
	copy(out, data)
	return out
}

var _ storage.Backend = (*Backend)(nil)
