// Package tiered provides a storage backend with a bounded in-memory hot
// tier. When resident bytes exceed the budget, least recently used streams
// are compressed and spilled to a block.Store; touching a spilled stream
// loads it back.
package tiered

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/metrics"
	"github.com/marmos91/agentfs/pkg/storage"
	"github.com/marmos91/agentfs/pkg/store/block"
)

// DefaultHotSize is the hot tier budget used when Config.HotSize is 0.
const DefaultHotSize = 256 << 20

// Config configures the tiered backend.
type Config struct {
	// HotSize is the resident byte budget.
	// Default: 256 MiB
	HotSize uint64

	// Codec compresses spilled streams.
	Codec Codec

	// Store receives spilled streams. Required. Closed by Backend.Close.
	Store block.Store

	// KeyPrefix namespaces spilled objects in Store.
	// Default: "streams/"
	KeyPrefix string

	// Metrics records spills and loads. Nil disables recording.
	Metrics metrics.TierMetrics
}

type stream struct {
	mu      sync.Mutex
	id      storage.ContentID
	data    []byte // nil while spilled
	size    int64
	spilled bool
	deleted bool

	// elem is the LRU entry while resident. Guarded by Backend.mu.
	elem *list.Element
}

// Backend is a storage.Backend with a memory hot tier and a block.Store
// cold tier.
//
// Lock order: stream.mu before Backend.mu. The evictor holds Backend.mu
// only to pick a victim and uses TryLock on it, so it never blocks on a
// stream lock while holding the backend lock.
type Backend struct {
	mu       sync.Mutex
	streams  map[storage.ContentID]*stream
	lru      *list.List // front is most recently used
	resident uint64
	spilled  uint64
	closed   bool

	hotSize uint64
	codec   Codec
	store   block.Store
	prefix  string
	metrics metrics.TierMetrics

	spills atomic.Uint64
	loads  atomic.Uint64
}

// New creates a tiered backend.
func New(cfg Config) (*Backend, error) {
	if cfg.Store == nil {
		return nil, errors.New("tiered backend requires a spill store")
	}
	if cfg.HotSize == 0 {
		cfg.HotSize = DefaultHotSize
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "streams/"
	}
	return &Backend{
		streams: make(map[storage.ContentID]*stream),
		lru:     list.New(),
		hotSize: cfg.HotSize,
		codec:   cfg.Codec,
		store:   cfg.Store,
		prefix:  cfg.KeyPrefix,
		metrics: cfg.Metrics,
	}, nil
}

func (b *Backend) objectKey(id storage.ContentID) string {
	return b.prefix + string(id)
}

func (b *Backend) get(id storage.ContentID) (*stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, storage.ErrBackendClosed
	}
	s, ok := b.streams[id]
	if !ok {
		return nil, storage.ErrContentNotFound
	}
	return s, nil
}

// acquire locks the stream and makes sure its bytes are resident.
func (b *Backend) acquire(ctx context.Context, id storage.ContentID) (*stream, error) {
	s, err := b.get(id)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.deleted {
		s.mu.Unlock()
		return nil, storage.ErrContentNotFound
	}
	if err := b.load(ctx, s); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	return s, nil
}

// load brings a spilled stream back into memory. Caller holds s.mu.
func (b *Backend) load(ctx context.Context, s *stream) error {
	if !s.spilled {
		b.touch(s, 0)
		return nil
	}

	start := time.Now()
	key := b.objectKey(s.id)
	data, err := b.fetch(ctx, key)
	if b.metrics != nil {
		b.metrics.ObserveLoad(s.size, time.Since(start), err)
	}
	if err != nil {
		return fmt.Errorf("load spilled stream %s: %w", s.id, err)
	}

	s.data = data
	s.spilled = false
	b.loads.Add(1)

	b.mu.Lock()
	b.spilled -= uint64(s.size)
	b.resident += uint64(len(data))
	if !b.closed {
		s.elem = b.lru.PushFront(s)
	}
	b.reportTiers()
	b.mu.Unlock()

	// The resident copy is authoritative from here on.
	if err := b.store.Delete(ctx, key); err != nil {
		logger.Warn("Failed to remove loaded spill object", logger.KeyContentID, s.id, logger.KeyKey, key, logger.KeyError, err)
	}
	return nil
}

// fetch reads and decodes a spilled frame.
func (b *Backend) fetch(ctx context.Context, key string) ([]byte, error) {
	frame, err := b.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return decodeFrame(frame)
}

// reportTiers publishes tier totals. Caller holds b.mu.
func (b *Backend) reportTiers() {
	if b.metrics != nil {
		b.metrics.SetTierBytes(int64(b.resident), int64(b.spilled))
	}
}

// touch marks s as most recently used and applies a resident byte delta.
// Caller holds s.mu.
func (b *Backend) touch(s *stream, delta int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if delta >= 0 {
		b.resident += uint64(delta)
	} else {
		b.resident -= uint64(-delta)
	}
	if s.elem != nil {
		b.lru.MoveToFront(s.elem)
	}
}

// evict spills least recently used streams until resident bytes fit the
// hot budget or no idle stream is left.
func (b *Backend) evict(ctx context.Context) {
	for {
		b.mu.Lock()
		if b.closed || b.resident <= b.hotSize {
			b.mu.Unlock()
			return
		}
		var victim *stream
		for e := b.lru.Back(); e != nil; e = e.Prev() {
			s := e.Value.(*stream)
			if s.mu.TryLock() {
				victim = s
				break
			}
		}
		b.mu.Unlock()

		if victim == nil {
			return
		}
		err := b.spill(ctx, victim)
		victim.mu.Unlock()
		if err != nil {
			// Stay over budget rather than lose data.
			logger.Warn("Failed to spill stream", logger.KeyContentID, victim.id, logger.KeyError, err)
			return
		}
	}
}

// spill writes a resident stream to the block store. Caller holds s.mu.
func (b *Backend) spill(ctx context.Context, s *stream) error {
	if s.deleted || s.spilled {
		return nil
	}

	start := time.Now()
	frame, err := encodeFrame(b.codec, s.data)
	if err == nil {
		err = b.store.Put(ctx, b.objectKey(s.id), frame)
	}
	if b.metrics != nil {
		b.metrics.ObserveSpill(int64(len(s.data)), int64(len(frame)), time.Since(start), err)
	}
	if err != nil {
		return err
	}

	n := uint64(len(s.data))
	s.data = nil
	s.spilled = true
	b.spills.Add(1)

	b.mu.Lock()
	b.resident -= n
	b.spilled += n
	if s.elem != nil {
		b.lru.Remove(s.elem)
		s.elem = nil
	}
	b.reportTiers()
	b.mu.Unlock()

	logger.Debug("Spilled stream", logger.KeyContentID, s.id, logger.KeySize, n, logger.KeyCodec, b.codec.String(), logger.KeyBytesWritten, len(frame))
	return nil
}

// Create allocates a new empty resident stream.
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
	s := &stream{id: id}
	s.elem = b.lru.PushFront(s)
	b.streams[id] = s
	return id, nil
}

// ReadAt reads from the stream, loading it if spilled.
func (b *Backend) ReadAt(ctx context.Context, id storage.ContentID, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, storage.ErrInvalidOffset
	}
	s, err := b.acquire(ctx, id)
	if err != nil {
		return 0, err
	}
	n := 0
	if off < int64(len(s.data)) {
		n = copy(p, s.data[off:])
	}
	s.mu.Unlock()

	b.evict(ctx)
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
	s, err := b.acquire(ctx, id)
	if err != nil {
		return 0, err
	}

	end := off + int64(len(p))
	var delta int64
	if end > int64(len(s.data)) {
		delta = end - int64(len(s.data))
		s.data = grow(s.data, end)
		s.size = end
	}
	copy(s.data[off:], p)
	b.touch(s, delta)
	s.mu.Unlock()

	b.evict(ctx)
	return len(p), nil
}

// Truncate resizes the stream.
func (b *Backend) Truncate(ctx context.Context, id storage.ContentID, size int64) error {
	if err := storage.CheckRange(size, 0); err != nil {
		return err
	}
	s, err := b.acquire(ctx, id)
	if err != nil {
		return err
	}

	cur := int64(len(s.data))
	switch {
	case size > cur:
		s.data = grow(s.data, size)
	case size < cur:
		trimmed := make([]byte, size)
		copy(trimmed, s.data[:size])
		s.data = trimmed
	}
	s.size = size
	b.touch(s, size-cur)
	s.mu.Unlock()

	b.evict(ctx)
	return nil
}

// Size returns the logical length without loading spilled streams.
func (b *Backend) Size(ctx context.Context, id storage.ContentID) (int64, error) {
	s, err := b.get(id)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.deleted {
		return 0, storage.ErrContentNotFound
	}
	return s.size, nil
}

// Clone copies the stream into a new resident stream.
func (b *Backend) Clone(ctx context.Context, id storage.ContentID) (storage.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	src, err := b.acquire(ctx, id)
	if err != nil {
		return "", err
	}
	data := make([]byte, len(src.data))
	copy(data, src.data)
	src.mu.Unlock()

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", storage.ErrBackendClosed
	}
	newID := storage.ContentID(uuid.NewString())
	s := &stream{id: newID, data: data, size: int64(len(data))}
	s.elem = b.lru.PushFront(s)
	b.streams[newID] = s
	b.resident += uint64(len(data))
	b.mu.Unlock()

	b.evict(ctx)
	return newID, nil
}

// Sync validates the id. Spilled streams are already in the cold tier and
// the hot tier has nothing to flush.
func (b *Backend) Sync(ctx context.Context, id storage.ContentID) error {
	_, err := b.Size(ctx, id)
	return err
}

// Delete removes the stream from both tiers.
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

	s.mu.Lock()
	defer s.mu.Unlock()

	s.deleted = true
	if s.spilled {
		if err := b.store.Delete(ctx, b.objectKey(id)); err != nil {
			logger.Warn("Failed to delete spill object", logger.KeyContentID, id, logger.KeyError, err)
		}
	}

	b.mu.Lock()
	if s.spilled {
		b.spilled -= uint64(s.size)
	} else {
		b.resident -= uint64(len(s.data))
	}
	if s.elem != nil {
		b.lru.Remove(s.elem)
		s.elem = nil
	}
	b.mu.Unlock()

	s.data = nil
	return nil
}

// Stats reports resident and spilled bytes.
func (b *Backend) Stats(ctx context.Context) (storage.Stats, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return storage.Stats{}, storage.ErrBackendClosed
	}
	return storage.Stats{
		ResidentBytes: b.resident,
		SpilledBytes:  b.spilled,
		Streams:       uint64(len(b.streams)),
	}, nil
}

// TierCounts returns how many spills and loads have happened.
func (b *Backend) TierCounts() (spills, loads uint64) {
	return b.spills.Load(), b.loads.Load()
}

// Close drops the hot tier and closes the spill store.
func (b *Backend) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.streams = nil
	b.lru.Init()
	b.resident, b.spilled = 0, 0
	b.mu.Unlock()

	return b.store.Close()
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
