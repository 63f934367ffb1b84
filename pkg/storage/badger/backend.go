// Package badger provides a storage backend on top of BadgerDB. Streams are
// split into fixed-size chunks keyed by stream id and chunk index, with a
// small CBOR header recording the logical size.
package badger

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"sync"
	"sync/atomic"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/marmos91/agentfs/pkg/metrics"
	"github.com/marmos91/agentfs/pkg/storage"
)

// DefaultChunkSize is the chunk size used when Config.ChunkSize is 0.
const DefaultChunkSize = 64 * 1024

const lockStripes = 64

// Config holds configuration for the badger backend.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps the whole database in memory (tests).
	InMemory bool

	// ChunkSize is the chunk size for new streams.
	// Default: 64 KiB
	ChunkSize uint32

	// SyncWrites makes every transaction durable before returning.
	SyncWrites bool

	// Metrics receives badger cache statistics on every Stats call. Nil
	// disables recording.
	Metrics metrics.BadgerMetrics
}

// Backend is a storage.Backend on BadgerDB.
type Backend struct {
	db        *badgerdb.DB
	chunkSize uint32
	inMemory  bool
	closed    atomic.Bool
	metrics   metrics.BadgerMetrics

	// stripes serialize writers per stream so read-modify-write of
	// chunks never conflicts.
	stripes [lockStripes]sync.Mutex
}

// Open opens (or creates) a badger backend.
func Open(cfg Config) (*Backend, error) {
	var opts badgerdb.Options
	if cfg.InMemory {
		opts = badgerdb.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("badger path is required")
		}
		opts = badgerdb.DefaultOptions(cfg.Path)
	}
	opts = opts.WithLogger(badgerLogger{}).WithSyncWrites(cfg.SyncWrites)

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database: %w", err)
	}

	chunkSize := cfg.ChunkSize
	if chunkSize == 0 {
		chunkSize = DefaultChunkSize
	}

	return &Backend{db: db, chunkSize: chunkSize, inMemory: cfg.InMemory, metrics: cfg.Metrics}, nil
}

func (b *Backend) stripe(id storage.ContentID) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &b.stripes[h.Sum32()%lockStripes]
}

func (b *Backend) check(ctx context.Context) error {
	if b.closed.Load() {
		return storage.ErrBackendClosed
	}
	return ctx.Err()
}

// getHeader loads the stream header inside txn.
func getHeader(txn *badgerdb.Txn, id storage.ContentID) (*streamHeader, error) {
	item, err := txn.Get(keyHeader(id))
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, storage.ErrContentNotFound
		}
		return nil, err
	}
	var h *streamHeader
	err = item.Value(func(val []byte) error {
		var derr error
		h, derr = decodeHeader(val)
		return derr
	})
	return h, err
}

func putHeader(txn *badgerdb.Txn, id storage.ContentID, h *streamHeader) error {
	data, err := encodeHeader(h)
	if err != nil {
		return err
	}
	return txn.Set(keyHeader(id), data)
}

// getChunk returns the stored bytes of a chunk, nil when absent.
func getChunk(txn *badgerdb.Txn, id storage.ContentID, idx uint64) ([]byte, error) {
	item, err := txn.Get(keyChunk(id, idx))
	if err != nil {
		if errors.Is(err, badgerdb.ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item.ValueCopy(nil)
}

// Create allocates a new empty stream.
func (b *Backend) Create(ctx context.Context) (storage.ContentID, error) {
	if err := b.check(ctx); err != nil {
		return "", err
	}

	id := storage.ContentID(uuid.NewString())
	err := b.db.Update(func(txn *badgerdb.Txn) error {
		return putHeader(txn, id, &streamHeader{
			ChunkSize: b.chunkSize,
			Created:   time.Now().UTC(),
		})
	})
	if err != nil {
		return "", fmt.Errorf("failed to create stream: %w", err)
	}
	return id, nil
}

// ReadAt reads a range from a consistent snapshot of the stream.
func (b *Backend) ReadAt(ctx context.Context, id storage.ContentID, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, storage.ErrInvalidOffset
	}
	if err := b.check(ctx); err != nil {
		return 0, err
	}

	var n int
	err := b.db.View(func(txn *badgerdb.Txn) error {
		h, err := getHeader(txn, id)
		if err != nil {
			return err
		}
		if off >= h.Size {
			return nil
		}

		want := int64(len(p))
		if off+want > h.Size {
			want = h.Size - off
		}
		cs := int64(h.ChunkSize)

		for int64(n) < want {
			pos := off + int64(n)
			idx := uint64(pos / cs)
			within := pos % cs
			span := min(cs-within, want-int64(n))

			chunk, err := getChunk(txn, id, idx)
			if err != nil {
				return err
			}
			dst := p[n : int64(n)+span]
			copied := 0
			if within < int64(len(chunk)) {
				copied = copy(dst, chunk[within:])
			}
			clear(dst[copied:])
			n += int(span)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes p at off in a single transaction.
func (b *Backend) WriteAt(ctx context.Context, id storage.ContentID, p []byte, off int64) (int, error) {
	if err := storage.CheckRange(off, len(p)); err != nil {
		return 0, err
	}
	if err := b.check(ctx); err != nil {
		return 0, err
	}
	lock := b.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		h, err := getHeader(txn, id)
		if err != nil {
			return err
		}
		cs := int64(h.ChunkSize)

		written := int64(0)
		for written < int64(len(p)) {
			pos := off + written
			idx := uint64(pos / cs)
			within := pos % cs
			span := min(cs-within, int64(len(p))-written)

			chunk, err := getChunk(txn, id, idx)
			if err != nil {
				return err
			}
			if need := within + span; int64(len(chunk)) < need {
				grown := make([]byte, need)
				copy(grown, chunk)
				chunk = grown
			}
			copy(chunk[within:], p[written:written+span])
			if err := txn.Set(keyChunk(id, idx), chunk); err != nil {
				return err
			}
			written += span
		}

		if end := off + int64(len(p)); end > h.Size {
			h.Size = end
		}
		return putHeader(txn, id, h)
	})
	if err != nil {
		return 0, mapBadgerError(err)
	}
	return len(p), nil
}

// Truncate resizes the stream. Shrinking drops whole chunks past the new
// end and trims the last partial one.
func (b *Backend) Truncate(ctx context.Context, id storage.ContentID, size int64) error {
	if err := storage.CheckRange(size, 0); err != nil {
		return err
	}
	if err := b.check(ctx); err != nil {
		return err
	}
	lock := b.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	err := b.db.Update(func(txn *badgerdb.Txn) error {
		h, err := getHeader(txn, id)
		if err != nil {
			return err
		}
		if size < h.Size {
			if err := trimChunks(txn, id, int64(h.ChunkSize), size); err != nil {
				return err
			}
		}
		h.Size = size
		return putHeader(txn, id, h)
	})
	return mapBadgerError(err)
}

// trimChunks removes chunk bytes at or beyond size.
func trimChunks(txn *badgerdb.Txn, id storage.ContentID, cs, size int64) error {
	lastIdx := uint64(size / cs)
	within := size % cs

	opts := badgerdb.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Prefix = keyChunkPrefix(id)
	it := txn.NewIterator(opts)
	var drop [][]byte
	for it.Seek(keyChunk(id, lastIdx)); it.Valid(); it.Next() {
		drop = append(drop, it.Item().KeyCopy(nil))
	}
	it.Close()

	for _, key := range drop {
		idx := chunkIndex(key)
		if idx == lastIdx && within > 0 {
			chunk, err := getChunk(txn, id, idx)
			if err != nil {
				return err
			}
			if int64(len(chunk)) > within {
				if err := txn.Set(key, chunk[:within]); err != nil {
					return err
				}
			}
			continue
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Size returns the logical stream size.
func (b *Backend) Size(ctx context.Context, id storage.ContentID) (int64, error) {
	if err := b.check(ctx); err != nil {
		return 0, err
	}
	var size int64
	err := b.db.View(func(txn *badgerdb.Txn) error {
		h, err := getHeader(txn, id)
		if err != nil {
			return err
		}
		size = h.Size
		return nil
	})
	return size, err
}

// Clone copies header and chunks into a new stream. The copy is read from
// one snapshot and written with a WriteBatch so large streams don't hit
// transaction size limits.
func (b *Backend) Clone(ctx context.Context, id storage.ContentID) (storage.ContentID, error) {
	if err := b.check(ctx); err != nil {
		return "", err
	}
	lock := b.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	newID := storage.ContentID(uuid.NewString())
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()

	err := b.db.View(func(txn *badgerdb.Txn) error {
		h, err := getHeader(txn, id)
		if err != nil {
			return err
		}

		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = keyChunkPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if err := wb.Set(keyChunk(newID, chunkIndex(item.Key())), val); err != nil {
				return err
			}
		}

		copied := *h
		copied.Created = time.Now().UTC()
		data, err := encodeHeader(&copied)
		if err != nil {
			return err
		}
		return wb.Set(keyHeader(newID), data)
	})
	if err != nil {
		return "", err
	}
	if err := wb.Flush(); err != nil {
		return "", mapBadgerError(err)
	}
	return newID, nil
}

// Sync flushes badger's write-ahead log to disk. An in-memory database has
// no log, so committed transactions are already as durable as it gets.
func (b *Backend) Sync(ctx context.Context, id storage.ContentID) error {
	if err := b.check(ctx); err != nil {
		return err
	}
	if _, err := b.Size(ctx, id); err != nil {
		return err
	}
	if b.inMemory {
		return nil
	}
	return b.db.Sync()
}

// Delete removes the header and all chunks.
func (b *Backend) Delete(ctx context.Context, id storage.ContentID) error {
	if b.closed.Load() {
		return storage.ErrBackendClosed
	}
	lock := b.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	var keys [][]byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = keyChunkPrefix(id)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return err
		}
	}
	if err := wb.Delete(keyHeader(id)); err != nil {
		return err
	}
	return wb.Flush()
}

// Stats scans stream headers.
func (b *Backend) Stats(ctx context.Context) (storage.Stats, error) {
	if err := b.check(ctx); err != nil {
		return storage.Stats{}, err
	}

	var stats storage.Stats
	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(prefixHeader)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				h, err := decodeHeader(val)
				if err != nil {
					return err
				}
				stats.Streams++
				stats.ResidentBytes += uint64(h.Size)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	b.recordCacheMetrics()
	return stats, err
}

func (b *Backend) recordCacheMetrics() {
	if b.metrics == nil {
		return
	}
	block := b.db.BlockCacheMetrics()
	b.metrics.RecordCache("block", block.Hits(), block.Misses(), block.Ratio())
	index := b.db.IndexCacheMetrics()
	b.metrics.RecordCache("index", index.Hits(), index.Misses(), index.Ratio())
}

// Close closes the database. Safe to call more than once.
func (b *Backend) Close() error {
	if b.closed.Swap(true) {
		return nil
	}
	return b.db.Close()
}

func mapBadgerError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badgerdb.ErrTxnTooBig) {
		return fmt.Errorf("%w: %v", storage.ErrNoSpace, err)
	}
	return err
}

var _ storage.Backend = (*Backend)(nil)
