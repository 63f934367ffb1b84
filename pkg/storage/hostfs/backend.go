// Package hostfs provides a storage backend that keeps one host file per
// stream. On Linux, clones use FICLONE reflinks when the host filesystem
// supports them (Btrfs, XFS) and fall back to a full copy otherwise.
package hostfs

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/bufpool"
	"github.com/marmos91/agentfs/pkg/storage"
)

// lockStripes is the number of per-stream lock stripes.
const lockStripes = 64

// Config holds configuration for the host file backend.
type Config struct {
	// BasePath is the directory holding stream files.
	BasePath string

	// Reflink enables copy-on-write clones via FICLONE when the host
	// filesystem supports it.
	Reflink bool

	// FileMode is the permission mode for stream files.
	// Default: 0600
	FileMode os.FileMode

	// Fs overrides the filesystem (tests use afero.NewMemMapFs).
	// Default: afero.NewOsFs()
	Fs afero.Fs
}

// Backend is a storage.Backend storing each stream as a host file.
type Backend struct {
	fs       afero.Fs
	basePath string
	fileMode os.FileMode
	reflink  bool
	closed   atomic.Bool

	// stripes serialize writers against readers of the same stream so a
	// WriteAt is observed atomically over its range.
	stripes [lockStripes]sync.RWMutex

	reflinks atomic.Uint64
	copies   atomic.Uint64
}

// New creates a host file backend rooted at cfg.BasePath.
func New(cfg Config) (*Backend, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0600
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}

	if err := cfg.Fs.MkdirAll(cfg.BasePath, 0700); err != nil {
		return nil, fmt.Errorf("failed to create base path: %w", err)
	}
	info, err := cfg.Fs.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("base path is not a directory")
	}

	return &Backend{
		fs:       cfg.Fs,
		basePath: cfg.BasePath,
		fileMode: cfg.FileMode,
		reflink:  cfg.Reflink,
	}, nil
}

// path returns the host path for id. Ids are uuids, anything else is
// rejected so a crafted id can't escape the base directory.
func (b *Backend) path(id storage.ContentID) (string, error) {
	if _, err := uuid.Parse(string(id)); err != nil {
		return "", storage.ErrContentNotFound
	}
	return filepath.Join(b.basePath, string(id)), nil
}

func (b *Backend) stripe(id storage.ContentID) *sync.RWMutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(id))
	return &b.stripes[h.Sum32()%lockStripes]
}

// open opens an existing stream file.
func (b *Backend) open(id storage.ContentID, flag int) (afero.File, error) {
	if b.closed.Load() {
		return nil, storage.ErrBackendClosed
	}
	p, err := b.path(id)
	if err != nil {
		return nil, err
	}
	f, err := b.fs.OpenFile(p, flag, b.fileMode)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrContentNotFound
		}
		return nil, err
	}
	return f, nil
}

// Create allocates a new empty stream file.
func (b *Backend) Create(ctx context.Context) (storage.ContentID, error) {
	if b.closed.Load() {
		return "", storage.ErrBackendClosed
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	id := storage.ContentID(uuid.NewString())
	p, _ := b.path(id)
	f, err := b.fs.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_RDWR, b.fileMode)
	if err != nil {
		return "", fmt.Errorf("failed to create stream file: %w", err)
	}
	return id, f.Close()
}

// ReadAt reads from the stream file.
func (b *Backend) ReadAt(ctx context.Context, id storage.ContentID, p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, storage.ErrInvalidOffset
	}
	lock := b.stripe(id)
	lock.RLock()
	defer lock.RUnlock()

	f, err := b.open(id, os.O_RDONLY)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, err
	}
	size := info.Size()
	if off >= size {
		return 0, io.EOF
	}

	want := p
	if remaining := size - off; int64(len(want)) > remaining {
		want = want[:remaining]
	}
	n, err := f.ReadAt(want, off)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// WriteAt writes to the stream file.
func (b *Backend) WriteAt(ctx context.Context, id storage.ContentID, p []byte, off int64) (int, error) {
	if err := storage.CheckRange(off, len(p)); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	lock := b.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := b.open(id, os.O_RDWR)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n, err := f.WriteAt(p, off)
	if err != nil {
		return n, mapHostError(err)
	}
	return n, nil
}

// Truncate resizes the stream file.
func (b *Backend) Truncate(ctx context.Context, id storage.ContentID, size int64) error {
	if err := storage.CheckRange(size, 0); err != nil {
		return err
	}
	lock := b.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := b.open(id, os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()

	return mapHostError(f.Truncate(size))
}

// Size returns the stream file size.
func (b *Backend) Size(ctx context.Context, id storage.ContentID) (int64, error) {
	if b.closed.Load() {
		return 0, storage.ErrBackendClosed
	}
	p, err := b.path(id)
	if err != nil {
		return 0, err
	}
	info, err := b.fs.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, storage.ErrContentNotFound
		}
		return 0, err
	}
	return info.Size(), nil
}

// Clone duplicates the stream file, preferring a reflink.
func (b *Backend) Clone(ctx context.Context, id storage.ContentID) (storage.ContentID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	lock := b.stripe(id)
	lock.RLock()
	defer lock.RUnlock()

	src, err := b.open(id, os.O_RDONLY)
	if err != nil {
		return "", err
	}
	defer src.Close()

	newID := storage.ContentID(uuid.NewString())
	dstPath, _ := b.path(newID)
	dst, err := b.fs.OpenFile(dstPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, b.fileMode)
	if err != nil {
		return "", fmt.Errorf("failed to create clone file: %w", err)
	}

	if b.reflink {
		err := reflink(src, dst)
		if err == nil {
			b.reflinks.Add(1)
			return newID, dst.Close()
		}
		logger.Debug("Reflink unavailable, copying stream",
			logger.KeyContentID, string(id), logger.KeyError, err)
	}

	buf := bufpool.Get(bufpool.DefaultLargeSize)
	defer bufpool.Put(buf)
	if _, err := io.CopyBuffer(dst, src, buf); err != nil {
		_ = dst.Close()
		_ = b.fs.Remove(dstPath)
		return "", mapHostError(err)
	}
	b.copies.Add(1)
	return newID, dst.Close()
}

// Sync fsyncs the stream file.
func (b *Backend) Sync(ctx context.Context, id storage.ContentID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := b.open(id, os.O_RDWR)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// Delete removes the stream file.
func (b *Backend) Delete(ctx context.Context, id storage.ContentID) error {
	if b.closed.Load() {
		return storage.ErrBackendClosed
	}
	p, err := b.path(id)
	if err != nil {
		// Not a stream this backend could have created
		return nil
	}
	lock := b.stripe(id)
	lock.Lock()
	defer lock.Unlock()

	if err := b.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Stats walks the base directory.
func (b *Backend) Stats(ctx context.Context) (storage.Stats, error) {
	if b.closed.Load() {
		return storage.Stats{}, storage.ErrBackendClosed
	}
	infos, err := afero.ReadDir(b.fs, b.basePath)
	if err != nil {
		return storage.Stats{}, err
	}

	var stats storage.Stats
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if _, err := uuid.Parse(info.Name()); err != nil {
			continue
		}
		stats.Streams++
		stats.ResidentBytes += uint64(info.Size())
	}
	return stats, nil
}

// CloneCounts reports how many clones used a reflink vs a byte copy.
func (b *Backend) CloneCounts() (reflinks, copies uint64) {
	return b.reflinks.Load(), b.copies.Load()
}

// Close marks the backend closed. Stream files stay on disk.
func (b *Backend) Close() error {
	b.closed.Store(true)
	return nil
}

// mapHostError converts ENOSPC-class host errors to storage.ErrNoSpace.
func mapHostError(err error) error {
	if err == nil {
		return nil
	}
	if isNoSpace(err) {
		return fmt.Errorf("%w: %v", storage.ErrNoSpace, err)
	}
	return err
}

var _ storage.Backend = (*Backend)(nil)
