// Package fs provides a filesystem-backed block store.
package fs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/marmos91/agentfs/pkg/store/block"
)

// Config holds configuration for the filesystem block store.
type Config struct {
	// BasePath is the root directory. Keys are stored as paths relative to it.
	BasePath string

	// DirMode is the permission mode for created directories.
	// Default: 0755
	DirMode os.FileMode

	// FileMode is the permission mode for created files.
	// Default: 0644
	FileMode os.FileMode

	// Fs is the filesystem to use. Default: the host filesystem.
	Fs afero.Fs
}

// Store keeps one file per object under BasePath.
type Store struct {
	mu       sync.RWMutex
	fs       afero.Fs
	basePath string
	dirMode  os.FileMode
	fileMode os.FileMode
	closed   bool
}

// New creates the base directory if needed and returns the store.
func New(cfg Config) (*Store, error) {
	if cfg.BasePath == "" {
		return nil, errors.New("base path is required")
	}
	if cfg.DirMode == 0 {
		cfg.DirMode = 0755
	}
	if cfg.FileMode == 0 {
		cfg.FileMode = 0644
	}
	if cfg.Fs == nil {
		cfg.Fs = afero.NewOsFs()
	}

	if err := cfg.Fs.MkdirAll(cfg.BasePath, cfg.DirMode); err != nil {
		return nil, fmt.Errorf("failed to create block directory: %w", err)
	}
	info, err := cfg.Fs.Stat(cfg.BasePath)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("base path is not a directory")
	}

	return &Store{
		fs:       cfg.Fs,
		basePath: filepath.Clean(cfg.BasePath),
		dirMode:  cfg.DirMode,
		fileMode: cfg.FileMode,
	}, nil
}

// objectPath maps a key to a file path, refusing keys that would escape
// the base directory.
func (s *Store) objectPath(key string) (string, error) {
	clean := path.Clean("/" + key)
	if clean == "/" || strings.HasSuffix(key, "/") {
		return "", fmt.Errorf("invalid block key %q", key)
	}
	return filepath.Join(s.basePath, filepath.FromSlash(clean[1:])), nil
}

// Put writes to a temporary file and renames it into place.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}
	p, err := s.objectPath(key)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(filepath.Dir(p), s.dirMode); err != nil {
		return err
	}
	tmp := p + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, s.fileMode); err != nil {
		return err
	}
	if err := s.fs.Rename(tmp, p); err != nil {
		_ = s.fs.Remove(tmp)
		return err
	}
	return nil
}

// Get reads a whole object.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, block.ErrStoreClosed
	}
	p, err := s.objectPath(key)
	if err != nil {
		return nil, err
	}

	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, block.ErrObjectNotFound
		}
		return nil, err
	}
	return data, nil
}

// Delete removes an object and prunes empty parent directories.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}
	p, err := s.objectPath(key)
	if err != nil {
		return err
	}

	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.cleanEmptyDirs(filepath.Dir(p))
	return nil
}

// cleanEmptyDirs removes empty directories up to the base path.
func (s *Store) cleanEmptyDirs(dir string) {
	for dir != s.basePath && strings.HasPrefix(dir, s.basePath) {
		entries, err := afero.ReadDir(s.fs, dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := s.fs.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

// List walks the base directory and returns matching keys.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, block.ErrStoreClosed
	}

	var keys []string
	err := afero.Walk(s.fs, s.basePath, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || strings.HasSuffix(p, ".tmp") {
			return nil
		}
		rel, err := filepath.Rel(s.basePath, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	slices.Sort(keys)
	return keys, nil
}

// HealthCheck verifies the base path is still accessible.
func (s *Store) HealthCheck(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return block.ErrStoreClosed
	}
	_, err := s.fs.Stat(s.basePath)
	return err
}

// Close marks the store as closed. Files are left in place.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

var _ block.Store = (*Store)(nil)
