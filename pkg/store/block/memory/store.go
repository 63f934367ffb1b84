// Package memory provides an in-memory block store, used as the spill
// target in tests and for ephemeral tiered backends.
package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/marmos91/agentfs/pkg/store/block"
)

// Store is an in-memory implementation of block.Store.
type Store struct {
	mu      sync.RWMutex
	objects map[string][]byte
	closed  bool
}

// New creates a new in-memory block store.
func New() *Store {
	return &Store{
		objects: make(map[string][]byte),
	}
}

// Put stores a private copy of data.
func (s *Store) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}
	s.objects[key] = slices.Clone(data)
	return nil
}

// Get returns a copy of the object.
func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, block.ErrStoreClosed
	}
	data, ok := s.objects[key]
	if !ok {
		return nil, block.ErrObjectNotFound
	}
	return slices.Clone(data), nil
}

// Delete removes an object.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return block.ErrStoreClosed
	}
	delete(s.objects, key)
	return nil
}

// List returns keys with the given prefix, sorted.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return nil, block.ErrStoreClosed
	}

	var keys []string
	for key := range s.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

// HealthCheck reports whether the store is open.
func (s *Store) HealthCheck(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return block.ErrStoreClosed
	}
	return nil
}

// Close drops all objects.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.objects = nil
	return nil
}

// ObjectCount returns the number of stored objects.
func (s *Store) ObjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}

// TotalSize returns the total stored bytes.
func (s *Store) TotalSize() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, data := range s.objects {
		total += int64(len(data))
	}
	return total
}

var _ block.Store = (*Store)(nil)
