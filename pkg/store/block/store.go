// Package block defines the object store the tiered backend spills cold
// streams to. Objects are immutable once written and addressed by a
// slash-separated key.
package block

import (
	"context"
	"errors"
)

// Common errors returned by Store implementations.
var (
	// ErrObjectNotFound is returned when a requested object doesn't exist.
	ErrObjectNotFound = errors.New("object not found")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// Store is a flat key/object store.
//
// Key format used by the tiered backend: "{prefix}/{contentID}"
type Store interface {
	// Put writes (or replaces) an object.
	Put(ctx context.Context, key string, data []byte) error

	// Get reads a whole object. Returns ErrObjectNotFound if it doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes an object. Returns nil if it doesn't exist.
	Delete(ctx context.Context, key string) error

	// List returns all keys with the given prefix in lexical order.
	List(ctx context.Context, prefix string) ([]string, error)

	// HealthCheck verifies the store is accessible and operational.
	HealthCheck(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
