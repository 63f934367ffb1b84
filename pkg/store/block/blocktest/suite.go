// Package blocktest provides a conformance suite for block.Store
// implementations.
package blocktest

import (
	"context"
	"errors"
	"testing"

	"github.com/marmos91/agentfs/pkg/store/block"
)

// StoreFactory creates a fresh, empty store for one subtest.
type StoreFactory func(t *testing.T) block.Store

// RunConformanceSuite exercises the block.Store contract.
func RunConformanceSuite(t *testing.T, factory StoreFactory) {
	t.Run("PutAndGet", func(t *testing.T) { testPutAndGet(t, factory) })
	t.Run("GetNotFound", func(t *testing.T) { testGetNotFound(t, factory) })
	t.Run("PutReplaces", func(t *testing.T) { testPutReplaces(t, factory) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, factory) })
	t.Run("List", func(t *testing.T) { testList(t, factory) })
	t.Run("PutDoesNotAlias", func(t *testing.T) { testPutDoesNotAlias(t, factory) })
	t.Run("HealthCheck", func(t *testing.T) { testHealthCheck(t, factory) })
}

func testPutAndGet(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	s := factory(t)

	key := "streams/0b6a9f3e-7d2c-4a51-9d0e-2f1c7a8b9c0d"
	if err := s.Put(ctx, key, []byte("hello world")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "hello world" {
		t.Errorf("Get returned %q, want %q", got, "hello world")
	}
}

func testGetNotFound(t *testing.T, factory StoreFactory) {
	s := factory(t)

	_, err := s.Get(context.Background(), "streams/missing")
	if !errors.Is(err, block.ErrObjectNotFound) {
		t.Errorf("Get returned error %v, want %v", err, block.ErrObjectNotFound)
	}
}

func testPutReplaces(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	s := factory(t)

	if err := s.Put(ctx, "streams/a", []byte("first")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Put(ctx, "streams/a", []byte("second")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	got, err := s.Get(ctx, "streams/a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("Get returned %q, want %q", got, "second")
	}
}

func testDelete(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	s := factory(t)

	if err := s.Put(ctx, "streams/a", []byte("data")); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete(ctx, "streams/a"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := s.Get(ctx, "streams/a"); !errors.Is(err, block.ErrObjectNotFound) {
		t.Errorf("Get after Delete returned %v, want %v", err, block.ErrObjectNotFound)
	}

	// Deleting a missing object is not an error.
	if err := s.Delete(ctx, "streams/a"); err != nil {
		t.Errorf("Delete of missing object failed: %v", err)
	}
}

func testList(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	s := factory(t)

	for _, key := range []string{"streams/b", "streams/a", "other/c"} {
		if err := s.Put(ctx, key, []byte(key)); err != nil {
			t.Fatalf("Put %s failed: %v", key, err)
		}
	}

	keys, err := s.List(ctx, "streams/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "streams/a" || keys[1] != "streams/b" {
		t.Errorf("List returned %v, want [streams/a streams/b]", keys)
	}

	keys, err = s.List(ctx, "nothing/")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("List returned %v, want empty", keys)
	}
}

func testPutDoesNotAlias(t *testing.T, factory StoreFactory) {
	ctx := context.Background()
	s := factory(t)

	data := []byte("abc")
	if err := s.Put(ctx, "streams/a", data); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	data[0] = 'z'

	got, err := s.Get(ctx, "streams/a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("stored object changed with caller buffer: %q", got)
	}
}

func testHealthCheck(t *testing.T, factory StoreFactory) {
	s := factory(t)
	if err := s.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}
