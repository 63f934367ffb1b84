// Package storagetest provides a conformance suite every storage.Backend
// implementation runs from its own tests.
package storagetest

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/marmos91/agentfs/pkg/storage"
)

// BackendFactory creates a fresh Backend for each test. The factory receives
// *testing.T so it can use t.TempDir() and t.Cleanup() for teardown.
type BackendFactory func(t *testing.T) storage.Backend

// RunConformanceSuite runs the full conformance suite against the provided
// backend factory. Each test gets a fresh backend.
//
// The suite covers four categories:
//   - IO: create, read, write, sparse writes, EOF handling
//   - Truncate: growth zero-fill, shrink, size reporting
//   - Clone: independence of source and clone
//   - Lifecycle: delete, sync, stats, close
func RunConformanceSuite(t *testing.T, factory BackendFactory) {
	t.Helper()

	t.Run("IO", func(t *testing.T) {
		runIOTests(t, factory)
	})

	t.Run("Truncate", func(t *testing.T) {
		runTruncateTests(t, factory)
	})

	t.Run("Clone", func(t *testing.T) {
		runCloneTests(t, factory)
	})

	t.Run("Lifecycle", func(t *testing.T) {
		runLifecycleTests(t, factory)
	})
}

// createStream creates a stream and writes data at offset 0.
func createStream(t *testing.T, b storage.Backend, data []byte) storage.ContentID {
	t.Helper()

	ctx := t.Context()
	id, err := b.Create(ctx)
	if err != nil {
		t.Fatalf("Create() failed: %v", err)
	}
	if len(data) > 0 {
		n, err := b.WriteAt(ctx, id, data, 0)
		if err != nil {
			t.Fatalf("WriteAt() failed: %v", err)
		}
		if n != len(data) {
			t.Fatalf("WriteAt() wrote %d bytes, want %d", n, len(data))
		}
	}
	return id
}

// readAll reads the whole stream.
func readAll(t *testing.T, b storage.Backend, id storage.ContentID) []byte {
	t.Helper()

	ctx := t.Context()
	size, err := b.Size(ctx, id)
	if err != nil {
		t.Fatalf("Size() failed: %v", err)
	}
	buf := make([]byte, size)
	n, err := b.ReadAt(ctx, id, buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("ReadAt() failed: %v", err)
	}
	return buf[:n]
}

func assertContent(t *testing.T, b storage.Backend, id storage.ContentID, want []byte) {
	t.Helper()

	got := readAll(t, b, id)
	if !bytes.Equal(got, want) {
		t.Fatalf("content mismatch: got %q, want %q", truncateForLog(got), truncateForLog(want))
	}
}

func truncateForLog(b []byte) []byte {
	if len(b) > 64 {
		return b[:64]
	}
	return b
}
