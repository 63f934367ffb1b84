package storagetest

import (
	"errors"
	"testing"

	"github.com/marmos91/agentfs/pkg/storage"
)

func runLifecycleTests(t *testing.T, factory BackendFactory) {
	t.Run("DeleteRemovesStream", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("bye"))

		if err := b.Delete(t.Context(), id); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		if _, err := b.Size(t.Context(), id); !errors.Is(err, storage.ErrContentNotFound) {
			t.Fatalf("Size() after delete err = %v, want ErrContentNotFound", err)
		}
	})

	t.Run("DeleteUnknownIsNoop", func(t *testing.T) {
		b := factory(t)

		if err := b.Delete(t.Context(), storage.ContentID("never-created")); err != nil {
			t.Fatalf("Delete() unknown id failed: %v", err)
		}
	})

	t.Run("SyncKnownStream", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("durable"))

		if err := b.Sync(t.Context(), id); err != nil {
			t.Fatalf("Sync() failed: %v", err)
		}
	})

	t.Run("StatsCountStreamsAndBytes", func(t *testing.T) {
		b := factory(t)
		createStream(t, b, make([]byte, 1000))
		id := createStream(t, b, make([]byte, 500))

		stats, err := b.Stats(t.Context())
		if err != nil {
			t.Fatalf("Stats() failed: %v", err)
		}
		if stats.Streams != 2 {
			t.Fatalf("Stats().Streams = %d, want 2", stats.Streams)
		}
		if got := stats.ResidentBytes + stats.SpilledBytes; got < 1500 {
			t.Fatalf("Stats() bytes = %d, want >= 1500", got)
		}

		if err := b.Delete(t.Context(), id); err != nil {
			t.Fatalf("Delete() failed: %v", err)
		}
		stats, err = b.Stats(t.Context())
		if err != nil {
			t.Fatalf("Stats() failed: %v", err)
		}
		if stats.Streams != 1 {
			t.Fatalf("Stats().Streams after delete = %d, want 1", stats.Streams)
		}
	})

	t.Run("ClosedBackendRejectsCalls", func(t *testing.T) {
		b := factory(t)
		if err := b.Close(); err != nil {
			t.Fatalf("Close() failed: %v", err)
		}

		if _, err := b.Create(t.Context()); !errors.Is(err, storage.ErrBackendClosed) {
			t.Fatalf("Create() after close err = %v, want ErrBackendClosed", err)
		}
	})
}
