package storagetest

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/marmos91/agentfs/pkg/storage"
)

func runTruncateTests(t *testing.T, factory BackendFactory) {
	t.Run("GrowZeroFills", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("0123456789"))

		if err := b.Truncate(t.Context(), id, 20); err != nil {
			t.Fatalf("Truncate() failed: %v", err)
		}
		want := append([]byte("0123456789"), make([]byte, 10)...)
		assertContent(t, b, id, want)
	})

	t.Run("Shrink", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("0123456789"))

		if err := b.Truncate(t.Context(), id, 4); err != nil {
			t.Fatalf("Truncate() failed: %v", err)
		}
		assertContent(t, b, id, []byte("0123"))
	})

	t.Run("ShrinkThenGrowDoesNotResurrect", func(t *testing.T) {
		b := factory(t)
		data := bytes.Repeat([]byte("x"), 200*1024)
		id := createStream(t, b, data)

		if err := b.Truncate(t.Context(), id, 10); err != nil {
			t.Fatalf("Truncate() shrink failed: %v", err)
		}
		if err := b.Truncate(t.Context(), id, 200*1024); err != nil {
			t.Fatalf("Truncate() grow failed: %v", err)
		}

		want := append(bytes.Repeat([]byte("x"), 10), make([]byte, 200*1024-10)...)
		assertContent(t, b, id, want)
	})

	t.Run("TruncateToZero", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("data"))

		if err := b.Truncate(t.Context(), id, 0); err != nil {
			t.Fatalf("Truncate() failed: %v", err)
		}
		size, err := b.Size(t.Context(), id)
		if err != nil {
			t.Fatalf("Size() failed: %v", err)
		}
		if size != 0 {
			t.Fatalf("Size() = %d, want 0", size)
		}
	})

	t.Run("NegativeSize", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, nil)

		if err := b.Truncate(t.Context(), id, -1); err == nil {
			t.Fatal("Truncate() with negative size should fail")
		}
	})

	t.Run("GrowPastMaxStreamSize", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("ab"))

		for _, size := range []int64{math.MaxInt64, 1 << 62, storage.MaxStreamSize + 1} {
			if err := b.Truncate(t.Context(), id, size); !errors.Is(err, storage.ErrNoSpace) {
				t.Fatalf("Truncate(%d) err = %v, want ErrNoSpace", size, err)
			}
		}
		assertContent(t, b, id, []byte("ab"))
	})
}
