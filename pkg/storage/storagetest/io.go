package storagetest

import (
	"bytes"
	"errors"
	"io"
	"math"
	"sync"
	"testing"

	"github.com/marmos91/agentfs/pkg/storage"
)

func runIOTests(t *testing.T, factory BackendFactory) {
	t.Run("EmptyStream", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, nil)

		size, err := b.Size(t.Context(), id)
		if err != nil {
			t.Fatalf("Size() failed: %v", err)
		}
		if size != 0 {
			t.Fatalf("Size() = %d, want 0", size)
		}

		buf := make([]byte, 8)
		n, err := b.ReadAt(t.Context(), id, buf, 0)
		if n != 0 || !errors.Is(err, io.EOF) {
			t.Fatalf("ReadAt() on empty stream = (%d, %v), want (0, EOF)", n, err)
		}
	})

	t.Run("WriteThenRead", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("hello world"))
		assertContent(t, b, id, []byte("hello world"))
	})

	t.Run("OverwriteMiddle", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("hello world"))

		if _, err := b.WriteAt(t.Context(), id, []byte("WORLD"), 6); err != nil {
			t.Fatalf("WriteAt() failed: %v", err)
		}
		assertContent(t, b, id, []byte("hello WORLD"))
	})

	t.Run("SparseWriteZeroFills", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("ab"))

		if _, err := b.WriteAt(t.Context(), id, []byte("cd"), 6); err != nil {
			t.Fatalf("WriteAt() failed: %v", err)
		}
		assertContent(t, b, id, []byte("ab\x00\x00\x00\x00cd"))
	})

	t.Run("ShortReadAtEOF", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("0123456789"))

		buf := make([]byte, 8)
		n, err := b.ReadAt(t.Context(), id, buf, 6)
		if n != 4 {
			t.Fatalf("ReadAt() n = %d, want 4", n)
		}
		if !errors.Is(err, io.EOF) {
			t.Fatalf("ReadAt() err = %v, want io.EOF", err)
		}
		if !bytes.Equal(buf[:n], []byte("6789")) {
			t.Fatalf("ReadAt() = %q, want %q", buf[:n], "6789")
		}

		n, err = b.ReadAt(t.Context(), id, buf, 100)
		if n != 0 || !errors.Is(err, io.EOF) {
			t.Fatalf("ReadAt() past end = (%d, %v), want (0, EOF)", n, err)
		}
	})

	t.Run("LargeWriteSpanningChunks", func(t *testing.T) {
		b := factory(t)
		data := make([]byte, 300*1024+17)
		for i := range data {
			data[i] = byte(i % 251)
		}
		id := createStream(t, b, data)
		assertContent(t, b, id, data)

		// Unaligned read across chunk boundaries
		buf := make([]byte, 70000)
		n, err := b.ReadAt(t.Context(), id, buf, 65000)
		if err != nil {
			t.Fatalf("ReadAt() failed: %v", err)
		}
		if !bytes.Equal(buf[:n], data[65000:65000+70000]) {
			t.Fatal("unaligned read returned wrong bytes")
		}
	})

	t.Run("UnknownStream", func(t *testing.T) {
		b := factory(t)

		_, err := b.ReadAt(t.Context(), storage.ContentID("does-not-exist"), make([]byte, 1), 0)
		if !errors.Is(err, storage.ErrContentNotFound) {
			t.Fatalf("ReadAt() unknown id err = %v, want ErrContentNotFound", err)
		}
		_, err = b.Size(t.Context(), storage.ContentID("does-not-exist"))
		if !errors.Is(err, storage.ErrContentNotFound) {
			t.Fatalf("Size() unknown id err = %v, want ErrContentNotFound", err)
		}
	})

	t.Run("NegativeOffset", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, nil)

		if _, err := b.WriteAt(t.Context(), id, []byte("x"), -1); err == nil {
			t.Fatal("WriteAt() with negative offset should fail")
		}
	})

	t.Run("WritePastMaxStreamSize", func(t *testing.T) {
		b := factory(t)
		id := createStream(t, b, []byte("ab"))

		for _, off := range []int64{math.MaxInt64 - 1, storage.MaxStreamSize - 1, 1 << 62} {
			if _, err := b.WriteAt(t.Context(), id, []byte("abcd"), off); !errors.Is(err, storage.ErrNoSpace) {
				t.Fatalf("WriteAt() at %d err = %v, want ErrNoSpace", off, err)
			}
		}
		assertContent(t, b, id, []byte("ab"))
	})

	t.Run("ConcurrentWritesToDistinctStreams", func(t *testing.T) {
		b := factory(t)

		const workers = 8
		ids := make([]storage.ContentID, workers)
		for i := range ids {
			ids[i] = createStream(t, b, nil)
		}

		var wg sync.WaitGroup
		for i := range workers {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				payload := bytes.Repeat([]byte{byte('a' + i)}, 4096)
				for off := int64(0); off < 4*4096; off += 4096 {
					if _, err := b.WriteAt(t.Context(), ids[i], payload, off); err != nil {
						t.Errorf("WriteAt() failed: %v", err)
						return
					}
				}
			}(i)
		}
		wg.Wait()

		for i, id := range ids {
			assertContent(t, b, id, bytes.Repeat([]byte{byte('a' + i)}, 4*4096))
		}
	})
}
