package tiered

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/storage"
	"github.com/marmos91/agentfs/pkg/storage/storagetest"
	blockmemory "github.com/marmos91/agentfs/pkg/store/block/memory"
)

func newBackend(t *testing.T, hot uint64, codec Codec) (*Backend, *blockmemory.Store) {
	t.Helper()
	store := blockmemory.New()
	b, err := New(Config{HotSize: hot, Codec: codec, Store: store})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b, store
}

func TestConformance(t *testing.T) {
	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		t.Run(codec.String(), func(t *testing.T) {
			storagetest.RunConformanceSuite(t, func(t *testing.T) storage.Backend {
				b, _ := newBackend(t, 0, codec)
				return b
			})
		})
	}
}

// A 1-byte budget forces every stream out of memory after each call.
func TestConformance_AlwaysSpilling(t *testing.T) {
	storagetest.RunConformanceSuite(t, func(t *testing.T) storage.Backend {
		b, _ := newBackend(t, 1, CodecZstd)
		return b
	})
}

func TestSpillAndLoad(t *testing.T) {
	ctx := context.Background()
	b, store := newBackend(t, 1000, CodecZstd)

	cold, err := b.Create(ctx)
	require.NoError(t, err)
	coldData := bytes.Repeat([]byte("agentfs "), 100) // 800 bytes, compressible
	_, err = b.WriteAt(ctx, cold, coldData, 0)
	require.NoError(t, err)

	hot, err := b.Create(ctx)
	require.NoError(t, err)
	_, err = b.WriteAt(ctx, hot, bytes.Repeat([]byte{1}, 600), 0)
	require.NoError(t, err)

	// cold was least recently used and got spilled.
	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(600), stats.ResidentBytes)
	assert.Equal(t, uint64(800), stats.SpilledBytes)
	assert.Equal(t, uint64(2), stats.Streams)
	assert.Equal(t, 1, store.ObjectCount())
	assert.Less(t, store.TotalSize(), int64(800), "spilled frame should be compressed")

	size, err := b.Size(ctx, cold)
	require.NoError(t, err)
	assert.Equal(t, int64(800), size)

	// Reading cold loads it back and pushes hot out.
	buf := make([]byte, 800)
	n, err := b.ReadAt(ctx, cold, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 800, n)
	assert.Equal(t, coldData, buf)

	stats, err = b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(800), stats.ResidentBytes)
	assert.Equal(t, uint64(600), stats.SpilledBytes)

	spills, loads := b.TierCounts()
	assert.Equal(t, uint64(2), spills)
	assert.Equal(t, uint64(1), loads)
}

func TestDeleteSpilledStream(t *testing.T) {
	ctx := context.Background()
	b, store := newBackend(t, 1, CodecNone)

	id, err := b.Create(ctx)
	require.NoError(t, err)
	_, err = b.WriteAt(ctx, id, []byte("hello"), 0)
	require.NoError(t, err)
	require.Equal(t, 1, store.ObjectCount())

	require.NoError(t, b.Delete(ctx, id))
	assert.Equal(t, 0, store.ObjectCount())

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.SpilledBytes)
	assert.Zero(t, stats.ResidentBytes)
	assert.Zero(t, stats.Streams)

	_, err = b.ReadAt(ctx, id, make([]byte, 1), 0)
	assert.ErrorIs(t, err, storage.ErrContentNotFound)
}

func TestCorruptSpillIsReported(t *testing.T) {
	ctx := context.Background()
	b, store := newBackend(t, 1, CodecNone)

	id, err := b.Create(ctx)
	require.NoError(t, err)
	_, err = b.WriteAt(ctx, id, []byte("payload"), 0)
	require.NoError(t, err)

	key := b.objectKey(id)
	frame, err := store.Get(ctx, key)
	require.NoError(t, err)
	frame[len(frame)-1] ^= 0xff
	require.NoError(t, store.Put(ctx, key, frame))

	_, err = b.ReadAt(ctx, id, make([]byte, 7), 0)
	assert.ErrorIs(t, err, ErrCorruptFrame)
}

func TestReadPastEndOfSpilledStream(t *testing.T) {
	ctx := context.Background()
	b, _ := newBackend(t, 1, CodecLZ4)

	id, err := b.Create(ctx)
	require.NoError(t, err)
	_, err = b.WriteAt(ctx, id, []byte("abc"), 0)
	require.NoError(t, err)

	buf := make([]byte, 10)
	n, err := b.ReadAt(ctx, id, buf, 1)
	assert.Equal(t, 2, n)
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, []byte("bc"), buf[:n])
}

func TestNew_RequiresStore(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	for _, name := range []string{"none", "lz4", "zstd"} {
		c, err := ParseCodec(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.String())
	}
	c, err := ParseCodec("")
	require.NoError(t, err)
	assert.Equal(t, CodecNone, c)

	_, err = ParseCodec("brotli")
	assert.Error(t, err)
}

func TestFrame(t *testing.T) {
	text := bytes.Repeat([]byte("the quick brown fox "), 50)
	random := make([]byte, 64)
	for i := range random {
		random[i] = byte(i*131 + 7)
	}

	for _, codec := range []Codec{CodecNone, CodecLZ4, CodecZstd} {
		for name, data := range map[string][]byte{"text": text, "short": random, "empty": {}} {
			t.Run(codec.String()+"/"+name, func(t *testing.T) {
				frame, err := encodeFrame(codec, data)
				require.NoError(t, err)

				got, err := decodeFrame(frame)
				require.NoError(t, err)
				assert.Equal(t, len(data), len(got))
				assert.True(t, bytes.Equal(data, got))
			})
		}
	}

	t.Run("IncompressibleFallsBackToRaw", func(t *testing.T) {
		frame, err := encodeFrame(CodecZstd, random[:8])
		require.NoError(t, err)
		assert.Equal(t, byte(CodecNone), frame[4])
	})

	t.Run("RejectsBadMagic", func(t *testing.T) {
		_, err := decodeFrame([]byte("nope"))
		assert.ErrorIs(t, err, ErrCorruptFrame)
	})
}
