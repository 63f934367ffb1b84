package hostfs

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/storage"
	"github.com/marmos91/agentfs/pkg/storage/storagetest"
)

func TestConformance_MemMapFs(t *testing.T) {
	storagetest.RunConformanceSuite(t, func(t *testing.T) storage.Backend {
		b, err := New(Config{BasePath: "/streams", Fs: afero.NewMemMapFs()})
		require.NoError(t, err)
		return b
	})
}

func TestConformance_OsFs(t *testing.T) {
	storagetest.RunConformanceSuite(t, func(t *testing.T) storage.Backend {
		b, err := New(Config{BasePath: t.TempDir(), Reflink: true})
		require.NoError(t, err)
		t.Cleanup(func() { _ = b.Close() })
		return b
	})
}

func TestClone_FallsBackToCopy(t *testing.T) {
	b, err := New(Config{BasePath: "/streams", Fs: afero.NewMemMapFs(), Reflink: true})
	require.NoError(t, err)
	ctx := t.Context()

	id, err := b.Create(ctx)
	require.NoError(t, err)
	_, err = b.WriteAt(ctx, id, []byte("payload"), 0)
	require.NoError(t, err)

	_, err = b.Clone(ctx, id)
	require.NoError(t, err)

	reflinks, copies := b.CloneCounts()
	assert.Equal(t, uint64(0), reflinks, "in-memory files can't reflink")
	assert.Equal(t, uint64(1), copies)
}

func TestPath_RejectsNonUUID(t *testing.T) {
	b, err := New(Config{BasePath: "/streams", Fs: afero.NewMemMapFs()})
	require.NoError(t, err)

	_, err = b.Size(t.Context(), storage.ContentID("../../etc/passwd"))
	assert.ErrorIs(t, err, storage.ErrContentNotFound)
}

func TestNew_RequiresBasePath(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
