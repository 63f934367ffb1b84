package vfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/agentfs/pkg/identity"
	"github.com/marmos91/agentfs/pkg/storage/memory"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
)

const (
	rootPID  uint32 = 1
	alicePID uint32 = 100
	bobPID   uint32 = 200

	aliceUID uint32 = 1000
	bobUID   uint32 = 2000
	sharedGID uint32 = 3000
)

type testEnv struct {
	core    *Core
	backend *memory.Backend
	ctx     context.Context
}

func newTestEnv(t *testing.T, mods ...func(*Options)) *testEnv {
	t.Helper()
	backend := memory.New(memory.Config{})
	opts := Options{
		Backend:               backend,
		TrackEvents:           true,
		RootBypassPermissions: true,
		DefaultCredentials:    identity.New(65534, 65534, nil),
		Root:                  RootOwner{Mode: 0o777},
	}
	for _, mod := range mods {
		mod(&opts)
	}
	c, err := New(opts)
	require.NoError(t, err)

	ctx := context.Background()
	t.Cleanup(func() { _ = c.Shutdown(ctx) })

	require.NoError(t, c.RegisterProcessWithGroups(ctx, rootPID, 0, 0, nil))
	require.NoError(t, c.RegisterProcessWithGroups(ctx, alicePID, aliceUID, aliceUID, []uint32{sharedGID}))
	require.NoError(t, c.RegisterProcessWithGroups(ctx, bobPID, bobUID, bobUID, nil))
	return &testEnv{core: c, backend: backend, ctx: ctx}
}

func (e *testEnv) writeFile(t *testing.T, pid uint32, path, data string) {
	t.Helper()
	h, err := e.core.Open(e.ctx, pid, path, OpenOptions{Write: true, Create: true, Truncate: true, Mode: 0o644})
	require.NoError(t, err)
	n, err := e.core.Write(e.ctx, pid, h, 0, []byte(data))
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, e.core.Close(e.ctx, pid, h))
}

func (e *testEnv) readFile(t *testing.T, pid uint32, path string) string {
	t.Helper()
	attr, err := e.core.Stat(e.ctx, pid, path)
	require.NoError(t, err)
	h, err := e.core.Open(e.ctx, pid, path, OpenOptions{Read: true})
	require.NoError(t, err)
	defer func() { require.NoError(t, e.core.Close(e.ctx, pid, h)) }()
	data, err := e.core.Read(e.ctx, pid, h, 0, int(attr.Size)+16)
	require.NoError(t, err)
	return string(data)
}

func (e *testEnv) streams(t *testing.T) uint64 {
	t.Helper()
	stats, err := e.backend.Stats(e.ctx)
	require.NoError(t, err)
	return stats.Streams
}

func requireCode(t *testing.T, err error, code fserrors.ErrorCode) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, code.String(), fserrors.CodeOf(err).String(), "error: %v", err)
}

func TestNew(t *testing.T) {
	t.Run("RequiresBackend", func(t *testing.T) {
		_, err := New(Options{})
		require.Error(t, err)
	})

	t.Run("CreatesRootBranch", func(t *testing.T) {
		e := newTestEnv(t)
		branches := e.core.BranchList(e.ctx)
		require.Len(t, branches, 1)
		assert.Equal(t, RootBranchName, branches[0].Name)
		assert.Equal(t, e.core.RootBranch(), branches[0].ID)
		assert.Empty(t, branches[0].Base)

		attr, err := e.core.Stat(e.ctx, alicePID, "/")
		require.NoError(t, err)
		assert.Equal(t, graph.KindDirectory, attr.Kind)
		assert.Equal(t, uint32(0o777), attr.Mode)
		assert.Equal(t, graph.RootID, attr.ID)
	})

	t.Run("DefaultRootMode", func(t *testing.T) {
		e := newTestEnv(t, func(o *Options) { o.Root = RootOwner{} })
		attr, err := e.core.Stat(e.ctx, rootPID, "/")
		require.NoError(t, err)
		assert.Equal(t, uint32(0o755), attr.Mode)
	})
}

func TestDefaultCredentialsForUnknownProcess(t *testing.T) {
	e := newTestEnv(t)
	const stranger uint32 = 999

	e.writeFile(t, stranger, "/stranger.txt", "hi")
	attr, err := e.core.Stat(e.ctx, stranger, "/stranger.txt")
	require.NoError(t, err)
	assert.Equal(t, uint32(65534), attr.UID)
	assert.Equal(t, uint32(65534), attr.GID)
	assert.Equal(t, e.core.RootBranch(), e.core.ResolveView(stranger))
}

func TestCaseInsensitivePreserving(t *testing.T) {
	e := newTestEnv(t, func(o *Options) { o.CaseSensitivity = graph.CaseInsensitivePreserving })

	e.writeFile(t, alicePID, "/Readme.md", "hello")
	assert.Equal(t, "hello", e.readFile(t, alicePID, "/README.MD"))

	entries, err := e.core.Readdir(e.ctx, alicePID, "/")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "Readme.md", entries[2].Name)

	_, err = e.core.Open(e.ctx, alicePID, "/readme.MD", OpenOptions{Write: true, Create: true, Exclusive: true})
	requireCode(t, err, fserrors.ErrAlreadyExists)
}

func TestStatfs(t *testing.T) {
	e := newTestEnv(t)
	e.writeFile(t, alicePID, "/a", "abcd")

	snap, err := e.core.SnapshotCreate(e.ctx, e.core.RootBranch(), "s")
	require.NoError(t, err)
	_, err = e.core.BranchCreate(e.ctx, snap, "b")
	require.NoError(t, err)
	h, err := e.core.Open(e.ctx, alicePID, "/a", OpenOptions{Read: true})
	require.NoError(t, err)

	stats, err := e.core.Statfs(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Branches)
	assert.Equal(t, 1, stats.Snapshots)
	assert.Equal(t, 1, stats.OpenHandles)
	assert.Equal(t, uint64(1), stats.Streams)
	assert.Equal(t, uint64(4), stats.ResidentBytes)
	assert.Equal(t, uint64(0), stats.SpilledBytes)
	assert.Equal(t, uint32(255), stats.NameMax)

	require.NoError(t, e.core.Close(e.ctx, alicePID, h))
	stats, err = e.core.Statfs(e.ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.OpenHandles)
}

func TestCacheTTLPassThrough(t *testing.T) {
	ttl := CacheTTL{Attr: 1, Entry: 2, Negative: 3}
	e := newTestEnv(t, func(o *Options) { o.CacheTTL = ttl })
	assert.Equal(t, ttl, e.core.CacheTTL())
}

func TestShutdownIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, e.core.Shutdown(e.ctx))
	require.NoError(t, e.core.Shutdown(e.ctx))
}
