package vfs

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

// TestAgentWorkflow walks two agents through diverging branches of the same
// empty workspace.
func TestAgentWorkflow(t *testing.T) {
	e := newTestEnv(t)
	const (
		agent1 uint32 = 1001
		agent2 uint32 = 1002
		uid100 uint32 = 1100
		uid200 uint32 = 1200
		uid300 uint32 = 1300
	)

	s0, err := e.core.SnapshotCreate(e.ctx, e.core.RootBranch(), "S0")
	require.NoError(t, err)
	b1, err := e.core.BranchCreate(e.ctx, s0, "B1")
	require.NoError(t, err)
	b2, err := e.core.BranchCreate(e.ctx, s0, "B2")
	require.NoError(t, err)

	for pid, br := range map[uint32]BranchID{agent1: b1, agent2: b2} {
		require.NoError(t, e.core.RegisterProcessWithGroups(e.ctx, pid, aliceUID, aliceUID, nil))
		require.NoError(t, e.core.BranchBind(e.ctx, pid, br))
	}

	t.Run("WritesStayOnTheirBranch", func(t *testing.T) {
		e.writeFile(t, agent1, "/f.txt", "hello")

		_, err := e.core.Open(e.ctx, agent2, "/f.txt", OpenOptions{Read: true})
		requireCode(t, err, fserrors.ErrNotFound)
		assert.Equal(t, "hello", e.readFile(t, agent1, "/f.txt"))
	})

	t.Run("MkdirTwice", func(t *testing.T) {
		require.NoError(t, e.core.Mkdir(e.ctx, agent1, "/d", 0o777))
		requireCode(t, e.core.Mkdir(e.ctx, agent1, "/d", 0o755), fserrors.ErrAlreadyExists)
	})

	t.Run("StickyDirectory", func(t *testing.T) {
		for pid, uid := range map[uint32]uint32{uid100: 100, uid200: 200, uid300: 300} {
			require.NoError(t, e.core.RegisterProcessWithGroups(e.ctx, pid, uid, uid, nil))
			require.NoError(t, e.core.BranchBind(e.ctx, pid, b1))
		}
		require.NoError(t, e.core.Mkdir(e.ctx, uid100, "/d/sticky", 0o1777))
		e.writeFile(t, uid300, "/d/sticky/other-users-file", "mine")

		err := e.core.Unlink(e.ctx, uid200, "/d/sticky/other-users-file")
		requireCode(t, err, fserrors.ErrOperationNotPermitted)
		require.NoError(t, e.core.Unlink(e.ctx, uid300, "/d/sticky/other-users-file"))
	})

	t.Run("TruncateGrowZeroFills", func(t *testing.T) {
		h, err := e.core.Open(e.ctx, agent1, "/f.txt", OpenOptions{Read: true, Write: true, Truncate: true})
		require.NoError(t, err)
		defer func() { require.NoError(t, e.core.Close(e.ctx, agent1, h)) }()

		_, err = e.core.Write(e.ctx, agent1, h, 0, []byte("0123456789"))
		require.NoError(t, err)
		require.NoError(t, e.core.Ftruncate(e.ctx, agent1, h, 20))

		data, err := e.core.Read(e.ctx, agent1, h, 10, 10)
		require.NoError(t, err)
		assert.Equal(t, make([]byte, 10), data)
	})

	t.Run("ChownUnchangedSentinel", func(t *testing.T) {
		before, err := e.core.Stat(e.ctx, agent1, "/f.txt")
		require.NoError(t, err)
		for _, pid := range []uint32{agent1, uid200, rootPID} {
			require.NoError(t, e.core.BranchBind(e.ctx, pid, b1))
			require.NoError(t, e.core.SetOwner(e.ctx, pid, "/f.txt", -1, -1))
		}
		after, err := e.core.Stat(e.ctx, agent1, "/f.txt")
		require.NoError(t, err)
		assert.Equal(t, before.UID, after.UID)
		assert.Equal(t, before.GID, after.GID)
		assert.Equal(t, before.Ctime, after.Ctime)
	})

	t.Run("ConcurrentRename", func(t *testing.T) {
		e.writeFile(t, agent1, "/a", "payload")

		var missing atomic.Int64
		stop := make(chan struct{})
		var readers sync.WaitGroup
		for range 4 {
			readers.Add(1)
			go func() {
				defer readers.Done()
				for {
					select {
					case <-stop:
						return
					default:
					}
					// Resolve both names against one tip via a directory
					// listing; individual Stats could straddle a rename.
					entries, err := e.core.Readdir(e.ctx, agent1, "/")
					if err != nil {
						t.Error(err)
						return
					}
					found := false
					for _, ent := range entries {
						if ent.Name == "a" || ent.Name == "b" {
							found = true
						}
					}
					if !found {
						missing.Add(1)
					}
				}
			}()
		}

		for i := range 100 {
			from, to := "/a", "/b"
			if i%2 == 1 {
				from, to = to, from
			}
			require.NoError(t, e.core.Rename(e.ctx, agent1, from, to))
		}
		close(stop)
		readers.Wait()

		assert.Zero(t, missing.Load())
		assert.Equal(t, "payload", e.readFile(t, agent1, "/a"))

		// Main never saw any of it
		root, err := e.core.Readdir(e.ctx, alicePID, "/")
		require.NoError(t, err)
		assert.Equal(t, []string{".", ".."}, names(root))
	})
}
