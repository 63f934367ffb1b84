package graph

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

var epoch = time.Unix(1_700_000_000, 0)

func newTestTree(t *testing.T, policy CaseSensitivity) *Tree {
	t.Helper()
	return NewTree(policy, 0o755, 0, 0, epoch)
}

func mkdir(t *testing.T, tr *Tree, path string) *Node {
	t.Helper()
	parent, name, err := tr.ResolveParent(path)
	require.NoError(t, err)
	n := NewNode(KindDirectory, 0o755, 1000, 1000, epoch)
	require.NoError(t, tr.CreateChild(parent, name, n, epoch))
	return n
}

func mkfile(t *testing.T, tr *Tree, path string) *Node {
	t.Helper()
	parent, name, err := tr.ResolveParent(path)
	require.NoError(t, err)
	n := NewNode(KindFile, 0o644, 1000, 1000, epoch)
	require.NoError(t, tr.CreateChild(parent, name, n, epoch))
	return n
}

func mklink(t *testing.T, tr *Tree, path, target string) *Node {
	t.Helper()
	parent, name, err := tr.ResolveParent(path)
	require.NoError(t, err)
	n := NewNode(KindSymlink, 0o777, 1000, 1000, epoch)
	n.Target = target
	require.NoError(t, tr.CreateChild(parent, name, n, epoch))
	return n
}

func TestNewTree_Root(t *testing.T) {
	tr := newTestTree(t, CaseSensitive)

	root := tr.Root()
	require.NotNil(t, root)
	assert.Equal(t, RootID, root.ID)
	assert.Equal(t, RootID, root.Parent)
	assert.Equal(t, uint32(2), root.Nlink)
	assert.Equal(t, 1, tr.Len())

	n, err := tr.Resolve("/")
	require.NoError(t, err)
	assert.Equal(t, RootID, n.ID)
}

func TestCreateChild(t *testing.T) {
	t.Run("CreatesAndLinks", func(t *testing.T) {
		tr := newTestTree(t, CaseSensitive)
		later := epoch.Add(time.Hour)

		dir := NewNode(KindDirectory, 0o755, 1, 1, later)
		require.NoError(t, tr.CreateChild(tr.Root(), "a", dir, later))

		got, err := tr.Resolve("/a")
		require.NoError(t, err)
		assert.Equal(t, dir.ID, got.ID)
		assert.Equal(t, RootID, got.Parent)
		assert.Equal(t, "a", got.Name)

		root := tr.Root()
		assert.Equal(t, uint32(3), root.Nlink)
		assert.Equal(t, later, root.Mtime)
		assert.Equal(t, later, root.Ctime)
	})

	t.Run("AlreadyExists", func(t *testing.T) {
		tr := newTestTree(t, CaseSensitive)
		mkfile(t, tr, "/f")
		err := tr.CreateChild(tr.Root(), "f", NewNode(KindFile, 0o644, 0, 0, epoch), epoch)
		assert.Equal(t, fserrors.ErrAlreadyExists, fserrors.CodeOf(err))
	})

	t.Run("ParentNotDirectory", func(t *testing.T) {
		tr := newTestTree(t, CaseSensitive)
		f := mkfile(t, tr, "/f")
		err := tr.CreateChild(f, "x", NewNode(KindFile, 0o644, 0, 0, epoch), epoch)
		assert.Equal(t, fserrors.ErrNotADirectory, fserrors.CodeOf(err))
	})

	t.Run("InvalidNames", func(t *testing.T) {
		tr := newTestTree(t, CaseSensitive)
		for _, name := range []string{"", ".", "..", "a/b", "nul\x00", strings.Repeat("x", MaxNameLen+1)} {
			err := tr.CreateChild(tr.Root(), name, NewNode(KindFile, 0o644, 0, 0, epoch), epoch)
			assert.Equal(t, fserrors.ErrInvalidArgument, fserrors.CodeOf(err), "name %q", name)
		}
		require.NoError(t, tr.CreateChild(tr.Root(), strings.Repeat("x", MaxNameLen), NewNode(KindFile, 0o644, 0, 0, epoch), epoch))
	})
}

func TestResolve(t *testing.T) {
	tr := newTestTree(t, CaseSensitive)
	mkdir(t, tr, "/a")
	mkdir(t, tr, "/a/b")
	f := mkfile(t, tr, "/a/b/f")
	mklink(t, tr, "/link", "/a")

	got, err := tr.Resolve("/a/b/f")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	got, err = tr.Resolve("/a/./b/../b/f/")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	_, err = tr.Resolve("/a/missing")
	assert.Equal(t, fserrors.ErrNotFound, fserrors.CodeOf(err))

	_, err = tr.Resolve("/a/b/f/x")
	assert.Equal(t, fserrors.ErrNotADirectory, fserrors.CodeOf(err))

	// Resolve never follows symlinks.
	got, err = tr.Resolve("/link")
	require.NoError(t, err)
	assert.True(t, got.IsSymlink())
	_, err = tr.Resolve("/link/b")
	assert.Equal(t, fserrors.ErrNotADirectory, fserrors.CodeOf(err))

	_, err = tr.Resolve("/" + strings.Repeat("a/", MaxPathLen))
	assert.Equal(t, fserrors.ErrInvalidArgument, fserrors.CodeOf(err))
}

func TestResolveFollow(t *testing.T) {
	tr := newTestTree(t, CaseSensitive)
	mkdir(t, tr, "/a")
	mkdir(t, tr, "/a/b")
	f := mkfile(t, tr, "/a/b/f")
	mklink(t, tr, "/abs", "/a/b")
	mklink(t, tr, "/a/rel", "b/f")
	mklink(t, tr, "/a/up", "../abs")
	mklink(t, tr, "/loop1", "/loop2")
	mklink(t, tr, "/loop2", "/loop1")
	mklink(t, tr, "/dangling", "/nowhere")

	got, err := tr.ResolveFollow("/abs/f", true)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	got, err = tr.ResolveFollow("/a/rel", true)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	got, err = tr.ResolveFollow("/a/up/f", true)
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)

	got, err = tr.ResolveFollow("/a/rel", false)
	require.NoError(t, err)
	assert.True(t, got.IsSymlink())

	_, err = tr.ResolveFollow("/loop1", true)
	assert.Equal(t, fserrors.ErrInvalidArgument, fserrors.CodeOf(err))

	got, err = tr.ResolveFollow("/loop1", false)
	require.NoError(t, err)
	assert.True(t, got.IsSymlink())

	_, err = tr.ResolveFollow("/dangling", true)
	assert.Equal(t, fserrors.ErrNotFound, fserrors.CodeOf(err))
}

func TestResolveFollow_HopLimit(t *testing.T) {
	tr := newTestTree(t, CaseSensitive)
	mkfile(t, tr, "/target")

	// A chain of exactly MaxSymlinkHops links resolves; one more fails.
	prev := "/target"
	for i := 0; i < MaxSymlinkHops+1; i++ {
		name := fmt.Sprintf("/l%d", i)
		mklink(t, tr, name, prev)
		prev = name
	}

	_, err := tr.ResolveFollow(fmt.Sprintf("/l%d", MaxSymlinkHops-1), true)
	require.NoError(t, err)

	_, err = tr.ResolveFollow(fmt.Sprintf("/l%d", MaxSymlinkHops), true)
	assert.Equal(t, fserrors.ErrInvalidArgument, fserrors.CodeOf(err))
}

func TestResolveParent(t *testing.T) {
	tr := newTestTree(t, CaseSensitive)
	a := mkdir(t, tr, "/a")
	mklink(t, tr, "/la", "/a")
	mkfile(t, tr, "/f")

	parent, name, err := tr.ResolveParent("/la/new")
	require.NoError(t, err)
	assert.Equal(t, a.ID, parent.ID)
	assert.Equal(t, "new", name)

	_, _, err = tr.ResolveParent("/")
	assert.Equal(t, fserrors.ErrInvalidArgument, fserrors.CodeOf(err))

	_, _, err = tr.ResolveParent("/a/..")
	assert.Equal(t, fserrors.ErrInvalidArgument, fserrors.CodeOf(err))

	_, _, err = tr.ResolveParent("/f/x")
	assert.Equal(t, fserrors.ErrNotADirectory, fserrors.CodeOf(err))

	_, _, err = tr.ResolveParent("/missing/x")
	assert.Equal(t, fserrors.ErrNotFound, fserrors.CodeOf(err))
}

func TestCaseInsensitivePreserving(t *testing.T) {
	tr := newTestTree(t, CaseInsensitivePreserving)
	f := mkfile(t, tr, "/Straße.TXT")

	got, err := tr.Resolve("/strasse.txt")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, "Straße.TXT", got.Name)

	err = tr.CreateChild(tr.Root(), "STRASSE.txt", NewNode(KindFile, 0o644, 0, 0, epoch), epoch)
	assert.Equal(t, fserrors.ErrAlreadyExists, fserrors.CodeOf(err))

	// A case-only rename keeps the node and updates the spelling.
	replaced, err := tr.Rename(tr.Root(), "straße.txt", tr.Root(), "strasse.txt", epoch)
	require.NoError(t, err)
	assert.Nil(t, replaced)
	got, err = tr.Resolve("/STRASSE.TXT")
	require.NoError(t, err)
	assert.Equal(t, f.ID, got.ID)
	assert.Equal(t, "strasse.txt", got.Name)
	require.Len(t, tr.Children(tr.Root()), 1)
}

func TestCaseSensitive_DistinctNames(t *testing.T) {
	tr := newTestTree(t, CaseSensitive)
	mkfile(t, tr, "/A")
	mkfile(t, tr, "/a")
	assert.Len(t, tr.Children(tr.Root()), 2)
}

func TestRemoveChild(t *testing.T) {
	tr := newTestTree(t, CaseSensitive)
	d := mkdir(t, tr, "/d")
	mkfile(t, tr, "/d/f")
	mkfile(t, tr, "/g")
	assert.Equal(t, uint32(3), tr.Root().Nlink)

	_, err := tr.RemoveChild(tr.Root(), "d", ExpectDirectory, epoch)
	assert.Equal(t, fserrors.ErrDirectoryNotEmpty, fserrors.CodeOf(err))

	_, err = tr.RemoveChild(tr.Root(), "d", ExpectNonDirectory, epoch)
	assert.Equal(t, fserrors.ErrIsADirectory, fserrors.CodeOf(err))

	_, err = tr.RemoveChild(tr.Root(), "g", ExpectDirectory, epoch)
	assert.Equal(t, fserrors.ErrNotADirectory, fserrors.CodeOf(err))

	_, err = tr.RemoveChild(tr.Root(), "missing", ExpectAny, epoch)
	assert.Equal(t, fserrors.ErrNotFound, fserrors.CodeOf(err))

	dir, _ := tr.Get(d.ID)
	removed, err := tr.RemoveChild(dir, "f", ExpectNonDirectory, epoch)
	require.NoError(t, err)
	assert.Equal(t, "f", removed.Name)

	removed, err = tr.RemoveChild(tr.Root(), "d", ExpectDirectory, epoch)
	require.NoError(t, err)
	assert.Equal(t, d.ID, removed.ID)
	_, ok := tr.Get(d.ID)
	assert.False(t, ok)
	assert.Equal(t, uint32(2), tr.Root().Nlink)
}

func TestRename(t *testing.T) {
	t.Run("MovesAcrossDirectories", func(t *testing.T) {
		tr := newTestTree(t, CaseSensitive)
		a := mkdir(t, tr, "/a")
		b := mkdir(t, tr, "/b")
		sub := mkdir(t, tr, "/a/sub")
		later := epoch.Add(time.Minute)

		pa, _ := tr.Get(a.ID)
		pb, _ := tr.Get(b.ID)
		replaced, err := tr.Rename(pa, "sub", pb, "moved", later)
		require.NoError(t, err)
		assert.Nil(t, replaced)

		got, err := tr.Resolve("/b/moved")
		require.NoError(t, err)
		assert.Equal(t, sub.ID, got.ID)
		assert.Equal(t, b.ID, got.Parent)
		assert.Equal(t, later, got.Ctime)

		_, err = tr.Resolve("/a/sub")
		assert.Equal(t, fserrors.ErrNotFound, fserrors.CodeOf(err))

		pa, _ = tr.Get(a.ID)
		pb, _ = tr.Get(b.ID)
		assert.Equal(t, uint32(2), pa.Nlink)
		assert.Equal(t, uint32(3), pb.Nlink)
		assert.Equal(t, later, pa.Mtime)
		assert.Equal(t, later, pb.Mtime)

		path, ok := tr.PathOf(sub.ID)
		require.True(t, ok)
		assert.Equal(t, "/b/moved", path)
	})

	t.Run("ReplacesFile", func(t *testing.T) {
		tr := newTestTree(t, CaseSensitive)
		src := mkfile(t, tr, "/src")
		dst := mkfile(t, tr, "/dst")

		replaced, err := tr.Rename(tr.Root(), "src", tr.Root(), "dst", epoch)
		require.NoError(t, err)
		require.NotNil(t, replaced)
		assert.Equal(t, dst.ID, replaced.ID)

		got, err := tr.Resolve("/dst")
		require.NoError(t, err)
		assert.Equal(t, src.ID, got.ID)
		_, ok := tr.Get(dst.ID)
		assert.False(t, ok)
		assert.Equal(t, 2, tr.Len())
	})

	t.Run("ReplacesEmptyDirectory", func(t *testing.T) {
		tr := newTestTree(t, CaseSensitive)
		mkdir(t, tr, "/src")
		mkdir(t, tr, "/dst")
		assert.Equal(t, uint32(4), tr.Root().Nlink)

		replaced, err := tr.Rename(tr.Root(), "src", tr.Root(), "dst", epoch)
		require.NoError(t, err)
		require.NotNil(t, replaced)
		assert.Equal(t, uint32(3), tr.Root().Nlink)
	})

	t.Run("Conflicts", func(t *testing.T) {
		tr := newTestTree(t, CaseSensitive)
		mkdir(t, tr, "/dir")
		mkdir(t, tr, "/full")
		mkfile(t, tr, "/full/x")
		mkfile(t, tr, "/file")
		mkdir(t, tr, "/dir/child")

		cases := []struct {
			src, dst string
			code     fserrors.ErrorCode
		}{
			{"dir", "file", fserrors.ErrNotADirectory},
			{"file", "dir", fserrors.ErrIsADirectory},
			{"dir", "full", fserrors.ErrDirectoryNotEmpty},
			{"missing", "x", fserrors.ErrNotFound},
		}
		for _, tc := range cases {
			_, err := tr.Rename(tr.Root(), tc.src, tr.Root(), tc.dst, epoch)
			assert.Equal(t, tc.code, fserrors.CodeOf(err), "%s -> %s", tc.src, tc.dst)
		}

		child, err := tr.Resolve("/dir/child")
		require.NoError(t, err)
		_, err = tr.Rename(tr.Root(), "dir", child, "loop", epoch)
		assert.Equal(t, fserrors.ErrInvalidArgument, fserrors.CodeOf(err))

		dir, err := tr.Resolve("/dir")
		require.NoError(t, err)
		_, err = tr.Rename(tr.Root(), "dir", dir, "self", epoch)
		assert.Equal(t, fserrors.ErrInvalidArgument, fserrors.CodeOf(err))
	})

	t.Run("SameNameIsNoop", func(t *testing.T) {
		tr := newTestTree(t, CaseSensitive)
		f := mkfile(t, tr, "/f")
		replaced, err := tr.Rename(tr.Root(), "f", tr.Root(), "f", epoch.Add(time.Hour))
		require.NoError(t, err)
		assert.Nil(t, replaced)
		got, err := tr.Resolve("/f")
		require.NoError(t, err)
		assert.Equal(t, f.ID, got.ID)
		assert.Equal(t, epoch, got.Ctime)
	})
}

func TestClone_Isolation(t *testing.T) {
	base := newTestTree(t, CaseSensitive)
	f := mkfile(t, base, "/f")

	clone := base.Clone()
	mkfile(t, clone, "/g")
	n, _ := clone.Get(f.ID)
	changed := n.Clone()
	changed.Size = 42
	changed.Xattrs = map[string][]byte{"user.k": []byte("v")}
	clone.Put(changed)
	_, err := clone.RemoveChild(clone.Root(), "f", ExpectAny, epoch)
	require.NoError(t, err)

	// The source tree is untouched.
	got, err := base.Resolve("/f")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.Size)
	assert.Nil(t, got.Xattrs)
	_, err = base.Resolve("/g")
	assert.Equal(t, fserrors.ErrNotFound, fserrors.CodeOf(err))
	assert.Equal(t, 2, base.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestClone_ConcurrentFromSharedSource(t *testing.T) {
	base := newTestTree(t, CaseSensitive)
	for i := 0; i < 100; i++ {
		mkfile(t, base, fmt.Sprintf("/f%03d", i))
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			c := base.Clone()
			n := NewNode(KindFile, 0o644, 0, 0, epoch)
			if err := c.CreateChild(c.Root(), fmt.Sprintf("w%d", w), n, epoch); err != nil {
				t.Error(err)
			}
			// Readers of the shared source see a stable view.
			if _, err := base.Resolve("/f050"); err != nil {
				t.Error(err)
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 101, base.Len())
}

func TestChildren_Sorted(t *testing.T) {
	tr := newTestTree(t, CaseSensitive)
	d := mkdir(t, tr, "/d")
	for _, name := range []string{"c", "a", "b"} {
		mkfile(t, tr, "/d/"+name)
	}
	mkfile(t, tr, "/z")

	dir, _ := tr.Get(d.ID)
	var names []string
	for _, n := range tr.Children(dir) {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{"a", "b", "c"}, names)
	assert.False(t, tr.IsEmpty(dir))

	empty := mkdir(t, tr, "/e")
	assert.True(t, tr.IsEmpty(empty))
}

func TestNode_Blocks(t *testing.T) {
	n := NewNode(KindFile, 0o644, 0, 0, epoch)
	assert.Equal(t, uint64(0), n.Blocks())
	n.Size = 1
	assert.Equal(t, uint64(8), n.Blocks())
	n.Size = 4096
	assert.Equal(t, uint64(8), n.Blocks())
	n.Size = 4097
	assert.Equal(t, uint64(16), n.Blocks())

	assert.Equal(t, uint64(8), NewNode(KindDirectory, 0o755, 0, 0, epoch).Blocks())
	assert.Equal(t, uint64(0), NewNode(KindSymlink, 0o777, 0, 0, epoch).Blocks())
}

func TestNewID_Unique(t *testing.T) {
	seen := make(map[NodeID]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		assert.False(t, seen[id])
		assert.Greater(t, uint64(id), uint64(RootID))
		seen[id] = true
	}
}

func TestParseCaseSensitivity(t *testing.T) {
	c, ok := ParseCaseSensitivity("insensitive")
	require.True(t, ok)
	assert.Equal(t, CaseInsensitivePreserving, c)

	c, ok = ParseCaseSensitivity("")
	require.True(t, ok)
	assert.Equal(t, CaseSensitive, c)

	_, ok = ParseCaseSensitivity("sideways")
	assert.False(t, ok)
}
