package vfs

import (
	"context"
	"strings"
	"time"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/internal/telemetry"
	"github.com/marmos91/agentfs/pkg/vfs/access"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/events"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
)

// DirEntry is one Readdir result.
type DirEntry struct {
	Name string
	ID   graph.NodeID
	Kind graph.Kind
}

// Mkdir creates a directory. mode is final (umask already applied); a
// setgid parent passes down its group and setgid bit.
func (c *Core) Mkdir(ctx context.Context, pid uint32, path string, mode uint32) (err error) {
	ctx, op := c.begin(ctx, "mkdir", pid, telemetry.Path(path), telemetry.Mode(mode))
	defer func() { err = op.end(err) }()

	return c.create(ctx, pid, path, func(v *view, parent *graph.Node, now func() time.Time) *graph.Node {
		creds := v.binding.Credentials
		m, gid := c.eval.StripCreateBits(creds, parent, mode, graph.KindDirectory)
		return graph.NewNode(graph.KindDirectory, m, creds.UID, gid, now())
	})
}

// Symlink creates linkPath pointing at target. The target is stored as
// given and never resolved here.
func (c *Core) Symlink(ctx context.Context, pid uint32, target, linkPath string) (err error) {
	ctx, op := c.begin(ctx, "symlink", pid, telemetry.Path(linkPath))
	defer func() { err = op.end(err) }()

	if target == "" || strings.IndexByte(target, 0) >= 0 {
		return fserrors.NewInvalidArgumentError(linkPath, "invalid symlink target")
	}
	if len(target) > graph.MaxPathLen {
		return fserrors.NewInvalidArgumentError(linkPath, "symlink target too long")
	}

	return c.create(ctx, pid, linkPath, func(v *view, parent *graph.Node, now func() time.Time) *graph.Node {
		creds := v.binding.Credentials
		gid := creds.GID
		if parent.Mode&graph.ModeSetgid != 0 {
			gid = parent.GID
		}
		n := graph.NewNode(graph.KindSymlink, graph.ModePerm, creds.UID, gid, now())
		n.Target = target
		n.Size = int64(len(target))
		return n
	})
}

// create links a node built by build into the parent of path and emits
// Created.
func (c *Core) create(ctx context.Context, pid uint32, path string, build func(v *view, parent *graph.Node, now func() time.Time) *graph.Node) error {
	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}
	creds := v.binding.Credentials
	err = c.mutate(v, func(t *graph.Tree) error {
		parent, name, err := t.ResolveParent(path)
		if err != nil {
			return err
		}
		if err := c.checkParent(creds, t, parent, path); err != nil {
			return err
		}
		n := build(v, parent, c.now)
		return t.CreateChild(parent, name, n, n.Ctime)
	})
	if err != nil {
		return err
	}
	c.emit(events.Event{Kind: events.Created, Path: path, Branch: string(v.br.info.ID)})
	return nil
}

// Rmdir removes an empty directory.
func (c *Core) Rmdir(ctx context.Context, pid uint32, path string) (err error) {
	ctx, op := c.begin(ctx, "rmdir", pid, telemetry.Path(path))
	defer func() { err = op.end(err) }()
	return c.remove(ctx, pid, path, graph.ExpectDirectory)
}

// Unlink removes a non-directory. An open file keeps its content until its
// last handle closes.
func (c *Core) Unlink(ctx context.Context, pid uint32, path string) (err error) {
	ctx, op := c.begin(ctx, "unlink", pid, telemetry.Path(path))
	defer func() { err = op.end(err) }()
	return c.remove(ctx, pid, path, graph.ExpectNonDirectory)
}

func (c *Core) remove(ctx context.Context, pid uint32, path string, expect graph.Expect) error {
	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}
	creds := v.binding.Credentials

	err = func() error {
		v.br.mu.Lock()
		defer v.br.mu.Unlock()

		var removed *graph.Node
		err := c.mutateLocked(v.br, func(t *graph.Tree) error {
			parent, name, err := t.ResolveParent(path)
			if err != nil {
				return err
			}
			target, ok := t.Lookup(parent, name)
			if !ok {
				return fserrors.NewNotFoundError(path, "entry")
			}
			if err := c.checkParent(creds, t, parent, path); err != nil {
				return err
			}
			if err := c.eval.CheckSticky(creds, parent, target); err != nil {
				return withPath(err, path)
			}
			removed, err = t.RemoveChild(parent, name, expect, c.now())
			return withPath(err, path)
		})
		if err != nil {
			return err
		}
		c.release(v.ctx, v.br, removed)
		return nil
	}()
	if err != nil {
		return err
	}
	c.emit(events.Event{Kind: events.Removed, Path: path, Branch: string(v.br.info.ID)})
	return nil
}

// Rename atomically moves from to to, replacing a compatible destination.
// Readers observe either the old or the new namespace, never a mix.
func (c *Core) Rename(ctx context.Context, pid uint32, from, to string) (err error) {
	ctx, op := c.begin(ctx, "rename", pid, telemetry.Path(from), telemetry.NewPath(to))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}
	creds := v.binding.Credentials

	err = func() error {
		v.br.mu.Lock()
		defer v.br.mu.Unlock()

		var replaced *graph.Node
		err := c.mutateLocked(v.br, func(t *graph.Tree) error {
			srcParent, srcName, err := t.ResolveParent(from)
			if err != nil {
				return err
			}
			dstParent, dstName, err := t.ResolveParent(to)
			if err != nil {
				return err
			}
			src, ok := t.Lookup(srcParent, srcName)
			if !ok {
				return fserrors.NewNotFoundError(from, "entry")
			}

			// Write and search access on both parents
			if err := c.checkParent(creds, t, srcParent, from); err != nil {
				return err
			}
			if err := c.checkParent(creds, t, dstParent, to); err != nil {
				return err
			}

			// Sticky rules apply to the moved entry and to a replaced one
			if err := c.eval.CheckSticky(creds, srcParent, src); err != nil {
				return withPath(err, from)
			}
			if dst, ok := t.Lookup(dstParent, dstName); ok && dst.ID != src.ID {
				if err := c.eval.CheckSticky(creds, dstParent, dst); err != nil {
					return withPath(err, to)
				}
			}

			// A directory changing parent rewrites its ".." entry
			if src.IsDir() && srcParent.ID != dstParent.ID {
				if err := c.eval.Check(creds, src, access.Write); err != nil {
					return withPath(err, from)
				}
			}

			replaced, err = t.Rename(srcParent, srcName, dstParent, dstName, c.now())
			return withPath(err, to)
		})
		if err != nil {
			return err
		}
		if replaced != nil {
			logger.DebugCtx(v.ctx, "Rename replaced entry", logger.Path(to), logger.NodeID(uint64(replaced.ID)))
			c.release(v.ctx, v.br, replaced)
		}
		return nil
	}()
	if err != nil {
		return err
	}
	c.emit(events.Event{Kind: events.Renamed, From: from, To: to, Branch: string(v.br.info.ID)})
	return nil
}

// Readlink returns the target of the symlink at path.
func (c *Core) Readlink(ctx context.Context, pid uint32, path string) (target string, err error) {
	ctx, op := c.begin(ctx, "readlink", pid, telemetry.Path(path))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return "", err
	}
	_, n, err := c.lookup(v, path, false)
	if err != nil {
		return "", err
	}
	if !n.IsSymlink() {
		return "", fserrors.NewInvalidArgumentError(path, "not a symbolic link")
	}
	return n.Target, nil
}

// Readdir lists a directory, "." and ".." first, then entries in index
// order.
func (c *Core) Readdir(ctx context.Context, pid uint32, path string) (entries []DirEntry, err error) {
	ctx, op := c.begin(ctx, "readdir", pid, telemetry.Path(path))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return nil, err
	}
	t, dir, err := c.lookup(v, path, true)
	if err != nil {
		return nil, err
	}
	if !dir.IsDir() {
		return nil, fserrors.NewNotDirectoryError(path)
	}
	if err := c.eval.Check(v.binding.Credentials, dir, access.Read); err != nil {
		return nil, withPath(err, path)
	}

	children := t.Children(dir)
	entries = make([]DirEntry, 0, len(children)+2)
	entries = append(entries,
		DirEntry{Name: ".", ID: dir.ID, Kind: graph.KindDirectory},
		DirEntry{Name: "..", ID: dir.Parent, Kind: graph.KindDirectory})
	for _, n := range children {
		entries = append(entries, DirEntry{Name: n.Name, ID: n.ID, Kind: n.Kind})
	}
	op.span.SetAttributes(telemetry.Count(len(entries)))
	return entries, nil
}
