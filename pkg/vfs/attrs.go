package vfs

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/marmos91/agentfs/internal/telemetry"
	"github.com/marmos91/agentfs/pkg/identity"
	"github.com/marmos91/agentfs/pkg/vfs/access"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/events"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
)

// Attr is the stat view of a node.
type Attr struct {
	ID        graph.NodeID
	Kind      graph.Kind
	Mode      uint32
	UID       uint32
	GID       uint32
	Size      int64
	Blocks    uint64
	Nlink     uint32
	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Birthtime time.Time
}

func attrOf(n *graph.Node) Attr {
	return Attr{
		ID:        n.ID,
		Kind:      n.Kind,
		Mode:      n.Mode,
		UID:       n.UID,
		GID:       n.GID,
		Size:      n.Size,
		Blocks:    n.Blocks(),
		Nlink:     n.Nlink,
		Atime:     n.Atime,
		Mtime:     n.Mtime,
		Ctime:     n.Ctime,
		Birthtime: n.Birthtime,
	}
}

// TimeKind selects what SetTimes does with one timestamp.
type TimeKind uint8

const (
	TimeOmit TimeKind = iota
	TimeNow
	TimeSet
)

// TimeSpec is one SetTimes field.
type TimeSpec struct {
	Kind  TimeKind
	Value time.Time
}

// Omit leaves a timestamp unchanged.
func Omit() TimeSpec { return TimeSpec{Kind: TimeOmit} }

// Now sets a timestamp to the current time.
func Now() TimeSpec { return TimeSpec{Kind: TimeNow} }

// At sets a timestamp to t.
func At(t time.Time) TimeSpec { return TimeSpec{Kind: TimeSet, Value: t} }

// withPath reports err against the full path instead of the node name the
// lower layers know.
func withPath(err error, path string) error {
	var fe *fserrors.FsError
	if path == "" || !errors.As(err, &fe) {
		return err
	}
	cp := *fe
	cp.Path = path
	return &cp
}

// checkSearch requires execute permission on every directory above n.
func (c *Core) checkSearch(creds identity.Credentials, t *graph.Tree, n *graph.Node) error {
	id := n.Parent
	if n.ID == graph.RootID {
		return nil
	}
	for {
		dir, ok := t.Get(id)
		if !ok {
			return nil
		}
		if err := c.eval.Check(creds, dir, access.Execute); err != nil {
			return err
		}
		if id == graph.RootID {
			return nil
		}
		id = dir.Parent
	}
}

// checkParent requires search access down to parent plus write and execute
// on parent itself, as every entry change does.
func (c *Core) checkParent(creds identity.Credentials, t *graph.Tree, parent *graph.Node, path string) error {
	if err := c.checkSearch(creds, t, parent); err != nil {
		return withPath(err, path)
	}
	if err := c.eval.Check(creds, parent, access.Write|access.Execute); err != nil {
		return withPath(err, path)
	}
	return nil
}

// lookup resolves path on v's current tip for a read-only operation.
func (c *Core) lookup(v *view, path string, follow bool) (*graph.Tree, *graph.Node, error) {
	t := v.tree()
	n, err := t.ResolveFollow(path, follow)
	if err != nil {
		return nil, nil, err
	}
	if err := c.checkSearch(v.binding.Credentials, t, n); err != nil {
		return nil, nil, withPath(err, path)
	}
	return t, n, nil
}

// Stat returns the attributes of path, following a final symlink.
func (c *Core) Stat(ctx context.Context, pid uint32, path string) (Attr, error) {
	return c.stat(ctx, "stat", pid, path, true)
}

// Lstat returns the attributes of path without following a final symlink.
func (c *Core) Lstat(ctx context.Context, pid uint32, path string) (Attr, error) {
	return c.stat(ctx, "lstat", pid, path, false)
}

func (c *Core) stat(ctx context.Context, name string, pid uint32, path string, follow bool) (attr Attr, err error) {
	ctx, op := c.begin(ctx, name, pid, telemetry.Path(path))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return Attr{}, err
	}
	_, n, err := c.lookup(v, path, follow)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(n), nil
}

// modifyNode resolves path under the branch mutex, lets fn produce the new
// version of the node and publishes it. fn returning nil leaves the tree
// untouched.
func (c *Core) modifyNode(v *view, path string, fn func(t *graph.Tree, n *graph.Node) (*graph.Node, error)) (bool, error) {
	changed := false
	err := c.mutate(v, func(t *graph.Tree) error {
		n, err := t.ResolveFollow(path, true)
		if err != nil {
			return err
		}
		if err := c.checkSearch(v.binding.Credentials, t, n); err != nil {
			return withPath(err, path)
		}
		out, err := fn(t, n)
		if err != nil {
			return withPath(err, path)
		}
		if out != nil {
			t.Put(out)
			changed = true
		}
		return nil
	})
	return changed, err
}

// SetMode changes the permission and special bits of path. Only the owner
// or a privileged caller may do so.
func (c *Core) SetMode(ctx context.Context, pid uint32, path string, mode uint32) (err error) {
	ctx, op := c.begin(ctx, "set_mode", pid, telemetry.Path(path), telemetry.Mode(mode))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}
	creds := v.binding.Credentials
	changed, err := c.modifyNode(v, path, func(_ *graph.Tree, n *graph.Node) (*graph.Node, error) {
		if err := c.eval.CanChangeMode(creds, n); err != nil {
			return nil, err
		}
		out := n.Clone()
		out.Mode = c.eval.SanitizeMode(creds, n, mode)
		out.Ctime = c.now()
		return out, nil
	})
	if err != nil {
		return err
	}
	if changed {
		c.emit(events.Event{Kind: events.Modified, Path: path, Branch: string(v.br.info.ID)})
	}
	return nil
}

// SetOwner changes the owner and group of path. A value of -1 leaves that
// field unchanged; passing -1 for both is a successful no-op for any caller.
func (c *Core) SetOwner(ctx context.Context, pid uint32, path string, uid, gid int64) (err error) {
	ctx, op := c.begin(ctx, "set_owner", pid, telemetry.Path(path))
	defer func() { err = op.end(err) }()

	for _, id := range []int64{uid, gid} {
		if id < access.Unchanged || id > math.MaxUint32 {
			return fserrors.NewInvalidArgumentError(path, "owner id out of range")
		}
	}
	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}
	if uid == access.Unchanged && gid == access.Unchanged {
		_, _, err := c.lookup(v, path, true)
		return err
	}

	creds := v.binding.Credentials
	changed, err := c.modifyNode(v, path, func(_ *graph.Tree, n *graph.Node) (*graph.Node, error) {
		if err := c.eval.CanChangeOwner(creds, n, uid, gid); err != nil {
			return nil, err
		}
		out := n.Clone()
		effective := false
		if uid != access.Unchanged && uint32(uid) != n.UID {
			out.UID = uint32(uid)
			effective = true
		}
		if gid != access.Unchanged && uint32(gid) != n.GID {
			out.GID = uint32(gid)
			effective = true
		}
		if effective {
			out.Mode = c.eval.ClearOnOwnerChange(out)
		}
		out.Ctime = c.now()
		return out, nil
	})
	if err != nil {
		return err
	}
	if changed {
		c.emit(events.Event{Kind: events.Modified, Path: path, Branch: string(v.br.info.ID)})
	}
	return nil
}

// SetTimes updates the access and modification times of path. Explicit
// values need ownership or privilege; Now needs only write permission. The
// change time always advances and the birth time never changes.
func (c *Core) SetTimes(ctx context.Context, pid uint32, path string, atime, mtime TimeSpec) (err error) {
	ctx, op := c.begin(ctx, "set_times", pid, telemetry.Path(path))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}
	if atime.Kind == TimeOmit && mtime.Kind == TimeOmit {
		_, _, err := c.lookup(v, path, true)
		return err
	}

	creds := v.binding.Credentials
	explicit := atime.Kind == TimeSet || mtime.Kind == TimeSet
	changed, err := c.modifyNode(v, path, func(_ *graph.Tree, n *graph.Node) (*graph.Node, error) {
		if err := c.eval.CheckSetTimes(creds, n, explicit); err != nil {
			return nil, err
		}
		now := c.now()
		out := n.Clone()
		out.Atime = applyTime(atime, n.Atime, now)
		out.Mtime = applyTime(mtime, n.Mtime, now)
		out.Ctime = now
		return out, nil
	})
	if err != nil {
		return err
	}
	if changed {
		c.emit(events.Event{Kind: events.Modified, Path: path, Branch: string(v.br.info.ID)})
	}
	return nil
}

func applyTime(s TimeSpec, cur, now time.Time) time.Time {
	switch s.Kind {
	case TimeNow:
		return now
	case TimeSet:
		return s.Value
	default:
		return cur
	}
}
