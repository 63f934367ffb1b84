package vfs

import (
	"context"
	"slices"

	"github.com/marmos91/agentfs/internal/telemetry"
	"github.com/marmos91/agentfs/pkg/vfs/access"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/events"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
)

// Extended attribute limits, matching Linux.
const (
	MaxXattrNameLen  = 255
	MaxXattrValueLen = 64 * 1024
)

// XattrFlags mirrors XATTR_CREATE and XATTR_REPLACE.
type XattrFlags uint8

const (
	// XattrCreate fails with AlreadyExists if the attribute is present.
	XattrCreate XattrFlags = 1 << iota
	// XattrReplace fails with NotFound if the attribute is missing.
	XattrReplace
)

// GetXattr returns the value of name on path. With size 0 the whole value is
// returned so callers can learn its length; a positive size smaller than the
// value yields BufferTooSmall carrying the required size.
func (c *Core) GetXattr(ctx context.Context, pid uint32, path, name string, size int) (value []byte, err error) {
	ctx, op := c.begin(ctx, "get_xattr", pid, telemetry.Path(path), telemetry.Xattr(name))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return nil, err
	}
	_, n, err := c.lookup(v, path, true)
	if err != nil {
		return nil, err
	}
	if err := c.eval.CheckXattr(v.binding.Credentials, n, name, false); err != nil {
		return nil, withPath(err, path)
	}
	val, ok := n.Xattrs[name]
	if !ok {
		return nil, fserrors.NewNoAttrError(path, name)
	}
	if size > 0 && size < len(val) {
		return nil, fserrors.NewBufferTooSmallError(path, len(val))
	}
	return slices.Clone(val), nil
}

// ListXattr returns the attribute names of path, each terminated by NUL,
// under the same size rule as GetXattr. trusted. names are only listed for
// privileged callers.
func (c *Core) ListXattr(ctx context.Context, pid uint32, path string, size int) (list []byte, err error) {
	ctx, op := c.begin(ctx, "list_xattr", pid, telemetry.Path(path))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return nil, err
	}
	_, n, err := c.lookup(v, path, true)
	if err != nil {
		return nil, err
	}

	privileged := c.eval.IsPrivileged(v.binding.Credentials)
	names := make([]string, 0, len(n.Xattrs))
	for name := range n.Xattrs {
		if access.XattrNamespace(name) == access.NamespaceTrusted && !privileged {
			continue
		}
		names = append(names, name)
	}
	slices.Sort(names)

	list = []byte{}
	for _, name := range names {
		list = append(list, name...)
		list = append(list, 0)
	}
	if size > 0 && size < len(list) {
		return nil, fserrors.NewBufferTooSmallError(path, len(list))
	}
	return list, nil
}

// SetXattr stores value under name on path. A nil value removes the
// attribute, exactly like RemoveXattr.
func (c *Core) SetXattr(ctx context.Context, pid uint32, path, name string, value []byte, flags XattrFlags) (err error) {
	ctx, op := c.begin(ctx, "set_xattr", pid, telemetry.Path(path), telemetry.Xattr(name), telemetry.Size(int64(len(value))))
	defer func() { err = op.end(err) }()

	if value == nil {
		return c.removeXattr(ctx, pid, path, name)
	}
	if len(name) > MaxXattrNameLen {
		return fserrors.NewInvalidArgumentError(path, "attribute name too long")
	}
	if len(value) > MaxXattrValueLen {
		return fserrors.NewNoSpaceError(path, nil)
	}

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}
	creds := v.binding.Credentials
	_, err = c.modifyNode(v, path, func(_ *graph.Tree, n *graph.Node) (*graph.Node, error) {
		if err := c.eval.CheckXattr(creds, n, name, true); err != nil {
			return nil, err
		}
		_, exists := n.Xattrs[name]
		switch {
		case flags&XattrCreate != 0 && exists:
			return nil, fserrors.NewAlreadyExistsError(name)
		case flags&XattrReplace != 0 && !exists:
			return nil, fserrors.NewNoAttrError(path, name)
		}
		out := n.Clone()
		if out.Xattrs == nil {
			out.Xattrs = make(map[string][]byte, 1)
		}
		out.Xattrs[name] = slices.Clone(value)
		out.Ctime = c.now()
		return out, nil
	})
	if err != nil {
		return err
	}
	c.emit(events.Event{Kind: events.Modified, Path: path, Branch: string(v.br.info.ID)})
	return nil
}

// RemoveXattr deletes name from path. A missing attribute is NotFound.
func (c *Core) RemoveXattr(ctx context.Context, pid uint32, path, name string) (err error) {
	ctx, op := c.begin(ctx, "remove_xattr", pid, telemetry.Path(path), telemetry.Xattr(name))
	defer func() { err = op.end(err) }()
	return c.removeXattr(ctx, pid, path, name)
}

func (c *Core) removeXattr(ctx context.Context, pid uint32, path, name string) error {
	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}
	creds := v.binding.Credentials
	_, err = c.modifyNode(v, path, func(_ *graph.Tree, n *graph.Node) (*graph.Node, error) {
		if err := c.eval.CheckXattr(creds, n, name, true); err != nil {
			return nil, err
		}
		if _, ok := n.Xattrs[name]; !ok {
			return nil, fserrors.NewNoAttrError(path, name)
		}
		out := n.Clone()
		delete(out.Xattrs, name)
		out.Ctime = c.now()
		return out, nil
	})
	if err != nil {
		return err
	}
	c.emit(events.Event{Kind: events.Modified, Path: path, Branch: string(v.br.info.ID)})
	return nil
}
