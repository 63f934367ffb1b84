package vfs

import (
	"context"
	"errors"
	"io"
	"sync/atomic"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/internal/telemetry"
	"github.com/marmos91/agentfs/pkg/identity"
	"github.com/marmos91/agentfs/pkg/storage"
	"github.com/marmos91/agentfs/pkg/vfs/access"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/events"
	"github.com/marmos91/agentfs/pkg/vfs/faults"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
)

// MaxFileSize is the largest size a file may reach through Write or
// truncation.
const MaxFileSize = storage.MaxStreamSize

// OpenOptions selects the access mode and creation behavior of Open. With
// neither Read nor Write set the handle is read-only.
type OpenOptions struct {
	Read      bool
	Write     bool
	Create    bool
	Truncate  bool
	Exclusive bool
	NoFollow  bool

	// Mode is the final mode of a created file (umask already applied).
	Mode uint32
}

// handle is an open file. It stays on the branch resolved at open time even
// if the process is rebound afterwards.
type handle struct {
	id     HandleID
	pid    uint32
	br     *branch
	node   graph.NodeID
	read   bool
	write  bool
	closed atomic.Bool
}

func (h *handle) key() nodeKey { return nodeKey{branch: h.br.info.ID, id: h.node} }

// Open resolves path on the caller's branch and returns a handle to it,
// creating a regular file when Create is set and the path is missing.
func (c *Core) Open(ctx context.Context, pid uint32, path string, opts OpenOptions) (id HandleID, err error) {
	ctx, op := c.begin(ctx, "open", pid, telemetry.Path(path))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return 0, err
	}
	creds := v.binding.Credentials

	var evs []events.Event
	attempt := func(locked bool) error {
		if locked {
			v.br.mu.Lock()
			defer v.br.mu.Unlock()
		}

		t := v.tree()
		n, err := t.ResolveFollow(path, !opts.NoFollow)
		switch {
		case err == nil:
			if opts.Create && opts.Exclusive {
				return fserrors.NewAlreadyExistsError(path)
			}
			if err := c.checkSearch(creds, t, n); err != nil {
				return err
			}
			if err := c.checkOpen(creds, n, opts, path); err != nil {
				return err
			}
		case fserrors.IsNotFoundError(err) && opts.Create:
			n, err = c.createFile(v, path, opts.Mode)
			if err != nil {
				return err
			}
			evs = append(evs, events.Event{Kind: events.Created, Path: path})
		default:
			return err
		}

		if opts.Truncate && n.IsFile() && n.Size > 0 {
			if err := c.truncateLocked(ctx, creds, v.br, n, false, 0, path); err != nil {
				return err
			}
			evs = append(evs, events.Event{Kind: events.Modified, Path: path})
		}

		if !locked && c.afterLookup != nil {
			c.afterLookup()
		}
		id, err = c.registerHandle(v, n, opts)
		return err
	}

	// Creation and truncation mutate the tip; plain opens only read it. A
	// plain open that lost its node to a concurrent removal resolves again
	// under the branch lock.
	locked := opts.Create || opts.Truncate
	err = attempt(locked)
	if errors.Is(err, errNodeGone) && !locked {
		err = attempt(true)
	}
	if err != nil {
		return 0, err
	}

	for _, ev := range evs {
		ev.Branch = string(v.br.info.ID)
		c.emit(ev)
	}
	op.span.SetAttributes(telemetry.Handle(uint64(id)))
	return id, nil
}

// OpenByID opens a node the caller already resolved. Permission checks are
// the same as Open; creation is not possible.
func (c *Core) OpenByID(ctx context.Context, pid uint32, nodeID graph.NodeID, opts OpenOptions) (id HandleID, err error) {
	ctx, op := c.begin(ctx, "open_by_id", pid, telemetry.NodeID(uint64(nodeID)))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return 0, err
	}
	creds := v.binding.Credentials

	if opts.Truncate {
		v.br.mu.Lock()
		defer v.br.mu.Unlock()
	}

	t := v.tree()
	n, ok := t.Get(nodeID)
	if !ok {
		return 0, fserrors.NewNotFoundError("", "node")
	}
	path, _ := t.PathOf(nodeID)
	if n.IsSymlink() {
		return 0, fserrors.NewInvalidArgumentError(path, "cannot open a symbolic link")
	}
	if err := c.checkOpen(creds, n, opts, path); err != nil {
		return 0, err
	}
	modified := false
	if opts.Truncate && n.IsFile() && n.Size > 0 {
		if err := c.truncateLocked(ctx, creds, v.br, n, false, 0, path); err != nil {
			return 0, err
		}
		modified = true
	}
	id, err = c.registerHandle(v, n, opts)
	if errors.Is(err, errNodeGone) {
		return 0, fserrors.NewNotFoundError(path, "node")
	}
	if err != nil {
		return 0, err
	}
	if modified {
		c.emit(events.Event{Kind: events.Modified, Path: path, Branch: string(v.br.info.ID)})
	}
	return id, nil
}

// checkOpen applies the access-mode rules of open(2) to an existing node.
func (c *Core) checkOpen(creds identity.Credentials, n *graph.Node, opts OpenOptions, path string) error {
	if n.IsSymlink() {
		return fserrors.NewLoopError(path, "final component is a symbolic link")
	}
	if n.IsDir() && (opts.Write || opts.Truncate) {
		return fserrors.NewIsDirectoryError(path)
	}
	var want access.Access
	if opts.Read || !opts.Write {
		want |= access.Read
	}
	if opts.Write || opts.Truncate {
		want |= access.Write
	}
	if err := c.eval.Check(creds, n, want); err != nil {
		return withPath(err, path)
	}
	return nil
}

// createFile creates an empty regular file at path. The caller holds
// v.br.mu.
func (c *Core) createFile(v *view, path string, mode uint32) (*graph.Node, error) {
	creds := v.binding.Credentials
	now := c.now()
	var created *graph.Node
	err := c.mutateLocked(v.br, func(t *graph.Tree) error {
		parent, name, err := t.ResolveParent(path)
		if err != nil {
			return err
		}
		if err := c.checkParent(creds, t, parent, path); err != nil {
			return err
		}
		m, gid := c.eval.StripCreateBits(creds, parent, mode, graph.KindFile)
		created = graph.NewNode(graph.KindFile, m, creds.UID, gid, now)
		return t.CreateChild(parent, name, created, now)
	})
	if err != nil {
		return nil, err
	}
	logger.DebugCtx(v.ctx, "Created file", logger.Path(path), logger.NodeID(uint64(created.ID)))
	return created, nil
}

// errNodeGone reports that the node an open resolved left the branch tip
// before its handle was registered.
var errNodeGone = errors.New("node removed before registration")

// registerHandle records an open handle on v's branch. The node must still
// be on the tip: a removal publishes the new tip before release checks the
// open count under c.mu, so checking the tip under c.mu here means either
// the removal sees this handle and parks the content, or this call sees
// the removal and fails with errNodeGone.
func (c *Core) registerHandle(v *view, n *graph.Node, opts OpenOptions) (HandleID, error) {
	h := &handle{
		id:    HandleID(c.nextHandle.Add(1)),
		pid:   v.binding.PID,
		br:    v.br,
		node:  n.ID,
		read:  opts.Read || !opts.Write,
		write: opts.Write,
	}

	c.mu.Lock()
	if c.branches[v.br.info.ID] != v.br {
		c.mu.Unlock()
		return 0, fserrors.NewNotFoundError(string(v.br.info.ID), "branch")
	}
	if _, ok := v.br.tip.Load().Get(n.ID); !ok {
		c.mu.Unlock()
		return 0, errNodeGone
	}
	c.handles[h.id] = h
	c.openCount[h.key()]++
	v.br.open.Add(1)
	c.mu.Unlock()

	c.reportCounts()
	return h.id, nil
}

// lookupHandle returns an open handle.
func (c *Core) lookupHandle(id HandleID) (*handle, error) {
	c.mu.RLock()
	h := c.handles[id]
	c.mu.RUnlock()
	if h == nil || h.closed.Load() {
		return nil, fserrors.NewInvalidHandleError("unknown or closed handle")
	}
	return h, nil
}

// nodeFor returns the current version of a handle's node and whether it
// has been unlinked while open.
func (c *Core) nodeFor(h *handle) (*graph.Node, bool, error) {
	if n, ok := h.br.tip.Load().Get(h.node); ok {
		return n, false, nil
	}
	c.mu.RLock()
	n, ok := c.orphans[h.key()]
	c.mu.RUnlock()
	if ok {
		return n, true, nil
	}
	return nil, false, fserrors.NewNotFoundError("", "node removed while open")
}

// storeNode publishes a changed version of a handle's node. The caller
// holds br.mu.
func (c *Core) storeNode(br *branch, n *graph.Node, orphan bool) {
	if orphan {
		c.mu.Lock()
		c.orphans[nodeKey{branch: br.info.ID, id: n.ID}] = n
		c.mu.Unlock()
		return
	}
	t := br.tip.Load().Clone()
	t.Put(n)
	br.tip.Store(t)
}

// handlePath is the current path of a handle's node, or "" for orphans.
func handlePath(h *handle) string {
	p, _ := h.br.tip.Load().PathOf(h.node)
	return p
}

// Read returns up to length bytes at offset. Reads stop at the file size.
func (c *Core) Read(ctx context.Context, pid uint32, hid HandleID, offset int64, length int) (data []byte, err error) {
	ctx, op := c.begin(ctx, "read", pid, telemetry.Handle(uint64(hid)), telemetry.Offset(offset), telemetry.Count(length))
	defer func() { err = op.end(err) }()

	if offset < 0 || length < 0 {
		return nil, fserrors.NewInvalidArgumentError("", "negative offset or length")
	}
	h, err := c.lookupHandle(hid)
	if err != nil {
		return nil, err
	}
	if !h.read {
		return nil, fserrors.NewInvalidHandleError("handle not open for reading")
	}

	n, _, err := c.nodeFor(h)
	if err != nil {
		return nil, err
	}
	if n.IsDir() {
		return nil, fserrors.NewIsDirectoryError(n.Name)
	}
	if offset >= n.Size || length == 0 {
		return []byte{}, nil
	}
	if remaining := n.Size - offset; int64(length) > remaining {
		length = int(remaining)
	}
	buf := make([]byte, length)
	if n.Content == "" {
		return buf, nil
	}

	err = c.readContent(ctx, n.Content, buf, offset, n.Name)
	if err != nil && errors.Is(err, storage.ErrContentNotFound) {
		// A concurrent writer may have cloned the stream and the old one
		// been collected between loading the node and reading it.
		if cur, _, nerr := c.nodeFor(h); nerr == nil && cur.Content != n.Content {
			err = c.readContent(ctx, cur.Content, buf, offset, n.Name)
		}
		if errors.Is(err, storage.ErrContentNotFound) {
			logger.ErrorCtx(ctx, "Content stream missing",
				logger.ContentID(string(n.Content)), logger.Path(handlePath(h)), logger.Err(err))
		}
	}
	if err != nil {
		return nil, err
	}
	op.span.SetAttributes(telemetry.BytesRead(len(buf)))
	return buf, nil
}

// readContent fills buf from a stream. Bytes past the stream's end read as
// zeros.
func (c *Core) readContent(ctx context.Context, id storage.ContentID, buf []byte, offset int64, path string) error {
	return c.storageCall(ctx, faults.OpRead, id, path, func(ctx context.Context) error {
		_, err := c.backend.ReadAt(ctx, id, buf, offset)
		if errors.Is(err, io.EOF) {
			return nil
		}
		return err
	})
}

// Write writes data at offset through a writable handle. The first write to
// a stream the branch still shares with a snapshot clones it.
func (c *Core) Write(ctx context.Context, pid uint32, hid HandleID, offset int64, data []byte) (written int, err error) {
	ctx, op := c.begin(ctx, "write", pid, telemetry.Handle(uint64(hid)), telemetry.Offset(offset), telemetry.Count(len(data)))
	defer func() { err = op.end(err) }()

	if offset < 0 {
		return 0, fserrors.NewInvalidArgumentError("", "negative offset")
	}
	if offset > MaxFileSize-int64(len(data)) {
		return 0, fserrors.NewFileTooLargeError("")
	}
	h, err := c.lookupHandle(hid)
	if err != nil {
		return 0, err
	}
	if !h.write {
		return 0, fserrors.NewInvalidHandleError("handle not open for writing")
	}
	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return 0, err
	}
	if len(data) == 0 {
		return 0, nil
	}

	orphan, err := func() (bool, error) {
		h.br.mu.Lock()
		defer h.br.mu.Unlock()

		n, orphan, err := c.nodeFor(h)
		if err != nil {
			return false, err
		}
		owned, err := c.ensureOwned(v.ctx, h.br, n, n.Name)
		if err != nil {
			return false, err
		}
		changed := owned != n

		werr := c.storageCall(v.ctx, faults.OpWrite, owned.Content, n.Name, func(ctx context.Context) error {
			var err error
			written, err = c.backend.WriteAt(ctx, owned.Content, data, offset)
			return err
		})
		if written > 0 {
			if !changed {
				owned = owned.Clone()
				changed = true
			}
			if end := offset + int64(written); end > owned.Size {
				owned.Size = end
			}
			now := c.now()
			owned.Mtime = now
			owned.Ctime = now
			owned.Mode, _ = c.eval.ClearOnWrite(v.binding.Credentials, owned)
		}
		if changed {
			c.storeNode(h.br, owned, orphan)
		}
		return orphan, werr
	}()
	if err != nil {
		return written, err
	}

	op.span.SetAttributes(telemetry.BytesWritten(written))
	if !orphan {
		c.emit(events.Event{Kind: events.Modified, Path: handlePath(h), Branch: string(h.br.info.ID)})
	}
	return written, nil
}

// truncateLocked sets the size of file n on br. The caller holds br.mu.
func (c *Core) truncateLocked(ctx context.Context, creds identity.Credentials, br *branch, n *graph.Node, orphan bool, size int64, path string) error {
	if size < 0 {
		return fserrors.NewInvalidArgumentError(path, "negative size")
	}
	if size > MaxFileSize {
		return fserrors.NewFileTooLargeError(path)
	}
	if n.IsDir() {
		return fserrors.NewIsDirectoryError(path)
	}
	if !n.IsFile() {
		return fserrors.NewInvalidArgumentError(path, "not a regular file")
	}

	out := n
	if size != n.Size {
		owned, err := c.ensureOwned(ctx, br, n, path)
		if err != nil {
			return err
		}
		terr := c.storageCall(ctx, faults.OpTruncate, owned.Content, path, func(ctx context.Context) error {
			return c.backend.Truncate(ctx, owned.Content, size)
		})
		if terr != nil {
			if owned != n {
				c.storeNode(br, owned, orphan)
			}
			return terr
		}
		out = owned
	}
	if out == n {
		out = n.Clone()
	}
	now := c.now()
	out.Size = size
	out.Mtime = now
	out.Ctime = now
	if size != n.Size {
		out.Mode, _ = c.eval.ClearOnWrite(creds, out)
	}
	c.storeNode(br, out, orphan)
	return nil
}

// Truncate sets the size of the file at path. Growing zero-fills.
func (c *Core) Truncate(ctx context.Context, pid uint32, path string, size int64) (err error) {
	ctx, op := c.begin(ctx, "truncate", pid, telemetry.Path(path), telemetry.Size(size))
	defer func() { err = op.end(err) }()

	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}
	creds := v.binding.Credentials

	err = func() error {
		v.br.mu.Lock()
		defer v.br.mu.Unlock()

		t := v.tree()
		n, err := t.ResolveFollow(path, true)
		if err != nil {
			return err
		}
		if err := c.checkSearch(creds, t, n); err != nil {
			return err
		}
		if n.IsDir() {
			return fserrors.NewIsDirectoryError(path)
		}
		if err := c.eval.Check(creds, n, access.Write); err != nil {
			return withPath(err, path)
		}
		return c.truncateLocked(v.ctx, creds, v.br, n, false, size, path)
	}()
	if err != nil {
		return err
	}
	c.emit(events.Event{Kind: events.Modified, Path: path, Branch: string(v.br.info.ID)})
	return nil
}

// Ftruncate sets the size of the file behind a writable handle.
func (c *Core) Ftruncate(ctx context.Context, pid uint32, hid HandleID, size int64) (err error) {
	ctx, op := c.begin(ctx, "ftruncate", pid, telemetry.Handle(uint64(hid)), telemetry.Size(size))
	defer func() { err = op.end(err) }()

	h, err := c.lookupHandle(hid)
	if err != nil {
		return err
	}
	if !h.write {
		return fserrors.NewInvalidHandleError("handle not open for writing")
	}
	v, err := c.resolveView(ctx, pid)
	if err != nil {
		return err
	}

	orphan, err := func() (bool, error) {
		h.br.mu.Lock()
		defer h.br.mu.Unlock()
		n, orphan, err := c.nodeFor(h)
		if err != nil {
			return false, err
		}
		return orphan, c.truncateLocked(v.ctx, v.binding.Credentials, h.br, n, orphan, size, n.Name)
	}()
	if err != nil {
		return err
	}
	if !orphan {
		c.emit(events.Event{Kind: events.Modified, Path: handlePath(h), Branch: string(h.br.info.ID)})
	}
	return nil
}

// Fsync blocks until the backend reports the handle's content durable.
// Metadata lives in memory, so dataOnly does not change what is flushed.
func (c *Core) Fsync(ctx context.Context, pid uint32, hid HandleID, dataOnly bool) (err error) {
	ctx, op := c.begin(ctx, "fsync", pid, telemetry.Handle(uint64(hid)))
	defer func() { err = op.end(err) }()

	h, err := c.lookupHandle(hid)
	if err != nil {
		return err
	}
	n, _, err := c.nodeFor(h)
	if err != nil {
		return err
	}
	if n.Content == "" {
		return nil
	}
	return c.storageCall(ctx, faults.OpSync, n.Content, n.Name, func(ctx context.Context) error {
		return c.backend.Sync(ctx, n.Content)
	})
}

// Fstat returns the attributes of a handle's node.
func (c *Core) Fstat(ctx context.Context, pid uint32, hid HandleID) (attr Attr, err error) {
	_, op := c.begin(ctx, "fstat", pid, telemetry.Handle(uint64(hid)))
	defer func() { err = op.end(err) }()

	h, err := c.lookupHandle(hid)
	if err != nil {
		return Attr{}, err
	}
	n, _, err := c.nodeFor(h)
	if err != nil {
		return Attr{}, err
	}
	return attrOf(n), nil
}

// Close moves a handle to Closed. Closing the last handle of a file that was
// unlinked while open releases its content.
func (c *Core) Close(ctx context.Context, pid uint32, hid HandleID) (err error) {
	ctx, op := c.begin(ctx, "close", pid, telemetry.Handle(uint64(hid)))
	defer func() { err = op.end(err) }()

	c.mu.Lock()
	h := c.handles[hid]
	if h == nil || !h.closed.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return fserrors.NewInvalidHandleError("unknown or closed handle")
	}
	delete(c.handles, hid)
	key := h.key()
	c.openCount[key]--
	var orphan *graph.Node
	if c.openCount[key] <= 0 {
		delete(c.openCount, key)
		orphan = c.orphans[key]
		delete(c.orphans, key)
	}
	h.br.open.Add(-1)
	c.mu.Unlock()
	c.reportCounts()

	if orphan != nil {
		h.br.mu.Lock()
		c.dropContent(ctx, h.br, orphan.Content)
		h.br.mu.Unlock()
		logger.DebugCtx(ctx, "Released unlinked file", logger.NodeID(uint64(orphan.ID)))
	}
	return nil
}
