package vfs

import (
	"context"
	"errors"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/internal/telemetry"
	"github.com/marmos91/agentfs/pkg/storage"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/faults"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
)

// gcPendingThreshold triggers a collection from the unlink path once this
// many dropped shared streams have arrived since the last collection.
const gcPendingThreshold = 256

// nodeKey names a node within one branch.
type nodeKey struct {
	branch BranchID
	id     graph.NodeID
}

// fromBackend translates a storage error into the core taxonomy. Injected
// faults already carry a code and pass through unchanged.
func fromBackend(path string, err error) error {
	switch {
	case err == nil:
		return nil
	case fserrors.CodeOf(err) != 0:
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, storage.ErrNoSpace):
		return fserrors.NewNoSpaceError(path, err)
	case errors.Is(err, storage.ErrInvalidOffset):
		return fserrors.NewInvalidArgumentError(path, err.Error())
	case errors.Is(err, storage.ErrContentNotFound):
		return fserrors.NewIOError(path, "content stream missing from backend", err)
	case errors.Is(err, storage.ErrBackendClosed):
		return fserrors.NewIOError(path, "storage backend closed", err)
	default:
		return fserrors.NewIOError(path, err.Error(), err)
	}
}

// storageCall runs one backend call inside a storage span after consulting
// the fault injector.
func (c *Core) storageCall(ctx context.Context, op faults.Op, id storage.ContentID, path string, fn func(ctx context.Context) error) error {
	ctx, span := telemetry.StartStorageSpan(ctx, string(op), string(id))
	defer span.End()

	if err := c.faults.Check(op); err != nil {
		telemetry.RecordError(ctx, err)
		return err
	}
	if err := fn(ctx); err != nil {
		telemetry.RecordError(ctx, err)
		mapped := fromBackend(path, err)
		// The core only reaches a stream through a node that references it,
		// so a missing stream means lost data. Reads can lose a race with a
		// clone and collection; Read retries and logs itself.
		if errors.Is(err, storage.ErrContentNotFound) {
			if op == faults.OpRead {
				logger.DebugCtx(ctx, "Content stream missing on read",
					logger.ContentID(string(id)), logger.Path(path))
			} else {
				logger.ErrorCtx(ctx, "Content stream missing",
					logger.ContentID(string(id)), logger.Path(path), logger.Err(err))
			}
		}
		return mapped
	}
	return nil
}

// ensureOwned returns n backed by a stream the branch may write: a fresh
// stream for a file that never had content, a clone for a stream still
// shared with a snapshot, or n itself. The caller holds br.mu and must
// publish the returned node even if its own write then fails, so the clone
// is never repeated.
func (c *Core) ensureOwned(ctx context.Context, br *branch, n *graph.Node, path string) (*graph.Node, error) {
	if n.Content != "" {
		if _, ok := br.owned[n.Content]; ok {
			return n, nil
		}
	}

	var id storage.ContentID
	if n.Content == "" {
		err := c.storageCall(ctx, faults.OpAllocate, "", path, func(ctx context.Context) error {
			var err error
			id, err = c.backend.Create(ctx)
			return err
		})
		if err != nil {
			return nil, err
		}
	} else {
		shared := n.Content
		err := c.storageCall(ctx, faults.OpClone, shared, path, func(ctx context.Context) error {
			var err error
			id, err = c.backend.Clone(ctx, shared)
			return err
		})
		if err != nil {
			return nil, err
		}
		c.clones.Add(1)
		if c.metrics != nil {
			c.metrics.RecordClone()
		}
		c.mu.Lock()
		c.pending[shared] = struct{}{}
		c.mu.Unlock()
		logger.DebugCtx(ctx, "Cloned shared stream",
			logger.Path(path), logger.NodeID(uint64(n.ID)),
			"from", string(shared), logger.KeyContentID, string(id))
	}

	br.owned[id] = struct{}{}
	out := n.Clone()
	out.Content = id
	return out, nil
}

// release drops a node that just left the branch tip. Content of a file that
// is still open is parked as an orphan until its last handle closes. Owned
// content is freed at once; shared content waits for the collector. The
// caller holds br.mu.
func (c *Core) release(ctx context.Context, br *branch, n *graph.Node) {
	if n == nil || !n.IsFile() {
		return
	}
	key := nodeKey{branch: br.info.ID, id: n.ID}

	c.mu.Lock()
	if c.openCount[key] > 0 {
		orphan := n.Clone()
		orphan.Nlink = 0
		c.orphans[key] = orphan
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.dropContent(ctx, br, n.Content)
}

// dropContent forgets one reference the branch held to id. The caller holds
// br.mu.
func (c *Core) dropContent(ctx context.Context, br *branch, id storage.ContentID) {
	if id == "" {
		return
	}
	if _, ok := br.owned[id]; ok {
		delete(br.owned, id)
		if err := c.backend.Delete(ctx, id); err != nil {
			logger.WarnCtx(ctx, "Failed to delete content stream", logger.ContentID(string(id)), logger.Err(err))
		}
		return
	}

	c.mu.Lock()
	c.pending[id] = struct{}{}
	if len(c.pending)-c.held >= gcPendingThreshold {
		c.collectLocked(ctx, nil)
	}
	c.mu.Unlock()
}

// collectLocked deletes candidate streams, plus any pending dropped shared
// streams, that no snapshot, branch tip or orphan references anymore.
// Streams still referenced only by branch tips stay pending, since they can
// become garbage without another snapshot going away. The caller holds
// c.mu exclusively. Returns the number of streams freed.
func (c *Core) collectLocked(ctx context.Context, candidates map[storage.ContentID]struct{}) int {
	if candidates == nil {
		candidates = make(map[storage.ContentID]struct{}, len(c.pending))
	}
	for id := range c.pending {
		candidates[id] = struct{}{}
	}
	clear(c.pending)
	if len(candidates) == 0 {
		c.held = 0
		return 0
	}

	inSnapshots := make(map[storage.ContentID]struct{})
	for _, s := range c.snapshots {
		markContent(s.tree, candidates, inSnapshots)
	}
	inTips := make(map[storage.ContentID]struct{})
	for _, br := range c.branches {
		markContent(br.tip.Load(), candidates, inTips)
	}
	for _, n := range c.orphans {
		if _, ok := candidates[n.Content]; ok {
			inTips[n.Content] = struct{}{}
		}
	}

	freed := 0
	for id := range candidates {
		if _, ok := inSnapshots[id]; ok {
			continue
		}
		if _, ok := inTips[id]; ok {
			c.pending[id] = struct{}{}
			continue
		}
		if err := c.backend.Delete(ctx, id); err != nil {
			logger.WarnCtx(ctx, "Failed to delete unreferenced stream", logger.ContentID(string(id)), logger.Err(err))
			continue
		}
		freed++
	}
	c.held = len(c.pending)
	if freed > 0 {
		logger.DebugCtx(ctx, "Collected unreferenced streams", logger.KeyCount, freed)
	}
	return freed
}

// markContent records which candidate streams t references.
func markContent(t *graph.Tree, candidates, into map[storage.ContentID]struct{}) {
	t.Ascend(func(n *graph.Node) bool {
		if n.Content == "" {
			return true
		}
		if _, ok := candidates[n.Content]; ok {
			into[n.Content] = struct{}{}
		}
		return true
	})
}

// treeContent lists every stream t references.
func treeContent(t *graph.Tree) map[storage.ContentID]struct{} {
	out := make(map[storage.ContentID]struct{})
	t.Ascend(func(n *graph.Node) bool {
		if n.Content != "" {
			out[n.Content] = struct{}{}
		}
		return true
	})
	return out
}
