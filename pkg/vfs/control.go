package vfs

import (
	"cmp"
	"context"
	"maps"
	"slices"

	"github.com/google/uuid"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/internal/telemetry"
	"github.com/marmos91/agentfs/pkg/identity"
	"github.com/marmos91/agentfs/pkg/storage"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/events"
)

// SnapshotCreate captures the current tip of a branch. The capture is a
// pointer copy; the branch's owned streams become shared with the snapshot
// and are cloned again on their next write.
func (c *Core) SnapshotCreate(ctx context.Context, branchID BranchID, name string) (id SnapshotID, err error) {
	ctx, op := c.beginControl(ctx, "snapshot_create", telemetry.Branch(string(branchID)))
	defer func() { err = op.end(err) }()

	br, err := c.lookupBranch(branchID)
	if err != nil {
		return "", err
	}

	snap := &snapshot{info: SnapshotInfo{
		ID:        SnapshotID(uuid.NewString()),
		Name:      name,
		Parent:    branchID,
		CreatedAt: c.now(),
	}}

	br.mu.Lock()
	c.mu.Lock()
	if c.branches[branchID] != br {
		c.mu.Unlock()
		br.mu.Unlock()
		return "", fserrors.NewNotFoundError(string(branchID), "branch")
	}
	if name != "" && c.snapshotNamed(name) {
		c.mu.Unlock()
		br.mu.Unlock()
		return "", fserrors.NewAlreadyExistsError(name)
	}
	snap.tree = br.tip.Load()
	c.snapshots[snap.info.ID] = snap
	c.mu.Unlock()
	clear(br.owned)
	br.mu.Unlock()

	c.reportCounts()
	logger.InfoCtx(ctx, "Snapshot created",
		logger.Snapshot(string(snap.info.ID)), logger.Branch(string(branchID)), "name", name)
	c.emit(events.Event{Kind: events.SnapshotCreated, ID: string(snap.info.ID), Name: name, Branch: string(branchID)})
	return snap.info.ID, nil
}

// snapshotNamed reports whether a snapshot already uses name. The caller
// holds c.mu.
func (c *Core) snapshotNamed(name string) bool {
	for _, s := range c.snapshots {
		if s.info.Name == name {
			return true
		}
	}
	return false
}

// BranchCreate starts a writable branch from a snapshot. Branch names, when
// given, are unique.
func (c *Core) BranchCreate(ctx context.Context, snapshotID SnapshotID, name string) (id BranchID, err error) {
	ctx, op := c.beginControl(ctx, "branch_create", telemetry.Snapshot(string(snapshotID)))
	defer func() { err = op.end(err) }()

	c.mu.Lock()
	snap, ok := c.snapshots[snapshotID]
	if !ok {
		c.mu.Unlock()
		return "", fserrors.NewNotFoundError(string(snapshotID), "snapshot")
	}
	if name != "" {
		for _, b := range c.branches {
			if b.info.Name == name {
				c.mu.Unlock()
				return "", fserrors.NewAlreadyExistsError(name)
			}
		}
	}
	br := c.newBranch(name, snapshotID, snap.tree)
	c.branches[br.info.ID] = br
	c.mu.Unlock()

	c.reportCounts()
	logger.InfoCtx(ctx, "Branch created",
		logger.Branch(string(br.info.ID)), logger.Snapshot(string(snapshotID)), "name", name)
	c.emit(events.Event{Kind: events.BranchCreated, ID: string(br.info.ID), Name: name, Branch: string(br.info.ID)})
	return br.info.ID, nil
}

// BranchBind moves pid to branchID for all of its later operations. Handles
// the process already holds stay on their original branch.
func (c *Core) BranchBind(ctx context.Context, pid uint32, branchID BranchID) (err error) {
	ctx, op := c.beginControl(ctx, "branch_bind", telemetry.PID(pid), telemetry.Branch(string(branchID)))
	defer func() { err = op.end(err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.branches[branchID]; !ok {
		return fserrors.NewNotFoundError(string(branchID), "branch")
	}
	b := c.procs.Bind(pid, string(branchID))
	logger.InfoCtx(ctx, "Process bound to branch",
		logger.PID(pid), logger.Branch(string(branchID)), "generation", b.Generation)
	return nil
}

// BranchRebindAll moves every process bound to from onto to, typically
// before deleting from. It returns how many processes moved.
func (c *Core) BranchRebindAll(ctx context.Context, from, to BranchID) (moved int, err error) {
	ctx, op := c.beginControl(ctx, "branch_rebind_all", telemetry.Branch(string(from)))
	defer func() { err = op.end(err) }()

	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, id := range []BranchID{from, to} {
		if _, ok := c.branches[id]; !ok {
			return 0, fserrors.NewNotFoundError(string(id), "branch")
		}
	}
	moved = c.procs.Rebind(string(from), string(to))
	logger.InfoCtx(ctx, "Processes rebound",
		"from", string(from), "to", string(to), logger.KeyCount, moved)
	return moved, nil
}

// BranchList returns all branches, oldest first.
func (c *Core) BranchList(ctx context.Context) []BranchInfo {
	c.mu.RLock()
	out := make([]BranchInfo, 0, len(c.branches))
	for _, br := range c.branches {
		out = append(out, br.info)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b BranchInfo) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// SnapshotList returns all snapshots, oldest first.
func (c *Core) SnapshotList(ctx context.Context) []SnapshotInfo {
	c.mu.RLock()
	out := make([]SnapshotInfo, 0, len(c.snapshots))
	for _, s := range c.snapshots {
		out = append(out, s.info)
	}
	c.mu.RUnlock()
	slices.SortFunc(out, func(a, b SnapshotInfo) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID, b.ID))
	})
	return out
}

// BranchDelete removes a branch and frees the streams nothing else
// references. The root branch, and branches with bound processes or open
// handles, are ResourceBusy.
func (c *Core) BranchDelete(ctx context.Context, branchID BranchID) (err error) {
	ctx, op := c.beginControl(ctx, "branch_delete", telemetry.Branch(string(branchID)))
	defer func() { err = op.end(err) }()

	if branchID == c.rootBranch {
		return fserrors.NewBusyError(string(branchID), "the root branch cannot be deleted")
	}
	br, err := c.lookupBranch(branchID)
	if err != nil {
		return err
	}

	br.mu.Lock()
	defer br.mu.Unlock()
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.branches[branchID] != br {
		return fserrors.NewNotFoundError(string(branchID), "branch")
	}
	if n := c.procs.CountBoundTo(string(branchID)); n > 0 {
		return fserrors.NewBusyError(string(branchID), "processes are bound to the branch")
	}
	if br.open.Load() > 0 {
		return fserrors.NewBusyError(string(branchID), "the branch has open handles")
	}

	delete(c.branches, branchID)
	candidates := treeContent(br.tip.Load())
	maps.Copy(candidates, br.owned)
	clear(br.owned)
	freed := c.collectLocked(ctx, candidates)

	if c.metrics != nil {
		c.metrics.SetBranches(len(c.branches))
	}
	logger.InfoCtx(ctx, "Branch deleted", logger.Branch(string(branchID)), "freed_streams", freed)
	return nil
}

// SnapshotDelete removes a snapshot. Branches created from it keep their
// trees; streams referenced by nothing else are freed.
func (c *Core) SnapshotDelete(ctx context.Context, snapshotID SnapshotID) (err error) {
	ctx, op := c.beginControl(ctx, "snapshot_delete", telemetry.Snapshot(string(snapshotID)))
	defer func() { err = op.end(err) }()

	c.mu.Lock()
	defer c.mu.Unlock()

	snap, ok := c.snapshots[snapshotID]
	if !ok {
		return fserrors.NewNotFoundError(string(snapshotID), "snapshot")
	}
	delete(c.snapshots, snapshotID)
	freed := c.collectLocked(ctx, treeContent(snap.tree))

	if c.metrics != nil {
		c.metrics.SetSnapshots(len(c.snapshots))
	}
	logger.InfoCtx(ctx, "Snapshot deleted", logger.Snapshot(string(snapshotID)), "freed_streams", freed)
	return nil
}

// CollectGarbage frees dropped streams that no snapshot, branch or open
// handle references anymore, and returns how many it freed.
func (c *Core) CollectGarbage(ctx context.Context) (freed int, err error) {
	ctx, op := c.beginControl(ctx, "collect_garbage")
	defer func() { err = op.end(err) }()

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.collectLocked(ctx, make(map[storage.ContentID]struct{})), nil
}

// RegisterProcessWithGroups records the credentials of pid. Re-registering
// with identical credentials is a no-op; new credentials take effect for
// later operations.
func (c *Core) RegisterProcessWithGroups(ctx context.Context, pid, uid, gid uint32, groups []uint32) (err error) {
	ctx, op := c.beginControl(ctx, "register_process", telemetry.PID(pid), telemetry.UID(uid), telemetry.GID(gid))
	defer func() { err = op.end(err) }()

	b := c.procs.RegisterWithGroups(pid, identity.New(uid, gid, groups))
	logger.DebugCtx(ctx, "Process registered",
		logger.PID(pid), logger.Branch(b.Branch), "credentials", b.Credentials.String())
	return nil
}

// UnregisterProcess forgets pid. Operations already past view resolution
// finish with the binding they resolved.
func (c *Core) UnregisterProcess(ctx context.Context, pid uint32) (err error) {
	ctx, op := c.beginControl(ctx, "unregister_process", telemetry.PID(pid))
	defer func() { err = op.end(err) }()

	if !c.procs.Unregister(pid) {
		return fserrors.NewNotFoundError("", "process")
	}
	logger.DebugCtx(ctx, "Process unregistered", logger.PID(pid))
	return nil
}

// ResolveView returns the branch pid currently observes, registering the
// process with default credentials on first contact.
func (c *Core) ResolveView(pid uint32) BranchID {
	return BranchID(c.procs.Resolve(pid).Branch)
}

// SubscribeEvents registers a sink for committed changes.
func (c *Core) SubscribeEvents(sink events.Sink) (events.SubscriptionID, error) {
	return c.events.Subscribe(sink)
}

// UnsubscribeEvents removes a sink.
func (c *Core) UnsubscribeEvents(id events.SubscriptionID) error {
	return c.events.Unsubscribe(id)
}
