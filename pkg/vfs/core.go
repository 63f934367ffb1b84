// Package vfs is the AgentFS operation engine. A Core owns the branches and
// snapshots of one filesystem, resolves every call to the branch its process
// is bound to, checks permissions, applies copy-on-write mutations against a
// storage.Backend and reports committed changes to event sinks.
//
// Readers never lock: each branch publishes its current graph.Tree through
// an atomic pointer. Writers to one branch serialize on that branch's mutex,
// build a new tree version and publish it with a single store.
package vfs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/marmos91/agentfs/internal/logger"
	"github.com/marmos91/agentfs/pkg/identity"
	"github.com/marmos91/agentfs/pkg/metrics"
	"github.com/marmos91/agentfs/pkg/storage"
	"github.com/marmos91/agentfs/pkg/vfs/access"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
	"github.com/marmos91/agentfs/pkg/vfs/events"
	"github.com/marmos91/agentfs/pkg/vfs/faults"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
	"github.com/marmos91/agentfs/pkg/vfs/process"
)

// BranchID identifies a branch.
type BranchID string

// SnapshotID identifies a snapshot.
type SnapshotID string

// HandleID identifies an open file handle.
type HandleID uint64

// RootBranchName is the name of the branch every Core starts with.
const RootBranchName = "main"

// CacheTTL carries metadata cache lifetimes for adapters. The core does not
// cache anything itself; it only hands these values through.
type CacheTTL struct {
	Attr     time.Duration
	Entry    time.Duration
	Negative time.Duration
}

// RootOwner is the ownership and mode of "/".
type RootOwner struct {
	UID  uint32
	GID  uint32
	Mode uint32
}

// Options configures a Core.
type Options struct {
	// Backend stores file contents. Required.
	Backend storage.Backend

	CaseSensitivity graph.CaseSensitivity

	// TrackEvents enables the event dispatcher. When false, subscribing
	// fails with EventsDisabled and nothing is emitted.
	TrackEvents bool

	// RootBypassPermissions lets uid 0 skip permission bit checks.
	RootBypassPermissions bool

	CacheTTL CacheTTL

	// DefaultCredentials are assigned to processes that were never
	// registered.
	DefaultCredentials identity.Credentials

	Root RootOwner

	// Faults is nil in production.
	Faults *faults.Injector

	// Metrics is optional; nil disables metric collection.
	Metrics metrics.CoreMetrics

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// BranchInfo describes a branch.
type BranchInfo struct {
	ID        BranchID
	Name      string
	Base      SnapshotID
	CreatedAt time.Time
}

// SnapshotInfo describes a snapshot.
type SnapshotInfo struct {
	ID        SnapshotID
	Name      string
	Parent    BranchID
	CreatedAt time.Time
}

// branch is a mutable line of trees. tip is read without locking; mu
// serializes writers, guards owned and orders content writes against
// snapshot capture.
type branch struct {
	info BranchInfo

	tip atomic.Pointer[graph.Tree]

	mu sync.Mutex
	// owned holds streams created or cloned by this branch since its last
	// snapshot. Anything else a node references is shared and must be
	// cloned before it is written.
	owned map[storage.ContentID]struct{}

	// open counts handles bound to this branch.
	open atomic.Int64
}

type snapshot struct {
	info SnapshotInfo
	tree *graph.Tree
}

// Core is the filesystem engine.
type Core struct {
	backend  storage.Backend
	policy   graph.CaseSensitivity
	eval     access.Evaluator
	procs    *process.Registry
	events   *events.Dispatcher
	faults   *faults.Injector
	metrics  metrics.CoreMetrics
	cacheTTL CacheTTL
	now      func() time.Time

	rootBranch BranchID

	// mu guards branches, snapshots and the handle tables below. Lock order
	// is branch.mu before mu.
	mu        sync.RWMutex
	branches  map[BranchID]*branch
	snapshots map[SnapshotID]*snapshot
	handles   map[HandleID]*handle
	openCount map[nodeKey]int
	orphans   map[nodeKey]*graph.Node
	// pending holds shared streams a branch stopped referencing; the
	// collector frees them once no snapshot or branch needs them.
	pending map[storage.ContentID]struct{}
	// held counts the pending streams the last collection kept because a
	// branch tip or orphan still references them.
	held int

	nextHandle atomic.Uint64
	clones     atomic.Uint64
	closed     atomic.Bool

	// afterLookup runs between an unlocked open's resolution and handle
	// registration. Tests only.
	afterLookup func()
}

// New creates a Core with a single root branch holding an empty "/".
func New(opts Options) (*Core, error) {
	if opts.Backend == nil {
		return nil, errors.New("vfs: storage backend is required")
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	rootMode := opts.Root.Mode & graph.ModeMask
	if rootMode == 0 {
		rootMode = 0o755
	}

	c := &Core{
		backend:   opts.Backend,
		policy:    opts.CaseSensitivity,
		eval:      access.Evaluator{RootBypass: opts.RootBypassPermissions},
		events:    events.NewDispatcher(opts.TrackEvents),
		faults:    opts.Faults,
		metrics:   opts.Metrics,
		cacheTTL:  opts.CacheTTL,
		now:       now,
		branches:  make(map[BranchID]*branch),
		snapshots: make(map[SnapshotID]*snapshot),
		handles:   make(map[HandleID]*handle),
		openCount: make(map[nodeKey]int),
		orphans:   make(map[nodeKey]*graph.Node),
		pending:   make(map[storage.ContentID]struct{}),
	}

	root := c.newBranch(RootBranchName, "", graph.NewTree(opts.CaseSensitivity, rootMode, opts.Root.UID, opts.Root.GID, now()))
	c.rootBranch = root.info.ID
	c.branches[root.info.ID] = root
	c.procs = process.NewRegistry(opts.DefaultCredentials, string(root.info.ID))
	c.reportCounts()

	logger.Info("Filesystem core created",
		logger.Branch(string(root.info.ID)),
		"case_sensitivity", opts.CaseSensitivity.String(),
		"track_events", opts.TrackEvents,
		"root_bypass", opts.RootBypassPermissions)
	return c, nil
}

func (c *Core) newBranch(name string, base SnapshotID, tree *graph.Tree) *branch {
	br := &branch{
		info: BranchInfo{
			ID:        BranchID(uuid.NewString()),
			Name:      name,
			Base:      base,
			CreatedAt: c.now(),
		},
		owned: make(map[storage.ContentID]struct{}),
	}
	br.tip.Store(tree)
	return br
}

// Shutdown closes the storage backend. Operations after Shutdown fail with
// IoError from the backend.
func (c *Core) Shutdown(ctx context.Context) error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.RLock()
	open := len(c.handles)
	c.mu.RUnlock()
	if open > 0 {
		logger.WarnCtx(ctx, "Shutting down with open handles", logger.KeyCount, open)
	}
	if err := c.backend.Close(); err != nil {
		return fmt.Errorf("close storage backend: %w", err)
	}
	return nil
}

// RootBranch returns the id of the branch created with the Core.
func (c *Core) RootBranch() BranchID { return c.rootBranch }

// CacheTTL returns the configured adapter cache lifetimes.
func (c *Core) CacheTTL() CacheTTL { return c.cacheTTL }

// Clones returns how many copy-on-write stream clones the Core performed.
func (c *Core) Clones() uint64 { return c.clones.Load() }

// lookupBranch returns a live branch.
func (c *Core) lookupBranch(id BranchID) (*branch, error) {
	c.mu.RLock()
	br, ok := c.branches[id]
	c.mu.RUnlock()
	if !ok {
		return nil, fserrors.NewNotFoundError(string(id), "branch")
	}
	return br, nil
}

// reportCounts refreshes the branch, snapshot and handle gauges.
func (c *Core) reportCounts() {
	if c.metrics == nil {
		return
	}
	c.mu.RLock()
	b, s, h := len(c.branches), len(c.snapshots), len(c.handles)
	c.mu.RUnlock()
	c.metrics.SetBranches(b)
	c.metrics.SetSnapshots(s)
	c.metrics.SetOpenHandles(h)
}

// emit hands a committed change to the dispatcher.
func (c *Core) emit(ev events.Event) {
	if !c.events.Enabled() {
		return
	}
	c.events.Emit(ev)
	if c.metrics != nil {
		c.metrics.RecordEvent(ev.Kind.String())
	}
}
