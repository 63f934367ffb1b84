package vfs

import (
	"context"

	"github.com/marmos91/agentfs/pkg/vfs/graph"
)

// FsStats are the aggregate counters adapters report for statfs.
type FsStats struct {
	Branches    int
	Snapshots   int
	OpenHandles int

	ResidentBytes uint64
	SpilledBytes  uint64
	Streams       uint64
	Clones        uint64

	BlockSize uint32
	NameMax   uint32
}

// Statfs returns aggregate counters for the whole filesystem.
func (c *Core) Statfs(ctx context.Context) (stats FsStats, err error) {
	ctx, op := c.beginControl(ctx, "statfs")
	defer func() { err = op.end(err) }()

	c.mu.RLock()
	stats = FsStats{
		Branches:    len(c.branches),
		Snapshots:   len(c.snapshots),
		OpenHandles: len(c.handles),
		Clones:      c.clones.Load(),
		BlockSize:   4096,
		NameMax:     graph.MaxNameLen,
	}
	c.mu.RUnlock()

	bs, err := c.backend.Stats(ctx)
	if err != nil {
		return FsStats{}, fromBackend("", err)
	}
	stats.ResidentBytes = bs.ResidentBytes
	stats.SpilledBytes = bs.SpilledBytes
	stats.Streams = bs.Streams
	return stats, nil
}
