package graph

import (
	"maps"
	"sync/atomic"
	"time"

	"github.com/marmos91/agentfs/pkg/storage"
)

// NodeID identifies a node. IDs are unique for the lifetime of the process
// and are never reused.
type NodeID uint64

// RootID is the id of the root directory in every tree.
const RootID NodeID = 1

var lastID atomic.Uint64

func init() {
	lastID.Store(uint64(RootID))
}

// NewID allocates a fresh NodeID.
func NewID() NodeID {
	return NodeID(lastID.Add(1))
}

// Kind is the node type.
type Kind uint8

const (
	KindFile Kind = iota + 1
	KindDirectory
	KindSymlink
)

func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	default:
		return "unknown"
	}
}

// Permission and special mode bits.
const (
	ModeSetuid uint32 = 0o4000
	ModeSetgid uint32 = 0o2000
	ModeSticky uint32 = 0o1000
	ModePerm   uint32 = 0o777
	ModeMask   uint32 = 0o7777
)

// allocUnit is the allocation granularity reported through Blocks.
const allocUnit = 4096

// Node is one filesystem entry. Nodes reachable from a published Tree are
// immutable: callers mutate a Clone and Put it into a cloned Tree.
type Node struct {
	ID     NodeID
	Kind   Kind
	Parent NodeID // RootID's parent is itself
	Name   string // entry name with original spelling; "" for the root

	Mode uint32 // permission and special bits (ModeMask)
	UID  uint32
	GID  uint32
	Size int64

	Atime     time.Time
	Mtime     time.Time
	Ctime     time.Time
	Birthtime time.Time

	// Nlink is 2 plus the number of subdirectories for directories, 1
	// otherwise.
	Nlink uint32

	Xattrs map[string][]byte

	Content storage.ContentID // files only
	Target  string            // symlinks only
}

// Clone returns a copy safe to mutate. Xattr values are shared since they
// are replaced, never modified in place.
func (n *Node) Clone() *Node {
	c := *n
	if n.Xattrs != nil {
		c.Xattrs = maps.Clone(n.Xattrs)
	}
	return &c
}

func (n *Node) IsDir() bool     { return n.Kind == KindDirectory }
func (n *Node) IsFile() bool    { return n.Kind == KindFile }
func (n *Node) IsSymlink() bool { return n.Kind == KindSymlink }

// Blocks returns the allocated size in 512-byte units, rounded up to whole
// 4 KiB allocation units.
func (n *Node) Blocks() uint64 {
	switch n.Kind {
	case KindDirectory:
		return allocUnit / 512
	case KindSymlink:
		return 0
	}
	if n.Size <= 0 {
		return 0
	}
	units := (uint64(n.Size) + allocUnit - 1) / allocUnit
	return units * (allocUnit / 512)
}

// NewNode builds a node of the given kind with all timestamps set to now.
func NewNode(kind Kind, mode, uid, gid uint32, now time.Time) *Node {
	n := &Node{
		ID:        NewID(),
		Kind:      kind,
		Mode:      mode & ModeMask,
		UID:       uid,
		GID:       gid,
		Atime:     now,
		Mtime:     now,
		Ctime:     now,
		Birthtime: now,
		Nlink:     1,
	}
	if kind == KindDirectory {
		n.Nlink = 2
	}
	return n
}
