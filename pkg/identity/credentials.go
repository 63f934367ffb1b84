// Package identity holds the resolved caller identity the core evaluates
// permissions against. Credential resolution itself (audit tokens, /proc
// lookups) happens in adapters; the core only receives plain values.
package identity

import (
	"fmt"
	"slices"
)

// RootUID is the privileged user id.
const RootUID uint32 = 0

// Credentials is the uid, primary gid and full supplementary group list of
// a registered process. Values are immutable after construction and safe
// to share across goroutines.
type Credentials struct {
	UID  uint32
	GID  uint32
	GIDs []uint32

	// gidSet is built once by New so HasGID is O(1) without lazy mutation.
	gidSet map[uint32]struct{}
}

// New builds Credentials, deduplicating the supplementary group list.
func New(uid, gid uint32, groups []uint32) Credentials {
	gids := slices.Clone(groups)
	slices.Sort(gids)
	gids = slices.Compact(gids)

	set := make(map[uint32]struct{}, len(gids)+1)
	set[gid] = struct{}{}
	for _, g := range gids {
		set[g] = struct{}{}
	}

	return Credentials{
		UID:    uid,
		GID:    gid,
		GIDs:   gids,
		gidSet: set,
	}
}

// HasGID reports whether gid is the primary group or one of the
// supplementary groups.
func (c Credentials) HasGID(gid uint32) bool {
	if c.gidSet != nil {
		_, ok := c.gidSet[gid]
		return ok
	}
	// Zero-value or hand-built Credentials
	return c.GID == gid || slices.Contains(c.GIDs, gid)
}

// IsRoot reports whether the credentials belong to uid 0.
func (c Credentials) IsRoot() bool {
	return c.UID == RootUID
}

// Equal reports whether two credential sets carry the same ids and groups.
func (c Credentials) Equal(o Credentials) bool {
	return c.UID == o.UID && c.GID == o.GID && slices.Equal(c.GIDs, o.GIDs)
}

func (c Credentials) String() string {
	return fmt.Sprintf("uid=%d gid=%d groups=%v", c.UID, c.GID, c.GIDs)
}
