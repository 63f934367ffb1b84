// Package access decides whether a caller may act on a node: POSIX
// owner/group/other bits plus the sticky, setuid and setgid special cases.
//
// Two failure kinds are kept apart on purpose. Insufficient permission bits
// yield AccessDenied (EACCES). Operations the caller may never perform
// regardless of bits, such as a non-owner chmod, yield OperationNotPermitted
// (EPERM).
package access

import (
	"strings"

	"github.com/marmos91/agentfs/pkg/identity"
	"github.com/marmos91/agentfs/pkg/vfs/graph"
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

// Access is a set of requested permission bits.
type Access uint32

const (
	Execute Access = 1 << iota
	Write
	Read
)

func (a Access) String() string {
	var b strings.Builder
	for _, p := range []struct {
		bit Access
		c   byte
	}{{Read, 'r'}, {Write, 'w'}, {Execute, 'x'}} {
		if a&p.bit != 0 {
			b.WriteByte(p.c)
		} else {
			b.WriteByte('-')
		}
	}
	return b.String()
}

const anyExec = 0o111

// Evaluator applies the permission model. RootBypass lets uid 0 skip bit
// checks; when false, uid 0 is held to the same bits as everyone else.
// Ownership and capability decisions (chmod, chown, sticky) always treat
// uid 0 as privileged.
type Evaluator struct {
	RootBypass bool
}

// IsPrivileged reports whether creds carry the capabilities of uid 0.
func (e Evaluator) IsPrivileged(creds identity.Credentials) bool {
	return creds.IsRoot()
}

// IsOwner reports whether creds own n.
func (e Evaluator) IsOwner(creds identity.Credentials, n *graph.Node) bool {
	return creds.UID == n.UID
}

// classBits returns the rwx triple that applies to creds on n.
func classBits(creds identity.Credentials, n *graph.Node) Access {
	switch {
	case creds.UID == n.UID:
		return Access(n.Mode>>6) & 0o7
	case creds.HasGID(n.GID):
		return Access(n.Mode>>3) & 0o7
	default:
		return Access(n.Mode) & 0o7
	}
}

// Check returns AccessDenied unless creds hold every bit in want on n.
func (e Evaluator) Check(creds identity.Credentials, n *graph.Node, want Access) error {
	if want == 0 {
		return nil
	}
	if e.RootBypass && creds.IsRoot() {
		// Even root cannot execute a regular file with no x bit at all.
		if want&Execute != 0 && n.IsFile() && n.Mode&anyExec == 0 {
			return fserrors.NewAccessDeniedError(n.Name, "no execute bit set")
		}
		return nil
	}
	if classBits(creds, n)&want != want {
		return fserrors.NewAccessDeniedError(n.Name, "permission denied ("+want.String()+")")
	}
	return nil
}

// CheckSticky enforces the sticky-directory rule for removing or renaming
// target out of dir.
func (e Evaluator) CheckSticky(creds identity.Credentials, dir, target *graph.Node) error {
	if dir.Mode&graph.ModeSticky == 0 {
		return nil
	}
	if e.IsPrivileged(creds) || creds.UID == target.UID || creds.UID == dir.UID {
		return nil
	}
	return fserrors.NewNotPermittedError(target.Name, "sticky directory: caller owns neither entry nor directory")
}

// CanChangeMode reports whether creds may chmod n.
func (e Evaluator) CanChangeMode(creds identity.Credentials, n *graph.Node) error {
	if e.IsPrivileged(creds) || e.IsOwner(creds, n) {
		return nil
	}
	return fserrors.NewNotPermittedError(n.Name, "only the owner may change the mode")
}

// SanitizeMode returns the mode a permitted chmod actually stores. Without
// privilege the sticky bit is dropped on non-directories and setgid is
// dropped unless the caller belongs to the file's group.
func (e Evaluator) SanitizeMode(creds identity.Credentials, n *graph.Node, mode uint32) uint32 {
	mode &= graph.ModeMask
	if e.IsPrivileged(creds) {
		return mode
	}
	if !n.IsDir() {
		mode &^= graph.ModeSticky
	}
	if mode&graph.ModeSetgid != 0 && !creds.HasGID(n.GID) {
		mode &^= graph.ModeSetgid
	}
	return mode
}

// Unchanged is the chown sentinel leaving a field as it is.
const Unchanged int64 = -1

// CanChangeOwner reports whether creds may chown n to (uid, gid). A uid
// change requires privilege; an owner may move the file into any group it
// belongs to; everything else by a non-owner is refused.
func (e Evaluator) CanChangeOwner(creds identity.Credentials, n *graph.Node, uid, gid int64) error {
	if uid == Unchanged && gid == Unchanged {
		return nil
	}
	if e.IsPrivileged(creds) {
		return nil
	}
	if uid != Unchanged && uint32(uid) != n.UID {
		return fserrors.NewNotPermittedError(n.Name, "changing the owner requires privilege")
	}
	if !e.IsOwner(creds, n) {
		return fserrors.NewNotPermittedError(n.Name, "only the owner may change the group")
	}
	if gid != Unchanged && !creds.HasGID(uint32(gid)) {
		return fserrors.NewNotPermittedError(n.Name, "caller is not a member of the target group")
	}
	return nil
}

// ClearOnOwnerChange returns n's mode after an effective ownership change:
// setuid and setgid are dropped on everything but directories.
func (e Evaluator) ClearOnOwnerChange(n *graph.Node) uint32 {
	if n.IsDir() {
		return n.Mode
	}
	return n.Mode &^ (graph.ModeSetuid | graph.ModeSetgid)
}

// ClearOnWrite returns a regular file's mode after a data write or
// size-changing truncate by creds, and whether it changed. Writes by any
// uid other than 0 drop setuid and setgid, the owner's included.
func (e Evaluator) ClearOnWrite(creds identity.Credentials, n *graph.Node) (uint32, bool) {
	if !n.IsFile() || creds.IsRoot() {
		return n.Mode, false
	}
	mode := n.Mode &^ (graph.ModeSetuid | graph.ModeSetgid)
	return mode, mode != n.Mode
}

// StripCreateBits computes the mode and group of a node creds create in
// parent. A setgid parent hands down its group, and its setgid bit to new
// directories. Without privilege setuid is dropped, and setgid too unless
// the creator belongs to the resulting group.
func (e Evaluator) StripCreateBits(creds identity.Credentials, parent *graph.Node, mode uint32, kind graph.Kind) (uint32, uint32) {
	mode &= graph.ModeMask
	gid := creds.GID
	if parent.Mode&graph.ModeSetgid != 0 {
		gid = parent.GID
		if kind == graph.KindDirectory {
			mode |= graph.ModeSetgid
		}
	}
	if e.IsPrivileged(creds) {
		return mode, gid
	}
	mode &^= graph.ModeSetuid
	if mode&graph.ModeSetgid != 0 && !creds.HasGID(gid) && kind != graph.KindDirectory {
		mode &^= graph.ModeSetgid
	}
	return mode, gid
}

// CheckSetTimes covers utimensat: explicit timestamps need ownership or
// privilege, "now" additionally accepts write permission.
func (e Evaluator) CheckSetTimes(creds identity.Credentials, n *graph.Node, explicit bool) error {
	if e.IsPrivileged(creds) || e.IsOwner(creds, n) {
		return nil
	}
	if explicit {
		return fserrors.NewNotPermittedError(n.Name, "explicit timestamps require ownership")
	}
	return e.Check(creds, n, Write)
}

// Xattr namespaces.
const (
	NamespaceUser     = "user."
	NamespaceTrusted  = "trusted."
	NamespaceSecurity = "security."
	NamespaceSystem   = "system."
)

// XattrNamespace returns the namespace prefix of name, or "" when name is
// not namespaced.
func XattrNamespace(name string) string {
	for _, ns := range []string{NamespaceUser, NamespaceTrusted, NamespaceSecurity, NamespaceSystem} {
		if strings.HasPrefix(name, ns) && len(name) > len(ns) {
			return ns
		}
	}
	return ""
}

// CheckXattr validates name and checks whether creds may read (write=false)
// or modify (write=true) it on n. user. attributes follow the permission
// bits; the other namespaces are restricted to owner or privilege for
// writes and to privilege for trusted. reads.
func (e Evaluator) CheckXattr(creds identity.Credentials, n *graph.Node, name string, write bool) error {
	ns := XattrNamespace(name)
	switch ns {
	case "":
		return fserrors.NewNotSupportedError("xattr namespace of " + name)
	case NamespaceUser:
		if write && n.IsSymlink() {
			return fserrors.NewNotPermittedError(n.Name, "user attributes are not allowed on symlinks")
		}
		want := Read
		if write {
			want = Write
		}
		return e.Check(creds, n, want)
	case NamespaceTrusted:
		if !e.IsPrivileged(creds) {
			return fserrors.NewNotPermittedError(n.Name, "trusted attributes require privilege")
		}
		return nil
	}
	if write && !e.IsPrivileged(creds) && !e.IsOwner(creds, n) {
		return fserrors.NewNotPermittedError(n.Name, "attribute namespace requires ownership")
	}
	return nil
}
