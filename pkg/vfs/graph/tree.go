package graph

import (
	"sync"
	"time"

	"github.com/google/btree"

	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

const btreeDegree = 32

// cloneMu serializes Tree.Clone. A btree clone rewrites the copy-on-write
// context of its source, and published trees are shared between branches
// and snapshots that may be cloned from different goroutines.
var cloneMu sync.Mutex

// entry is one directory entry in the entry index.
type entry struct {
	Parent NodeID
	Key    string // name folded under the tree's case policy
	Name   string
	Child  NodeID
}

func entryLess(a, b entry) bool {
	if a.Parent != b.Parent {
		return a.Parent < b.Parent
	}
	return a.Key < b.Key
}

func nodeLess(a, b *Node) bool {
	return a.ID < b.ID
}

// Tree is one version of the namespace. A Tree handed to readers must not be
// modified; writers Clone it, mutate the clone and publish the result.
type Tree struct {
	policy  CaseSensitivity
	nodes   *btree.BTreeG[*Node]
	entries *btree.BTreeG[entry]
}

// NewTree returns a tree holding only a root directory.
func NewTree(policy CaseSensitivity, mode, uid, gid uint32, now time.Time) *Tree {
	t := &Tree{
		policy:  policy,
		nodes:   btree.NewG(btreeDegree, nodeLess),
		entries: btree.NewG(btreeDegree, entryLess),
	}
	root := NewNode(KindDirectory, mode, uid, gid, now)
	root.ID = RootID
	root.Parent = RootID
	t.nodes.ReplaceOrInsert(root)
	return t
}

// Clone returns a lazily copied tree. Nodes are shared until replaced.
func (t *Tree) Clone() *Tree {
	cloneMu.Lock()
	defer cloneMu.Unlock()
	return &Tree{
		policy:  t.policy,
		nodes:   t.nodes.Clone(),
		entries: t.entries.Clone(),
	}
}

// Policy returns the tree's case policy.
func (t *Tree) Policy() CaseSensitivity { return t.policy }

// Len returns the number of nodes, root included.
func (t *Tree) Len() int { return t.nodes.Len() }

// Root returns the root directory.
func (t *Tree) Root() *Node {
	n, _ := t.Get(RootID)
	return n
}

// Get returns the node with the given id.
func (t *Tree) Get(id NodeID) (*Node, bool) {
	return t.nodes.Get(&Node{ID: id})
}

// Put replaces a node's attributes. The node must already be in the tree;
// Parent and Name changes go through Rename.
func (t *Tree) Put(n *Node) {
	t.nodes.ReplaceOrInsert(n)
}

// Ascend visits every node in id order until fn returns false.
func (t *Tree) Ascend(fn func(*Node) bool) {
	t.nodes.Ascend(fn)
}

// Lookup returns the child of dir named name.
func (t *Tree) Lookup(dir *Node, name string) (*Node, bool) {
	if !dir.IsDir() {
		return nil, false
	}
	e, ok := t.entries.Get(entry{Parent: dir.ID, Key: foldKey(t.policy, name)})
	if !ok {
		return nil, false
	}
	return t.Get(e.Child)
}

// Children returns dir's children ordered by index key.
func (t *Tree) Children(dir *Node) []*Node {
	var out []*Node
	t.entries.AscendGreaterOrEqual(entry{Parent: dir.ID}, func(e entry) bool {
		if e.Parent != dir.ID {
			return false
		}
		if n, ok := t.Get(e.Child); ok {
			out = append(out, n)
		}
		return true
	})
	return out
}

// IsEmpty reports whether dir has no entries.
func (t *Tree) IsEmpty(dir *Node) bool {
	empty := true
	t.entries.AscendGreaterOrEqual(entry{Parent: dir.ID}, func(e entry) bool {
		empty = e.Parent != dir.ID
		return false
	})
	return empty
}

// PathOf rebuilds the absolute path of a node from its parent chain.
func (t *Tree) PathOf(id NodeID) (string, bool) {
	var parts []string
	for id != RootID {
		n, ok := t.Get(id)
		if !ok {
			return "", false
		}
		parts = append(parts, n.Name)
		id = n.Parent
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return JoinPath(parts...), true
}

// touchDir copies the current version of dir with new mtime/ctime and an
// adjusted link count.
func (t *Tree) touchDir(id NodeID, nlinkDelta int, now time.Time) {
	cur, ok := t.Get(id)
	if !ok {
		return
	}
	d := cur.Clone()
	d.Mtime = now
	d.Ctime = now
	d.Nlink = uint32(int(d.Nlink) + nlinkDelta)
	t.nodes.ReplaceOrInsert(d)
}

// CreateChild links n into parent under name and inserts it. The node's
// identity, kind and attributes are the caller's; Parent and Name are set
// here.
func (t *Tree) CreateChild(parent *Node, name string, n *Node, now time.Time) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if !parent.IsDir() {
		return fserrors.NewNotDirectoryError(parent.Name)
	}
	key := foldKey(t.policy, name)
	if t.entries.Has(entry{Parent: parent.ID, Key: key}) {
		return fserrors.NewAlreadyExistsError(name)
	}

	n.Parent = parent.ID
	n.Name = name
	t.nodes.ReplaceOrInsert(n)
	t.entries.ReplaceOrInsert(entry{Parent: parent.ID, Key: key, Name: name, Child: n.ID})

	delta := 0
	if n.IsDir() {
		delta = 1
	}
	t.touchDir(parent.ID, delta, now)
	return nil
}

// Expect constrains the kind of node RemoveChild may remove.
type Expect uint8

const (
	ExpectAny Expect = iota
	ExpectDirectory
	ExpectNonDirectory
)

// RemoveChild unlinks parent/name and drops the node from the tree. The
// removed node is returned so the caller can release its content.
func (t *Tree) RemoveChild(parent *Node, name string, expect Expect, now time.Time) (*Node, error) {
	if !parent.IsDir() {
		return nil, fserrors.NewNotDirectoryError(parent.Name)
	}
	key := foldKey(t.policy, name)
	e, ok := t.entries.Get(entry{Parent: parent.ID, Key: key})
	if !ok {
		return nil, fserrors.NewNotFoundError(name, "entry")
	}
	n, ok := t.Get(e.Child)
	if !ok {
		return nil, fserrors.NewIOError(name, "dangling directory entry", nil)
	}

	switch expect {
	case ExpectDirectory:
		if !n.IsDir() {
			return nil, fserrors.NewNotDirectoryError(name)
		}
	case ExpectNonDirectory:
		if n.IsDir() {
			return nil, fserrors.NewIsDirectoryError(name)
		}
	}
	if n.IsDir() && !t.IsEmpty(n) {
		return nil, fserrors.NewNotEmptyError(name)
	}

	t.entries.Delete(e)
	t.nodes.Delete(n)

	delta := 0
	if n.IsDir() {
		delta = -1
	}
	t.touchDir(parent.ID, delta, now)
	return n, nil
}

// isAncestor reports whether anc is id or one of its ancestors.
func (t *Tree) isAncestor(anc, id NodeID) bool {
	for {
		if id == anc {
			return true
		}
		if id == RootID {
			return false
		}
		n, ok := t.Get(id)
		if !ok {
			return false
		}
		id = n.Parent
	}
}

// Rename moves srcParent/srcName to dstParent/dstName, replacing a
// compatible destination. The replaced node, if any, is returned.
func (t *Tree) Rename(srcParent *Node, srcName string, dstParent *Node, dstName string, now time.Time) (*Node, error) {
	if err := ValidateName(dstName); err != nil {
		return nil, err
	}
	if !srcParent.IsDir() {
		return nil, fserrors.NewNotDirectoryError(srcParent.Name)
	}
	if !dstParent.IsDir() {
		return nil, fserrors.NewNotDirectoryError(dstParent.Name)
	}

	srcKey := foldKey(t.policy, srcName)
	dstKey := foldKey(t.policy, dstName)
	se, ok := t.entries.Get(entry{Parent: srcParent.ID, Key: srcKey})
	if !ok {
		return nil, fserrors.NewNotFoundError(srcName, "entry")
	}
	src, ok := t.Get(se.Child)
	if !ok {
		return nil, fserrors.NewIOError(srcName, "dangling directory entry", nil)
	}

	// Same entry: only a case-changing rename does anything.
	if srcParent.ID == dstParent.ID && srcKey == dstKey {
		if se.Name == dstName {
			return nil, nil
		}
		se.Name = dstName
		t.entries.ReplaceOrInsert(se)
		moved := src.Clone()
		moved.Name = dstName
		moved.Ctime = now
		t.nodes.ReplaceOrInsert(moved)
		t.touchDir(srcParent.ID, 0, now)
		return nil, nil
	}

	if src.IsDir() && t.isAncestor(src.ID, dstParent.ID) {
		return nil, fserrors.NewInvalidArgumentError(dstName, "cannot move a directory into itself")
	}

	var replaced *Node
	if de, ok := t.entries.Get(entry{Parent: dstParent.ID, Key: dstKey}); ok {
		dst, ok := t.Get(de.Child)
		if !ok {
			return nil, fserrors.NewIOError(dstName, "dangling directory entry", nil)
		}
		switch {
		case src.IsDir() && !dst.IsDir():
			return nil, fserrors.NewNotDirectoryError(dstName)
		case !src.IsDir() && dst.IsDir():
			return nil, fserrors.NewIsDirectoryError(dstName)
		case dst.IsDir() && !t.IsEmpty(dst):
			return nil, fserrors.NewNotEmptyError(dstName)
		}
		t.entries.Delete(de)
		t.nodes.Delete(dst)
		replaced = dst
	}

	t.entries.Delete(se)
	t.entries.ReplaceOrInsert(entry{Parent: dstParent.ID, Key: dstKey, Name: dstName, Child: src.ID})

	moved := src.Clone()
	moved.Parent = dstParent.ID
	moved.Name = dstName
	moved.Ctime = now
	t.nodes.ReplaceOrInsert(moved)

	// Link counts: a moved dir leaves srcParent and joins dstParent; a
	// replaced dir leaves dstParent.
	srcDelta, dstDelta := 0, 0
	if src.IsDir() {
		srcDelta--
		dstDelta++
	}
	if replaced != nil && replaced.IsDir() {
		dstDelta--
	}
	if srcParent.ID == dstParent.ID {
		t.touchDir(srcParent.ID, srcDelta+dstDelta, now)
	} else {
		t.touchDir(srcParent.ID, srcDelta, now)
		t.touchDir(dstParent.ID, dstDelta, now)
	}
	return replaced, nil
}
