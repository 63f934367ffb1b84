package graph

import (
	fserrors "github.com/marmos91/agentfs/pkg/vfs/errors"
)

// Resolve walks path segment by segment without following any symlink. A
// symlink or file in the middle of the path yields NotADirectory.
func (t *Tree) Resolve(path string) (*Node, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	cur := t.Root()
	for _, part := range SplitPath(path) {
		switch part {
		case ".":
			continue
		case "..":
			cur, _ = t.Get(cur.Parent)
			continue
		}
		if !cur.IsDir() {
			return nil, fserrors.NewNotDirectoryError(path)
		}
		next, ok := t.Lookup(cur, part)
		if !ok {
			return nil, fserrors.NewNotFoundError(path, "entry")
		}
		cur = next
	}
	return cur, nil
}

// ResolveFollow walks path expanding symlinks met in the middle of the path,
// and the final one as well when followLast is set. Relative targets resolve
// from the directory holding the link. More than MaxSymlinkHops expansions
// yield InvalidArgument.
func (t *Tree) ResolveFollow(path string, followLast bool) (*Node, error) {
	if err := ValidatePath(path); err != nil {
		return nil, err
	}
	return t.walk(t.Root(), SplitPath(path), followLast, path)
}

func (t *Tree) walk(cur *Node, pending []string, followLast bool, path string) (*Node, error) {
	hops := 0
	for len(pending) > 0 {
		part := pending[0]
		pending = pending[1:]

		switch part {
		case ".":
			continue
		case "..":
			cur, _ = t.Get(cur.Parent)
			continue
		}
		if !cur.IsDir() {
			return nil, fserrors.NewNotDirectoryError(path)
		}
		next, ok := t.Lookup(cur, part)
		if !ok {
			return nil, fserrors.NewNotFoundError(path, "entry")
		}
		if !next.IsSymlink() || (len(pending) == 0 && !followLast) {
			cur = next
			continue
		}

		hops++
		if hops > MaxSymlinkHops {
			return nil, fserrors.NewLoopError(path, "too many levels of symbolic links")
		}
		target := SplitPath(next.Target)
		if len(next.Target) > 0 && next.Target[0] == '/' {
			cur = t.Root()
		}
		pending = append(target, pending...)
	}
	return cur, nil
}

// ResolveParent resolves the directory that holds the last component of
// path, following symlinks along the way, and returns it with the final
// name. The root has no parent entry.
func (t *Tree) ResolveParent(path string) (*Node, string, error) {
	if err := ValidatePath(path); err != nil {
		return nil, "", err
	}
	parts := SplitPath(path)
	if len(parts) == 0 {
		return nil, "", fserrors.NewInvalidArgumentError(path, "path has no final component")
	}
	name := parts[len(parts)-1]
	if name == "." || name == ".." {
		return nil, "", fserrors.NewInvalidArgumentError(path, "invalid final component")
	}
	parent, err := t.walk(t.Root(), parts[:len(parts)-1], true, path)
	if err != nil {
		return nil, "", err
	}
	if !parent.IsDir() {
		return nil, "", fserrors.NewNotDirectoryError(path)
	}
	return parent, name, nil
}
