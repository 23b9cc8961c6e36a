package btree

import (
	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// fillThreshold is the fraction (1/fillThreshold) of usable page space below
// which a page is rebalanced.
const fillThreshold = 4

// minKeys returns the fewest entries a non-root page should hold.
func minKeys(n *Node) int {
	if n.IsLeaf() {
		return 1
	}
	return 2
}

func (t *Tree) underflow(n *Node) bool {
	return n.Len() < minKeys(n) || n.Size() < t.usable()/fillThreshold
}

// mergeOrBorrow fixes the underfull child pi of parent. Merging with a
// sibling is preferred; when the two pages do not fit in one, a single entry
// is borrowed from the sibling instead.
func (t *Tree) mergeOrBorrow(parent *Node, pi int, n *Node) error {
	var left, right *Node
	li := pi
	if pi > 0 {
		sib, err := t.touchChild(parent, pi-1)
		if err != nil {
			return err
		}
		left, right, li = sib, n, pi-1
	} else {
		sib, err := t.touchChild(parent, pi+1)
		if err != nil {
			return err
		}
		left, right = n, sib
	}

	if left.Size()+right.Size() <= t.usable() {
		left.appendFrom(right, 0, right.Len())
		parent.remove(li + 1)
		if left.Len() > 0 {
			parent.Keys[li] = left.Keys[0]
		}
		return t.freeNode(right)
	}

	if left == n {
		if right.Len() <= minKeys(right) {
			return nil
		}
		right.moveFirstTo(n)
		parent.Keys[pi] = n.Keys[0]
		parent.Keys[pi+1] = right.Keys[0]
		return nil
	}
	if left.Len() <= minKeys(left) {
		return nil
	}
	left.moveLastTo(n)
	parent.Keys[pi] = n.Keys[0]
	return nil
}

// touchChild copies child i of a writable parent into the dirty set.
func (t *Tree) touchChild(parent *Node, i int) (*Node, error) {
	child, err := t.readNode(parent.Children[i])
	if err != nil {
		return nil, err
	}
	if child, err = t.pager.Touch(child); err != nil {
		return nil, err
	}
	parent.Children[i] = child.ID
	return child, nil
}

// Delete removes key. For sorted-duplicate trees a non-nil val removes only
// that value; otherwise val is ignored and the key with all its values goes.
func (t *Tree) Delete(key, val []byte) error {
	if t.DupSort() && val != nil {
		return t.deleteDup(key, val)
	}

	// Probe first so a miss does not copy the path.
	_, flags, err := t.lookup(key)
	if err != nil {
		return err
	}
	if flags&FlagTable != 0 {
		return storage.NewError(storage.CodeIncompatible, "delete", nil)
	}
	return t.deleteKey(key)
}

// DeleteTable removes a named table record from the main tree. The caller
// frees the table pages.
func (t *Tree) DeleteTable(name []byte) error {
	_, flags, err := t.lookup(name)
	if err != nil {
		return err
	}
	if flags&FlagTable == 0 {
		return storage.NewError(storage.CodeIncompatible, "drop", nil)
	}
	return t.deleteKey(name)
}

// deleteKey removes an existing key together with whatever its node owns.
func (t *Tree) deleteKey(key []byte) error {
	path, err := t.descend(key, true)
	if err != nil {
		return err
	}
	if path == nil {
		return storage.ErrNotFound
	}
	leaf := path[len(path)-1]
	n := leaf.node
	if leaf.idx >= n.Len() || t.cmp(n.Keys[leaf.idx], key) != 0 {
		return storage.ErrNotFound
	}

	entries := uint64(1)
	switch flags := n.Flags[leaf.idx]; {
	case flags&FlagBig != 0:
		if err := t.freeOverflowRef(n.Vals[leaf.idx]); err != nil {
			return err
		}
	case flags&FlagDupTree != 0:
		rec, err := storage.DecodeTreeRecord(n.Vals[leaf.idx])
		if err != nil {
			return err
		}
		entries = rec.Entries
		if err := t.subTree(&rec).Drop(); err != nil {
			return err
		}
	}

	n.remove(leaf.idx)
	t.rec.Entries -= entries
	return t.rebalance(path)
}

// Drop frees every page of the tree and resets its record, keeping the flags.
func (t *Tree) Drop() error {
	if t.rec.Root != 0 {
		if err := t.freePages(t.rec.Root, 0); err != nil {
			return err
		}
	}
	*t.rec = storage.TreeRecord{Flags: t.rec.Flags}
	return nil
}

func (t *Tree) freePages(id storage.PageID, depth int) error {
	if depth >= maxDepth {
		return storage.Corruptf("btree", "tree deeper than %d pages", maxDepth)
	}
	n, err := t.readNode(id)
	if err != nil {
		return err
	}
	if n.IsLeaf() {
		for i, flags := range n.Flags {
			switch {
			case flags&FlagBig != 0:
				if err := t.freeOverflowRef(n.Vals[i]); err != nil {
					return err
				}
			case flags&FlagDupTree != 0:
				rec, err := storage.DecodeTreeRecord(n.Vals[i])
				if err != nil {
					return err
				}
				if err := t.subTree(&rec).Drop(); err != nil {
					return err
				}
			}
		}
	} else {
		for _, child := range n.Children {
			if err := t.freePages(child, depth+1); err != nil {
				return err
			}
		}
	}
	return t.pager.Free(n.ID, 1)
}
