package btree

import (
	"bytes"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// PageInfo describes one page (or overflow run) reached by Walk.
type PageInfo struct {
	ID      storage.PageID
	Type    storage.PageType
	Pages   int
	Depth   int
	Entries int
	Used    int
	Dup     bool
}

// WalkFunc is called for every page reached by Walk.
type WalkFunc func(p PageInfo) error

// Walk visits every page of the tree in depth-first order: branches, leaves,
// overflow runs and duplicate subtrees. Named table records are not followed.
func (t *Tree) Walk(fn WalkFunc) error {
	if t.rec.Root == 0 {
		return nil
	}
	return t.walk(t.rec.Root, 1, fn)
}

func (t *Tree) walk(id storage.PageID, depth int, fn WalkFunc) error {
	if depth > maxDepth {
		return storage.Corruptf("walk", "tree deeper than %d pages", maxDepth)
	}
	n, err := t.readNode(id)
	if err != nil {
		return err
	}
	dup := t.pageFlags&storage.PageFlagDupTree != 0
	if err := fn(PageInfo{ID: id, Type: n.Type, Pages: 1, Depth: depth, Entries: n.Len(), Used: n.Size(), Dup: dup}); err != nil {
		return err
	}
	if !n.IsLeaf() {
		for _, child := range n.Children {
			if err := t.walk(child, depth+1, fn); err != nil {
				return err
			}
		}
		return nil
	}
	for i, flags := range n.Flags {
		switch {
		case flags&FlagBig != 0:
			ref, size, err := DecodeRef(n.Vals[i])
			if err != nil {
				return err
			}
			ovf, err := t.pager.Overflow(ref)
			if err != nil {
				return err
			}
			if err := fn(PageInfo{ID: ref, Type: storage.PageTypeOverflow, Pages: ovf.Pages, Depth: depth + 1, Entries: 1, Used: size, Dup: dup}); err != nil {
				return err
			}
		case flags&FlagDupTree != 0:
			sub, err := t.SubTree(n.Vals[i])
			if err != nil {
				return err
			}
			if err := sub.Walk(fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// Tables calls fn for every named table record stored in the tree.
func (t *Tree) Tables(fn func(name []byte, rec storage.TreeRecord) error) error {
	c := t.Cursor()
	ok, err := c.First()
	for ; ok && err == nil; ok, err = c.Next() {
		val, flags := c.Raw()
		if flags&FlagTable == 0 {
			continue
		}
		rec, err := storage.DecodeTreeRecord(val)
		if err != nil {
			return err
		}
		if err := fn(c.Key(), rec); err != nil {
			return err
		}
	}
	return err
}

// verifyStats accumulates what a verification pass counted.
type verifyStats struct {
	entries, branch, leaf, overflow uint64
}

// Verify checks the structural invariants of the tree: keys strictly
// increase, every branch key equals the first key of its child, all leaves
// sit at the recorded depth, and the record counters match the pages found.
// Duplicate subtrees are verified recursively.
func (t *Tree) Verify() error {
	var st verifyStats
	if t.rec.Root != 0 {
		if _, err := t.verify(t.rec.Root, 1, nil, nil, &st); err != nil {
			return err
		}
	} else if t.rec.Depth != 0 {
		return storage.Corruptf("verify", "empty tree with depth %d", t.rec.Depth)
	}
	r := t.rec
	if st.entries != r.Entries || st.branch != r.BranchPages || st.leaf != r.LeafPages || st.overflow != r.OverflowPages {
		return storage.Corruptf("verify",
			"record counts entries=%d branch=%d leaf=%d overflow=%d, found %d/%d/%d/%d",
			r.Entries, r.BranchPages, r.LeafPages, r.OverflowPages, st.entries, st.branch, st.leaf, st.overflow)
	}
	return nil
}

// verify checks the subtree at id, whose keys must lie in [lo, hi) (nil
// meaning unbounded), and returns its first key.
func (t *Tree) verify(id storage.PageID, depth int, lo, hi []byte, st *verifyStats) ([]byte, error) {
	if depth > int(t.rec.Depth) {
		return nil, storage.Corruptf("verify", "page %d below recorded depth %d", id, t.rec.Depth)
	}
	n, err := t.readNode(id)
	if err != nil {
		return nil, err
	}
	if n.Len() == 0 {
		return nil, storage.Corruptf("verify", "page %d is empty", id)
	}
	for i := range n.Keys {
		if i > 0 && t.cmp(n.Keys[i-1], n.Keys[i]) >= 0 {
			return nil, storage.Corruptf("verify", "page %d: keys %d and %d out of order", id, i-1, i)
		}
		if lo != nil && t.cmp(n.Keys[i], lo) < 0 || hi != nil && t.cmp(n.Keys[i], hi) >= 0 {
			return nil, storage.Corruptf("verify", "page %d: key %d outside its parent's range", id, i)
		}
	}

	if n.IsLeaf() {
		if depth != int(t.rec.Depth) {
			return nil, storage.Corruptf("verify", "leaf %d at depth %d, tree depth %d", id, depth, t.rec.Depth)
		}
		st.leaf++
		for i, flags := range n.Flags {
			switch {
			case flags&FlagBig != 0:
				if _, err := t.readOverflow(n.Vals[i]); err != nil {
					return nil, err
				}
				_, size, _ := DecodeRef(n.Vals[i])
				st.overflow += uint64(storage.OverflowPages(t.pager.PageSize(), size))
				st.entries++
			case flags&FlagDupTree != 0:
				sub, err := t.SubTree(n.Vals[i])
				if err != nil {
					return nil, err
				}
				if err := sub.Verify(); err != nil {
					return nil, err
				}
				if sub.rec.Entries == 0 {
					return nil, storage.Corruptf("verify", "page %d: key %d has an empty duplicate subtree", id, i)
				}
				st.entries += sub.rec.Entries
			default:
				st.entries++
			}
		}
		return n.Keys[0], nil
	}

	st.branch++
	for i, child := range n.Children {
		var chi []byte = hi
		if i+1 < n.Len() {
			chi = n.Keys[i+1]
		}
		first, err := t.verify(child, depth+1, n.Keys[i], chi, st)
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(first, n.Keys[i]) {
			return nil, storage.Corruptf("verify", "page %d: separator %d differs from the first key of page %d", id, i, child)
		}
	}
	return n.Keys[0], nil
}
