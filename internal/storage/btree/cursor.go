package btree

import (
	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Cursor walks the entries of one tree in key order. Its position is the
// stack of (page, index) frames from the root to the current leaf entry.
// A cursor reads pages as they were when it was positioned; after the tree
// is modified it must be positioned again.
type Cursor struct {
	tree  *Tree
	stack []frame
}

// Cursor returns an unpositioned cursor over t.
func (t *Tree) Cursor() *Cursor {
	return &Cursor{tree: t}
}

// Tree returns the tree the cursor walks.
func (c *Cursor) Tree() *Tree {
	return c.tree
}

// Valid reports whether the cursor is on an entry.
func (c *Cursor) Valid() bool {
	if len(c.stack) == 0 {
		return false
	}
	leaf := c.stack[len(c.stack)-1]
	return leaf.idx >= 0 && leaf.idx < leaf.node.Len()
}

// Reset unpositions the cursor.
func (c *Cursor) Reset() {
	c.stack = c.stack[:0]
}

// Key returns the key at the cursor.
func (c *Cursor) Key() []byte {
	leaf := c.stack[len(c.stack)-1]
	return leaf.node.Keys[leaf.idx]
}

// Raw returns the node data and flags at the cursor.
func (c *Cursor) Raw() ([]byte, uint8) {
	leaf := c.stack[len(c.stack)-1]
	return leaf.node.Vals[leaf.idx], leaf.node.Flags[leaf.idx]
}

// Value returns the value at the cursor, reading overflow runs. For a
// sorted-duplicate key it is the first value.
func (c *Cursor) Value() ([]byte, error) {
	val, flags := c.Raw()
	return c.tree.resolve(val, flags)
}

// Path returns the page numbers from the root to the current leaf.
func (c *Cursor) Path() []storage.PageID {
	ids := make([]storage.PageID, len(c.stack))
	for i, f := range c.stack {
		ids[i] = f.node.ID
	}
	return ids
}

// First moves to the first entry. It returns false on an empty tree.
func (c *Cursor) First() (bool, error) {
	c.Reset()
	if c.tree.rec.Root == 0 {
		return false, nil
	}
	return c.descendEdge(c.tree.rec.Root, false)
}

// Last moves to the last entry. It returns false on an empty tree.
func (c *Cursor) Last() (bool, error) {
	c.Reset()
	if c.tree.rec.Root == 0 {
		return false, nil
	}
	return c.descendEdge(c.tree.rec.Root, true)
}

// descendEdge pushes frames from id down to its first or last leaf entry.
func (c *Cursor) descendEdge(id storage.PageID, last bool) (bool, error) {
	for {
		if len(c.stack) >= maxDepth {
			return false, storage.Corruptf("cursor", "descent deeper than %d pages", maxDepth)
		}
		n, err := c.tree.readNode(id)
		if err != nil {
			return false, err
		}
		idx := 0
		if last {
			idx = n.Len() - 1
		}
		c.stack = append(c.stack, frame{node: n, idx: idx})
		if n.IsLeaf() {
			return n.Len() > 0, nil
		}
		id = n.Children[idx]
	}
}

// Next moves to the following entry. At the end it returns false and keeps
// the cursor where it was.
func (c *Cursor) Next() (bool, error) {
	if len(c.stack) == 0 {
		return c.First()
	}
	l := len(c.stack) - 1
	for ; l >= 0; l-- {
		if c.stack[l].idx+1 < c.stack[l].node.Len() {
			break
		}
	}
	if l < 0 {
		return false, nil
	}
	c.stack[l].idx++
	if c.stack[l].node.IsLeaf() {
		return true, nil
	}
	child := c.stack[l].node.Children[c.stack[l].idx]
	c.stack = c.stack[:l+1]
	return c.descendEdge(child, false)
}

// Prev moves to the preceding entry. At the start it returns false and keeps
// the cursor where it was.
func (c *Cursor) Prev() (bool, error) {
	if len(c.stack) == 0 {
		return c.Last()
	}
	l := len(c.stack) - 1
	for ; l >= 0; l-- {
		if c.stack[l].idx > 0 {
			break
		}
	}
	if l < 0 {
		return false, nil
	}
	c.stack[l].idx--
	if c.stack[l].node.IsLeaf() {
		return true, nil
	}
	child := c.stack[l].node.Children[c.stack[l].idx]
	c.stack = c.stack[:l+1]
	return c.descendEdge(child, true)
}

// Seek moves to the first entry whose key is >= key. ok is false when no
// such entry exists; exact reports an equal key.
func (c *Cursor) Seek(key []byte) (ok, exact bool, err error) {
	c.Reset()
	t := c.tree
	if t.rec.Root == 0 {
		return false, false, nil
	}
	id := t.rec.Root
	for {
		if len(c.stack) >= maxDepth {
			return false, false, storage.Corruptf("cursor", "descent deeper than %d pages", maxDepth)
		}
		n, err := t.readNode(id)
		if err != nil {
			return false, false, err
		}
		if n.IsLeaf() {
			i, eq := t.leafSearch(n, key)
			if i < n.Len() {
				c.stack = append(c.stack, frame{node: n, idx: i})
				return true, eq, nil
			}
			// Every key of this leaf is smaller; the answer starts the next leaf.
			c.stack = append(c.stack, frame{node: n, idx: n.Len() - 1})
			ok, err := c.Next()
			if err != nil || !ok {
				c.Reset()
				return false, false, err
			}
			return true, t.cmp(c.Key(), key) == 0, nil
		}
		i := t.branchSearch(n, key)
		c.stack = append(c.stack, frame{node: n, idx: i})
		id = n.Children[i]
	}
}
