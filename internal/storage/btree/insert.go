package btree

import (
	"bytes"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Put stores val under key.
func (t *Tree) Put(key, val []byte, flags PutFlags) error {
	if t.DupSort() {
		return t.putDup(key, val, flags)
	}
	buf, err := t.Reserve(key, len(val), flags)
	if err != nil {
		return err
	}
	copy(buf, val)
	return nil
}

// Reserve stores a value of size bytes under key and returns the buffer
// holding it, to be filled by the caller before the next tree operation.
func (t *Tree) Reserve(key []byte, size int, flags PutFlags) ([]byte, error) {
	if t.DupSort() {
		return nil, storage.NewError(storage.CodeIncompatible, "reserve", nil)
	}
	if err := t.checkKey(key); err != nil {
		return nil, err
	}

	path, err := t.descend(key, true)
	if err != nil {
		return nil, err
	}
	if path == nil {
		data, buf, vflags, err := t.newValue(key, size)
		if err != nil {
			return nil, err
		}
		if err := t.newRoot(key, data, vflags); err != nil {
			return nil, err
		}
		return buf, nil
	}

	leaf := &path[len(path)-1]
	n := leaf.node
	exact := leaf.idx < n.Len() && t.cmp(n.Keys[leaf.idx], key) == 0

	if flags&Append != 0 && (exact || !t.isTail(path, false)) {
		return nil, storage.NewError(storage.CodeKeyExist, "append", nil)
	}

	if exact {
		if flags&NoOverwrite != 0 {
			return nil, storage.ErrKeyExist
		}
		old := n.Flags[leaf.idx]
		if old&(FlagTable|FlagDupTree) != 0 {
			return nil, storage.NewError(storage.CodeIncompatible, "put", nil)
		}
		if old&FlagBig != 0 {
			if err := t.freeOverflowRef(n.Vals[leaf.idx]); err != nil {
				return nil, err
			}
		}
		data, buf, vflags, err := t.newValue(key, size)
		if err != nil {
			return nil, err
		}
		n.Vals[leaf.idx] = data
		n.Flags[leaf.idx] = vflags
		return buf, t.rebalance(path)
	}

	data, buf, vflags, err := t.newValue(key, size)
	if err != nil {
		return nil, err
	}
	n.insertLeaf(leaf.idx, cloneBytes(key), data, vflags)
	t.rec.Entries++
	return buf, t.rebalance(path)
}

// PutTable stores a named table record in the main tree.
func (t *Tree) PutTable(name []byte, rec *storage.TreeRecord) error {
	if err := t.checkKey(name); err != nil {
		return err
	}
	path, err := t.descend(name, true)
	if err != nil {
		return err
	}
	if path == nil {
		return t.newRoot(name, rec.Bytes(), FlagTable)
	}
	leaf := &path[len(path)-1]
	n := leaf.node
	if leaf.idx < n.Len() && t.cmp(n.Keys[leaf.idx], name) == 0 {
		if n.Flags[leaf.idx]&FlagTable == 0 {
			return storage.NewError(storage.CodeIncompatible, "table", nil)
		}
		n.Vals[leaf.idx] = rec.Bytes()
		return t.rebalance(path)
	}
	n.insertLeaf(leaf.idx, cloneBytes(name), rec.Bytes(), FlagTable)
	t.rec.Entries++
	return t.rebalance(path)
}

// newValue prepares the leaf data for a value of size bytes: inline when the
// node fits, otherwise an overflow run. buf is where the value bytes go.
func (t *Tree) newValue(key []byte, size int) (data, buf []byte, flags uint8, err error) {
	if storage.NodeOffsetSize+storage.LeafNodeHeaderSize+len(key)+size <= t.maxNode() {
		data = make([]byte, size)
		return data, data, 0, nil
	}
	ovf, err := t.allocOverflow(size)
	if err != nil {
		return nil, nil, 0, err
	}
	return encodeRef(ovf.ID, size), ovf.Data[storage.PageHeaderSize : storage.PageHeaderSize+size], FlagBig, nil
}

// newRoot creates a one-entry root leaf in an empty tree.
func (t *Tree) newRoot(key, data []byte, flags uint8) error {
	n, err := t.allocNode(t.leafType)
	if err != nil {
		return err
	}
	n.insertLeaf(0, cloneBytes(key), data, flags)
	t.rec.Root = n.ID
	t.rec.Depth = 1
	t.rec.Entries++
	return nil
}

// isTail reports whether the leaf position in path is past the last key of
// the tree (or on it, when exact).
func (t *Tree) isTail(path []frame, exact bool) bool {
	for _, f := range path[:len(path)-1] {
		if f.idx != f.node.Len()-1 {
			return false
		}
	}
	leaf := path[len(path)-1]
	if exact {
		return leaf.idx == leaf.node.Len()-1
	}
	return leaf.idx == leaf.node.Len()
}

func (t *Tree) allocNode(typ storage.PageType) (*Node, error) {
	n, err := t.pager.Alloc(typ, 1)
	if err != nil {
		return nil, err
	}
	n.PageFlags = t.pageFlags
	if typ == storage.PageTypeBranch {
		t.rec.BranchPages++
	} else {
		t.rec.LeafPages++
	}
	return n, nil
}

func (t *Tree) freeNode(n *Node) error {
	if n.IsLeaf() {
		t.rec.LeafPages--
	} else {
		t.rec.BranchPages--
	}
	return t.pager.Free(n.ID, 1)
}

// rebalance restores page invariants bottom-up along a modified path: parent
// separators follow their child's first key, pages that no longer fit are
// split, and underfull pages are merged with or borrow from a sibling.
func (t *Tree) rebalance(path []frame) error {
	usable := t.usable()

	// tail is set while the overflowing entry was appended at the right edge
	// of the tree; such pages split with the left side full.
	tail := true
	for _, f := range path[:len(path)-1] {
		if f.idx != f.node.Len()-1 {
			tail = false
			break
		}
	}
	leaf := path[len(path)-1]
	tail = tail && leaf.idx == leaf.node.Len()-1

	for l := len(path) - 1; l > 0; l-- {
		n := path[l].node
		parent, pi := path[l-1].node, path[l-1].idx

		if n.Len() > 0 && !bytes.Equal(parent.Keys[pi], n.Keys[0]) {
			parent.Keys[pi] = n.Keys[0]
		}

		if n.Size() > usable {
			pieces, err := t.split(n, tail)
			if err != nil {
				return err
			}
			for j, p := range pieces {
				parent.insertBranch(pi+1+j, p.Keys[0], p.ID)
			}
			tail = tail && pi == parent.Len()-1-len(pieces)
			continue
		}
		tail = false

		if n.Len() == 0 && parent.Len() == 1 {
			// An only child has no sibling to merge with; drop it and let the
			// parent, now empty, be merged away one level up.
			if err := t.freeNode(n); err != nil {
				return err
			}
			parent.remove(pi)
			continue
		}
		if t.underflow(n) && parent.Len() > 1 {
			if err := t.mergeOrBorrow(parent, pi, n); err != nil {
				return err
			}
		}
	}
	return t.fixRoot(path[0].node, tail)
}

// fixRoot splits an overflowing root, collapses a branch root with a single
// child and empties the tree when the root leaf has no entries left.
func (t *Tree) fixRoot(n *Node, tail bool) error {
	for {
		switch {
		case n.Size() > t.usable():
			pieces, err := t.split(n, tail)
			if err != nil {
				return err
			}
			root, err := t.allocNode(storage.PageTypeBranch)
			if err != nil {
				return err
			}
			root.insertBranch(0, n.Keys[0], n.ID)
			for j, p := range pieces {
				root.insertBranch(j+1, p.Keys[0], p.ID)
			}
			t.rec.Root = root.ID
			t.rec.Depth++
			n = root

		case n.Len() == 0:
			if err := t.freeNode(n); err != nil {
				return err
			}
			t.rec.Root = 0
			t.rec.Depth = 0
			return nil

		case !n.IsLeaf() && n.Len() == 1:
			child, err := t.readNode(n.Children[0])
			if err != nil {
				return err
			}
			if err := t.freeNode(n); err != nil {
				return err
			}
			t.rec.Root = child.ID
			t.rec.Depth--
			n = child

		default:
			return nil
		}
	}
}

// split divides an overflowing node. n keeps the first piece; the returned
// nodes hold the rest, in order.
func (t *Tree) split(n *Node, tail bool) ([]*Node, error) {
	bounds := t.splitPoints(n, tail)
	pieces := make([]*Node, 0, len(bounds))
	for j, start := range bounds {
		end := n.Len()
		if j+1 < len(bounds) {
			end = bounds[j+1]
		}
		p, err := t.allocNode(n.Type)
		if err != nil {
			return nil, err
		}
		p.appendFrom(n, start, end)
		pieces = append(pieces, p)
	}
	n.truncate(bounds[0])
	return pieces, nil
}

// splitPoints returns the start index of every piece after the first.
func (t *Tree) splitPoints(n *Node, tail bool) []int {
	usable := t.usable()
	count := n.Len()
	sizes := make([]int, count)
	total := 0
	for i := range sizes {
		sizes[i] = n.entrySize(i)
		total += sizes[i]
	}

	if tail && total-sizes[count-1] <= usable {
		return []int{count - 1}
	}

	best, bestDiff := -1, total+1
	left := 0
	for k := 1; k < count; k++ {
		left += sizes[k-1]
		right := total - left
		if left > usable {
			break
		}
		if right > usable {
			continue
		}
		diff := left - right
		if diff < 0 {
			diff = -diff
		}
		if diff < bestDiff {
			best, bestDiff = k, diff
		}
	}
	if best > 0 {
		return []int{best}
	}

	// No two-way split fits; pack greedily.
	var bounds []int
	used := 0
	for i, s := range sizes {
		if used+s > usable && i > 0 {
			bounds = append(bounds, i)
			used = 0
		}
		used += s
	}
	return bounds
}

func cloneBytes(b []byte) []byte {
	return append(make([]byte, 0, len(b)), b...)
}
