package btree

import (
	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// Leaf node flags.
const (
	// FlagBig marks a value stored in an overflow run; the node data is the
	// run reference.
	FlagBig uint8 = 1 << iota
	// FlagTable marks a named table record in the main tree.
	FlagTable
	// FlagDupTree marks a key whose values live in a nested subtree; the node
	// data is the subtree record.
	FlagDupTree
)

// Node is a decoded page. Keys and values of pages read from the mapping
// alias the mapped bytes and must not be modified.
//
// Branch nodes use Keys and Children, Keys[i] being the smallest key reachable
// through Children[i]. Leaf nodes use Keys, Vals and Flags. Overflow nodes use
// Data (the whole run, header included) and Pages.
type Node struct {
	ID        storage.PageID
	Type      storage.PageType
	PageFlags storage.PageFlag

	Keys     [][]byte
	Vals     [][]byte
	Flags    []uint8
	Children []storage.PageID

	Data  []byte
	Pages int
}

// IsLeaf reports whether n is a leaf node.
func (n *Node) IsLeaf() bool {
	return n.Type.IsLeaf()
}

// Len returns the number of entries.
func (n *Node) Len() int {
	return len(n.Keys)
}

// Clone returns a copy of n that can be modified without affecting n. Key and
// value bytes are shared; they are never modified in place.
func (n *Node) Clone() *Node {
	c := &Node{
		ID:        n.ID,
		Type:      n.Type,
		PageFlags: n.PageFlags,
		Pages:     n.Pages,
		Keys:      append([][]byte(nil), n.Keys...),
	}
	if n.IsLeaf() {
		c.Vals = append([][]byte(nil), n.Vals...)
		c.Flags = append([]uint8(nil), n.Flags...)
	} else {
		c.Children = append([]storage.PageID(nil), n.Children...)
	}
	if n.Data != nil {
		c.Data = append([]byte(nil), n.Data...)
	}
	return c
}

func leafEntrySize(key, val []byte) int {
	return storage.NodeOffsetSize + storage.LeafNodeHeaderSize + len(key) + len(val)
}

func branchEntrySize(key []byte) int {
	return storage.NodeOffsetSize + storage.BranchNodeHeaderSize + len(key)
}

func (n *Node) entrySize(i int) int {
	if n.IsLeaf() {
		return leafEntrySize(n.Keys[i], n.Vals[i])
	}
	return branchEntrySize(n.Keys[i])
}

// Size returns the bytes the entries and their offsets take in a page.
func (n *Node) Size() int {
	size := 0
	for i := range n.Keys {
		size += n.entrySize(i)
	}
	return size
}

func (n *Node) insertLeaf(i int, key, val []byte, flags uint8) {
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = key

	n.Vals = append(n.Vals, nil)
	copy(n.Vals[i+1:], n.Vals[i:])
	n.Vals[i] = val

	n.Flags = append(n.Flags, 0)
	copy(n.Flags[i+1:], n.Flags[i:])
	n.Flags[i] = flags
}

func (n *Node) insertBranch(i int, key []byte, child storage.PageID) {
	n.Keys = append(n.Keys, nil)
	copy(n.Keys[i+1:], n.Keys[i:])
	n.Keys[i] = key

	n.Children = append(n.Children, 0)
	copy(n.Children[i+1:], n.Children[i:])
	n.Children[i] = child
}

func (n *Node) remove(i int) {
	n.Keys = append(n.Keys[:i], n.Keys[i+1:]...)
	if n.IsLeaf() {
		n.Vals = append(n.Vals[:i], n.Vals[i+1:]...)
		n.Flags = append(n.Flags[:i], n.Flags[i+1:]...)
		return
	}
	n.Children = append(n.Children[:i], n.Children[i+1:]...)
}

// appendFrom moves entries [from, to) of src to the end of n.
func (n *Node) appendFrom(src *Node, from, to int) {
	n.Keys = append(n.Keys, src.Keys[from:to]...)
	if n.IsLeaf() {
		n.Vals = append(n.Vals, src.Vals[from:to]...)
		n.Flags = append(n.Flags, src.Flags[from:to]...)
		return
	}
	n.Children = append(n.Children, src.Children[from:to]...)
}

// truncate keeps entries [0, k) and caps the slices so later appends never
// write into memory shared with a split-off sibling.
func (n *Node) truncate(k int) {
	n.Keys = n.Keys[:k:k]
	if n.IsLeaf() {
		n.Vals = n.Vals[:k:k]
		n.Flags = n.Flags[:k:k]
		return
	}
	n.Children = n.Children[:k:k]
}

// moveFirstTo moves the first entry of n to the end of dst.
func (n *Node) moveFirstTo(dst *Node) {
	dst.appendFrom(n, 0, 1)
	n.remove(0)
}

// moveLastTo moves the last entry of n to the front of dst.
func (n *Node) moveLastTo(dst *Node) {
	last := n.Len() - 1
	if n.IsLeaf() {
		dst.insertLeaf(0, n.Keys[last], n.Vals[last], n.Flags[last])
	} else {
		dst.insertBranch(0, n.Keys[last], n.Children[last])
	}
	n.remove(last)
}
