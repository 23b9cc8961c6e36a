package btree

import (
	"bytes"
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// maxDepth bounds descents so a corrupted page cycle cannot loop forever.
const maxDepth = 64

// Pager gives a tree access to pages. A read transaction implements the read
// methods only; Touch, Alloc and Free return ReadOnly.
type Pager interface {
	// PageSize returns the page size.
	PageSize() int
	// Node returns the decoded branch or leaf page id.
	Node(id storage.PageID) (*Node, error)
	// Overflow returns the overflow run starting at id.
	Overflow(id storage.PageID) (*Node, error)
	// Touch returns a writable copy of n, allocating a new page number when
	// n belongs to a committed snapshot.
	Touch(n *Node) (*Node, error)
	// Alloc returns a new writable node of the given type spanning pages pages.
	Alloc(typ storage.PageType, pages int) (*Node, error)
	// Free releases pages pages starting at id.
	Free(id storage.PageID, pages int) error
}

// Compare is a total order over keys.
type Compare func(a, b []byte) int

// PutFlags control Put.
type PutFlags uint

const (
	// NoOverwrite fails with KeyExist when the key already exists.
	NoOverwrite PutFlags = 1 << iota
	// NoDupData fails with KeyExist when the key/value pair already exists.
	NoDupData
	// Append requires the key to sort after every existing key.
	Append
	// AppendDup requires the value to sort after every value of the key.
	AppendDup
)

// Tree is one B+tree described by a TreeRecord. Operations update the record
// in place; the owner persists it.
type Tree struct {
	pager     Pager
	rec       *storage.TreeRecord
	cmp       Compare
	dcmp      Compare
	leafType  storage.PageType
	pageFlags storage.PageFlag
}

// New returns a tree over rec. Nil comparators default to bytes.Compare.
func New(p Pager, rec *storage.TreeRecord, cmp, dcmp Compare) *Tree {
	if cmp == nil {
		cmp = bytes.Compare
	}
	if dcmp == nil {
		dcmp = bytes.Compare
	}
	return &Tree{
		pager:    p,
		rec:      rec,
		cmp:      cmp,
		dcmp:     dcmp,
		leafType: storage.PageTypeLeaf,
	}
}

// NewFreeTree returns the freelist tree over rec. Its leaves are typed
// separately so page walks can tell them apart.
func NewFreeTree(p Pager, rec *storage.TreeRecord) *Tree {
	t := New(p, rec, nil, nil)
	t.leafType = storage.PageTypeFreeLeaf
	return t
}

// Record returns the tree record.
func (t *Tree) Record() *storage.TreeRecord {
	return t.rec
}

// DupSort reports whether keys may own several values.
func (t *Tree) DupSort() bool {
	return t.rec.Flags&storage.TreeDupSort != 0
}

// Compare compares two keys with the tree order.
func (t *Tree) Compare(a, b []byte) int {
	return t.cmp(a, b)
}

// subTree returns the duplicate subtree described by rec.
func (t *Tree) subTree(rec *storage.TreeRecord) *Tree {
	return &Tree{
		pager:     t.pager,
		rec:       rec,
		cmp:       t.dcmp,
		dcmp:      bytes.Compare,
		leafType:  storage.PageTypeLeaf,
		pageFlags: storage.PageFlagDupTree,
	}
}

func (t *Tree) usable() int {
	return storage.UsableSpace(t.pager.PageSize())
}

func (t *Tree) maxNode() int {
	return storage.MaxNodeSize(t.pager.PageSize())
}

// MaxKeySize returns the largest key the tree accepts.
func (t *Tree) MaxKeySize() int {
	return storage.MaxKeySize(t.pager.PageSize())
}

func (t *Tree) checkKey(key []byte) error {
	if len(key) > t.MaxKeySize() {
		return storage.NewError(storage.CodeBadValSize, "put", fmt.Errorf("key of %d bytes exceeds %d", len(key), t.MaxKeySize()))
	}
	return nil
}

func errPageOverflow(n *Node) error {
	return fmt.Errorf("page %d holds %d bytes of nodes", n.ID, n.Size())
}

// frame is one step of a descent: a node and the index taken in it.
type frame struct {
	node *Node
	idx  int
}

// leafSearch returns the index of the first key >= key and whether it matches.
func (t *Tree) leafSearch(n *Node, key []byte) (int, bool) {
	lo, hi := 0, n.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if t.cmp(n.Keys[mid], key) < 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo, lo < n.Len() && t.cmp(n.Keys[lo], key) == 0
}

// branchSearch returns the child that may hold key: the last child whose
// minimum key is <= key, or the first child.
func (t *Tree) branchSearch(n *Node, key []byte) int {
	lo, hi := 1, n.Len()
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		if t.cmp(n.Keys[mid], key) <= 0 {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo - 1
}

func (t *Tree) readNode(id storage.PageID) (*Node, error) {
	n, err := t.pager.Node(id)
	if err != nil {
		return nil, err
	}
	if n.IsLeaf() && n.Type != t.leafType {
		return nil, storage.Corruptf("btree", "page %d: %s page in a tree of %s leaves", id, n.Type, t.leafType)
	}
	return n, nil
}

// descend walks from the root to the leaf that may hold key. With touch set,
// every page on the path is first copied into the writer's dirty set and the
// parent pointers are updated to the copies. It returns nil for an empty tree.
func (t *Tree) descend(key []byte, touch bool) ([]frame, error) {
	if t.rec.Root == 0 {
		return nil, nil
	}
	n, err := t.readNode(t.rec.Root)
	if err != nil {
		return nil, err
	}
	if touch {
		if n, err = t.pager.Touch(n); err != nil {
			return nil, err
		}
		t.rec.Root = n.ID
	}

	path := make([]frame, 0, t.rec.Depth)
	for {
		if n.IsLeaf() {
			i, _ := t.leafSearch(n, key)
			path = append(path, frame{node: n, idx: i})
			if len(path) != int(t.rec.Depth) {
				return nil, storage.Corruptf("btree", "leaf %d at depth %d, tree depth %d", n.ID, len(path), t.rec.Depth)
			}
			return path, nil
		}
		if len(path) >= maxDepth {
			return nil, storage.Corruptf("btree", "descent deeper than %d pages", maxDepth)
		}
		i := t.branchSearch(n, key)
		path = append(path, frame{node: n, idx: i})
		child, err := t.readNode(n.Children[i])
		if err != nil {
			return nil, err
		}
		if touch {
			if child, err = t.pager.Touch(child); err != nil {
				return nil, err
			}
			n.Children[i] = child.ID
		}
		n = child
	}
}

// lookup returns the raw leaf entry for key.
func (t *Tree) lookup(key []byte) (val []byte, flags uint8, err error) {
	path, err := t.descend(key, false)
	if err != nil {
		return nil, 0, err
	}
	if path == nil {
		return nil, 0, storage.ErrNotFound
	}
	leaf := path[len(path)-1]
	i, ok := t.leafSearch(leaf.node, key)
	if !ok {
		return nil, 0, storage.ErrNotFound
	}
	return leaf.node.Vals[i], leaf.node.Flags[i], nil
}

// GetRaw returns the stored node data and flags for key without resolving
// overflow runs or duplicate subtrees.
func (t *Tree) GetRaw(key []byte) ([]byte, uint8, error) {
	return t.lookup(key)
}

// Get returns the value of key. For a sorted-duplicate key it returns the
// first value.
func (t *Tree) Get(key []byte) ([]byte, error) {
	val, flags, err := t.lookup(key)
	if err != nil {
		return nil, err
	}
	return t.resolve(val, flags)
}

// resolve turns raw node data into the value it stands for.
func (t *Tree) resolve(val []byte, flags uint8) ([]byte, error) {
	switch {
	case flags&FlagBig != 0:
		return t.readOverflow(val)
	case flags&FlagDupTree != 0:
		rec, err := storage.DecodeTreeRecord(val)
		if err != nil {
			return nil, err
		}
		c := t.subTree(&rec).Cursor()
		ok, err := c.First()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, storage.Corruptf("btree", "empty duplicate subtree")
		}
		return c.Key(), nil
	default:
		return val, nil
	}
}
