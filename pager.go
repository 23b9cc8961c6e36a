//go:build linux || darwin

package obakv

import (
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// A Txn is the pager of every tree it opens. Reads come from its own dirty
// pages, then its ancestors', then the snapshot mapping. Writes copy pages into
// the dirty set of the transaction doing them.

// lookupDirty finds id in the dirty sets of t and its ancestors. A nil node
// with found set means the page was freed.
func (t *Txn) lookupDirty(id storage.PageID) (n *btree.Node, found bool) {
	for x := t; x != nil; x = x.parent {
		if n, ok := x.dirty[id]; ok {
			return n, true
		}
	}
	return nil, false
}

// inAncestor reports whether an ancestor of t holds id as a live dirty page.
func (t *Txn) inAncestor(id storage.PageID) bool {
	if t.parent == nil {
		return false
	}
	n, found := t.parent.lookupDirty(id)
	return found && n != nil
}

func (t *Txn) dirtyCount() int {
	return t.dirtyBase + len(t.dirty)
}

// PageSize implements btree.Pager.
func (t *Txn) PageSize() int {
	return t.ps
}

// mapped returns n committed pages starting at id.
func (t *Txn) mapped(id storage.PageID, n int) ([]byte, error) {
	if id < storage.NumMetas || id+storage.PageID(n) > t.base.LastPgno {
		return nil, storage.Corruptf("read", "page %d+%d outside the snapshot (%d pages)", id, n, t.base.LastPgno)
	}
	return t.mapping.Pages(id, n, t.ps)
}

// Node implements btree.Pager.
func (t *Txn) Node(id storage.PageID) (*btree.Node, error) {
	if !t.readOnly {
		if n, found := t.lookupDirty(id); found {
			if n == nil {
				return nil, storage.NewError(storage.CodePanic, "read", fmt.Errorf("page %d used after free", id))
			}
			return n, nil
		}
	}
	buf, err := t.mapped(id, 1)
	if err != nil {
		return nil, err
	}
	return btree.Decode(buf, id)
}

// Overflow implements btree.Pager.
func (t *Txn) Overflow(id storage.PageID) (*btree.Node, error) {
	if !t.readOnly {
		if n, found := t.lookupDirty(id); found {
			if n == nil {
				return nil, storage.NewError(storage.CodePanic, "read", fmt.Errorf("overflow run %d used after free", id))
			}
			return n, nil
		}
	}
	first, err := t.mapped(id, 1)
	if err != nil {
		return nil, err
	}
	pages, err := btree.OverflowPagesAt(first, id)
	if err != nil {
		return nil, err
	}
	buf, err := t.mapped(id, pages)
	if err != nil {
		return nil, err
	}
	return btree.DecodeOverflow(buf, id, t.ps)
}

// Touch implements btree.Pager.
func (t *Txn) Touch(n *btree.Node) (*btree.Node, error) {
	if t.readOnly {
		return nil, storage.ErrReadOnly
	}
	if d, ok := t.dirty[n.ID]; ok {
		if d == nil {
			return nil, storage.NewError(storage.CodePanic, "touch", fmt.Errorf("page %d used after free", n.ID))
		}
		return d, nil
	}
	if t.inAncestor(n.ID) {
		if err := t.checkRoom(); err != nil {
			return nil, err
		}
		c := n.Clone()
		t.dirty[c.ID] = c
		return c, nil
	}

	old := n.ID
	c, err := t.Alloc(n.Type, 1)
	if err != nil {
		return nil, err
	}
	id := c.ID
	*c = *n.Clone()
	c.ID = id
	c.Pages = 1
	t.dirty[id] = c
	t.retired = t.retired.Merge(storage.PageList{old})
	return c, nil
}

// checkRoom fails with TxnFull once the dirty set reached its limit. The
// freelist update at commit is exempt.
func (t *Txn) checkRoom() error {
	if !t.gcActive && t.dirtyCount() >= t.env.opts.MaxDirtyPages {
		return storage.NewError(storage.CodeTxnFull, "alloc", fmt.Errorf("%d dirty pages", t.dirtyCount()))
	}
	return nil
}

// Alloc implements btree.Pager. Pages come from this transaction's loose
// pages, then reclaimed freelist records, then the end of the file.
func (t *Txn) Alloc(typ storage.PageType, pages int) (*btree.Node, error) {
	if t.readOnly {
		return nil, storage.ErrReadOnly
	}
	if err := t.checkRoom(); err != nil {
		return nil, err
	}
	id, err := t.allocID(pages)
	if err != nil {
		return nil, err
	}
	n := &btree.Node{ID: id, Type: typ, Pages: pages}
	if typ == storage.PageTypeOverflow {
		n.Data = make([]byte, pages*t.ps)
	}
	t.dirty[id] = n
	return n, nil
}

// maxRunLoads bounds how many extra freelist records a multi-page
// allocation loads while looking for a contiguous run.
const maxRunLoads = 4

func (t *Txn) allocID(pages int) (storage.PageID, error) {
	if !t.gcGrowOnly {
		if id, ok := t.loose.TakeRun(pages); ok {
			return id, nil
		}
		for loads := 0; ; loads++ {
			if id, ok := t.reclaimed.TakeRun(pages); ok {
				return id, nil
			}
			// The freelist update tops up reclaimed between passes; the free
			// tree cannot be read while it is being changed.
			if t.gcActive || pages > 1 && loads == maxRunLoads {
				break
			}
			more, err := t.loadFreeRecord()
			if err != nil {
				return 0, err
			}
			if !more {
				break
			}
		}
	}
	id := t.next
	end := id + storage.PageID(pages)
	if uint64(end) > t.env.file.Geometry().Upper {
		return 0, storage.NewError(storage.CodeMapFull, "alloc", fmt.Errorf("page %d past the upper bound %d", end, t.env.file.Geometry().Upper))
	}
	t.next = end
	return id, nil
}

// reserveFreePages loads reclaimable records until the loose and reclaimed
// pages can cover a copy of every level of the free tree plus a split.
func (t *Txn) reserveFreePages() error {
	want := 2*int(t.freeTree().Record().Depth) + 2
	for len(t.loose)+len(t.reclaimed) < want {
		more, err := t.loadFreeRecord()
		if err != nil || !more {
			return err
		}
	}
	return nil
}

// loadFreeRecord moves the next reclaimable freelist record into reclaimed.
// A record is reclaimable when its txnid is older than both the snapshot this
// writer builds on and every live reader. It returns false when none is left.
func (t *Txn) loadFreeRecord() (bool, error) {
	floor := t.base.Txnid
	if oldest, ok := t.env.mgr.OldestReader(); ok && oldest < floor {
		floor = oldest
	}

	free := t.freeTree()
	c := free.Cursor()
	var ok bool
	var err error
	if t.freeNext == nil {
		ok, err = c.First()
	} else {
		ok, _, err = c.Seek(t.freeNext)
	}
	if err != nil || !ok {
		return false, err
	}

	key := c.Key()
	txnid, chunk, err := storage.ParseFreeKey(key)
	if err != nil {
		return false, err
	}
	if txnid >= floor {
		return false, nil
	}
	val, err := c.Value()
	if err != nil {
		return false, err
	}
	ids, err := storage.DecodePageList(val)
	if err != nil {
		return false, err
	}
	t.reclaimed = t.reclaimed.Merge(ids)
	t.consumed = append(t.consumed, append([]byte(nil), key...))
	t.freeNext = storage.FreeKey(txnid, chunk+1)
	return true, nil
}

// Free implements btree.Pager.
func (t *Txn) Free(id storage.PageID, pages int) error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	run := make(storage.PageList, pages)
	for i := range run {
		run[i] = id + storage.PageID(i)
	}

	if d, ok := t.dirty[id]; ok {
		if d == nil {
			return storage.NewError(storage.CodePanic, "free", fmt.Errorf("page %d freed twice", id))
		}
		if t.inAncestor(id) {
			t.dirty[id] = nil
		} else {
			delete(t.dirty, id)
		}
		t.loose = t.loose.Merge(run)
		return nil
	}
	if t.inAncestor(id) {
		t.dirty[id] = nil
		t.loose = t.loose.Merge(run)
		return nil
	}
	if _, found := t.lookupDirty(id); found {
		return storage.NewError(storage.CodePanic, "free", fmt.Errorf("page %d freed twice", id))
	}
	t.retired = t.retired.Merge(run)
	return nil
}
