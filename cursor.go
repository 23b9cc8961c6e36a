//go:build linux || darwin

package obakv

import (
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// Cursor walks the entries of one table in key order and, in a
// sorted-duplicate table, the values of each key in value order.
//
// A cursor survives modifications made by its transaction: the next call
// repositions it on the entry it was on. When that entry is gone, Next
// returns the entry that followed it, Prev the one before it and Current
// fails with NotFound.
type Cursor struct {
	txn  *Txn
	dbi  DBI
	tree *btree.Tree
	c    *btree.Cursor
	// sub walks the values of a key stored in a duplicate subtree.
	sub *btree.Cursor

	key, val []byte
	valid    bool
	gen      uint64
	// onSucc is set when the entry the cursor was on disappeared and the
	// cursor now sits on the entry after it.
	onSucc bool
	// succNewKey is set with onSucc when the successor has another key.
	succNewKey bool
	// atEnd is set when the entry disappeared and nothing follows it.
	atEnd bool
}

// OpenCursor returns a cursor over dbi. It is valid until t ends.
func (t *Txn) OpenCursor(dbi DBI) (*Cursor, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	tr, err := t.tree(dbi)
	if err != nil {
		return nil, err
	}
	return &Cursor{txn: t, dbi: dbi, tree: tr, c: tr.Cursor(), gen: t.gen}, nil
}

// Txn returns the transaction of the cursor.
func (c *Cursor) Txn() *Txn {
	return c.txn
}

// DBI returns the table of the cursor.
func (c *Cursor) DBI() DBI {
	return c.dbi
}

// Close releases the cursor. Using it afterwards fails with BadTxn.
func (c *Cursor) Close() {
	c.txn = nil
	c.tree, c.c, c.sub = nil, nil, nil
	c.key, c.val = nil, nil
	c.valid = false
}

func (c *Cursor) checkTxn() error {
	if c.txn == nil {
		return storage.NewError(storage.CodeBadTxn, "cursor", fmt.Errorf("cursor closed"))
	}
	return c.txn.check()
}

// begin prepares an absolute positioning operation.
func (c *Cursor) begin() error {
	if err := c.checkTxn(); err != nil {
		return err
	}
	if c.gen != c.txn.gen {
		tr, err := c.txn.tree(c.dbi)
		if err != nil {
			return err
		}
		c.tree, c.c = tr, tr.Cursor()
		c.gen = c.txn.gen
	}
	c.sub = nil
	c.valid, c.onSucc, c.atEnd = false, false, false
	return nil
}

// sync prepares a relative operation, repositioning after a modification.
func (c *Cursor) sync() error {
	if err := c.checkTxn(); err != nil {
		return err
	}
	if c.gen == c.txn.gen || !c.valid {
		return nil
	}
	old := c.key
	found, more, err := c.reseek()
	if err != nil {
		return c.txn.fail(err)
	}
	if !found && more {
		c.succNewKey = c.tree.Compare(old, c.key) != 0
	}
	c.onSucc = (found && c.onSucc) || (!found && more)
	c.atEnd = !found && !more
	return nil
}

// reseek looks for the saved entry in the current state of the table. found
// reports that it still exists; otherwise the cursor is on its successor when
// more is set.
func (c *Cursor) reseek() (found, more bool, err error) {
	tr, err := c.txn.tree(c.dbi)
	if err != nil {
		return false, false, err
	}
	c.tree, c.c, c.sub = tr, tr.Cursor(), nil
	c.gen = c.txn.gen

	ok, exact, err := c.c.Seek(c.key)
	if err != nil || !ok {
		return false, false, err
	}
	if !exact || !tr.DupSort() {
		return exact, true, c.load(false)
	}

	raw, flags := c.c.Raw()
	if flags&btree.FlagDupTree == 0 {
		if cmp := tr.DupCompare(raw, c.val); cmp >= 0 {
			return cmp == 0, true, c.load(false)
		}
	} else {
		st, err := tr.SubTree(raw)
		if err != nil {
			return false, false, err
		}
		sub := st.Cursor()
		ok, exact, err := sub.Seek(c.val)
		if err != nil {
			return false, false, err
		}
		if ok {
			c.sub = sub
			return exact, true, c.save()
		}
	}
	ok, err = c.c.Next()
	if err != nil || !ok {
		return false, false, err
	}
	return false, true, c.load(false)
}

// load positions on the key under the main cursor, at its first or last
// value, and saves the entry.
func (c *Cursor) load(last bool) error {
	c.sub = nil
	raw, flags := c.c.Raw()
	if flags&btree.FlagDupTree != 0 {
		st, err := c.tree.SubTree(raw)
		if err != nil {
			return err
		}
		sub := st.Cursor()
		var ok bool
		if last {
			ok, err = sub.Last()
		} else {
			ok, err = sub.First()
		}
		if err != nil {
			return err
		}
		if !ok {
			return storage.Corruptf("cursor", "empty duplicate subtree")
		}
		c.sub = sub
	}
	return c.save()
}

func (c *Cursor) save() error {
	var val []byte
	if c.sub != nil {
		val = c.sub.Key()
	} else {
		v, err := c.c.Value()
		if err != nil {
			return err
		}
		val = v
	}
	c.key = append([]byte(nil), c.c.Key()...)
	c.val = append([]byte(nil), val...)
	c.valid = true
	c.gen = c.txn.gen
	return nil
}

func (c *Cursor) entry() ([]byte, []byte, error) {
	return c.key, c.val, nil
}

// finish turns a move result into the cursor's return values.
func (c *Cursor) finish(ok bool, err error, last bool) ([]byte, []byte, error) {
	if err != nil {
		return nil, nil, c.txn.fail(err)
	}
	if !ok {
		return nil, nil, storage.ErrNotFound
	}
	if err := c.load(last); err != nil {
		return nil, nil, c.txn.fail(err)
	}
	return c.entry()
}

func (c *Cursor) notFound() ([]byte, []byte, error) {
	return nil, nil, storage.ErrNotFound
}

func (c *Cursor) requireDupSort(op string) error {
	if !c.tree.DupSort() {
		return storage.NewError(storage.CodeIncompatible, op, fmt.Errorf("table is not sorted-duplicate"))
	}
	return nil
}

// First moves to the first entry.
func (c *Cursor) First() ([]byte, []byte, error) {
	if err := c.begin(); err != nil {
		return nil, nil, err
	}
	ok, err := c.c.First()
	return c.finish(ok, err, false)
}

// Last moves to the last entry.
func (c *Cursor) Last() ([]byte, []byte, error) {
	if err := c.begin(); err != nil {
		return nil, nil, err
	}
	ok, err := c.c.Last()
	return c.finish(ok, err, true)
}

// Current returns the entry at the cursor.
func (c *Cursor) Current() ([]byte, []byte, error) {
	if err := c.sync(); err != nil {
		return nil, nil, err
	}
	if !c.valid || c.onSucc || c.atEnd {
		return c.notFound()
	}
	return c.entry()
}

// Next moves to the next entry: the next value of the key, or the next key.
// An unpositioned cursor moves to the first entry.
func (c *Cursor) Next() ([]byte, []byte, error) {
	return c.next(false)
}

// NextNoDup moves to the first value of the next key.
func (c *Cursor) NextNoDup() ([]byte, []byte, error) {
	return c.next(true)
}

func (c *Cursor) next(nodup bool) ([]byte, []byte, error) {
	if !c.valid {
		return c.First()
	}
	if err := c.sync(); err != nil {
		return nil, nil, err
	}
	if c.atEnd {
		return c.notFound()
	}
	if c.onSucc {
		c.onSucc = false
		if !nodup || c.succNewKey {
			return c.entry()
		}
	}
	if !nodup && c.sub != nil {
		ok, err := c.sub.Next()
		if err != nil {
			return nil, nil, c.txn.fail(err)
		}
		if ok {
			if err := c.save(); err != nil {
				return nil, nil, c.txn.fail(err)
			}
			return c.entry()
		}
	}
	ok, err := c.c.Next()
	return c.finish(ok, err, false)
}

// Prev moves to the previous entry: the previous value of the key, or the
// last value of the previous key. An unpositioned cursor moves to the last
// entry.
func (c *Cursor) Prev() ([]byte, []byte, error) {
	return c.prev(false)
}

// PrevNoDup moves to the last value of the previous key.
func (c *Cursor) PrevNoDup() ([]byte, []byte, error) {
	return c.prev(true)
}

func (c *Cursor) prev(nodup bool) ([]byte, []byte, error) {
	if !c.valid {
		return c.Last()
	}
	if err := c.sync(); err != nil {
		return nil, nil, err
	}
	if c.atEnd {
		return c.Last()
	}
	c.onSucc = false
	if !nodup && c.sub != nil {
		ok, err := c.sub.Prev()
		if err != nil {
			return nil, nil, c.txn.fail(err)
		}
		if ok {
			if err := c.save(); err != nil {
				return nil, nil, c.txn.fail(err)
			}
			return c.entry()
		}
	}
	ok, err := c.c.Prev()
	return c.finish(ok, err, true)
}

// Seek moves to key, failing with NotFound when it does not exist.
func (c *Cursor) Seek(key []byte) ([]byte, []byte, error) {
	if err := c.begin(); err != nil {
		return nil, nil, err
	}
	ok, exact, err := c.c.Seek(key)
	return c.finish(ok && exact, err, false)
}

// SeekRange moves to the first key greater than or equal to key.
func (c *Cursor) SeekRange(key []byte) ([]byte, []byte, error) {
	if err := c.begin(); err != nil {
		return nil, nil, err
	}
	ok, _, err := c.c.Seek(key)
	return c.finish(ok, err, false)
}

// SeekBoth moves to the exact key/value pair of a sorted-duplicate table.
func (c *Cursor) SeekBoth(key, val []byte) ([]byte, []byte, error) {
	return c.seekDup(key, val, true)
}

// SeekBothRange moves to the first value of key greater than or equal to val.
func (c *Cursor) SeekBothRange(key, val []byte) ([]byte, []byte, error) {
	return c.seekDup(key, val, false)
}

func (c *Cursor) seekDup(key, val []byte, exactVal bool) ([]byte, []byte, error) {
	if err := c.begin(); err != nil {
		return nil, nil, err
	}
	if err := c.requireDupSort("seek both"); err != nil {
		return nil, nil, err
	}
	ok, exact, err := c.c.Seek(key)
	if err != nil {
		return nil, nil, c.txn.fail(err)
	}
	if !ok || !exact {
		return c.notFound()
	}

	raw, flags := c.c.Raw()
	if flags&btree.FlagDupTree == 0 {
		cmp := c.tree.DupCompare(raw, val)
		if cmp < 0 || exactVal && cmp != 0 {
			return c.notFound()
		}
		return c.finish(true, nil, false)
	}
	st, err := c.tree.SubTree(raw)
	if err != nil {
		return nil, nil, c.txn.fail(err)
	}
	sub := st.Cursor()
	ok, exact, err = sub.Seek(val)
	if err != nil {
		return nil, nil, c.txn.fail(err)
	}
	if !ok || exactVal && !exact {
		return c.notFound()
	}
	c.sub = sub
	if err := c.save(); err != nil {
		return nil, nil, c.txn.fail(err)
	}
	return c.entry()
}

// dupMove runs a move of the value cursor of the current key. A key with a
// single value stays put when single is set and fails otherwise.
func (c *Cursor) dupMove(op string, move func(*btree.Cursor) (bool, error), single bool) ([]byte, []byte, error) {
	if err := c.sync(); err != nil {
		return nil, nil, err
	}
	if err := c.requireDupSort(op); err != nil {
		return nil, nil, err
	}
	if !c.valid || c.atEnd || c.onSucc {
		return c.notFound()
	}
	if c.sub == nil {
		if single {
			return c.entry()
		}
		return c.notFound()
	}
	ok, err := move(c.sub)
	if err != nil {
		return nil, nil, c.txn.fail(err)
	}
	if !ok {
		return c.notFound()
	}
	if err := c.save(); err != nil {
		return nil, nil, c.txn.fail(err)
	}
	return c.entry()
}

// FirstDup moves to the first value of the current key.
func (c *Cursor) FirstDup() ([]byte, []byte, error) {
	return c.dupMove("first dup", (*btree.Cursor).First, true)
}

// LastDup moves to the last value of the current key.
func (c *Cursor) LastDup() ([]byte, []byte, error) {
	return c.dupMove("last dup", (*btree.Cursor).Last, true)
}

// NextDup moves to the next value of the current key.
func (c *Cursor) NextDup() ([]byte, []byte, error) {
	return c.dupMove("next dup", (*btree.Cursor).Next, false)
}

// PrevDup moves to the previous value of the current key.
func (c *Cursor) PrevDup() ([]byte, []byte, error) {
	return c.dupMove("prev dup", (*btree.Cursor).Prev, false)
}

// Count returns how many values the current key holds.
func (c *Cursor) Count() (uint64, error) {
	if err := c.sync(); err != nil {
		return 0, err
	}
	if !c.valid || c.atEnd || c.onSucc {
		return 0, storage.ErrNotFound
	}
	if c.sub == nil {
		return 1, nil
	}
	return c.sub.Tree().Record().Entries, nil
}

// Put stores key/val like Txn.Put and moves the cursor to the stored entry.
func (c *Cursor) Put(key, val []byte, flags PutFlags) error {
	if err := c.checkTxn(); err != nil {
		return err
	}
	if err := c.txn.Put(c.dbi, key, val, flags); err != nil {
		return err
	}
	var err error
	if c.tree.DupSort() {
		_, _, err = c.SeekBoth(key, val)
	} else {
		_, _, err = c.Seek(key)
	}
	return err
}

// Delete removes the entry at the cursor: one value in a sorted-duplicate
// table. The cursor then behaves as described for Cursor.
func (c *Cursor) Delete() error {
	return c.delete(false)
}

// DeleteAll removes the current key with all its values.
func (c *Cursor) DeleteAll() error {
	return c.delete(true)
}

func (c *Cursor) delete(all bool) error {
	if err := c.sync(); err != nil {
		return err
	}
	if !c.valid || c.atEnd || c.onSucc {
		return storage.ErrNotFound
	}
	var val []byte
	if !all && c.tree.DupSort() {
		val = c.val
	}
	return c.txn.Delete(c.dbi, c.key, val)
}
