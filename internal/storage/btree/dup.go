package btree

import (
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// A sorted-duplicate key keeps a single value inline in its leaf node. Once a
// second value arrives (or the value does not fit inline next to the key) the
// values move to a subtree whose keys are the values and whose data is empty.
// The subtree record replaces the inline value and FlagDupTree is set.

// SubTree returns the duplicate subtree stored in raw node data.
func (t *Tree) SubTree(raw []byte) (*Tree, error) {
	rec, err := storage.DecodeTreeRecord(raw)
	if err != nil {
		return nil, err
	}
	return t.subTree(&rec), nil
}

// DupCompare compares two values of a sorted-duplicate key.
func (t *Tree) DupCompare(a, b []byte) int {
	return t.dcmp(a, b)
}

func (t *Tree) checkDupValue(val []byte) error {
	if len(val) > t.MaxKeySize() {
		return storage.NewError(storage.CodeBadValSize, "put", fmt.Errorf("duplicate value of %d bytes exceeds %d", len(val), t.MaxKeySize()))
	}
	return nil
}

// dupValue returns the leaf data for the first value of a new key.
func (t *Tree) dupValue(key, val []byte) ([]byte, uint8, error) {
	if leafEntrySize(key, val) <= t.maxNode() {
		return cloneBytes(val), 0, nil
	}
	var rec storage.TreeRecord
	if err := t.subTree(&rec).Put(val, nil, 0); err != nil {
		return nil, 0, err
	}
	return rec.Bytes(), FlagDupTree, nil
}

func (t *Tree) putDup(key, val []byte, flags PutFlags) error {
	if err := t.checkKey(key); err != nil {
		return err
	}
	if err := t.checkDupValue(val); err != nil {
		return err
	}

	path, err := t.descend(key, true)
	if err != nil {
		return err
	}
	if path == nil {
		data, vflags, err := t.dupValue(key, val)
		if err != nil {
			return err
		}
		return t.newRoot(key, data, vflags)
	}

	leaf := path[len(path)-1]
	n, i := leaf.node, leaf.idx
	exact := i < n.Len() && t.cmp(n.Keys[i], key) == 0

	if flags&Append != 0 && !t.isTail(path, exact) {
		return storage.NewError(storage.CodeKeyExist, "append", nil)
	}

	if !exact {
		data, vflags, err := t.dupValue(key, val)
		if err != nil {
			return err
		}
		n.insertLeaf(i, cloneBytes(key), data, vflags)
		t.rec.Entries++
		return t.rebalance(path)
	}

	if flags&NoOverwrite != 0 {
		return storage.ErrKeyExist
	}
	vflags := n.Flags[i]
	if vflags&FlagTable != 0 {
		return storage.NewError(storage.CodeIncompatible, "put", nil)
	}

	if vflags&FlagDupTree == 0 {
		old := n.Vals[i]
		c := t.dcmp(old, val)
		if c == 0 {
			if flags&NoDupData != 0 {
				return storage.ErrKeyExist
			}
			return nil
		}
		if flags&AppendDup != 0 && c > 0 {
			return storage.NewError(storage.CodeKeyExist, "append", nil)
		}
		var rec storage.TreeRecord
		sub := t.subTree(&rec)
		if err := sub.Put(old, nil, 0); err != nil {
			return err
		}
		if err := sub.Put(val, nil, 0); err != nil {
			return err
		}
		n.Vals[i] = rec.Bytes()
		n.Flags[i] = FlagDupTree
		t.rec.Entries++
		return t.rebalance(path)
	}

	rec, err := storage.DecodeTreeRecord(n.Vals[i])
	if err != nil {
		return err
	}
	sub := t.subTree(&rec)
	if flags&AppendDup != 0 {
		c := sub.Cursor()
		if _, err := c.Last(); err != nil {
			return err
		}
		if t.dcmp(c.Key(), val) > 0 {
			return storage.NewError(storage.CodeKeyExist, "append", nil)
		}
	}
	// Probe first: a failed put would leave the subtree copied but unlinked.
	if _, _, err := sub.lookup(val); err == nil {
		if flags&NoDupData != 0 {
			return storage.ErrKeyExist
		}
		return nil
	} else if storage.CodeOf(err) != storage.CodeNotFound {
		return err
	}
	if err := sub.Put(val, nil, 0); err != nil {
		return err
	}
	n.Vals[i] = rec.Bytes()
	t.rec.Entries++
	return t.rebalance(path)
}

// deleteDup removes one value of a sorted-duplicate key.
func (t *Tree) deleteDup(key, val []byte) error {
	raw, flags, err := t.lookup(key)
	if err != nil {
		return err
	}
	if flags&FlagTable != 0 {
		return storage.NewError(storage.CodeIncompatible, "delete", nil)
	}
	if flags&FlagDupTree == 0 {
		if t.dcmp(raw, val) != 0 {
			return storage.ErrNotFound
		}
		return t.deleteKey(key)
	}
	probe, err := t.SubTree(raw)
	if err != nil {
		return err
	}
	if _, _, err := probe.lookup(val); err != nil {
		return err
	}

	path, err := t.descend(key, true)
	if err != nil {
		return err
	}
	leaf := path[len(path)-1]
	n, i := leaf.node, leaf.idx
	rec, err := storage.DecodeTreeRecord(n.Vals[i])
	if err != nil {
		return err
	}
	sub := t.subTree(&rec)
	if err := sub.Delete(val, nil); err != nil {
		return err
	}
	t.rec.Entries--

	switch rec.Entries {
	case 0:
		n.remove(i)
	case 1:
		c := sub.Cursor()
		if _, err := c.First(); err != nil {
			return err
		}
		last := cloneBytes(c.Key())
		if leafEntrySize(key, last) <= t.maxNode() {
			if err := sub.Drop(); err != nil {
				return err
			}
			n.Vals[i] = last
			n.Flags[i] = 0
		} else {
			n.Vals[i] = rec.Bytes()
		}
	default:
		n.Vals[i] = rec.Bytes()
	}
	return t.rebalance(path)
}

// DupCount returns how many values key holds.
func (t *Tree) DupCount(key []byte) (uint64, error) {
	raw, flags, err := t.lookup(key)
	if err != nil {
		return 0, err
	}
	if flags&FlagDupTree == 0 {
		return 1, nil
	}
	rec, err := storage.DecodeTreeRecord(raw)
	if err != nil {
		return 0, err
	}
	return rec.Entries, nil
}
