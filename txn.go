//go:build linux || darwin

package obakv

import (
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/logging"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
	"github.com/KilimcininKorOglu/obakv/internal/storage/tx"
)

// PutFlags control Put.
type PutFlags = btree.PutFlags

const (
	// NoOverwrite fails with KeyExist when the key already exists.
	NoOverwrite = btree.NoOverwrite
	// NoDupData fails with KeyExist when the key/value pair already exists
	// in a sorted-duplicate table.
	NoDupData = btree.NoDupData
	// Append requires the key to sort after every key of the table.
	Append = btree.Append
	// AppendDup requires the value to sort after every value of the key.
	AppendDup = btree.AppendDup
)

// Txn is a read or write transaction. A Txn must be used by one goroutine at
// a time. Keys and values it returns are valid until the transaction ends or,
// in a write transaction, until the next modification.
type Txn struct {
	env      *Env
	base     *storage.Meta
	state    *tx.Transaction
	reader   *tx.Reader
	parent   *Txn
	child    *Txn
	readOnly bool
	ps       int
	mapping  *storage.Mapping
	log      logging.Logger

	tables []*txTable

	// broken is set by an unexpected error; the transaction can then only
	// be aborted.
	broken bool
	// gen counts modifications so cursors know to reposition.
	gen uint64

	// Writer state. A nil entry in dirty marks a page of an ancestor that
	// this transaction freed.
	dirty     map[storage.PageID]*btree.Node
	dirtyBase int
	retired   storage.PageList
	loose     storage.PageList
	reclaimed storage.PageList
	consumed  [][]byte
	freeNext  []byte
	next      storage.PageID
	gcActive  bool

	// gcGrowOnly makes the freelist update allocate past the high-water mark
	// only, so the freed set can no longer shrink.
	gcGrowOnly bool

	// Handles created and tables dropped by this transaction.
	created []DBI
	dropped []DBI
}

// txTable is the state of one table inside a transaction.
type txTable struct {
	rec     storage.TreeRecord
	tree    *btree.Tree
	dirty   bool
	dropped bool
}

func newTxn(e *Env, meta *storage.Meta, state *tx.Transaction, parent *Txn) *Txn {
	t := &Txn{
		env:      e,
		base:     meta,
		state:    state,
		parent:   parent,
		readOnly: state.Kind == tx.KindRead,
		ps:       e.file.PageSize(),
		mapping:  e.file.Mapping(),
		log:      e.log.WithTxn(state.ID),
		tables:   make([]*txTable, firstNamedDBI),
	}
	t.tables[freeDBI] = &txTable{rec: meta.Free}
	t.tables[MainDBI] = &txTable{rec: meta.Main}
	if !t.readOnly {
		t.dirty = make(map[storage.PageID]*btree.Node)
		t.next = meta.LastPgno
	}
	return t
}

// ID returns the transaction id: the snapshot read by a read transaction, or
// the id a write transaction commits under.
func (t *Txn) ID() uint64 {
	return t.state.ID
}

// ReadOnly reports whether t is a read transaction.
func (t *Txn) ReadOnly() bool {
	return t.readOnly
}

// Env returns the environment of the transaction.
func (t *Txn) Env() *Env {
	return t.env
}

// check returns BadTxn when t cannot run an operation.
func (t *Txn) check() error {
	switch {
	case !t.state.IsActive():
		return storage.NewError(storage.CodeBadTxn, "txn", fmt.Errorf("transaction %s", t.state.State()))
	case t.child != nil:
		return storage.NewError(storage.CodeBadTxn, "txn", fmt.Errorf("nested transaction active"))
	case t.broken:
		return storage.NewError(storage.CodeBadTxn, "txn", fmt.Errorf("transaction failed earlier and must be aborted"))
	}
	return nil
}

func (t *Txn) checkWrite() error {
	if err := t.check(); err != nil {
		return err
	}
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

// fail records an operation error. Anything but KeyExist and NotFound breaks
// the transaction; Panic also poisons the Env.
func (t *Txn) fail(err error) error {
	if err == nil || storage.IsExpected(err) {
		return err
	}
	t.broken = true
	if storage.CodeOf(err) == storage.CodePanic {
		t.env.poison(err)
	}
	return err
}

// Get returns the value of key. In a sorted-duplicate table it is the first
// value of the key.
func (t *Txn) Get(dbi DBI, key []byte) ([]byte, error) {
	if err := t.check(); err != nil {
		return nil, err
	}
	tr, err := t.tree(dbi)
	if err != nil {
		return nil, err
	}
	val, err := tr.Get(key)
	return val, t.fail(err)
}

// Put stores val under key. In a sorted-duplicate table val is added to the
// values of key.
func (t *Txn) Put(dbi DBI, key, val []byte, flags PutFlags) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	tbl, tr, err := t.writeTree(dbi)
	if err != nil {
		return err
	}
	t.gen++
	if err := tr.Put(key, val, flags); err != nil {
		return t.fail(err)
	}
	tbl.dirty = true
	return nil
}

// Reserve stores a value of size bytes under key and returns the buffer to
// fill in before the next modification. Sorted-duplicate tables do not
// support it.
func (t *Txn) Reserve(dbi DBI, key []byte, size int, flags PutFlags) ([]byte, error) {
	if err := t.checkWrite(); err != nil {
		return nil, err
	}
	if size < 0 {
		return nil, storage.NewError(storage.CodeBadValSize, "reserve", fmt.Errorf("size %d", size))
	}
	tbl, tr, err := t.writeTree(dbi)
	if err != nil {
		return nil, err
	}
	t.gen++
	buf, err := tr.Reserve(key, size, flags)
	if err != nil {
		return nil, t.fail(err)
	}
	tbl.dirty = true
	return buf, nil
}

// Delete removes key. In a sorted-duplicate table a non-nil val removes only
// that value; otherwise val is ignored and every value of key goes.
func (t *Txn) Delete(dbi DBI, key, val []byte) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	tbl, tr, err := t.writeTree(dbi)
	if err != nil {
		return err
	}
	t.gen++
	if err := tr.Delete(key, val); err != nil {
		return t.fail(err)
	}
	tbl.dirty = true
	return nil
}

// BeginNested starts a child transaction. Until the child ends the parent
// refuses every operation with BadTxn. Committing the child folds its changes
// into the parent; aborting it discards them.
func (t *Txn) BeginNested() (*Txn, error) {
	if err := t.checkWrite(); err != nil {
		return nil, err
	}
	c := &Txn{
		env:       t.env,
		base:      t.base,
		state:     tx.NewTransaction(t.state.ID, tx.KindWrite),
		parent:    t,
		ps:        t.ps,
		mapping:   t.mapping,
		log:       t.log.WithFields("nested", true),
		tables:    make([]*txTable, len(t.tables)),
		dirty:     make(map[storage.PageID]*btree.Node),
		dirtyBase: t.dirtyCount(),
	}
	c.mapping.Retain()
	c.adoptAlloc(t)
	for i, tbl := range t.tables {
		if tbl != nil {
			c.tables[i] = &txTable{rec: tbl.rec, dirty: tbl.dirty, dropped: tbl.dropped}
		}
	}
	t.child = c
	return c, nil
}

// adoptAlloc copies the allocation state of src.
func (t *Txn) adoptAlloc(src *Txn) {
	t.retired = src.retired.Clone()
	t.loose = src.loose.Clone()
	t.reclaimed = src.reclaimed.Clone()
	t.consumed = append([][]byte(nil), src.consumed...)
	t.freeNext = src.freeNext
	t.next = src.next
}

// mergeInto folds a committed child into its parent.
func (t *Txn) mergeInto(p *Txn) {
	for id, n := range t.dirty {
		if n != nil {
			p.dirty[id] = n
			continue
		}
		if p.parent != nil {
			if d, found := p.parent.lookupDirty(id); found && d != nil {
				p.dirty[id] = nil
				continue
			}
		}
		delete(p.dirty, id)
	}
	p.adoptAlloc(t)
	p.created = append(p.created, t.created...)
	p.dropped = append(p.dropped, t.dropped...)
	for i, tbl := range t.tables {
		if tbl != nil {
			tbl.tree = nil
		}
		if i < len(p.tables) {
			p.tables[i] = tbl
		} else {
			p.tables = append(p.tables, tbl)
		}
	}
	p.gen++
}

// Commit ends the transaction, making its changes durable per the Env's
// durability mode and visible to new readers. Committing a read transaction
// just ends it. The transaction is finished afterwards whatever the outcome.
func (t *Txn) Commit() error {
	_, err := t.CommitChanged()
	return err
}

// CommitChanged is Commit that also reports whether anything was written: a
// new snapshot for a top-level writer, changes handed to the parent for a
// nested one. It is false for read transactions and for writers that changed
// nothing, whose commit leaves the file untouched.
func (t *Txn) CommitChanged() (bool, error) {
	if err := t.check(); err != nil {
		if t.state.IsActive() && t.child == nil {
			t.Abort()
		}
		return false, err
	}
	if t.readOnly {
		return false, t.end(tx.TxCommitted)
	}
	if err := t.state.Transition(tx.TxCommitting); err != nil {
		return false, err
	}
	if t.parent != nil {
		changed := len(t.dirty) > 0 || len(t.retired) > 0 || len(t.loose) > 0 || len(t.created) > 0 || len(t.dropped) > 0
		t.mergeInto(t.parent)
		return changed, t.end(tx.TxCommitted)
	}
	changed, err := t.commit()
	if err != nil {
		t.fail(err)
		t.end(tx.TxAborted)
		return false, err
	}
	return changed, t.end(tx.TxCommitted)
}

// Abort discards the transaction and any open child. It is a no-op on a
// finished transaction.
func (t *Txn) Abort() {
	if t.state.IsDone() {
		return
	}
	if t.child != nil {
		t.child.Abort()
	}
	t.end(tx.TxAborted)
}

func (t *Txn) end(state tx.TxState) error {
	var err error
	switch {
	case t.parent != nil:
		if state == tx.TxAborted || t.state.State() == tx.TxCommitting {
			err = t.state.Transition(state)
		}
		t.parent.child = nil
	case t.reader != nil:
		err = t.env.mgr.EndRead(t.reader, state)
	default:
		err = t.env.mgr.EndWrite(t.state, state)
	}
	if state == tx.TxAborted {
		t.env.closeTables(t.created)
	}
	t.dirty = nil
	t.tables = nil
	if rerr := t.mapping.Release(); err == nil {
		err = rerr
	}
	return err
}
