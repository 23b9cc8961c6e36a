//go:build linux || darwin

package obakv

import (
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// DBI is a table handle. Handles are shared by every transaction of an Env.
type DBI uint32

const (
	freeDBI DBI = 0
	// MainDBI is the unnamed main table. It always exists.
	MainDBI DBI = 1

	firstNamedDBI = 2
)

// TableFlags control OpenTable.
type TableFlags uint

const (
	// Create creates the table when it does not exist.
	Create TableFlags = 1 << iota
	// DupSort lets a key own several values, kept sorted.
	DupSort
)

// tableInfo is the Env-wide state of a handle.
type tableInfo struct {
	name  string
	flags TableFlags
	cmp   btree.Compare
	dcmp  btree.Compare
	open  bool
}

// Stat holds the counters of one tree.
type Stat struct {
	PageSize      int
	Depth         int
	BranchPages   uint64
	LeafPages     uint64
	OverflowPages uint64
	Entries       uint64
}

func newStat(pageSize int, rec storage.TreeRecord) Stat {
	return Stat{
		PageSize:      pageSize,
		Depth:         int(rec.Depth),
		BranchPages:   rec.BranchPages,
		LeafPages:     rec.LeafPages,
		OverflowPages: rec.OverflowPages,
		Entries:       rec.Entries,
	}
}

func badHandle(op string, dbi DBI) error {
	return storage.NewError(storage.CodeInvalid, op, fmt.Errorf("bad table handle %d", dbi))
}

// info returns the registry entry of an open handle.
func (e *Env) info(dbi DBI) (tableInfo, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if int(dbi) >= len(e.tables) || !e.tables[dbi].open {
		return tableInfo{}, false
	}
	return e.tables[dbi], true
}

// register returns the handle of name, reopening a closed slot of the same
// name or taking a new one.
func (e *Env) register(name string, flags TableFlags) (DBI, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := firstNamedDBI; i < len(e.tables); i++ {
		if e.tables[i].name == name {
			e.tables[i].flags = flags
			e.tables[i].open = true
			return DBI(i), nil
		}
	}
	if len(e.tables) >= firstNamedDBI+e.opts.MaxTables {
		return 0, storage.NewError(storage.CodeTablesFull, "open table", fmt.Errorf("%d tables open", e.opts.MaxTables))
	}
	e.tables = append(e.tables, tableInfo{name: name, flags: flags, open: true})
	return DBI(len(e.tables) - 1), nil
}

// lookupName returns the open handle of name.
func (e *Env) lookupName(name string) (DBI, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	for i := firstNamedDBI; i < len(e.tables); i++ {
		if e.tables[i].open && e.tables[i].name == name {
			return DBI(i), true
		}
	}
	return 0, false
}

// closeTables marks handles closed. Their comparators are kept for a later
// reopen of the same name.
func (e *Env) closeTables(dbis []DBI) {
	if len(dbis) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, dbi := range dbis {
		if int(dbi) < len(e.tables) {
			e.tables[dbi].open = false
		}
	}
}

// OpenTable returns the handle of the named table. The empty name is the main
// table. With Create a missing table is created by this (write) transaction;
// the handle is closed again if the transaction aborts.
func (t *Txn) OpenTable(name string, flags TableFlags) (DBI, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	if name == "" {
		if flags&DupSort != 0 {
			return 0, storage.NewError(storage.CodeIncompatible, "open table", fmt.Errorf("main table cannot be sorted-duplicate"))
		}
		return MainDBI, nil
	}
	if len(name) > t.env.MaxKeySize() {
		return 0, storage.NewError(storage.CodeBadValSize, "open table", fmt.Errorf("name of %d bytes", len(name)))
	}

	if dbi, ok := t.env.lookupName(name); ok && !t.droppedHere(dbi) {
		tbl, err := t.table(dbi)
		if err == nil {
			if (flags&DupSort != 0) != (tbl.rec.Flags&storage.TreeDupSort != 0) {
				return 0, storage.NewError(storage.CodeIncompatible, "open table", fmt.Errorf("table %q sorted-duplicate flag differs", name))
			}
			return dbi, nil
		}
		if !storage.IsExpected(err) {
			return 0, err
		}
	}

	main, err := t.tree(MainDBI)
	if err != nil {
		return 0, err
	}
	raw, vflags, err := main.GetRaw([]byte(name))
	switch {
	case err == nil:
		if vflags&btree.FlagTable == 0 {
			return 0, storage.NewError(storage.CodeIncompatible, "open table", fmt.Errorf("%q is a plain key of the main table", name))
		}
		rec, err := storage.DecodeTreeRecord(raw)
		if err != nil {
			return 0, t.fail(err)
		}
		if (flags&DupSort != 0) != (rec.Flags&storage.TreeDupSort != 0) {
			return 0, storage.NewError(storage.CodeIncompatible, "open table", fmt.Errorf("table %q sorted-duplicate flag differs", name))
		}
		dbi, err := t.env.register(name, flags&DupSort)
		if err != nil {
			return 0, err
		}
		t.setTable(dbi, &txTable{rec: rec})
		return dbi, nil
	case !storage.IsExpected(err):
		return 0, t.fail(err)
	}

	if flags&Create == 0 {
		return 0, storage.NewError(storage.CodeNotFound, "open table", fmt.Errorf("table %q", name))
	}
	if t.readOnly {
		return 0, storage.ErrReadOnly
	}
	dbi, err := t.env.register(name, flags&DupSort)
	if err != nil {
		return 0, err
	}
	var rec storage.TreeRecord
	if flags&DupSort != 0 {
		rec.Flags = storage.TreeDupSort
	}
	t.gen++
	if err := main.PutTable([]byte(name), &rec); err != nil {
		t.env.closeTables([]DBI{dbi})
		return 0, t.fail(err)
	}
	t.tables[MainDBI].dirty = true
	t.setTable(dbi, &txTable{rec: rec, dirty: true})
	t.created = append(t.created, dbi)
	t.dropped = removeDBI(t.dropped, dbi)
	t.log.Debug("table created", "name", name, "dbi", dbi)
	return dbi, nil
}

func (t *Txn) droppedHere(dbi DBI) bool {
	return int(dbi) < len(t.tables) && t.tables[dbi] != nil && t.tables[dbi].dropped
}

func removeDBI(list []DBI, dbi DBI) []DBI {
	out := list[:0]
	for _, d := range list {
		if d != dbi {
			out = append(out, d)
		}
	}
	return out
}

func (t *Txn) setTable(dbi DBI, tbl *txTable) {
	for int(dbi) >= len(t.tables) {
		t.tables = append(t.tables, nil)
	}
	t.tables[dbi] = tbl
}

// table returns the transaction state of an open handle, loading the table
// record from the main table on first use. A table missing from this snapshot
// yields NotFound.
func (t *Txn) table(dbi DBI) (*txTable, error) {
	if dbi == freeDBI {
		return nil, badHandle("table", dbi)
	}
	if int(dbi) < len(t.tables) && t.tables[dbi] != nil {
		tbl := t.tables[dbi]
		if tbl.dropped {
			return nil, storage.NewError(storage.CodeInvalid, "table", fmt.Errorf("table %d was dropped", dbi))
		}
		return tbl, nil
	}
	info, ok := t.env.info(dbi)
	if !ok {
		return nil, badHandle("table", dbi)
	}
	main, err := t.tree(MainDBI)
	if err != nil {
		return nil, err
	}
	raw, flags, err := main.GetRaw([]byte(info.name))
	if err != nil {
		return nil, t.fail(err)
	}
	if flags&btree.FlagTable == 0 {
		return nil, storage.NewError(storage.CodeIncompatible, "table", fmt.Errorf("%q is a plain key of the main table", info.name))
	}
	rec, err := storage.DecodeTreeRecord(raw)
	if err != nil {
		return nil, t.fail(err)
	}
	tbl := &txTable{rec: rec}
	t.setTable(dbi, tbl)
	return tbl, nil
}

// tree returns the tree of a user table bound to this transaction.
func (t *Txn) tree(dbi DBI) (*btree.Tree, error) {
	var tbl *txTable
	if dbi == MainDBI {
		tbl = t.tables[MainDBI]
	} else {
		var err error
		if tbl, err = t.table(dbi); err != nil {
			return nil, err
		}
	}
	if tbl.tree == nil {
		info, ok := t.env.info(dbi)
		if !ok {
			return nil, badHandle("table", dbi)
		}
		tbl.tree = btree.New(t, &tbl.rec, info.cmp, info.dcmp)
	}
	return tbl.tree, nil
}

func (t *Txn) writeTree(dbi DBI) (*txTable, *btree.Tree, error) {
	tr, err := t.tree(dbi)
	if err != nil {
		return nil, nil, err
	}
	return t.tables[dbi], tr, nil
}

// freeTree returns the freelist tree bound to this transaction.
func (t *Txn) freeTree() *btree.Tree {
	tbl := t.tables[freeDBI]
	if tbl.tree == nil {
		tbl.tree = btree.NewFreeTree(t, &tbl.rec)
	}
	return tbl.tree
}

// Stat returns the counters of a table as seen by this transaction.
func (t *Txn) Stat(dbi DBI) (Stat, error) {
	if err := t.check(); err != nil {
		return Stat{}, err
	}
	tr, err := t.tree(dbi)
	if err != nil {
		return Stat{}, err
	}
	return newStat(t.ps, *tr.Record()), nil
}

// Flags returns the persistent flags of a table.
func (t *Txn) Flags(dbi DBI) (TableFlags, error) {
	if err := t.check(); err != nil {
		return 0, err
	}
	tr, err := t.tree(dbi)
	if err != nil {
		return 0, err
	}
	if tr.DupSort() {
		return DupSort, nil
	}
	return 0, nil
}

// ClearTable removes every entry of a table and frees its pages. Clearing
// the main table keeps the records of named tables.
func (t *Txn) ClearTable(dbi DBI) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	tbl, tr, err := t.writeTree(dbi)
	if err != nil {
		return err
	}
	t.gen++
	if dbi == MainDBI {
		err = clearPlainKeys(tr)
	} else {
		err = tr.Drop()
	}
	if err != nil {
		return t.fail(err)
	}
	tbl.dirty = true
	return nil
}

// clearPlainKeys deletes the keys of the main table that are not table
// records.
func clearPlainKeys(tr *btree.Tree) error {
	var keys [][]byte
	c := tr.Cursor()
	ok, err := c.First()
	for ; ok && err == nil; ok, err = c.Next() {
		if _, flags := c.Raw(); flags&btree.FlagTable == 0 {
			keys = append(keys, append([]byte(nil), c.Key()...))
		}
	}
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := tr.Delete(k, nil); err != nil {
			return err
		}
	}
	return nil
}

// DropTable deletes a named table and its record. The handle is closed once
// the transaction commits; until then the transaction refuses to use it.
func (t *Txn) DropTable(dbi DBI) error {
	if err := t.checkWrite(); err != nil {
		return err
	}
	if dbi < firstNamedDBI {
		return storage.NewError(storage.CodeInvalid, "drop table", fmt.Errorf("table %d cannot be dropped", dbi))
	}
	info, ok := t.env.info(dbi)
	if !ok {
		return badHandle("drop table", dbi)
	}
	tbl, tr, err := t.writeTree(dbi)
	if err != nil {
		return err
	}
	main, err := t.tree(MainDBI)
	if err != nil {
		return err
	}
	t.gen++
	if err := tr.Drop(); err != nil {
		return t.fail(err)
	}
	if err := main.DeleteTable([]byte(info.name)); err != nil {
		return t.fail(err)
	}
	t.tables[MainDBI].dirty = true
	tbl.dropped = true
	t.dropped = append(t.dropped, dbi)
	t.log.Debug("table dropped", "name", info.name, "dbi", dbi)
	return nil
}

// saveTables writes the records of modified named tables into the main table.
func (t *Txn) saveTables() error {
	main, err := t.tree(MainDBI)
	if err != nil {
		return err
	}
	for i := firstNamedDBI; i < len(t.tables); i++ {
		tbl := t.tables[i]
		if tbl == nil || !tbl.dirty || tbl.dropped {
			continue
		}
		info, ok := t.env.info(DBI(i))
		if !ok {
			return storage.NewError(storage.CodePanic, "commit", fmt.Errorf("modified table %d has no handle", i))
		}
		if err := main.PutTable([]byte(info.name), &tbl.rec); err != nil {
			return err
		}
		t.tables[MainDBI].dirty = true
		tbl.dirty = false
	}
	return nil
}
