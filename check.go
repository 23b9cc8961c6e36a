//go:build linux || darwin

package obakv

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
)

// PageUse describes a page, or an overflow run, reached from a snapshot.
type PageUse struct {
	ID    uint64
	Pages int
	Type  string
	// Table is the name of the table owning the page; empty for the main
	// table, the metas and the freelist.
	Table   string
	Free    bool
	Depth   int
	Entries int
	Used    int
	Dup     bool
}

// walkTarget is one tree reachable from the snapshot.
type walkTarget struct {
	name string
	free bool
	tree *btree.Tree
}

// targets lists the freelist, the main table and every named table as this
// transaction sees them.
func (t *Txn) targets() ([]walkTarget, error) {
	main, err := t.tree(MainDBI)
	if err != nil {
		return nil, err
	}
	targets := []walkTarget{{free: true, tree: t.freeTree()}, {tree: main}}
	err = main.Tables(func(name []byte, rec storage.TreeRecord) error {
		n := string(name)
		var cmp, dcmp btree.Compare
		if dbi, ok := t.env.lookupName(n); ok {
			if int(dbi) < len(t.tables) && t.tables[dbi] != nil {
				rec = t.tables[dbi].rec
			}
			info, _ := t.env.info(dbi)
			cmp, dcmp = info.cmp, info.dcmp
		}
		r := rec
		targets = append(targets, walkTarget{name: n, tree: btree.New(t, &r, cmp, dcmp)})
		return nil
	})
	return targets, err
}

// WalkPages calls fn for the two meta pages and every page reachable from
// the snapshot of t, table by table.
func (t *Txn) WalkPages(fn func(p PageUse) error) error {
	if err := t.check(); err != nil {
		return err
	}
	for id := 0; id < storage.NumMetas; id++ {
		if err := fn(PageUse{ID: uint64(id), Pages: 1, Type: storage.PageTypeMeta.String()}); err != nil {
			return err
		}
	}
	targets, err := t.targets()
	if err != nil {
		return t.fail(err)
	}
	for _, tg := range targets {
		tg := tg
		err := tg.tree.Walk(func(p btree.PageInfo) error {
			return fn(PageUse{
				ID:      uint64(p.ID),
				Pages:   p.Pages,
				Type:    p.Type.String(),
				Table:   tg.name,
				Free:    tg.free,
				Depth:   p.Depth,
				Entries: p.Entries,
				Used:    p.Used,
				Dup:     p.Dup,
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// FreeRecords calls fn for every freelist record of the snapshot: the id of
// the transaction that freed the pages, and the pages.
func (t *Txn) FreeRecords(fn func(txnid uint64, pages []uint64) error) error {
	if err := t.check(); err != nil {
		return err
	}
	c := t.freeTree().Cursor()
	ok, err := c.First()
	for ; ok && err == nil; ok, err = c.Next() {
		txnid, _, err := storage.ParseFreeKey(c.Key())
		if err != nil {
			return t.fail(err)
		}
		val, err := c.Value()
		if err != nil {
			return t.fail(err)
		}
		ids, err := storage.DecodePageList(val)
		if err != nil {
			return t.fail(err)
		}
		pages := make([]uint64, len(ids))
		for i, id := range ids {
			pages[i] = uint64(id)
		}
		if err := fn(txnid, pages); err != nil {
			return err
		}
	}
	return t.fail(err)
}

// Check verifies the snapshot of a read transaction: every tree is ordered
// with consistent separators, depths and counters, and every page below the
// high-water mark is either reachable or listed once in the freelist. Trees
// are verified concurrently. Named tables with a custom order must have their
// comparator set on the Env.
func (t *Txn) Check(ctx context.Context) error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.readOnly {
		return storage.NewError(storage.CodeIncompatible, "check", fmt.Errorf("write transaction"))
	}
	targets, err := t.targets()
	if err != nil {
		return err
	}

	used := make([][]storage.PageID, len(targets))
	g, ctx := errgroup.WithContext(ctx)
	for i, tg := range targets {
		i, tg := i, tg
		g.Go(func() error {
			if err := tg.tree.Verify(); err != nil {
				return fmt.Errorf("table %q: %w", tg.name, err)
			}
			return tg.tree.Walk(func(p btree.PageInfo) error {
				if err := ctx.Err(); err != nil {
					return err
				}
				for j := 0; j < p.Pages; j++ {
					used[i] = append(used[i], p.ID+storage.PageID(j))
				}
				return nil
			})
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	var free []storage.PageID
	err = t.FreeRecords(func(_ uint64, pages []uint64) error {
		for _, id := range pages {
			free = append(free, storage.PageID(id))
		}
		return nil
	})
	if err != nil {
		return err
	}

	return t.account(append(flatten(used), free...))
}

func flatten(lists [][]storage.PageID) []storage.PageID {
	var out []storage.PageID
	for _, l := range lists {
		out = append(out, l...)
	}
	return out
}

// account checks that ids together with the metas cover every page below the
// high-water mark exactly once.
func (t *Txn) account(ids []storage.PageID) error {
	hi := t.base.LastPgno
	seen := make([]bool, hi)
	for i := 0; i < storage.NumMetas; i++ {
		seen[i] = true
	}
	for _, id := range ids {
		if id >= hi {
			return storage.Corruptf("check", "page %d beyond the high-water mark %d", id, hi)
		}
		if seen[id] {
			return storage.Corruptf("check", "page %d reachable or free twice", id)
		}
		seen[id] = true
	}
	for id, ok := range seen {
		if !ok {
			return storage.Corruptf("check", "page %d is neither reachable nor free", id)
		}
	}
	return nil
}
