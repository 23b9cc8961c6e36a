//go:build linux || darwin

package obakv

import (
	"fmt"

	"github.com/KilimcininKorOglu/obakv/internal/logging"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// maxFreelistPasses bounds the freelist update loop. The first half of the
// passes may reuse free pages for the free tree; after that pages only come
// from the end of the file, the freed set can only grow and the loop settles.
const maxFreelistPasses = 16

// commit writes a top-level write transaction: named table records, the
// freelist, the dirty pages and finally the meta page. It reports false when
// there was nothing to write and the meta was left alone.
func (t *Txn) commit() (bool, error) {
	if err := t.saveTables(); err != nil {
		return false, err
	}
	if len(t.dirty) == 0 && len(t.retired) == 0 && len(t.consumed) == 0 {
		t.log.Debug("nothing to commit")
		t.env.closeTables(t.dropped)
		return false, nil
	}
	if err := t.updateFreelist(); err != nil {
		return false, err
	}

	meta := *t.base
	meta.Txnid = t.state.ID
	meta.Geometry = t.env.file.Geometry()
	meta.Main = t.tables[MainDBI].rec
	meta.Free = t.tables[freeDBI].rec
	meta.LastPgno = t.next

	pages, err := t.flush()
	if err != nil {
		return false, err
	}
	if h := t.env.afterFlush; h != nil {
		if err := h(); err != nil {
			return false, err
		}
	}
	if err := t.env.file.WriteMeta(&meta, int(meta.Txnid%storage.NumMetas)); err != nil {
		return false, err
	}
	if t.env.opts.Durability == Durable {
		if err := t.env.file.Sync(); err != nil {
			return false, err
		}
	}
	if err := t.env.file.EnsureMapped(meta.LastPgno); err != nil {
		return false, err
	}
	t.env.closeTables(t.dropped)
	if t.log.Enabled(logging.LevelDebug) {
		t.log.Debug("committed", "pages", pages, "retired", len(t.retired), "last_pgno", meta.LastPgno,
			"elapsed", t.state.Duration().String())
	}
	return true, nil
}

// flush grows the file to the high-water mark and writes every dirty page.
// Pages are synced unless the durability mode is Lazy.
func (t *Txn) flush() (int, error) {
	bufs := make([]storage.PageBuf, 0, len(t.dirty))
	for id, n := range t.dirty {
		if n == nil {
			continue
		}
		pages := n.Pages
		if pages < 1 {
			pages = 1
		}
		buf := make([]byte, pages*t.ps)
		if err := n.Encode(buf); err != nil {
			return 0, err
		}
		bufs = append(bufs, storage.PageBuf{ID: id, Data: buf})
	}
	if err := t.env.file.Grow(t.next); err != nil {
		return 0, err
	}
	if err := t.env.file.WritePages(bufs); err != nil {
		return 0, err
	}
	if t.env.opts.Durability != Lazy {
		if err := t.env.file.Sync(); err != nil {
			return 0, err
		}
	}
	return len(bufs), nil
}

// updateFreelist deletes the freelist records this transaction reclaimed and
// records every page it freed, under the transaction's own txnid. The free
// tree takes its own pages from the loose and reclaimed pages, which removes
// them from the recorded set, and changing it can free more pages, so the
// records are rewritten until the set stops changing.
func (t *Txn) updateFreelist() error {
	t.gcActive = true
	defer func() { t.gcActive, t.gcGrowOnly = false, false }()

	free := t.freeTree()
	perRecord := storage.MaxFreeRecordPages(t.ps)
	written := 0
	for pass := 0; ; pass++ {
		if pass == maxFreelistPasses {
			return storage.NewError(storage.CodePanic, "commit", fmt.Errorf("freelist did not settle after %d passes", pass))
		}
		t.gcGrowOnly = pass >= maxFreelistPasses/2
		if !t.gcGrowOnly {
			if err := t.reserveFreePages(); err != nil {
				return err
			}
		}
		for _, key := range t.consumed {
			if err := free.Delete(key, nil); err != nil {
				return err
			}
		}
		t.consumed = nil

		set := t.freedPages()
		chunks := set.Chunks(perRecord)
		for j, chunk := range chunks {
			if err := free.Put(storage.FreeKey(t.state.ID, uint32(j)), storage.EncodePageList(chunk), 0); err != nil {
				return err
			}
		}
		for j := len(chunks); j < written; j++ {
			if err := free.Delete(storage.FreeKey(t.state.ID, uint32(j)), nil); err != nil {
				return err
			}
		}
		written = len(chunks)
		if samePages(set, t.freedPages()) {
			return nil
		}
	}
}

// freedPages returns every page this transaction leaves free.
func (t *Txn) freedPages() storage.PageList {
	return t.retired.Merge(t.reclaimed).Merge(t.loose)
}

func samePages(a, b storage.PageList) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
