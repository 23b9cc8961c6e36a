//go:build linux || darwin

package obakv

import (
	"fmt"
	"io"
	"os"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// copyBatchPages is how many pages CopyTo writes at a time.
const copyBatchPages = 256

// CopyTo writes the snapshot of a read transaction to w as a complete data
// file. Both meta pages of the copy describe the snapshot; free pages are
// copied as they are.
func (t *Txn) CopyTo(w io.Writer) error {
	if err := t.check(); err != nil {
		return err
	}
	if !t.readOnly {
		return storage.NewError(storage.CodeIncompatible, "copy", fmt.Errorf("write transaction"))
	}

	meta := *t.base
	buf := make([]byte, storage.NumMetas*t.ps)
	for slot := 0; slot < storage.NumMetas; slot++ {
		m := meta
		m.Serialize(buf[slot*t.ps:(slot+1)*t.ps], slot)
	}
	if _, err := w.Write(buf); err != nil {
		return err
	}

	for id := storage.PageID(storage.NumMetas); id < meta.LastPgno; {
		n := copyBatchPages
		if rest := int(meta.LastPgno - id); rest < n {
			n = rest
		}
		pages, err := t.mapping.Pages(id, n, t.ps)
		if err != nil {
			return t.fail(err)
		}
		if _, err := w.Write(pages); err != nil {
			return err
		}
		id += storage.PageID(n)
	}
	return nil
}

// Copy writes a consistent copy of the latest snapshot to a new file at path.
func (e *Env) Copy(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	t, err := e.BeginRead()
	if err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	defer t.Abort()

	if err := t.CopyTo(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("copy to %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	e.log.Info("snapshot copied", "to", path, "txnid", t.ID())
	return f.Close()
}
