//go:build linux || darwin

package obakv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/KilimcininKorOglu/obakv/internal/logging"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
	"github.com/KilimcininKorOglu/obakv/internal/storage/btree"
	"github.com/KilimcininKorOglu/obakv/internal/storage/tx"
)

// Env is one open store: the data file, its lock file and the table registry.
// It is safe for concurrent use; transactions are not.
type Env struct {
	path string
	opts Options
	file *storage.File
	mgr  *tx.Manager
	log  logging.Logger

	// mu guards tables and closed.
	mu     sync.RWMutex
	tables []tableInfo
	closed bool

	// panicked is set once a Panic error was returned; the Env then refuses
	// new transactions.
	panicked atomic.Bool

	// afterFlush runs between the page flush and the meta write of a commit.
	afterFlush func() error
}

// Open opens or creates the store at path. The lock file is path + "-lock".
func Open(path string, opts Options) (*Env, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	log := opts.Logger.WithFields("path", path)

	f, err := storage.Open(path, opts.fileOptions())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	mgr, err := tx.Open(path+"-lock", tx.Options{MaxReaders: opts.MaxReaders, Logger: log})
	if err != nil {
		f.Close()
		return nil, err
	}

	e := &Env{
		path:   path,
		opts:   opts,
		file:   f,
		mgr:    mgr,
		log:    log,
		tables: make([]tableInfo, firstNamedDBI, firstNamedDBI+opts.MaxTables),
	}
	e.tables[freeDBI] = tableInfo{name: "", open: true}
	e.tables[MainDBI] = tableInfo{name: "", open: true}

	// Stale slots of crashed processes would hold back page reuse.
	if n := mgr.ReaderCheck(); n > 0 {
		log.Warn("cleared stale reader slots on open", "count", n)
	}
	log.Info("environment opened", "page_size", f.PageSize(), "durability", opts.Durability.String(), "read_only", opts.ReadOnly)
	return e, nil
}

// Path returns the data file path.
func (e *Env) Path() string {
	return e.path
}

// PageSize returns the page size of the store.
func (e *Env) PageSize() int {
	return e.file.PageSize()
}

// MaxKeySize returns the largest key (and sorted-duplicate value) accepted.
func (e *Env) MaxKeySize() int {
	return storage.MaxKeySize(e.file.PageSize())
}

// BeginRead starts a read transaction on the latest committed snapshot. It
// never blocks.
func (e *Env) BeginRead() (*Txn, error) {
	if err := e.usable(); err != nil {
		return nil, err
	}
	var meta *storage.Meta
	r, err := e.mgr.BeginRead(func() (uint64, error) {
		cur, _, err := e.file.Metas()
		if err != nil {
			return 0, err
		}
		meta = cur
		return cur.Txnid, nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.file.EnsureMapped(meta.LastPgno); err != nil {
		e.mgr.EndRead(r, tx.TxAborted)
		return nil, err
	}
	t := newTxn(e, meta, r.Transaction, nil)
	t.reader = r
	return t, nil
}

// BeginWrite starts a write transaction, waiting for the writer lock until
// ctx is done. A cancelled wait fails with Busy wrapping the context error.
func (e *Env) BeginWrite(ctx context.Context) (*Txn, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	var meta *storage.Meta
	w, err := e.mgr.BeginWrite(ctx, e.nextTxnid(&meta))
	if err != nil {
		return nil, err
	}
	return e.startWriter(w, meta)
}

// TryBeginWrite starts a write transaction or fails with Busy when another
// writer holds the lock.
func (e *Env) TryBeginWrite() (*Txn, error) {
	if err := e.writable(); err != nil {
		return nil, err
	}
	var meta *storage.Meta
	w, err := e.mgr.TryBeginWrite(e.nextTxnid(&meta))
	if err != nil {
		return nil, err
	}
	return e.startWriter(w, meta)
}

// nextTxnid returns the txnid callback run under the writer lock. It records
// the snapshot the writer builds on.
func (e *Env) nextTxnid(meta **storage.Meta) func() (uint64, error) {
	return func() (uint64, error) {
		cur, _, err := e.file.Metas()
		if err != nil {
			return 0, err
		}
		*meta = cur
		return cur.Txnid + 1, nil
	}
}

func (e *Env) startWriter(w *tx.Transaction, meta *storage.Meta) (*Txn, error) {
	if err := e.file.EnsureMapped(meta.LastPgno); err != nil {
		e.mgr.EndWrite(w, tx.TxAborted)
		return nil, err
	}
	return newTxn(e, meta, w, nil), nil
}

func (e *Env) usable() error {
	if e.panicked.Load() {
		return storage.NewError(storage.CodePanic, "begin", fmt.Errorf("environment must be reopened"))
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return storage.NewError(storage.CodeBadTxn, "begin", fmt.Errorf("environment closed"))
	}
	return nil
}

func (e *Env) writable() error {
	if err := e.usable(); err != nil {
		return err
	}
	if e.opts.ReadOnly {
		return storage.ErrReadOnly
	}
	return nil
}

// poison marks the Env unusable after a Panic error.
func (e *Env) poison(err error) {
	if e.panicked.CompareAndSwap(false, true) {
		e.log.Error("internal invariant violated, environment must be reopened", "error", err)
	}
}

// SetCompare sets the key order of a table. It must be called before the
// table is used and with the same function in every process.
func (e *Env) SetCompare(dbi DBI, cmp func(a, b []byte) int) error {
	return e.setCompare(dbi, cmp, false)
}

// SetDupCompare sets the value order of a sorted-duplicate table.
func (e *Env) SetDupCompare(dbi DBI, cmp func(a, b []byte) int) error {
	return e.setCompare(dbi, cmp, true)
}

func (e *Env) setCompare(dbi DBI, cmp func(a, b []byte) int, dup bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dbi == freeDBI || int(dbi) >= len(e.tables) || !e.tables[dbi].open {
		return storage.NewError(storage.CodeInvalid, "set compare", fmt.Errorf("bad table handle %d", dbi))
	}
	if dup {
		e.tables[dbi].dcmp = btree.Compare(cmp)
	} else {
		e.tables[dbi].cmp = btree.Compare(cmp)
	}
	return nil
}

// EnvInfo describes the environment.
type EnvInfo struct {
	PageSize   int
	Geometry   storage.Geometry
	MapSize    int64
	LastPgno   uint64
	Txnid      uint64
	MaxReaders int
	NumReaders int
	// Session identifies this Env in the reader table.
	Session    string
	// Writer is the txnid of the write transaction open on this Env, or 0.
	Writer     uint64
}

// Info returns information about the environment and its latest snapshot.
func (e *Env) Info() (EnvInfo, error) {
	cur, _, err := e.file.Metas()
	if err != nil {
		return EnvInfo{}, err
	}
	return EnvInfo{
		PageSize:   e.file.PageSize(),
		Geometry:   e.file.Geometry(),
		MapSize:    e.file.Size(),
		LastPgno:   uint64(cur.LastPgno),
		Txnid:      cur.Txnid,
		MaxReaders: e.mgr.MaxReaders(),
		NumReaders: e.mgr.ReaderCount(),
		Session:    e.mgr.Session().String(),
		Writer:     writerID(e.mgr.Writer()),
	}, nil
}

func writerID(w *tx.Transaction) uint64 {
	if w == nil {
		return 0
	}
	return w.ID
}

// Stat returns the statistics of the main table in the latest snapshot.
func (e *Env) Stat() (Stat, error) {
	cur, _, err := e.file.Metas()
	if err != nil {
		return Stat{}, err
	}
	return newStat(e.file.PageSize(), cur.Main), nil
}

// Sync forces committed data to stable storage. It is how Lazy and MetaLazy
// commits become durable.
func (e *Env) Sync() error {
	return e.file.Sync()
}

// ReaderCheck clears reader slots left by dead processes or closed
// environments of this process and returns how many were cleared.
func (e *Env) ReaderCheck() int {
	return e.mgr.ReaderCheck()
}

// Close releases the environment. It fails with Busy while transactions
// opened through it are still running.
func (e *Env) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	if n := e.mgr.ActiveCount(); n > 0 {
		e.mu.Unlock()
		return storage.NewError(storage.CodeBusy, "close", fmt.Errorf("%d transactions still open", n))
	}
	e.closed = true
	e.mu.Unlock()

	err := e.mgr.Close()
	if ferr := e.file.Close(); err == nil {
		err = ferr
	}
	e.log.Info("environment closed")
	return err
}
