//go:build linux || darwin

package tx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/KilimcininKorOglu/obakv/internal/logging"
	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// DefaultMaxReaders is the reader slot count of a new lock file.
const DefaultMaxReaders = 126

// Options configures a Manager.
type Options struct {
	// MaxReaders is the slot count used when the lock file is created. An
	// existing lock file keeps its own.
	MaxReaders int

	// Logger receives reader table events. Nil uses a no-op logger.
	Logger logging.Logger
}

// Manager coordinates the transactions of one environment: the writer lock,
// the reader slots and the set of transactions this manager has open.
type Manager struct {
	lf      *lockFile
	session uuid.UUID
	log     logging.Logger

	// mu protects active, writer and closed.
	mu     sync.RWMutex
	active map[*Transaction]struct{}
	writer *Transaction
	closed bool
}

// Open opens the lock file at path and registers a new session.
func Open(path string, opts Options) (*Manager, error) {
	if opts.MaxReaders <= 0 {
		opts.MaxReaders = DefaultMaxReaders
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}
	lf, err := openLockFile(path, opts.MaxReaders)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	m := &Manager{
		lf:      lf,
		session: uuid.New(),
		log:     opts.Logger,
		active:  make(map[*Transaction]struct{}),
	}
	liveSessions.Store(m.session, struct{}{})
	m.log.Debug("opened lock file", "path", path, "slots", lf.slots, "session", m.session.String())
	return m, nil
}

// Session returns the session id written into this manager's reader slots.
func (m *Manager) Session() uuid.UUID {
	return m.session
}

// MaxReaders returns the number of reader slots.
func (m *Manager) MaxReaders() int {
	return m.lf.slots
}

// Reader is a read transaction holding a reader slot.
type Reader struct {
	*Transaction
	slot int
}

// Slot returns the index of the reader slot.
func (r *Reader) Slot() int {
	return r.slot
}

// BeginRead claims a reader slot and publishes the snapshot returned by
// current. The snapshot is read again after publishing and the loop repeats
// until both reads agree, so a writer scanning the slots afterwards can never
// miss this reader.
func (m *Manager) BeginRead(current func() (uint64, error)) (*Reader, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	slot, err := m.lf.claimSlot(m.session)
	if err != nil {
		return nil, err
	}
	txnid := m.lf.word(slot, slotTxnid)

	id, err := current()
	for err == nil {
		atomic.StoreUint64(txnid, id)
		var again uint64
		if again, err = current(); err == nil && again == id {
			break
		}
		id = again
	}
	if err != nil {
		m.lf.releaseSlot(slot)
		return nil, err
	}

	r := &Reader{Transaction: NewTransaction(id, KindRead), slot: slot}
	m.track(r.Transaction)
	return r, nil
}

// EndRead finishes a read transaction and frees its slot.
func (m *Manager) EndRead(r *Reader, state TxState) error {
	if state == TxCommitted {
		if err := r.Transition(TxCommitting); err != nil {
			return err
		}
	}
	if err := r.Transition(state); err != nil {
		return err
	}
	m.lf.releaseSlot(r.slot)
	m.untrack(r.Transaction)
	return nil
}

// BeginWrite acquires the writer lock, waiting until ctx is done, and starts
// a write transaction with the id returned by next. next runs under the lock.
func (m *Manager) BeginWrite(ctx context.Context, next func() (uint64, error)) (*Transaction, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if err := m.lf.lockWriter(ctx); err != nil {
		return nil, err
	}
	return m.startWriter(next)
}

// TryBeginWrite is BeginWrite without waiting: it fails with Busy when the
// writer lock is held.
func (m *Manager) TryBeginWrite(next func() (uint64, error)) (*Transaction, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	if err := m.lf.tryLockWriter(); err != nil {
		return nil, err
	}
	return m.startWriter(next)
}

func (m *Manager) startWriter(next func() (uint64, error)) (*Transaction, error) {
	id, err := next()
	if err != nil {
		m.lf.unlockWriter()
		return nil, err
	}
	tx := NewTransaction(id, KindWrite)
	m.mu.Lock()
	m.writer = tx
	m.active[tx] = struct{}{}
	m.mu.Unlock()
	return tx, nil
}

// EndWrite moves the writer to its final state and releases the writer lock.
// A commit must already be in TxCommitting.
func (m *Manager) EndWrite(tx *Transaction, state TxState) error {
	if err := tx.Transition(state); err != nil {
		return err
	}
	m.mu.Lock()
	if m.writer == tx {
		m.writer = nil
	}
	delete(m.active, tx)
	m.mu.Unlock()
	return m.lf.unlockWriter()
}

// Writer returns the open write transaction of this manager, if any.
func (m *Manager) Writer() *Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.writer
}

// OldestReader returns the smallest snapshot txnid published by any reader
// of any process, and false when no reader is registered.
func (m *Manager) OldestReader() (uint64, bool) {
	return m.lf.oldestReader()
}

// ReaderCheck reclaims slots of dead processes and closed sessions and
// returns how many were freed.
func (m *Manager) ReaderCheck() int {
	n := m.lf.reclaim()
	if n > 0 {
		m.log.Info("reclaimed stale reader slots", "count", n)
	}
	return n
}

// ReaderCount returns how many reader slots are in use across processes.
func (m *Manager) ReaderCount() int {
	return m.lf.readerCount()
}

// ActiveCount returns the number of open transactions.
func (m *Manager) ActiveCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// Close ends the session. Slots still held by it become stale.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	liveSessions.Delete(m.session)
	return m.lf.release()
}

func (m *Manager) checkOpen() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return storage.NewError(storage.CodeBadTxn, "begin", fmt.Errorf("environment closed"))
	}
	return nil
}

func (m *Manager) track(tx *Transaction) {
	m.mu.Lock()
	m.active[tx] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) untrack(tx *Transaction) {
	m.mu.Lock()
	delete(m.active, tx)
	m.mu.Unlock()
}
