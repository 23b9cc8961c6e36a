package tx

import (
	"fmt"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/obakv/internal/storage"
)

// TxState represents the state of a transaction.
type TxState int

const (
	// TxActive indicates the transaction is currently active.
	TxActive TxState = iota
	// TxCommitting indicates the commit protocol is running.
	TxCommitting
	// TxCommitted indicates the transaction has been successfully committed.
	TxCommitted
	// TxAborted indicates the transaction has been rolled back.
	TxAborted
)

// String returns the string representation of a TxState.
func (s TxState) String() string {
	switch s {
	case TxActive:
		return "Active"
	case TxCommitting:
		return "Committing"
	case TxCommitted:
		return "Committed"
	case TxAborted:
		return "Aborted"
	default:
		return "Unknown"
	}
}

// Kind distinguishes read-only from read-write transactions.
type Kind int

const (
	// KindRead is a read-only snapshot transaction.
	KindRead Kind = iota
	// KindWrite is the single writer.
	KindWrite
)

// String returns the string representation of a Kind.
func (k Kind) String() string {
	if k == KindWrite {
		return "write"
	}
	return "read"
}

// validTransitions lists the allowed state changes. Committing can still end
// in Aborted when the commit protocol fails.
var validTransitions = map[TxState][]TxState{
	TxActive:     {TxCommitting, TxAborted},
	TxCommitting: {TxCommitted, TxAborted},
}

// Transaction tracks the lifecycle of one engine transaction.
type Transaction struct {
	// ID is the snapshot txnid for readers and the txnid being written for
	// the writer.
	ID uint64

	// Kind is read or write.
	Kind Kind

	// StartTime is when the transaction began.
	StartTime time.Time

	// mu protects state.
	mu    sync.RWMutex
	state TxState
}

// NewTransaction creates an active transaction.
func NewTransaction(id uint64, kind Kind) *Transaction {
	return &Transaction{
		ID:        id,
		Kind:      kind,
		StartTime: time.Now(),
		state:     TxActive,
	}
}

// State returns the current state.
func (tx *Transaction) State() TxState {
	tx.mu.RLock()
	defer tx.mu.RUnlock()
	return tx.state
}

// IsActive returns true if the transaction is still active.
func (tx *Transaction) IsActive() bool {
	return tx.State() == TxActive
}

// IsDone returns true once the transaction committed or aborted.
func (tx *Transaction) IsDone() bool {
	s := tx.State()
	return s == TxCommitted || s == TxAborted
}

// Transition moves the transaction to state to. An invalid transition
// returns BadTxn and leaves the state unchanged.
func (tx *Transaction) Transition(to TxState) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()

	for _, s := range validTransitions[tx.state] {
		if s == to {
			tx.state = to
			return nil
		}
	}
	return storage.NewError(storage.CodeBadTxn, "transition", fmt.Errorf("%s -> %s", tx.state, to))
}

// Duration returns how long the transaction has been running.
func (tx *Transaction) Duration() time.Duration {
	return time.Since(tx.StartTime)
}
