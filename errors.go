package obakv

import "github.com/KilimcininKorOglu/obakv/internal/storage"

// Errors returned by the engine. Compare with errors.Is; returned errors carry
// the failing operation and cause.
var (
	// ErrCorrupted reports a checksum or structural validation failure.
	ErrCorrupted = storage.ErrCorrupted
	// ErrMapFull reports that the geometry upper bound is exhausted.
	ErrMapFull = storage.ErrMapFull
	// ErrKeyExist is returned by a put refused by its flags.
	ErrKeyExist = storage.ErrKeyExist
	// ErrNotFound is returned when a key, value or table does not exist.
	ErrNotFound = storage.ErrNotFound
	// ErrTxnFull reports that the dirty page set reached MaxDirtyPages.
	ErrTxnFull = storage.ErrTxnFull
	// ErrBadTxn reports use of a finished, broken or blocked transaction.
	ErrBadTxn = storage.ErrBadTxn
	// ErrBusy reports writer lock contention or a conflicting exclusive open.
	ErrBusy = storage.ErrBusy
	// ErrPanic reports a violated internal invariant. The Env must be reopened.
	ErrPanic = storage.ErrPanic

	ErrBadValSize   = storage.ErrBadValSize
	ErrIncompatible = storage.ErrIncompatible
	ErrReadersFull  = storage.ErrReadersFull
	ErrTablesFull   = storage.ErrTablesFull
	ErrReadOnly     = storage.ErrReadOnly
	ErrInvalid      = storage.ErrInvalid
)

// IsNotFound reports whether err is a NotFound error.
func IsNotFound(err error) bool {
	return storage.CodeOf(err) == storage.CodeNotFound
}

// IsKeyExist reports whether err is a KeyExist error.
func IsKeyExist(err error) bool {
	return storage.CodeOf(err) == storage.CodeKeyExist
}
