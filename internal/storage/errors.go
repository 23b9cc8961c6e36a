package storage

import (
	"errors"
	"fmt"
)

// Code classifies engine errors.
type Code int

const (
	CodeCorrupted Code = iota + 1
	CodeMapFull
	CodeKeyExist
	CodeNotFound
	CodeTxnFull
	CodeBadTxn
	CodeBusy
	CodePanic
	CodeBadValSize
	CodeIncompatible
	CodeReadersFull
	CodeTablesFull
	CodeReadOnly
	CodeInvalid
)

// String returns the string representation of a Code.
func (c Code) String() string {
	switch c {
	case CodeCorrupted:
		return "corrupted"
	case CodeMapFull:
		return "map full"
	case CodeKeyExist:
		return "key exists"
	case CodeNotFound:
		return "not found"
	case CodeTxnFull:
		return "transaction full"
	case CodeBadTxn:
		return "bad transaction"
	case CodeBusy:
		return "busy"
	case CodePanic:
		return "panic"
	case CodeBadValSize:
		return "bad key or value size"
	case CodeIncompatible:
		return "incompatible operation"
	case CodeReadersFull:
		return "reader table full"
	case CodeTablesFull:
		return "too many tables"
	case CodeReadOnly:
		return "read-only"
	case CodeInvalid:
		return "invalid argument"
	default:
		return "unknown"
	}
}

// Error is an engine error carrying a Code, the failing operation and an
// optional cause.
type Error struct {
	Code Code
	Op   string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Code.String()
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Op == "" && t.Err == nil
}

// Sentinels to compare against with errors.Is.
var (
	ErrCorrupted    = &Error{Code: CodeCorrupted}
	ErrMapFull      = &Error{Code: CodeMapFull}
	ErrKeyExist     = &Error{Code: CodeKeyExist}
	ErrNotFound     = &Error{Code: CodeNotFound}
	ErrTxnFull      = &Error{Code: CodeTxnFull}
	ErrBadTxn       = &Error{Code: CodeBadTxn}
	ErrBusy         = &Error{Code: CodeBusy}
	ErrPanic        = &Error{Code: CodePanic}
	ErrBadValSize   = &Error{Code: CodeBadValSize}
	ErrIncompatible = &Error{Code: CodeIncompatible}
	ErrReadersFull  = &Error{Code: CodeReadersFull}
	ErrTablesFull   = &Error{Code: CodeTablesFull}
	ErrReadOnly     = &Error{Code: CodeReadOnly}
	ErrInvalid      = &Error{Code: CodeInvalid}
)

// NewError returns an error with the given code.
func NewError(code Code, op string, err error) error {
	return &Error{Code: code, Op: op, Err: err}
}

// Corruptf returns a Corrupted error with a formatted detail.
func Corruptf(op, format string, args ...interface{}) error {
	return &Error{Code: CodeCorrupted, Op: op, Err: fmt.Errorf(format, args...)}
}

// CodeOf extracts the Code of err, or 0 when err is not an engine error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

// IsExpected reports whether err is an expected outcome (KeyExist, NotFound)
// that does not invalidate a write transaction.
func IsExpected(err error) bool {
	c := CodeOf(err)
	return c == CodeKeyExist || c == CodeNotFound
}
