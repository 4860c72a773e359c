package db

import (
	"errors"
	"fmt"
)

// --------------------------------------------------------------------------
// Error Codes
// --------------------------------------------------------------------------

// Code classifies the errors returned by KVDB implementations
type Code uint8

const (
	CodeInternal    Code = iota // Unexpected engine failure
	CodeNotFound                // The document does not exist
	CodeConflict                // The given revision is not the current revision
	CodeUnsupported             // The engine does not support the operation
	CodeUnavailable             // The engine can't be reached right now (retryable)
	CodeClosed                  // The engine was closed
	CodeInvalid                 // The request was malformed
)

func (c Code) String() string {
	switch c {
	case CodeInternal:
		return "internal"
	case CodeNotFound:
		return "not found"
	case CodeConflict:
		return "conflict"
	case CodeUnsupported:
		return "unsupported"
	case CodeUnavailable:
		return "unavailable"
	case CodeClosed:
		return "closed"
	case CodeInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// Error is the error type returned by all KVDB implementations
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new error with the given code and message
func NewError(code Code, format string, args ...interface{}) *Error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// WrapError wraps err with the given code and message. It returns nil if err is nil.
func WrapError(code Code, err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// ErrNotFound returns the canonical error for a missing key
func ErrNotFound(key string) *Error {
	return NewError(CodeNotFound, "document %q does not exist", key)
}

// ErrConflict returns the canonical error for a stale revision
func ErrConflict(key, rev string) *Error {
	return NewError(CodeConflict, "revision %q of document %q is not current", rev, key)
}

// ErrClosed is returned by every operation on a closed engine
var ErrClosed = NewError(CodeClosed, "database is closed")

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// CodeOf returns the code of err. Errors that are not of type *Error
// are reported as CodeInternal.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// IsNotFound reports whether err signals a missing document
func IsNotFound(err error) bool {
	return err != nil && CodeOf(err) == CodeNotFound
}

// IsConflict reports whether err signals a stale revision
func IsConflict(err error) bool {
	return err != nil && CodeOf(err) == CodeConflict
}

// IsTransient reports whether retrying the failed operation may succeed
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	switch CodeOf(err) {
	case CodeConflict, CodeUnavailable:
		return true
	default:
		return false
	}
}
