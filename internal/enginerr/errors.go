// Package enginerr defines the tagged error taxonomy shared by every
// storage-engine component: page codec, cache, WAL, disk service, lock
// manager, snapshots and the index service all return errors constructed
// here instead of ad-hoc sentinels, so callers can branch on Code without
// caring which package produced the failure.
package enginerr

import (
	"errors"
	"fmt"
)

// Code classifies an engine error. See spec §7 for the full taxonomy.
type Code int

const (
	// CodeUnknown is never returned; it catches zero-value misuse.
	CodeUnknown Code = iota

	// CodeIO marks an underlying stream failure. Fatal for the current
	// transaction; after a CodeIO error during the writer queue's drain the
	// engine is latched into a read-only degraded state until restart.
	CodeIO

	// CodeCorruption marks a checksum or shape violation reading a page.
	CodeCorruption

	// CodeLockTimeout marks a database or collection lock that was not
	// acquired within the configured timeout.
	CodeLockTimeout

	// CodeInvalidIndexKey marks an unsupported index key (Min/Max sentinel
	// or over MAX_INDEX_KEY_LENGTH bytes).
	CodeInvalidIndexKey

	// CodeIndexDuplicateKey marks a unique-index constraint violation.
	CodeIndexDuplicateKey

	// CodeDataSizeExceeded marks the LIMIT_SIZE pragma being exceeded.
	CodeDataSizeExceeded

	// CodeEncryptionRequired marks a file whose first byte names an
	// encryption mode but no password was supplied.
	CodeEncryptionRequired

	// CodeWrongPassword marks a supplied password that fails to open an
	// encrypted file.
	CodeWrongPassword

	// CodeInvalidDatabase marks a header-page signature mismatch.
	CodeInvalidDatabase

	// CodeAlreadyExists marks a collection or index that already exists.
	CodeAlreadyExists

	// CodeNotFound marks a collection, index or page that does not exist.
	CodeNotFound
)

// String renders the code the way it appears in wrapped error messages.
func (c Code) String() string {
	switch c {
	case CodeIO:
		return "IO"
	case CodeCorruption:
		return "Corruption"
	case CodeLockTimeout:
		return "LockTimeout"
	case CodeInvalidIndexKey:
		return "InvalidIndexKey"
	case CodeIndexDuplicateKey:
		return "IndexDuplicateKey"
	case CodeDataSizeExceeded:
		return "DataSizeExceeded"
	case CodeEncryptionRequired:
		return "EncryptionRequired"
	case CodeWrongPassword:
		return "WrongPassword"
	case CodeInvalidDatabase:
		return "InvalidDatabase"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// Error is the uniform error type returned by every core package.
//
// Use [errors.As] to recover the Code, or the package-level [Is] helper:
//
//	if enginerr.Is(err, enginerr.CodeLockTimeout) { ... }
type Error struct {
	Code Code
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Msg)
	}

	return fmt.Sprintf("%s: %s: %s", e.Code, e.Msg, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// New constructs a Code-tagged error with no further cause.
func New(code Code, msg string) error {
	return &Error{Code: code, Msg: msg}
}

// Newf constructs a Code-tagged error with a formatted message.
func Newf(code Code, format string, args ...any) error {
	return &Error{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a Code to an existing cause.
func Wrap(code Code, err error, msg string) error {
	if err == nil {
		return nil
	}

	return &Error{Code: code, Msg: msg, Err: err}
}

// Is reports whether err (or something it wraps) carries the given Code.
func Is(err error, code Code) bool {
	var e *Error

	if errors.As(err, &e) {
		return e.Code == code
	}

	return false
}

// CodeOf extracts the Code from err, or CodeUnknown if err does not carry one.
func CodeOf(err error) Code {
	var e *Error

	if errors.As(err, &e) {
		return e.Code
	}

	return CodeUnknown
}
