// Package pagevault is the public facade of the paged compound file
// store: a single host file holding many independently allocated,
// variably-sized embedded byte streams, each addressed by an opaque
// 32-bit handle.
package pagevault

import (
	"errors"
	"fmt"

	"github.com/oda/pagevault/internal/pvstore"
)

// ErrorKind classifies why a Store operation failed.
type ErrorKind int

const (
	// IoFailure wraps a failure from the backing block device, including
	// a durable-flush failure.
	IoFailure ErrorKind = iota
	// AlreadyClosed means the operation was attempted after Close.
	AlreadyClosed
	// InvalidHandle means the handle is zero, out of range, or names a
	// free (not allocated) page.
	InvalidHandle
	// OutOfRange means the caller's buffer slice or offset doesn't fit
	// the claimed range.
	OutOfRange
	// CorruptData means a file-header parse failure, magic mismatch, crc
	// mismatch during verify-on-read, or a failed whole-file validation.
	CorruptData
	// UnsupportedVersion means the on-disk format version exceeds the
	// version this module understands.
	UnsupportedVersion
	// OutOfSpace means extending the backing file would exceed the
	// 32-bit page address space.
	OutOfSpace
)

func (k ErrorKind) String() string {
	switch k {
	case IoFailure:
		return "IoFailure"
	case AlreadyClosed:
		return "AlreadyClosed"
	case InvalidHandle:
		return "InvalidHandle"
	case OutOfRange:
		return "OutOfRange"
	case CorruptData:
		return "CorruptData"
	case UnsupportedVersion:
		return "UnsupportedVersion"
	case OutOfSpace:
		return "OutOfSpace"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// Error is the error type every Store method returns. It carries a
// typed Kind and wraps the underlying cause so errors.Is/errors.As see
// through to it.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String()
	}
	return fmt.Sprintf("pagevault: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is an *Error with the same Kind, so callers
// can write errors.Is(err, pagevault.ErrAlreadyClosed)-style checks
// against the sentinels below.
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Kind == e.Kind
}

// Sentinels usable with errors.Is against a returned *Error, one per
// ErrorKind, carrying no wrapped cause.
var (
	ErrIoFailure          = &Error{Kind: IoFailure}
	ErrAlreadyClosed      = &Error{Kind: AlreadyClosed}
	ErrInvalidHandle      = &Error{Kind: InvalidHandle}
	ErrOutOfRange         = &Error{Kind: OutOfRange}
	ErrCorruptData        = &Error{Kind: CorruptData}
	ErrUnsupportedVersion = &Error{Kind: UnsupportedVersion}
	ErrOutOfSpace         = &Error{Kind: OutOfSpace}
)

// wrapEngineErr classifies an error from internal/pvstore into the
// taxonomy above. Any error that isn't one of pvstore's sentinels is
// assumed to originate from the backing block device and becomes
// IoFailure.
func wrapEngineErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, pvstore.ErrInvalidHandle):
		return &Error{Kind: InvalidHandle, Err: err}
	case errors.Is(err, pvstore.ErrOutOfRange):
		return &Error{Kind: OutOfRange, Err: err}
	case errors.Is(err, pvstore.ErrCorruptData):
		return &Error{Kind: CorruptData, Err: err}
	case errors.Is(err, pvstore.ErrUnsupportedVersion):
		return &Error{Kind: UnsupportedVersion, Err: err}
	case errors.Is(err, pvstore.ErrOutOfSpace):
		return &Error{Kind: OutOfSpace, Err: err}
	default:
		return &Error{Kind: IoFailure, Err: err}
	}
}
