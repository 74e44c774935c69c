// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package serialmsg

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfRange is reported by Register for an identifier outside [0, 255].
	ErrOutOfRange = errors.New("identifier out of range")

	// ErrInvalidLength is reported for a payload length that does not match
	// (or cannot be) a handler's declared length.
	ErrInvalidLength = errors.New("invalid payload length")

	// ErrNoSuchHandler is reported by AwaitID when no handler is registered
	// for the requested identifier.
	ErrNoSuchHandler = errors.New("no such handler")

	// ErrNotOpen is reported by Send before the session has been opened.
	ErrNotOpen = errors.New("session is not open")

	// ErrNoTransport is reported by Open and Send on a session constructed
	// without a transport.
	ErrNoTransport = errors.New("session has no transport")

	// ErrCanceled is the error reported by a Pending that was canceled before
	// a matching message arrived.
	ErrCanceled = errors.New("wait canceled")
)

// OpenError is the concrete type of errors reported by the Open method of a
// Session when the transport could not be opened.
type OpenError struct {
	Err error // the error reported by the transport
}

// Error satisfies the error interface.
func (e *OpenError) Error() string { return fmt.Sprintf("open transport: %v", e.Err) }

// Unwrap reports the underlying transport error.
func (e *OpenError) Unwrap() error { return e.Err }

// WriteError is the concrete type of errors reported by the Send methods of a
// Session. N is the number of bytes the transport accepted before failing.
type WriteError struct {
	N   int
	Err error
}

// Error satisfies the error interface.
func (e *WriteError) Error() string {
	if e.N > 0 {
		return fmt.Sprintf("write transport (after %d bytes): %v", e.N, e.Err)
	}
	return fmt.Sprintf("write transport: %v", e.Err)
}

// Unwrap reports the underlying transport error.
func (e *WriteError) Unwrap() error { return e.Err }
