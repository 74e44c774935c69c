// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package serialmsg

import "bytes"

// A Framer converts a stream of bytes into messages. It is a state machine
// with two states: awaiting an identifier byte, and awaiting the payload of
// the handler that identifier selected.
//
// A Framer does not depend on how its input is chunked: feeding a stream in
// one call or split across any number of calls, including empty ones, frames
// the same messages in the same order.
//
// The methods of a Framer are not safe for concurrent use. A Session
// serializes access to its framer.
type Framer struct {
	lookup func(byte) *Handler
	emit   func(*Message)

	// Optional observers, set by the owner before use.
	start func(*Handler) // an identifier selected a handler
	drop  func(byte)     // an identifier had no handler

	buf    []byte   // unconsumed input
	active *Handler // non-nil while awaiting a payload
}

// NewFramer constructs a framer that resolves identifiers with lookup and
// passes each complete message to emit. The lookup function reports nil for
// an identifier that has no handler.
func NewFramer(lookup func(byte) *Handler, emit func(*Message)) *Framer {
	return &Framer{lookup: lookup, emit: emit}
}

// Want reports the number of bytes the framer needs to complete its current
// unit: 1 while awaiting an identifier, otherwise the payload length of the
// active handler.
func (f *Framer) Want() int {
	if f.active == nil {
		return 1
	}
	return f.active.Length()
}

// Active returns the handler whose payload is being awaited, or nil if the
// framer is awaiting an identifier.
func (f *Framer) Active() *Handler { return f.active }

// Buffered reports the number of bytes received but not yet consumed.
func (f *Framer) Buffered() int { return len(f.buf) }

// Reset discards buffered input and returns f to awaiting an identifier.
func (f *Framer) Reset() { f.buf = f.buf[:0]; f.active = nil }

// Feed adds chunk to the input of f and processes every complete unit now
// available. Messages are emitted synchronously and in stream order.
//
// An identifier byte with no registered handler is dropped, and the framer
// continues with the next byte as a candidate identifier.
func (f *Framer) Feed(chunk []byte) {
	f.buf = append(f.buf, chunk...)

	pos := 0
	for len(f.buf)-pos >= f.Want() {
		if f.active == nil {
			id := f.buf[pos]
			pos++
			h := f.lookup(id)
			if h == nil {
				if f.drop != nil {
					f.drop(id)
				}
				continue
			}
			f.active = h
			if f.start != nil {
				f.start(h)
			}
			continue
		}

		h := f.active
		end := pos + h.Length()
		msg := &Message{ID: h.ID(), Handler: h, Payload: bytes.Clone(f.buf[pos:end])}
		pos = end
		f.active = nil
		f.emit(msg)
	}

	// Shift any partial unit to the front so the buffer does not grow with
	// the total length of the stream.
	n := copy(f.buf, f.buf[pos:])
	f.buf = f.buf[:n]
}
