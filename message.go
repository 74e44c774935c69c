// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package serialmsg

import (
	"fmt"
)

// MaxID is the largest identifier that fits in the one-byte message header.
const MaxID = 255

// defaultName is the display name assigned to a descriptor without one.
const defaultName = "Unnamed Message"

// A Descriptor describes the messages accepted by a handler: the identifier
// byte that introduces them on the wire, a display name, and the fixed number
// of payload bytes that follow the identifier.
//
// The payload length is not carried on the wire. Both ends of a link must
// agree on it in advance; if they disagree, framing desynchronizes silently.
type Descriptor struct {
	ID     int    // identifier, 0 ≤ ID ≤ 255
	Name   string // for display only
	Length int    // payload length in bytes, ≥ 1
}

// check reports whether d describes a valid handler.
func (d Descriptor) check() error {
	if d.ID < 0 || d.ID > MaxID {
		return fmt.Errorf("message #%d %q: %w", d.ID, d.Name, ErrOutOfRange)
	}
	if d.Length < 1 {
		return fmt.Errorf("message #%d %q: length %d: %w", d.ID, d.Name, d.Length, ErrInvalidLength)
	}
	return nil
}

// String returns a human-friendly rendering of the descriptor.
func (d Descriptor) String() string {
	return fmt.Sprintf("Descriptor(ID=%#02x, %q, Length=%d)", d.ID, d.Name, d.Length)
}

// A Message is a single framed message delivered to the handler registered
// for its identifier.
type Message struct {
	ID      byte     // the identifier byte that introduced the message
	Handler *Handler // the handler that framed the message
	Payload []byte   // exactly Handler.Length() bytes
}

// String returns a human-friendly rendering of the message.
func (m *Message) String() string {
	var name string
	if m.Handler != nil {
		name = m.Handler.Name()
	}
	if len(m.Payload) > 16 {
		return fmt.Sprintf("Message(ID=%#02x, %q, Payload=%q ...)", m.ID, name, m.Payload[:16])
	}
	return fmt.Sprintf("Message(ID=%#02x, %q, Payload=%q)", m.ID, name, m.Payload)
}

// Encode returns the wire encoding of a message with the given identifier and
// payload. It does not check the payload against any handler; see
// [Handler.Encode] for a checked version.
func Encode(id byte, payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = id
	copy(buf[1:], payload)
	return buf
}
