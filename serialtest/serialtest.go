// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package serialtest provides support code for testing serialmsg sessions.
package serialtest

import (
	"context"
	"fmt"
	"io"

	"github.com/creachadair/serialmsg"
	"github.com/creachadair/serialmsg/transport"
)

// Local is a session connected to an in-memory device, suitable for testing.
// Bytes written by the device are received by the session, and bytes sent by
// the session can be read from the device.
type Local struct {
	Session *serialmsg.Session
	Device  *transport.Pipe
}

// NewLocal creates a session with its own metrics, registers a handler for
// each of the given descriptors, and opens it on an in-memory device. It
// panics if a descriptor is invalid.
func NewLocal(descs ...serialmsg.Descriptor) *Local {
	sess, dev := transport.Direct()
	s := serialmsg.NewSession(sess).Detach()
	for _, d := range descs {
		if _, err := s.Register(d); err != nil {
			panic(fmt.Sprintf("register %v: %v", d, err))
		}
	}
	if err := s.Open(context.Background()); err != nil {
		panic(fmt.Sprintf("open session: %v", err))
	}
	return &Local{Session: s, Device: dev}
}

// Handler returns the handler registered for id in the session. It panics if
// there is none.
func (p *Local) Handler(id byte) *serialmsg.Handler {
	h := p.Session.Lookup(id)
	if h == nil {
		panic(fmt.Sprintf("no handler for %#02x", id))
	}
	return h
}

// Write writes data from the device to the session. It blocks until the
// session has read all of data.
func (p *Local) Write(data []byte) error {
	_, err := p.Device.Write(data)
	return err
}

// WriteMessage writes a message with the given identifier and payload from
// the device to the session. The payload is not checked against the handler.
func (p *Local) WriteMessage(id byte, payload string) error {
	return p.Write(serialmsg.Encode(id, []byte(payload)))
}

// ReadN reads exactly n bytes sent by the session to the device.
func (p *Local) ReadN(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(p.Device, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Stop closes the session and the device, and blocks until the receive loop
// of the session has exited.
func (p *Local) Stop() error {
	serr := p.Session.Close()
	p.Device.Close()
	return serr
}
