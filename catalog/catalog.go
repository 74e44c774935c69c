// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package catalog defines a mapping from mnemonic string names to message
// descriptors for use with a serialmsg.Session. Names and lengths are not
// exchanged on the wire, so both ends of a link must agree on them; a Catalog
// can be encoded and shared to make that agreement explicit.
//
// # Usage
//
// Construct a new empty catalog and add messages to it:
//
//	cat := catalog.New().Add("status", 4).Add("reading", 6)
//
// Add assigns identifiers to the specified names. To recover the assigned
// descriptor use the Lookup method:
//
//	d, ok := cat.Lookup("status")
//
// If you want to choose the identifier, use Set:
//
//	cat.Set("exit", 'e', 3)
//
// Identifiers are assigned systematically, so that repeating the same
// sequence of Add and Set calls will always result in the same identifiers.
//
// To register the messages of a catalog with a session, use Bind. This
// creates a copy of the catalog sharing the same messages, bound to the
// session:
//
//	bc, err := cat.Bind(s)
//
// A bound catalog addresses handlers by name:
//
//	bc.Subscribe("reading", onReading)
//	msg, err := bc.AwaitNext(ctx, "status")
//
// Note that Handler and Subscribe will panic if given a name not known to the
// catalog.
package catalog

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/creachadair/serialmsg"
	"github.com/creachadair/serialmsg/payload"
)

// A Catalog associates a session with a static mapping from message names to
// descriptors for use with that session.
type Catalog struct {
	session *serialmsg.Session
	msgs    map[string]serialmsg.Descriptor
}

// New creates a new empty, unbound catalog. It is safe to copy the resulting
// value, all copies share a reference to the same mapping.
func New() Catalog { return Catalog{msgs: make(map[string]serialmsg.Descriptor)} }

// Add adds a message with the specified name and payload length to c with a
// fresh identifier, and returns c to allow chaining. Identifiers are assigned
// in increasing order starting at 1.
func (c Catalog) Add(name string, length int) Catalog {
	return c.Set(name, c.pickUnusedID(), length)
}

// Set maps name to a message with the given identifier and payload length,
// and returns c to allow chaining. If name was already mapped in c, the
// existing mapping is replaced.
//
// The mapping of a catalog is shared among all copies of it. It is not safe
// to call Set while c is used concurrently by other goroutines without
// external synchronization.
func (c Catalog) Set(name string, id byte, length int) Catalog {
	c.msgs[name] = serialmsg.Descriptor{ID: int(id), Name: name, Length: length}
	return c
}

func (c Catalog) pickUnusedID() byte {
	var hi int
	for _, d := range c.msgs {
		hi = max(hi, d.ID)
	}
	if hi >= serialmsg.MaxID {
		panic("catalog: no unused identifiers")
	}
	return byte(hi + 1)
}

// Lookup returns the descriptor for name, and reports whether it was found.
func (c Catalog) Lookup(name string) (serialmsg.Descriptor, bool) {
	d, ok := c.msgs[name]
	return d, ok
}

// Len reports the number of messages in c.
func (c Catalog) Len() int { return len(c.msgs) }

// Descriptors returns the descriptors of c in order of identifier, and by
// name among descriptors that share an identifier.
func (c Catalog) Descriptors() []serialmsg.Descriptor {
	out := slices.Collect(maps.Values(c.msgs))
	slices.SortFunc(out, func(a, b serialmsg.Descriptor) int {
		return cmp.Or(cmp.Compare(a.ID, b.ID), cmp.Compare(a.Name, b.Name))
	})
	return out
}

// Bind registers a handler for each message of c with s, and returns a copy
// of c bound to s. If two names share an identifier, the later name in the
// order of Descriptors wins.
func (c Catalog) Bind(s *serialmsg.Session) (Catalog, error) {
	var errs []error
	for _, d := range c.Descriptors() {
		if _, err := s.Register(d); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return Catalog{}, err
	}
	return Catalog{session: s, msgs: c.msgs}, nil
}

// Session returns the session associated with c, or nil if c is unbound.
func (c Catalog) Session() *serialmsg.Session { return c.session }

// Handler returns the handler registered for name in the bound session.
// Handler will panic if c is not bound, or if name is not known by the
// catalog.
func (c Catalog) Handler(name string) *serialmsg.Handler {
	d, ok := c.msgs[name]
	if !ok {
		panic(fmt.Sprintf("message %q not known", name))
	}
	h := c.session.Lookup(byte(d.ID))
	if h == nil {
		panic(fmt.Sprintf("message %q is not registered", name))
	}
	return h
}

// Subscribe adds l as a listener for the messages named by name, and returns
// c to permit chaining. Subscribe will panic if c is not bound, or if name is
// not known by the catalog.
func (c Catalog) Subscribe(name string, l serialmsg.Listener) Catalog {
	c.Handler(name).Subscribe(l)
	return c
}

// AwaitNext waits for the next message named by name in the bound session.
// It reports serialmsg.ErrNoSuchHandler if name is not known by the catalog.
func (c Catalog) AwaitNext(ctx context.Context, name string) (*serialmsg.Message, error) {
	d, ok := c.msgs[name]
	if !ok {
		return nil, fmt.Errorf("message %q: %w", name, serialmsg.ErrNoSuchHandler)
	}
	return c.session.AwaitID(ctx, byte(d.ID))
}

// Send sends a message named by name with the given payload on the bound
// session. The payload must have the length declared for name.
func (c Catalog) Send(name string, data []byte) (int, error) {
	d, ok := c.msgs[name]
	if !ok {
		return 0, fmt.Errorf("message %q: %w", name, serialmsg.ErrNoSuchHandler)
	}
	if len(data) != d.Length {
		return 0, fmt.Errorf("message %q: got %d bytes, want %d: %w",
			name, len(data), d.Length, serialmsg.ErrInvalidLength)
	}
	return c.session.Send(serialmsg.Encode(byte(d.ID), data))
}

// Encode encodes c in binary format.
//
// The wire format of the catalog is a sequence of entries in the order of
// Descriptors. Each entry is the identifier byte, the payload length as a
// big-endian uint16, the length of the name as a single byte, and the bytes
// of the name. Names longer than 255 bytes are truncated.
func (c Catalog) Encode() []byte {
	var b payload.Builder
	for _, d := range c.Descriptors() {
		name := d.Name
		if len(name) > 255 {
			name = name[:255]
		}
		b.Grow(4 + len(name))
		b.Put(byte(d.ID))
		b.Uint16(uint16(d.Length))
		b.Put(byte(len(name)))
		b.PutString(name)
	}
	return b.Bytes()
}

// Decode decodes data as a Catalog payload, replacing the contents of c.
func (c *Catalog) Decode(data []byte) error {
	if c.msgs == nil {
		c.msgs = make(map[string]serialmsg.Descriptor)
	} else {
		clear(c.msgs)
	}
	s := payload.NewScanner(data)
	for s.Len() != 0 {
		pos := s.Offset()
		id, err := s.Byte()
		if err != nil {
			return fmt.Errorf("truncated entry at offset %d: %w", pos, err)
		}
		length, err := s.Uint16()
		if err != nil {
			return fmt.Errorf("truncated length at offset %d: %w", pos, err)
		}
		nlen, err := s.Byte()
		if err != nil {
			return fmt.Errorf("truncated name at offset %d: %w", pos, err)
		}
		name, err := payload.Get[string](s, int(nlen))
		if err != nil {
			return fmt.Errorf("truncated name at offset %d: %w", pos, err)
		}
		c.Set(name, id, int(length))
	}
	return nil
}
