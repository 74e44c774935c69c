// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters to the serialmsg.Listener type for
// functions with other signatures.
//
// Parameters may be []byte or string, a bool, byte, uint16 or uint32 filling
// the whole payload (big-endian), or a type whose pointer supports one of the
// encoding.BinaryUnmarshaler or encoding.TextUnmarshaler interfaces.
//
// Results may be any of the same basic types, or a type that supports one of
// the encoding.BinaryMarshaler or encoding.TextMarshaler interfaces. An
// encoded result must have exactly the payload length of its handler.
package handler

import (
	"bytes"
	"encoding"
	"fmt"

	"github.com/creachadair/serialmsg"
	"github.com/creachadair/serialmsg/payload"
)

// Param adapts a function f that accepts a payload of type P and returns an
// error, to a serialmsg.Listener.
func Param[P any](f func(P) error) serialmsg.Listener {
	return func(msg *serialmsg.Message) error {
		p, err := Decode[P](msg)
		if err != nil {
			return err
		}
		return f(p)
	}
}

// MessageParam adapts a function f that accepts the original message and its
// payload decoded as type P, to a serialmsg.Listener.
func MessageParam[P any](f func(*serialmsg.Message, P) error) serialmsg.Listener {
	return func(msg *serialmsg.Message) error {
		p, err := Decode[P](msg)
		if err != nil {
			return err
		}
		return f(msg, p)
	}
}

// Reply adapts a function f that accepts a payload of type P and returns a
// result of type R, to a serialmsg.Listener that sends each result to s as a
// message for the reply handler.
func Reply[P, R any](s *serialmsg.Session, reply *serialmsg.Handler, f func(P) (R, error)) serialmsg.Listener {
	return func(msg *serialmsg.Message) error {
		p, err := Decode[P](msg)
		if err != nil {
			return err
		}
		r, err := f(p)
		if err != nil {
			return err
		}
		data, err := marshal(r, reply.Length())
		if err != nil {
			return err
		}
		_, err = s.SendMessage(reply, data)
		return err
	}
}

// Decode decodes the payload of msg as a value of type P.
func Decode[P any](msg *serialmsg.Message) (P, error) {
	var p P
	if err := unmarshal(msg.Payload, &p); err != nil {
		return p, fmt.Errorf("message %#02x: %w", msg.ID, err)
	}
	return p, nil
}

// Encode returns the wire encoding of v as a message for h. It reports an
// error wrapping serialmsg.ErrInvalidLength if v does not encode to the
// payload length of h.
func Encode(h *serialmsg.Handler, v any) ([]byte, error) {
	data, err := marshal(v, h.Length())
	if err != nil {
		return nil, err
	}
	return serialmsg.Encode(h.ID(), data), nil
}

// unmarshal decodes a payload into v. Pointers to bool, byte, uint16 and
// uint32 are read big-endian and must consume the whole payload.
func unmarshal(data []byte, v any) error {
	s := payload.NewScanner(data)
	var err error
	switch t := v.(type) {
	case *[]byte:
		*t = bytes.Clone(data)
		return nil
	case *string:
		*t = string(data)
		return nil
	case *bool:
		*t, err = s.Bool()
	case *byte:
		*t, err = s.Byte()
	case *uint16:
		*t, err = s.Uint16()
	case *uint32:
		*t, err = s.Uint32()
	case encoding.BinaryUnmarshaler:
		return t.UnmarshalBinary(data)
	case encoding.TextUnmarshaler:
		return t.UnmarshalText(data)
	default:
		return fmt.Errorf("cannot unmarshal into %T", v)
	}
	if err != nil {
		return err
	} else if s.Len() != 0 {
		return fmt.Errorf("%d extra payload bytes for %T", s.Len(), v)
	}
	return nil
}

// marshal encodes v as a payload of exactly n bytes, or reports an error
// wrapping serialmsg.ErrInvalidLength.
func marshal(v any, n int) ([]byte, error) {
	var b payload.Builder
	switch t := v.(type) {
	case []byte:
		b.Put(t...)
	case string:
		b.PutString(t)
	case bool:
		b.Bool(t)
	case byte:
		b.Put(t)
	case uint16:
		b.Uint16(t)
	case uint32:
		b.Uint32(t)
	case encoding.BinaryMarshaler:
		data, err := t.MarshalBinary()
		if err != nil {
			return nil, err
		}
		b.Put(data...)
	case encoding.TextMarshaler:
		data, err := t.MarshalText()
		if err != nil {
			return nil, err
		}
		b.Put(data...)
	default:
		return nil, fmt.Errorf("cannot marshal %T", v)
	}
	if b.Len() != n {
		return nil, fmt.Errorf("%T encoded to %d bytes, want %d: %w", v, b.Len(), n, serialmsg.ErrInvalidLength)
	}
	return b.Bytes(), nil
}
