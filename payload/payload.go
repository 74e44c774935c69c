// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package payload provides support for encoding and decoding the fixed-size
// payloads of serial messages.
//
// Payloads carry no framing of their own: a handler declares the length of
// its payload, and both ends of the link must agree on the layout of the
// fields within it. A [Builder] composes a payload field by field, and
// [Builder.Fit] pads or checks it against the declared length. A [Scanner]
// reads the fields back in the same order.
package payload

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/creachadair/mds/value"
)

// A Builder is a buffer that accumulates the fields of a payload. The zero
// value is ready for use as an empty builder that encodes multi-byte integers
// in big-endian order.
type Builder struct {
	buf   []byte
	order binary.AppendByteOrder
}

// Order sets the byte order used by b to encode subsequent multi-byte
// integers, and returns b to permit chaining.
func (b *Builder) Order(order binary.AppendByteOrder) *Builder { b.order = order; return b }

func (b *Builder) byteOrder() binary.AppendByteOrder {
	if b.order == nil {
		return binary.BigEndian
	}
	return b.order
}

// Bool appends a Boolean to b. The encoding is a single byte with value 0 or 1.
func (b *Builder) Bool(ok bool) { b.Put(value.Cond[byte](ok, 1, 0)) }

// Put appends the specified bytes to b in order.
func (b *Builder) Put(vs ...byte) { b.buf = append(b.buf, vs...) }

// PutString appends the specified string to b.
func (b *Builder) PutString(s string) { b.buf = append(b.buf, s...) }

// PutFixed appends s to b as a field of exactly n bytes. If s is shorter than
// n, the field is padded with zero bytes; if it is longer, it is truncated.
func (b *Builder) PutFixed(s string, n int) {
	if len(s) > n {
		s = s[:n]
	}
	b.Grow(n)
	b.buf = append(b.buf, s...)
	b.buf = append(b.buf, make([]byte, n-len(s))...)
}

// Uint16 appends v to b in the byte order of b.
func (b *Builder) Uint16(v uint16) { b.buf = b.byteOrder().AppendUint16(b.buf, v) }

// Uint32 appends v to b in the byte order of b.
func (b *Builder) Uint32(v uint32) { b.buf = b.byteOrder().AppendUint32(b.buf, v) }

// Len reports the number of bytes currently in the buffer.
func (b *Builder) Len() int { return len(b.buf) }

// Bytes reports the current contents of the buffer. The builder retains
// ownership of the reported slice, and the caller must not retain or modify
// its contents unless b will no longer be accessed.
func (b *Builder) Bytes() []byte { return b.buf }

// Fit returns a copy of the contents of b padded with zero bytes to exactly n
// bytes. It reports an error if b already holds more than n bytes.
func (b *Builder) Fit(n int) ([]byte, error) {
	if len(b.buf) > n {
		return nil, fmt.Errorf("payload too long (%d > %d bytes)", len(b.buf), n)
	}
	out := make([]byte, n)
	copy(out, b.buf)
	return out, nil
}

// Reset discards the contents of b and leaves it empty.
func (b *Builder) Reset() { b.buf = b.buf[:0] }

// Grow resizes the internal buffer of b if necessary to ensure that at least n
// more bytes can be added without triggering another allocation.
func (b *Builder) Grow(n int) {
	want := len(b.buf) + n
	if cap(b.buf) < want {
		r := make([]byte, len(b.buf), max(want, 2*cap(b.buf)))
		copy(r, b.buf)
		b.buf = r
	}
}

// A Scanner reads the fields of a payload. Its methods report
// [io.ErrUnexpectedEOF] when the remaining input is too short for the
// requested field.
type Scanner struct {
	rest   []byte
	offset int
	order  binary.ByteOrder
}

// NewScanner constructs a [Scanner] that consumes data from input, decoding
// multi-byte integers in big-endian order. The scanner does not modify the
// contents of input, but may retain slices into it.
func NewScanner[Str ~string | ~[]byte](input Str) *Scanner {
	return &Scanner{rest: []byte(input), order: binary.BigEndian}
}

// Order sets the byte order used by s to decode multi-byte integers, and
// returns s to permit chaining.
func (s *Scanner) Order(order binary.ByteOrder) *Scanner { s.order = order; return s }

// Bool scans a single byte from the head of the input and converts it into a
// Boolean value (0 means false, non-zero means true).
func (s *Scanner) Bool() (bool, error) {
	b, err := s.Byte()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

// Byte scans a single byte from the head of the input.
func (s *Scanner) Byte() (byte, error) {
	if len(s.rest) == 0 {
		return 0, io.ErrUnexpectedEOF
	}
	s.offset++
	out := s.rest[0]
	s.rest = s.rest[1:]
	return out, nil
}

// Uint16 parses a uint16 value from the head of the input.
func (s *Scanner) Uint16() (uint16, error) {
	if len(s.rest) < 2 {
		return 0, fmt.Errorf("value truncated (%d < 2 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	s.offset += 2
	out := s.order.Uint16(s.rest[:2])
	s.rest = s.rest[2:]
	return out, nil
}

// Uint32 parses a uint32 value from the head of the input.
func (s *Scanner) Uint32() (uint32, error) {
	if len(s.rest) < 4 {
		return 0, fmt.Errorf("value truncated (%d < 4 bytes): %w", len(s.rest), io.ErrUnexpectedEOF)
	}
	s.offset += 4
	out := s.order.Uint32(s.rest[:4])
	s.rest = s.rest[4:]
	return out, nil
}

// Len reports the number of remaining unconsumed input bytes in s.
func (s *Scanner) Len() int { return len(s.rest) }

// Offset reports the offset (0-based) of the next unconsumed input byte in s.
func (s *Scanner) Offset() int { return s.offset }

// Rest returns a slice of the remaining unconsumed input of s.
// The caller must not modify its contents.
func (s *Scanner) Rest() []byte { return s.rest }

// Get returns a string of exactly n bytes from the head of the input.
// If the full requested amount is not available, a partial result is returned
// along with an error. When the result is a slice, the value aliases the
// input, and the caller must not modify its contents.
func Get[Str ~string | ~[]byte](s *Scanner, n int) (Str, error) {
	if len(s.rest) < n {
		out := Str(s.rest)
		s.offset += len(s.rest)
		s.rest = nil
		return out, fmt.Errorf("value truncated (%d < %d bytes): %w", len(out), n, io.ErrUnexpectedEOF)
	}
	s.offset += n
	out := Str(s.rest[:n])
	s.rest = s.rest[n:]
	return out, nil
}

// GetFixed returns a field of exactly n bytes from the head of the input,
// without any trailing zero padding. It is the inverse of [Builder.PutFixed].
func GetFixed(s *Scanner, n int) (string, error) {
	v, err := Get[[]byte](s, n)
	return string(bytes.TrimRight(v, "\x00")), err
}
