// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package main

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/creachadair/serialmsg/payload"
)

const packHelp = `Pack arguments into a binary payload.

The pattern specifies the sequence of values to concatenate into the payload.
Whitespace in the pattern is ignored; otherwise the pattern specifies how the
corresponding argument is processed:

  q  : a quoted literal string (Go style) without framing
  r  : a raw literal string encoded without framing
  f  : a fixed-width string "width:text", zero-padded or truncated to width
  %  : a Boolean constant (true or false)
  1  : a uint8 value (1 byte)
  2  : a uint16 value (2 bytes)
  4  : a uint32 value (4 bytes)

By default, fixed-width integer values are packed in big-endian order, but the
following symbols modify the byte order for future values:

  <  : encode as little-endian
  >  : encode as big-endian (this is the default)
`

// packPayload packs args into a payload according to pat, and returns the
// payload along with any unused arguments.
func packPayload(pat string, args []string) ([]byte, []string, error) {
	var b payload.Builder
	for i := 0; i < len(pat); i++ {
		c := pat[i]
		switch c {
		case 'q', 'r', 'f', '%', '1', '2', '4':
			// OK, these need an argument (see below)
		case ' ', '\t', '\n':
			// Skip whitespace.
			continue
		case '<':
			b.Order(binary.LittleEndian)
			continue
		case '>':
			b.Order(binary.BigEndian)
			continue
		default:
			return nil, nil, fmt.Errorf("invalid pattern word %c", c)
		}

		if len(args) == 0 {
			return nil, nil, fmt.Errorf("missing argument for %c", c)
		}
		switch c {
		case 'q':
			dec, err := unquote(args[0])
			if err != nil {
				return nil, nil, err
			}
			b.PutString(dec)
		case 'r':
			b.PutString(args[0])
		case 'f':
			ws, text, ok := cutWidth(args[0])
			if !ok {
				return nil, nil, fmt.Errorf("invalid fixed field %q (want width:text)", args[0])
			}
			b.PutFixed(text, ws)
		case '%':
			v, err := strconv.ParseBool(args[0])
			if err != nil {
				return nil, nil, fmt.Errorf("invalid bool: %w", err)
			}
			b.Bool(v)
		case '1':
			v, err := strconv.ParseUint(args[0], 0, 8)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid byte: %w", err)
			}
			b.Put(byte(v))
		case '2':
			v, err := strconv.ParseUint(args[0], 0, 16)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid uint16: %w", err)
			}
			b.Uint16(uint16(v))
		case '4':
			v, err := strconv.ParseUint(args[0], 0, 32)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid uint32: %w", err)
			}
			b.Uint32(uint32(v))
		default:
			panic("invalid code: " + string(c))
		}
		args = args[1:]
	}
	return b.Bytes(), args, nil
}

// cutWidth splits a fixed field argument "width:text".
func cutWidth(s string) (int, string, bool) {
	ws, text, ok := strings.Cut(s, ":")
	if !ok {
		return 0, "", false
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w < 0 {
		return 0, "", false
	}
	return w, text, true
}

// unquote decodes s as the contents of a Go string literal.
func unquote(s string) (string, error) {
	dec, err := strconv.Unquote(`"` + s + `"`)
	if err != nil {
		return "", fmt.Errorf("invalid string: %w", err)
	}
	return dec, nil
}

// parseID parses a message identifier, given either as a single character or
// as a number in [0, 255].
func parseID(s string) (byte, error) {
	if len(s) == 1 && (s[0] < '0' || s[0] > '9') {
		return s[0], nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid identifier %q", s)
	}
	return byte(v), nil
}
