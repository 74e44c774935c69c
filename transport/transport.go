// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package transport provides implementations of the serialmsg.Transport
// interface.
package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"

	"github.com/creachadair/serialmsg"
)

// errNotOpen is reported by Read and Write on a transport that has not been
// opened.
var errNotOpen = errors.New("transport is not open")

var (
	_ serialmsg.Transport = (*Pipe)(nil)
	_ serialmsg.Transport = IOTransport{}
	_ serialmsg.Transport = (*SerialPort)(nil)
	_ serialmsg.Transport = (*NetPort)(nil)
)

// Direct constructs a connected pair of in-memory transports. Bytes written
// to A are read from B and vice versa. Each Write blocks until the other end
// has read all of it, possibly across several reads.
func Direct() (A, B *Pipe) {
	ar, bw := io.Pipe()
	br, aw := io.Pipe()
	return &Pipe{r: ar, w: aw}, &Pipe{r: br, w: bw}
}

// A Pipe is one end of an in-memory link constructed by Direct.
type Pipe struct {
	r      *io.PipeReader
	w      *io.PipeWriter
	closed atomic.Bool
}

// Open implements a method of the [serialmsg.Transport] interface.
// A Pipe is always open until it is closed.
func (p *Pipe) Open(ctx context.Context) error {
	if p.closed.Load() {
		return net.ErrClosed
	}
	return ctx.Err()
}

// Read implements a method of the [serialmsg.Transport] interface.
func (p *Pipe) Read(buf []byte) (int, error) { return p.r.Read(buf) }

// Write implements a method of the [serialmsg.Transport] interface.
func (p *Pipe) Write(data []byte) (int, error) { return p.w.Write(data) }

// Close implements a method of the [serialmsg.Transport] interface. After
// Close, reads from the other end report io.EOF.
func (p *Pipe) Close() error {
	if p.closed.Swap(true) {
		return net.ErrClosed
	}
	p.w.Close()
	p.r.CloseWithError(net.ErrClosed)
	return nil
}

// IO constructs a transport that reads from r and writes to wc. Closing the
// transport closes wc, and also r if it implements io.Closer.
func IO(r io.Reader, wc io.WriteCloser) IOTransport { return IOTransport{r: r, wc: wc} }

// An IOTransport reads and writes bytes on a reader and a writer.
type IOTransport struct {
	r  io.Reader
	wc io.WriteCloser
}

// Open implements a method of the [serialmsg.Transport] interface.
func (t IOTransport) Open(ctx context.Context) error { return ctx.Err() }

// Read implements a method of the [serialmsg.Transport] interface.
func (t IOTransport) Read(buf []byte) (int, error) { return t.r.Read(buf) }

// Write implements a method of the [serialmsg.Transport] interface.
func (t IOTransport) Write(data []byte) (int, error) { return t.wc.Write(data) }

// Close implements a method of the [serialmsg.Transport] interface.
func (t IOTransport) Close() error {
	err := t.wc.Close()
	if c, ok := t.r.(io.Closer); ok && c != io.Closer(t.wc) {
		if cerr := c.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// link holds a connection that is established by Open and released by Close.
type link struct {
	μ      sync.Mutex
	rwc    io.ReadWriteCloser
	closed bool
}

// isOpen reports whether l already holds a connection, or an error if l has
// been closed.
func (l *link) isOpen() (bool, error) {
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.closed {
		return false, net.ErrClosed
	}
	return l.rwc != nil, nil
}

// set installs rwc as the connection for l. If l was closed in the meantime,
// rwc is closed and set reports an error.
func (l *link) set(rwc io.ReadWriteCloser) error {
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.closed {
		rwc.Close()
		return net.ErrClosed
	}
	l.rwc = rwc
	return nil
}

func (l *link) get() (io.ReadWriteCloser, error) {
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.closed {
		return nil, net.ErrClosed
	} else if l.rwc == nil {
		return nil, errNotOpen
	}
	return l.rwc, nil
}

// Read implements a method of the [serialmsg.Transport] interface.
func (l *link) Read(buf []byte) (int, error) {
	rwc, err := l.get()
	if err != nil {
		return 0, err
	}
	return rwc.Read(buf)
}

// Write implements a method of the [serialmsg.Transport] interface.
func (l *link) Write(data []byte) (int, error) {
	rwc, err := l.get()
	if err != nil {
		return 0, err
	}
	return rwc.Write(data)
}

// Close implements a method of the [serialmsg.Transport] interface.
func (l *link) Close() error {
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.closed {
		return net.ErrClosed
	}
	l.closed = true
	if l.rwc == nil {
		return nil
	}
	return l.rwc.Close()
}
