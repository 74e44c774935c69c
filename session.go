// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package serialmsg

import (
	"cmp"
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"io/fs"
	"net"
	"slices"
	"sync"

	"github.com/creachadair/taskgroup"
)

// A Transport is a byte-oriented link to a remote device, such as a serial
// port. The framer does not depend on how Read chunks the inbound stream.
//
// Read and Write must be safe for concurrent use by one reader and one writer.
// A Read that reports (0, nil) is retried. Close must cause a pending Read to
// return an error.
type Transport interface {
	// Open prepares the transport for use.
	Open(context.Context) error

	// Read reads the next available chunk of inbound bytes.
	Read([]byte) (int, error)

	// Write writes outbound bytes to the device.
	Write([]byte) (int, error)

	// Close closes the transport. After Close, further operations report
	// an error.
	Close() error
}

// A MessageLogger logs a message as it is dispatched.
type MessageLogger func(*Message)

// readBufferSize is the size of the buffer used by the receive loop.
const readBufferSize = 1024

// A Session owns a handler registry and the framing state for one ordered
// byte stream. Construct a session with NewSession.
//
// Register adds handlers. Feed delivers inbound bytes to the framer directly;
// when the session has a transport, Open starts a receive loop that feeds it
// everything the transport reads. Send writes to the transport.
//
// Register, Lookup, Send and the wait methods are safe for concurrent use by
// multiple goroutines. Calls to Feed are serialized by the session.
type Session struct {
	t Transport

	μ       sync.Mutex
	reg     map[byte]*Handler // identifier → handler
	mlog    MessageLogger
	onRaw   func([]byte)
	onDrop  func(byte)
	onStart func(*Handler)
	onErr   func(error)
	onExit  func(error)

	omu    sync.Mutex // protects the fields below
	opened bool
	tasks  *taskgroup.Group
	err    error // receive loop failure

	feedMu sync.Mutex // serializes Feed
	fr     *Framer

	out sync.Mutex // serializes writes to t

	m *sessionMetrics
}

// NewSession constructs a new session using t as its transport. If t == nil,
// the session can be fed bytes directly but cannot be opened or send.
func NewSession(t Transport) *Session {
	s := &Session{t: t, reg: make(map[byte]*Handler), m: rootMetrics}
	s.fr = NewFramer(s.Lookup, s.dispatch)
	s.fr.start = s.frameStarted
	s.fr.drop = s.dropped
	return s
}

// Register constructs a handler for d and registers it with s. It reports
// ErrOutOfRange if d.ID is outside [0, 255], or ErrInvalidLength if d.Length
// is less than 1.
//
// If a handler is already registered for d.ID, the new handler replaces it
// (last write wins). Listeners and pending waits of the replaced handler stop
// receiving messages; this is not reported. A message whose identifier was
// framed before the replacement is still delivered to the old handler.
func (s *Session) Register(d Descriptor) (*Handler, error) {
	h, err := NewHandler(d)
	if err != nil {
		return nil, err
	}
	h.gauge = &s.m.waitsPending
	s.μ.Lock()
	defer s.μ.Unlock()
	s.reg[h.ID()] = h
	return h, nil
}

// Unregister removes the handler for id, if any, and reports whether one was
// registered. Subsequent messages with this identifier are dropped.
func (s *Session) Unregister(id byte) bool {
	s.μ.Lock()
	defer s.μ.Unlock()
	_, ok := s.reg[id]
	delete(s.reg, id)
	return ok
}

// Lookup returns the handler registered for id, or nil if there is none.
func (s *Session) Lookup(id byte) *Handler {
	s.μ.Lock()
	defer s.μ.Unlock()
	return s.reg[id]
}

// Handlers returns the registered handlers in order of identifier.
func (s *Session) Handlers() []*Handler {
	s.μ.Lock()
	defer s.μ.Unlock()
	out := make([]*Handler, 0, len(s.reg))
	for _, h := range s.reg {
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b *Handler) int { return cmp.Compare(a.ID(), b.ID()) })
	return out
}

// Feed delivers a chunk of inbound bytes to the framer of s. Complete
// messages are dispatched to their handlers before Feed returns. Feed does
// not retain data.
//
// Concurrent calls to Feed are serialized. A listener must not call Feed.
func (s *Session) Feed(data []byte) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	s.m.bytesRecv.Add(int64(len(data)))
	s.fr.Feed(data)

	s.μ.Lock()
	raw := s.onRaw
	s.μ.Unlock()
	if raw != nil {
		raw(data)
	}
}

// Open opens the transport and starts the receive loop. It reports an error
// of concrete type *OpenError if the transport fails to open. Once Open has
// succeeded, further calls do nothing and report nil.
func (s *Session) Open(ctx context.Context) error {
	if s.t == nil {
		return &OpenError{Err: ErrNoTransport}
	}
	s.omu.Lock()
	defer s.omu.Unlock()
	if s.opened {
		return nil
	}
	if err := s.t.Open(ctx); err != nil {
		return &OpenError{Err: err}
	}
	s.opened = true
	s.err = nil
	s.tasks = taskgroup.New(nil)
	s.tasks.Go(s.receive)
	return nil
}

// Close closes the transport and blocks until the receive loop has exited.
// It reports the error from closing the transport, if any, otherwise the
// status reported by Wait.
func (s *Session) Close() error {
	s.omu.Lock()
	opened := s.opened
	s.opened = false
	s.omu.Unlock()
	if !opened {
		return nil
	}
	cerr := s.t.Close()
	werr := s.Wait()
	if cerr != nil && !treatErrorAsSuccess(cerr) {
		return cerr
	}
	return werr
}

// Wait blocks until the receive loop of s exits and reports the error that
// caused it to stop. If s was never opened, or stopped because the transport
// was closed, Wait returns nil.
func (s *Session) Wait() error {
	s.omu.Lock()
	g := s.tasks
	s.omu.Unlock()
	if g == nil {
		return nil
	}
	g.Wait()

	s.omu.Lock()
	defer s.omu.Unlock()
	if treatErrorAsSuccess(s.err) {
		return nil
	}
	return s.err
}

// Send writes data to the transport and reports the number of bytes written.
// An error has concrete type *WriteError. Send does not retry.
func (s *Session) Send(data []byte) (int, error) {
	if s.t == nil {
		return 0, &WriteError{Err: ErrNoTransport}
	}
	s.omu.Lock()
	ok := s.opened
	s.omu.Unlock()
	if !ok {
		return 0, &WriteError{Err: ErrNotOpen}
	}

	s.out.Lock()
	defer s.out.Unlock()
	n, err := s.t.Write(data)
	s.m.bytesSent.Add(int64(n))
	if err != nil {
		s.m.sendFailed.Add(1)
		return n, &WriteError{N: n, Err: err}
	}
	return n, nil
}

// SendMessage encodes a message for h with the given payload and sends it.
// It reports ErrInvalidLength without sending if the payload length does not
// match the handler.
func (s *Session) SendMessage(h *Handler, payload []byte) (int, error) {
	data, err := h.Encode(payload)
	if err != nil {
		return 0, err
	}
	return s.Send(data)
}

// AwaitNext blocks until the next message for h is delivered or ctx ends.
// If ctx ends first, the wait is canceled and AwaitNext reports the error
// from ctx. There is no built-in timeout.
func (s *Session) AwaitNext(ctx context.Context, h *Handler) (*Message, error) {
	return h.Next().Wait(ctx)
}

// AwaitID is as AwaitNext, for the handler currently registered for id. It
// reports ErrNoSuchHandler if no handler is registered for id.
func (s *Session) AwaitID(ctx context.Context, id byte) (*Message, error) {
	h := s.Lookup(id)
	if h == nil {
		return nil, fmt.Errorf("message %#02x: %w", id, ErrNoSuchHandler)
	}
	return s.AwaitNext(ctx, h)
}

// Call sends data and then waits for the next message for h, as in a
// request/response exchange. The wait is armed before data is sent, so a
// reply that arrives before Send returns is not missed.
func (s *Session) Call(ctx context.Context, h *Handler, data []byte) (*Message, error) {
	p := h.Next()
	if _, err := s.Send(data); err != nil {
		p.Cancel()
		return nil, err
	}
	return p.Wait(ctx)
}


// LogMessages registers a callback that will be invoked for each message
// dispatched by s, before its listeners. Passing nil disables message logging.
// LogMessages returns s to permit chaining.
func (s *Session) LogMessages(log MessageLogger) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.mlog = log
	return s
}

// OnRaw registers a callback that receives every chunk passed to Feed, after
// it has been framed. The callback must not retain the chunk. Passing nil
// removes the callback. OnRaw returns s to permit chaining.
func (s *Session) OnRaw(f func([]byte)) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onRaw = f
	return s
}

// OnDrop registers a callback invoked for each identifier byte dropped
// because no handler was registered for it. Passing nil removes the callback.
// OnDrop returns s to permit chaining.
func (s *Session) OnDrop(f func(id byte)) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onDrop = f
	return s
}

// OnFrameStart registers a callback invoked when an identifier byte selects a
// handler, before its payload has arrived. Passing nil removes the callback.
// OnFrameStart returns s to permit chaining.
func (s *Session) OnFrameStart(f func(*Handler)) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onStart = f
	return s
}

// OnError registers a callback for errors reported (or panics raised) by
// listeners. These errors do not stop the session. Passing nil removes the
// callback. OnError returns s to permit chaining.
func (s *Session) OnError(f func(error)) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onErr = f
	return s
}

// OnExit registers a callback invoked when the receive loop exits, with the
// same error that would be reported by Wait. Passing nil removes the
// callback. OnExit returns s to permit chaining.
func (s *Session) OnExit(f func(error)) *Session {
	s.μ.Lock()
	defer s.μ.Unlock()
	s.onExit = f
	return s
}

// Metrics returns the metrics map for s. By default, metrics are shared by
// all sessions; see Detach.
func (s *Session) Metrics() *expvar.Map { return s.m.emap }

// Detach gives s its own metrics, separate from the shared defaults. It must
// be called before s is used. Detach returns s to permit chaining.
func (s *Session) Detach() *Session { s.m = newSessionMetrics(); return s }

func (s *Session) receive() error {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.t.Read(buf)
		if n > 0 {
			s.Feed(buf[:n])
		}
		if err != nil {
			s.fail(err)
			return nil
		}
	}
}

// fail records the error that terminated the receive loop.
func (s *Session) fail(err error) {
	s.omu.Lock()
	s.err = err
	s.omu.Unlock()

	s.μ.Lock()
	exit := s.onExit
	s.μ.Unlock()
	if exit != nil {
		if treatErrorAsSuccess(err) {
			err = nil
		}
		exit(err)
	}
}

func (s *Session) dispatch(msg *Message) {
	s.m.msgDispatched.Add(1)
	s.μ.Lock()
	log := s.mlog
	s.μ.Unlock()
	if log != nil {
		log(msg)
	}
	n := msg.Handler.deliver(msg, s.listenerFailed)
	s.m.waitsResolved.Add(int64(n))
}

func (s *Session) listenerFailed(msg *Message, err error) {
	s.m.listenerErr.Add(1)
	s.μ.Lock()
	report := s.onErr
	s.μ.Unlock()
	if report != nil {
		report(fmt.Errorf("message %#02x (%s): %w", msg.ID, msg.Handler.Name(), err))
	}
}

func (s *Session) frameStarted(h *Handler) {
	s.m.framesStarted.Add(1)
	s.μ.Lock()
	f := s.onStart
	s.μ.Unlock()
	if f != nil {
		f(h)
	}
}

func (s *Session) dropped(id byte) {
	s.m.bytesDropped.Add(1)
	s.μ.Lock()
	f := s.onDrop
	s.μ.Unlock()
	if f != nil {
		f(id)
	}
}

func treatErrorAsSuccess(err error) bool {
	return err == nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) ||
		errors.Is(err, fs.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}
