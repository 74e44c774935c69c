// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package serialmsg

import (
	"expvar"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/creachadair/mds/queue"
)

// A Listener is a durable subscriber to the messages of a handler.
//
// Listeners are invoked synchronously by the framer, in the order they were
// subscribed, before any pending one-shot waits for the same message are
// resolved. An error reported by a listener (or a panic) is passed to the
// error hook of the session and does not affect framing or other listeners.
//
// A listener must not call Feed on the session that delivered the message.
type Listener func(*Message) error

// A Handler is the registered consumer of messages for one identifier. The
// descriptor of a handler is fixed when it is constructed.
//
// A Handler carries its own subscriptions. When a handler is replaced in a
// session by a later registration for the same identifier, its listeners and
// pending waits no longer receive messages.
type Handler struct {
	desc Descriptor

	μ     sync.Mutex
	subs  []*listener            // durable, in subscription order
	waits *queue.Queue[*Pending] // one-shot, in FIFO order

	gauge *expvar.Int // if set, tracks unresolved waits
}

type listener struct {
	f    Listener
	gone atomic.Bool
}

// NewHandler constructs a new handler for the given descriptor. It reports
// ErrOutOfRange if d.ID is not a valid identifier, or ErrInvalidLength if
// d.Length < 1. An empty name is replaced with a default.
func NewHandler(d Descriptor) (*Handler, error) {
	if err := d.check(); err != nil {
		return nil, err
	}
	if d.Name == "" {
		d.Name = defaultName
	}
	return &Handler{desc: d, waits: queue.New[*Pending]()}, nil
}

// ID returns the identifier of h.
func (h *Handler) ID() byte { return byte(h.desc.ID) }

// Name returns the display name of h.
func (h *Handler) Name() string { return h.desc.Name }

// Length returns the payload length of h.
func (h *Handler) Length() int { return h.desc.Length }

// Descriptor returns the descriptor of h.
func (h *Handler) Descriptor() Descriptor { return h.desc }

// String returns a human-friendly rendering of the handler.
func (h *Handler) String() string {
	return fmt.Sprintf("Handler(%#02x, %q, %d)", h.desc.ID, h.desc.Name, h.desc.Length)
}

// Encode returns the wire encoding of a message for h with the given payload.
// It reports ErrInvalidLength if the payload is not exactly h.Length() bytes.
func (h *Handler) Encode(payload []byte) ([]byte, error) {
	if len(payload) != h.desc.Length {
		return nil, fmt.Errorf("message #%d: got %d bytes, want %d: %w",
			h.desc.ID, len(payload), h.desc.Length, ErrInvalidLength)
	}
	return Encode(h.ID(), payload), nil
}

// Subscribe adds f as a durable listener for the messages of h, and returns a
// function that removes it. It is safe to call the returned function more
// than once, and from inside a listener.
func (h *Handler) Subscribe(f Listener) (cancel func()) {
	if f == nil {
		panic("nil listener")
	}
	ls := &listener{f: f}
	h.μ.Lock()
	defer h.μ.Unlock()
	h.subs = append(h.subs, ls)
	return func() {
		if ls.gone.Swap(true) {
			return
		}
		h.μ.Lock()
		defer h.μ.Unlock()
		h.subs = slices.DeleteFunc(h.subs, func(v *listener) bool { return v == ls })
	}
}

// Next returns a one-shot wait that resolves with the first message delivered
// to h after Next returns. Waits created while a message is being delivered
// (for example, by a listener) resolve with a later message.
func (h *Handler) Next() *Pending {
	p := newPending(h)
	h.μ.Lock()
	defer h.μ.Unlock()
	h.waits.Add(p)
	if h.gauge != nil {
		h.gauge.Add(1)
	}
	return p
}

// Waits reports the number of one-shot waits queued on h.
func (h *Handler) Waits() int {
	h.μ.Lock()
	defer h.μ.Unlock()
	return h.waits.Len()
}

// unlink removes p from the waits of h, if it is still queued.
func (h *Handler) unlink(p *Pending) {
	h.μ.Lock()
	defer h.μ.Unlock()
	for n := h.waits.Len(); n > 0; n-- {
		v, _ := h.waits.Pop()
		if v != p {
			h.waits.Add(v)
		}
	}
}

// Listeners reports the number of durable listeners subscribed to h.
func (h *Handler) Listeners() int {
	h.μ.Lock()
	defer h.μ.Unlock()
	return len(h.subs)
}

// deliver delivers msg to the listeners of h, then resolves the one-shot
// waits that were pending when delivery began. Listener failures are passed
// to report. It returns the number of waits resolved by msg.
func (h *Handler) deliver(msg *Message, report func(*Message, error)) (resolved int) {
	h.μ.Lock()
	subs := slices.Clone(h.subs)
	waits := make([]*Pending, 0, h.waits.Len())
	for h.waits.Len() != 0 {
		p, _ := h.waits.Pop()
		waits = append(waits, p)
	}
	h.μ.Unlock()

	for _, ls := range subs {
		if ls.gone.Load() {
			continue // removed by an earlier listener
		}
		if err := callListener(ls.f, msg); err != nil {
			report(msg, err)
		}
	}
	for _, p := range waits {
		if p.finish(msg, nil) {
			resolved++
		}
	}
	return resolved
}

func callListener(f Listener, msg *Message) (err error) {
	defer func() {
		if x := recover(); x != nil && err == nil {
			err = fmt.Errorf("listener panicked (recovered): %v", x)
		}
	}()
	return f(msg)
}
