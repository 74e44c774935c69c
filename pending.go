// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package serialmsg

import (
	"context"
	"sync"
)

// A Pending is a one-shot wait for the next message of a handler. It resolves
// exactly once: either with a message, or with ErrCanceled if Cancel is called
// first. A Pending is safe for concurrent use.
type Pending struct {
	h *Handler // nil if not queued

	μ    sync.Mutex
	done chan struct{}
	msg  *Message
	err  error
}

func newPending(h *Handler) *Pending { return &Pending{h: h, done: make(chan struct{})} }

// Done returns a channel that is closed when p resolves.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until p resolves or ctx ends, and reports the message that
// resolved it. If ctx ends first, Wait cancels p and reports the error from
// ctx, unless a message arrived in the meantime.
func (p *Pending) Wait(ctx context.Context) (*Message, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		if p.Cancel() {
			return nil, ctx.Err()
		}
	}
	return p.msg, p.err
}

// Cancel cancels p if it has not already resolved, and reports whether it did
// so. A canceled wait is removed from its handler. Calling Cancel after p has
// resolved has no effect.
func (p *Pending) Cancel() bool {
	if !p.finish(nil, ErrCanceled) {
		return false
	}
	if p.h != nil {
		p.h.unlink(p)
	}
	return true
}

// Result reports the state of p without blocking. It reports ok == true only
// if p has resolved with a message.
func (p *Pending) Result() (_ *Message, ok bool) {
	select {
	case <-p.done:
		return p.msg, p.err == nil
	default:
		return nil, false
	}
}

// finish resolves p with the given message or error, and reports whether p was
// unresolved before the call.
func (p *Pending) finish(msg *Message, err error) bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	select {
	case <-p.done:
		return false
	default:
		p.msg, p.err = msg, err
		close(p.done)
		if p.h != nil && p.h.gauge != nil {
			p.h.gauge.Add(-1)
		}
		return true
	}
}
