// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package stream provides helpers for consuming the messages of a handler as
// an iterator.
package stream

import (
	"context"
	"iter"

	"github.com/creachadair/serialmsg"
)

// Messages subscribes to h and yields each message delivered to it, in stream
// order, until ctx ends or the caller stops iterating. The subscription begins
// when iteration begins, and ends when it ends.
//
// The returned iterator yields zero or more (msg, nil) values. If ctx ends,
// the iterator ends the stream with a final (nil, err) tuple.
//
// Messages are handed over synchronously: while the caller is not ready for
// the next value, the listener holds up the framer of the session. Because of
// this, the session must be fed from another goroutine, as it is once opened.
func Messages(ctx context.Context, h *serialmsg.Handler) iter.Seq2[*serialmsg.Message, error] {
	return func(yield func(*serialmsg.Message, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		// Listeners run on the goroutine feeding the session, but we can only
		// yield from here, so smuggle the messages across.
		vals := make(chan *serialmsg.Message)
		unsubscribe := h.Subscribe(func(msg *serialmsg.Message) error {
			select {
			case vals <- msg:
				return nil
			case <-ctx.Done():
				// The consumer is gone. Return quietly: this message was not
				// wanted, and the subscription is about to be removed.
				return nil
			}
		})
		defer unsubscribe()

		for {
			select {
			case msg := <-vals:
				if !yield(msg, nil) {
					return
				}
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
	}
}

// Collect gathers the next n messages delivered to h. If ctx ends first,
// Collect returns the messages received so far along with the error from ctx.
func Collect(ctx context.Context, h *serialmsg.Handler, n int) ([]*serialmsg.Message, error) {
	if n <= 0 {
		return nil, nil
	}
	out := make([]*serialmsg.Message, 0, n)
	for msg, err := range Messages(ctx, h) {
		if err != nil {
			return out, err
		}
		out = append(out, msg)
		if len(out) == n {
			break
		}
	}
	return out, nil
}
