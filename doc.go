// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

// Package serialmsg frames and dispatches fixed-length messages carried over
// a byte stream such as a serial link.
//
// Each message on the wire is a single identifier byte followed by a payload
// whose length is fixed for that identifier:
//
//	+----+-----------------------+
//	| id | payload (N[id] bytes) |
//	+----+-----------------------+
//
// There is no delimiter, checksum, or length field. The payload length for
// each identifier is declared when its handler is registered, so both ends of
// the link must agree on the lengths in advance. If they disagree, framing
// desynchronizes without any error being reported.
//
// # Sessions
//
// The core type defined by this package is the [Session]. A session owns a
// registry of handlers and the state of the framer for one ordered stream.
//
// To create a session over a transport and register handlers:
//
//	s := serialmsg.NewSession(t)
//	a, err := s.Register(serialmsg.Descriptor{ID: 'a', Name: "test", Length: 4})
//	if err != nil {
//	   log.Fatalf("Register: %v", err)
//	}
//
// Registering a second handler for the same identifier replaces the first.
//
// To start receiving, call [Session.Open]. This opens the transport and runs
// a goroutine that feeds every chunk it reads to the framer. Bytes can also be
// delivered directly with [Session.Feed]; the chunking of the input never
// affects where message boundaries fall.
//
// An identifier byte with no registered handler is dropped, and the framer
// treats the following byte as the next candidate identifier.
//
// # Listeners
//
// [Handler.Subscribe] adds a durable listener that is called for every
// message of that handler, in subscription order:
//
//	a.Subscribe(func(m *serialmsg.Message) error {
//	   log.Printf("got %q", m.Payload)
//	   return nil
//	})
//
// Listeners run synchronously while the framer processes input, so messages
// are delivered in stream order.
//
// # Waiting for a message
//
// [Session.AwaitNext] blocks until the next message for a handler arrives:
//
//	msg, err := s.AwaitNext(ctx, a)
//
// There is no built-in timeout: pass a context with a deadline to bound the
// wait. For a request/response exchange, [Session.Call] arms the wait before
// sending, so the reply cannot be missed:
//
//	msg, err := s.Call(ctx, a, []byte("test\r\n"))
//
// The lower-level [Handler.Next] returns a [Pending] that can be waited on or
// canceled explicitly. When a message arrives, listeners are called first and
// then every wait that was pending at that moment resolves with the message.
//
// # Metrics
//
// Sessions maintain a collection of metrics while running. Use
// [Session.Metrics] to obtain an [expvar.Map] of the metrics exported by the
// session. By default, metrics are shared globally among all sessions; call
// [Session.Detach] to give a session its own.
//
// The metrics currently exported by sessions include:
//
//   - bytes_received: counter of bytes passed to Feed
//   - bytes_sent: counter of bytes written to the transport
//   - bytes_dropped: counter of identifier bytes with no handler
//   - frames_started: counter of identifier bytes that selected a handler
//   - messages_dispatched: counter of complete messages dispatched
//   - listener_errors: counter of listener errors and recovered panics
//   - waits_resolved: counter of one-shot waits resolved by a message
//   - waits_pending: gauge of unresolved one-shot waits on registered handlers
//   - sends_failed: counter of transport writes that reported an error
package serialmsg
