// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package serialmsg_test

import (
	"context"
	"encoding/hex"
	"errors"
	"expvar"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/creachadair/serialmsg"
	"github.com/google/go-cmp/cmp"
)

// The handler set used by most of the tests below.
var testDescs = []serialmsg.Descriptor{
	{ID: 'a', Name: "test", Length: 4},
	{ID: 'b', Name: "hello", Length: 5},
	{ID: 'e', Name: "exit", Length: 3},
}

// newSession constructs a session without a transport, with its own metrics,
// and registers the given descriptors.
func newSession(t *testing.T, descs ...serialmsg.Descriptor) *serialmsg.Session {
	t.Helper()
	s := serialmsg.NewSession(nil).Detach()
	for _, d := range descs {
		if _, err := s.Register(d); err != nil {
			t.Fatalf("Register %v: %v", d, err)
		}
	}
	return s
}

// logTo records each message dispatched by s as "id:payload".
func logTo(s *serialmsg.Session) *[]string {
	var log []string
	s.LogMessages(func(m *serialmsg.Message) {
		log = append(log, fmt.Sprintf("%c:%s", m.ID, m.Payload))
	})
	return &log
}

func metric(t *testing.T, s *serialmsg.Session, name string) int64 {
	t.Helper()
	v, ok := s.Metrics().Get(name).(*expvar.Int)
	if !ok {
		t.Fatalf("Metric %q not found", name)
	}
	return v.Value()
}

func TestHexScenario(t *testing.T) {
	s := newSession(t, testDescs...)
	got := logTo(s)

	input, err := hex.DecodeString("61746573746268656C6C6F")
	if err != nil {
		t.Fatalf("Decode input: %v", err)
	}
	s.Feed(input)

	if diff := cmp.Diff([]string{"a:test", "b:hello"}, *got); diff != "" {
		t.Errorf("Messages (-want, +got):\n%s", diff)
	}
	if n := metric(t, s, "bytes_received"); n != int64(len(input)) {
		t.Errorf("bytes_received: got %d, want %d", n, len(input))
	}
}

func TestRoundTrip(t *testing.T) {
	s := newSession(t, testDescs...)
	got := logTo(s)

	tests := []struct {
		id      byte
		payload string
	}{
		{'a', "ping"},
		{'b', "world"},
		{'e', "xit"},
		{'a', "\x00\x01\x02\x03"},
		{'b', "aaaaa"}, // payload bytes that are also identifiers
	}
	var want []string
	for _, tc := range tests {
		h := s.Lookup(tc.id)
		if h == nil {
			t.Fatalf("Lookup(%c): no handler", tc.id)
		}
		data, err := h.Encode([]byte(tc.payload))
		if err != nil {
			t.Fatalf("Encode %q: %v", tc.payload, err)
		}
		s.Feed(data)
		want = append(want, fmt.Sprintf("%c:%s", tc.id, tc.payload))
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("Messages (-want, +got):\n%s", diff)
	}

	if _, err := s.Lookup('a').Encode([]byte("toolong")); !errors.Is(err, serialmsg.ErrInvalidLength) {
		t.Errorf("Encode long payload: got %v, want %v", err, serialmsg.ErrInvalidLength)
	}
}

func TestChunking(t *testing.T) {
	var stream []byte
	stream = append(stream, "zz"...) // unknown identifiers
	stream = append(stream, serialmsg.Encode('a', []byte("test"))...)
	stream = append(stream, 'q')
	stream = append(stream, serialmsg.Encode('b', []byte("hello"))...)
	stream = append(stream, serialmsg.Encode('e', []byte("xit"))...)
	stream = append(stream, serialmsg.Encode('a', []byte("abab"))...)
	stream = append(stream, "bxy"...) // incomplete

	want := []string{"a:test", "b:hello", "e:xit", "a:abab"}

	check := func(t *testing.T, chunks [][]byte) {
		t.Helper()
		s := newSession(t, testDescs...)
		got := logTo(s)
		for _, c := range chunks {
			s.Feed(c)
		}
		if diff := cmp.Diff(want, *got); diff != "" {
			t.Errorf("Chunks %q: messages (-want, +got):\n%s", chunks, diff)
		}
	}

	t.Run("Whole", func(t *testing.T) { check(t, [][]byte{stream}) })
	t.Run("Bytewise", func(t *testing.T) {
		var chunks [][]byte
		for i := range stream {
			chunks = append(chunks, stream[i:i+1])
		}
		check(t, chunks)
	})
	t.Run("Splits", func(t *testing.T) {
		for i := 0; i <= len(stream); i++ {
			for j := i; j <= len(stream); j++ {
				check(t, [][]byte{stream[:i], stream[i:j], stream[j:]})
			}
		}
	})
	t.Run("Empty", func(t *testing.T) {
		check(t, [][]byte{nil, stream[:3], {}, stream[3:], nil})
	})
}

func TestUnknownSkip(t *testing.T) {
	s := newSession(t, testDescs...)
	got := logTo(s)
	var dropped []byte
	s.OnDrop(func(id byte) { dropped = append(dropped, id) })

	s.Feed([]byte("zzatest"))
	if diff := cmp.Diff([]string{"a:test"}, *got); diff != "" {
		t.Errorf("Messages (-want, +got):\n%s", diff)
	}
	if diff := cmp.Diff("zz", string(dropped)); diff != "" {
		t.Errorf("Dropped (-want, +got):\n%s", diff)
	}
	if n := metric(t, s, "bytes_dropped"); n != 2 {
		t.Errorf("bytes_dropped: got %d, want 2", n)
	}
	if n := metric(t, s, "frames_started"); n != 1 {
		t.Errorf("frames_started: got %d, want 1", n)
	}
}

func TestPartialStall(t *testing.T) {
	s := newSession(t, testDescs...)
	got := logTo(s)
	var started []string
	s.OnFrameStart(func(h *serialmsg.Handler) { started = append(started, h.Name()) })

	p := s.Lookup('a').Next()
	s.Feed([]byte("abc"))
	if len(*got) != 0 {
		t.Errorf("Partial payload dispatched: %q", *got)
	}
	if _, ok := p.Result(); ok {
		t.Error("Wait resolved by a partial payload")
	}
	if diff := cmp.Diff([]string{"test"}, started); diff != "" {
		t.Errorf("Frames started (-want, +got):\n%s", diff)
	}

	// One more byte is still not enough.
	s.Feed([]byte("d"))
	if _, ok := p.Result(); ok {
		t.Error("Wait resolved by a partial payload")
	}

	// Bytes that arrive later complete the payload.
	s.Feed([]byte("e"))
	msg, ok := p.Result()
	if !ok {
		t.Fatal("Wait did not resolve after the payload completed")
	}
	if got := string(msg.Payload); got != "bcde" {
		t.Errorf("Payload: got %q, want %q", got, "bcde")
	}
}

func TestRegister(t *testing.T) {
	s := newSession(t)

	tests := []struct {
		desc serialmsg.Descriptor
		want error
	}{
		{serialmsg.Descriptor{ID: -1, Length: 1}, serialmsg.ErrOutOfRange},
		{serialmsg.Descriptor{ID: 256, Length: 1}, serialmsg.ErrOutOfRange},
		{serialmsg.Descriptor{ID: 1000, Length: 4}, serialmsg.ErrOutOfRange},
		{serialmsg.Descriptor{ID: 'x', Length: 0}, serialmsg.ErrInvalidLength},
		{serialmsg.Descriptor{ID: 'x', Length: -3}, serialmsg.ErrInvalidLength},
		{serialmsg.Descriptor{ID: 0, Length: 1}, nil},
		{serialmsg.Descriptor{ID: 255, Name: "max", Length: 64}, nil},
	}
	for _, tc := range tests {
		h, err := s.Register(tc.desc)
		if !errors.Is(err, tc.want) {
			t.Errorf("Register %v: got %v, want %v", tc.desc, err, tc.want)
		}
		if err == nil && s.Lookup(byte(tc.desc.ID)) != h {
			t.Errorf("Lookup(%d): did not find the registered handler", tc.desc.ID)
		}
	}

	// A handler without a name gets a default one.
	if got := s.Lookup(0).Name(); got != "Unnamed Message" {
		t.Errorf("Default name: got %q, want %q", got, "Unnamed Message")
	}

	var ids []byte
	for _, h := range s.Handlers() {
		ids = append(ids, h.ID())
	}
	if diff := cmp.Diff([]byte{0, 255}, ids); diff != "" {
		t.Errorf("Handlers (-want, +got):\n%s", diff)
	}

	if !s.Unregister(0) {
		t.Error("Unregister(0) reported false")
	}
	if s.Unregister(0) {
		t.Error("Unregister(0) again reported true")
	}
	if h := s.Lookup(0); h != nil {
		t.Errorf("Lookup(0) after Unregister: got %v, want nil", h)
	}
}

func TestReplace(t *testing.T) {
	s := newSession(t, testDescs...)
	got := logTo(s)

	old := s.Lookup('a')
	var oldMsgs int
	old.Subscribe(func(*serialmsg.Message) error { oldMsgs++; return nil })
	oldWait := old.Next()

	repl, err := s.Register(serialmsg.Descriptor{ID: 'a', Name: "short", Length: 2})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if s.Lookup('a') != repl {
		t.Error("Lookup did not return the replacement handler")
	}

	// The replacement determines the framing: "a" takes two bytes, and the
	// trailing "st" is then "s" (unknown) and "t" (unknown).
	s.Feed([]byte("atest"))
	if diff := cmp.Diff([]string{"a:te"}, *got); diff != "" {
		t.Errorf("Messages (-want, +got):\n%s", diff)
	}
	if oldMsgs != 0 {
		t.Errorf("Replaced handler listener called %d times", oldMsgs)
	}
	if _, ok := oldWait.Result(); ok {
		t.Error("Replaced handler wait was resolved")
	}
}

func TestReplaceMidFrame(t *testing.T) {
	s := newSession(t, testDescs...)
	old := s.Lookup('a')
	p := old.Next()

	s.Feed([]byte("a"))
	if _, err := s.Register(serialmsg.Descriptor{ID: 'a', Length: 2}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	s.Feed([]byte("test"))

	// The identifier was framed before the replacement, so the old handler
	// receives the payload.
	msg, ok := p.Result()
	if !ok {
		t.Fatal("Old handler wait did not resolve")
	}
	if msg.Handler != old || string(msg.Payload) != "test" {
		t.Errorf("Message: got %v, want %q from the old handler", msg, "test")
	}
}

func TestOneShot(t *testing.T) {
	s := newSession(t, testDescs...)
	h := s.Lookup('b')

	// Both waits are pending when the first message arrives, so both resolve
	// with it; neither sees the second.
	p1, p2 := h.Next(), h.Next()

	var resolvedEarly bool
	h.Subscribe(func(m *serialmsg.Message) error {
		_, ok := p1.Result()
		resolvedEarly = resolvedEarly || ok
		return nil
	})

	s.Feed([]byte("bfirst"))
	if resolvedEarly {
		t.Error("Wait resolved before listeners were called")
	}
	for i, p := range []*serialmsg.Pending{p1, p2} {
		msg, ok := p.Result()
		if !ok || string(msg.Payload) != "first" {
			t.Errorf("Wait %d: got (%v, %v), want first", i+1, msg, ok)
		}
	}

	// A wait created after the first message gets the second.
	p3 := h.Next()
	s.Feed([]byte("bsecondbthird"))
	if msg, ok := p3.Result(); !ok || string(msg.Payload) != "secon" {
		t.Errorf("Wait 3: got (%v, %v), want secon", msg, ok)
	}
	if n := metric(t, s, "waits_resolved"); n != 3 {
		t.Errorf("waits_resolved: got %d, want 3", n)
	}
}

func TestNextFromListener(t *testing.T) {
	s := newSession(t, testDescs...)
	h := s.Lookup('e')

	// A wait armed by a listener while a message is delivered does not
	// resolve with that message.
	var inner *serialmsg.Pending
	cancel := h.Subscribe(func(m *serialmsg.Message) error {
		if inner == nil {
			inner = h.Next()
		}
		return nil
	})
	defer cancel()

	s.Feed([]byte("eone"))
	if inner == nil {
		t.Fatal("Listener was not called")
	}
	if msg, ok := inner.Result(); ok {
		t.Fatalf("Inner wait resolved early with %v", msg)
	}
	s.Feed([]byte("etwo"))
	if msg, ok := inner.Result(); !ok || string(msg.Payload) != "two" {
		t.Errorf("Inner wait: got (%v, %v), want two", msg, ok)
	}
}

func TestAwaitNext(t *testing.T) {
	s := newSession(t, testDescs...)
	h := s.Lookup('a')

	t.Run("Canceled", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		msg, err := s.AwaitNext(ctx, h)
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Errorf("AwaitNext: got (%v, %v), want %v", msg, err, context.DeadlineExceeded)
		}

		// The canceled wait does not consume a later message.
		before := metric(t, s, "waits_resolved")
		s.Feed([]byte("alate"))
		if n := metric(t, s, "waits_resolved"); n != before {
			t.Errorf("waits_resolved: got %d, want %d", n, before)
		}
	})

	t.Run("Explicit", func(t *testing.T) {
		p := h.Next()
		if !p.Cancel() {
			t.Error("Cancel reported false for an unresolved wait")
		}
		if p.Cancel() {
			t.Error("Cancel reported true for a canceled wait")
		}
		msg, err := p.Wait(context.Background())
		if !errors.Is(err, serialmsg.ErrCanceled) {
			t.Errorf("Wait: got (%v, %v), want %v", msg, err, serialmsg.ErrCanceled)
		}
	})

	t.Run("Resolved", func(t *testing.T) {
		done := make(chan *serialmsg.Message, 1)
		go func() {
			msg, err := s.AwaitID(context.Background(), 'a')
			if err != nil {
				t.Errorf("AwaitID: %v", err)
			}
			done <- msg
		}()

		// Wait for the goroutine to arm its wait before feeding the message.
		for metric(t, s, "waits_pending") == 0 {
			time.Sleep(time.Millisecond)
		}
		s.Feed([]byte("aback"))
		if msg := <-done; msg == nil || string(msg.Payload) != "back" {
			t.Errorf("AwaitID: got %v, want back", msg)
		}
		if n := metric(t, s, "waits_pending"); n != 0 {
			t.Errorf("waits_pending: got %d, want 0", n)
		}
	})

	t.Run("Unlinked", func(t *testing.T) {
		done, cancel := context.WithCancel(context.Background())
		cancel()
		for range 100 {
			if _, err := s.AwaitNext(done, h); !errors.Is(err, context.Canceled) {
				t.Fatalf("AwaitNext: got %v, want %v", err, context.Canceled)
			}
			h.Next().Cancel()
		}
		kept := h.Next()
		h.Next().Cancel()

		// Only the live wait remains queued.
		if n := h.Waits(); n != 1 {
			t.Errorf("Waits: got %d, want 1", n)
		}
		if n := metric(t, s, "waits_pending"); n != 1 {
			t.Errorf("waits_pending: got %d, want 1", n)
		}
		kept.Cancel()
		if n := h.Waits(); n != 0 {
			t.Errorf("Waits after cancel: got %d, want 0", n)
		}
		if n := metric(t, s, "waits_pending"); n != 0 {
			t.Errorf("waits_pending after cancel: got %d, want 0", n)
		}
	})

	t.Run("NoHandler", func(t *testing.T) {
		msg, err := s.AwaitID(context.Background(), 'Q')
		if !errors.Is(err, serialmsg.ErrNoSuchHandler) {
			t.Errorf("AwaitID: got (%v, %v), want %v", msg, err, serialmsg.ErrNoSuchHandler)
		}
	})
}

func TestListeners(t *testing.T) {
	s := newSession(t, testDescs...)
	h := s.Lookup('a')

	var errs []string
	s.OnError(func(err error) { errs = append(errs, err.Error()) })

	var calls []string
	h.Subscribe(func(*serialmsg.Message) error {
		calls = append(calls, "1")
		return errors.New("bad news")
	})
	h.Subscribe(func(*serialmsg.Message) error {
		calls = append(calls, "2")
		panic("oh no")
	})
	cancel3 := h.Subscribe(func(*serialmsg.Message) error {
		calls = append(calls, "3")
		return nil
	})
	if n := h.Listeners(); n != 3 {
		t.Errorf("Listeners: got %d, want 3", n)
	}

	s.Feed([]byte("aone!"))
	cancel3()
	cancel3() // no effect
	s.Feed([]byte("atwo!"))

	if diff := cmp.Diff([]string{"1", "2", "3", "1", "2"}, calls); diff != "" {
		t.Errorf("Listener calls (-want, +got):\n%s", diff)
	}
	if len(errs) != 4 {
		t.Fatalf("Got %d errors, want 4: %q", len(errs), errs)
	}
	if !strings.Contains(errs[0], "bad news") || !strings.Contains(errs[1], "oh no") {
		t.Errorf("Errors: got %q", errs[:2])
	}
	if n := metric(t, s, "listener_errors"); n != 4 {
		t.Errorf("listener_errors: got %d, want 4", n)
	}
	if n := metric(t, s, "messages_dispatched"); n != 2 {
		t.Errorf("messages_dispatched: got %d, want 2", n)
	}
}

func TestUnsubscribeInListener(t *testing.T) {
	s := newSession(t, testDescs...)
	h := s.Lookup('e')

	var calls int
	var cancel func()
	cancel = h.Subscribe(func(*serialmsg.Message) error {
		calls++
		cancel()
		return nil
	})
	s.Feed([]byte("e123e456"))
	if calls != 1 {
		t.Errorf("Listener called %d times, want 1", calls)
	}
	if n := h.Listeners(); n != 0 {
		t.Errorf("Listeners: got %d, want 0", n)
	}
}

func TestNoTransport(t *testing.T) {
	s := newSession(t, testDescs...)

	err := s.Open(context.Background())
	var oerr *serialmsg.OpenError
	if !errors.As(err, &oerr) || !errors.Is(err, serialmsg.ErrNoTransport) {
		t.Errorf("Open: got %v, want OpenError(%v)", err, serialmsg.ErrNoTransport)
	}

	_, err = s.Send([]byte("x"))
	var werr *serialmsg.WriteError
	if !errors.As(err, &werr) || !errors.Is(err, serialmsg.ErrNoTransport) {
		t.Errorf("Send: got %v, want WriteError(%v)", err, serialmsg.ErrNoTransport)
	}
	if err := s.Wait(); err != nil {
		t.Errorf("Wait: got %v, want nil", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: got %v, want nil", err)
	}
}
