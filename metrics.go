// Copyright (C) 2025 Michael J. Fromberger. All Rights Reserved.

package serialmsg

import "expvar"

// sessionMetrics record session activity counters.
type sessionMetrics struct {
	bytesRecv     expvar.Int
	bytesSent     expvar.Int
	bytesDropped  expvar.Int // identifier bytes with no handler
	framesStarted expvar.Int
	msgDispatched expvar.Int
	listenerErr   expvar.Int // listener errors and recovered panics
	waitsResolved expvar.Int
	waitsPending  expvar.Int // gauge
	sendFailed    expvar.Int

	emap *expvar.Map
}

var rootMetrics = newSessionMetrics()

func newSessionMetrics() *sessionMetrics {
	sm := &sessionMetrics{emap: new(expvar.Map)}
	sm.emap.Set("bytes_received", &sm.bytesRecv)
	sm.emap.Set("bytes_sent", &sm.bytesSent)
	sm.emap.Set("bytes_dropped", &sm.bytesDropped)
	sm.emap.Set("frames_started", &sm.framesStarted)
	sm.emap.Set("messages_dispatched", &sm.msgDispatched)
	sm.emap.Set("listener_errors", &sm.listenerErr)
	sm.emap.Set("waits_resolved", &sm.waitsResolved)
	sm.emap.Set("waits_pending", &sm.waitsPending)
	sm.emap.Set("sends_failed", &sm.sendFailed)
	return sm
}
