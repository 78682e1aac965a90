package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/felixgeelhaar/rpcdispatch/middleware"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// CallInfo provides information about one dispatched call to listeners.
type CallInfo struct {
	// Context is the context the method runs under.
	Context context.Context
	// Connection is the connection the call arrived on.
	Connection *protocol.Connection
	// Method is the requested method name.
	Method string
	// ID is the raw call id; nil for notifications.
	ID json.RawMessage
	// TraceID identifies this call in logs and spans.
	TraceID string
	// Notification is set when no response is expected.
	Notification bool
	// StartedAt is when validation finished and the call entered the pipeline.
	StartedAt time.Time
	// Duration is set for MethodCompleted and MethodFailed.
	Duration time.Duration
}

// Listener observes the dispatch lifecycle. Callbacks run synchronously on
// the dispatching goroutine; a panicking listener is logged and skipped.
type Listener interface {
	MethodStarted(info CallInfo)
	MethodCompleted(info CallInfo)
	MethodFailed(info CallInfo, err *protocol.Error)
	ClientConnected(conn *protocol.Connection)
	ClientDisconnected(conn *protocol.Connection, duration time.Duration, code int)
}

// Hooks adapts plain functions to Listener. Nil hooks are not called.
type Hooks struct {
	OnMethodStarted      func(info CallInfo)
	OnMethodCompleted    func(info CallInfo)
	OnMethodFailed       func(info CallInfo, err *protocol.Error)
	OnClientConnected    func(conn *protocol.Connection)
	OnClientDisconnected func(conn *protocol.Connection, duration time.Duration, code int)
}

func (h Hooks) MethodStarted(info CallInfo) {
	if h.OnMethodStarted != nil {
		h.OnMethodStarted(info)
	}
}

func (h Hooks) MethodCompleted(info CallInfo) {
	if h.OnMethodCompleted != nil {
		h.OnMethodCompleted(info)
	}
}

func (h Hooks) MethodFailed(info CallInfo, err *protocol.Error) {
	if h.OnMethodFailed != nil {
		h.OnMethodFailed(info, err)
	}
}

func (h Hooks) ClientConnected(conn *protocol.Connection) {
	if h.OnClientConnected != nil {
		h.OnClientConnected(conn)
	}
}

func (h Hooks) ClientDisconnected(conn *protocol.Connection, duration time.Duration, code int) {
	if h.OnClientDisconnected != nil {
		h.OnClientDisconnected(conn, duration, code)
	}
}

// Merge combines two Hooks. The hooks from other run after the hooks from h.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnMethodStarted:      chainInfo(h.OnMethodStarted, other.OnMethodStarted),
		OnMethodCompleted:    chainInfo(h.OnMethodCompleted, other.OnMethodCompleted),
		OnMethodFailed:       chainFailed(h.OnMethodFailed, other.OnMethodFailed),
		OnClientConnected:    chainConn(h.OnClientConnected, other.OnClientConnected),
		OnClientDisconnected: chainDisconnect(h.OnClientDisconnected, other.OnClientDisconnected),
	}
}

func chainInfo(a, b func(CallInfo)) func(CallInfo) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info CallInfo) {
		a(info)
		b(info)
	}
}

func chainFailed(a, b func(CallInfo, *protocol.Error)) func(CallInfo, *protocol.Error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(info CallInfo, err *protocol.Error) {
		a(info, err)
		b(info, err)
	}
}

func chainConn(a, b func(*protocol.Connection)) func(*protocol.Connection) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(conn *protocol.Connection) {
		a(conn)
		b(conn)
	}
}

func chainDisconnect(a, b func(*protocol.Connection, time.Duration, int)) func(*protocol.Connection, time.Duration, int) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(conn *protocol.Connection, d time.Duration, code int) {
		a(conn, d, code)
		b(conn, d, code)
	}
}

// notify calls fn for every listener, isolating panics.
func (e *Engine) notify(event string, fn func(Listener)) {
	for _, l := range e.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("listener panicked",
						middleware.F("event", event),
						middleware.F("error", fmt.Sprint(r)),
					)
				}
			}()
			fn(l)
		}()
	}
}
