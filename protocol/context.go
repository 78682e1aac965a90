package protocol

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"
)

// requestMetaKey is the context key for request metadata.
type requestMetaKey struct{}

// RequestMeta holds transport level metadata such as HTTP headers.
type RequestMeta map[string]string

// ContextWithRequestMeta returns a new context with the request metadata attached.
func ContextWithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFromContext returns the request metadata from the context.
// Returns nil if no metadata is present.
func RequestMetaFromContext(ctx context.Context) RequestMeta {
	if meta, ok := ctx.Value(requestMetaKey{}).(RequestMeta); ok {
		return meta
	}
	return nil
}

// Get returns the value for key, trying the exact key first and then a
// case-insensitive match.
func (m RequestMeta) Get(key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key]; ok {
		return v
	}
	for k, v := range m {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}

// Connection describes one transport connection. Transports create it when a
// peer connects and pass it to every dispatch on that connection.
type Connection struct {
	id          string
	transport   string
	meta        RequestMeta
	connectedAt time.Time

	attrs sync.Map
}

// NewConnection creates a connection record. meta is copied.
func NewConnection(id, transport string, meta RequestMeta) *Connection {
	copied := make(RequestMeta, len(meta))
	for k, v := range meta {
		copied[k] = v
	}
	return &Connection{
		id:          id,
		transport:   transport,
		meta:        copied,
		connectedAt: time.Now(),
	}
}

// ID returns the connection identifier.
func (c *Connection) ID() string { return c.id }

// Transport returns the transport name, e.g. TransportWebSocket.
func (c *Connection) Transport() string { return c.transport }

// Meta returns the transport metadata captured at connect time. Treat it as read-only.
func (c *Connection) Meta() RequestMeta { return c.meta }

// ConnectedAt returns when the connection was established.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// Value returns a connection scoped attribute set by middleware.
func (c *Connection) Value(key any) any {
	v, _ := c.attrs.Load(key)
	return v
}

// SetValue stores a connection scoped attribute.
func (c *Connection) SetValue(key, value any) {
	c.attrs.Store(key, value)
}

// LoadOrStoreValue returns the existing attribute for key or stores and returns value.
func (c *Connection) LoadOrStoreValue(key, value any) any {
	v, _ := c.attrs.LoadOrStore(key, value)
	return v
}

// ExecutionContext is the read-only per-call metadata handed to methods that
// declare a *ExecutionContext parameter.
type ExecutionContext struct {
	conn         *Connection
	id           json.RawMessage
	method       string
	notification bool
	traceID      string
}

// NewExecutionContext assembles the metadata of one call.
func NewExecutionContext(conn *Connection, req *Request, traceID string) *ExecutionContext {
	return &ExecutionContext{
		conn:         conn,
		id:           req.ID,
		method:       req.Method,
		notification: req.IsNotification(),
		traceID:      traceID,
	}
}

// Connection returns the connection the call arrived on.
func (e *ExecutionContext) Connection() *Connection { return e.conn }

// ID returns the raw call id, nil for notifications.
func (e *ExecutionContext) ID() json.RawMessage { return e.id }

// Method returns the invoked method name.
func (e *ExecutionContext) Method() string { return e.method }

// IsNotification reports whether the call expects no response.
func (e *ExecutionContext) IsNotification() bool { return e.notification }

// TraceID returns the dispatcher assigned identifier of this call.
func (e *ExecutionContext) TraceID() string { return e.traceID }

type executionContextKey struct{}

// ContextWithExecution attaches ec to ctx.
func ContextWithExecution(ctx context.Context, ec *ExecutionContext) context.Context {
	return context.WithValue(ctx, executionContextKey{}, ec)
}

// ExecutionFromContext returns the execution context attached to ctx, or nil.
func ExecutionFromContext(ctx context.Context) *ExecutionContext {
	ec, _ := ctx.Value(executionContextKey{}).(*ExecutionContext)
	return ec
}
