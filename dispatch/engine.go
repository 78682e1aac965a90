package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/felixgeelhaar/rpcdispatch/internal/ids"
	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
	"github.com/felixgeelhaar/rpcdispatch/limits"
	"github.com/felixgeelhaar/rpcdispatch/middleware"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
	"github.com/felixgeelhaar/rpcdispatch/registry"
)

// Engine turns decoded envelopes into method invocations for one scope.
// It is safe for concurrent use by any number of connections.
type Engine struct {
	scope       *registry.Scope
	guard       *limits.Guard
	chain       *middleware.Chain
	middlewares []middleware.Middleware
	logger      middleware.Logger
	listeners   []Listener
	onResponse  ResponseHandler
	now         func() time.Time

	defaultTimeout time.Duration
	replayCooldown time.Duration
	replayPrune    int
	sanitize       bool
}

// New creates an engine dispatching to the methods of scope.
func New(scope *registry.Scope, opts ...Option) *Engine {
	e := &Engine{
		scope:          scope,
		guard:          limits.NewGuard(limits.DefaultConfig()),
		logger:         middleware.NopLogger{},
		now:            time.Now,
		defaultTimeout: DefaultMethodTimeout,
		replayCooldown: DefaultReplayCooldown,
		replayPrune:    DefaultReplayPruneThreshold,
		sanitize:       true,
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.chain == nil {
		e.chain = middleware.Use().WithLogger(e.logger)
	}
	e.chain.Append(e.middlewares...)
	e.middlewares = nil

	return e
}

// Scope returns the scope the engine dispatches to.
func (e *Engine) Scope() *registry.Scope { return e.scope }

// Guard returns the limits guard, for transports that cap frame sizes.
func (e *Engine) Guard() *limits.Guard { return e.guard }

// Logger returns the engine's logger.
func (e *Engine) Logger() middleware.Logger { return e.logger }

// Describe returns the API description of the engine's scope.
func (e *Engine) Describe() registry.APIDescription { return e.scope.Describe() }

// Connect announces a new connection to the listeners.
func (e *Engine) Connect(conn *protocol.Connection) {
	e.logger.Debug("client connected",
		middleware.F("connection", conn.ID()),
		middleware.F("transport", conn.Transport()),
	)
	e.notify("client_connected", func(l Listener) { l.ClientConnected(conn) })
}

// Disconnect announces a closed connection with the transport's close code.
func (e *Engine) Disconnect(conn *protocol.Connection, code int) {
	duration := e.now().Sub(conn.ConnectedAt())
	e.logger.Debug("client disconnected",
		middleware.F("connection", conn.ID()),
		middleware.F("transport", conn.Transport()),
		middleware.F("duration", duration),
		middleware.F("code", code),
	)
	e.notify("client_disconnected", func(l Listener) { l.ClientDisconnected(conn, duration, code) })
}

// HandleMessage checks the frame size, decodes it and dispatches it.
func (e *Engine) HandleMessage(ctx context.Context, conn *protocol.Connection, data []byte) Outcome {
	if v := e.guard.CheckMessageSize(len(data)); v != nil {
		e.logger.Warn("message rejected",
			middleware.F("connection", conn.ID()),
			middleware.F("error", v.Error()),
		)
		return failed(protocol.KindMalformed, nil, v.RPCError())
	}

	msg, rpcErr := protocol.DecodeMessage(data)
	if rpcErr != nil {
		return failed(protocol.KindMalformed, nil, rpcErr)
	}
	return e.Dispatch(ctx, conn, msg)
}

// Dispatch runs one decoded message through the pipeline. The returned
// outcome carries the response to send, if any.
func (e *Engine) Dispatch(ctx context.Context, conn *protocol.Connection, msg *protocol.Message) Outcome {
	kind := msg.Kind()

	switch kind {
	case protocol.KindResponse:
		if e.onResponse != nil {
			e.onResponse(ctx, conn, msg)
		} else {
			e.logger.Debug("response ignored", middleware.F("connection", conn.ID()))
		}
		return Outcome{Kind: kind, State: StateResponded, Passthrough: true}
	case protocol.KindMalformed:
		return failed(kind, nil, protocol.NewInvalidRequest("Missing required field 'method'"))
	}

	req, id, rpcErr := e.validate(msg)
	if rpcErr != nil {
		if kind == protocol.KindNotification && rpcErr.Code != protocol.CodeInvalidRequest {
			e.logger.Warn("notification rejected",
				middleware.F("connection", conn.ID()),
				middleware.F("code", rpcErr.Code),
				middleware.F("error", rpcErr.Message),
			)
			return Outcome{Kind: kind, State: StateFailed}
		}
		return failed(kind, id, rpcErr)
	}

	info := CallInfo{
		Context:      ctx,
		Connection:   conn,
		Method:       req.Method,
		ID:           req.ID,
		TraceID:      ids.New(),
		Notification: req.IsNotification(),
		StartedAt:    e.now(),
	}
	e.notify("method_started", func(l Listener) { l.MethodStarted(info) })

	resp, rpcErr := e.execute(ctx, conn, req, info.TraceID)
	info.Duration = e.now().Sub(info.StartedAt)

	if rpcErr != nil {
		e.notify("method_failed", func(l Listener) { l.MethodFailed(info, rpcErr) })
		if req.IsNotification() {
			return Outcome{Kind: kind, State: StateFailed}
		}
		return failed(kind, req.ID, rpcErr)
	}

	e.notify("method_completed", func(l Listener) { l.MethodCompleted(info) })
	return Outcome{Kind: kind, State: StateResponded, Response: resp}
}

func (e *Engine) execute(ctx context.Context, conn *protocol.Connection, req *protocol.Request, traceID string) (*protocol.Response, *protocol.Error) {
	if e.replayCooldown > 0 && !req.IsNotification() && string(req.ID) != "null" {
		if !e.replayGuardFor(conn).admit(string(req.ID), e.now()) {
			return nil, protocol.NewInvalidRequest(fmt.Sprintf("Duplicate request id %s", req.ID))
		}
	}

	if _, ok := e.resolve(req, conn); !ok {
		return nil, protocol.NewMethodNotFound(req.Method)
	}

	next, rpcErr := e.chain.ProcessRequest(ctx, req, conn)
	if rpcErr != nil {
		return nil, rpcErr
	}
	next.ID = req.ID

	d, ok := e.resolve(next, conn)
	if !ok {
		return nil, protocol.NewMethodNotFound(next.Method)
	}

	ec := protocol.NewExecutionContext(conn, next, traceID)
	callCtx := protocol.ContextWithExecution(ctx, ec)

	timeout := e.defaultTimeout
	if t, ok := d.Timeout(); ok {
		timeout = t
	}

	result, err := RunWithDeadline(callCtx, func(ctx context.Context) (any, error) {
		return d.Call(ctx, ec, next.Params)
	}, timeout)
	if err != nil {
		return nil, e.toRPCError(next, conn, err)
	}

	if next.IsNotification() {
		if result != nil {
			e.logger.Warn("notification returned a result, discarding",
				middleware.F("method", next.Method),
				middleware.F("connection", conn.ID()),
			)
		}
		return nil, nil
	}

	resp := protocol.NewResponse(next.ID, result)
	return e.chain.ProcessResponse(ctx, resp, conn), nil
}

// resolve looks up the descriptor for req and applies transport availability.
func (e *Engine) resolve(req *protocol.Request, conn *protocol.Connection) (*registry.Descriptor, bool) {
	d, ok := e.scope.Lookup(req.Method, req.IsNotification())
	if !ok || !d.AvailableOn(conn.Transport()) {
		return nil, false
	}
	return d, true
}

// toRPCError maps an execution failure to its wire error and logs it.
func (e *Engine) toRPCError(req *protocol.Request, conn *protocol.Connection, err error) *protocol.Error {
	fields := []middleware.Field{
		middleware.F("method", req.Method),
		middleware.F("connection", conn.ID()),
		middleware.F("error", err.Error()),
	}

	var rpcErr *protocol.Error
	var timeoutErr *TimeoutError
	var panicErr *PanicError
	switch {
	case errors.As(err, &rpcErr):
		return rpcErr
	case errors.As(err, &timeoutErr):
		e.logger.Warn("method timed out", append(fields, middleware.F("duration", timeoutErr.Timeout))...)
		return protocol.NewTimeoutError(req.Method, timeoutErr.Timeout.Seconds())
	case errors.As(err, &panicErr):
		e.logger.Error("method panicked", append(fields, middleware.F("stack", string(panicErr.Stack)))...)
		return protocol.NewInternalError()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		e.logger.Error("method cancelled", fields...)
		return protocol.NewInternalError()
	default:
		e.logger.Error("method failed", fields...)
		if e.sanitize {
			return protocol.NewApplicationError("")
		}
		return protocol.NewApplicationError(err.Error())
	}
}

func failed(kind protocol.Kind, id json.RawMessage, err *protocol.Error) Outcome {
	return Outcome{
		Kind:     kind,
		State:    StateFailed,
		Response: protocol.NewErrorResponse(id, err),
	}
}

// EncodeResponse serializes resp. A result that cannot be encoded is
// replaced by a PARSE_RESULT_ERROR carrying the same id.
func (e *Engine) EncodeResponse(resp *protocol.Response) ([]byte, error) {
	data, err := jsoncodec.Marshal(resp)
	if err == nil {
		return data, nil
	}

	e.logger.Error("response encoding failed",
		middleware.F("id", string(resp.ID)),
		middleware.F("error", err.Error()),
	)
	return jsoncodec.Marshal(protocol.NewErrorResponse(resp.ID, protocol.NewParseResultError()))
}
