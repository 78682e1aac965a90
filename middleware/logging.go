package middleware

import (
	"context"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// Logger is the interface for structured logging.
type Logger interface {
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	Debug(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
}

// Field represents a key-value pair for structured logging.
type Field struct {
	Key   string
	Value any
}

// F creates a new Field with the given key and value.
func F(key string, value any) Field {
	return Field{Key: key, Value: value}
}

// LoggingOption configures the logging middleware.
type LoggingOption func(*loggingMiddleware)

// LogParams includes raw params in request logs. Params may carry secrets,
// so this is off by default.
func LogParams(enabled bool) LoggingOption {
	return func(m *loggingMiddleware) {
		m.logParams = enabled
	}
}

type loggingMiddleware struct {
	logger    Logger
	logParams bool
}

// Logging returns middleware that logs inbound requests at info level and
// outgoing responses at debug level.
func Logging(logger Logger, opts ...LoggingOption) Middleware {
	m := &loggingMiddleware{logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *loggingMiddleware) ProcessRequest(_ context.Context, req *protocol.Request, conn *protocol.Connection) (*protocol.Request, error) {
	fields := []Field{
		F("method", req.Method),
		F("id", idString(req)),
	}
	if conn != nil {
		fields = append(fields, F("connection", conn.ID()), F("transport", conn.Transport()))
	}
	if m.logParams && len(req.Params) > 0 {
		fields = append(fields, F("params", string(req.Params)))
	}

	if req.IsNotification() {
		m.logger.Info("rpc notification", fields...)
	} else {
		m.logger.Info("rpc request", fields...)
	}
	return req, nil
}

func (m *loggingMiddleware) ProcessResponse(_ context.Context, resp *protocol.Response, conn *protocol.Connection) (*protocol.Response, error) {
	fields := []Field{F("id", string(resp.ID))}
	if conn != nil {
		fields = append(fields, F("connection", conn.ID()))
	}
	m.logger.Debug("rpc response", fields...)
	return resp, nil
}

func idString(req *protocol.Request) string {
	if req.IsNotification() {
		return ""
	}
	return string(req.ID)
}

// NopLogger is a logger that discards all log entries.
type NopLogger struct{}

func (NopLogger) Info(msg string, fields ...Field)  {}
func (NopLogger) Error(msg string, fields ...Field) {}
func (NopLogger) Debug(msg string, fields ...Field) {}
func (NopLogger) Warn(msg string, fields ...Field)  {}
