package observe

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

const instrumentationName = "github.com/felixgeelhaar/rpcdispatch"

// OTelOption configures the OpenTelemetry listener.
type OTelOption func(*otelConfig)

type otelConfig struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	serviceName    string
	skipMethods    map[string]bool
}

// WithTracerProvider sets a custom tracer provider.
func WithTracerProvider(tp trace.TracerProvider) OTelOption {
	return func(c *otelConfig) {
		c.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom meter provider.
func WithMeterProvider(mp metric.MeterProvider) OTelOption {
	return func(c *otelConfig) {
		c.meterProvider = mp
	}
}

// WithServiceName sets the service.name attribute.
func WithServiceName(name string) OTelOption {
	return func(c *otelConfig) {
		c.serviceName = name
	}
}

// WithSkipMethods excludes methods from tracing and metrics.
func WithSkipMethods(methods ...string) OTelOption {
	return func(c *otelConfig) {
		for _, m := range methods {
			c.skipMethods[m] = true
		}
	}
}

// OTel is a dispatch listener that records a span per call plus request,
// error and latency metrics.
type OTel struct {
	cfg    *otelConfig
	tracer trace.Tracer

	requests    metric.Int64Counter
	errors      metric.Int64Counter
	duration    metric.Float64Histogram
	connections metric.Int64UpDownCounter

	// open spans keyed by call trace id
	spans sync.Map
}

// NewOTel creates the listener. Providers default to the global ones.
func NewOTel(opts ...OTelOption) (*OTel, error) {
	cfg := &otelConfig{
		tracerProvider: otel.GetTracerProvider(),
		meterProvider:  otel.GetMeterProvider(),
		serviceName:    "rpcdispatch",
		skipMethods:    make(map[string]bool),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	meter := cfg.meterProvider.Meter(instrumentationName, metric.WithInstrumentationVersion("1.0.0"))
	o := &OTel{
		cfg:    cfg,
		tracer: cfg.tracerProvider.Tracer(instrumentationName, trace.WithInstrumentationVersion("1.0.0")),
	}

	var err error
	if o.requests, err = meter.Int64Counter("rpc.server.requests",
		metric.WithDescription("Total number of JSON-RPC calls and notifications"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if o.errors, err = meter.Int64Counter("rpc.server.errors",
		metric.WithDescription("Total number of failed JSON-RPC calls"),
		metric.WithUnit("{error}"),
	); err != nil {
		return nil, err
	}
	if o.duration, err = meter.Float64Histogram("rpc.server.duration",
		metric.WithDescription("Duration of JSON-RPC calls"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if o.connections, err = meter.Int64UpDownCounter("rpc.server.active_connections",
		metric.WithDescription("Number of open client connections"),
		metric.WithUnit("{connection}"),
	); err != nil {
		return nil, err
	}
	return o, nil
}

var _ dispatch.Listener = (*OTel)(nil)

func (o *OTel) attrs(info dispatch.CallInfo) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", info.Method),
		attribute.String("rpc.transport", info.Connection.Transport()),
		attribute.String("service.name", o.cfg.serviceName),
	}
}

// MethodStarted opens the call span.
func (o *OTel) MethodStarted(info dispatch.CallInfo) {
	if o.cfg.skipMethods[info.Method] {
		return
	}
	ctx := contextOf(info)
	attrs := o.attrs(info)
	_, span := o.tracer.Start(ctx, "rpc."+info.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithTimestamp(info.StartedAt),
		trace.WithAttributes(attrs...),
	)
	span.SetAttributes(
		attribute.String("rpc.trace_id", info.TraceID),
		attribute.String("rpc.connection", info.Connection.ID()),
		attribute.Bool("rpc.notification", info.Notification),
	)
	if !info.Notification {
		span.SetAttributes(attribute.String("rpc.jsonrpc.request_id", string(info.ID)))
	}
	o.spans.Store(info.TraceID, span)

	o.requests.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// MethodCompleted closes the span with an OK status.
func (o *OTel) MethodCompleted(info dispatch.CallInfo) {
	span, ok := o.finish(info)
	if !ok {
		return
	}
	span.SetStatus(codes.Ok, "")
	span.End(trace.WithTimestamp(info.StartedAt.Add(info.Duration)))
}

// MethodFailed closes the span with the error code and counts the failure.
func (o *OTel) MethodFailed(info dispatch.CallInfo, err *protocol.Error) {
	span, ok := o.finish(info)
	if !ok {
		return
	}
	span.SetStatus(codes.Error, err.Message)
	span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", err.Code))
	span.RecordError(err)
	span.End(trace.WithTimestamp(info.StartedAt.Add(info.Duration)))

	o.errors.Add(contextOf(info), 1, metric.WithAttributes(
		append(o.attrs(info), attribute.Int("rpc.jsonrpc.error_code", err.Code))...,
	))
}

func (o *OTel) finish(info dispatch.CallInfo) (trace.Span, bool) {
	v, ok := o.spans.LoadAndDelete(info.TraceID)
	if !ok {
		return nil, false
	}
	o.duration.Record(contextOf(info), float64(info.Duration)/float64(time.Millisecond),
		metric.WithAttributes(o.attrs(info)...))
	return v.(trace.Span), true
}

// ClientConnected increments the active connection count.
func (o *OTel) ClientConnected(conn *protocol.Connection) {
	o.connections.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("rpc.transport", conn.Transport())))
}

// ClientDisconnected decrements the active connection count.
func (o *OTel) ClientDisconnected(conn *protocol.Connection, _ time.Duration, _ int) {
	o.connections.Add(context.Background(), -1,
		metric.WithAttributes(attribute.String("rpc.transport", conn.Transport())))
}

func contextOf(info dispatch.CallInfo) context.Context {
	if info.Context != nil {
		return info.Context
	}
	return context.Background()
}
