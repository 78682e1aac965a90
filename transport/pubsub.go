package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	wmiddleware "github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/rpcdispatch/internal/ids"
	"github.com/felixgeelhaar/rpcdispatch/middleware"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// Metadata keys read from inbound messages.
const (
	// MetadataClientID groups messages into one connection per client.
	MetadataClientID = "client_id"
	// MetadataReplyTo overrides the reply topic of a single message.
	MetadataReplyTo = "reply_to"
)

// PubSub serves JSON-RPC over a watermill publisher and subscriber.
// Requests are consumed from an inbound topic and replies are published
// to the outbound topic (or the message's reply_to) carrying the
// request's correlation id.
type PubSub struct {
	publisher  message.Publisher
	subscriber message.Subscriber
	inbound    string
	outbound   string

	mu    sync.Mutex
	conns map[string]*protocol.Connection
}

// NewPubSub creates a pub/sub transport.
func NewPubSub(pub message.Publisher, sub message.Subscriber, inbound, outbound string) *PubSub {
	return &PubSub{
		publisher:  pub,
		subscriber: sub,
		inbound:    inbound,
		outbound:   outbound,
		conns:      make(map[string]*protocol.Connection),
	}
}

// Addr returns the inbound and outbound topics.
func (p *PubSub) Addr() string {
	return p.inbound + "->" + p.outbound
}

// Serve consumes the inbound topic until ctx is canceled or the
// subscription closes. Messages are processed one at a time and acked
// after the reply is published; a failed publish nacks the request.
func (p *PubSub) Serve(ctx context.Context, handler Handler) error {
	msgs, err := p.subscriber.Subscribe(ctx, p.inbound)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", p.inbound, err)
	}

	code := CloseNormal
	defer func() { p.disconnectAll(handler, code) }()

	for {
		select {
		case <-ctx.Done():
			code = CloseGoingAway
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				if err := ctx.Err(); err != nil {
					code = CloseGoingAway
					return err
				}
				return nil
			}
			if err := p.handleMessage(ctx, handler, msg); err != nil {
				handler.Logger().Error("reply publish failed",
					middleware.F("transport", protocol.TransportPubSub),
					middleware.F("error", err.Error()),
				)
				msg.Nack()
				continue
			}
			msg.Ack()
		}
	}
}

func (p *PubSub) handleMessage(ctx context.Context, handler Handler, msg *message.Message) error {
	conn := p.connection(handler, msg.Metadata.Get(MetadataClientID))

	reply, _, err := serveFrame(msg.Context(), handler, conn, JSONCodec{}, msg.Payload)
	if err != nil {
		handler.Logger().Error("reply encoding failed",
			middleware.F("connection", conn.ID()),
			middleware.F("error", err.Error()),
		)
		return nil
	}
	if reply == nil {
		return nil
	}

	out := message.NewMessage(uuid.NewString(), reply)
	out.SetContext(ctx)
	correlation := wmiddleware.MessageCorrelationID(msg)
	if correlation == "" {
		correlation = msg.UUID
	}
	wmiddleware.SetCorrelationID(correlation, out)
	if client := msg.Metadata.Get(MetadataClientID); client != "" {
		out.Metadata.Set(MetadataClientID, client)
	}

	topic := p.outbound
	if replyTo := msg.Metadata.Get(MetadataReplyTo); replyTo != "" {
		topic = replyTo
	}
	return p.publisher.Publish(topic, out)
}

// connection returns the connection of client, creating it on first use.
// Messages without a client id share one connection.
func (p *PubSub) connection(handler Handler, client string) *protocol.Connection {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.conns[client]; ok {
		return conn
	}
	conn := protocol.NewConnection(ids.New(), protocol.TransportPubSub, protocol.RequestMeta{
		MetadataClientID: client,
	})
	p.conns[client] = conn
	handler.Connect(conn)
	return conn
}

func (p *PubSub) disconnectAll(handler Handler, code int) {
	p.mu.Lock()
	conns := p.conns
	p.conns = make(map[string]*protocol.Connection)
	p.mu.Unlock()

	for _, conn := range conns {
		handler.Disconnect(conn, code)
	}
}

// WatermillLogger adapts a Logger to watermill's logger interface.
func WatermillLogger(l middleware.Logger) watermill.LoggerAdapter {
	return &watermillLogger{logger: l}
}

type watermillLogger struct {
	logger middleware.Logger
	fields watermill.LogFields
}

func (w *watermillLogger) fieldsOf(extra watermill.LogFields) []middleware.Field {
	all := w.fields.Add(extra)
	fields := make([]middleware.Field, 0, len(all))
	for k, v := range all {
		fields = append(fields, middleware.F(k, v))
	}
	return fields
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	all := append(w.fieldsOf(fields), middleware.F("error", err))
	w.logger.Error(msg, all...)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.logger.Info(msg, w.fieldsOf(fields)...)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.logger.Debug(msg, w.fieldsOf(fields)...)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.logger.Debug(msg, w.fieldsOf(fields)...)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &watermillLogger{logger: w.logger, fields: w.fields.Add(fields)}
}
