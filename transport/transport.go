package transport

import (
	"context"
	"net/http"
	"strings"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/limits"
	"github.com/felixgeelhaar/rpcdispatch/middleware"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
	"github.com/felixgeelhaar/rpcdispatch/registry"
)

// Handler processes inbound frames for a transport. *dispatch.Engine
// implements it.
type Handler interface {
	HandleMessage(ctx context.Context, conn *protocol.Connection, data []byte) dispatch.Outcome
	EncodeResponse(resp *protocol.Response) ([]byte, error)
	Connect(conn *protocol.Connection)
	Disconnect(conn *protocol.Connection, code int)
	Guard() *limits.Guard
	Describe() registry.APIDescription
	Logger() middleware.Logger
}

var _ Handler = (*dispatch.Engine)(nil)

// Transport defines the communication layer interface.
type Transport interface {
	// Serve starts the transport, blocking until ctx is canceled or an error occurs.
	Serve(ctx context.Context, handler Handler) error

	// Addr returns the transport's address description.
	Addr() string
}

// Close codes reported to Handler.Disconnect by transports without a
// close handshake of their own.
const (
	CloseNormal    = 1000
	CloseGoingAway = 1001
	CloseError     = 1011
)

// serveFrame runs one inbound frame through h and returns the reply frame
// in the codec's format. reply is nil when nothing must be sent back.
func serveFrame(ctx context.Context, h Handler, conn *protocol.Connection, codec Codec, frame []byte) (reply []byte, out dispatch.Outcome, err error) {
	data, err := codec.ToJSON(frame)
	if err != nil {
		out = dispatch.Outcome{
			Kind:     protocol.KindMalformed,
			State:    dispatch.StateFailed,
			Response: protocol.NewErrorResponse(nil, protocol.NewParseError()),
		}
	} else {
		out = h.HandleMessage(ctx, conn, data)
	}

	if out.Response == nil {
		return nil, out, nil
	}

	encoded, err := h.EncodeResponse(out.Response)
	if err != nil {
		return nil, out, err
	}
	reply, err = codec.FromJSON(encoded)
	return reply, out, err
}

// headerMeta flattens HTTP headers into connection metadata. Keys are
// canonical header names; multiple values are joined with ", ".
func headerMeta(h http.Header) protocol.RequestMeta {
	meta := make(protocol.RequestMeta, len(h))
	for k, v := range h {
		meta[k] = strings.Join(v, ", ")
	}
	return meta
}
