package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// WebSocketTransport sends JSON text frames over a websocket connection.
type WebSocketTransport struct {
	conn   *websocket.Conn
	stream *stream

	readDone  chan struct{}
	closeOnce sync.Once
}

// DialWebSocket connects to url.
func DialWebSocket(ctx context.Context, url string, header http.Header) (*WebSocketTransport, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	t := &WebSocketTransport{
		conn:     conn,
		readDone: make(chan struct{}),
	}
	t.stream = newStream(func(data []byte) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, data)
	})

	go t.readResponses()
	return t, nil
}

// Send implements Transport.
func (t *WebSocketTransport) Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return t.stream.send(ctx, req)
}

// Notify implements Transport.
func (t *WebSocketTransport) Notify(_ context.Context, req *protocol.Request) error {
	return t.stream.notify(req)
}

// Close sends a normal close frame and closes the connection.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))

		select {
		case <-t.readDone:
		case <-time.After(time.Second):
		}
		err = t.conn.Close()
		t.stream.shutdown(nil)
	})
	return err
}

func (t *WebSocketTransport) readResponses() {
	defer close(t.readDone)
	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				err = nil
			}
			t.stream.shutdown(err)
			return
		}
		t.stream.deliver(data)
	}
}
