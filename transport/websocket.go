package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/felixgeelhaar/rpcdispatch/internal/ids"
	"github.com/felixgeelhaar/rpcdispatch/middleware"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// WebSocket serves JSON-RPC over WebSocket connections. Text frames carry
// JSON, binary frames carry CBOR; replies use the frame type of the request.
type WebSocket struct {
	addr     string
	path     string
	upgrader websocket.Upgrader

	readTimeout  time.Duration
	writeTimeout time.Duration
	readLimit    int64
	shutdown     ShutdownConfig

	mu         sync.RWMutex
	listenAddr string
	server     *http.Server
	clients    map[*wsClient]struct{}
}

// wsClient represents a single WebSocket connection.
type wsClient struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	mu           sync.Mutex
}

// WebSocketOption configures a WebSocket transport.
type WebSocketOption func(*WebSocket)

// WithWebSocketReadTimeout sets the idle time allowed between two frames.
func WithWebSocketReadTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.readTimeout = d
	}
}

// WithWebSocketWriteTimeout sets the write timeout for WebSocket messages.
func WithWebSocketWriteTimeout(d time.Duration) WebSocketOption {
	return func(ws *WebSocket) {
		ws.writeTimeout = d
	}
}

// WithWebSocketCheckOrigin sets the origin check function for WebSocket upgrades.
func WithWebSocketCheckOrigin(fn func(r *http.Request) bool) WebSocketOption {
	return func(ws *WebSocket) {
		ws.upgrader.CheckOrigin = fn
	}
}

// WithWebSocketAllowedOrigins accepts upgrades only from the given origins.
// "*" allows all. Requests without an Origin header are accepted.
func WithWebSocketAllowedOrigins(origins ...string) WebSocketOption {
	cfg := CORSConfig{AllowOrigins: origins}
	return func(ws *WebSocket) {
		ws.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || cfg.allowedOrigin(origin) != ""
		}
	}
}

// WithWebSocketReadLimit caps the size of a single frame. Frames above the
// engine's message size limit but below the read limit are answered with
// REQUEST_TOO_LARGE; larger frames close the connection with code 1009.
// The default is twice the engine's message size limit.
func WithWebSocketReadLimit(n int64) WebSocketOption {
	return func(ws *WebSocket) {
		ws.readLimit = n
	}
}

// WithWebSocketPath sets the upgrade path. Default "/".
func WithWebSocketPath(path string) WebSocketOption {
	return func(ws *WebSocket) {
		ws.path = path
	}
}

// WithWebSocketShutdown configures connection draining on shutdown.
func WithWebSocketShutdown(cfg ShutdownConfig) WebSocketOption {
	return func(ws *WebSocket) {
		ws.shutdown = cfg
	}
}

// NewWebSocket creates a new WebSocket transport.
func NewWebSocket(addr string, opts ...WebSocketOption) *WebSocket {
	ws := &WebSocket{
		addr: addr,
		path: "/",
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		readTimeout:  60 * time.Second,
		writeTimeout: 10 * time.Second,
		shutdown:     DefaultShutdownConfig(),
		clients:      make(map[*wsClient]struct{}),
	}

	for _, opt := range opts {
		opt(ws)
	}

	return ws
}

// Addr returns the transport address.
func (ws *WebSocket) Addr() string {
	return ws.addr
}

// ListenAddr returns the address the server is listening on, once serving.
func (ws *WebSocket) ListenAddr() string {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.listenAddr
}

// Serve starts the WebSocket server and blocks until ctx is canceled.
// On cancellation in-flight frames are drained, then every client
// receives a 1001 close frame.
func (ws *WebSocket) Serve(ctx context.Context, handler Handler) error {
	listener, err := net.Listen("tcp", ws.addr)
	if err != nil {
		return fmt.Errorf("websocket listen: %w", err)
	}

	sm := NewShutdownManager(ws.shutdown)
	// Connection loops stop after draining, not when ctx is canceled.
	connCtx, cancelConns := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelConns()

	mux := http.NewServeMux()
	mux.HandleFunc(ws.path, func(w http.ResponseWriter, r *http.Request) {
		ws.handleConnection(connCtx, w, r, handler, sm)
	})

	ws.mu.Lock()
	ws.listenAddr = listener.Addr().String()
	ws.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	server := ws.server
	ws.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ws.shutdown.Timeout+5*time.Second)
		defer cancel()
		drainErr := sm.Shutdown(shutdownCtx)
		ws.closeAllClients(websocket.CloseGoingAway)
		cancelConns()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return drainErr
	case err := <-errChan:
		return err
	}
}

func (ws *WebSocket) handleConnection(ctx context.Context, w http.ResponseWriter, r *http.Request, handler Handler, sm *ShutdownManager) {
	if sm.IsDraining() {
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := ws.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	logger := handler.Logger()
	client := &wsClient{conn: conn, writeTimeout: ws.writeTimeout}
	rpcConn := protocol.NewConnection(ids.New(), protocol.TransportWebSocket, headerMeta(r.Header))

	limit := ws.readLimit
	if limit <= 0 {
		limit = 2 * int64(handler.Guard().Config().MaxMessageSizeBytes)
	}
	conn.SetReadLimit(limit)

	ws.mu.Lock()
	ws.clients[client] = struct{}{}
	ws.mu.Unlock()

	handler.Connect(rpcConn)

	code := websocket.CloseNormalClosure
	defer func() {
		ws.mu.Lock()
		delete(ws.clients, client)
		ws.mu.Unlock()
		_ = conn.Close()
		handler.Disconnect(rpcConn, code)
	}()

	var cborCodec *CBORCodec

	for {
		if ctx.Err() != nil {
			code = websocket.CloseGoingAway
			return
		}

		if ws.readTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(ws.readTimeout))
		}

		mt, frame, err := conn.ReadMessage()
		if err != nil {
			code = closeCode(err)
			if sm.IsDraining() {
				code = websocket.CloseGoingAway
			}
			return
		}

		if !sm.TrackRequest() {
			code = websocket.CloseGoingAway
			return
		}

		var codec Codec = JSONCodec{}
		if mt == websocket.BinaryMessage {
			if cborCodec == nil {
				if cborCodec, err = NewCBORCodec(); err != nil {
					sm.CompleteRequest()
					code = websocket.CloseInternalServerErr
					return
				}
			}
			codec = cborCodec
		}

		reply, _, err := serveFrame(ctx, handler, rpcConn, codec, frame)
		sm.CompleteRequest()
		if err != nil {
			logger.Error("reply encoding failed",
				middleware.F("connection", rpcConn.ID()),
				middleware.F("error", err.Error()),
			)
			continue
		}
		if reply == nil {
			continue
		}
		if err := client.write(mt, reply); err != nil {
			logger.Debug("write failed",
				middleware.F("connection", rpcConn.ID()),
				middleware.F("error", err.Error()),
			)
			code = websocket.CloseAbnormalClosure
			return
		}
	}
}

// closeCode maps a read error to the code reported on disconnect.
func closeCode(err error) int {
	var ce *websocket.CloseError
	switch {
	case errors.As(err, &ce):
		return ce.Code
	case errors.Is(err, websocket.ErrReadLimit):
		return websocket.CloseMessageTooBig
	default:
		return websocket.CloseAbnormalClosure
	}
}

func (ws *WebSocket) closeAllClients(code int) {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	for client := range ws.clients {
		client.close(code)
	}
}

func (c *wsClient) write(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *wsClient) close(code int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""), time.Now().Add(time.Second))
	_ = c.conn.Close()
}
