package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/internal/ids"
	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
	"github.com/felixgeelhaar/rpcdispatch/middleware"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

const requestIDHeader = "X-Request-ID"

// HTTP serves one JSON-RPC message per POST request. Every request is its
// own connection.
//
// Routes:
//
//	POST /rpc           dispatch one message
//	GET  /rpc/describe  API description
//	GET  /health        liveness, 503 while draining
type HTTP struct {
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration

	corsConfig      *CORSConfig
	shutdownTimeout time.Duration
	drainDelay      time.Duration

	mu         sync.RWMutex
	listenAddr string
	server     *http.Server
}

// HTTPOption configures the HTTP transport.
type HTTPOption func(*HTTP)

// WithReadTimeout sets the read timeout for HTTP requests.
func WithReadTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.readTimeout = d
	}
}

// WithWriteTimeout sets the write timeout for HTTP responses. It should
// exceed the longest method timeout.
func WithWriteTimeout(d time.Duration) HTTPOption {
	return func(h *HTTP) {
		h.writeTimeout = d
	}
}

// NewHTTP creates a new HTTP transport.
func NewHTTP(addr string, opts ...HTTPOption) *HTTP {
	h := &HTTP{
		addr:            addr,
		readTimeout:     30 * time.Second,
		writeTimeout:    0,
		shutdownTimeout: DefaultShutdownConfig().Timeout,
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Addr returns the configured address.
func (h *HTTP) Addr() string {
	return h.addr
}

// ListenAddr returns the actual address the server is listening on.
func (h *HTTP) ListenAddr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.listenAddr
}

// Serve starts the HTTP server and handles requests until ctx is canceled,
// then drains in-flight requests.
func (h *HTTP) Serve(ctx context.Context, handler Handler) error {
	sm := NewShutdownManager(ShutdownConfig{
		Timeout:    h.shutdownTimeout,
		DrainDelay: h.drainDelay,
	})
	httpHandler := h.createHandler(handler, sm)

	listener, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	h.mu.Lock()
	h.listenAddr = listener.Addr().String()
	h.server = &http.Server{
		Handler:      httpHandler,
		ReadTimeout:  h.readTimeout,
		WriteTimeout: h.writeTimeout,
	}
	server := h.server
	h.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout+h.drainDelay+5*time.Second)
		defer cancel()
		drainErr := sm.Shutdown(shutdownCtx)
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return drainErr
	case err := <-errCh:
		return err
	}
}

// createHandler builds the route table for handler.
func (h *HTTP) createHandler(handler Handler, sm *ShutdownManager) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		status, code := "ok", http.StatusOK
		if sm.IsDraining() {
			status, code = "draining", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]string{"status": status})
	})

	mux.HandleFunc("GET /rpc/describe", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, handler.Describe())
	})

	mux.HandleFunc("POST /rpc", func(w http.ResponseWriter, r *http.Request) {
		h.handleRPC(w, r, handler, sm)
	})

	if h.corsConfig != nil {
		return CORSHandler(*h.corsConfig, mux)
	}
	return mux
}

// handleRPC dispatches the request body as one message.
func (h *HTTP) handleRPC(w http.ResponseWriter, r *http.Request, handler Handler, sm *ShutdownManager) {
	requestID := r.Header.Get(requestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(requestIDHeader, requestID)

	if !sm.TrackRequest() {
		w.Header().Set("Connection", "close")
		http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer sm.CompleteRequest()

	meta := headerMeta(r.Header)
	meta[requestIDHeader] = requestID
	conn := protocol.NewConnection(ids.New(), protocol.TransportHTTP, meta)
	handler.Connect(conn)
	defer handler.Disconnect(conn, CloseNormal)

	guard := handler.Guard()
	limit := int64(guard.Config().MaxMessageSizeBytes)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))

	var out dispatch.Outcome
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		v := guard.CheckMessageSize(int(limit) + 1)
		out = dispatch.Outcome{
			Kind:     protocol.KindMalformed,
			State:    dispatch.StateFailed,
			Response: protocol.NewErrorResponse(nil, v.RPCError()),
		}
	case err != nil:
		handler.Logger().Debug("read body failed",
			middleware.F("connection", conn.ID()),
			middleware.F("error", err.Error()),
		)
		w.WriteHeader(http.StatusBadRequest)
		return
	default:
		out = handler.HandleMessage(r.Context(), conn, body)
	}

	status := StatusFor(out)
	if out.Response == nil {
		w.WriteHeader(status)
		return
	}

	data, err := handler.EncodeResponse(out.Response)
	if err != nil {
		handler.Logger().Error("reply encoding failed",
			middleware.F("connection", conn.ID()),
			middleware.F("error", err.Error()),
		)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", protocol.ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// StatusFor maps a dispatch outcome to an HTTP status code.
func StatusFor(out dispatch.Outcome) int {
	if out.Response == nil {
		return http.StatusNoContent
	}
	if out.Response.Error == nil {
		return http.StatusOK
	}
	switch out.Response.Error.Code {
	case protocol.CodeParseError, protocol.CodeInvalidRequest:
		return http.StatusBadRequest
	case protocol.CodeMethodNotFound:
		return http.StatusNotFound
	case protocol.CodeRequestTooLarge:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", protocol.ContentType)
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
