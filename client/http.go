package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// HTTPTransport posts each request to a URL.
type HTTPTransport struct {
	url    string
	client *http.Client
	header http.Header
}

// HTTPOption configures an HTTPTransport.
type HTTPOption func(*HTTPTransport)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTPTransport) { t.client = c }
}

// WithHeader adds a header to every request, e.g. Authorization.
func WithHeader(key, value string) HTTPOption {
	return func(t *HTTPTransport) { t.header.Add(key, value) }
}

// NewHTTPTransport creates a transport posting to url, typically
// "http://host:port/rpc".
func NewHTTPTransport(url string, opts ...HTTPOption) *HTTPTransport {
	t := &HTTPTransport{
		url:    url,
		client: http.DefaultClient,
		header: http.Header{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Send implements Transport. Error responses arrive with a non-2xx status
// and are decoded like any other response.
func (t *HTTPTransport) Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	body, status, err := t.post(ctx, req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNoContent || len(body) == 0 {
		return nil, fmt.Errorf("client: empty response (status %d)", status)
	}
	return decodeResponse(body)
}

// Notify implements Transport.
func (t *HTTPTransport) Notify(ctx context.Context, req *protocol.Request) error {
	body, status, err := t.post(ctx, req)
	if err != nil {
		return err
	}
	if status != http.StatusNoContent {
		return fmt.Errorf("client: notification answered with status %d: %s", status, body)
	}
	return nil
}

// Close implements Transport.
func (t *HTTPTransport) Close() error {
	t.client.CloseIdleConnections()
	return nil
}

func (t *HTTPTransport) post(ctx context.Context, req *protocol.Request) ([]byte, int, error) {
	data, err := jsoncodec.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.url, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}
	for k, v := range t.header {
		httpReq.Header[k] = v
	}
	httpReq.Header.Set("Content-Type", protocol.ContentType)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("post %s: %w", t.url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}
	return body, resp.StatusCode, nil
}
