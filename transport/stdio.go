package transport

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/felixgeelhaar/rpcdispatch/internal/ids"
	"github.com/felixgeelhaar/rpcdispatch/middleware"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// Stdio serves newline-delimited JSON messages from a reader and writes
// one line per reply. The whole stream is a single connection.
type Stdio struct {
	in  io.Reader
	out io.Writer

	mu sync.Mutex
}

// StdioOption configures a Stdio transport.
type StdioOption func(*Stdio)

// WithStdin sets a custom stdin reader.
func WithStdin(r io.Reader) StdioOption {
	return func(s *Stdio) {
		s.in = r
	}
}

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) StdioOption {
	return func(s *Stdio) {
		s.out = w
	}
}

// NewStdio creates a new stdio transport.
func NewStdio(opts ...StdioOption) *Stdio {
	s := &Stdio{
		in:  os.Stdin,
		out: os.Stdout,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Addr returns the transport address.
func (s *Stdio) Addr() string {
	return "stdio"
}

// Serve processes lines until EOF, a read error or ctx cancellation.
// EOF returns nil.
func (s *Stdio) Serve(ctx context.Context, handler Handler) error {
	conn := protocol.NewConnection(ids.New(), protocol.TransportStdio, nil)
	handler.Connect(conn)

	code := CloseNormal
	defer func() { handler.Disconnect(conn, code) }()

	// Lines of at least twice the size limit are read so that oversized messages
	// are answered with REQUEST_TOO_LARGE instead of ending the stream.
	limit := 2 * handler.Guard().Config().MaxMessageSizeBytes
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), limit)

	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			scanErr <- err
		}
	}()

	for {
		select {
		case <-ctx.Done():
			code = CloseGoingAway
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					code = CloseError
					return err
				default:
					return nil
				}
			}
			if len(line) == 0 {
				continue
			}
			if err := s.handleLine(ctx, handler, conn, line); err != nil {
				code = CloseError
				return err
			}
		}
	}
}

func (s *Stdio) handleLine(ctx context.Context, handler Handler, conn *protocol.Connection, line []byte) error {
	reply, _, err := serveFrame(ctx, handler, conn, JSONCodec{}, line)
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
	return s.writeLine(reply)
}

func (s *Stdio) writeLine(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.out.Write(data); err != nil {
		return fmt.Errorf("stdio write: %w", err)
	}
	_, err := s.out.Write([]byte("\n"))
	return err
}
