package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// stream correlates replies read from a full-duplex connection with the
// calls waiting for them.
type stream struct {
	wmu   sync.Mutex
	write func(data []byte) error

	mu      sync.Mutex
	pending map[string]chan *protocol.Response
	closed  bool
	err     error
	done    chan struct{}
}

func newStream(write func(data []byte) error) *stream {
	return &stream{
		write:   write,
		pending: make(map[string]chan *protocol.Response),
		done:    make(chan struct{}),
	}
}

func (s *stream) send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	key := string(req.ID)
	respCh := make(chan *protocol.Response, 1)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, s.closedErr()
	}
	if _, dup := s.pending[key]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("client: request %s already pending", key)
	}
	s.pending[key] = respCh
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, key)
		s.mu.Unlock()
	}()

	if err := s.notify(req); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.done:
		return nil, s.closedErr()
	case resp := <-respCh:
		return resp, nil
	}
}

func (s *stream) notify(req *protocol.Request) error {
	data, err := jsoncodec.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return s.closedErr()
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.write(data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// deliver routes one inbound frame to its caller. Frames that do not
// decode or match no pending call are dropped.
func (s *stream) deliver(data []byte) {
	resp, err := decodeResponse(data)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.pending[string(resp.ID)]; ok {
		ch <- resp
	}
}

// shutdown fails every pending and future call with err.
func (s *stream) shutdown(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.err = err
	close(s.done)
}

func (s *stream) closedErr() error {
	if s.err != nil {
		return fmt.Errorf("%w: %v", ErrClosed, s.err)
	}
	return ErrClosed
}
