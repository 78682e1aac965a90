package transport

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/rpcdispatch/dispatch"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

func TestNewStdio(t *testing.T) {
	in := &bytes.Buffer{}
	out := &bytes.Buffer{}
	s := NewStdio(WithStdin(in), WithStdout(out))

	if s.Addr() != "stdio" {
		t.Errorf("Addr() = %q, want stdio", s.Addr())
	}
	if s.in != in || s.out != out {
		t.Error("expected custom streams to be used")
	}
}

func TestStdio_Serve(t *testing.T) {
	input := strings.Join([]string{
		`{"jsonrpc":"2.0","method":"add","params":[5,3],"id":1}`,
		`{"jsonrpc":"2.0","method":"log"}`,
		``,
		`{"jsonrpc":"2.0","method":"ghost","id":"g"}`,
		`not json`,
		`{"jsonrpc":"2.0","result":1,"id":5}`,
	}, "\n") + "\n"

	events := newLifecycle()
	out := &bytes.Buffer{}
	s := NewStdio(WithStdin(strings.NewReader(input)), WithStdout(out))

	if err := s.Serve(context.Background(), newTestEngine(0, dispatch.WithHooks(events.hooks()))); err != nil {
		t.Fatalf("Serve() error = %v", err)
	}

	want := []string{
		`{"jsonrpc":"2.0","id":1,"result":8}`,
		`{"jsonrpc":"2.0","id":"g","error":{"code":-32601,"message":"Method Not Found: 'ghost'"}}`,
		`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse Error"}}`,
	}
	got := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	if len(got) != len(want) {
		t.Fatalf("got %d lines, want %d:\n%s", len(got), len(want), out.String())
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %s, want %s", i, got[i], want[i])
		}
	}

	if d := events.waitDisconnect(t); d.code != CloseNormal || d.transport != protocol.TransportStdio {
		t.Errorf("disconnect = %+v", d)
	}
}

func TestStdio_LineLimits(t *testing.T) {
	t.Run("oversized message is answered", func(t *testing.T) {
		line := `{"jsonrpc":"2.0","method":"add","id":"` + strings.Repeat("x", 40) + `"}`
		out := &bytes.Buffer{}
		s := NewStdio(WithStdin(strings.NewReader(line+"\n")), WithStdout(out))

		if err := s.Serve(context.Background(), newTestEngine(64)); err != nil {
			t.Fatalf("Serve() error = %v", err)
		}
		if !strings.Contains(out.String(), `"code":-32001`) {
			t.Errorf("output = %s, want REQUEST_TOO_LARGE", out.String())
		}
	})

	t.Run("line over read limit ends the stream", func(t *testing.T) {
		events := newLifecycle()
		line := strings.Repeat("x", 70*1024)
		s := NewStdio(WithStdin(strings.NewReader(line+"\n")), WithStdout(&bytes.Buffer{}))

		err := s.Serve(context.Background(), newTestEngine(64, dispatch.WithHooks(events.hooks())))
		if !errors.Is(err, bufio.ErrTooLong) {
			t.Errorf("Serve() error = %v, want bufio.ErrTooLong", err)
		}
		if d := events.waitDisconnect(t); d.code != CloseError {
			t.Errorf("code = %d, want %d", d.code, CloseError)
		}
	})
}

func TestStdio_Cancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- NewStdio(WithStdin(r), WithStdout(&bytes.Buffer{})).Serve(ctx, newTestEngine(0))
	}()

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
