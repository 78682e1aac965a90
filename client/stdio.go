package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// StdioTransport talks newline-delimited JSON to a subprocess.
type StdioTransport struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr io.ReadCloser
	stream *stream

	readWG    sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewStdioTransport starts command and connects to its stdin and stdout.
func NewStdioTransport(command string, args ...string) (*StdioTransport, error) {
	return NewStdioTransportCmd(exec.Command(command, args...))
}

// NewStdioTransportCmd starts a prepared command.
func NewStdioTransportCmd(cmd *exec.Cmd) (*StdioTransport, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start command: %w", err)
	}

	t := &StdioTransport{
		cmd:    cmd,
		stdin:  stdin,
		stderr: stderr,
		stream: newStream(func(data []byte) error {
			_, err := stdin.Write(append(data, '\n'))
			return err
		}),
	}

	t.readWG.Add(1)
	go t.readResponses(stdout)
	return t, nil
}

// Send implements Transport.
func (t *StdioTransport) Send(ctx context.Context, req *protocol.Request) (*protocol.Response, error) {
	return t.stream.send(ctx, req)
}

// Notify implements Transport.
func (t *StdioTransport) Notify(_ context.Context, req *protocol.Request) error {
	return t.stream.notify(req)
}

// Close closes stdin and waits for the subprocess to exit.
func (t *StdioTransport) Close() error {
	t.closeOnce.Do(func() {
		_ = t.stdin.Close()
		t.readWG.Wait()
		t.stream.shutdown(nil)

		err := t.cmd.Wait()
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			err = nil
		}
		t.closeErr = err
	})
	return t.closeErr
}

// Stderr returns the subprocess's stderr.
func (t *StdioTransport) Stderr() io.Reader {
	return t.stderr
}

func (t *StdioTransport) readResponses(stdout io.Reader) {
	defer t.readWG.Done()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		t.stream.deliver(scanner.Bytes())
	}
	t.stream.shutdown(scanner.Err())
}
