package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"
)

// DefaultMethodTimeout applies to methods registered without a timeout.
const DefaultMethodTimeout = 300 * time.Second

// TimeoutError is returned when a method outlives its deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("dispatch: method timed out after %s", e.Timeout)
}

// PanicError is returned when a method panics.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("dispatch: method panicked: %v", e.Value)
}

// RunWithDeadline runs fn and waits at most timeout for it. A timeout <= 0
// runs fn inline without a deadline.
//
// On expiry the supervisor returns a *TimeoutError immediately. fn keeps
// running until it observes its cancelled context; its result is discarded.
func RunWithDeadline(ctx context.Context, fn func(ctx context.Context) (any, error), timeout time.Duration) (any, error) {
	if timeout <= 0 {
		return runSafely(ctx, fn)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		value any
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := runSafely(ctx, fn)
		done <- result{value: v, err: err}
	}()

	select {
	case r := <-done:
		return r.value, r.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{Timeout: timeout}
		}
		return nil, ctx.Err()
	}
}

func runSafely(ctx context.Context, fn func(ctx context.Context) (any, error)) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			v, err = nil, &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return fn(ctx)
}
