package dispatch

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRunWithDeadline(t *testing.T) {
	sleep := func(d time.Duration) func(context.Context) (any, error) {
		return func(ctx context.Context) (any, error) {
			select {
			case <-time.After(d):
				return "done", nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}

	tests := []struct {
		name        string
		fn          func(context.Context) (any, error)
		timeout     time.Duration
		want        any
		wantTimeout bool
	}{
		{"completes in time", sleep(10 * time.Millisecond), time.Second, "done", false},
		{"expires", sleep(500 * time.Millisecond), 50 * time.Millisecond, nil, true},
		{"zero disables", sleep(60 * time.Millisecond), 0, "done", false},
		{"negative disables", sleep(60 * time.Millisecond), -time.Second, "done", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := RunWithDeadline(context.Background(), tt.fn, tt.timeout)
			if tt.wantTimeout {
				var timeoutErr *TimeoutError
				if !errors.As(err, &timeoutErr) {
					t.Fatalf("err = %v, want *TimeoutError", err)
				}
				if timeoutErr.Timeout != tt.timeout {
					t.Errorf("Timeout = %v, want %v", timeoutErr.Timeout, tt.timeout)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRunWithDeadline_DoesNotWaitForAbandonedWork(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := RunWithDeadline(context.Background(), func(context.Context) (any, error) {
		<-release
		return nil, nil
	}, 20*time.Millisecond)

	var timeoutErr *TimeoutError
	if !errors.As(err, &timeoutErr) {
		t.Fatalf("err = %v, want *TimeoutError", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("supervisor waited %v for work that ignores its context", elapsed)
	}
}

func TestRunWithDeadline_RecoversPanics(t *testing.T) {
	for _, timeout := range []time.Duration{0, time.Second} {
		_, err := RunWithDeadline(context.Background(), func(context.Context) (any, error) {
			panic("boom")
		}, timeout)

		var panicErr *PanicError
		if !errors.As(err, &panicErr) {
			t.Fatalf("timeout %v: err = %v, want *PanicError", timeout, err)
		}
		if panicErr.Value != "boom" || len(panicErr.Stack) == 0 {
			t.Errorf("timeout %v: PanicError = %+v", timeout, panicErr)
		}
	}
}

func TestRunWithDeadline_ParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := RunWithDeadline(ctx, func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
