package main

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/rpcdispatch"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// calculator is the demo service served by rpcdispatchd.
type calculator struct{}

type operands struct {
	A float64 `json:"a" jsonschema:"required"`
	B float64 `json:"b" jsonschema:"required"`
}

type sleepParams struct {
	Seconds float64 `json:"seconds" jsonschema:"required,minimum=0"`
}

type logParams struct {
	Level   string `json:"level"`
	Message string `json:"message" jsonschema:"required"`
}

var errDivisionByZero = errors.New("division by zero")

// registerCalculator registers the demo methods on a fresh scope.
func registerCalculator(logger rpcdispatch.Logger) *rpcdispatch.Scope {
	scope := rpcdispatch.ScopeOf[calculator](rpcdispatch.NewRegistry())

	scope.Method("add").
		Description("Add two numbers").
		MustHandler(func(p operands) (float64, error) { return p.A + p.B, nil })

	scope.Method("subtract").
		Description("Subtract b from a").
		MustHandler(func(p operands) (float64, error) { return p.A - p.B, nil })

	scope.Method("divide").
		Description("Divide a by b").
		ValidateParams().
		MustHandler(func(p operands) (float64, error) {
			if p.B == 0 {
				return 0, errDivisionByZero
			}
			return p.A / p.B, nil
		})

	scope.Method("sleep").
		Description("Sleep for the given number of seconds; times out after 5s").
		Timeout(5 * time.Second).
		MustHandler(func(ctx context.Context, p sleepParams) (string, error) {
			select {
			case <-time.After(time.Duration(p.Seconds * float64(time.Second))):
				return "awake", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		})

	scope.Method("whoami").
		Description("Describe the calling connection").
		MustHandler(func(ec *protocol.ExecutionContext) (map[string]any, error) {
			conn := ec.Connection()
			return map[string]any{
				"connection": conn.ID(),
				"transport":  conn.Transport(),
				"trace_id":   ec.TraceID(),
				"since":      conn.ConnectedAt().UTC().Format(time.RFC3339),
			}, nil
		})

	scope.Method("_config").
		Description("Hidden from clients by the private method policy").
		DisableTransport(protocol.TransportHTTP).
		MustHandler(func() (string, error) { return "internal", nil })

	scope.Notification("log").
		Description("Write a client message to the server log").
		MustHandler(func(ec *protocol.ExecutionContext, p logParams) error {
			fields := []rpcdispatch.Field{
				rpcdispatch.F("connection", ec.Connection().ID()),
				rpcdispatch.F("message", p.Message),
			}
			switch p.Level {
			case "error":
				logger.Error("client log", fields...)
			case "warn":
				logger.Warn("client log", fields...)
			default:
				logger.Info("client log", fields...)
			}
			return nil
		})

	return scope
}
