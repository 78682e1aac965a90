package rpcdispatch_test

import (
	"context"
	"testing"

	"github.com/felixgeelhaar/rpcdispatch"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

func BenchmarkHandleMessage(b *testing.B) {
	benchmarks := []struct {
		name  string
		frame string
	}{
		{"named params", `{"jsonrpc":"2.0","method":"add","params":{"a":2,"b":3},"id":1}`},
		{"positional params", `{"jsonrpc":"2.0","method":"add","params":[2,3],"id":1}`},
		{"method not found", `{"jsonrpc":"2.0","method":"ghost","id":1}`},
		{"parse error", `{"jsonrpc":`},
	}

	for _, bm := range benchmarks {
		b.Run(bm.name, func(b *testing.B) {
			engine := rpcdispatch.NewEngine(newScope(), rpcdispatch.WithReplayCooldown(0))
			conn := protocol.NewConnection("bench", protocol.TransportMemory, nil)
			frame := []byte(bm.frame)
			ctx := context.Background()

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				out := engine.HandleMessage(ctx, conn, frame)
				if out.Response == nil {
					b.Fatal("no response")
				}
				if _, err := engine.EncodeResponse(out.Response); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

func BenchmarkHandleMessage_Middleware(b *testing.B) {
	engine := rpcdispatch.NewEngine(newScope(),
		rpcdispatch.WithReplayCooldown(0),
		rpcdispatch.WithMiddleware(
			rpcdispatch.Logging(rpcdispatch.NopLogger{}),
			rpcdispatch.PrivateMethods("_"),
		),
	)
	conn := protocol.NewConnection("bench", protocol.TransportMemory, nil)
	frame := []byte(`{"jsonrpc":"2.0","method":"add","params":{"a":2,"b":3},"id":1}`)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		engine.HandleMessage(ctx, conn, frame)
	}
}
