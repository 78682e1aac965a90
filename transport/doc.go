// Package transport binds a dispatch engine to concrete wire transports.
//
// Every transport creates a protocol.Connection per peer, announces it with
// Handler.Connect, feeds each inbound frame to Handler.HandleMessage and
// reports the close code to Handler.Disconnect. Frames of one connection
// are processed serially.
//
// # WebSocket
//
// Text frames carry JSON, binary frames carry CBOR:
//
//	ws := transport.NewWebSocket(":8080",
//	    transport.WithWebSocketAllowedOrigins("https://app.example"),
//	)
//	err := ws.Serve(ctx, engine)
//
// # HTTP
//
// One message per request:
//   - POST /rpc - dispatch a message
//   - GET /rpc/describe - API description
//   - GET /health - health check
//
// Errors map to 400 (parse and invalid request), 404 (method not found),
// 413 (request too large) and 500; notifications answer 204.
//
// # Stdio and pub/sub
//
// Stdio reads newline-delimited JSON. PubSub consumes a watermill topic and
// publishes replies with the request's correlation id.
package transport
