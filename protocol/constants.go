package protocol

// Version is the only accepted value of the "jsonrpc" member.
const Version = "2.0"

// ContentType is the media type of encoded envelopes.
const ContentType = "application/json"

// Transport names used for method availability flags and connection metadata.
const (
	TransportWebSocket = "websocket"
	TransportHTTP      = "http"
	TransportStdio     = "stdio"
	TransportPubSub    = "pubsub"
	TransportMemory    = "memory"
)
