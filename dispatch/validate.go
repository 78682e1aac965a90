package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// validate turns a classified message into a Request. The returned id is the
// one to echo in an error response.
func (e *Engine) validate(msg *protocol.Message) (*protocol.Request, json.RawMessage, *protocol.Error) {
	if msg.HasID() {
		switch protocol.TypeName(msg.ID) {
		case "string", "number", "null":
		default:
			return nil, nil, protocol.NewInvalidRequest(
				fmt.Sprintf("Field 'id' must be a string, number or null, got %s", protocol.TypeName(msg.ID)))
		}
	}
	id := msg.ID

	if !isVersion(msg.Version) {
		return nil, id, protocol.NewInvalidVersion(rawVersion(msg.Version))
	}

	if msg.Method == nil {
		return nil, id, protocol.NewInvalidRequest("Missing required field 'method'")
	}
	var method string
	if protocol.TypeName(msg.Method) != "string" || jsoncodec.Unmarshal(msg.Method, &method) != nil {
		return nil, id, protocol.NewInvalidRequest(
			fmt.Sprintf("Field 'method' must be a string, got %s", protocol.TypeName(msg.Method)))
	}

	params := msg.Params
	switch protocol.TypeName(params) {
	case "object", "array":
	case "null":
		params = nil
	default:
		return nil, id, protocol.NewInvalidParams("object or array", protocol.TypeName(params))
	}

	req := &protocol.Request{
		JSONRPC: protocol.Version,
		ID:      id,
		Method:  method,
		Params:  params,
	}
	if v := e.guard.Check(req); v != nil {
		return nil, id, v.RPCError()
	}
	return req, id, nil
}

func isVersion(raw json.RawMessage) bool {
	var v string
	if protocol.TypeName(raw) != "string" || jsoncodec.Unmarshal(raw, &v) != nil {
		return false
	}
	return v == protocol.Version
}

// rawVersion decodes the client's version value for error reporting.
func rawVersion(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	switch protocol.TypeName(raw) {
	case "number":
		return json.Number(raw)
	case "string":
		var s string
		if jsoncodec.Unmarshal(raw, &s) == nil {
			return s
		}
	case "boolean":
		return string(raw) == "true"
	case "null":
		return nil
	}
	return string(raw)
}
