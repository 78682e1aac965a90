package limits

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/buger/jsonparser"

	"github.com/felixgeelhaar/rpcdispatch/protocol"
)

// Violation kinds.
const (
	KindMessageSize      = "message_size"
	KindMethodNameLength = "method_name_length"
	KindRequestIDLength  = "request_id_length"
	KindNestingDepth     = "nesting_depth"
	KindStringLength     = "string_length"
	KindArrayLength      = "array_length"
)

// Violation describes the first threshold a message exceeded.
type Violation struct {
	Kind  string
	Limit int
}

// Error implements the error interface.
func (v *Violation) Error() string {
	return fmt.Sprintf("limits: %s exceeds limit of %d", v.Kind, v.Limit)
}

// RPCError converts the violation into a REQUEST_TOO_LARGE protocol error.
func (v *Violation) RPCError() *protocol.Error {
	return protocol.NewRequestTooLarge(v.Kind, v.Limit)
}

var errStop = errors.New("limits: stop")

// Guard checks messages against a Config. It holds no mutable state and is
// safe for concurrent use.
type Guard struct {
	cfg Config
}

// NewGuard creates a guard. Zero thresholds take their defaults.
func NewGuard(cfg Config) *Guard {
	return &Guard{cfg: cfg.WithDefaults()}
}

// Config returns the effective thresholds.
func (g *Guard) Config() Config {
	return g.cfg
}

// CheckMessageSize validates the raw byte size of a frame. Transports call it
// before any parsing.
func (g *Guard) CheckMessageSize(size int) *Violation {
	if size > g.cfg.MaxMessageSizeBytes {
		return &Violation{Kind: KindMessageSize, Limit: g.cfg.MaxMessageSizeBytes}
	}
	return nil
}

// Check validates the method name, the id and then walks params depth first.
// It stops at the first violation.
func (g *Guard) Check(req *protocol.Request) *Violation {
	if utf8.RuneCountInString(req.Method) > g.cfg.MaxMethodNameLength {
		return &Violation{Kind: KindMethodNameLength, Limit: g.cfg.MaxMethodNameLength}
	}
	if len(req.ID) > 0 && idLength(req.ID) > g.cfg.MaxRequestIDLength {
		return &Violation{Kind: KindRequestIDLength, Limit: g.cfg.MaxRequestIDLength}
	}
	if len(req.Params) == 0 {
		return nil
	}
	return g.CheckValue(req.Params)
}

// CheckValue walks a raw JSON value starting at depth zero.
func (g *Guard) CheckValue(raw json.RawMessage) *Violation {
	value, dataType, _, err := jsonparser.Get(raw)
	if err != nil {
		return nil
	}
	return g.walk(value, dataType, 0)
}

func (g *Guard) walk(value []byte, dataType jsonparser.ValueType, depth int) *Violation {
	if depth > g.cfg.MaxNestingDepth {
		return &Violation{Kind: KindNestingDepth, Limit: g.cfg.MaxNestingDepth}
	}

	switch dataType {
	case jsonparser.String:
		if stringLength(value) > g.cfg.MaxStringLength {
			return &Violation{Kind: KindStringLength, Limit: g.cfg.MaxStringLength}
		}
	case jsonparser.Array:
		return g.walkArray(value, depth)
	case jsonparser.Object:
		return g.walkObject(value, depth)
	}
	return nil
}

func (g *Guard) walkArray(value []byte, depth int) *Violation {
	count := 0
	_, _ = jsonparser.ArrayEach(value, func(_ []byte, _ jsonparser.ValueType, _ int, _ error) {
		count++
	})
	if count > g.cfg.MaxArrayLength {
		return &Violation{Kind: KindArrayLength, Limit: g.cfg.MaxArrayLength}
	}

	var found *Violation
	_, _ = jsonparser.ArrayEach(value, func(item []byte, itemType jsonparser.ValueType, _ int, _ error) {
		if found != nil {
			return
		}
		found = g.walk(item, itemType, depth+1)
	})
	return found
}

func (g *Guard) walkObject(value []byte, depth int) *Violation {
	var found *Violation
	_ = jsonparser.ObjectEach(value, func(key []byte, item []byte, itemType jsonparser.ValueType, _ int) error {
		if found = g.walk(key, jsonparser.String, depth+1); found != nil {
			return errStop
		}
		if found = g.walk(item, itemType, depth+1); found != nil {
			return errStop
		}
		return nil
	})
	return found
}

// stringLength counts the runes of an escaped JSON string body.
func stringLength(escaped []byte) int {
	s, err := jsonparser.ParseString(escaped)
	if err != nil {
		return utf8.RuneCount(escaped)
	}
	return utf8.RuneCountInString(s)
}

func idLength(raw json.RawMessage) int {
	value, dataType, _, err := jsonparser.Get(raw)
	if err != nil {
		return len(raw)
	}
	if dataType == jsonparser.String {
		return stringLength(value)
	}
	return len(value)
}
