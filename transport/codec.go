package transport

import (
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"

	"github.com/felixgeelhaar/rpcdispatch/internal/jsoncodec"
)

// Codec converts between a transport's frame format and the JSON texts the
// engine consumes and produces.
type Codec interface {
	Name() string
	ToJSON(frame []byte) ([]byte, error)
	FromJSON(data []byte) ([]byte, error)
}

// JSONCodec passes frames through unchanged.
type JSONCodec struct{}

func (JSONCodec) Name() string                         { return "json" }
func (JSONCodec) ToJSON(frame []byte) ([]byte, error)  { return frame, nil }
func (JSONCodec) FromJSON(data []byte) ([]byte, error) { return data, nil }

// CBORCodec carries envelopes as CBOR maps. Inbound maps must have text
// keys; byte strings become base64 JSON strings.
type CBORCodec struct {
	dec cbor.DecMode
	enc cbor.EncMode
}

// NewCBORCodec creates a CBOR codec.
func NewCBORCodec() (*CBORCodec, error) {
	dec, err := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		return nil, fmt.Errorf("cbor decode mode: %w", err)
	}
	enc, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		return nil, fmt.Errorf("cbor encode mode: %w", err)
	}
	return &CBORCodec{dec: dec, enc: enc}, nil
}

func (c *CBORCodec) Name() string { return "cbor" }

// ToJSON decodes a CBOR item and re-encodes it as JSON.
func (c *CBORCodec) ToJSON(frame []byte) ([]byte, error) {
	var v any
	if err := c.dec.Unmarshal(frame, &v); err != nil {
		return nil, fmt.Errorf("decode cbor frame: %w", err)
	}
	data, err := jsoncodec.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("convert cbor frame: %w", err)
	}
	return data, nil
}

// FromJSON encodes a JSON text as CBOR. Integral numbers become CBOR
// integers, everything else keeps its JSON type.
func (c *CBORCodec) FromJSON(data []byte) ([]byte, error) {
	var v any
	if err := jsoncodec.UnmarshalNumber(data, &v); err != nil {
		return nil, fmt.Errorf("decode json reply: %w", err)
	}
	return c.enc.Marshal(numbers(v))
}

func numbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		for k, e := range t {
			t[k] = numbers(e)
		}
		return t
	case []any:
		for i, e := range t {
			t[i] = numbers(e)
		}
		return t
	default:
		return v
	}
}
