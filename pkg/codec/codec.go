package codec

import (
	"fmt"
	"strings"
)

// Serializer converts values to and from bytes.
type Serializer interface {
	// Name identifies the serializer in configuration, e.g. "json" or
	// "cbor+zstd".
	Name() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type cborSerializer struct{}

func (cborSerializer) Name() string                       { return "cbor" }
func (cborSerializer) Marshal(v any) ([]byte, error)      { return MarshalCBOR(v) }
func (cborSerializer) Unmarshal(data []byte, v any) error { return UnmarshalCBOR(data, v) }

var (
	// JSON is the encoding/json serializer. Binary values travel as
	// {"type":"Buffer","data":[...]} and decode back to []byte.
	JSON Serializer = jsonSerializer{}
	// CBOR is the deterministic CBOR serializer.
	CBOR Serializer = cborSerializer{}
)

// Lookup resolves a serializer by name. Names have the form
// "<encoding>[+<compression>]", for example "json", "cbor" or "cbor+zstd".
// An empty name yields JSON.
func Lookup(name string) (Serializer, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return JSON, nil
	}

	encoding, compression, _ := strings.Cut(name, "+")

	var base Serializer
	switch encoding {
	case "json":
		base = JSON
	case "cbor":
		base = CBOR
	default:
		return nil, fmt.Errorf("unknown encoding: %q", encoding)
	}

	if compression == "" {
		return base, nil
	}
	tag, err := ParseCompression(compression)
	if err != nil {
		return nil, err
	}
	return Compressed(base, tag), nil
}
