package codec

import (
	"bytes"
	"encoding/json"
	"math"
)

// bufferType tags the JSON form of a binary value.
const bufferType = "Buffer"

type jsonSerializer struct{}

func (jsonSerializer) Name() string { return "json" }

// Marshal goes through the CBOR data model first so []byte leaves nested
// in any-typed fields are still recognizable, then writes them in their
// Buffer form. Values CBOR cannot represent fall back to plain JSON.
func (jsonSerializer) Marshal(v any) ([]byte, error) {
	data, err := treeEncMode.Marshal(v)
	if err != nil {
		return json.Marshal(v)
	}
	var tree any
	if err := UnmarshalCBOR(data, &tree); err != nil {
		return json.Marshal(v)
	}
	return json.Marshal(toBufferForm(tree))
}

// Unmarshal reverses Marshal: Buffer objects become []byte again before
// the tree is decoded into v.
func (jsonSerializer) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var tree any
	if err := dec.Decode(&tree); err != nil {
		return err
	}
	if !hasBuffers(tree) {
		return json.Unmarshal(data, v)
	}

	bin, err := treeEncMode.Marshal(fromBufferForm(tree))
	if err != nil {
		return err
	}
	return treeDecMode.Unmarshal(bin, v)
}

func toBufferForm(v any) any {
	switch t := v.(type) {
	case []byte:
		data := make([]int, len(t))
		for i, b := range t {
			data[i] = int(b)
		}
		return map[string]any{"type": bufferType, "data": data}
	case []any:
		for i, e := range t {
			t[i] = toBufferForm(e)
		}
	case map[string]any:
		for k, e := range t {
			t[k] = toBufferForm(e)
		}
	}
	return v
}

func hasBuffers(v any) bool {
	switch t := v.(type) {
	case []any:
		for _, e := range t {
			if hasBuffers(e) {
				return true
			}
		}
	case map[string]any:
		if _, ok := bufferBytes(t); ok {
			return true
		}
		for _, e := range t {
			if hasBuffers(e) {
				return true
			}
		}
	}
	return false
}

func fromBufferForm(v any) any {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n
		}
		f, _ := t.Float64()
		return f
	case []any:
		for i, e := range t {
			t[i] = fromBufferForm(e)
		}
	case map[string]any:
		if b, ok := bufferBytes(t); ok {
			return b
		}
		for k, e := range t {
			t[k] = fromBufferForm(e)
		}
	}
	return v
}

// bufferBytes decodes {"type":"Buffer","data":[0..255, ...]}. Any other
// shape, extra keys included, is an ordinary object.
func bufferBytes(m map[string]any) ([]byte, bool) {
	if len(m) != 2 || m["type"] != bufferType {
		return nil, false
	}
	data, ok := m["data"].([]any)
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	for i, e := range data {
		n, ok := e.(json.Number)
		if !ok {
			return nil, false
		}
		b, err := n.Int64()
		if err != nil || b < 0 || b > math.MaxUint8 {
			return nil, false
		}
		out[i] = byte(b)
	}
	return out, true
}
