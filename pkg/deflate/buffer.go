package deflate

import (
	"encoding/binary"
	"math"
	"reflect"
)

// AsBuffer reports whether v is binary data larger than embedLimit bytes
// and returns its bytes. Qualifying values are:
//
//   - []byte
//   - slices of fixed-width numbers ([]uint16, []float32, ...), encoded
//     little endian as binary views
//   - {"type": "Buffer", "data": [n, ...]} maps, the JSON form of a Node
//     buffer
//   - []any holding only numbers
//
// A negative embedLimit accepts any non-empty buffer.
func AsBuffer(v any, embedLimit int) ([]byte, bool) {
	switch t := v.(type) {
	case nil:
		return nil, false
	case []byte:
		return t, len(t) > 0 && len(t) > embedLimit
	case map[string]any:
		if t["type"] != "Buffer" {
			return nil, false
		}
		data, ok := t["data"].([]any)
		if !ok {
			return nil, false
		}
		return numericBytes(data, embedLimit)
	case []any:
		return numericBytes(t, embedLimit)
	}
	return viewBytes(v, embedLimit)
}

// numericBytes converts an all-number slice longer than embedLimit to
// bytes, truncating each value to its low byte.
func numericBytes(data []any, embedLimit int) ([]byte, bool) {
	if len(data) == 0 || len(data) <= embedLimit {
		return nil, false
	}
	out := make([]byte, len(data))
	for i, e := range data {
		n, ok := toInt(e)
		if !ok {
			return nil, false
		}
		out[i] = byte(n)
	}
	return out, true
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		return int64(n), true
	case float32:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

// viewBytes encodes slices of fixed-width numbers.
func viewBytes(v any, embedLimit int) ([]byte, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return nil, false
	}

	elem := rv.Type().Elem()
	var width int
	switch elem.Kind() {
	case reflect.Int8, reflect.Uint8:
		width = 1
	case reflect.Int16, reflect.Uint16:
		width = 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		width = 4
	case reflect.Int64, reflect.Uint64, reflect.Float64:
		width = 8
	default:
		return nil, false
	}

	size := rv.Len() * width
	if size <= embedLimit {
		return nil, false
	}

	out := make([]byte, size)
	for i := 0; i < rv.Len(); i++ {
		e := rv.Index(i)
		b := out[i*width : (i+1)*width]
		switch elem.Kind() {
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			putUint(b, uint64(e.Int()))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			putUint(b, e.Uint())
		case reflect.Float32:
			binary.LittleEndian.PutUint32(b, math.Float32bits(float32(e.Float())))
		case reflect.Float64:
			binary.LittleEndian.PutUint64(b, math.Float64bits(e.Float()))
		}
	}
	return out, true
}

func putUint(b []byte, v uint64) {
	switch len(b) {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(b, v)
	}
}
