package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode

	// treeEncMode and treeDecMode treat TextMarshaler values as text, the
	// way encoding/json does, for the JSON serializer's intermediate tree.
	treeEncMode cbor.EncMode
	treeDecMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	treeEncMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR tree encoder initialization failed: " + err.Error())
	}

	// any-typed targets decode maps as map[string]any so decoded payloads
	// look the same as their JSON counterparts.
	decOptions := cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}
	decMode, err = decOptions.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}

	decOptions.TextUnmarshaler = cbor.TextUnmarshalerTextString
	treeDecMode, err = decOptions.DecMode()
	if err != nil {
		panic("codec: CBOR tree decoder initialization failed: " + err.Error())
	}
}

// MarshalCBOR encodes v using Core Deterministic Encoding.
func MarshalCBOR(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// UnmarshalCBOR decodes CBOR data into v.
func UnmarshalCBOR(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
