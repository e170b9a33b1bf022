// Package codec serializes persisted values as CBOR.
//
// Values written to durable storage are JSON-like trees (maps, slices,
// strings, numbers, booleans, nil) or Go structs. CBOR keeps them compact and
// round-trips them without the float coercion encoding/json applies to
// integers.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same logical value always
// produces the same bytes.
var encMode cbor.EncMode

// decMode decodes untyped maps as map[string]any so values read back through
// an any target behave like decoded JSON objects. Text is decoded as written:
// the encoder does not validate UTF-8, so the decoder must not reject it.
var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		UTF8:           cbor.UTF8DecodeInvalid,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Decode returns data decoded into an untyped value.
func Decode(data []byte) (any, error) {
	var value any
	if err := decMode.Unmarshal(data, &value); err != nil {
		return nil, err
	}
	return value, nil
}
