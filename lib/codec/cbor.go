// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// maxArrayElements bounds decoded arrays. The library default (128Ki)
// is too small for float argument vectors; tensors travel as byte
// strings and are not affected.
const maxArrayElements = 16 << 20

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.TextMarshaler = cbor.TextMarshalerTextString
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Decoding into any must yield map[string]any, not
		// map[any]any: no wire type uses non-string keys.
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		TextUnmarshaler:  cbor.TextUnmarshalerTextString,
		MaxArrayElements: maxArrayElements,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder is a CBOR stream encoder.
type Encoder = cbor.Encoder

// Decoder is a CBOR stream decoder.
type Decoder = cbor.Decoder

// RawMessage is an encoded CBOR value whose decoding is deferred.
type RawMessage = cbor.RawMessage

// NewEncoder returns an encoder writing deterministic CBOR to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a decoder reading CBOR values from r. CBOR is
// self-delimiting, so successive Decode calls read successive values
// from one stream without extra framing.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
