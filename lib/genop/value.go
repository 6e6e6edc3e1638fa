// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package genop

import (
	"fmt"

	"github.com/bureau-foundation/genop/lib/ref"
)

// ValueKind is the type of an argument or output value.
type ValueKind string

const (
	KindInt    ValueKind = "int"
	KindFloat  ValueKind = "float"
	KindString ValueKind = "string"
	KindBytes  ValueKind = "bytes"
	KindBool   ValueKind = "bool"
	KindInts   ValueKind = "ints"
	KindFloats ValueKind = "floats"

	// KindBlob is a reference to a blob staged through blob upload.
	// The dispatcher replaces it with the blob's bytes before the
	// handler runs, so it only ever appears in requests.
	KindBlob ValueKind = "blob"
)

func (k ValueKind) known() bool {
	switch k {
	case KindInt, KindFloat, KindString, KindBytes, KindBool, KindInts, KindFloats, KindBlob:
		return true
	default:
		return false
	}
}

// accepts reports whether a value of kind got may fill a slot
// declared as k. Bytes slots take staged blobs, and float slots take
// integers.
func (k ValueKind) accepts(got ValueKind) bool {
	switch {
	case got == k:
		return true
	case k == KindBytes && got == KindBlob:
		return true
	case k == KindFloat && got == KindInt:
		return true
	default:
		return false
	}
}

// Value is one typed argument or output. Only the field matching
// Kind is meaningful.
type Value struct {
	Kind   ValueKind `cbor:"kind"`
	Int    int64     `cbor:"int,omitempty"`
	Float  float64   `cbor:"float,omitempty"`
	Text   string    `cbor:"text,omitempty"`
	Bytes  []byte    `cbor:"bytes,omitempty"`
	Bool   bool      `cbor:"bool,omitempty"`
	Ints   []int64   `cbor:"ints,omitempty"`
	Floats []float64 `cbor:"floats,omitempty"`
	Blob   *ref.Blob `cbor:"blob,omitempty"`
}

// Constructors, one per value kind.
func Int(v int64) Value { return Value{Kind: KindInt, Int: v} }
func Float(v float64) Value { return Value{Kind: KindFloat, Float: v} }
func String(v string) Value { return Value{Kind: KindString, Text: v} }
func Bytes(v []byte) Value { return Value{Kind: KindBytes, Bytes: v} }
func Bool(v bool) Value { return Value{Kind: KindBool, Bool: v} }
func Ints(v ...int64) Value { return Value{Kind: KindInts, Ints: v} }
func Floats(v ...float64) Value { return Value{Kind: KindFloats, Floats: v} }
func BlobRef(id ref.Blob) Value { return Value{Kind: KindBlob, Blob: &id} }

// IsZero reports whether the value is absent (an omitted optional
// argument).
func (v Value) IsZero() bool { return v.Kind == "" }

// AsFloat returns a float or int value as float64.
func (v Value) AsFloat() float64 {
	if v.Kind == KindInt {
		return float64(v.Int)
	}
	return v.Float
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt:
		return fmt.Sprintf("int(%d)", v.Int)
	case KindFloat:
		return fmt.Sprintf("float(%g)", v.Float)
	case KindString:
		return fmt.Sprintf("string(%q)", v.Text)
	case KindBytes:
		return fmt.Sprintf("bytes(%d)", len(v.Bytes))
	case KindBool:
		return fmt.Sprintf("bool(%t)", v.Bool)
	case KindInts:
		return fmt.Sprintf("ints(%d)", len(v.Ints))
	case KindFloats:
		return fmt.Sprintf("floats(%d)", len(v.Floats))
	case KindBlob:
		if v.Blob == nil {
			return "blob(<nil>)"
		}
		return "blob(" + v.Blob.String() + ")"
	case "":
		return "absent"
	default:
		return string(v.Kind)
	}
}
