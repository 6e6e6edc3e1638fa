// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tensor defines the dense tensor payload carried by tensor
// resources: an element type, a shape, and little-endian element bytes.
package tensor

import (
	"encoding/binary"
	"fmt"
	"math"
)

// DType is the element type of a tensor.
type DType string

const (
	Float32 DType = "float32"
	Float64 DType = "float64"
	Int32   DType = "int32"
	Int64   DType = "int64"
	Uint8   DType = "uint8"
)

// Size returns the element width in bytes, or 0 for an unknown type.
func (d DType) Size() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float64, Int64:
		return 8
	case Uint8:
		return 1
	default:
		return 0
	}
}

// Tensor is a dense, row-major tensor. Data holds exactly
// Elements()*DType.Size() bytes in little-endian order.
type Tensor struct {
	DType DType   `cbor:"dtype"`
	Shape []int64 `cbor:"shape"`
	Data  []byte  `cbor:"data"`
}

// Elements returns the product of the shape's dimensions. A rank-0
// tensor (empty shape) is a scalar with one element. The result is
// only meaningful for a tensor that passes Validate.
func (t *Tensor) Elements() int64 {
	count := int64(1)
	for _, dimension := range t.Shape {
		count *= dimension
	}
	return count
}

// byteLength returns Elements()*width, or false when the product does
// not fit in an int64.
func (t *Tensor) byteLength(width int64) (int64, bool) {
	for _, dimension := range t.Shape {
		if dimension == 0 {
			return 0, true
		}
	}
	total := width
	for _, dimension := range t.Shape {
		if total > math.MaxInt64/dimension {
			return 0, false
		}
		total *= dimension
	}
	return total, true
}

// Validate checks that the element type is known, every dimension is
// non-negative, the shape's byte length fits in an int64, and the data
// length matches the shape.
func (t *Tensor) Validate() error {
	size := t.DType.Size()
	if size == 0 {
		return fmt.Errorf("unknown dtype %q", t.DType)
	}
	for index, dimension := range t.Shape {
		if dimension < 0 {
			return fmt.Errorf("dimension %d is negative (%d)", index, dimension)
		}
	}
	want, ok := t.byteLength(int64(size))
	if !ok {
		return fmt.Errorf("shape %v of %s overflows the addressable size", t.Shape, t.DType)
	}
	if int64(len(t.Data)) != want {
		return fmt.Errorf("data is %d bytes, shape %v of %s needs %d", len(t.Data), t.Shape, t.DType, want)
	}
	return nil
}

// ContentType returns the blob content hint for this tensor's data.
// Blob transfer uses it to pick byte-grouped compression for floats.
func (t *Tensor) ContentType() string {
	return "tensor/" + string(t.DType)
}

// FromFloat32 builds a float32 tensor. The caller guarantees
// len(values) matches the shape; Validate reports a mismatch.
func FromFloat32(shape []int64, values []float32) *Tensor {
	data := make([]byte, len(values)*4)
	for index, value := range values {
		binary.LittleEndian.PutUint32(data[index*4:], math.Float32bits(value))
	}
	return &Tensor{DType: Float32, Shape: append([]int64(nil), shape...), Data: data}
}

// Float32s decodes the data of a float32 tensor.
func (t *Tensor) Float32s() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor is %s, not float32", t.DType)
	}
	if len(t.Data)%4 != 0 {
		return nil, fmt.Errorf("float32 data length %d is not a multiple of 4", len(t.Data))
	}
	values := make([]float32, len(t.Data)/4)
	for index := range values {
		values[index] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[index*4:]))
	}
	return values, nil
}

// SameShape reports whether two tensors have identical shapes.
func SameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for index := range a.Shape {
		if a.Shape[index] != b.Shape[index] {
			return false
		}
	}
	return true
}
