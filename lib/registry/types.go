// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/bureau-foundation/genop/lib/codec"
	"github.com/bureau-foundation/genop/lib/tensor"
)

// Type is a resource's immutable type tag.
type Type string

const (
	// TypeModel is a loaded model. The payload is a backend handle;
	// models are produced by load operations, never registered from
	// raw bytes.
	TypeModel Type = "model"

	// TypeSharedObject is an opaque byte buffer that several sessions
	// may read.
	TypeSharedObject Type = "shared-object"

	// TypeImage is an encoded image: PNG, JPEG, GIF, BMP, or WebP.
	TypeImage Type = "image"

	// TypeTensor is a dense tensor (*tensor.Tensor).
	TypeTensor Type = "tensor"

	// TypeScratch is a private working buffer. Not shareable.
	TypeScratch Type = "scratch"
)

// TypeInfo describes how the registry treats one resource type.
type TypeInfo struct {
	Type Type

	// Shareable reports whether Share may grant this type to another
	// session.
	Shareable bool

	// Validate checks that a payload has the shape this type expects.
	// Nil accepts any non-nil payload.
	Validate func(payload any) error

	// Decode builds a payload from wire bytes for direct registration.
	// Nil means the type cannot be registered from bytes.
	Decode func(raw []byte) (any, error)

	// Encode renders a payload as bytes for read-back. Nil means the
	// payload cannot leave the agent.
	Encode func(payload any) ([]byte, error)

	// Destroy releases backend state held by a payload. Called once,
	// outside any registry lock, when the last reference is released.
	// When nil, payloads implementing Close() error are closed.
	Destroy func(payload any) error

	// Size reports the payload's size in bytes for status reporting.
	// Nil reports zero.
	Size func(payload any) int64
}

// DefaultImageMaxPixels caps the declared width times height of an
// image resource when Limits leaves it unset.
const DefaultImageMaxPixels = 64 << 20

// Limits bound the payloads the built-in types accept.
type Limits struct {
	// ImageMaxPixels is the largest width*height an image header may
	// declare. Zero means DefaultImageMaxPixels.
	ImageMaxPixels int64
}

// BuiltinTypes returns the type descriptions for the five built-in
// resource types.
func BuiltinTypes(limits Limits) []TypeInfo {
	if limits.ImageMaxPixels <= 0 {
		limits.ImageMaxPixels = DefaultImageMaxPixels
	}
	images := imageChecker{maxPixels: limits.ImageMaxPixels}
	return []TypeInfo{
		{
			Type:      TypeModel,
			Shareable: true,
		},
		{
			Type:      TypeSharedObject,
			Shareable: true,
			Validate:  requireBytes,
			Decode:    copyBytes,
			Encode:    encodeBytes,
			Size:      bytesSize,
		},
		{
			Type:      TypeImage,
			Shareable: true,
			Validate:  images.validate,
			Decode:    images.decode,
			Encode:    encodeBytes,
			Size:      bytesSize,
		},
		{
			Type:      TypeTensor,
			Shareable: true,
			Validate:  validateTensor,
			Decode:    decodeTensor,
			Encode:    encodeTensor,
			Size: func(payload any) int64 {
				return int64(len(payload.(*tensor.Tensor).Data))
			},
		},
		{
			Type:      TypeScratch,
			Shareable: false,
			Validate:  requireBytes,
			Decode:    copyBytes,
			Encode:    encodeBytes,
			Size:      bytesSize,
		},
	}
}

func requireBytes(payload any) error {
	if _, ok := payload.([]byte); !ok {
		return fmt.Errorf("payload is %T, want []byte", payload)
	}
	return nil
}

func copyBytes(raw []byte) (any, error) {
	return bytes.Clone(raw), nil
}

func encodeBytes(payload any) ([]byte, error) {
	data, ok := payload.([]byte)
	if !ok {
		return nil, fmt.Errorf("payload is %T, want []byte", payload)
	}
	return data, nil
}

func bytesSize(payload any) int64 {
	data, _ := payload.([]byte)
	return int64(len(data))
}

// imageChecker accepts encoded images whose header declares at most
// maxPixels pixels. Only the header is read.
type imageChecker struct {
	maxPixels int64
}

func (c imageChecker) validate(payload any) error {
	data, ok := payload.([]byte)
	if !ok {
		return fmt.Errorf("image payload is %T, want []byte", payload)
	}
	return CheckImageHeader(data, c.maxPixels)
}

func (c imageChecker) decode(raw []byte) (any, error) {
	data := bytes.Clone(raw)
	if err := c.validate(data); err != nil {
		return nil, err
	}
	return data, nil
}

// CheckImageHeader decodes the header of an encoded image and rejects
// empty bounds or more than maxPixels pixels. maxPixels <= 0 skips the
// size check.
func CheckImageHeader(data []byte, maxPixels int64) error {
	config, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decoding image header: %w", err)
	}
	if config.Width <= 0 || config.Height <= 0 {
		return fmt.Errorf("%s image has empty bounds %dx%d", format, config.Width, config.Height)
	}
	if pixels := int64(config.Width) * int64(config.Height); maxPixels > 0 && pixels > maxPixels {
		return fmt.Errorf("%s image is %dx%d, more than the %d pixel limit", format, config.Width, config.Height, maxPixels)
	}
	return nil
}

func validateTensor(payload any) error {
	value, ok := payload.(*tensor.Tensor)
	if !ok || value == nil {
		return fmt.Errorf("tensor payload is %T, want *tensor.Tensor", payload)
	}
	return value.Validate()
}

func decodeTensor(raw []byte) (any, error) {
	var value tensor.Tensor
	if err := codec.Unmarshal(raw, &value); err != nil {
		return nil, fmt.Errorf("decoding tensor: %w", err)
	}
	return &value, nil
}

func encodeTensor(payload any) ([]byte, error) {
	value, ok := payload.(*tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("tensor payload is %T", payload)
	}
	return codec.Marshal(value)
}
