// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package imageclass

import (
	"fmt"
	"sync"

	"github.com/bureau-foundation/genop/lib/codec"
	"github.com/bureau-foundation/genop/lib/tensor"
)

// Classifier is a single dense layer over a resized image: logits =
// Weights · pixels + Bias, followed by softmax. It is the payload of
// the model resource produced by image.load_classifier.
type Classifier struct {
	Labels []string `cbor:"labels"`

	// Width, Height, and Channels give the input geometry images are
	// resized to. Channels is 1 (luminance) or 3 (RGB).
	Width    int `cbor:"width"`
	Height   int `cbor:"height"`
	Channels int `cbor:"channels"`

	// Weights is row-major [len(Labels), Width*Height*Channels].
	Weights []float32 `cbor:"weights"`
	Bias    []float32 `cbor:"bias"`

	once    sync.Once
	weights *tensor.Tensor
	bias    *tensor.Tensor
}

// DecodeClassifier parses and validates a CBOR-encoded classifier.
func DecodeClassifier(data []byte) (*Classifier, error) {
	var classifier Classifier
	if err := codec.Unmarshal(data, &classifier); err != nil {
		return nil, fmt.Errorf("decoding classifier: %w", err)
	}
	if err := classifier.Validate(); err != nil {
		return nil, err
	}
	return &classifier, nil
}

// Features returns the number of input values per image.
func (c *Classifier) Features() int {
	return c.Width * c.Height * c.Channels
}

// Validate checks the classifier's geometry against its parameters.
func (c *Classifier) Validate() error {
	if len(c.Labels) == 0 {
		return fmt.Errorf("classifier has no labels")
	}
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("classifier input size %dx%d is empty", c.Width, c.Height)
	}
	if c.Channels != 1 && c.Channels != 3 {
		return fmt.Errorf("classifier has %d channels, want 1 or 3", c.Channels)
	}
	if want := len(c.Labels) * c.Features(); len(c.Weights) != want {
		return fmt.Errorf("classifier has %d weights, want %d", len(c.Weights), want)
	}
	if len(c.Bias) != len(c.Labels) {
		return fmt.Errorf("classifier has %d biases for %d labels", len(c.Bias), len(c.Labels))
	}
	return nil
}

// parameters returns the weights and bias as tensors, built once.
func (c *Classifier) parameters() (*tensor.Tensor, *tensor.Tensor) {
	c.once.Do(func() {
		c.weights = tensor.FromFloat32([]int64{int64(len(c.Labels)), int64(c.Features())}, c.Weights)
		c.bias = tensor.FromFloat32([]int64{int64(len(c.Labels))}, c.Bias)
	})
	return c.weights, c.bias
}
