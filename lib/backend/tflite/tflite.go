// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tflite binds TensorFlow Lite flatbuffer models to the model
// backend as tflite.load and tflite.run.
package tflite

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/bureau-foundation/genop/lib/backend/model"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/plugin"
)

// Identifier is the flatbuffer file identifier of TFLite models,
// stored at bytes 4 through 8.
var Identifier = []byte("TFL3")

// Framework is the TFLite framework binding.
var Framework = model.Framework{
	Name:        "tflite",
	Description: "TensorFlow Lite",
	Check:       Check,
}

// Handlers returns tflite.load and tflite.run, or nil when no plugin
// loads TFLite models.
func Handlers(plugins *plugin.Set, roots []string) []genop.Handler {
	return model.Handlers(model.Config{Framework: Framework, Plugins: plugins, Roots: roots})
}

// Check verifies the flatbuffer identifier.
func Check(source plugin.Source) error {
	header := source.Data
	if source.Path != "" {
		file, err := os.Open(source.Path)
		if err != nil {
			return err
		}
		defer file.Close()
		header = make([]byte, 8)
		if _, err := io.ReadFull(file, header); err != nil {
			return fmt.Errorf("reading header: %w", err)
		}
	}
	if len(header) < 8 || !bytes.Equal(header[4:8], Identifier) {
		return fmt.Errorf("missing %s flatbuffer identifier", Identifier)
	}
	return nil
}
