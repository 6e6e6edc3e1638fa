// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tf binds TensorFlow models to the model backend as tf.load
// and tf.run. A model is either a SavedModel directory (by path) or a
// serialized GraphDef (by bytes or path).
package tf

import (
	"fmt"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/bureau-foundation/genop/lib/backend/model"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/plugin"
)

// Framework is the TensorFlow framework binding.
var Framework = model.Framework{
	Name:        "tf",
	Description: "TensorFlow",
	Check:       Check,
}

// Handlers returns tf.load and tf.run, or nil when no plugin loads
// TensorFlow models.
func Handlers(plugins *plugin.Set, roots []string) []genop.Handler {
	return model.Handlers(model.Config{Framework: Framework, Plugins: plugins, Roots: roots})
}

// SavedModel file names, binary and text.
var savedModelFiles = []string{"saved_model.pb", "saved_model.pbtxt"}

// Check accepts a SavedModel directory or a GraphDef.
func Check(source plugin.Source) error {
	if source.Path == "" {
		return CheckGraphDef(source.Data)
	}
	stat, err := os.Stat(source.Path)
	if err != nil {
		return err
	}
	if !stat.IsDir() {
		data, err := os.ReadFile(source.Path)
		if err != nil {
			return err
		}
		return CheckGraphDef(data)
	}
	for _, name := range savedModelFiles {
		if _, err := os.Stat(filepath.Join(source.Path, name)); err == nil {
			return nil
		}
	}
	return fmt.Errorf("directory %s holds no saved_model.pb", source.Path)
}

// GraphDef and NodeDef field numbers.
const (
	graphNode protowire.Number = 1
	nodeName  protowire.Number = 1
	nodeOp    protowire.Number = 2
)

// CheckGraphDef verifies that data is a well-formed GraphDef message
// with at least one node, each carrying a name and an op.
func CheckGraphDef(data []byte) error {
	nodes := 0
	err := walk(data, func(number protowire.Number, kind protowire.Type, value []byte) error {
		if number != graphNode {
			return nil
		}
		if kind != protowire.BytesType {
			return fmt.Errorf("node field has wire type %d", kind)
		}
		nodes++
		return checkNode(nodes, value)
	})
	if err != nil {
		return err
	}
	if nodes == 0 {
		return fmt.Errorf("graph has no nodes")
	}
	return nil
}

func checkNode(index int, data []byte) error {
	var name, op string
	err := walk(data, func(number protowire.Number, kind protowire.Type, value []byte) error {
		if kind != protowire.BytesType {
			return nil
		}
		switch number {
		case nodeName:
			name = string(value)
		case nodeOp:
			op = string(value)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("node %d: %w", index, err)
	}
	if name == "" || op == "" {
		return fmt.Errorf("node %d has no name or op", index)
	}
	return nil
}

// walk calls visit for each top-level field of a protobuf message.
// value is the payload of length-delimited fields and nil otherwise.
func walk(data []byte, visit func(protowire.Number, protowire.Type, []byte) error) error {
	for len(data) > 0 {
		number, kind, length := protowire.ConsumeTag(data)
		if length < 0 {
			return protowire.ParseError(length)
		}
		data = data[length:]

		var value []byte
		if kind == protowire.BytesType {
			payload, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return protowire.ParseError(n)
			}
			value, length = payload, n
		} else {
			length = protowire.ConsumeFieldValue(number, kind, data)
			if length < 0 {
				return protowire.ParseError(length)
			}
		}
		data = data[length:]
		if err := visit(number, kind, value); err != nil {
			return err
		}
	}
	return nil
}
