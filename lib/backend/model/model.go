// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package model provides the load/run handler pair shared by the
// framework backends (tf, tflite, torch).
//
// <framework>.load turns serialized model bytes, or a path under one
// of the configured model roots, into a model resource whose payload
// is a [*Loaded]. <framework>.run executes a loaded model over one or
// more tensor resources and produces one tensor resource per model
// output. Loading and execution are delegated to the first plugin
// that reports support for the framework.
package model

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/plugin"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/tensor"
)

// Framework describes one ML framework binding.
type Framework struct {
	// Name is the framework identifier plugins report ("tf") and the
	// prefix of its operation kinds.
	Name string

	// Description names the framework for signatures.
	Description string

	// Check rejects sources that are not in the framework's model
	// format. Exactly one of source.Data and source.Path is set; Path
	// is absolute and already confined to a model root.
	Check func(source plugin.Source) error
}

// LoadKind returns the framework's load operation kind.
func (f Framework) LoadKind() genop.OperationKind {
	return genop.OperationKind(f.Name + ".load")
}

// RunKind returns the framework's run operation kind.
func (f Framework) RunKind() genop.OperationKind {
	return genop.OperationKind(f.Name + ".run")
}

// Loaded is the payload of a framework model resource.
type Loaded struct {
	Framework string
	Plugin    string
	Model     plugin.Model
}

// Close releases the plugin-side model. The registry calls it when
// the last reference is released.
func (l *Loaded) Close() error {
	return l.Model.Close()
}

// Config configures a framework backend.
type Config struct {
	Framework Framework
	Plugins   *plugin.Set

	// Roots are the directories path-based loads may read from. With
	// no roots, loading by path is refused.
	Roots []string
}

type backend struct {
	framework Framework
	plugin    plugin.Plugin
	roots     []string
}

// Handlers returns the load and run handlers for config.Framework, or
// nil when no plugin in config.Plugins supports it.
func Handlers(config Config) []genop.Handler {
	implementation, ok := config.Plugins.ForFramework(config.Framework.Name)
	if !ok {
		return nil
	}
	b := &backend{framework: config.Framework, plugin: implementation}
	for _, root := range config.Roots {
		if absolute, err := filepath.Abs(root); err == nil {
			b.roots = append(b.roots, filepath.Clean(absolute))
		}
	}

	name := config.Framework.Description
	return []genop.Handler{
		genop.Func(genop.Signature{
			Kind:        config.Framework.LoadKind(),
			Description: fmt.Sprintf("Loads a %s model from serialized bytes or, when model is empty, from path under a model root.", name),
			Args: []genop.ArgSpec{
				{Name: "model", Kind: genop.KindBytes, Optional: true},
				{Name: "path", Kind: genop.KindString, Optional: true},
			},
			Produces: []genop.ResourceSpec{{Name: "model", Type: registry.TypeModel}},
		}, b.load),
		genop.Func(genop.Signature{
			Kind:        config.Framework.RunKind(),
			Description: fmt.Sprintf("Runs a loaded %s model over one or more input tensors.", name),
			Resources: []genop.ResourceSpec{
				{Name: "model", Type: registry.TypeModel},
				{Name: "inputs", Type: registry.TypeTensor, Variadic: true},
			},
			Produces: []genop.ResourceSpec{{Name: "outputs", Type: registry.TypeTensor, Variadic: true}},
		}, b.run),
	}
}

func (b *backend) load(ctx context.Context, call *genop.Call) (*genop.Outcome, error) {
	source, err := b.source(call.Bytes("model"), call.Text("path", ""))
	if err != nil {
		return nil, err
	}
	if b.framework.Check != nil {
		if err := b.framework.Check(source); err != nil {
			return nil, fault.New(fault.InvalidPayload, "not a %s model: %v", b.framework.Description, err)
		}
	}
	loaded, err := b.plugin.Load(ctx, b.framework.Name, source)
	if err != nil {
		return nil, plugin.Fault(err)
	}
	return &genop.Outcome{
		Resources: []genop.Produced{{
			Type:    registry.TypeModel,
			Payload: &Loaded{Framework: b.framework.Name, Plugin: b.plugin.Name(), Model: loaded},
		}},
	}, nil
}

// source builds the plugin source from exactly one of data and path.
func (b *backend) source(data []byte, path string) (plugin.Source, error) {
	switch {
	case len(data) > 0 && path != "":
		return plugin.Source{}, fault.New(fault.InvalidArgument, "%s: pass model bytes or path, not both", b.framework.LoadKind())
	case len(data) > 0:
		return plugin.Source{Data: data}, nil
	case path == "":
		return plugin.Source{}, fault.New(fault.InvalidArgument, "%s: model bytes or path required", b.framework.LoadKind())
	}

	resolved, err := b.confine(path)
	if err != nil {
		return plugin.Source{}, err
	}
	return plugin.Source{Path: resolved}, nil
}

// confine resolves path and verifies that it lies under a model root.
func (b *backend) confine(path string) (string, error) {
	if len(b.roots) == 0 {
		return "", fault.New(fault.InvalidArgument, "%s: loading by path is disabled (no model roots configured)", b.framework.LoadKind())
	}
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", fault.New(fault.InvalidArgument, "resolving %q: %v", path, err)
	}
	resolved, err := filepath.EvalSymlinks(absolute)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fault.New(fault.InvalidArgument, "model path %q does not exist", path)
		}
		return "", fault.New(fault.InvalidArgument, "resolving %q: %v", path, err)
	}
	for _, root := range b.roots {
		realRoot, err := filepath.EvalSymlinks(root)
		if err != nil {
			continue
		}
		relative, err := filepath.Rel(realRoot, resolved)
		if err != nil {
			continue
		}
		if relative == "." || (relative != ".." && !strings.HasPrefix(relative, ".."+string(filepath.Separator))) {
			return resolved, nil
		}
	}
	return "", fault.New(fault.InvalidArgument, "model path %q is outside the configured model roots", path)
}

func (b *backend) run(ctx context.Context, call *genop.Call) (*genop.Outcome, error) {
	handle := call.Resources[0]
	loaded, ok := handle.Payload.(*Loaded)
	if !ok || loaded.Framework != b.framework.Name {
		return nil, fault.New(fault.ResourceTypeMismatch, "%s is not a %s model", handle.ID, b.framework.Description)
	}

	inputs := make([]*tensor.Tensor, 0, len(call.Resources)-1)
	for _, input := range call.Resources[1:] {
		inputs = append(inputs, input.Payload.(*tensor.Tensor))
	}
	output, err := loaded.Model.Run(ctx, inputs)
	if err != nil {
		return nil, plugin.Fault(err)
	}
	if len(output.Tensors) == 0 {
		return nil, fault.Backend(plugin.StatusInternal, fmt.Sprintf("%s model returned no outputs", b.framework.Description))
	}

	produced := make([]genop.Produced, 0, len(output.Tensors))
	for index, result := range output.Tensors {
		if err := result.Validate(); err != nil {
			return nil, fault.Backend(plugin.StatusInternal, fmt.Sprintf("output %d: %v", index, err))
		}
		produced = append(produced, genop.Produced{Type: registry.TypeTensor, Payload: result})
	}
	return &genop.Outcome{Resources: produced, Counters: output.Counters}, nil
}
