// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compute provides the generic numeric operations: each one
// consumes float32 tensor resources, runs one plugin kernel, and
// produces a new tensor resource.
package compute

import (
	"context"

	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/plugin"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/tensor"
)

// Operation kinds.
const (
	Add       genop.OperationKind = "compute.add"
	Scale     genop.OperationKind = "compute.scale"
	MatMul    genop.OperationKind = "compute.matmul"
	Softmax   genop.OperationKind = "compute.softmax"
	ReduceSum genop.OperationKind = "compute.reduce_sum"
)

func tensorIn(name string) genop.ResourceSpec {
	return genop.ResourceSpec{Name: name, Type: registry.TypeTensor}
}

var tensorOut = []genop.ResourceSpec{{Name: "result", Type: registry.TypeTensor}}

// operation describes one compute handler: its signature, the kernel
// it runs, and how call arguments become kernel parameters.
type operation struct {
	signature genop.Signature
	kernel    string
	params    func(call *genop.Call) map[string]float64
}

var operations = []operation{
	{
		signature: genop.Signature{
			Kind:        Add,
			Description: "Elementwise sum of two tensors of one shape, or of a tensor and a one-element tensor.",
			Resources:   []genop.ResourceSpec{tensorIn("a"), tensorIn("b")},
			Produces:    tensorOut,
		},
		kernel: plugin.KernelAdd,
	},
	{
		signature: genop.Signature{
			Kind:        Scale,
			Description: "Multiplies every element by factor.",
			Args:        []genop.ArgSpec{{Name: "factor", Kind: genop.KindFloat}},
			Resources:   []genop.ResourceSpec{tensorIn("input")},
			Produces:    tensorOut,
		},
		kernel: plugin.KernelScale,
		params: func(call *genop.Call) map[string]float64 {
			return map[string]float64{"factor": call.Float("factor", 1)}
		},
	},
	{
		signature: genop.Signature{
			Kind:        MatMul,
			Description: "Matrix product of [m,k] and [k,n].",
			Resources:   []genop.ResourceSpec{tensorIn("a"), tensorIn("b")},
			Produces:    tensorOut,
		},
		kernel: plugin.KernelMatMul,
	},
	{
		signature: genop.Signature{
			Kind:        Softmax,
			Description: "Softmax along the last axis.",
			Resources:   []genop.ResourceSpec{tensorIn("input")},
			Produces:    tensorOut,
		},
		kernel: plugin.KernelSoftmax,
	},
	{
		signature: genop.Signature{
			Kind:        ReduceSum,
			Description: "Sum along axis, or of every element when axis is omitted.",
			Args:        []genop.ArgSpec{{Name: "axis", Kind: genop.KindInt, Optional: true}},
			Resources:   []genop.ResourceSpec{tensorIn("input")},
			Outputs:     []genop.OutputSpec{{Name: "total", Kind: genop.KindFloat}},
			Produces:    tensorOut,
		},
		kernel: plugin.KernelReduceSum,
		params: func(call *genop.Call) map[string]float64 {
			return map[string]float64{"axis": float64(call.Int("axis", -1))}
		},
	},
}

// Handlers returns one handler per compute operation, executing on
// plugins.
func Handlers(plugins *plugin.Set) []genop.Handler {
	handlers := make([]genop.Handler, 0, len(operations))
	for _, op := range operations {
		handlers = append(handlers, genop.Func(op.signature, func(ctx context.Context, call *genop.Call) (*genop.Outcome, error) {
			return execute(ctx, plugins, op, call)
		}))
	}
	return handlers
}

func execute(ctx context.Context, plugins *plugin.Set, op operation, call *genop.Call) (*genop.Outcome, error) {
	inputs := make([]*tensor.Tensor, len(call.Resources))
	for index, handle := range call.Resources {
		value, ok := handle.Payload.(*tensor.Tensor)
		if !ok {
			return nil, fault.New(fault.ResourceTypeMismatch, "%s holds %T, not a tensor", handle.ID, handle.Payload)
		}
		inputs[index] = value
	}
	invocation := plugin.Invocation{Kernel: op.kernel, Inputs: inputs}
	if op.params != nil {
		invocation.Params = op.params(call)
	}

	output, err := plugins.Execute(ctx, invocation)
	if err != nil {
		return nil, plugin.Fault(err)
	}
	if len(output.Tensors) != 1 {
		return nil, fault.Backend(plugin.StatusInternal, "kernel returned no tensor")
	}
	result := output.Tensors[0]
	outcome := &genop.Outcome{
		Resources: []genop.Produced{{Type: registry.TypeTensor, Payload: result}},
		Counters:  output.Counters,
	}
	if op.signature.Kind == ReduceSum {
		values, err := result.Float32s()
		if err != nil {
			return nil, fault.Backend(plugin.StatusInternal, err.Error())
		}
		total := 0.0
		for _, value := range values {
			total += float64(value)
		}
		outcome.Values = []genop.Value{genop.Float(total)}
	}
	return outcome, nil
}
