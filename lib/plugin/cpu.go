// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package plugin

import (
	"context"
	"math"

	"github.com/bureau-foundation/genop/lib/tensor"
)

// CPU kernel names.
const (
	KernelAdd       = "add"
	KernelScale     = "scale"
	KernelMatMul    = "matmul"
	KernelSoftmax   = "softmax"
	KernelReduceSum = "reduce_sum"

	// KernelDense computes weights·input + bias for a rank-1 input.
	KernelDense = "dense"
)

// CPU is the reference plugin. It runs float32 kernels on the host
// and loads no model frameworks.
type CPU struct{}

func (CPU) Name() string { return "cpu" }

func (CPU) Kernels() []string {
	return []string{KernelAdd, KernelScale, KernelMatMul, KernelSoftmax, KernelReduceSum, KernelDense}
}

func (CPU) Frameworks() []string { return nil }

func (CPU) Load(_ context.Context, framework string, _ Source) (Model, error) {
	return nil, Statusf(StatusUnsupported, "cpu plugin does not load %s models", framework)
}

func (CPU) Execute(_ context.Context, invocation Invocation) (*Output, error) {
	inputs := make([][]float32, len(invocation.Inputs))
	for index, input := range invocation.Inputs {
		values, err := input.Float32s()
		if err != nil {
			return nil, Statusf(StatusInvalidInput, "input %d: %v", index, err)
		}
		inputs[index] = values
	}

	switch invocation.Kernel {
	case KernelAdd:
		return cpuAdd(invocation.Inputs, inputs)
	case KernelScale:
		return cpuScale(invocation, inputs)
	case KernelMatMul:
		return cpuMatMul(invocation.Inputs, inputs)
	case KernelSoftmax:
		return cpuSoftmax(invocation.Inputs, inputs)
	case KernelReduceSum:
		return cpuReduceSum(invocation, inputs)
	case KernelDense:
		return cpuDense(invocation.Inputs, inputs)
	default:
		return nil, Statusf(StatusUnsupported, "cpu plugin has no kernel %q", invocation.Kernel)
	}
}

func requireInputs(kernel string, tensors []*tensor.Tensor, count int) error {
	if len(tensors) != count {
		return Statusf(StatusInvalidInput, "%s takes %d inputs, got %d", kernel, count, len(tensors))
	}
	return nil
}

func result(shape []int64, values []float32, flops float64) *Output {
	return &Output{
		Tensors:  []*tensor.Tensor{tensor.FromFloat32(shape, values)},
		Counters: map[string]float64{"flops": flops},
	}
}

// cpuAdd adds two tensors of the same shape, or a tensor and a
// one-element tensor.
func cpuAdd(tensors []*tensor.Tensor, inputs [][]float32) (*Output, error) {
	if err := requireInputs(KernelAdd, tensors, 2); err != nil {
		return nil, err
	}
	left, right := inputs[0], inputs[1]
	switch {
	case tensor.SameShape(tensors[0], tensors[1]):
	case len(right) == 1:
	default:
		return nil, Statusf(StatusInvalidInput, "add: shapes %v and %v differ", tensors[0].Shape, tensors[1].Shape)
	}
	sum := make([]float32, len(left))
	for index := range left {
		if len(right) == 1 {
			sum[index] = left[index] + right[0]
		} else {
			sum[index] = left[index] + right[index]
		}
	}
	return result(tensors[0].Shape, sum, float64(len(sum))), nil
}

func cpuScale(invocation Invocation, inputs [][]float32) (*Output, error) {
	if err := requireInputs(KernelScale, invocation.Inputs, 1); err != nil {
		return nil, err
	}
	factor, ok := invocation.Params["factor"]
	if !ok {
		return nil, Statusf(StatusInvalidInput, "scale: missing factor")
	}
	scaled := make([]float32, len(inputs[0]))
	for index, value := range inputs[0] {
		scaled[index] = value * float32(factor)
	}
	return result(invocation.Inputs[0].Shape, scaled, float64(len(scaled))), nil
}

func cpuMatMul(tensors []*tensor.Tensor, inputs [][]float32) (*Output, error) {
	if err := requireInputs(KernelMatMul, tensors, 2); err != nil {
		return nil, err
	}
	a, b := tensors[0], tensors[1]
	if len(a.Shape) != 2 || len(b.Shape) != 2 || a.Shape[1] != b.Shape[0] {
		return nil, Statusf(StatusInvalidInput, "matmul: shapes %v and %v are not [m,k]x[k,n]", a.Shape, b.Shape)
	}
	rows, inner, columns := int(a.Shape[0]), int(a.Shape[1]), int(b.Shape[1])
	product := make([]float32, rows*columns)
	for row := 0; row < rows; row++ {
		for k := 0; k < inner; k++ {
			left := inputs[0][row*inner+k]
			for column := 0; column < columns; column++ {
				product[row*columns+column] += left * inputs[1][k*columns+column]
			}
		}
	}
	return result([]int64{int64(rows), int64(columns)}, product, float64(2*rows*inner*columns)), nil
}

// cpuSoftmax normalizes along the last axis.
func cpuSoftmax(tensors []*tensor.Tensor, inputs [][]float32) (*Output, error) {
	if err := requireInputs(KernelSoftmax, tensors, 1); err != nil {
		return nil, err
	}
	shape := tensors[0].Shape
	if len(shape) == 0 || shape[len(shape)-1] == 0 {
		return nil, Statusf(StatusInvalidInput, "softmax: shape %v has no last axis", shape)
	}
	width := int(shape[len(shape)-1])
	values := inputs[0]
	normalized := make([]float32, len(values))
	for start := 0; start < len(values); start += width {
		row := values[start : start+width]
		peak := row[0]
		for _, value := range row {
			peak = max(peak, value)
		}
		total := 0.0
		for index, value := range row {
			exponent := math.Exp(float64(value - peak))
			normalized[start+index] = float32(exponent)
			total += exponent
		}
		for index := range row {
			normalized[start+index] = float32(float64(normalized[start+index]) / total)
		}
	}
	return result(shape, normalized, float64(3*len(values))), nil
}

// cpuReduceSum sums along params["axis"]. A missing or negative axis
// sums every element into a scalar.
func cpuReduceSum(invocation Invocation, inputs [][]float32) (*Output, error) {
	if err := requireInputs(KernelReduceSum, invocation.Inputs, 1); err != nil {
		return nil, err
	}
	shape := invocation.Inputs[0].Shape
	values := inputs[0]
	axisParam, hasAxis := invocation.Params["axis"]
	if !hasAxis || axisParam < 0 {
		total := float32(0)
		for _, value := range values {
			total += value
		}
		return result(nil, []float32{total}, float64(len(values))), nil
	}

	axis := int(axisParam)
	if axis >= len(shape) {
		return nil, Statusf(StatusInvalidInput, "reduce_sum: axis %d out of range for shape %v", axis, shape)
	}
	outer, inner := 1, 1
	for index := 0; index < axis; index++ {
		outer *= int(shape[index])
	}
	for index := axis + 1; index < len(shape); index++ {
		inner *= int(shape[index])
	}
	length := int(shape[axis])
	reduced := make([]float32, outer*inner)
	for o := 0; o < outer; o++ {
		for a := 0; a < length; a++ {
			for i := 0; i < inner; i++ {
				reduced[o*inner+i] += values[(o*length+a)*inner+i]
			}
		}
	}
	outShape := append(append([]int64(nil), shape[:axis]...), shape[axis+1:]...)
	return result(outShape, reduced, float64(len(values))), nil
}

// cpuDense takes input [n] (or [1,n]), weights [m,n], bias [m] and
// returns [m].
func cpuDense(tensors []*tensor.Tensor, inputs [][]float32) (*Output, error) {
	if err := requireInputs(KernelDense, tensors, 3); err != nil {
		return nil, err
	}
	input, weights, bias := inputs[0], inputs[1], inputs[2]
	weightShape := tensors[1].Shape
	if len(weightShape) != 2 || int(weightShape[1]) != len(input) || int(weightShape[0]) != len(bias) {
		return nil, Statusf(StatusInvalidInput, "dense: input of %d, weights %v, bias of %d do not fit", len(input), weightShape, len(bias))
	}
	rows, columns := int(weightShape[0]), int(weightShape[1])
	logits := make([]float32, rows)
	for row := 0; row < rows; row++ {
		sum := bias[row]
		for column := 0; column < columns; column++ {
			sum += weights[row*columns+column] * input[column]
		}
		logits[row] = sum
	}
	return result([]int64{int64(rows)}, logits, float64(2*rows*columns)), nil
}
