// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package imageclass provides image preprocessing and classification.
//
// image.preprocess turns an image resource into a float32 NHWC tensor
// resource. image.load_classifier turns serialized classifier bytes
// into a model resource, and image.classify runs that model over an
// image. Preprocessed pixels are cached per (image, geometry) because
// image resource IDs are never reused and image payloads never change.
package imageclass

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/image/draw"

	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/plugin"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/tensor"
)

// Operation kinds.
const (
	Preprocess     genop.OperationKind = "image.preprocess"
	Classify       genop.OperationKind = "image.classify"
	LoadClassifier genop.OperationKind = "image.load_classifier"
)

// DefaultCacheSize is the number of preprocessed images kept.
const DefaultCacheSize = 64

type geometry struct {
	width, height, channels int
}

type cacheKey struct {
	image ref.Resource
	geometry
}

// Config tunes the backend.
type Config struct {
	// CacheSize is the number of preprocessed images kept. Zero means
	// DefaultCacheSize.
	CacheSize int

	// MaxPixels bounds both the decoded source image and the
	// preprocess geometry. Zero means registry.DefaultImageMaxPixels.
	MaxPixels int64
}

// Backend holds the plugin set and the preprocessing cache.
type Backend struct {
	plugins   *plugin.Set
	cache     *lru.Cache[cacheKey, []float32]
	maxPixels int64
}

// New creates the backend.
func New(plugins *plugin.Set, config Config) (*Backend, error) {
	if config.CacheSize <= 0 {
		config.CacheSize = DefaultCacheSize
	}
	if config.MaxPixels <= 0 {
		config.MaxPixels = registry.DefaultImageMaxPixels
	}
	cache, err := lru.New[cacheKey, []float32](config.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating preprocess cache: %w", err)
	}
	return &Backend{plugins: plugins, cache: cache, maxPixels: config.MaxPixels}, nil
}

// Handlers returns the three image handlers.
func (b *Backend) Handlers() []genop.Handler {
	return []genop.Handler{
		genop.Func(genop.Signature{
			Kind:        Preprocess,
			Description: "Decodes and resizes an image into a float32 [1,height,width,channels] tensor scaled to [0,1].",
			Args: []genop.ArgSpec{
				{Name: "width", Kind: genop.KindInt},
				{Name: "height", Kind: genop.KindInt},
				{Name: "channels", Kind: genop.KindInt, Optional: true},
			},
			Resources: []genop.ResourceSpec{{Name: "image", Type: registry.TypeImage}},
			Produces:  []genop.ResourceSpec{{Name: "tensor", Type: registry.TypeTensor}},
		}, b.preprocess),
		genop.Func(genop.Signature{
			Kind:        LoadClassifier,
			Description: "Loads a serialized dense image classifier.",
			Args:        []genop.ArgSpec{{Name: "classifier", Kind: genop.KindBytes}},
			Outputs:     []genop.OutputSpec{{Name: "labels", Kind: genop.KindInt}},
			Produces:    []genop.ResourceSpec{{Name: "model", Type: registry.TypeModel}},
		}, b.loadClassifier),
		genop.Func(genop.Signature{
			Kind:        Classify,
			Description: "Classifies an image, returning the top label and the top_k label indices and scores.",
			Args:        []genop.ArgSpec{{Name: "top_k", Kind: genop.KindInt, Optional: true}},
			Resources: []genop.ResourceSpec{
				{Name: "image", Type: registry.TypeImage},
				{Name: "model", Type: registry.TypeModel},
			},
			Outputs: []genop.OutputSpec{
				{Name: "label", Kind: genop.KindString},
				{Name: "indices", Kind: genop.KindInts},
				{Name: "scores", Kind: genop.KindFloats},
			},
		}, b.classify),
	}
}

func (b *Backend) preprocess(_ context.Context, call *genop.Call) (*genop.Outcome, error) {
	width, height, channels := call.Int("width", 0), call.Int("height", 0), call.Int("channels", 3)
	if width <= 0 || height <= 0 || (channels != 1 && channels != 3) {
		return nil, fault.New(fault.InvalidArgument, "cannot preprocess to %dx%dx%d", width, height, channels)
	}
	if width > b.maxPixels || height > b.maxPixels/width {
		return nil, fault.New(fault.InvalidArgument, "preprocess geometry %dx%d exceeds the %d pixel limit", width, height, b.maxPixels)
	}
	shape := geometry{width: int(width), height: int(height), channels: int(channels)}
	pixels, err := b.pixels(call.Resources[0], shape)
	if err != nil {
		return nil, err
	}
	output := tensor.FromFloat32([]int64{1, int64(shape.height), int64(shape.width), int64(shape.channels)}, pixels)
	return &genop.Outcome{
		Resources: []genop.Produced{{Type: registry.TypeTensor, Payload: output}},
	}, nil
}

func (b *Backend) loadClassifier(_ context.Context, call *genop.Call) (*genop.Outcome, error) {
	classifier, err := DecodeClassifier(call.Bytes("classifier"))
	if err != nil {
		return nil, fault.New(fault.InvalidPayload, "%v", err)
	}
	return &genop.Outcome{
		Values:    []genop.Value{genop.Int(int64(len(classifier.Labels)))},
		Resources: []genop.Produced{{Type: registry.TypeModel, Payload: classifier}},
	}, nil
}

func (b *Backend) classify(ctx context.Context, call *genop.Call) (*genop.Outcome, error) {
	model := call.Resources[1]
	classifier, ok := model.Payload.(*Classifier)
	if !ok {
		return nil, fault.New(fault.ResourceTypeMismatch, "%s is not an image classifier", model.ID)
	}
	pixels, err := b.pixels(call.Resources[0], geometry{classifier.Width, classifier.Height, classifier.Channels})
	if err != nil {
		return nil, err
	}
	weights, bias := classifier.parameters()
	input := tensor.FromFloat32([]int64{int64(len(pixels))}, pixels)

	logits, err := b.plugins.Execute(ctx, plugin.Invocation{
		Kernel: plugin.KernelDense,
		Inputs: []*tensor.Tensor{input, weights, bias},
	})
	if err != nil {
		return nil, plugin.Fault(err)
	}
	probabilities, err := b.plugins.Execute(ctx, plugin.Invocation{
		Kernel: plugin.KernelSoftmax,
		Inputs: logits.Tensors,
	})
	if err != nil {
		return nil, plugin.Fault(err)
	}
	scores, err := probabilities.Tensors[0].Float32s()
	if err != nil {
		return nil, fault.Backend(plugin.StatusInternal, err.Error())
	}

	topK := int(call.Int("top_k", 1))
	if topK < 1 {
		return nil, fault.New(fault.InvalidArgument, "top_k must be positive, got %d", topK)
	}
	topK = min(topK, len(scores))
	order := make([]int, len(scores))
	for index := range order {
		order[index] = index
	}
	sort.SliceStable(order, func(i, j int) bool { return scores[order[i]] > scores[order[j]] })

	indices := make([]int64, topK)
	best := make([]float64, topK)
	for rank := 0; rank < topK; rank++ {
		indices[rank] = int64(order[rank])
		best[rank] = float64(scores[order[rank]])
	}
	counters := map[string]float64{"flops": logits.Counters["flops"] + probabilities.Counters["flops"]}
	return &genop.Outcome{
		Values: []genop.Value{
			genop.String(classifier.Labels[order[0]]),
			genop.Ints(indices...),
			genop.Floats(best...),
		},
		Counters: counters,
	}, nil
}

// pixels returns the image resized to shape as row-major HWC floats
// in [0,1], from the cache when possible.
func (b *Backend) pixels(handle registry.Handle, shape geometry) ([]float32, error) {
	key := cacheKey{image: handle.ID, geometry: shape}
	if cached, ok := b.cache.Get(key); ok {
		return cached, nil
	}
	encoded, ok := handle.Payload.([]byte)
	if !ok {
		return nil, fault.New(fault.ResourceTypeMismatch, "%s holds %T, not encoded image bytes", handle.ID, handle.Payload)
	}
	if err := registry.CheckImageHeader(encoded, b.maxPixels); err != nil {
		return nil, fault.New(fault.InvalidPayload, "%s: %v", handle.ID, err)
	}
	decoded, _, err := image.Decode(bytes.NewReader(encoded))
	if err != nil {
		return nil, fault.New(fault.InvalidPayload, "decoding %s: %v", handle.ID, err)
	}

	resized := image.NewRGBA(image.Rect(0, 0, shape.width, shape.height))
	draw.BiLinear.Scale(resized, resized.Bounds(), decoded, decoded.Bounds(), draw.Src, nil)

	pixels := make([]float32, 0, shape.width*shape.height*shape.channels)
	for y := 0; y < shape.height; y++ {
		for x := 0; x < shape.width; x++ {
			offset := resized.PixOffset(x, y)
			r := float32(resized.Pix[offset]) / 255
			g := float32(resized.Pix[offset+1]) / 255
			bl := float32(resized.Pix[offset+2]) / 255
			if shape.channels == 1 {
				pixels = append(pixels, 0.299*r+0.587*g+0.114*bl)
			} else {
				pixels = append(pixels, r, g, bl)
			}
		}
	}
	b.cache.Add(key, pixels)
	return pixels, nil
}
