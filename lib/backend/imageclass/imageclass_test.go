// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package imageclass

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/bureau-foundation/genop/lib/codec"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/plugin"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/session"
	"github.com/bureau-foundation/genop/lib/tensor"
)

type fixture struct {
	registry   *registry.Registry
	dispatcher *genop.Dispatcher
	backend    *Backend
	session    ref.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	resources := registry.New(registry.Config{Logger: logger})
	sessions := session.NewManager(session.Config{Releaser: resources, Logger: logger})
	dispatcher := genop.NewDispatcher(genop.Config{Sessions: sessions, Resources: resources, Logger: logger})
	backend, err := New(plugin.NewSet(plugin.CPU{}), Config{CacheSize: 4, MaxPixels: 4096})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, handler := range backend.Handlers() {
		if err := dispatcher.Register(handler); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	id, err := sessions.Open(session.Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return &fixture{registry: resources, dispatcher: dispatcher, backend: backend, session: id}
}

func solidPNG(t *testing.T, fill color.Color, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, fill)
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buffer.Bytes()
}

func (f *fixture) image(t *testing.T, fill color.Color) ref.Resource {
	t.Helper()
	id, err := f.registry.RegisterBytes(f.session, registry.TypeImage, solidPNG(t, fill, 8, 6))
	if err != nil {
		t.Fatalf("RegisterBytes: %v", err)
	}
	return id
}

func (f *fixture) dispatch(t *testing.T, request genop.Request) *genop.Result {
	t.Helper()
	request.Session = f.session
	result, err := f.dispatcher.Dispatch(context.Background(), request)
	if err != nil {
		t.Fatalf("Dispatch(%s): %v", request.Operation, err)
	}
	return result
}

// colorClassifier separates red from blue on a single averaged pixel.
func colorClassifier(t *testing.T) []byte {
	t.Helper()
	data, err := codec.Marshal(&Classifier{
		Labels:   []string{"red", "green", "blue"},
		Width:    1,
		Height:   1,
		Channels: 3,
		Weights: []float32{
			4, 0, 0,
			0, 4, 0,
			0, 0, 4,
		},
		Bias: []float32{0, 0, 0},
	})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return data
}

func TestPreprocess(t *testing.T) {
	f := newFixture(t)
	red := f.image(t, color.RGBA{R: 255, A: 255})

	result := f.dispatch(t, genop.Request{
		Operation: Preprocess,
		Args:      []genop.Value{genop.Int(4), genop.Int(2)},
		Resources: []ref.Resource{red},
	})
	if len(result.Resources) != 1 {
		t.Fatalf("produced %d resources", len(result.Resources))
	}
	handle, err := f.registry.AcquireFor(f.session, result.Resources[0], registry.TypeTensor)
	if err != nil {
		t.Fatalf("AcquireFor: %v", err)
	}
	defer f.registry.Release(handle.ID)

	output := handle.Payload.(*tensor.Tensor)
	wantShape := []int64{1, 2, 4, 3}
	if len(output.Shape) != len(wantShape) {
		t.Fatalf("shape = %v, want %v", output.Shape, wantShape)
	}
	for index := range wantShape {
		if output.Shape[index] != wantShape[index] {
			t.Fatalf("shape = %v, want %v", output.Shape, wantShape)
		}
	}
	values, err := output.Float32s()
	if err != nil {
		t.Fatalf("Float32s: %v", err)
	}
	for pixel := 0; pixel < len(values); pixel += 3 {
		if values[pixel] != 1 || values[pixel+1] != 0 || values[pixel+2] != 0 {
			t.Fatalf("pixel %d = %v, want pure red", pixel/3, values[pixel:pixel+3])
		}
	}
}

func TestPreprocessGrayscale(t *testing.T) {
	f := newFixture(t)
	white := f.image(t, color.White)

	result := f.dispatch(t, genop.Request{
		Operation: Preprocess,
		Args:      []genop.Value{genop.Int(2), genop.Int(2), genop.Int(1)},
		Resources: []ref.Resource{white},
	})
	handle, err := f.registry.AcquireFor(f.session, result.Resources[0], registry.TypeTensor)
	if err != nil {
		t.Fatalf("AcquireFor: %v", err)
	}
	defer f.registry.Release(handle.ID)
	values, _ := handle.Payload.(*tensor.Tensor).Float32s()
	if len(values) != 4 {
		t.Fatalf("got %d values, want 4", len(values))
	}
	for _, value := range values {
		if math.Abs(float64(value)-1) > 1e-3 {
			t.Fatalf("luminance = %v, want 1", value)
		}
	}
}

func TestPreprocessRejectsBadGeometry(t *testing.T) {
	f := newFixture(t)
	red := f.image(t, color.RGBA{R: 255, A: 255})
	for _, args := range [][]genop.Value{
		{genop.Int(0), genop.Int(2)},
		{genop.Int(2), genop.Int(2), genop.Int(2)},
		{genop.Int(60000), genop.Int(60000)},
		{genop.Int(4097), genop.Int(1)},
		{genop.Int(1), genop.Int(4097)},
		{genop.Int(1 << 40), genop.Int(1 << 40)},
	} {
		_, err := f.dispatcher.Dispatch(context.Background(), genop.Request{
			Session: f.session, Operation: Preprocess, Args: args, Resources: []ref.Resource{red},
		})
		if fault.KindOf(err) != fault.InvalidArgument {
			t.Errorf("Dispatch(%v) = %v, want InvalidArgument", args, err)
		}
	}
}

func TestPreprocessRejectsOversizedSource(t *testing.T) {
	f := newFixture(t)
	// 100x100 passes the registry's default limit but not the
	// backend's 4096 pixels.
	id, err := f.registry.RegisterBytes(f.session, registry.TypeImage, solidPNG(t, color.White, 100, 100))
	if err != nil {
		t.Fatalf("RegisterBytes: %v", err)
	}
	_, err = f.dispatcher.Dispatch(context.Background(), genop.Request{
		Session:   f.session,
		Operation: Preprocess,
		Args:      []genop.Value{genop.Int(2), genop.Int(2)},
		Resources: []ref.Resource{id},
	})
	if fault.KindOf(err) != fault.InvalidPayload {
		t.Errorf("preprocess of a 100x100 source = %v, want InvalidPayload", err)
	}
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	loaded := f.dispatch(t, genop.Request{
		Operation: LoadClassifier,
		Args:      []genop.Value{genop.Bytes(colorClassifier(t))},
	})
	if len(loaded.Resources) != 1 || loaded.Values[0].Int != 3 {
		t.Fatalf("load_classifier = %+v", loaded)
	}
	model := loaded.Resources[0]

	tests := []struct {
		name  string
		fill  color.Color
		label string
		index int64
	}{
		{"red", color.RGBA{R: 255, A: 255}, "red", 0},
		{"blue", color.RGBA{B: 255, A: 255}, "blue", 2},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			img := f.image(t, test.fill)
			result := f.dispatch(t, genop.Request{
				Operation: Classify,
				Args:      []genop.Value{genop.Int(2)},
				Resources: []ref.Resource{img, model},
			})
			if got := result.Values[0].Text; got != test.label {
				t.Errorf("label = %q, want %q", got, test.label)
			}
			indices, scores := result.Values[1].Ints, result.Values[2].Floats
			if len(indices) != 2 || len(scores) != 2 {
				t.Fatalf("top_k=2 returned %v and %v", indices, scores)
			}
			if indices[0] != test.index {
				t.Errorf("best index = %d, want %d", indices[0], test.index)
			}
			if scores[0] < scores[1] {
				t.Errorf("scores %v are not descending", scores)
			}
		})
	}
}

func TestClassifyCachesPixels(t *testing.T) {
	f := newFixture(t)
	model := f.dispatch(t, genop.Request{
		Operation: LoadClassifier,
		Args:      []genop.Value{genop.Bytes(colorClassifier(t))},
	}).Resources[0]
	img := f.image(t, color.RGBA{G: 255, A: 255})

	for range 2 {
		f.dispatch(t, genop.Request{Operation: Classify, Resources: []ref.Resource{img, model}})
	}
	if !f.backend.cache.Contains(cacheKey{image: img, geometry: geometry{1, 1, 3}}) {
		t.Error("preprocessed pixels not cached")
	}
	if f.backend.cache.Len() != 1 {
		t.Errorf("cache holds %d entries, want 1", f.backend.cache.Len())
	}
}

func TestLoadClassifierRejectsMalformed(t *testing.T) {
	f := newFixture(t)
	data, _ := codec.Marshal(&Classifier{Labels: []string{"a"}, Width: 1, Height: 1, Channels: 3})
	_, err := f.dispatcher.Dispatch(context.Background(), genop.Request{
		Session: f.session, Operation: LoadClassifier, Args: []genop.Value{genop.Bytes(data)},
	})
	if fault.KindOf(err) != fault.InvalidPayload {
		t.Fatalf("Dispatch = %v, want InvalidPayload", err)
	}
}

func TestClassifyRejectsForeignModel(t *testing.T) {
	f := newFixture(t)
	img := f.image(t, color.White)
	foreign, err := f.registry.Register(f.session, registry.TypeModel, struct{}{})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err = f.dispatcher.Dispatch(context.Background(), genop.Request{
		Session: f.session, Operation: Classify, Resources: []ref.Resource{img, foreign},
	})
	if fault.KindOf(err) != fault.ResourceTypeMismatch {
		t.Fatalf("Dispatch = %v, want ResourceTypeMismatch", err)
	}
}
