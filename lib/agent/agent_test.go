// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/genop/lib/accel"
	"github.com/bureau-foundation/genop/lib/backend/compute"
	"github.com/bureau-foundation/genop/lib/backend/imageclass"
	"github.com/bureau-foundation/genop/lib/backend/tflite"
	"github.com/bureau-foundation/genop/lib/backend/torch"
	"github.com/bureau-foundation/genop/lib/client"
	"github.com/bureau-foundation/genop/lib/clock"
	"github.com/bureau-foundation/genop/lib/codec"
	"github.com/bureau-foundation/genop/lib/config"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/tensor"
	"github.com/bureau-foundation/genop/lib/testutil"
	"github.com/bureau-foundation/genop/lib/token"
)

const testChunkSize = 1024

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	agent  *Agent
	client *client.Client
	clock  *clock.FakeClock
}

// startAgent runs an agent on a fresh Unix socket with a fake clock
// and returns a client for it. The reap interval is long enough that
// the reaper loop never fires on its own; tests call reap directly.
func startAgent(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Endpoint = testutil.SocketPath(t)
	cfg.Workers = 4
	cfg.ReapInterval = config.Duration(24 * time.Hour)
	cfg.Blob.ChunkSize = testChunkSize
	if mutate != nil {
		mutate(cfg)
	}
	fake := clock.Fake(epoch)
	agent, err := New(cfg, Options{
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:  fake,
		Probe: func() accel.Inventory {
			return accel.Inventory{CPUModel: "Test CPU", CPUThreads: 8}
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- agent.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		if err := testutil.RequireReceive(t, done, 10*time.Second, "agent shutdown"); err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	testutil.RequireClosed(t, agent.Ready(), 5*time.Second, "agent ready")

	c, err := client.New(cfg.Endpoint, client.Options{ChunkSize: testChunkSize})
	if err != nil {
		t.Fatalf("client.New: %v", err)
	}
	return &harness{agent: agent, client: c, clock: fake}
}

func (h *harness) open(t *testing.T) *client.Session {
	t.Helper()
	session, err := h.client.OpenSession(context.Background(), client.SessionOptions{Label: t.Name()})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	return session
}

func registerTensor(t *testing.T, session *client.Session, shape []int64, values ...float32) ref.Resource {
	t.Helper()
	id, err := session.RegisterTensor(context.Background(), tensor.FromFloat32(shape, values))
	if err != nil {
		t.Fatalf("RegisterTensor: %v", err)
	}
	return id
}

func solidPNG(t *testing.T, fill color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			img.Set(x, y, fill)
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buffer.Bytes()
}

func TestSessionLifecycle(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	session := h.open(t)

	status, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Sessions != 1 || status.Workers != 4 {
		t.Errorf("status = %+v", status)
	}

	if err := session.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
	info, err := session.Info(ctx)
	if err != nil {
		t.Fatalf("Info: %v", err)
	}
	if info.Options.Label != t.Name() {
		t.Errorf("label = %q", info.Options.Label)
	}

	if err := session.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := session.Close(ctx); !errors.Is(err, fault.ErrUnknownSession) {
		t.Errorf("second Close = %v, want UnknownSession", err)
	}
	if err := session.Ping(ctx); !errors.Is(err, fault.ErrUnknownSession) {
		t.Errorf("Ping after Close = %v, want UnknownSession", err)
	}
}

func TestComputeRoundTrip(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	session := h.open(t)

	a := registerTensor(t, session, []int64{2, 2}, 1, 2, 3, 4)
	b := registerTensor(t, session, []int64{2, 2}, 10, 20, 30, 40)
	result, err := session.Dispatch(ctx, compute.Add, nil, a, b)
	if err != nil {
		t.Fatalf("Dispatch(add): %v", err)
	}
	if len(result.Resources) != 1 {
		t.Fatalf("add produced %d resources", len(result.Resources))
	}
	if result.Profile != nil {
		t.Error("profile attached without profiling enabled")
	}

	sum, err := session.ReadTensor(ctx, result.Resources[0])
	if err != nil {
		t.Fatalf("ReadTensor: %v", err)
	}
	values, err := sum.Float32s()
	if err != nil {
		t.Fatal(err)
	}
	want := []float32{11, 22, 33, 44}
	for index := range want {
		if values[index] != want[index] {
			t.Fatalf("sum = %v, want %v", values, want)
		}
	}

	scaled, err := session.Dispatch(ctx, compute.Scale, []genop.Value{genop.Float(0.5)}, result.Resources[0])
	if err != nil {
		t.Fatalf("Dispatch(scale): %v", err)
	}
	if len(scaled.Resources) != 1 {
		t.Fatalf("scale produced %d resources", len(scaled.Resources))
	}

	if err := session.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if live := h.agent.registry.Len(); live != 0 {
		t.Errorf("%d resources live after Close", live)
	}
}

func TestProfilingRecord(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	session, err := h.client.OpenSession(ctx, client.SessionOptions{Profiling: true})
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	input := registerTensor(t, session, []int64{3}, 1, 2, 3)
	result, err := session.Dispatch(ctx, compute.Softmax, nil, input)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if result.Profile == nil || result.Profile.Operation != string(compute.Softmax) {
		t.Errorf("profile = %+v", result.Profile)
	}
}

func TestLargePayloadTravelsAsBlob(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	session := h.open(t)

	payload := bytes.Repeat([]byte("0123456789abcdef"), 3*testChunkSize/16+7)
	id, err := session.Register(ctx, registry.TypeSharedObject, payload)
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	info, err := session.ResourceInfo(ctx, id)
	if err != nil {
		t.Fatalf("ResourceInfo: %v", err)
	}
	if info.Size != int64(len(payload)) || info.Refs != 1 {
		t.Errorf("info = %+v", info)
	}
	if h.agent.staging.Len() != 0 {
		t.Errorf("%d blobs still staged after register", h.agent.staging.Len())
	}

	read, typ, err := session.Read(ctx, id)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if typ != registry.TypeSharedObject || !bytes.Equal(read, payload) {
		t.Errorf("read back %d bytes of %s, want %d bytes", len(read), typ, len(payload))
	}
}

func TestShareAcrossSessions(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	owner, grantee := h.open(t), h.open(t)

	shared, err := owner.Register(ctx, registry.TypeSharedObject, []byte("weights"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, _, err := grantee.Read(ctx, shared); !errors.Is(err, fault.ErrUnknownResource) {
		t.Fatalf("Read before share = %v, want UnknownResource", err)
	}
	granted, err := owner.Share(ctx, shared, grantee.ID())
	if err != nil || !granted {
		t.Fatalf("Share = %v, %v", granted, err)
	}
	if granted, _ := owner.Share(ctx, shared, grantee.ID()); granted {
		t.Error("second Share reported a new grant")
	}

	if err := owner.Close(ctx); err != nil {
		t.Fatalf("owner Close: %v", err)
	}
	data, _, err := grantee.Read(ctx, shared)
	if err != nil || string(data) != "weights" {
		t.Fatalf("grantee Read after owner closed = %q, %v", data, err)
	}
	if err := grantee.Release(ctx, shared); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := grantee.Release(ctx, shared); !errors.Is(err, fault.ErrDoubleRelease) {
		t.Errorf("second Release = %v, want DoubleRelease", err)
	}
	if live := h.agent.registry.Len(); live != 0 {
		t.Errorf("%d resources live after last release", live)
	}
}

func TestScratchIsNotShareable(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	owner, other := h.open(t), h.open(t)
	scratch, err := owner.Register(ctx, registry.TypeScratch, make([]byte, 64))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := owner.Share(ctx, scratch, other.ID()); !errors.Is(err, fault.ErrTypeNotShareable) {
		t.Errorf("Share(scratch) = %v, want TypeNotShareable", err)
	}
}

func TestDispatchFailuresLeaveRefcounts(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	session := h.open(t)

	picture, err := session.Register(ctx, registry.TypeImage, solidPNG(t, color.White))
	if err != nil {
		t.Fatalf("Register(image): %v", err)
	}
	values := registerTensor(t, session, []int64{2}, 1, 2)

	_, err = session.Dispatch(ctx, compute.Add, nil, values, picture)
	if !errors.Is(err, fault.ErrResourceTypeMismatch) {
		t.Errorf("add(tensor, image) = %v, want ResourceTypeMismatch", err)
	}
	_, err = session.Dispatch(ctx, "compute.fft", nil, values)
	if !errors.Is(err, fault.ErrUnsupportedOperation) {
		t.Errorf("unknown operation = %v, want UnsupportedOperation", err)
	}
	_, err = session.Dispatch(ctx, compute.Scale, []genop.Value{genop.String("double")}, values)
	if !errors.Is(err, fault.ErrInvalidArgument) {
		t.Errorf("scale(string) = %v, want InvalidArgument", err)
	}

	for _, id := range []ref.Resource{picture, values} {
		info, err := session.ResourceInfo(ctx, id)
		if err != nil {
			t.Fatalf("ResourceInfo(%s): %v", id, err)
		}
		if info.Refs != 1 {
			t.Errorf("%s refs = %d after failed dispatches, want 1", id, info.Refs)
		}
	}
}

func TestClassifyWithUploadedModel(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	session := h.open(t)

	classifier, err := codec.Marshal(&imageclass.Classifier{
		Labels:   []string{"red", "blue"},
		Width:    1,
		Height:   1,
		Channels: 3,
		Weights:  []float32{4, 0, 0, 0, 0, 4},
		Bias:     []float32{0, 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	blobID, err := session.Upload(ctx, classifier)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	loaded, err := session.Dispatch(ctx, imageclass.LoadClassifier, []genop.Value{genop.BlobRef(blobID)})
	if err != nil {
		t.Fatalf("load_classifier: %v", err)
	}
	model := loaded.Resources[0]

	picture, err := session.Register(ctx, registry.TypeImage, solidPNG(t, color.RGBA{B: 255, A: 255}))
	if err != nil {
		t.Fatalf("Register(image): %v", err)
	}
	result, err := session.Dispatch(ctx, imageclass.Classify, nil, picture, model)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Values[0].Text != "blue" {
		t.Errorf("label = %q, want blue", result.Values[0].Text)
	}

	// Staged blobs are consumed by their first use.
	_, err = session.Dispatch(ctx, imageclass.LoadClassifier, []genop.Value{genop.BlobRef(blobID)})
	if !errors.Is(err, fault.ErrBlobIncomplete) {
		t.Errorf("reusing a consumed blob = %v, want BlobIncomplete", err)
	}
}

func TestDispatchUploadsLargeByteArguments(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	session := h.open(t)

	// The padding label alone is over the agent's 4 MiB request limit.
	classifier, err := codec.Marshal(&imageclass.Classifier{
		Labels:   []string{"red", strings.Repeat("x", 5<<20)},
		Width:    1,
		Height:   1,
		Channels: 3,
		Weights:  []float32{4, 0, 0, 0, 0, 4},
		Bias:     []float32{0, 0},
	})
	if err != nil {
		t.Fatal(err)
	}
	args := []genop.Value{genop.Bytes(classifier)}
	loaded, err := session.Dispatch(ctx, imageclass.LoadClassifier, args)
	if err != nil {
		t.Fatalf("load_classifier with %d inline bytes: %v", len(classifier), err)
	}
	if args[0].Kind != genop.KindBytes {
		t.Errorf("Dispatch rewrote the caller's argument to %s", args[0].Kind)
	}
	if h.agent.staging.Len() != 0 {
		t.Errorf("%d blobs still staged after dispatch", h.agent.staging.Len())
	}

	picture, err := session.Register(ctx, registry.TypeImage, solidPNG(t, color.RGBA{R: 255, A: 255}))
	if err != nil {
		t.Fatalf("Register(image): %v", err)
	}
	result, err := session.Dispatch(ctx, imageclass.Classify, nil, picture, loaded.Resources[0])
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if result.Values[0].Text != "red" {
		t.Errorf("label = %q, want red", result.Values[0].Text)
	}

	// An oversized argument that fails to decode still reaches the
	// operation rather than the transport limit.
	_, err = session.Dispatch(ctx, imageclass.LoadClassifier, []genop.Value{genop.Bytes(make([]byte, 5<<20))})
	if !errors.Is(err, fault.ErrInvalidPayload) {
		t.Errorf("load_classifier(5 MiB of zeros) = %v, want InvalidPayload", err)
	}
}

func TestReaperClosesIdleSessions(t *testing.T) {
	h := startAgent(t, func(cfg *config.Config) {
		cfg.SessionGracePeriod = config.Duration(time.Minute)
	})
	ctx := context.Background()
	idle, active := h.open(t), h.open(t)
	registerTensor(t, idle, []int64{1}, 1)

	h.clock.Advance(40 * time.Second)
	if err := active.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	h.clock.Advance(40 * time.Second)
	h.agent.reap(h.clock.Now())

	if err := idle.Ping(ctx); !errors.Is(err, fault.ErrUnknownSession) {
		t.Errorf("idle session Ping = %v, want UnknownSession", err)
	}
	if err := active.Ping(ctx); err != nil {
		t.Errorf("active session was reaped: %v", err)
	}
	if live := h.agent.registry.Len(); live != 0 {
		t.Errorf("%d resources outlived the reaped session", live)
	}
}

func TestReaperWithoutGracePeriod(t *testing.T) {
	h := startAgent(t, nil)
	session := h.open(t)
	h.clock.Advance(365 * 24 * time.Hour)
	h.agent.reap(h.clock.Now())
	if err := session.Ping(context.Background()); err != nil {
		t.Errorf("session reaped with reaping disabled: %v", err)
	}
}

func TestStagedBlobsExpire(t *testing.T) {
	h := startAgent(t, func(cfg *config.Config) {
		cfg.Blob.StagingTTL = config.Duration(time.Minute)
	})
	ctx := context.Background()
	session := h.open(t)
	blobID, err := session.Upload(ctx, []byte("never used"))
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	h.clock.Advance(2 * time.Minute)
	h.agent.reap(h.clock.Now())

	status, err := h.client.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.StagedBlobs != 0 || status.StagedBytes != 0 {
		t.Errorf("staged = %d blobs, %d bytes after TTL", status.StagedBlobs, status.StagedBytes)
	}
	_, err = session.Dispatch(ctx, imageclass.LoadClassifier, []genop.Value{genop.BlobRef(blobID)})
	if !errors.Is(err, fault.ErrBlobIncomplete) {
		t.Errorf("expired blob = %v, want BlobIncomplete", err)
	}
}

func TestStageAfterSessionClose(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	session := h.open(t)

	if err := h.agent.stage(session.ID(), ref.NewBlob(), []byte("on time")); err != nil {
		t.Fatalf("stage on an open session: %v", err)
	}
	if err := session.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if h.agent.staging.Len() != 0 {
		t.Fatalf("%d blobs staged after close", h.agent.staging.Len())
	}

	// An upload that finishes streaming after the close.
	err := h.agent.stage(session.ID(), ref.NewBlob(), []byte("too late"))
	if !errors.Is(err, fault.ErrUnknownSession) {
		t.Errorf("stage after close = %v, want UnknownSession", err)
	}
	if h.agent.staging.Len() != 0 || h.agent.staging.Bytes() != 0 {
		t.Errorf("staging holds %d blobs, %d bytes for a closed session", h.agent.staging.Len(), h.agent.staging.Bytes())
	}
}

func TestUploadOverLimit(t *testing.T) {
	h := startAgent(t, func(cfg *config.Config) {
		cfg.Blob.MaxBlobBytes = 4 * testChunkSize
	})
	session := h.open(t)
	_, err := session.Upload(context.Background(), make([]byte, 8*testChunkSize))
	if !errors.Is(err, fault.ErrInvalidPayload) {
		t.Errorf("oversized Upload = %v, want InvalidPayload", err)
	}
}

func TestSessionTokens(t *testing.T) {
	dir := t.TempDir()
	public, private, err := token.GenerateKeypair()
	if err != nil {
		t.Fatal(err)
	}
	privatePath := filepath.Join(dir, "agent.key")
	if err := token.WriteKeypair(privatePath, public, private); err != nil {
		t.Fatal(err)
	}
	h := startAgent(t, func(cfg *config.Config) {
		cfg.Auth.PublicKeyFile = privatePath + ".pub"
	})
	ctx := context.Background()

	if _, err := h.client.OpenSession(ctx, client.SessionOptions{}); !errors.Is(err, fault.ErrInvalidArgument) {
		t.Errorf("OpenSession without token = %v, want InvalidArgument", err)
	}

	mint := func(audience string, expires time.Time) []byte {
		raw, err := token.Mint(private, &token.Token{
			Subject:   "pipeline/resize",
			Audience:  audience,
			IssuedAt:  epoch.Add(-time.Minute).Unix(),
			ExpiresAt: expires.Unix(),
		})
		if err != nil {
			t.Fatal(err)
		}
		return raw
	}
	for name, raw := range map[string][]byte{
		"wrong audience": mint("other", epoch.Add(time.Hour)),
		"expired":        mint(token.DefaultAudience, epoch.Add(-time.Second)),
	} {
		if _, err := h.client.OpenSession(ctx, client.SessionOptions{Token: raw}); !errors.Is(err, fault.ErrInvalidArgument) {
			t.Errorf("%s: OpenSession = %v, want InvalidArgument", name, err)
		}
	}

	session, err := h.client.OpenSession(ctx, client.SessionOptions{Token: mint(token.DefaultAudience, epoch.Add(time.Hour))})
	if err != nil {
		t.Fatalf("OpenSession with token: %v", err)
	}
	info, err := session.Info(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info.Options.Subject != "pipeline/resize" {
		t.Errorf("subject = %q", info.Options.Subject)
	}
}

func TestDescribeAndDevices(t *testing.T) {
	h := startAgent(t, func(cfg *config.Config) {
		cfg.Backends.Image = false
	})
	ctx := context.Background()

	signatures, err := h.client.Describe(ctx)
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	kinds := make(map[genop.OperationKind]bool)
	for _, signature := range signatures {
		kinds[signature.Kind] = true
	}
	if !kinds[compute.MatMul] {
		t.Error("compute.matmul is not described")
	}
	if kinds[imageclass.Classify] {
		t.Error("image backend registered while disabled")
	}
	// The cpu plugin loads no framework models.
	if kinds[tflite.Framework.LoadKind()] || kinds[torch.Framework.RunKind()] {
		t.Error("framework backend registered without a supporting plugin")
	}

	devices, err := h.client.Devices(ctx)
	if err != nil {
		t.Fatalf("Devices: %v", err)
	}
	if devices.CPUModel != "Test CPU" || devices.CPUThreads != 8 {
		t.Errorf("devices = %+v", devices)
	}
}

func TestConcurrentSessions(t *testing.T) {
	h := startAgent(t, nil)
	ctx := context.Background()
	const sessions, cycles = 6, 5

	errs := make(chan error, sessions)
	for range sessions {
		go func() {
			errs <- func() error {
				session, err := h.client.OpenSession(ctx, client.SessionOptions{})
				if err != nil {
					return err
				}
				for range cycles {
					id, err := session.RegisterTensor(ctx, tensor.FromFloat32([]int64{4}, []float32{1, 2, 3, 4}))
					if err != nil {
						return err
					}
					result, err := session.Dispatch(ctx, compute.ReduceSum, nil, id)
					if err != nil {
						return err
					}
					if result.Values[0].Float != 10 {
						return errors.New("reduce_sum returned a wrong total")
					}
					if err := session.Release(ctx, id); err != nil {
						return err
					}
				}
				return session.Close(ctx)
			}()
		}()
	}
	for range sessions {
		if err := testutil.RequireReceive(t, errs, 10*time.Second, "session worker"); err != nil {
			t.Error(err)
		}
	}
	if live := h.agent.registry.Len(); live != 0 {
		t.Errorf("%d resources live after every session closed", live)
	}
}

func TestCloseAfterRunIsIdempotent(t *testing.T) {
	h := startAgent(t, nil)
	h.open(t)
	if err := h.agent.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := h.agent.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
