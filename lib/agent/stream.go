// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"

	"github.com/bureau-foundation/genop/lib/api"
	"github.com/bureau-foundation/genop/lib/blob"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/service"
	"github.com/bureau-foundation/genop/lib/tensor"
)

// handleUpload reassembles a chunked blob and stages it for the
// session. The blob is consumed by the first resource/register or
// dispatch argument that names it.
func (a *Agent) handleUpload(_ context.Context, raw []byte, stream *service.Stream) (any, error) {
	var request api.UploadRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	done, err := a.begin(request.Session)
	if err != nil {
		return nil, err
	}
	defer done()

	id, data, err := blob.Read(stream.Decoder(), a.config.Blob.MaxBlobBytes)
	if err != nil {
		a.logger.Debug("blob upload failed", "session", request.Session, "blob", id, "error", err)
		return nil, err
	}
	if id.IsZero() {
		return nil, fault.New(fault.BlobCorrupt, "upload carried no blob ID")
	}
	if err := a.stage(request.Session, id, data); err != nil {
		return nil, err
	}
	a.metrics.BlobReceived(len(data))
	return api.UploadResponse{Blob: id, Size: len(data), Digest: blob.HashBlob(data)}, nil
}

// stage holds data for owner until first use. Closing a session
// discards its staged blobs, so a blob that lands after the close is
// taken back here.
func (a *Agent) stage(owner ref.Session, id ref.Blob, data []byte) error {
	if err := a.staging.Put(owner, id, data); err != nil {
		return err
	}
	if err := a.sessions.Validate(owner); err != nil {
		// Take fails harmlessly when the close already discarded it.
		_, _ = a.staging.Take(owner, id)
		return err
	}
	return nil
}

// handleRead sends a resource's payload back as chunk frames after
// the response header.
func (a *Agent) handleRead(_ context.Context, raw []byte, stream *service.Stream) (any, error) {
	var request api.ReadRequest
	if err := decode(raw, &request); err != nil {
		return nil, err
	}
	compression := a.compression
	if request.Compression != "" {
		parsed, err := blob.ParseCompression(request.Compression)
		if err != nil {
			return nil, fault.New(fault.InvalidArgument, "%v", err)
		}
		compression = parsed
	}
	done, err := a.begin(request.Session)
	if err != nil {
		return nil, err
	}
	defer done()

	data, typ, err := a.registry.Encode(request.Session, request.Resource)
	if err != nil {
		return nil, err
	}
	id := ref.NewBlob()
	if err := stream.Reply(api.ReadResponse{Blob: id, Type: typ, Size: len(data)}); err != nil {
		return nil, err
	}
	options := blob.Options{
		ChunkSize:   a.config.Blob.ChunkSize,
		Compression: compression,
		ContentType: contentType(a.registry, request.Session, request.Resource, typ),
	}
	if err := blob.Write(stream.Encoder(), id, data, options); err != nil {
		return nil, err
	}
	a.metrics.BlobSent(len(data))
	return nil, nil
}

// contentType names a payload for the compression policy. Tensors
// report their dtype so float data gets byte grouping.
func contentType(reg *registry.Registry, session ref.Session, id ref.Resource, typ registry.Type) string {
	if typ != registry.TypeTensor {
		return string(typ)
	}
	handle, err := reg.AcquireFor(session, id, registry.TypeTensor)
	if err != nil {
		return string(typ)
	}
	defer reg.Release(id)
	if value, ok := handle.Payload.(*tensor.Tensor); ok {
		return value.ContentType()
	}
	return string(typ)
}
