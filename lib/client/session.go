// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"fmt"

	"github.com/bureau-foundation/genop/lib/api"
	"github.com/bureau-foundation/genop/lib/blob"
	"github.com/bureau-foundation/genop/lib/codec"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/genop"
	"github.com/bureau-foundation/genop/lib/ref"
	"github.com/bureau-foundation/genop/lib/registry"
	"github.com/bureau-foundation/genop/lib/session"
	"github.com/bureau-foundation/genop/lib/tensor"
)

// Session is one open session on an agent.
type Session struct {
	client *Client
	id     ref.Session
}

// ID returns the agent-assigned session ID.
func (s *Session) ID() ref.Session {
	return s.id
}

func (s *Session) fields() map[string]any {
	return map[string]any{"session": s.id}
}

func (s *Session) resourceFields(id ref.Resource) map[string]any {
	return map[string]any{"session": s.id, "resource": id}
}

// Close ends the session. Every resource it holds is released.
func (s *Session) Close(ctx context.Context) error {
	return s.client.service.Call(ctx, api.ActionCloseSession, s.fields(), nil)
}

// Ping keeps an otherwise idle session from being reaped.
func (s *Session) Ping(ctx context.Context) error {
	return s.client.service.Call(ctx, api.ActionPing, s.fields(), nil)
}

// Info describes the session: options, activity, and holdings.
func (s *Session) Info(ctx context.Context) (*session.Info, error) {
	var response api.SessionInfoResponse
	if err := s.client.service.Call(ctx, api.ActionSessionInfo, s.fields(), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Register registers a resource of typ from its wire bytes. Payloads
// above the chunk size are uploaded first.
func (s *Session) Register(ctx context.Context, typ registry.Type, data []byte) (ref.Resource, error) {
	fields := s.fields()
	fields["type"] = typ
	if len(data) > s.client.options.ChunkSize {
		id, err := s.upload(ctx, data, string(typ))
		if err != nil {
			return ref.Resource{}, err
		}
		fields["blob"] = id
	} else {
		fields["data"] = data
	}
	var response api.RegisterResponse
	if err := s.client.service.Call(ctx, api.ActionRegister, fields, &response); err != nil {
		return ref.Resource{}, err
	}
	return response.Resource, nil
}

// RegisterTensor registers a tensor resource.
func (s *Session) RegisterTensor(ctx context.Context, value *tensor.Tensor) (ref.Resource, error) {
	if err := value.Validate(); err != nil {
		return ref.Resource{}, fault.New(fault.InvalidPayload, "%v", err)
	}
	data, err := codec.Marshal(value)
	if err != nil {
		return ref.Resource{}, fmt.Errorf("encoding tensor: %w", err)
	}
	return s.Register(ctx, registry.TypeTensor, data)
}

// Upload stages data on the agent and returns a blob reference for a
// later Register or a blob argument (genop.BlobRef). A staged blob is
// consumed by its first use.
func (s *Session) Upload(ctx context.Context, data []byte) (ref.Blob, error) {
	return s.upload(ctx, data, "")
}

func (s *Session) upload(ctx context.Context, data []byte, contentType string) (ref.Blob, error) {
	id := ref.NewBlob()
	options := blob.Options{
		ChunkSize:   s.client.options.ChunkSize,
		Compression: *s.client.options.Compression,
		ContentType: contentType,
	}
	var response api.UploadResponse
	err := s.client.service.Upload(ctx, api.ActionUpload, s.fields(), func(encoder *codec.Encoder) error {
		return blob.Write(encoder, id, data, options)
	}, &response)
	if err != nil {
		return ref.Blob{}, err
	}
	if response.Blob != id || response.Size != len(data) {
		return ref.Blob{}, fault.New(fault.BlobCorrupt, "agent staged %s (%d bytes), sent %s (%d bytes)", response.Blob, response.Size, id, len(data))
	}
	if response.Digest != blob.HashBlob(data) {
		return ref.Blob{}, fault.New(fault.BlobCorrupt, "agent staged %s with digest %s, sent %s", id, response.Digest, blob.HashBlob(data))
	}
	return id, nil
}

// Read returns a resource's payload as bytes: raw bytes for images,
// shared objects, and scratch buffers, the CBOR tensor for tensors.
func (s *Session) Read(ctx context.Context, id ref.Resource) ([]byte, registry.Type, error) {
	var header api.ReadResponse
	var data []byte
	err := s.client.service.Download(ctx, api.ActionRead, s.resourceFields(id), &header, func(decoder *codec.Decoder) error {
		// A zero limit would disable the check.
		blobID, received, err := blob.Read(decoder, max(int64(header.Size), 1))
		if err != nil {
			return err
		}
		if blobID != header.Blob {
			return fault.New(fault.BlobCorrupt, "received %s, expected %s", blobID, header.Blob)
		}
		if len(received) != header.Size {
			return fault.New(fault.BlobCorrupt, "%s is %d bytes, header declared %d", blobID, len(received), header.Size)
		}
		data = received
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return data, header.Type, nil
}

// ReadTensor reads a tensor resource back.
func (s *Session) ReadTensor(ctx context.Context, id ref.Resource) (*tensor.Tensor, error) {
	data, typ, err := s.Read(ctx, id)
	if err != nil {
		return nil, err
	}
	if typ != registry.TypeTensor {
		return nil, fault.New(fault.ResourceTypeMismatch, "%s is %s, not a tensor", id, typ)
	}
	var value tensor.Tensor
	if err := codec.Unmarshal(data, &value); err != nil {
		return nil, fault.New(fault.BlobCorrupt, "decoding tensor: %v", err)
	}
	return &value, nil
}

// Release gives up the session's holding on a resource.
func (s *Session) Release(ctx context.Context, id ref.Resource) error {
	return s.client.service.Call(ctx, api.ActionRelease, s.resourceFields(id), nil)
}

// Share grants target a holding on a resource. It returns false when
// target already held it.
func (s *Session) Share(ctx context.Context, id ref.Resource, target ref.Session) (bool, error) {
	fields := s.resourceFields(id)
	fields["target"] = target
	var response api.ShareResponse
	if err := s.client.service.Call(ctx, api.ActionShare, fields, &response); err != nil {
		return false, err
	}
	return response.Granted, nil
}

// ResourceInfo describes a resource visible to the session.
func (s *Session) ResourceInfo(ctx context.Context, id ref.Resource) (*registry.Info, error) {
	var response api.InfoResponse
	if err := s.client.service.Call(ctx, api.ActionInfo, s.resourceFields(id), &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// Dispatch runs one operation. args bind positionally to the
// operation's declared arguments; resources to its declared resource
// slots.
func (s *Session) Dispatch(ctx context.Context, operation genop.OperationKind, args []genop.Value, resources ...ref.Resource) (*genop.Result, error) {
	args, err := s.stageArguments(ctx, args)
	if err != nil {
		return nil, err
	}
	fields := s.fields()
	fields["operation"] = operation
	if len(args) > 0 {
		fields["args"] = args
	}
	if len(resources) > 0 {
		fields["resources"] = resources
	}
	var result api.DispatchResponse
	if err := s.client.service.Call(ctx, api.ActionDispatch, fields, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// stageArguments uploads byte arguments above the chunk size and
// replaces them with blob references, so no request exceeds the
// agent's request size limit. args is not modified.
func (s *Session) stageArguments(ctx context.Context, args []genop.Value) ([]genop.Value, error) {
	var staged []genop.Value
	for index, arg := range args {
		if arg.Kind != genop.KindBytes || len(arg.Bytes) <= s.client.options.ChunkSize {
			continue
		}
		if staged == nil {
			staged = append([]genop.Value(nil), args...)
		}
		id, err := s.upload(ctx, arg.Bytes, "")
		if err != nil {
			return nil, fmt.Errorf("uploading argument %d: %w", index, err)
		}
		staged[index] = genop.BlobRef(id)
	}
	if staged == nil {
		return args, nil
	}
	return staged, nil
}
