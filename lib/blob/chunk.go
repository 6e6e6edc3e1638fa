// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"fmt"

	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
)

// DefaultChunkSize is the chunk threshold when none is configured.
const DefaultChunkSize = 1 << 20

// MaxChunkSize bounds the uncompressed size of any one chunk.
const MaxChunkSize = 64 << 20

// Chunk is one ordered piece of a blob.
type Chunk struct {
	Blob ref.Blob `cbor:"blob"`

	// Sequence is this chunk's zero-based position.
	Sequence int `cbor:"seq"`

	// Total is the number of chunks in the blob.
	Total int `cbor:"total"`

	// Length is the declared length of the whole blob in bytes.
	Length int64 `cbor:"length"`

	// Size is the uncompressed length of Data.
	Size int `cbor:"size"`

	Compression Compression `cbor:"compression"`

	// Digest is HashChunk of the uncompressed bytes.
	Digest Digest `cbor:"digest"`

	Data []byte `cbor:"data"`
}

// Options control how a payload is split.
type Options struct {
	// ChunkSize is the largest uncompressed chunk. Payloads no
	// larger than this travel as a single chunk. Zero means
	// DefaultChunkSize; larger than MaxChunkSize means MaxChunkSize.
	ChunkSize int

	// Compression is the per-chunk policy. The zero value is
	// CompressionNone.
	Compression Compression

	// ContentType guides the Auto policy ("tensor/float32",
	// "image/png", ...).
	ContentType string
}

// Split cuts data into ordered, compressed chunks. An empty payload
// is one empty chunk.
func Split(id ref.Blob, data []byte, options Options) ([]Chunk, error) {
	size := options.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}
	size = min(size, MaxChunkSize)
	total := (len(data) + size - 1) / size
	if total == 0 {
		total = 1
	}

	chunks := make([]Chunk, 0, total)
	for sequence := 0; sequence < total; sequence++ {
		start := sequence * size
		end := min(start+size, len(data))
		piece := data[start:end]

		method := options.Compression
		if method == CompressionAuto {
			method = choose(piece, options.ContentType)
		}
		encoded, used, err := compress(piece, method)
		if err != nil {
			return nil, fmt.Errorf("compressing chunk %d of %s: %w", sequence, id, err)
		}
		chunks = append(chunks, Chunk{
			Blob:        id,
			Sequence:    sequence,
			Total:       total,
			Length:      int64(len(data)),
			Size:        len(piece),
			Compression: used,
			Digest:      HashChunk(piece),
			Data:        encoded,
		})
	}
	return chunks, nil
}

// Assembler reassembles one blob from its chunks in order.
type Assembler struct {
	limit int64

	started  bool
	id       ref.Blob
	total    int
	length   int64
	next     int
	received []byte
}

// NewAssembler returns an Assembler rejecting blobs whose declared
// length exceeds limit. A limit of zero or less means no limit.
func NewAssembler(limit int64) *Assembler {
	return &Assembler{limit: limit}
}

// Add appends the next chunk.
func (a *Assembler) Add(chunk Chunk) error {
	if !a.started {
		if chunk.Blob.IsZero() {
			return fault.New(fault.BlobCorrupt, "chunk carries no blob ID")
		}
		if chunk.Total < 1 || chunk.Length < 0 {
			return fault.New(fault.BlobCorrupt, "%s declares %d chunks and %d bytes", chunk.Blob, chunk.Total, chunk.Length)
		}
		if a.limit > 0 && chunk.Length > a.limit {
			return fault.New(fault.InvalidPayload, "%s is %d bytes, limit is %d", chunk.Blob, chunk.Length, a.limit)
		}
		a.started = true
		a.id = chunk.Blob
		a.total = chunk.Total
		a.length = chunk.Length
		a.received = make([]byte, 0, chunk.Length)
	}

	switch {
	case chunk.Blob != a.id:
		return fault.New(fault.BlobCorrupt, "chunk of %s inside %s", chunk.Blob, a.id)
	case chunk.Total != a.total || chunk.Length != a.length:
		return fault.New(fault.BlobCorrupt, "%s chunk %d changes the declared size", a.id, chunk.Sequence)
	case chunk.Sequence < a.next:
		return fault.New(fault.BlobCorrupt, "%s chunk %d is a duplicate", a.id, chunk.Sequence)
	case chunk.Sequence != a.next:
		return fault.New(fault.BlobCorrupt, "%s chunk %d arrived, expected %d", a.id, chunk.Sequence, a.next)
	case chunk.Sequence >= a.total:
		return fault.New(fault.BlobCorrupt, "%s chunk %d is past the declared %d chunks", a.id, chunk.Sequence, a.total)
	case chunk.Size < 0 || chunk.Size > MaxChunkSize:
		return fault.New(fault.BlobCorrupt, "%s chunk %d declares %d bytes, limit is %d", a.id, chunk.Sequence, chunk.Size, MaxChunkSize)
	case int64(len(a.received))+int64(chunk.Size) > a.length:
		return fault.New(fault.BlobCorrupt, "%s chunk %d overruns the declared %d bytes", a.id, chunk.Sequence, a.length)
	}

	data, err := decompress(chunk.Data, chunk.Compression, chunk.Size)
	if err != nil {
		return fault.New(fault.BlobCorrupt, "%s chunk %d: %v", a.id, chunk.Sequence, err)
	}
	if HashChunk(data) != chunk.Digest {
		return fault.New(fault.BlobCorrupt, "%s chunk %d digest mismatch", a.id, chunk.Sequence)
	}
	a.received = append(a.received, data...)
	a.next++
	return nil
}

// Done reports whether every declared chunk has been added.
func (a *Assembler) Done() bool {
	return a.started && a.next == a.total
}

// ID returns the blob being assembled, zero before the first chunk.
func (a *Assembler) ID() ref.Blob { return a.id }

// Finish returns the reassembled payload.
func (a *Assembler) Finish() ([]byte, error) {
	if !a.started {
		return nil, fault.New(fault.BlobIncomplete, "no chunks received")
	}
	if a.next < a.total || int64(len(a.received)) < a.length {
		return nil, fault.New(fault.BlobIncomplete, "%s: received %d of %d chunks, %d of %d bytes",
			a.id, a.next, a.total, len(a.received), a.length)
	}
	return a.received, nil
}
