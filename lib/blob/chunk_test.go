// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"math/rand/v2"
	"testing"

	"github.com/klauspost/compress/zstd"

	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
)

const testChunkSize = 4096

func randomBytes(size int, seed uint64) []byte {
	source := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]byte, size)
	for index := range data {
		data[index] = byte(source.UintN(256))
	}
	return data
}

func assemble(t *testing.T, chunks []Chunk) []byte {
	t.Helper()
	assembler := NewAssembler(0)
	for _, chunk := range chunks {
		if err := assembler.Add(chunk); err != nil {
			t.Fatalf("Add(chunk %d): %v", chunk.Sequence, err)
		}
	}
	data, err := assembler.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return data
}

func TestSplitRoundTrip(t *testing.T) {
	sizes := []int{0, 1, testChunkSize - 1, testChunkSize, testChunkSize*3 + 7}
	methods := []Compression{CompressionNone, CompressionLZ4, CompressionZstd, CompressionBG4LZ4, CompressionAuto}

	for _, size := range sizes {
		for _, method := range methods {
			// Half random, half repetitive, so compression both
			// succeeds and falls back within one payload.
			data := randomBytes(size, uint64(size))
			for index := size / 2; index < size; index++ {
				data[index] = byte(index % 7)
			}

			id := ref.NewBlob()
			chunks, err := Split(id, data, Options{ChunkSize: testChunkSize, Compression: method})
			if err != nil {
				t.Fatalf("Split(%d, %s): %v", size, method, err)
			}
			wantChunks := max(1, (size+testChunkSize-1)/testChunkSize)
			if len(chunks) != wantChunks {
				t.Errorf("Split(%d) produced %d chunks, want %d", size, len(chunks), wantChunks)
			}
			if got := assemble(t, chunks); !bytes.Equal(got, data) {
				t.Errorf("round trip of %d bytes with %s differs", size, method)
			}
		}
	}
}

func TestSmallPayloadIsOneChunk(t *testing.T) {
	chunks, err := Split(ref.NewBlob(), []byte("tiny"), Options{ChunkSize: testChunkSize})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Total != 1 || chunks[0].Sequence != 0 || chunks[0].Length != 4 {
		t.Fatalf("chunks = %+v", chunks)
	}
}

func splitThree(t *testing.T) ([]Chunk, []byte) {
	t.Helper()
	data := randomBytes(testChunkSize*2+100, 7)
	chunks, err := Split(ref.NewBlob(), data, Options{ChunkSize: testChunkSize})
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	return chunks, data
}

func TestAssemblerRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(chunks []Chunk) []Chunk
		want   fault.Kind
	}{
		{"out of order", func(c []Chunk) []Chunk { return []Chunk{c[0], c[2], c[1]} }, fault.BlobCorrupt},
		{"duplicate", func(c []Chunk) []Chunk { return []Chunk{c[0], c[0], c[1], c[2]} }, fault.BlobCorrupt},
		{"missing first", func(c []Chunk) []Chunk { return []Chunk{c[1], c[2]} }, fault.BlobCorrupt},
		{"digest mismatch", func(c []Chunk) []Chunk {
			c[1].Data = append([]byte(nil), c[1].Data...)
			c[1].Data[0] ^= 0xff
			return c
		}, fault.BlobCorrupt},
		{"foreign chunk", func(c []Chunk) []Chunk {
			c[1].Blob = ref.NewBlob()
			return c
		}, fault.BlobCorrupt},
		{"changed length", func(c []Chunk) []Chunk {
			c[2].Length++
			return c
		}, fault.BlobCorrupt},
		{"extra chunk", func(c []Chunk) []Chunk {
			extra := c[2]
			extra.Sequence = 3
			return append(c, extra)
		}, fault.BlobCorrupt},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			chunks, _ := splitThree(t)
			assembler := NewAssembler(0)
			var err error
			for _, chunk := range test.mutate(chunks) {
				if err = assembler.Add(chunk); err != nil {
					break
				}
			}
			if fault.KindOf(err) != test.want {
				t.Fatalf("error = %v, want %s", err, test.want)
			}
		})
	}
}

func TestAssemblerIncomplete(t *testing.T) {
	chunks, _ := splitThree(t)
	assembler := NewAssembler(0)
	for _, chunk := range chunks[:2] {
		if err := assembler.Add(chunk); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if assembler.Done() {
		t.Fatal("Done with a chunk missing")
	}
	if _, err := assembler.Finish(); fault.KindOf(err) != fault.BlobIncomplete {
		t.Fatalf("Finish = %v, want BlobIncomplete", err)
	}
	if _, err := NewAssembler(0).Finish(); fault.KindOf(err) != fault.BlobIncomplete {
		t.Fatalf("Finish with no chunks = %v", err)
	}
}

func TestAssemblerLimit(t *testing.T) {
	chunks, _ := splitThree(t)
	if err := NewAssembler(testChunkSize).Add(chunks[0]); fault.KindOf(err) != fault.InvalidPayload {
		t.Fatalf("oversize blob = %v, want InvalidPayload", err)
	}
}

func TestZstdDecodeBoundedByDeclaredSize(t *testing.T) {
	expanded := make([]byte, 8<<20)
	withSize := zstdEncoder.EncodeAll(expanded, nil)

	var buffer bytes.Buffer
	writer, err := zstd.NewWriter(&buffer)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	if _, err := writer.Write(expanded); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	streamed := buffer.Bytes()

	for name, frame := range map[string][]byte{"content size": withSize, "streamed": streamed} {
		if _, err := decompress(frame, CompressionZstd, 16); err == nil {
			t.Errorf("%s: 8 MiB frame decoded into a 16 byte chunk", name)
		}
		decoded, err := decompress(frame, CompressionZstd, len(expanded))
		if err != nil {
			t.Errorf("%s: decompress at the true size: %v", name, err)
		} else if !bytes.Equal(decoded, expanded) {
			t.Errorf("%s: decoded bytes differ", name)
		}
	}

	// Frames under 256 bytes carry no content size.
	short := bytes.Repeat([]byte("ab"), 100)
	frame := zstdEncoder.EncodeAll(short, nil)
	var header zstd.Header
	if err := header.Decode(frame); err != nil {
		t.Fatalf("Header.Decode: %v", err)
	}
	if header.HasFCS {
		t.Fatalf("expected a %d byte frame without a content size", len(short))
	}
	if decoded, err := decompress(frame, CompressionZstd, len(short)); err != nil || !bytes.Equal(decoded, short) {
		t.Errorf("decompress(short) = %d bytes, %v", len(decoded), err)
	}
	if _, err := decompress(frame, CompressionZstd, len(short)-1); err == nil {
		t.Error("short frame decoded past its declared size")
	}
	if _, err := decompress(frame, CompressionZstd, len(short)+1); err == nil {
		t.Error("short frame decoded below its declared size")
	}
}

func TestAssemblerRejectsZstdExpansion(t *testing.T) {
	expanded := make([]byte, 8<<20)
	data := zstdEncoder.EncodeAll(expanded, nil)
	digest := HashChunk(expanded[:16])
	chunk := Chunk{
		Blob:        ref.NewBlob(),
		Sequence:    0,
		Total:       1,
		Length:      16,
		Size:        16,
		Compression: CompressionZstd,
		Digest:      digest,
		Data:        data,
	}
	if err := NewAssembler(0).Add(chunk); fault.KindOf(err) != fault.BlobCorrupt {
		t.Fatalf("Add(expanding zstd chunk) = %v, want BlobCorrupt", err)
	}

	chunk.Size = MaxChunkSize + 1
	chunk.Length = MaxChunkSize + 1
	if err := NewAssembler(0).Add(chunk); fault.KindOf(err) != fault.BlobCorrupt {
		t.Fatalf("Add(chunk over MaxChunkSize) = %v, want BlobCorrupt", err)
	}
}
