// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies how a chunk's Data is encoded. The values
// are wire constants.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2

	// CompressionBG4LZ4 groups bytes by position within each 4-byte
	// word before LZ4, which compresses float32 tensors whose
	// neighbouring values share exponents.
	CompressionBG4LZ4 Compression = 3

	// CompressionAuto is a policy, never a wire value: pick per
	// chunk from the content type, or by probing.
	CompressionAuto Compression = 255
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	case CompressionBG4LZ4:
		return "bg4_lz4"
	case CompressionAuto:
		return "auto"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a compression policy name as used in
// configuration.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	case "bg4_lz4":
		return CompressionBG4LZ4, nil
	case "auto", "":
		return CompressionAuto, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// errIncompressible means compression did not shrink the data; the
// chunk is sent uncompressed instead.
var errIncompressible = errors.New("data is incompressible")

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("blob: zstd encoder: " + err.Error())
	}
}

// zstdDecoders holds synchronous stream decoders. Neither the decoded
// output nor the window may exceed MaxChunkSize.
var zstdDecoders = sync.Pool{
	New: func() any {
		decoder, err := zstd.NewReader(nil,
			zstd.WithDecoderConcurrency(1),
			zstd.WithDecoderMaxMemory(MaxChunkSize),
			zstd.WithDecoderMaxWindow(MaxChunkSize),
		)
		if err != nil {
			panic("blob: zstd decoder: " + err.Error())
		}
		return decoder
	},
}

// compress encodes data with a concrete algorithm (not Auto). Returns
// the data unchanged with CompressionNone when compression does not
// help.
func compress(data []byte, method Compression) ([]byte, Compression, error) {
	var compressed []byte
	var err error
	switch method {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed, err = compressLZ4(data)
	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(data, nil)
		if len(compressed) >= len(data) {
			err = errIncompressible
		}
	case CompressionBG4LZ4:
		compressed, err = compressLZ4(groupBytes(data))
	default:
		return nil, 0, fmt.Errorf("unsupported compression %s", method)
	}
	if errors.Is(err, errIncompressible) {
		return data, CompressionNone, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return compressed, method, nil
}

// decompress reverses compress. size is the expected uncompressed
// length and is verified.
func decompress(data []byte, method Compression, size int) ([]byte, error) {
	switch method {
	case CompressionNone:
		if len(data) != size {
			return nil, fmt.Errorf("uncompressed chunk is %d bytes, declared %d", len(data), size)
		}
		return data, nil
	case CompressionLZ4:
		return decompressLZ4(data, size)
	case CompressionZstd:
		return decompressZstd(data, size)
	case CompressionBG4LZ4:
		grouped, err := decompressLZ4(data, size)
		if err != nil {
			return nil, err
		}
		return ungroupBytes(grouped), nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", method)
	}
}

// decompressZstd decodes at most size+1 bytes, so a frame that
// expands past the declared size fails without being inflated.
func decompressZstd(data []byte, size int) ([]byte, error) {
	if size > MaxChunkSize {
		return nil, fmt.Errorf("zstd chunk declares %d bytes, limit is %d", size, MaxChunkSize)
	}
	var header zstd.Header
	if err := header.Decode(data); err != nil {
		return nil, fmt.Errorf("zstd header: %w", err)
	}
	if header.HasFCS && header.FrameContentSize != uint64(size) {
		return nil, fmt.Errorf("zstd frame declares %d bytes, chunk declares %d", header.FrameContentSize, size)
	}

	decoder := zstdDecoders.Get().(*zstd.Decoder)
	defer zstdDecoders.Put(decoder)
	if err := decoder.Reset(bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}
	result := make([]byte, size)
	if read, err := io.ReadFull(decoder, result); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("zstd produced %d bytes, declared %d", read, size)
		}
		return nil, fmt.Errorf("zstd: %w", err)
	}
	var extra [1]byte
	switch _, err := io.ReadFull(decoder, extra[:]); {
	case err == nil:
		return nil, fmt.Errorf("zstd output exceeds the declared %d bytes", size)
	case !errors.Is(err, io.EOF):
		return nil, fmt.Errorf("zstd: %w", err)
	}
	return result, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(data []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(data, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 produced %d bytes, declared %d", read, size)
	}
	return destination, nil
}

// groupBytes moves byte k of every 4-byte word into plane k. A
// trailing partial word is copied unchanged.
func groupBytes(data []byte) []byte {
	words := len(data) / 4
	output := make([]byte, len(data))
	for word := 0; word < words; word++ {
		for plane := 0; plane < 4; plane++ {
			output[plane*words+word] = data[word*4+plane]
		}
	}
	copy(output[words*4:], data[words*4:])
	return output
}

func ungroupBytes(data []byte) []byte {
	words := len(data) / 4
	output := make([]byte, len(data))
	for word := 0; word < words; word++ {
		for plane := 0; plane < 4; plane++ {
			output[word*4+plane] = data[plane*words+word]
		}
	}
	copy(output[words*4:], data[words*4:])
	return output
}

// choose resolves the Auto policy for a chunk. Float tensors get
// byte grouping, already-compressed formats are left alone, text gets
// zstd, and anything else is probed with zstd.
func choose(data []byte, contentType string) Compression {
	switch {
	case contentType == "tensor/float32":
		return CompressionBG4LZ4
	case strings.HasPrefix(contentType, "image/"),
		contentType == "application/zip",
		contentType == "model/torch":
		return CompressionNone
	case strings.HasPrefix(contentType, "text/"),
		contentType == "application/json":
		return CompressionZstd
	}
	if len(data) == 0 {
		return CompressionNone
	}
	ratio := float64(len(data)) / float64(len(zstdEncoder.EncodeAll(data, nil)))
	switch {
	case ratio >= 1.5:
		return CompressionZstd
	case ratio >= 1.1:
		return CompressionLZ4
	default:
		return CompressionNone
	}
}
