// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"errors"
	"fmt"
	"io"

	"github.com/bureau-foundation/genop/lib/codec"
	"github.com/bureau-foundation/genop/lib/fault"
	"github.com/bureau-foundation/genop/lib/ref"
)

// Write splits data and encodes every chunk onto encoder, in order.
func Write(encoder *codec.Encoder, id ref.Blob, data []byte, options Options) error {
	chunks, err := Split(id, data, options)
	if err != nil {
		return err
	}
	for index := range chunks {
		if err := encoder.Encode(&chunks[index]); err != nil {
			return fault.New(fault.TransportError, "writing chunk %d of %s: %v", index, id, err)
		}
	}
	return nil
}

// Read decodes chunks from decoder until the blob is complete. A
// stream that ends early fails with BlobIncomplete.
func Read(decoder *codec.Decoder, limit int64) (ref.Blob, []byte, error) {
	assembler := NewAssembler(limit)
	for !assembler.Done() {
		var chunk Chunk
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				_, finishErr := assembler.Finish()
				return assembler.ID(), nil, finishErr
			}
			return assembler.ID(), nil, fault.New(fault.TransportError, "reading chunk: %v", err)
		}
		if err := assembler.Add(chunk); err != nil {
			return assembler.ID(), nil, err
		}
	}
	data, err := assembler.Finish()
	if err != nil {
		return assembler.ID(), nil, fmt.Errorf("assembling blob: %w", err)
	}
	return assembler.ID(), data, nil
}
