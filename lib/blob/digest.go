// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package blob

import (
	"encoding/hex"

	"github.com/zeebo/blake3"
)

// Digest is a BLAKE3 keyed hash of uncompressed bytes.
type Digest [32]byte

func (d Digest) String() string { return hex.EncodeToString(d[:]) }

// Domain keys keep chunk digests and whole-blob digests distinct even
// for identical bytes. Both are ASCII names padded with zeros.
var (
	chunkKey = [32]byte{'g', 'e', 'n', 'o', 'p', '.', 'b', 'l', 'o', 'b', '.', 'c', 'h', 'u', 'n', 'k'}
	blobKey  = [32]byte{'g', 'e', 'n', 'o', 'p', '.', 'b', 'l', 'o', 'b'}
)

// HashChunk returns the chunk-domain digest of data.
func HashChunk(data []byte) Digest {
	return keyed(chunkKey, data)
}

// HashBlob returns the blob-domain digest of a whole payload.
func HashBlob(data []byte) Digest {
	return keyed(blobKey, data)
}

func keyed(key [32]byte, data []byte) Digest {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		// Only fails for keys that are not 32 bytes.
		panic("blob: blake3 keyed hasher: " + err.Error())
	}
	hasher.Write(data)
	var digest Digest
	hasher.Sum(digest[:0])
	return digest
}
