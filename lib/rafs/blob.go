// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package rafs

import (
	"fmt"

	"github.com/bergwolf/nydus/lib/compress"
	"github.com/bergwolf/nydus/lib/digest"
)

// BlobFeatures are per-blob capability bits.
type BlobFeatures uint32

const (
	// BlobAligned is set when every chunk starts on a 4 KiB boundary
	// in the uncompressed address space.
	BlobAligned BlobFeatures = 1 << 0

	// BlobInlinedMeta is set when the blob carries its own chunk
	// table after the chunk data.
	BlobInlinedMeta BlobFeatures = 1 << 1

	// BlobChunkDict is set on blobs that a bootstrap references only
	// through a chunk dictionary.
	BlobChunkDict BlobFeatures = 1 << 2
)

// BlobInfo describes one blob referenced by a bootstrap. Like [Chunk],
// values are shared by pointer and must not be modified after load.
type BlobInfo struct {
	// Index is the blob's position in the bootstrap's blob table.
	// Chunk.BlobIndex refers to it.
	Index uint32 `cbor:"1,keyasint"`

	// BlobID is the stable content identifier of the blob, normally
	// the hex digest of its compressed bytes.
	BlobID string `cbor:"2,keyasint"`

	Digester   digest.Algorithm   `cbor:"3,keyasint"`
	Compressor compress.Algorithm `cbor:"4,keyasint"`
	Features   BlobFeatures       `cbor:"5,keyasint,omitempty"`

	CompressedSize   uint64 `cbor:"6,keyasint"`
	UncompressedSize uint64 `cbor:"7,keyasint"`
	ChunkSize        uint32 `cbor:"8,keyasint"`
	ChunkCount       uint32 `cbor:"9,keyasint"`
}

// DigestAlgorithm returns the digester used for the blob's chunks.
func (b *BlobInfo) DigestAlgorithm() digest.Algorithm { return b.Digester }

// HasFeature reports whether every bit in f is set.
func (b *BlobInfo) HasFeature(f BlobFeatures) bool { return b.Features&f == f }

// String identifies the blob in log messages.
func (b *BlobInfo) String() string {
	return fmt.Sprintf("blob{index=%d id=%s}", b.Index, b.BlobID)
}
