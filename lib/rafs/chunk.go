// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package rafs

import (
	"encoding/binary"
	"fmt"

	"github.com/bergwolf/nydus/lib/digest"
)

// ChunkRecordSize is the on-disk size of one chunk table record:
//
//	offset  size  field
//	     0    32  digest bytes
//	    32     4  blob index
//	    36     4  flags
//	    40     4  compressed size
//	    44     4  uncompressed size
//	    48     8  compressed offset
//	    56     8  uncompressed offset
//	    64     8  file offset
//	    72     4  chunk index within the blob
//	    76     4  reserved
const ChunkRecordSize = 80

// ChunkFlags describes how a chunk is stored in its blob.
type ChunkFlags uint32

const (
	// ChunkCompressed is set when the stored bytes are compressed
	// with the blob's compressor. Clear for chunks stored raw.
	ChunkCompressed ChunkFlags = 1 << 0

	// ChunkHasCRC is set when the blob carries a CRC32 for the chunk.
	ChunkHasCRC ChunkFlags = 1 << 1
)

// Chunk is the metadata of one chunk of file content. Records are
// immutable once published; holders share them by pointer and must
// not modify them.
type Chunk struct {
	// ID is the digest of the uncompressed chunk content. Its
	// algorithm is the digester of the bootstrap that carries it.
	ID digest.Digest `cbor:"1,keyasint"`

	// BlobIndex is the index of the blob holding this chunk in the
	// bootstrap's blob table.
	BlobIndex uint32 `cbor:"2,keyasint"`

	// Index is the ordinal of this chunk within its blob.
	Index uint32 `cbor:"3,keyasint"`

	Flags ChunkFlags `cbor:"4,keyasint,omitempty"`

	// CompressedOffset and CompressedSize locate the stored bytes in
	// the blob.
	CompressedOffset uint64 `cbor:"5,keyasint"`
	CompressedSize   uint32 `cbor:"6,keyasint"`

	// UncompressedOffset and UncompressedSize locate the chunk in the
	// blob's uncompressed address space, which is also its position
	// in the local blob cache file.
	UncompressedOffset uint64 `cbor:"7,keyasint"`
	UncompressedSize   uint32 `cbor:"8,keyasint"`

	// FileOffset is the chunk's offset within the file it belongs to.
	FileOffset uint64 `cbor:"9,keyasint"`
}

// ChunkID returns the chunk's content digest.
func (c *Chunk) ChunkID() digest.Digest { return c.ID }

// UncompressedRange returns the chunk's offset and length in the
// blob's uncompressed address space.
func (c *Chunk) UncompressedRange() (uint64, uint32) {
	return c.UncompressedOffset, c.UncompressedSize
}

// IsCompressed reports whether the stored bytes are compressed.
func (c *Chunk) IsCompressed() bool { return c.Flags&ChunkCompressed != 0 }

// String identifies the chunk in log messages.
func (c *Chunk) String() string {
	return fmt.Sprintf("chunk{blob=%d index=%d id=%s}", c.BlobIndex, c.Index, c.ID)
}

// putChunkRecord encodes c into buffer, which must be at least
// ChunkRecordSize bytes. The digest algorithm is not stored; it is a
// property of the whole bootstrap.
func putChunkRecord(buffer []byte, c *Chunk) {
	copy(buffer[0:32], c.ID.Sum[:])
	binary.LittleEndian.PutUint32(buffer[32:], c.BlobIndex)
	binary.LittleEndian.PutUint32(buffer[36:], uint32(c.Flags))
	binary.LittleEndian.PutUint32(buffer[40:], c.CompressedSize)
	binary.LittleEndian.PutUint32(buffer[44:], c.UncompressedSize)
	binary.LittleEndian.PutUint64(buffer[48:], c.CompressedOffset)
	binary.LittleEndian.PutUint64(buffer[56:], c.UncompressedOffset)
	binary.LittleEndian.PutUint64(buffer[64:], c.FileOffset)
	binary.LittleEndian.PutUint32(buffer[72:], c.Index)
	binary.LittleEndian.PutUint32(buffer[76:], 0)
}

// parseChunkRecord decodes one record. The caller supplies the
// bootstrap's digest algorithm.
func parseChunkRecord(buffer []byte, algorithm digest.Algorithm) *Chunk {
	c := &Chunk{
		BlobIndex:          binary.LittleEndian.Uint32(buffer[32:]),
		Flags:              ChunkFlags(binary.LittleEndian.Uint32(buffer[36:])),
		CompressedSize:     binary.LittleEndian.Uint32(buffer[40:]),
		UncompressedSize:   binary.LittleEndian.Uint32(buffer[44:]),
		CompressedOffset:   binary.LittleEndian.Uint64(buffer[48:]),
		UncompressedOffset: binary.LittleEndian.Uint64(buffer[56:]),
		FileOffset:         binary.LittleEndian.Uint64(buffer[64:]),
		Index:              binary.LittleEndian.Uint32(buffer[72:]),
	}
	c.ID.Algorithm = algorithm
	copy(c.ID.Sum[:], buffer[0:32])
	return c
}
