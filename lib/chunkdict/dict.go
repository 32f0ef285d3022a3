// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package chunkdict

import (
	"errors"

	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/rafs"
)

// ErrDisabled is returned by [Disabled.SetRealBlobIndex]. Receiving it
// means the caller treated a disabled dictionary as a populated one.
var ErrDisabled = errors.New("chunk dictionary is disabled")

// ChunkDict is the lookup structure a builder queries to reuse chunks
// from a previous image. Implementations are safe for concurrent use.
//
// Chunks and blobs returned by a dictionary are shared with it and
// must not be modified.
type ChunkDict interface {
	// AddChunk registers chunk, produced with digester. Chunks whose
	// digester differs from Digester() are ignored. Adding a digest
	// that is already present increments its reference count.
	AddChunk(chunk *rafs.Chunk, digester digest.Algorithm)

	// GetChunk returns the chunk with digest id when its recorded
	// uncompressed size equals uncompressedSize or is zero. A zero
	// recorded size marks a legacy record that never captured one.
	GetChunk(id digest.Digest, uncompressedSize uint32) (*rafs.Chunk, bool)

	// Blobs returns the blobs the dictionary was loaded from, in
	// inner index order.
	Blobs() []*rafs.BlobInfo

	// BlobByInnerIndex returns the blob at inner index idx.
	BlobByInnerIndex(idx uint32) (*rafs.BlobInfo, bool)

	// SetRealBlobIndex maps inner blob index inner to external index
	// external. Later calls for the same inner index replace earlier
	// ones.
	SetRealBlobIndex(inner, external uint32) error

	// RealBlobIndex returns the external index mapped to inner.
	RealBlobIndex(inner uint32) (uint32, bool)

	// Digester returns the algorithm of the digests the dictionary
	// holds.
	Digester() digest.Algorithm
}

// Disabled is a dictionary that holds nothing.
type Disabled struct{}

var _ ChunkDict = Disabled{}

func (Disabled) AddChunk(*rafs.Chunk, digest.Algorithm) {}

func (Disabled) GetChunk(digest.Digest, uint32) (*rafs.Chunk, bool) { return nil, false }

func (Disabled) Blobs() []*rafs.BlobInfo { return nil }

func (Disabled) BlobByInnerIndex(uint32) (*rafs.BlobInfo, bool) { return nil, false }

// SetRealBlobIndex always fails with ErrDisabled.
func (Disabled) SetRealBlobIndex(uint32, uint32) error { return ErrDisabled }

// RealBlobIndex is the identity: with no dictionary, every blob keeps
// its own index.
func (Disabled) RealBlobIndex(inner uint32) (uint32, bool) { return inner, true }

// Digester returns digest.Sha256.
func (Disabled) Digester() digest.Algorithm { return digest.Sha256 }
