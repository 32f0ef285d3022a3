// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"
	"errors"
)

// ErrIndex is wrapped by errors that originate in the durable index.
var ErrIndex = errors.New("cas index error")

// Location is where a chunk's uncompressed bytes can be read.
type Location struct {
	Path   string
	Offset uint64
}

// Blob is a row of the index's blob table: one local file that holds
// chunk data.
type Blob struct {
	ID   int64
	Path string
}

// Record is a row of the index's chunk table joined with its blob.
type Record struct {
	Key    string
	Path   string
	Offset uint64
}

// Index is the durable key-to-location table behind a Manager.
//
// Implementations persist two tables, blobs (unique file paths) and
// chunks (key, blob, offset), and must be safe for concurrent use.
// Contexts bound connection acquisition and cancellation of long
// scans; individual statements are not interrupted.
type Index interface {
	// AddBlob registers path. Registering an existing path is a
	// no-op.
	AddBlob(ctx context.Context, path string) error

	// AddChunk records that key's bytes are at offset in the blob
	// registered as path. A row for the same key and path is
	// replaced. If path is not registered, nothing is stored.
	AddChunk(ctx context.Context, key string, offset uint64, path string) error

	// GetChunkInfo returns a location for key. When several blobs
	// hold the key, the earliest registered blob wins.
	GetChunkInfo(ctx context.Context, key string) (Location, bool, error)

	// GetAllBlobs returns every registered blob in registration
	// order.
	GetAllBlobs(ctx context.Context) ([]Blob, error)

	// GetAllChunks returns every chunk row.
	GetAllChunks(ctx context.Context) ([]Record, error)

	// DeleteBlobs removes the blobs registered as paths and every
	// chunk row referencing them, atomically. Unknown paths are
	// ignored.
	DeleteBlobs(ctx context.Context, paths []string) error

	// Close releases the index.
	Close() error
}
