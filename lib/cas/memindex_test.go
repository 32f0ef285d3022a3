// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"
	"slices"
	"sync"

	"github.com/bergwolf/nydus/lib/digest"
)

// memoryIndex is an in-process Index with the same lookup rules as
// the durable engines: the lowest blob id wins, and re-adding a
// (key, blob) pair replaces its offset.
type memoryIndex struct {
	mu      sync.Mutex
	nextID  int64
	blobs   map[string]int64
	chunks  map[string]map[int64]uint64
	lookups int
	deletes [][]string
	closed  bool

	// lookupErr, when set, is returned from GetChunkInfo.
	lookupErr error
}

func newMemoryIndex() *memoryIndex {
	return &memoryIndex{
		nextID: 1,
		blobs:  make(map[string]int64),
		chunks: make(map[string]map[int64]uint64),
	}
}

func (x *memoryIndex) AddBlob(_ context.Context, path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.blobs[path]; !ok {
		x.blobs[path] = x.nextID
		x.nextID++
	}
	return nil
}

func (x *memoryIndex) AddChunk(_ context.Context, key string, offset uint64, path string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	id, ok := x.blobs[path]
	if !ok {
		return nil
	}
	if x.chunks[key] == nil {
		x.chunks[key] = make(map[int64]uint64)
	}
	x.chunks[key][id] = offset
	return nil
}

func (x *memoryIndex) GetChunkInfo(_ context.Context, key string) (Location, bool, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.lookups++
	if x.lookupErr != nil {
		return Location{}, false, x.lookupErr
	}
	rows := x.chunks[key]
	if len(rows) == 0 {
		return Location{}, false, nil
	}
	ids := make([]int64, 0, len(rows))
	for id := range rows {
		ids = append(ids, id)
	}
	lowest := slices.Min(ids)
	for path, id := range x.blobs {
		if id == lowest {
			return Location{Path: path, Offset: rows[lowest]}, true, nil
		}
	}
	return Location{}, false, nil
}

func (x *memoryIndex) GetAllBlobs(context.Context) ([]Blob, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	var blobs []Blob
	for path, id := range x.blobs {
		blobs = append(blobs, Blob{ID: id, Path: path})
	}
	slices.SortFunc(blobs, func(a, b Blob) int { return int(a.ID - b.ID) })
	return blobs, nil
}

func (x *memoryIndex) GetAllChunks(context.Context) ([]Record, error) {
	x.mu.Lock()
	defer x.mu.Unlock()
	paths := make(map[int64]string, len(x.blobs))
	for path, id := range x.blobs {
		paths[id] = path
	}
	var records []Record
	for key, rows := range x.chunks {
		for id, offset := range rows {
			records = append(records, Record{Key: key, Path: paths[id], Offset: offset})
		}
	}
	return records, nil
}

func (x *memoryIndex) DeleteBlobs(_ context.Context, paths []string) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.deletes = append(x.deletes, slices.Clone(paths))
	for _, path := range paths {
		id, ok := x.blobs[path]
		if !ok {
			continue
		}
		delete(x.blobs, path)
		for key, rows := range x.chunks {
			delete(rows, id)
			if len(rows) == 0 {
				delete(x.chunks, key)
			}
		}
	}
	return nil
}

func (x *memoryIndex) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.closed = true
	return nil
}

func (x *memoryIndex) lookupCount() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.lookups
}

type testBlob struct{ algorithm digest.Algorithm }

func (b testBlob) DigestAlgorithm() digest.Algorithm { return b.algorithm }

type testChunk struct {
	id     digest.Digest
	offset uint64
	size   uint32
}

func (c testChunk) ChunkID() digest.Digest { return c.id }
func (c testChunk) UncompressedRange() (uint64, uint32) { return c.offset, c.size }
