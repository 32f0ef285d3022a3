// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package chunkdict

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/rafs"
)

// entry is one distinct chunk known to a HashDict.
type entry struct {
	chunk *rafs.Chunk
	refs  atomic.Uint32
}

// HashDict is a populated dictionary keyed by chunk digest.
//
// Entries live in an append-only arena indexed by a digest map. The
// map is guarded by an RWMutex; an add for a digest that is already
// present takes only the read lock and bumps the entry's atomic
// reference count, so concurrent workers adding popular chunks do not
// serialize on the write lock.
type HashDict struct {
	digester digest.Algorithm
	blobs    []*rafs.BlobInfo

	mu      sync.RWMutex
	index   map[digest.Digest]int
	entries []*entry

	realMu    sync.Mutex
	realIndex map[uint32]uint32
}

var _ ChunkDict = (*HashDict)(nil)

// New returns an empty dictionary for chunks digested with digester.
func New(digester digest.Algorithm) *HashDict {
	return newHashDict(digester, nil)
}

func newHashDict(digester digest.Algorithm, blobs []*rafs.BlobInfo) *HashDict {
	return &HashDict{
		digester:  digester,
		blobs:     blobs,
		index:     make(map[digest.Digest]int),
		realIndex: make(map[uint32]uint32),
	}
}

// AddChunk registers chunk. The dictionary keeps the pointer as the
// canonical record for its digest; callers must not modify it
// afterwards.
func (d *HashDict) AddChunk(chunk *rafs.Chunk, digester digest.Algorithm) {
	if digester != d.digester {
		return
	}

	d.mu.RLock()
	existing, ok := d.lookup(chunk.ID)
	d.mu.RUnlock()
	if ok {
		existing.refs.Add(1)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	// Another worker may have inserted the digest between the locks.
	if existing, ok := d.lookup(chunk.ID); ok {
		existing.refs.Add(1)
		return
	}
	inserted := &entry{chunk: chunk}
	inserted.refs.Store(1)
	d.index[chunk.ID] = len(d.entries)
	d.entries = append(d.entries, inserted)
}

// lookup requires d.mu held in either mode.
func (d *HashDict) lookup(id digest.Digest) (*entry, bool) {
	position, ok := d.index[id]
	if !ok {
		return nil, false
	}
	return d.entries[position], true
}

func (d *HashDict) GetChunk(id digest.Digest, uncompressedSize uint32) (*rafs.Chunk, bool) {
	d.mu.RLock()
	found, ok := d.lookup(id)
	d.mu.RUnlock()
	if !ok {
		return nil, false
	}
	recorded := found.chunk.UncompressedSize
	if recorded == 0 || recorded == uncompressedSize {
		return found.chunk, true
	}
	return nil, false
}

// RefCount returns how many times id has been added.
func (d *HashDict) RefCount(id digest.Digest) (uint32, bool) {
	d.mu.RLock()
	found, ok := d.lookup(id)
	d.mu.RUnlock()
	if !ok {
		return 0, false
	}
	return found.refs.Load(), true
}

// Len returns the number of distinct digests.
func (d *HashDict) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.entries)
}

// Each calls fn for every distinct chunk in insertion order, with its
// current reference count. fn must not call AddChunk.
func (d *HashDict) Each(fn func(chunk *rafs.Chunk, refs uint32) bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, e := range d.entries {
		if !fn(e.chunk, e.refs.Load()) {
			return
		}
	}
}

func (d *HashDict) Blobs() []*rafs.BlobInfo { return slices.Clone(d.blobs) }

func (d *HashDict) BlobByInnerIndex(idx uint32) (*rafs.BlobInfo, bool) {
	if int(idx) >= len(d.blobs) {
		return nil, false
	}
	return d.blobs[idx], true
}

func (d *HashDict) SetRealBlobIndex(inner, external uint32) error {
	d.realMu.Lock()
	d.realIndex[inner] = external
	d.realMu.Unlock()
	return nil
}

func (d *HashDict) RealBlobIndex(inner uint32) (uint32, bool) {
	d.realMu.Lock()
	defer d.realMu.Unlock()
	external, ok := d.realIndex[inner]
	return external, ok
}

func (d *HashDict) Digester() digest.Algorithm { return d.digester }
