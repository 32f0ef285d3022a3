// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package chunkdict

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/rafs"
)

// Candidate is a chunk cut from a source tree that a builder would
// otherwise write to a new blob.
type Candidate struct {
	ID               digest.Digest
	UncompressedSize uint32
}

// BlobAllocator assigns an external blob index to a dictionary blob
// the first time a build references it. It is called at most once per
// inner index for each Resolve call.
type BlobAllocator func(blob *rafs.BlobInfo) (uint32, error)

// ResolverConfig configures a [Resolver].
type ResolverConfig struct {
	// Dict is the dictionary consulted for every candidate. Required.
	Dict ChunkDict

	// Allocate assigns external blob indexes. Required.
	Allocate BlobAllocator

	// Workers is the number of goroutines resolving candidates. If
	// zero or negative, defaults to runtime.NumCPU().
	Workers int

	// Logger receives per-build summaries. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Resolution is the outcome for one candidate.
type Resolution struct {
	// Chunk is the dictionary record to reference, or nil when the
	// candidate must be written as new data.
	Chunk *rafs.Chunk

	// BlobIndex is the external index of Chunk's blob in the new
	// image. Meaningless when Chunk is nil.
	BlobIndex uint32
}

// ResolveResult summarizes a Resolve call. Resolutions is index-aligned
// with the candidates passed in.
type ResolveResult struct {
	Resolutions []Resolution
	Reused      int
	BytesSaved  uint64
}

// Resolver decides, for each chunk of a build, whether to reuse a
// dictionary chunk or emit new data.
type Resolver struct {
	dict     ChunkDict
	allocate BlobAllocator
	workers  int
	logger   *slog.Logger

	// allocMu serializes blob allocation so each inner index is
	// allocated exactly once.
	allocMu sync.Mutex
}

// NewResolver validates config and returns a Resolver.
func NewResolver(config ResolverConfig) (*Resolver, error) {
	if config.Dict == nil {
		return nil, fmt.Errorf("chunkdict: resolver requires a Dict")
	}
	if config.Allocate == nil {
		return nil, fmt.Errorf("chunkdict: resolver requires an Allocate function")
	}
	workers := config.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		dict:     config.Dict,
		allocate: config.Allocate,
		workers:  workers,
		logger:   logger,
	}, nil
}

// Resolve looks up every candidate in the dictionary using the worker
// pool. Candidates whose digester differs from the dictionary's never
// match. The first allocation error stops the remaining work and is
// returned; so is ctx's error if it is cancelled first.
func (r *Resolver) Resolve(ctx context.Context, candidates []Candidate) (ResolveResult, error) {
	result := ResolveResult{Resolutions: make([]Resolution, len(candidates))}
	if len(candidates) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var (
		wg       sync.WaitGroup
		errOnce  sync.Once
		firstErr error
	)
	fail := func(err error) {
		errOnce.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for range min(r.workers, len(candidates)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				resolution, err := r.resolveOne(candidates[i])
				if err != nil {
					fail(err)
					continue
				}
				result.Resolutions[i] = resolution
			}
		}()
	}

feed:
	for i := range candidates {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return ResolveResult{}, firstErr
	}
	if err := ctx.Err(); err != nil {
		return ResolveResult{}, err
	}

	for _, resolution := range result.Resolutions {
		if resolution.Chunk != nil {
			result.Reused++
			result.BytesSaved += uint64(resolution.Chunk.CompressedSize)
		}
	}
	r.logger.Debug("chunk dictionary resolve finished",
		"candidates", len(candidates),
		"reused", result.Reused,
		"bytes_saved", result.BytesSaved,
	)
	return result, nil
}

func (r *Resolver) resolveOne(candidate Candidate) (Resolution, error) {
	if candidate.ID.Algorithm != r.dict.Digester() {
		return Resolution{}, nil
	}
	chunk, ok := r.dict.GetChunk(candidate.ID, candidate.UncompressedSize)
	if !ok {
		return Resolution{}, nil
	}
	external, err := r.externalIndex(chunk.BlobIndex)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Chunk: chunk, BlobIndex: external}, nil
}

func (r *Resolver) externalIndex(inner uint32) (uint32, error) {
	if external, ok := r.dict.RealBlobIndex(inner); ok {
		return external, nil
	}

	r.allocMu.Lock()
	defer r.allocMu.Unlock()
	if external, ok := r.dict.RealBlobIndex(inner); ok {
		return external, nil
	}
	blob, ok := r.dict.BlobByInnerIndex(inner)
	if !ok {
		return 0, fmt.Errorf("chunkdict: chunk references unknown dictionary blob %d", inner)
	}
	external, err := r.allocate(blob)
	if err != nil {
		return 0, fmt.Errorf("allocating blob %s: %w", blob.BlobID, err)
	}
	if err := r.dict.SetRealBlobIndex(inner, external); err != nil {
		return 0, err
	}
	r.logger.Debug("dictionary blob referenced",
		"blob_id", blob.BlobID,
		"inner_index", inner,
		"external_index", external,
	)
	return external, nil
}
