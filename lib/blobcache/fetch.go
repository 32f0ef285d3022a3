// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package blobcache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bergwolf/nydus/lib/rafs"
)

// FetchResult counts what a fetch did with each chunk.
type FetchResult struct {
	// Deduplicated chunks were copied from another local file.
	Deduplicated int
	// Fetched chunks were read from the backend.
	Fetched int
	// AlreadyReady chunks were filled by an earlier fetch.
	AlreadyReady int

	DeduplicatedBytes uint64
	// FetchedBytes counts stored (compressed) bytes read from the
	// backend.
	FetchedBytes uint64
}

func (r *FetchResult) add(other FetchResult) {
	r.Deduplicated += other.Deduplicated
	r.Fetched += other.Fetched
	r.AlreadyReady += other.AlreadyReady
	r.DeduplicatedBytes += other.DeduplicatedBytes
	r.FetchedBytes += other.FetchedBytes
}

type fetchCounters struct {
	deduplicated, fetched, alreadyReady atomic.Int64
	deduplicatedBytes, fetchedBytes     atomic.Uint64
}

// FetchChunks makes every chunk of blob ready in its cache file. The
// first backend, decode, or write error cancels the remaining work
// and is returned.
func (c *Cache) FetchChunks(ctx context.Context, blob *rafs.BlobInfo, chunks []*rafs.Chunk) (FetchResult, error) {
	entry, err := c.open(blob)
	if err != nil {
		return FetchResult{}, err
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	var counters fetchCounters
	jobs := make(chan *rafs.Chunk)
	var wg sync.WaitGroup
	for range min(c.workers, max(len(chunks), 1)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range jobs {
				if err := c.fetchChunk(ctx, blob, entry, chunk, &counters); err != nil {
					cancel(err)
					return
				}
			}
		}()
	}

dispatch:
	for _, chunk := range chunks {
		select {
		case jobs <- chunk:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()

	result := FetchResult{
		Deduplicated:      int(counters.deduplicated.Load()),
		Fetched:           int(counters.fetched.Load()),
		AlreadyReady:      int(counters.alreadyReady.Load()),
		DeduplicatedBytes: counters.deduplicatedBytes.Load(),
		FetchedBytes:      counters.fetchedBytes.Load(),
	}
	if err := context.Cause(ctx); err != nil {
		return result, fmt.Errorf("blobcache: fetching %s: %w", blob, err)
	}
	return result, nil
}

func (c *Cache) fetchChunk(ctx context.Context, blob *rafs.BlobInfo, entry *blobFile, chunk *rafs.Chunk, counters *fetchCounters) error {
	if entry.isReady(chunk.Index) {
		counters.alreadyReady.Add(1)
		return nil
	}

	if c.dedup.DedupChunk(ctx, blob, chunk, entry.file) {
		entry.markReady(chunk.Index)
		counters.deduplicated.Add(1)
		counters.deduplicatedBytes.Add(uint64(chunk.UncompressedSize))
		return nil
	}

	data, err := c.readChunk(ctx, blob, chunk)
	if err != nil {
		return err
	}
	if _, err := entry.file.WriteAt(data, int64(chunk.UncompressedOffset)); err != nil {
		return fmt.Errorf("writing %s to %s: %w", chunk, entry.path, err)
	}
	entry.markReady(chunk.Index)
	counters.fetched.Add(1)
	counters.fetchedBytes.Add(uint64(chunk.CompressedSize))

	if err := c.dedup.RecordChunk(ctx, blob, chunk, entry.path); err != nil {
		c.logger.Warn("failed to record chunk for dedup",
			"blob", blob.BlobID,
			"chunk", chunk.ID.Hex(),
			"path", entry.path,
			"error", err,
		)
	}
	return nil
}

// FetchBootstrap fetches every chunk referenced by the files of
// bootstrap, blob by blob. A chunk referenced by several files is
// fetched once.
func (c *Cache) FetchBootstrap(ctx context.Context, bootstrap *rafs.Bootstrap) (FetchResult, error) {
	blobs := bootstrap.Blobs()
	perBlob := make([][]*rafs.Chunk, len(blobs))
	seen := make([]map[uint32]bool, len(blobs))

	err := bootstrap.WalkChunks(func(_ string, chunk *rafs.Chunk) error {
		index := chunk.BlobIndex
		if seen[index] == nil {
			seen[index] = make(map[uint32]bool)
		}
		if seen[index][chunk.Index] {
			return nil
		}
		seen[index][chunk.Index] = true
		perBlob[index] = append(perBlob[index], chunk)
		return nil
	})
	if err != nil {
		return FetchResult{}, fmt.Errorf("blobcache: walking %s: %w", bootstrap.Path(), err)
	}

	var total FetchResult
	for index, chunks := range perBlob {
		if len(chunks) == 0 {
			continue
		}
		result, err := c.FetchChunks(ctx, blobs[index], chunks)
		total.add(result)
		if err != nil {
			return total, err
		}
		c.logger.Debug("blob fetched",
			"blob", blobs[index].BlobID,
			"chunks", len(chunks),
			"deduplicated", result.Deduplicated,
			"fetched", result.Fetched,
		)
	}
	return total, nil
}
