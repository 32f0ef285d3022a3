// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package castest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/bergwolf/nydus/lib/cas"
	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/rafs"
)

// RunManagerTests runs [cas.Manager] scenarios over open whose outcome
// depends on how the engine isolates concurrent writes.
func RunManagerTests(t *testing.T, open Opener) {
	t.Run("ConcurrentGC", func(t *testing.T) { testConcurrentGC(t, open) })
}

const (
	gcFiles     = 8
	gcChunks    = 16
	gcChunkSize = 4096
)

// gcChunkContent returns chunk j's bytes. Every chunk has a distinct
// pattern so a copy from the wrong place is visible.
func gcChunkContent(j int) []byte {
	pattern := []byte(fmt.Sprintf("chunk %04d|", j))
	return bytes.Repeat(pattern, gcChunkSize/len(pattern)+1)[:gcChunkSize]
}

// gcSlot is where file i stores chunk j. Files disagree on placement,
// so pairing one file's offset with another file's handle reads the
// wrong chunk.
func gcSlot(i, j int) uint64 {
	return uint64((i+j)%gcChunks) * gcChunkSize
}

// testConcurrentGC races dedup and record workers against a GC loop
// while half the source files are deleted. Every successful dedup must
// have copied the right bytes, and once the race is over a final GC
// must leave no trace of the deleted files.
func testConcurrentGC(t *testing.T, open Opener) {
	ctx := context.Background()
	directory, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("EvalSymlinks: %v", err)
	}
	manager, err := cas.New(cas.Config{Index: open(t, directory)})
	if err != nil {
		t.Fatalf("cas.New: %v", err)
	}
	defer manager.Close()

	blob := &rafs.BlobInfo{Digester: digest.Blake3}
	contents := make([][]byte, gcChunks)
	ids := make([]digest.Digest, gcChunks)
	for j := range contents {
		contents[j] = gcChunkContent(j)
		ids[j] = digest.Compute(digest.Blake3, contents[j])
	}
	sourceChunk := func(i, j int) *rafs.Chunk {
		return &rafs.Chunk{ID: ids[j], UncompressedOffset: gcSlot(i, j), UncompressedSize: gcChunkSize}
	}

	paths := make([]string, gcFiles)
	for i := range paths {
		paths[i] = filepath.Join(directory, fmt.Sprintf("source-%d.blob.data", i))
		data := make([]byte, gcChunks*gcChunkSize)
		for j := range contents {
			copy(data[gcSlot(i, j):], contents[j])
		}
		if err := os.WriteFile(paths[i], data, 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
		for j := range contents {
			if err := manager.RecordChunk(ctx, blob, sourceChunk(i, j), paths[i]); err != nil {
				t.Fatalf("RecordChunk: %v", err)
			}
		}
	}
	deleted := paths[:gcFiles/2]

	stop := make(chan struct{})
	gcDone := make(chan struct{})
	go func() {
		defer close(gcDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, err := manager.GC(ctx); err != nil {
				t.Errorf("GC: %v", err)
				return
			}
		}
	}()

	const workers = 8
	const rounds = 200
	var (
		wg         sync.WaitGroup
		deleteOnce sync.Once
	)
	for worker := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			destination, err := os.Create(filepath.Join(directory, fmt.Sprintf("destination-%d", worker)))
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			defer destination.Close()
			zero := make([]byte, gcChunkSize)
			readBack := make([]byte, gcChunkSize)

			for round := range rounds {
				if worker == 0 && round == rounds/2 {
					deleteOnce.Do(func() {
						for _, path := range deleted {
							if err := os.Remove(path); err != nil {
								t.Errorf("Remove: %v", err)
							}
						}
					})
				}

				j := (worker + round) % gcChunks
				offset := int64(j) * gcChunkSize
				if _, err := destination.WriteAt(zero, offset); err != nil {
					t.Errorf("WriteAt: %v", err)
					return
				}
				target := &rafs.Chunk{ID: ids[j], UncompressedOffset: uint64(offset), UncompressedSize: gcChunkSize}
				if manager.DedupChunk(ctx, blob, target, destination) {
					if _, err := destination.ReadAt(readBack, offset); err != nil {
						t.Errorf("ReadAt: %v", err)
						return
					}
					if !bytes.Equal(readBack, contents[j]) {
						t.Errorf("worker %d round %d: DedupChunk reported success but copied wrong bytes for chunk %d", worker, round, j)
					}
				}

				if round%4 == 0 {
					i := (worker + round) % gcFiles
					err := manager.RecordChunk(ctx, blob, sourceChunk(i, j), paths[i])
					if err != nil && !errors.Is(err, fs.ErrNotExist) {
						t.Errorf("RecordChunk: %v", err)
					}
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-gcDone

	if _, err := manager.GC(ctx); err != nil {
		t.Fatalf("final GC: %v", err)
	}

	gone := make(map[string]bool, len(deleted))
	for _, path := range deleted {
		gone[path] = true
	}
	blobs, err := manager.Blobs(ctx)
	if err != nil {
		t.Fatalf("Blobs: %v", err)
	}
	for _, registered := range blobs {
		if gone[registered.Path] {
			t.Errorf("deleted file %s still registered after GC", registered.Path)
		}
	}
	records, err := manager.Chunks(ctx)
	if err != nil {
		t.Fatalf("Chunks: %v", err)
	}
	for _, record := range records {
		if gone[record.Path] {
			t.Errorf("chunk %s still points at deleted file %s", record.Key, record.Path)
		}
	}

	// The surviving files still serve every chunk.
	destination, err := os.Create(filepath.Join(directory, "destination-final"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer destination.Close()
	for j := range contents {
		target := &rafs.Chunk{ID: ids[j], UncompressedOffset: uint64(j) * gcChunkSize, UncompressedSize: gcChunkSize}
		if !manager.DedupChunk(ctx, blob, target, destination) {
			t.Errorf("DedupChunk(chunk %d) after GC = false", j)
			continue
		}
		got := make([]byte, gcChunkSize)
		if _, err := destination.ReadAt(got, int64(j)*gcChunkSize); err != nil {
			t.Fatalf("ReadAt: %v", err)
		}
		if !bytes.Equal(got, contents[j]) {
			t.Errorf("chunk %d copied wrong bytes after GC", j)
		}
	}
	if stats := manager.Stats(); stats.Hits == 0 {
		t.Error("no dedup hits during the concurrent run")
	}
}
