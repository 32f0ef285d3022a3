// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package castest checks that a [cas.Index] implementation honors the
// index contract. Engine packages call [RunIndexTests] and
// [RunManagerTests] from their own tests.
package castest

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/bergwolf/nydus/lib/cas"
)

// Opener opens (or reopens) an index stored under directory.
type Opener func(t *testing.T, directory string) cas.Index

// RunIndexTests runs the shared index contract against open.
func RunIndexTests(t *testing.T, open Opener) {
	t.Run("AddBlobIdempotent", func(t *testing.T) { testAddBlobIdempotent(t, open) })
	t.Run("ChunkWithoutBlob", func(t *testing.T) { testChunkWithoutBlob(t, open) })
	t.Run("Miss", func(t *testing.T) { testMiss(t, open) })
	t.Run("EarliestBlobWins", func(t *testing.T) { testEarliestBlobWins(t, open) })
	t.Run("ReplaceOffset", func(t *testing.T) { testReplaceOffset(t, open) })
	t.Run("DeleteBlobs", func(t *testing.T) { testDeleteBlobs(t, open) })
	t.Run("GetAllChunks", func(t *testing.T) { testGetAllChunks(t, open) })
	t.Run("Reopen", func(t *testing.T) { testReopen(t, open) })
	t.Run("ConcurrentWriters", func(t *testing.T) { testConcurrentWriters(t, open) })
}

func openTemp(t *testing.T, open Opener) cas.Index {
	t.Helper()
	index := open(t, t.TempDir())
	t.Cleanup(func() { index.Close() })
	return index
}

func mustAdd(t *testing.T, index cas.Index, key string, offset uint64, path string) {
	t.Helper()
	ctx := context.Background()
	if err := index.AddBlob(ctx, path); err != nil {
		t.Fatalf("AddBlob(%s): %v", path, err)
	}
	if err := index.AddChunk(ctx, key, offset, path); err != nil {
		t.Fatalf("AddChunk(%s): %v", key, err)
	}
}

func mustLookup(t *testing.T, index cas.Index, key string) (cas.Location, bool) {
	t.Helper()
	location, found, err := index.GetChunkInfo(context.Background(), key)
	if err != nil {
		t.Fatalf("GetChunkInfo(%s): %v", key, err)
	}
	return location, found
}

func blobPaths(t *testing.T, index cas.Index) []string {
	t.Helper()
	blobs, err := index.GetAllBlobs(context.Background())
	if err != nil {
		t.Fatalf("GetAllBlobs: %v", err)
	}
	paths := make([]string, len(blobs))
	for i, blob := range blobs {
		paths[i] = blob.Path
	}
	return paths
}

func testAddBlobIdempotent(t *testing.T, open Opener) {
	ctx := context.Background()
	index := openTemp(t, open)

	for _, path := range []string{"/cache/a", "/cache/b", "/cache/a", "/cache/a"} {
		if err := index.AddBlob(ctx, path); err != nil {
			t.Fatalf("AddBlob(%s): %v", path, err)
		}
	}
	blobs, err := index.GetAllBlobs(ctx)
	if err != nil {
		t.Fatalf("GetAllBlobs: %v", err)
	}
	if len(blobs) != 2 {
		t.Fatalf("GetAllBlobs = %v, want 2 blobs", blobs)
	}
	if blobs[0].Path != "/cache/a" || blobs[1].Path != "/cache/b" {
		t.Errorf("GetAllBlobs order = %v, want /cache/a then /cache/b", blobs)
	}
	if blobs[0].ID >= blobs[1].ID {
		t.Errorf("blob ids %d, %d are not ascending in registration order", blobs[0].ID, blobs[1].ID)
	}
}

func testChunkWithoutBlob(t *testing.T, open Opener) {
	index := openTemp(t, open)
	if err := index.AddChunk(context.Background(), "blake3:01", 0, "/never/added"); err != nil {
		t.Fatalf("AddChunk: %v", err)
	}
	if _, found := mustLookup(t, index, "blake3:01"); found {
		t.Error("chunk found although its blob was never added")
	}
}

func testMiss(t *testing.T, open Opener) {
	index := openTemp(t, open)
	mustAdd(t, index, "blake3:01", 0, "/cache/a")
	if _, found := mustLookup(t, index, "blake3:02"); found {
		t.Error("lookup of unrecorded key reported found")
	}
	// A key that is a prefix of a recorded key is a different key.
	if _, found := mustLookup(t, index, "blake3:0"); found {
		t.Error("lookup of key prefix reported found")
	}
}

func testEarliestBlobWins(t *testing.T, open Opener) {
	index := openTemp(t, open)
	mustAdd(t, index, "blake3:01", 100, "/cache/first")
	mustAdd(t, index, "blake3:01", 200, "/cache/second")

	location, found := mustLookup(t, index, "blake3:01")
	if !found {
		t.Fatal("recorded chunk not found")
	}
	want := cas.Location{Path: "/cache/first", Offset: 100}
	if location != want {
		t.Errorf("GetChunkInfo = %+v, want %+v", location, want)
	}

	if err := index.DeleteBlobs(context.Background(), []string{"/cache/first"}); err != nil {
		t.Fatalf("DeleteBlobs: %v", err)
	}
	location, found = mustLookup(t, index, "blake3:01")
	want = cas.Location{Path: "/cache/second", Offset: 200}
	if !found || location != want {
		t.Errorf("after deleting first blob GetChunkInfo = (%+v, %v), want %+v", location, found, want)
	}
}

func testReplaceOffset(t *testing.T, open Opener) {
	index := openTemp(t, open)
	mustAdd(t, index, "sha256:aa", 10, "/cache/a")
	mustAdd(t, index, "sha256:aa", 4096, "/cache/a")

	location, found := mustLookup(t, index, "sha256:aa")
	if !found || location.Offset != 4096 {
		t.Errorf("GetChunkInfo = (%+v, %v), want offset 4096", location, found)
	}
	records, err := index.GetAllChunks(context.Background())
	if err != nil {
		t.Fatalf("GetAllChunks: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("GetAllChunks = %v, want a single row for (key, blob)", records)
	}
}

func testDeleteBlobs(t *testing.T, open Opener) {
	ctx := context.Background()
	index := openTemp(t, open)
	mustAdd(t, index, "blake3:01", 0, "/cache/a")
	mustAdd(t, index, "blake3:02", 4096, "/cache/a")
	mustAdd(t, index, "blake3:03", 0, "/cache/b")
	mustAdd(t, index, "blake3:04", 0, "/cache/c")

	if err := index.DeleteBlobs(ctx, nil); err != nil {
		t.Fatalf("DeleteBlobs(nil): %v", err)
	}
	if err := index.DeleteBlobs(ctx, []string{"/cache/a", "/cache/c", "/cache/unknown"}); err != nil {
		t.Fatalf("DeleteBlobs: %v", err)
	}

	for _, key := range []string{"blake3:01", "blake3:02", "blake3:04"} {
		if _, found := mustLookup(t, index, key); found {
			t.Errorf("%s still found after its blob was deleted", key)
		}
	}
	if location, found := mustLookup(t, index, "blake3:03"); !found || location.Path != "/cache/b" {
		t.Errorf("blake3:03 = (%+v, %v), want /cache/b", location, found)
	}
	if paths := blobPaths(t, index); !slices.Equal(paths, []string{"/cache/b"}) {
		t.Errorf("blobs = %v, want [/cache/b]", paths)
	}
	records, err := index.GetAllChunks(ctx)
	if err != nil {
		t.Fatalf("GetAllChunks: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("GetAllChunks = %v, want one row", records)
	}

	// The path can be registered again after deletion.
	mustAdd(t, index, "blake3:01", 8, "/cache/a")
	if location, found := mustLookup(t, index, "blake3:01"); !found || location.Offset != 8 {
		t.Errorf("re-added chunk = (%+v, %v), want offset 8", location, found)
	}
}

func testGetAllChunks(t *testing.T, open Opener) {
	index := openTemp(t, open)
	want := []cas.Record{
		{Key: "blake3:01", Path: "/cache/a", Offset: 0},
		{Key: "blake3:02", Path: "/cache/a", Offset: 4096},
		{Key: "blake3:01", Path: "/cache/b", Offset: 512},
	}
	for _, record := range want {
		mustAdd(t, index, record.Key, record.Offset, record.Path)
	}

	got, err := index.GetAllChunks(context.Background())
	if err != nil {
		t.Fatalf("GetAllChunks: %v", err)
	}
	sortRecords(got)
	sortRecords(want)
	if !slices.Equal(got, want) {
		t.Errorf("GetAllChunks = %v, want %v", got, want)
	}
}

func sortRecords(records []cas.Record) {
	slices.SortFunc(records, func(a, b cas.Record) int {
		return cmp.Or(cmp.Compare(a.Path, b.Path), cmp.Compare(a.Key, b.Key))
	})
}

func testReopen(t *testing.T, open Opener) {
	directory := t.TempDir()
	index := open(t, directory)
	mustAdd(t, index, "blake3:01", 64, "/cache/a")
	mustAdd(t, index, "blake3:02", 0, "/cache/b")
	if err := index.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened := open(t, directory)
	defer reopened.Close()
	location, found := mustLookup(t, reopened, "blake3:01")
	want := cas.Location{Path: "/cache/a", Offset: 64}
	if !found || location != want {
		t.Errorf("after reopen GetChunkInfo = (%+v, %v), want %+v", location, found, want)
	}

	// Ids keep increasing across reopen so registration order holds.
	mustAdd(t, reopened, "blake3:01", 0, "/cache/c")
	location, _ = mustLookup(t, reopened, "blake3:01")
	if location.Path != "/cache/a" {
		t.Errorf("after reopen lookup path = %s, want /cache/a", location.Path)
	}
	if paths := blobPaths(t, reopened); !slices.Equal(paths, []string{"/cache/a", "/cache/b", "/cache/c"}) {
		t.Errorf("blobs after reopen = %v", paths)
	}
}

func testConcurrentWriters(t *testing.T, open Opener) {
	index := openTemp(t, open)

	const writers = 16
	const chunksPerWriter = 32
	var wg sync.WaitGroup
	errs := make(chan error, writers)
	for writer := range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			// Half the writers share a path so AddBlob races on
			// the same row.
			path := fmt.Sprintf("/cache/%d", writer%(writers/2))
			for i := range chunksPerWriter {
				key := fmt.Sprintf("blake3:%02x%02x", writer, i)
				if err := index.AddBlob(ctx, path); err != nil {
					errs <- err
					return
				}
				if err := index.AddChunk(ctx, key, uint64(i), path); err != nil {
					errs <- err
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent write: %v", err)
	}

	if paths := blobPaths(t, index); len(paths) != writers/2 {
		t.Errorf("blob count = %d, want %d", len(paths), writers/2)
	}
	records, err := index.GetAllChunks(context.Background())
	if err != nil {
		t.Fatalf("GetAllChunks: %v", err)
	}
	if len(records) != writers*chunksPerWriter {
		t.Errorf("chunk rows = %d, want %d", len(records), writers*chunksPerWriter)
	}
}
