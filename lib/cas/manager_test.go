// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/bergwolf/nydus/lib/clock"
	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/testutil"
)

func newTestManager(t *testing.T) (*Manager, *memoryIndex) {
	t.Helper()
	index := newMemoryIndex()
	manager, err := New(Config{Index: index})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager, index
}

// writeSource writes a file of size bytes with a position-dependent
// pattern so misplaced copies are detectable.
func writeSource(t *testing.T, path string, size int) []byte {
	t.Helper()
	data := make([]byte, size)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return data
}

func createDestination(t *testing.T, size int64) *os.File {
	t.Helper()
	file, err := os.Create(filepath.Join(t.TempDir(), "destination"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := file.Truncate(size); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	t.Cleanup(func() { file.Close() })
	return file
}

func readAt(t *testing.T, file *os.File, offset int64, size int) []byte {
	t.Helper()
	buffer := make([]byte, size)
	if _, err := file.ReadAt(buffer, offset); err != nil {
		t.Fatalf("ReadAt: %v", err)
	}
	return buffer
}

var blake3Blob = testBlob{algorithm: digest.Blake3}

func chunkFor(data []byte, offset uint64, size uint32) testChunk {
	return testChunk{
		id:     digest.Compute(digest.Blake3, data[offset:offset+uint64(size)]),
		offset: offset,
		size:   size,
	}
}

func TestNewRequiresIndex(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Fatal("New without Index should fail")
	}
}

func TestChunkKey(t *testing.T) {
	id := digest.Compute(digest.Sha256, []byte("chunk"))
	chunk := testChunk{id: id}

	got := ChunkKey(testBlob{algorithm: digest.Sha256}, chunk)
	want := "sha256:" + id.Hex()
	if got != want {
		t.Errorf("ChunkKey = %q, want %q", got, want)
	}

	// The key prefix comes from the blob, not from the chunk digest.
	got = ChunkKey(testBlob{algorithm: digest.Blake3}, chunk)
	if want := "blake3:" + id.Hex(); got != want {
		t.Errorf("ChunkKey = %q, want %q", got, want)
	}

	if got := ChunkKey(blake3Blob, testChunk{}); got != "" {
		t.Errorf("ChunkKey(zero digest) = %q, want empty", got)
	}
}

func TestRecordAndDedup(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	sourcePath := filepath.Join(t.TempDir(), "source.blob.data")
	data := writeSource(t, sourcePath, 64*1024)
	chunk := chunkFor(data, 4096, 8192)

	if err := manager.RecordChunk(ctx, blake3Blob, chunk, sourcePath); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}

	// The destination chunk lives at a different offset than the
	// source copy; the copy must land at the destination's offset and
	// read from the recorded source offset.
	destinationChunk := testChunk{id: chunk.id, offset: 20000, size: chunk.size}
	destination := createDestination(t, 64*1024)
	if !manager.DedupChunk(ctx, blake3Blob, destinationChunk, destination) {
		t.Fatal("DedupChunk = false, want true")
	}

	got := readAt(t, destination, 20000, 8192)
	if !bytes.Equal(got, data[4096:4096+8192]) {
		t.Error("deduplicated bytes differ from source range")
	}
	// Bytes outside the chunk stay untouched.
	if before := readAt(t, destination, 19999, 1); before[0] != 0 {
		t.Errorf("byte before chunk = %d, want 0", before[0])
	}

	stats := manager.Stats()
	if stats.Hits != 1 || stats.CopiedBytes != 8192 || stats.Records != 1 {
		t.Errorf("Stats = %+v, want 1 hit, 8192 copied bytes, 1 record", stats)
	}
}

func TestRecordChunkCanonicalizesPath(t *testing.T) {
	ctx := context.Background()
	manager, index := newTestManager(t)

	directory := t.TempDir()
	realPath := filepath.Join(directory, "real.blob.data")
	data := writeSource(t, realPath, 4096)
	linkPath := filepath.Join(directory, "link.blob.data")
	if err := os.Symlink(realPath, linkPath); err != nil {
		t.Fatalf("Symlink: %v", err)
	}

	chunk := chunkFor(data, 0, 1024)
	if err := manager.RecordChunk(ctx, blake3Blob, chunk, linkPath); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}

	location, found, err := manager.Lookup(ctx, ChunkKey(blake3Blob, chunk))
	if err != nil || !found {
		t.Fatalf("Lookup = (%v, %v, %v), want found", location, found, err)
	}
	wantPath, _ := filepath.EvalSymlinks(realPath)
	if location.Path != wantPath {
		t.Errorf("recorded path = %q, want %q", location.Path, wantPath)
	}
	if len(index.blobs) != 1 {
		t.Errorf("blob count = %d, want 1", len(index.blobs))
	}
}

func TestRecordChunkMissingFile(t *testing.T) {
	manager, index := newTestManager(t)
	chunk := chunkFor([]byte("abcdef"), 0, 6)
	err := manager.RecordChunk(context.Background(), blake3Blob, chunk, filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatal("RecordChunk on a missing file should fail")
	}
	if len(index.blobs) != 0 {
		t.Errorf("blob count = %d, want 0", len(index.blobs))
	}
}

func TestRecordChunkRawStoresVerbatim(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	if err := manager.RecordChunkRaw(ctx, "sha256:feed", "relative/path", 77); err != nil {
		t.Fatalf("RecordChunkRaw: %v", err)
	}
	location, found, err := manager.Lookup(ctx, "sha256:feed")
	if err != nil || !found {
		t.Fatalf("Lookup = (%v, %v, %v), want found", location, found, err)
	}
	if location.Path != "relative/path" || location.Offset != 77 {
		t.Errorf("Lookup = %+v, want {relative/path 77}", location)
	}
}

func TestZeroDigestSkipsIndex(t *testing.T) {
	ctx := context.Background()
	manager, index := newTestManager(t)
	zero := testChunk{offset: 0, size: 16}

	if manager.DedupChunk(ctx, blake3Blob, zero, createDestination(t, 16)) {
		t.Error("DedupChunk(zero digest) = true, want false")
	}
	if err := manager.RecordChunk(ctx, blake3Blob, zero, "/does/not/matter"); err != nil {
		t.Errorf("RecordChunk(zero digest) = %v, want nil", err)
	}
	if index.lookupCount() != 0 || len(index.blobs) != 0 {
		t.Errorf("index touched: %d lookups, %d blobs", index.lookupCount(), len(index.blobs))
	}
}

func TestDedupUnknownChunk(t *testing.T) {
	manager, _ := newTestManager(t)
	chunk := chunkFor([]byte("never recorded"), 0, 5)
	if manager.DedupChunk(context.Background(), blake3Blob, chunk, createDestination(t, 16)) {
		t.Error("DedupChunk = true for unrecorded chunk")
	}
	if stats := manager.Stats(); stats.Misses != 1 {
		t.Errorf("Misses = %d, want 1", stats.Misses)
	}
}

func TestDedupLookupErrorIsMiss(t *testing.T) {
	manager, index := newTestManager(t)
	index.lookupErr = errors.New("disk on fire")
	chunk := chunkFor([]byte("abc"), 0, 3)
	if manager.DedupChunk(context.Background(), blake3Blob, chunk, createDestination(t, 3)) {
		t.Error("DedupChunk = true despite lookup error")
	}
}

func TestDedupNonexistentSource(t *testing.T) {
	ctx := context.Background()
	manager, index := newTestManager(t)

	missing := filepath.Join(t.TempDir(), "gone.blob.data")
	chunk := testChunk{id: digest.Compute(digest.Blake3, []byte("gone")), size: 4}
	if err := manager.RecordChunkRaw(ctx, ChunkKey(blake3Blob, chunk), missing, 0); err != nil {
		t.Fatalf("RecordChunkRaw: %v", err)
	}

	if manager.DedupChunk(ctx, blake3Blob, chunk, createDestination(t, 4)) {
		t.Fatal("DedupChunk = true for missing source")
	}
	if _, ok := index.blobs[missing]; ok {
		t.Error("missing source still indexed after failed open")
	}
}

func TestDedupShortSource(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	sourcePath := filepath.Join(t.TempDir(), "short.blob.data")
	data := writeSource(t, sourcePath, 1000)
	chunk := chunkFor(data, 0, 1000)
	if err := manager.RecordChunk(ctx, blake3Blob, chunk, sourcePath); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}
	if err := os.Truncate(sourcePath, 500); err != nil {
		t.Fatalf("Truncate: %v", err)
	}
	if manager.DedupChunk(ctx, blake3Blob, chunk, createDestination(t, 1000)) {
		t.Error("DedupChunk = true for a truncated source")
	}
}

func TestDeletedSourceThenGC(t *testing.T) {
	ctx := context.Background()
	manager, index := newTestManager(t)
	directory := t.TempDir()

	keptPath := filepath.Join(directory, "kept.blob.data")
	keptData := writeSource(t, keptPath, 4096)
	keptChunk := chunkFor(keptData, 0, 4096)

	deletedPath := filepath.Join(directory, "deleted.blob.data")
	deletedData := bytes.Repeat([]byte("x"), 2048)
	if err := os.WriteFile(deletedPath, deletedData, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	deletedChunk := chunkFor(deletedData, 0, 2048)

	if err := manager.RecordChunk(ctx, blake3Blob, keptChunk, keptPath); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}
	if err := manager.RecordChunk(ctx, blake3Blob, deletedChunk, deletedPath); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}
	canonicalDeleted, _ := filepath.EvalSymlinks(deletedPath)

	// Prime the handle cache, then delete the file out from under it.
	if !manager.DedupChunk(ctx, blake3Blob, deletedChunk, createDestination(t, 2048)) {
		t.Fatal("first DedupChunk = false, want true")
	}
	if err := os.Remove(deletedPath); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if manager.DedupChunk(ctx, blake3Blob, deletedChunk, createDestination(t, 2048)) {
		t.Fatal("DedupChunk = true after source was deleted")
	}
	if stats := manager.Stats(); stats.StaleDropped != 1 {
		t.Errorf("StaleDropped = %d, want 1", stats.StaleDropped)
	}
	if _, found, _ := manager.Lookup(ctx, ChunkKey(blake3Blob, deletedChunk)); found {
		t.Error("stale chunk still indexed after failed dedup")
	}

	// A row that no dedup attempt touches, so only GC can remove it.
	otherChunk := testChunk{id: digest.Compute(digest.Blake3, []byte("other")), offset: 1024, size: 16}
	if err := manager.RecordChunkRaw(ctx, ChunkKey(blake3Blob, otherChunk), canonicalDeleted, 1024); err != nil {
		t.Fatalf("RecordChunkRaw: %v", err)
	}

	result, err := manager.GC(ctx)
	if err != nil {
		t.Fatalf("GC: %v", err)
	}
	if len(result.Removed) != 1 || result.Removed[0] != canonicalDeleted {
		t.Errorf("GC removed %v, want [%s]", result.Removed, canonicalDeleted)
	}
	if result.Scanned != 2 {
		t.Errorf("GC scanned %d, want 2", result.Scanned)
	}

	if _, found, _ := manager.Lookup(ctx, ChunkKey(blake3Blob, otherChunk)); found {
		t.Error("chunk in deleted file still indexed after GC")
	}
	location, found, err := manager.Lookup(ctx, ChunkKey(blake3Blob, keptChunk))
	if err != nil || !found {
		t.Fatalf("kept chunk Lookup = (%v, %v, %v), want found", location, found, err)
	}
	blobs, _ := index.GetAllBlobs(ctx)
	if len(blobs) != 1 {
		t.Errorf("blobs after GC = %v, want only %s", blobs, keptPath)
	}
	if stats := manager.Stats(); stats.GCRemoved != 1 {
		t.Errorf("GCRemoved = %d, want 1", stats.GCRemoved)
	}
}

func TestReplacedSourceIsStale(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	sourcePath := filepath.Join(t.TempDir(), "swap.blob.data")
	data := writeSource(t, sourcePath, 4096)
	chunk := chunkFor(data, 0, 4096)
	if err := manager.RecordChunk(ctx, blake3Blob, chunk, sourcePath); err != nil {
		t.Fatalf("RecordChunk: %v", err)
	}
	canonical, _ := filepath.EvalSymlinks(sourcePath)

	if !manager.DedupChunk(ctx, blake3Blob, chunk, createDestination(t, 4096)) {
		t.Fatal("first DedupChunk = false")
	}

	// Replace via rename: the cached handle now refers to an unlinked
	// inode while the path names a different file.
	replacement := canonical + ".new"
	if err := os.WriteFile(replacement, make([]byte, 4096), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.Rename(replacement, canonical); err != nil {
		t.Fatalf("Rename: %v", err)
	}

	if manager.DedupChunk(ctx, blake3Blob, chunk, createDestination(t, 4096)) {
		t.Error("DedupChunk = true after source was replaced")
	}
	if manager.OpenHandles() != 0 {
		t.Errorf("OpenHandles = %d, want 0 after eviction", manager.OpenHandles())
	}
}

func TestConcurrentDedupSharesHandle(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)

	sourcePath := filepath.Join(t.TempDir(), "shared.blob.data")
	data := writeSource(t, sourcePath, 256*1024)

	const chunkSize = 4096
	const chunkCount = 64
	chunks := make([]testChunk, chunkCount)
	for i := range chunks {
		chunks[i] = chunkFor(data, uint64(i*chunkSize), chunkSize)
		if err := manager.RecordChunk(ctx, blake3Blob, chunks[i], sourcePath); err != nil {
			t.Fatalf("RecordChunk: %v", err)
		}
	}

	destination := createDestination(t, int64(len(data)))
	var wg sync.WaitGroup
	failures := make(chan int, chunkCount)
	for i := range chunks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !manager.DedupChunk(ctx, blake3Blob, chunks[i], destination) {
				failures <- i
			}
		}()
	}
	wg.Wait()
	close(failures)
	for i := range failures {
		t.Errorf("DedupChunk(chunk %d) = false", i)
	}

	if manager.OpenHandles() != 1 {
		t.Errorf("OpenHandles = %d, want 1", manager.OpenHandles())
	}
	if got := readAt(t, destination, 0, len(data)); !bytes.Equal(got, data) {
		t.Error("destination differs from source after concurrent dedup")
	}
}

// Eviction closes handles while other goroutines copy from them, and
// decoy opens recycle the freed descriptor numbers. A dedup that
// reports success must still have copied the recorded bytes.
func TestDedupDuringEvictionCopiesRecordedBytes(t *testing.T) {
	ctx := context.Background()
	manager, _ := newTestManager(t)
	directory := t.TempDir()

	sourcePath := filepath.Join(directory, "source.blob.data")
	data := writeSource(t, sourcePath, 64*1024)
	decoyPath := filepath.Join(directory, "decoy")
	if err := os.WriteFile(decoyPath, bytes.Repeat([]byte{0xee}, len(data)), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	const chunkSize = 4096
	chunks := make([]testChunk, len(data)/chunkSize)
	for i := range chunks {
		chunks[i] = chunkFor(data, uint64(i*chunkSize), chunkSize)
		if err := manager.RecordChunk(ctx, blake3Blob, chunks[i], sourcePath); err != nil {
			t.Fatalf("RecordChunk: %v", err)
		}
	}
	canonical, err := canonicalPath(sourcePath)
	if err != nil {
		t.Fatalf("canonicalPath: %v", err)
	}

	stop := make(chan struct{})
	evictorDone := make(chan struct{})
	go func() {
		defer close(evictorDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			manager.evict(canonical)
			if decoy, err := os.Open(decoyPath); err == nil {
				decoy.Close()
			}
		}
	}()

	const workers = 8
	const rounds = 100
	var wg sync.WaitGroup
	for worker := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			destination, err := os.Create(filepath.Join(directory, "destination-"+strconv.Itoa(worker)))
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			defer destination.Close()
			zero := make([]byte, chunkSize)
			got := make([]byte, chunkSize)
			for round := range rounds {
				chunk := chunks[(worker+round)%len(chunks)]
				offset := int64(chunk.offset)
				if _, err := destination.WriteAt(zero, offset); err != nil {
					t.Errorf("WriteAt: %v", err)
					return
				}
				if !manager.DedupChunk(ctx, blake3Blob, chunk, destination) {
					continue
				}
				if _, err := destination.ReadAt(got, offset); err != nil {
					t.Errorf("ReadAt: %v", err)
					return
				}
				if !bytes.Equal(got, data[offset:offset+chunkSize]) {
					t.Errorf("worker %d round %d: dedup succeeded with wrong bytes at %d", worker, round, offset)
				}
			}
		}()
	}
	wg.Wait()
	close(stop)
	<-evictorDone

	// Losing a race with eviction is a miss, not evidence that the
	// source went stale.
	if _, found, err := manager.Lookup(ctx, ChunkKey(blake3Blob, chunks[0])); err != nil || !found {
		t.Errorf("Lookup after eviction race = (%v, %v), want found", found, err)
	}
	if stats := manager.Stats(); stats.StaleDropped != 0 {
		t.Errorf("StaleDropped = %d, want 0", stats.StaleDropped)
	}
}

func TestCopyRangeBuffered(t *testing.T) {
	directory := t.TempDir()
	sourcePath := filepath.Join(directory, "source")
	data := writeSource(t, sourcePath, 3*copyBufferSize+17)
	source, err := os.Open(sourcePath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer source.Close()

	destination := createDestination(t, int64(len(data)))
	size := int64(2*copyBufferSize + 5)
	if err := copyRangeBuffered(source, 11, destination, 3, size); err != nil {
		t.Fatalf("copyRangeBuffered: %v", err)
	}
	if got := readAt(t, destination, 3, int(size)); !bytes.Equal(got, data[11:11+size]) {
		t.Error("buffered copy produced different bytes")
	}

	if err := copyRangeBuffered(source, int64(len(data))-4, destination, 0, 8); err == nil {
		t.Error("copyRangeBuffered past end of source should fail")
	}
}

func TestCloseClosesIndex(t *testing.T) {
	index := newMemoryIndex()
	manager, err := New(Config{Index: index})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !index.closed {
		t.Error("index not closed")
	}
}

func TestRunGC(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	manager, index := newTestManager(t)

	missing := filepath.Join(t.TempDir(), "missing.blob.data")
	if err := manager.RecordChunkRaw(ctx, "blake3:aa", missing, 0); err != nil {
		t.Fatalf("RecordChunkRaw: %v", err)
	}

	fake := clock.Fake(time.Unix(0, 0))
	done := make(chan struct{})
	go func() {
		manager.RunGC(ctx, fake, time.Minute)
		close(done)
	}()

	fake.WaitForTimers(1)
	fake.Advance(time.Minute)

	testutil.Eventually(t, 5*time.Second, func() bool {
		return manager.Stats().GCRemoved == 1
	}, "periodic gc pass")
	blobs, _ := index.GetAllBlobs(ctx)
	if len(blobs) != 0 {
		t.Errorf("blobs after RunGC = %v, want none", blobs)
	}

	cancel()
	testutil.RequireClosed(t, done, 5*time.Second, "RunGC exit after cancel")
}
