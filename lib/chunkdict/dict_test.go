// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package chunkdict

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/rafs"
)

func testChunk(algorithm digest.Algorithm, content string, size uint32) *rafs.Chunk {
	return &rafs.Chunk{
		ID:               digest.Compute(algorithm, []byte(content)),
		UncompressedSize: size,
		CompressedSize:   size / 2,
	}
}

func TestDisabled(t *testing.T) {
	var dict ChunkDict = Disabled{}

	chunk := testChunk(digest.Sha256, "a", 4096)
	dict.AddChunk(chunk, digest.Sha256)
	if _, ok := dict.GetChunk(chunk.ID, 0); ok {
		t.Error("Disabled.GetChunk should always miss")
	}
	if blobs := dict.Blobs(); len(blobs) != 0 {
		t.Errorf("Disabled.Blobs = %v, want empty", blobs)
	}
	if _, ok := dict.BlobByInnerIndex(0); ok {
		t.Error("Disabled.BlobByInnerIndex should miss")
	}
	if got, ok := dict.RealBlobIndex(5); !ok || got != 5 {
		t.Errorf("Disabled.RealBlobIndex(5) = %d, %t, want 5, true", got, ok)
	}
	if err := dict.SetRealBlobIndex(0, 1); !errors.Is(err, ErrDisabled) {
		t.Errorf("Disabled.SetRealBlobIndex error = %v, want ErrDisabled", err)
	}
	if dict.Digester() != digest.Sha256 {
		t.Errorf("Disabled.Digester = %v, want sha256", dict.Digester())
	}
}

func TestNew(t *testing.T) {
	dict := New(digest.Blake3)
	if dict.Digester() != digest.Blake3 {
		t.Errorf("Digester = %v, want blake3", dict.Digester())
	}
	if dict.Len() != 0 || len(dict.Blobs()) != 0 {
		t.Errorf("new dictionary has %d chunks and %d blobs, want none", dict.Len(), len(dict.Blobs()))
	}
}

func TestAddChunkCountsReferences(t *testing.T) {
	dict := New(digest.Sha256)
	chunk := testChunk(digest.Sha256, "shared", 4096)

	dict.AddChunk(chunk, digest.Sha256)
	if refs, _ := dict.RefCount(chunk.ID); refs != 1 {
		t.Errorf("RefCount after first add = %d, want 1", refs)
	}

	dict.AddChunk(chunk, digest.Sha256)
	if dict.Len() != 1 {
		t.Errorf("Len = %d, want 1", dict.Len())
	}
	if refs, _ := dict.RefCount(chunk.ID); refs != 2 {
		t.Errorf("RefCount after second add = %d, want 2", refs)
	}
}

func TestAddChunkIgnoresOtherDigester(t *testing.T) {
	dict := New(digest.Sha256)
	dict.AddChunk(testChunk(digest.Sha256, "a", 4096), digest.Sha256)

	other := testChunk(digest.Blake3, "b", 4096)
	dict.AddChunk(other, digest.Blake3)
	if dict.Len() != 1 {
		t.Errorf("Len = %d, want 1", dict.Len())
	}
	if _, ok := dict.RefCount(other.ID); ok {
		t.Error("chunk with mismatched digester was stored")
	}
}

func TestAddChunkKeepsFirstRecord(t *testing.T) {
	dict := New(digest.Blake3)
	first := testChunk(digest.Blake3, "x", 4096)
	first.BlobIndex = 1
	second := *first
	second.BlobIndex = 2

	dict.AddChunk(first, digest.Blake3)
	dict.AddChunk(&second, digest.Blake3)

	got, ok := dict.GetChunk(first.ID, 4096)
	if !ok {
		t.Fatal("GetChunk missed")
	}
	if got != first {
		t.Errorf("GetChunk returned blob %d record, want the first one added", got.BlobIndex)
	}
}

func TestGetChunkSizeMatching(t *testing.T) {
	tests := []struct {
		name     string
		stored   uint32
		query    uint32
		wantsHit bool
	}{
		{"legacy zero size matches any", 0, 12345, true},
		{"legacy zero size matches zero", 0, 0, true},
		{"smaller query misses", 8192, 4096, false},
		{"equal size hits", 8192, 8192, true},
		{"larger query misses", 8192, 16384, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			dict := New(digest.Blake3)
			chunk := testChunk(digest.Blake3, "data", test.stored)
			dict.AddChunk(chunk, digest.Blake3)

			_, hit := dict.GetChunk(chunk.ID, test.query)
			if hit != test.wantsHit {
				t.Errorf("GetChunk(stored=%d, query=%d) hit = %t, want %t",
					test.stored, test.query, hit, test.wantsHit)
			}
		})
	}

	dict := New(digest.Blake3)
	if _, ok := dict.GetChunk(digest.Digest{}, 0); ok {
		t.Error("GetChunk on empty dictionary should miss")
	}
}

func TestGetChunkDistinguishesAlgorithms(t *testing.T) {
	dict := New(digest.Sha256)
	chunk := testChunk(digest.Sha256, "data", 4096)
	dict.AddChunk(chunk, digest.Sha256)

	sameBytes := digest.Digest{Algorithm: digest.Blake3, Sum: chunk.ID.Sum}
	if _, ok := dict.GetChunk(sameBytes, 4096); ok {
		t.Error("GetChunk matched a digest of another algorithm with the same bytes")
	}
}

func TestConcurrentAddChunk(t *testing.T) {
	const workers = 64
	dict := New(digest.Blake3)
	chunk := testChunk(digest.Blake3, "popular", 4096)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			// Each worker adds its own copy of the record, as builder
			// workers do when they cut the same content independently.
			copied := *chunk
			dict.AddChunk(&copied, digest.Blake3)
		}()
	}
	close(start)
	wg.Wait()

	if dict.Len() != 1 {
		t.Errorf("Len = %d, want 1", dict.Len())
	}
	if refs, _ := dict.RefCount(chunk.ID); refs != workers {
		t.Errorf("RefCount = %d, want %d", refs, workers)
	}
}

func TestRealBlobIndex(t *testing.T) {
	dict := New(digest.Sha256)
	if _, ok := dict.RealBlobIndex(0); ok {
		t.Error("RealBlobIndex on fresh dictionary should miss")
	}

	if err := dict.SetRealBlobIndex(0, 5); err != nil {
		t.Fatalf("SetRealBlobIndex: %v", err)
	}
	if err := dict.SetRealBlobIndex(1, 10); err != nil {
		t.Fatalf("SetRealBlobIndex: %v", err)
	}
	if got, ok := dict.RealBlobIndex(0); !ok || got != 5 {
		t.Errorf("RealBlobIndex(0) = %d, %t, want 5, true", got, ok)
	}
	if got, ok := dict.RealBlobIndex(1); !ok || got != 10 {
		t.Errorf("RealBlobIndex(1) = %d, %t, want 10, true", got, ok)
	}
	if _, ok := dict.RealBlobIndex(99); ok {
		t.Error("RealBlobIndex(99) should miss")
	}

	dict.SetRealBlobIndex(0, 7)
	if got, _ := dict.RealBlobIndex(0); got != 7 {
		t.Errorf("RealBlobIndex(0) after overwrite = %d, want 7", got)
	}
}

func TestConcurrentRealBlobIndex(t *testing.T) {
	dict := New(digest.Blake3)

	var wg sync.WaitGroup
	for inner := range uint32(32) {
		wg.Add(2)
		go func() {
			defer wg.Done()
			dict.SetRealBlobIndex(inner, inner+100)
		}()
		go func() {
			defer wg.Done()
			dict.RealBlobIndex(inner)
		}()
	}
	wg.Wait()

	for inner := range uint32(32) {
		if got, ok := dict.RealBlobIndex(inner); !ok || got != inner+100 {
			t.Errorf("RealBlobIndex(%d) = %d, %t, want %d, true", inner, got, ok, inner+100)
		}
	}
}

func TestParseArg(t *testing.T) {
	tests := []struct {
		arg      string
		wantPath string
	}{
		{"bootstrap=/path/to/file", "/path/to/file"},
		{"/path/to/file", "/path/to/file"},
		{"~/image/image.boot", "~/image/image.boot"},
		{"bootstrap=/a=b", "/a=b"},
	}
	for _, test := range tests {
		sourceType, path, err := ParseArg(test.arg)
		if err != nil {
			t.Errorf("ParseArg(%q): %v", test.arg, err)
			continue
		}
		if sourceType != TypeBootstrap || path != test.wantPath {
			t.Errorf("ParseArg(%q) = %q, %q, want bootstrap, %q", test.arg, sourceType, path, test.wantPath)
		}
	}

	_, _, err := ParseArg("boltdb=/var/db/dict.db")
	if !errors.Is(err, ErrInvalidArg) {
		t.Fatalf("ParseArg(boltdb=...) error = %v, want ErrInvalidArg", err)
	}
	if want := "invalid chunk dict type boltdb"; !strings.Contains(err.Error(), want) {
		t.Errorf("error %q does not mention %q", err, want)
	}

	if _, _, err := ParseArg("bootstrap="); !errors.Is(err, ErrInvalidArg) {
		t.Errorf("ParseArg(bootstrap=) error = %v, want ErrInvalidArg", err)
	}
}
