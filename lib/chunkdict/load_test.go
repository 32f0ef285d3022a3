// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package chunkdict

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/bergwolf/nydus/lib/compress"
	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/rafs"
)

const testChunkSize = 0x100000

// writeSourceImage writes a bootstrap with two blobs and four chunk
// references, one of which repeats content so the dictionary sees it
// twice.
func writeSourceImage(t *testing.T, config rafs.WriterConfig) string {
	t.Helper()

	w := rafs.NewWriter(config)
	base := w.AddBlob(rafs.BlobInfo{BlobID: "base", ChunkCount: 2})
	app := w.AddBlob(rafs.BlobInfo{BlobID: "app", ChunkCount: 1})

	chunk := func(blob *rafs.BlobInfo, index uint32, content string) rafs.Chunk {
		return rafs.Chunk{
			ID:                 digest.Compute(config.Digester, []byte(content)),
			BlobIndex:          blob.Index,
			Index:              index,
			CompressedSize:     uint32(len(content)),
			UncompressedOffset: uint64(index) * 4096,
			UncompressedSize:   uint32(len(content)),
		}
	}

	files := map[string][]rafs.Chunk{
		"/lib/libc.so":  {chunk(base, 0, "libc-part-1"), chunk(base, 1, "libc-part-2")},
		"/usr/bin/app":  {chunk(app, 0, "app-binary")},
		"/lib/libc.bak": {chunk(base, 0, "libc-part-1")},
	}
	for path, chunks := range files {
		if err := w.AddFile(path, 0o644, chunks); err != nil {
			t.Fatalf("AddFile(%s): %v", path, err)
		}
	}

	path := filepath.Join(t.TempDir(), "source.boot")
	if err := w.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func TestFromBootstrapFile(t *testing.T) {
	layouts := map[string]rafs.WriterConfig{
		"v5":         {Version: rafs.V5, Digester: digest.Blake3, Compressor: compress.Lz4Block, ChunkSize: testChunkSize},
		"v6":         {Version: rafs.V6, Digester: digest.Blake3, Compressor: compress.Zstd, ChunkSize: testChunkSize},
		"v6-inlined": {Version: rafs.V6, Digester: digest.Sha256, ChunkSize: testChunkSize, InlineChunkDigest: true},
	}
	for name, config := range layouts {
		t.Run(name, func(t *testing.T) {
			path := writeSourceImage(t, config)
			target := rafs.SuperConfig{Version: config.Version, Digester: config.Digester, ChunkSize: testChunkSize}

			dict, err := FromBootstrapFile(path, target)
			if err != nil {
				t.Fatalf("FromBootstrapFile: %v", err)
			}

			if dict.Len() != 3 {
				t.Errorf("Len = %d, want 3", dict.Len())
			}
			shared := digest.Compute(config.Digester, []byte("libc-part-1"))
			if refs, ok := dict.RefCount(shared); !ok || refs != 2 {
				t.Errorf("RefCount(libc-part-1) = %d, %t, want 2, true", refs, ok)
			}
			chunk, ok := dict.GetChunk(shared, uint32(len("libc-part-1")))
			if !ok {
				t.Fatal("GetChunk(libc-part-1) missed")
			}
			blob, ok := dict.BlobByInnerIndex(chunk.BlobIndex)
			if !ok || blob.BlobID != "base" {
				t.Errorf("BlobByInnerIndex(%d) = %v, want base", chunk.BlobIndex, blob)
			}

			blobs := dict.Blobs()
			if len(blobs) != 2 || blobs[0].BlobID != "base" || blobs[1].BlobID != "app" {
				t.Errorf("Blobs = %v, want [base app]", blobs)
			}
			if _, ok := dict.GetChunk(digest.Digest{Algorithm: config.Digester}, 0); ok {
				t.Error("GetChunk(zero digest) should miss")
			}
		})
	}
}

func TestFromBootstrapFileIncompatible(t *testing.T) {
	path := writeSourceImage(t, rafs.WriterConfig{Version: rafs.V6, Digester: digest.Blake3, ChunkSize: testChunkSize})

	targets := map[string]rafs.SuperConfig{
		"digester": {Version: rafs.V6, Digester: digest.Sha256, ChunkSize: testChunkSize},
		"version":  {Version: rafs.V5, Digester: digest.Blake3, ChunkSize: testChunkSize},
	}
	for name, target := range targets {
		if _, err := FromBootstrapFile(path, target); !errors.Is(err, rafs.ErrIncompatible) {
			t.Errorf("%s mismatch: error = %v, want ErrIncompatible", name, err)
		}
	}
}

func TestFromBootstrapFileCorruptChunkTable(t *testing.T) {
	path := writeSourceImage(t, rafs.WriterConfig{Version: rafs.V6, Digester: digest.Blake3, ChunkSize: testChunkSize})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var meta rafs.Meta
	if err := meta.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	meta.ChunkTable.Size -= 3
	header, err := meta.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	copy(data, header)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	target := rafs.SuperConfig{Version: rafs.V6, Digester: digest.Blake3, ChunkSize: testChunkSize}
	if _, err := FromBootstrapFile(path, target); !errors.Is(err, rafs.ErrInvalidData) {
		t.Errorf("error = %v, want ErrInvalidData", err)
	}
}

func TestFromBootstrapFileEmptyChunkTable(t *testing.T) {
	w := rafs.NewWriter(rafs.WriterConfig{Version: rafs.V6, ChunkSize: testChunkSize})
	w.AddBlob(rafs.BlobInfo{BlobID: "unused"})
	path := filepath.Join(t.TempDir(), "empty.boot")
	if err := w.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dict, err := FromBootstrapFile(path, rafs.SuperConfig{Version: rafs.V6, ChunkSize: testChunkSize})
	if err != nil {
		t.Fatalf("FromBootstrapFile: %v", err)
	}
	if dict.Len() != 0 || len(dict.Blobs()) != 1 {
		t.Errorf("dictionary has %d chunks and %d blobs, want 0 and 1", dict.Len(), len(dict.Blobs()))
	}
}

func TestFromBootstrapFileMissing(t *testing.T) {
	_, err := FromBootstrapFile(filepath.Join(t.TempDir(), "absent.boot"), rafs.SuperConfig{Version: rafs.V6})
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("error = %v, want os.ErrNotExist", err)
	}
}

func TestFromCommandLineArg(t *testing.T) {
	config := rafs.WriterConfig{Version: rafs.V5, Digester: digest.Blake3, ChunkSize: testChunkSize, ExplicitUIDGID: true}
	path := writeSourceImage(t, config)
	target := rafs.SuperConfig{Version: rafs.V5, Digester: digest.Blake3, ChunkSize: testChunkSize, ExplicitUIDGID: true}

	for _, arg := range []string{path, "bootstrap=" + path} {
		dict, err := FromCommandLineArg(arg, target)
		if err != nil {
			t.Fatalf("FromCommandLineArg(%q): %v", arg, err)
		}
		if len(dict.Blobs()) != 2 {
			t.Errorf("FromCommandLineArg(%q) loaded %d blobs, want 2", arg, len(dict.Blobs()))
		}
		if err := dict.SetRealBlobIndex(0, 10); err != nil {
			t.Fatalf("SetRealBlobIndex: %v", err)
		}
		if got, ok := dict.RealBlobIndex(0); !ok || got != 10 {
			t.Errorf("RealBlobIndex(0) = %d, %t, want 10, true", got, ok)
		}
		if _, ok := dict.RealBlobIndex(1); ok {
			t.Error("RealBlobIndex(1) should miss")
		}
	}

	if _, err := FromCommandLineArg(fmt.Sprintf("localfs=%s", path), target); !errors.Is(err, ErrInvalidArg) {
		t.Errorf("unsupported type error = %v, want ErrInvalidArg", err)
	}
}

func TestLoad(t *testing.T) {
	dict, err := Load("", rafs.SuperConfig{})
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if _, ok := dict.(Disabled); !ok {
		t.Errorf("Load(\"\") = %T, want Disabled", dict)
	}

	config := rafs.WriterConfig{Version: rafs.V6, Digester: digest.Blake3, ChunkSize: testChunkSize}
	path := writeSourceImage(t, config)
	dict, err = Load(path, rafs.SuperConfig{Version: rafs.V6, Digester: digest.Blake3, ChunkSize: testChunkSize})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if _, ok := dict.(*HashDict); !ok {
		t.Errorf("Load(path) = %T, want *HashDict", dict)
	}
}
