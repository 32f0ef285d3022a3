// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func compressibleData(size int) []byte {
	return bytes.Repeat([]byte("nydus chunk payload "), size/20+1)[:size]
}

func TestCompressDecompress(t *testing.T) {
	data := compressibleData(64 * 1024)
	for _, algorithm := range []Algorithm{None, Lz4Block, Zstd} {
		t.Run(algorithm.String(), func(t *testing.T) {
			compressed, err := Compress(algorithm, data)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if algorithm != None && len(compressed) >= len(data) {
				t.Errorf("compressed size %d not smaller than input %d", len(compressed), len(data))
			}
			decoded, err := Decompress(algorithm, compressed, len(data))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(decoded, data) {
				t.Error("decompressed bytes differ from input")
			}
		})
	}
}

func TestCompressIncompressible(t *testing.T) {
	data := make([]byte, 4096)
	if _, err := rand.Read(data); err != nil {
		t.Fatal(err)
	}
	for _, algorithm := range []Algorithm{Lz4Block, Zstd} {
		if _, err := Compress(algorithm, data); !errors.Is(err, ErrIncompressible) {
			t.Errorf("Compress(%s, random) error = %v, want ErrIncompressible", algorithm, err)
		}
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	data := compressibleData(8192)
	compressed, err := Compress(Zstd, data)
	if err != nil {
		t.Fatalf("Compress: %v", err)
	}
	if _, err := Decompress(Zstd, compressed, len(data)-1); err == nil {
		t.Error("Decompress with wrong size should fail")
	}
	if _, err := Decompress(None, data, len(data)+1); err == nil {
		t.Error("Decompress(None) with wrong size should fail")
	}
}

func TestParseAlgorithm(t *testing.T) {
	tests := map[string]Algorithm{
		"none":      None,
		"":          None,
		"lz4_block": Lz4Block,
		"lz4":       Lz4Block,
		"zstd":      Zstd,
	}
	for name, want := range tests {
		got, err := ParseAlgorithm(name)
		if err != nil {
			t.Errorf("ParseAlgorithm(%q): %v", name, err)
			continue
		}
		if got != want {
			t.Errorf("ParseAlgorithm(%q) = %v, want %v", name, got, want)
		}
	}
	if _, err := ParseAlgorithm("gzip"); err == nil {
		t.Error("ParseAlgorithm(gzip) should fail")
	}
}
