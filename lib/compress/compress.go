// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress encodes and decodes individual chunk payloads.
//
// Blobs store each chunk independently compressed so that any chunk
// can be fetched and decompressed without touching its neighbors. The
// algorithm is a per-blob property recorded in the blob table of the
// bootstrap; the chunk's compressed flag says whether this particular
// chunk was stored compressed (incompressible chunks are stored raw).
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm identifies a chunk compression algorithm. Values are
// stored in blob records, so existing values must never be renumbered.
type Algorithm uint8

const (
	// None stores chunks uncompressed.
	None Algorithm = 0

	// Lz4Block is raw LZ4 block format without frame headers.
	Lz4Block Algorithm = 1

	// Zstd is a single zstd frame per chunk at the default level.
	Zstd Algorithm = 2
)

// String returns the algorithm name used in configuration and CLI
// output.
func (a Algorithm) String() string {
	switch a {
	case None:
		return "none"
	case Lz4Block:
		return "lz4_block"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// ParseAlgorithm parses an algorithm name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "none", "":
		return None, nil
	case "lz4_block", "lz4":
		return Lz4Block, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("unknown compression algorithm %q", name)
	}
}

// ErrIncompressible is returned by Compress when the encoded form is
// not smaller than the input. Callers store the chunk raw instead.
var ErrIncompressible = errors.New("data is incompressible")

// Compress encodes data with the given algorithm. For None the input
// is returned unchanged.
func Compress(algorithm Algorithm, data []byte) ([]byte, error) {
	switch algorithm {
	case None:
		return data, nil
	case Lz4Block:
		return compressLZ4(data)
	case Zstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %d", algorithm)
	}
}

// Decompress decodes a chunk payload. The result must be exactly
// uncompressedSize bytes; any other length is an error.
func Decompress(algorithm Algorithm, compressed []byte, uncompressedSize int) ([]byte, error) {
	switch algorithm {
	case None:
		if len(compressed) != uncompressedSize {
			return nil, fmt.Errorf("uncompressed chunk: size %d does not match expected %d",
				len(compressed), uncompressedSize)
		}
		return compressed, nil
	case Lz4Block:
		return decompressLZ4(compressed, uncompressedSize)
	case Zstd:
		return decompressZstd(compressed, uncompressedSize)
	default:
		return nil, fmt.Errorf("unsupported compression algorithm %d", algorithm)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, ErrIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, uncompressedSize int) ([]byte, error) {
	destination := make([]byte, uncompressedSize)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != uncompressedSize {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, uncompressedSize)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, uncompressedSize int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, uncompressedSize))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != uncompressedSize {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), uncompressedSize)
	}
	return result, nil
}
