// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package casbadger

import (
	"encoding/binary"
	"fmt"
)

var (
	sequenceKey    = []byte("m/blob-sequence")
	blobPrefix     = []byte("b/")
	idPrefix       = []byte("i/")
	chunkPrefix    = []byte("c/")
	reversePrefix  = []byte("r/")
	chunkSeparator = byte(0)
)

const idSize = 8

func encodeUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func decodeUint64(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("casbadger: expected 8-byte value, got %d bytes", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

func concat(parts ...[]byte) []byte {
	size := 0
	for _, part := range parts {
		size += len(part)
	}
	out := make([]byte, 0, size)
	for _, part := range parts {
		out = append(out, part...)
	}
	return out
}

func blobKey(path string) []byte { return concat(blobPrefix, []byte(path)) }

func idKey(id uint64) []byte { return concat(idPrefix, encodeUint64(id)) }

// chunkScanPrefix is the prefix shared by every row of chunk key.
func chunkScanPrefix(key string) []byte {
	return concat(chunkPrefix, []byte(key), []byte{chunkSeparator})
}

func chunkKey(key string, id uint64) []byte {
	return concat(chunkScanPrefix(key), encodeUint64(id))
}

// parseChunkKey splits a c/ row key into the chunk key and blob id.
func parseChunkKey(raw []byte) (string, uint64, error) {
	minimum := len(chunkPrefix) + 1 + idSize
	if len(raw) < minimum || raw[len(raw)-idSize-1] != chunkSeparator {
		return "", 0, fmt.Errorf("casbadger: malformed chunk row key %q", raw)
	}
	key := string(raw[len(chunkPrefix) : len(raw)-idSize-1])
	id, err := decodeUint64(raw[len(raw)-idSize:])
	return key, id, err
}

func reverseScanPrefix(id uint64) []byte {
	return concat(reversePrefix, encodeUint64(id), []byte("/"))
}

func reverseKey(id uint64, key string) []byte {
	return concat(reverseScanPrefix(id), []byte(key))
}
