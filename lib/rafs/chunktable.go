// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package rafs

import (
	"fmt"
	"io"

	"github.com/bergwolf/nydus/lib/digest"
)

// chunkTableBatch is the number of records Each reads per ReadAt.
const chunkTableBatch = 1024

// ChunkTable reads records from a bootstrap's dense chunk table.
// It is safe for concurrent use.
type ChunkTable struct {
	reader    io.ReaderAt
	section   Section
	count     int
	algorithm digest.Algorithm
}

// Len returns the number of records in the table.
func (t *ChunkTable) Len() int { return t.count }

// At reads record i.
func (t *ChunkTable) At(i int) (*Chunk, error) {
	if i < 0 || i >= t.count {
		return nil, fmt.Errorf("%w: chunk index %d out of range [0, %d)", ErrInvalidData, i, t.count)
	}
	var buffer [ChunkRecordSize]byte
	offset := int64(t.section.Offset) + int64(i)*ChunkRecordSize
	if _, err := t.reader.ReadAt(buffer[:], offset); err != nil {
		return nil, fmt.Errorf("reading chunk record %d: %w", i, err)
	}
	return parseChunkRecord(buffer[:], t.algorithm), nil
}

// Each calls fn for every record in table order. Returning an error
// from fn stops the scan and returns that error.
func (t *ChunkTable) Each(fn func(index int, chunk *Chunk) error) error {
	buffer := make([]byte, chunkTableBatch*ChunkRecordSize)
	for start := 0; start < t.count; start += chunkTableBatch {
		n := min(chunkTableBatch, t.count-start)
		batch := buffer[:n*ChunkRecordSize]
		offset := int64(t.section.Offset) + int64(start)*ChunkRecordSize
		if _, err := t.reader.ReadAt(batch, offset); err != nil {
			return fmt.Errorf("reading chunk records [%d, %d): %w", start, start+n, err)
		}
		for i := range n {
			record := batch[i*ChunkRecordSize : (i+1)*ChunkRecordSize]
			if err := fn(start+i, parseChunkRecord(record, t.algorithm)); err != nil {
				return err
			}
		}
	}
	return nil
}
