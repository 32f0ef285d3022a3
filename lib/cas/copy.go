// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"fmt"
	"io"
	"os"
)

// copyBufferSize bounds the buffer used by the read/write fallback.
const copyBufferSize = 1 << 20

// copyRangeBuffered copies size bytes from source at sourceOffset to
// destination at destinationOffset with positional reads and writes.
func copyRangeBuffered(source *os.File, sourceOffset int64, destination *os.File, destinationOffset int64, size int64) error {
	buffer := make([]byte, min(size, copyBufferSize))
	for size > 0 {
		chunk := buffer[:min(size, int64(len(buffer)))]
		read, err := source.ReadAt(chunk, sourceOffset)
		if read < len(chunk) {
			if err == nil || err == io.EOF {
				return fmt.Errorf("short read from %s at %d: got %d of %d bytes", source.Name(), sourceOffset, read, len(chunk))
			}
			return fmt.Errorf("reading %s at %d: %w", source.Name(), sourceOffset, err)
		}
		if _, err := destination.WriteAt(chunk, destinationOffset); err != nil {
			return fmt.Errorf("writing %s at %d: %w", destination.Name(), destinationOffset, err)
		}
		sourceOffset += int64(read)
		destinationOffset += int64(read)
		size -= int64(read)
	}
	return nil
}
