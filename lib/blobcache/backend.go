// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package blobcache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Backend reads stored (possibly compressed) blob bytes.
type Backend interface {
	// ReadAt fills p with the bytes of blobID starting at offset. It
	// returns an error unless all of p was read.
	ReadAt(ctx context.Context, blobID string, p []byte, offset int64) error
}

// DirBackend serves blobs from files named by blob id in a local
// directory.
type DirBackend struct {
	Dir string
}

// ReadAt implements [Backend].
func (b DirBackend) ReadAt(ctx context.Context, blobID string, p []byte, offset int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if blobID == "" || strings.ContainsAny(blobID, `/\`) || blobID == "." || blobID == ".." {
		return fmt.Errorf("blobcache: invalid blob id %q", blobID)
	}
	file, err := os.Open(filepath.Join(b.Dir, blobID))
	if err != nil {
		return fmt.Errorf("blobcache: opening blob %s: %w", blobID, err)
	}
	defer file.Close()

	n, err := file.ReadAt(p, offset)
	if n == len(p) {
		return nil
	}
	if err == nil || errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("blobcache: reading blob %s at %d: got %d of %d bytes: %w", blobID, offset, n, len(p), err)
}
