// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package blobcache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bergwolf/nydus/lib/cas"
	"github.com/bergwolf/nydus/lib/compress"
	"github.com/bergwolf/nydus/lib/digest"
	"github.com/bergwolf/nydus/lib/rafs"
)

// ErrDigestMismatch is returned when Validate is on and fetched bytes
// do not hash to the chunk's digest.
var ErrDigestMismatch = errors.New("chunk digest mismatch")

// Deduplicator is the part of [cas.Manager] the cache uses.
type Deduplicator interface {
	DedupChunk(ctx context.Context, blob cas.BlobInfo, chunk cas.ChunkInfo, destination *os.File) bool
	RecordChunk(ctx context.Context, blob cas.BlobInfo, chunk cas.ChunkInfo, path string) error
}

var _ Deduplicator = (*cas.Manager)(nil)

// NoDedup is the Deduplicator used when CAS is disabled: it never
// finds a chunk and records nothing.
type NoDedup struct{}

func (NoDedup) DedupChunk(context.Context, cas.BlobInfo, cas.ChunkInfo, *os.File) bool { return false }

func (NoDedup) RecordChunk(context.Context, cas.BlobInfo, cas.ChunkInfo, string) error { return nil }

// DefaultWorkers is the fetch concurrency when Config.Workers is zero.
const DefaultWorkers = 8

// Config holds the parameters for a Cache.
type Config struct {
	// WorkDir holds the cache files. It is created if missing.
	WorkDir string

	// Backend supplies stored blob bytes. Required.
	Backend Backend

	// Dedup is consulted before each backend read. If nil, NoDedup
	// is used.
	Dedup Deduplicator

	// Workers bounds concurrent chunk fetches per FetchChunks call.
	Workers int

	// Validate verifies each fetched chunk against its digest.
	Validate bool

	Logger *slog.Logger
}

// Cache manages blob cache files under a work directory. It is safe
// for concurrent use.
type Cache struct {
	workDir  string
	backend  Backend
	dedup    Deduplicator
	workers  int
	validate bool
	logger   *slog.Logger

	mu    sync.Mutex
	blobs map[string]*blobFile
}

// blobFile is one open cache file with its ready bitmap.
type blobFile struct {
	file *os.File
	path string

	mu    sync.Mutex
	ready []uint64
}

func (b *blobFile) isReady(index uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	word := int(index / 64)
	return word < len(b.ready) && b.ready[word]&(1<<(index%64)) != 0
}

func (b *blobFile) markReady(index uint32) {
	b.mu.Lock()
	defer b.mu.Unlock()
	word := int(index / 64)
	for word >= len(b.ready) {
		b.ready = append(b.ready, 0)
	}
	b.ready[word] |= 1 << (index % 64)
}

// New creates the work directory if needed and returns a Cache.
func New(config Config) (*Cache, error) {
	if config.WorkDir == "" {
		return nil, fmt.Errorf("blobcache: WorkDir is required")
	}
	if config.Backend == nil {
		return nil, fmt.Errorf("blobcache: Backend is required")
	}
	if err := os.MkdirAll(config.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("blobcache: creating %s: %w", config.WorkDir, err)
	}
	dedup := config.Dedup
	if dedup == nil {
		dedup = NoDedup{}
	}
	workers := config.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		workDir:  config.WorkDir,
		backend:  config.Backend,
		dedup:    dedup,
		workers:  workers,
		validate: config.Validate,
		logger:   logger,
		blobs:    make(map[string]*blobFile),
	}, nil
}

// Path returns the cache file path for blobID.
func (c *Cache) Path(blobID string) string {
	return filepath.Join(c.workDir, blobID+".blob.data")
}

// open returns the cache file for blob, creating it on first use.
func (c *Cache) open(blob *rafs.BlobInfo) (*blobFile, error) {
	if blob.BlobID == "" || strings.ContainsAny(blob.BlobID, `/\`) {
		return nil, fmt.Errorf("blobcache: invalid blob id %q", blob.BlobID)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.blobs[blob.BlobID]; ok {
		return existing, nil
	}

	path := c.Path(blob.BlobID)
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("blobcache: opening cache file %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("blobcache: stat %s: %w", path, err)
	}
	if uint64(info.Size()) < blob.UncompressedSize {
		if err := file.Truncate(int64(blob.UncompressedSize)); err != nil {
			file.Close()
			return nil, fmt.Errorf("blobcache: sizing %s: %w", path, err)
		}
	}

	entry := &blobFile{
		file:  file,
		path:  path,
		ready: make([]uint64, (blob.ChunkCount+63)/64),
	}
	c.blobs[blob.BlobID] = entry
	return entry, nil
}

// IsReady reports whether chunk of blob has been filled by this
// Cache.
func (c *Cache) IsReady(blob *rafs.BlobInfo, chunk *rafs.Chunk) bool {
	c.mu.Lock()
	entry, ok := c.blobs[blob.BlobID]
	c.mu.Unlock()
	return ok && entry.isReady(chunk.Index)
}

// Close closes every cache file.
func (c *Cache) Close() error {
	c.mu.Lock()
	blobs := c.blobs
	c.blobs = make(map[string]*blobFile)
	c.mu.Unlock()

	var errs []error
	for _, entry := range blobs {
		if err := entry.file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// readChunk reads chunk's stored bytes from the backend and returns
// its uncompressed content.
func (c *Cache) readChunk(ctx context.Context, blob *rafs.BlobInfo, chunk *rafs.Chunk) ([]byte, error) {
	stored := make([]byte, chunk.CompressedSize)
	if err := c.backend.ReadAt(ctx, blob.BlobID, stored, int64(chunk.CompressedOffset)); err != nil {
		return nil, err
	}

	data := stored
	if chunk.IsCompressed() {
		var err error
		data, err = compress.Decompress(blob.Compressor, stored, int(chunk.UncompressedSize))
		if err != nil {
			return nil, fmt.Errorf("decompressing %s: %w", chunk, err)
		}
	}
	if len(data) != int(chunk.UncompressedSize) {
		return nil, fmt.Errorf("%s: got %d uncompressed bytes, want %d", chunk, len(data), chunk.UncompressedSize)
	}

	if c.validate {
		if got := digest.Compute(blob.Digester, data); got.Sum != chunk.ID.Sum {
			return nil, fmt.Errorf("%w: %s hashed to %s", ErrDigestMismatch, chunk, got)
		}
	}
	return data, nil
}
