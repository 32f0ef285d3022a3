// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/bergwolf/nydus/lib/digest"
)

// BlobInfo is the part of a blob descriptor the manager needs.
type BlobInfo interface {
	// DigestAlgorithm returns the digester of the blob's chunks.
	DigestAlgorithm() digest.Algorithm
}

// ChunkInfo is the part of a chunk record the manager needs. Only
// uncompressed positions matter; the manager never sees compressed
// bytes.
type ChunkInfo interface {
	ChunkID() digest.Digest
	UncompressedRange() (offset uint64, size uint32)
}

// Config holds the parameters for a Manager.
type Config struct {
	// Index is the durable index. Required. The Manager takes
	// ownership and closes it in Close.
	Index Index

	// Logger receives dedup diagnostics. If nil, a no-op logger is
	// used.
	Logger *slog.Logger
}

// Manager deduplicates chunk fetches against data already on local
// disk. It is safe for concurrent use.
type Manager struct {
	index  Index
	logger *slog.Logger
	stats  counters

	// mu guards files. It is never held across index I/O.
	mu    sync.RWMutex
	files map[string]*os.File
}

// New returns a Manager over config.Index.
func New(config Config) (*Manager, error) {
	if config.Index == nil {
		return nil, fmt.Errorf("cas: Index is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{
		index:  config.Index,
		logger: logger,
		files:  make(map[string]*os.File),
	}, nil
}

// ChunkKey returns the index key for chunk in blob, or "" when the
// chunk has no digest.
func ChunkKey(blob BlobInfo, chunk ChunkInfo) string {
	id := chunk.ChunkID()
	if id.IsZero() {
		return ""
	}
	return blob.DigestAlgorithm().String() + ":" + id.Hex()
}

// DedupChunk tries to fill chunk's uncompressed range in destination
// from a local copy recorded in the index. It returns true only when
// all of the chunk's bytes were copied to destination at the chunk's
// uncompressed offset. Every failure is reported as false.
func (m *Manager) DedupChunk(ctx context.Context, blob BlobInfo, chunk ChunkInfo, destination *os.File) bool {
	key := ChunkKey(blob, chunk)
	if key == "" {
		return false
	}

	location, found, err := m.index.GetChunkInfo(ctx, key)
	if err != nil {
		m.logger.Warn("dedup lookup failed", "key", key, "error", err)
		m.stats.misses.Add(1)
		return false
	}
	if !found {
		m.stats.misses.Add(1)
		return false
	}

	source, err := m.sourceFile(location.Path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.dropStale(ctx, location.Path, err)
		} else {
			m.logger.Warn("failed to open dedup source file", "path", location.Path, "error", err)
		}
		m.stats.misses.Add(1)
		return false
	}

	if err := checkSameFile(source, location.Path); err != nil {
		// A handle closed by a concurrent eviction says nothing about
		// the file behind the path.
		if !errors.Is(err, os.ErrClosed) {
			m.dropStale(ctx, location.Path, err)
		}
		m.stats.misses.Add(1)
		return false
	}

	destinationOffset, size := chunk.UncompressedRange()
	if err := copyRange(source, int64(location.Offset), destination, int64(destinationOffset), int64(size)); err != nil {
		m.logger.Warn("dedup copy failed",
			"key", key,
			"source", location.Path,
			"source_offset", location.Offset,
			"destination", destination.Name(),
			"destination_offset", destinationOffset,
			"size", size,
			"error", err,
		)
		m.stats.misses.Add(1)
		return false
	}

	m.stats.hits.Add(1)
	m.stats.copiedBytes.Add(uint64(size))
	return true
}

// sourceFile returns the shared read handle for path, opening it on
// first use. Concurrent callers converge on a single handle.
func (m *Manager) sourceFile(path string) (*os.File, error) {
	m.mu.RLock()
	file, ok := m.files[path]
	m.mu.RUnlock()
	if ok {
		return file, nil
	}

	opened, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	if existing, ok := m.files[path]; ok {
		m.mu.Unlock()
		opened.Close()
		return existing, nil
	}
	m.files[path] = opened
	m.mu.Unlock()
	return opened, nil
}

// checkSameFile verifies that path still names the file behind
// handle. An open handle keeps an unlinked file readable, so the
// handle alone cannot tell that the path is gone.
func checkSameFile(handle *os.File, path string) error {
	byPath, err := os.Stat(path)
	if err != nil {
		return err
	}
	byHandle, err := handle.Stat()
	if err != nil {
		return err
	}
	if !os.SameFile(byPath, byHandle) {
		return fmt.Errorf("%s was replaced", path)
	}
	return nil
}

// dropStale evicts path's handle and deletes its index rows.
func (m *Manager) dropStale(ctx context.Context, path string, cause error) {
	m.logger.Debug("dropping stale dedup source", "path", path, "cause", cause)
	m.evict(path)
	m.stats.staleDropped.Add(1)
	if err := m.index.DeleteBlobs(ctx, []string{path}); err != nil {
		m.logger.Warn("failed to delete stale dedup blob", "path", path, "error", err)
	}
}

func (m *Manager) evict(paths ...string) {
	m.mu.Lock()
	var closing []*os.File
	for _, path := range paths {
		if file, ok := m.files[path]; ok {
			closing = append(closing, file)
			delete(m.files, path)
		}
	}
	m.mu.Unlock()
	for _, file := range closing {
		file.Close()
	}
}

// RecordChunk records that chunk's uncompressed bytes are stored in
// the file at path, at the chunk's uncompressed offset. The path is
// made absolute and symlinks are resolved first; the file must exist.
// Chunks without a digest are skipped.
func (m *Manager) RecordChunk(ctx context.Context, blob BlobInfo, chunk ChunkInfo, path string) error {
	key := ChunkKey(blob, chunk)
	if key == "" {
		return nil
	}

	canonical, err := canonicalPath(path)
	if err != nil {
		return fmt.Errorf("cas: record %s: %w", key, err)
	}
	offset, _ := chunk.UncompressedRange()
	return m.RecordChunkRaw(ctx, key, canonical, offset)
}

// RecordChunkRaw stores (key, path, offset) as given.
func (m *Manager) RecordChunkRaw(ctx context.Context, key, path string, offset uint64) error {
	if err := m.index.AddBlob(ctx, path); err != nil {
		return fmt.Errorf("%w: adding blob %s: %w", ErrIndex, path, err)
	}
	if err := m.index.AddChunk(ctx, key, offset, path); err != nil {
		return fmt.Errorf("%w: adding chunk %s: %w", ErrIndex, key, err)
	}
	m.stats.records.Add(1)
	return nil
}

func canonicalPath(path string) (string, error) {
	absolute, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	return filepath.EvalSymlinks(absolute)
}

// Lookup returns the recorded location of key without copying
// anything.
func (m *Manager) Lookup(ctx context.Context, key string) (Location, bool, error) {
	location, found, err := m.index.GetChunkInfo(ctx, key)
	if err != nil {
		return Location{}, false, fmt.Errorf("%w: looking up %s: %w", ErrIndex, key, err)
	}
	return location, found, nil
}

// Blobs returns every blob in the index.
func (m *Manager) Blobs(ctx context.Context) ([]Blob, error) {
	blobs, err := m.index.GetAllBlobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing blobs: %w", ErrIndex, err)
	}
	return blobs, nil
}

// Chunks returns every chunk row in the index.
func (m *Manager) Chunks(ctx context.Context) ([]Record, error) {
	records, err := m.index.GetAllChunks(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: listing chunks: %w", ErrIndex, err)
	}
	return records, nil
}

// OpenHandles returns the number of cached source file handles.
func (m *Manager) OpenHandles() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.files)
}

// Stats returns a snapshot of the manager's counters.
func (m *Manager) Stats() Stats { return m.stats.snapshot() }

// Close closes every cached handle and the index.
func (m *Manager) Close() error {
	m.mu.Lock()
	files := m.files
	m.files = make(map[string]*os.File)
	m.mu.Unlock()

	var errs []error
	for _, file := range files {
		if err := file.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.index.Close(); err != nil {
		errs = append(errs, fmt.Errorf("%w: closing: %w", ErrIndex, err))
	}
	return errors.Join(errs...)
}
