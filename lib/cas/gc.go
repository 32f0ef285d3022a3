// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package cas

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/bergwolf/nydus/lib/clock"
)

// GCResult reports what a GC pass removed.
type GCResult struct {
	Scanned int
	Removed []string
}

// GC removes every blob whose file no longer exists, together with
// its chunk rows, and closes any cached handle for those paths. Paths
// that fail to stat for reasons other than non-existence are kept.
func (m *Manager) GC(ctx context.Context) (GCResult, error) {
	blobs, err := m.index.GetAllBlobs(ctx)
	if err != nil {
		return GCResult{}, fmt.Errorf("%w: listing blobs: %w", ErrIndex, err)
	}

	result := GCResult{Scanned: len(blobs)}
	for _, blob := range blobs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		_, err := os.Stat(blob.Path)
		if errors.Is(err, fs.ErrNotExist) {
			result.Removed = append(result.Removed, blob.Path)
		} else if err != nil {
			m.logger.Warn("gc: cannot stat blob file, keeping it", "path", blob.Path, "error", err)
		}
	}
	if len(result.Removed) == 0 {
		return result, nil
	}

	if err := m.index.DeleteBlobs(ctx, result.Removed); err != nil {
		return GCResult{Scanned: result.Scanned}, fmt.Errorf("%w: deleting %d blobs: %w", ErrIndex, len(result.Removed), err)
	}
	m.evict(result.Removed...)
	m.stats.gcRemoved.Add(uint64(len(result.Removed)))
	m.logger.Info("cas gc removed missing blobs", "scanned", result.Scanned, "removed", len(result.Removed))
	return result, nil
}

// RunGC calls GC every interval until ctx is cancelled. Errors from a
// pass are logged and the loop continues.
func (m *Manager) RunGC(ctx context.Context, clk clock.Clock, interval time.Duration) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.GC(ctx); err != nil && ctx.Err() == nil {
				m.logger.Error("cas gc failed", "error", err)
			}
		}
	}
}
