// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package casbadger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/dgraph-io/badger"

	"github.com/bergwolf/nydus/lib/cas"
)

// sequenceBandwidth is how many blob ids are leased from the sequence
// at a time. Unused leased ids are skipped after a restart.
const sequenceBandwidth = 64

// maxConflictRetries bounds retries of a transaction that lost a
// write conflict to a concurrent writer.
const maxConflictRetries = 50

// Config holds the parameters for opening an Index.
type Config struct {
	// Dir is the Badger directory. It is created if missing.
	Dir string

	// Logger receives Badger's internal messages and index
	// diagnostics. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Index is a [cas.Index] stored in Badger.
type Index struct {
	db       *badger.DB
	sequence *badger.Sequence
	logger   *slog.Logger
	dir      string
}

var _ cas.Index = (*Index)(nil)

// Open opens or creates the database in config.Dir.
func Open(config Config) (*Index, error) {
	if config.Dir == "" {
		return nil, fmt.Errorf("casbadger: Dir is required")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := os.MkdirAll(config.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("casbadger: creating %s: %w", config.Dir, err)
	}

	options := badger.DefaultOptions(config.Dir).
		WithLogger(slogAdapter{logger: logger}).
		WithTruncate(true)
	db, err := badger.Open(options)
	if err != nil {
		return nil, fmt.Errorf("casbadger: opening %s: %w", config.Dir, err)
	}
	sequence, err := db.GetSequence(sequenceKey, sequenceBandwidth)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("casbadger: blob id sequence: %w", err)
	}

	logger.Debug("cas index opened", "engine", "badger", "dir", config.Dir)
	return &Index{db: db, sequence: sequence, logger: logger, dir: config.Dir}, nil
}

// Dir returns the database directory.
func (x *Index) Dir() string { return x.dir }

// update runs fn in a read-write transaction, retrying when a
// concurrent transaction wins a write conflict.
func (x *Index) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), maxConflictRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		err := x.db.Update(fn)
		if err == nil || errors.Is(err, badger.ErrConflict) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (x *Index) AddBlob(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := x.update(ctx, func(txn *badger.Txn) error {
		_, err := txn.Get(blobKey(path))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		next, err := x.sequence.Next()
		if err != nil {
			return fmt.Errorf("allocating blob id: %w", err)
		}
		// Sequence ids start at zero; shift so zero never names a blob.
		id := next + 1
		if err := txn.Set(blobKey(path), encodeUint64(id)); err != nil {
			return err
		}
		return txn.Set(idKey(id), []byte(path))
	})
	if err != nil {
		return fmt.Errorf("casbadger: add blob %s: %w", path, err)
	}
	return nil
}

// AddChunk inserts a chunk row for the blob registered under path. If
// path has no blob row nothing is inserted. Reading the blob row makes
// the insert conflict with a DeleteBlobs that commits first.
func (x *Index) AddChunk(ctx context.Context, key string, offset uint64, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := x.update(ctx, func(txn *badger.Txn) error {
		id, found, err := lookupBlobID(txn, path)
		if err != nil || !found {
			return err
		}
		if err := txn.Set(chunkKey(key, id), encodeUint64(offset)); err != nil {
			return err
		}
		if err := txn.Set(reverseKey(id, key), nil); err != nil {
			return err
		}
		// Rewriting the id row conflicts any DeleteBlobs that already
		// scanned this blob, so it retries and sees the new rows.
		return txn.Set(idKey(id), []byte(path))
	})
	if err != nil {
		return fmt.Errorf("casbadger: add chunk %s: %w", key, err)
	}
	return nil
}

func lookupBlobID(txn *badger.Txn, path string) (uint64, bool, error) {
	item, err := txn.Get(blobKey(path))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	value, err := item.ValueCopy(nil)
	if err != nil {
		return 0, false, err
	}
	id, err := decodeUint64(value)
	return id, err == nil, err
}

func (x *Index) GetChunkInfo(ctx context.Context, key string) (cas.Location, bool, error) {
	if err := ctx.Err(); err != nil {
		return cas.Location{}, false, err
	}
	var location cas.Location
	found := false
	err := x.db.View(func(txn *badger.Txn) error {
		prefix := chunkScanPrefix(key)
		iterator := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iterator.Close()

		// A chunk row whose blob row is gone lost a race with
		// DeleteBlobs; skip it and keep scanning.
		for iterator.Seek(prefix); iterator.ValidForPrefix(prefix); iterator.Next() {
			item := iterator.Item()
			_, id, err := parseChunkKey(item.Key())
			if err != nil {
				return err
			}
			pathItem, err := txn.Get(idKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return fmt.Errorf("blob %d: %w", id, err)
			}
			path, err := pathItem.ValueCopy(nil)
			if err != nil {
				return err
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			offset, err := decodeUint64(value)
			if err != nil {
				return err
			}
			location = cas.Location{Path: string(path), Offset: offset}
			found = true
			return nil
		}
		return nil
	})
	if err != nil {
		return cas.Location{}, false, fmt.Errorf("casbadger: get chunk %s: %w", key, err)
	}
	return location, found, nil
}

func (x *Index) GetAllBlobs(ctx context.Context) ([]cas.Blob, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var blobs []cas.Blob
	err := x.db.View(func(txn *badger.Txn) error {
		var err error
		blobs, err = scanBlobs(txn)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("casbadger: list blobs: %w", err)
	}
	return blobs, nil
}

// scanBlobs returns every blob in id order.
func scanBlobs(txn *badger.Txn) ([]cas.Blob, error) {
	var blobs []cas.Blob
	iterator := txn.NewIterator(badger.DefaultIteratorOptions)
	defer iterator.Close()
	for iterator.Seek(idPrefix); iterator.ValidForPrefix(idPrefix); iterator.Next() {
		item := iterator.Item()
		id, err := decodeUint64(item.Key()[len(idPrefix):])
		if err != nil {
			return nil, err
		}
		path, err := item.ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		blobs = append(blobs, cas.Blob{ID: int64(id), Path: string(path)})
	}
	return blobs, nil
}

func (x *Index) GetAllChunks(ctx context.Context) ([]cas.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var records []cas.Record
	err := x.db.View(func(txn *badger.Txn) error {
		blobs, err := scanBlobs(txn)
		if err != nil {
			return err
		}
		paths := make(map[uint64]string, len(blobs))
		for _, blob := range blobs {
			paths[uint64(blob.ID)] = blob.Path
		}

		iterator := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iterator.Close()
		for iterator.Seek(chunkPrefix); iterator.ValidForPrefix(chunkPrefix); iterator.Next() {
			item := iterator.Item()
			key, id, err := parseChunkKey(item.Key())
			if err != nil {
				return err
			}
			path, ok := paths[id]
			if !ok {
				x.logger.Warn("chunk row references missing blob", "key", key, "blob_id", id)
				continue
			}
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			offset, err := decodeUint64(value)
			if err != nil {
				return err
			}
			records = append(records, cas.Record{Key: key, Path: path, Offset: offset})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("casbadger: list chunks: %w", err)
	}
	return records, nil
}

// DeleteBlobs removes the blob rows for paths and every chunk row
// that references them in one transaction. Only when that transaction
// outgrows Badger's limit is the work split, chunk rows first, so an
// interrupted split leaves blob rows that the next GC pass retries.
func (x *Index) DeleteBlobs(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := x.update(ctx, func(txn *badger.Txn) error {
		deletions, err := blobDeletions(txn, paths)
		if err != nil {
			return err
		}
		for _, key := range deletions {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrTxnTooBig) {
		x.logger.Debug("cas index delete split across transactions", "count", len(paths))
		err = x.deleteBlobsSplit(ctx, paths)
	}
	if err != nil {
		return fmt.Errorf("casbadger: delete blobs: %w", err)
	}
	x.logger.Debug("cas index blobs deleted", "count", len(paths))
	return nil
}

func (x *Index) deleteBlobsSplit(ctx context.Context, paths []string) error {
	var deletions [][]byte
	err := x.db.View(func(txn *badger.Txn) error {
		var err error
		deletions, err = blobDeletions(txn, paths)
		return err
	})
	if err != nil {
		return err
	}
	return x.deleteKeys(ctx, deletions)
}

// blobDeletions lists every key belonging to the blobs at paths, each
// blob's chunk rows before its blob rows. In an update transaction the
// id row read makes a concurrent AddChunk, which rewrites that row,
// conflict with the delete.
func blobDeletions(txn *badger.Txn, paths []string) ([][]byte, error) {
	var deletions [][]byte
	for _, path := range paths {
		id, found, err := lookupBlobID(txn, path)
		if err != nil {
			return nil, err
		}
		if !found {
			continue
		}
		if _, err := txn.Get(idKey(id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return nil, err
		}
		prefix := reverseScanPrefix(id)
		iterator := txn.NewIterator(badger.IteratorOptions{PrefetchValues: false})
		for iterator.Seek(prefix); iterator.ValidForPrefix(prefix); iterator.Next() {
			reverse := iterator.Item().KeyCopy(nil)
			key := string(reverse[len(prefix):])
			deletions = append(deletions, chunkKey(key, id), reverse)
		}
		iterator.Close()
		deletions = append(deletions, idKey(id), blobKey(path))
	}
	return deletions, nil
}

// deleteKeys deletes keys in order, committing early whenever the
// transaction reaches Badger's size limit.
func (x *Index) deleteKeys(ctx context.Context, keys [][]byte) error {
	for len(keys) > 0 {
		committed := 0
		err := x.update(ctx, func(txn *badger.Txn) error {
			committed = 0
			for _, key := range keys {
				err := txn.Delete(key)
				if errors.Is(err, badger.ErrTxnTooBig) {
					return nil
				}
				if err != nil {
					return err
				}
				committed++
			}
			return nil
		})
		if err != nil {
			return err
		}
		if committed == 0 {
			return fmt.Errorf("transaction cannot hold a single delete")
		}
		keys = keys[committed:]
	}
	return nil
}

// Close releases the id sequence and closes the database.
func (x *Index) Close() error {
	var errs []error
	if err := x.sequence.Release(); err != nil {
		errs = append(errs, fmt.Errorf("casbadger: releasing sequence: %w", err))
	}
	if err := x.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("casbadger: closing %s: %w", x.dir, err))
	}
	return errors.Join(errs...)
}
