// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package casdb

import (
	"context"
	"fmt"
	"log/slog"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bergwolf/nydus/lib/cas"
	"github.com/bergwolf/nydus/lib/sqlitepool"
)

const schema = `
CREATE TABLE IF NOT EXISTS blobs (
	blob_id   INTEGER PRIMARY KEY,
	file_path TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS chunks (
	chunk_id     TEXT NOT NULL,
	chunk_offset INTEGER NOT NULL,
	blob_id      INTEGER NOT NULL REFERENCES blobs(blob_id),
	UNIQUE (chunk_id, blob_id) ON CONFLICT REPLACE
);

CREATE INDEX IF NOT EXISTS idx_chunks_chunk_id ON chunks(chunk_id);
`

// Config holds the parameters for opening an Index.
type Config struct {
	// Path is the database file. The parent directory must exist.
	Path string

	// PoolSize is the number of connections. If zero, sqlitepool's
	// default applies.
	PoolSize int

	// Logger receives pool lifecycle messages. If nil, a no-op logger
	// is used.
	Logger *slog.Logger
}

// Index is a [cas.Index] stored in a SQLite database.
type Index struct {
	pool   *sqlitepool.Pool
	logger *slog.Logger
}

var _ cas.Index = (*Index)(nil)

// Open opens or creates the database at config.Path and ensures the
// schema exists.
func Open(ctx context.Context, config Config) (*Index, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:        config.Path,
		PoolSize:    config.PoolSize,
		ForeignKeys: true,
		Logger:      logger,
	})
	if err != nil {
		return nil, fmt.Errorf("casdb: %w", err)
	}

	// Create the schema on one connection up front so a broken file
	// fails here rather than on the first dedup lookup.
	err = pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.ExecuteScript(conn, schema, nil)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("casdb: creating schema in %s: %w", config.Path, err)
	}

	logger.Debug("cas index opened", "engine", "sqlite", "path", config.Path)
	return &Index{pool: pool, logger: logger}, nil
}

// Path returns the database file path.
func (x *Index) Path() string { return x.pool.Path() }

func (x *Index) AddBlob(ctx context.Context, path string) error {
	return x.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `INSERT OR IGNORE INTO blobs (file_path) VALUES (?)`,
			&sqlitex.ExecOptions{Args: []any{path}})
		if err != nil {
			return fmt.Errorf("casdb: add blob %s: %w", path, err)
		}
		return nil
	})
}

// AddChunk inserts a chunk row for the blob registered under path. If
// path has no blob row nothing is inserted.
func (x *Index) AddChunk(ctx context.Context, key string, offset uint64, path string) error {
	return x.pool.Write(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn, `
			INSERT INTO chunks (chunk_id, chunk_offset, blob_id)
			SELECT ?, ?, blob_id FROM blobs WHERE file_path = ?`,
			&sqlitex.ExecOptions{Args: []any{key, int64(offset), path}})
		if err != nil {
			return fmt.Errorf("casdb: add chunk %s: %w", key, err)
		}
		return nil
	})
}

func (x *Index) GetChunkInfo(ctx context.Context, key string) (cas.Location, bool, error) {
	var location cas.Location
	found := false
	err := x.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT blobs.file_path, chunks.chunk_offset
			FROM chunks JOIN blobs ON chunks.blob_id = blobs.blob_id
			WHERE chunks.chunk_id = ?
			ORDER BY chunks.blob_id
			LIMIT 1`,
			&sqlitex.ExecOptions{
				Args: []any{key},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					location.Path = stmt.ColumnText(0)
					location.Offset = uint64(stmt.ColumnInt64(1))
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return cas.Location{}, false, fmt.Errorf("casdb: get chunk %s: %w", key, err)
	}
	return location, found, nil
}

func (x *Index) GetAllBlobs(ctx context.Context) ([]cas.Blob, error) {
	var blobs []cas.Blob
	err := x.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT blob_id, file_path FROM blobs ORDER BY blob_id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					blobs = append(blobs, cas.Blob{
						ID:   stmt.ColumnInt64(0),
						Path: stmt.ColumnText(1),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("casdb: list blobs: %w", err)
	}
	return blobs, nil
}

func (x *Index) GetAllChunks(ctx context.Context) ([]cas.Record, error) {
	var records []cas.Record
	err := x.pool.Read(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `
			SELECT chunks.chunk_id, blobs.file_path, chunks.chunk_offset
			FROM chunks JOIN blobs ON chunks.blob_id = blobs.blob_id
			ORDER BY chunks.blob_id, chunks.chunk_offset, chunks.chunk_id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					records = append(records, cas.Record{
						Key:    stmt.ColumnText(0),
						Path:   stmt.ColumnText(1),
						Offset: uint64(stmt.ColumnInt64(2)),
					})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("casdb: list chunks: %w", err)
	}
	return records, nil
}

// DeleteBlobs removes the blob rows for paths and every chunk row
// that references them, in one transaction. Unknown paths are
// ignored.
func (x *Index) DeleteBlobs(ctx context.Context, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	err := x.pool.Write(ctx, func(conn *sqlite.Conn) error {
		for _, path := range paths {
			if err := sqlitex.Execute(conn, `
				DELETE FROM chunks
				WHERE blob_id IN (SELECT blob_id FROM blobs WHERE file_path = ?)`,
				&sqlitex.ExecOptions{Args: []any{path}}); err != nil {
				return fmt.Errorf("deleting chunks of %s: %w", path, err)
			}
			if err := sqlitex.Execute(conn, `DELETE FROM blobs WHERE file_path = ?`,
				&sqlitex.ExecOptions{Args: []any{path}}); err != nil {
				return fmt.Errorf("deleting blob %s: %w", path, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("casdb: delete blobs: %w", err)
	}
	x.logger.Debug("cas index blobs deleted", "count", len(paths))
	return nil
}

// Close closes the connection pool.
func (x *Index) Close() error {
	return x.pool.Close()
}
