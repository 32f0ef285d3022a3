// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool is a thin connection pool over
// zombiezen.com/go/sqlite for the local dedup index.
//
// Each call site borrows a connection with [Pool.Take] and returns it
// with [Pool.Put]; connections are never shared between goroutines.
// [Pool.Read] and [Pool.Write] wrap that pattern, and Write runs its
// callback inside an IMMEDIATE transaction so that concurrent writers
// queue on the database lock instead of failing mid-transaction.
//
// # Pragmas
//
// Every connection starts with:
//
//   - journal_mode=WAL: readers do not block the writer.
//   - synchronous=NORMAL: commits survive a process crash. An OS crash
//     may lose the last commits. That is acceptable for a cache index
//     whose rows can always be rebuilt by fetching again.
//   - busy_timeout: wait for the write lock instead of returning
//     SQLITE_BUSY (5 seconds unless configured).
//   - foreign_keys: off unless [Config.ForeignKeys] is set.
//   - cache_size=-8192 and temp_store=MEMORY.
//
// # Usage
//
//	pool, err := sqlitepool.Open(sqlitepool.Config{
//	    Path:   "/var/lib/nydus/cas.db",
//	    Logger: logger,
//	    OnConnect: func(conn *sqlite.Conn) error {
//	        return sqlitex.ExecuteScript(conn, schema, nil)
//	    },
//	})
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Write(ctx, func(conn *sqlite.Conn) error {
//	    return sqlitex.Execute(conn, "DELETE FROM t WHERE k = ?", &sqlitex.ExecOptions{Args: []any{k}})
//	})
package sqlitepool
