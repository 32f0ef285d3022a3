// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package casdb is the SQLite implementation of [cas.Index].
//
// The database holds two tables. blobs maps each local file path to a
// stable integer id; chunks maps a chunk key to (blob id, offset),
// with at most one row per (chunk key, blob) pair. Lookups return the
// row with the lowest blob id, so the first file to record a chunk
// keeps serving it until that file is deleted.
//
// The file survives restarts and is opened in WAL mode through
// [sqlitepool], so readers never block the single writer.
package casdb
