// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package cas is the runtime chunk deduplication manager.
//
// When the blob cache misses a chunk, it asks the [Manager] first.
// The manager looks the chunk up in a durable [Index] that maps chunk
// keys to (file, offset) locations already on local disk. On a hit it
// copies the chunk's uncompressed bytes from that file into the
// destination cache file and the fetch from the backend is skipped.
// After the cache fetches a chunk the slow way, it reports the chunk's
// new location back with [Manager.RecordChunk] so that the next image
// sharing the chunk can reuse it.
//
// # Keys
//
// A chunk key is "<digester>:<hex digest>", where the digester is the
// owning blob's. Chunks whose digest is all zeros have no key and are
// never recorded or looked up. Because the algorithm is part of the
// key, a BLAKE3 digest never collides with a SHA-256 digest that
// happens to share its bytes.
//
// # Failure contract
//
// Deduplication is an optimization on a hot path. [Manager.DedupChunk]
// therefore never returns an error: every failure (index unreachable,
// source file gone, short copy) is logged and reported as a miss, and
// the caller falls back to fetching. Recording and garbage collection
// do return errors, wrapped with [ErrIndex] when the durable index is
// at fault, so that the caller can decide whether to keep recording.
//
// # Stale entries
//
// Files named by the index can disappear at any time. A lookup that
// finds its source file missing, or replaced by a different file,
// removes every index row for that path and misses. [Manager.GC]
// sweeps the whole index for missing files, and [Manager.RunGC] runs
// that sweep periodically.
//
// # Ownership
//
// A process builds one Manager at startup and passes it to every
// component that deduplicates. There is no package-level instance.
// Paths are canonicalized before they are recorded, but hard links and
// bind mounts of the same file still appear as distinct paths.
package cas
