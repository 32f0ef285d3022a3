// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package blobcache fills local blob cache files from a storage
// backend, deduplicating against chunks already present on disk.
//
// Each blob has one cache file, <WorkDir>/<blob id>.blob.data, laid
// out in the blob's uncompressed address space: a chunk's bytes live
// at its UncompressedOffset. A bitmap per blob tracks which chunks
// are ready.
//
// [Cache.FetchChunks] processes chunks through a bounded worker pool.
// For each chunk that is not ready it first asks the [Deduplicator]
// to copy the bytes from another local file; on a miss it reads the
// stored bytes from the [Backend], decompresses them, optionally
// verifies the digest, writes them into the cache file, and records
// the chunk with the Deduplicator so later fetches of the same
// content, from any image, can reuse it. Recording failures are
// logged and never fail the fetch.
package blobcache
