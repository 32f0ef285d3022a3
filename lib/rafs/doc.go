// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package rafs reads and writes bootstraps, the serialized filesystem
// metadata of an image.
//
// A bootstrap describes a directory tree whose file contents live in
// blobs: immutable containers of independently compressed chunks.
// Each regular file is an ordered list of [Chunk] records. Each record
// names the blob holding the chunk (by its index into the bootstrap's
// blob table), where the chunk sits in that blob's compressed and
// uncompressed address spaces, and the chunk's content [digest.Digest].
//
// # Layout
//
// A bootstrap file is a fixed 80-byte header followed by three
// sections whose offsets and sizes the header records:
//
//   - blob table: a CBOR array of blob records, one per [BlobInfo];
//   - chunk table: a dense array of 80-byte chunk records;
//   - inode tree: a CBOR document describing directories and files.
//
// The header carries a CRC32C over its own bytes. Sections are not
// checksummed individually; a bootstrap is itself content-addressed by
// the registry that serves it.
//
// Two metadata generations exist. [V5] bootstraps store every chunk
// record inline in the inode tree and have no chunk table. [V6]
// bootstraps store chunk records once in the chunk table, and file
// inodes refer to them by index. A V6 bootstrap written with
// [FlagInlinedChunkDigest] also inlines the records in the tree, so
// readers can recover per-file chunk lists without the table.
//
// Readers that only need the set of chunks (such as a chunk
// dictionary) pick the cheapest source: walk the tree with
// [Bootstrap.WalkChunks] when records are inlined, or scan the dense
// table with [Bootstrap.ChunkTable] otherwise.
package rafs
