// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package chunkdict implements the build-time chunk dictionary.
//
// A builder producing a new image consults a [ChunkDict] for every
// chunk it cuts from the source tree. When the dictionary already
// knows a chunk with the same digest and size, the builder references
// that chunk's existing blob instead of writing the bytes again.
//
// Two variants share the interface:
//
//   - [Disabled] is the zero-behavior dictionary used when no source
//     image is configured. Lookups always miss and additions are
//     dropped, so "dedup off" costs nothing and needs no nil checks.
//   - [HashDict] is loaded from an existing bootstrap with
//     [FromBootstrapFile] or [FromCommandLineArg], or built empty with
//     [New] and filled with [HashDict.AddChunk].
//
// A dictionary is created once per build, queried concurrently by the
// build's worker pool, and discarded when the build completes. Its
// inner blob ordinals (positions in the source bootstrap's blob table)
// are mapped to external ordinals (positions in the new image's blob
// table) as the build discovers which source blobs it reuses; see
// [ChunkDict.SetRealBlobIndex] and [Resolver].
package chunkdict
