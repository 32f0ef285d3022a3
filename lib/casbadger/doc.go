// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package casbadger is a [cas.Index] stored in a Badger key-value
// database.
//
// Rows are laid out under single-letter prefixes:
//
//	b/<path>               -> blob id (8 bytes, big endian)
//	i/<id>                 -> path
//	c/<chunk key>\x00<id>  -> offset (8 bytes, big endian)
//	r/<id>/<chunk key>     -> empty
//
// Blob ids come from a Badger sequence and only grow, so a prefix scan
// over c/<chunk key>\x00 visits blobs in registration order and the
// first hit is the earliest blob. The r/ rows let DeleteBlobs find a
// blob's chunks without scanning the whole chunk space.
//
// Lookup and deletion semantics match package casdb; both pass the
// castest contract.
package casbadger
