// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the shared CBOR configuration for on-disk
// metadata.
//
// The bootstrap blob table and inode tree are CBOR documents. The
// encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same tree always produces the same bytes. That lets a bootstrap's
// own digest identify its content. The decoder ignores unknown fields
// so that older readers can open bootstraps written by newer
// builders.
//
//	data, err := codec.Marshal(tree)
//	err = codec.Unmarshal(data, &tree)
//
// On-disk types use `cbor` struct tags with short integer keys
// (`cbor:"1,keyasint"`) to keep the encoded tree compact.
package codec
