// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

// Package digest defines the content fingerprint attached to every
// chunk in an image.
//
// A [Digest] is a 32-byte hash tagged with the [Algorithm] that
// produced it. The tag is part of the value: two digests with the same
// bytes but different algorithms compare unequal, so lookups keyed by
// a Digest (or by its String form) can never collide across
// algorithms.
//
// The zero value of a Digest's bytes means "no digest". Chunks
// written by builders that skip digest computation carry it, and
// every consumer in this module treats such chunks as unaddressable:
// they are never recorded in or looked up from a dedup index.
//
// [Compute] exists for verifying fetched chunk data and for building
// test fixtures. Producing digests for new images is the builder's
// job.
package digest
