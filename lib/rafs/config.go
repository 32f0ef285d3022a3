// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package rafs

import (
	"errors"
	"fmt"

	"github.com/bergwolf/nydus/lib/digest"
)

// Version is the metadata generation of a bootstrap.
type Version uint32

const (
	V5 Version = 5
	V6 Version = 6
)

func (v Version) String() string {
	switch v {
	case V5:
		return "v5"
	case V6:
		return "v6"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(v))
	}
}

// ParseVersion accepts "5", "6", "v5" or "v6".
func ParseVersion(text string) (Version, error) {
	switch text {
	case "5", "v5":
		return V5, nil
	case "6", "v6":
		return V6, nil
	default:
		return 0, fmt.Errorf("unknown rafs version %q", text)
	}
}

// ErrIncompatible is wrapped by errors from
// [SuperConfig.CheckCompatibility].
var ErrIncompatible = errors.New("incompatible rafs configuration")

// SuperConfig is the subset of bootstrap properties that must agree
// between two images before chunks of one may be referenced from the
// other.
type SuperConfig struct {
	Version        Version
	Digester       digest.Algorithm
	ChunkSize      uint32
	ExplicitUIDGID bool
}

// CheckCompatibility returns an error wrapping ErrIncompatible when
// other differs from c in digester, version, chunk size or uid/gid
// mode. The first mismatch found is reported.
func (c SuperConfig) CheckCompatibility(other SuperConfig) error {
	if c.Digester != other.Digester {
		return fmt.Errorf("%w: digester %s does not match %s", ErrIncompatible, other.Digester, c.Digester)
	}
	if c.Version != other.Version {
		return fmt.Errorf("%w: version %s does not match %s", ErrIncompatible, other.Version, c.Version)
	}
	if c.ChunkSize != other.ChunkSize {
		return fmt.Errorf("%w: chunk size %#x does not match %#x", ErrIncompatible, other.ChunkSize, c.ChunkSize)
	}
	if c.ExplicitUIDGID != other.ExplicitUIDGID {
		return fmt.Errorf("%w: explicit uid/gid %t does not match %t", ErrIncompatible, other.ExplicitUIDGID, c.ExplicitUIDGID)
	}
	return nil
}
