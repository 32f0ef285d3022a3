// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package digest

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	ocidigest "github.com/opencontainers/go-digest"
	"github.com/zeebo/blake3"
)

// Size is the length in bytes of every supported digest.
const Size = 32

// Algorithm identifies the hash function used to fingerprint chunk
// content. Values are stored as a single byte in bootstrap headers and
// blob records, so existing values must never be renumbered.
type Algorithm uint8

const (
	// Blake3 is the default chunk digester.
	Blake3 Algorithm = 0

	// Sha256 is used by images converted from OCI layers, where chunk
	// digests need to line up with SHA-256 tooling.
	Sha256 Algorithm = 1
)

// String returns the algorithm name used in dedup keys and
// configuration files.
func (a Algorithm) String() string {
	switch a {
	case Blake3:
		return "blake3"
	case Sha256:
		return "sha256"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(a))
	}
}

// Valid reports whether a is a known algorithm.
func (a Algorithm) Valid() bool {
	return a == Blake3 || a == Sha256
}

// ParseAlgorithm parses an algorithm name. Matching is
// case-insensitive.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "blake3":
		return Blake3, nil
	case "sha256":
		return Sha256, nil
	default:
		return 0, fmt.Errorf("unknown digest algorithm %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler so configuration files
// carry the algorithm name rather than its numeric tag.
func (a Algorithm) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("unknown digest algorithm %d", uint8(a))
	}
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Algorithm) UnmarshalText(text []byte) error {
	parsed, err := ParseAlgorithm(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Digest is a chunk content fingerprint. It is comparable and can be
// used directly as a map key.
type Digest struct {
	Algorithm Algorithm
	Sum       [Size]byte
}

// FromBytes builds a digest from exactly [Size] raw bytes.
func FromBytes(algorithm Algorithm, raw []byte) (Digest, error) {
	if len(raw) != Size {
		return Digest{}, fmt.Errorf("digest: got %d bytes, want %d", len(raw), Size)
	}
	d := Digest{Algorithm: algorithm}
	copy(d.Sum[:], raw)
	return d, nil
}

// ParseHex parses a 64-character hexadecimal digest.
func ParseHex(algorithm Algorithm, text string) (Digest, error) {
	raw, err := hex.DecodeString(text)
	if err != nil {
		return Digest{}, fmt.Errorf("digest: decoding %q: %w", text, err)
	}
	return FromBytes(algorithm, raw)
}

// Parse parses the "<algorithm>:<hex>" form produced by String. The
// text must also be a well-formed OCI digest: lowercase, no
// surrounding space, and an encoded part of the algorithm's length.
func Parse(text string) (Digest, error) {
	oci := ocidigest.Digest(text)
	if err := oci.Validate(); err != nil && !errors.Is(err, ocidigest.ErrDigestUnsupported) {
		return Digest{}, fmt.Errorf("digest: %q: %w", text, err)
	}
	name, encoded, ok := strings.Cut(text, ":")
	if !ok {
		return Digest{}, fmt.Errorf("digest: %q has no algorithm prefix", text)
	}
	algorithm, err := ParseAlgorithm(name)
	if err != nil {
		return Digest{}, err
	}
	if encoded != strings.ToLower(encoded) {
		return Digest{}, fmt.Errorf("digest: %q: hex must be lowercase", text)
	}
	return ParseHex(algorithm, encoded)
}

// Compute hashes data with the given algorithm.
func Compute(algorithm Algorithm, data []byte) Digest {
	d := Digest{Algorithm: algorithm}
	switch algorithm {
	case Sha256:
		d.Sum = sha256.Sum256(data)
	default:
		d.Sum = blake3.Sum256(data)
	}
	return d
}

// IsZero reports whether every byte of the digest is zero. A zero
// digest marks a chunk whose content was never fingerprinted.
func (d Digest) IsZero() bool {
	return d.Sum == [Size]byte{}
}

// Hex returns the lowercase hexadecimal encoding of the digest bytes.
func (d Digest) Hex() string {
	return hex.EncodeToString(d.Sum[:])
}

// String returns "<algorithm>:<hex>".
func (d Digest) String() string {
	return d.Algorithm.String() + ":" + d.Hex()
}
