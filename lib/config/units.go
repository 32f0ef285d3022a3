// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"time"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// ByteSize is a size in bytes that unmarshals from either an integer
// or a human-readable string. Suffixes are binary: "1m" and "1MiB"
// both mean 1048576.
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (s *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: size must be a scalar", node.Line)
	}
	size, err := ParseByteSize(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*s = size
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (s ByteSize) MarshalYAML() (any, error) { return s.String(), nil }

// String formats the size with binary units, e.g. "1MiB".
func (s ByteSize) String() string {
	return units.BytesSize(float64(s))
}

// ParseByteSize parses a size such as "4096", "512k" or "1MiB".
func ParseByteSize(text string) (ByteSize, error) {
	size, err := units.RAMInBytes(text)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", text, err)
	}
	if size < 0 {
		return 0, fmt.Errorf("invalid size %q: negative", text)
	}
	return ByteSize(size), nil
}

// Duration is a time.Duration that unmarshals from Go duration
// syntax ("10m", "1h30m").
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) { return time.Duration(d).String(), nil }

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }
