// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package chunkdict

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bergwolf/nydus/lib/rafs"
)

// ErrInvalidArg is wrapped by errors from [ParseArg].
var ErrInvalidArg = errors.New("invalid chunk dict argument")

// TypeBootstrap is the only supported dictionary source type.
const TypeBootstrap = "bootstrap"

// ParseArg splits a dictionary argument of the form "<type>=<path>"
// or "<path>". A bare path has type "bootstrap". The path is returned
// as given, without expansion or cleaning.
func ParseArg(arg string) (sourceType, path string, err error) {
	sourceType, path, found := strings.Cut(arg, "=")
	if !found {
		sourceType, path = TypeBootstrap, arg
	}
	if sourceType != TypeBootstrap {
		return "", "", fmt.Errorf("%w: invalid chunk dict type %s", ErrInvalidArg, sourceType)
	}
	if path == "" {
		return "", "", fmt.Errorf("%w: empty path", ErrInvalidArg)
	}
	return sourceType, path, nil
}

// FromCommandLineArg parses arg with ParseArg and loads the
// dictionary it names.
func FromCommandLineArg(arg string, target rafs.SuperConfig) (*HashDict, error) {
	_, path, err := ParseArg(arg)
	if err != nil {
		return nil, err
	}
	return FromBootstrapFile(path, target)
}

// Load returns Disabled for an empty arg and the dictionary named by
// arg otherwise.
func Load(arg string, target rafs.SuperConfig) (ChunkDict, error) {
	if arg == "" {
		return Disabled{}, nil
	}
	dict, err := FromCommandLineArg(arg, target)
	if err != nil {
		return nil, err
	}
	return dict, nil
}

// FromBootstrapFile loads every chunk of the bootstrap at path into a
// new dictionary using target's digester.
//
// The bootstrap must be compatible with target (see
// [rafs.SuperConfig.CheckCompatibility]); a mismatch aborts the load.
// Chunks come from the inode tree when the bootstrap carries inline
// records, and from the dense chunk table otherwise.
func FromBootstrapFile(path string, target rafs.SuperConfig) (*HashDict, error) {
	bootstrap, err := rafs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open bootstrap file %s: %w", path, err)
	}
	defer bootstrap.Close()

	dict := newHashDict(target.Digester, bootstrap.Blobs())

	if err := target.CheckCompatibility(bootstrap.Config()); err != nil {
		return nil, fmt.Errorf("chunk dict %s: %w", path, err)
	}

	switch {
	case bootstrap.IsV5() || bootstrap.HasInlinedChunkDigest():
		err := bootstrap.WalkChunks(func(_ string, chunk *rafs.Chunk) error {
			dict.AddChunk(chunk, dict.digester)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build tree from bootstrap %s: %w", path, err)
		}
	case bootstrap.IsV6():
		if err := dict.loadChunkTable(bootstrap); err != nil {
			return nil, fmt.Errorf("failed to load chunk table of %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("chunk dict %s: unsupported rafs version %s", path, bootstrap.Meta().Version)
	}

	return dict, nil
}

func (d *HashDict) loadChunkTable(bootstrap *rafs.Bootstrap) error {
	meta := bootstrap.Meta()
	if meta.ChunkTable.Size == 0 || meta.Digester != d.digester {
		return nil
	}
	table, err := bootstrap.ChunkTable()
	if err != nil {
		return err
	}
	return table.Each(func(_ int, chunk *rafs.Chunk) error {
		d.AddChunk(chunk, d.digester)
		return nil
	})
}
