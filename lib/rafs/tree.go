// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package rafs

import (
	"io/fs"
	"path"
	"slices"
	"strings"
)

// Inode is one node of the bootstrap's directory tree.
type Inode struct {
	Name string      `cbor:"1,keyasint"`
	Mode fs.FileMode `cbor:"2,keyasint"`
	Size uint64      `cbor:"3,keyasint,omitempty"`
	UID  uint32      `cbor:"4,keyasint,omitempty"`
	GID  uint32      `cbor:"5,keyasint,omitempty"`

	// Chunks holds the file's chunk records when they are inlined
	// (V5, or V6 with FlagInlinedChunkDigest).
	Chunks []*Chunk `cbor:"6,keyasint,omitempty"`

	// ChunkRefs holds indexes into the chunk table for V6 files.
	ChunkRefs []uint32 `cbor:"7,keyasint,omitempty"`

	Children []*Inode `cbor:"8,keyasint,omitempty"`
}

// IsDir reports whether the inode is a directory.
func (n *Inode) IsDir() bool { return n.Mode.IsDir() }

// IsRegular reports whether the inode is a regular file.
func (n *Inode) IsRegular() bool { return n.Mode.IsRegular() }

// child returns the direct child called name, or nil.
func (n *Inode) child(name string) *Inode {
	for _, c := range n.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// sortChildren orders every directory's children by name so that
// encoding is independent of insertion order.
func (n *Inode) sortChildren() {
	slices.SortFunc(n.Children, func(a, b *Inode) int { return strings.Compare(a.Name, b.Name) })
	for _, c := range n.Children {
		c.sortChildren()
	}
}

// walk visits n and its descendants depth-first in child order.
func (n *Inode) walk(nodePath string, fn func(string, *Inode) error) error {
	if err := fn(nodePath, n); err != nil {
		return err
	}
	for _, c := range n.Children {
		if err := c.walk(path.Join(nodePath, c.Name), fn); err != nil {
			return err
		}
	}
	return nil
}
