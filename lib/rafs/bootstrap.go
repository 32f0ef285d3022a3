// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package rafs

import (
	"fmt"
	"io"
	"os"

	"github.com/bergwolf/nydus/lib/codec"
)

// Bootstrap is an open bootstrap file. The header and blob table are
// decoded on Open; the tree and chunk table are read on demand.
//
// A Bootstrap is safe for concurrent readers. Close releases the file.
type Bootstrap struct {
	file  *os.File
	path  string
	meta  Meta
	blobs []*BlobInfo
}

// Open reads and validates the bootstrap at path.
func Open(path string) (*Bootstrap, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bootstrap: %w", err)
	}

	bootstrap, err := load(file, path)
	if err != nil {
		file.Close()
		return nil, err
	}
	return bootstrap, nil
}

func load(file *os.File, path string) (*Bootstrap, error) {
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat bootstrap %s: %w", path, err)
	}
	fileSize := uint64(info.Size())

	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(file, header); err != nil {
		return nil, fmt.Errorf("%w: reading header of %s: %v", ErrInvalidData, path, err)
	}
	var meta Meta
	if err := meta.UnmarshalBinary(header); err != nil {
		return nil, fmt.Errorf("bootstrap %s: %w", path, err)
	}

	sections := []struct {
		name    string
		section Section
	}{
		{"blob table", meta.BlobTable},
		{"chunk table", meta.ChunkTable},
		{"inode tree", meta.Tree},
	}
	for _, s := range sections {
		if s.section.Size == 0 {
			continue
		}
		if s.section.Offset < HeaderSize || s.section.end() < s.section.Offset || s.section.end() > fileSize {
			return nil, fmt.Errorf("%w: %s of %s [%d, +%d) lies outside the %d-byte file",
				ErrInvalidData, s.name, path, s.section.Offset, s.section.Size, fileSize)
		}
	}

	bootstrap := &Bootstrap{file: file, path: path, meta: meta}

	blobTable, err := bootstrap.readSection(meta.BlobTable)
	if err != nil {
		return nil, fmt.Errorf("reading blob table of %s: %w", path, err)
	}
	if len(blobTable) > 0 {
		if err := codec.Unmarshal(blobTable, &bootstrap.blobs); err != nil {
			return nil, fmt.Errorf("%w: decoding blob table of %s: %v", ErrInvalidData, path, err)
		}
	}
	for i, blob := range bootstrap.blobs {
		if blob.Index != uint32(i) {
			return nil, fmt.Errorf("%w: blob table entry %d has index %d", ErrInvalidData, i, blob.Index)
		}
	}

	return bootstrap, nil
}

// Path returns the file path the bootstrap was opened from.
func (b *Bootstrap) Path() string { return b.path }

// Meta returns the decoded header.
func (b *Bootstrap) Meta() Meta { return b.meta }

// Config returns the bootstrap's compatibility-relevant properties.
func (b *Bootstrap) Config() SuperConfig { return b.meta.Config() }

// Blobs returns the blob table in index order. The slice and its
// elements are shared and must not be modified.
func (b *Bootstrap) Blobs() []*BlobInfo { return b.blobs }

// IsV5 reports whether the bootstrap uses the V5 layout.
func (b *Bootstrap) IsV5() bool { return b.meta.Version == V5 }

// IsV6 reports whether the bootstrap uses the V6 layout.
func (b *Bootstrap) IsV6() bool { return b.meta.Version == V6 }

// HasInlinedChunkDigest reports whether the inode tree carries full
// chunk records.
func (b *Bootstrap) HasInlinedChunkDigest() bool {
	return b.meta.Flags&FlagInlinedChunkDigest != 0
}

// Root decodes and returns the inode tree.
func (b *Bootstrap) Root() (*Inode, error) {
	data, err := b.readSection(b.meta.Tree)
	if err != nil {
		return nil, fmt.Errorf("reading inode tree of %s: %w", b.path, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: %s has no inode tree", ErrInvalidData, b.path)
	}
	var root Inode
	if err := codec.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("%w: decoding inode tree of %s: %v", ErrInvalidData, b.path, err)
	}
	return &root, nil
}

// ChunkTable returns a reader over the dense chunk table. The table's
// size must be a whole number of records.
func (b *Bootstrap) ChunkTable() (*ChunkTable, error) {
	section := b.meta.ChunkTable
	if section.Size%ChunkRecordSize != 0 {
		return nil, fmt.Errorf("%w: chunk table of %s is %d bytes, not a multiple of %d",
			ErrInvalidData, b.path, section.Size, ChunkRecordSize)
	}
	return &ChunkTable{
		reader:    b.file,
		section:   section,
		count:     int(section.Size / ChunkRecordSize),
		algorithm: b.meta.Digester,
	}, nil
}

// WalkChunks calls fn for every chunk of every regular file, in
// depth-first tree order. The path passed to fn is the file's absolute
// path within the image. Inlined records are used when present;
// otherwise chunk references are resolved through the chunk table.
//
// Returning an error from fn stops the walk and returns that error.
func (b *Bootstrap) WalkChunks(fn func(filePath string, chunk *Chunk) error) error {
	root, err := b.Root()
	if err != nil {
		return err
	}

	var table *ChunkTable
	return root.walk("/", func(nodePath string, node *Inode) error {
		if !node.IsRegular() {
			return nil
		}
		if len(node.Chunks) > 0 {
			for _, chunk := range node.Chunks {
				if err := b.checkBlobIndex(nodePath, chunk); err != nil {
					return err
				}
				if err := fn(nodePath, chunk); err != nil {
					return err
				}
			}
			return nil
		}
		if len(node.ChunkRefs) > 0 && table == nil {
			if table, err = b.ChunkTable(); err != nil {
				return err
			}
		}
		for _, ref := range node.ChunkRefs {
			chunk, err := table.At(int(ref))
			if err != nil {
				return fmt.Errorf("%s: %w", nodePath, err)
			}
			if err := b.checkBlobIndex(nodePath, chunk); err != nil {
				return err
			}
			if err := fn(nodePath, chunk); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bootstrap) checkBlobIndex(filePath string, chunk *Chunk) error {
	if int(chunk.BlobIndex) >= len(b.blobs) {
		return fmt.Errorf("%w: %s references blob %d, table has %d",
			ErrInvalidData, filePath, chunk.BlobIndex, len(b.blobs))
	}
	return nil
}

// Close releases the underlying file.
func (b *Bootstrap) Close() error {
	return b.file.Close()
}

func (b *Bootstrap) readSection(section Section) ([]byte, error) {
	if section.Size == 0 {
		return nil, nil
	}
	data := make([]byte, section.Size)
	if _, err := b.file.ReadAt(data, int64(section.Offset)); err != nil {
		return nil, err
	}
	return data, nil
}
