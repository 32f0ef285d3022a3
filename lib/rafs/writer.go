// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package rafs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/bergwolf/nydus/lib/codec"
	"github.com/bergwolf/nydus/lib/compress"
	"github.com/bergwolf/nydus/lib/digest"
)

// WriterConfig selects the layout of a bootstrap produced by [Writer].
type WriterConfig struct {
	Version    Version
	Digester   digest.Algorithm
	Compressor compress.Algorithm
	ChunkSize  uint32

	// InlineChunkDigest stores full chunk records in the inode tree
	// of a V6 bootstrap in addition to the chunk table. V5 bootstraps
	// always inline.
	InlineChunkDigest bool

	ExplicitUIDGID bool
}

// Writer assembles a bootstrap in memory and serializes it.
//
// Typical usage:
//
//	w := rafs.NewWriter(rafs.WriterConfig{Version: rafs.V6, ChunkSize: 0x100000})
//	blob := w.AddBlob(rafs.BlobInfo{BlobID: id})
//	err := w.AddFile("/bin/sh", 0o755, []rafs.Chunk{{BlobIndex: blob.Index, ...}})
//	err = w.WriteFile(bootstrapPath)
//
// A Writer is not safe for concurrent use.
type Writer struct {
	config WriterConfig
	blobs  []*BlobInfo
	root   *Inode
	chunks []*Chunk
}

// NewWriter returns an empty writer whose tree holds only "/".
func NewWriter(config WriterConfig) *Writer {
	return &Writer{
		config: config,
		root:   &Inode{Name: "/", Mode: fs.ModeDir | 0o755},
	}
}

// AddBlob appends blob to the blob table, assigning its Index and the
// writer's digester. A blob without a compressor or chunk size
// inherits the writer's.
func (w *Writer) AddBlob(blob BlobInfo) *BlobInfo {
	blob.Index = uint32(len(w.blobs))
	blob.Digester = w.config.Digester
	if blob.Compressor == compress.None {
		blob.Compressor = w.config.Compressor
	}
	if blob.ChunkSize == 0 {
		blob.ChunkSize = w.config.ChunkSize
	}
	stored := &blob
	w.blobs = append(w.blobs, stored)
	return stored
}

// AddDir creates a directory and any missing parents.
func (w *Writer) AddDir(dirPath string, mode fs.FileMode) error {
	_, err := w.lookupDir(dirPath, mode, true)
	return err
}

// AddFile adds a regular file made of chunks, creating missing parent
// directories. The file size is the sum of the chunks' uncompressed
// sizes. Chunk digests are stamped with the writer's digester.
func (w *Writer) AddFile(filePath string, mode fs.FileMode, chunks []Chunk) error {
	cleaned := path.Clean("/" + filePath)
	if cleaned == "/" {
		return fmt.Errorf("cannot add root as a file")
	}
	parent, err := w.lookupDir(path.Dir(cleaned), 0o755, true)
	if err != nil {
		return err
	}
	name := path.Base(cleaned)
	if parent.child(name) != nil {
		return fmt.Errorf("%s already exists", cleaned)
	}

	node := &Inode{Name: name, Mode: mode.Perm()}
	for i := range chunks {
		chunk := chunks[i]
		if int(chunk.BlobIndex) >= len(w.blobs) {
			return fmt.Errorf("%s chunk %d references blob %d, only %d added",
				cleaned, i, chunk.BlobIndex, len(w.blobs))
		}
		chunk.ID.Algorithm = w.config.Digester
		node.Size += uint64(chunk.UncompressedSize)

		stored := &chunk
		if w.config.Version == V6 {
			node.ChunkRefs = append(node.ChunkRefs, uint32(len(w.chunks)))
			w.chunks = append(w.chunks, stored)
		}
		if w.inline() {
			node.Chunks = append(node.Chunks, stored)
		}
	}
	parent.Children = append(parent.Children, node)
	return nil
}

func (w *Writer) inline() bool {
	return w.config.Version == V5 || w.config.InlineChunkDigest
}

func (w *Writer) lookupDir(dirPath string, mode fs.FileMode, create bool) (*Inode, error) {
	node := w.root
	cleaned := path.Clean("/" + dirPath)
	if cleaned == "/" {
		return node, nil
	}
	for _, name := range strings.Split(strings.TrimPrefix(cleaned, "/"), "/") {
		next := node.child(name)
		if next == nil {
			if !create {
				return nil, fmt.Errorf("%s: %w", cleaned, fs.ErrNotExist)
			}
			next = &Inode{Name: name, Mode: fs.ModeDir | mode.Perm()}
			node.Children = append(node.Children, next)
		}
		if !next.IsDir() {
			return nil, fmt.Errorf("%s: %s is not a directory", cleaned, name)
		}
		node = next
	}
	return node, nil
}

// Bytes serializes the bootstrap. Sections are laid out as header,
// blob table, chunk table, inode tree.
func (w *Writer) Bytes() ([]byte, error) {
	w.root.sortChildren()

	blobTable, err := codec.Marshal(w.blobs)
	if err != nil {
		return nil, fmt.Errorf("encoding blob table: %w", err)
	}
	tree, err := codec.Marshal(w.root)
	if err != nil {
		return nil, fmt.Errorf("encoding inode tree: %w", err)
	}

	chunkTable := make([]byte, len(w.chunks)*ChunkRecordSize)
	for i, chunk := range w.chunks {
		putChunkRecord(chunkTable[i*ChunkRecordSize:], chunk)
	}

	meta := Meta{
		Version:    w.config.Version,
		Digester:   w.config.Digester,
		Compressor: w.config.Compressor,
		ChunkSize:  w.config.ChunkSize,
	}
	if w.config.Version == V6 && w.config.InlineChunkDigest {
		meta.Flags |= FlagInlinedChunkDigest
	}
	if w.config.ExplicitUIDGID {
		meta.Flags |= FlagExplicitUIDGID
	}
	offset := uint64(HeaderSize)
	meta.BlobTable = Section{Offset: offset, Size: uint64(len(blobTable))}
	offset += meta.BlobTable.Size
	meta.ChunkTable = Section{Offset: offset, Size: uint64(len(chunkTable))}
	offset += meta.ChunkTable.Size
	meta.Tree = Section{Offset: offset, Size: uint64(len(tree))}

	header, err := meta.MarshalBinary()
	if err != nil {
		return nil, err
	}

	var buffer bytes.Buffer
	buffer.Grow(int(offset) + len(tree))
	buffer.Write(header)
	buffer.Write(blobTable)
	buffer.Write(chunkTable)
	buffer.Write(tree)
	return buffer.Bytes(), nil
}

// WriteTo writes the serialized bootstrap to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	data, err := w.Bytes()
	if err != nil {
		return 0, err
	}
	n, err := out.Write(data)
	return int64(n), err
}

// WriteFile writes the bootstrap to filePath through a temporary file
// in the same directory, so readers never observe a partial file.
func (w *Writer) WriteFile(filePath string) error {
	data, err := w.Bytes()
	if err != nil {
		return err
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(filePath), ".bootstrap-*")
	if err != nil {
		return fmt.Errorf("creating temp bootstrap: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("writing bootstrap: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp bootstrap: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		return fmt.Errorf("renaming bootstrap into place: %w", err)
	}
	success = true
	return nil
}
