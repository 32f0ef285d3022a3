// Copyright 2026 The Nydus Authors
// SPDX-License-Identifier: Apache-2.0

package rafs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/bergwolf/nydus/lib/compress"
	"github.com/bergwolf/nydus/lib/digest"
)

// HeaderSize is the fixed size of the bootstrap header:
//
//	offset  size  field
//	     0     4  magic "RAFS"
//	     4     4  version
//	     8     4  flags
//	    12     1  digester
//	    13     1  compressor
//	    14     2  reserved
//	    16     4  chunk size
//	    20     4  reserved
//	    24    16  blob table section (offset, size)
//	    40    16  chunk table section (offset, size)
//	    56    16  inode tree section (offset, size)
//	    72     4  CRC32C of bytes [0, 72)
//	    76     4  reserved
const HeaderSize = 80

const headerChecksummed = 72

var headerMagic = [4]byte{'R', 'A', 'F', 'S'}

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

// ErrInvalidData is wrapped by every error caused by malformed
// bootstrap content.
var ErrInvalidData = errors.New("invalid bootstrap data")

// Flags are bootstrap-wide format bits.
type Flags uint32

const (
	// FlagInlinedChunkDigest marks a V6 bootstrap whose inode tree
	// carries full chunk records.
	FlagInlinedChunkDigest Flags = 1 << 0

	// FlagExplicitUIDGID marks a bootstrap whose inodes keep the
	// uid/gid of the source tree instead of mapping them to the
	// mounting user.
	FlagExplicitUIDGID Flags = 1 << 1
)

// Section locates one region of a bootstrap file.
type Section struct {
	Offset uint64
	Size   uint64
}

func (s Section) end() uint64 { return s.Offset + s.Size }

// Meta is the decoded bootstrap header.
type Meta struct {
	Version    Version
	Flags      Flags
	Digester   digest.Algorithm
	Compressor compress.Algorithm
	ChunkSize  uint32

	BlobTable  Section
	ChunkTable Section
	Tree       Section
}

// Config returns the compatibility-relevant subset of the header.
func (m Meta) Config() SuperConfig {
	return SuperConfig{
		Version:        m.Version,
		Digester:       m.Digester,
		ChunkSize:      m.ChunkSize,
		ExplicitUIDGID: m.Flags&FlagExplicitUIDGID != 0,
	}
}

// MarshalBinary encodes the header, including its checksum.
func (m Meta) MarshalBinary() ([]byte, error) {
	buffer := make([]byte, HeaderSize)
	copy(buffer[0:4], headerMagic[:])
	binary.LittleEndian.PutUint32(buffer[4:], uint32(m.Version))
	binary.LittleEndian.PutUint32(buffer[8:], uint32(m.Flags))
	buffer[12] = byte(m.Digester)
	buffer[13] = byte(m.Compressor)
	binary.LittleEndian.PutUint32(buffer[16:], m.ChunkSize)
	putSection(buffer[24:], m.BlobTable)
	putSection(buffer[40:], m.ChunkTable)
	putSection(buffer[56:], m.Tree)
	binary.LittleEndian.PutUint32(buffer[72:], crc32.Checksum(buffer[:headerChecksummed], castagnoli))
	return buffer, nil
}

// UnmarshalBinary decodes and validates a header. It checks the magic,
// the checksum, and that the version and digester are known.
func (m *Meta) UnmarshalBinary(buffer []byte) error {
	if len(buffer) < HeaderSize {
		return fmt.Errorf("%w: header is %d bytes, want %d", ErrInvalidData, len(buffer), HeaderSize)
	}
	if [4]byte(buffer[0:4]) != headerMagic {
		return fmt.Errorf("%w: bad magic %q", ErrInvalidData, buffer[0:4])
	}
	stored := binary.LittleEndian.Uint32(buffer[72:])
	if computed := crc32.Checksum(buffer[:headerChecksummed], castagnoli); stored != computed {
		return fmt.Errorf("%w: header checksum %08x, computed %08x", ErrInvalidData, stored, computed)
	}

	decoded := Meta{
		Version:    Version(binary.LittleEndian.Uint32(buffer[4:])),
		Flags:      Flags(binary.LittleEndian.Uint32(buffer[8:])),
		Digester:   digest.Algorithm(buffer[12]),
		Compressor: compress.Algorithm(buffer[13]),
		ChunkSize:  binary.LittleEndian.Uint32(buffer[16:]),
		BlobTable:  parseSection(buffer[24:]),
		ChunkTable: parseSection(buffer[40:]),
		Tree:       parseSection(buffer[56:]),
	}
	if decoded.Version != V5 && decoded.Version != V6 {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidData, uint32(decoded.Version))
	}
	if !decoded.Digester.Valid() {
		return fmt.Errorf("%w: unknown digester %d", ErrInvalidData, uint8(decoded.Digester))
	}
	*m = decoded
	return nil
}

func putSection(buffer []byte, s Section) {
	binary.LittleEndian.PutUint64(buffer[0:], s.Offset)
	binary.LittleEndian.PutUint64(buffer[8:], s.Size)
}

func parseSection(buffer []byte) Section {
	return Section{
		Offset: binary.LittleEndian.Uint64(buffer[0:]),
		Size:   binary.LittleEndian.Uint64(buffer[8:]),
	}
}
