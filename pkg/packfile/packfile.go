// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package packfile implements the chunked container format (C2,
// §3.2/§4.1) that every archive file — content pack or string pack —
// is wrapped in. Parsing is zero-copy: a PackFile retains a borrow
// of the bytes it was parsed from and exposes Chunks as typed views
// over slices of that same backing array.
package packfile

import (
	"encoding/binary"
	"fmt"

	"github.com/xvwyh/GW2Viewer-sub000/internal/binstruct"
)

// Magic is the fixed byte sequence every pack file begins with.
var Magic = [4]byte{'P', 'F', 0, 0}

// Header is the fixed-size prefix of a pack file.
type Header struct {
	Magic         [4]byte `bin:"off=0x0, siz=0x4"`
	Is64Bit       uint8   `bin:"off=0x4, siz=0x1"`
	Reserved      [3]byte `bin:"off=0x5, siz=0x3"` // padding to a 4-byte boundary
	HeaderSize    uint32  `bin:"off=0x8, siz=0x4"`
	binstruct.End `bin:"off=0xc"`
}

// ChunkHeader is the fixed-size prefix of each Chunk entry in the
// linked list that follows Header.
type ChunkHeader struct {
	Tag           [4]byte `bin:"off=0x0, siz=0x4"`
	Version       uint16  `bin:"off=0x4, siz=0x2"`
	Reserved      [2]byte `bin:"off=0x6, siz=0x2"` // padding
	PayloadLength uint32  `bin:"off=0x8, siz=0x4"`
	binstruct.End `bin:"off=0xc"`
}

var (
	headerSize      = binstruct.StaticSize(Header{})
	chunkHeaderSize = binstruct.StaticSize(ChunkHeader{})
)

// Chunk is one typed, versioned payload inside a PackFile.
type Chunk struct {
	Tag     string
	Version uint16
	// Offset is the byte offset of Payload within the PackFile's
	// backing array.
	Offset  int
	Payload []byte
}

// PackFile is a parsed, zero-copy view over one archive file's
// bytes.
type PackFile struct {
	Bytes   []byte
	Is64Bit bool
	chunks  []Chunk
}

// BadHeaderError reports that the pack file's fixed prefix failed
// validation (§4.1).
type BadHeaderError struct {
	Reason string
}

func (e *BadHeaderError) Error() string {
	return fmt.Sprintf("packfile: bad header: %s", e.Reason)
}

// TruncatedChunkError reports that a chunk's declared length would
// run past the end of the file (§4.1, §7 BadChunk).
type TruncatedChunkError struct {
	Tag      string
	Offset   int
	Declared int
	Have     int
}

func (e *TruncatedChunkError) Error() string {
	return fmt.Sprintf("packfile: chunk %q at offset %#x declares %d bytes but only %d remain",
		e.Tag, e.Offset, e.Declared, e.Have)
}

// Parse validates the header and walks the chunk linked list by
// declared length, failing fatally (per §7) on any structural
// inconsistency. The returned PackFile borrows dat; callers must not
// mutate it afterward.
func Parse(dat []byte) (*PackFile, error) {
	if len(dat) < headerSize {
		return nil, &BadHeaderError{Reason: fmt.Sprintf("file is only %d bytes, need at least %d for the header", len(dat), headerSize)}
	}
	var hdr Header
	if _, err := binstruct.Unmarshal(dat[:headerSize], &hdr); err != nil {
		return nil, &BadHeaderError{Reason: err.Error()}
	}
	if hdr.Magic != Magic {
		return nil, &BadHeaderError{Reason: fmt.Sprintf("magic is %q, want %q", hdr.Magic, Magic)}
	}
	if int(hdr.HeaderSize) != headerSize {
		return nil, &BadHeaderError{Reason: fmt.Sprintf("header.size=%d but sizeof(header)=%d", hdr.HeaderSize, headerSize)}
	}

	pf := &PackFile{
		Bytes:   dat,
		Is64Bit: hdr.Is64Bit != 0,
	}

	pos := headerSize
	for pos < len(dat) {
		if len(dat)-pos < chunkHeaderSize {
			return nil, &TruncatedChunkError{Tag: "<eof>", Offset: pos, Declared: chunkHeaderSize, Have: len(dat) - pos}
		}
		var ch ChunkHeader
		if _, err := binstruct.Unmarshal(dat[pos:pos+chunkHeaderSize], &ch); err != nil {
			return nil, &BadHeaderError{Reason: err.Error()}
		}
		payloadOff := pos + chunkHeaderSize
		payloadLen := int(ch.PayloadLength)
		if payloadLen < 0 || len(dat)-payloadOff < payloadLen {
			return nil, &TruncatedChunkError{
				Tag:      string(ch.Tag[:]),
				Offset:   payloadOff,
				Declared: payloadLen,
				Have:     len(dat) - payloadOff,
			}
		}
		pf.chunks = append(pf.chunks, Chunk{
			Tag:     string(ch.Tag[:]),
			Version: ch.Version,
			Offset:  payloadOff,
			Payload: dat[payloadOff : payloadOff+payloadLen],
		})
		pos = payloadOff + payloadLen
	}

	return pf, nil
}

// IterChunks returns every chunk in declared order.
func (pf *PackFile) IterChunks() []Chunk {
	return pf.chunks
}

// QueryChunk returns the first chunk with the given tag, if any.
func (pf *PackFile) QueryChunk(tag string) (Chunk, bool) {
	for _, ch := range pf.chunks {
		if ch.Tag == tag {
			return ch, true
		}
	}
	return Chunk{}, false
}

// FirstChunk returns the first chunk in the file, if any.
func (pf *PackFile) FirstChunk() (Chunk, bool) {
	if len(pf.chunks) == 0 {
		return Chunk{}, false
	}
	return pf.chunks[0], true
}

// ReadUintAt reads a little-endian unsigned integer of the given
// byte width (1, 2, 4, or 8) at off within the PackFile's bytes.
// Used by the layout engine's Ptr/Array cursors (§4.2) once a field
// offset has been computed.
func (pf *PackFile) ReadUintAt(off, width int) (uint64, error) {
	if off < 0 || width < 0 || off+width > len(pf.Bytes) {
		return 0, fmt.Errorf("packfile: read of %d bytes at offset %#x is out of bounds (len=%#x)", width, off, len(pf.Bytes))
	}
	switch width {
	case 1:
		return uint64(pf.Bytes[off]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(pf.Bytes[off:])), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(pf.Bytes[off:])), nil
	case 8:
		return binary.LittleEndian.Uint64(pf.Bytes[off:]), nil
	default:
		return 0, fmt.Errorf("packfile: unsupported integer width %d", width)
	}
}

// PtrWidth is the width (in bytes) of a raw pointer field, which
// depends on the pack file's declared bitness (§3.3 Ptr kind).
func (pf *PackFile) PtrWidth() int {
	if pf.Is64Bit {
		return 8
	}
	return 4
}
