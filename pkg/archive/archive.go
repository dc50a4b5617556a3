// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package archive defines the boundary contract (C1) between the
// content-recovery engine and whatever owns the sealed archive
// container format. The container format itself (compression,
// dedup, on-disk directory structure) is out of scope for this
// repository; callers supply a Reader.
package archive

import (
	"context"
	"fmt"

	"github.com/xvwyh/GW2Viewer-sub000/internal/caching"
	"github.com/xvwyh/GW2Viewer-sub000/internal/textui"
)

// FileID is the opaque 32-bit identifier the archive uses to name a
// file (§3.1). It is scoped to one archive and has no meaning
// outside of a Reader.
type FileID uint32

func (id FileID) String() string {
	return fmt.Sprintf("file#%d", uint32(id))
}

// FileRef is the packed on-disk form of a FileID: two little-endian
// 16-bit halves with a fixed bias, as content-pack fix-ups store
// indices into a file's embedded FileID table (§3.1, §4.6 step 4).
//
// The bias exists because game content packs reserve FileID 0 to
// mean "no reference"; encoding low^hi with the bias keeps that
// sentinel distinguishable from a real low-numbered file.
type FileRef struct {
	Lo uint16
	Hi uint16
}

const fileRefBias = 0x8000

// Decode converts the on-disk FileRef into the FileID it names.
func (r FileRef) Decode() FileID {
	return FileID(uint32(r.Lo) | (uint32(r.Hi^fileRefBias) << 16))
}

// EncodeFileRef is the inverse of FileRef.Decode; round-tripping
// through Decode/EncodeFileRef must reproduce the original bit
// pattern exactly (§3.1 invariant).
func EncodeFileRef(id FileID) FileRef {
	v := uint32(id)
	return FileRef{
		Lo: uint16(v & 0xffff),
		Hi: uint16((v>>16)&0xffff) ^ fileRefBias,
	}
}

// MftEntry is the subset of the archive container's master file
// table that the engine cares about: how big the entry claims to
// be, so the loader can sanity-check declared lengths (§7, BadChunk
// without reading past end).
type MftEntry struct {
	DeclaredSize     uint64
	UncompressedSize uint64
}

// FileRecord names one entry as the archive's listing sees it.
type FileRecord struct {
	ID     FileID
	Source string
}

// Reader is the inbound collaborator (§6.1) that resolves file IDs
// to bytes. Implementations may back this with an in-memory map (as
// Memory does, for tests) or with the real sealed-archive container
// format (out of scope here).
type Reader interface {
	// GetFile returns the raw bytes of a file. A missing file is
	// reported by returning a nil/empty slice, not an error: per
	// §7 this is an Io condition the loader recovers from by
	// skipping the file.
	GetFile(id FileID) []byte
	// GetFileMftEntry returns the container's declared/uncompressed
	// size for id, if the container tracks it.
	GetFileMftEntry(id FileID) (MftEntry, bool)
	// GetFiles lists every file the archive knows about.
	GetFiles() []FileRecord
}

// Memory is a trivial in-memory Reader whose files are added with
// Put; it is used by tests and small fixtures.
type Memory struct {
	files   map[FileID][]byte
	sources map[FileID]string
}

var _ Reader = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		files:   make(map[FileID][]byte),
		sources: make(map[FileID]string),
	}
}

func (m *Memory) Put(id FileID, source string, data []byte) {
	m.files[id] = data
	m.sources[id] = source
}

func (m *Memory) GetFile(id FileID) []byte {
	return m.files[id]
}

func (m *Memory) GetFileMftEntry(id FileID) (MftEntry, bool) {
	data, ok := m.files[id]
	if !ok {
		return MftEntry{}, false
	}
	return MftEntry{DeclaredSize: uint64(len(data)), UncompressedSize: uint64(len(data))}, true
}

func (m *Memory) GetFiles() []FileRecord {
	ret := make([]FileRecord, 0, len(m.files))
	for id := range m.files {
		ret = append(ret, FileRecord{ID: id, Source: m.sources[id]})
	}
	return ret
}

// CachingReader wraps a Reader with a bounded-capacity LRU of decoded
// file bytes, so repeated GetFile calls for the same FileID (the
// loader re-visits a continent's shared sub-files once per
// referencing scene, §4.1) don't re-hit the underlying container.
// Grounded on the teacher's Subvolume inode caches (lib/btrfs/io4_fs.go),
// which front expensive tree lookups with caching.NewLRUCache the
// same way.
type CachingReader struct {
	back  Reader
	bytes caching.Cache[FileID, []byte]
}

// NewCachingReader wraps back with an LRU of the given capacity
// (number of distinct files held decoded at once).
func NewCachingReader(back Reader, capacity int) *CachingReader {
	r := &CachingReader{back: back}
	r.bytes = caching.NewLRUCache[FileID, []byte](textui.Tunable(capacity),
		caching.FuncSource[FileID, []byte](r.load))
	return r
}

func (r *CachingReader) load(_ context.Context, id FileID, v *[]byte) {
	*v = r.back.GetFile(id)
}

// GetFile returns id's bytes, decoding (and caching) them if this is
// the first request for id since it was last evicted.
func (r *CachingReader) GetFile(id FileID) []byte {
	ctx := context.Background()
	data := r.bytes.Acquire(ctx, id)
	defer r.bytes.Release(id)
	return *data
}

func (r *CachingReader) GetFileMftEntry(id FileID) (MftEntry, bool) {
	return r.back.GetFileMftEntry(id)
}

func (r *CachingReader) GetFiles() []FileRecord {
	return r.back.GetFiles()
}

var _ Reader = (*CachingReader)(nil)
