// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package contentloader implements ContentLoader (C8, §4.6): the
// three-stage (plus a fourth weak-reference pass) construction of a
// content.Graph from a set of parsed content-pack files.
//
// The on-disk chunk layout read here (CTYP/NSPC/INDX/FREF/FIXL/FIXX/
// FIXF/FIXS/TRKR/STBL tags, fixed-size records below) isn't specified
// by name in the governing document — only the fix-up algorithm and
// its failure semantics are — so this package invents a
// self-consistent wire format in the same style as packfile's chunk
// container, and documents that choice here rather than pretending it
// is a faithfully reverse-engineered layout.
package contentloader

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"unicode/utf16"

	"github.com/xvwyh/GW2Viewer-sub000/internal/binstruct"
	"github.com/xvwyh/GW2Viewer-sub000/internal/containers"
	"github.com/xvwyh/GW2Viewer-sub000/internal/guid"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/content"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/packfile"
)

// FileID names one loaded content-pack file, resolved from a root
// file's FREF chunk by a file-index fix-up (§4.6 S2.4).
type FileID string

// sourceFile is one parsed content-pack file plus the loader-local
// state the multi-pass algorithm accumulates against it.
type sourceFile struct {
	index int
	id    FileID
	pf    *packfile.PackFile
	root  bool

	strings []string // STBL, decoded once per file (§4.6 S2.5)
}

// typeRecord is CTYP's fixed-size record: a ContentType descriptor,
// root file only (§4.6 S2.6). Offsets of -1 mean "not present".
type typeRecord struct {
	Index           uint32   `bin:"off=0x00,siz=0x4"`
	GUIDOffset      int32    `bin:"off=0x04,siz=0x4"`
	UIDOffset       int32    `bin:"off=0x08,siz=0x4"`
	DataIDOffset    int32    `bin:"off=0x0c,siz=0x4"`
	NameOffset      int32    `bin:"off=0x10,siz=0x4"`
	TrackReferences uint8    `bin:"off=0x14,siz=0x1"`
	Reserved        [3]byte  `bin:"off=0x15,siz=0x3"`
	Name            [32]byte `bin:"off=0x18,siz=0x20"`

	binstruct.End `bin:"off=0x38"`
}

// namespaceRecord is NSPC's fixed-size record (§4.6 S2.7).
type namespaceRecord struct {
	Index       uint32   `bin:"off=0x00,siz=0x4"`
	Domain      uint32   `bin:"off=0x04,siz=0x4"`
	ParentIndex int32    `bin:"off=0x08,siz=0x4"` // -1 for the (unique) root namespace
	Name        [32]byte `bin:"off=0x0c,siz=0x20"`

	binstruct.End `bin:"off=0x2c"`
}

// indexEntryRecord is INDX's fixed-size record (§4.6 S2.8).
type indexEntryRecord struct {
	TypeIndex      uint32 `bin:"off=0x00,siz=0x4"`
	NamespaceIndex uint32 `bin:"off=0x04,siz=0x4"`
	RootEntryIndex int32  `bin:"off=0x08,siz=0x4"` // -1, else index into this file's own INDX list
	DataOffset     uint32 `bin:"off=0x0c,siz=0x4"` // absolute offset within the file's bytes

	binstruct.End `bin:"off=0x10"`
}

// localFixupRecord is FIXL's fixed-size record (§4.6 S2.2): the value
// stored at Offset is an absolute within-file offset.
type localFixupRecord struct {
	Offset uint32 `bin:"off=0x00,siz=0x4"`

	binstruct.End `bin:"off=0x4"`
}

// externalFixupRecord is FIXX's fixed-size record (§4.6 S2.3): the
// value at Offset is paired with an explicit target-file index.
type externalFixupRecord struct {
	Offset          uint32 `bin:"off=0x00,siz=0x4"`
	TargetFileIndex uint32 `bin:"off=0x04,siz=0x4"`

	binstruct.End `bin:"off=0x8"`
}

// fileIndexFixupRecord is FIXF's fixed-size record (§4.6 S2.4): the
// value at Offset indexes the root file's FREF array.
type fileIndexFixupRecord struct {
	Offset uint32 `bin:"off=0x00,siz=0x4"`

	binstruct.End `bin:"off=0x4"`
}

// stringIndexFixupRecord is FIXS's fixed-size record (§4.6 S2.5): the
// value at Offset indexes this file's STBL table.
type stringIndexFixupRecord struct {
	Offset uint32 `bin:"off=0x00,siz=0x4"`

	binstruct.End `bin:"off=0x4"`
}

// trackedRefRecord is TRKR's fixed-size record (§4.6 S3): a replayed
// tracked reference from the object whose data begins at SourceOffset
// to the object whose data begins at TargetOffset in TargetFileIndex.
type trackedRefRecord struct {
	SourceOffset    uint32 `bin:"off=0x00,siz=0x4"`
	TargetOffset    uint32 `bin:"off=0x04,siz=0x4"`
	TargetFileIndex uint32 `bin:"off=0x08,siz=0x4"`

	binstruct.End `bin:"off=0xc"`
}

// fileRefRecord is FREF's fixed-size record, root file only: one
// entry in the array a file-index fix-up (§4.6 S2.4) resolves
// against.
type fileRefRecord struct {
	Path [64]byte `bin:"off=0x00,siz=0x40"`

	binstruct.End `bin:"off=0x40"`
}

func cstr(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func optOffset(v int32) containers.Optional[int] {
	if v < 0 {
		return containers.Optional[int]{}
	}
	return containers.Optional[int]{OK: true, Val: int(v)}
}

// decodeRecords walks a chunk's payload as a sequence of fixed-size
// binstruct records, one per recSize bytes, calling fn with each raw
// record slice.
func decodeRecords(payload []byte, recSize int, fn func(rec []byte) error) error {
	for off := 0; off+recSize <= len(payload); off += recSize {
		if err := fn(payload[off : off+recSize]); err != nil {
			return err
		}
	}
	return nil
}

// parseStringTable decodes STBL (§4.6 S2.5): a sequence of
// (uint16 length, UTF-8 bytes) entries, indexed by position.
func parseStringTable(payload []byte) []string {
	var out []string
	off := 0
	for off+2 <= len(payload) {
		n := int(binary.LittleEndian.Uint16(payload[off:]))
		off += 2
		if off+n > len(payload) {
			break
		}
		out = append(out, string(payload[off:off+n]))
		off += n
	}
	return out
}

// EntryError reports that one index entry, tracked reference, or
// fix-up could not be resolved; per §4.6's failure handling this is
// non-fatal and the offending entry is skipped.
type EntryError struct {
	File   FileID
	Reason string
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("contentloader: file %s: %s", e.File, e.Reason)
}

// UsedByteKind classifies one fix-up site for the used-bytes map
// (§4.6 S2.1): "informational for the UI; correctness does not
// depend on it."
type UsedByteKind int

const (
	UsedPointer UsedByteKind = iota
	UsedFileRef
	UsedStringRef
)

// Loader drives ContentLoader's S1-S4 pipeline (§4.6) against a set
// of parsed content-pack files and an (initially empty) content.Graph.
type Loader struct {
	Graph *content.Graph

	files []*sourceFile

	// pointerSet is S1's oracle (§4.6 S1): every object's data-pointer
	// (by file) gathered before any fix-up resolution is attempted.
	pointerSet map[content.DataPtr]struct{}

	// objByOffset maps (file index, data offset) to the constructed
	// object, so S3's tracked-reference offsets and the later
	// pointer-resolving passes can find an object by where its data
	// starts after every file's entries are read.
	objByOffset map[content.DataPtr]*content.ContentObject

	// UsedBytes is the §4.6 S2.1 used-bytes map: every fix-up site
	// seen, tagged by what kind of value it holds. The UI consults
	// this to annotate a hex view; nothing else in the pipeline reads
	// it back.
	UsedBytes map[content.DataPtr]UsedByteKind

	// FileRefs is the root file's FREF array (§4.6 S2.4), the table a
	// FIXF fix-up's value indexes into.
	FileRefs []FileID

	errors []error

	loaded atomic.Bool
}

// NewLoader constructs a Loader writing into graph.
func NewLoader(graph *content.Graph) *Loader {
	return &Loader{
		Graph:       graph,
		pointerSet:  make(map[content.DataPtr]struct{}),
		objByOffset: make(map[content.DataPtr]*content.ContentObject),
		UsedBytes:   make(map[content.DataPtr]UsedByteKind),
	}
}

// AddFile registers a parsed content-pack file for loading. root
// marks the single file whose CTYP/NSPC/FREF chunks are authoritative
// (§4.6 S2.6/S2.7/S2.4).
func (l *Loader) AddFile(id FileID, pf *packfile.PackFile, root bool) {
	l.files = append(l.files, &sourceFile{
		index: len(l.files),
		id:    id,
		pf:    pf,
		root:  root,
	})
}

// Errors returns every non-fatal per-entry problem encountered across
// the whole load (§4.6: "reported per-entry and the entry is
// skipped").
func (l *Loader) Errors() []error { return l.errors }

// Loaded reports whether content_loaded has transitioned to true
// (§4.6, §4.8): consumers poll this and yield until it does.
func (l *Loader) Loaded() bool { return l.loaded.Load() }

func (l *Loader) recordErr(file FileID, reason string) {
	l.errors = append(l.errors, &EntryError{File: file, Reason: reason})
}

func (l *Loader) rootFile() *sourceFile {
	for _, f := range l.files {
		if f.root {
			return f
		}
	}
	if len(l.files) > 0 {
		return l.files[0]
	}
	return nil
}

// Run executes S1 through the fourth weak-reference pass in order,
// setting Loaded() true only after S3 completes (§4.6).
func (l *Loader) Run() error {
	for _, f := range l.files {
		if ch, ok := f.pf.QueryChunk("STBL"); ok {
			f.strings = parseStringTable(ch.Payload)
		}
	}

	l.stage1GatherPointers()

	if err := l.stage2FixupsAndObjects(); err != nil {
		return err
	}

	l.stage3TrackedReferences()
	l.loaded.Store(true)

	l.stage4WeakReferences()

	return nil
}

// stage1GatherPointers walks every file's INDX chunk, recording each
// entry's data-pointer in pointerSet (§4.6 S1). This must run before
// any fix-up is resolved, since fix-up resolution needs to know which
// offsets are real object starts.
func (l *Loader) stage1GatherPointers() {
	for _, f := range l.files {
		ch, ok := f.pf.QueryChunk("INDX")
		if !ok {
			continue
		}
		recSize := binstruct.StaticSize(indexEntryRecord{})
		_ = decodeRecords(ch.Payload, recSize, func(rec []byte) error {
			var e indexEntryRecord
			if _, err := binstruct.Unmarshal(rec, &e); err != nil {
				return nil //nolint:nilerr // malformed entry skipped by S1, reported in S2
			}
			l.pointerSet[content.DataPtr{FileIndex: f.index, Offset: int(e.DataOffset)}] = struct{}{}
			return nil
		})
	}
}

// stage2FixupsAndObjects implements §4.6 S2 steps 1-8 per file: types
// and namespaces from the root file, then index entries (with
// fix-up-resolved roots) for every file.
func (l *Loader) stage2FixupsAndObjects() error {
	root := l.rootFile()
	if root == nil {
		return nil
	}

	l.readFileRefs(root)

	types, err := l.readTypes(root)
	if err != nil {
		return err
	}
	namespaces, rootNS, err := l.readNamespaces(root)
	if err != nil {
		return err
	}
	l.Graph.RootNamespace = rootNS
	for _, ns := range namespaces {
		l.Graph.RegisterNamespace(ns)
	}

	for _, f := range l.files {
		l.markUsedBytes(f)
		l.readIndexEntries(f, types, namespaces)
	}
	return nil
}

// readFileRefs decodes the root file's FREF chunk (§4.6 S2.4) into
// FileRefs, the table a FIXF fix-up's value indexes into.
func (l *Loader) readFileRefs(root *sourceFile) {
	ch, ok := root.pf.QueryChunk("FREF")
	if !ok {
		return
	}
	recSize := binstruct.StaticSize(fileRefRecord{})
	_ = decodeRecords(ch.Payload, recSize, func(rec []byte) error {
		var r fileRefRecord
		if _, err := binstruct.Unmarshal(rec, &r); err != nil {
			l.recordErr(root.id, fmt.Sprintf("bad FREF record: %v", err))
			return nil
		}
		l.FileRefs = append(l.FileRefs, FileID(cstr(r.Path[:])))
		return nil
	})
}

// markUsedBytes implements §4.6 S2.1's informational used-bytes map:
// every FIXL/FIXX site is tagged UsedPointer, every FIXF site
// UsedFileRef, every FIXS site UsedStringRef. This doesn't feed
// object construction; it's read back only by a hex-view UI.
func (l *Loader) markUsedBytes(f *sourceFile) {
	mark := func(tag string, recSize int, kind UsedByteKind, offsetOf func(rec []byte) (uint32, bool)) {
		ch, ok := f.pf.QueryChunk(tag)
		if !ok {
			return
		}
		_ = decodeRecords(ch.Payload, recSize, func(rec []byte) error {
			off, ok := offsetOf(rec)
			if !ok {
				return nil
			}
			l.UsedBytes[content.DataPtr{FileIndex: f.index, Offset: int(off)}] = kind
			return nil
		})
	}

	mark("FIXL", binstruct.StaticSize(localFixupRecord{}), UsedPointer, func(rec []byte) (uint32, bool) {
		var r localFixupRecord
		if _, err := binstruct.Unmarshal(rec, &r); err != nil {
			return 0, false
		}
		return r.Offset, true
	})
	mark("FIXX", binstruct.StaticSize(externalFixupRecord{}), UsedPointer, func(rec []byte) (uint32, bool) {
		var r externalFixupRecord
		if _, err := binstruct.Unmarshal(rec, &r); err != nil {
			return 0, false
		}
		return r.Offset, true
	})
	mark("FIXF", binstruct.StaticSize(fileIndexFixupRecord{}), UsedFileRef, func(rec []byte) (uint32, bool) {
		var r fileIndexFixupRecord
		if _, err := binstruct.Unmarshal(rec, &r); err != nil {
			return 0, false
		}
		return r.Offset, true
	})
	mark("FIXS", binstruct.StaticSize(stringIndexFixupRecord{}), UsedStringRef, func(rec []byte) (uint32, bool) {
		var r stringIndexFixupRecord
		if _, err := binstruct.Unmarshal(rec, &r); err != nil {
			return 0, false
		}
		return r.Offset, true
	})
}

// ResolveFileIndexFixup resolves a FIXF fix-up's raw value (an index
// into FileRefs) to a FileID (§4.6 S2.4).
func (l *Loader) ResolveFileIndexFixup(value uint32) (FileID, bool) {
	if int(value) >= len(l.FileRefs) {
		return "", false
	}
	return l.FileRefs[value], true
}

// ResolveStringIndexFixup resolves a FIXS fix-up's raw value (an
// index into the named file's STBL table) to the referenced string
// (§4.6 S2.5).
func (l *Loader) ResolveStringIndexFixup(id FileID, value uint32) (string, bool) {
	for _, f := range l.files {
		if f.id != id {
			continue
		}
		if int(value) >= len(f.strings) {
			return "", false
		}
		return f.strings[value], true
	}
	return "", false
}

func (l *Loader) readTypes(root *sourceFile) (map[uint32]*content.ContentType, error) {
	types := make(map[uint32]*content.ContentType)
	ch, ok := root.pf.QueryChunk("CTYP")
	if !ok {
		return types, nil
	}
	recSize := binstruct.StaticSize(typeRecord{})
	err := decodeRecords(ch.Payload, recSize, func(rec []byte) error {
		var r typeRecord
		if _, err := binstruct.Unmarshal(rec, &r); err != nil {
			l.recordErr(root.id, fmt.Sprintf("bad CTYP record: %v", err))
			return nil
		}
		t := &content.ContentType{
			Index:           r.Index,
			Name:            cstr(r.Name[:]),
			GUIDOffset:      optOffset(r.GUIDOffset),
			UIDOffset:       optOffset(r.UIDOffset),
			DataIDOffset:    optOffset(r.DataIDOffset),
			NameOffset:      optOffset(r.NameOffset),
			TrackReferences: r.TrackReferences != 0,
		}
		types[t.Index] = t
		l.Graph.Types[t.Index] = t
		return nil
	})
	return types, err
}

func (l *Loader) readNamespaces(root *sourceFile) (map[uint32]*content.ContentNamespace, *content.ContentNamespace, error) {
	namespaces := make(map[uint32]*content.ContentNamespace)
	ch, ok := root.pf.QueryChunk("NSPC")
	if !ok {
		return namespaces, nil, nil
	}
	recSize := binstruct.StaticSize(namespaceRecord{})
	var parentOf = make(map[uint32]int32)
	err := decodeRecords(ch.Payload, recSize, func(rec []byte) error {
		var r namespaceRecord
		if _, err := binstruct.Unmarshal(rec, &r); err != nil {
			l.recordErr(root.id, fmt.Sprintf("bad NSPC record: %v", err))
			return nil
		}
		ns := &content.ContentNamespace{
			Index:  r.Index,
			Domain: content.NamespaceDomain(r.Domain),
			Name:   cstr(r.Name[:]),
		}
		namespaces[ns.Index] = ns
		parentOf[ns.Index] = r.ParentIndex
		return nil
	})
	if err != nil {
		return namespaces, nil, err
	}

	var root2 *content.ContentNamespace
	for idx, ns := range namespaces {
		parentIdx := parentOf[idx]
		if parentIdx < 0 {
			if root2 != nil {
				l.recordErr(root.id, "more than one root namespace (parent_index == -1); keeping the first")
				continue
			}
			root2 = ns
			continue
		}
		parent, ok := namespaces[uint32(parentIdx)]
		if !ok {
			l.recordErr(root.id, fmt.Sprintf("namespace %d: unknown parent index %d", idx, parentIdx))
			continue
		}
		ns.Parent = parent
		parent.Children = append(parent.Children, ns)
	}
	return namespaces, root2, nil
}

// readIndexEntries implements §4.6 S2.8 for one file: construct every
// ContentObject, register it in the graph's bijective indices, and
// resolve its optional root-object link.
func (l *Loader) readIndexEntries(f *sourceFile, types map[uint32]*content.ContentType, namespaces map[uint32]*content.ContentNamespace) {
	ch, ok := f.pf.QueryChunk("INDX")
	if !ok {
		return
	}
	recSize := binstruct.StaticSize(indexEntryRecord{})

	var entries []indexEntryRecord
	_ = decodeRecords(ch.Payload, recSize, func(rec []byte) error {
		var e indexEntryRecord
		if _, err := binstruct.Unmarshal(rec, &e); err != nil {
			l.recordErr(f.id, fmt.Sprintf("bad INDX record: %v", err))
			entries = append(entries, indexEntryRecord{RootEntryIndex: -1, TypeIndex: ^uint32(0)})
			return nil
		}
		entries = append(entries, e)
		return nil
	})

	objs := make([]*content.ContentObject, len(entries))
	objNS := make([]*content.ContentNamespace, len(entries))
	for i, e := range entries {
		if e.TypeIndex == ^uint32(0) {
			continue
		}
		typ, ok := types[e.TypeIndex]
		if !ok {
			l.recordErr(f.id, fmt.Sprintf("index entry %d: unknown type index %d", i, e.TypeIndex))
			continue
		}
		ns, ok := namespaces[e.NamespaceIndex]
		if !ok {
			l.recordErr(f.id, fmt.Sprintf("index entry %d: unknown namespace index %d", i, e.NamespaceIndex))
			continue
		}

		ptr := content.DataPtr{FileIndex: f.index, Offset: int(e.DataOffset)}
		idx := uint32(len(l.objByOffset))
		obj := content.NewObject(idx, typ, ptr, f.pf.Bytes[ptr.Offset:], func(o *content.ContentObject) int {
			return l.finalizeLen(f, o)
		})
		l.readOverlays(f, typ, obj)

		if err := l.Graph.RegisterObject(obj); err != nil {
			l.recordErr(f.id, err.Error())
			continue
		}
		l.objByOffset[ptr] = obj
		objs[i] = obj
		objNS[i] = ns
		if obj.Name.OK {
			l.Graph.RegisterName(obj, obj.Name.Val.ShortName)
		}
	}

	// Second pass: an entry with a resolvable root link nests under
	// its root object instead of the namespace (§4.6 S2.8: "Add to
	// namespace's direct entries, OR to the root object's nested
	// entries plus a Root reference from parent to child").
	for i, e := range entries {
		obj := objs[i]
		if obj == nil {
			continue
		}
		if e.RootEntryIndex < 0 {
			obj.Namespace = objNS[i]
			objNS[i].Entries = append(objNS[i].Entries, obj)
			continue
		}
		ri := int(e.RootEntryIndex)
		if ri >= len(objs) || objs[ri] == nil {
			l.recordErr(f.id, fmt.Sprintf("index entry %d: unresolvable root entry index %d", i, e.RootEntryIndex))
			obj.Namespace = objNS[i]
			objNS[i].Entries = append(objNS[i].Entries, obj)
			continue
		}
		root := objs[ri]
		obj.Root = root
		root.Entries = append(root.Entries, obj)
		root.AddReference(obj, content.RefRoot)
	}
}

// readOverlays reads a type's well-known overlays (GUID/UID/DataID,
// ContentName) out of obj's raw bytes at the type's declared offsets
// (§3.4, §4.5).
func (l *Loader) readOverlays(f *sourceFile, typ *content.ContentType, obj *content.ContentObject) {
	raw := obj.RawBytes()

	if typ.GUIDOffset.OK {
		off := typ.GUIDOffset.Val
		if off+16 <= len(raw) {
			if g, err := guid.FromBytes(raw[off : off+16]); err == nil {
				obj.GUID = containers.Optional[guid.GUID]{OK: true, Val: g}
			}
		}
	}
	if typ.UIDOffset.OK {
		off := typ.UIDOffset.Val
		if off+4 <= len(raw) {
			obj.UID = containers.Optional[uint32]{OK: true, Val: binary.LittleEndian.Uint32(raw[off:])}
		}
	}
	if typ.DataIDOffset.OK {
		off := typ.DataIDOffset.Val
		if off+4 <= len(raw) {
			obj.DataID = containers.Optional[uint32]{OK: true, Val: binary.LittleEndian.Uint32(raw[off:])}
		}
	}
	if typ.NameOffset.OK {
		off := typ.NameOffset.Val
		if off+8 <= len(raw) {
			shortOff := binary.LittleEndian.Uint32(raw[off:])
			fullOff := binary.LittleEndian.Uint32(raw[off+4:])
			obj.Name = containers.Optional[content.ContentName]{
				OK: true,
				Val: content.ContentName{
					ShortName: readWStringAt(f.pf, int(shortOff)),
					FullName:  readWStringAt(f.pf, int(fullOff)),
				},
			}
		}
	}
}

// readWStringAt reads a NUL-terminated UTF-16LE string at an absolute
// byte offset within pf, returning "" for an out-of-range or zero
// offset rather than erroring: a name overlay pointer that doesn't
// resolve is treated the same as an absent overlay.
func readWStringAt(pf *packfile.PackFile, off int) string {
	if off <= 0 || off+2 > len(pf.Bytes) {
		return ""
	}
	var units []uint16
	for p := off; p+2 <= len(pf.Bytes); p += 2 {
		u := binary.LittleEndian.Uint16(pf.Bytes[p:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	return string(utf16.Decode(units))
}

// finalizeLen implements §4.5's finalize(): clamp to the nearest
// known pointer-referent within the same file, else one byte. The
// "next recorded entry offset" branch of the original three-way
// fallback collapses into the pointer-referent branch here, since
// pointerSet already carries every file's object-start offsets — the
// nearest greater member of that set within the same file serves as
// both "next known pointer" and "next entry offset".
func (l *Loader) finalizeLen(f *sourceFile, o *content.ContentObject) int {
	best := -1
	for ptr := range l.pointerSet {
		if ptr.FileIndex != f.index || ptr.Offset <= o.Ptr.Offset {
			continue
		}
		if best == -1 || ptr.Offset < best {
			best = ptr.Offset
		}
	}
	if best == -1 {
		return 1
	}
	return best - o.Ptr.Offset
}

// stage3TrackedReferences replays TRKR records across every file,
// adding a Tracked reference from source to target (§4.6 S3).
// Unresolvable endpoints are reported and skipped (§4.6 failure
// handling) rather than silently dropped, unlike the fourth pass.
func (l *Loader) stage3TrackedReferences() {
	for _, f := range l.files {
		ch, ok := f.pf.QueryChunk("TRKR")
		if !ok {
			continue
		}
		recSize := binstruct.StaticSize(trackedRefRecord{})
		_ = decodeRecords(ch.Payload, recSize, func(rec []byte) error {
			var r trackedRefRecord
			if _, err := binstruct.Unmarshal(rec, &r); err != nil {
				l.recordErr(f.id, fmt.Sprintf("bad TRKR record: %v", err))
				return nil
			}
			src, ok := l.objByOffset[content.DataPtr{FileIndex: f.index, Offset: int(r.SourceOffset)}]
			if !ok {
				l.recordErr(f.id, fmt.Sprintf("tracked reference: unknown source offset %#x", r.SourceOffset))
				return nil
			}
			dst, ok := l.objByOffset[content.DataPtr{FileIndex: int(r.TargetFileIndex), Offset: int(r.TargetOffset)}]
			if !ok {
				l.recordErr(f.id, fmt.Sprintf("tracked reference: unknown target (file %d, offset %#x)", r.TargetFileIndex, r.TargetOffset))
				return nil
			}
			src.AddReference(dst, content.RefTracked)
			return nil
		})
	}
}

// stage4WeakReferences converts the general local/external fix-up
// pointer graph gathered in S2 into weak "Any" references, after S3
// so readers already see content_loaded == true. Per §4.6 this is the
// only pass that may observe a partially-constructed graph, so
// missing endpoints are skipped silently rather than reported.
func (l *Loader) stage4WeakReferences() {
	for _, f := range l.files {
		l.weakFromFixups(f, "FIXL", binstruct.StaticSize(localFixupRecord{}), func(rec []byte) (content.DataPtr, content.DataPtr, bool) {
			var r localFixupRecord
			if _, err := binstruct.Unmarshal(rec, &r); err != nil {
				return content.DataPtr{}, content.DataPtr{}, false
			}
			val, err := f.pf.ReadUintAt(int(r.Offset), ptrWidthOf(f.pf))
			if err != nil {
				return content.DataPtr{}, content.DataPtr{}, false
			}
			return content.DataPtr{FileIndex: f.index, Offset: int(r.Offset)}, content.DataPtr{FileIndex: f.index, Offset: int(val)}, true
		})

		l.weakFromFixups(f, "FIXX", binstruct.StaticSize(externalFixupRecord{}), func(rec []byte) (content.DataPtr, content.DataPtr, bool) {
			var r externalFixupRecord
			if _, err := binstruct.Unmarshal(rec, &r); err != nil {
				return content.DataPtr{}, content.DataPtr{}, false
			}
			val, err := f.pf.ReadUintAt(int(r.Offset), ptrWidthOf(f.pf))
			if err != nil {
				return content.DataPtr{}, content.DataPtr{}, false
			}
			return content.DataPtr{FileIndex: f.index, Offset: int(r.Offset)}, content.DataPtr{FileIndex: int(r.TargetFileIndex), Offset: int(val)}, true
		})
	}
}

func ptrWidthOf(pf *packfile.PackFile) int { return pf.PtrWidth() }

// weakFromFixups applies decode to every record in tag's chunk (if
// present), resolving (source, target) DataPtrs and adding an Any
// reference between the containing objects when both ends map to a
// known object (§4.6 fourth pass).
func (l *Loader) weakFromFixups(f *sourceFile, tag string, recSize int, decode func(rec []byte) (src, dst content.DataPtr, ok bool)) {
	ch, ok := f.pf.QueryChunk(tag)
	if !ok {
		return
	}
	_ = decodeRecords(ch.Payload, recSize, func(rec []byte) error {
		srcPtr, dstPtr, ok := decode(rec)
		if !ok {
			return nil
		}
		srcObj := l.containingObject(srcPtr)
		dstObj := l.objByOffset[dstPtr]
		if srcObj == nil || dstObj == nil {
			return nil // tolerate missing endpoints, per §4.6
		}
		srcObj.AddReference(dstObj, content.RefAny)
		return nil
	})
}

// containingObject finds the object (in the same file as ptr) whose
// byte range contains ptr.Offset, used to attribute a fix-up site
// back to the object it's embedded in.
func (l *Loader) containingObject(ptr content.DataPtr) *content.ContentObject {
	var best *content.ContentObject
	for p, obj := range l.objByOffset {
		if p.FileIndex != ptr.FileIndex || p.Offset > ptr.Offset {
			continue
		}
		if best == nil || p.Offset > best.Ptr.Offset {
			best = obj
		}
	}
	return best
}
