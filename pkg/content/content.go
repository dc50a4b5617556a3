// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package content implements the ContentGraph (C7, §3.4/§4.5): the
// typed, namespaced, cross-referenced graph of content objects that
// the loader (C8) builds and the symbol engine (C9) and filter
// scheduler (C10) read.
package content

import (
	"fmt"
	"strings"

	"github.com/xvwyh/GW2Viewer-sub000/internal/containers"
	"github.com/xvwyh/GW2Viewer-sub000/internal/guid"
)

// NamespaceDomain tags a ContentNamespace with its broad game-content
// category (§3.4). The tree root itself carries DomainRoot.
type NamespaceDomain int

const (
	DomainRoot NamespaceDomain = iota
	DomainItems
	DomainSkills
	DomainMaps
	DomainAchievements
	DomainStories
	DomainCurrencies
	DomainTitles
	DomainRecipes
	DomainMisc
)

// ReferenceKind tags one edge in the object reference graph (§3.4).
type ReferenceKind int

const (
	// RefRoot is the implicit edge from a root object to an object
	// nested under it (§4.6 step 8).
	RefRoot ReferenceKind = iota
	// RefTracked is a replayed tracked-reference fix-up (§4.6 S3).
	RefTracked
	// RefAny is a weak reference recovered from the general pointer
	// graph after S3 (§4.6, the fourth pass).
	RefAny
)

func (k ReferenceKind) String() string {
	switch k {
	case RefRoot:
		return "Root"
	case RefTracked:
		return "Tracked"
	case RefAny:
		return "Any"
	default:
		return fmt.Sprintf("ReferenceKind(%d)", int(k))
	}
}

// Reference is one edge in an object's outgoing or incoming list
// (§3.4); lists are deduplicated under (target, kind).
type Reference struct {
	Target *ContentObject
	Kind   ReferenceKind
}

// ContentType is the per-game-type descriptor (§3.4): the offsets
// locating the well-known overlays within any instance's payload, and
// the flag controlling whether the loader tracks references sourced
// from this type.
type ContentType struct {
	Index           uint32
	Name            string
	GUIDOffset      containers.Optional[int]
	UIDOffset       containers.Optional[int]
	DataIDOffset    containers.Optional[int]
	NameOffset      containers.Optional[int]
	TrackReferences bool

	objects []*ContentObject
}

// Objects lists every instance of this type, in construction order.
func (t *ContentType) Objects() []*ContentObject { return t.objects }

// ContentNamespace is a node in the unique-rooted namespace tree
// (§3.4).
type ContentNamespace struct {
	Index    uint32
	Domain   NamespaceDomain
	Name     string // raw mangled name
	Parent   *ContentNamespace
	Children []*ContentNamespace
	// Entries are the objects directly owned by this namespace (as
	// opposed to nested under one of those objects as a root).
	Entries []*ContentObject
}

// ContentName is the structural name overlay some object payloads
// carry at their type's NameOffset (§3.4): a pair of pointers to
// NUL-terminated wide-char strings.
type ContentName struct {
	ShortName string
	FullName  string
}

// DataPtr identifies an object's payload by (source file, byte
// offset within that file), the identity space §3.4's "data-pointer"
// bijection is defined over. Pointers are only meaningful within one
// file, so the pair — not the bare offset — is the real key.
type DataPtr struct {
	FileIndex int
	Offset    int
}

// ContentObject is one typed record in the graph (§3.4).
type ContentObject struct {
	Index     uint32
	Type      *ContentType
	Namespace *ContentNamespace // owning namespace; nil if Root != nil
	Root      *ContentObject    // owning object; nil if Namespace != nil
	Entries   []*ContentObject  // objects nested under this one

	Ptr  DataPtr
	data []byte // the object's payload; sliced from its file lazily

	GUID   containers.Optional[guid.GUID]
	UID    containers.Optional[uint32]
	DataID containers.Optional[uint32]
	Name   containers.Optional[ContentName]

	Outgoing []Reference
	Incoming []Reference

	dataLen    int // -1 == uninitialized, the finalize() sentinel
	finalizeFn func(o *ContentObject) int
}

const uninitializedLen = -1

// NewObject constructs an object with an unfinalized data length; the
// loader supplies finalizeFn so that Finalize can compute data.len
// against the owning file's boundary set without ContentObject itself
// depending on ContentLoader (§9: "Late-bound object lengths").
func NewObject(index uint32, typ *ContentType, ptr DataPtr, rawPayloadBase []byte, finalizeFn func(*ContentObject) int) *ContentObject {
	return &ContentObject{
		Index:      index,
		Type:       typ,
		Ptr:        ptr,
		data:       rawPayloadBase,
		dataLen:    uninitializedLen,
		finalizeFn: finalizeFn,
	}
}

// Finalize computes (and caches) Data.Len, per §4.5: "a ContentObject
// is created with data.len = UNINITIALIZED. finalize() computes
// data.len lazily." Idempotent (§8 boundary behavior).
func (o *ContentObject) Finalize() {
	if o.dataLen != uninitializedLen {
		return
	}
	n := 1
	if o.finalizeFn != nil {
		n = o.finalizeFn(o)
	}
	if n < 1 {
		n = 1
	}
	o.dataLen = n
}

// Data returns the object's payload bytes, finalizing the length on
// first access if necessary.
func (o *ContentObject) Data() []byte {
	o.Finalize()
	if o.dataLen > len(o.data) {
		return o.data
	}
	return o.data[:o.dataLen]
}

// RawBytes returns every byte from the object's payload base to the
// end of its file's backing array, unfinalized. The loader uses this
// to read well-known overlays (§3.4) that may live past a length
// finalize() would otherwise clamp to.
func (o *ContentObject) RawBytes() []byte {
	return o.data
}

// AddReference appends a deduplicated (target, kind) edge to o's
// outgoing list and the symmetric incoming edge on target (§3.4).
func (o *ContentObject) AddReference(target *ContentObject, kind ReferenceKind) {
	if target == nil {
		return
	}
	for _, r := range o.Outgoing {
		if r.Target == target && r.Kind == kind {
			return
		}
	}
	o.Outgoing = append(o.Outgoing, Reference{Target: target, Kind: kind})
	target.Incoming = append(target.Incoming, Reference{Target: o, Kind: kind})
}

// FallbackID packs a type index and a 22-bit value per the external,
// bit-for-bit-stable contract in §6.4: (type_idx << 22) | (value &
// 0x3FFFFF).
func FallbackID(typeIdx uint32, value uint32) uint64 {
	return uint64(typeIdx)<<22 | uint64(value&0x3FFFFF)
}

// DisplayNameResolver is the seam SymbolEngine (C9) fills in: step 2
// of get_display_name (§4.5) requires traversing a TypeInfo's
// name-field paths over the object's bytes, which only the symbol
// engine knows how to do. Keeping this as an interface — rather than
// content importing pkg/symbol — keeps the C7→C9 dependency direction
// the spec's component graph calls for (§2: "C7 ← C9").
type DisplayNameResolver interface {
	ResolveDisplayName(obj *ContentObject) (text string, ok bool)
}

// Graph is the ContentGraph (C7): the namespace tree, the object
// arena, and the four indices construction maintains (§4.5).
type Graph struct {
	Types           map[uint32]*ContentType
	RootNamespace   *ContentNamespace
	ByGUID          map[guid.GUID]*ContentObject
	ByDataPtr       map[DataPtr]*ContentObject
	ByName          map[string][]*ContentObject
	ByNamespaceName map[string][]*ContentNamespace

	// UserNames is the persisted config's custom-display-name map
	// keyed by GUID (§6.2, §4.5 step 1).
	UserNames map[guid.GUID]string
}

func NewGraph() *Graph {
	return &Graph{
		Types:           make(map[uint32]*ContentType),
		ByGUID:          make(map[guid.GUID]*ContentObject),
		ByDataPtr:       make(map[DataPtr]*ContentObject),
		ByName:          make(map[string][]*ContentObject),
		ByNamespaceName: make(map[string][]*ContentNamespace),
		UserNames:       make(map[guid.GUID]string),
	}
}

// DuplicateIdentityError reports that two objects declared the same
// GUID; per §7 this is fatal for the entire load.
type DuplicateIdentityError struct {
	GUID     guid.GUID
	Existing *ContentObject
}

func (e *DuplicateIdentityError) Error() string {
	return fmt.Sprintf("content: duplicate GUID %v (already registered to object #%d)", e.GUID, e.Existing.Index)
}

// RegisterObject adds o to the graph's by-data-ptr index, and to
// by-GUID if o carries a GUID, enforcing both bijections from §3.4's
// invariants and §8 invariant 1.
func (g *Graph) RegisterObject(o *ContentObject) error {
	if existing, ok := o.GUID.Val, o.GUID.OK; ok {
		if prior, dup := g.ByGUID[existing]; dup {
			return &DuplicateIdentityError{GUID: existing, Existing: prior}
		}
		g.ByGUID[existing] = o
	}
	g.ByDataPtr[o.Ptr] = o
	if t := o.Type; t != nil {
		t.objects = append(t.objects, o)
	}
	return nil
}

// RegisterName indexes o under its short display name for by_name
// lookups (§4.5).
func (g *Graph) RegisterName(o *ContentObject, shortName string) {
	g.ByName[shortName] = append(g.ByName[shortName], o)
}

// RegisterNamespace indexes ns under by_namespace_name (§4.5).
func (g *Graph) RegisterNamespace(ns *ContentNamespace) {
	g.ByNamespaceName[ns.Name] = append(g.ByNamespaceName[ns.Name], ns)
}

// GetDisplayName implements §4.5's four-step fallback chain.
func (g *Graph) GetDisplayName(o *ContentObject, resolver DisplayNameResolver) string {
	if name, ok := o.GUID.Val, o.GUID.OK; ok {
		if userName, has := g.UserNames[name]; has {
			return userName
		}
	}
	if resolver != nil {
		if text, ok := resolver.ResolveDisplayName(o); ok && text != "" {
			return text
		}
	}
	if o.Name.OK && o.Name.Val.ShortName != "" {
		return o.Name.Val.ShortName
	}
	if o.Type != nil {
		if o.DataID.OK {
			return fmt.Sprintf("%#x", FallbackID(o.Type.Index, o.DataID.Val))
		}
		if o.UID.OK {
			return fmt.Sprintf("%#x", FallbackID(o.Type.Index, o.UID.Val))
		}
	}
	if o.GUID.OK {
		return o.GUID.Val.String()
	}
	return fmt.Sprintf("%#x", o.Ptr.Offset)
}

// Filter is a snapshot of a list-view query's predicates (§4.5,
// §4.8). Predicates present are ANDed; a zero-value Filter (no
// predicates set) matches everything (§8: "MatchesFilter(empty_filter)
// == true for all entities").
type Filter struct {
	NameSearch string
	HasName    bool

	GUIDSearch guid.GUID
	HasGUID    bool

	UIDMin, UIDMax uint32
	HasUIDRange    bool

	DataIDMin, DataIDMax uint32
	HasDataIDRange       bool

	TypeIndex    uint32
	HasTypeIndex bool
}

// matchesObject evaluates the filter's present predicates against one
// object, ANDed.
func (f Filter) matchesObject(o *ContentObject, g *Graph, resolver DisplayNameResolver) bool {
	if f.HasName {
		name := g.GetDisplayName(o, resolver)
		if !strings.Contains(strings.ToLower(name), strings.ToLower(f.NameSearch)) {
			return false
		}
	}
	if f.HasGUID {
		if !o.GUID.OK || o.GUID.Val != f.GUIDSearch {
			return false
		}
	}
	if f.HasUIDRange {
		if !o.UID.OK || o.UID.Val < f.UIDMin || o.UID.Val > f.UIDMax {
			return false
		}
	}
	if f.HasDataIDRange {
		if !o.DataID.OK || o.DataID.Val < f.DataIDMin || o.DataID.Val > f.DataIDMax {
			return false
		}
	}
	if f.HasTypeIndex {
		if o.Type == nil || o.Type.Index != f.TypeIndex {
			return false
		}
	}
	return true
}

func (f Filter) isEmpty() bool {
	return !f.HasName && !f.HasGUID && !f.HasUIDRange && !f.HasDataIDRange && !f.HasTypeIndex
}

// MatchesFilter evaluates f against o, or (for a namespace) against
// any of its descendants, per §4.5: "combined by AND across present
// filters, OR across the entity's descendant matches." Graph doesn't
// itself memoize results; the filter scheduler (C10) owns result
// caching, since the cache must be invalidated per filter snapshot
// rather than per object.
func (g *Graph) MatchesFilter(o *ContentObject, f Filter, resolver DisplayNameResolver) bool {
	if f.isEmpty() {
		return true
	}
	if f.matchesObject(o, g, resolver) {
		return true
	}
	for _, child := range o.Entries {
		if g.MatchesFilter(child, f, resolver) {
			return true
		}
	}
	return false
}

// MatchesFilterNamespace is MatchesFilter's namespace-tree analogue:
// a namespace matches if any direct entry or child namespace matches.
func (g *Graph) MatchesFilterNamespace(ns *ContentNamespace, f Filter, resolver DisplayNameResolver) bool {
	if f.isEmpty() {
		return true
	}
	for _, o := range ns.Entries {
		if g.MatchesFilter(o, f, resolver) {
			return true
		}
	}
	for _, child := range ns.Children {
		if g.MatchesFilterNamespace(child, f, resolver) {
			return true
		}
	}
	return false
}
