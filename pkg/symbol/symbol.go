// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package symbol implements SymbolEngine (C9, §3.5/§4.7): user-authored
// TypeInfo schemas describing how a ContentObject's bytes decompose
// into named, typed symbols, plus the path-expression traversal
// (query) that walks a schema against one object's bytes.
package symbol

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"

	"github.com/xvwyh/GW2Viewer-sub000/internal/containers"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/content"
)

// Type is SymbolType (§3.5): the closed set of built-in symbol kinds.
// New kinds require a new const here and a case in every exhaustive
// switch over Type, the same discipline pkg/layout's Kind enum
// follows over its own closed set.
type Type int

const (
	TypeInvalid Type = iota
	TypeInt8
	TypeInt16
	TypeInt32
	TypeInt64
	TypeUint8
	TypeUint16
	TypeUint32
	TypeUint64
	TypeFloat
	TypeDouble
	TypeString
	TypeStringPtr
	TypeWString
	TypeWStringPtr
	TypeGUID
	TypeToken32
	TypeToken64
	TypeStringID
	TypeFileID
	TypeColor
	TypePoint2
	TypePoint3
	TypeRawPointer
	TypeContentPointer
	TypeArray
	TypeArrayContent
	TypeParamValue
	TypeParamDeclare
)

// builtinSizes is each Type's raw (unaligned) byte size, where fixed
// (§3.5 invariant: "a symbol's raw size is determined by its
// SymbolType"). Types whose size depends on context (Array,
// ArrayContent, inline String/WString) return 0 here and are sized by
// the traversal instead.
var builtinSizes = map[Type]int{
	TypeInt8: 1, TypeUint8: 1,
	TypeInt16: 2, TypeUint16: 2,
	TypeInt32: 4, TypeUint32: 4, TypeFloat: 4,
	TypeInt64: 8, TypeUint64: 8, TypeDouble: 8,
	TypeStringPtr: 4, TypeWStringPtr: 4, TypeStringID: 4, TypeFileID: 4,
	TypeColor:         4,
	TypeGUID:          16,
	TypeToken32:       4,
	TypeToken64:       8,
	TypeRawPointer:    4,
	TypeContentPointer: 8,
	TypeParamValue:    32, // tag + up to 3 scalars + optional GUID, invented fixed layout
}

// Comparator is one of Condition's comparators (§3.5).
type Comparator int

const (
	CmpEq Comparator = iota
	CmpNe
	CmpLt
	CmpLe
	CmpGt
	CmpGe
	CmpAnd    // non-zero bitwise AND (any flag set)
	CmpNotAnd // zero bitwise AND (no flag set)
)

func (c Comparator) evaluate(actual, want int64) bool {
	switch c {
	case CmpEq:
		return actual == want
	case CmpNe:
		return actual != want
	case CmpLt:
		return actual < want
	case CmpLe:
		return actual <= want
	case CmpGt:
		return actual > want
	case CmpGe:
		return actual >= want
	case CmpAnd:
		return actual&want != 0
	case CmpNotAnd:
		return actual&want == 0
	default:
		return false
	}
}

// Condition gates a Symbol by a sibling field's projected value
// (§3.5). A condition against a missing sibling evaluates to inactive
// (§8 boundary behavior), never an error.
type Condition struct {
	SiblingField string
	Comparator   Comparator
	Value        int64
}

// EnumValue is one named value in an Enum's ordered value map.
type EnumValue struct {
	Value uint64
	Name  string
}

// Enum is §3.5's Enum: an optionally-shared, optionally-flags value
// renderer.
type Enum struct {
	SharedName string
	Flags      bool
	Values     []EnumValue // declaration order; this IS the render order for flags (§8 scenario 6)
}

// Render implements §4.7's enum rendering rule. A non-flags enum maps
// to the matching name, or an "enum-not-found" marker. A flags enum
// greedily matches known bits in descending-value order (so a
// multi-bit named value is preferred over its individual bits), then
// renders the matched names back in declaration order with any
// leftover bits as a single coalesced hex tail — e.g. {0x1:"A",
// 0x2:"B", 0x4:"C"} renders 0x5 as "A | C" and 0x9 as "A | 0x8".
func (e *Enum) Render(value uint64) string {
	if !e.Flags {
		for _, v := range e.Values {
			if v.Value == value {
				return v.Name
			}
		}
		return fmt.Sprintf("%d <enum-not-found>", value)
	}

	sorted := append([]EnumValue(nil), e.Values...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })

	matched := make(map[uint64]bool, len(sorted))
	remaining := value
	for _, v := range sorted {
		if v.Value != 0 && remaining&v.Value == v.Value {
			matched[v.Value] = true
			remaining &^= v.Value
		}
	}

	var parts []string
	for _, v := range e.Values {
		if matched[v.Value] {
			parts = append(parts, v.Name)
		}
	}
	if remaining != 0 {
		parts = append(parts, fmt.Sprintf("%#x", remaining))
	}
	if len(parts) == 0 {
		return "0"
	}
	return strings.Join(parts, " | ")
}

// Symbol is §3.5's Symbol record.
type Symbol struct {
	Name                string
	TypeName            Type
	ElementTypeName      Type   // for Array/ArrayContent/RawPointer/Point
	InlineElementLayout *StructLayout
	SharedElementTypeName string
	Alignment           containers.Optional[int]
	Enum                *Enum
	SharedEnumName      string
	Condition           *Condition
	Table               bool
	Folded              bool
	ElementSizeHint     containers.Optional[int] // byte size of one opaque-array element
	InlineArraySize     containers.Optional[int] // fixed element count, for Array<T> (not ArrayContent)
	AutoGenerated       bool
}

// rawSize is the symbol's unaligned byte size (§3.5 invariant).
func (s *Symbol) rawSize(ptrWidth int) int {
	switch s.TypeName {
	case TypeString, TypeWString:
		return 0 // variable-length; callers must scan for the NUL terminator
	case TypeRawPointer, TypeContentPointer:
		if s.TypeName == TypeRawPointer {
			return ptrWidth
		}
		return 8
	case TypeArray:
		if s.InlineArraySize.OK {
			elemSize := builtinSizes[s.ElementTypeName]
			if s.ElementSizeHint.OK {
				elemSize = s.ElementSizeHint.Val
			}
			return elemSize * s.InlineArraySize.Val
		}
		return 0
	case TypeArrayContent:
		return 4 + ptrWidth // size field + pointer
	case TypePoint2:
		return 2 * builtinSizes[s.ElementTypeName]
	case TypePoint3:
		return 3 * builtinSizes[s.ElementTypeName]
	default:
		return builtinSizes[s.TypeName]
	}
}

// AlignedSize rounds rawSize up to the symbol's alignment (its
// override, or else its raw size itself when unaligned access is
// fine) — §3.5 invariant and §8 invariant 5.
func (s *Symbol) AlignedSize(ptrWidth int) int {
	raw := s.rawSize(ptrWidth)
	align := raw
	if s.Alignment.OK && s.Alignment.Val > 0 {
		align = s.Alignment.Val
	}
	if align <= 0 {
		return raw
	}
	return ((raw + align - 1) / align) * align
}

// layoutEntry is one (offset, symbol) pair in a StructLayout.
type layoutEntry struct {
	Offset uint32
	Symbol *Symbol
}

// offsetKey adapts a plain uint32 offset to containers.Ordered so it
// can key a StructLayout's backing containers.SortedMap.
type offsetKey = containers.NativeOrdered[uint32]

// StructLayout is §3.5's ordered offset->Symbol multimap: conditional
// overlays may legally share an offset, and the earliest-inserted one
// wins when more than one is simultaneously active (§4.7, §8
// invariant 6). A bare containers.SortedMap overwrites on equal key,
// so the value at each offset is itself an insertion-ordered slice of
// every symbol registered there; the map gives ascending-offset
// iteration for free via its backing RBTree.
type StructLayout struct {
	byOffset containers.SortedMap[offsetKey, []*Symbol]
}

func NewStructLayout() *StructLayout {
	return &StructLayout{}
}

// Insert appends a symbol at offset, preserving insertion order among
// same-offset entries.
func (l *StructLayout) Insert(offset uint32, sym *Symbol) {
	key := offsetKey{Val: offset}
	existing, _ := l.byOffset.Load(key)
	l.byOffset.Store(key, append(existing, sym))
}

// At returns every symbol registered at offset, in insertion order.
func (l *StructLayout) At(offset uint32) []*Symbol {
	syms, _ := l.byOffset.Load(offsetKey{Val: offset})
	return syms
}

// All returns every (offset, symbol) pair, sorted by offset then
// insertion order.
func (l *StructLayout) All() []layoutEntry {
	var out []layoutEntry
	l.byOffset.Range(func(key offsetKey, syms []*Symbol) bool {
		for _, sym := range syms {
			out = append(out, layoutEntry{Offset: key.Val, Symbol: sym})
		}
		return true
	})
	return out
}

// FieldByName finds the first (by declaration order) symbol named
// name, and the offset it's registered at.
func (l *StructLayout) FieldByName(name string) (uint32, *Symbol, bool) {
	for _, e := range l.All() {
		if e.Symbol.Name == name {
			return e.Offset, e.Symbol, true
		}
	}
	return 0, nil, false
}

// ActiveAt returns the first symbol at offset whose Condition (if
// any) is satisfied against raw — the sibling fields live in the same
// frame's bytes, starting at frameBase (§4.7, §8 invariant 6: earliest
// insertion wins among simultaneously-active same-offset symbols).
func (l *StructLayout) ActiveAt(offset uint32, raw []byte, frameBase int, ptrWidth int) *Symbol {
	for _, sym := range l.At(offset) {
		if sym.Condition == nil {
			return sym
		}
		_, sibling, ok := l.FieldByName(sym.Condition.SiblingField)
		if !ok {
			continue // missing sibling: inactive (§8 boundary behavior)
		}
		siblingOff, found := l.offsetOf(sibling)
		if !found {
			continue
		}
		val, ok := valueForCondition(sibling, raw, frameBase+int(siblingOff), ptrWidth)
		if !ok {
			continue
		}
		if sym.Condition.Comparator.evaluate(val, sym.Condition.Value) {
			return sym
		}
	}
	return nil
}

func (l *StructLayout) offsetOf(target *Symbol) (uint32, bool) {
	for _, e := range l.All() {
		if e.Symbol == target {
			return e.Offset, true
		}
	}
	return 0, false
}

// valueForCondition is GetValueForCondition (§4.7): integers and
// flags project to i64, strings to their hash (not a byte compare),
// content pointers to the target's identity (its DataPtr offset,
// stable within one load).
func valueForCondition(sym *Symbol, raw []byte, absOff int, ptrWidth int) (int64, bool) {
	switch sym.TypeName {
	case TypeInt8, TypeUint8:
		if absOff >= len(raw) {
			return 0, false
		}
		return int64(raw[absOff]), true
	case TypeInt16, TypeUint16:
		if absOff+2 > len(raw) {
			return 0, false
		}
		return int64(binary.LittleEndian.Uint16(raw[absOff:])), true
	case TypeInt32, TypeUint32, TypeFileID, TypeStringID:
		if absOff+4 > len(raw) {
			return 0, false
		}
		return int64(binary.LittleEndian.Uint32(raw[absOff:])), true
	case TypeInt64, TypeUint64:
		if absOff+8 > len(raw) {
			return 0, false
		}
		return int64(binary.LittleEndian.Uint64(raw[absOff:])), true
	case TypeString:
		end := absOff
		for end < len(raw) && raw[end] != 0 {
			end++
		}
		return int64(hashBytes(raw[absOff:end])), true
	case TypeContentPointer:
		if absOff+8 > len(raw) {
			return 0, false
		}
		return int64(binary.LittleEndian.Uint64(raw[absOff:])), true
	default:
		return 0, false
	}
}

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	h.Write(b)
	return h.Sum64()
}

// TypeInfo is §3.5's TypeInfo: a game type's user-authored schema.
type TypeInfo struct {
	Name             string
	Notes            string
	DatalinkTypeByte uint8
	Layout           *StructLayout
	NameFieldPaths   []string
	IconFieldPaths   []string
	MapFieldPaths    []string
	ExampleGUIDs     []string
	VersionTag       string
}

// RenameFieldPath rewrites every occurrence of oldName with newName in
// NameFieldPaths, IconFieldPaths, and MapFieldPaths (§3.5 invariant:
// "renaming a field path rewrites matching entries").
func (t *TypeInfo) RenameFieldPath(oldName, newName string) {
	rewrite := func(paths []string) {
		for i, p := range paths {
			segs := strings.Split(p, "->")
			for j, s := range segs {
				if s == oldName {
					segs[j] = newName
				}
			}
			paths[i] = strings.Join(segs, "->")
		}
	}
	rewrite(t.NameFieldPaths)
	rewrite(t.IconFieldPaths)
	rewrite(t.MapFieldPaths)
}

// Result is one (bytes, symbol_type, resolved_symbol) triple that
// Query yields (§4.7).
type Result struct {
	Path         string
	AbsOffset    int
	Bytes        []byte
	Type         Type
	Symbol       *Symbol
	Object       *content.ContentObject
	ResolvedText string // e.g. an enum's rendered name, a GUID's string form
}

// frame is one level of Query's traversal stack (§4.7: "the stack
// records (owning_object, layout, path, data_start, object_start,
// object_stack_depth, folded)").
type frame struct {
	obj      *content.ContentObject
	layout   *StructLayout
	base     int // object_start: absolute offset within obj.RawBytes() that offset-0 of layout maps to
	depth    int
	folded   bool
}

// Engine is SymbolEngine (C9): per-type schemas plus shared enums and
// shared struct layouts, referenced by name (§3.5).
type Engine struct {
	Graph *content.Graph

	types       map[uint32]*TypeInfo
	sharedEnums containers.SyncMap[string, *Enum]
	sharedTypes containers.SyncMap[string, *StructLayout]

	ptrWidth int
}

// NewEngine constructs an Engine bound to graph; ptrWidth is the
// archive's pointer width (4 or 8), used for RawPointer/ContentPointer
// sizing.
func NewEngine(graph *content.Graph, ptrWidth int) *Engine {
	return &Engine{
		Graph:    graph,
		types:    make(map[uint32]*TypeInfo),
		ptrWidth: ptrWidth,
	}
}

func (e *Engine) RegisterSharedEnum(name string, enum *Enum) { e.sharedEnums.Store(name, enum) }
func (e *Engine) RegisterSharedType(name string, layout *StructLayout) {
	e.sharedTypes.Store(name, layout)
}

// resolveSharedEnum looks up a shared enum by name, degrading to fallback
// on a lookup miss (§3.5 invariant: "a lookup failure degrades to the
// symbol's inline copy").
func (e *Engine) resolveSharedEnum(name string, fallback *Enum) *Enum {
	if name == "" {
		return fallback
	}
	if enum, ok := e.sharedEnums.Load(name); ok {
		return enum
	}
	return fallback
}

func (e *Engine) resolveSharedType(name string, fallback *StructLayout) *StructLayout {
	if name == "" {
		return fallback
	}
	if layout, ok := e.sharedTypes.Load(name); ok {
		return layout
	}
	return fallback
}

// TypeInfoFor returns the registered schema for a content type index,
// seeding it with the autogenerated overlay symbols (§4.7) on first
// access if one isn't registered yet.
func (e *Engine) TypeInfoFor(ct *content.ContentType) *TypeInfo {
	if info, ok := e.types[ct.Index]; ok {
		return info
	}
	info := &TypeInfo{Name: ct.Name, Layout: e.seedAutoGenerated(ct)}
	e.types[ct.Index] = info
	return info
}

// RegisterTypeInfo installs a user-authored schema, replacing any
// autogenerated placeholder.
func (e *Engine) RegisterTypeInfo(typeIdx uint32, info *TypeInfo) {
	e.types[typeIdx] = info
}

// seedAutoGenerated implements §4.7's autogenerated layout seeding:
// GUID (16B), UID (u32), DataID (u32), and Name (wchar** pair) at the
// ContentType's well-known offsets, each flagged AutoGenerated so the
// UI can distinguish them from user entries (§3.5: "auto_generated
// flag distinguishes engine-synthesized entries"). If GUID sits at
// offset 0 and UID at sizeof(GUID)+sizeof(u32), the 4-byte gap between
// them is a type tag, seeded as "Type" u32.
func (e *Engine) seedAutoGenerated(ct *content.ContentType) *StructLayout {
	layout := NewStructLayout()
	if ct.GUIDOffset.OK {
		layout.Insert(uint32(ct.GUIDOffset.Val), &Symbol{Name: "GUID", TypeName: TypeGUID, AutoGenerated: true})
	}
	if ct.UIDOffset.OK {
		layout.Insert(uint32(ct.UIDOffset.Val), &Symbol{Name: "UID", TypeName: TypeUint32, AutoGenerated: true})
	}
	if ct.DataIDOffset.OK {
		layout.Insert(uint32(ct.DataIDOffset.Val), &Symbol{Name: "DataID", TypeName: TypeUint32, AutoGenerated: true})
	}
	if ct.NameOffset.OK {
		layout.Insert(uint32(ct.NameOffset.Val), &Symbol{
			Name: "Name", TypeName: TypeArrayContent, ElementTypeName: TypeWStringPtr, AutoGenerated: true,
		})
	}
	if ct.GUIDOffset.OK && ct.UIDOffset.OK && ct.GUIDOffset.Val == 0 && ct.UIDOffset.Val == 16+4 {
		layout.Insert(16, &Symbol{Name: "Type", TypeName: TypeUint32, AutoGenerated: true})
	}
	return layout
}

// parsePathSegment classifies one "->"-delimited path segment (§4.7).
type segmentKind int

const (
	segField segmentKind = iota
	segIndex
	segWildcard
)

func parseSegment(seg string) (segmentKind, string, int) {
	if seg == "[]" {
		return segWildcard, "", 0
	}
	if strings.HasPrefix(seg, "[") && strings.HasSuffix(seg, "]") {
		if n, err := strconv.Atoi(seg[1 : len(seg)-1]); err == nil {
			return segIndex, "", n
		}
	}
	return segField, seg, 0
}

// Query answers §4.7's central question: given obj and a "->"-delimited
// path, yield every (bytes, symbol_type, resolved_symbol) triple the
// path resolves to (more than one only when a "[]" wildcard segment is
// present).
func (e *Engine) Query(obj *content.ContentObject, path string) ([]Result, error) {
	if obj.Type == nil {
		return nil, fmt.Errorf("symbol: object #%d has no type", obj.Index)
	}
	info := e.TypeInfoFor(obj.Type)
	fr := frame{obj: obj, layout: info.Layout, base: 0}
	return e.walk(fr, strings.Split(path, "->"), "")
}

func (e *Engine) walk(fr frame, segments []string, pathSoFar string) ([]Result, error) {
	if len(segments) == 0 {
		return nil, nil
	}
	kind, name, idx := parseSegment(segments[0])
	rest := segments[1:]
	raw := fr.obj.RawBytes()

	switch kind {
	case segField:
		offset, sym, ok := fr.layout.FieldByName(name)
		if !ok {
			return nil, fmt.Errorf("symbol: field %q not found", name)
		}
		active := fr.layout.ActiveAt(offset, raw, fr.base, e.ptrWidth)
		if active == nil || active != sym {
			// Either inactive, or a same-offset symbol with an
			// earlier declaration order pre-empted it (§8 invariant 6).
			if active == nil {
				return nil, nil
			}
			sym = active
		}
		return e.resolveSymbol(fr, int(offset), sym, rest, pathSoFar+name)
	case segIndex:
		return e.resolveIndex(fr, idx, rest, pathSoFar)
	case segWildcard:
		return e.resolveWildcard(fr, rest, pathSoFar)
	default:
		return nil, nil
	}
}

// resolveSymbol dispatches on sym's Type once its offset within fr is
// known: a leaf type terminates the path (once segments run out);
// Array/RawPointer/ContentPointer recurse into a new frame (§4.7:
// "when the traversal encounters a pointer/array, recurse into the
// element layout with a new frame").
func (e *Engine) resolveSymbol(fr frame, fieldOffset int, sym *Symbol, rest []string, path string) ([]Result, error) {
	abs := fr.base + fieldOffset
	raw := fr.obj.RawBytes()
	size := sym.AlignedSize(e.ptrWidth)

	if len(rest) == 0 {
		var b []byte
		if size > 0 && abs+size <= len(raw) {
			b = raw[abs : abs+size]
		}
		return []Result{e.leafResult(fr, abs, b, sym, path)}, nil
	}

	switch sym.TypeName {
	case TypeContentPointer:
		if abs+8 > len(raw) {
			return nil, nil
		}
		ptrVal := binary.LittleEndian.Uint64(raw[abs:])
		target := e.resolveContentPointer(fr.obj, ptrVal)
		if target == nil {
			return nil, nil
		}
		target.Finalize()
		childLayout := e.TypeInfoFor(target.Type).Layout
		child := frame{obj: target, layout: childLayout, base: 0, depth: fr.depth + 1, folded: sym.Folded}
		return e.walk(child, rest, path)
	case TypeRawPointer:
		ptrVal, ok := readPtr(raw, abs, e.ptrWidth)
		if !ok {
			return nil, nil
		}
		elemLayout := e.elementLayout(sym)
		child := frame{obj: fr.obj, layout: elemLayout, base: int(ptrVal), depth: fr.depth + 1, folded: sym.Folded}
		return e.walk(child, rest, path)
	case TypeArray, TypeArrayContent:
		// "[N]"/"[]" segments following an array field operate on
		// this same frame at this field's offset; resolveIndex and
		// resolveWildcard compute the element's own sub-frame.
		child := frame{obj: fr.obj, layout: fr.layout, base: abs, depth: fr.depth, folded: sym.Folded}
		return e.walkArraySegments(child, sym, rest, path)
	default:
		return nil, fmt.Errorf("symbol: field %q is not indexable/dereferenceable but path continues", sym.Name)
	}
}

// walkArraySegments expects rest[0] to be "[N]" or "[]" immediately
// after an array-valued field; arrFrame.base is the array field's own
// absolute offset (not yet descended into an element).
func (e *Engine) walkArraySegments(arrFrame frame, sym *Symbol, rest []string, path string) ([]Result, error) {
	if len(rest) == 0 {
		return nil, fmt.Errorf("symbol: array field %q needs an index or [] segment", sym.Name)
	}
	kind, _, idx := parseSegment(rest[0])
	tail := rest[1:]

	elemSize := sym.ElementSizeHint.Val
	if !sym.ElementSizeHint.OK {
		elemSize = builtinSizes[sym.ElementTypeName]
	}
	elemLayout := e.elementLayout(sym)

	dataBase, count, ok := e.arrayBounds(arrFrame, sym)
	if !ok {
		return nil, nil
	}

	elementFrame := func(i int) frame {
		return frame{obj: arrFrame.obj, layout: elemLayout, base: dataBase + i*elemSize, depth: arrFrame.depth, folded: arrFrame.folded}
	}

	switch kind {
	case segIndex:
		if idx < 0 || idx >= count {
			return nil, nil
		}
		return e.walkOrLeaf(elementFrame(idx), sym, tail, fmt.Sprintf("%s[%d]", path, idx))
	case segWildcard:
		var out []Result
		for i := 0; i < count; i++ {
			res, err := e.walkOrLeaf(elementFrame(i), sym, tail, fmt.Sprintf("%s[%d]", path, i))
			if err != nil {
				return nil, err
			}
			out = append(out, res...)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("symbol: array field %q requires an index segment", sym.Name)
	}
}

// walkOrLeaf continues the path into an array element's frame, or (if
// the path ends here) yields the raw element bytes as a leaf result.
func (e *Engine) walkOrLeaf(elemFrame frame, arraySym *Symbol, tail []string, path string) ([]Result, error) {
	if len(tail) == 0 {
		raw := elemFrame.obj.RawBytes()
		elemSize := arraySym.ElementSizeHint.Val
		if !arraySym.ElementSizeHint.OK {
			elemSize = builtinSizes[arraySym.ElementTypeName]
		}
		var b []byte
		if elemFrame.base >= 0 && elemFrame.base+elemSize <= len(raw) {
			b = raw[elemFrame.base : elemFrame.base+elemSize]
		}
		leafSym := &Symbol{Name: arraySym.Name, TypeName: arraySym.ElementTypeName, Enum: arraySym.Enum}
		return []Result{e.leafResult(elemFrame, elemFrame.base, b, leafSym, path)}, nil
	}
	return e.walk(elemFrame, tail, path)
}

// resolveIndex/resolveWildcard handle a bracket segment with no
// preceding field segment in this walk call, i.e. the path itself
// begins with "[N]"/"[]" against the current frame's base. Such a
// path is grammatically legal but is rejected with an error; raw-byte
// frames are not indexed.
func (e *Engine) resolveIndex(fr frame, idx int, rest []string, path string) ([]Result, error) {
	return nil, fmt.Errorf("symbol: bracket segment with no preceding array field at %q[%d]", path, idx)
}

func (e *Engine) resolveWildcard(fr frame, rest []string, path string) ([]Result, error) {
	return nil, fmt.Errorf("symbol: bracket segment with no preceding array field at %q[]", path)
}

// arrayBounds computes (element-data start, element count) for sym
// within arrFrame: InlineArraySize gives a fixed count for Array<T>;
// ArrayContent reads a runtime u32 count immediately followed by a
// pointer to the element data.
func (e *Engine) arrayBounds(arrFrame frame, sym *Symbol) (dataBase, count int, ok bool) {
	raw := arrFrame.obj.RawBytes()
	switch sym.TypeName {
	case TypeArray:
		if !sym.InlineArraySize.OK {
			return 0, 0, false
		}
		return arrFrame.base, sym.InlineArraySize.Val, true
	case TypeArrayContent:
		if arrFrame.base+4 > len(raw) {
			return 0, 0, false
		}
		n := int(binary.LittleEndian.Uint32(raw[arrFrame.base:]))
		ptrVal, ok := readPtr(raw, arrFrame.base+4, e.ptrWidth)
		if !ok {
			return 0, 0, false
		}
		return int(ptrVal), n, true
	default:
		return 0, 0, false
	}
}

func (e *Engine) elementLayout(sym *Symbol) *StructLayout {
	if sym.InlineElementLayout != nil {
		return e.resolveSharedType(sym.SharedElementTypeName, sym.InlineElementLayout)
	}
	return e.resolveSharedType(sym.SharedElementTypeName, NewStructLayout())
}

func readPtr(raw []byte, off, width int) (uint64, bool) {
	if off < 0 || off+width > len(raw) {
		return 0, false
	}
	switch width {
	case 4:
		return uint64(binary.LittleEndian.Uint32(raw[off:])), true
	case 8:
		return binary.LittleEndian.Uint64(raw[off:]), true
	default:
		return 0, false
	}
}

// resolveContentPointer resolves a raw u64 payload pointer to a known
// ContentObject via the graph's by-data-ptr index (§4.7: "Content"
// symbols ... resolve the value to a ContentObject via C7 indices).
// The stored value is looked up as an offset in the owning object's
// own file; the loader does not rewrite pointer bytes, so a pointer
// whose fix-up names another file is also looked up in the owner's
// file.
func (e *Engine) resolveContentPointer(owner *content.ContentObject, ptr uint64) *content.ContentObject {
	return e.Graph.ByDataPtr[content.DataPtr{FileIndex: owner.Ptr.FileIndex, Offset: int(ptr)}]
}

func (e *Engine) leafResult(fr frame, abs int, b []byte, sym *Symbol, path string) Result {
	res := Result{
		Path:      path,
		AbsOffset: abs,
		Bytes:     b,
		Type:      sym.TypeName,
		Symbol:    sym,
		Object:    fr.obj,
	}
	enum := e.resolveSharedEnum(sym.SharedEnumName, sym.Enum)
	if enum != nil && len(b) > 0 {
		var v uint64
		switch len(b) {
		case 1:
			v = uint64(b[0])
		case 2:
			v = uint64(binary.LittleEndian.Uint16(b))
		case 4:
			v = uint64(binary.LittleEndian.Uint32(b))
		case 8:
			v = binary.LittleEndian.Uint64(b)
		}
		res.ResolvedText = enum.Render(v)
	} else if sym.TypeName == TypeGUID && len(b) == 16 {
		res.ResolvedText = formatGUID(b)
	}
	return res
}

func formatGUID(b []byte) string {
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint16(b[4:6]), binary.LittleEndian.Uint16(b[6:8]),
		binary.BigEndian.Uint16(b[8:10]), b[10:16])
}

// Resolver is content.DisplayNameResolver's concrete implementation
// (§4.5 step 2): traversing a TypeInfo's name-field paths over an
// object's bytes, recursing through ContentPointer terminals.
type Resolver struct {
	Engine *Engine
}

func (r *Resolver) ResolveDisplayName(obj *content.ContentObject) (string, bool) {
	if obj.Type == nil {
		return "", false
	}
	info := r.Engine.TypeInfoFor(obj.Type)
	for _, path := range info.NameFieldPaths {
		results, err := r.Engine.Query(obj, path)
		if err != nil || len(results) == 0 {
			continue
		}
		res := results[0]
		if res.ResolvedText != "" {
			return res.ResolvedText, true
		}
		if text := textFromBytes(res); text != "" {
			return text, true
		}
	}
	return "", false
}

// textFromBytes renders a leaf result's bytes as display text when
// its type is String (a NUL-terminated byte string); WString and
// other leaf types get no text here.
func textFromBytes(res Result) string {
	switch res.Type {
	case TypeString:
		end := 0
		for end < len(res.Bytes) && res.Bytes[end] != 0 {
			end++
		}
		return string(res.Bytes[:end])
	default:
		return ""
	}
}
