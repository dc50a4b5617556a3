// Copyright (C) 2022-2023  Luke Shumaker <lukeshu@lukeshu.com>
//
// SPDX-License-Identifier: GPL-2.0-or-later

// Package layout implements the LayoutRegistry (C3, §3.3/§4.2): an
// immutable map from (chunk tag, chunk version) to the LayoutType
// that describes how to walk that chunk's payload, plus the Cursor
// that performs the walk against a parsed packfile.PackFile.
package layout

import (
	"fmt"
	"unicode/utf16"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/packfile"
)

// Kind identifies how a LayoutField's bytes are to be interpreted.
// The set is closed (§3.3); new kinds require a new Go const here and
// a case in Cursor's dispatch, exactly as btrfsitem's Type enum is
// closed over its UnmarshalItem switch.
type Kind int

const (
	KindInvalid Kind = iota
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindInlineStruct
	KindInlineArray
	KindPtr
	KindArray
	KindPtrArray
	KindTypedArray
	KindString
	KindWString
	KindFileName
	KindVariant
)

func (k Kind) String() string {
	switch k {
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindInlineStruct:
		return "InlineStruct"
	case KindInlineArray:
		return "InlineArray"
	case KindPtr:
		return "Ptr"
	case KindArray:
		return "Array"
	case KindPtrArray:
		return "PtrArray"
	case KindTypedArray:
		return "TypedArray"
	case KindString:
		return "String"
	case KindWString:
		return "WString"
	case KindFileName:
		return "FileName"
	case KindVariant:
		return "Variant"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// scalarWidths gives the byte width of each fixed-width scalar Kind.
var scalarWidths = map[Kind]int{
	KindInt8: 1, KindUint8: 1,
	KindInt16: 2, KindUint16: 2,
	KindInt32: 4, KindUint32: 4, KindFloat32: 4,
	KindInt64: 8, KindUint64: 8, KindFloat64: 8,
}

// CountWidth selects the width, in bytes, of the element-count prefix
// that precedes an Array/PtrArray/TypedArray's Ptr (§3.3: "S ∈
// {byte,word,dword}").
type CountWidth int

const (
	CountByte  CountWidth = 1
	CountWord  CountWidth = 2
	CountDword CountWidth = 4
)

// LayoutField is one named, typed slot in a LayoutType (§3.3).
type LayoutField struct {
	Name string
	Kind Kind
	// RealKind is the kind actually read off the wire; it differs
	// from Kind when a field is declared with a narrower nominal
	// kind than its storage (e.g. a bool stored as a byte).
	RealKind Kind

	// ElementType is the layout of one element, for
	// InlineStruct/InlineArray/Ptr/Array/PtrArray/TypedArray.
	ElementType *LayoutType
	// VariantElementTypes is indexed by the Variant's runtime tag.
	VariantElementTypes []*LayoutType
	// InlineArraySize is the fixed element count for InlineArray.
	InlineArraySize int
	// CountWidth selects the element-count prefix width for
	// Array/PtrArray/TypedArray (§3.3).
	CountWidth CountWidth
}

// Size returns the field's fixed on-disk footprint, where one is
// defined; Ptr-family fields depend on file bitness, so their size is
// taken from ptrWidth.
func (f LayoutField) Size(ptrWidth int) int {
	switch f.Kind {
	case KindPtr, KindString, KindWString, KindFileName:
		return ptrWidth
	case KindArray, KindPtrArray, KindTypedArray:
		return int(f.CountWidth) + ptrWidth
	case KindInlineArray:
		return f.ElementType.Size(ptrWidth) * f.InlineArraySize
	case KindInlineStruct, KindVariant:
		return f.ElementType.Size(ptrWidth)
	default:
		if w, ok := scalarWidths[f.Kind]; ok {
			return w
		}
		return 0
	}
}

// LayoutType is an ordered list of fields (§3.3); once registered in
// a LayoutRegistry it is never mutated, so a traversal over it is a
// pure function of (layout, bytes, bitness) (§3.3 invariant).
type LayoutType struct {
	Name   string
	Fields []LayoutField
}

// Size is the type's total fixed footprint.
func (t *LayoutType) Size(ptrWidth int) int {
	var n int
	for _, f := range t.Fields {
		n += f.Size(ptrWidth)
	}
	return n
}

func (t *LayoutType) fieldByName(name string) (int, *LayoutField, bool) {
	for i := range t.Fields {
		if t.Fields[i].Name == name {
			return i, &t.Fields[i], true
		}
	}
	return 0, nil, false
}

// ChunkKey identifies one versioned chunk schema.
type ChunkKey struct {
	Tag     string
	Version uint16
}

// UnknownChunkVersionError reports that a chunk arrived at a version
// the registry has no schema for (§4.2, §7 UnknownLayout). It is
// non-fatal: the caller keeps the chunk viewable as raw bytes.
type UnknownChunkVersionError struct {
	Tag     string
	Version uint16
}

func (e *UnknownChunkVersionError) Error() string {
	return fmt.Sprintf("layout: no schema registered for chunk %q version %d", e.Tag, e.Version)
}

// FieldPathNotFoundError reports that a Cursor.Field path segment
// named a field absent from the current layout frame (§4.2).
type FieldPathNotFoundError struct {
	Type  string
	Field string
}

func (e *FieldPathNotFoundError) Error() string {
	return fmt.Sprintf("layout: type %q has no field %q", e.Type, e.Field)
}

// TypeMismatchError reports that a Cursor accessor was asked for a
// kind of value its current field does not hold (§4.2).
type TypeMismatchError struct {
	Field string
	Want  Kind
	Got   Kind
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("layout: field %q is %v, not %v", e.Field, e.Got, e.Want)
}

// Registry is the global immutable LayoutRegistry (C3): it is
// populated once, by an external layout-extraction step (reading the
// schemas out of the game's executable is out of scope here), and
// thereafter only read.
type Registry struct {
	schemas map[ChunkKey]*LayoutType
}

func NewRegistry() *Registry {
	return &Registry{schemas: make(map[ChunkKey]*LayoutType)}
}

// Register installs the LayoutType for (tag, version). Re-registering
// the same key is a caller bug (panics), matching the registry's
// "populated once" contract.
func (r *Registry) Register(tag string, version uint16, typ *LayoutType) {
	key := ChunkKey{Tag: tag, Version: version}
	if _, exists := r.schemas[key]; exists {
		panic(fmt.Sprintf("layout: duplicate registration for chunk %q version %d", tag, version))
	}
	r.schemas[key] = typ
}

// Lookup returns the LayoutType for a chunk's outermost payload type.
func (r *Registry) Lookup(tag string, version uint16) (*LayoutType, error) {
	typ, ok := r.schemas[ChunkKey{Tag: tag, Version: version}]
	if !ok {
		return nil, &UnknownChunkVersionError{Tag: tag, Version: version}
	}
	return typ, nil
}

// RootCursor starts a traversal of ch's payload under the layout
// registered for (ch.Tag, ch.Version).
func (r *Registry) RootCursor(pf *packfile.PackFile, ch packfile.Chunk) (*Cursor, error) {
	typ, err := r.Lookup(ch.Tag, ch.Version)
	if err != nil {
		return nil, err
	}
	return &Cursor{pf: pf, layout: typ, base: ch.Offset}, nil
}

// Cursor walks a LayoutType and the underlying file bytes in
// parallel (§4.2). A Cursor is immutable; every navigation method
// returns a new Cursor rather than mutating the receiver, so a single
// traversal frame can be branched into siblings safely.
type Cursor struct {
	pf     *packfile.PackFile
	layout *LayoutType
	// base is the absolute file offset of this cursor's struct.
	base int
	// field, if non-nil, is the LayoutField this cursor currently
	// sits on (the result of a Field/ArrayIndex navigation); nil
	// for a cursor sitting on a whole struct (e.g. the root, or an
	// array element before Field has been called on it).
	field *LayoutField
	// fieldOff is the byte offset of field within base.
	fieldOff int
}

func (c *Cursor) ptrWidth() int { return c.pf.PtrWidth() }

// Offset is the cursor's absolute file offset.
func (c *Cursor) Offset() int {
	if c.field == nil {
		return c.base
	}
	return c.base + c.fieldOff
}

// Field navigates to a named field of the struct the cursor currently
// sits on (§4.7 path grammar: bare segment names).
func (c *Cursor) Field(name string) (*Cursor, error) {
	structLayout, err := c.structLayout()
	if err != nil {
		return nil, err
	}
	idx, fld, ok := structLayout.fieldByName(name)
	if !ok {
		return nil, &FieldPathNotFoundError{Type: structLayout.Name, Field: name}
	}
	off := 0
	for i := 0; i < idx; i++ {
		off += structLayout.Fields[i].Size(c.ptrWidth())
	}
	return &Cursor{pf: c.pf, layout: c.layout, base: c.structBase(), field: fld, fieldOff: off}, nil
}

// structLayout returns the LayoutType whose fields are addressable
// from the cursor's current position: the field's ElementType if the
// cursor sits on an InlineStruct/Ptr-to-struct field, else the
// cursor's own root layout.
func (c *Cursor) structLayout() (*LayoutType, error) {
	if c.field == nil {
		return c.layout, nil
	}
	switch c.field.Kind {
	case KindInlineStruct:
		return c.field.ElementType, nil
	case KindPtr:
		if c.field.ElementType == nil {
			return nil, &TypeMismatchError{Field: c.field.Name, Want: KindInlineStruct, Got: c.field.Kind}
		}
		return c.field.ElementType, nil
	default:
		return nil, &TypeMismatchError{Field: c.field.Name, Want: KindInlineStruct, Got: c.field.Kind}
	}
}

// structBase resolves the absolute offset of the struct addressed by
// the cursor's current field (dereferencing a Ptr if necessary).
func (c *Cursor) structBase() int {
	if c.field == nil {
		return c.base
	}
	switch c.field.Kind {
	case KindInlineStruct:
		return c.base + c.fieldOff
	case KindPtr:
		ptr, err := c.pf.ReadUintAt(c.base+c.fieldOff, c.ptrWidth())
		if err != nil {
			return -1
		}
		return int(ptr)
	default:
		return -1
	}
}

// ArraySize returns the element count of the cursor's current
// Array/PtrArray/TypedArray/InlineArray field.
func (c *Cursor) ArraySize() (int, error) {
	if c.field == nil {
		return 0, &TypeMismatchError{Field: "<root>", Want: KindArray, Got: KindInvalid}
	}
	switch c.field.Kind {
	case KindInlineArray:
		return c.field.InlineArraySize, nil
	case KindArray, KindPtrArray, KindTypedArray:
		n, err := c.pf.ReadUintAt(c.base+c.fieldOff, int(c.field.CountWidth))
		if err != nil {
			return 0, err
		}
		return int(n), nil
	default:
		return 0, &TypeMismatchError{Field: c.field.Name, Want: KindArray, Got: c.field.Kind}
	}
}

// ArrayIndex navigates to element i of the cursor's current array
// field (§4.7 path grammar: `[N]` segments).
func (c *Cursor) ArrayIndex(i int) (*Cursor, error) {
	if c.field == nil {
		return nil, &TypeMismatchError{Field: "<root>", Want: KindArray, Got: KindInvalid}
	}
	switch c.field.Kind {
	case KindInlineArray:
		elemSize := c.field.ElementType.Size(c.ptrWidth())
		base := c.base + c.fieldOff + i*elemSize
		return &Cursor{pf: c.pf, layout: c.field.ElementType, base: base}, nil
	case KindArray:
		arrPtr, err := c.pf.ReadUintAt(c.base+c.fieldOff+int(c.field.CountWidth), c.ptrWidth())
		if err != nil {
			return nil, err
		}
		elemSize := c.field.ElementType.Size(c.ptrWidth())
		base := int(arrPtr) + i*elemSize
		return &Cursor{pf: c.pf, layout: c.field.ElementType, base: base}, nil
	case KindPtrArray:
		arrPtr, err := c.pf.ReadUintAt(c.base+c.fieldOff+int(c.field.CountWidth), c.ptrWidth())
		if err != nil {
			return nil, err
		}
		elemPtr, err := c.pf.ReadUintAt(int(arrPtr)+i*c.ptrWidth(), c.ptrWidth())
		if err != nil {
			return nil, err
		}
		return &Cursor{pf: c.pf, layout: c.field.ElementType, base: int(elemPtr)}, nil
	case KindTypedArray:
		// The discriminant tag for element i is read as a leading
		// dword immediately before that element's Ptr; the concrete
		// layout comes from VariantElementTypes[tag].
		arrPtr, err := c.pf.ReadUintAt(c.base+c.fieldOff+int(c.field.CountWidth), c.ptrWidth())
		if err != nil {
			return nil, err
		}
		entrySize := 4 + c.ptrWidth()
		entryBase := int(arrPtr) + i*entrySize
		tag, err := c.pf.ReadUintAt(entryBase, 4)
		if err != nil {
			return nil, err
		}
		if int(tag) >= len(c.field.VariantElementTypes) {
			return nil, fmt.Errorf("layout: TypedArray %q element %d has unknown tag %d", c.field.Name, i, tag)
		}
		elemPtr, err := c.pf.ReadUintAt(entryBase+4, c.ptrWidth())
		if err != nil {
			return nil, err
		}
		return &Cursor{pf: c.pf, layout: c.field.VariantElementTypes[tag], base: int(elemPtr)}, nil
	default:
		return nil, &TypeMismatchError{Field: c.field.Name, Want: KindArray, Got: c.field.Kind}
	}
}

// AsUint reads the cursor's current scalar field as a uint64.
func (c *Cursor) AsUint() (uint64, error) {
	if c.field == nil {
		return 0, &TypeMismatchError{Field: "<root>", Want: KindUint64, Got: KindInvalid}
	}
	w, ok := scalarWidths[c.field.Kind]
	if !ok || c.field.Kind == KindFloat32 || c.field.Kind == KindFloat64 {
		return 0, &TypeMismatchError{Field: c.field.Name, Want: KindUint64, Got: c.field.Kind}
	}
	return c.pf.ReadUintAt(c.base+c.fieldOff, w)
}

// AsPtr dereferences the cursor's current Ptr/String/WString/FileName
// field, returning the absolute file offset it points to. §3.3 calls
// this out explicitly: the pointer is "interpreted as an absolute
// offset into the file once fix-ups have been resolved". The loader
// (C8) does not rewrite pointer bytes, so the stored value itself is
// taken as that offset.
func (c *Cursor) AsPtr() (int, error) {
	if c.field == nil {
		return 0, &TypeMismatchError{Field: "<root>", Want: KindPtr, Got: KindInvalid}
	}
	switch c.field.Kind {
	case KindPtr, KindString, KindWString, KindFileName:
		ptr, err := c.pf.ReadUintAt(c.base+c.fieldOff, c.ptrWidth())
		if err != nil {
			return 0, err
		}
		return int(ptr), nil
	default:
		return 0, &TypeMismatchError{Field: c.field.Name, Want: KindPtr, Got: c.field.Kind}
	}
}

// AsString reads a NUL-terminated string pointed to by the cursor's
// current String/WString/FileName field (§3.3, §4.2).
func (c *Cursor) AsString() (string, error) {
	ptr, err := c.AsPtr()
	if err != nil {
		return "", err
	}
	switch c.field.Kind {
	case KindString, KindFileName:
		return readCString(c.pf.Bytes, ptr)
	case KindWString:
		return readWString(c.pf.Bytes, ptr)
	default:
		return "", &TypeMismatchError{Field: c.field.Name, Want: KindString, Got: c.field.Kind}
	}
}

func readCString(dat []byte, off int) (string, error) {
	if off < 0 || off > len(dat) {
		return "", fmt.Errorf("layout: string pointer %#x out of bounds", off)
	}
	end := off
	for end < len(dat) && dat[end] != 0 {
		end++
	}
	return string(dat[off:end]), nil
}

// readWString decodes a NUL-terminated UTF-16LE run. This is a raw
// byte-level primitive with no error-recovery requirement, so it uses
// the standard library's utf16.Decode rather than the
// golang.org/x/text/encoding/unicode decoder that the higher-level
// string pack uses (it needs the decoder's replacement-character
// behavior on malformed input; a single wide string read here does
// not).
func readWString(dat []byte, off int) (string, error) {
	if off < 0 || off > len(dat) {
		return "", fmt.Errorf("layout: string pointer %#x out of bounds", off)
	}
	var units []uint16
	for off+1 < len(dat) {
		u := uint16(dat[off]) | uint16(dat[off+1])<<8
		if u == 0 {
			break
		}
		units = append(units, u)
		off += 2
	}
	return string(utf16.Decode(units)), nil
}
