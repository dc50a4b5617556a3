package symbol_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvwyh/GW2Viewer-sub000/internal/containers"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/content"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/symbol"
)

func boolOpt(v int) containers.Optional[int] { return containers.Optional[int]{OK: true, Val: v} }

func TestEnumRenderNonFlags(t *testing.T) {
	t.Parallel()
	e := &symbol.Enum{Values: []symbol.EnumValue{{Value: 1, Name: "A"}, {Value: 2, Name: "B"}}}
	assert.Equal(t, "A", e.Render(1))
	assert.Contains(t, e.Render(9), "<enum-not-found>")
}

// TestEnumRenderFlags matches §8 scenario 6 exactly: {0x1:"A", 0x2:"B",
// 0x4:"C"} renders 0x5 as "A | C" and 0x9 as "A | 0x8".
func TestEnumRenderFlags(t *testing.T) {
	t.Parallel()
	e := &symbol.Enum{
		Flags: true,
		Values: []symbol.EnumValue{
			{Value: 0x1, Name: "A"},
			{Value: 0x2, Name: "B"},
			{Value: 0x4, Name: "C"},
		},
	}
	assert.Equal(t, "A | C", e.Render(0x5))
	assert.Equal(t, "A | 0x8", e.Render(0x9))
	assert.Equal(t, "0", e.Render(0))
}

func TestStructLayoutMultipleSymbolsSameOffset(t *testing.T) {
	t.Parallel()
	l := symbol.NewStructLayout()
	s1 := &symbol.Symbol{Name: "Variant1"}
	s2 := &symbol.Symbol{Name: "Variant2"}
	l.Insert(4, s1)
	l.Insert(4, s2)
	got := l.At(4)
	require.Len(t, got, 2)
	assert.Same(t, s1, got[0])
	assert.Same(t, s2, got[1])
}

func TestStructLayoutActiveAtUnconditional(t *testing.T) {
	t.Parallel()
	l := symbol.NewStructLayout()
	s := &symbol.Symbol{Name: "Plain", TypeName: symbol.TypeUint32}
	l.Insert(0, s)
	active := l.ActiveAt(0, make([]byte, 8), 0, 4)
	assert.Same(t, s, active)
}

func TestStructLayoutActiveAtConditional(t *testing.T) {
	t.Parallel()
	l := symbol.NewStructLayout()
	tag := &symbol.Symbol{Name: "Tag", TypeName: symbol.TypeUint32}
	l.Insert(0, tag)
	variantA := &symbol.Symbol{Name: "VariantA", TypeName: symbol.TypeUint32, Condition: &symbol.Condition{
		SiblingField: "Tag", Comparator: symbol.CmpEq, Value: 1,
	}}
	l.Insert(4, variantA)

	raw := make([]byte, 8)
	binary.LittleEndian.PutUint32(raw[0:], 1)
	assert.Same(t, variantA, l.ActiveAt(4, raw, 0, 4))

	binary.LittleEndian.PutUint32(raw[0:], 2)
	assert.Nil(t, l.ActiveAt(4, raw, 0, 4))
}

func TestQuerySimpleField(t *testing.T) {
	t.Parallel()
	ct := &content.ContentType{Index: 1}
	raw := make([]byte, 16)
	binary.LittleEndian.PutUint32(raw[4:], 42)
	obj := content.NewObject(0, ct, content.DataPtr{FileIndex: 0, Offset: 0}, raw, nil)

	g := content.NewGraph()
	e := symbol.NewEngine(g, 4)
	info := e.TypeInfoFor(ct)
	info.Layout.Insert(4, &symbol.Symbol{Name: "Power", TypeName: symbol.TypeUint32})

	results, err := e.Query(obj, "Power")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(42), binary.LittleEndian.Uint32(results[0].Bytes))
}

func TestQueryContentPointerRecursion(t *testing.T) {
	t.Parallel()
	ctA := &content.ContentType{Index: 1}
	ctB := &content.ContentType{Index: 2}

	rawB := make([]byte, 8)
	binary.LittleEndian.PutUint32(rawB[0:], 99)
	objB := content.NewObject(1, ctB, content.DataPtr{FileIndex: 0, Offset: 0x100}, rawB, nil)

	rawA := make([]byte, 16)
	binary.LittleEndian.PutUint64(rawA[0:], 0x100)
	objA := content.NewObject(0, ctA, content.DataPtr{FileIndex: 0, Offset: 0}, rawA, nil)

	g := content.NewGraph()
	require.NoError(t, g.RegisterObject(objA))
	require.NoError(t, g.RegisterObject(objB))

	e := symbol.NewEngine(g, 4)
	infoA := e.TypeInfoFor(ctA)
	infoA.Layout.Insert(0, &symbol.Symbol{Name: "Ref", TypeName: symbol.TypeContentPointer})
	infoB := e.TypeInfoFor(ctB)
	infoB.Layout.Insert(0, &symbol.Symbol{Name: "Value", TypeName: symbol.TypeUint32})

	results, err := e.Query(objA, "Ref->Value")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, uint32(99), binary.LittleEndian.Uint32(results[0].Bytes))
}

func TestSeedAutoGeneratedTypeGap(t *testing.T) {
	t.Parallel()
	ct := &content.ContentType{
		Index:      0,
		GUIDOffset: boolOpt(0),
		UIDOffset:  boolOpt(20),
	}
	g := content.NewGraph()
	e := symbol.NewEngine(g, 4)
	info := e.TypeInfoFor(ct)

	_, guidSym, ok := info.Layout.FieldByName("GUID")
	require.True(t, ok)
	assert.Equal(t, symbol.TypeGUID, guidSym.TypeName)

	_, typeSym, ok := info.Layout.FieldByName("Type")
	require.True(t, ok)
	assert.Equal(t, symbol.TypeUint32, typeSym.TypeName)
	assert.True(t, typeSym.AutoGenerated)
}

func TestResolverFallsBackWhenNoNamePath(t *testing.T) {
	t.Parallel()
	g := content.NewGraph()
	e := symbol.NewEngine(g, 4)
	r := &symbol.Resolver{Engine: e}

	ct := &content.ContentType{Index: 3}
	obj := content.NewObject(0, ct, content.DataPtr{}, nil, nil)
	_, ok := r.ResolveDisplayName(obj)
	assert.False(t, ok)
}
