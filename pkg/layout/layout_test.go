package layout_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/layout"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/packfile"
)

func buildPackFile(is64Bit bool, payload []byte) *packfile.PackFile {
	hdr := make([]byte, 0xc)
	copy(hdr, packfile.Magic[:])
	if is64Bit {
		hdr[4] = 1
	}
	binary.LittleEndian.PutUint32(hdr[8:], 0xc)
	chdr := make([]byte, 0xc)
	copy(chdr, []byte("TEST"))
	binary.LittleEndian.PutUint16(chdr[4:], 1)
	binary.LittleEndian.PutUint32(chdr[8:], uint32(len(payload)))
	dat := append(append(hdr, chdr...), payload...)
	pf, err := packfile.Parse(dat)
	if err != nil {
		panic(err)
	}
	return pf
}

func TestCursorScalarField(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 8)
	binary.LittleEndian.PutUint32(payload[0:], 42)
	binary.LittleEndian.PutUint32(payload[4:], 99)
	pf := buildPackFile(false, payload)
	ch, _ := pf.FirstChunk()

	typ := &layout.LayoutType{
		Name: "Test",
		Fields: []layout.LayoutField{
			{Name: "A", Kind: layout.KindUint32},
			{Name: "B", Kind: layout.KindUint32},
		},
	}
	reg := layout.NewRegistry()
	reg.Register("TEST", 1, typ)

	root, err := reg.RootCursor(pf, ch)
	require.NoError(t, err)

	a, err := root.Field("A")
	require.NoError(t, err)
	v, err := a.AsUint()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)

	b, err := root.Field("B")
	require.NoError(t, err)
	v, err = b.AsUint()
	require.NoError(t, err)
	assert.Equal(t, uint64(99), v)

	_, err = root.Field("C")
	assert.Error(t, err)
}

func TestRegistryUnknownVersion(t *testing.T) {
	t.Parallel()
	reg := layout.NewRegistry()
	_, err := reg.Lookup("TEST", 7)
	var unk *layout.UnknownChunkVersionError
	require.ErrorAs(t, err, &unk)
}

func TestCursorInlineArray(t *testing.T) {
	t.Parallel()
	payload := make([]byte, 12)
	binary.LittleEndian.PutUint32(payload[0:], 1)
	binary.LittleEndian.PutUint32(payload[4:], 2)
	binary.LittleEndian.PutUint32(payload[8:], 3)
	pf := buildPackFile(false, payload)
	ch, _ := pf.FirstChunk()

	elemTyp := &layout.LayoutType{Fields: []layout.LayoutField{{Name: "V", Kind: layout.KindUint32}}}
	typ := &layout.LayoutType{
		Name: "Test",
		Fields: []layout.LayoutField{
			{Name: "Arr", Kind: layout.KindInlineArray, ElementType: elemTyp, InlineArraySize: 3},
		},
	}
	reg := layout.NewRegistry()
	reg.Register("TEST", 1, typ)
	root, err := reg.RootCursor(pf, ch)
	require.NoError(t, err)

	arr, err := root.Field("Arr")
	require.NoError(t, err)
	n, err := arr.ArraySize()
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	elem1, err := arr.ArrayIndex(1)
	require.NoError(t, err)
	v, err := elem1.Field("V")
	require.NoError(t, err)
	val, err := v.AsUint()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), val)
}
