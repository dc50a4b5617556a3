package content_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvwyh/GW2Viewer-sub000/internal/containers"
	"github.com/xvwyh/GW2Viewer-sub000/internal/guid"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/content"
)

func TestFallbackID(t *testing.T) {
	t.Parallel()
	id := content.FallbackID(3, 0x12345)
	assert.Equal(t, uint64(3)<<22|0x12345, id)
}

func TestRegisterObjectDuplicateGUID(t *testing.T) {
	t.Parallel()
	g := content.NewGraph()
	typ := &content.ContentType{Index: 0}
	g.Types[0] = typ

	id := guid.MustParse("a0dd94ed-e60c-42e8-8632-64e8d4765a43")
	o1 := content.NewObject(0, typ, content.DataPtr{FileIndex: 0, Offset: 0x10}, []byte("x"), nil)
	o1.GUID = containers.Optional[guid.GUID]{OK: true, Val: id}
	require.NoError(t, g.RegisterObject(o1))

	o2 := content.NewObject(1, typ, content.DataPtr{FileIndex: 0, Offset: 0x20}, []byte("y"), nil)
	o2.GUID = containers.Optional[guid.GUID]{OK: true, Val: id}
	err := g.RegisterObject(o2)
	require.Error(t, err)
	var dup *content.DuplicateIdentityError
	assert.ErrorAs(t, err, &dup)
}

func TestFinalizeIdempotent(t *testing.T) {
	t.Parallel()
	calls := 0
	o := content.NewObject(0, nil, content.DataPtr{}, []byte("hello world"), func(*content.ContentObject) int {
		calls++
		return 5
	})
	o.Finalize()
	o.Finalize()
	assert.Equal(t, 1, calls)
	assert.Equal(t, []byte("hello"), o.Data())
}

func TestGetDisplayNameFallbackChain(t *testing.T) {
	t.Parallel()
	g := content.NewGraph()
	typ := &content.ContentType{Index: 2}
	o := content.NewObject(0, typ, content.DataPtr{FileIndex: 0, Offset: 0x40}, nil, nil)
	o.DataID = containers.Optional[uint32]{OK: true, Val: 7}

	name := g.GetDisplayName(o, nil)
	assert.Equal(t, "0x800007", name) // (2<<22)|7

	id := guid.MustParse("a0dd94ed-e60c-42e8-8632-64e8d4765a43")
	o.GUID = containers.Optional[guid.GUID]{OK: true, Val: id}
	g.UserNames[id] = "Custom Name"
	assert.Equal(t, "Custom Name", g.GetDisplayName(o, nil))
}

func TestMatchesFilterEmpty(t *testing.T) {
	t.Parallel()
	g := content.NewGraph()
	o := content.NewObject(0, nil, content.DataPtr{}, nil, nil)
	assert.True(t, g.MatchesFilter(o, content.Filter{}, nil))
}

func TestMatchesFilterTypeIndex(t *testing.T) {
	t.Parallel()
	g := content.NewGraph()
	typ := &content.ContentType{Index: 5}
	o := content.NewObject(0, typ, content.DataPtr{}, nil, nil)
	f := content.Filter{HasTypeIndex: true, TypeIndex: 5}
	assert.True(t, g.MatchesFilter(o, f, nil))
	f.TypeIndex = 6
	assert.False(t, g.MatchesFilter(o, f, nil))
}

func TestMatchesFilterDescendant(t *testing.T) {
	t.Parallel()
	g := content.NewGraph()
	typ := &content.ContentType{Index: 1}
	parent := content.NewObject(0, &content.ContentType{Index: 0}, content.DataPtr{}, nil, nil)
	child := content.NewObject(1, typ, content.DataPtr{}, nil, nil)
	parent.Entries = append(parent.Entries, child)

	f := content.Filter{HasTypeIndex: true, TypeIndex: 1}
	assert.True(t, g.MatchesFilter(parent, f, nil))
}
