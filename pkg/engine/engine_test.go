package engine_test

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/archive"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/engine"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/filter"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/keystore"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/packfile"
)

func le32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func cat(bs ...[]byte) []byte {
	var out []byte
	for _, b := range bs {
		out = append(out, b...)
	}
	return out
}

func pad(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func buildChunk(dat []byte, tag string, version uint16, payload []byte) []byte {
	hdr := make([]byte, 0xc)
	copy(hdr, []byte(tag))
	binary.LittleEndian.PutUint16(hdr[4:], version)
	binary.LittleEndian.PutUint32(hdr[8:], uint32(len(payload)))
	dat = append(dat, hdr...)
	return append(dat, payload...)
}

func buildMinimalContentFile() []byte {
	const dataBase = 0x18
	data := make([]byte, 16)
	for i := range data {
		data[i] = byte(0xB0 + i)
	}

	ctyp := cat(le32(0), le32(0), le32(0xFFFFFFFF), le32(0xFFFFFFFF), le32(0xFFFFFFFF), []byte{0, 0, 0, 0}, pad("Item", 32))
	nspc := cat(le32(0), le32(1), le32(0xFFFFFFFF), pad("Items", 32))
	indx := cat(le32(0), le32(0), le32(0xFFFFFFFF), le32(uint32(dataBase)))

	dat := make([]byte, 0xc)
	copy(dat, packfile.Magic[:])
	binary.LittleEndian.PutUint32(dat[8:], 0xc)
	dat = buildChunk(dat, "DATA", 1, data)
	dat = buildChunk(dat, "CTYP", 1, ctyp)
	dat = buildChunk(dat, "NSPC", 1, nspc)
	dat = buildChunk(dat, "INDX", 1, indx)
	return dat
}

func TestEngineLoadsAndQueries(t *testing.T) {
	t.Parallel()

	reader := archive.NewMemory()
	reader.Put(1, "main.dat", buildMinimalContentFile())

	e := engine.New(reader, keystore.New(), 4)
	require.NoError(t, e.LoadContentFiles([]archive.FileID{1}, 1))
	require.NoError(t, e.Run())
	require.True(t, e.Loaded())
	assert.Empty(t, e.LoaderErrors())

	typ, ok := e.GetType(0)
	require.True(t, ok)
	assert.Equal(t, "Item", typ.Name)

	root := e.RootNamespace()
	require.NotNil(t, root)
	require.Len(t, root.Entries, 1)

	obj := root.Entries[0]
	name := e.GetDisplayName(obj)
	assert.NotEmpty(t, name)
}

func TestEngineMangleFullName(t *testing.T) {
	t.Parallel()
	e := engine.New(archive.NewMemory(), keystore.New(), 4)
	got := e.MangleFullName("a.b")
	assert.Len(t, got, 11)
}

func TestEngineFilterContentRoundtrip(t *testing.T) {
	t.Parallel()
	e := engine.New(archive.NewMemory(), keystore.New(), 4)
	job := &filter.Job{IDs: []int{3, 1, 2}}
	e.FilterContent(context.Background(), job)

	require.Eventually(t, func() bool {
		return len(e.Filters[filter.DomainContent].Result()) == 3
	}, time.Second, time.Millisecond)
	assert.ElementsMatch(t, []int{1, 2, 3}, e.Filters[filter.DomainContent].Result())
}

func TestEngineKeystoreRoundtrip(t *testing.T) {
	t.Parallel()
	e := engine.New(archive.NewMemory(), keystore.New(), 4)
	e.AddAssetKey(7, 42, 0xdeadbeef)
	got, ok := e.GetAssetKey(7, 42)
	require.True(t, ok)
	assert.Equal(t, uint64(0xdeadbeef), got)
}
