package contentloader_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/content"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/contentloader"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/packfile"
)

// namedChunk mirrors packfile_test's buildFile helper; duplicated here
// since that helper is unexported to its own _test package.
type namedChunk struct {
	tag     string
	version uint16
	payload []byte
}

func buildPackFile(chunks ...namedChunk) []byte {
	dat := make([]byte, 0xc)
	copy(dat, packfile.Magic[:])
	binary.LittleEndian.PutUint32(dat[8:], 0xc)
	for _, c := range chunks {
		hdr := make([]byte, 0xc)
		copy(hdr, []byte(c.tag))
		binary.LittleEndian.PutUint16(hdr[4:], c.version)
		binary.LittleEndian.PutUint32(hdr[8:], uint32(len(c.payload)))
		dat = append(dat, hdr...)
		dat = append(dat, c.payload...)
	}
	return dat
}

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

// pad null-pads s to a fixed n-byte record field.
func pad(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func buildContentFile(t *testing.T) []byte {
	t.Helper()

	// DATA is the first chunk so its payload base is known up front:
	// header (0xc) + chunk header (0xc) = 0x18.
	const dataBase = 0x18
	data := make([]byte, 24)
	for i := range data[:16] {
		data[i] = byte(0xA0 + i) // object #0's GUID overlay
	}
	binary.LittleEndian.PutUint32(data[16:], uint32(dataBase+20)) // a FIXL target: object #1's offset
	obj0Off := uint32(dataBase + 0)
	obj1Off := uint32(dataBase + 20)

	ctyp := cat(
		le32(0),             // Index
		le32(0),             // GUIDOffset
		le32(0xFFFFFFFF),    // UIDOffset = -1
		le32(0xFFFFFFFF),    // DataIDOffset = -1
		le32(0xFFFFFFFF),    // NameOffset = -1
		[]byte{0, 0, 0, 0},  // TrackReferences + padding
		pad("Item", 32),
	)

	nspc := cat(
		le32(0),          // Index
		le32(1),          // Domain (Items)
		le32(0xFFFFFFFF), // ParentIndex = -1 (root)
		pad("Items", 32),
	)

	indx := cat(
		le32(0), le32(0), le32(0xFFFFFFFF), le32(obj0Off), // entry 0: no root
		le32(0), le32(0), le32(0), le32(obj1Off), // entry 1: rooted at entry 0
	)

	trkr := cat(le32(obj0Off), le32(obj1Off), le32(0))

	fixl := cat(le32(dataBase + 16))

	return buildPackFile(
		namedChunk{"DATA", 1, data},
		namedChunk{"CTYP", 1, ctyp},
		namedChunk{"NSPC", 1, nspc},
		namedChunk{"INDX", 1, indx},
		namedChunk{"TRKR", 1, trkr},
		namedChunk{"FIXL", 1, fixl},
	)
}

func TestLoaderBuildsGraph(t *testing.T) {
	t.Parallel()

	dat := buildContentFile(t)
	pf, err := packfile.Parse(dat)
	require.NoError(t, err)

	graph := content.NewGraph()
	loader := contentloader.NewLoader(graph)
	loader.AddFile("main.dat", pf, true)
	require.NoError(t, loader.Run())
	assert.Empty(t, loader.Errors())
	assert.True(t, loader.Loaded())

	require.Contains(t, graph.Types, uint32(0))
	assert.Equal(t, "Item", graph.Types[0].Name)

	require.NotNil(t, graph.RootNamespace)
	assert.Equal(t, "Items", graph.RootNamespace.Name)
	require.Len(t, graph.RootNamespace.Entries, 1)

	obj0 := graph.RootNamespace.Entries[0]
	require.True(t, obj0.GUID.OK)
	require.Len(t, obj0.Entries, 1)
	obj1 := obj0.Entries[0]
	assert.Same(t, obj0, obj1.Root)

	// S3: a Tracked reference from object #0 to object #1.
	foundTracked := false
	for _, ref := range obj0.Outgoing {
		if ref.Target == obj1 && ref.Kind == content.RefTracked {
			foundTracked = true
		}
	}
	assert.True(t, foundTracked, "expected a Tracked reference obj0->obj1, got %+v", obj0.Outgoing)

	// Fourth pass: the FIXL-derived weak "Any" reference, also
	// obj0->obj1 since the fix-up slot lives inside obj0's byte range.
	foundAny := false
	for _, ref := range obj0.Outgoing {
		if ref.Target == obj1 && ref.Kind == content.RefAny {
			foundAny = true
		}
	}
	assert.True(t, foundAny, "expected an Any reference obj0->obj1, got %+v", obj0.Outgoing)

	// finalize(): object #0's length clamps to the distance to object
	// #1, the next known pointer in the same file.
	assert.Equal(t, 20, len(obj0.Data()))
}

func TestLoaderDuplicateGUIDIsFatal(t *testing.T) {
	t.Parallel()

	dat := buildContentFile(t)
	pf1, err := packfile.Parse(dat)
	require.NoError(t, err)
	pf2, err := packfile.Parse(dat)
	require.NoError(t, err)

	graph := content.NewGraph()
	loader := contentloader.NewLoader(graph)
	loader.AddFile("a.dat", pf1, true)
	loader.AddFile("b.dat", pf2, false)
	require.NoError(t, loader.Run())

	// Both files declare the same GUID at the same relative overlay
	// offset; the second file's object is rejected and reported, not
	// silently merged.
	assert.NotEmpty(t, loader.Errors())
}
