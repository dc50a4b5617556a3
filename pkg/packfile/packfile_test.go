package packfile_test

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/packfile"
)

func buildFile(is64Bit bool, chunks ...[5]any) []byte {
	dat := make([]byte, 0xc)
	copy(dat, packfile.Magic[:])
	if is64Bit {
		dat[4] = 1
	}
	binary.LittleEndian.PutUint32(dat[8:], 0xc)
	for _, c := range chunks {
		tag := c[0].(string)
		version := c[1].(uint16)
		payload := c[2].([]byte)
		hdr := make([]byte, 0xc)
		copy(hdr, []byte(tag))
		binary.LittleEndian.PutUint16(hdr[4:], version)
		binary.LittleEndian.PutUint32(hdr[8:], uint32(len(payload)))
		dat = append(dat, hdr...)
		dat = append(dat, payload...)
	}
	return dat
}

func TestParseEmpty(t *testing.T) {
	t.Parallel()
	dat := buildFile(false)
	pf, err := packfile.Parse(dat)
	require.NoError(t, err)
	assert.False(t, pf.Is64Bit)
	assert.Empty(t, pf.IterChunks())
	_, ok := pf.FirstChunk()
	assert.False(t, ok)
}

func TestParseChunks(t *testing.T) {
	t.Parallel()
	dat := buildFile(true,
		[5]any{"TYPE", uint16(1), []byte("hello")},
		[5]any{"STRS", uint16(2), []byte("world!")},
	)
	pf, err := packfile.Parse(dat)
	require.NoError(t, err)
	assert.True(t, pf.Is64Bit)
	assert.Equal(t, 8, pf.PtrWidth())

	chunks := pf.IterChunks()
	require.Len(t, chunks, 2)
	assert.Equal(t, "TYPE", chunks[0].Tag)
	assert.Equal(t, uint16(1), chunks[0].Version)
	assert.Equal(t, []byte("hello"), chunks[0].Payload)

	ch, ok := pf.QueryChunk("STRS")
	require.True(t, ok)
	assert.Equal(t, []byte("world!"), ch.Payload)

	_, ok = pf.QueryChunk("NOPE")
	assert.False(t, ok)

	first, ok := pf.FirstChunk()
	require.True(t, ok)
	assert.Equal(t, "TYPE", first.Tag)
}

func TestParseBadMagic(t *testing.T) {
	t.Parallel()
	dat := buildFile(false)
	dat[0] = 'X'
	_, err := packfile.Parse(dat)
	require.Error(t, err)
	var badHdr *packfile.BadHeaderError
	assert.ErrorAs(t, err, &badHdr)
}

func TestParseTruncatedChunk(t *testing.T) {
	t.Parallel()
	dat := buildFile(false, [5]any{"TYPE", uint16(1), []byte("hello")})
	dat = dat[:len(dat)-2] // lop off the last two payload bytes
	_, err := packfile.Parse(dat)
	require.Error(t, err)
	var truncated *packfile.TruncatedChunkError
	assert.ErrorAs(t, err, &truncated)
}

func TestParseTooShortForHeader(t *testing.T) {
	t.Parallel()
	_, err := packfile.Parse([]byte{0, 1, 2})
	require.Error(t, err)
	var badHdr *packfile.BadHeaderError
	assert.ErrorAs(t, err, &badHdr)
}

func TestReadUintAt(t *testing.T) {
	t.Parallel()
	dat := buildFile(false, [5]any{"TYPE", uint16(1), []byte{0x78, 0x56, 0x34, 0x12}})
	pf, err := packfile.Parse(dat)
	require.NoError(t, err)
	ch, _ := pf.FirstChunk()
	v, err := pf.ReadUintAt(ch.Offset, 4)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x12345678), v)

	_, err = pf.ReadUintAt(len(pf.Bytes), 4)
	assert.Error(t, err)
}
