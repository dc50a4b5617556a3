package archive_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/archive"
)

func TestFileRefRoundTrip(t *testing.T) {
	t.Parallel()
	for _, id := range []archive.FileID{0, 1, 42, 0xffff, 0x10000, 0x12345678, 0xffffffff} {
		ref := archive.EncodeFileRef(id)
		assert.Equal(t, id, ref.Decode(), "id=%v ref=%+v", id, ref)
	}
}

func TestMemoryReader(t *testing.T) {
	t.Parallel()
	m := archive.NewMemory()
	m.Put(7, "test.dat", []byte("hello"))

	assert.Equal(t, []byte("hello"), m.GetFile(7))
	assert.Nil(t, m.GetFile(8))

	entry, ok := m.GetFileMftEntry(7)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), entry.DeclaredSize)

	_, ok = m.GetFileMftEntry(8)
	assert.False(t, ok)

	files := m.GetFiles()
	assert.Len(t, files, 1)
	assert.Equal(t, archive.FileID(7), files[0].ID)
}

func TestCachingReaderDelegatesAndCaches(t *testing.T) {
	t.Parallel()
	m := archive.NewMemory()
	m.Put(1, "a.dat", []byte("alpha"))
	m.Put(2, "b.dat", []byte("beta"))

	c := archive.NewCachingReader(m, 1)
	assert.Equal(t, []byte("alpha"), c.GetFile(1))
	assert.Equal(t, []byte("beta"), c.GetFile(2))
	// Re-fetching after eviction must still return the right bytes,
	// not a stale/empty cache slot.
	assert.Equal(t, []byte("alpha"), c.GetFile(1))

	entry, ok := c.GetFileMftEntry(2)
	assert.True(t, ok)
	assert.Equal(t, uint64(4), entry.DeclaredSize)

	assert.Len(t, c.GetFiles(), 2)
}

func TestDirReaderReadsByFileID(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "3"), []byte("gamma"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "not-a-number"), []byte("ignored"), 0o644))

	r, err := archive.OpenDir(dir)
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, []byte("gamma"), r.GetFile(3))
	assert.Nil(t, r.GetFile(4))

	entry, ok := r.GetFileMftEntry(3)
	assert.True(t, ok)
	assert.Equal(t, uint64(5), entry.DeclaredSize)

	files := r.GetFiles()
	assert.Len(t, files, 1)
	assert.Equal(t, archive.FileID(3), files[0].ID)
}
