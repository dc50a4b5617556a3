package stringpack

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/archive"
	"github.com/xvwyh/GW2Viewer-sub000/pkg/keystore"
)

func encodeLiteral(s string) []byte {
	units := []uint16{}
	for _, r := range s {
		units = append(units, uint16(r))
	}
	buf := make([]byte, 1+2+2+len(units)*2)
	buf[0] = 0x80 // final, literal
	binary.LittleEndian.PutUint16(buf[1:], 0)
	binary.LittleEndian.PutUint16(buf[3:], uint16(len(units)))
	for i, u := range units {
		binary.LittleEndian.PutUint16(buf[5+i*2:], u)
	}
	return buf
}

func TestDecodeTermsLiteral(t *testing.T) {
	t.Parallel()
	raw := encodeLiteral("hi")
	terms, err := decodeTerms(raw)
	require.NoError(t, err)
	require.Len(t, terms, 1)
	assert.True(t, terms[0].final)
	text := resolveTerms(terms, ResolveContext{Count: 1}, nil)
	assert.Equal(t, "hi", text)
}

func TestGroupDigits(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "1,234,567", groupDigits("1234567"))
	assert.Equal(t, "12", groupDigits("12"))
	assert.Equal(t, "-1,000", groupDigits("-1000"))
}

func TestArticle(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "an", article("Apple"))
	assert.Equal(t, "a", article("Banana"))
}

func TestTextManagerMissingString(t *testing.T) {
	t.Parallel()
	mem := archive.NewMemory()
	ks := keystore.New()
	m := NewTextManager(mem, ks)
	manifest := make([]byte, 8)
	binary.LittleEndian.PutUint32(manifest, 100)
	binary.LittleEndian.PutUint32(manifest[4:], 0)
	require.NoError(t, m.LoadManifest(manifest))

	text, status := m.GetString(Language(0), 5)
	assert.Equal(t, Missing, status)
	assert.Equal(t, "", text)
}

func TestFormatNumAndStr(t *testing.T) {
	t.Parallel()
	m := &TextManager{}
	_ = m
	// Format relies on GetString, which needs a loaded manifest and
	// file; exercise the substitution grammar directly via a
	// synthetic manager with a single preloaded literal string.
	mem := archive.NewMemory()
	ks := keystore.New()
	mgr := NewTextManager(mem, ks)
	mgr.stringsPerFile = 10
	f, err := parseStringFile(Language(0), 0, buildIndex(encodeLiteral("You have %num1% of %str1%.")))
	require.NoError(t, err)
	mgr.files.Store(fileKey{Language: Language(0), Index: 0}, f)

	out := mgr.Format(Language(0), 0, Param{Num: 3}, Param{Str: "coins"})
	assert.Equal(t, "You have 3 of coins.", out)
}

func buildIndex(entry []byte) []byte {
	header := make([]byte, 4+12)
	binary.LittleEndian.PutUint32(header, 1)
	binary.LittleEndian.PutUint32(header[4:], uint32(entryLiteral))
	binary.LittleEndian.PutUint32(header[8:], 0)
	binary.LittleEndian.PutUint32(header[12:], uint32(len(entry)))
	return append(header, entry...)
}
