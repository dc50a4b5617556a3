package mangle_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xvwyh/GW2Viewer-sub000/pkg/mangle"
)

func TestMangle5Deterministic(t *testing.T) {
	t.Parallel()
	a := mangle.Mangle5("Items")
	b := mangle.Mangle5("Items")
	assert.Equal(t, a, b)
	assert.Len(t, a, 5)
}

func TestMangleFullNameShape(t *testing.T) {
	t.Parallel()
	full := mangle.MangleFullName("Items.WeaponSkin")
	assert.Len(t, full, 11)
	assert.Equal(t, byte('.'), full[5])

	prefix := mangle.MangleFullName("Items")
	assert.Len(t, prefix, 5)
	assert.Equal(t, full[:5], prefix)
}

func TestMangleFullNameEmpty(t *testing.T) {
	t.Parallel()
	assert.Len(t, mangle.MangleFullName(""), 5)
}

// TestMangleFullNameThreeSegmentsHashesParentAsOneUnit pins down §9's
// resolution against original_source/Content.cpp's MangleFullName:
// only the *last* dot splits the name. The parent path up to that
// point is mangled whole (dots included), not recursively re-split
// segment by segment.
func TestMangleFullNameThreeSegmentsHashesParentAsOneUnit(t *testing.T) {
	t.Parallel()
	full := mangle.MangleFullName("a.b.c")
	assert.Len(t, full, 11)
	assert.Equal(t, byte('.'), full[5])

	wantParent := mangle.Mangle5("a.b")
	wantLeaf := mangle.Mangle5("c")
	assert.Equal(t, wantParent+"."+wantLeaf, full)

	// A naive per-segment split (mangle5(a)+"."+mangle5(b)+"."+mangle5(c))
	// must NOT be what this produces.
	perSegment := mangle.Mangle5("a") + "." + mangle.Mangle5("b") + "." + mangle.Mangle5("c")
	assert.NotEqual(t, perSegment, full)
}

func TestDemangleJobFindsKnownWord(t *testing.T) {
	t.Parallel()
	target := mangle.Mangle5("Weapon")
	known := map[string]struct{}{target: {}}
	dict := []string{"Weapon", "Armor", "Trinket"}

	job := &mangle.DemangleJob{}
	matches := job.Run(context.Background(), dict, known, 1, 2)
	found := false
	for _, m := range matches {
		if m.Candidate == "Weapon" {
			found = true
		}
	}
	assert.True(t, found, "expected to find Weapon among %v", matches)
}

func TestLoadDictionaryFlattensAndDedupes(t *testing.T) {
	t.Parallel()
	data := []byte(`
words:
  - Weapon
  - Armor
sets:
  common:
    - Weapon
    - Trinket
  rare:
    - Legendary
`)
	words, err := mangle.LoadDictionary(data)
	assert.NoError(t, err)
	assert.ElementsMatch(t, []string{"Weapon", "Armor", "Trinket", "Legendary"}, words)
}

func TestLoadDictionaryRestrictsToNamedSets(t *testing.T) {
	t.Parallel()
	data := []byte(`
sets:
  common:
    - Weapon
  rare:
    - Legendary
`)
	words, err := mangle.LoadDictionary(data, "rare")
	assert.NoError(t, err)
	assert.Equal(t, []string{"Legendary"}, words)
}

func TestDemangleJobCancel(t *testing.T) {
	t.Parallel()
	job := &mangle.DemangleJob{}
	job.Cancel()
	assert.True(t, job.Cancelled())
	matches := job.Run(context.Background(), []string{"a", "b", "c"}, map[string]struct{}{}, 2, 2)
	assert.Empty(t, matches)
}
