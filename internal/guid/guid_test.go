package guid_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/xvwyh/GW2Viewer-sub000/internal/guid"
)

func TestParse(t *testing.T) {
	t.Parallel()
	type TestCase struct {
		Input     string
		OutputVal guid.GUID
		OutputErr string
	}
	testcases := map[string]TestCase{
		"basic": {
			Input:     "a0dd94ed-e60c-42e8-8632-64e8d4765a43",
			OutputVal: guid.GUID{0xa0, 0xdd, 0x94, 0xed, 0xe6, 0x0c, 0x42, 0xe8, 0x86, 0x32, 0x64, 0xe8, 0xd4, 0x76, 0x5a, 0x43},
		},
		"too-long": {
			Input:     "a0dd94ed-e60c-42e8-8632-64e8d4765a43a",
			OutputErr: `too long to be a GUID: "a0dd94ed-e60c-42e8-8632-64e8d4765a43"|"a"`,
		},
		"bad char": {
			Input:     "a0dd94ej-e60c-42e8-8632-64e8d4765a43a",
			OutputErr: `illegal byte in GUID: "a0dd94e"|"j"|"-e60c-42e8-8632-64e8d4765a43a"`,
		},
	}
	for tcName, tc := range testcases {
		tc := tc
		t.Run(tcName, func(t *testing.T) {
			t.Parallel()
			val, err := guid.Parse(tc.Input)
			assert.Equal(t, tc.OutputVal, val)
			if tc.OutputErr == "" {
				assert.NoError(t, err)
			} else if assert.Error(t, err) {
				assert.Equal(t, tc.OutputErr, err.Error())
			}
		})
	}
}

func TestStringRoundTrip(t *testing.T) {
	t.Parallel()
	g := guid.MustParse("a0dd94ed-e60c-42e8-8632-64e8d4765a43")
	assert.Equal(t, "a0dd94ed-e60c-42e8-8632-64e8d4765a43", g.String())
	assert.Equal(t, "a0dd94ed-e60c-42e8-8632-64e8d4765a43", fmt.Sprintf("%v", g))

	roundTripped, err := guid.Parse(g.String())
	assert.NoError(t, err)
	assert.Equal(t, g, roundTripped)
}

func TestZero(t *testing.T) {
	t.Parallel()
	var g guid.GUID
	assert.True(t, g.IsZero())
	g[0] = 1
	assert.False(t, g.IsZero())
}
