package thumbnail

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFit(t *testing.T) {
	cases := []struct {
		name         string
		srcW, srcH   int
		boxW, boxH   int
		wantW, wantH int
	}{
		{"landscape into square", 2000, 1000, 200, 200, 200, 100},
		{"portrait into box", 1000, 2000, 800, 600, 300, 600},
		{"same ratio", 1600, 1200, 800, 600, 800, 600},
		{"small source is scaled up", 100, 50, 200, 200, 200, 100},
		{"thin strip keeps one pixel", 10000, 1, 200, 200, 200, 1},
		{"rounding", 333, 1000, 200, 200, 67, 200},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := Fit(tc.srcW, tc.srcH, tc.boxW, tc.boxH)
			assert.Equal(t, tc.wantW, w)
			assert.Equal(t, tc.wantH, h)
		})
	}
}

func TestFindSpec(t *testing.T) {
	spec, ok := FindSpec(DefaultSpecs(), "medium")
	assert.True(t, ok)
	assert.Equal(t, Spec{Name: "MEDIUM", Width: 800, Height: 600}, spec)

	_, ok = FindSpec(DefaultSpecs(), "HUGE")
	assert.False(t, ok)

	assert.Equal(t, []string{"SMALL", "MEDIUM", "LARGE"}, SpecNames(DefaultSpecs()))
}
