package thumbnail

import (
	"fmt"
	"math"
	"strings"
)

// Spec is a named bounding box; derivatives fit inside it with the aspect
// ratio preserved.
type Spec struct {
	Name   string
	Width  int
	Height int
}

func (s Spec) String() string {
	return fmt.Sprintf("%s(%dx%d)", s.Name, s.Width, s.Height)
}

func DefaultSpecs() []Spec {
	return []Spec{
		{Name: "SMALL", Width: 200, Height: 200},
		{Name: "MEDIUM", Width: 800, Height: 600},
		{Name: "LARGE", Width: 1600, Height: 1200},
	}
}

func SpecNames(specs []Spec) []string {
	names := make([]string, len(specs))
	for i, s := range specs {
		names[i] = s.Name
	}
	return names
}

// FindSpec matches name case-insensitively.
func FindSpec(specs []Spec, name string) (Spec, bool) {
	for _, s := range specs {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return Spec{}, false
}

// Fit scales srcW x srcH by min(boxW/srcW, boxH/srcH). Smaller sources are
// scaled up. Neither side drops below one pixel.
func Fit(srcW, srcH, boxW, boxH int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	scale := math.Min(float64(boxW)/float64(srcW), float64(boxH)/float64(srcH))
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))
	return max(w, 1), max(h, 1)
}
