package imaging

import (
	"image/color"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
)

// Overlay colours.
var (
	ContainedColor = mustHex("#E6FF00")
	ContainerColor = mustHex("#2A9D8F")
	SelectedColor  = mustHex("#1a73e8")
	ExcludedColor  = mustHex("#9e9e9e")

	// Palette colours classes without a fixed colour, by their position in
	// the class map.
	Palette = []colorful.Color{
		mustHex("#e76f51"),
		mustHex("#3a86ff"),
		mustHex("#ff006e"),
		mustHex("#8338ec"),
		mustHex("#fb5607"),
		mustHex("#06d6a0"),
	}
)

func mustHex(s string) colorful.Color {
	c, err := colorful.Hex(s)
	if err != nil {
		panic(err)
	}
	return c
}

// ClassColor returns the outline colour for a region class. The two role
// names have fixed colours; other classes take a palette entry.
func ClassColor(classes annotation.ClassMap, classID int, className string) colorful.Color {
	switch strings.ToLower(strings.TrimSpace(className)) {
	case annotation.RoleContained:
		return ContainedColor
	case annotation.RoleContainer:
		return ContainerColor
	}

	idx := 0
	for i, id := range classes.IDs() {
		if id == classID {
			idx = i
			break
		}
	}
	return Palette[idx%len(Palette)]
}

// Greyed mixes c towards grey for excluded regions.
func Greyed(c colorful.Color) colorful.Color {
	return c.BlendLab(ExcludedColor, 0.7).Clamped()
}

// withAlpha converts c to a non-premultiplied colour with the given opacity.
func withAlpha(c colorful.Color, alpha float64) color.NRGBA {
	r, g, b := c.Clamped().RGB255()
	return color.NRGBA{R: r, G: g, B: b, A: uint8(math.Round(math.Max(0, math.Min(alpha, 1)) * 255))}
}
