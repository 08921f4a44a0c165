package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"math"

	"github.com/anthonynsimon/bild/transform"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/rules"
)

// Overlay fill opacity.
const (
	FillAlpha      = 0.18
	DraftFillAlpha = 0.35
)

const (
	strokeWidth         = 3
	selectedStrokeWidth = 6
)

var selectedDash = []int{6, 4}

// OverlayOptions controls RenderOverlay.
type OverlayOptions struct {
	// Scale is the display scale. Values outside (0, 1] keep full size.
	Scale float64

	// Classes is used to pick palette colours.
	Classes annotation.ClassMap

	// Selected is the id of the highlighted region.
	Selected string

	// Provisional is the in-progress draw region, if any.
	Provisional *annotation.Region

	// ShowCounts draws "microgel,cell" in the top-left corner.
	ShowCounts bool
}

// OverlayResult contains the rendered preview.
type OverlayResult struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Scale       float64 `json:"scale"`
	ImageBase64 string  `json:"image_base64"`
	MimeType    string  `json:"mime_type"`
}

// RenderOverlay draws item's regions over img at the display scale.
//
// Regions are filled with their class colour at FillAlpha and outlined.
// Containers the rule evaluation excluded are greyed. The selected region is
// outlined with a dashed highlight, and the provisional region is filled at
// DraftFillAlpha.
func RenderOverlay(img image.Image, item *annotation.ImageItem, res rules.Result, opts OverlayOptions) (*OverlayResult, error) {
	if item == nil {
		return nil, fmt.Errorf("no image item")
	}
	scale := opts.Scale
	if !(scale > 0 && scale <= 1) {
		scale = 1
	}

	canvas := baseCanvas(img, scale)

	for i := range item.Regions {
		r := &item.Regions[i]
		col := ClassColor(opts.Classes, r.ClassID, r.ClassName)
		if res.Excluded(r.ID) {
			col = Greyed(col)
		}
		rect := displayRect(r, scale)
		fillRect(canvas, rect, withAlpha(col, FillAlpha))
		if r.ID == opts.Selected {
			strokeRect(canvas, rect, withAlpha(SelectedColor, 1), selectedStrokeWidth, selectedDash)
		} else {
			strokeRect(canvas, rect, withAlpha(col, 1), strokeWidth, nil)
		}
	}

	if p := opts.Provisional; p != nil {
		col := ClassColor(opts.Classes, p.ClassID, p.ClassName)
		rect := displayRect(p, scale)
		fillRect(canvas, rect, withAlpha(col, DraftFillAlpha))
		strokeRect(canvas, rect, withAlpha(col, 1), strokeWidth, nil)
	}

	if opts.ShowCounts {
		label := fmt.Sprintf("%d,%d", res.Summary.Microgel, res.Summary.Cell)
		drawLabel(canvas, 4, 4, label, color.RGBA{255, 255, 255, 255}, color.RGBA{0, 0, 0, 180})
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("failed to encode overlay: %w", err)
	}

	b := canvas.Bounds()
	return &OverlayResult{
		Width:       b.Dx(),
		Height:      b.Dy(),
		Scale:       scale,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// baseCanvas returns an RGBA copy of img at the display scale, anchored at
// the origin.
func baseCanvas(img image.Image, scale float64) *image.RGBA {
	b := img.Bounds()
	if scale == 1 {
		canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(canvas, canvas.Bounds(), img, b.Min, draw.Src)
		return canvas
	}
	w := max(1, int(math.Round(float64(b.Dx())*scale)))
	h := max(1, int(math.Round(float64(b.Dy())*scale)))
	return transform.Resize(img, w, h, transform.Linear)
}

func displayRect(r *annotation.Region, scale float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(r.X*scale)),
		int(math.Floor(r.Y*scale)),
		int(math.Ceil((r.X+r.W)*scale)),
		int(math.Ceil((r.Y+r.H)*scale)),
	)
}

func fillRect(dst *image.RGBA, r image.Rectangle, c color.NRGBA) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

// strokeRect outlines r inside its bounds with the given width. A non-nil
// dash alternates on and off runs along the perimeter.
func strokeRect(dst *image.RGBA, r image.Rectangle, c color.NRGBA, width int, dash []int) {
	bounds := dst.Bounds()
	for i := 0; i < width; i++ {
		in := image.Rect(r.Min.X+i, r.Min.Y+i, r.Max.X-1-i, r.Max.Y-1-i)
		if in.Min.X > in.Max.X || in.Min.Y > in.Max.Y {
			return
		}
		for k, p := range perimeter(in) {
			if dash != nil && k%(dash[0]+dash[1]) >= dash[0] {
				continue
			}
			if p.In(bounds) {
				dst.Set(p.X, p.Y, c)
			}
		}
	}
}

// perimeter walks the outline of r clockwise from the top-left corner.
// Min and Max are both inclusive.
func perimeter(r image.Rectangle) []image.Point {
	var pts []image.Point
	for x := r.Min.X; x <= r.Max.X; x++ {
		pts = append(pts, image.Pt(x, r.Min.Y))
	}
	for y := r.Min.Y + 1; y <= r.Max.Y; y++ {
		pts = append(pts, image.Pt(r.Max.X, y))
	}
	if r.Max.Y > r.Min.Y {
		for x := r.Max.X - 1; x >= r.Min.X; x-- {
			pts = append(pts, image.Pt(x, r.Max.Y))
		}
	}
	if r.Max.X > r.Min.X {
		for y := r.Max.Y - 1; y > r.Min.Y; y-- {
			pts = append(pts, image.Pt(r.Min.X, y))
		}
	}
	return pts
}

// drawLabel draws text in a 3x5 pixel digit font over a background box.
// Only digits and the comma are drawn; other runes leave a gap.
func drawLabel(img *image.RGBA, x, y int, text string, fg, bg color.RGBA) {
	glyphs := map[rune][]string{
		'0': {"111", "101", "101", "101", "111"},
		'1': {"010", "110", "010", "010", "111"},
		'2': {"111", "001", "111", "100", "111"},
		'3': {"111", "001", "111", "001", "111"},
		'4': {"101", "101", "111", "001", "001"},
		'5': {"111", "100", "111", "001", "111"},
		'6': {"111", "100", "111", "101", "111"},
		'7': {"111", "001", "001", "001", "001"},
		'8': {"111", "101", "111", "101", "111"},
		'9': {"111", "101", "111", "001", "111"},
		',': {"000", "000", "000", "010", "010"},
	}

	const charWidth, labelHeight = 4, 7
	bounds := img.Bounds()
	labelWidth := len(text) * charWidth

	draw.Draw(img, image.Rect(x-1, y-1, x+labelWidth, y+labelHeight).Intersect(bounds),
		image.NewUniform(bg), image.Point{}, draw.Over)

	cx := x
	for _, ch := range text {
		for row, line := range glyphs[ch] {
			for col, pixel := range line {
				p := image.Pt(cx+col, y+row)
				if pixel == '1' && p.In(bounds) {
					img.Set(p.X, p.Y, fg)
				}
			}
		}
		cx += charWidth
	}
}
