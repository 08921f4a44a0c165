package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/disintegration/imaging"
	"github.com/lucasb-eyer/go-colorful"

	"github.com/ironsheep/gel-annotator-mcp/internal/geometry"
)

// CropResult contains the cropped image data and simple intensity
// statistics of the cropped pixels.
type CropResult struct {
	X           int     `json:"x"`
	Y           int     `json:"y"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	MeanColor   string  `json:"mean_color"`
	Lightness   float64 `json:"mean_lightness"`
	ImageBase64 string  `json:"image_base64"`
	MimeType    string  `json:"mime_type"`
}

// Crop extracts the rectangle (x1,y1)-(x2,y2) from img, optionally resized
// by scale. x2 and y2 are exclusive.
func Crop(img image.Image, x1, y1, x2, y2 int, scale float64) (*CropResult, error) {
	bounds := img.Bounds()

	if x1 < bounds.Min.X || y1 < bounds.Min.Y || x2 > bounds.Max.X || y2 > bounds.Max.Y {
		return nil, fmt.Errorf("crop region (%d,%d)-(%d,%d) outside image bounds (%d,%d)-(%d,%d)",
			x1, y1, x2, y2, bounds.Min.X, bounds.Min.Y, bounds.Max.X, bounds.Max.Y)
	}
	if x1 >= x2 || y1 >= y2 {
		return nil, fmt.Errorf("invalid crop region: x1 must be < x2, y1 must be < y2")
	}

	cropped := imaging.Crop(img, image.Rect(x1, y1, x2, y2))
	mean := meanColor(cropped)
	l, _, _ := mean.Lab()

	if scale != 1.0 && scale > 0 {
		newWidth := max(1, int(float64(cropped.Bounds().Dx())*scale))
		newHeight := max(1, int(float64(cropped.Bounds().Dy())*scale))
		cropped = imaging.Resize(cropped, newWidth, newHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, fmt.Errorf("failed to encode cropped image: %w", err)
	}

	return &CropResult{
		X:           x1,
		Y:           y1,
		Width:       cropped.Bounds().Dx(),
		Height:      cropped.Bounds().Dy(),
		MeanColor:   mean.Hex(),
		Lightness:   math.Round(l*1000) / 1000,
		ImageBase64: base64.StdEncoding.EncodeToString(buf.Bytes()),
		MimeType:    "image/png",
	}, nil
}

// CropRegion crops a region rectangle grown by pad pixels on each side. The
// crop is limited to the image bounds.
func CropRegion(img image.Image, r geometry.Rect, pad int, scale float64) (*CropResult, error) {
	b := img.Bounds()
	pad = max(pad, 0)

	x1 := max(b.Min.X, b.Min.X+int(math.Floor(r.X))-pad)
	y1 := max(b.Min.Y, b.Min.Y+int(math.Floor(r.Y))-pad)
	x2 := min(b.Max.X, b.Min.X+int(math.Ceil(r.X+r.W))+pad)
	y2 := min(b.Max.Y, b.Min.Y+int(math.Ceil(r.Y+r.H))+pad)

	return Crop(img, x1, y1, x2, y2, scale)
}

func meanColor(img *image.NRGBA) colorful.Color {
	var r, g, bl, n float64
	pix := img.Pix
	for i := 0; i+3 < len(pix); i += 4 {
		r += float64(pix[i])
		g += float64(pix[i+1])
		bl += float64(pix[i+2])
		n++
	}
	if n == 0 {
		return colorful.Color{}
	}
	return colorful.Color{R: r / n / 255, G: g / n / 255, B: bl / n / 255}
}
