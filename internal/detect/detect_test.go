package detect

import (
	"context"
	"image"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/gel-annotator-mcp/internal/imaging"
)

// writePNG writes a blank w×h PNG into dir and returns its path.
func writePNG(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, image.NewGray(image.Rect(0, 0, w, h))))
	return path
}

func TestRequest_Normalized(t *testing.T) {
	tests := []struct {
		name     string
		in       Request
		wantConf float64
		wantIoU  float64
	}{
		{"in range", Request{Confidence: 0.3, IoU: 0.5}, 0.3, 0.5},
		{"above", Request{Confidence: 2, IoU: 1.5}, 1, 1},
		{"below", Request{Confidence: -1, IoU: -0.1}, 0, 0},
		{"nan", Request{Confidence: math.NaN(), IoU: math.NaN()}, DefaultConfidence, DefaultIoU},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Normalized()
			assert.Equal(t, tt.wantConf, got.Confidence)
			assert.Equal(t, tt.wantIoU, got.IoU)
		})
	}
}

func TestNewRequest_Defaults(t *testing.T) {
	r := NewRequest("a.png")
	assert.Equal(t, []string{"a.png"}, r.Paths)
	assert.Equal(t, 0.25, r.Confidence)
	assert.Equal(t, 0.45, r.IoU)
}

func TestLocal_Detect(t *testing.T) {
	dir := t.TempDir()
	a := writePNG(t, dir, "a.png", 40, 30)
	b := writePNG(t, dir, "b.png", 8, 9)

	l := NewLocal(imaging.NewImageCache())
	assert.Equal(t, "none", l.Name())

	batch, err := l.Detect(context.Background(), NewRequest(a, b))
	require.NoError(t, err)
	require.Len(t, batch.Images, 2)

	assert.Equal(t, "a.png", batch.Images[0].Filename)
	assert.Equal(t, a, batch.Images[0].Path)
	assert.Equal(t, 40, batch.Images[0].Width)
	assert.Equal(t, 30, batch.Images[0].Height)
	assert.NotEmpty(t, batch.Images[0].ID)
	assert.NotNil(t, batch.Images[0].Regions)
	assert.Empty(t, batch.Images[0].Regions)
	assert.NotEqual(t, batch.Images[0].ID, batch.Images[1].ID)
}

func TestLocal_Errors(t *testing.T) {
	l := NewLocal(imaging.NewImageCache())

	_, err := l.Detect(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrNoImages)

	_, err = l.Detect(context.Background(), NewRequest(filepath.Join(t.TempDir(), "missing.png")))
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Detect(ctx, NewRequest("x.png"))
	assert.ErrorIs(t, err, context.Canceled)
}
