package detect

import (
	"context"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/imaging"
)

// Local imports images without running detection. Items carry only their
// dimensions and an empty region list.
type Local struct {
	cache *imaging.ImageCache
	newID func() string
}

// NewLocal returns a Local importer that reads dimensions through cache.
func NewLocal(cache *imaging.ImageCache) *Local {
	return &Local{cache: cache, newID: uuid.NewString}
}

// Name implements Detector.
func (l *Local) Name() string { return "none" }

// Detect implements Detector. Thresholds are ignored.
func (l *Local) Detect(ctx context.Context, req Request) (*annotation.Batch, error) {
	if len(req.Paths) == 0 {
		return nil, ErrNoImages
	}

	batch := &annotation.Batch{ClassMap: annotation.ClassMap{}}
	for _, p := range req.Paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		dims, err := imaging.GetDimensions(l.cache, p)
		if err != nil {
			return nil, err
		}
		batch.Images = append(batch.Images, annotation.ImageItem{
			ID:       l.newID(),
			Filename: filepath.Base(p),
			Path:     p,
			Width:    dims.Width,
			Height:   dims.Height,
			Regions:  []annotation.Region{},
		})
	}
	return batch, nil
}
