package detect

import (
	"context"
	"errors"
	"math"
	"path/filepath"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
)

// Default detection thresholds.
const (
	DefaultConfidence = 0.25
	DefaultIoU        = 0.45
)

// ErrNoImages is returned when a request names no image paths.
var ErrNoImages = errors.New("no images to detect")

// Request describes one detection call.
type Request struct {
	// Paths are the local image files to run detection on.
	Paths []string `json:"paths"`

	// Confidence is the minimum detection score kept.
	Confidence float64 `json:"conf"`

	// IoU is the non-maximum suppression threshold.
	IoU float64 `json:"iou"`
}

// NewRequest returns a request for paths with the default thresholds.
func NewRequest(paths ...string) Request {
	return Request{Paths: paths, Confidence: DefaultConfidence, IoU: DefaultIoU}
}

// Normalized returns r with both thresholds clamped to [0, 1]. NaN takes the
// default.
func (r Request) Normalized() Request {
	r.Confidence = unit(r.Confidence, DefaultConfidence)
	r.IoU = unit(r.IoU, DefaultIoU)
	return r
}

func unit(v, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return math.Max(0, math.Min(v, 1))
}

// Detector produces detections for a set of images.
type Detector interface {
	// Name identifies the detector in logs and tool output.
	Name() string

	// Detect runs detection over req.Paths.
	Detect(ctx context.Context, req Request) (*annotation.Batch, error)
}

// attachPaths fills the local path of each returned item whose filename
// matches one of the request paths.
func attachPaths(batch *annotation.Batch, paths []string) {
	byName := make(map[string]string, len(paths))
	for _, p := range paths {
		byName[filepath.Base(p)] = p
	}
	for i := range batch.Images {
		it := &batch.Images[i]
		if it.Path != "" {
			continue
		}
		if p, ok := byName[it.Filename]; ok {
			it.Path = p
		} else if p, ok := byName[it.StoredFilename]; ok {
			it.Path = p
		}
	}
}
