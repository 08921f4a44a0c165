package rules

import "math"

// Default thresholds.
const (
	DefaultOverlapIoU         = 0.10
	DefaultEdgeOutsidePercent = 50
)

// Config holds the two user-adjustable rule thresholds. Both apply uniformly
// to every image in a session.
type Config struct {
	// OverlapIoU is the container/container IoU at or above which both
	// containers are excluded. Range [0, 1].
	OverlapIoU float64 `json:"overlap_iou" yaml:"overlap_iou"`

	// EdgeOutsidePercent is the largest percentage of a container's area
	// that may lie outside the image frame. Range [0, 100].
	EdgeOutsidePercent float64 `json:"edge_outside_percent" yaml:"edge_outside_percent"`
}

// Default returns the default rule configuration.
func Default() Config {
	return Config{OverlapIoU: DefaultOverlapIoU, EdgeOutsidePercent: DefaultEdgeOutsidePercent}
}

// Clamped returns c with both thresholds forced into range. NaN values take
// the default.
func (c Config) Clamped() Config {
	return Config{
		OverlapIoU:         clampOr(c.OverlapIoU, 0, 1, DefaultOverlapIoU),
		EdgeOutsidePercent: clampOr(c.EdgeOutsidePercent, 0, 100, DefaultEdgeOutsidePercent),
	}
}

// InsideThreshold is the minimum inside ratio a container needs to survive
// the edge rule.
func (c Config) InsideThreshold() float64 {
	return 1 - c.EdgeOutsidePercent/100.0
}

func clampOr(v, lo, hi, fallback float64) float64 {
	if math.IsNaN(v) {
		return fallback
	}
	return math.Max(lo, math.Min(v, hi))
}
