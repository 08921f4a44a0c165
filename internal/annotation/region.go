package annotation

import (
	"github.com/ironsheep/gel-annotator-mcp/internal/geometry"
)

// Region is one detected or hand-drawn object instance.
//
// Coordinates are in image pixel space. Score is nil for hand-drawn regions.
type Region struct {
	ID        string   `json:"id"`
	X         float64  `json:"x"`
	Y         float64  `json:"y"`
	W         float64  `json:"w"`
	H         float64  `json:"h"`
	ClassID   int      `json:"classId"`
	ClassName string   `json:"className"`
	Score     *float64 `json:"score,omitempty"`
}

// Rect returns the region's rectangle.
func (r *Region) Rect() geometry.Rect {
	return geometry.Rect{X: r.X, Y: r.Y, W: r.W, H: r.H}
}

// SetRect replaces the region's rectangle.
func (r *Region) SetRect(rect geometry.Rect) {
	r.X, r.Y, r.W, r.H = rect.X, rect.Y, rect.W, rect.H
}

// SetClass updates the class id and cached class name together.
func (r *Region) SetClass(id int, name string) {
	r.ClassID = id
	r.ClassName = name
}

// Summary is the count summary derived from an image's regions.
type Summary struct {
	Microgel int `json:"microgel"`
	Cell     int `json:"cell"`
}

// Map returns the summary keyed by role name.
func (s Summary) Map() map[string]int {
	return map[string]int{
		RoleContainer: s.Microgel,
		RoleContained: s.Cell,
	}
}

// ImageItem is one image in the session together with its regions.
type ImageItem struct {
	ID             string   `json:"id"`
	Filename       string   `json:"filename"`
	StoredFilename string   `json:"storedFilename,omitempty"`
	URL            string   `json:"url,omitempty"`
	Path           string   `json:"path,omitempty"`
	Width          int      `json:"width"`
	Height         int      `json:"height"`
	Regions        []Region `json:"boxes"`
	Counts         Summary  `json:"counts"`
}

// Frame returns the image dimensions as floats.
func (it *ImageItem) Frame() (float64, float64) {
	return float64(it.Width), float64(it.Height)
}

// Find returns the index of the region with the given id, or -1.
func (it *ImageItem) Find(id string) int {
	for i := range it.Regions {
		if it.Regions[i].ID == id {
			return i
		}
	}
	return -1
}

// Region returns a pointer to the region with the given id, or nil.
func (it *ImageItem) Region(id string) *Region {
	if i := it.Find(id); i >= 0 {
		return &it.Regions[i]
	}
	return nil
}

// Remove deletes the region with the given id. It reports whether a region
// was removed.
func (it *ImageItem) Remove(id string) bool {
	i := it.Find(id)
	if i < 0 {
		return false
	}
	it.Regions = append(it.Regions[:i], it.Regions[i+1:]...)
	return true
}

// Batch is one detection result: a class map and the detected images.
type Batch struct {
	ClassMap ClassMap    `json:"classMap"`
	Images   []ImageItem `json:"images"`
}
