package rules

import (
	"sort"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/geometry"
)

// Exclusion reasons reported by Result.Reason.
const (
	ReasonEdge        = "edge"
	ReasonOverlap     = "overlap"
	ReasonEdgeOverlap = "edge+overlap"
)

// Result is the outcome of one evaluation.
type Result struct {
	// Summary holds the derived counts.
	Summary annotation.Summary `json:"counts"`

	// Roles are the class ids used for partitioning.
	Roles annotation.Roles `json:"roles"`

	// EdgeExcluded holds ids of containers excluded by the edge rule.
	EdgeExcluded map[string]bool `json:"edge_excluded"`

	// OverlapExcluded holds ids of containers excluded by the overlap rule.
	OverlapExcluded map[string]bool `json:"overlap_excluded"`

	// Valid lists the surviving container ids, sorted.
	Valid []string `json:"valid"`

	// Counted lists the contained region ids that were counted, sorted.
	Counted []string `json:"counted"`
}

// Excluded reports whether the container with the given id was excluded by
// either rule.
func (r *Result) Excluded(id string) bool {
	return r.EdgeExcluded[id] || r.OverlapExcluded[id]
}

// Reason returns why a container was excluded, or "" if it was not.
func (r *Result) Reason(id string) string {
	edge, overlap := r.EdgeExcluded[id], r.OverlapExcluded[id]
	switch {
	case edge && overlap:
		return ReasonEdgeOverlap
	case edge:
		return ReasonEdge
	case overlap:
		return ReasonOverlap
	}
	return ""
}

// Evaluate applies the edge and overlap rules to regions and counts the
// surviving containers and the contained regions inside them.
//
// cfg is clamped before use. A frame with a non-positive side yields a zero
// summary. The overlap pass compares every pair of containers, so it is
// O(n²) in the container count.
func Evaluate(regions []annotation.Region, classes annotation.ClassMap, cfg Config, frameW, frameH float64) Result {
	cfg = cfg.Clamped()
	roles := annotation.ResolveRoles(classes)
	res := Result{
		Roles:           roles,
		EdgeExcluded:    map[string]bool{},
		OverlapExcluded: map[string]bool{},
		Valid:           []string{},
		Counted:         []string{},
	}
	if frameW <= 0 || frameH <= 0 {
		return res
	}

	var containers, contained []*annotation.Region
	for i := range regions {
		r := &regions[i]
		if r.ClassID == roles.Container {
			containers = append(containers, r)
		}
		if r.ClassID == roles.Contained {
			contained = append(contained, r)
		}
	}

	threshold := cfg.InsideThreshold()
	for _, c := range containers {
		if geometry.InsideRatio(c.Rect(), frameW, frameH) < threshold {
			res.EdgeExcluded[c.ID] = true
		}
	}

	for i := 0; i < len(containers); i++ {
		a := containers[i].Rect().Bounds()
		for j := i + 1; j < len(containers); j++ {
			if geometry.IoU(a, containers[j].Rect().Bounds()) >= cfg.OverlapIoU {
				res.OverlapExcluded[containers[i].ID] = true
				res.OverlapExcluded[containers[j].ID] = true
			}
		}
	}

	var valid []geometry.Rect
	for _, c := range containers {
		if res.Excluded(c.ID) {
			continue
		}
		valid = append(valid, c.Rect())
		res.Valid = append(res.Valid, c.ID)
	}

	for _, r := range contained {
		center := r.Rect().Center()
		for _, v := range valid {
			if geometry.Contains(v, center.X, center.Y) {
				res.Counted = append(res.Counted, r.ID)
				break
			}
		}
	}

	sort.Strings(res.Valid)
	sort.Strings(res.Counted)
	res.Summary = annotation.Summary{Microgel: len(res.Valid), Cell: len(res.Counted)}
	return res
}

// EvaluateItem runs Evaluate over an image item's regions and frame.
func EvaluateItem(it *annotation.ImageItem, classes annotation.ClassMap, cfg Config) Result {
	w, h := it.Frame()
	return Evaluate(it.Regions, classes, cfg, w, h)
}

// Recount recomputes it.Counts. It is the only code path that writes an
// image's count summary.
func Recount(it *annotation.ImageItem, classes annotation.ClassMap, cfg Config) annotation.Summary {
	it.Counts = EvaluateItem(it, classes, cfg).Summary
	return it.Counts
}
