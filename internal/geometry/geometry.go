package geometry

import "math"

// Epsilon is added to area denominators to avoid division by zero.
const Epsilon = 1e-6

// Point is a 2D position in pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle given by its top-left corner and size.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Bounds is an axis-aligned rectangle given by its two corners.
type Bounds struct {
	X1 float64 `json:"x1"` // Left edge
	Y1 float64 `json:"y1"` // Top edge
	X2 float64 `json:"x2"` // Right edge
	Y2 float64 `json:"y2"` // Bottom edge
}

// Bounds returns the corner form of r.
func (r Rect) Bounds() Bounds {
	return Bounds{X1: r.X, Y1: r.Y, X2: r.X + r.W, Y2: r.Y + r.H}
}

// Center returns the center point of r.
func (r Rect) Center() Point {
	return Point{X: r.X + r.W/2, Y: r.Y + r.H/2}
}

// Area returns the area of r. Negative sizes count as zero.
func (r Rect) Area() float64 {
	return r.Bounds().Area()
}

// Translate returns r moved by (dx, dy).
func (r Rect) Translate(dx, dy float64) Rect {
	return Rect{X: r.X + dx, Y: r.Y + dy, W: r.W, H: r.H}
}

// Area returns the area of b. Inverted bounds count as zero.
func (b Bounds) Area() float64 {
	return math.Max(0, b.X2-b.X1) * math.Max(0, b.Y2-b.Y1)
}

// Rect returns the (X, Y, W, H) form of b.
func (b Bounds) Rect() Rect {
	return Rect{X: b.X1, Y: b.Y1, W: b.X2 - b.X1, H: b.Y2 - b.Y1}
}

// Intersect returns the overlap of a and b. The result has zero area when
// they do not overlap.
func Intersect(a, b Bounds) Bounds {
	x1 := math.Max(a.X1, b.X1)
	y1 := math.Max(a.Y1, b.Y1)
	x2 := math.Min(a.X2, b.X2)
	y2 := math.Min(a.Y2, b.Y2)
	return Bounds{X1: x1, Y1: y1, X2: math.Max(x1, x2), Y2: math.Max(y1, y2)}
}

// IoU computes the intersection-over-union of two rectangles.
//
// The result is in [0, 1]; it is 0 when the rectangles do not overlap and
// approaches 1 for identical rectangles. IoU(a, b) == IoU(b, a).
func IoU(a, b Bounds) float64 {
	inter := Intersect(a, b).Area()
	return inter / (a.Area() + b.Area() - inter + Epsilon)
}

// InsideRatio returns the fraction of r's area that lies inside the frame
// [0, frameW] x [0, frameH].
//
// A rectangle fully inside the frame yields ~1.0, one fully outside yields 0.
func InsideRatio(r Rect, frameW, frameH float64) float64 {
	frame := Bounds{X1: 0, Y1: 0, X2: math.Max(0, frameW), Y2: math.Max(0, frameH)}
	b := r.Bounds()
	return Intersect(b, frame).Area() / (b.Area() + Epsilon)
}

// Contains reports whether (px, py) lies in r. Points on an edge count as
// contained.
func Contains(r Rect, px, py float64) bool {
	return r.X <= px && px <= r.X+r.W && r.Y <= py && py <= r.Y+r.H
}

// Clamp forces r inside a frameW x frameH frame.
//
// X and Y are limited to [0, dim-1]; W and H to [1, dim-x]. The result is
// never smaller than 1x1, so a frame smaller than one pixel still yields a
// 1x1 rectangle at the origin.
func Clamp(r Rect, frameW, frameH float64) Rect {
	x := clampRange(r.X, 0, frameW-1)
	y := clampRange(r.Y, 0, frameH-1)
	w := clampRange(r.W, 1, frameW-x)
	h := clampRange(r.H, 1, frameH-y)
	return Rect{X: x, Y: y, W: w, H: h}
}

// Span returns the rectangle spanned by two points, with non-negative size
// whatever the order of the points.
func Span(a, b Point) Rect {
	return Rect{
		X: math.Min(a.X, b.X),
		Y: math.Min(a.Y, b.Y),
		W: math.Abs(b.X - a.X),
		H: math.Abs(b.Y - a.Y),
	}
}

// Normalize flips a negative width or height so the rectangle spans the same
// two corners, then raises each side to at least 1. The position is not
// limited to any frame.
func Normalize(r Rect) Rect {
	n := Span(Point{X: r.X, Y: r.Y}, Point{X: r.X + r.W, Y: r.Y + r.H})
	if math.IsNaN(n.W) || n.W < 1 {
		n.W = 1
	}
	if math.IsNaN(n.H) || n.H < 1 {
		n.H = 1
	}
	return n
}

// clampRange limits v to [lo, hi]. The lower bound wins when hi < lo.
func clampRange(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		v = lo
	}
	return math.Max(lo, math.Min(v, hi))
}
