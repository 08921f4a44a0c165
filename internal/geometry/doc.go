// Package geometry provides the rectangle math used by the annotation engine.
//
// Every function in this package is pure: no state, no allocation beyond the
// returned values, and no error returns. Degenerate inputs (zero or negative
// sizes, empty frames) produce well-defined results instead of failures.
//
// # Coordinate System
//
// All coordinates are in image pixel space as float64:
//   - Origin (0, 0) at the top-left corner
//   - X increases rightward, Y increases downward
//   - Rect is (X, Y, W, H); Bounds is the corner form (X1, Y1, X2, Y2)
//
// Fractional coordinates are expected: regions come from a detection model or
// from pointer events divided by a display scale.
//
// # Normalization
//
// Clamp is the single normalization path applied after every interactive
// edit. Its result always has W >= 1 and H >= 1 and lies inside the frame,
// and it is idempotent.
//
// # Tolerance
//
// IoU and InsideRatio add Epsilon (1e-6) to their denominators so degenerate
// rectangles never divide by zero. Callers comparing results against 0 or 1
// should allow for that tolerance.
package geometry
