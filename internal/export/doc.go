// Package export writes session data out: YOLO label text per image, a zip
// of all label files with a classes.txt, and a CSV count report.
package export
