// Package session holds the ordered list of images being annotated, the
// active image, the class map, the rule configuration shared by every image
// and one editor per image.
//
// Counts are recomputed for an image whenever its regions change and for all
// images whenever the rules change. A detection call marks the store busy;
// a second call made while busy fails with ErrBusy, and editing continues
// meanwhile.
//
// Store methods are safe for concurrent use. Editors returned by Editor are
// not; use Edit to run editor operations under the store lock.
package session
