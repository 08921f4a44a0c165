// Package editor implements the interactive region editing state machine for
// one image.
//
// An Editor holds the mode (select, draw or erase), the selection, an
// in-progress draw and an in-progress drag. It turns pointer and keyboard
// events into region mutations on its ImageItem and calls the Recounter
// after every mutation, so the item's count summary is fresh before control
// returns to the caller.
//
// # Coordinates
//
// Pointer events are given in display (canvas) space. The editor divides by
// its display scale to get image space. Every edited rectangle goes through
// geometry.Clamp.
//
// # Modes
//
//   - select: pointer-down picks a region (or clears the selection on empty
//     canvas); dragging the selected region moves it; dragging one of its
//     corner handles resizes it; Delete/Backspace removes it.
//   - draw: pointer-down anchors a provisional 1x1 region of the active
//     class, pointer-move spans it to the pointer, pointer-up keeps it when
//     both sides are at least MinDrawSize image pixels. Existing regions do
//     not intercept pointer events.
//   - erase: pointer-down on a region removes it.
//
// Keys: Escape selects, R draws, D erases, 1..9 pick the n-th class of the
// class map.
//
// # Concurrency
//
// An Editor is not safe for concurrent use. All events for one image are
// expected to come from a single owner.
package editor
