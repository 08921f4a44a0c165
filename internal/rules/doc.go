// Package rules evaluates which container regions are valid and counts the
// contained regions inside them.
//
// # Algorithm
//
// Evaluate takes the full region set of one image, the class map, a rule
// Config and the frame size:
//
//  1. Partition regions into containers and contained regions by resolved
//     class role. Regions of any other class are ignored.
//  2. Edge exclusion: a container whose inside ratio is below
//     1 - EdgeOutsidePercent/100 is excluded.
//  3. Overlap exclusion: for every unordered pair of containers with
//     IoU >= OverlapIoU, both members are excluded. The pass is pairwise,
//     not a connected-component closure.
//  4. The container count is the number of containers excluded by neither rule.
//  5. A contained region counts once if its center lies inside at least one
//     surviving container.
//
// The result does not depend on region order.
//
// # Scaling
//
// The overlap pass is O(n²) in the number of containers. That is fine for
// tens to low hundreds of regions per image; much larger sets would need a
// spatial index.
//
// # Degenerate Input
//
// Evaluate never fails. Empty region sets, frames of size zero and class
// maps missing a role yield zero counts or fall back to default role ids.
package rules
