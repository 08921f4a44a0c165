// Package annotation defines the data model shared by the annotation engine:
// regions, class maps, image items and detection batches.
//
// # Ownership
//
// A Region belongs to exactly one ImageItem's region set and is mutated in
// place by the editor. An ImageItem is owned by the session store.
//
// # Derived Counts
//
// ImageItem.Counts is a derived Summary. It is written only by the rule
// evaluator's recount path and is stale the moment the item's regions or the
// global rule configuration change.
//
// # Class Roles
//
// Two classes carry roles: the container class (default name "microgel") and
// the contained class (default name "cell"). ResolveRoles finds them by a
// case-insensitive name lookup and falls back to ids 0 and 1.
package annotation
