// Package static implements the immutable segment opened over a committed
// storage container.
//
// Entities and postings are read in place from the container regions. A
// patch.Table keyed by entity index absorbs deletes and extras updates;
// SavePatches persists it next to the container so the overlay survives a
// restart.
package static
