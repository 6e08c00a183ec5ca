// Package postings implements the inverted half of a segment: for every
// key, the ordered list of entity indices that contain it, each with a
// detail payload whose shape is fixed per key by its BlockType.
//
// Store is the mutable, concurrent form. Each key owns a Chain, a singly
// linked list kept sorted by entity index. Inserts find their predecessor
// from a sparse skip cache and link in with compare-and-swap, so writers to
// different positions of one chain never wait for each other.
//
// Radix is the immutable form: a serialized prefix tree mapping each key to
// a Record that locates its block in a separate chains buffer. Blocks are
// laid out as
//
//	[blockType]{[index delta][detail]}
//
// where the first delta is the index itself and each later one is
// index - previous - 1.
//
// Both forms hand out Cursors, which move forward over a postings list with
// Find and compose through Filter, Shift and Concat.
package postings
