// Package arena provides the bump allocator that owns every variable-sized
// payload of a dynamic index: postings keys, chain details, entity ids and
// extras.
//
// Allocations are addressed by a Ref, a stable 64-bit handle composed of the
// chunk number and the offset inside the chunk. Refs stay valid for the
// lifetime of the arena; nothing is ever freed individually. Dropping the
// arena releases all memory at once.
//
// Alloc and Copy are safe for concurrent use. A fresh region is claimed with
// a compare-and-swap on the current chunk's offset; only chunk replacement
// takes a mutex.
package arena
