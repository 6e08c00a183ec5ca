// Package dynamic implements the mutable, insert-capable segment.
//
// An Index combines a concurrent entity table with a concurrent postings
// store. Every id, extras blob, key and detail accepted by the index is
// copied into an arena that is released as a whole when the index is
// closed.
//
// # Overflow
//
// The index refuses inserts once its entity capacity or its allocation
// ceiling is reached. Both conditions are reported as
// *segment.OverflowError, which the engine answers by rotating to a fresh
// segment and retrying there.
//
// # Lifecycle
//
// Freeze turns the index read-only. A frozen index is serialized into a
// storage.Sink by Serialize (or Commit), and the resulting container is
// opened as a static segment.
package dynamic
