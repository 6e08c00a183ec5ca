// Package engine stacks segments into one logical contents index.
//
// The engine orchestrates:
//   - a single open dynamic segment receiving every insert
//   - rotation of that segment when it overflows
//   - background commit jobs turning frozen segments into static ones
//   - background merge jobs compacting runs of small static segments
//   - per-segment shadow bitmaps hiding records replaced or deleted
//     through a newer segment
//   - a monitor goroutine that swaps finished jobs into the segment list
//     and persists the manifest
//
// Reads fan out across all segments. Id lookups go newest first; index
// lookups pick the segment whose range holds the index. Every segment maps
// its local indices into the global index space by adding its base.
package engine
