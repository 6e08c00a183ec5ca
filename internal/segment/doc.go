// Package segment defines the contract shared by every index form.
//
// A segment covers one contiguous range of the global entity index space.
// Two implementations exist:
//
//   - dynamic: the mutable, insert-capable in-memory index
//   - static: the immutable index opened over committed storage, mutable
//     only through its patch overlay
//
// The engine stacks segments into layers and wraps them while they are
// being committed or merged.
package segment
