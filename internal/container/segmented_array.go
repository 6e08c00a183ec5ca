// Package container implements the concurrent containers backing the
// dynamic index.
package container

import (
	"sync"
	"sync/atomic"
)

const (
	segmentBits = 12
	segmentSize = 1 << segmentBits
	segmentMask = segmentSize - 1
)

// SegmentedArray is an append-only array of T split into fixed-size
// segments. Elements never move, so pointers returned by At and Load stay
// valid for the lifetime of the array. Readers are lock-free; growth takes a
// mutex and publishes a new segment table.
type SegmentedArray[T any] struct {
	segments atomic.Pointer[[]*segment[T]]
	mu       sync.Mutex
}

type segment[T any] struct {
	items [segmentSize]T
}

// NewSegmentedArray creates an empty array.
func NewSegmentedArray[T any]() *SegmentedArray[T] {
	sa := &SegmentedArray[T]{}
	empty := make([]*segment[T], 0)
	sa.segments.Store(&empty)
	return sa
}

// Load returns a pointer to element index, or nil if its segment has not
// been allocated yet.
func (sa *SegmentedArray[T]) Load(index uint32) *T {
	segments := *sa.segments.Load()
	segIdx := int(index >> segmentBits)
	if segIdx >= len(segments) {
		return nil
	}
	return &segments[segIdx].items[index&segmentMask]
}

// At returns a pointer to element index, allocating its segment if needed.
func (sa *SegmentedArray[T]) At(index uint32) *T {
	if p := sa.Load(index); p != nil {
		return p
	}

	sa.mu.Lock()
	defer sa.mu.Unlock()

	current := *sa.segments.Load()
	segIdx := int(index >> segmentBits)
	if segIdx < len(current) {
		return &current[segIdx].items[index&segmentMask]
	}

	grown := make([]*segment[T], segIdx+1)
	copy(grown, current)
	for i := len(current); i <= segIdx; i++ {
		grown[i] = &segment[T]{}
	}
	sa.segments.Store(&grown)
	return &grown[segIdx].items[index&segmentMask]
}

// Cap returns the number of addressable elements.
func (sa *SegmentedArray[T]) Cap() int {
	return len(*sa.segments.Load()) * segmentSize
}
