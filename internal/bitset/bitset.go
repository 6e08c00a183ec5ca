package bitset

import (
	"math/bits"
	"sync"
	"sync/atomic"
)

const (
	segmentBits     = 16
	segmentSize     = 1 << segmentBits
	segmentMask     = segmentSize - 1
	wordsPerSegment = segmentSize / 64
)

type bitSegment [wordsPerSegment]atomic.Uint64

// BitSet is a lock-free segmented bitset. Bits are set with atomic word
// operations; growing the segment table takes a mutex and publishes a copy.
type BitSet struct {
	segments atomic.Pointer[[]*bitSegment]
	mu       sync.Mutex
}

// New creates a bitset with room for size bits. It grows on demand.
func New(size uint64) *BitSet {
	b := &BitSet{}
	empty := make([]*bitSegment, 0)
	b.segments.Store(&empty)
	if size > 0 {
		b.grow(size - 1)
	}
	return b
}

func (b *BitSet) grow(i uint64) *bitSegment {
	b.mu.Lock()
	defer b.mu.Unlock()

	current := *b.segments.Load()
	segIdx := int(i >> segmentBits)
	if segIdx < len(current) {
		return current[segIdx]
	}
	grown := make([]*bitSegment, segIdx+1)
	copy(grown, current)
	for s := len(current); s <= segIdx; s++ {
		grown[s] = new(bitSegment)
	}
	b.segments.Store(&grown)
	return grown[segIdx]
}

func (b *BitSet) segment(i uint64) *bitSegment {
	segments := *b.segments.Load()
	segIdx := int(i >> segmentBits)
	if segIdx >= len(segments) {
		return nil
	}
	return segments[segIdx]
}

// TestAndSet sets bit i and reports whether it was already set.
func (b *BitSet) TestAndSet(i uint64) bool {
	seg := b.segment(i)
	if seg == nil {
		seg = b.grow(i)
	}
	off := i & segmentMask
	mask := uint64(1) << (off % 64)
	old := seg[off/64].Or(mask)
	return old&mask != 0
}

// Set sets bit i.
func (b *BitSet) Set(i uint64) {
	b.TestAndSet(i)
}

// Test reports whether bit i is set.
func (b *BitSet) Test(i uint64) bool {
	seg := b.segment(i)
	if seg == nil {
		return false
	}
	off := i & segmentMask
	return seg[off/64].Load()&(uint64(1)<<(off%64)) != 0
}

// Count returns the number of set bits.
func (b *BitSet) Count() int {
	count := 0
	for _, seg := range *b.segments.Load() {
		for w := range seg {
			if v := seg[w].Load(); v != 0 {
				count += bits.OnesCount64(v)
			}
		}
	}
	return count
}
