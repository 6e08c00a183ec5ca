package engine

import (
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
)

// shadow records the local indices of a segment that are hidden because the
// entity was deleted or replaced through the layers.
type shadow struct {
	mu sync.RWMutex
	bm *roaring.Bitmap
}

func newShadow() *shadow {
	return &shadow{bm: roaring.New()}
}

func (s *shadow) Add(index uint32) {
	s.mu.Lock()
	s.bm.Add(index)
	s.mu.Unlock()
}

func (s *shadow) Contains(index uint32) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bm.Contains(index)
}

func (s *shadow) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int(s.bm.GetCardinality()) //nolint:gosec // bounded by uint32 index space
}

// Clone returns a snapshot of the bitmap.
func (s *shadow) Clone() *roaring.Bitmap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bm.Clone()
}

// Since returns the indices added after snapshot was taken.
func (s *shadow) Since(snapshot *roaring.Bitmap) *roaring.Bitmap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return roaring.AndNot(s.bm, snapshot)
}
