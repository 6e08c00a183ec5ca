package entity

import (
	"bytes"
	"cmp"
	"fmt"
	"iter"
	"slices"
	"sort"
	"sync"

	"github.com/hupe1980/contents/internal/codec"
	"github.com/hupe1980/contents/internal/hash"
)

// Static is the immutable entity table of a committed segment. Records alias
// the buffer it was loaded from.
type Static struct {
	maxIndex uint32
	records  []record
	byIndex  []uint32 // index -> position+1 when dense
	sparse   []uint32 // positions sorted by index otherwise
	table    []uint32 // open addressing over ids, position+1
	mask     int

	sortOnce sync.Once
	sorted   []uint32
}

// LoadStatic parses and validates an entity stream. Any inconsistency fails
// the whole load with ErrCorrupt.
func LoadStatic(buf []byte) (*Static, error) {
	d := codec.NewDecoder(buf)
	maxIndex := d.Uint32()
	count := d.Int()
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrCorrupt, err)
	}
	if maxIndex == NotFound || uint64(count) > uint64(maxIndex) {
		return nil, fmt.Errorf("%w: %d records for max index %d", ErrCorrupt, count, maxIndex)
	}
	// Each record takes at least four bytes.
	if count > d.Len()/4 {
		return nil, fmt.Errorf("%w: %d records in %d bytes", ErrCorrupt, count, d.Len())
	}

	s := &Static{
		maxIndex: maxIndex,
		records:  make([]record, count),
	}
	dense := uint64(maxIndex) <= 8*uint64(count)+1024
	if dense {
		s.byIndex = make([]uint32, int(maxIndex)+1)
	}

	size := 1
	for size < 2*count {
		size <<= 1
	}
	s.table = make([]uint32, size)
	s.mask = size - 1

	for pos := range s.records {
		r := &s.records[pos]
		r.index = d.Uint32()
		r.version = d.Uint32()
		r.id = d.Bytes()
		r.extras = d.Bytes()
		if err := d.Err(); err != nil {
			return nil, fmt.Errorf("%w: record %d: %v", ErrCorrupt, pos, err)
		}
		if r.index == Invalid || r.index > maxIndex {
			return nil, fmt.Errorf("%w: record %d has index %d outside [1,%d]", ErrCorrupt, pos, r.index, maxIndex)
		}
		if dense {
			if s.byIndex[r.index] != 0 {
				return nil, fmt.Errorf("%w: index %d used twice", ErrCorrupt, r.index)
			}
			s.byIndex[r.index] = uint32(pos) + 1 //nolint:gosec // pos < count
		}
		if !s.insert(uint32(pos)) { //nolint:gosec // pos < count
			return nil, fmt.Errorf("%w: id %q used twice", ErrCorrupt, r.id)
		}
	}
	if d.Len() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, d.Len())
	}

	if !dense {
		s.sparse = make([]uint32, count)
		for i := range s.sparse {
			s.sparse[i] = uint32(i) //nolint:gosec // i < count
		}
		slices.SortFunc(s.sparse, func(a, b uint32) int {
			return cmp.Compare(s.records[a].index, s.records[b].index)
		})
		for i := 1; i < len(s.sparse); i++ {
			if s.records[s.sparse[i]].index == s.records[s.sparse[i-1]].index {
				return nil, fmt.Errorf("%w: index %d used twice", ErrCorrupt, s.records[s.sparse[i]].index)
			}
		}
	}
	return s, nil
}

func (s *Static) insert(pos uint32) bool {
	id := s.records[pos].id
	for i := hash.Bucket(id, len(s.table)); ; i = (i + 1) & s.mask {
		p := s.table[i]
		if p == 0 {
			s.table[i] = pos + 1
			return true
		}
		if bytes.Equal(s.records[p-1].id, id) {
			return false
		}
	}
}

// Get returns the record for id, or nil.
func (s *Static) Get(id []byte) Entity {
	if len(s.records) == 0 {
		return nil
	}
	for i := hash.Bucket(id, len(s.table)); ; i = (i + 1) & s.mask {
		p := s.table[i]
		if p == 0 {
			return nil
		}
		if r := &s.records[p-1]; bytes.Equal(r.id, id) {
			return r
		}
	}
}

// GetByIndex returns the record at index, or nil.
func (s *Static) GetByIndex(index uint32) Entity {
	if index == Invalid || index > s.maxIndex {
		return nil
	}
	if s.byIndex != nil {
		if p := s.byIndex[index]; p != 0 {
			return &s.records[p-1]
		}
		return nil
	}
	i := sort.Search(len(s.sparse), func(i int) bool {
		return s.records[s.sparse[i]].index >= index
	})
	if i < len(s.sparse) && s.records[s.sparse[i]].index == index {
		return &s.records[s.sparse[i]]
	}
	return nil
}

// MaxIndex returns the highest index of the committed segment.
func (s *Static) MaxIndex() uint32 { return s.maxIndex }

// Len returns the number of records.
func (s *Static) Len() int { return len(s.records) }

func (s *Static) sortIndex() []uint32 {
	s.sortOnce.Do(func() {
		order := make([]uint32, len(s.records))
		for i := range order {
			order[i] = uint32(i) //nolint:gosec // bounded by record count
		}
		slices.SortFunc(order, func(a, b uint32) int {
			return bytes.Compare(s.records[a].id, s.records[b].id)
		})
		s.sorted = order
	})
	return s.sorted
}

// From iterates records in id order starting at the first id >= from.
func (s *Static) From(from []byte) iter.Seq[Entity] {
	return func(yield func(Entity) bool) {
		order := s.sortIndex()
		start := sort.Search(len(order), func(i int) bool {
			return bytes.Compare(s.records[order[i]].id, from) >= 0
		})
		for _, pos := range order[start:] {
			if !yield(&s.records[pos]) {
				return
			}
		}
	}
}
