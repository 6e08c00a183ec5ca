package segment

import (
	"iter"
	"slices"

	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/postings"
)

// Sink receives the postings of one entity.
type Sink interface {
	Insert(key, value []byte, bt postings.BlockType) error
}

// Contents produces the postings of one entity by pushing them into the
// sink supplied by the index.
type Contents interface {
	Enumerate(sink Sink) error
}

// ContentsFunc adapts a function to Contents.
type ContentsFunc func(sink Sink) error

// Enumerate calls f(sink).
func (f ContentsFunc) Enumerate(sink Sink) error { return f(sink) }

// Map is Contents with a fixed set of keys sharing one block type. Keys are
// enumerated in sorted order.
type Map struct {
	Type  postings.BlockType
	Pairs map[string][]byte
}

// Enumerate pushes every pair into sink.
func (m Map) Enumerate(sink Sink) error {
	keys := make([]string, 0, len(m.Pairs))
	for k := range m.Pairs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		if err := sink.Insert([]byte(k), m.Pairs[k], m.Type); err != nil {
			return err
		}
	}
	return nil
}

// Stats describes a segment.
type Stats struct {
	Entities   int    // live entities
	MaxIndex   uint32 // highest allocated index
	Keys       int    // distinct postings keys
	ArenaBytes uint64 // bytes held by a dynamic segment's arena
	Patches    int    // patch overlay records
	Static     bool
}

// Index is one segment. Indices are local to the segment: 1..GetMaxIndex().
//
// Lookups of absent entities return (nil, nil); GetKeyBlock returns a nil
// cursor for an unknown key. Errors are reserved for failures, including
// the stored error of a failed background job.
type Index interface {
	SetEntity(id, extras []byte, c Contents) (entity.Entity, error)
	DelEntity(id []byte) (bool, error)
	SetExtras(id, extras []byte) (bool, error)
	GetEntity(id []byte) (entity.Entity, error)
	GetEntityByIndex(index uint32) (entity.Entity, error)
	GetMaxIndex() uint32
	GetKeyBlock(key []byte) (postings.Cursor, error)
	GetKeyStats(key []byte) (postings.Stats, error)
	// Entities iterates live entities in id order starting at from.
	Entities(from []byte) iter.Seq2[entity.Entity, error]
	// Keys iterates postings keys in byte order starting at from.
	Keys(from []byte) iter.Seq2[[]byte, error]
	Stats() Stats
	Close() error
}
