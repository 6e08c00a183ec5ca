// Package entity implements the entity tables: the mapping between
// caller-supplied entity ids and the dense 32-bit indices that postings
// chains refer to, together with per-entity metadata.
//
// Table is the concurrent, mutable form used by dynamic segments. Static is
// the immutable form parsed from a committed entity stream.
package entity

import (
	"errors"
	"math"
)

const (
	// Invalid is the zero index, never assigned.
	Invalid uint32 = 0
	// NotFound marks a missing or tombstoned entity and terminates cursors.
	NotFound uint32 = math.MaxUint32
)

var (
	// ErrCapacity is returned when a table has no free slot left.
	ErrCapacity = errors.New("entity: table capacity exceeded")
	// ErrCorrupt is returned for entity streams that fail validation.
	ErrCorrupt = errors.New("entity: corrupt entity stream")
)

// Entity is one indexed document as seen by a segment.
type Entity interface {
	ID() []byte
	Index() uint32
	Version() uint32
	Extras() []byte
}

type record struct {
	id      []byte
	index   uint32
	version uint32
	extras  []byte
}

func (r *record) ID() []byte      { return r.id }
func (r *record) Index() uint32   { return r.index }
func (r *record) Version() uint32 { return r.version }
func (r *record) Extras() []byte  { return r.extras }

// Make returns a standalone entity. The slices are not copied.
func Make(id []byte, index, version uint32, extras []byte) Entity {
	return &record{id: id, index: index, version: version, extras: extras}
}

type shifted struct {
	Entity
	offset uint32
}

func (s shifted) Index() uint32 { return s.Entity.Index() + s.offset }

// Shift exposes e with its index moved by offset, translating a
// segment-local index into the global index space.
func Shift(e Entity, offset uint32) Entity {
	if e == nil || offset == 0 {
		return e
	}
	if s, ok := e.(shifted); ok {
		return shifted{Entity: s.Entity, offset: s.offset + offset}
	}
	return shifted{Entity: e, offset: offset}
}

type patched struct {
	Entity
	extras []byte
}

func (p patched) Extras() []byte { return p.extras }

// WithExtras exposes e with replacement extras.
func WithExtras(e Entity, extras []byte) Entity {
	if e == nil {
		return nil
	}
	return patched{Entity: e, extras: extras}
}
