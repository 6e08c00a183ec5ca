// Package patch implements the overlay that lets committed segments absorb
// deletes and metadata updates without rewriting their immutable data.
//
// Records are addressed by a Key, which is either an entity id or an entity
// index. A Delete replaces any Update for its key and is final: later
// Updates fail with ErrDeleted.
package patch

import (
	"bufio"
	"bytes"
	"cmp"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/contents/internal/codec"
)

var (
	// ErrDeleted is returned by Update for a key that has been deleted.
	ErrDeleted = errors.New("patch: entity deleted")
	// ErrCorrupt is returned by ReadFrom for malformed input.
	ErrCorrupt = errors.New("patch: corrupt patch stream")
)

// Key identifies a patched entity either by id or by index.
type Key struct {
	id      string
	index   uint32
	byIndex bool
}

// ByID returns the key of an entity id.
func ByID(id []byte) Key { return Key{id: string(id)} }

// ByIndex returns the key of an entity index.
func ByIndex(index uint32) Key { return Key{index: index, byIndex: true} }

// IsIndex reports whether k addresses an index.
func (k Key) IsIndex() bool { return k.byIndex }

// ID returns the id of an id key.
func (k Key) ID() []byte { return []byte(k.id) }

// Index returns the index of an index key.
func (k Key) Index() uint32 { return k.index }

func (k Key) String() string {
	if k.byIndex {
		return fmt.Sprintf("#%d", k.index)
	}
	return fmt.Sprintf("%q", k.id)
}

func compareKeys(a, b Key) int {
	if a.byIndex != b.byIndex {
		if a.byIndex {
			return 1
		}
		return -1
	}
	if a.byIndex {
		return cmp.Compare(a.index, b.index)
	}
	return cmp.Compare(a.id, b.id)
}

// Kind distinguishes updates from deletes.
type Kind uint8

const (
	Update Kind = 1
	Delete Kind = 2
)

// Record is an immutable patch entry.
type Record struct {
	kind   Kind
	extras []byte
}

// Kind returns the record kind.
func (r *Record) Kind() Kind { return r.kind }

// Extras returns the replacement extras of an Update.
func (r *Record) Extras() []byte { return r.extras }

// Deleted reports whether r is a tombstone.
func (r *Record) Deleted() bool { return r.kind == Delete }

var tombstone = &Record{kind: Delete}

type slot struct {
	rec atomic.Pointer[Record]
}

// Table is a concurrent patch overlay. Search never blocks; writers publish
// new records with compare-and-swap.
type Table struct {
	slots   sync.Map // Key -> *slot
	n       atomic.Int64
	deletes atomic.Int64
}

// New creates an empty table.
func New() *Table {
	return &Table{}
}

func (t *Table) slot(k Key) *slot {
	if s, ok := t.slots.Load(k); ok {
		return s.(*slot)
	}
	s, loaded := t.slots.LoadOrStore(k, &slot{})
	if !loaded {
		t.n.Add(1)
	}
	return s.(*slot)
}

// Update records new extras for k.
func (t *Table) Update(k Key, extras []byte) (*Record, error) {
	rec := &Record{kind: Update, extras: bytes.Clone(extras)}
	s := t.slot(k)
	for {
		old := s.rec.Load()
		if old != nil && old.kind == Delete {
			return nil, fmt.Errorf("%w: %s", ErrDeleted, k)
		}
		if s.rec.CompareAndSwap(old, rec) {
			return rec, nil
		}
	}
}

// Delete tombstones k. It reports false if k was already deleted.
func (t *Table) Delete(k Key) bool {
	s := t.slot(k)
	for {
		old := s.rec.Load()
		if old != nil && old.kind == Delete {
			return false
		}
		if s.rec.CompareAndSwap(old, tombstone) {
			t.deletes.Add(1)
			return true
		}
	}
}

// Search returns the record of k, or nil.
func (t *Table) Search(k Key) *Record {
	s, ok := t.slots.Load(k)
	if !ok {
		return nil
	}
	return s.(*slot).rec.Load()
}

// IsDeleted reports whether k carries a tombstone.
func (t *Table) IsDeleted(k Key) bool {
	r := t.Search(k)
	return r != nil && r.kind == Delete
}

// Len returns the number of patched keys.
func (t *Table) Len() int {
	return int(t.n.Load())
}

// Deletes returns the number of tombstones.
func (t *Table) Deletes() int {
	return int(t.deletes.Load())
}

// Range calls fn for every record until fn returns false.
func (t *Table) Range(fn func(Key, *Record) bool) {
	t.slots.Range(func(k, v any) bool {
		rec := v.(*slot).rec.Load()
		if rec == nil {
			return true
		}
		return fn(k.(Key), rec)
	})
}

const (
	tagID    = 0
	tagIndex = 1
)

// WriteTo serializes the table in key order:
//
//	[count]{[tag][id or index][kind][extras if update]}
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	type entry struct {
		k Key
		r *Record
	}
	var entries []entry
	t.Range(func(k Key, r *Record) bool {
		entries = append(entries, entry{k, r})
		return true
	})
	slices.SortFunc(entries, func(a, b entry) int { return compareKeys(a.k, b.k) })

	buf := codec.AppendUvarint(nil, uint64(len(entries)))
	for _, e := range entries {
		if e.k.byIndex {
			buf = append(buf, tagIndex)
			buf = codec.AppendUvarint(buf, uint64(e.k.index))
		} else {
			buf = append(buf, tagID)
			buf = codec.AppendBytes(buf, []byte(e.k.id))
		}
		buf = append(buf, byte(e.r.kind))
		if e.r.kind == Update {
			buf = codec.AppendBytes(buf, e.r.extras)
		}
	}
	n, err := w.Write(buf)
	return int64(n), err
}

// ReadFrom loads records written by WriteTo into t. Deletes keep winning
// over updates already present in t.
func (t *Table) ReadFrom(r io.Reader) (int64, error) {
	data, err := io.ReadAll(bufio.NewReader(r))
	if err != nil {
		return int64(len(data)), err
	}
	if len(data) == 0 {
		return 0, nil
	}

	d := codec.NewDecoder(data)
	count := d.Int()
	for i := 0; i < count && d.Err() == nil; i++ {
		var k Key
		tag := d.Next(1)
		if tag == nil {
			break
		}
		switch tag[0] {
		case tagID:
			k = ByID(d.Bytes())
		case tagIndex:
			k = ByIndex(d.Uint32())
		default:
			return int64(d.Pos()), fmt.Errorf("%w: key tag %d", ErrCorrupt, tag[0])
		}
		kind := d.Next(1)
		if kind == nil {
			break
		}
		switch Kind(kind[0]) {
		case Update:
			extras := d.Bytes()
			if d.Err() == nil {
				_, _ = t.Update(k, extras)
			}
		case Delete:
			t.Delete(k)
		default:
			return int64(d.Pos()), fmt.Errorf("%w: kind %d", ErrCorrupt, kind[0])
		}
	}
	if err := d.Err(); err != nil {
		return int64(d.Pos()), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if d.Len() != 0 {
		return int64(d.Pos()), fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, d.Len())
	}
	return int64(len(data)), nil
}
