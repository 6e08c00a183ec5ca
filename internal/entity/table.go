package entity

import (
	"bytes"
	"io"
	"math"
	"math/bits"
	"runtime"
	"slices"
	"sync/atomic"

	"github.com/hupe1980/contents/internal/arena"
	"github.com/hupe1980/contents/internal/bitset"
	"github.com/hupe1980/contents/internal/container"
	"github.com/hupe1980/contents/internal/hash"
)

const (
	minBuckets = 64
	maxBuckets = 1 << 20
)

type slot struct {
	rec  atomic.Pointer[record]
	next atomic.Uint32 // next index in the same bucket, 0 ends the chain
}

// Table is the mutable entity table of a dynamic segment.
//
// Slots are allocated by advancing a single counter with compare-and-swap,
// so indices are dense, 1-based and never reused. Id lookup walks a chain of
// slots hanging off a hash bucket. A bucket word holds the chain head
// shifted left by one; the low bit is a lock taken only by writers that
// relink the chain. Readers ignore the bit and never block.
type Table struct {
	capacity uint32
	next     atomic.Uint32
	live     atomic.Int64
	slots    *container.SegmentedArray[slot]
	buckets  []atomic.Uint64
	deleted  *bitset.BitSet
	arena    *arena.Arena
}

// Option configures a Table.
type Option func(*Table)

// WithArena copies ids and extras into a instead of the Go heap.
func WithArena(a *arena.Arena) Option {
	return func(t *Table) {
		t.arena = a
	}
}

// NewTable creates a table holding at most capacity entities over its
// lifetime. capacity <= 0 means no limit other than the index space.
func NewTable(capacity int, opts ...Option) *Table {
	limit := uint32(math.MaxUint32 - 1)
	if capacity > 0 && uint64(capacity) < uint64(limit) {
		limit = uint32(capacity) //nolint:gosec // checked above
	}

	n := 4096
	if capacity > 0 {
		n = 1 << bits.Len(uint(capacity/2)) //nolint:gosec // positive
	}
	n = min(max(n, minBuckets), maxBuckets)

	t := &Table{
		capacity: limit,
		slots:    container.NewSegmentedArray[slot](),
		buckets:  make([]atomic.Uint64, n),
		deleted:  bitset.New(0),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Table) bucket(id []byte) *atomic.Uint64 {
	return &t.buckets[hash.Bucket(id, len(t.buckets))]
}

func lock(b *atomic.Uint64) uint32 {
	for {
		h := b.Load()
		if h&1 == 0 && b.CompareAndSwap(h, h|1) {
			return uint32(h >> 1)
		}
		runtime.Gosched()
	}
}

func unlock(b *atomic.Uint64, head uint32) {
	b.Store(uint64(head) << 1)
}

// find walks a bucket chain starting at head.
func (t *Table) find(head uint32, id []byte) *record {
	for i := head; i != 0; {
		s := t.slots.Load(i)
		if r := s.rec.Load(); r != nil && !t.deleted.Test(uint64(i)) && bytes.Equal(r.id, id) {
			return r
		}
		i = s.next.Load()
	}
	return nil
}

// unlink removes index from the chain starting at head and returns the new
// head. The bucket must be locked.
func (t *Table) unlink(head, index uint32) uint32 {
	target := t.slots.Load(index)
	if head == index {
		return target.next.Load()
	}
	for i := head; i != 0; {
		s := t.slots.Load(i)
		n := s.next.Load()
		if n == index {
			s.next.Store(target.next.Load())
			break
		}
		i = n
	}
	return head
}

func (t *Table) copyBytes(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if t.arena == nil {
		return slices.Clone(b), nil
	}
	ref, err := t.arena.Copy(b)
	if err != nil {
		return nil, err
	}
	return t.arena.Bytes(ref, len(b)), nil
}

// Reserve fails with ErrCapacity if no slot is left.
func (t *Table) Reserve() error {
	if t.next.Load() >= t.capacity {
		return ErrCapacity
	}
	return nil
}

func (t *Table) allocate() (uint32, error) {
	for {
		n := t.next.Load()
		if n >= t.capacity {
			return 0, ErrCapacity
		}
		if t.next.CompareAndSwap(n, n+1) {
			return n + 1, nil
		}
	}
}

// Set inserts id or replaces its live record. A replaced record is
// tombstoned and its index returned as replaced. The new version is one
// past the replaced one and at least minVersion.
func (t *Table) Set(id, extras []byte, minVersion uint32) (e Entity, replaced uint32, err error) {
	p, err := t.Stage(id, extras, minVersion)
	if err != nil {
		return nil, 0, err
	}
	e, replaced = p.Publish()
	return e, replaced, nil
}

// Pending is a slot allocated by Stage that is not yet visible. Its index
// reports as deleted until Publish, so postings inserted for it stay hidden.
type Pending struct {
	t          *Table
	rec        *record
	minVersion uint32
	done       bool
}

// Stage copies id and extras and allocates a slot without touching the
// live record for id. The caller must Publish or Abort the result.
func (t *Table) Stage(id, extras []byte, minVersion uint32) (*Pending, error) {
	idCopy, err := t.copyBytes(id)
	if err != nil {
		return nil, err
	}
	extrasCopy, err := t.copyBytes(extras)
	if err != nil {
		return nil, err
	}
	index, err := t.allocate()
	if err != nil {
		return nil, err
	}
	t.slots.At(index)
	return &Pending{
		t:          t,
		rec:        &record{id: idCopy, index: index, extras: extrasCopy},
		minVersion: max(minVersion, 1),
	}, nil
}

// Index returns the staged slot index.
func (p *Pending) Index() uint32 {
	return p.rec.index
}

// Publish links the staged record and tombstones the record it replaces.
func (p *Pending) Publish() (e Entity, replaced uint32) {
	if p.done {
		panic("entity: pending slot already settled")
	}
	p.done = true

	t, rec := p.t, p.rec
	b := t.bucket(rec.id)
	head := lock(b)

	rec.version = p.minVersion
	old := t.find(head, rec.id)
	if old != nil {
		rec.version = max(rec.version, old.version+1)
	}

	s := t.slots.At(rec.index)
	s.next.Store(head)
	s.rec.Store(rec)
	// Publish the new head while still locked, then retire the old record,
	// so readers always find one of the two.
	b.Store(uint64(rec.index)<<1 | 1)
	head = rec.index
	if old != nil {
		t.deleted.Set(uint64(old.index))
		head = t.unlink(head, old.index)
		replaced = old.index
	} else {
		t.live.Add(1)
	}
	unlock(b, head)
	return rec, replaced
}

// Abort tombstones the staged slot. The record for id is left as it was.
func (p *Pending) Abort() {
	if p.done {
		return
	}
	p.done = true
	p.t.deleted.Set(uint64(p.rec.index))
}

// Del tombstones the live record for id and returns its index.
func (t *Table) Del(id []byte) (uint32, bool) {
	b := t.bucket(id)
	head := lock(b)

	r := t.find(head, id)
	if r == nil || t.deleted.TestAndSet(uint64(r.index)) {
		unlock(b, head)
		return 0, false
	}
	head = t.unlink(head, r.index)
	unlock(b, head)
	t.live.Add(-1)
	return r.index, true
}

// DelIndex tombstones the record at index. A newer record for the same id
// is left alone.
func (t *Table) DelIndex(index uint32) bool {
	r := t.record(index)
	if r == nil {
		return false
	}
	b := t.bucket(r.id)
	head := lock(b)
	if t.deleted.TestAndSet(uint64(index)) {
		unlock(b, head)
		return false
	}
	head = t.unlink(head, index)
	unlock(b, head)
	t.live.Add(-1)
	return true
}

// SetExtras replaces the extras of the live record for id, keeping its
// index and version.
func (t *Table) SetExtras(id, extras []byte) (Entity, error) {
	extrasCopy, err := t.copyBytes(extras)
	if err != nil {
		return nil, err
	}

	b := t.bucket(id)
	head := lock(b)
	defer unlock(b, head)

	r := t.find(head, id)
	if r == nil {
		return nil, nil
	}
	updated := &record{id: r.id, index: r.index, version: r.version, extras: extrasCopy}
	t.slots.Load(r.index).rec.Store(updated)
	return updated, nil
}

// Get returns the live record for id, or nil.
func (t *Table) Get(id []byte) Entity {
	head := uint32(t.bucket(id).Load() >> 1)
	if r := t.find(head, id); r != nil {
		return r
	}
	return nil
}

func (t *Table) record(index uint32) *record {
	if index == Invalid || index > t.next.Load() || t.deleted.Test(uint64(index)) {
		return nil
	}
	s := t.slots.Load(index)
	if s == nil {
		return nil
	}
	return s.rec.Load()
}

// GetByIndex returns the live record at index, or nil.
func (t *Table) GetByIndex(index uint32) Entity {
	if r := t.record(index); r != nil {
		return r
	}
	return nil
}

// IsDeleted reports whether index has been tombstoned. A staged slot
// counts as deleted until it is published.
func (t *Table) IsDeleted(index uint32) bool {
	if t.deleted.Test(uint64(index)) {
		return true
	}
	if index == Invalid || index > t.next.Load() {
		return false
	}
	s := t.slots.Load(index)
	return s == nil || s.rec.Load() == nil
}

// MaxIndex returns the number of slots ever allocated.
func (t *Table) MaxIndex() uint32 {
	return t.next.Load()
}

// Len returns the number of live records.
func (t *Table) Len() int {
	return int(t.live.Load())
}

// Capacity returns the slot limit.
func (t *Table) Capacity() uint32 {
	return t.capacity
}

// All returns the live records sorted by id.
func (t *Table) All() []Entity {
	n := t.next.Load()
	out := make([]Entity, 0, t.Len())
	for i := uint32(1); i <= n; i++ {
		if r := t.record(i); r != nil {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b Entity) int {
		return bytes.Compare(a.ID(), b.ID())
	})
	return out
}

// WriteTo serializes the live records in id order.
func (t *Table) WriteTo(w io.Writer) (int64, error) {
	return WriteStream(w, t.MaxIndex(), t.All())
}
