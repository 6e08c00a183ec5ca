package static

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/patch"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/storage"
)

// Index is the static segment.
type Index struct {
	serialized storage.Serialized
	entities   *entity.Static
	radix      *postings.Radix
	patches    *patch.Table

	// gen counts overlay mutations; saved is the generation last persisted.
	gen    atomic.Uint64
	saved  atomic.Uint64
	saveMu sync.Mutex

	closed atomic.Bool
}

var _ segment.Index = (*Index)(nil)

// Open builds an index over s. patches may be nil for an empty overlay; a
// non-nil table is adopted, so writes made to it before Open stay visible.
func Open(s storage.Serialized, patches *patch.Table) (*Index, error) {
	ents, err := entity.LoadStatic(s.Entities())
	if err != nil {
		return nil, segment.Translate(fmt.Errorf("static %s: %w", s.Name(), err))
	}
	radix, err := postings.OpenRadix(s.Contents(), s.Chains())
	if err != nil {
		return nil, segment.Translate(fmt.Errorf("static %s: %w", s.Name(), err))
	}
	if patches == nil {
		patches = patch.New()
	}

	idx := &Index{
		serialized: s,
		entities:   ents,
		radix:      radix,
		patches:    patches,
	}
	if patches.Len() > 0 {
		idx.gen.Store(1)
	}
	return idx, nil
}

// Load opens s together with the patch overlay persisted for it.
func Load(ctx context.Context, s storage.Serialized) (*Index, error) {
	data, err := s.Patches(ctx)
	if err != nil {
		return nil, segment.Translate(fmt.Errorf("static %s: %w", s.Name(), err))
	}
	patches := patch.New()
	if len(data) > 0 {
		if _, err := patches.ReadFrom(bytes.NewReader(data)); err != nil {
			return nil, segment.Translate(fmt.Errorf("static %s: %w", s.Name(), err))
		}
	}
	idx, err := Open(s, patches)
	if err != nil {
		return nil, err
	}
	// The overlay on storage is current.
	idx.saved.Store(idx.gen.Load())
	return idx, nil
}

// Name returns the container name.
func (idx *Index) Name() string { return idx.serialized.Name() }

// Serialized returns the container the index reads from.
func (idx *Index) Serialized() storage.Serialized { return idx.serialized }

// Patches returns the overlay.
func (idx *Index) Patches() *patch.Table { return idx.patches }

func (idx *Index) deleted(index uint32) bool {
	return idx.patches.IsDeleted(patch.ByIndex(index))
}

// resolve applies the overlay to e.
func (idx *Index) resolve(e entity.Entity) entity.Entity {
	if e == nil {
		return nil
	}
	rec := idx.patches.Search(patch.ByIndex(e.Index()))
	switch {
	case rec == nil:
		return e
	case rec.Deleted():
		return nil
	default:
		return entity.WithExtras(e, rec.Extras())
	}
}

// SetEntity always fails: static segments accept no inserts.
func (idx *Index) SetEntity([]byte, []byte, segment.Contents) (entity.Entity, error) {
	return nil, segment.ErrReadOnly
}

// DelEntity records a tombstone for id in the overlay.
func (idx *Index) DelEntity(id []byte) (bool, error) {
	if idx.closed.Load() {
		return false, segment.ErrClosed
	}
	e := idx.entities.Get(id)
	if e == nil {
		return false, nil
	}
	return idx.DelIndex(e.Index()), nil
}

// DelIndex records a tombstone for index. It reports false if index is
// unknown or already deleted.
func (idx *Index) DelIndex(index uint32) bool {
	if idx.entities.GetByIndex(index) == nil {
		return false
	}
	if !idx.patches.Delete(patch.ByIndex(index)) {
		return false
	}
	idx.gen.Add(1)
	return true
}

// SetExtras records new extras for id in the overlay.
func (idx *Index) SetExtras(id, extras []byte) (bool, error) {
	if idx.closed.Load() {
		return false, segment.ErrClosed
	}
	e := idx.entities.Get(id)
	if e == nil {
		return false, nil
	}
	return idx.UpdateIndex(e.Index(), extras)
}

// UpdateIndex records new extras for index. It reports false if index is
// unknown or deleted.
func (idx *Index) UpdateIndex(index uint32, extras []byte) (bool, error) {
	if idx.entities.GetByIndex(index) == nil {
		return false, nil
	}
	if _, err := idx.patches.Update(patch.ByIndex(index), extras); err != nil {
		if errors.Is(err, patch.ErrDeleted) {
			return false, nil
		}
		return false, err
	}
	idx.gen.Add(1)
	return true, nil
}

func (idx *Index) GetEntity(id []byte) (entity.Entity, error) {
	if idx.closed.Load() {
		return nil, segment.ErrClosed
	}
	return idx.resolve(idx.entities.Get(id)), nil
}

func (idx *Index) GetEntityByIndex(index uint32) (entity.Entity, error) {
	if idx.closed.Load() {
		return nil, segment.ErrClosed
	}
	return idx.resolve(idx.entities.GetByIndex(index)), nil
}

func (idx *Index) GetMaxIndex() uint32 {
	return idx.entities.MaxIndex()
}

// IsDeleted reports whether index is absent or tombstoned.
func (idx *Index) IsDeleted(index uint32) bool {
	return idx.entities.GetByIndex(index) == nil || idx.deleted(index)
}

// GetKeyBlock returns a cursor over key, skipping tombstoned entities.
func (idx *Index) GetKeyBlock(key []byte) (postings.Cursor, error) {
	if idx.closed.Load() {
		return nil, segment.ErrClosed
	}
	c := idx.radix.Cursor(key)
	if c == nil {
		return nil, nil
	}
	if idx.patches.Deletes() == 0 {
		return c, nil
	}
	return postings.Filter(c, idx.deleted), nil
}

// GetKeyStats returns the committed block type and entry count of key.
func (idx *Index) GetKeyStats(key []byte) (postings.Stats, error) {
	if idx.closed.Load() {
		return postings.Stats{}, segment.ErrClosed
	}
	st, _ := idx.radix.Stats(key)
	return st, nil
}

func (idx *Index) Entities(from []byte) iter.Seq2[entity.Entity, error] {
	return func(yield func(entity.Entity, error) bool) {
		if idx.closed.Load() {
			yield(nil, segment.ErrClosed)
			return
		}
		for e := range idx.entities.From(from) {
			if e = idx.resolve(e); e == nil {
				continue
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

func (idx *Index) Keys(from []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		if idx.closed.Load() {
			yield(nil, segment.ErrClosed)
			return
		}
		for k := range idx.radix.Entries(from) {
			if !yield(k, nil) {
				return
			}
		}
	}
}

// Record returns the committed lookup record of key.
func (idx *Index) Record(key []byte) (postings.Record, bool) {
	return idx.radix.Get(key)
}

// Block returns a cursor over the committed block located by rec, ignoring
// the overlay.
func (idx *Index) Block(rec postings.Record) postings.Cursor {
	return idx.radix.Block(rec)
}

func (idx *Index) Stats() segment.Stats {
	return segment.Stats{
		Entities: idx.entities.Len() - idx.patches.Deletes(),
		MaxIndex: idx.entities.MaxIndex(),
		Keys:     idx.radix.Len(),
		Patches:  idx.patches.Len(),
		Static:   true,
	}
}

// SavePatches persists the overlay if it changed since the last save.
func (idx *Index) SavePatches(ctx context.Context) error {
	idx.saveMu.Lock()
	defer idx.saveMu.Unlock()

	gen := idx.gen.Load()
	if gen == idx.saved.Load() {
		return nil
	}
	w, err := idx.serialized.NewPatch(ctx)
	if err != nil {
		return fmt.Errorf("static %s: %w", idx.Name(), err)
	}
	if _, err := idx.patches.WriteTo(w); err != nil {
		_ = w.Close()
		return fmt.Errorf("static %s: write patches: %w", idx.Name(), err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("static %s: save patches: %w", idx.Name(), err)
	}
	idx.saved.Store(gen)
	return nil
}

// Close releases the container.
// Mapped reports whether records and postings alias a mapped container.
func (idx *Index) Mapped() bool {
	m, ok := idx.serialized.(interface{ Mapped() bool })
	return ok && m.Mapped()
}

func (idx *Index) Close() error {
	if idx.closed.Swap(true) {
		return nil
	}
	return idx.serialized.Close()
}
