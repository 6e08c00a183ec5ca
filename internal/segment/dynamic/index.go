package dynamic

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/contents/internal/arena"
	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/resource"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/storage"
)

var errAllocCeiling = errors.New("dynamic: allocation ceiling reached")

// Index is the dynamic segment.
type Index struct {
	opts  options
	arena *arena.Arena
	table *entity.Table
	store *postings.Store

	// Mutations hold mu shared; Freeze and Close take it exclusively, so
	// they return only after in-flight mutations have finished.
	mu     sync.RWMutex
	frozen atomic.Bool
	closed atomic.Bool
}

var _ segment.Index = (*Index)(nil)

// New creates an empty index. WithCapacity(0) removes the entity limit.
func New(opts ...Option) (*Index, error) {
	o := options{
		capacity: DefaultCapacity,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}

	var aopts []arena.Option
	if o.rc != nil {
		aopts = append(aopts, arena.WithMemoryAcquirer(o.rc))
	}
	a, err := arena.New(o.chunkSize, aopts...)
	if err != nil {
		return nil, &segment.OverflowError{Kind: segment.AllocOverflow, Limit: memoryLimit(o.rc), Err: err}
	}

	sopts := []postings.StoreOption{postings.WithStoreArena(a)}
	if o.keyBuckets > 0 {
		sopts = append(sopts, postings.WithKeyBuckets(o.keyBuckets))
	}

	return &Index{
		opts:  o,
		arena: a,
		table: entity.NewTable(o.capacity, entity.WithArena(a)),
		store: postings.NewStore(sopts...),
	}, nil
}

func memoryLimit(rc *resource.Controller) uint64 {
	if rc == nil {
		return 0
	}
	return uint64(max(rc.MemoryLimit(), 0)) //nolint:gosec // clamped
}

// Name returns the name set with WithName.
func (idx *Index) Name() string { return idx.opts.name }

func (idx *Index) overflow(err error) error {
	var oe *segment.OverflowError
	switch {
	case errors.Is(err, entity.ErrCapacity):
		oe = &segment.OverflowError{Kind: segment.CountOverflow, Limit: uint64(idx.table.Capacity()), Err: err}
	case errors.Is(err, errAllocCeiling):
		oe = &segment.OverflowError{Kind: segment.AllocOverflow, Limit: idx.opts.maxAlloc, Err: err}
	case errors.Is(err, resource.ErrMemoryLimitExceeded), errors.Is(err, arena.ErrMaxChunksExceeded):
		oe = &segment.OverflowError{Kind: segment.AllocOverflow, Limit: memoryLimit(idx.opts.rc), Err: err}
	default:
		return segment.Translate(err)
	}
	idx.opts.logger.Debug("segment overflow",
		"segment", idx.opts.name,
		"kind", oe.Kind.String(),
		"entities", idx.table.Len(),
		"arena_bytes", idx.arena.Used(),
	)
	return oe
}

func (idx *Index) writable() error {
	if idx.closed.Load() {
		return segment.ErrClosed
	}
	if idx.frozen.Load() {
		return segment.ErrReadOnly
	}
	return nil
}

// SetEntity inserts or replaces id together with the postings produced by c.
func (idx *Index) SetEntity(id, extras []byte, c segment.Contents) (entity.Entity, error) {
	return idx.SetEntityVersion(id, extras, c, 0)
}

// SetEntityVersion is SetEntity with a lower bound for the assigned version.
// The engine passes the version of the record being replaced in an older
// segment so versions keep increasing across segments.
func (idx *Index) SetEntityVersion(id, extras []byte, c segment.Contents, minVersion uint32) (entity.Entity, error) {
	if len(id) == 0 {
		return nil, fmt.Errorf("%w: empty entity id", segment.ErrInvalidArgument)
	}

	var b batch
	if c != nil {
		if err := c.Enumerate(&b); err != nil {
			return nil, segment.Translate(err)
		}
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.writable(); err != nil {
		return nil, err
	}
	if err := idx.table.Reserve(); err != nil {
		return nil, idx.overflow(err)
	}
	// An empty segment accepts any entity, otherwise rotation could not help.
	need := uint64(b.bytes + len(id) + len(extras)) //nolint:gosec // non-negative
	if idx.opts.maxAlloc > 0 && idx.table.MaxIndex() > 0 && idx.arena.Used()+need > idx.opts.maxAlloc {
		return nil, idx.overflow(errAllocCeiling)
	}
	if err := b.check(idx.store); err != nil {
		return nil, err
	}

	pending, err := idx.table.Stage(id, extras, minVersion)
	if err != nil {
		return nil, idx.overflow(err)
	}
	for _, p := range b.pairs {
		if err := idx.store.Insert(p.key, pending.Index(), p.detail, p.bt); err != nil {
			// Keys inserted so far stay in their chains, hidden by the tombstone.
			pending.Abort()
			return nil, idx.overflow(err)
		}
	}
	e, replaced := pending.Publish()
	if replaced != entity.Invalid {
		idx.opts.logger.Debug("entity replaced",
			"segment", idx.opts.name,
			"index", e.Index(),
			"replaced", replaced,
			"version", e.Version(),
		)
	}
	return e, nil
}

// DelEntity tombstones id. It reports false if id is not live.
func (idx *Index) DelEntity(id []byte) (bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.writable(); err != nil {
		return false, err
	}
	_, ok := idx.table.Del(id)
	return ok, nil
}

// SetExtras replaces the extras of id in place.
func (idx *Index) SetExtras(id, extras []byte) (bool, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := idx.writable(); err != nil {
		return false, err
	}
	e, err := idx.table.SetExtras(id, extras)
	if err != nil {
		return false, idx.overflow(err)
	}
	return e != nil, nil
}

func (idx *Index) GetEntity(id []byte) (entity.Entity, error) {
	if idx.closed.Load() {
		return nil, segment.ErrClosed
	}
	return idx.table.Get(id), nil
}

func (idx *Index) GetEntityByIndex(index uint32) (entity.Entity, error) {
	if idx.closed.Load() {
		return nil, segment.ErrClosed
	}
	return idx.table.GetByIndex(index), nil
}

// GetMaxIndex returns the number of slots ever allocated.
func (idx *Index) GetMaxIndex() uint32 {
	return idx.table.MaxIndex()
}

// IsDeleted reports whether index is tombstoned.
func (idx *Index) IsDeleted(index uint32) bool {
	return idx.table.IsDeleted(index)
}

// GetKeyBlock returns a cursor over the live entries of key.
func (idx *Index) GetKeyBlock(key []byte) (postings.Cursor, error) {
	if idx.closed.Load() {
		return nil, segment.ErrClosed
	}
	c := idx.store.Lookup(key)
	if c == nil {
		return nil, nil
	}
	return postings.Filter(c.Cursor(), idx.table.IsDeleted), nil
}

// GetKeyStats returns the block type and the number of entries ever
// inserted under key. Deletions do not lower the count.
func (idx *Index) GetKeyStats(key []byte) (postings.Stats, error) {
	if idx.closed.Load() {
		return postings.Stats{}, segment.ErrClosed
	}
	st, _ := idx.store.Stats(key)
	return st, nil
}

func (idx *Index) Entities(from []byte) iter.Seq2[entity.Entity, error] {
	return func(yield func(entity.Entity, error) bool) {
		if idx.closed.Load() {
			yield(nil, segment.ErrClosed)
			return
		}
		all := idx.table.All()
		i, _ := slices.BinarySearchFunc(all, from, func(e entity.Entity, target []byte) int {
			return bytes.Compare(e.ID(), target)
		})
		for _, e := range all[i:] {
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
		keys := idx.store.Keys()
		i, _ := slices.BinarySearchFunc(keys, from, bytes.Compare)
		for _, k := range keys[i:] {
			if !yield(k, nil) {
				return
			}
		}
	}
}

func (idx *Index) Stats() segment.Stats {
	return segment.Stats{
		Entities:   idx.table.Len(),
		MaxIndex:   idx.table.MaxIndex(),
		Keys:       idx.store.Len(),
		ArenaBytes: idx.arena.Used(),
	}
}

// Arena returns the arena counters.
func (idx *Index) Arena() arena.Stats {
	return idx.arena.Stats()
}

// Freeze makes the index read-only. It waits for in-flight mutations.
func (idx *Index) Freeze() {
	idx.mu.Lock()
	idx.frozen.Store(true)
	idx.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (idx *Index) Frozen() bool {
	return idx.frozen.Load()
}

// Serialize freezes the index and writes its three streams into sink.
// Tombstoned entities and their postings are left out.
func (idx *Index) Serialize(sink storage.Sink) error {
	idx.Freeze()
	if idx.closed.Load() {
		return segment.ErrClosed
	}

	if _, err := idx.table.WriteTo(sink.Entities()); err != nil {
		return fmt.Errorf("dynamic: write entities: %w", err)
	}
	w := postings.NewWriter(sink.Chains())
	if err := idx.store.Serialize(w, idx.table.IsDeleted); err != nil {
		return fmt.Errorf("dynamic: write chains: %w", err)
	}
	if _, err := w.Finish(sink.Contents()); err != nil {
		return fmt.Errorf("dynamic: write contents: %w", err)
	}
	return nil
}

// Commit serializes the index into sink and commits it.
func (idx *Index) Commit(ctx context.Context, sink storage.Sink) (storage.Serialized, error) {
	if err := idx.Serialize(sink); err != nil {
		return nil, errors.Join(err, sink.Remove(ctx))
	}
	s, err := sink.Commit(ctx)
	if err != nil {
		return nil, err
	}
	idx.opts.logger.Debug("segment serialized",
		"segment", idx.opts.name,
		"entities", idx.table.Len(),
		"keys", idx.store.Len(),
		"bytes", s.Size(),
	)
	return s, nil
}

// Close releases the arena. Slices handed out earlier stay readable.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.closed.Swap(true) {
		return nil
	}
	idx.arena.Free()
	return nil
}
