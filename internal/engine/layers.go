package engine

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
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/hash"
	"github.com/hupe1980/contents/internal/manifest"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/resource"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/segment/dynamic"
	"github.com/hupe1980/contents/internal/segment/static"
	"github.com/hupe1980/contents/internal/storage"
)

const idStripes = 64

// layer is one segment of the stack. Its local index i is global index
// base+i; it owns the global range lower..upper.
type layer struct {
	id     uint64
	name   string
	base   uint32
	lower  uint32
	upper  uint32 // inclusive, unused while the layer is open
	index  segment.Index
	dyn    *dynamic.Index // set while the layer is the open tail
	commit *CommitJob     // set until the commit is swapped in
	shadow *shadow

	merging  bool
	reported bool

	// Readers that outlive mu pin the layer. A retired layer is closed
	// once the last pin is dropped.
	pins     atomic.Int64
	retired  atomic.Bool
	released atomic.Bool
}

func segmentName(id uint64) string { return fmt.Sprintf("seg-%06d", id) }

func (ly *layer) open() bool { return ly.dyn != nil }

func (ly *layer) static() *static.Index {
	st, _ := ly.index.(*static.Index)
	return st
}

func (ly *layer) top() uint32 {
	if ly.open() {
		return ly.base + ly.dyn.GetMaxIndex()
	}
	return ly.upper
}

func (ly *layer) state() string {
	switch {
	case ly.open():
		return "open"
	case ly.commit != nil && ly.commit.State() == JobFailed:
		return "failed"
	case ly.commit != nil:
		return "committing"
	case ly.merging:
		return "merging"
	default:
		return "static"
	}
}

func (ly *layer) pin() { ly.pins.Add(1) }

func (ly *layer) unpin(logger *slog.Logger) {
	if ly.pins.Add(-1) == 0 && ly.retired.Load() {
		ly.closeRetired(logger)
	}
}

// retire marks a layer that left the list. It reports whether the layer
// was closed right away.
func (ly *layer) retire(logger *slog.Logger) bool {
	ly.retired.Store(true)
	if ly.pins.Load() > 0 {
		return false
	}
	ly.closeRetired(logger)
	return true
}

func (ly *layer) closeRetired(logger *slog.Logger) {
	if err := ly.release(); err != nil {
		logger.Warn("close retired segment", "segment", ly.name, "error", err)
		return
	}
	logger.Debug("retired segment released", "segment", ly.name)
}

// release closes the index once.
func (ly *layer) release() error {
	if !ly.released.CompareAndSwap(false, true) {
		return nil
	}
	return ly.index.Close()
}

// mapped reports whether records of ly alias a mapped container.
func (ly *layer) mapped() bool {
	st := ly.static()
	return st != nil && st.Mapped()
}

// global maps e into the global index space. Records of a mapped layer
// are copied so they stay valid after the layer is released.
func (ly *layer) global(e entity.Entity) entity.Entity {
	if ly.mapped() {
		e = entity.Make(bytes.Clone(e.ID()), e.Index(), e.Version(), bytes.Clone(e.Extras()))
	}
	return entity.Shift(e, ly.base)
}

// live maps e into the global index space, or returns nil if the record
// is shadowed.
func (ly *layer) live(e entity.Entity) entity.Entity {
	if e == nil || ly.shadow.Contains(e.Index()) {
		return nil
	}
	return ly.global(e)
}

func (ly *layer) keys(from []byte) iter.Seq2[[]byte, error] {
	seq := ly.index.Keys(from)
	if !ly.mapped() {
		return seq
	}
	return func(yield func([]byte, error) bool) {
		for k, err := range seq {
			if !yield(bytes.Clone(k), err) {
				return
			}
		}
	}
}

func (ly *layer) entities(from []byte) iter.Seq2[entity.Entity, error] {
	return func(yield func(entity.Entity, error) bool) {
		for e, err := range ly.index.Entities(from) {
			if err == nil {
				if e = ly.live(e); e == nil {
					continue
				}
			}
			if !yield(e, err) {
				return
			}
		}
	}
}

// Segment describes one layer.
type Segment struct {
	ID       uint64
	Name     string
	Base     uint32
	Lower    uint32
	Upper    uint32
	Entities int
	State    string
}

// Stats summarizes the layers.
type Stats struct {
	Segments       int
	Entities       int
	ArenaBytes     uint64
	PendingCommits int
	PendingMerges  int
}

// Layers stacks segments into one index. The last segment is the open
// dynamic tail; every older segment is committing or static.
type Layers struct {
	logger        *slog.Logger
	storage       storage.Storage
	manifests     *manifest.Store
	maxEntities   int
	maxAlloc      uint64
	chunkSize     int
	mergeInterval time.Duration
	policy        MergePolicy
	rc            *resource.Controller
	metrics       MetricsObserver

	// Readers and single mutations hold mu shared for one operation; the
	// segment list itself only changes under the exclusive lock.
	mu       sync.RWMutex
	layers   []*layer
	retired  []*layer
	obsolete []string
	merge    *mergeRun
	nextID   uint64

	// Per-id locks order replacements of the same entity across layers.
	stripes [idStripes]sync.Mutex

	saveMu   sync.Mutex
	manifest *manifest.Manifest

	events chan job
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	closed atomic.Bool
}

// Open restores the layers recorded by the manifest store, or starts empty.
func Open(ctx context.Context, opts ...Option) (*Layers, error) {
	ls := &Layers{
		logger:        slog.Default(),
		maxEntities:   dynamic.DefaultCapacity,
		mergeInterval: DefaultMergeInterval,
		policy:        DefaultMergePolicy(),
		metrics:       NoopMetricsObserver{},
		events:        make(chan job, 64),
	}
	for _, opt := range opts {
		opt(ls)
	}
	if ls.logger == nil {
		ls.logger = slog.New(slog.DiscardHandler)
	}
	if ls.storage == nil {
		ls.storage = storage.NewMemory()
	}
	if ls.mergeInterval == 0 {
		ls.mergeInterval = DefaultMergeInterval
	}

	m := manifest.New()
	if ls.manifests != nil {
		loaded, err := ls.manifests.Load(ctx)
		switch {
		case err == nil:
			m = loaded
		case errors.Is(err, manifest.ErrNotFound):
		default:
			return nil, fmt.Errorf("load manifest: %w", err)
		}
		if err := ls.collectGarbage(ctx, m); err != nil {
			return nil, err
		}
	}

	layers, err := ls.openSegments(ctx, m.Segments)
	if err != nil {
		return nil, err
	}
	ls.layers = layers
	ls.manifest = m
	ls.nextID = m.NextSegmentID

	var base uint32
	if n := len(layers); n > 0 {
		base = layers[n-1].upper
	}
	tail, err := ls.newTail(base)
	if err != nil {
		for _, ly := range layers {
			_ = ly.index.Close()
		}
		return nil, err
	}
	ls.layers = append(ls.layers, tail)

	ls.ctx, ls.cancel = context.WithCancel(context.WithoutCancel(ctx))
	ls.wg.Add(1)
	go ls.monitor()

	ls.logger.Info("layers opened",
		"segments", len(layers),
		"next_segment_id", ls.nextID,
		"manifest_id", m.ID,
	)
	return ls, nil
}

// collectGarbage removes containers the manifest does not reference. They
// are left behind by commits and merges that never reached a manifest.
func (ls *Layers) collectGarbage(ctx context.Context, m *manifest.Manifest) error {
	names, err := ls.storage.List(ctx)
	if err != nil {
		return fmt.Errorf("list segments: %w", err)
	}
	live := make(map[string]struct{}, len(m.Segments))
	for _, s := range m.Segments {
		live[s.Name] = struct{}{}
	}
	for _, name := range names {
		if _, ok := live[name]; ok {
			continue
		}
		if err := ls.storage.Delete(ctx, name); err != nil {
			return fmt.Errorf("remove orphan segment %s: %w", name, err)
		}
		ls.logger.Info("removed orphan segment", "segment", name)
	}
	return nil
}

func (ls *Layers) openSegments(ctx context.Context, infos []manifest.SegmentInfo) ([]*layer, error) {
	layers := make([]*layer, len(infos))
	g, gctx := errgroup.WithContext(ctx)
	for i, info := range infos {
		g.Go(func() error {
			s, err := ls.storage.Open(gctx, info.Name)
			if err != nil {
				return fmt.Errorf("open segment %s: %w", info.Name, err)
			}
			idx, err := static.Load(gctx, s)
			if err != nil {
				_ = s.Close()
				return fmt.Errorf("open segment %s: %w", info.Name, err)
			}
			layers[i] = &layer{
				id:     info.ID,
				name:   info.Name,
				base:   info.Base,
				lower:  info.Lower,
				upper:  info.Upper,
				index:  idx,
				shadow: newShadow(),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, ly := range layers {
			if ly != nil {
				_ = ly.index.Close()
			}
		}
		return nil, err
	}
	return layers, nil
}

// newTail creates the open segment following global index base. The
// caller holds mu exclusively or has not published the layers yet.
func (ls *Layers) newTail(base uint32) (*layer, error) {
	id := ls.nextID
	name := segmentName(id)
	dyn, err := dynamic.New(ls.dynamicOptions(name)...)
	if err != nil {
		return nil, err
	}
	ls.nextID++
	return &layer{
		id:     id,
		name:   name,
		base:   base,
		lower:  base + 1,
		index:  dyn,
		dyn:    dyn,
		shadow: newShadow(),
	}, nil
}

func (ls *Layers) stripe(id []byte) *sync.Mutex {
	return &ls.stripes[hash.Bytes(id)&(idStripes-1)]
}

// rlock takes mu shared and fails once the layers are closed.
func (ls *Layers) rlock() error {
	ls.mu.RLock()
	if ls.layers == nil {
		ls.mu.RUnlock()
		return ErrClosed
	}
	return nil
}

// find returns the newest live record of id in layers[:end].
func find(layers []*layer, end int, id []byte) (*layer, entity.Entity, error) {
	for i := end - 1; i >= 0; i-- {
		ly := layers[i]
		e, err := ly.index.GetEntity(id)
		if err != nil {
			return nil, nil, err
		}
		if e != nil && !ly.shadow.Contains(e.Index()) {
			return ly, e, nil
		}
	}
	return nil, nil, nil
}

// checkedSink rejects postings whose block type differs from the type the
// key has in an older layer.
type checkedSink struct {
	segment.Sink
	layers []*layer
}

func (s checkedSink) Insert(key, value []byte, bt postings.BlockType) error {
	for _, ly := range s.layers {
		st, err := ly.index.GetKeyStats(key)
		if err != nil {
			return err
		}
		if st.Count > 0 && st.Type != bt {
			return fmt.Errorf("%w: key %q is %s in %s, got %s",
				segment.ErrBlockTypeMismatch, key, st.Type, ly.name, bt)
		}
	}
	return s.Sink.Insert(key, value, bt)
}

// SetEntity inserts or replaces id in the open segment. A record of id in
// an older segment is shadowed and its version is continued. When the
// open segment overflows it is rotated and the insert retried.
func (ls *Layers) SetEntity(id, extras []byte, c segment.Contents) (entity.Entity, error) {
	if ls.closed.Load() {
		return nil, ErrClosed
	}
	if len(id) == 0 {
		return nil, fmt.Errorf("%w: empty entity id", segment.ErrInvalidArgument)
	}

	mu := ls.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	for attempt := 0; ; attempt++ {
		e, tail, err := ls.setEntity(id, extras, c)
		if err == nil {
			return e, nil
		}
		if !errors.Is(err, segment.ErrOverflow) || attempt == maxRotations {
			return nil, err
		}
		progress, rerr := ls.rotate(context.Background(), tail)
		if rerr != nil {
			return nil, rerr
		}
		if !progress {
			// The entity alone exceeds an empty segment.
			return nil, err
		}
	}
}

func (ls *Layers) setEntity(id, extras []byte, c segment.Contents) (entity.Entity, *layer, error) {
	if err := ls.rlock(); err != nil {
		return nil, nil, err
	}
	defer ls.mu.RUnlock()

	n := len(ls.layers)
	tail := ls.layers[n-1]
	old, prev, err := find(ls.layers, n-1, id)
	if err != nil {
		return nil, tail, err
	}
	var minVersion uint32
	if prev != nil {
		minVersion = prev.Version() + 1
	}
	if c != nil && n > 1 {
		inner, older := c, ls.layers[:n-1]
		c = segment.ContentsFunc(func(sink segment.Sink) error {
			return inner.Enumerate(checkedSink{Sink: sink, layers: older})
		})
	}

	e, err := tail.dyn.SetEntityVersion(id, extras, c, minVersion)
	if err != nil {
		return nil, tail, err
	}
	if old != nil {
		old.shadow.Add(prev.Index())
		if _, err := old.index.DelEntity(id); err != nil {
			ls.logger.Warn("replaced record not deleted",
				"segment", old.name,
				"index", prev.Index(),
				"error", err,
			)
		}
	}
	return entity.Shift(e, tail.base), tail, nil
}

// DelEntity deletes the live record of id. It reports false if there is none.
func (ls *Layers) DelEntity(id []byte) (bool, error) {
	if ls.closed.Load() {
		return false, ErrClosed
	}
	mu := ls.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	if err := ls.rlock(); err != nil {
		return false, err
	}
	defer ls.mu.RUnlock()

	ly, e, err := find(ls.layers, len(ls.layers), id)
	if ly == nil || err != nil {
		return false, err
	}
	ly.shadow.Add(e.Index())
	return ly.index.DelEntity(id)
}

// SetExtras replaces the extras of the live record of id.
func (ls *Layers) SetExtras(id, extras []byte) (bool, error) {
	if ls.closed.Load() {
		return false, ErrClosed
	}
	mu := ls.stripe(id)
	mu.Lock()
	defer mu.Unlock()

	if err := ls.rlock(); err != nil {
		return false, err
	}
	defer ls.mu.RUnlock()

	ly, _, err := find(ls.layers, len(ls.layers), id)
	if ly == nil || err != nil {
		return false, err
	}
	return ly.index.SetExtras(id, extras)
}

// GetEntity returns the live record of id with its global index.
func (ls *Layers) GetEntity(id []byte) (entity.Entity, error) {
	if err := ls.rlock(); err != nil {
		return nil, err
	}
	defer ls.mu.RUnlock()

	ly, e, err := find(ls.layers, len(ls.layers), id)
	if ly == nil || err != nil {
		return nil, err
	}
	return ly.global(e), nil
}

// GetEntityByIndex returns the live record at global index g.
func (ls *Layers) GetEntityByIndex(g uint32) (entity.Entity, error) {
	if err := ls.rlock(); err != nil {
		return nil, err
	}
	defer ls.mu.RUnlock()

	i, ok := slices.BinarySearchFunc(ls.layers, g, func(ly *layer, g uint32) int {
		switch {
		case ly.top() < g:
			return -1
		case ly.lower > g:
			return 1
		default:
			return 0
		}
	})
	if !ok {
		return nil, nil
	}
	ly := ls.layers[i]
	if g <= ly.base {
		return nil, nil
	}
	e, err := ly.index.GetEntityByIndex(g - ly.base)
	if err != nil {
		return nil, err
	}
	return ly.live(e), nil
}

// GetMaxIndex returns the highest global index allocated so far.
func (ls *Layers) GetMaxIndex() uint32 {
	if err := ls.rlock(); err != nil {
		return 0
	}
	defer ls.mu.RUnlock()
	return ls.layers[len(ls.layers)-1].top()
}

// GetKeyBlock returns a cursor over the live entries of key in global
// index order, or nil if no segment holds key. The segments behind the
// cursor stay open until it is exhausted or garbage collected.
func (ls *Layers) GetKeyBlock(key []byte) (postings.Cursor, error) {
	if err := ls.rlock(); err != nil {
		return nil, err
	}
	defer ls.mu.RUnlock()

	var (
		parts []postings.Cursor
		used  []*layer
		bt    postings.BlockType
	)
	for _, ly := range ls.layers {
		c, err := ly.index.GetKeyBlock(key)
		if err != nil {
			return nil, err
		}
		if c == nil {
			continue
		}
		if len(parts) > 0 && c.Type() != bt {
			return nil, fmt.Errorf("%w: key %q is %s and %s", segment.ErrBlockTypeMismatch, key, bt, c.Type())
		}
		bt = c.Type()
		if ly.shadow.Len() > 0 {
			c = postings.Filter(c, ly.shadow.Contains)
		}
		parts = append(parts, postings.Shift(c, ly.base))
		used = append(used, ly)
	}
	if len(parts) == 0 {
		return nil, nil
	}
	return newPinnedCursor(postings.Concat(parts...), ls.pinLocked(used)), nil
}

// GetKeyStats sums the statistics of key across segments.
func (ls *Layers) GetKeyStats(key []byte) (postings.Stats, error) {
	if err := ls.rlock(); err != nil {
		return postings.Stats{}, err
	}
	defer ls.mu.RUnlock()

	var total postings.Stats
	for _, ly := range ls.layers {
		st, err := ly.index.GetKeyStats(key)
		if err != nil {
			return postings.Stats{}, err
		}
		if st.Count == 0 {
			continue
		}
		if total.Count > 0 && st.Type != total.Type {
			return postings.Stats{}, fmt.Errorf("%w: key %q is %s and %s", segment.ErrBlockTypeMismatch, key, total.Type, st.Type)
		}
		total.Type = st.Type
		total.Count += st.Count
	}
	return total, nil
}

// snapshot pins the current layers. The caller must run release when it
// is done with them.
func (ls *Layers) snapshot() ([]*layer, func(), error) {
	if err := ls.rlock(); err != nil {
		return nil, nil, err
	}
	defer ls.mu.RUnlock()
	layers := slices.Clone(ls.layers)
	return layers, ls.pinLocked(layers).release, nil
}

// pinLocked pins layers. mu must be held.
func (ls *Layers) pinLocked(layers []*layer) *pinSet {
	for _, ly := range layers {
		ly.pin()
	}
	return &pinSet{layers: layers, logger: ls.logger}
}

// Entities iterates live entities in id order starting at from. Records
// carry their global index.
func (ls *Layers) Entities(from []byte) iter.Seq2[entity.Entity, error] {
	return func(yield func(entity.Entity, error) bool) {
		layers, release, err := ls.snapshot()
		if err != nil {
			yield(nil, err)
			return
		}
		defer release()
		seqs := make([]iter.Seq2[entity.Entity, error], len(layers))
		for i, ly := range layers {
			seqs[i] = ly.entities(from)
		}
		compare := func(a, b entity.Entity) int { return bytes.Compare(a.ID(), b.ID()) }
		for group, err := range mergeGroups(seqs, compare) {
			if err != nil {
				yield(nil, err)
				return
			}
			// The newest segment wins a race with a concurrent replace.
			if !yield(group[len(group)-1].v, nil) {
				return
			}
		}
	}
}

// Keys iterates postings keys across segments in byte order starting at from.
func (ls *Layers) Keys(from []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		layers, release, err := ls.snapshot()
		if err != nil {
			yield(nil, err)
			return
		}
		defer release()
		seqs := make([]iter.Seq2[[]byte, error], len(layers))
		for i, ly := range layers {
			seqs[i] = ly.keys(from)
		}
		for group, err := range mergeGroups(seqs, bytes.Compare) {
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(group[0].v, nil) {
				return
			}
		}
	}
}

// Rotate freezes the open segment, starts its commit and opens a new
// segment. An empty open segment is left in place.
func (ls *Layers) Rotate(ctx context.Context) error {
	if ls.closed.Load() {
		return ErrClosed
	}
	_, err := ls.rotate(ctx, nil)
	return err
}

// rotate replaces the open segment if it is still expect (any tail when
// expect is nil). It reports whether a retried insert can make progress.
func (ls *Layers) rotate(ctx context.Context, expect *layer) (bool, error) {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.layers == nil {
		return false, ErrClosed
	}
	tail := ls.layers[len(ls.layers)-1]
	if expect != nil && tail != expect {
		return true, nil
	}
	n := tail.dyn.GetMaxIndex()
	if n == 0 {
		return false, nil
	}

	next, err := ls.newTail(tail.base + n)
	if err != nil {
		return false, err
	}
	entities := tail.dyn.Stats().Entities
	j := newCommitJob(tail.dyn, ls.storage, ls.rc, ls.logger, ls.notify)
	tail.upper = tail.base + n
	tail.index, tail.commit, tail.dyn = j, j, nil
	ls.layers = append(ls.layers, next)
	j.Start(ctx)

	ls.logger.Info("segment rotated",
		"segment", tail.name,
		"lower", tail.lower,
		"upper", tail.upper,
		"entities", entities,
	)
	ls.metrics.OnRotate(tail.name, entities)
	ls.metrics.OnQueueDepth("commit", ls.pendingCommitsLocked())
	ls.metrics.OnSegments(len(ls.layers))
	return true, nil
}

func (ls *Layers) pendingCommitsLocked() int {
	n := 0
	for _, ly := range ls.layers {
		if ly.commit != nil && !ly.commit.State().Done() {
			n++
		}
	}
	return n
}

// Flush rotates the open segment, waits for every commit and persists
// patch overlays and the manifest.
func (ls *Layers) Flush(ctx context.Context) error {
	if ls.closed.Load() {
		return ErrClosed
	}
	return ls.flush(ctx)
}

func (ls *Layers) flush(ctx context.Context) error {
	if _, err := ls.rotate(ctx, nil); err != nil {
		return err
	}

	layers, release, err := ls.snapshot()
	if err != nil {
		return err
	}
	defer release()
	var errs []error
	for _, ly := range layers {
		if ly.commit == nil {
			continue
		}
		if _, err := ly.commit.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return err
			}
			errs = append(errs, err)
		}
	}
	errs = append(errs, ls.refresh(ctx), ls.savePatches(ctx), ls.saveManifest(ctx))
	return errors.Join(errs...)
}

func (ls *Layers) savePatches(ctx context.Context) error {
	layers, release, err := ls.snapshot()
	if err != nil {
		return err
	}
	defer release()
	var errs []error
	for _, ly := range layers {
		if st := ly.static(); st != nil {
			errs = append(errs, st.SavePatches(ctx))
		}
	}
	return errors.Join(errs...)
}

// Segments returns a description of every layer, oldest first.
func (ls *Layers) Segments() []Segment {
	if err := ls.rlock(); err != nil {
		return nil
	}
	defer ls.mu.RUnlock()

	out := make([]Segment, len(ls.layers))
	for i, ly := range ls.layers {
		out[i] = Segment{
			ID:       ly.id,
			Name:     ly.name,
			Base:     ly.base,
			Lower:    ly.lower,
			Upper:    ly.top(),
			Entities: ly.index.Stats().Entities,
			State:    ly.state(),
		}
	}
	return out
}

// Stats returns counters across all layers.
func (ls *Layers) Stats() Stats {
	if err := ls.rlock(); err != nil {
		return Stats{}
	}
	defer ls.mu.RUnlock()

	st := Stats{Segments: len(ls.layers), PendingCommits: ls.pendingCommitsLocked()}
	for _, ly := range ls.layers {
		s := ly.index.Stats()
		st.Entities += s.Entities
		st.ArenaBytes += s.ArenaBytes
	}
	if ls.merge != nil {
		st.PendingMerges = 1
	}
	return st
}

// Close flushes the open segment, cancels a running merge and releases
// every segment.
func (ls *Layers) Close(ctx context.Context) error {
	if !ls.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	ls.cancel()
	ls.wg.Wait()

	errs := []error{ls.flush(ctx)}

	ls.mu.RLock()
	mr := ls.merge
	ls.mu.RUnlock()
	if mr != nil {
		if _, _, err := mr.job.Wait(ctx); err != nil && ctx.Err() != nil {
			errs = append(errs, err)
		}
		errs = append(errs, ls.refresh(ctx))
	}

	ls.mu.Lock()
	for _, ly := range ls.layers {
		errs = append(errs, ly.release())
	}
	// Retired layers still pinned by a reader are closed regardless.
	for _, ly := range ls.retired {
		errs = append(errs, ly.release())
	}
	ls.layers, ls.retired = nil, nil
	ls.mu.Unlock()

	ls.logger.Info("layers closed")
	return errors.Join(errs...)
}
