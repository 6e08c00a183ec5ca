package engine

import (
	"bytes"
	"cmp"
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/resource"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/segment/static"
	"github.com/hupe1980/contents/internal/storage"
)

// Source is one input of a merge.
type Source struct {
	Index segment.Index
	// Skip hides local indices of Index, typically its shadow bitmap.
	Skip func(uint32) bool
}

// MergeResult describes the output of Merge.
type MergeResult struct {
	// Serialized is the committed container, nil when the result is empty.
	Serialized storage.Serialized
	Entities   int
	// Remap maps, per source, a local index to its merged index. Zero
	// means the record did not survive.
	Remap [][]uint32
}

// Empty reports whether no entity survived the merge.
func (r *MergeResult) Empty() bool { return r.Entities == 0 }

// Map translates local index i of source src.
func (r *MergeResult) Map(src int, i uint32) uint32 {
	if src >= len(r.Remap) || int(i) >= len(r.Remap[src]) {
		return 0
	}
	return r.Remap[src][i]
}

const mergeCheckEvery = 1024

// Merge compacts sources into sink. For every entity id the record with the
// highest version survives; on equal versions the later source wins.
// Surviving records are renumbered 1..n in id order and postings are
// rewritten through the per-source remap tables. An empty result removes
// the sink instead of committing it.
func Merge(ctx context.Context, sources []Source, sink storage.Sink) (*MergeResult, error) {
	res, err := merge(ctx, sources, sink)
	if err != nil {
		_ = sink.Remove(context.WithoutCancel(ctx))
		return nil, err
	}
	return res, nil
}

func merge(ctx context.Context, sources []Source, sink storage.Sink) (*MergeResult, error) {
	// Materialize every source's live entities in parallel.
	lists := make([][]entity.Entity, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			var list []entity.Entity
			for e, err := range src.Index.Entities(nil) {
				if err != nil {
					return err
				}
				if src.Skip != nil && src.Skip(e.Index()) {
					continue
				}
				list = append(list, e)
				if len(list)%mergeCheckEvery == 0 {
					if err := gctx.Err(); err != nil {
						return err
					}
				}
			}
			lists[i] = list
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	res := &MergeResult{Remap: make([][]uint32, len(sources))}
	seqs := make([]iter.Seq2[entity.Entity, error], len(sources))
	for i, src := range sources {
		res.Remap[i] = make([]uint32, int(src.Index.GetMaxIndex())+1)
		seqs[i] = values(lists[i])
	}

	var records []entity.Entity
	for group, err := range mergeGroups(seqs, func(a, b entity.Entity) int {
		return bytes.Compare(a.ID(), b.ID())
	}) {
		if err != nil {
			return nil, err
		}
		win := group[0]
		for _, it := range group[1:] {
			if it.v.Version() >= win.v.Version() {
				win = it
			}
		}
		n := uint32(len(records) + 1) //nolint:gosec // bounded by source index spaces
		res.Remap[win.src][win.v.Index()] = n
		records = append(records, entity.Make(win.v.ID(), n, win.v.Version(), win.v.Extras()))
		if len(records)%mergeCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}
	res.Entities = len(records)
	if res.Empty() {
		return res, sink.Remove(ctx)
	}

	if _, err := entity.WriteStream(sink.Entities(), uint32(len(records)), records); err != nil { //nolint:gosec // see above
		return nil, fmt.Errorf("write entities: %w", err)
	}
	if err := mergePostings(ctx, sources, res, postings.NewWriter(sink.Chains()), sink); err != nil {
		return nil, err
	}

	s, err := sink.Commit(ctx)
	if err != nil {
		return nil, err
	}
	res.Serialized = s
	return res, nil
}

func mergePostings(ctx context.Context, sources []Source, res *MergeResult, w *postings.Writer, sink storage.Sink) error {
	seqs := make([]iter.Seq2[[]byte, error], len(sources))
	for i, src := range sources {
		seqs[i] = src.Index.Keys(nil)
	}

	var list []postings.Posting
	keys := 0
	for group, err := range mergeGroups(seqs, bytes.Compare) {
		if err != nil {
			return err
		}
		key := group[0].v
		list = list[:0]

		var bt postings.BlockType
		typed := false
		for _, it := range group {
			c, err := sources[it.src].Index.GetKeyBlock(key)
			if err != nil {
				return err
			}
			if c == nil {
				continue
			}
			if typed && c.Type() != bt {
				return fmt.Errorf("%w: key %q is %s and %s", segment.ErrBlockTypeMismatch, key, bt, c.Type())
			}
			bt, typed = c.Type(), true

			for i := c.Find(1); i != entity.NotFound; i = postings.Next(c, i) {
				if n := res.Map(it.src, i); n != 0 {
					list = append(list, postings.Posting{Index: n, Detail: c.Detail()})
				}
			}
		}
		if len(list) == 0 {
			continue
		}
		slices.SortFunc(list, func(a, b postings.Posting) int { return cmp.Compare(a.Index, b.Index) })
		if err := w.Add(key, bt, list); err != nil {
			return err
		}

		keys++
		if keys%mergeCheckEvery == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
	}
	if _, err := w.Finish(sink.Contents()); err != nil {
		return fmt.Errorf("write contents: %w", err)
	}
	return nil
}

func values[T any](s []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, v := range s {
			if !yield(v, nil) {
				return
			}
		}
	}
}

// MergeJob runs Merge in the background and opens the result.
type MergeJob struct {
	name    string
	sources []Source
	storage storage.Storage
	rc      *resource.Controller
	logger  *slog.Logger
	notify  func(job)

	state    atomic.Int32
	cancel   context.CancelFunc
	done     chan struct{}
	mu       sync.Mutex
	result   *MergeResult
	index    *static.Index
	err      error
	duration time.Duration
}

func newMergeJob(name string, sources []Source, st storage.Storage, rc *resource.Controller, logger *slog.Logger, notify func(job)) *MergeJob {
	return &MergeJob{
		name:    name,
		sources: sources,
		storage: st,
		rc:      rc,
		logger:  logger,
		notify:  notify,
		done:    make(chan struct{}),
	}
}

// Name returns the name of the merged segment.
func (j *MergeJob) Name() string { return j.name }

// State returns the job state.
func (j *MergeJob) State() JobState { return JobState(j.state.Load()) }

// Start runs the merge in a new goroutine. Canceling ctx cancels the merge.
func (j *MergeJob) Start(ctx context.Context) {
	if !j.state.CompareAndSwap(int32(JobCreated), int32(JobRunning)) {
		return
	}
	ctx, j.cancel = context.WithCancel(ctx)
	go j.run(ctx)
}

// Cancel stops a running merge; its result is discarded.
func (j *MergeJob) Cancel() {
	if j.cancel != nil {
		j.cancel()
	}
}

func (j *MergeJob) run(ctx context.Context) {
	defer close(j.done)
	defer j.cancel()
	start := time.Now()

	res, idx, err := j.merge(ctx)

	j.mu.Lock()
	j.result, j.index, j.duration = res, idx, time.Since(start)
	switch {
	case err == nil:
		j.state.Store(int32(JobCommitted))
	case ctx.Err() != nil:
		j.err = err
		j.state.Store(int32(JobCanceled))
	default:
		j.err = &segment.JobError{Segment: j.name, Op: "merge", Err: err}
		j.state.Store(int32(JobFailed))
	}
	j.mu.Unlock()

	if j.notify != nil {
		j.notify(j)
	}
}

func (j *MergeJob) merge(ctx context.Context) (*MergeResult, *static.Index, error) {
	if err := j.rc.AcquireBackground(ctx); err != nil {
		return nil, nil, err
	}
	defer j.rc.ReleaseBackground()

	j.logger.Info("merge started", "segment", j.name, "inputs", len(j.sources))

	sink, err := j.storage.Create(ctx, j.name)
	if err != nil {
		return nil, nil, err
	}
	res, err := Merge(ctx, j.sources, sink)
	if err != nil {
		return nil, nil, err
	}
	if res.Empty() {
		return res, nil, nil
	}
	idx, err := static.Open(res.Serialized, nil)
	if err != nil {
		_ = res.Serialized.Remove(context.WithoutCancel(ctx))
		return nil, nil, err
	}
	return res, idx, nil
}

// Wait blocks until the job finished or ctx is done.
func (j *MergeJob) Wait(ctx context.Context) (*MergeResult, *static.Index, error) {
	if j.State() == JobCreated {
		return nil, nil, ErrJobNotStarted
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.index, j.err
}

// Result returns the outcome of a finished job; all values are nil while
// the job is running.
func (j *MergeJob) Result() (*MergeResult, *static.Index, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.result, j.index, j.err
}

func (j *MergeJob) elapsed() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.duration
}
