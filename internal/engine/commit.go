package engine

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/patch"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/resource"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/segment/dynamic"
	"github.com/hupe1980/contents/internal/segment/static"
	"github.com/hupe1980/contents/internal/storage"
)

// JobState is the state of a background job.
type JobState int32

const (
	JobCreated JobState = iota
	JobRunning
	JobCommitted
	JobFailed
	JobCanceled
)

func (s JobState) String() string {
	switch s {
	case JobCreated:
		return "created"
	case JobRunning:
		return "running"
	case JobCommitted:
		return "committed"
	case JobFailed:
		return "failed"
	case JobCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Done reports whether the job reached a final state.
func (s JobState) Done() bool { return s >= JobCommitted }

type job interface {
	Name() string
	State() JobState
}

// CommitJob turns a frozen dynamic segment into a static one.
//
// The job is itself a segment.Index. Until the static index is published it
// answers reads from the frozen source, with deletes and extras updates
// kept in a patch overlay that the static index adopts. After a failure
// every call returns the stored *segment.JobError.
type CommitJob struct {
	name    string
	source  *dynamic.Index
	patches *patch.Table
	storage storage.Storage
	rc      *resource.Controller
	logger  *slog.Logger
	notify  func(job)

	state atomic.Int32
	done  chan struct{}

	// mu orders overlay writes against publication of the result.
	mu       sync.RWMutex
	result   atomic.Pointer[static.Index]
	err      error
	duration time.Duration
}

var _ segment.Index = (*CommitJob)(nil)

func newCommitJob(source *dynamic.Index, st storage.Storage, rc *resource.Controller, logger *slog.Logger, notify func(job)) *CommitJob {
	source.Freeze()
	return &CommitJob{
		name:    source.Name(),
		source:  source,
		patches: patch.New(),
		storage: st,
		rc:      rc,
		logger:  logger,
		notify:  notify,
		done:    make(chan struct{}),
	}
}

// Name returns the segment name.
func (j *CommitJob) Name() string { return j.name }

// State returns the job state.
func (j *CommitJob) State() JobState { return JobState(j.state.Load()) }

// Source returns the frozen dynamic segment.
func (j *CommitJob) Source() *dynamic.Index { return j.source }

// Start runs the commit in a new goroutine. A commit is not abortable:
// cancellation of ctx is ignored once the job runs.
func (j *CommitJob) Start(ctx context.Context) {
	if !j.state.CompareAndSwap(int32(JobCreated), int32(JobRunning)) {
		return
	}
	go j.run(context.WithoutCancel(ctx))
}

func (j *CommitJob) run(ctx context.Context) {
	defer close(j.done)
	start := time.Now()

	err := j.commit(ctx)

	j.mu.Lock()
	j.duration = time.Since(start)
	if err != nil {
		j.err = &segment.JobError{Segment: j.name, Op: "commit", Err: err}
		j.state.Store(int32(JobFailed))
		j.logger.Error("commit failed", "segment", j.name, "error", err)
	} else {
		j.state.Store(int32(JobCommitted))
		j.logger.Info("commit finished",
			"segment", j.name,
			"entities", j.source.Stats().Entities,
			"duration", j.duration,
		)
	}
	j.mu.Unlock()

	if j.notify != nil {
		j.notify(j)
	}
}

func (j *CommitJob) commit(ctx context.Context) error {
	if err := j.rc.AcquireBackground(ctx); err != nil {
		return err
	}
	defer j.rc.ReleaseBackground()

	sink, err := j.storage.Create(ctx, j.name)
	if err != nil {
		return err
	}
	s, err := j.source.Commit(ctx, sink)
	if err != nil {
		return err
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	idx, err := static.Open(s, j.patches)
	if err != nil {
		return errors.Join(err, s.Remove(ctx))
	}
	j.result.Store(idx)
	return nil
}

// Wait blocks until the commit finished (join) or ctx is done.
func (j *CommitJob) Wait(ctx context.Context) (*static.Index, error) {
	if j.State() == JobCreated {
		return nil, ErrJobNotStarted
	}
	select {
	case <-j.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return j.Result()
}

// Result returns the published static index, the stored failure, or
// (nil, nil) while the job runs.
func (j *CommitJob) Result() (*static.Index, error) {
	switch j.State() {
	case JobCommitted:
		return j.result.Load(), nil
	case JobFailed:
		j.mu.RLock()
		defer j.mu.RUnlock()
		return nil, j.err
	default:
		return nil, nil
	}
}

func (j *CommitJob) elapsed() time.Duration {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.duration
}

// target returns the published result, or nil while reads go to the
// source. It fails once the job failed.
func (j *CommitJob) target() (*static.Index, error) {
	if idx := j.result.Load(); idx != nil {
		return idx, nil
	}
	if j.State() == JobFailed {
		_, err := j.Result()
		return nil, err
	}
	return nil, nil
}

func (j *CommitJob) resolve(e entity.Entity) entity.Entity {
	if e == nil {
		return nil
	}
	rec := j.patches.Search(patch.ByIndex(e.Index()))
	switch {
	case rec == nil:
		return e
	case rec.Deleted():
		return nil
	default:
		return entity.WithExtras(e, rec.Extras())
	}
}

func (j *CommitJob) deleted(index uint32) bool {
	return j.patches.IsDeleted(patch.ByIndex(index))
}

// SetEntity always fails: the source is frozen.
func (j *CommitJob) SetEntity([]byte, []byte, segment.Contents) (entity.Entity, error) {
	if _, err := j.target(); err != nil {
		return nil, err
	}
	return nil, segment.ErrReadOnly
}

func (j *CommitJob) DelEntity(id []byte) (bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	idx, err := j.target()
	if err != nil || idx != nil {
		if err != nil {
			return false, err
		}
		return idx.DelEntity(id)
	}
	e, err := j.source.GetEntity(id)
	if e = j.resolve(e); e == nil || err != nil {
		return false, err
	}
	return j.patches.Delete(patch.ByIndex(e.Index())), nil
}

func (j *CommitJob) SetExtras(id, extras []byte) (bool, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	idx, err := j.target()
	if err != nil || idx != nil {
		if err != nil {
			return false, err
		}
		return idx.SetExtras(id, extras)
	}
	e, err := j.source.GetEntity(id)
	if e == nil || err != nil {
		return false, err
	}
	if _, err := j.patches.Update(patch.ByIndex(e.Index()), extras); err != nil {
		if errors.Is(err, patch.ErrDeleted) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (j *CommitJob) GetEntity(id []byte) (entity.Entity, error) {
	idx, err := j.target()
	if err != nil || idx != nil {
		if err != nil {
			return nil, err
		}
		return idx.GetEntity(id)
	}
	e, err := j.source.GetEntity(id)
	if err != nil {
		return nil, err
	}
	return j.resolve(e), nil
}

func (j *CommitJob) GetEntityByIndex(index uint32) (entity.Entity, error) {
	idx, err := j.target()
	if err != nil || idx != nil {
		if err != nil {
			return nil, err
		}
		return idx.GetEntityByIndex(index)
	}
	e, err := j.source.GetEntityByIndex(index)
	if err != nil {
		return nil, err
	}
	return j.resolve(e), nil
}

func (j *CommitJob) GetMaxIndex() uint32 {
	return j.source.GetMaxIndex()
}

func (j *CommitJob) GetKeyBlock(key []byte) (postings.Cursor, error) {
	idx, err := j.target()
	if err != nil || idx != nil {
		if err != nil {
			return nil, err
		}
		return idx.GetKeyBlock(key)
	}
	c, err := j.source.GetKeyBlock(key)
	if c == nil || err != nil {
		return c, err
	}
	if j.patches.Deletes() == 0 {
		return c, nil
	}
	return postings.Filter(c, j.deleted), nil
}

func (j *CommitJob) GetKeyStats(key []byte) (postings.Stats, error) {
	idx, err := j.target()
	if err != nil || idx != nil {
		if err != nil {
			return postings.Stats{}, err
		}
		return idx.GetKeyStats(key)
	}
	return j.source.GetKeyStats(key)
}

func (j *CommitJob) Entities(from []byte) iter.Seq2[entity.Entity, error] {
	return func(yield func(entity.Entity, error) bool) {
		idx, err := j.target()
		if err != nil {
			yield(nil, err)
			return
		}
		if idx != nil {
			for e, err := range idx.Entities(from) {
				if !yield(e, err) {
					return
				}
			}
			return
		}
		for e, err := range j.source.Entities(from) {
			if err == nil {
				if e = j.resolve(e); e == nil {
					continue
				}
			}
			if !yield(e, err) {
				return
			}
		}
	}
}

func (j *CommitJob) Keys(from []byte) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		idx, err := j.target()
		if err != nil {
			yield(nil, err)
			return
		}
		keys := j.source.Keys(from)
		if idx != nil {
			keys = idx.Keys(from)
		}
		for k, err := range keys {
			if !yield(k, err) {
				return
			}
		}
	}
}

func (j *CommitJob) Stats() segment.Stats {
	if idx := j.result.Load(); idx != nil {
		return idx.Stats()
	}
	st := j.source.Stats()
	st.Entities -= j.patches.Deletes()
	st.Patches = j.patches.Len()
	return st
}

// Close closes the source and, if published, the static index.
func (j *CommitJob) Close() error {
	var errs []error
	if idx := j.result.Load(); idx != nil {
		errs = append(errs, idx.Close())
	}
	errs = append(errs, j.source.Close())
	return errors.Join(errs...)
}
