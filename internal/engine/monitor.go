package engine

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/contents/internal/manifest"
	"github.com/hupe1980/contents/internal/patch"
	"github.com/hupe1980/contents/internal/segment/static"
)

// mergeRun is a running merge together with its rollback snapshot.
type mergeRun struct {
	id        uint64
	job       *MergeJob
	run       []*layer
	snapshots []*roaring.Bitmap
}

// notify queues a finished job for the monitor. The monitor scans job
// states, so a full queue only delays the swap until the next tick.
func (ls *Layers) notify(j job) {
	select {
	case ls.events <- j:
	default:
	}
}

func (ls *Layers) monitor() {
	defer ls.wg.Done()

	interval := ls.mergeInterval
	if interval < 0 {
		interval = DefaultMergeInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ls.ctx.Done():
			return
		case j := <-ls.events:
			ls.metrics.OnQueueDepth("events", len(ls.events))
			ls.logger.Debug("job finished", "segment", j.Name(), "state", j.State().String())
		case <-ticker.C:
		}
		if err := ls.refresh(ls.ctx); err != nil && ls.ctx.Err() == nil {
			ls.logger.Error("monitor refresh failed", "error", err)
		}
		ls.scheduleMerge()
	}
}

// refresh swaps finished jobs into the segment list and, if the list
// changed, persists the manifest and removes obsolete containers.
func (ls *Layers) refresh(ctx context.Context) error {
	if !ls.swap() {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	var errs []error
	if err := ls.savePatches(ctx); err != nil && !errors.Is(err, ErrClosed) {
		errs = append(errs, err)
	}
	if err := ls.saveManifest(ctx); err != nil {
		// Keep obsolete containers: the last saved manifest may still
		// reference them.
		return errors.Join(append(errs, err)...)
	}
	return errors.Join(append(errs, ls.removeObsolete(ctx))...)
}

// swap folds finished commit and merge jobs into the segment list. It
// reports whether the list changed.
func (ls *Layers) swap() bool {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.layers == nil {
		return false
	}
	changed := false
	for i := 0; i < len(ls.layers); i++ {
		ly := ls.layers[i]
		if ly.commit == nil || !ly.commit.State().Done() {
			continue
		}
		if ls.swapCommit(i) {
			changed = true
			if ly != ls.layers[i] {
				i--
			}
		}
	}
	if ls.swapMerge() {
		changed = true
	}
	if changed {
		ls.metrics.OnSegments(len(ls.layers))
	}
	return changed
}

// swapCommit replaces layer i by its committed static index. An empty
// result removes the layer.
func (ls *Layers) swapCommit(i int) bool {
	ly := ls.layers[i]
	j := ly.commit

	idx, err := j.Result()
	if err != nil {
		if !ly.reported {
			ly.reported = true
			ls.metrics.OnCommit(j.elapsed(), 0, err)
			ls.logger.Error("segment unusable", "segment", ly.name, "error", err)
		}
		return false
	}

	entities := idx.Stats().Entities
	ls.metrics.OnCommit(j.elapsed(), entities, nil)
	if err := j.Source().Close(); err != nil {
		ls.logger.Warn("close committed source", "segment", ly.name, "error", err)
	}
	ly.index, ly.commit = idx, nil

	if entities > 0 {
		ls.logger.Info("segment committed", "segment", ly.name, "entities", entities)
		return true
	}
	ls.removeLocked(i, i+1)
	ls.retireLocked(ly)
	ls.logger.Info("empty segment removed", "segment", ly.name, "lower", ly.lower, "upper", ly.upper)
	return true
}

// removeLocked drops layers[start:end]; a neighbor takes over their range.
func (ls *Layers) removeLocked(start, end int) {
	lower, upper := ls.layers[start].lower, ls.layers[end-1].upper
	ls.layers = slices.Delete(ls.layers, start, end)
	if start > 0 {
		ls.layers[start-1].upper = upper
	} else {
		ls.layers[start].lower = lower
	}
}

// retireLocked closes ly unless a reader still pins it. Pinned layers wait
// in retired until the last pin is dropped or Close.
func (ls *Layers) retireLocked(ly *layer) {
	ls.obsolete = append(ls.obsolete, ly.name)
	ls.retired = slices.DeleteFunc(ls.retired, func(r *layer) bool { return r.released.Load() })
	if !ly.retire(ls.logger) {
		ls.retired = append(ls.retired, ly)
	}
}

// swapMerge installs the result of a finished merge or rolls it back.
func (ls *Layers) swapMerge() bool {
	mr := ls.merge
	if mr == nil || !mr.job.State().Done() {
		return false
	}
	ls.merge = nil
	for _, ly := range mr.run {
		ly.merging = false
	}

	res, idx, err := mr.job.Result()
	entities := 0
	if res != nil {
		entities = res.Entities
	}
	ls.metrics.OnMerge(mr.job.elapsed(), len(mr.run), entities, err)
	ls.metrics.OnQueueDepth("merge", 0)
	if err != nil {
		ls.logger.Warn("merge rolled back",
			"segment", mr.job.Name(),
			"inputs", len(mr.run),
			"state", mr.job.State().String(),
			"error", err,
		)
		return false
	}

	// Static layers leave the list only through merges, so the run is
	// still contiguous.
	start := slices.Index(ls.layers, mr.run[0])
	end := start + len(mr.run)
	first, last := ls.layers[start], ls.layers[end-1]

	if res.Empty() {
		ls.removeLocked(start, end)
	} else {
		ls.reconcile(mr, res, idx)
		merged := &layer{
			id:     mr.id,
			name:   mr.job.Name(),
			base:   first.lower - 1,
			lower:  first.lower,
			upper:  last.upper,
			index:  idx,
			shadow: newShadow(),
		}
		ls.layers = slices.Replace(ls.layers, start, end, merged)
	}
	for _, ly := range mr.run {
		ls.retireLocked(ly)
	}
	ls.logger.Info("merge installed",
		"segment", mr.job.Name(),
		"inputs", len(mr.run),
		"entities", entities,
		"lower", first.lower,
		"upper", last.upper,
	)
	return true
}

// reconcile replays onto idx the deletes, replacements and extras updates
// that reached the sources after the merge took its snapshot.
func (ls *Layers) reconcile(mr *mergeRun, res *MergeResult, idx *static.Index) {
	deletes, updates := 0, 0
	for k, ly := range mr.run {
		it := ly.shadow.Since(mr.snapshots[k]).Iterator()
		for it.HasNext() {
			if n := res.Map(k, it.Next()); n != 0 && idx.DelIndex(n) {
				deletes++
			}
		}
		ly.static().Patches().Range(func(key patch.Key, rec *patch.Record) bool {
			if !key.IsIndex() {
				return true
			}
			n := res.Map(k, key.Index())
			switch {
			case n == 0:
			case rec.Deleted():
				if idx.DelIndex(n) {
					deletes++
				}
			default:
				if ok, _ := idx.UpdateIndex(n, rec.Extras()); ok {
					updates++
				}
			}
			return true
		})
	}
	ls.logger.Debug("merge reconciled", "segment", mr.job.Name(), "deletes", deletes, "updates", updates)
}

// scheduleMerge starts a merge over the run picked by the policy unless a
// merge is already running.
func (ls *Layers) scheduleMerge() {
	if ls.mergeInterval < 0 || ls.ctx.Err() != nil {
		return
	}
	ls.mu.Lock()
	defer ls.mu.Unlock()

	if ls.layers == nil || ls.merge != nil {
		return
	}
	candidates := make([]SegmentStats, len(ls.layers))
	for i, ly := range ls.layers {
		candidates[i] = SegmentStats{
			ID:       ly.id,
			Name:     ly.name,
			Entities: ly.index.Stats().Entities,
			Static:   ly.static() != nil,
		}
	}
	task := ls.policy.Pick(candidates)
	if task == nil || task.Len() < 2 || task.Start < 0 || task.End > len(ls.layers) {
		return
	}
	run := slices.Clone(ls.layers[task.Start:task.End])
	for _, ly := range run {
		if ly.static() == nil {
			return
		}
	}

	mr := &mergeRun{id: ls.nextID, run: run}
	ls.nextID++
	sources := make([]Source, len(run))
	for k, ly := range run {
		snap := ly.shadow.Clone()
		mr.snapshots = append(mr.snapshots, snap)
		sources[k] = Source{Index: ly.index, Skip: snap.Contains}
		ly.merging = true
	}
	mr.job = newMergeJob(segmentName(mr.id), sources, ls.storage, ls.rc, ls.logger, ls.notify)
	ls.merge = mr
	mr.job.Start(ls.ctx)
	ls.metrics.OnQueueDepth("merge", 1)
}

// saveManifest records every static layer. Committing layers are left out;
// their ranges stay gaps until the commit is swapped in.
func (ls *Layers) saveManifest(ctx context.Context) error {
	if ls.manifests == nil {
		return nil
	}
	ls.saveMu.Lock()
	defer ls.saveMu.Unlock()

	ls.mu.RLock()
	segments := make([]manifest.SegmentInfo, 0, len(ls.layers))
	for _, ly := range ls.layers {
		st := ly.static()
		if st == nil {
			continue
		}
		segments = append(segments, manifest.SegmentInfo{
			ID:       ly.id,
			Name:     ly.name,
			Base:     ly.base,
			Lower:    ly.lower,
			Upper:    ly.upper,
			Entities: st.Stats().Entities,
			Size:     st.Serialized().Size(),
		})
	}
	next := ls.nextID
	ls.mu.RUnlock()

	m := ls.manifest.Clone()
	m.Segments, m.NextSegmentID = segments, next
	if err := ls.manifests.Save(ctx, m); err != nil {
		return err
	}
	ls.manifest = m
	ls.logger.Debug("manifest saved", "id", m.ID, "segments", len(segments))
	return nil
}

func (ls *Layers) removeObsolete(ctx context.Context) error {
	ls.mu.Lock()
	names := ls.obsolete
	ls.obsolete = nil
	ls.mu.Unlock()

	var errs []error
	for _, name := range names {
		if err := ls.storage.Delete(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		ls.logger.Debug("segment removed", "segment", name)
	}
	return errors.Join(errs...)
}
