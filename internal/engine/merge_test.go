package engine

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/resource"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/segment/dynamic"
	"github.com/hupe1980/contents/internal/segment/static"
	"github.com/hupe1980/contents/internal/storage"
)

var discard = slog.New(slog.DiscardHandler)

func counts(keys ...string) segment.Map {
	pairs := make(map[string][]byte, len(keys))
	for _, k := range keys {
		pairs[k] = postings.EncodeCount(1)
	}
	return segment.Map{Type: postings.Count, Pairs: pairs}
}

func indexes(c postings.Cursor) []uint32 {
	if c == nil {
		return nil
	}
	var out []uint32
	for _, p := range postings.Collect(c) {
		out = append(out, p.Index)
	}
	return out
}

// newStatic commits the entities inserted by fill into a static index.
func newStatic(t *testing.T, st storage.Storage, name string, fill func(d *dynamic.Index)) *static.Index {
	t.Helper()
	ctx := context.Background()

	d, err := dynamic.New(dynamic.WithName(name))
	require.NoError(t, err)
	defer d.Close()
	fill(d)

	sink, err := st.Create(ctx, name)
	require.NoError(t, err)
	s, err := d.Commit(ctx, sink)
	require.NoError(t, err)
	idx, err := static.Open(s, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func set(t *testing.T, d *dynamic.Index, id, extras string, c segment.Contents) {
	t.Helper()
	_, err := d.SetEntity([]byte(id), []byte(extras), c)
	require.NoError(t, err)
}

func mergeInto(t *testing.T, st storage.Storage, name string, sources ...Source) (*MergeResult, *static.Index) {
	t.Helper()
	ctx := context.Background()

	sink, err := st.Create(ctx, name)
	require.NoError(t, err)
	res, err := Merge(ctx, sources, sink)
	require.NoError(t, err)
	if res.Empty() {
		return res, nil
	}
	idx, err := static.Open(res.Serialized, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return res, idx
}

func TestMerge_HighestVersionWins(t *testing.T) {
	st := storage.NewMemory()
	v1 := newStatic(t, st, "v1", func(d *dynamic.Index) {
		set(t, d, "x", "first", counts("k", "old"))
	})
	v2 := newStatic(t, st, "v2", func(d *dynamic.Index) {
		_, err := d.SetEntityVersion([]byte("x"), []byte("second"), counts("k", "new"), 2)
		require.NoError(t, err)
	})

	for _, order := range [][]*static.Index{{v1, v2}, {v2, v1}} {
		res, idx := mergeInto(t, st, "merged-"+order[0].Name(), Source{Index: order[0]}, Source{Index: order[1]})
		assert.Equal(t, 1, res.Entities)

		e, err := idx.GetEntity([]byte("x"))
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, uint32(2), e.Version())
		assert.Equal(t, uint32(1), e.Index())
		assert.Equal(t, []byte("second"), e.Extras())

		c, err := idx.GetKeyBlock([]byte("new"))
		require.NoError(t, err)
		assert.Equal(t, []uint32{1}, indexes(c))

		c, err = idx.GetKeyBlock([]byte("old"))
		require.NoError(t, err)
		assert.Nil(t, c)
	}
}

func TestMerge_EqualVersionLaterSourceWins(t *testing.T) {
	st := storage.NewMemory()
	a := newStatic(t, st, "a", func(d *dynamic.Index) { set(t, d, "x", "a", counts("k")) })
	b := newStatic(t, st, "b", func(d *dynamic.Index) { set(t, d, "x", "b", counts("k")) })

	res, idx := mergeInto(t, st, "merged", Source{Index: a}, Source{Index: b})
	assert.Equal(t, uint32(0), res.Map(0, 1))
	assert.Equal(t, uint32(1), res.Map(1, 1))

	e, err := idx.GetEntity([]byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), e.Extras())
}

func TestMerge_RenumbersInIDOrder(t *testing.T) {
	st := storage.NewMemory()
	a := newStatic(t, st, "a", func(d *dynamic.Index) {
		set(t, d, "ccc", "", counts("k1"))
		set(t, d, "aaa", "", counts("k1", "k2"))
	})
	b := newStatic(t, st, "b", func(d *dynamic.Index) {
		set(t, d, "bbb", "", counts("k1"))
		set(t, d, "ddd", "", counts("k2"))
	})

	res, idx := mergeInto(t, st, "merged", Source{Index: a}, Source{Index: b})
	assert.Equal(t, 4, res.Entities)
	assert.Equal(t, uint32(4), idx.GetMaxIndex())

	for i, id := range []string{"aaa", "bbb", "ccc", "ddd"} {
		e, err := idx.GetEntityByIndex(uint32(i + 1))
		require.NoError(t, err)
		require.NotNil(t, e)
		assert.Equal(t, id, string(e.ID()))
	}

	c, err := idx.GetKeyBlock([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 2, 3}, indexes(c))

	c, err = idx.GetKeyBlock([]byte("k2"))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 4}, indexes(c))

	var keys []string
	for k, err := range idx.Keys(nil) {
		require.NoError(t, err)
		keys = append(keys, string(k))
	}
	assert.Equal(t, []string{"k1", "k2"}, keys)
}

func TestMerge_KeepsDetail(t *testing.T) {
	st := storage.NewMemory()
	a := newStatic(t, st, "a", func(d *dynamic.Index) {
		set(t, d, "x", "", segment.Map{
			Type:  postings.Count,
			Pairs: map[string][]byte{"k": postings.EncodeCount(7)},
		})
	})

	_, idx := mergeInto(t, st, "merged", Source{Index: a})
	c, err := idx.GetKeyBlock([]byte("k"))
	require.NoError(t, err)
	ps := postings.Collect(c)
	require.Len(t, ps, 1)
	n, err := postings.DecodeCount(ps[0].Detail)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), n)
}

func TestMerge_SkipAndDeleted(t *testing.T) {
	st := storage.NewMemory()
	a := newStatic(t, st, "a", func(d *dynamic.Index) {
		set(t, d, "x", "", counts("k"))
		set(t, d, "y", "", counts("k"))
		set(t, d, "z", "", counts("k"))
	})
	ok, err := a.DelEntity([]byte("z"))
	require.NoError(t, err)
	require.True(t, ok)

	res, idx := mergeInto(t, st, "merged", Source{Index: a, Skip: func(i uint32) bool { return i == 1 }})
	assert.Equal(t, 1, res.Entities)
	assert.Equal(t, uint32(0), res.Map(0, 1))
	assert.Equal(t, uint32(1), res.Map(0, 2))
	assert.Equal(t, uint32(0), res.Map(0, 3))

	e, err := idx.GetEntity([]byte("y"))
	require.NoError(t, err)
	require.NotNil(t, e)

	c, err := idx.GetKeyBlock([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1}, indexes(c))
}

func TestMerge_Empty(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	a := newStatic(t, st, "a", func(d *dynamic.Index) { set(t, d, "x", "", counts("k")) })

	res, idx := mergeInto(t, st, "merged", Source{Index: a, Skip: func(uint32) bool { return true }})
	assert.True(t, res.Empty())
	assert.Nil(t, res.Serialized)
	assert.Nil(t, idx)

	names, err := st.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "merged")
}

func TestMerge_BlockTypeMismatch(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	a := newStatic(t, st, "a", func(d *dynamic.Index) { set(t, d, "x", "", counts("k")) })
	b := newStatic(t, st, "b", func(d *dynamic.Index) {
		entries, err := postings.EncodeEntries([]uint32{1})
		require.NoError(t, err)
		set(t, d, "y", "", segment.Map{
			Type:  postings.EntryOrder,
			Pairs: map[string][]byte{"k": entries},
		})
	})

	sink, err := st.Create(ctx, "merged")
	require.NoError(t, err)
	_, err = Merge(ctx, []Source{{Index: a}, {Index: b}}, sink)
	require.ErrorIs(t, err, segment.ErrBlockTypeMismatch)

	names, err := st.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "merged")
}

func TestMergeJob(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	a := newStatic(t, st, "a", func(d *dynamic.Index) { set(t, d, "x", "", counts("k")) })
	b := newStatic(t, st, "b", func(d *dynamic.Index) { set(t, d, "y", "", counts("k")) })

	notified := make(chan job, 1)
	j := newMergeJob("merged", []Source{{Index: a}, {Index: b}}, st, nil, discard, func(j job) { notified <- j })

	_, _, err := j.Wait(ctx)
	require.ErrorIs(t, err, ErrJobNotStarted)

	j.Start(ctx)
	res, idx, err := j.Wait(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	assert.Equal(t, JobCommitted, j.State())
	assert.Equal(t, 2, res.Entities)
	assert.Equal(t, "merged", idx.Name())
	assert.Same(t, j, (<-notified).(*MergeJob))
	assert.True(t, j.elapsed() > 0)
}

func TestMergeJob_Cancel(t *testing.T) {
	ctx := context.Background()
	st := storage.NewMemory()
	a := newStatic(t, st, "a", func(d *dynamic.Index) { set(t, d, "x", "", counts("k")) })

	// Hold the only background slot so the job blocks until canceled.
	rc := resource.NewController(resource.Config{MaxBackgroundJobs: 1})
	require.True(t, rc.TryAcquireBackground())
	defer rc.ReleaseBackground()

	j := newMergeJob("merged", []Source{{Index: a}}, st, rc, discard, nil)
	j.Start(ctx)
	assert.Equal(t, JobRunning, j.State())
	j.Cancel()

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	res, idx, err := j.Wait(waitCtx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
	assert.Nil(t, idx)
	assert.Equal(t, JobCanceled, j.State())
}

func TestJobState_String(t *testing.T) {
	assert.Equal(t, "created", JobCreated.String())
	assert.Equal(t, "committed", JobCommitted.String())
	assert.Equal(t, "canceled", JobCanceled.String())
	assert.Equal(t, "unknown", JobState(42).String())
	assert.False(t, JobRunning.Done())
	assert.True(t, JobFailed.Done())
}
