package engine

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contents/blobstore"
	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/manifest"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/resource"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/segment/dynamic"
	"github.com/hupe1980/contents/internal/storage"
)

func openLayers(t *testing.T, opts ...Option) *Layers {
	t.Helper()
	base := []Option{WithLogger(discard), WithMergeInterval(-1)}
	ls, err := Open(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ls.Close(context.Background()) })
	return ls
}

func put(t *testing.T, ls *Layers, id string, keys ...string) entity.Entity {
	t.Helper()
	e, err := ls.SetEntity([]byte(id), []byte("x-"+id), counts(keys...))
	require.NoError(t, err)
	require.NotNil(t, e)
	return e
}

func get(t *testing.T, ls *Layers, id string) entity.Entity {
	t.Helper()
	e, err := ls.GetEntity([]byte(id))
	require.NoError(t, err)
	return e
}

func block(t *testing.T, ls *Layers, key string) []uint32 {
	t.Helper()
	c, err := ls.GetKeyBlock([]byte(key))
	require.NoError(t, err)
	return indexes(c)
}

func TestLayers_SetGet(t *testing.T) {
	ls := openLayers(t)

	put(t, ls, "aaa", "k1")
	b := put(t, ls, "bbb", "k1", "k2")
	assert.Equal(t, uint32(2), b.Index())

	e := get(t, ls, "bbb")
	require.NotNil(t, e)
	assert.Equal(t, []byte("x-bbb"), e.Extras())

	e, err := ls.GetEntityByIndex(2)
	require.NoError(t, err)
	assert.Equal(t, "bbb", string(e.ID()))

	e, err = ls.GetEntityByIndex(3)
	require.NoError(t, err)
	assert.Nil(t, e)

	st, err := ls.GetKeyStats([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, postings.Stats{Type: postings.Count, Count: 2}, st)
	assert.Equal(t, []uint32{1, 2}, block(t, ls, "k1"))
	assert.Nil(t, block(t, ls, "missing"))
	assert.Equal(t, uint32(2), ls.GetMaxIndex())

	_, err = ls.SetEntity(nil, nil, nil)
	require.ErrorIs(t, err, segment.ErrInvalidArgument)
}

func TestLayers_Rotation(t *testing.T) {
	ctx := context.Background()
	ls := openLayers(t, WithMaxEntities(2))

	ids := []string{"aaa", "bbb", "ccc", "ddd", "eee"}
	for _, id := range ids {
		put(t, ls, id, "k")
	}
	assert.Len(t, ls.Segments(), 3)

	check := func() {
		var want []uint32
		for i, id := range ids {
			e := get(t, ls, id)
			require.NotNil(t, e, id)
			assert.Equal(t, uint32(i+1), e.Index())
			want = append(want, e.Index())

			byIndex, err := ls.GetEntityByIndex(e.Index())
			require.NoError(t, err)
			require.NotNil(t, byIndex)
			assert.Equal(t, id, string(byIndex.ID()))
		}
		assert.Equal(t, want, block(t, ls, "k"))

		st, err := ls.GetKeyStats([]byte("k"))
		require.NoError(t, err)
		assert.Equal(t, len(ids), st.Count)
	}
	check()

	require.NoError(t, ls.Flush(ctx))
	segs := ls.Segments()
	require.Len(t, segs, 4)
	for _, s := range segs[:3] {
		assert.Equal(t, "static", s.State)
	}
	assert.Equal(t, "open", segs[3].State)
	assert.Equal(t, uint32(5), segs[3].Base)
	check()

	stats := ls.Stats()
	assert.Equal(t, 4, stats.Segments)
	assert.Equal(t, 5, stats.Entities)
	assert.Equal(t, 0, stats.PendingCommits)
}

func TestLayers_EntityTooLarge(t *testing.T) {
	rc := resource.NewController(resource.Config{MemoryLimitBytes: 8 << 10})
	ls := openLayers(t, WithMaxEntities(1), WithChunkSize(1024), WithResourceController(rc))
	put(t, ls, "aaa", "k")

	_, err := ls.SetEntity([]byte("big"), make([]byte, 64<<10), counts("k"))
	require.ErrorIs(t, err, segment.ErrOverflow)
	assert.NotNil(t, get(t, ls, "aaa"))
}

func TestLayers_ReplaceAcrossSegments(t *testing.T) {
	ctx := context.Background()
	ls := openLayers(t, WithMaxEntities(2))

	a := put(t, ls, "aaa", "k", "old")
	put(t, ls, "bbb", "k")
	require.NoError(t, ls.Rotate(ctx))

	a2 := put(t, ls, "aaa", "k", "new")
	assert.Equal(t, uint32(2), a2.Version())
	assert.Equal(t, uint32(3), a2.Index())

	verify := func() {
		e := get(t, ls, "aaa")
		require.NotNil(t, e)
		assert.Equal(t, a2.Index(), e.Index())
		assert.Equal(t, uint32(2), e.Version())

		e, err := ls.GetEntityByIndex(a.Index())
		require.NoError(t, err)
		assert.Nil(t, e)

		assert.Equal(t, []uint32{2, 3}, block(t, ls, "k"))
		assert.Nil(t, block(t, ls, "old"))
		assert.Equal(t, []uint32{3}, block(t, ls, "new"))
	}
	verify()
	require.NoError(t, ls.Flush(ctx))
	verify()

	// A third version continues from the committed one.
	a3 := put(t, ls, "aaa", "k")
	assert.Equal(t, uint32(3), a3.Version())
}

func TestLayers_Delete(t *testing.T) {
	ctx := context.Background()
	ls := openLayers(t, WithMaxEntities(2))

	for _, id := range []string{"aaa", "bbb", "ccc"} {
		put(t, ls, id, "k")
	}
	require.NoError(t, ls.Flush(ctx))

	for _, id := range []string{"aaa", "ccc"} {
		ok, err := ls.DelEntity([]byte(id))
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = ls.DelEntity([]byte(id))
		require.NoError(t, err)
		assert.False(t, ok)

		assert.Nil(t, get(t, ls, id))
	}

	e, err := ls.GetEntityByIndex(1)
	require.NoError(t, err)
	assert.Nil(t, e)
	assert.Equal(t, []uint32{2}, block(t, ls, "k"))
	assert.Equal(t, 1, ls.Stats().Entities)

	ok, err := ls.DelEntity([]byte("missing"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLayers_SetExtras(t *testing.T) {
	ctx := context.Background()
	ls := openLayers(t)

	put(t, ls, "aaa", "k")
	require.NoError(t, ls.Rotate(ctx))

	ok, err := ls.SetExtras([]byte("aaa"), []byte("meta"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("meta"), get(t, ls, "aaa").Extras())

	require.NoError(t, ls.Flush(ctx))
	assert.Equal(t, []byte("meta"), get(t, ls, "aaa").Extras())

	ok, err = ls.SetExtras([]byte("missing"), []byte("meta"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLayers_BlockTypeMismatch(t *testing.T) {
	ctx := context.Background()
	ls := openLayers(t)

	put(t, ls, "aaa", "k")
	require.NoError(t, ls.Rotate(ctx))

	entries, err := postings.EncodeEntries([]uint32{1})
	require.NoError(t, err)
	_, err = ls.SetEntity([]byte("bbb"), nil, segment.Map{
		Type:  postings.EntryOrder,
		Pairs: map[string][]byte{"k": entries},
	})
	require.ErrorIs(t, err, segment.ErrBlockTypeMismatch)
	assert.Nil(t, get(t, ls, "bbb"))
}

func TestLayers_Iteration(t *testing.T) {
	ctx := context.Background()
	ls := openLayers(t, WithMaxEntities(2))

	for _, id := range []string{"ddd", "bbb", "eee", "aaa", "ccc"} {
		put(t, ls, id, "k-"+id)
	}
	put(t, ls, "bbb", "k-bbb")
	require.NoError(t, ls.Flush(ctx))
	_, err := ls.DelEntity([]byte("eee"))
	require.NoError(t, err)

	var ids []string
	for e, err := range ls.Entities([]byte("b")) {
		require.NoError(t, err)
		ids = append(ids, string(e.ID()))
		assert.Equal(t, e.Index(), get(t, ls, string(e.ID())).Index())
	}
	assert.Equal(t, []string{"bbb", "ccc", "ddd"}, ids)

	var keys []string
	for k, err := range ls.Keys([]byte("k-c")) {
		require.NoError(t, err)
		keys = append(keys, string(k))
	}
	assert.Equal(t, []string{"k-ccc", "k-ddd", "k-eee"}, keys)
}

func TestLayers_Concurrent(t *testing.T) {
	ls := openLayers(t, WithMaxEntities(16))

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	for w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perWorker {
				id := fmt.Sprintf("w%d-%03d", w, i)
				_, err := ls.SetEntity([]byte(id), nil, counts("k"))
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	got := block(t, ls, "k")
	assert.Len(t, got, workers*perWorker)
	assert.True(t, slices.IsSorted(got))
	for w := range workers {
		for i := range perWorker {
			assert.NotNil(t, get(t, ls, fmt.Sprintf("w%d-%03d", w, i)))
		}
	}
}

func TestLayers_Reopen(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	opts := []Option{
		WithLogger(discard),
		WithMergeInterval(-1),
		WithMaxEntities(2),
		WithStorage(storage.NewBlob(store)),
		WithManifestStore(manifest.NewStore(store)),
	}

	ls, err := Open(ctx, opts...)
	require.NoError(t, err)
	for _, id := range []string{"aaa", "bbb", "ccc"} {
		put(t, ls, id, "k")
	}
	require.NoError(t, ls.Flush(ctx))
	ok, err := ls.DelEntity([]byte("bbb"))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = ls.SetExtras([]byte("ccc"), []byte("meta"))
	require.NoError(t, err)
	require.True(t, ok)
	before := ls.Segments()
	require.NoError(t, ls.Close(ctx))
	require.ErrorIs(t, ls.Close(ctx), ErrClosed)

	ls, err = Open(ctx, opts...)
	require.NoError(t, err)
	defer ls.Close(ctx)

	assert.Nil(t, get(t, ls, "bbb"))
	assert.Equal(t, []byte("meta"), get(t, ls, "ccc").Extras())
	assert.Equal(t, uint32(1), get(t, ls, "aaa").Index())
	assert.Equal(t, []uint32{1, 3}, block(t, ls, "k"))

	after := ls.Segments()
	require.Len(t, after, 3)
	tail := after[len(after)-1]
	assert.Equal(t, "open", tail.State)
	assert.Greater(t, tail.ID, before[len(before)-1].ID)

	d := put(t, ls, "ddd", "k")
	assert.Equal(t, uint32(4), d.Index())
}

func TestLayers_OrphanCollection(t *testing.T) {
	ctx := context.Background()
	store := blobstore.NewMemoryStore()
	st := storage.NewBlob(store)

	d, err := dynamic.New()
	require.NoError(t, err)
	set(t, d, "aaa", "", counts("k"))
	sink, err := st.Create(ctx, "orphan")
	require.NoError(t, err)
	s, err := d.Commit(ctx, sink)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, d.Close())

	ls := openLayers(t, WithStorage(st), WithManifestStore(manifest.NewStore(store)))
	names, err := st.List(ctx)
	require.NoError(t, err)
	assert.NotContains(t, names, "orphan")
	assert.Nil(t, get(t, ls, "aaa"))
}

func TestLayers_FailedCommit(t *testing.T) {
	ctx := context.Background()
	ls := openLayers(t, WithStorage(brokenStorage{storage.NewMemory()}))

	put(t, ls, "aaa", "k")
	err := ls.Flush(ctx)
	require.ErrorIs(t, err, segment.ErrJobFailed)

	_, err = ls.GetEntity([]byte("aaa"))
	require.ErrorIs(t, err, segment.ErrJobFailed)
	assert.Equal(t, "failed", ls.Segments()[0].State)
}

func TestLayers_Merge(t *testing.T) {
	ctx := context.Background()
	ls := openLayers(t,
		WithMaxEntities(2),
		WithMergeInterval(10*time.Millisecond),
		WithMergePolicy(&SmallRunPolicy{MaxEntities: 100, MinRun: 2, MaxRun: 8}),
	)

	ids := []string{"aaa", "bbb", "ccc", "ddd", "eee", "fff"}
	for _, id := range ids {
		put(t, ls, id, "k")
	}
	require.NoError(t, ls.Flush(ctx))

	assert.Eventually(t, func() bool {
		segs := ls.Segments()
		return len(segs) == 2 && segs[0].State == "static" && segs[0].Entities == len(ids)
	}, 5*time.Second, 10*time.Millisecond)

	var want []uint32
	for _, id := range ids {
		e := get(t, ls, id)
		require.NotNil(t, e, id)
		byIndex, err := ls.GetEntityByIndex(e.Index())
		require.NoError(t, err)
		require.NotNil(t, byIndex)
		assert.Equal(t, id, string(byIndex.ID()))
		want = append(want, e.Index())
	}
	assert.Equal(t, want, block(t, ls, "k"))
}

func TestLayers_Closed(t *testing.T) {
	ctx := context.Background()
	ls, err := Open(ctx, WithLogger(discard))
	require.NoError(t, err)
	require.NoError(t, ls.Close(ctx))

	_, err = ls.SetEntity([]byte("aaa"), nil, nil)
	require.ErrorIs(t, err, ErrClosed)
	_, err = ls.GetEntity([]byte("aaa"))
	require.ErrorIs(t, err, ErrClosed)
	_, err = ls.DelEntity([]byte("aaa"))
	require.ErrorIs(t, err, ErrClosed)
	require.ErrorIs(t, ls.Flush(ctx), ErrClosed)
	assert.Nil(t, ls.Segments())
}

func TestLayers_Reconcile(t *testing.T) {
	st := storage.NewMemory()
	a := newStatic(t, st, "a", func(d *dynamic.Index) {
		set(t, d, "x", "", counts("k"))
		set(t, d, "y", "", counts("k"))
	})
	b := newStatic(t, st, "b", func(d *dynamic.Index) { set(t, d, "z", "", counts("k")) })

	la := &layer{name: "a", index: a, shadow: newShadow()}
	lb := &layer{name: "b", index: b, shadow: newShadow()}
	mr := &mergeRun{
		run:       []*layer{la, lb},
		snapshots: []*roaring.Bitmap{la.shadow.Clone(), lb.shadow.Clone()},
	}
	mr.job = newMergeJob("merged", nil, st, nil, discard, nil)
	res, idx := mergeInto(t, st, "merged",
		Source{Index: a, Skip: mr.snapshots[0].Contains},
		Source{Index: b, Skip: mr.snapshots[1].Contains},
	)
	require.Equal(t, 3, res.Entities)

	// Changes that reach the sources while the merge runs.
	la.shadow.Add(1)
	ok, err := a.DelEntity([]byte("y"))
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = b.SetExtras([]byte("z"), []byte("meta"))
	require.NoError(t, err)
	require.True(t, ok)

	ls := &Layers{logger: discard}
	ls.reconcile(mr, res, idx)

	for _, id := range []string{"x", "y"} {
		e, err := idx.GetEntity([]byte(id))
		require.NoError(t, err)
		assert.Nil(t, e, id)
	}
	e, err := idx.GetEntity([]byte("z"))
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, []byte("meta"), e.Extras())

	c, err := idx.GetKeyBlock([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []uint32{3}, indexes(c))
}
