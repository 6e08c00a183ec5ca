package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contents/internal/resource"
	"github.com/hupe1980/contents/internal/segment"
	"github.com/hupe1980/contents/internal/segment/dynamic"
	"github.com/hupe1980/contents/internal/storage"
)

var errStorage = errors.New("storage unavailable")

// brokenStorage fails every Create.
type brokenStorage struct {
	storage.Storage
}

func (brokenStorage) Create(context.Context, string) (storage.Sink, error) {
	return nil, errStorage
}

func newDynamic(t *testing.T, name string, ids ...string) *dynamic.Index {
	t.Helper()
	d, err := dynamic.New(dynamic.WithName(name))
	require.NoError(t, err)
	for _, id := range ids {
		set(t, d, id, "x-"+id, counts("k1"))
	}
	return d
}

func TestCommitJob_OverlayWhileRunning(t *testing.T) {
	ctx := context.Background()
	d := newDynamic(t, "seg", "aaa", "bbb", "ccc")

	// Hold the only background slot so the commit waits.
	rc := resource.NewController(resource.Config{MaxBackgroundJobs: 1})
	require.True(t, rc.TryAcquireBackground())

	j := newCommitJob(d, storage.NewMemory(), rc, discard, nil)
	t.Cleanup(func() { _ = j.Close() })
	require.True(t, d.Frozen())

	j.Start(ctx)
	assert.Equal(t, JobRunning, j.State())

	_, err := j.SetEntity([]byte("ddd"), nil, nil)
	require.ErrorIs(t, err, segment.ErrReadOnly)
	_, err = d.SetEntity([]byte("ddd"), nil, nil)
	require.ErrorIs(t, err, segment.ErrReadOnly)

	ok, err := j.DelEntity([]byte("bbb"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = j.DelEntity([]byte("bbb"))
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = j.SetExtras([]byte("ccc"), []byte("new"))
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = j.SetExtras([]byte("bbb"), []byte("new"))
	require.NoError(t, err)
	assert.False(t, ok)

	e, err := j.GetEntity([]byte("bbb"))
	require.NoError(t, err)
	assert.Nil(t, e)
	e, err = j.GetEntityByIndex(2)
	require.NoError(t, err)
	assert.Nil(t, e)
	e, err = j.GetEntity([]byte("ccc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), e.Extras())

	c, err := j.GetKeyBlock([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []uint32{1, 3}, indexes(c))
	assert.Equal(t, 2, j.Stats().Entities)

	var ids []string
	for e, err := range j.Entities(nil) {
		require.NoError(t, err)
		ids = append(ids, string(e.ID()))
	}
	assert.Equal(t, []string{"aaa", "ccc"}, ids)

	res, err := j.Result()
	require.NoError(t, err)
	assert.Nil(t, res)

	rc.ReleaseBackground()
	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	idx, err := j.Wait(waitCtx)
	require.NoError(t, err)
	assert.Equal(t, JobCommitted, j.State())
	assert.Equal(t, "seg", idx.Name())

	// The static index adopted the overlay.
	e, err = j.GetEntity([]byte("bbb"))
	require.NoError(t, err)
	assert.Nil(t, e)
	e, err = idx.GetEntity([]byte("ccc"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new"), e.Extras())

	ok, err = j.DelEntity([]byte("aaa"))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2, idx.Patches().Deletes())
	assert.Equal(t, 1, j.Stats().Entities)
	assert.Equal(t, uint32(3), j.GetMaxIndex())
}

func TestCommitJob_Failure(t *testing.T) {
	ctx := context.Background()
	d := newDynamic(t, "seg", "aaa")

	notified := make(chan job, 1)
	j := newCommitJob(d, brokenStorage{storage.NewMemory()}, nil, discard, func(j job) { notified <- j })
	t.Cleanup(func() { _ = j.Close() })

	_, err := j.Wait(ctx)
	require.ErrorIs(t, err, ErrJobNotStarted)

	j.Start(ctx)
	_, err = j.Wait(ctx)
	require.ErrorIs(t, err, segment.ErrJobFailed)
	require.ErrorIs(t, err, errStorage)
	assert.Equal(t, JobFailed, j.State())
	<-notified

	var je *segment.JobError
	require.ErrorAs(t, err, &je)
	assert.Equal(t, "seg", je.Segment)
	assert.Equal(t, "commit", je.Op)

	// Every later call re-raises the failure.
	_, err = j.GetEntity([]byte("aaa"))
	require.ErrorIs(t, err, segment.ErrJobFailed)
	_, err = j.DelEntity([]byte("aaa"))
	require.ErrorIs(t, err, segment.ErrJobFailed)
	_, err = j.GetKeyBlock([]byte("k1"))
	require.ErrorIs(t, err, segment.ErrJobFailed)
	_, err = j.SetEntity([]byte("bbb"), nil, nil)
	require.ErrorIs(t, err, segment.ErrJobFailed)
	for _, err := range j.Entities(nil) {
		require.ErrorIs(t, err, segment.ErrJobFailed)
	}
}
