package resource

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_ArenaBudget(t *testing.T) {
	c := NewController(Config{MemoryLimitBytes: 4 << 10})
	assert.Equal(t, int64(4<<10), c.MemoryLimit())

	// Two open segments each reserve a chunk.
	require.NoError(t, c.AcquireMemory(2<<10))
	require.NoError(t, c.AcquireMemory(1<<10))
	assert.ErrorIs(t, c.AcquireMemory(2<<10), ErrMemoryLimitExceeded)
	assert.Equal(t, int64(3<<10), c.MemoryUsage())

	// Releasing a committed segment's arena frees room.
	c.ReleaseMemory(2 << 10)
	require.NoError(t, c.AcquireMemory(2<<10))
	assert.Equal(t, int64(3<<10), c.MemoryUsage())

	require.NoError(t, c.AcquireMemory(0))
	c.ReleaseMemory(-1)
	assert.Equal(t, int64(3<<10), c.MemoryUsage())
}

func TestController_TracksWithoutLimit(t *testing.T) {
	c := NewController(Config{})
	assert.Zero(t, c.MemoryLimit())

	require.NoError(t, c.AcquireMemory(1<<30))
	c.ReleaseMemory(1 << 29)
	assert.Equal(t, int64(1<<29), c.MemoryUsage())
}

func TestController_JobSlots(t *testing.T) {
	c := NewController(Config{})
	ctx := t.Context()

	for range DefaultBackgroundJobs {
		require.NoError(t, c.AcquireBackground(ctx))
	}
	assert.Equal(t, int64(DefaultBackgroundJobs), c.BackgroundJobs())
	assert.False(t, c.TryAcquireBackground())

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.AcquireBackground(waitCtx), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- c.AcquireBackground(ctx) }()
	c.ReleaseBackground()
	require.NoError(t, <-done)
	assert.Equal(t, int64(DefaultBackgroundJobs), c.BackgroundJobs())
}

func TestController_Nil(t *testing.T) {
	var c *Controller
	ctx := context.Background()

	require.NoError(t, c.AcquireMemory(1<<40))
	c.ReleaseMemory(1 << 40)
	assert.Zero(t, c.MemoryUsage())
	require.NoError(t, c.AcquireBackground(ctx))
	assert.True(t, c.TryAcquireBackground())
	c.ReleaseBackground()
	require.NoError(t, c.AcquireIO(ctx, 1<<30))
}

func TestRateLimitedWriter_SplitsLargeWrites(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 64 << 10})

	var dst bytes.Buffer
	w := NewRateLimitedWriter(context.Background(), &dst, c)
	container := bytes.Repeat([]byte("CNTX"), 24<<10)

	start := time.Now()
	n, err := w.Write(container)
	require.NoError(t, err)
	assert.Equal(t, len(container), n)
	assert.Equal(t, container, dst.Bytes())
	// 96 KiB at 64 KiB/s with a full 64 KiB bucket.
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
}

func TestRateLimitedWriter_Canceled(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 16})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytes.Buffer
	_, err := NewRateLimitedWriter(ctx, &dst, c).Write(make([]byte, 64))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, dst.Len())
}
