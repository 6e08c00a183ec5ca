package resource

import (
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

// ErrMemoryLimitExceeded is returned when an arena chunk does not fit the
// memory budget. Open segments treat it as an allocation overflow.
var ErrMemoryLimitExceeded = errors.New("resource: memory limit exceeded")

// DefaultBackgroundJobs is used when Config.MaxBackgroundJobs is not positive.
const DefaultBackgroundJobs = 2

// Config holds resource limits.
type Config struct {
	// MemoryLimitBytes caps the arena memory of all open segments. 0 only tracks usage.
	MemoryLimitBytes int64
	// MaxBackgroundJobs bounds concurrent commit and merge jobs.
	MaxBackgroundJobs int64
	// IOLimitBytesPerSec throttles container writes. 0 is unlimited.
	IOLimitBytesPerSec int64
}

// Controller is shared by the segments of one or more indexes. A nil
// *Controller imposes no limits.
type Controller struct {
	mem  budget
	jobs slots
	io   *rate.Limiter
}

// budget is a byte budget; a nil sem means unlimited.
type budget struct {
	limit int64
	sem   *semaphore.Weighted
	used  atomic.Int64
}

// slots counts background jobs.
type slots struct {
	sem  *semaphore.Weighted
	busy atomic.Int64
}

// NewController builds a controller from cfg.
func NewController(cfg Config) *Controller {
	jobs := cfg.MaxBackgroundJobs
	if jobs <= 0 {
		jobs = DefaultBackgroundJobs
	}
	c := &Controller{}
	c.jobs.sem = semaphore.NewWeighted(jobs)
	if cfg.MemoryLimitBytes > 0 {
		c.mem.limit = cfg.MemoryLimitBytes
		c.mem.sem = semaphore.NewWeighted(cfg.MemoryLimitBytes)
	}
	if cfg.IOLimitBytesPerSec > 0 {
		c.io = rate.NewLimiter(rate.Limit(cfg.IOLimitBytesPerSec), int(cfg.IOLimitBytesPerSec))
	}
	return c
}

// AcquireMemory reserves n bytes or fails immediately.
func (c *Controller) AcquireMemory(n int64) error {
	if c == nil || n <= 0 {
		return nil
	}
	if c.mem.sem != nil && !c.mem.sem.TryAcquire(n) {
		return ErrMemoryLimitExceeded
	}
	c.mem.used.Add(n)
	return nil
}

func (c *Controller) ReleaseMemory(n int64) {
	if c == nil || n <= 0 {
		return
	}
	c.mem.used.Add(-n)
	if c.mem.sem != nil {
		c.mem.sem.Release(n)
	}
}

func (c *Controller) MemoryUsage() int64 {
	if c == nil {
		return 0
	}
	return c.mem.used.Load()
}

// MemoryLimit returns the budget, 0 when unlimited.
func (c *Controller) MemoryLimit() int64 {
	if c == nil {
		return 0
	}
	return c.mem.limit
}

// AcquireBackground blocks until a job slot is free or ctx is done.
func (c *Controller) AcquireBackground(ctx context.Context) error {
	if c == nil {
		return nil
	}
	if err := c.jobs.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	c.jobs.busy.Add(1)
	return nil
}

func (c *Controller) TryAcquireBackground() bool {
	if c == nil {
		return true
	}
	ok := c.jobs.sem.TryAcquire(1)
	if ok {
		c.jobs.busy.Add(1)
	}
	return ok
}

func (c *Controller) ReleaseBackground() {
	if c == nil {
		return
	}
	c.jobs.busy.Add(-1)
	c.jobs.sem.Release(1)
}

// BackgroundJobs returns the number of busy job slots.
func (c *Controller) BackgroundJobs() int64 {
	if c == nil {
		return 0
	}
	return c.jobs.busy.Load()
}

// AcquireIO waits until n bytes may be written. Requests larger than the
// limiter burst are split.
func (c *Controller) AcquireIO(ctx context.Context, n int) error {
	if c == nil || c.io == nil {
		return nil
	}
	for burst := c.io.Burst(); n > 0; n -= burst {
		if err := c.io.WaitN(ctx, min(n, burst)); err != nil {
			return err
		}
	}
	return nil
}
