package engine

import (
	"log/slog"
	"runtime"
	"sync/atomic"

	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/postings"
)

// pinSet drops the pins taken on a group of layers exactly once.
type pinSet struct {
	layers []*layer
	logger *slog.Logger
	done   atomic.Bool
}

func (p *pinSet) release() {
	if !p.done.CompareAndSwap(false, true) {
		return
	}
	for _, ly := range p.layers {
		ly.unpin(p.logger)
	}
}

// pinnedCursor holds its layers open until Find reports the end. An
// abandoned cursor releases them when it is collected.
type pinnedCursor struct {
	postings.Cursor
	pins *pinSet
}

func newPinnedCursor(c postings.Cursor, pins *pinSet) postings.Cursor {
	pc := &pinnedCursor{Cursor: c, pins: pins}
	runtime.AddCleanup(pc, (*pinSet).release, pins)
	return pc
}

func (c *pinnedCursor) Find(minIndex uint32) uint32 {
	i := c.Cursor.Find(minIndex)
	if i == entity.NotFound {
		c.pins.release()
	}
	return i
}
