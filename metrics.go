package contents

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/hupe1980/contents/internal/engine"
)

// MetricsCollector defines an interface for collecting operational metrics.
// PrometheusCollector exports them to Prometheus; BasicMetricsCollector keeps
// plain counters.
type MetricsCollector interface {
	// RecordSetEntity is called after each insert or replace.
	RecordSetEntity(duration time.Duration, err error)

	// RecordDelete is called after each delete.
	RecordDelete(duration time.Duration, err error)

	// RecordUpdate is called after each extras update.
	RecordUpdate(duration time.Duration, err error)

	// RecordLookup is called after each postings block lookup.
	RecordLookup(duration time.Duration, err error)

	// RecordRotate is called when the open segment is frozen.
	RecordRotate(entities int)

	// RecordCommit is called when a commit job finishes.
	RecordCommit(duration time.Duration, entities int, err error)

	// RecordMerge is called when a merge job finishes.
	RecordMerge(duration time.Duration, inputs, entities int, err error)

	// RecordQueueDepth reports the depth of a background queue.
	RecordQueueDepth(name string, depth int)

	// RecordSegments reports the segment count after a change.
	RecordSegments(n int)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordSetEntity(time.Duration, error)       {}
func (NoopMetricsCollector) RecordDelete(time.Duration, error)          {}
func (NoopMetricsCollector) RecordUpdate(time.Duration, error)          {}
func (NoopMetricsCollector) RecordLookup(time.Duration, error)          {}
func (NoopMetricsCollector) RecordRotate(int)                           {}
func (NoopMetricsCollector) RecordCommit(time.Duration, int, error)     {}
func (NoopMetricsCollector) RecordMerge(time.Duration, int, int, error) {}
func (NoopMetricsCollector) RecordQueueDepth(string, int)               {}
func (NoopMetricsCollector) RecordSegments(int)                         {}

// BasicMetricsCollector provides simple in-memory metrics collection.
type BasicMetricsCollector struct {
	SetCount      atomic.Int64
	SetErrors     atomic.Int64
	SetTotalNanos atomic.Int64
	DeleteCount   atomic.Int64
	DeleteErrors  atomic.Int64
	UpdateCount   atomic.Int64
	UpdateErrors  atomic.Int64
	LookupCount   atomic.Int64
	LookupErrors  atomic.Int64
	Rotations     atomic.Int64
	Commits       atomic.Int64
	CommitErrors  atomic.Int64
	Merges        atomic.Int64
	MergeErrors   atomic.Int64
	Segments      atomic.Int64
	PendingMerges atomic.Int64
}

// RecordSetEntity implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSetEntity(duration time.Duration, err error) {
	b.SetCount.Add(1)
	b.SetTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.SetErrors.Add(1)
	}
}

// RecordDelete implements MetricsCollector.
func (b *BasicMetricsCollector) RecordDelete(_ time.Duration, err error) {
	b.DeleteCount.Add(1)
	if err != nil {
		b.DeleteErrors.Add(1)
	}
}

// RecordUpdate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordUpdate(_ time.Duration, err error) {
	b.UpdateCount.Add(1)
	if err != nil {
		b.UpdateErrors.Add(1)
	}
}

// RecordLookup implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLookup(_ time.Duration, err error) {
	b.LookupCount.Add(1)
	if err != nil {
		b.LookupErrors.Add(1)
	}
}

// RecordRotate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordRotate(int) {
	b.Rotations.Add(1)
}

// RecordCommit implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCommit(_ time.Duration, _ int, err error) {
	b.Commits.Add(1)
	if err != nil {
		b.CommitErrors.Add(1)
	}
}

// RecordMerge implements MetricsCollector.
func (b *BasicMetricsCollector) RecordMerge(_ time.Duration, _, _ int, err error) {
	b.Merges.Add(1)
	if err != nil {
		b.MergeErrors.Add(1)
	}
}

// RecordQueueDepth implements MetricsCollector. Only the merge queue is kept.
func (b *BasicMetricsCollector) RecordQueueDepth(name string, depth int) {
	if name == "merge" {
		b.PendingMerges.Store(int64(depth))
	}
}

// RecordSegments implements MetricsCollector.
func (b *BasicMetricsCollector) RecordSegments(n int) {
	b.Segments.Store(int64(n))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		SetCount:      b.SetCount.Load(),
		SetErrors:     b.SetErrors.Load(),
		SetAvgNanos:   b.getAvgSetNanos(),
		DeleteCount:   b.DeleteCount.Load(),
		DeleteErrors:  b.DeleteErrors.Load(),
		UpdateCount:   b.UpdateCount.Load(),
		UpdateErrors:  b.UpdateErrors.Load(),
		LookupCount:   b.LookupCount.Load(),
		LookupErrors:  b.LookupErrors.Load(),
		Rotations:     b.Rotations.Load(),
		Commits:       b.Commits.Load(),
		CommitErrors:  b.CommitErrors.Load(),
		Merges:        b.Merges.Load(),
		MergeErrors:   b.MergeErrors.Load(),
		Segments:      b.Segments.Load(),
		PendingMerges: b.PendingMerges.Load(),
	}
}

func (b *BasicMetricsCollector) getAvgSetNanos() int64 {
	count := b.SetCount.Load()
	if count == 0 {
		return 0
	}
	return b.SetTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	SetCount      int64
	SetErrors     int64
	SetAvgNanos   int64
	DeleteCount   int64
	DeleteErrors  int64
	UpdateCount   int64
	UpdateErrors  int64
	LookupCount   int64
	LookupErrors  int64
	Rotations     int64
	Commits       int64
	CommitErrors  int64
	Merges        int64
	MergeErrors   int64
	Segments      int64
	PendingMerges int64
}

// observer forwards engine events to the collector and the logger.
type observer struct {
	metrics MetricsCollector
	logger  *Logger
}

var _ engine.MetricsObserver = observer{}

func (o observer) OnRotate(segment string, entities int) {
	o.metrics.RecordRotate(entities)
	o.logger.Debug("segment rotated", "segment", segment, "entities", entities)
}

func (o observer) OnCommit(duration time.Duration, entities int, err error) {
	err = translateError(err)
	o.metrics.RecordCommit(duration, entities, err)
	o.logger.LogCommit(context.Background(), duration, entities, err)
}

func (o observer) OnMerge(duration time.Duration, inputs, entities int, err error) {
	err = translateError(err)
	o.metrics.RecordMerge(duration, inputs, entities, err)
	o.logger.LogMerge(context.Background(), duration, inputs, entities, err)
}

func (o observer) OnQueueDepth(name string, depth int) {
	o.metrics.RecordQueueDepth(name, depth)
}

func (o observer) OnSegments(n int) {
	o.metrics.RecordSegments(n)
}
