package engine

import "time"

// MetricsObserver defines the interface for observing engine events.
type MetricsObserver interface {
	// OnRotate is called when the open segment is frozen and replaced.
	OnRotate(segment string, entities int)

	// OnCommit is called when a commit job completes.
	OnCommit(duration time.Duration, entities int, err error)

	// OnMerge is called when a merge job completes.
	OnMerge(duration time.Duration, inputSegments int, outputEntities int, err error)

	// OnQueueDepth reports the depth of a background queue.
	OnQueueDepth(name string, depth int)

	// OnSegments reports the number of segments after a change.
	OnSegments(n int)
}

// NoopMetricsObserver is a no-op implementation of MetricsObserver.
type NoopMetricsObserver struct{}

func (NoopMetricsObserver) OnRotate(string, int)                   {}
func (NoopMetricsObserver) OnCommit(time.Duration, int, error)     {}
func (NoopMetricsObserver) OnMerge(time.Duration, int, int, error) {}
func (NoopMetricsObserver) OnQueueDepth(string, int)               {}
func (NoopMetricsObserver) OnSegments(int)                         {}
