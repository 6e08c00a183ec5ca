package engine

import (
	"log/slog"
	"time"

	"github.com/hupe1980/contents/internal/manifest"
	"github.com/hupe1980/contents/internal/resource"
	"github.com/hupe1980/contents/internal/segment/dynamic"
	"github.com/hupe1980/contents/internal/storage"
)

const (
	// DefaultMergeInterval is how often the monitor looks for merge work.
	DefaultMergeInterval = 10 * time.Second

	// maxRotations bounds the rotate-and-retry loop of a single insert.
	maxRotations = 16
)

// Option defines a configuration option for Layers.
type Option func(*Layers)

// WithLogger sets the logger for the layers and their jobs.
func WithLogger(l *slog.Logger) Option {
	return func(ls *Layers) {
		ls.logger = l
	}
}

// WithStorage sets where committed segments are written.
// If unset, segments are kept in memory.
func WithStorage(st storage.Storage) Option {
	return func(ls *Layers) {
		ls.storage = st
	}
}

// WithManifestStore enables persistence of the segment list. Without a
// manifest store the layers cannot be reopened.
func WithManifestStore(st *manifest.Store) Option {
	return func(ls *Layers) {
		ls.manifests = st
	}
}

// WithMaxEntities sets the entity capacity of each dynamic segment.
// Zero removes the limit.
func WithMaxEntities(n int) Option {
	return func(ls *Layers) {
		if n >= 0 {
			ls.maxEntities = n
		}
	}
}

// WithMaxAllocBytes sets the arena ceiling of each dynamic segment.
func WithMaxAllocBytes(n uint64) Option {
	return func(ls *Layers) {
		ls.maxAlloc = n
	}
}

// WithChunkSize sets the arena chunk size of dynamic segments.
func WithChunkSize(n int) Option {
	return func(ls *Layers) {
		ls.chunkSize = n
	}
}

// WithMergeInterval sets how often the monitor runs the merge policy.
// A negative interval disables background merging.
func WithMergeInterval(d time.Duration) Option {
	return func(ls *Layers) {
		ls.mergeInterval = d
	}
}

// WithMergePolicy sets the policy used to pick segments to merge.
func WithMergePolicy(p MergePolicy) Option {
	return func(ls *Layers) {
		if p != nil {
			ls.policy = p
		}
	}
}

// WithResourceController shares a resource controller with the layers. It
// bounds arena memory and the number of concurrent commit and merge jobs.
func WithResourceController(rc *resource.Controller) Option {
	return func(ls *Layers) {
		ls.rc = rc
	}
}

// WithMetricsObserver sets the metrics observer.
func WithMetricsObserver(observer MetricsObserver) Option {
	return func(ls *Layers) {
		if observer != nil {
			ls.metrics = observer
		}
	}
}

func (ls *Layers) dynamicOptions(name string) []dynamic.Option {
	opts := []dynamic.Option{
		dynamic.WithName(name),
		dynamic.WithCapacity(ls.maxEntities),
		dynamic.WithLogger(ls.logger),
	}
	if ls.maxAlloc > 0 {
		opts = append(opts, dynamic.WithMaxAllocBytes(ls.maxAlloc))
	}
	if ls.chunkSize > 0 {
		opts = append(opts, dynamic.WithChunkSize(ls.chunkSize))
	}
	if ls.rc != nil {
		opts = append(opts, dynamic.WithResourceController(ls.rc))
	}
	return opts
}
