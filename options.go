package contents

import (
	"time"

	"github.com/hupe1980/contents/blobstore"
	"github.com/hupe1980/contents/internal/codec"
	"github.com/hupe1980/contents/internal/engine"
	"github.com/hupe1980/contents/internal/resource"
)

type options struct {
	store            blobstore.BlobStore
	prefix           string
	compression      codec.Compression
	mmap             bool
	maxEntities      int
	maxAllocBytes    uint64
	chunkSize        int
	mergeInterval    time.Duration
	mergePolicy      MergePolicy
	resources        resource.Config
	rc               *resource.Controller
	logger           *Logger
	metricsCollector MetricsCollector
	err              error
}

func defaultOptions() options {
	cfg := DefaultConfig()
	return options{
		maxEntities:      cfg.MaxEntities,
		maxAllocBytes:    cfg.MaxAllocBytes,
		mergeInterval:    cfg.MergeInterval,
		logger:           NoopLogger(),
		metricsCollector: NoopMetricsCollector{},
	}
}

// Option configures Open.
type Option func(*options)

// WithBlobStore persists committed segments, patches and the manifest in
// store. An index opened on a store that already holds a manifest resumes
// from it. Without a blob store the index lives in memory.
func WithBlobStore(store blobstore.BlobStore) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithPrefix places segment containers under prefix inside the blob store.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithCompression compresses committed segment regions.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		o.compression = c
	}
}

// WithMmap serves committed segments from mapped files when the blob store
// supports it (see blobstore.LocalStore).
func WithMmap() Option {
	return func(o *options) {
		o.mmap = true
	}
}

// WithMaxEntities sets the entity capacity of the open segment. Reaching it
// rotates the segment. Zero removes the limit.
func WithMaxEntities(n int) Option {
	return func(o *options) {
		o.maxEntities = n
	}
}

// WithMaxAllocBytes sets the arena ceiling of the open segment.
func WithMaxAllocBytes(n uint64) Option {
	return func(o *options) {
		o.maxAllocBytes = n
	}
}

// WithChunkSize sets the arena chunk size of open segments.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithMergeInterval sets how often background merging runs.
// A negative interval disables merging.
func WithMergeInterval(d time.Duration) Option {
	return func(o *options) {
		o.mergeInterval = d
	}
}

// WithMergePolicy sets the policy choosing segments to merge.
func WithMergePolicy(p MergePolicy) Option {
	return func(o *options) {
		o.mergePolicy = p
	}
}

// WithMemoryLimit bounds the arena memory of all open segments together.
func WithMemoryLimit(bytes int64) Option {
	return func(o *options) {
		o.resources.MemoryLimitBytes = bytes
	}
}

// WithMaxBackgroundJobs bounds concurrent commit and merge jobs.
func WithMaxBackgroundJobs(n int64) Option {
	return func(o *options) {
		o.resources.MaxBackgroundJobs = n
	}
}

// WithIOLimit throttles segment writes to bytesPerSec.
func WithIOLimit(bytesPerSec int64) Option {
	return func(o *options) {
		o.resources.IOLimitBytesPerSec = bytesPerSec
	}
}

// WithResourceController shares rc between several indexes. It takes
// precedence over WithMemoryLimit, WithMaxBackgroundJobs and WithIOLimit.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLogger sets the logger. If nil is passed, logging is disabled.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithMetricsCollector sets the metrics collector.
// If nil is passed, metrics are not collected.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithConfig applies cfg. Options given after it override its values.
func WithConfig(cfg *Config) Option {
	return func(o *options) {
		if err := cfg.Validate(); err != nil {
			o.err = err
			return
		}
		c, _ := codec.ParseCompression(cfg.Compression)
		o.compression = c
		o.mmap = cfg.Mmap
		o.maxEntities = cfg.MaxEntities
		o.maxAllocBytes = cfg.MaxAllocBytes
		o.chunkSize = cfg.ChunkSize
		o.mergeInterval = cfg.MergeInterval
		o.resources = resource.Config{
			MemoryLimitBytes:   cfg.Resources.MemoryLimitBytes,
			MaxBackgroundJobs:  cfg.Resources.MaxBackgroundJobs,
			IOLimitBytesPerSec: cfg.Resources.IOLimitBytesPerSec,
		}
		o.logger = cfg.Logger()
	}
}

func (o *options) validate() error {
	if o.err != nil {
		return o.err
	}
	if o.maxEntities < 0 || o.chunkSize < 0 {
		return ErrInvalidArgument
	}
	return nil
}

func (o *options) controller() *resource.Controller {
	if o.rc != nil {
		return o.rc
	}
	return resource.NewController(o.resources)
}

func (o *options) engineOptions() []engine.Option {
	opts := []engine.Option{
		engine.WithLogger(o.logger.Logger),
		engine.WithMaxEntities(o.maxEntities),
		engine.WithMaxAllocBytes(o.maxAllocBytes),
		engine.WithMergeInterval(o.mergeInterval),
		engine.WithMetricsObserver(observer{metrics: o.metricsCollector, logger: o.logger}),
	}
	if o.chunkSize > 0 {
		opts = append(opts, engine.WithChunkSize(o.chunkSize))
	}
	if o.mergePolicy != nil {
		opts = append(opts, engine.WithMergePolicy(o.mergePolicy))
	}
	return opts
}
