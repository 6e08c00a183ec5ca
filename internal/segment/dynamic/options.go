package dynamic

import (
	"log/slog"

	"github.com/hupe1980/contents/internal/resource"
)

// DefaultCapacity is the default number of entity slots per segment.
const DefaultCapacity = 1 << 16

type options struct {
	name       string
	capacity   int
	chunkSize  int
	maxAlloc   uint64
	keyBuckets int
	rc         *resource.Controller
	logger     *slog.Logger
}

// Option configures an Index.
type Option func(*options)

// WithName sets the name used in log records and errors.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithCapacity limits the number of entity slots, deleted ones included.
func WithCapacity(n int) Option {
	return func(o *options) {
		o.capacity = n
	}
}

// WithChunkSize sets the arena chunk size.
func WithChunkSize(n int) Option {
	return func(o *options) {
		o.chunkSize = n
	}
}

// WithMaxAllocBytes sets the arena ceiling. Once the arena holds n bytes,
// inserts fail with an allocation overflow. Zero means no ceiling.
func WithMaxAllocBytes(n uint64) Option {
	return func(o *options) {
		o.maxAlloc = n
	}
}

// WithKeyBuckets sets the number of hash buckets of the postings store.
func WithKeyBuckets(n int) Option {
	return func(o *options) {
		o.keyBuckets = n
	}
}

// WithResourceController charges arena chunks against rc's memory budget.
func WithResourceController(rc *resource.Controller) Option {
	return func(o *options) {
		o.rc = rc
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}
