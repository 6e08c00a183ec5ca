package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/contents/blobstore"
	"github.com/hupe1980/contents/internal/codec"
	"github.com/hupe1980/contents/internal/resource"
)

const (
	containerExt = ".cntx"
	patchExt     = ".patch"
)

// Option configures a Blob storage.
type Option func(*Blob)

// WithCompression compresses container regions.
func WithCompression(c codec.Compression) Option {
	return func(b *Blob) {
		b.compression = c
	}
}

// WithRateLimit throttles container writes through the controller's IO limiter.
func WithRateLimit(rc *resource.Controller) Option {
	return func(b *Blob) {
		b.rc = rc
	}
}

// WithMmap serves uncompressed regions straight from mappable blobs instead
// of copying them to the heap. Region slices then die with Close.
func WithMmap() Option {
	return func(b *Blob) {
		b.mmap = true
	}
}

// WithPrefix places containers under prefix inside the blob store.
func WithPrefix(prefix string) Option {
	return func(b *Blob) {
		b.prefix = prefix
	}
}

// Blob is a Storage over a blobstore.BlobStore.
type Blob struct {
	store       blobstore.BlobStore
	compression codec.Compression
	rc          *resource.Controller
	mmap        bool
	prefix      string
}

var _ Storage = (*Blob)(nil)

// NewBlob creates a Storage writing containers into store.
func NewBlob(store blobstore.BlobStore, opts ...Option) *Blob {
	b := &Blob{store: store}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// NewMemory returns a Storage backed by an in-memory blob store.
func NewMemory(opts ...Option) *Blob {
	return NewBlob(blobstore.NewMemoryStore(), opts...)
}

// Store returns the underlying blob store.
func (b *Blob) Store() blobstore.BlobStore { return b.store }

func (b *Blob) containerName(name string) string { return b.prefix + name + containerExt }

func (b *Blob) patchName(name string) string { return b.prefix + name + patchExt }

// Create starts a new container. Nothing is visible until Commit.
func (b *Blob) Create(ctx context.Context, name string) (Sink, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if name == "" || strings.ContainsAny(name, "/\\") {
		return nil, fmt.Errorf("storage: invalid container name %q", name)
	}
	return &sink{storage: b, name: name}, nil
}

// Open loads and validates a committed container.
func (b *Blob) Open(ctx context.Context, name string) (Serialized, error) {
	blob, err := b.store.Open(ctx, b.containerName(name))
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", name, err)
	}

	data, err := blobstore.ReadAll(ctx, blob)
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("storage: read %s: %w", name, err)
	}

	_, mapped := blob.(blobstore.Mappable)
	keep := mapped && b.mmap && b.compression == codec.CompressionNone
	if mapped && !keep {
		data = bytes.Clone(data)
	}

	regions, err := Decode(data)
	if err != nil {
		_ = blob.Close()
		return nil, fmt.Errorf("storage: %s: %w", name, err)
	}

	s := &serialized{
		storage: b,
		name:    name,
		regions: regions,
		size:    blob.Size(),
	}
	if keep {
		s.blob = blob
	} else {
		_ = blob.Close()
	}
	return s, nil
}

// List returns the names of all committed containers.
func (b *Blob) List(ctx context.Context) ([]string, error) {
	names, err := b.store.List(ctx, b.prefix)
	if err != nil {
		return nil, err
	}
	out := names[:0]
	for _, n := range names {
		n = strings.TrimPrefix(n, b.prefix)
		if strings.Contains(n, "/") || !strings.HasSuffix(n, containerExt) {
			continue
		}
		out = append(out, strings.TrimSuffix(n, containerExt))
	}
	return out, nil
}

// Delete removes a container and its patches.
func (b *Blob) Delete(ctx context.Context, name string) error {
	return errors.Join(
		b.store.Delete(ctx, b.patchName(name)),
		b.store.Delete(ctx, b.containerName(name)),
	)
}

type sink struct {
	storage  *Blob
	name     string
	mu       sync.Mutex
	finished bool
	streams  [regionCount]bytes.Buffer
}

func (s *sink) Name() string { return s.name }

func (s *sink) Entities() io.Writer { return &s.streams[RegionEntities] }

func (s *sink) Contents() io.Writer { return &s.streams[RegionContents] }

func (s *sink) Chains() io.Writer { return &s.streams[RegionChains] }

func (s *sink) Commit(ctx context.Context) (Serialized, error) {
	s.mu.Lock()
	if s.finished {
		s.mu.Unlock()
		return nil, ErrCommitted
	}
	s.finished = true
	var regions [regionCount][]byte
	for i := range s.streams {
		regions[i] = s.streams[i].Bytes()
	}
	s.mu.Unlock()

	container, err := Encode(s.storage.compression, regions)
	if err != nil {
		return nil, err
	}
	for i := range s.streams {
		s.streams[i] = bytes.Buffer{}
	}

	if err := s.write(ctx, container); err != nil {
		return nil, fmt.Errorf("storage: commit %s: %w", s.name, err)
	}
	return s.storage.Open(ctx, s.name)
}

func (s *sink) write(ctx context.Context, container []byte) error {
	w, err := s.storage.store.Create(ctx, s.storage.containerName(s.name))
	if err != nil {
		return err
	}
	if _, err := io.Copy(resource.NewRateLimitedWriter(ctx, w, s.storage.rc), bytes.NewReader(container)); err != nil {
		_ = w.Close()
		_ = s.storage.store.Delete(ctx, s.storage.containerName(s.name))
		return err
	}
	if err := w.Sync(); err != nil {
		_ = w.Close()
		_ = s.storage.store.Delete(ctx, s.storage.containerName(s.name))
		return err
	}
	return w.Close()
}

func (s *sink) Remove(ctx context.Context) error {
	s.mu.Lock()
	committed := s.finished
	s.finished = true
	for i := range s.streams {
		s.streams[i] = bytes.Buffer{}
	}
	s.mu.Unlock()

	if committed {
		return s.storage.Delete(ctx, s.name)
	}
	return nil
}

type serialized struct {
	storage *Blob
	name    string
	blob    blobstore.Blob
	regions [regionCount][]byte
	size    int64
	closed  atomic.Bool
}

func (s *serialized) Name() string { return s.name }

func (s *serialized) Entities() []byte { return s.regions[RegionEntities] }

func (s *serialized) Contents() []byte { return s.regions[RegionContents] }

func (s *serialized) Chains() []byte { return s.regions[RegionChains] }

func (s *serialized) Size() int64 { return s.size }

func (s *serialized) Patches(ctx context.Context) ([]byte, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	data, err := blobstore.Get(ctx, s.storage.store, s.storage.patchName(s.name))
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return decodePatch(data)
}

func (s *serialized) NewPatch(ctx context.Context) (io.WriteCloser, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	return &patchWriter{ctx: ctx, s: s}, nil
}

// Mapped reports whether the regions alias a mapped blob.
func (s *serialized) Mapped() bool {
	return s.blob != nil
}

func (s *serialized) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	if s.blob != nil {
		return s.blob.Close()
	}
	return nil
}

func (s *serialized) Remove(ctx context.Context) error {
	return errors.Join(s.Close(), s.storage.Delete(ctx, s.name))
}

type patchWriter struct {
	ctx    context.Context
	s      *serialized
	buf    bytes.Buffer
	closed bool
}

func (w *patchWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	return w.buf.Write(p)
}

func (w *patchWriter) Close() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	return w.s.storage.store.Put(w.ctx, w.s.storage.patchName(w.s.name), encodePatch(w.buf.Bytes()))
}
