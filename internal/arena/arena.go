package arena

import (
	"errors"
	"fmt"
	"math/bits"
	"sync"
	"sync/atomic"
)

// MemoryAcquirer reserves memory against a shared budget before a chunk is
// created.
type MemoryAcquirer interface {
	AcquireMemory(bytes int64) error
	ReleaseMemory(bytes int64)
}

var (
	// ErrMaxChunksExceeded is returned when the arena runs out of chunk slots.
	ErrMaxChunksExceeded = errors.New("arena: max chunks exceeded")
	// ErrClosed is returned by allocations after Free.
	ErrClosed = errors.New("arena: closed")
)

const (
	// DefaultChunkSize is used when New is given a non-positive size.
	DefaultChunkSize = 1 << 20
	// MaxChunks bounds the number of chunks, including oversized ones.
	MaxChunks = 1 << 16
)

// Ref addresses an allocation. The zero Ref is nil.
type Ref uint64

// Stats is a snapshot of the arena counters.
type Stats struct {
	BytesReserved uint64 // memory held by chunks
	BytesUsed     uint64 // bytes handed out
	Chunks        uint64
	Allocs        uint64
}

type chunk struct {
	data   []byte
	offset atomic.Int64
	index  uint32
}

// Arena is a chunked bump allocator for the mutable segment. Small
// allocations are lock-free; a mutex only guards chunk rotation.
type Arena struct {
	chunkSize  int
	chunkBits  int
	chunkMask  uint64
	chunks     [MaxChunks]atomic.Pointer[chunk]
	chunkCount atomic.Uint32
	current    atomic.Pointer[chunk]
	mu         sync.Mutex
	acquirer   MemoryAcquirer

	reserved atomic.Uint64
	used     atomic.Uint64
	allocs   atomic.Uint64
}

// Option configures an Arena.
type Option func(*Arena)

// WithMemoryAcquirer charges every chunk against acquirer.
func WithMemoryAcquirer(acquirer MemoryAcquirer) Option {
	return func(a *Arena) {
		a.acquirer = acquirer
	}
}

// New returns an arena with one chunk reserved. chunkSize is rounded up to a power of two; values
// <= 0 select DefaultChunkSize.
func New(chunkSize int, opts ...Option) (*Arena, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	chunkBits := bits.Len(uint(chunkSize - 1)) //nolint:gosec // chunkSize > 0
	chunkSize = 1 << chunkBits

	a := &Arena{
		chunkSize: chunkSize,
		chunkBits: chunkBits,
		chunkMask: uint64(chunkSize - 1), //nolint:gosec // positive
	}
	for _, opt := range opts {
		opt(a)
	}

	a.mu.Lock()
	c, err := a.newChunkLocked(chunkSize)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	// Offset 0 of chunk 0 is the nil Ref.
	c.offset.Store(1)
	a.used.Add(1)
	a.current.Store(c)
	return a, nil
}

func (a *Arena) newChunkLocked(size int) (*chunk, error) {
	idx := a.chunkCount.Load()
	if idx >= MaxChunks {
		return nil, ErrMaxChunksExceeded
	}
	if a.acquirer != nil {
		if err := a.acquirer.AcquireMemory(int64(size)); err != nil {
			return nil, err
		}
	}

	c := &chunk{data: make([]byte, size), index: idx}
	a.chunks[idx].Store(c)
	a.chunkCount.Add(1)
	a.reserved.Add(uint64(size)) //nolint:gosec // positive
	return c, nil
}

// Alloc reserves size bytes and returns their Ref and a writable view.
func (a *Arena) Alloc(size int) (Ref, []byte, error) {
	if size <= 0 {
		return 0, nil, nil
	}
	if size > a.chunkSize/4 {
		return a.allocLarge(size)
	}

	for {
		curr := a.current.Load()
		if curr == nil {
			return 0, nil, ErrClosed
		}

		old := curr.offset.Load()
		next := old + int64(size)
		if next <= int64(len(curr.data)) {
			if !curr.offset.CompareAndSwap(old, next) {
				continue
			}
			a.used.Add(uint64(size)) //nolint:gosec // positive
			a.allocs.Add(1)
			ref := Ref(uint64(curr.index)<<a.chunkBits | uint64(old)) //nolint:gosec // old < chunkSize
			return ref, curr.data[old:next:next], nil
		}

		a.mu.Lock()
		if a.current.Load() != curr {
			a.mu.Unlock()
			continue
		}
		c, err := a.newChunkLocked(a.chunkSize)
		if err != nil {
			a.mu.Unlock()
			return 0, nil, err
		}
		a.current.Store(c)
		a.mu.Unlock()
	}
}

// allocLarge gives big payloads a dedicated chunk so they do not waste the
// tail of the shared one.
func (a *Arena) allocLarge(size int) (Ref, []byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current.Load() == nil {
		return 0, nil, ErrClosed
	}
	c, err := a.newChunkLocked(size)
	if err != nil {
		return 0, nil, err
	}
	c.offset.Store(int64(size))
	a.used.Add(uint64(size)) //nolint:gosec // positive
	a.allocs.Add(1)
	return Ref(uint64(c.index) << a.chunkBits), c.data, nil
}

// Copy stores a copy of b and returns its Ref.
func (a *Arena) Copy(b []byte) (Ref, error) {
	ref, dst, err := a.Alloc(len(b))
	if err != nil {
		return 0, err
	}
	copy(dst, b)
	return ref, nil
}

// Bytes returns the n bytes stored at ref. It panics on a Ref that was not
// produced by this arena.
func (a *Arena) Bytes(ref Ref, n int) []byte {
	if ref == 0 || n == 0 {
		return nil
	}
	idx := uint64(ref) >> a.chunkBits
	if idx >= uint64(a.chunkCount.Load()) {
		panic(fmt.Sprintf("arena: stale ref %#x", uint64(ref)))
	}
	c := a.chunks[idx].Load()
	if c == nil {
		panic(fmt.Sprintf("arena: ref %#x after free", uint64(ref)))
	}
	off := uint64(ref) & a.chunkMask
	return c.data[off : off+uint64(n) : off+uint64(n)] //nolint:gosec // n > 0
}

// Stats returns usage counters.
func (a *Arena) Stats() Stats {
	return Stats{
		BytesReserved: a.reserved.Load(),
		BytesUsed:     a.used.Load(),
		Chunks:        uint64(a.chunkCount.Load()),
		Allocs:        a.allocs.Load(),
	}
}

// Used returns the number of bytes handed out so far.
func (a *Arena) Used() uint64 {
	return a.used.Load()
}

// Free drops all chunks and returns their memory to the acquirer. Refs
// become invalid; slices previously returned stay readable until they are
// garbage collected.
func (a *Arena) Free() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current.Swap(nil) == nil {
		return
	}
	if a.acquirer != nil {
		a.acquirer.ReleaseMemory(int64(a.reserved.Load())) //nolint:gosec // bounded by MaxChunks chunks
	}
	n := a.chunkCount.Load()
	for i := uint32(0); i < n; i++ {
		a.chunks[i].Store(nil)
	}
	a.reserved.Store(0)
}

func (a *Arena) String() string {
	s := a.Stats()
	return fmt.Sprintf("arena(%d chunks, %d/%d bytes, %d allocs)", s.Chunks, s.BytesUsed, s.BytesReserved, s.Allocs)
}
