package postings

import (
	"bytes"
	"fmt"
	"slices"
	"sort"
	"sync/atomic"

	"github.com/hupe1980/contents/internal/arena"
	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/hash"
)

const (
	// skipEvery is the distance between cached skip nodes.
	skipEvery = 32
	// rebuildAfter is the number of inserts that trigger a skip cache rebuild.
	rebuildAfter = 64

	defaultKeyBuckets = 1 << 16
)

// Stats summarizes the postings of one key.
type Stats struct {
	Type  BlockType
	Count int
}

type node struct {
	index  uint32
	detail []byte
	next   atomic.Pointer[node]
}

// Chain is the postings list of one key in a Store.
type Chain struct {
	bt         BlockType
	head       node // sentinel, index 0
	count      atomic.Int64
	pending    atomic.Int64
	rebuilding atomic.Bool
	skips      atomic.Pointer[[]*node]
}

func newChain(bt BlockType) *Chain {
	c := &Chain{bt: bt}
	empty := make([]*node, 0)
	c.skips.Store(&empty)
	return c
}

// Type returns the block type of the chain.
func (c *Chain) Type() BlockType { return c.bt }

// Len returns the number of entries ever inserted.
func (c *Chain) Len() int { return int(c.count.Load()) }

// seek returns the last cached node whose index is below target, or the
// sentinel.
func (c *Chain) seek(target uint32) *node {
	skips := *c.skips.Load()
	i := sort.Search(len(skips), func(i int) bool { return skips[i].index >= target })
	if i == 0 {
		return &c.head
	}
	return skips[i-1]
}

func (c *Chain) insert(index uint32, detail []byte) error {
	n := &node{index: index, detail: detail}
	pred := c.seek(index)
	for {
		next := pred.next.Load()
		switch {
		case next != nil && next.index < index:
			pred = next
			continue
		case next != nil && next.index == index:
			return fmt.Errorf("%w: index %d", ErrDuplicate, index)
		}
		n.next.Store(next)
		if pred.next.CompareAndSwap(next, n) {
			break
		}
	}
	c.count.Add(1)
	if c.pending.Add(1) >= rebuildAfter && c.rebuilding.CompareAndSwap(false, true) {
		c.rebuild()
	}
	return nil
}

// rebuild republishes the skip cache. Only one goroutine rebuilds at a time;
// readers keep using the previous cache until the new one is stored.
func (c *Chain) rebuild() {
	c.pending.Store(0)
	skips := make([]*node, 0, c.count.Load()/skipEvery+1)
	i := 0
	for n := c.head.next.Load(); n != nil; n = n.next.Load() {
		i++
		if i%skipEvery == 0 {
			skips = append(skips, n)
		}
	}
	c.skips.Store(&skips)
	c.rebuilding.Store(false)
}

// Cursor returns a cursor positioned before the first entry.
func (c *Chain) Cursor() Cursor {
	return &chainCursor{chain: c, cur: &c.head}
}

type chainCursor struct {
	chain *Chain
	cur   *node
}

func (cc *chainCursor) Type() BlockType { return cc.chain.bt }

func (cc *chainCursor) Find(minIndex uint32) uint32 {
	if cc.cur == nil {
		return entity.NotFound
	}
	if cc.cur.index >= minIndex && cc.cur != &cc.chain.head {
		return cc.cur.index
	}
	n := cc.cur
	if s := cc.chain.seek(minIndex); s.index > n.index {
		n = s
	}
	for n = n.next.Load(); n != nil && n.index < minIndex; n = n.next.Load() {
	}
	cc.cur = n
	if n == nil {
		return entity.NotFound
	}
	return n.index
}

func (cc *chainCursor) Detail() []byte {
	if cc.cur == nil || cc.cur == &cc.chain.head {
		return nil
	}
	return cc.cur.detail
}

type keyNode struct {
	key   []byte
	chain *Chain
	next  *keyNode
}

// Store is the mutable postings store of a dynamic segment.
type Store struct {
	buckets []atomic.Pointer[keyNode]
	keys    atomic.Int64
	arena   *arena.Arena
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreArena copies keys and details into a.
func WithStoreArena(a *arena.Arena) StoreOption {
	return func(s *Store) {
		s.arena = a
	}
}

// WithKeyBuckets sets the size of the key hash table, rounded up to a power
// of two.
func WithKeyBuckets(n int) StoreOption {
	return func(s *Store) {
		size := 1
		for size < n {
			size <<= 1
		}
		s.buckets = make([]atomic.Pointer[keyNode], size)
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{}
	for _, opt := range opts {
		opt(s)
	}
	if s.buckets == nil {
		s.buckets = make([]atomic.Pointer[keyNode], defaultKeyBuckets)
	}
	return s
}

func (s *Store) copyBytes(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, nil
	}
	if s.arena == nil {
		return slices.Clone(b), nil
	}
	ref, err := s.arena.Copy(b)
	if err != nil {
		return nil, err
	}
	return s.arena.Bytes(ref, len(b)), nil
}

func find(head *keyNode, key []byte) *keyNode {
	for n := head; n != nil; n = n.next {
		if bytes.Equal(n.key, key) {
			return n
		}
	}
	return nil
}

// chain returns the chain for key, creating it with type bt if absent.
func (s *Store) chain(key []byte, bt BlockType) (*Chain, error) {
	b := &s.buckets[hash.Bucket(key, len(s.buckets))]
	var fresh *keyNode
	for {
		head := b.Load()
		if kn := find(head, key); kn != nil {
			return kn.chain, nil
		}
		if fresh == nil {
			k, err := s.copyBytes(key)
			if err != nil {
				return nil, err
			}
			fresh = &keyNode{key: k, chain: newChain(bt)}
		}
		fresh.next = head
		if b.CompareAndSwap(head, fresh) {
			s.keys.Add(1)
			return fresh.chain, nil
		}
	}
}

// Insert adds (index, detail) to the chain of key. detail must already be a
// valid payload of type bt.
func (s *Store) Insert(key []byte, index uint32, detail []byte, bt BlockType) error {
	if index == entity.Invalid || index == entity.NotFound {
		return fmt.Errorf("%w: entity index %d", ErrMalformed, index)
	}
	c, err := s.chain(key, bt)
	if err != nil {
		return err
	}
	if c.bt != bt {
		return fmt.Errorf("%w: key %q is %s, got %s", ErrBlockTypeMismatch, key, c.bt, bt)
	}
	d, err := s.copyBytes(detail)
	if err != nil {
		return err
	}
	return c.insert(index, d)
}

// Lookup returns the chain of key, or nil.
func (s *Store) Lookup(key []byte) *Chain {
	if kn := find(s.buckets[hash.Bucket(key, len(s.buckets))].Load(), key); kn != nil {
		return kn.chain
	}
	return nil
}

// Stats returns the block type and entry count of key.
func (s *Store) Stats(key []byte) (Stats, bool) {
	c := s.Lookup(key)
	if c == nil {
		return Stats{}, false
	}
	return Stats{Type: c.bt, Count: c.Len()}, true
}

// Len returns the number of keys.
func (s *Store) Len() int {
	return int(s.keys.Load())
}

// Keys returns all keys in byte order.
func (s *Store) Keys() [][]byte {
	out := make([][]byte, 0, s.Len())
	for i := range s.buckets {
		for n := s.buckets[i].Load(); n != nil; n = n.next {
			out = append(out, n.key)
		}
	}
	slices.SortFunc(out, bytes.Compare)
	return out
}

// Serialize writes every chain through w in key order, skipping entries for
// which drop reports true. Keys left without entries are omitted.
func (s *Store) Serialize(w *Writer, drop func(uint32) bool) error {
	var postings []Posting
	for _, key := range s.Keys() {
		c := s.Lookup(key)
		postings = postings[:0]
		for n := c.head.next.Load(); n != nil; n = n.next.Load() {
			if drop != nil && drop(n.index) {
				continue
			}
			postings = append(postings, Posting{Index: n.index, Detail: n.detail})
		}
		if len(postings) == 0 {
			continue
		}
		if err := w.Add(key, c.bt, postings); err != nil {
			return err
		}
	}
	return nil
}
