package postings

import (
	"bytes"
	"fmt"
	"iter"

	"github.com/hupe1980/contents/internal/codec"
	"github.com/hupe1980/contents/internal/entity"
)

// Radix is the immutable postings index of a committed segment. It aliases
// the buffers it was opened on.
type Radix struct {
	nodes  []byte
	chains []byte
	keys   int
}

type radixChild struct {
	label []byte
	start int
	end   int
}

type radixNode struct {
	value    Record
	hasValue bool
	children []radixChild
}

// parseNode decodes the node occupying nodes[off:end].
func parseNode(nodes []byte, off, end int) (radixNode, error) {
	var n radixNode
	d := codec.NewDecoder(nodes[off:end])
	flags := d.Uvarint()
	if flags&^flagValue != 0 {
		return n, fmt.Errorf("%w: node at %d has flags %#x", ErrCorrupt, off, flags)
	}
	if flags&flagValue != 0 {
		n.hasValue = true
		n.value.Type = BlockType(d.Uvarint())
		n.value.Count = d.Int()
		n.value.Offset = d.Uvarint()
		n.value.Length = d.Uvarint()
	}
	count := d.Int()
	if d.Err() == nil && count > d.Len()/2 {
		return n, fmt.Errorf("%w: node at %d claims %d children", ErrCorrupt, off, count)
	}
	n.children = make([]radixChild, count)
	offsets := make([]uint64, count)
	for i := range n.children {
		n.children[i].label = d.Bytes()
		offsets[i] = d.Uvarint()
	}
	if err := d.Err(); err != nil {
		return n, fmt.Errorf("%w: node at %d: %v", ErrCorrupt, off, err)
	}

	area := off + d.Pos()
	if count == 0 {
		if area != end {
			return n, fmt.Errorf("%w: leaf at %d has %d trailing bytes", ErrCorrupt, off, end-area)
		}
		return n, nil
	}
	for i := range n.children {
		c := &n.children[i]
		if len(c.label) == 0 {
			return n, fmt.Errorf("%w: empty label in node at %d", ErrCorrupt, off)
		}
		if i > 0 && c.label[0] <= n.children[i-1].label[0] {
			return n, fmt.Errorf("%w: unsorted labels in node at %d", ErrCorrupt, off)
		}
		if (i == 0 && offsets[i] != 0) || (i > 0 && offsets[i] <= offsets[i-1]) || offsets[i] >= uint64(end-area) {
			return n, fmt.Errorf("%w: bad child offset in node at %d", ErrCorrupt, off)
		}
		c.start = area + int(offsets[i])
		if i > 0 {
			n.children[i-1].end = c.start
		}
	}
	n.children[count-1].end = end
	return n, nil
}

// OpenRadix validates nodes and chains completely and returns the index.
func OpenRadix(nodes, chains []byte) (*Radix, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("%w: missing root node", ErrCorrupt)
	}
	r := &Radix{nodes: nodes, chains: chains}

	type span struct{ start, end int }
	stack := []span{{0, len(nodes)}}
	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		n, err := parseNode(nodes, s.start, s.end)
		if err != nil {
			return nil, err
		}
		if n.hasValue {
			if err := validateBlock(chains, n.value); err != nil {
				return nil, err
			}
			r.keys++
		}
		for _, c := range n.children {
			stack = append(stack, span{c.start, c.end})
		}
	}
	return r, nil
}

func validateBlock(chains []byte, rec Record) error {
	if !rec.Type.Valid() || rec.Count < 1 {
		return fmt.Errorf("%w: record type %d count %d", ErrCorrupt, rec.Type, rec.Count)
	}
	if rec.Offset > uint64(len(chains)) || rec.Length > uint64(len(chains))-rec.Offset {
		return fmt.Errorf("%w: block [%d,+%d) outside chains of %d bytes", ErrCorrupt, rec.Offset, rec.Length, len(chains))
	}
	block := chains[rec.Offset : rec.Offset+rec.Length]

	bt, n := codec.Uvarint(block)
	if n == 0 || BlockType(bt) != rec.Type { //nolint:gosec // compared, not stored
		return fmt.Errorf("%w: block at %d has type %d, record says %s", ErrCorrupt, rec.Offset, bt, rec.Type)
	}
	pos := n
	var prev uint64
	for i := 0; i < rec.Count; i++ {
		delta, m := codec.Uvarint(block[pos:])
		if m == 0 {
			return fmt.Errorf("%w: block at %d truncated", ErrCorrupt, rec.Offset)
		}
		pos += m
		idx := delta
		if i > 0 {
			idx = prev + delta + 1
		}
		if idx == 0 || idx >= uint64(entity.NotFound) {
			return fmt.Errorf("%w: block at %d has index %d", ErrCorrupt, rec.Offset, idx)
		}
		prev = idx

		l, ok := detailLen(rec.Type, block[pos:])
		if !ok {
			return fmt.Errorf("%w: block at %d has truncated detail", ErrCorrupt, rec.Offset)
		}
		if err := ValidateDetail(rec.Type, block[pos:pos+l]); err != nil {
			return fmt.Errorf("%w: block at %d: %v", ErrCorrupt, rec.Offset, err)
		}
		pos += l
	}
	if pos != len(block) {
		return fmt.Errorf("%w: block at %d has %d trailing bytes", ErrCorrupt, rec.Offset, len(block)-pos)
	}
	return nil
}

// Len returns the number of keys.
func (r *Radix) Len() int { return r.keys }

// Get returns the record of key.
func (r *Radix) Get(key []byte) (Record, bool) {
	start, end, depth := 0, len(r.nodes), 0
	for {
		n, err := parseNode(r.nodes, start, end)
		if err != nil {
			return Record{}, false
		}
		if depth == len(key) {
			return n.value, n.hasValue
		}
		next := -1
		for i, c := range n.children {
			if c.label[0] == key[depth] {
				next = i
				break
			}
		}
		if next < 0 || !bytes.HasPrefix(key[depth:], n.children[next].label) {
			return Record{}, false
		}
		c := n.children[next]
		start, end, depth = c.start, c.end, depth+len(c.label)
	}
}

// Stats returns the block type and entry count of key.
func (r *Radix) Stats(key []byte) (Stats, bool) {
	rec, ok := r.Get(key)
	if !ok {
		return Stats{}, false
	}
	return Stats{Type: rec.Type, Count: rec.Count}, true
}

// Cursor returns a cursor over the block of key, or nil.
func (r *Radix) Cursor(key []byte) Cursor {
	rec, ok := r.Get(key)
	if !ok {
		return nil
	}
	return r.Block(rec)
}

// Block returns a cursor over the block located by rec.
func (r *Radix) Block(rec Record) Cursor {
	block := r.chains[rec.Offset : rec.Offset+rec.Length]
	_, n := codec.Uvarint(block)
	return &blockCursor{bt: rec.Type, data: block[n:], left: rec.Count}
}

// Entries iterates keys and records in byte order, starting at the first
// key >= from.
func (r *Radix) Entries(from []byte) iter.Seq2[[]byte, Record] {
	return func(yield func([]byte, Record) bool) {
		r.walk(0, len(r.nodes), nil, from, yield)
	}
}

func (r *Radix) walk(start, end int, prefix, from []byte, yield func([]byte, Record) bool) bool {
	n, err := parseNode(r.nodes, start, end)
	if err != nil {
		return false
	}
	if n.hasValue && bytes.Compare(prefix, from) >= 0 {
		if !yield(bytes.Clone(prefix), n.value) {
			return false
		}
	}
	for _, c := range n.children {
		full := append(prefix[:len(prefix):len(prefix)], c.label...)
		if bytes.Compare(full, from[:min(len(from), len(full))]) < 0 {
			continue
		}
		if !r.walk(c.start, c.end, full, from, yield) {
			return false
		}
	}
	return true
}

type blockCursor struct {
	bt     BlockType
	data   []byte
	pos    int
	left   int
	cur    uint32
	detail []byte
}

func (b *blockCursor) Type() BlockType { return b.bt }

func (b *blockCursor) Find(minIndex uint32) uint32 {
	if b.cur != 0 && b.cur >= minIndex {
		return b.cur
	}
	for b.left > 0 {
		delta, n := codec.Uvarint(b.data[b.pos:])
		if n == 0 {
			break
		}
		b.pos += n
		if b.cur == 0 {
			b.cur = uint32(delta) //nolint:gosec // validated at open
		} else {
			b.cur += uint32(delta) + 1 //nolint:gosec // validated at open
		}
		l, _ := detailLen(b.bt, b.data[b.pos:])
		b.detail = b.data[b.pos : b.pos+l]
		b.pos += l
		b.left--
		if b.cur >= minIndex {
			return b.cur
		}
	}
	b.cur = entity.NotFound
	b.detail = nil
	return b.cur
}

func (b *blockCursor) Detail() []byte { return b.detail }
