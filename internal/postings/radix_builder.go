package postings

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hupe1980/contents/internal/codec"
)

const flagValue = 1

type radixEntry struct {
	key []byte
	rec Record
}

// RadixBuilder collects sorted keys and encodes them as a radix tree.
//
// Node layout:
//
//	[flags][record if flags&1][childCount]{[label][childOffset]}[children...]
//
// Child offsets are relative to the start of the children area, which
// immediately follows the node header. Children are sorted by the first
// byte of their label.
type RadixBuilder struct {
	entries []radixEntry
}

// Add appends a key. Keys must arrive in strictly increasing byte order.
func (b *RadixBuilder) Add(key []byte, rec Record) error {
	if n := len(b.entries); n > 0 && bytes.Compare(key, b.entries[n-1].key) <= 0 {
		return fmt.Errorf("postings: radix key %q out of order", key)
	}
	b.entries = append(b.entries, radixEntry{key: key, rec: rec})
	return nil
}

// Len returns the number of keys added.
func (b *RadixBuilder) Len() int { return len(b.entries) }

// WriteTo encodes the tree.
func (b *RadixBuilder) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(encodeNode(nil, b.entries, 0))
	return int64(n), err
}

func commonPrefix(a, b []byte) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// encodeNode appends the subtree covering entries, which all share
// entries[0].key[:depth], to dst.
func encodeNode(dst []byte, entries []radixEntry, depth int) []byte {
	var flags uint64
	var value *Record
	if len(entries) > 0 && len(entries[0].key) == depth {
		flags |= flagValue
		value = &entries[0].rec
		entries = entries[1:]
	}

	var (
		labels   [][]byte
		offsets  []int
		children []byte
	)
	for start := 0; start < len(entries); {
		c := entries[start].key[depth]
		end := start + 1
		for end < len(entries) && entries[end].key[depth] == c {
			end++
		}
		group := entries[start:end]
		lcp := commonPrefix(group[0].key, group[len(group)-1].key)
		labels = append(labels, group[0].key[depth:lcp])
		offsets = append(offsets, len(children))
		children = encodeNode(children, group, lcp)
		start = end
	}

	dst = codec.AppendUvarint(dst, flags)
	if value != nil {
		dst = appendRecord(dst, *value)
	}
	dst = codec.AppendUvarint(dst, uint64(len(labels)))
	for i, l := range labels {
		dst = codec.AppendBytes(dst, l)
		dst = codec.AppendUvarint(dst, uint64(offsets[i])) //nolint:gosec // non-negative
	}
	return append(dst, children...)
}
