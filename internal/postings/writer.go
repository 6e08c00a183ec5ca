package postings

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/hupe1980/contents/internal/codec"
	"github.com/hupe1980/contents/internal/entity"
)

// Record locates the block of one key inside the chains buffer.
type Record struct {
	Type   BlockType
	Count  int
	Offset uint64
	Length uint64
}

func appendRecord(dst []byte, r Record) []byte {
	dst = codec.AppendUvarint(dst, uint64(r.Type))
	dst = codec.AppendUvarint(dst, uint64(r.Count)) //nolint:gosec // non-negative
	dst = codec.AppendUvarint(dst, r.Offset)
	return codec.AppendUvarint(dst, r.Length)
}

// AppendBlock encodes postings, which must be strictly increasing by index,
// as a chain block.
func AppendBlock(dst []byte, bt BlockType, postings []Posting) ([]byte, error) {
	dst = codec.AppendUvarint(dst, uint64(bt))
	var prev uint32
	for i, p := range postings {
		if p.Index == entity.Invalid || p.Index == entity.NotFound || (i > 0 && p.Index <= prev) {
			return nil, fmt.Errorf("%w: index %d after %d", ErrMalformed, p.Index, prev)
		}
		delta := p.Index
		if i > 0 {
			delta = p.Index - prev - 1
		}
		dst = codec.AppendUvarint(dst, uint64(delta))
		dst = append(dst, p.Detail...)
		prev = p.Index
	}
	return dst, nil
}

// Writer streams chain blocks and collects the records for the radix index
// written by Finish. Keys must be added in strictly increasing byte order.
type Writer struct {
	chains  *bufio.Writer
	offset  uint64
	buf     []byte
	builder RadixBuilder
	last    []byte
}

// NewWriter creates a Writer emitting blocks to chains.
func NewWriter(chains io.Writer) *Writer {
	return &Writer{chains: bufio.NewWriterSize(chains, 64<<10)}
}

// Add writes the block of key.
func (w *Writer) Add(key []byte, bt BlockType, postings []Posting) error {
	if w.last != nil && bytes.Compare(key, w.last) <= 0 {
		return fmt.Errorf("postings: key %q added after %q", key, w.last)
	}
	if len(postings) == 0 {
		return fmt.Errorf("postings: empty block for key %q", key)
	}

	var err error
	w.buf, err = AppendBlock(w.buf[:0], bt, postings)
	if err != nil {
		return fmt.Errorf("key %q: %w", key, err)
	}
	if _, err := w.chains.Write(w.buf); err != nil {
		return err
	}

	rec := Record{Type: bt, Count: len(postings), Offset: w.offset, Length: uint64(len(w.buf))}
	w.offset += rec.Length
	w.last = append(w.last[:0], key...)
	return w.builder.Add(bytes.Clone(key), rec)
}

// Keys returns the number of keys added so far.
func (w *Writer) Keys() int {
	return w.builder.Len()
}

// Finish flushes the chains stream and writes the radix index to contents.
func (w *Writer) Finish(contents io.Writer) (int64, error) {
	if err := w.chains.Flush(); err != nil {
		return 0, err
	}
	return w.builder.WriteTo(contents)
}
