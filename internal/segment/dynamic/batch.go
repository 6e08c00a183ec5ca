package dynamic

import (
	"bytes"
	"fmt"

	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/segment"
)

type pair struct {
	key    []byte
	detail []byte
	bt     postings.BlockType
}

// batch is the sink handed to Contents.Enumerate. It validates and copies
// every pair so the caller's buffers can be reused as soon as Insert
// returns, and nothing reaches the store before the whole entity has been
// enumerated.
type batch struct {
	pairs []pair
	bytes int
	seen  map[string]postings.BlockType
}

func (b *batch) Insert(key, value []byte, bt postings.BlockType) error {
	if len(key) == 0 {
		return fmt.Errorf("%w: empty postings key", segment.ErrInvalidArgument)
	}
	if !bt.Valid() {
		return fmt.Errorf("%w: unknown block type %d", segment.ErrMalformed, bt)
	}

	if b.seen == nil {
		b.seen = make(map[string]postings.BlockType)
	}
	if prev, ok := b.seen[string(key)]; ok {
		if prev != bt {
			return segment.Translate(fmt.Errorf("%w: key %q is %s, got %s", postings.ErrBlockTypeMismatch, key, prev, bt))
		}
		return segment.Translate(fmt.Errorf("%w: key %q", postings.ErrDuplicate, key))
	}

	var detail []byte
	if bt == postings.Dump {
		detail = postings.EncodeDump(value)
	} else {
		if err := postings.ValidateDetail(bt, value); err != nil {
			return segment.Translate(err)
		}
		detail = bytes.Clone(value)
	}

	b.seen[string(key)] = bt
	b.pairs = append(b.pairs, pair{key: bytes.Clone(key), detail: detail, bt: bt})
	b.bytes += len(key) + len(detail)
	return nil
}

// check rejects pairs whose key already holds another block type in s.
func (b *batch) check(s *postings.Store) error {
	for _, p := range b.pairs {
		if c := s.Lookup(p.key); c != nil && c.Type() != p.bt {
			return segment.Translate(fmt.Errorf("%w: key %q is %s, got %s", postings.ErrBlockTypeMismatch, p.key, c.Type(), p.bt))
		}
	}
	return nil
}
