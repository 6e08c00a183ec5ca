package postings

import "github.com/hupe1980/contents/internal/entity"

// Cursor walks a postings list in increasing index order. Find advances to
// the first entry with index >= minIndex and returns that index, or
// entity.NotFound once the list is exhausted. A cursor never moves
// backwards: asking for a smaller minimum returns the current entry.
type Cursor interface {
	Type() BlockType
	Find(minIndex uint32) uint32
	Detail() []byte
}

// Posting is one materialized cursor entry.
type Posting struct {
	Index  uint32
	Detail []byte
}

// Next advances c past its current entry.
func Next(c Cursor, current uint32) uint32 {
	if current == entity.NotFound {
		return entity.NotFound
	}
	return c.Find(current + 1)
}

// Collect drains c.
func Collect(c Cursor) []Posting {
	var out []Posting
	for i := c.Find(1); i != entity.NotFound; i = Next(c, i) {
		out = append(out, Posting{Index: i, Detail: c.Detail()})
	}
	return out
}

type filterCursor struct {
	Cursor
	skip func(uint32) bool
}

// Filter hides entries for which skip reports true.
func Filter(c Cursor, skip func(uint32) bool) Cursor {
	if c == nil || skip == nil {
		return c
	}
	return &filterCursor{Cursor: c, skip: skip}
}

func (f *filterCursor) Find(minIndex uint32) uint32 {
	i := f.Cursor.Find(minIndex)
	for i != entity.NotFound && f.skip(i) {
		i = f.Cursor.Find(i + 1)
	}
	return i
}

type shiftCursor struct {
	Cursor
	offset uint32
}

// Shift adds offset to every index of c.
func Shift(c Cursor, offset uint32) Cursor {
	if c == nil || offset == 0 {
		return c
	}
	return &shiftCursor{Cursor: c, offset: offset}
}

func (s *shiftCursor) Find(minIndex uint32) uint32 {
	local := uint32(1)
	if minIndex > s.offset {
		local = minIndex - s.offset
	}
	i := s.Cursor.Find(local)
	if i == entity.NotFound {
		return i
	}
	return i + s.offset
}

type concatCursor struct {
	parts []Cursor
	at    int
}

// Concat joins cursors over disjoint, ascending index ranges.
func Concat(parts ...Cursor) Cursor {
	live := parts[:0:0]
	for _, p := range parts {
		if p != nil {
			live = append(live, p)
		}
	}
	switch len(live) {
	case 0:
		return nil
	case 1:
		return live[0]
	}
	return &concatCursor{parts: live}
}

func (c *concatCursor) Type() BlockType { return c.parts[0].Type() }

func (c *concatCursor) Find(minIndex uint32) uint32 {
	for c.at < len(c.parts) {
		if i := c.parts[c.at].Find(minIndex); i != entity.NotFound {
			return i
		}
		c.at++
	}
	return entity.NotFound
}

func (c *concatCursor) Detail() []byte {
	if c.at >= len(c.parts) {
		return nil
	}
	return c.parts[c.at].Detail()
}
