package segment

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/contents/internal/entity"
	"github.com/hupe1980/contents/internal/postings"
	"github.com/hupe1980/contents/internal/storage"
)

func TestOverflowError(t *testing.T) {
	err := fmt.Errorf("insert: %w", &OverflowError{Kind: CountOverflow, Limit: 2})
	assert.ErrorIs(t, err, ErrOverflow)

	var oe *OverflowError
	assert.True(t, errors.As(err, &oe))
	assert.Equal(t, CountOverflow, oe.Kind)
	assert.Contains(t, err.Error(), "entity count overflow")
}

func TestJobError(t *testing.T) {
	err := &JobError{Segment: "seg-000001", Op: "commit", Err: io.ErrShortWrite}
	assert.ErrorIs(t, err, ErrJobFailed)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

func TestTranslate(t *testing.T) {
	assert.NoError(t, Translate(nil))
	assert.ErrorIs(t, Translate(entity.ErrCorrupt), ErrCorrupt)
	assert.ErrorIs(t, Translate(postings.ErrCorrupt), ErrCorrupt)
	assert.ErrorIs(t, Translate(fmt.Errorf("open: %w", storage.ErrCorrupt)), storage.ErrCorrupt)
	assert.ErrorIs(t, Translate(storage.ErrCorrupt), ErrCorrupt)
	assert.ErrorIs(t, Translate(postings.ErrBlockTypeMismatch), ErrBlockTypeMismatch)
	assert.ErrorIs(t, Translate(postings.ErrDuplicate), ErrMalformed)
	assert.Equal(t, io.EOF, Translate(io.EOF))
}

type recordingSink struct{ keys []string }

func (s *recordingSink) Insert(key, _ []byte, _ postings.BlockType) error {
	s.keys = append(s.keys, string(key))
	return nil
}

func TestMapEnumeratesSorted(t *testing.T) {
	m := Map{Type: postings.Count, Pairs: map[string][]byte{"b": nil, "a": nil, "c": nil}}
	var s recordingSink
	assert.NoError(t, m.Enumerate(&s))
	assert.Equal(t, []string{"a", "b", "c"}, s.keys)

	called := false
	f := ContentsFunc(func(Sink) error { called = true; return nil })
	assert.NoError(t, f.Enumerate(&s))
	assert.True(t, called)
}
