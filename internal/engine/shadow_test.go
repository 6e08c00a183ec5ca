package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShadow(t *testing.T) {
	s := newShadow()
	s.Add(3)
	s.Add(7)
	assert.True(t, s.Contains(3))
	assert.False(t, s.Contains(4))
	assert.Equal(t, 2, s.Len())

	snap := s.Clone()
	s.Add(7)
	s.Add(9)
	assert.Equal(t, []uint32{9}, s.Since(snap).ToArray())
	assert.Equal(t, 2, int(snap.GetCardinality()))
}
