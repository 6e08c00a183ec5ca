package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func stats(entities ...int) []SegmentStats {
	out := make([]SegmentStats, len(entities))
	for i, n := range entities {
		// Negative counts mark segments that are not static yet.
		out[i] = SegmentStats{ID: uint64(i + 1), Entities: max(n, 0), Static: n >= 0}
	}
	return out
}

func TestSmallRunPolicy(t *testing.T) {
	p := &SmallRunPolicy{MaxEntities: 100, MinRun: 2, MaxRun: 4}

	tests := []struct {
		name     string
		segments []SegmentStats
		want     *MergeTask
	}{
		{"none", nil, nil},
		{"single", stats(10, -1), nil},
		{"run", stats(10, 10, 10, -1), &MergeTask{Start: 0, End: 3}},
		{"large breaks run", stats(10, 500, 10, 10, -1), &MergeTask{Start: 2, End: 4}},
		{"committing breaks run", stats(10, -1, 10, -1), nil},
		{"max run", stats(1, 1, 1, 1, 1, 1, -1), &MergeTask{Start: 0, End: 4}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.Pick(tt.segments))
		})
	}
}

func TestSmallRunPolicy_Defaults(t *testing.T) {
	p := &SmallRunPolicy{}
	task := p.Pick(stats(1<<20, 1<<20, -1))
	assert.Equal(t, &MergeTask{Start: 0, End: 2}, task)
	assert.Equal(t, 2, task.Len())

	d := DefaultMergePolicy()
	assert.Nil(t, d.Pick(stats(1<<20, 1<<20, -1)))
}
