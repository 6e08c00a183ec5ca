package engine

// SegmentStats holds metadata about a segment needed for merge decisions.
type SegmentStats struct {
	ID       uint64
	Name     string
	Entities int
	Static   bool // committed and not part of a running job
}

// MergeTask selects the segments Start..End-1 for merging.
type MergeTask struct {
	Start, End int
}

// Len returns the number of selected segments.
func (t *MergeTask) Len() int { return t.End - t.Start }

// MergePolicy determines which segments should be merged.
type MergePolicy interface {
	// Pick selects a contiguous run of segments, or returns nil.
	Pick(segments []SegmentStats) *MergeTask
}

// SmallRunPolicy merges the first run of at least MinRun adjacent static
// segments that each hold fewer than MaxEntities live entities. At most
// MaxRun segments are merged at once.
type SmallRunPolicy struct {
	MaxEntities int
	MinRun      int
	MaxRun      int
}

// DefaultMergePolicy returns the policy used when none is configured.
func DefaultMergePolicy() *SmallRunPolicy {
	return &SmallRunPolicy{MaxEntities: 1 << 16, MinRun: 2, MaxRun: 8}
}

func (p *SmallRunPolicy) Pick(segments []SegmentStats) *MergeTask {
	minRun := max(p.MinRun, 2)
	maxRun := p.MaxRun
	if maxRun < minRun {
		maxRun = minRun
	}

	start := -1
	for i := 0; i <= len(segments); i++ {
		small := i < len(segments) && segments[i].Static &&
			(p.MaxEntities <= 0 || segments[i].Entities < p.MaxEntities)
		if small {
			if start < 0 {
				start = i
			}
			if i-start+1 == maxRun {
				return &MergeTask{Start: start, End: i + 1}
			}
			continue
		}
		if start >= 0 && i-start >= minRun {
			return &MergeTask{Start: start, End: i}
		}
		start = -1
	}
	return nil
}
