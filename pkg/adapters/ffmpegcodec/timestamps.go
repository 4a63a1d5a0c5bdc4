package ffmpegcodec

import "sort"

// timestamps hands out submitted presentation times in ascending order,
// which is the order ffmpeg emits frames in.
type timestamps struct {
	pending []int64
	last    int64
	step    int64
}

func (t *timestamps) push(pts int64) {
	i := sort.Search(len(t.pending), func(i int) bool { return t.pending[i] > pts })
	t.pending = append(t.pending, 0)
	copy(t.pending[i+1:], t.pending[i:])
	t.pending[i] = pts
}

// pop returns the smallest pending time. When ffmpeg emits more frames than
// were submitted the previous time is extrapolated by one frame.
func (t *timestamps) pop() int64 {
	if len(t.pending) == 0 {
		t.last += t.step
		return t.last
	}
	pts := t.pending[0]
	t.pending = t.pending[1:]
	t.last = pts
	return pts
}
