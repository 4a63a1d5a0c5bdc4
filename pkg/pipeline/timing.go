package pipeline

import "slices"

// DecodeTimes returns decode timestamps for samples given in decode order
// with their presentation timestamps: the sorted pts. The composition
// offset of sample i is then pts[i] - dts[i]. Runs must be closed GOPs.
func DecodeTimes(pts []int64) []int64 {
	dts := slices.Clone(pts)
	slices.Sort(dts)
	return dts
}
