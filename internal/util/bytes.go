package util

// RangesOverlap reports whether the byte ranges [off0, off0+width0) and
// [off1, off1+width1) intersect.
func RangesOverlap(off0, width0, off1, width1 int64) bool {
	if off0 > off1 {
		off0, width0, off1, width1 = off1, width1, off0, width0
	}
	return off0+width0 > off1
}

// SameRange reports whether two byte ranges are identical.
func SameRange(off0, width0, off1, width1 int64) bool {
	return off0 == off1 && width0 == width1
}
