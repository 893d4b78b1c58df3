package util

import "testing"

func TestRangesOverlap(t *testing.T) {
	tests := []struct {
		name     string
		off0     int64
		width0   int64
		off1     int64
		width1   int64
		expected bool
	}{
		{
			name: "identical ranges",
			off0: 0, width0: 8, off1: 0, width1: 8,
			expected: true,
		},
		{
			name: "adjacent ranges do not overlap",
			off0: 0, width0: 4, off1: 4, width1: 4,
			expected: false,
		},
		{
			name: "narrow write into upper half of wide element",
			off0: 0, width0: 8, off1: 4, width1: 4,
			expected: true,
		},
		{
			name: "disjoint elements",
			off0: 0, width0: 8, off1: 8, width1: 8,
			expected: false,
		},
		{
			name: "reversed argument order",
			off0: 4, width0: 4, off1: 0, width1: 8,
			expected: true,
		},
		{
			name: "single byte inside wide range",
			off0: 15, width0: 1, off1: 8, width1: 8,
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RangesOverlap(tt.off0, tt.width0, tt.off1, tt.width1)
			if got != tt.expected {
				t.Errorf("RangesOverlap(%d, %d, %d, %d) = %v, want %v",
					tt.off0, tt.width0, tt.off1, tt.width1, got, tt.expected)
			}
		})
	}
}

func TestSameRange(t *testing.T) {
	if !SameRange(4, 8, 4, 8) {
		t.Errorf("expected identical ranges to compare equal")
	}
	if SameRange(4, 8, 4, 4) {
		t.Errorf("expected ranges with different widths to differ")
	}
	if SameRange(0, 8, 8, 8) {
		t.Errorf("expected ranges with different offsets to differ")
	}
}
