package timerange

import "testing"

func ivsEqual(a, b []Interval) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestUnionMergesOverlapping(t *testing.T) {
	s := FromIntervals([]Interval{{1, 5}, {4, 10}, {20, 30}})
	got := s.Intervals()
	want := []Interval{{1, 10}, {20, 30}}
	if !ivsEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSubtractSplitsInterval(t *testing.T) {
	s := FromIntervals([]Interval{{1, 100}})
	got := s.Subtract(Interval{40, 60}).Intervals()
	want := []Interval{{1, 39}, {61, 100}}
	if !ivsEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestSubtractFullyRemoves(t *testing.T) {
	s := FromIntervals([]Interval{{1, 10}})
	got := s.Subtract(Interval{0, 20}).Intervals()
	if len(got) != 0 {
		t.Fatalf("expected empty result, got %v", got)
	}
}

func TestIntersect(t *testing.T) {
	s := FromIntervals([]Interval{{1, 10}, {20, 30}})
	got := s.Intersect(5, 25).Intervals()
	want := []Interval{{5, 10}, {20, 25}}
	if !ivsEqual(got, want) {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestOverlapsAndContains(t *testing.T) {
	s := FromIntervals([]Interval{{100, 200}})
	if !s.Overlaps(150, 250) {
		t.Fatalf("expected overlap")
	}
	if s.Overlaps(201, 250) {
		t.Fatalf("expected no overlap")
	}
	if !s.Contains(150) || s.Contains(250) {
		t.Fatalf("Contains behaved unexpectedly")
	}
}

// TestAllowedRangeNeverGrows exercises P4: allowed_range never grows across
// any reader operation — Subtract must only shrink the set.
func TestAllowedRangeNeverGrows(t *testing.T) {
	s := FromIntervals([]Interval{{0, 1000}})
	before := s.Intervals()
	after := s.Subtract(Interval{100, 200}).Intervals()

	var beforeLen, afterLen int64
	for _, iv := range before {
		beforeLen += iv.End - iv.Start + 1
	}
	for _, iv := range after {
		afterLen += iv.End - iv.Start + 1
	}
	if afterLen > beforeLen {
		t.Fatalf("allowed range grew: before=%d after=%d", beforeLen, afterLen)
	}
}
