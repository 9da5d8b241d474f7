// Package timerange implements the ordered interval set used to track
// allowed_range, index_usable_range and chunk_pruned_range in the query
// reader (spec.md §4.5, invariant I5). It is backed by an
// github.com/INLOpen/skiplist ordered map exactly as memtable.Memtable
// orders its keys, mirroring the teacher's "swap in a rebuilt structure"
// idiom (memtable rotation after flush) because no Delete/Remove method is
// exercised anywhere in the corpus: every mutation extracts all intervals
// by iteration, merges them in plain Go, and constructs a fresh skiplist.
package timerange

import (
	"github.com/INLOpen/skiplist"
)

// Interval is a closed range [Start, End] of int64 timestamps.
type Interval struct {
	Start int64
	End   int64
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// Set is an immutable-by-convention, disjoint, sorted set of intervals.
// Every mutating method returns a new *Set; the receiver is left untouched,
// matching the teacher's pattern of assigning a freshly built structure
// rather than mutating in place.
type Set struct {
	list *skiplist.SkipList[int64, int64] // start -> end, disjoint & sorted
}

// Empty returns a Set with no intervals.
func Empty() *Set {
	return &Set{list: skiplist.NewWithComparator[int64, int64](compareInt64)}
}

// Universe returns a Set covering [math.MinInt64, math.MaxInt64].
func Universe() *Set {
	return FromIntervals([]Interval{{Start: minInt64, End: maxInt64}})
}

const (
	minInt64 = -1 << 63
	maxInt64 = 1<<63 - 1
)

// FromIntervals builds a Set from a (possibly overlapping/unsorted) list of
// intervals, normalizing them via Union.
func FromIntervals(ivs []Interval) *Set {
	s := Empty()
	return s.Union(ivs)
}

// Intervals returns the set's disjoint intervals in ascending order.
func (s *Set) Intervals() []Interval {
	out := make([]Interval, 0, s.list.Len())
	s.list.Range(func(start int64, end int64) bool {
		out = append(out, Interval{Start: start, End: end})
		return true
	})
	return out
}

// IsEmpty reports whether the set has no intervals.
func (s *Set) IsEmpty() bool {
	return s.list.Len() == 0
}

// Contains reports whether point t falls within any interval of the set.
func (s *Set) Contains(t int64) bool {
	for _, iv := range s.Intervals() {
		if t >= iv.Start && t <= iv.End {
			return true
		}
		if iv.Start > t {
			break
		}
	}
	return false
}

// Overlaps reports whether [start, end] intersects any interval in the set.
func (s *Set) Overlaps(start, end int64) bool {
	for _, iv := range s.Intervals() {
		if iv.Start > end {
			break
		}
		if iv.End >= start {
			return true
		}
	}
	return false
}

// mergeSorted merges a set of intervals (already sorted by Start, possibly
// overlapping/adjacent/duplicated) into the minimal disjoint representation.
func mergeSorted(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	out := make([]Interval, 0, len(ivs))
	cur := ivs[0]
	for _, iv := range ivs[1:] {
		if cur.End == maxInt64 || iv.Start <= cur.End+1 {
			if iv.End > cur.End {
				cur.End = iv.End
			}
			continue
		}
		out = append(out, cur)
		cur = iv
	}
	out = append(out, cur)
	return out
}

func sortIntervals(ivs []Interval) {
	// insertion sort: interval counts here are small (per-query heap sizes),
	// and this avoids importing sort for a handful of comparisons at call sites
	// that already build nearly-sorted slices.
	for i := 1; i < len(ivs); i++ {
		j := i
		for j > 0 && ivs[j-1].Start > ivs[j].Start {
			ivs[j-1], ivs[j] = ivs[j], ivs[j-1]
			j--
		}
	}
}

func (s *Set) rebuild(ivs []Interval) *Set {
	sortIntervals(ivs)
	merged := mergeSorted(ivs)
	list := skiplist.NewWithComparator[int64, int64](compareInt64)
	for _, iv := range merged {
		list.Insert(iv.Start, iv.End)
	}
	return &Set{list: list}
}

// Union returns a new Set containing this set's intervals plus extra,
// merged into disjoint form.
func (s *Set) Union(extra []Interval) *Set {
	all := append(append([]Interval{}, s.Intervals()...), extra...)
	return s.rebuild(all)
}

// Subtract returns a new Set equal to s with the given interval removed
// (spec.md §4.5: allowed_range ← allowed_range \ valid_pruned).
func (s *Set) Subtract(remove Interval) *Set {
	var out []Interval
	for _, iv := range s.Intervals() {
		if remove.End < iv.Start || remove.Start > iv.End {
			out = append(out, iv)
			continue
		}
		if remove.Start > iv.Start {
			out = append(out, Interval{Start: iv.Start, End: remove.Start - 1})
		}
		if remove.End < iv.End {
			out = append(out, Interval{Start: remove.End + 1, End: iv.End})
		}
	}
	return s.rebuild(out)
}

// SubtractSet returns s minus every interval in other.
func (s *Set) SubtractSet(other *Set) *Set {
	result := s
	for _, iv := range other.Intervals() {
		result = result.Subtract(iv)
	}
	return result
}

// Intersect returns the intersection of s and [start, end].
func (s *Set) Intersect(start, end int64) *Set {
	var out []Interval
	for _, iv := range s.Intervals() {
		lo := iv.Start
		if start > lo {
			lo = start
		}
		hi := iv.End
		if end < hi {
			hi = end
		}
		if lo <= hi {
			out = append(out, Interval{Start: lo, End: hi})
		}
	}
	return s.rebuild(out)
}
