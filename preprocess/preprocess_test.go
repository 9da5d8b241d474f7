package preprocess

import (
	"testing"

	"github.com/nexustsdb/simsearch/valuebuffer"
)

type recordingObserver struct {
	windows [][]float64
}

func (r *recordingObserver) OnWindow(sliceNum int, times []int64, values []float64) {
	cp := append([]float64{}, values...)
	r.windows = append(r.windows, cp)
}

func makeSeries(n int) ([]int64, []float64) {
	times := make([]int64, n)
	values := make([]float64, n)
	for i := 0; i < n; i++ {
		times[i] = int64(i)
		values[i] = float64(i)
	}
	return times, values
}

// TestWindowCount exercises P5: number of windows emitted equals
// max(0, floor((len(buffer)-W)/S)+1).
func TestWindowCount(t *testing.T) {
	cases := []struct {
		n, w, s, want int
	}{
		{10, 4, 1, 7},
		{10, 4, 2, 4},
		{3, 4, 1, 0},
		{4, 4, 1, 1},
	}
	for _, c := range cases {
		times, values := makeSeries(c.n)
		p := New(Config{WindowRange: c.w, SlideStep: c.s}, valuebuffer.NewPool(c.w))
		if err := p.Append(times, values); err != nil {
			t.Fatalf("append: %v", err)
		}
		count := 0
		for p.HasNext(nil) {
			if err := p.ProcessNext(); err != nil {
				t.Fatalf("processNext: %v", err)
			}
			count++
		}
		if count != c.want {
			t.Fatalf("n=%d w=%d s=%d: got %d windows, want %d", c.n, c.w, c.s, count, c.want)
		}
	}
}

func TestObserverNotifiedInOrder(t *testing.T) {
	times, values := makeSeries(6)
	p := New(Config{WindowRange: 3, SlideStep: 1}, nil)
	obs := &recordingObserver{}
	p.AddObserver(obs)
	if err := p.Append(times, values); err != nil {
		t.Fatal(err)
	}
	for p.HasNext(nil) {
		if err := p.ProcessNext(); err != nil {
			t.Fatal(err)
		}
	}
	want := [][]float64{{0, 1, 2}, {1, 2, 3}, {2, 3, 4}, {3, 4, 5}}
	if len(obs.windows) != len(want) {
		t.Fatalf("got %d windows, want %d", len(obs.windows), len(want))
	}
	for i, w := range want {
		for j, v := range w {
			if obs.windows[i][j] != v {
				t.Fatalf("window %d mismatch: got %v want %v", i, obs.windows[i], w)
			}
		}
	}
}

// TestSubFlushBoundary exercises scenario 4 of spec.md §8: identifiers
// restart at slice_num 0 per chunk after Clear, while start_time remains
// strictly monotonic across chunks.
func TestSubFlushBoundary(t *testing.T) {
	times, values := makeSeries(10)
	p := New(Config{WindowRange: 3, SlideStep: 1, StoreIdentifier: true}, nil)
	if err := p.Append(times[:5], values[:5]); err != nil {
		t.Fatal(err)
	}
	for p.HasNext(nil) {
		if err := p.ProcessNext(); err != nil {
			t.Fatal(err)
		}
	}
	firstChunk := append([]Identifier{}, p.Identifiers()...)
	if len(firstChunk) != 3 {
		t.Fatalf("expected 3 windows in first sub-chunk, got %d", len(firstChunk))
	}
	p.Clear()

	if err := p.Append(times[5:], values[5:]); err != nil {
		t.Fatal(err)
	}
	for p.HasNext(nil) {
		if err := p.ProcessNext(); err != nil {
			t.Fatal(err)
		}
	}
	secondChunk := p.Identifiers()

	all := append(firstChunk, secondChunk...)
	if len(all) != 8 {
		t.Fatalf("expected 8 total windows (10-3+1), got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime <= all[i-1].StartTime {
			t.Fatalf("start_time not strictly monotonic at %d: %v -> %v", i, all[i-1], all[i])
		}
	}
}

func TestAlignUniformLength(t *testing.T) {
	times := []int64{0, 1, 5, 10}
	values := []float64{1, 2, 3, 4}
	out := AlignUniform(times, values, 5)
	if len(out) != 5 {
		t.Fatalf("expected length 5, got %d", len(out))
	}
	// idempotent in length when re-applied with the same n over its own grid
	grid := make([]int64, len(out))
	for i := range grid {
		grid[i] = int64(i)
	}
	again := AlignUniform(grid, out, 5)
	if len(again) != len(out) {
		t.Fatalf("alignment not idempotent in length")
	}
}
