package simindex

import (
	"context"
	"testing"

	"github.com/nexustsdb/simsearch/config"
	"github.com/nexustsdb/simsearch/core"
	"github.com/nexustsdb/simsearch/preprocess"
)

type captureFlusher struct {
	chunks []*core.IndexFlushChunk
}

func (c *captureFlusher) PersistChunk(ctx context.Context, chunk *core.IndexFlushChunk) error {
	c.chunks = append(c.chunks, chunk)
	return nil
}

func mustConfig(t *testing.T, kv map[string]string) *config.IndexConfig {
	t.Helper()
	cfg, err := config.Parse(kv, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

// TestTrivialInsertAndQuery exercises scenario 1 of spec.md §8: build three
// non-overlapping windows, flush, and confirm the exact-match window
// survives R-tree pruning into the candidate list (P3: no false dismissals).
func TestTrivialInsertAndQuery(t *testing.T) {
	cfg := mustConfig(t, map[string]string{
		"index_window_range": "4",
		"index_slide_step":   "4",
		"feature_dim":        "2",
		"max_entries":        "4",
		"min_entries":        "2",
	})

	flusher := &captureFlusher{}
	build, err := New("root.sg.d.s", cfg, WithFlushCollaborator(flusher))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	times := make([]int64, 12)
	for i := range times {
		times[i] = int64(i)
	}
	values := []float64{1, 2, 3, 4, 2, 3, 4, 5, 3, 4, 5, 6}
	if err := build.Append(times, values); err != nil {
		t.Fatalf("append: %v", err)
	}

	var built int
	for {
		ok, err := build.BuildNext(context.Background())
		if err != nil {
			t.Fatalf("build_next: %v", err)
		}
		if !ok {
			break
		}
		built++
	}
	if built != 3 {
		t.Fatalf("expected 3 windows built, got %d", built)
	}

	chunk, err := build.Flush(context.Background())
	if err != nil {
		t.Fatalf("flush: %v", err)
	}
	if chunk == nil {
		t.Fatalf("expected a non-nil flush chunk")
	}
	if len(flusher.chunks) != 1 {
		t.Fatalf("expected the flush collaborator to receive 1 chunk, got %d", len(flusher.chunks))
	}

	query, err := New("root.sg.d.s", cfg)
	if err != nil {
		t.Fatalf("new query index: %v", err)
	}
	if err := query.InitQuery(context.Background(), []float64{2, 3, 4, 5}, 0.01); err != nil {
		t.Fatalf("init_query: %v", err)
	}
	candidates, err := query.QueryByIndex(chunk.Body)
	if err != nil {
		t.Fatalf("query_by_index: %v", err)
	}

	want := preprocess.Identifier{StartTime: 4, EndTime: 7, Count: 4}
	found := false
	for _, c := range candidates {
		if c == want {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected exact-match window %+v among candidates %+v", want, candidates)
	}
}

// TestSubFlushBoundary exercises scenario 4 of spec.md §8: feeding 10 points
// with W=3, S=1 and calling flush();clear() at the 5-point mark then again
// at the 10-point mark must produce two chunks whose identifier counts sum
// to the full 8-window sequence, with slice_num restarting per chunk and
// start_time strictly monotonic across the concatenation.
func TestSubFlushBoundary(t *testing.T) {
	cfg := mustConfig(t, map[string]string{
		"index_window_range": "3",
		"index_slide_step":   "1",
		"feature_dim":        "2",
		"max_entries":        "50",
		"min_entries":        "2",
	})
	flusher := &captureFlusher{}
	idx, err := New("root.sg.d.s", cfg, WithFlushCollaborator(flusher))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	times1 := []int64{0, 1, 2, 3, 4}
	values1 := []float64{1, 2, 3, 4, 5}
	if err := idx.Append(times1, values1); err != nil {
		t.Fatalf("append 1: %v", err)
	}

	var built1 int
	for {
		ok, err := idx.BuildNext(context.Background())
		if err != nil {
			t.Fatalf("build_next 1: %v", err)
		}
		if !ok {
			break
		}
		built1++
	}
	if built1 != 3 {
		t.Fatalf("expected 3 windows in first sub-chunk, got %d", built1)
	}
	firstIdentifiers := append([]preprocess.Identifier{}, idx.buildIdentifiers...)

	if _, err := idx.Flush(context.Background()); err != nil {
		t.Fatalf("flush 1: %v", err)
	}
	idx.Clear(context.Background())
	if idx.pre.CurrentChunkSize() != 0 {
		t.Fatalf("expected slice_num to restart at 0 after clear, got %d", idx.pre.CurrentChunkSize())
	}

	times2 := []int64{5, 6, 7, 8, 9}
	values2 := []float64{6, 7, 8, 9, 10}
	if err := idx.Append(times2, values2); err != nil {
		t.Fatalf("append 2: %v", err)
	}
	var built2 int
	for {
		ok, err := idx.BuildNext(context.Background())
		if err != nil {
			t.Fatalf("build_next 2: %v", err)
		}
		if !ok {
			break
		}
		built2++
	}
	if built2 != 5 {
		t.Fatalf("expected 5 windows in second sub-chunk, got %d", built2)
	}
	secondIdentifiers := append([]preprocess.Identifier{}, idx.buildIdentifiers...)

	if _, err := idx.Flush(context.Background()); err != nil {
		t.Fatalf("flush 2: %v", err)
	}
	if len(flusher.chunks) != 2 {
		t.Fatalf("expected 2 flushed chunks, got %d", len(flusher.chunks))
	}

	all := append(append([]preprocess.Identifier{}, firstIdentifiers...), secondIdentifiers...)
	if len(all) != 8 {
		t.Fatalf("expected 8 total windows across both chunks, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].StartTime <= all[i-1].StartTime {
			t.Fatalf("expected strictly increasing start times, got %+v then %+v", all[i-1], all[i])
		}
	}
}

// TestAmortizedCostMonotonicInBufferSize is a light sanity check on the
// calcAmortizedCost formula of SPEC_FULL.md §12: a larger configured buffer
// size must never report a larger amortized cost per window.
func TestAmortizedCostMonotonicInBufferSize(t *testing.T) {
	cfg := mustConfig(t, map[string]string{
		"index_window_range": "4",
		"feature_dim":        "2",
	})
	idx, err := New("root.sg.d.s", cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	small := idx.AmortizedCost(1 << 12)
	large := idx.AmortizedCost(1 << 20)
	if large > small {
		t.Fatalf("expected amortized cost to shrink or stay flat as buffer grows: small=%d large=%d", small, large)
	}
}
