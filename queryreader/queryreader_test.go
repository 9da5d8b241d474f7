package queryreader

import (
	"context"
	"testing"

	"github.com/nexustsdb/simsearch/preprocess"
	"github.com/nexustsdb/simsearch/timerange"
)

// fakeIndexer answers QueryByIndex with a fixed candidate list regardless of
// chunk bytes, letting tests drive the reader's pruning logic in isolation.
type fakeIndexer struct {
	candidates []preprocess.Identifier
	queryErr   error
}

func (f *fakeIndexer) QueryByIndex(chunkBytes []byte) ([]preprocess.Identifier, error) {
	return f.candidates, f.queryErr
}
func (f *fakeIndexer) Append(times []int64, values []float64) error       { return nil }
func (f *fakeIndexer) HasNext(filter *timerange.Set) bool                 { return false }
func (f *fakeIndexer) ProcessNext() error                                 { return nil }
func (f *fakeIndexer) PostProcessNext(funcs []string) (bool, error)       { return false, nil }

// TestPruningScenario exercises scenario 5 of spec.md §8: a chunk spanning
// [50,150] whose candidates only cover [120,140] must, once the usable
// window [100,200] is established, let CanSkipDataRange report true for a
// sub-range fully outside the candidates but false for one overlapping them.
func TestPruningScenario(t *testing.T) {
	idx := &fakeIndexer{candidates: []preprocess.Identifier{
		{StartTime: 120, EndTime: 140, Count: 21},
	}}
	unpacked := false
	r := New("root.sg.d.s", idx, nil, nil)
	r.InitQueryCondition(nil)
	r.AddChunk(&IndexChunkMeta{
		Path: "chunk-0", StartTime: 50, EndTime: 150,
		Unpack: func() ([]byte, error) { unpacked = true; return []byte("body"), nil },
	})

	r.UpdateUsableRange(100, 200)
	if err := r.UpdateIndexChunks(context.Background(), 100, 200); err != nil {
		t.Fatalf("update_index_chunks: %v", err)
	}
	if !unpacked {
		t.Fatalf("expected chunk to be unpacked")
	}

	skip, err := r.CanSkipDataRange(context.Background(), 101, 119)
	if err != nil {
		t.Fatalf("can_skip_data_range: %v", err)
	}
	if !skip {
		t.Fatalf("expected [101,119] to be skippable (outside candidates)")
	}

	skip, err = r.CanSkipDataRange(context.Background(), 120, 140)
	if err != nil {
		t.Fatalf("can_skip_data_range: %v", err)
	}
	if skip {
		t.Fatalf("expected [120,140] to NOT be skippable (covers a candidate)")
	}
}

// TestUnseqChunkNeverShrinksAllowedRange exercises SPEC_FULL.md §12's
// unseq-chunk-exclusion supplement: a chunk marked Unseq must not shrink
// allowed_range even when its candidates leave most of its span pruned.
func TestUnseqChunkNeverShrinksAllowedRange(t *testing.T) {
	idx := &fakeIndexer{candidates: nil} // no candidates -> entire span "prunable"
	r := New("root.sg.d.s", idx, nil, nil)
	r.InitQueryCondition(nil)
	r.AddChunk(&IndexChunkMeta{
		Path: "chunk-unseq", StartTime: 0, EndTime: 100, Unseq: true,
		Unpack: func() ([]byte, error) { return []byte("body"), nil },
	})
	r.UpdateUsableRange(0, 50)

	before := r.allowedRange.Intervals()
	if err := r.UpdateIndexChunks(context.Background(), 0, 100); err != nil {
		t.Fatalf("update_index_chunks: %v", err)
	}
	after := r.allowedRange.Intervals()
	if len(before) != len(after) || before[0] != after[0] {
		t.Fatalf("unseq chunk must not shrink allowed_range: before=%v after=%v", before, after)
	}
}

// TestUpdateIndexChunksDropsChunksBeforeDataStart exercises the "chunk.end <
// dataStart" drop path of spec.md §4.5.
func TestUpdateIndexChunksDropsChunksBeforeDataStart(t *testing.T) {
	idx := &fakeIndexer{}
	r := New("root.sg.d.s", idx, nil, nil)
	r.InitQueryCondition(nil)
	r.AddChunk(&IndexChunkMeta{Path: "old", StartTime: 0, EndTime: 10, Unpack: func() ([]byte, error) {
		t.Fatalf("stale chunk should never be unpacked")
		return nil, nil
	}})

	if err := r.UpdateIndexChunks(context.Background(), 100, 200); err != nil {
		t.Fatalf("update_index_chunks: %v", err)
	}
	if r.pending.Len() != 0 {
		t.Fatalf("expected stale chunk to be dropped, heap len = %d", r.pending.Len())
	}
}

func TestUpdateUsableRangeRejectsInvertedSilently(t *testing.T) {
	r := New("root.sg.d.s", &fakeIndexer{}, nil, nil)
	r.InitQueryCondition(nil)
	r.UpdateUsableRange(50, 10) // inverted, should be a silent no-op
	if !r.usableRange.IsEmpty() {
		t.Fatalf("expected inverted range to be rejected")
	}
}
