// Package queryreader implements the query-time pruning reader of
// spec.md §4.5: it maintains the allowed/index-usable/chunk-pruned time
// filters, drains a min-heap of index chunks in start-time order, and
// answers CanSkipDataRange for the outer scan.
package queryreader

import (
	"container/heap"
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nexustsdb/simsearch/core"
	"github.com/nexustsdb/simsearch/hooks"
	"github.com/nexustsdb/simsearch/preprocess"
	"github.com/nexustsdb/simsearch/timerange"
)

// State is the per-query lifecycle of spec.md §4.5.
type State int

const (
	StateCreated State = iota
	StateInitialized
	StateScanning
	StateReleased
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateScanning:
		return "scanning"
	case StateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// IndexChunkMeta describes one sequential index chunk available to the
// reader's min-heap. Unpack lazily fetches the chunk body from the host
// (spec.md §6 IndexChunkMeta.unpack() → bytes); it may fail transiently.
// Unseq marks a chunk covering out-of-order data: accepted into the heap
// but excluded from allowed_range shrinkage (spec.md §9 Design Notes,
// SPEC_FULL.md §12).
type IndexChunkMeta struct {
	Path      string
	StartTime int64
	EndTime   int64
	Unseq     bool
	Unpack    func() ([]byte, error)
}

func (m *IndexChunkMeta) rangeInterval() timerange.Interval {
	return timerange.Interval{Start: m.StartTime, End: m.EndTime}
}

// chunkHeap is a container/heap.Interface ordering IndexChunkMeta by
// StartTime (spec.md §4.5 "min-heap ... ordered by startTime").
type chunkHeap []*IndexChunkMeta

func (h chunkHeap) Len() int            { return len(h) }
func (h chunkHeap) Less(i, j int) bool  { return h[i].StartTime < h[j].StartTime }
func (h chunkHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *chunkHeap) Push(x interface{}) { *h = append(*h, x.(*IndexChunkMeta)) }
func (h *chunkHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Indexer is the subset of simindex.MBRIndex the reader drives. Kept as an
// interface so this package never imports simindex (spec.md §9's
// composition-over-subclassing design note applies equally to this
// boundary: the reader observes an index, it does not own one).
type Indexer interface {
	// QueryByIndex deserializes chunkBytes and returns the candidate
	// identifiers possibly matching the reader's pattern (spec.md §4.4).
	QueryByIndex(chunkBytes []byte) ([]preprocess.Identifier, error)
	// Append feeds a batch into the index's preprocessor.
	Append(times []int64, values []float64) error
	// HasNext/ProcessNext drive the index's preprocessor directly, gated by
	// the reader's current allowed_range (spec.md §4.5 append_data_and_post_process).
	HasNext(filter *timerange.Set) bool
	ProcessNext() error
	// PostProcessNext evaluates funcs against the just-processed window and
	// reports whether it matched the query pattern.
	PostProcessNext(funcs []string) (bool, error)
}

// Reader is one query's pruning state (spec.md §4.5). Not safe for
// concurrent use; the surrounding query engine drives it from one
// goroutine, matching the single-threaded-cooperative model of spec.md §5.
type Reader struct {
	path   string
	index  Indexer
	hooks  hooks.HookManager
	logger *slog.Logger
	tracer trace.Tracer

	state        State
	allowedRange *timerange.Set
	usableRange  *timerange.Set
	pending      chunkHeap
}

// Option configures a Reader at construction.
type Option func(*Reader)

// WithTracerProvider overrides the noop default tracer.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Reader) { r.tracer = tp.Tracer("github.com/nexustsdb/simsearch/queryreader") }
}

// New constructs a Reader in the CREATED state for one query over path.
func New(path string, index Indexer, hm hooks.HookManager, logger *slog.Logger, opts ...Option) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if hm == nil {
		hm = hooks.NewHookManager(nil)
	}
	r := &Reader{
		path:   path,
		index:  index,
		hooks:  hm,
		logger: logger,
		tracer: noop.NewTracerProvider().Tracer(""),
		state:  StateCreated,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InitQueryCondition transitions CREATED → INITIALIZED, seeding
// allowed_range from the caller's time filter (universe if nil) and
// index_usable_range as empty, per spec.md §3 Lifecycles / §4.5.
func (r *Reader) InitQueryCondition(initialFilter *timerange.Set) {
	if initialFilter == nil {
		initialFilter = timerange.Universe()
	}
	r.allowedRange = initialFilter
	r.usableRange = timerange.Empty()
	r.state = StateInitialized
}

// AddChunk enqueues a sequential index chunk into the reader's min-heap.
func (r *Reader) AddChunk(meta *IndexChunkMeta) {
	heap.Push(&r.pending, meta)
}

// State reports the reader's current lifecycle state.
func (r *Reader) State() State { return r.state }

// UpdateUsableRange unions [start, end] into index_usable_range. A range
// with start > end is rejected silently, matching spec.md §4.5 (the other
// documented rejection, "length ≠ 2", is a wire-format concern this typed
// two-argument signature cannot exhibit).
func (r *Reader) UpdateUsableRange(start, end int64) {
	if start > end {
		return
	}
	r.usableRange = r.usableRange.Union([]timerange.Interval{{Start: start, End: end}})
	if r.state == StateInitialized {
		r.state = StateScanning
	}
}

// UpdateIndexChunks drains the heap while the head chunk is relevant to
// [dataStart, dataEnd], per spec.md §4.5: stops once the head starts after
// dataEnd, drops chunks ending before dataStart, and otherwise consults the
// default optimizer (unpack iff the chunk's span is not already fully
// covered by index_usable_range) before running QueryByIndex and shrinking
// allowed_range by the chunk's pruned-and-usable complement.
func (r *Reader) UpdateIndexChunks(ctx context.Context, dataStart, dataEnd int64) error {
	ctx, span := r.tracer.Start(ctx, "queryreader.UpdateIndexChunks")
	defer span.End()
	span.SetAttributes(attribute.Int64("data_start", dataStart), attribute.Int64("data_end", dataEnd))

	if r.state == StateInitialized {
		r.state = StateScanning
	}

	for r.pending.Len() > 0 {
		head := r.pending[0]
		if head.StartTime > dataEnd {
			break
		}
		if head.EndTime < dataStart {
			heap.Pop(&r.pending)
			continue
		}

		chunkRange := head.rangeInterval()
		alreadyUsable := timerange.FromIntervals([]timerange.Interval{chunkRange}).SubtractSet(r.usableRange).IsEmpty()
		heap.Pop(&r.pending)
		if alreadyUsable {
			continue
		}

		body, err := head.Unpack()
		if err != nil {
			unpackErr := &core.ChunkUnpackError{Path: head.Path, Err: err}
			r.logger.Warn("skipping index chunk after unpack failure",
				"path", head.Path, "start", head.StartTime, "end", head.EndTime, "error", err)
			_ = r.hooks.Trigger(ctx, hooks.NewTransientChunkErrorEvent(hooks.TransientChunkErrorPayload{
				Path: head.Path, Start: head.StartTime, End: head.EndTime, Err: unpackErr,
			}))
			continue
		}

		candidates, err := r.index.QueryByIndex(body)
		if err != nil {
			if core.Transient(err) {
				r.logger.Warn("skipping index chunk after unpack failure",
					"path", head.Path, "start", head.StartTime, "end", head.EndTime, "error", err)
				_ = r.hooks.Trigger(ctx, hooks.NewTransientChunkErrorEvent(hooks.TransientChunkErrorPayload{
					Path: head.Path, Start: head.StartTime, End: head.EndTime, Err: err,
				}))
				continue
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, "query_by_index_failed")
			return err
		}

		candidateRanges := make([]timerange.Interval, 0, len(candidates))
		for _, c := range candidates {
			candidateRanges = append(candidateRanges, timerange.Interval{Start: c.StartTime, End: c.EndTime})
		}
		chunkPruned := timerange.FromIntervals([]timerange.Interval{chunkRange}).SubtractSet(timerange.FromIntervals(candidateRanges))
		// validPruned = chunkPruned ∩ index_usable_range, computed via double
		// subtraction since timerange.Set exposes no direct Intersect(Set).
		validPruned := chunkPruned.SubtractSet(chunkPruned.SubtractSet(r.usableRange))

		if !head.Unseq {
			r.allowedRange = r.allowedRange.SubtractSet(validPruned)
		}
	}
	return nil
}

// CanSkipDataRange updates the reader over [s, e] and reports whether
// allowed_range ∩ [s, e] is empty (spec.md §4.5).
func (r *Reader) CanSkipDataRange(ctx context.Context, s, e int64) (bool, error) {
	if err := r.UpdateIndexChunks(ctx, s, e); err != nil {
		return false, err
	}
	return !r.allowedRange.Overlaps(s, e), nil
}

// AppendDataAndPostProcess feeds batch into the index's preprocessor and,
// while budget remains and a window satisfying allowed_range is available,
// materializes it and evaluates funcs against it. Returns the remaining
// budget (spec.md §4.5).
func (r *Reader) AppendDataAndPostProcess(ctx context.Context, times []int64, values []float64, funcs []string, budget int) (int, error) {
	ctx, span := r.tracer.Start(ctx, "queryreader.AppendDataAndPostProcess")
	defer span.End()

	if err := r.index.Append(times, values); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append_failed")
		return budget, err
	}
	for budget > 0 && r.index.HasNext(r.allowedRange) {
		if err := r.index.ProcessNext(); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "process_next_failed")
			return budget, err
		}
		if _, err := r.index.PostProcessNext(funcs); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "post_process_next_failed")
			return budget, err
		}
		budget--
	}
	span.SetAttributes(attribute.Int("budget_remaining", budget))
	return budget, nil
}

// Release transitions the reader to RELEASED, dropping its heap and
// filters. Any subsequent call is a programmer error (spec.md §4.5 state
// machine: transitions out of SCANNING happen only via Release).
func (r *Reader) Release() {
	r.state = StateReleased
	r.pending = nil
	r.allowedRange = nil
	r.usableRange = nil
}
