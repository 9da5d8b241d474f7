// Package simindex wires the preprocessor, ELB feature extractor and
// R-tree into the per-series MBRIndex of spec.md §4.4: it owns build_next,
// flush, clear and query_by_index, and implements queryreader.Indexer so a
// queryreader.Reader can drive its query-side preprocessing directly.
package simindex

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/nexustsdb/simsearch/config"
	"github.com/nexustsdb/simsearch/core"
	"github.com/nexustsdb/simsearch/distance"
	"github.com/nexustsdb/simsearch/elb"
	"github.com/nexustsdb/simsearch/hooks"
	"github.com/nexustsdb/simsearch/hostapi"
	"github.com/nexustsdb/simsearch/metrics"
	"github.com/nexustsdb/simsearch/preprocess"
	"github.com/nexustsdb/simsearch/rangestrategy"
	"github.com/nexustsdb/simsearch/rtree"
	"github.com/nexustsdb/simsearch/timerange"
)

// MatchResult is one accepted query-side window, produced by PostProcessNext.
type MatchResult struct {
	Identifier preprocess.Identifier
	Distance   float64
}

// MBRIndex is the per-series-path index instance of spec.md §4.4. Not safe
// for concurrent use (spec.md §5): a single instance serves at most one
// flush task or query at a time.
type MBRIndex struct {
	path string
	cfg  *config.IndexConfig

	pre        *preprocess.CountFixedPreprocessor
	extractor  *elb.Extractor
	tree       *rtree.Tree
	distanceFn distance.Func

	corners []float64
	ranges  []float64

	// buildIdentifiers is indexed by payload ID: the identifier of the
	// window inserted at that position in the current (uncleared) tree.
	buildIdentifiers []preprocess.Identifier

	queryPattern   []float64
	queryThreshold float64
	results        []MatchResult

	compressor core.Compressor
	flusher    hostapi.FlushCollaborator
	hookMgr    hooks.HookManager
	reporter   *metrics.Reporter
	logger     *slog.Logger
	tracer     trace.Tracer

	closed bool
}

// Option configures an MBRIndex at construction.
type Option func(*MBRIndex)

func WithFlushCollaborator(f hostapi.FlushCollaborator) Option {
	return func(m *MBRIndex) { m.flusher = f }
}
func WithHookManager(hm hooks.HookManager) Option { return func(m *MBRIndex) { m.hookMgr = hm } }
func WithMetricsReporter(r *metrics.Reporter) Option {
	return func(m *MBRIndex) { m.reporter = r }
}
func WithLogger(l *slog.Logger) Option { return func(m *MBRIndex) { m.logger = l } }
func WithCompressor(c core.Compressor) Option {
	return func(m *MBRIndex) { m.compressor = c }
}
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(m *MBRIndex) { m.tracer = tp.Tracer("github.com/nexustsdb/simsearch/simindex") }
}

// New constructs an MBRIndex for path from a parsed, normalized IndexConfig
// (spec.md §6). Wires the count-fixed preprocessor, the ELB extractor as
// its WindowObserver (spec.md §9 composition design note), and a fresh
// R-tree sized from cfg.
func New(path string, cfg *config.IndexConfig, opts ...Option) (*MBRIndex, error) {
	distFn, ok := distance.ByName(string(cfg.Distance))
	if !ok {
		return nil, &core.UnsupportedQueryError{Message: "distance function " + string(cfg.Distance) + " is not supported"}
	}

	pre := preprocess.New(preprocess.Config{
		WindowRange:     cfg.WindowRange,
		SlideStep:       cfg.SlideStep,
		StoreIdentifier: true,
		StoreAligned:    true,
		AlignedSize:     cfg.WindowRange,
		Strategy:        rangestrategy.New(cfg.RangeStrategy, 0),
	}, nil)

	calc := elb.CalcParam{HasBase: cfg.ELBHasThresholdBase, Base: cfg.ELBThresholdBase, Ratio: cfg.ELBThresholdRatio}
	extractor := elb.NewExtractor(cfg.FeatureDim, cfg.ELBType, calc, true)
	pre.AddObserver(extractor)

	tree := rtree.New(cfg.FeatureDim, cfg.MaxEntries, cfg.MinEntries, config.SeedPicker(cfg.SeedPicker))

	m := &MBRIndex{
		path:       path,
		cfg:        cfg,
		pre:        pre,
		extractor:  extractor,
		tree:       tree,
		distanceFn: distFn,
		corners:    make([]float64, cfg.FeatureDim),
		ranges:     make([]float64, cfg.FeatureDim),
		hookMgr:    hooks.NewHookManager(nil),
		logger:     slog.Default(),
		tracer:     noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *MBRIndex) checkClosed() error {
	if m.closed {
		return &core.FatalIndexError{Invariant: "closed", Message: "operation on a closed index"}
	}
	return nil
}

// Append feeds a batch of points into the preprocessor. Implements
// queryreader.Indexer.
func (m *MBRIndex) Append(times []int64, values []float64) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	return m.pre.Append(times, values)
}

// HasNext reports whether a window satisfying filter is ready. Implements
// queryreader.Indexer.
func (m *MBRIndex) HasNext(filter *timerange.Set) bool {
	if m.closed {
		return false
	}
	return m.pre.HasNext(filter)
}

// ProcessNext materializes the next window. Implements queryreader.Indexer.
func (m *MBRIndex) ProcessNext() error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	return m.pre.ProcessNext()
}

// BuildNext drives one build-side step: advances the preprocessor to the
// next unfiltered window, extracts its ELB feature, and inserts it into the
// R-tree (spec.md §4.4 build_next). Returns false once no window remains.
func (m *MBRIndex) BuildNext(ctx context.Context) (bool, error) {
	if err := m.checkClosed(); err != nil {
		return false, err
	}
	if !m.pre.HasNext(nil) {
		return false, nil
	}

	_, span := m.tracer.Start(ctx, "simindex.BuildNext")
	defer span.End()
	start := time.Now()

	if err := m.pre.ProcessNext(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "process_next_failed")
		return false, err
	}

	features := m.extractor.LatestFeatures(1)
	if len(features) == 0 {
		return false, &core.FatalIndexError{Invariant: "I1", Message: "buildNext advanced a window but no feature was extracted"}
	}
	f := features[len(features)-1]
	if err := elb.CopyFeature(f, m.corners, m.ranges); err != nil {
		return false, err
	}

	_ = m.hookMgr.Trigger(ctx, hooks.NewPreBuildNextEvent(hooks.PreBuildNextPayload{
		Path: m.path, Corners: m.corners, Ranges: m.ranges,
	}))

	id := m.pre.CurrentIdentifier()
	payloadID := uint64(len(m.buildIdentifiers))
	m.buildIdentifiers = append(m.buildIdentifiers, id)

	var insertErr error
	if m.extractor.UsePointType() {
		insertErr = m.tree.InsertPoint(m.corners, payloadID)
	} else {
		max := make([]float64, len(m.corners))
		for i := range max {
			max[i] = m.corners[i] + m.ranges[i]
		}
		insertErr = m.tree.InsertRect(m.corners, max, payloadID)
	}
	if insertErr != nil {
		span.RecordError(insertErr)
		span.SetStatus(codes.Error, "insert_failed")
	}
	if m.reporter != nil {
		m.reporter.ObserveDuration("build_next", time.Since(start))
	}
	_ = m.hookMgr.Trigger(ctx, hooks.NewPostBuildNextEvent(hooks.PostBuildNextPayload{
		Path: m.path, SliceNum: m.pre.CurrentChunkSize() - 1, Accepted: insertErr == nil, Error: insertErr,
	}))
	return insertErr == nil, insertErr
}

// Flush serializes the current R-tree to bytes and hands it to the
// configured FlushCollaborator (spec.md §4.4). It does NOT reset the tree
// or preprocessor; Clear does that (SPEC_FULL.md §12: "flush() does not
// reset state"). Returns nil if the preprocessor's current chunk is empty.
func (m *MBRIndex) Flush(ctx context.Context) (*core.IndexFlushChunk, error) {
	if err := m.checkClosed(); err != nil {
		return nil, err
	}
	if m.pre.CurrentChunkSize() == 0 {
		return nil, nil
	}

	ctx, span := m.tracer.Start(ctx, "simindex.Flush")
	defer span.End()
	start := time.Now()

	chunkStart, chunkEnd := m.pre.ChunkBounds()
	_ = m.hookMgr.Trigger(ctx, hooks.NewPreFlushEvent(hooks.PreFlushPayload{Path: m.path, WindowSize: m.cfg.WindowRange}))

	var buf bytes.Buffer
	writePayload := func(payloadID uint64, w io.Writer) error {
		if int(payloadID) >= len(m.buildIdentifiers) {
			return &core.FatalIndexError{Invariant: "I1", Message: "payload id out of range of build identifiers"}
		}
		return writeIdentifier(w, m.buildIdentifiers[payloadID])
	}
	if err := m.tree.Serialize(&buf, writePayload); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "serialize_failed")
		return nil, err
	}

	body := buf.Bytes()
	compressed := core.CompressionNone
	if m.compressor != nil {
		cb, err := m.compressor.Compress(body)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "compress_failed")
			return nil, err
		}
		body = cb
		compressed = m.compressor.Type()
	}

	chunk := &core.IndexFlushChunk{
		Path: m.path, IndexType: core.IndexTypeELBMBR, Body: body,
		Compressed: compressed, StartTime: chunkStart, EndTime: chunkEnd,
	}

	var flushErr error
	if m.flusher != nil {
		flushErr = m.flusher.PersistChunk(ctx, chunk)
	}
	duration := time.Since(start)
	if m.reporter != nil {
		m.reporter.ObserveDuration("flush", duration)
	}
	if flushErr != nil {
		span.RecordError(flushErr)
		span.SetStatus(codes.Error, "persist_chunk_failed")
	}
	span.SetAttributes(attribute.Int("body_bytes", len(body)), attribute.String("compression", compressed.String()))
	_ = m.hookMgr.Trigger(ctx, hooks.NewPostFlushEvent(hooks.PostFlushPayload{
		Path: m.path, Chunk: chunk, Duration: duration, Error: flushErr,
	}))
	if flushErr != nil {
		return chunk, flushErr
	}
	return chunk, nil
}

// Clear discards the current R-tree and resets the preprocessor/extractor
// ahead of a memory-pressure sub-flush or logical flush-task boundary
// (spec.md §4.4, §5). Returns an estimate of freed bytes.
func (m *MBRIndex) Clear(ctx context.Context) int64 {
	_ = m.hookMgr.Trigger(ctx, hooks.NewPreClearEvent(hooks.PreClearPayload{Path: m.path}))
	freed := m.pre.Clear() + m.extractor.Clear()
	m.tree = rtree.New(m.cfg.FeatureDim, m.cfg.MaxEntries, m.cfg.MinEntries, config.SeedPicker(m.cfg.SeedPicker))
	m.buildIdentifiers = nil
	_ = m.hookMgr.Trigger(ctx, hooks.NewPostClearEvent(hooks.PostClearPayload{Path: m.path, FreedBytes: freed}))
	return freed
}

// calcLowerBoundThreshold is IoTDB's ELB implementation's open question
// (spec.md §9 Design Notes): it always returns 0. With threshold 0 the
// R-tree search keeps only entries whose MBR contains the query point, so
// its only pruning is that containment test; no distance-based lower bound
// is applied, and every candidate it returns is re-checked exactly in
// PostProcessNext. Tighter R-tree-level pruning would need a real lower
// bound derived from the ELB block geometry, which IoTDB itself never
// computes for this index family.
func (m *MBRIndex) calcLowerBoundThreshold(userThreshold float64) float64 {
	return 0
}

// InitQuery sets the query pattern and threshold for subsequent
// QueryByIndex/PostProcessNext calls, aligning pattern to the configured
// window length exactly as build-side windows are aligned.
func (m *MBRIndex) InitQuery(ctx context.Context, pattern []float64, threshold float64) error {
	if err := m.checkClosed(); err != nil {
		return err
	}
	if len(pattern) == 0 {
		return &core.ConfigError{Key: "pattern", Message: "pattern is required to initialize a query"}
	}
	grid := make([]int64, len(pattern))
	for i := range grid {
		grid[i] = int64(i)
	}
	patternCopy := append([]float64{}, pattern...)
	m.queryPattern = preprocess.AlignUniform(grid, patternCopy, m.cfg.WindowRange)
	m.queryThreshold = threshold
	m.results = nil
	_ = m.hookMgr.Trigger(ctx, hooks.NewPreQueryEvent(hooks.PreQueryPayload{Path: m.path, Pattern: &m.queryPattern}))
	return nil
}

// QueryByIndex deserializes chunkBytes into an ephemeral R-tree, searches it
// with the configured pattern/threshold, and returns the candidate window
// identifiers (spec.md §4.4 query_by_index). The tree and its identifierMap
// are discarded once candidates are extracted — this method's local state,
// not a persisted field.
func (m *MBRIndex) QueryByIndex(chunkBytes []byte) ([]preprocess.Identifier, error) {
	start := time.Now()
	if err := m.checkClosed(); err != nil {
		return nil, err
	}
	if m.compressor != nil && m.compressor.Type() != core.CompressionNone {
		rc, err := m.compressor.Decompress(chunkBytes)
		if err != nil {
			return nil, &core.ChunkUnpackError{Path: m.path, Err: err}
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, &core.ChunkUnpackError{Path: m.path, Err: err}
		}
		chunkBytes = data
	}

	identifierMap := make(map[uint64]preprocess.Identifier)
	readPayload := func(r io.Reader) (uint64, error) {
		id, err := readIdentifier(r)
		if err != nil {
			return 0, err
		}
		payloadID := uint64(len(identifierMap))
		identifierMap[payloadID] = id
		return payloadID, nil
	}
	tree, err := rtree.Deserialize(bytes.NewReader(chunkBytes), readPayload)
	if err != nil {
		return nil, err
	}

	queryPoint := m.extractor.QueryPoint(m.queryPattern)
	zero := make([]float64, len(queryPoint))
	threshold := m.calcLowerBoundThreshold(m.queryThreshold)

	bitmap := tree.SearchWithThreshold(queryPoint, zero, threshold)
	out := make([]preprocess.Identifier, 0, bitmap.GetCardinality())
	it := bitmap.Iterator()
	for it.HasNext() {
		pid := it.Next()
		if id, ok := identifierMap[pid]; ok {
			out = append(out, id)
		}
	}
	if m.reporter != nil {
		m.reporter.ObserveDuration("query", time.Since(start))
	}
	return out, nil
}

// PostProcessNext evaluates the configured distance function against the
// most recently materialized window's aligned sequence, recording a match
// if it falls within the query threshold. Implements queryreader.Indexer.
// funcs is not consulted: the distance function fixed at construction from
// the index configuration is always the one evaluated.
func (m *MBRIndex) PostProcessNext(funcs []string) (bool, error) {
	if err := m.checkClosed(); err != nil {
		return false, err
	}
	aligned := m.pre.CurrentL2AlignedSequence()
	if aligned == nil {
		return false, &core.FatalIndexError{Invariant: "I1", Message: "postProcessNext called without an aligned sequence"}
	}
	defer m.pre.ReturnAligned(aligned)

	seq := aligned.Slice(0, aligned.Len())
	if len(seq) != len(m.queryPattern) {
		return false, &core.DataTypeError{Message: "aligned window length does not match query pattern length"}
	}
	d := m.distanceFn(seq, m.queryPattern)
	matched := d <= m.queryThreshold
	if matched {
		m.results = append(m.results, MatchResult{Identifier: m.pre.CurrentIdentifier(), Distance: d})
	}
	return matched, nil
}

// Results returns the accumulated PostProcessNext matches for the current query.
func (m *MBRIndex) Results() []MatchResult { return m.results }

// AmortizedCost implements the exact formula MBRIndex.java's
// calcAmortizedCost uses (SPEC_FULL.md §12), given the host's configured
// per-index buffer size budget in bytes.
func (m *MBRIndex) AmortizedCost(indexBufferSize int64) int64 {
	a := int64(m.cfg.MaxEntries)
	b := int64(m.cfg.MinEntries)
	leafCost := m.leafNodeCost()
	n := indexBufferSize / (leafCost + 3*8)
	if n < b {
		return m.pre.AmortizedSize() + leafCost
	}
	if a <= 1 {
		return m.pre.AmortizedSize() + leafCost
	}
	innerNodeNum := (a*n/b - 1) / (a - 1)
	if innerNodeNum <= 0 {
		innerNodeNum = 1
	}
	return m.pre.AmortizedSize() + leafCost + leafCost/innerNodeNum
}

// leafNodeCost is the per-window byte cost used for n and the additive
// term in AmortizedCost; it reaches innerNodeNum only through n, which is
// combined there with the configured maxEntries/minEntries (spec.md §4.4).
func (m *MBRIndex) leafNodeCost() int64 {
	return int64(m.cfg.FeatureDim)*2*4 + 24 // MBR (f32 min/max per dim) + identifier payload
}

// Delete instructs the index to discard in-progress state (spec.md §5
// "cancellation"). Afterwards Append, ProcessNext, BuildNext, Flush,
// InitQuery, QueryByIndex and PostProcessNext return a permanent
// FatalIndexError and HasNext reports false; Clear, AmortizedCost and
// Results return no error.
func (m *MBRIndex) Delete() {
	m.pre.Close()
	m.closed = true
	m.tree = nil
	m.buildIdentifiers = nil
}

// identifier wire format: start_time(i64) end_time(i64) count(i32), matching
// spec.md §3's "one identifier (start_time:i64, end_time:i64, count:i32)
// per leaf entry" payload description.
func writeIdentifier(w io.Writer, id preprocess.Identifier) error {
	var buf [20]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(id.StartTime))
	binary.BigEndian.PutUint64(buf[8:16], uint64(id.EndTime))
	binary.BigEndian.PutUint32(buf[16:20], uint32(id.Count))
	_, err := w.Write(buf[:])
	return err
}

func readIdentifier(r io.Reader) (preprocess.Identifier, error) {
	var buf [20]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return preprocess.Identifier{}, &core.CorruptChunkError{Message: "short read on identifier payload: " + err.Error()}
	}
	return preprocess.Identifier{
		StartTime: int64(binary.BigEndian.Uint64(buf[0:8])),
		EndTime:   int64(binary.BigEndian.Uint64(buf[8:16])),
		Count:     int(binary.BigEndian.Uint32(buf[16:20])),
	}, nil
}
