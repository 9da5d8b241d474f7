// Package preprocess implements the sliding-window preprocessor of
// spec.md §4.1: a count-fixed window iterator over an append-only
// <time, value> source that emits Identifiers and, on demand, L2 aligned
// sequences. Per the "Preprocessor / extractor coupling" design note
// (spec.md §9), the ELB feature extractor is not a subclass of this type;
// it subscribes as a WindowObserver and is notified once per emitted
// window.
package preprocess

import (
	"github.com/nexustsdb/simsearch/config"
	"github.com/nexustsdb/simsearch/core"
	"github.com/nexustsdb/simsearch/rangestrategy"
	"github.com/nexustsdb/simsearch/timerange"
	"github.com/nexustsdb/simsearch/valuebuffer"
)

// Identifier is the (start_time, end_time, count) triple locating a window
// in the source (spec.md §3, GLOSSARY).
type Identifier struct {
	StartTime int64
	EndTime   int64
	Count     int
}

// WindowObserver is notified once per materialized window, in strictly
// increasing source-index order (spec.md §5 ordering guarantee (a)).
// times and values alias internal buffers valid only for the duration of
// the call.
type WindowObserver interface {
	OnWindow(sliceNum int, times []int64, values []float64)
}

// Config holds the count-fixed preprocessor's tunables (spec.md §4.1).
type Config struct {
	WindowRange     int
	SlideStep       int
	StoreIdentifier bool
	StoreAligned    bool
	AlignedSize     int // defaults to WindowRange when 0
	Strategy        rangestrategy.Strategy
}

// CountFixedPreprocessor is the count-fixed sliding-window iterator.
// Strictly sequential, cooperative, single-threaded (spec.md §5): callers
// must not invoke it concurrently.
type CountFixedPreprocessor struct {
	cfg Config

	times  []int64
	values *valuebuffer.Float64Buffer
	pool   *valuebuffer.Pool

	flushedOffset       int
	sliceNum            int
	currentStartTimeIdx int
	chunkStart          int64
	chunkEnd            int64

	identifiers []Identifier
	observers   []WindowObserver

	closed bool

	currentIdentifier Identifier
	lastAligned       *valuebuffer.Float64Buffer
}

// New constructs a CountFixedPreprocessor. pool is the shared buffer
// allocator (spec.md §5); it may be nil, in which case a private pool is
// created.
func New(cfg Config, pool *valuebuffer.Pool) *CountFixedPreprocessor {
	if cfg.SlideStep <= 0 {
		cfg.SlideStep = cfg.WindowRange
	}
	if cfg.AlignedSize <= 0 {
		cfg.AlignedSize = cfg.WindowRange
	}
	if cfg.Strategy == nil {
		cfg.Strategy = rangestrategy.New(config.RangeStrategyDefault, 0)
	}
	if pool == nil {
		pool = valuebuffer.NewPool(cfg.WindowRange)
	}
	return &CountFixedPreprocessor{
		cfg:    cfg,
		values: valuebuffer.NewFloat64Buffer(0),
		pool:   pool,
	}
}

// AddObserver subscribes obs to future OnWindow notifications.
func (p *CountFixedPreprocessor) AddObserver(obs WindowObserver) {
	p.observers = append(p.observers, obs)
}

// Append enqueues a batch of points. times must be non-decreasing.
func (p *CountFixedPreprocessor) Append(times []int64, values []float64) error {
	if p.closed {
		return &core.FatalIndexError{Invariant: "closed", Message: "append called on a closed preprocessor"}
	}
	if len(times) != len(values) {
		return &core.DataTypeError{Message: "times and values length mismatch"}
	}
	if len(times) == 0 {
		return nil
	}
	if p.chunkStart == 0 && p.chunkEnd == 0 && len(p.times) == 0 {
		p.chunkStart = times[0]
	}
	p.times = append(p.times, times...)
	p.values.AppendAll(values)
	p.chunkEnd = times[len(times)-1]
	return nil
}

// HasNext reports whether a full window is available ahead of the cursor
// and its start time satisfies both the configured range strategy and the
// caller-supplied timeFilter (nil means "no additional filter").
// Rejected windows (range-strategy or filter reject) advance the cursor by
// SlideStep without emitting, per spec.md §4.1.
func (p *CountFixedPreprocessor) HasNext(timeFilter *timerange.Set) bool {
	if p.closed {
		return false
	}
	for p.currentStartTimeIdx+p.cfg.WindowRange <= len(p.times) {
		startTime := p.times[p.currentStartTimeIdx]
		if !p.cfg.Strategy.Accept(startTime) || (timeFilter != nil && !timeFilter.Contains(startTime)) {
			p.currentStartTimeIdx += p.cfg.SlideStep
			continue
		}
		return true
	}
	return false
}

// ProcessNext materializes the current window: builds its Identifier,
// optionally an L2 aligned sequence, and notifies every WindowObserver.
// Must be called only after a successful HasNext.
func (p *CountFixedPreprocessor) ProcessNext() error {
	if p.closed {
		return &core.FatalIndexError{Invariant: "closed", Message: "processNext called on a closed preprocessor"}
	}
	start := p.currentStartTimeIdx
	end := start + p.cfg.WindowRange
	if end > len(p.times) {
		return &core.FatalIndexError{Invariant: "I1", Message: "processNext called without a satisfied hasNext"}
	}

	winTimes := p.times[start:end]
	winValues := p.values.Slice(start, end)

	id := Identifier{
		StartTime: winTimes[0],
		EndTime:   winTimes[len(winTimes)-1],
		Count:     len(winTimes),
	}
	p.currentIdentifier = id
	if p.cfg.StoreIdentifier {
		p.identifiers = append(p.identifiers, id)
	}

	if p.cfg.StoreAligned {
		p.lastAligned = alignBuffer(p.pool, winTimes, winValues, p.cfg.AlignedSize)
	}

	for _, obs := range p.observers {
		obs.OnWindow(p.sliceNum, winTimes, winValues)
	}

	p.sliceNum++
	p.currentStartTimeIdx += p.cfg.SlideStep
	return nil
}

// CurrentIdentifier returns the Identifier of the most recently processed window.
func (p *CountFixedPreprocessor) CurrentIdentifier() Identifier { return p.currentIdentifier }

// CurrentL2AlignedSequence returns the pooled aligned buffer for the most
// recently processed window; callers must return it via ReturnAligned.
func (p *CountFixedPreprocessor) CurrentL2AlignedSequence() *valuebuffer.Float64Buffer {
	return p.lastAligned
}

// ReturnAligned releases a buffer obtained from CurrentL2AlignedSequence.
func (p *CountFixedPreprocessor) ReturnAligned(buf *valuebuffer.Float64Buffer) {
	if buf != nil {
		p.pool.Put(buf)
	}
}

// Identifiers returns every stored identifier of the current chunk
// (StoreIdentifier must be true).
func (p *CountFixedPreprocessor) Identifiers() []Identifier { return p.identifiers }

// CurrentChunkSize returns the number of windows emitted since the last
// Clear (spec.md §4.1 sliceNum).
func (p *CountFixedPreprocessor) CurrentChunkSize() int { return p.sliceNum }

// FlushedOffset returns the count of windows frozen into prior sub-flushes
// of the current logical flush task.
func (p *CountFixedPreprocessor) FlushedOffset() int { return p.flushedOffset }

// ChunkBounds returns the time span of data appended since construction or,
// after a Clear, since the first point that Clear retained.
func (p *CountFixedPreprocessor) ChunkBounds() (start, end int64) {
	return p.chunkStart, p.chunkEnd
}

// Clear compacts processed source data and freezes sliceNum into
// flushedOffset ahead of a sub-flush (spec.md §5 memory pressure). It
// returns an estimate of freed bytes.
func (p *CountFixedPreprocessor) Clear() int64 {
	freedPoints := p.currentStartTimeIdx
	if freedPoints > len(p.times) {
		freedPoints = len(p.times)
	}
	freed := int64(freedPoints) * 16 // 8 bytes time + 8 bytes value, amortized

	p.times = append([]int64{}, p.times[freedPoints:]...)
	p.values.DiscardBefore(freedPoints)
	p.currentStartTimeIdx = 0

	p.flushedOffset += p.sliceNum
	p.sliceNum = 0
	p.identifiers = p.identifiers[:0]
	if len(p.times) > 0 {
		p.chunkStart = p.times[0]
	}
	return freed
}

// AmortizedSize reports an estimate of buffered bytes, consulted by the
// host's memory manager (spec.md §5).
func (p *CountFixedPreprocessor) AmortizedSize() int64 {
	return int64(len(p.times)) * 16
}

// Close transitions the preprocessor to a terminal closed state (spec.md
// §4.1 Failure). Afterwards Append and ProcessNext return a permanent error
// and HasNext reports false; the other methods return no error.
func (p *CountFixedPreprocessor) Close() {
	p.closed = true
	p.times = nil
	p.values = nil
}

func alignBuffer(pool *valuebuffer.Pool, times []int64, values []float64, n int) *valuebuffer.Float64Buffer {
	out := pool.Get()
	aligned := AlignUniform(times, values, n)
	out.AppendAll(aligned)
	return out
}

// AlignUniform resamples (times, values) onto n uniformly spaced grid
// points spanning [times[0], times[len-1]], taking the nearest-neighbour
// source value by timestamp (ties broken by continuing to scan while the
// next candidate is strictly closer), per spec.md §3.
func AlignUniform(times []int64, values []float64, n int) []float64 {
	out := make([]float64, n)
	if n == 0 || len(times) == 0 {
		return out
	}
	if n == 1 {
		out[0] = values[0]
		return out
	}
	t0 := times[0]
	tN := times[len(times)-1]
	span := float64(tN - t0)
	delta := span / float64(n-1)

	srcIdx := 0
	for i := 0; i < n; i++ {
		grid := float64(t0) + float64(i)*delta
		for srcIdx+1 < len(times) && closerTo(grid, times[srcIdx+1], times[srcIdx]) {
			srcIdx++
		}
		out[i] = values[srcIdx]
	}
	return out
}

func closerTo(target float64, candidate, current int64) bool {
	return absF(float64(candidate)-target) < absF(float64(current)-target)
}

func absF(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
