// Package elb implements the Equal-Length Block feature extractor of
// spec.md §4.2: for a window of length W split into b blocks, emits b
// upper/lower bound pairs forming an MBR in feature space. Modeled after
// IoTDB's ELBCountFixedPreprocessor.java (see _examples/original_source),
// re-architected per spec.md §9's design note as composition: Extractor
// implements preprocess.WindowObserver and plugs into a
// preprocess.CountFixedPreprocessor rather than subclassing it.
package elb

import (
	"math"

	"github.com/nexustsdb/simsearch/config"
	"github.com/nexustsdb/simsearch/core"
)

// CalcParam configures the ELB_GROUP/SS adaptive bound calculation
// (config keys elb_calc_param=single, elb_threshold_base, elb_threshold_ratio).
type CalcParam struct {
	HasBase bool
	Base    float64
	Ratio   float64
}

// Feature is a flattened [u_0,l_0,u_1,l_1,...,u_{b-1},l_{b-1}] MBR, stored
// on disk exactly in this layout (spec.md §3).
type Feature []float64

// Extractor computes and optionally retains ELB features for every window
// a preprocessor emits.
type Extractor struct {
	blockNum int
	elbType  config.ELBType
	calc     CalcParam
	store    bool

	features      []Feature
	flushedOffset int
	sliceNum      int

	lastFeature Feature
}

// NewExtractor builds an Extractor for the given block count and ELB
// scheme. store controls whether every computed feature is retained
// (needed for later per-chunk serialization) or only the most recent one.
func NewExtractor(blockNum int, elbType config.ELBType, calc CalcParam, store bool) *Extractor {
	return &Extractor{blockNum: blockNum, elbType: elbType, calc: calc, store: store}
}

// OnWindow implements preprocess.WindowObserver: computes the ELB feature
// for one window and appends/replaces it per the store policy.
func (e *Extractor) OnWindow(sliceNum int, times []int64, values []float64) {
	f := e.calcFeature(values)
	e.lastFeature = f
	if e.store {
		e.features = append(e.features, f)
	}
	e.sliceNum++
}

// ComputeFeature computes the ELB feature for an arbitrary value sequence
// (typically a query pattern) without touching this Extractor's stored
// window history. Used by simindex to derive the query-side MBR from
// patterns (spec.md §4.4 query_by_index).
func (e *Extractor) ComputeFeature(values []float64) Feature {
	return e.calcFeature(values)
}

// BlockNum reports the configured block count / feature dimension.
func (e *Extractor) BlockNum() int { return e.blockNum }

// QueryPoint derives the per-block-mean point in feature space for a query
// pattern (spec.md §4.4: "derives queryFeature from patterns (for ELB:
// per-block means of the pattern)"), used as the zero-extent rectangle
// passed to rtree.SearchWithThreshold at query time.
func (e *Extractor) QueryPoint(values []float64) []float64 {
	b := e.blockNum
	w := len(values) / b
	if w == 0 {
		w = 1
		b = len(values)
	}
	point := make([]float64, e.blockNum)
	for i := 0; i < e.blockNum; i++ {
		lo := i * w
		hi := lo + w
		if i == e.blockNum-1 {
			hi = len(values)
		}
		if lo >= len(values) {
			lo, hi = len(values)-1, len(values)
		}
		mean, _ := blockMeanAndBound(values[lo:hi], CalcParam{})
		point[i] = mean
	}
	return point
}

// calcFeature implements the per-block bound rules of spec.md §4.2. Block
// width is W/b rounded down; the last block absorbs the remainder.
func (e *Extractor) calcFeature(values []float64) Feature {
	b := e.blockNum
	w := len(values) / b
	if w == 0 {
		w = 1
		b = len(values)
	}
	feature := make(Feature, 2*e.blockNum)
	for i := 0; i < e.blockNum; i++ {
		lo := i * w
		hi := lo + w
		if i == e.blockNum-1 {
			hi = len(values)
		}
		if lo >= len(values) {
			lo, hi = len(values)-1, len(values)
		}
		block := values[lo:hi]

		var upper, lower float64
		switch e.elbType {
		case config.ELBTypeELBGroup:
			mean, bound := blockMeanAndBound(block, e.calc)
			upper, lower = mean+bound, mean-bound
		case config.ELBTypeSS:
			upper, lower = seriesSpecificBound(block, e.calc)
		default: // ELE
			upper, lower = blockMinMax(block)
		}
		feature[2*i] = upper
		feature[2*i+1] = lower
	}
	return feature
}

func blockMinMax(block []float64) (upper, lower float64) {
	upper, lower = block[0], block[0]
	for _, v := range block[1:] {
		if v > upper {
			upper = v
		}
		if v < lower {
			lower = v
		}
	}
	return
}

func blockMeanAndBound(block []float64, calc CalcParam) (mean, bound float64) {
	var sum float64
	for _, v := range block {
		sum += v
	}
	mean = sum / float64(len(block))

	if calc.HasBase {
		return mean, calc.Base
	}
	ratio := calc.Ratio
	if ratio == 0 {
		ratio = 0.1
	}
	var variance float64
	for _, v := range block {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(block))
	return mean, ratio * math.Sqrt(variance)
}

// seriesSpecificBound implements the SS variant of spec.md §4.2:
// `upper_i = series_i + pos_bound_i`, `lower_i = series_i − neg_bound_i`,
// asymmetric and keyed off the block's own raw series value rather than its
// mean (which is what distinguishes it from ELB_GROUP). series_i is the
// block's most recent raw point; pos_bound_i/neg_bound_i scale the distance
// from that point to the block's max/min independently, so a block skewed
// above its representative point gets a larger positive bound than negative
// (and vice versa) instead of ELB_GROUP's single symmetric bound.
func seriesSpecificBound(block []float64, calc CalcParam) (upper, lower float64) {
	series := block[len(block)-1]
	maxV, minV := blockMinMax(block)

	if calc.HasBase {
		return series + calc.Base, series - calc.Base
	}
	ratio := calc.Ratio
	if ratio == 0 {
		ratio = 0.1
	}
	posBound := ratio * (maxV - series)
	negBound := ratio * (series - minV)
	return series + posBound, series - negBound
}

// LatestFeatures returns up to n most recently computed features,
// reproducing ELBCountFixedPreprocessor.getLatestN_L3_Features's
// clamp-and-source behavior (SPEC_FULL.md §12): n is clamped to the
// current chunk size; if features are not stored, only the just-computed
// in-flight feature is returned regardless of n.
func (e *Extractor) LatestFeatures(n int) []Feature {
	if n > e.sliceNum {
		n = e.sliceNum
	}
	if n <= 0 {
		return nil
	}
	if !e.store {
		if e.lastFeature == nil {
			return nil
		}
		return []Feature{e.lastFeature}
	}
	start := e.flushedOffset
	if e.flushedOffset+e.sliceNum-n > start {
		start = e.flushedOffset + e.sliceNum - n
	}
	idx := start - e.flushedOffset
	if idx < 0 {
		idx = 0
	}
	if idx > len(e.features) {
		idx = len(e.features)
	}
	return e.features[idx:]
}

// Clear freezes sliceNum into flushedOffset and releases stored features
// ahead of a sub-flush, mirroring preprocess.CountFixedPreprocessor.Clear.
// Returns an estimate of freed bytes (2*b*sizeof(f64) + constant per window,
// spec.md §4.2).
func (e *Extractor) Clear() int64 {
	freed := int64(len(e.features)) * (2*int64(e.blockNum)*8 + 16)
	e.flushedOffset += e.sliceNum
	e.sliceNum = 0
	e.features = nil
	return freed
}

// UsePointType reports whether MBRIndex should insert this feature as a
// zero-extent point rather than a rectangle (spec.md §4.4,
// SPEC_FULL.md §12 point-vs-rectangle dispatch). SS features may collapse
// to a point when the calculated bound is exactly zero.
func (e *Extractor) UsePointType() bool {
	return e.elbType == config.ELBTypeSS
}

// CopyFeature fills corners/ranges working buffers from a feature, matching
// ELBCountFixedPreprocessor.copyFeature: corners[i] = lower_i,
// ranges[i] = upper_i - lower_i.
func CopyFeature(f Feature, corners, ranges []float64) error {
	b := len(f) / 2
	if len(corners) != b || len(ranges) != b {
		return &core.FatalIndexError{Invariant: "feature_dim", Message: "corners/ranges size mismatch with feature"}
	}
	for i := 0; i < b; i++ {
		upper, lower := f[2*i], f[2*i+1]
		corners[i] = lower
		ranges[i] = upper - lower
	}
	return nil
}
