// Package config parses the index engine's configuration: the per-series
// key/value map the host database hands the index at construction time
// (spec.md EXTERNAL INTERFACES), and an optional YAML file declaring
// definitions for many series paths at once.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/nexustsdb/simsearch/core"
)

// RangeStrategy selects which window slices a preprocessor's range strategy
// accepts for indexing (spec.md §4/§8, rangestrategy package).
type RangeStrategy string

const (
	RangeStrategyDefault RangeStrategy = "default"
	RangeStrategyAll     RangeStrategy = "all"
	RangeStrategyWithin  RangeStrategy = "within"
)

// SeedPicker selects the R-tree split seed heuristic.
type SeedPicker string

const (
	SeedPickerLinear    SeedPicker = "LINEAR"
	SeedPickerQuadratic SeedPicker = "QUADRATIC"
)

// DistanceFunc selects the distance metric used at query time.
type DistanceFunc string

const (
	DistanceEuclidean DistanceFunc = "Euclidean"
	DistanceDTW       DistanceFunc = "DTW"
)

// ELBType selects the ELB feature-bound scheme.
type ELBType string

const (
	ELBTypeELE      ELBType = "ELE"
	ELBTypeELBGroup ELBType = "ELB_GROUP"
	ELBTypeSS       ELBType = "SS"
)

// defaultELBThresholdRatio is the built-in fallback used when an
// elb_calc_param=single index configures neither elb_threshold_base nor
// elb_threshold_ratio (spec.md §6).
const defaultELBThresholdRatio = 0.1

// IndexConfig is the fully-parsed, normalized configuration for one
// MBRIndex instance over one series path (spec.md §6).
type IndexConfig struct {
	RangeStrategy RangeStrategy
	WindowRange   int
	SlideStep     int
	FeatureDim    int
	MaxEntries    int
	MinEntries    int
	SeedPicker    SeedPicker
	Distance      DistanceFunc
	ELBType       ELBType
	ELBCalcParam  string

	ELBThresholdBase  float64
	ELBHasThresholdBase bool
	ELBThresholdRatio float64

	// Query-only fields, populated by ParseQuery.
	Threshold float64
	Pattern   []float64
}

// Parse builds an IndexConfig from the host-supplied key/value map,
// applying defaults and normalization exactly as spec.md §6 and
// SPEC_FULL.md §12 describe (warn and raise max_entries to min_entries on
// inverted entry bounds, clamp of a degenerate max_entries).
func Parse(kv map[string]string, logger *slog.Logger) (*IndexConfig, error) {
	if logger == nil {
		logger = slog.Default()
	}

	cfg := &IndexConfig{
		RangeStrategy: RangeStrategyDefault,
		WindowRange:   0,
		SlideStep:     0,
		FeatureDim:    4,
		MaxEntries:    50,
		MinEntries:    2,
		SeedPicker:    SeedPickerLinear,
		Distance:      DistanceEuclidean,
		ELBType:       ELBTypeELE,
		ELBThresholdRatio: defaultELBThresholdRatio,
		Threshold:     math.Inf(1),
	}

	if v, ok := kv["index_range_strategy"]; ok {
		switch RangeStrategy(v) {
		case RangeStrategyDefault, RangeStrategyAll, RangeStrategyWithin:
			cfg.RangeStrategy = RangeStrategy(v)
		default:
			return nil, &core.ConfigError{Key: "index_range_strategy", Value: v, Message: "must be one of default, all, within"}
		}
	}

	if v, ok := kv["index_window_range"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, &core.ConfigError{Key: "index_window_range", Value: v, Message: "must be a positive integer"}
		}
		cfg.WindowRange = n
	}
	cfg.SlideStep = cfg.WindowRange

	if v, ok := kv["index_slide_step"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, &core.ConfigError{Key: "index_slide_step", Value: v, Message: "must be a positive integer"}
		}
		cfg.SlideStep = n
	}

	if v, ok := kv["feature_dim"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, &core.ConfigError{Key: "feature_dim", Value: v, Message: "must be a positive integer"}
		}
		cfg.FeatureDim = n
	}

	if cfg.WindowRange > 0 && cfg.FeatureDim > cfg.WindowRange {
		return nil, &core.ConfigError{Key: "feature_dim", Value: strconv.Itoa(cfg.FeatureDim), Message: "feature_dim must not exceed index_window_range"}
	}

	if v, ok := kv["max_entries"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, &core.ConfigError{Key: "max_entries", Value: v, Message: "must be a positive integer"}
		}
		cfg.MaxEntries = n
	}
	if v, ok := kv["min_entries"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, &core.ConfigError{Key: "min_entries", Value: v, Message: "must be a positive integer"}
		}
		cfg.MinEntries = n
	}

	if v, ok := kv["seed_picker"]; ok {
		switch SeedPicker(strings.ToUpper(v)) {
		case SeedPickerLinear, SeedPickerQuadratic:
			cfg.SeedPicker = SeedPicker(strings.ToUpper(v))
		default:
			return nil, &core.ConfigError{Key: "seed_picker", Value: v, Message: "must be LINEAR or QUADRATIC"}
		}
	}

	if v, ok := kv["distance"]; ok {
		switch DistanceFunc(v) {
		case DistanceEuclidean, DistanceDTW:
			cfg.Distance = DistanceFunc(v)
		default:
			return nil, &core.ConfigError{Key: "distance", Value: v, Message: "must be Euclidean or DTW"}
		}
	}

	if v, ok := kv["elb_type"]; ok {
		switch ELBType(v) {
		case ELBTypeELE, ELBTypeELBGroup, ELBTypeSS:
			cfg.ELBType = ELBType(v)
		default:
			return nil, &core.ConfigError{Key: "elb_type", Value: v, Message: "must be ELE, ELB_GROUP, or SS"}
		}
	}

	if v, ok := kv["elb_calc_param"]; ok {
		if v != "single" {
			return nil, &core.ConfigError{Key: "elb_calc_param", Value: v, Message: "only 'single' is supported"}
		}
		cfg.ELBCalcParam = v
		if bv, ok := kv["elb_threshold_base"]; ok {
			f, err := strconv.ParseFloat(bv, 64)
			if err != nil {
				return nil, &core.ConfigError{Key: "elb_threshold_base", Value: bv, Message: "must be a float"}
			}
			cfg.ELBThresholdBase = f
			cfg.ELBHasThresholdBase = true
		}
		if rv, ok := kv["elb_threshold_ratio"]; ok {
			f, err := strconv.ParseFloat(rv, 64)
			if err != nil {
				return nil, &core.ConfigError{Key: "elb_threshold_ratio", Value: rv, Message: "must be a float"}
			}
			cfg.ELBThresholdRatio = f
		}
	}

	cfg.Normalize(logger)
	return cfg, nil
}

// Normalize applies the inverted-bounds (max_entries raised to min_entries)
// and degenerate-max-entries corrections, logging through logger
// exactly as the teacher's ParseDuration warns on bad input.
func (c *IndexConfig) Normalize(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if c.MaxEntries < c.MinEntries {
		logger.Warn("max_entries < min_entries, raising max_entries to min_entries",
			"max_entries", c.MaxEntries, "min_entries", c.MinEntries)
		c.MaxEntries = c.MinEntries
	}
	if c.MaxEntries <= 1 {
		logger.Warn("max_entries too small after normalization, forcing default", "max_entries", c.MaxEntries)
		c.MaxEntries = 50
	}
	if c.MinEntries < 2 {
		c.MinEntries = 2
	}
}

// ParseQuery fills the query-only fields (threshold, pattern) of an already
// built-side-parsed IndexConfig, or of a fresh one for a read-only query path.
func ParseQuery(cfg *IndexConfig, kv map[string]string) error {
	if v, ok := kv["threshold"]; ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return &core.ConfigError{Key: "threshold", Value: v, Message: "must be a float"}
		}
		cfg.Threshold = f
	}

	v, ok := kv["pattern"]
	if !ok || strings.TrimSpace(v) == "" {
		return &core.ConfigError{Key: "pattern", Value: v, Message: "pattern is required for a query"}
	}
	parts := strings.Split(v, ",")
	pattern := make([]float64, 0, len(parts))
	for _, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return &core.ConfigError{Key: "pattern", Value: v, Message: fmt.Sprintf("invalid float %q", p)}
		}
		pattern = append(pattern, f)
	}
	cfg.Pattern = pattern
	return nil
}

// IndexDefinitions is a YAML-loadable map of series path to its raw
// key/value index configuration, for operators declaring many indices in
// one file (SPEC_FULL.md §10.2) and for cmd/indexbench.
type IndexDefinitions struct {
	Indices map[string]map[string]string `yaml:"indices"`
}

// Load reads IndexDefinitions from an io.Reader. Separated from file IO for
// testability, mirroring the teacher's config.Load/LoadConfig split.
func Load(r io.Reader) (*IndexDefinitions, error) {
	defs := &IndexDefinitions{Indices: map[string]map[string]string{}}
	if r == nil {
		return defs, nil
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read index definitions: %w", err)
	}
	if len(data) == 0 {
		return defs, nil
	}
	if err := yaml.Unmarshal(data, defs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal index definitions yaml: %w", err)
	}
	return defs, nil
}

// LoadFile reads IndexDefinitions from a YAML file by path. A missing file
// yields an empty definition set rather than an error.
func LoadFile(path string) (*IndexDefinitions, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open index definitions file %s: %w", path, err)
	}
	defer file.Close()
	return Load(file)
}
