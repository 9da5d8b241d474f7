// Package rangestrategy implements the predicate deciding whether a given
// window is eligible for indexing (spec.md §2 item 8, config key
// index_range_strategy).
package rangestrategy

import "github.com/nexustsdb/simsearch/config"

// Strategy decides whether the window starting at startTime (with the
// preprocessor's configured within-bound, if any) should be indexed.
type Strategy interface {
	Accept(windowStartTime int64) bool
}

// defaultStrategy accepts every window; it is the zero-configuration
// behavior (index everything the preprocessor sees).
type defaultStrategy struct{}

func (defaultStrategy) Accept(int64) bool { return true }

// allStrategy is semantically identical to defaultStrategy in this engine
// (there is no separate "backfill vs. incremental" distinction to make
// here), kept as a named strategy so config round-trips the host's
// index_range_strategy=all setting without silently reinterpreting it.
type allStrategy struct{}

func (allStrategy) Accept(int64) bool { return true }

// withinStrategy only accepts windows starting at or after a configured
// lower bound, letting an operator re-index a series from a given point in
// time without re-processing earlier history.
type withinStrategy struct {
	from int64
}

func (w withinStrategy) Accept(windowStartTime int64) bool {
	return windowStartTime >= w.from
}

// New builds the Strategy named by cfg.RangeStrategy. from is only
// consulted for RangeStrategyWithin.
func New(strategy config.RangeStrategy, from int64) Strategy {
	switch strategy {
	case config.RangeStrategyAll:
		return allStrategy{}
	case config.RangeStrategyWithin:
		return withinStrategy{from: from}
	default:
		return defaultStrategy{}
	}
}
