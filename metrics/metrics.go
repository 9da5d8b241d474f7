// Package metrics keeps t-digest percentile sketches of index build/query
// latency and candidate-set sizes (SPEC_FULL.md §11), grounded in the
// teacher's caio/go-tdigest/v4 usage for approximate quantile tracking
// under bounded memory.
package metrics

import (
	"sync"
	"time"

	"github.com/caio/go-tdigest/v4"
)

// Reporter aggregates latency and candidate-count samples per named
// operation ("build_next", "flush", "query"). Safe for concurrent use.
type Reporter struct {
	mu      sync.Mutex
	digests map[string]*tdigest.TDigest
}

// NewReporter returns an empty Reporter.
func NewReporter() *Reporter {
	return &Reporter{digests: make(map[string]*tdigest.TDigest)}
}

func (r *Reporter) digestFor(name string) *tdigest.TDigest {
	d, ok := r.digests[name]
	if !ok {
		d, _ = tdigest.New()
		r.digests[name] = d
	}
	return d
}

// Observe records one sample of value under the named operation.
func (r *Reporter) Observe(name string, value float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d := r.digestFor(name)
	_ = d.AddWeighted(value, 1)
}

// ObserveDuration records d.Seconds() under name; a convenience for timing
// spans around BuildNext/Flush/QueryByIndex.
func (r *Reporter) ObserveDuration(name string, d time.Duration) {
	r.Observe(name, d.Seconds())
}

// Quantile returns the q-th quantile (0..1) observed for name, or 0 if no
// samples have been recorded.
func (r *Reporter) Quantile(name string, q float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.digests[name]
	if !ok {
		return 0
	}
	return d.Quantile(q)
}

// Snapshot is a point-in-time view of p50/p95/p99 for one operation.
type Snapshot struct {
	P50, P95, P99 float64
	Count         uint64
}

// SnapshotFor returns p50/p95/p99 and the sample count for name.
func (r *Reporter) SnapshotFor(name string) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.digests[name]
	if !ok {
		return Snapshot{}
	}
	return Snapshot{
		P50:   d.Quantile(0.5),
		P95:   d.Quantile(0.95),
		P99:   d.Quantile(0.99),
		Count: d.Count(),
	}
}
