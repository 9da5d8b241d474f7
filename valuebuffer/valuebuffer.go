// Package valuebuffer implements the typed, append-only primitive value
// buffer spec.md §2 item 1 describes: an amortized-growth array of numeric
// samples with release-to-pool semantics, grounded in the teacher's
// memtable key/entry pools (mutex-protected slice pools with hits/misses
// counters) rather than a bare sync.Pool.
package valuebuffer

import (
	"sync"
	"sync/atomic"
)

// Float64Buffer is an append-only, poolable buffer of float64 samples. All
// numeric series types are normalized to float64 before entering the
// preprocessor (spec.md §1 Non-goals excludes ad-hoc distance metrics but
// not the normalization of int32/int64/float32 sources).
type Float64Buffer struct {
	data []float64
}

// NewFloat64Buffer returns a buffer with the given initial capacity.
func NewFloat64Buffer(capacity int) *Float64Buffer {
	return &Float64Buffer{data: make([]float64, 0, capacity)}
}

// Append adds v to the end of the buffer.
func (b *Float64Buffer) Append(v float64) {
	b.data = append(b.data, v)
}

// AppendAll adds a batch of values.
func (b *Float64Buffer) AppendAll(vs []float64) {
	b.data = append(b.data, vs...)
}

// Len returns the number of values currently held.
func (b *Float64Buffer) Len() int { return len(b.data) }

// At returns the value at index i.
func (b *Float64Buffer) At(i int) float64 { return b.data[i] }

// Slice returns the backing slice for [from, to). The result aliases the
// buffer's storage and must not be retained across a Reset/DiscardBefore.
func (b *Float64Buffer) Slice(from, to int) []float64 { return b.data[from:to] }

// DiscardBefore drops all values with index < n, compacting the buffer.
// Grounds preprocess's clearProcessedSrcData (spec.md §4.1).
func (b *Float64Buffer) DiscardBefore(n int) {
	if n <= 0 {
		return
	}
	if n >= len(b.data) {
		b.data = b.data[:0]
		return
	}
	copy(b.data, b.data[n:])
	b.data = b.data[:len(b.data)-n]
}

// Reset empties the buffer while retaining its capacity.
func (b *Float64Buffer) Reset() {
	b.data = b.data[:0]
}

// pool is a GC-friendly, mutex-protected pool of Float64Buffers with
// hit/miss metrics, mirroring memtable's KeyPool/EntryPool pattern.
type pool struct {
	mu      sync.Mutex
	items   []*Float64Buffer
	hits    atomic.Uint64
	misses  atomic.Uint64
	created atomic.Uint64
}

// Pool is the process-wide shared buffer pool spec.md §5 requires to be
// reachable as an explicit parameter rather than a hidden singleton;
// callers construct their own via NewPool and pass it into preprocessors.
// hostapi.BufferAllocator is a separate interface; nothing in this module
// adapts Pool to it.
type Pool struct {
	p             pool
	initialCapHint int
}

// NewPool returns an empty pool. initialCapHint sizes newly-created buffers.
func NewPool(initialCapHint int) *Pool {
	return &Pool{initialCapHint: initialCapHint}
}

// Get returns a buffer from the pool, creating one if empty.
func (p *Pool) Get() *Float64Buffer {
	p.p.mu.Lock()
	if len(p.p.items) == 0 {
		p.p.mu.Unlock()
		p.p.misses.Add(1)
		p.p.created.Add(1)
		return NewFloat64Buffer(p.initialCapHint)
	}
	p.p.hits.Add(1)
	item := p.p.items[len(p.p.items)-1]
	p.p.items = p.p.items[:len(p.p.items)-1]
	p.p.mu.Unlock()
	return item
}

// Put resets buf and returns it to the pool.
func (p *Pool) Put(buf *Float64Buffer) {
	buf.Reset()
	p.p.mu.Lock()
	p.p.items = append(p.p.items, buf)
	p.p.mu.Unlock()
}

// Metrics reports pool hit/miss/creation counters.
func (p *Pool) Metrics() (hits, misses, created uint64) {
	return p.p.hits.Load(), p.p.misses.Load(), p.p.created.Load()
}
