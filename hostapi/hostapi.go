// Package hostapi defines the narrow contracts the index engine needs from
// its surrounding host database (spec.md §1 "Out of scope", SPEC_FULL.md
// §13): flush persistence, the shared buffer allocator, path metadata
// resolution, and the query-plan shape. The core depends only on these
// interfaces; it never implements the host's storage engine, replication,
// or query-plan parser.
package hostapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/nexustsdb/simsearch/core"
)

// FlushCollaborator persists a completed index chunk. The host owns
// on-disk framing beyond core.IndexFlushChunk (spec.md §6).
type FlushCollaborator interface {
	PersistChunk(ctx context.Context, chunk *core.IndexFlushChunk) error
}

// BufferAllocator is the per-datatype shared buffer pool of spec.md §5.
// Allocation must never block; release is a hand-back.
type BufferAllocator interface {
	Allocate(sizeHint int) []float64
	Release(buf []float64)
}

// PathResolver stands in for the host's path metadata resolution
// (spec.md §1 out-of-scope collaborators).
type PathResolver interface {
	ResolveDataType(path string) (numeric bool, err error)
}

// QueryPlan is the {pattern, threshold, funcs} triple the host's
// SQL-like query-plan parser produces (spec.md §1); the core only consumes
// it, never parses SQL.
type QueryPlan struct {
	Pattern   []float64
	Threshold float64
	Funcs     []string
}

// RetryingFlushCollaborator decorates a FlushCollaborator with the
// exponential-backoff-then-DLQ retry policy the teacher's
// engine.processImmutableMemtables uses around flush writes: up to
// MaxAttempts tries, delay doubling from InitialDelay capped at MaxDelay,
// falling back to DeadLetter on exhaustion. The core itself never retries
// (spec.md §5: blocking, synchronous, no background work) — this decorator
// is an optional convenience a host integration may wrap around its own
// collaborator.
type RetryingFlushCollaborator struct {
	Inner        FlushCollaborator
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	DeadLetter   func(ctx context.Context, chunk *core.IndexFlushChunk, cause error)
	Logger       *slog.Logger
	Sleep        func(time.Duration)
}

// NewRetryingFlushCollaborator returns a decorator with the teacher's
// default policy (3 attempts, 1s initial / 30s max exponential backoff).
func NewRetryingFlushCollaborator(inner FlushCollaborator, logger *slog.Logger) *RetryingFlushCollaborator {
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingFlushCollaborator{
		Inner:        inner,
		MaxAttempts:  3,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Logger:       logger,
		Sleep:        time.Sleep,
	}
}

// PersistChunk implements FlushCollaborator with retry/backoff/DLQ.
func (r *RetryingFlushCollaborator) PersistChunk(ctx context.Context, chunk *core.IndexFlushChunk) error {
	delay := r.InitialDelay
	var lastErr error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		lastErr = r.Inner.PersistChunk(ctx, chunk)
		if lastErr == nil {
			return nil
		}
		r.Logger.Warn("flush chunk persist attempt failed",
			"path", chunk.Path, "attempt", attempt, "max_attempts", r.MaxAttempts, "error", lastErr)

		if attempt == r.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if r.Sleep != nil {
			r.Sleep(delay)
		}
		delay *= 2
		if delay > r.MaxDelay {
			delay = r.MaxDelay
		}
	}

	r.Logger.Error("flush chunk persist exhausted retries, moving to dead letter",
		"path", chunk.Path, "error", lastErr)
	if r.DeadLetter != nil {
		r.DeadLetter(ctx, chunk, lastErr)
	}
	return lastErr
}
