// Command indexbench drives N independent MBRIndex instances concurrently,
// one per series path, and reports build/flush throughput and latency
// percentiles. Mirrors the flag-driven benchmark CLIs under
// _examples/iDanielLaw-nexusbase/cmd (perf-client, query-perf-client):
// synthetic data generation, a worker-per-series fan-out, and a
// percentile summary at the end. Independent index instances on distinct
// series paths run in parallel with no shared mutable state (spec.md §5),
// so this bench also doubles as a smoke test for that invariant.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nexustsdb/simsearch/config"
	"github.com/nexustsdb/simsearch/metrics"
	"github.com/nexustsdb/simsearch/simindex"
)

func main() {
	numSeries := flag.Int("series", 8, "number of independent series/index instances to run concurrently")
	numPoints := flag.Int("points", 50000, "number of data points fed into each series")
	windowRange := flag.Int("window-range", 32, "index_window_range")
	slideStep := flag.Int("slide-step", 8, "index_slide_step")
	featureDim := flag.Int("feature-dim", 4, "feature_dim")
	batchSize := flag.Int("batch-size", 500, "points appended per Append call")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	reporter := metrics.NewReporter()

	cfg, err := config.Parse(map[string]string{
		"index_window_range": fmt.Sprintf("%d", *windowRange),
		"index_slide_step":   fmt.Sprintf("%d", *slideStep),
		"feature_dim":        fmt.Sprintf("%d", *featureDim),
	}, logger)
	if err != nil {
		log.Fatalf("parse config: %v", err)
	}

	g, ctx := errgroup.WithContext(context.Background())
	start := time.Now()
	for s := 0; s < *numSeries; s++ {
		seriesID := s
		g.Go(func() error {
			return runSeries(ctx, seriesID, cfg, *numPoints, *batchSize, logger, reporter)
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("bench failed: %v", err)
	}
	elapsed := time.Since(start)

	total := *numSeries * *numPoints
	fmt.Println("--- indexbench results ---")
	fmt.Printf("series:             %d\n", *numSeries)
	fmt.Printf("points per series:  %d\n", *numPoints)
	fmt.Printf("total points:       %d\n", total)
	fmt.Printf("wall time:          %v\n", elapsed)
	fmt.Printf("throughput:         %.0f points/sec\n", float64(total)/elapsed.Seconds())

	buildSnap := reporter.SnapshotFor("build_next")
	flushSnap := reporter.SnapshotFor("flush")
	fmt.Println("\n--- build_next latency (seconds) ---")
	fmt.Printf("count=%d p50=%.6f p95=%.6f p99=%.6f\n", buildSnap.Count, buildSnap.P50, buildSnap.P95, buildSnap.P99)
	fmt.Println("--- flush latency (seconds) ---")
	fmt.Printf("count=%d p50=%.6f p95=%.6f p99=%.6f\n", flushSnap.Count, flushSnap.P50, flushSnap.P95, flushSnap.P99)
}

// runSeries feeds numPoints of synthetic data into one MBRIndex instance in
// batches, flushing (and clearing) after every batch, matching the
// flush-then-clear sub-flush pattern of spec.md §5.
func runSeries(ctx context.Context, seriesID int, cfg *config.IndexConfig, numPoints, batchSize int, logger *slog.Logger, reporter *metrics.Reporter) error {
	path := fmt.Sprintf("root.bench.series.s%d", seriesID)
	idx, err := simindex.New(path, cfg, simindex.WithLogger(logger), simindex.WithMetricsReporter(reporter))
	if err != nil {
		return fmt.Errorf("series %d: new index: %w", seriesID, err)
	}
	defer idx.Delete()

	rng := rand.New(rand.NewSource(int64(seriesID) + 1))
	base := int64(seriesID) * int64(numPoints) * 1000

	for offset := 0; offset < numPoints; offset += batchSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := batchSize
		if offset+n > numPoints {
			n = numPoints - offset
		}
		times := make([]int64, n)
		values := make([]float64, n)
		for i := 0; i < n; i++ {
			times[i] = base + int64(offset+i)
			values[i] = rng.Float64() * 100
		}
		if err := idx.Append(times, values); err != nil {
			return fmt.Errorf("series %d: append: %w", seriesID, err)
		}
		for {
			ok, err := idx.BuildNext(ctx)
			if err != nil {
				return fmt.Errorf("series %d: build_next: %w", seriesID, err)
			}
			if !ok {
				break
			}
		}
		if _, err := idx.Flush(ctx); err != nil {
			return fmt.Errorf("series %d: flush: %w", seriesID, err)
		}
		idx.Clear(ctx)
	}
	return nil
}
