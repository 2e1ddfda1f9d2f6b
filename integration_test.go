package main

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"

	"marketgrab/internal/executor"
	"marketgrab/internal/ledger"
	"marketgrab/internal/quality"
	"marketgrab/internal/ratelimit"
	"marketgrab/internal/series"
	"marketgrab/internal/source"
	"marketgrab/internal/store"
	"marketgrab/internal/testutil"
)

// TestPipelineEndToEnd runs the whole download pipeline against a synthetic
// source: fetch, incremental refetch, failure recording, ledger replay, and
// a quality scan over the files the run produced.
func TestPipelineEndToEnd(t *testing.T) {
	root := t.TempDir()
	st := store.New(root)
	lim := ratelimit.New(ratelimit.Config{})

	var calls atomic.Int64
	src := &testutil.MockSource{
		FetchFunc: func(ctx context.Context, req source.FetchRequest) (*source.FetchResult, error) {
			calls.Add(1)
			switch req.Symbol {
			case "DELISTED":
				return &source.FetchResult{Empty: true, Adjustment: req.Adjust}, nil
			case "FLAKY":
				return nil, source.NewServerError(500)
			}
			return &source.FetchResult{
				Bars:       testutil.DailyBars(req.Window.Start, req.Window.End, 100),
				Adjustment: req.Adjust,
			}, nil
		},
	}
	exec := executor.New(st, src, lim, executor.Options{Concurrency: 2, MaxRetries: 1})

	window := series.Interval{Start: testutil.Day(2024, 1, 1), End: testutil.Day(2024, 1, 31)}
	targets := executor.BuildTargets("stock", []string{"AAPL", "DELISTED", "FLAKY"},
		[]series.Granularity{series.Daily}, window, series.AdjustAuto)

	result := exec.Run(context.Background(), targets)
	if result.Succeeded != 1 || result.Empty != 1 || result.Failed != 1 {
		t.Fatalf("first run: %+v", result)
	}

	// Partial coverage: extend the window and only the new tail is fetched.
	callsBefore := calls.Load()
	extended := targets
	for i := range extended {
		extended[i].Window = series.Interval{Start: testutil.Day(2024, 1, 1), End: testutil.Day(2024, 2, 15)}
	}
	second := exec.Run(context.Background(), extended)
	if second.Succeeded != 1 {
		t.Fatalf("second run: %+v", second)
	}
	bars, err := st.ReadBars("stock", "AAPL", series.Daily)
	if err != nil {
		t.Fatalf("ReadBars() error: %v", err)
	}
	if len(bars) != 46 { // Jan 1 .. Feb 15 inclusive
		t.Errorf("stored %d bars after extension, want 46", len(bars))
	}
	if calls.Load() == callsBefore {
		t.Error("extension issued no fetches")
	}

	// Failures survive a write/load cycle and replay as targets.
	ledgerPath := filepath.Join(t.TempDir(), "failures.csv")
	if err := ledger.Write(ledgerPath, second.Failures); err != nil {
		t.Fatalf("ledger.Write() error: %v", err)
	}
	records, warnings, err := ledger.Load(ledgerPath, true)
	if err != nil {
		t.Fatalf("ledger.Load() error: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("ledger warnings: %v", warnings)
	}
	if len(records) != 1 || records[0].Symbol != "FLAKY" {
		t.Fatalf("ledger records = %+v", records)
	}

	replayTargets := executor.TargetsFromRecords(records, testutil.Day(2024, 3, 1))
	if len(replayTargets) != 1 {
		t.Fatalf("replay targets = %v", replayTargets)
	}

	// The upstream recovered: the replay fills the original window.
	src.FetchFunc = func(ctx context.Context, req source.FetchRequest) (*source.FetchResult, error) {
		return &source.FetchResult{
			Bars:       testutil.DailyBars(req.Window.Start, req.Window.End, 50),
			Adjustment: req.Adjust,
		}, nil
	}
	replay := exec.Run(context.Background(), replayTargets)
	if replay.Succeeded != 1 {
		t.Fatalf("replay run: %+v", replay)
	}
	flaky, err := st.ReadBars("stock", "FLAKY", series.Daily)
	if err != nil {
		t.Fatalf("ReadBars() error: %v", err)
	}
	if len(flaky) == 0 {
		t.Error("replay stored no bars for the recovered symbol")
	}

	// The dataset the pipeline wrote passes the quality scan.
	report, err := quality.Scan(root, quality.Filters{}, 4)
	if err != nil {
		t.Fatalf("quality.Scan() error: %v", err)
	}
	if report.FilesScanned == 0 {
		t.Fatal("quality scan saw no files")
	}
	if report.Failed() {
		t.Errorf("quality scan failed: %+v", report.Issues)
	}
}

// TestPipelineIdempotentRerun checks that a second identical run touches
// nothing and issues no upstream requests.
func TestPipelineIdempotentRerun(t *testing.T) {
	st := store.New(t.TempDir())
	lim := ratelimit.New(ratelimit.Config{})

	var calls atomic.Int64
	src := testutil.WindowSource()
	inner := src.FetchFunc
	src.FetchFunc = func(ctx context.Context, req source.FetchRequest) (*source.FetchResult, error) {
		calls.Add(1)
		return inner(ctx, req)
	}
	exec := executor.New(st, src, lim, executor.Options{Concurrency: 2})

	window := series.Interval{Start: testutil.Day(2024, 1, 1), End: testutil.Day(2024, 1, 31)}
	targets := executor.BuildTargets("stock", []string{"AAPL", "MSFT"},
		[]series.Granularity{series.Daily}, window, series.AdjustAuto)

	first := exec.Run(context.Background(), targets)
	if first.Succeeded != 2 {
		t.Fatalf("first run: %+v", first)
	}
	callsAfterFirst := calls.Load()

	second := exec.Run(context.Background(), targets)
	if second.Skipped != 2 {
		t.Fatalf("second run: %+v", second)
	}
	if calls.Load() != callsAfterFirst {
		t.Errorf("idempotent rerun issued %d extra fetches", calls.Load()-callsAfterFirst)
	}
}
