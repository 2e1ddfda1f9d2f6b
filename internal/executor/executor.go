// Package executor expands batch download requests into fetch tasks and
// runs them on a bounded worker pool, coordinating the rate limiter, the
// retry policy, the range tracker, and the failure ledger.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"marketgrab/internal/ledger"
	"marketgrab/internal/ratelimit"
	"marketgrab/internal/series"
	"marketgrab/internal/source"
	"marketgrab/internal/store"
)

// Target is one fetch task: an instrument, a granularity, and the window the
// caller wants covered. Immutable once built.
type Target struct {
	AssetClass  string
	Symbol      string
	Granularity series.Granularity
	Window      series.Interval
	Adjust      series.AdjustMode
}

// Outcome classifies a finished task.
type Outcome string

const (
	// OutcomeSucceeded means at least one commit landed for the target.
	OutcomeSucceeded Outcome = "succeeded"
	// OutcomeSkipped means the window was already fully covered.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeEmpty means the upstream confirmed it has no data for any gap.
	OutcomeEmpty Outcome = "empty"
	// OutcomeFailed means the task failed terminally and was recorded.
	OutcomeFailed Outcome = "failed"
	// OutcomeCancelled means the run was cancelled while the task was active.
	OutcomeCancelled Outcome = "cancelled"
)

// EventType tags a progress event.
type EventType string

const (
	EventTaskStart EventType = "task_start"
	EventTaskDone  EventType = "task_done"
)

// Event is a structured progress notification. Events are observability
// only; they carry no correctness obligations.
type Event struct {
	RunID   string
	Type    EventType
	Target  Target
	Outcome Outcome
	Err     error
}

// RunResult summarizes one batch run.
type RunResult struct {
	RunID     string
	Succeeded int
	Skipped   int
	Empty     int
	Failed    int
	Cancelled int
	Failures  []ledger.FailureRecord
}

// Total returns the number of dispatched tasks.
func (r *RunResult) Total() int {
	return r.Succeeded + r.Skipped + r.Empty + r.Failed + r.Cancelled
}

// Options tunes the executor.
type Options struct {
	Concurrency      int
	BatchDays        int
	MaxRetries       int
	StartupJitterMax time.Duration
}

// Executor runs fetch targets against one upstream source.
type Executor struct {
	store   *store.Store
	source  source.DataSource
	limiter *ratelimit.Limiter
	opts    Options
	onEvent func(Event)
}

// New creates an Executor. Concurrency below 1 is raised to 1.
func New(st *store.Store, src source.DataSource, lim *ratelimit.Limiter, opts Options) *Executor {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.BatchDays < 1 {
		opts.BatchDays = 60
	}
	return &Executor{store: st, source: src, limiter: lim, opts: opts}
}

// OnEvent registers a progress callback. Must be set before Run.
func (e *Executor) OnEvent(fn func(Event)) { e.onEvent = fn }

// BuildTargets expands a batch request into one target per
// (symbol, granularity) pair.
func BuildTargets(assetClass string, symbols []string, grans []series.Granularity, window series.Interval, adjust series.AdjustMode) []Target {
	targets := make([]Target, 0, len(symbols)*len(grans))
	for _, sym := range symbols {
		for _, g := range grans {
			targets = append(targets, Target{
				AssetClass:  assetClass,
				Symbol:      sym,
				Granularity: g,
				Window:      window,
				Adjust:      adjust,
			})
		}
	}
	return targets
}

// Run executes targets on the worker pool. Cancelling ctx stops dispatch;
// in-flight tasks finish or fail without leaving partial files. Per-task
// failures never abort the batch.
func (e *Executor) Run(ctx context.Context, targets []Target) *RunResult {
	result := &RunResult{RunID: uuid.NewString()}
	if len(targets) == 0 {
		return result
	}

	// Shuffling spreads load across symbols so one slow instrument does not
	// serialize the front of the queue.
	shuffled := make([]Target, len(targets))
	copy(shuffled, targets)
	rand.Shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	tasks := make(chan Target)
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < e.opts.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range tasks {
				e.emit(Event{RunID: result.RunID, Type: EventTaskStart, Target: t})
				outcome, err := e.runTarget(ctx, t)
				mu.Lock()
				switch outcome {
				case OutcomeSucceeded:
					result.Succeeded++
				case OutcomeSkipped:
					result.Skipped++
				case OutcomeEmpty:
					result.Empty++
				case OutcomeCancelled:
					result.Cancelled++
				case OutcomeFailed:
					result.Failed++
					result.Failures = append(result.Failures, ledger.NewRecord(
						t.AssetClass, t.Symbol, t.Granularity, t.Window, t.Adjust,
						failureReason(err)))
				}
				mu.Unlock()
				e.emit(Event{RunID: result.RunID, Type: EventTaskDone, Target: t, Outcome: outcome, Err: err})
			}
		}()
	}

dispatch:
	for _, t := range shuffled {
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- t:
		}
	}
	close(tasks)
	wg.Wait()

	slog.Info("run finished",
		"run_id", result.RunID,
		"succeeded", result.Succeeded,
		"skipped", result.Skipped,
		"empty", result.Empty,
		"failed", result.Failed,
		"cancelled", result.Cancelled)
	return result
}

func (e *Executor) runTarget(ctx context.Context, t Target) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return OutcomeCancelled, err
	}
	if e.opts.StartupJitterMax > 0 {
		jitterSleep(ctx, time.Duration(rand.Int63n(int64(e.opts.StartupJitterMax))))
	}

	gaps, err := e.store.PlanFetch(t.AssetClass, t.Symbol, t.Granularity, t.Window)
	if err != nil {
		return OutcomeFailed, err
	}
	if len(gaps) == 0 {
		slog.Debug("target already covered", "symbol", t.Symbol, "granularity", t.Granularity)
		return OutcomeSkipped, nil
	}

	committed := false
	for _, gap := range gaps {
		bars, err := e.fetchGap(ctx, t, gap)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return OutcomeCancelled, err
			}
			return OutcomeFailed, err
		}
		if len(bars) == 0 {
			if err := e.store.MarkEmpty(t.AssetClass, t.Symbol, t.Granularity, gap); err != nil {
				return OutcomeFailed, err
			}
			slog.Debug("window confirmed empty",
				"symbol", t.Symbol, "granularity", t.Granularity, "window", gap.String())
			continue
		}
		if err := e.store.Commit(t.AssetClass, t.Symbol, t.Granularity, bars); err != nil {
			return OutcomeFailed, err
		}
		committed = true
	}
	if !committed {
		return OutcomeEmpty, nil
	}
	return OutcomeSucceeded, nil
}

// fetchGap retrieves one coverage gap, chunked so a long backfill never
// turns into a single huge upstream request.
func (e *Executor) fetchGap(ctx context.Context, t Target, gap series.Interval) ([]series.Bar, error) {
	batch := time.Duration(e.opts.BatchDays) * 24 * time.Hour
	var bars []series.Bar
	for _, chunk := range gap.Chunks(batch) {
		chunkBars, err := e.fetchChunk(ctx, t, chunk)
		if err != nil {
			return nil, err
		}
		bars = append(bars, chunkBars...)
	}
	return series.DedupeBars(bars), nil
}

// fetchChunk calls the source through the limiter, retrying transient
// failures up to MaxRetries. Throttles feed the limiter's backoff; a
// confirmed-empty window returns no bars and no error.
func (e *Executor) fetchChunk(ctx context.Context, t Target, chunk series.Interval) ([]series.Bar, error) {
	req := source.FetchRequest{
		Symbol:      t.Symbol,
		Granularity: t.Granularity,
		Window:      chunk,
		Adjust:      t.Adjust,
	}
	for attempt := 0; ; attempt++ {
		if err := e.limiter.Acquire(ctx); err != nil {
			return nil, err
		}
		res, err := e.source.FetchOHLCV(ctx, req)
		if err == nil {
			e.limiter.ReportSuccess()
			if res.Empty {
				return nil, nil
			}
			return res.Bars, nil
		}
		if source.IsThrottle(err) {
			e.limiter.ReportThrottled()
		}
		if !source.IsRetryable(err) || attempt >= e.opts.MaxRetries {
			return nil, err
		}
		slog.Warn("transient fetch failure, retrying",
			"symbol", t.Symbol,
			"granularity", t.Granularity,
			"window", chunk.String(),
			"attempt", attempt+1,
			"backoff", e.limiter.BackoffDelay(),
			"error", err)
	}
}

func (e *Executor) emit(ev Event) {
	if e.onEvent != nil {
		e.onEvent(ev)
	}
}

func failureReason(err error) string {
	if err == nil {
		return "unknown failure"
	}
	return err.Error()
}

func jitterSleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
