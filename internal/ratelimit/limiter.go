// Package ratelimit throttles outbound requests to one upstream source.
// A single Limiter is shared by every fetch worker so the configured rate
// is global, not per-task.
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config controls request pacing for one upstream.
type Config struct {
	RequestsPerSecond float64
	JitterMin         time.Duration
	JitterMax         time.Duration
	BackoffBase       time.Duration
	BackoffMax        time.Duration
}

// DefaultConfig returns conservative pacing suitable for public quote APIs.
func DefaultConfig() Config {
	return Config{
		RequestsPerSecond: 2.0,
		JitterMin:         200 * time.Millisecond,
		JitterMax:         600 * time.Millisecond,
		BackoffBase:       1500 * time.Millisecond,
		BackoffMax:        30 * time.Second,
	}
}

// Limiter enforces an average request rate with uniform jitter, and an
// exponential backoff that kicks in after throttling signals and resets on
// the next untroubled request.
type Limiter struct {
	cfg     Config
	limiter *rate.Limiter

	mu        sync.Mutex
	throttles int
}

// New creates a Limiter. A non-positive rate disables pacing (jitter and
// backoff still apply).
func New(cfg Config) *Limiter {
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	return &Limiter{cfg: cfg, limiter: lim}
}

// Acquire blocks until the caller may issue one request. It only fails on
// context cancellation; under sustained throttling it simply waits longer,
// bounded per attempt by the backoff cap.
func (l *Limiter) Acquire(ctx context.Context) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	delay := l.jitter() + l.backoffDelay()
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ReportThrottled records a throttling signal from the upstream. Each
// consecutive signal doubles the backoff delay up to the configured cap.
func (l *Limiter) ReportThrottled() {
	l.mu.Lock()
	l.throttles++
	l.mu.Unlock()
}

// ReportSuccess resets the backoff after a request completes without a
// throttling signal.
func (l *Limiter) ReportSuccess() {
	l.mu.Lock()
	l.throttles = 0
	l.mu.Unlock()
}

// BackoffDelay exposes the current backoff so callers can log it.
func (l *Limiter) BackoffDelay() time.Duration {
	return l.backoffDelay()
}

func (l *Limiter) backoffDelay() time.Duration {
	l.mu.Lock()
	n := l.throttles
	l.mu.Unlock()
	if n == 0 || l.cfg.BackoffBase <= 0 {
		return 0
	}
	delay := l.cfg.BackoffBase
	for i := 1; i < n; i++ {
		delay *= 2
		if l.cfg.BackoffMax > 0 && delay >= l.cfg.BackoffMax {
			return l.cfg.BackoffMax
		}
	}
	if l.cfg.BackoffMax > 0 && delay > l.cfg.BackoffMax {
		delay = l.cfg.BackoffMax
	}
	return delay
}

func (l *Limiter) jitter() time.Duration {
	if l.cfg.JitterMax <= 0 || l.cfg.JitterMax < l.cfg.JitterMin {
		return 0
	}
	span := l.cfg.JitterMax - l.cfg.JitterMin
	if span == 0 {
		return l.cfg.JitterMin
	}
	return l.cfg.JitterMin + time.Duration(rand.Int63n(int64(span)))
}
