// Package ratelimit implements the pacing gate that spaces dispatches within a
// crawl stage.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/betline-crawler/internal/metrics"
)

// Limiter hands out one token per interval for each stage name. Every caller
// of the same stage shares a bucket, so successive dispatches in a stage are
// at least one interval apart.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// Config holds pacing configuration.
type Config struct {
	// Interval is the minimum spacing between two dispatches of a stage.
	// Zero or negative disables pacing.
	Interval time.Duration
	// Burst defaults to 1.
	Burst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.Interval > 0 {
		limit = rate.Every(cfg.Interval)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

// Wait blocks until the stage may dispatch again, respecting the context.
func (l *Limiter) Wait(ctx context.Context, stage string) error {
	limiter := l.forStage(stage)

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacing wait %s: %w", stage, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(stage, waited)
	}
	return nil
}

func (l *Limiter) forStage(stage string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.limiters[stage]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[stage] = limiter
	}
	return limiter
}
