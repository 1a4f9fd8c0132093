package resilience

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/mffacts/mffacts/pkg/fn"
)

// Limiter paces calls to an external service, one call per interval with a
// small burst allowance.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter allows one call every interval. A non-positive interval
// disables pacing.
func NewLimiter(interval time.Duration, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &Limiter{rl: rate.NewLimiter(limit, burst)}
}

// Allow reports whether a call may run now without waiting.
func (l *Limiter) Allow() bool { return l.rl.Allow() }

// Wait blocks until a call may run or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error { return l.rl.Wait(ctx) }

// LimiterStageWait paces a stage, waiting for its turn before each call.
func LimiterStageWait[In, Out any](l *Limiter, stage fn.Stage[In, Out]) fn.Stage[In, Out] {
	return func(ctx context.Context, in In) fn.Result[Out] {
		if err := l.Wait(ctx); err != nil {
			return fn.Err[Out](err)
		}
		return stage(ctx, in)
	}
}
