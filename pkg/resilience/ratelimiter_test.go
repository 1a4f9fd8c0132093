package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mffacts/mffacts/pkg/fn"
)

func TestLimiterBurst(t *testing.T) {
	l := NewLimiter(time.Hour, 2)
	if !l.Allow() || !l.Allow() {
		t.Fatal("burst should be allowed")
	}
	if l.Allow() {
		t.Fatal("expected rejection after burst")
	}
}

func TestLimiterUnpaced(t *testing.T) {
	l := NewLimiter(0, 0)
	for i := 0; i < 100; i++ {
		if !l.Allow() {
			t.Fatalf("unpaced limiter rejected call %d", i)
		}
	}
}

func TestLimiterWaitCancelled(t *testing.T) {
	l := NewLimiter(time.Hour, 1)
	l.Allow()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

func TestLimiterStageWait(t *testing.T) {
	l := NewLimiter(time.Millisecond, 1)
	calls := 0
	stage := LimiterStageWait(l, func(_ context.Context, in int) fn.Result[int] {
		calls++
		return fn.Ok(in * 2)
	})
	for i := 1; i <= 3; i++ {
		if v, err := stage(context.Background(), i).Unwrap(); err != nil || v != i*2 {
			t.Fatalf("stage(%d) = %d, %v", i, v, err)
		}
	}
	if calls != 3 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestLimiterStageWaitCancelled(t *testing.T) {
	l := NewLimiter(time.Hour, 1)
	l.Allow()
	stage := LimiterStageWait(l, func(context.Context, int) fn.Result[int] {
		t.Fatal("stage must not run")
		return fn.Ok(0)
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := stage(ctx, 1).Unwrap(); err == nil || errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected context error, got %v", err)
	}
}
