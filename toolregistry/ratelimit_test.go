package toolregistry

import (
	"context"
	"testing"
	"time"
)

func TestRateLimiterAllowsUpToMax(t *testing.T) {
	l := NewRateLimiter(3)
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx); err != nil {
			t.Fatalf("Acquire() %d error: %v", i, err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Error("first maxPerSecond acquisitions should not block")
	}
}

func TestRateLimiterBlocksBeyondMax(t *testing.T) {
	l := NewRateLimiter(1)
	ctx := context.Background()
	if err := l.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire() error: %v", err)
	}

	ctx2, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if err := l.Acquire(ctx2); err == nil {
		t.Error("second Acquire() within the same window should block past the short deadline")
	}
}

func TestRateLimiterZeroOrNegativeDefaultsToOne(t *testing.T) {
	l := NewRateLimiter(0)
	if l.maxPerSecond != 1 {
		t.Errorf("maxPerSecond = %d, want 1", l.maxPerSecond)
	}
}
