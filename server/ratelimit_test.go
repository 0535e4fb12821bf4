package server

import (
	"testing"
	"time"
)

func TestLimiterBudget(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimiter(5)
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d denied within budget", i)
		}
	}
	if l.Allow("a") {
		t.Error("6th request allowed")
	}

	// Independent keys have independent budgets.
	if !l.Allow("b") {
		t.Error("fresh key denied")
	}
}

func TestLimiterRefill(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimiter(5)
	l.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		l.Allow("a")
	}
	if l.Allow("a") {
		t.Fatal("budget not exhausted")
	}

	// 12 seconds at 5/min refills one token.
	now = now.Add(12 * time.Second)
	if !l.Allow("a") {
		t.Error("token not refilled")
	}
	if l.Allow("a") {
		t.Error("more than one token refilled")
	}

	// A long idle period caps the bucket at the budget, not beyond.
	now = now.Add(time.Hour)
	for i := 0; i < 5; i++ {
		if !l.Allow("a") {
			t.Fatalf("request %d denied after refill", i)
		}
	}
	if l.Allow("a") {
		t.Error("bucket exceeded cap")
	}
}

func TestLimiterPrunesIdleBuckets(t *testing.T) {
	now := time.Unix(1000, 0)
	l := NewLimiter(5)
	l.now = func() time.Time { return now }

	l.Allow("stale")
	now = now.Add(bucketIdleTTL + sweepInterval + time.Second)
	l.Allow("fresh")

	l.mu.Lock()
	_, staleKept := l.buckets["stale"]
	_, freshKept := l.buckets["fresh"]
	l.mu.Unlock()
	if staleKept {
		t.Error("idle bucket not pruned")
	}
	if !freshKept {
		t.Error("active bucket pruned")
	}
}
