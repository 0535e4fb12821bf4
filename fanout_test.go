package yae

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"
)

func TestMapSettledEmptyInput(t *testing.T) {
	out := MapSettled(context.Background(), nil, 5, func(_ context.Context, item int) (int, error) {
		return item, nil
	})
	if len(out) != 0 {
		t.Errorf("len = %d, want 0", len(out))
	}
}

func TestMapSettledPreservesOrder(t *testing.T) {
	items := []int{5, 3, 1, 4, 2}
	out := MapSettled(context.Background(), items, 3, func(_ context.Context, item int) (string, error) {
		time.Sleep(time.Duration(item) * 2 * time.Millisecond)
		return fmt.Sprintf("v%d", item), nil
	})
	for i, item := range items {
		if out[i].Err != nil {
			t.Fatalf("slot %d: %v", i, out[i].Err)
		}
		if want := fmt.Sprintf("v%d", item); out[i].Value != want {
			t.Errorf("slot %d = %q, want %q", i, out[i].Value, want)
		}
	}
}

func TestMapSettledRespectsLimit(t *testing.T) {
	var inflight, peak atomic.Int32
	items := make([]int, 20)
	MapSettled(context.Background(), items, 5, func(_ context.Context, _ int) (int, error) {
		cur := inflight.Add(1)
		for {
			p := peak.Load()
			if cur <= p || peak.CompareAndSwap(p, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inflight.Add(-1)
		return 0, nil
	})
	if got := peak.Load(); got > 5 {
		t.Errorf("peak concurrency = %d, want <= 5", got)
	}
}

func TestMapSettledFailureDoesNotCancelPeers(t *testing.T) {
	items := []int{0, 1, 2, 3}
	out := MapSettled(context.Background(), items, 2, func(_ context.Context, item int) (int, error) {
		if item == 1 {
			return 0, errors.New("item 1 broke")
		}
		return item * 10, nil
	})
	if out[1].Err == nil {
		t.Error("slot 1 should carry the error")
	}
	for _, i := range []int{0, 2, 3} {
		if out[i].Err != nil {
			t.Errorf("slot %d failed: %v", i, out[i].Err)
		}
		if out[i].Value != items[i]*10 {
			t.Errorf("slot %d = %d", i, out[i].Value)
		}
	}
}

func TestMapSettledCancelledContextFillsSlots(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items := make([]int, 8)
	out := MapSettled(ctx, items, 2, func(_ context.Context, _ int) (int, error) {
		return 0, nil
	})
	for i, res := range out {
		if res.Err == nil {
			t.Errorf("slot %d should carry ctx error", i)
		}
	}
}
