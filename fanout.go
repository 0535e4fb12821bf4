package yae

import (
	"context"
	"sync"
)

// Settled is the outcome of one MapSettled item: a value or an error,
// never both.
type Settled[R any] struct {
	Value R
	Err   error
}

// MapSettled applies fn to every item with at most limit concurrent workers
// and returns the outcomes in input order. A failing item never cancels its
// peers; its slot records the error. Cancellation of ctx stops the dispatch
// and fills unstarted slots with ctx.Err(). Empty input returns an empty
// slice.
func MapSettled[T, R any](ctx context.Context, items []T, limit int, fn func(ctx context.Context, item T) (R, error)) []Settled[R] {
	results := make([]Settled[R], len(items))
	if len(items) == 0 {
		return results
	}
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}

	work := make(chan int, len(items))
	for i := range items {
		work <- i
	}
	close(work)

	var wg sync.WaitGroup
	for w := 0; w < limit; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range work {
				select {
				case <-ctx.Done():
					results[idx] = Settled[R]{Err: ctx.Err()}
					continue
				default:
				}
				val, err := fn(ctx, items[idx])
				results[idx] = Settled[R]{Value: val, Err: err}
			}
		}()
	}
	wg.Wait()
	return results
}
