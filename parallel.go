package yae

import (
	"context"
	"errors"
	"sync"
)

// ParallelConfig holds the typed phases of a parallel node: prep produces a
// slice of items, exec runs once per item concurrently, and post receives
// the results in input order. Retry and timeout apply per item.
type ParallelConfig[S, P, E any] struct {
	Prep    func(ctx context.Context, s *S) ([]P, error)
	Exec    func(ctx context.Context, item P) (E, error)
	Post    func(ctx context.Context, s *S, items []P, results []E) (Action, error)
	OnError func(ctx context.Context, err error, s *S) (Action, error)
}

// NewParallel builds a parallel node. The first item error cancels the
// remaining items and fails the node unless OnError recovers it.
func NewParallel[S, P, E any](name string, cfg ParallelConfig[S, P, E], opts ...NodeOption) *Node[S] {
	n := newBareNode[S](name, opts...)
	n.parallel = true
	if cfg.Prep != nil {
		prep := cfg.Prep
		n.prep = func(ctx context.Context, s *S) (any, error) {
			items, err := prep(ctx, s)
			if err != nil {
				return nil, err
			}
			erased := make([]any, len(items))
			for i, it := range items {
				erased[i] = it
			}
			return erased, nil
		}
	}
	if cfg.Exec != nil {
		exec := cfg.Exec
		n.exec = func(ctx context.Context, item any) (any, error) {
			return exec(ctx, coerce[P](item))
		}
	}
	if cfg.Post != nil {
		post := cfg.Post
		n.post = func(ctx context.Context, s *S, prepRes, execRes any) (Action, error) {
			items := coerceSlice[P](prepRes)
			results := coerceSlice[E](execRes)
			return post(ctx, s, items, results)
		}
	}
	n.onError = cfg.OnError
	return n
}

func coerceSlice[T any](v any) []T {
	erased, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]T, len(erased))
	for i, e := range erased {
		out[i] = coerce[T](e)
	}
	return out
}

// execParallel runs exec once per prep item concurrently, each under the
// node's retry policy and timeout, and collects results in input order. The
// first item error cancels the remaining peers and fails the node.
func (n *Node[S]) execParallel(ctx context.Context, prepRes any) (any, error) {
	items, ok := prepRes.([]any)
	if !ok {
		if prepRes != nil {
			n.logger.Warn("parallel node prep did not produce a slice, treating as empty",
				"node", n.name)
		}
		return []any{}, nil
	}
	if len(items) == 0 {
		return []any{}, nil
	}
	if n.exec == nil {
		return items, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]any, len(items))
	errs := make([]error, len(items))
	var wg sync.WaitGroup
	for i, item := range items {
		wg.Add(1)
		go func(idx int, it any) {
			defer wg.Done()
			// Retry and timeout apply per item.
			results[idx], errs[idx] = n.execWithRetry(ctx, it)
			if errs[idx] != nil {
				cancel()
			}
		}(i, item)
	}
	wg.Wait()

	// Prefer the originating failure over the cancellations it caused.
	var firstErr error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if firstErr == nil {
			firstErr = err
		}
		if !errors.Is(err, context.Canceled) {
			return nil, err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return results, nil
}
