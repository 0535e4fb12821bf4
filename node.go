package yae

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Action names an outgoing edge of a node. The zero value is treated as
// DefaultAction when following edges.
type Action string

// DefaultAction is the edge installed by To and followed when a node's post
// phase returns no explicit action.
const DefaultAction Action = "default"

// Backoff selects the retry-delay growth curve.
type Backoff int

const (
	// BackoffLinear waits delay·k before attempt k+1.
	BackoffLinear Backoff = iota
	// BackoffExponential waits delay·2^(k-1) before attempt k+1.
	BackoffExponential
)

// RetryConfig controls retry of a node's exec phase. Only exec is retried;
// prep and post run once. Fallback, when set, is consulted after the final
// attempt fails and may return a recovery exec result.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
	Backoff     Backoff
	OnRetry     func(attempt int, err error)
	Fallback    func(ctx context.Context, prep any, err error) (any, error)
}

// Node is a unit of work in a directed graph, evaluated by a Flow over a
// caller-provided shared state *S. Its three optional phases run in order:
//
//  1. prep(S) → P: may read S; produces the exec input.
//  2. exec(P) → E: must not touch S; pure over P. Carries retry and timeout.
//  3. post(S, P, E) → Action: writes results to S and selects the next edge.
//
// Build typed nodes with NewNode or NewParallel; the phases stored here are
// type-erased so nodes of differing P/E compose in one graph.
type Node[S any] struct {
	name       string
	prep       func(ctx context.Context, s *S) (any, error)
	exec       func(ctx context.Context, prep any) (any, error)
	post       func(ctx context.Context, s *S, prep, exec any) (Action, error)
	onError    func(ctx context.Context, err error, s *S) (Action, error)
	retry      *RetryConfig
	timeout    time.Duration
	parallel   bool
	successors map[Action]*Node[S]
	logger     *slog.Logger
}

// NodeConfig holds the typed phases of a sequential node. All fields are
// optional; a node with no phases is a pass-through.
type NodeConfig[S, P, E any] struct {
	Prep    func(ctx context.Context, s *S) (P, error)
	Exec    func(ctx context.Context, prep P) (E, error)
	Post    func(ctx context.Context, s *S, prep P, exec E) (Action, error)
	OnError func(ctx context.Context, err error, s *S) (Action, error)
}

// NodeOption configures a Node at construction.
type NodeOption func(*nodeOpts)

type nodeOpts struct {
	retry   *RetryConfig
	timeout time.Duration
	logger  *slog.Logger
}

// WithRetryPolicy sets the exec retry policy.
func WithRetryPolicy(rc RetryConfig) NodeOption {
	return func(o *nodeOpts) { o.retry = &rc }
}

// WithTimeout races each exec attempt against d. Expiry yields an
// *ErrTimeout, which is retry-eligible.
func WithTimeout(d time.Duration) NodeOption {
	return func(o *nodeOpts) { o.timeout = d }
}

// WithNodeLogger sets the structured logger for edge-override warnings and
// retry events. Defaults to a no-op logger.
func WithNodeLogger(l *slog.Logger) NodeOption {
	return func(o *nodeOpts) { o.logger = l }
}

// NewNode builds a sequential node from typed phases.
func NewNode[S, P, E any](name string, cfg NodeConfig[S, P, E], opts ...NodeOption) *Node[S] {
	n := newBareNode[S](name, opts...)
	if cfg.Prep != nil {
		prep := cfg.Prep
		n.prep = func(ctx context.Context, s *S) (any, error) {
			return prep(ctx, s)
		}
	}
	if cfg.Exec != nil {
		exec := cfg.Exec
		n.exec = func(ctx context.Context, prepRes any) (any, error) {
			return exec(ctx, coerce[P](prepRes))
		}
	}
	if cfg.Post != nil {
		post := cfg.Post
		n.post = func(ctx context.Context, s *S, prepRes, execRes any) (Action, error) {
			return post(ctx, s, coerce[P](prepRes), coerce[E](execRes))
		}
	}
	n.onError = cfg.OnError
	return n
}

func newBareNode[S any](name string, opts ...NodeOption) *Node[S] {
	o := nodeOpts{logger: nopLogger}
	for _, opt := range opts {
		opt(&o)
	}
	return &Node[S]{
		name:       name,
		retry:      o.retry,
		timeout:    o.timeout,
		successors: make(map[Action]*Node[S]),
		logger:     o.logger,
	}
}

// coerce converts a type-erased phase result back to its typed form. A nil
// value (absent phase) yields the zero value.
func coerce[T any](v any) T {
	if v == nil {
		var zero T
		return zero
	}
	t, _ := v.(T)
	return t
}

// Name returns the node's name.
func (n *Node[S]) Name() string { return n.name }

// To installs target as the default successor and returns target, so calls
// chain: a.To(b).To(c).
func (n *Node[S]) To(target *Node[S]) *Node[S] {
	return n.When(DefaultAction, target)
}

// When installs target as the successor for action and returns target.
// Reinstalling an existing action logs a warning and overrides.
func (n *Node[S]) When(action Action, target *Node[S]) *Node[S] {
	if _, exists := n.successors[action]; exists {
		n.logger.Warn("overriding existing successor",
			"node", n.name,
			"action", action)
	}
	n.successors[action] = target
	return target
}

// Next resolves the successor for action. Terminal nodes (no successors)
// return nil for any action, surfacing the action to the Flow caller. A node
// with successors but no edge for a non-default action returns an error — a
// typo guard for misspelled actions.
func (n *Node[S]) Next(action Action) (*Node[S], error) {
	if len(n.successors) == 0 {
		return nil, nil
	}
	if action == "" {
		action = DefaultAction
	}
	if next, ok := n.successors[action]; ok {
		return next, nil
	}
	if action != DefaultAction {
		return nil, fmt.Errorf("node %q: no successor for action %q", n.name, action)
	}
	return nil, nil
}

// Clone produces a copy with the same phases and configuration plus an
// independent successor map. Flows clone each node before executing it so a
// definition graph can serve concurrent runs without interference.
func (n *Node[S]) Clone() *Node[S] {
	c := *n
	c.successors = make(map[Action]*Node[S], len(n.successors))
	for a, s := range n.successors {
		c.successors[a] = s
	}
	return &c
}

// Work runs the node's phases against s and returns the selected action.
// Phase errors are routed through onError when set; otherwise they propagate.
func (n *Node[S]) Work(ctx context.Context, s *S) (Action, error) {
	action, err := n.work(ctx, s)
	if err != nil && n.onError != nil {
		return n.onError(ctx, err, s)
	}
	return action, err
}

func (n *Node[S]) work(ctx context.Context, s *S) (Action, error) {
	var prepRes any
	var err error
	if n.prep != nil {
		prepRes, err = n.prep(ctx, s)
		if err != nil {
			return "", fmt.Errorf("node %q prep: %w", n.name, err)
		}
	}

	var execRes any
	if n.parallel {
		execRes, err = n.execParallel(ctx, prepRes)
	} else if n.exec != nil {
		execRes, err = n.execWithRetry(ctx, prepRes)
	}
	if err != nil {
		return "", fmt.Errorf("node %q exec: %w", n.name, err)
	}

	if n.post != nil {
		action, err := n.post(ctx, s, prepRes, execRes)
		if err != nil {
			return "", fmt.Errorf("node %q post: %w", n.name, err)
		}
		return action, nil
	}
	return DefaultAction, nil
}

// execWithRetry runs exec under the node's retry policy and per-attempt
// timeout. On final-attempt failure the fallback, when set, may recover.
func (n *Node[S]) execWithRetry(ctx context.Context, prepRes any) (any, error) {
	maxAttempts := 1
	var rc RetryConfig
	if n.retry != nil {
		rc = *n.retry
		if rc.MaxAttempts > 1 {
			maxAttempts = rc.MaxAttempts
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res, err := n.execOnce(ctx, prepRes)
		if err == nil {
			return res, nil
		}
		lastErr = err

		if attempt < maxAttempts {
			if rc.OnRetry != nil {
				rc.OnRetry(attempt, err)
			}
			n.logger.Warn("retrying node exec",
				"node", n.name,
				"attempt", attempt,
				"error", err)
			if err := sleepCtx(ctx, retryWait(rc, attempt)); err != nil {
				return nil, err
			}
		}
	}

	if rc.Fallback != nil {
		return rc.Fallback(ctx, prepRes, lastErr)
	}
	return nil, lastErr
}

// execOnce runs a single exec attempt, racing it against the node timeout
// when one is set.
func (n *Node[S]) execOnce(ctx context.Context, prepRes any) (any, error) {
	if n.timeout <= 0 {
		return n.exec(ctx, prepRes)
	}
	return callWithTimeout(ctx, n.timeout, "node "+n.name, func(ctx context.Context) (any, error) {
		return n.exec(ctx, prepRes)
	})
}

// retryWait computes the delay before attempt k+1 (attempt is 1-indexed).
func retryWait(rc RetryConfig, attempt int) time.Duration {
	if rc.Delay <= 0 {
		return 0
	}
	switch rc.Backoff {
	case BackoffExponential:
		return rc.Delay * (1 << (attempt - 1))
	default:
		return rc.Delay * time.Duration(attempt)
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// callWithTimeout runs fn under a deadline. The task runs in its own
// goroutine so a non-cooperative fn cannot stall the caller past the
// deadline; expiry returns an *ErrTimeout.
func callWithTimeout[T any](ctx context.Context, d time.Duration, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	type result struct {
		val T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		val, err := fn(ctx)
		ch <- result{val, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil && ctx.Err() == context.DeadlineExceeded {
			var zero T
			return zero, &ErrTimeout{Op: op, Elapsed: d}
		}
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		if ctx.Err() == context.DeadlineExceeded {
			return zero, &ErrTimeout{Op: op, Elapsed: d}
		}
		return zero, ctx.Err()
	}
}
