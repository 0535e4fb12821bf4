package yae

import (
	"errors"
	"fmt"
	"time"
)

// ErrPoolExhausted is returned by WorkerPool.Checkout when no worker is
// available. Callers must fail fast; the pool never queues.
var ErrPoolExhausted = errors.New("worker pool exhausted")

// ErrNotInitialized is returned by GetInstance before Initialize has run.
var ErrNotInitialized = errors.New("yae: not initialized, call Initialize first")

// ErrTimeout reports a task that exceeded its deadline. Retry-eligible.
type ErrTimeout struct {
	Op      string
	Elapsed time.Duration
}

func (e *ErrTimeout) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Op, e.Elapsed)
}

// IsTimeout reports whether err is (or wraps) an ErrTimeout.
func IsTimeout(err error) bool {
	var e *ErrTimeout
	return errors.As(err, &e)
}

// ErrValidation reports malformed caller input (bad slug, missing label,
// old-content mismatch). Maps to HTTP 400 at the boundary.
type ErrValidation struct {
	Msg string
}

func (e *ErrValidation) Error() string { return e.Msg }

// ErrUnauthorized reports a bad token or a blocked URL.
type ErrUnauthorized struct {
	Reason string
}

func (e *ErrUnauthorized) Error() string { return e.Reason }

// ErrNotFound reports an unknown user, webhook, label, or path.
type ErrNotFound struct {
	Kind string
	Key  string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Key)
}

// ErrUpstream reports an LLM or external provider failure. Status 429/503
// marks the error transient for the retry decorator; RetryAfter, when set,
// is the server-requested minimum delay before the next attempt.
type ErrUpstream struct {
	Provider   string
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *ErrUpstream) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}
