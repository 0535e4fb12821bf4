package yae

import (
	"log/slog"
	"sync"
)

// Worker is one stateless slot of the pool. It carries no queue and no
// background loop; the caller that checked it out runs the workflow from its
// own execution context and returns the worker afterwards.
type Worker struct {
	ID int

	mu       sync.Mutex
	owner    string // agent id of the current holder
	workflow string
}

// SetWorkflow annotates the worker with the workflow it is running, for
// introspection only.
func (w *Worker) SetWorkflow(name string) {
	w.mu.Lock()
	w.workflow = name
	w.mu.Unlock()
}

// Owner returns the agent id holding the worker, or "" when idle.
func (w *Worker) Owner() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.owner
}

// Workflow returns the workflow annotation, or "" when idle.
func (w *Worker) Workflow() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.workflow
}

// WorkerPool is a fixed-size stack of workers. Checkout and Return are
// non-blocking and atomic; there is no queue — an exhausted pool is a
// fail-fast signal to the caller.
type WorkerPool struct {
	logger *slog.Logger

	mu        sync.Mutex
	available []*Worker
	all       map[int]*Worker
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// WithPoolLogger sets the structured logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(p *WorkerPool) { p.logger = l }
}

// NewWorkerPool creates a pool of size workers (DefaultPoolSize when
// size <= 0).
func NewWorkerPool(size int, opts ...PoolOption) *WorkerPool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	p := &WorkerPool{
		logger: nopLogger,
		all:    make(map[int]*Worker, size),
	}
	for _, opt := range opts {
		opt(p)
	}
	for i := 0; i < size; i++ {
		w := &Worker{ID: i}
		p.all[i] = w
		p.available = append(p.available, w)
	}
	return p
}

// Checkout pops an available worker and records agentID as its owner.
// Returns ErrPoolExhausted when none is available; callers must fail fast,
// the pool never queues.
func (p *WorkerPool) Checkout(agentID string) (*Worker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.available) == 0 {
		return nil, ErrPoolExhausted
	}
	w := p.available[len(p.available)-1]
	p.available = p.available[:len(p.available)-1]
	w.mu.Lock()
	w.owner = agentID
	w.mu.Unlock()
	p.logger.Debug("worker checked out", "worker", w.ID, "owner", agentID)
	return w, nil
}

// Return puts a worker back and clears its annotations. Idempotent: a
// double return is a no-op.
func (p *WorkerPool) Return(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w, ok := p.all[id]
	if !ok {
		return
	}
	for _, avail := range p.available {
		if avail.ID == id {
			return
		}
	}
	w.mu.Lock()
	w.owner = ""
	w.workflow = ""
	w.mu.Unlock()
	p.available = append(p.available, w)
	p.logger.Debug("worker returned", "worker", id)
}

// Available reports the number of idle workers.
func (p *WorkerPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}

// Size reports the pool's fixed size.
func (p *WorkerPool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.all)
}

// Clear drops all owner/workflow annotations and marks every worker
// available. Used by shutdown.
func (p *WorkerPool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.available = p.available[:0]
	for i := 0; i < len(p.all); i++ {
		w := p.all[i]
		w.mu.Lock()
		w.owner = ""
		w.workflow = ""
		w.mu.Unlock()
		p.available = append(p.available, w)
	}
}
