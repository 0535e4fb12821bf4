package observer

import (
	"context"
	"sync"
	"time"

	"github.com/nevindra/yae"

	"go.opentelemetry.io/otel/metric"
)

// ObservedFileStore wraps a yae.FileStore and instruments the tool-audit
// bookends. Since the agent bookends every tool call (not just file
// operations) with ToolPending and ToolSuccess/ToolFailure, wrapping the
// FileStore yields counts and durations for all tools. File operations
// delegate untouched.
type ObservedFileStore struct {
	yae.FileStore
	inst *Instruments

	mu      sync.Mutex
	pending map[string]pendingTool
}

type pendingTool struct {
	name  string
	start time.Time
}

var _ yae.FileStore = (*ObservedFileStore)(nil)

// WrapFileStore returns a FileStore whose tool-audit calls also emit
// tool.executions and tool.duration metrics.
func WrapFileStore(inner yae.FileStore, inst *Instruments) *ObservedFileStore {
	return &ObservedFileStore{
		FileStore: inner,
		inst:      inst,
		pending:   make(map[string]pendingTool),
	}
}

func (o *ObservedFileStore) ToolPending(ctx context.Context, name string, params any) (string, error) {
	id, err := o.FileStore.ToolPending(ctx, name, params)
	if err != nil || id == "" {
		return id, err
	}
	o.mu.Lock()
	o.pending[id] = pendingTool{name: name, start: time.Now()}
	o.mu.Unlock()
	return id, nil
}

func (o *ObservedFileStore) ToolSuccess(ctx context.Context, id, result string) error {
	o.close(ctx, id, "success")
	return o.FileStore.ToolSuccess(ctx, id, result)
}

func (o *ObservedFileStore) ToolFailure(ctx context.Context, id, errMsg string) error {
	o.close(ctx, id, "failure")
	return o.FileStore.ToolFailure(ctx, id, errMsg)
}

func (o *ObservedFileStore) close(ctx context.Context, id, status string) {
	o.mu.Lock()
	p, ok := o.pending[id]
	delete(o.pending, id)
	o.mu.Unlock()
	if !ok {
		return
	}

	o.inst.ToolExecutions.Add(ctx, 1, metric.WithAttributes(
		AttrToolName.String(p.name),
		AttrStatus.String(status),
	))
	o.inst.ToolDuration.Record(ctx, float64(time.Since(p.start).Milliseconds()), metric.WithAttributes(
		AttrToolName.String(p.name),
	))
}
