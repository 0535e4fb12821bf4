package yae

import (
	"context"
	"fmt"
	"log/slog"
)

// DefaultMaxIterations bounds a Flow walk when the config leaves
// MaxIterations unset. Cycles are legal; this guard stops runaways.
const DefaultMaxIterations = 1000

// FlowConfig carries the hooks and limits of a Flow. All hooks are optional.
type FlowConfig[S any] struct {
	Name string
	// MaxIterations aborts the walk with an error once exceeded.
	// Zero means DefaultMaxIterations.
	MaxIterations int
	// BeforeStart runs before the first node; an error aborts the run
	// without executing the graph.
	BeforeStart func(ctx context.Context, s *S) error
	// AfterComplete runs once the walk reaches a terminal node.
	AfterComplete func(ctx context.Context, s *S, last Action) error
	// OnNodeExecute observes each completed node and its selected action.
	OnNodeExecute func(node *Node[S], action Action)
	// OnError observes any error that will propagate out of Run.
	OnError func(err error, node *Node[S], s *S)
	Logger  *slog.Logger
	Tracer  Tracer
}

// Flow walks a workflow graph for exactly one run at a time. The definition
// graph is never mutated: every node is cloned before execution, so one Flow
// value may serve concurrent runs over distinct states.
type Flow[S any] struct {
	start  *Node[S]
	cfg    FlowConfig[S]
	logger *slog.Logger
}

// FlowFrom captures a start node and configuration.
func FlowFrom[S any](start *Node[S], cfg FlowConfig[S]) *Flow[S] {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}
	return &Flow[S]{start: start, cfg: cfg, logger: logger}
}

// Name returns the flow's configured name.
func (f *Flow[S]) Name() string { return f.cfg.Name }

// Run walks the graph over s and returns the last action. Errors from any
// node pass through the OnError hook and then propagate.
func (f *Flow[S]) Run(ctx context.Context, s *S) (Action, error) {
	if f.start == nil {
		return "", fmt.Errorf("flow %q: no start node", f.cfg.Name)
	}
	if f.cfg.BeforeStart != nil {
		if err := f.cfg.BeforeStart(ctx, s); err != nil {
			return "", fmt.Errorf("flow %q before-start: %w", f.cfg.Name, err)
		}
	}

	var span Span
	if f.cfg.Tracer != nil {
		ctx, span = f.cfg.Tracer.Start(ctx, "flow.run", StringAttr("flow", f.cfg.Name))
		defer span.End()
	}

	current := f.start.Clone()
	var last Action
	for i := 0; ; i++ {
		if i >= f.cfg.MaxIterations {
			err := fmt.Errorf("flow %q: exceeded %d iterations", f.cfg.Name, f.cfg.MaxIterations)
			f.fail(err, current, s, span)
			return "", err
		}

		action, err := current.Work(ctx, s)
		if err != nil {
			f.fail(err, current, s, span)
			return "", err
		}
		last = action
		if f.cfg.OnNodeExecute != nil {
			f.cfg.OnNodeExecute(current, action)
		}
		f.logger.Debug("node executed",
			"flow", f.cfg.Name,
			"node", current.Name(),
			"action", action)

		next, err := current.Next(action)
		if err != nil {
			f.fail(err, current, s, span)
			return "", err
		}
		if next == nil {
			break
		}
		current = next.Clone()
	}

	if f.cfg.AfterComplete != nil {
		if err := f.cfg.AfterComplete(ctx, s, last); err != nil {
			return "", fmt.Errorf("flow %q after-complete: %w", f.cfg.Name, err)
		}
	}
	return last, nil
}

func (f *Flow[S]) fail(err error, node *Node[S], s *S, span Span) {
	if f.cfg.OnError != nil {
		f.cfg.OnError(err, node, s)
	}
	if span != nil {
		span.Error(err)
	}
	name := ""
	if node != nil {
		name = node.Name()
	}
	f.logger.Error("flow run failed",
		"flow", f.cfg.Name,
		"node", name,
		"error", err)
}
