package yae

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// RunInfo identifies the current run from inside workflow nodes.
type RunInfo struct {
	ID        string `json:"id"`
	Workflow  string `json:"workflow"`
	StartedAt int64  `json:"started_at"`
}

// AgentState is the shared state threaded through every node of an agent
// workflow: the agent's stores plus workflow-specific data of type T.
type AgentState[T any] struct {
	Memory   *MemoryStore
	Messages *MessageStore
	Files    FileStore
	Data     T
	Run      RunInfo
}

// WorkflowDeps are the agent-owned stores a workflow runs against.
type WorkflowDeps struct {
	Memory   *MemoryStore
	Messages *MessageStore
	Files    FileStore
}

// WorkflowRunStore persists workflow run records.
type WorkflowRunStore interface {
	CreateRun(ctx context.Context, run WorkflowRun) error
	// UpdateRun applies a partial patch and always bumps updated_at.
	UpdateRun(ctx context.Context, id string, patch RunPatch) error
	GetRun(ctx context.Context, id string) (WorkflowRun, error)
	ListRunsByStatus(ctx context.Context, status RunStatus, limit int) ([]WorkflowRun, error)
	ListRunsByAgent(ctx context.Context, agentID string, limit int) ([]WorkflowRun, error)
	// MarkStaleAsFailed sweeps every running row to failed with a
	// server-restart reason. Called once at store open, before any run may
	// execute. Returns the number of rows changed.
	MarkStaleAsFailed(ctx context.Context) (int, error)
}

// Workflow is a reusable graph definition over AgentState[T]. Definitions
// are immutable; Create builds a fresh Flow and initial state per run.
type Workflow[T any] struct {
	Name    string
	initial T
	build   func() Chainable[AgentState[T]]
	flowCfg FlowConfig[AgentState[T]]
}

// WorkflowOption configures a Workflow definition.
type WorkflowOption[T any] func(*Workflow[T])

// WithFlowConfig overrides the Flow hooks and limits used for each run.
// The Name field is always taken from the workflow.
func WithFlowConfig[T any](cfg FlowConfig[AgentState[T]]) WorkflowOption[T] {
	return func(w *Workflow[T]) { w.flowCfg = cfg }
}

// DefineWorkflow captures a named graph definition. build is invoked per
// Create so every run gets its own node instances on top of the Flow's own
// clone-on-walk isolation.
func DefineWorkflow[T any](name string, initial T, build func() Chainable[AgentState[T]], opts ...WorkflowOption[T]) *Workflow[T] {
	w := &Workflow[T]{Name: name, initial: initial, build: build}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Create builds a fresh Flow and initial state for one run. The initial data
// is structurally cloned so runs never share mutable state; mutate, when
// non-nil, adjusts the clone before the run starts.
func (w *Workflow[T]) Create(deps WorkflowDeps, run RunInfo, mutate func(*T)) (*Flow[AgentState[T]], *AgentState[T]) {
	cfg := w.flowCfg
	cfg.Name = w.Name
	flow := FlowFrom(w.build().EntryNode(), cfg)

	data := deepClone(w.initial)
	if mutate != nil {
		mutate(&data)
	}
	state := &AgentState[T]{
		Memory:   deps.Memory,
		Messages: deps.Messages,
		Files:    deps.Files,
		Data:     data,
		Run:      run,
	}
	return flow, state
}

// deepClone copies v through JSON so nested maps and slices are independent.
func deepClone[T any](v T) T {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

// RunResult is the always-returned outcome of RunWorkflow.
type RunResult[T any] struct {
	Run      WorkflowRun
	Status   RunStatus
	State    *AgentState[T]
	Duration time.Duration
	Err      string // empty on success
}

// RunWorkflow is the single entry point for executing a workflow: it inserts
// a running row, walks the flow, and records the terminal status. It never
// returns an error; failures (including panics inside nodes) are captured in
// the result and the persisted row.
func RunWorkflow[T any](ctx context.Context, wf *Workflow[T], agentID string, deps WorkflowDeps, repo WorkflowRunStore, mutate func(*T)) RunResult[T] {
	start := time.Now()
	run := WorkflowRun{
		ID:           NewID(),
		AgentID:      agentID,
		WorkflowName: wf.Name,
		Status:       RunRunning,
		StartedAt:    NowUnix(),
		UpdatedAt:    NowUnix(),
	}
	result := RunResult[T]{Run: run, Status: RunFailed}

	if err := repo.CreateRun(ctx, run); err != nil {
		result.Err = fmt.Sprintf("create run record: %v", err)
		result.Duration = time.Since(start)
		return result
	}

	flow, state := wf.Create(deps, RunInfo{ID: run.ID, Workflow: wf.Name, StartedAt: run.StartedAt}, mutate)
	result.State = state

	runErr := runFlowSafe(ctx, flow, state)

	stateBlob, blobErr := json.Marshal(state.Data)
	if blobErr != nil {
		// The run outcome still stands; only the state snapshot is lost.
		slog.Default().Warn("marshal workflow state",
			"workflow", wf.Name,
			"run", run.ID,
			"error", blobErr)
	}
	completedAt := NowUnix()
	patch := RunPatch{State: stateBlob, CompletedAt: &completedAt}
	if runErr != "" {
		status := RunFailed
		patch.Status = &status
		patch.Error = &runErr
		result.Status = RunFailed
		result.Err = runErr
	} else {
		status := RunCompleted
		patch.Status = &status
		result.Status = RunCompleted
	}
	// A failing status write must not turn a finished run into an error for
	// the caller; the result already carries the outcome.
	_ = repo.UpdateRun(ctx, run.ID, patch)

	result.Run.Status = result.Status
	result.Run.State = stateBlob
	result.Run.Error = runErr
	result.Run.CompletedAt = completedAt
	result.Duration = time.Since(start)
	return result
}

// runFlowSafe walks the flow, converting node errors and panics into an
// error string with a stack trace for the run record.
func runFlowSafe[S any](ctx context.Context, flow *Flow[S], state *S) (errText string) {
	defer func() {
		if r := recover(); r != nil {
			errText = fmt.Sprintf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	if _, err := flow.Run(ctx, state); err != nil {
		return err.Error()
	}
	return ""
}
