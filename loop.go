package yae

import (
	"context"
	"fmt"
	"sync"
)

// maxStepsExhaustedMsg is the fallback assistant message when the loop runs
// out of steps without a final response.
const maxStepsExhaustedMsg = "I wasn't able to complete my response within the allowed steps. Please try again or rephrase your request."

// RunAgentLoop drives one user turn to completion and streams events on the
// returned channel. The channel is closed when the loop (and any pre-flight
// summarization it spawned) has finished, so a caller that drains the stream
// observes a consistent store state.
//
// Per step the event order is fixed: THINKING, then TOOL_CALL per tool in
// model order, then TOOL_RESULT/TOOL_ERROR per tool in the same order, then
// either the next step or MESSAGE. The loop itself never fails; every
// failure becomes an ERROR or TOOL_ERROR event.
func RunAgentLoop(ctx context.Context, agent *UserAgent, userMessage, instructions string, maxSteps int) <-chan AgentEvent {
	events := make(chan AgentEvent, 16)
	go func() {
		defer close(events)
		runLoop(ctx, agent, userMessage, instructions, maxSteps, events)
	}()
	return events
}

func runLoop(ctx context.Context, agent *UserAgent, userMessage, instructions string, maxSteps int, events chan<- AgentEvent) {
	if maxSteps <= 0 || maxSteps > MaxAgentSteps {
		maxSteps = MaxAgentSteps
	}

	emit := func(ev AgentEvent) bool {
		select {
		case events <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var span Span
	if agent.tracer != nil {
		var tctx context.Context
		tctx, span = agent.tracer.Start(ctx, "agent.loop",
			StringAttr("user", agent.UserID),
			IntAttr("max_steps", maxSteps))
		ctx = tctx
		defer span.End()
	}

	// Pre-flight summarization: when the recent window is full, compact it
	// on a pooled worker without blocking the turn. Errors are logged, never
	// surfaced to the user.
	var summarizeWG sync.WaitGroup
	defer summarizeWG.Wait()
	if len(agent.Messages.History()) >= MaxConversationHistory {
		agent.startSummarization(ctx, &summarizeWG)
	}

	var allResults []string
	responded := false

	for step := 0; step < maxSteps; step++ {
		turn, err := callWithTimeout(ctx, LLMTimeout, "llm turn", func(ctx context.Context) (AgentTurn, error) {
			return agent.provider.UserAgentTurn(ctx, TurnRequest{
				Query:        userMessage,
				History:      agent.Messages.History(),
				Memory:       agent.BuildContext(ctx),
				ToolResults:  allResults,
				Instructions: instructions,
			})
		})
		if err != nil {
			agent.logger.Error("agent turn failed", "user", agent.UserID, "step", step, "error", err)
			if span != nil {
				span.Error(err)
			}
			emit(AgentEvent{Type: EventError, Content: fmt.Sprintf("Agent turn failed: %v", err)})
			return
		}

		if !emit(AgentEvent{Type: EventThinking, Content: turn.Thinking}) {
			return
		}

		if turn.Final {
			agent.persistTurn(ctx, userMessage, turn.Message)
			emit(AgentEvent{Type: EventMessage, Content: turn.Message})
			responded = true
			break
		}

		if len(turn.Tools) == 0 {
			if !emit(AgentEvent{Type: EventToolError, Content: fmt.Sprintf("<tool_error step=\"%d\">empty tool list returned by model</tool_error>", step)}) {
				return
			}
			continue
		}

		for _, t := range turn.Tools {
			if !emit(AgentEvent{Type: EventToolCall, Content: t.ToolName}) {
				return
			}
		}

		settled := MapSettled(ctx, turn.Tools, MaxToolConcurrency, func(ctx context.Context, t ToolInvocation) (string, error) {
			return callWithTimeout(ctx, ToolTimeout, "tool "+t.ToolName, func(ctx context.Context) (string, error) {
				return agent.ExecuteTool(ctx, t)
			})
		})

		for i, res := range settled {
			name := turn.Tools[i].ToolName
			var ev AgentEvent
			if res.Err != nil {
				ev = AgentEvent{
					Type:    EventToolError,
					Content: fmt.Sprintf("<tool_error step=\"%d\" tool=\"%s\">%s</tool_error>", step, name, res.Err.Error()),
				}
			} else {
				ev = AgentEvent{
					Type:    EventToolResult,
					Content: fmt.Sprintf("<tool_result step=\"%d\" tool=\"%s\">%s</tool_result>", step, name, truncateStr(res.Value, MaxToolResultChars)),
				}
			}
			allResults = append(allResults, ev.Content)
			if !emit(ev) {
				return
			}
		}
	}

	if !responded {
		emit(AgentEvent{Type: EventError, Content: maxStepsExhaustedMsg})
		// Persist only when at least one tool ran; an outright-failed first
		// call must not pollute the history.
		if len(allResults) > 0 {
			agent.persistTurn(ctx, userMessage, maxStepsExhaustedMsg)
		}
	}
}

// persistTurn appends the user message and the assistant reply to history.
// Persistence failures are logged; the turn has already happened.
func (a *UserAgent) persistTurn(ctx context.Context, userMessage, assistantMessage string) {
	if err := a.Messages.Save(ctx, Message{Role: "user", Content: userMessage}); err != nil {
		a.logger.Error("persist user message", "user", a.UserID, "error", err)
		return
	}
	if err := a.Messages.Save(ctx, Message{Role: "assistant", Content: assistantMessage}); err != nil {
		a.logger.Error("persist assistant message", "user", a.UserID, "error", err)
	}
}

// startSummarization checks out a worker and runs the summarization workflow
// on it. Pool exhaustion skips the attempt; this is compaction, not
// correctness.
func (a *UserAgent) startSummarization(ctx context.Context, wg *sync.WaitGroup) {
	if a.pool == nil {
		return
	}
	worker, err := a.pool.Checkout(a.UserID)
	if err != nil {
		a.logger.Warn("summarization skipped", "user", a.UserID, "error", err)
		return
	}
	worker.SetWorkflow("summarize-conversation")

	wf := SummarizationWorkflow(a.provider)
	deps := WorkflowDeps{Memory: a.Memory, Messages: a.Messages, Files: a.Files}

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer a.pool.Return(worker.ID)
		// The turn's cancellation must not abort compaction mid-commit.
		result := RunWorkflow(context.WithoutCancel(ctx), wf, a.UserID, deps, a.Runs, nil)
		if result.Err != "" {
			a.logger.Error("summarization failed", "user", a.UserID, "run", result.Run.ID, "error", result.Err)
			return
		}
		a.logger.Info("summarization complete",
			"user", a.UserID,
			"run", result.Run.ID,
			"pruned", result.State.Data.PrunedCount,
			"duration", result.Duration)
	}()
}

// truncateStr caps s at max runes, appending a truncation marker when cut.
func truncateStr(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "\n[truncated]"
}
