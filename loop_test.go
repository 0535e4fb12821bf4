package yae

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestLoopSingleTurn(t *testing.T) {
	provider := &scriptProvider{turns: []AgentTurn{
		{Thinking: "pondering", Final: true, Message: "Hi there"},
	}}
	agent, _, msgs := newTestAgent(t, provider, nil)

	events := drain(RunAgentLoop(context.Background(), agent, "hello", "", 5))
	types := eventTypes(events)
	if len(types) != 2 || types[0] != EventThinking || types[1] != EventMessage {
		t.Fatalf("event types = %v", types)
	}
	if events[0].Content != "pondering" || events[1].Content != "Hi there" {
		t.Errorf("events = %+v", events)
	}

	if len(msgs.rows) != 2 {
		t.Fatalf("persisted rows = %d, want 2", len(msgs.rows))
	}
	if msgs.rows[0].Role != "user" || msgs.rows[0].Content != "hello" {
		t.Errorf("row 0 = %+v", msgs.rows[0])
	}
	if msgs.rows[1].Role != "assistant" || msgs.rows[1].Content != "Hi there" {
		t.Errorf("row 1 = %+v", msgs.rows[1])
	}
}

func TestLoopToolStep(t *testing.T) {
	provider := &scriptProvider{turns: []AgentTurn{
		{Thinking: "needs a block", Tools: []ToolInvocation{{
			ToolName:    "memory_create",
			Label:       "test-block",
			Description: "scratch",
			Content:     "v1",
		}}},
		{Thinking: "done", Final: true, Message: "Created it."},
	}}
	agent, files, _ := newTestAgent(t, provider, nil)

	events := drain(RunAgentLoop(context.Background(), agent, "make a block", "", 5))
	types := eventTypes(events)
	want := []AgentEventType{EventThinking, EventToolCall, EventToolResult, EventThinking, EventMessage}
	if len(types) != len(want) {
		t.Fatalf("event types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (full: %v)", i, types[i], want[i], types)
		}
	}
	if events[1].Content != "memory_create" {
		t.Errorf("tool call content = %q", events[1].Content)
	}
	if !strings.Contains(events[2].Content, `<tool_result step="0" tool="memory_create">`) {
		t.Errorf("tool result envelope = %q", events[2].Content)
	}

	if !agent.Memory.Has("test-block") {
		t.Error("tool effect missing: test-block not in memory")
	}
	if len(files.pending) != 1 || files.pending[0] != "memory_create" {
		t.Errorf("audit pending = %v", files.pending)
	}
	if files.success != 1 || files.failure != 0 {
		t.Errorf("audit outcome = success %d failure %d", files.success, files.failure)
	}
}

func TestLoopEmptyToolList(t *testing.T) {
	provider := &scriptProvider{turns: []AgentTurn{
		{Thinking: "hmm"},
		{Thinking: "ok", Final: true, Message: "Recovered."},
	}}
	agent, _, _ := newTestAgent(t, provider, nil)

	events := drain(RunAgentLoop(context.Background(), agent, "go", "", 5))
	toolErrors := 0
	for _, ev := range events {
		if ev.Type == EventToolError {
			toolErrors++
			if !strings.Contains(ev.Content, "empty tool list") {
				t.Errorf("tool error content = %q", ev.Content)
			}
		}
	}
	if toolErrors != 1 {
		t.Errorf("tool errors = %d, want 1", toolErrors)
	}
	last := events[len(events)-1]
	if last.Type != EventMessage || last.Content != "Recovered." {
		t.Errorf("last event = %+v", last)
	}
}

func TestLoopToolFailureIsolated(t *testing.T) {
	provider := &scriptProvider{turns: []AgentTurn{
		{Thinking: "two tools", Tools: []ToolInvocation{
			{ToolName: "file_write", Path: "a.txt", Content: "x"},
			{ToolName: "no_such_tool"},
		}},
		{Thinking: "wrap up", Final: true, Message: "Done."},
	}}
	agent, files, _ := newTestAgent(t, provider, nil)

	events := drain(RunAgentLoop(context.Background(), agent, "go", "", 5))
	types := eventTypes(events)
	want := []AgentEventType{EventThinking, EventToolCall, EventToolCall, EventToolResult, EventToolError, EventThinking, EventMessage}
	if len(types) != len(want) {
		t.Fatalf("event types = %v", types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("event %d = %s, want %s (full: %v)", i, types[i], want[i], types)
		}
	}
	if !strings.Contains(events[4].Content, "Unknown tool: no_such_tool") {
		t.Errorf("tool error = %q", events[4].Content)
	}
	if files.success != 1 || files.failure != 1 {
		t.Errorf("audit outcome = success %d failure %d", files.success, files.failure)
	}
}

func TestLoopMaxStepsExhausted(t *testing.T) {
	provider := &scriptProvider{turns: []AgentTurn{
		{Thinking: "spinning", Tools: []ToolInvocation{{ToolName: "file_write", Path: "a.txt", Content: "x"}}},
	}}
	agent, _, msgs := newTestAgent(t, provider, nil)

	events := drain(RunAgentLoop(context.Background(), agent, "go", "", 3))
	thinking, messages, errs := 0, 0, 0
	for _, ev := range events {
		switch ev.Type {
		case EventThinking:
			thinking++
		case EventMessage:
			messages++
		case EventError:
			errs++
			if !strings.Contains(ev.Content, "wasn't able to complete my response") {
				t.Errorf("error content = %q", ev.Content)
			}
		}
	}
	if thinking != 3 || messages != 0 || errs != 1 {
		t.Errorf("thinking=%d messages=%d errors=%d", thinking, messages, errs)
	}

	// Tools ran, so the exhaustion message is persisted as the reply.
	if len(msgs.rows) != 2 {
		t.Fatalf("persisted rows = %d, want 2", len(msgs.rows))
	}
	if msgs.rows[1].Content != maxStepsExhaustedMsg {
		t.Errorf("assistant row = %q", msgs.rows[1].Content)
	}
}

func TestLoopExhaustedWithoutToolsDoesNotPersist(t *testing.T) {
	provider := &scriptProvider{turns: []AgentTurn{{Thinking: "nothing"}}}
	agent, _, msgs := newTestAgent(t, provider, nil)

	events := drain(RunAgentLoop(context.Background(), agent, "go", "", 2))
	if last := events[len(events)-1]; last.Type != EventError {
		t.Errorf("last event = %+v", last)
	}
	if len(msgs.rows) != 0 {
		t.Errorf("history polluted: %d rows", len(msgs.rows))
	}
}

func TestLoopProviderErrorStopsTurn(t *testing.T) {
	provider := &scriptProvider{turnErr: errors.New("model unavailable")}
	agent, _, msgs := newTestAgent(t, provider, nil)

	events := drain(RunAgentLoop(context.Background(), agent, "go", "", 5))
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %+v", events)
	}
	if !strings.Contains(events[0].Content, "Agent turn failed") {
		t.Errorf("error content = %q", events[0].Content)
	}
	if len(msgs.rows) != 0 {
		t.Errorf("history grew on failed turn: %d rows", len(msgs.rows))
	}
}

func TestLoopMaxStepsClamped(t *testing.T) {
	provider := &scriptProvider{turns: []AgentTurn{{Thinking: "loop"}}}
	agent, _, _ := newTestAgent(t, provider, nil)

	events := drain(RunAgentLoop(context.Background(), agent, "go", "", 0))
	thinking := 0
	for _, ev := range events {
		if ev.Type == EventThinking {
			thinking++
		}
	}
	if thinking != MaxAgentSteps {
		t.Errorf("steps = %d, want %d", thinking, MaxAgentSteps)
	}
}

func TestLoopTruncatesLongToolResult(t *testing.T) {
	provider := &scriptProvider{turns: []AgentTurn{
		{Thinking: "read", Tools: []ToolInvocation{{ToolName: "file_read", Path: "big.txt"}}},
		{Thinking: "done", Final: true, Message: "Read it."},
	}}
	agent, files, _ := newTestAgent(t, provider, nil)
	files.files["big.txt"] = strings.Repeat("a", MaxToolResultChars+50)

	events := drain(RunAgentLoop(context.Background(), agent, "go", "", 5))
	var result string
	for _, ev := range events {
		if ev.Type == EventToolResult {
			result = ev.Content
		}
	}
	if !strings.Contains(result, "\n[truncated]") {
		t.Error("long result not truncated")
	}
	if strings.Count(result, "a") != MaxToolResultChars {
		t.Errorf("kept %d chars, want %d", strings.Count(result, "a"), MaxToolResultChars)
	}
}

func TestLoopBlocksPrivateFetch(t *testing.T) {
	provider := &scriptProvider{turns: []AgentTurn{
		{Thinking: "fetch", Tools: []ToolInvocation{{ToolName: "web_fetch", URL: "http://169.254.169.254/latest/meta-data"}}},
		{Thinking: "done", Final: true, Message: "Blocked."},
	}}
	agent, _, _ := newTestAgent(t, provider, nil)

	events := drain(RunAgentLoop(context.Background(), agent, "go", "", 5))
	var toolErr string
	for _, ev := range events {
		if ev.Type == EventToolError {
			toolErr = ev.Content
		}
	}
	if !strings.Contains(toolErr, "blocked non-public URL") {
		t.Errorf("tool error = %q", toolErr)
	}
}

// A full recent window triggers pre-flight summarization on a pooled worker;
// the event channel closes only after compaction has committed.
func TestLoopPreflightSummarization(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: []AgentTurn{
		{Thinking: "quick", Final: true, Message: "Sure."},
	}}

	backend := &msgBackend{}
	warm := NewMessageStore(backend)
	seedMessages(t, warm, 70)

	pool := NewWorkerPool(2)
	messages := NewMessageStore(backend)
	agent, err := NewUserAgent(ctx, AgentConfig{
		UserID:   "user-1",
		Memory:   NewMemoryStore(newMemBackend()),
		Messages: messages,
		Files:    newFakeFiles(),
		Runs:     newRunStore(),
		Provider: provider,
		Web:      fakeWeb{},
		Pool:     pool,
	})
	if err != nil {
		t.Fatalf("NewUserAgent: %v", err)
	}

	drain(RunAgentLoop(ctx, agent, "hello", "", 5))

	if provider.mergeCalls != 1 {
		t.Errorf("merge calls = %d, want 1", provider.mergeCalls)
	}
	// Cache held 50, the loop appended 2, compaction pruned 25.
	if got := len(messages.History()); got != 27 {
		t.Errorf("cache after compaction = %d, want 27", got)
	}
	block, _ := agent.Memory.Get(SummaryBlockLabel)
	if !strings.Contains(block.Content, "merged") {
		t.Errorf("summary block = %q", block.Content)
	}
	if pool.Available() != pool.Size() {
		t.Errorf("worker leaked: %d/%d available", pool.Available(), pool.Size())
	}
}

func TestLoopSummarizationSkippedOnExhaustedPool(t *testing.T) {
	ctx := context.Background()
	provider := &scriptProvider{turns: []AgentTurn{
		{Thinking: "quick", Final: true, Message: "Sure."},
	}}

	backend := &msgBackend{}
	warm := NewMessageStore(backend)
	seedMessages(t, warm, 70)

	pool := NewWorkerPool(1)
	if _, err := pool.Checkout("other-user"); err != nil {
		t.Fatalf("Checkout: %v", err)
	}

	messages := NewMessageStore(backend)
	agent, err := NewUserAgent(ctx, AgentConfig{
		UserID:   "user-1",
		Memory:   NewMemoryStore(newMemBackend()),
		Messages: messages,
		Files:    newFakeFiles(),
		Runs:     newRunStore(),
		Provider: provider,
		Web:      fakeWeb{},
		Pool:     pool,
	})
	if err != nil {
		t.Fatalf("NewUserAgent: %v", err)
	}

	events := drain(RunAgentLoop(ctx, agent, "hello", "", 5))
	if last := events[len(events)-1]; last.Type != EventMessage {
		t.Errorf("turn should still complete: %+v", last)
	}
	if provider.chunkCalls != 0 {
		t.Errorf("summarization ran on exhausted pool: %d chunk calls", provider.chunkCalls)
	}
}
