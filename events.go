package yae

// AgentEventType identifies the kind of agent-loop event.
type AgentEventType string

const (
	// EventThinking carries the model's reasoning for the current step.
	EventThinking AgentEventType = "thinking"
	// EventMessage carries the final assistant message.
	EventMessage AgentEventType = "message"
	// EventToolCall announces a tool about to run; Content is the tool name.
	EventToolCall AgentEventType = "tool_call"
	// EventToolResult carries a completed tool's result envelope.
	EventToolResult AgentEventType = "tool_result"
	// EventToolError carries a failed tool's error envelope.
	EventToolError AgentEventType = "tool_error"
	// EventError signals the loop terminated without a final message.
	EventError AgentEventType = "error"
)

// AgentEvent is one item of the agent loop's output stream. Consumers
// receive these on the channel returned by RunAgentLoop; the HTTP layer
// relays them as Server-Sent Events.
type AgentEvent struct {
	Type    AgentEventType `json:"type"`
	Content string         `json:"content"`
}
