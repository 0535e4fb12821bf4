package yae

import (
	"encoding/json"
	"time"
)

// --- Normative limits ---

const (
	// MaxConversationHistory bounds the cached recent-message slice and
	// triggers pre-flight summarization in the agent loop.
	MaxConversationHistory = 50
	// MaxAgentSteps is the hard clamp on loop iterations per user turn.
	MaxAgentSteps = 20
	// MaxToolResultChars is the truncation threshold for a single tool result.
	MaxToolResultChars = 10000
	// MaxToolConcurrency bounds the tool fan-out within a single loop step.
	MaxToolConcurrency = 5
	// DefaultMemoryBlockLimit is the content cap applied by memory_create
	// when the block carries no explicit limit.
	DefaultMemoryBlockLimit = 500
	// DefaultPoolSize is the worker-pool size when none is configured.
	DefaultPoolSize = 4
	// SummaryChunkSize is the message-chunk size of the summarization workflow.
	SummaryChunkSize = 20
)

const (
	// LLMTimeout bounds a single model turn.
	LLMTimeout = 60 * time.Second
	// ToolTimeout bounds a single tool execution.
	ToolTimeout = 30 * time.Second
)

// SummaryBlockLabel is the memory block that receives summarization output.
const SummaryBlockLabel = "conversation_summary"

// --- Domain types (database records) ---

// MemoryBlock is a labelled unit of agent memory. Label is unique within an
// agent. Protected blocks cannot be deleted; read-only blocks cannot be
// mutated. Limit, when non-zero, caps the content character count.
type MemoryBlock struct {
	Label       string `json:"label"`
	Description string `json:"description"`
	Content     string `json:"content"`
	UpdatedAt   int64  `json:"updated_at"`
	Protected   bool   `json:"protected"`
	ReadOnly    bool   `json:"readonly"`
	Limit       int    `json:"limit,omitempty"`
}

// Message is one conversation turn. Append-only in the durable store.
type Message struct {
	ID        string `json:"id"`
	Role      string `json:"role"` // "user" or "assistant"
	Content   string `json:"content"`
	CreatedAt int64  `json:"created_at"`
}

// RunStatus is the lifecycle state of a workflow run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// WorkflowRun is the persisted record of one workflow execution.
type WorkflowRun struct {
	ID           string          `json:"id"`
	AgentID      string          `json:"agent_id"`
	WorkflowName string          `json:"workflow_name"`
	Status       RunStatus       `json:"status"`
	State        json.RawMessage `json:"state,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    int64           `json:"started_at"`
	UpdatedAt    int64           `json:"updated_at"`
	CompletedAt  int64           `json:"completed_at,omitempty"` // 0 until terminal
}

// RunPatch is a partial update applied to a workflow run. Nil fields are
// left untouched; UpdatedAt is always bumped by the store.
type RunPatch struct {
	Status      *RunStatus
	State       json.RawMessage
	Error       *string
	CompletedAt *int64
}

// User is an authenticated tenant. Admin tokens are ephemeral (regenerated
// each process start) and compared in constant time.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Token     string `json:"-"`
	Role      string `json:"role"` // "user" or "admin"
	CreatedAt int64  `json:"created_at"`
}

const (
	RoleUser  = "user"
	RoleAdmin = "admin"
)

// Webhook is an inbound integration endpoint addressed by slug.
type Webhook struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Slug           string `json:"slug"` // unique, ^[a-z0-9][a-z0-9-]*$
	Secret         string `json:"-"`
	TargetUserID   string `json:"target_user_id,omitempty"`
	TargetWorkflow string `json:"target_workflow,omitempty"`
	Active         bool   `json:"active"`
	CreatedAt      int64  `json:"created_at"`
}

// WebhookEventStatus is the processing state of an ingested event.
type WebhookEventStatus string

const (
	WebhookEventReceived   WebhookEventStatus = "received"
	WebhookEventDispatched WebhookEventStatus = "dispatched"
	WebhookEventFailed     WebhookEventStatus = "failed"
)

// WebhookEvent is one ingested delivery. (WebhookID, ExternalID) is unique
// when ExternalID is present, giving idempotent ingestion.
type WebhookEvent struct {
	ID          string             `json:"id"`
	WebhookID   string             `json:"webhook_id"`
	ExternalID  string             `json:"external_id,omitempty"`
	Headers     string             `json:"headers"`
	Payload     string             `json:"payload"`
	Status      WebhookEventStatus `json:"status"`
	Error       string             `json:"error,omitempty"`
	ReceivedAt  int64              `json:"received_at"`
	ProcessedAt int64              `json:"processed_at,omitempty"`
}

// FileInfo describes one entry in an agent's virtual file tree.
type FileInfo struct {
	Name       string `json:"name"`
	Path       string `json:"path"`
	Dir        bool   `json:"dir"`
	Size       int64  `json:"size"`
	ModifiedAt int64  `json:"modified_at"`
}

// --- LLM protocol types ---

// ToolInvocation is one tool call requested by the model. ToolName selects
// the tool; the remaining fields are read per tool (see UserAgent.ExecuteTool).
type ToolInvocation struct {
	ToolName    string `json:"tool_name"`
	Label       string `json:"label,omitempty"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	OldContent  string `json:"old_content,omitempty"`
	NewContent  string `json:"new_content,omitempty"`
	Position    string `json:"position,omitempty"` // "beginning" or "end"
	Path        string `json:"path,omitempty"`
	Query       string `json:"query,omitempty"`
	Depth       string `json:"depth,omitempty"` // "standard" or "deep"
	URL         string `json:"url,omitempty"`
}

// AgentTurn is the model's decision for one loop step: a final message when
// Final is set, otherwise a batch of tool invocations.
type AgentTurn struct {
	Thinking string           `json:"thinking"`
	Final    bool             `json:"final"`
	Message  string           `json:"message,omitempty"`
	Tools    []ToolInvocation `json:"tools,omitempty"`
}

// TurnRequest is the input to a single model turn.
type TurnRequest struct {
	Query        string
	History      []Message
	Memory       string   // agent context: date/time, memory XML, file tree
	ToolResults  []string // accumulated tool result/error envelopes
	Instructions string
}

// ChunkSummary is the structured summary of one message chunk.
type ChunkSummary struct {
	Summary   string   `json:"summary"`
	KeyPoints []string `json:"key_points,omitempty"`
}
