package yae

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// DefaultMemoryBlocks is the ordered seed installed when an agent's memory
// backend is empty.
var DefaultMemoryBlocks = []MemoryBlock{
	{
		Label:       "persona",
		Description: "The agent's own persona: tone, style, and standing guidance.",
		Content:     "I am a helpful assistant with persistent memory.",
		Protected:   true,
		Limit:       2000,
	},
	{
		Label:       "human",
		Description: "Durable facts about the user: preferences, context, goals.",
		Protected:   true,
		Limit:       2000,
	},
	{
		Label:       SummaryBlockLabel,
		Description: "Rolling summary of conversation history that no longer fits the recent window.",
		Protected:   true,
	},
}

// UserAgent bundles one user's stores and capabilities: memory blocks,
// message history, a virtual file tree, the workflow run repository, the
// model provider, and the web adapter. One agent must not be driven by two
// concurrent loops; the server enforces at most one in-flight loop per user.
type UserAgent struct {
	ID     string
	UserID string

	Memory   *MemoryStore
	Messages *MessageStore
	Files    FileStore
	Runs     WorkflowRunStore

	provider Provider
	web      WebAdapter
	pool     *WorkerPool
	logger   *slog.Logger
	tracer   Tracer
	closer   io.Closer
}

// AgentConfig wires a UserAgent. Memory, Messages, Files, Runs, and Provider
// are required.
type AgentConfig struct {
	UserID   string
	Memory   *MemoryStore
	Messages *MessageStore
	Files    FileStore
	Runs     WorkflowRunStore
	Provider Provider
	Web      WebAdapter
	Pool     *WorkerPool
	Logger   *slog.Logger
	Tracer   Tracer
	// Closer, when set, is closed by Close (typically the agent's datastore).
	Closer io.Closer
	// SeedBlocks overrides DefaultMemoryBlocks for first-run seeding.
	SeedBlocks []MemoryBlock
}

// NewUserAgent builds an agent, loads its caches, and seeds memory on first
// run.
func NewUserAgent(ctx context.Context, cfg AgentConfig) (*UserAgent, error) {
	switch {
	case cfg.Memory == nil, cfg.Messages == nil, cfg.Files == nil, cfg.Runs == nil, cfg.Provider == nil:
		return nil, fmt.Errorf("agent requires Memory, Messages, Files, Runs, and Provider")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger
	}
	seed := cfg.SeedBlocks
	if seed == nil {
		seed = DefaultMemoryBlocks
	}
	if err := cfg.Memory.Seed(ctx, seed); err != nil {
		return nil, fmt.Errorf("seed memory: %w", err)
	}
	if err := cfg.Messages.Load(ctx, MaxConversationHistory); err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	return &UserAgent{
		ID:       NewID(),
		UserID:   cfg.UserID,
		Memory:   cfg.Memory,
		Messages: cfg.Messages,
		Files:    cfg.Files,
		Runs:     cfg.Runs,
		provider: cfg.Provider,
		web:      cfg.Web,
		pool:     cfg.Pool,
		logger:   logger,
		tracer:   cfg.Tracer,
		closer:   cfg.Closer,
	}, nil
}

// Close releases the agent's datastore handle.
func (a *UserAgent) Close() error {
	if a.closer != nil {
		return a.closer.Close()
	}
	return nil
}

// BuildContext renders the agent's standing context for a model turn:
// current date/time, the memory XML, and the file tree XML. Deterministic
// apart from the clock.
func (a *UserAgent) BuildContext(ctx context.Context) string {
	tree, err := a.Files.FileTree(ctx, "/")
	if err != nil {
		a.logger.Warn("file tree unavailable", "agent", a.UserID, "error", err)
		tree = "<files/>"
	}
	return fmt.Sprintf("<metadata>\n<current_time>%s</current_time>\n</metadata>\n\n%s\n\n%s",
		time.Now().UTC().Format("2006-01-02 15:04:05 MST"),
		a.Memory.ToXML(),
		tree)
}

// ExecuteTool dispatches one tool invocation. Every call is bookended by the
// audit triple: ToolPending before dispatch, then ToolSuccess or ToolFailure.
func (a *UserAgent) ExecuteTool(ctx context.Context, tool ToolInvocation) (string, error) {
	auditID, err := a.Files.ToolPending(ctx, tool.ToolName, tool)
	if err != nil {
		a.logger.Warn("tool audit unavailable", "tool", tool.ToolName, "error", err)
	}

	result, execErr := a.dispatchTool(ctx, tool)

	if auditID != "" {
		if execErr != nil {
			if err := a.Files.ToolFailure(ctx, auditID, execErr.Error()); err != nil {
				a.logger.Warn("tool audit write failed", "tool", tool.ToolName, "error", err)
			}
		} else {
			if err := a.Files.ToolSuccess(ctx, auditID, result); err != nil {
				a.logger.Warn("tool audit write failed", "tool", tool.ToolName, "error", err)
			}
		}
	}
	return result, execErr
}

func (a *UserAgent) dispatchTool(ctx context.Context, tool ToolInvocation) (string, error) {
	switch tool.ToolName {
	case "memory_replace":
		return a.Memory.ToolReplaceMemory(ctx, tool.Label, tool.OldContent, tool.NewContent)
	case "memory_insert":
		return a.Memory.ToolInsertMemory(ctx, tool.Label, tool.Content, tool.Position)
	case "memory_create":
		return a.Memory.ToolCreateMemory(ctx, tool.Label, tool.Description, tool.Content, DefaultMemoryBlockLimit)
	case "memory_delete":
		return a.Memory.ToolDeleteMemory(ctx, tool.Label)
	case "file_read":
		return a.Files.ReadFile(ctx, tool.Path)
	case "file_write":
		if err := a.Files.WriteFile(ctx, tool.Path, tool.Content); err != nil {
			return "", err
		}
		return fmt.Sprintf("File %q written.", tool.Path), nil
	case "file_list":
		return a.Files.FileTree(ctx, tool.Path)
	case "file_delete":
		if err := a.Files.Unlink(ctx, tool.Path); err != nil {
			return "", err
		}
		return fmt.Sprintf("File %q deleted.", tool.Path), nil
	case "web_search":
		if a.web == nil {
			return "", &ErrUpstream{Provider: "web", Message: "web adapter not configured"}
		}
		return a.web.Search(ctx, tool.Query, tool.Depth)
	case "web_fetch":
		if a.web == nil {
			return "", &ErrUpstream{Provider: "web", Message: "web adapter not configured"}
		}
		if !IsPublicURL(tool.URL) {
			return "", &ErrUnauthorized{Reason: fmt.Sprintf("blocked non-public URL: %s", tool.URL)}
		}
		return a.web.Fetch(ctx, tool.URL)
	default:
		return "", &ErrValidation{Msg: fmt.Sprintf("Unknown tool: %s", tool.ToolName)}
	}
}
