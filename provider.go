package yae

import "context"

// Provider is the language-model adapter consumed by the agent loop and the
// summarization workflow. Implementations live under provider/.
type Provider interface {
	Name() string

	// UserAgentTurn asks the model for the next loop step: either a final
	// message (Final set) or a batch of tool invocations.
	UserAgentTurn(ctx context.Context, req TurnRequest) (AgentTurn, error)

	// SummarizeChunk condenses one message chunk into a structured summary.
	SummarizeChunk(ctx context.Context, msgs []Message) (ChunkSummary, error)

	// MergeSummaries folds chunk summaries and the existing rolling summary
	// into a single replacement summary.
	MergeSummaries(ctx context.Context, summaries []ChunkSummary, existing string) (string, error)
}

// WebAdapter is the external search/fetch capability behind the web_search
// and web_fetch tools. Fetch callers must pass URLs through IsPublicURL
// first; implementations may re-check.
type WebAdapter interface {
	Search(ctx context.Context, query, depth string) (string, error)
	Fetch(ctx context.Context, rawURL string) (string, error)
}
