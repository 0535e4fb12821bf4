package yae

import (
	"context"
	"fmt"
)

// SummaryData is the workflow-local state of the summarization pipeline.
type SummaryData struct {
	Messages       []Message      `json:"messages,omitempty"`
	Existing       string         `json:"existing,omitempty"`
	Chunks         [][]Message    `json:"chunks,omitempty"`
	ChunkSummaries []ChunkSummary `json:"chunk_summaries,omitempty"`
	Merged         string         `json:"merged,omitempty"`
	PrunedCount    int            `json:"pruned_count"`
	Skipped        bool           `json:"skipped"`
}

const actionSkip Action = "skip"

// SummarizationWorkflow builds the conversation summarizer: collect the
// overflow messages and the current rolling summary, chunk them, summarize
// the chunks in parallel, merge with the existing summary, then commit the
// merged text to the summary memory block and prune half the message cache.
func SummarizationWorkflow(provider Provider) *Workflow[SummaryData] {
	type state = AgentState[SummaryData]

	return DefineWorkflow("summarize-conversation", SummaryData{}, func() Chainable[state] {
		collect := NewNode("collect", NodeConfig[state, any, any]{
			Post: func(ctx context.Context, s *state, _, _ any) (Action, error) {
				msgs, err := s.Messages.MessagesForSummarization(ctx)
				if err != nil {
					return "", err
				}
				if len(msgs) == 0 {
					s.Data.Skipped = true
					return actionSkip, nil
				}
				s.Data.Messages = msgs
				if block, ok := s.Memory.Get(SummaryBlockLabel); ok {
					s.Data.Existing = block.Content
				}
				return DefaultAction, nil
			},
		})

		skip := NewNode("skip", NodeConfig[state, any, any]{})

		chunk := NewNode("chunk", NodeConfig[state, []Message, [][]Message]{
			Prep: func(ctx context.Context, s *state) ([]Message, error) {
				return s.Data.Messages, nil
			},
			Exec: func(ctx context.Context, msgs []Message) ([][]Message, error) {
				return ChunkMessages(msgs, SummaryChunkSize), nil
			},
			Post: func(ctx context.Context, s *state, _ []Message, chunks [][]Message) (Action, error) {
				s.Data.Chunks = chunks
				return DefaultAction, nil
			},
		})

		summarizeChunks := NewParallel("summarize-chunks", ParallelConfig[state, []Message, ChunkSummary]{
			Prep: func(ctx context.Context, s *state) ([][]Message, error) {
				return s.Data.Chunks, nil
			},
			Exec: func(ctx context.Context, msgs []Message) (ChunkSummary, error) {
				return provider.SummarizeChunk(ctx, msgs)
			},
			Post: func(ctx context.Context, s *state, _ [][]Message, summaries []ChunkSummary) (Action, error) {
				s.Data.ChunkSummaries = summaries
				return DefaultAction, nil
			},
		}, WithTimeout(LLMTimeout))

		merge := NewNode("merge", NodeConfig[state, SummaryData, string]{
			Prep: func(ctx context.Context, s *state) (SummaryData, error) {
				return s.Data, nil
			},
			Exec: func(ctx context.Context, d SummaryData) (string, error) {
				merged, err := provider.MergeSummaries(ctx, d.ChunkSummaries, d.Existing)
				if err != nil {
					return "", fmt.Errorf("merge summaries: %w", err)
				}
				return merged, nil
			},
			Post: func(ctx context.Context, s *state, _ SummaryData, merged string) (Action, error) {
				s.Data.Merged = merged
				return DefaultAction, nil
			},
		}, WithTimeout(LLMTimeout))

		store := NewNode("store", NodeConfig[state, any, any]{
			Post: func(ctx context.Context, s *state, _, _ any) (Action, error) {
				if err := s.Memory.SetContent(ctx, SummaryBlockLabel, s.Data.Merged); err != nil {
					return "", err
				}
				s.Data.PrunedCount = s.Messages.Prune(MaxConversationHistory / 2)
				return DefaultAction, nil
			},
		})

		return NewBranch(collect, map[Action][]*Node[state]{
			actionSkip:    {skip},
			DefaultAction: {chunk, summarizeChunks, merge, store},
		})
	})
}

// ChunkMessages splits msgs into chunks of size, keeping user/assistant
// pairs together: when a chunk ends on a user message and the next message
// is the assistant reply, the reply joins the same chunk (yielding size+1).
func ChunkMessages(msgs []Message, size int) [][]Message {
	if len(msgs) == 0 {
		return nil
	}
	if size < 1 {
		size = 1
	}
	var chunks [][]Message
	var current []Message
	for i := 0; i < len(msgs); i++ {
		current = append(current, msgs[i])
		if len(current) >= size {
			if msgs[i].Role == "user" && i+1 < len(msgs) && msgs[i+1].Role == "assistant" {
				i++
				current = append(current, msgs[i])
			}
			chunks = append(chunks, current)
			current = nil
		}
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
