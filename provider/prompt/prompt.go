// Package prompt holds the agent turn protocol and summarization prompts
// shared by the LLM provider adapters. Each adapter supplies its own output
// schema in whatever dialect its endpoint understands; the prose lives here
// so every provider speaks the same protocol.
package prompt

import (
	"fmt"
	"strings"

	"github.com/nevindra/yae"
)

// TurnProtocol tells the model how to drive the agent loop. The tool table
// must stay in sync with the dispatch in the root package.
const TurnProtocol = `You are operating in an agent loop. On each turn, respond with JSON:
- Set "final": true and "message" when you are ready to answer the user.
- Set "final": false and "tools" to invoke tools first. Results arrive as
  <tool_result> / <tool_error> blocks on the next turn.

Available tools (select with "tool_name"):
- memory_create: label, description, content
- memory_replace: label, old_content, new_content (old_content must match exactly)
- memory_insert: label, content, position ("beginning" or "end")
- memory_delete: label
- file_read: path
- file_write: path, content
- file_list: path
- file_delete: path
- web_search: query, depth ("standard" or "deep")
- web_fetch: url`

const SummarizeSystem = `Summarize the following conversation transcript.
Capture decisions, facts about the user, and open threads. Respond with JSON:
"summary" (a compact paragraph) and "key_points" (short bullet strings).`

const MergeSystem = `You maintain a rolling conversation summary. Fold the
new chunk summaries into the existing summary and return one replacement
summary as plain text. Keep durable facts and decisions; drop chit-chat.
Stay under 2000 characters.`

// TurnSystem assembles the system message for one agent turn: operator
// instructions, the agent context block, then the turn protocol.
func TurnSystem(req yae.TurnRequest) string {
	var sb strings.Builder
	if req.Instructions != "" {
		sb.WriteString(req.Instructions)
		sb.WriteString("\n\n")
	}
	if req.Memory != "" {
		sb.WriteString(req.Memory)
		sb.WriteString("\n\n")
	}
	sb.WriteString(TurnProtocol)
	return sb.String()
}

// Transcript renders messages as "role: content" lines for summarization.
func Transcript(msgs []yae.Message) string {
	var sb strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return sb.String()
}

// MergeInput renders the existing rolling summary and the new chunk
// summaries as the user message for a merge call.
func MergeInput(summaries []yae.ChunkSummary, existing string) string {
	var sb strings.Builder
	if existing != "" {
		sb.WriteString("Existing summary:\n")
		sb.WriteString(existing)
		sb.WriteString("\n\n")
	}
	sb.WriteString("New chunk summaries:\n")
	for i, s := range summaries {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, s.Summary)
		for _, kp := range s.KeyPoints {
			fmt.Fprintf(&sb, "   - %s\n", kp)
		}
	}
	return sb.String()
}
