// Package gemini implements the agent Provider against the Google Gemini
// generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/yae"
	"github.com/nevindra/yae/provider/prompt"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider speaks the agent turn protocol via Gemini's structured output
// (generationConfig.responseSchema).
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	logger  *slog.Logger

	temperature *float64
	topP        *float64
}

var _ yae.Provider = (*Provider)(nil)

// New creates a Gemini provider for the given model, e.g. "gemini-2.0-flash".
func New(apiKey, model string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: defaultBaseURL,
		client:  &http.Client{},
		logger:  nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns "gemini".
func (p *Provider) Name() string { return "gemini" }

// UserAgentTurn asks the model for the next loop step.
func (p *Provider) UserAgentTurn(ctx context.Context, req yae.TurnRequest) (yae.AgentTurn, error) {
	contents := make([]content, 0, len(req.History)+len(req.ToolResults)+1)
	for _, m := range req.History {
		contents = append(contents, content{Role: geminiRole(m.Role), Parts: []part{{Text: m.Content}}})
	}
	contents = append(contents, content{Role: "user", Parts: []part{{Text: req.Query}}})
	for _, tr := range req.ToolResults {
		contents = append(contents, content{Role: "user", Parts: []part{{Text: tr}}})
	}

	raw, err := p.generate(ctx, prompt.TurnSystem(req), contents, agentTurnSchema)
	if err != nil {
		return yae.AgentTurn{}, err
	}

	var turn yae.AgentTurn
	if err := json.Unmarshal([]byte(raw), &turn); err != nil {
		return yae.AgentTurn{}, &yae.ErrUpstream{
			Provider: "gemini",
			Message:  fmt.Sprintf("malformed turn payload: %v", err),
		}
	}
	return turn, nil
}

// SummarizeChunk condenses one message chunk into a structured summary.
func (p *Provider) SummarizeChunk(ctx context.Context, msgs []yae.Message) (yae.ChunkSummary, error) {
	raw, err := p.generate(ctx, prompt.SummarizeSystem,
		[]content{{Role: "user", Parts: []part{{Text: prompt.Transcript(msgs)}}}},
		chunkSummarySchema)
	if err != nil {
		return yae.ChunkSummary{}, err
	}

	var summary yae.ChunkSummary
	if err := json.Unmarshal([]byte(raw), &summary); err != nil {
		return yae.ChunkSummary{}, &yae.ErrUpstream{
			Provider: "gemini",
			Message:  fmt.Sprintf("malformed summary payload: %v", err),
		}
	}
	return summary, nil
}

// MergeSummaries folds chunk summaries into one replacement summary.
func (p *Provider) MergeSummaries(ctx context.Context, summaries []yae.ChunkSummary, existing string) (string, error) {
	raw, err := p.generate(ctx, prompt.MergeSystem,
		[]content{{Role: "user", Parts: []part{{Text: prompt.MergeInput(summaries, existing)}}}},
		nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(raw), nil
}

// geminiRole maps chat roles onto Gemini's user/model vocabulary.
func geminiRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return "user"
}

// generate performs one generateContent call and returns the concatenated
// text parts of the first candidate.
func (p *Provider) generate(ctx context.Context, system string, contents []content, schema json.RawMessage) (string, error) {
	start := time.Now()
	body := generateRequest{
		SystemInstruction: &content{Parts: []part{{Text: system}}},
		Contents:          contents,
		GenerationConfig: &generationConfig{
			Temperature: p.temperature,
			TopP:        p.topP,
		},
	}
	if schema != nil {
		body.GenerationConfig.ResponseMimeType = "application/json"
		body.GenerationConfig.ResponseSchema = schema
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, p.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", &yae.ErrUpstream{Provider: "gemini", Message: err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &yae.ErrUpstream{Provider: "gemini", Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", p.httpErr(resp, respBody)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", &yae.ErrUpstream{Provider: "gemini", Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(parsed.Candidates) == 0 {
		return "", &yae.ErrUpstream{Provider: "gemini", Message: "empty response: no candidates"}
	}

	var sb strings.Builder
	for _, pt := range parsed.Candidates[0].Content.Parts {
		// Thought parts are reasoning traces, not output.
		if pt.Thought {
			continue
		}
		sb.WriteString(pt.Text)
	}

	p.logger.Debug("generate content",
		"model", p.model,
		"duration", time.Since(start),
		"tokens", tokenCount(parsed.UsageMetadata))
	return sb.String(), nil
}

func tokenCount(u *usageMetadata) int {
	if u == nil {
		return 0
	}
	return u.TotalTokenCount
}

// httpErr maps a non-2xx response to ErrUpstream. The retry delay comes from
// the Retry-After header when present, else from the google.rpc.RetryInfo
// detail Gemini embeds in the error body.
func (p *Provider) httpErr(resp *http.Response, body []byte) error {
	ra := yae.ParseRetryAfter(resp.Header.Get("Retry-After"))
	if ra == 0 {
		ra = parseRetryInfo(body)
	}
	return &yae.ErrUpstream{
		Provider:   "gemini",
		Status:     resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: ra,
	}
}

// parseRetryInfo extracts the retryDelay from an error body carrying a
// google.rpc.RetryInfo detail. Returns 0 if not found or unparseable.
func parseRetryInfo(body []byte) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
	}
	return 0
}
