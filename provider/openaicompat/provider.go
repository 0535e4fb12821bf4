package openaicompat

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

// Provider calls the chat completions endpoint and speaks the agent's JSON
// turn protocol via structured output (response_format json_schema).
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string
	logger  *slog.Logger

	temperature *float64
	topP        *float64
	maxTokens   int
}

var _ yae.Provider = (*Provider)(nil)

// New creates a provider. baseURL is the API base, e.g.
// "https://api.openai.com/v1" or "http://localhost:11434/v1"; the
// /chat/completions path is appended automatically.
func New(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
		name:    "openai",
		logger:  nopLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the configured provider name.
func (p *Provider) Name() string { return p.name }

// UserAgentTurn asks the model for the next loop step. The response is
// constrained to the AgentTurn schema, so a well-behaved endpoint always
// returns parseable JSON.
func (p *Provider) UserAgentTurn(ctx context.Context, req yae.TurnRequest) (yae.AgentTurn, error) {
	msgs := make([]chatMessage, 0, len(req.History)+len(req.ToolResults)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: prompt.TurnSystem(req)})
	for _, m := range req.History {
		msgs = append(msgs, chatMessage{Role: m.Role, Content: m.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: req.Query})
	for _, tr := range req.ToolResults {
		msgs = append(msgs, chatMessage{Role: "user", Content: tr})
	}

	content, err := p.chat(ctx, msgs, &responseFormat{
		Type:       "json_schema",
		JSONSchema: &jsonSchema{Name: "agent_turn", Schema: agentTurnSchema, Strict: true},
	})
	if err != nil {
		return yae.AgentTurn{}, err
	}

	var turn yae.AgentTurn
	if err := json.Unmarshal([]byte(content), &turn); err != nil {
		return yae.AgentTurn{}, &yae.ErrUpstream{
			Provider: p.name,
			Message:  fmt.Sprintf("malformed turn payload: %v", err),
		}
	}
	return turn, nil
}

// SummarizeChunk condenses one message chunk into a structured summary.
func (p *Provider) SummarizeChunk(ctx context.Context, msgs []yae.Message) (yae.ChunkSummary, error) {
	content, err := p.chat(ctx, []chatMessage{
		{Role: "system", Content: prompt.SummarizeSystem},
		{Role: "user", Content: prompt.Transcript(msgs)},
	}, &responseFormat{
		Type:       "json_schema",
		JSONSchema: &jsonSchema{Name: "chunk_summary", Schema: chunkSummarySchema, Strict: true},
	})
	if err != nil {
		return yae.ChunkSummary{}, err
	}

	var summary yae.ChunkSummary
	if err := json.Unmarshal([]byte(content), &summary); err != nil {
		return yae.ChunkSummary{}, &yae.ErrUpstream{
			Provider: p.name,
			Message:  fmt.Sprintf("malformed summary payload: %v", err),
		}
	}
	return summary, nil
}

// MergeSummaries folds chunk summaries and the existing rolling summary into
// one replacement summary, returned as plain text.
func (p *Provider) MergeSummaries(ctx context.Context, summaries []yae.ChunkSummary, existing string) (string, error) {
	content, err := p.chat(ctx, []chatMessage{
		{Role: "system", Content: prompt.MergeSystem},
		{Role: "user", Content: prompt.MergeInput(summaries, existing)},
	}, nil)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(content), nil
}

// chat posts one request and returns the first choice's content.
func (p *Provider) chat(ctx context.Context, msgs []chatMessage, format *responseFormat) (string, error) {
	start := time.Now()
	body := chatRequest{
		Model:          p.model,
		Messages:       msgs,
		Temperature:    p.temperature,
		TopP:           p.topP,
		MaxTokens:      p.maxTokens,
		ResponseFormat: format,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", &yae.ErrUpstream{Provider: p.name, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", p.httpErr(resp)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", &yae.ErrUpstream{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(chatResp.Choices) == 0 || chatResp.Choices[0].Message == nil {
		return "", &yae.ErrUpstream{Provider: p.name, Message: "empty response: no choices"}
	}
	msg := chatResp.Choices[0].Message
	if msg.Refusal != "" {
		return "", &yae.ErrUpstream{Provider: p.name, Message: "model refused: " + msg.Refusal}
	}

	p.logger.Debug("chat completion",
		"model", p.model,
		"duration", time.Since(start),
		"tokens", tokenCount(chatResp.Usage))
	return msg.Content, nil
}

func tokenCount(u *usage) int {
	if u == nil {
		return 0
	}
	return u.TotalTokens
}

// httpErr maps a non-200 response to ErrUpstream so the retry decorator can
// classify it. Retry-After is honored on 429/503.
func (p *Provider) httpErr(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &yae.ErrUpstream{
		Provider:   p.name,
		Status:     resp.StatusCode,
		Message:    strings.TrimSpace(string(body)),
		RetryAfter: yae.ParseRetryAfter(resp.Header.Get("Retry-After")),
	}
}
