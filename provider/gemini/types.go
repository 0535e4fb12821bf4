package gemini

import "encoding/json"

// Wire types for the generateContent endpoint.

type generateRequest struct {
	SystemInstruction *content          `json:"systemInstruction,omitempty"`
	Contents          []content         `json:"contents"`
	GenerationConfig  *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text    string `json:"text,omitempty"`
	Thought bool   `json:"thought,omitempty"`
}

type generationConfig struct {
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"topP,omitempty"`
	ResponseMimeType string          `json:"responseMimeType,omitempty"`
	ResponseSchema   json.RawMessage `json:"responseSchema,omitempty"`
}

type generateResponse struct {
	Candidates    []candidate    `json:"candidates"`
	UsageMetadata *usageMetadata `json:"usageMetadata"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason"`
}

type usageMetadata struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
	TotalTokenCount      int `json:"totalTokenCount"`
}

// Response schemas in Gemini's OpenAPI subset. Unlike the OpenAI dialect
// there is no additionalProperties, so the property set is advisory.

var agentTurnSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"thinking": {"type": "string"},
		"final": {"type": "boolean"},
		"message": {"type": "string"},
		"tools": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"tool_name": {"type": "string"},
					"label": {"type": "string"},
					"description": {"type": "string"},
					"content": {"type": "string"},
					"old_content": {"type": "string"},
					"new_content": {"type": "string"},
					"position": {"type": "string"},
					"path": {"type": "string"},
					"query": {"type": "string"},
					"depth": {"type": "string"},
					"url": {"type": "string"}
				},
				"required": ["tool_name"]
			}
		}
	},
	"required": ["thinking", "final"]
}`)

var chunkSummarySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"summary": {"type": "string"},
		"key_points": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["summary"]
}`)
