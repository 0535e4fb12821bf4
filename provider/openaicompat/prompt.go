package openaicompat

import (
	"context"
	"encoding/json"
	"log/slog"
)

var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// agentTurnSchema constrains the model's turn output to the JSON the loop
// parses: thinking text plus either a final message or a tool batch.
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
				"required": ["tool_name"],
				"additionalProperties": false
			}
		}
	},
	"required": ["thinking", "final"],
	"additionalProperties": false
}`)

var chunkSummarySchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"summary": {"type": "string"},
		"key_points": {"type": "array", "items": {"type": "string"}}
	},
	"required": ["summary"],
	"additionalProperties": false
}`)
