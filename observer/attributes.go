package observer

import "go.opentelemetry.io/otel/attribute"

// Attribute keys shared across spans, metrics, and logs.
var (
	AttrLLMProvider = attribute.Key("llm.provider")
	AttrLLMMethod   = attribute.Key("llm.method")
	AttrToolName    = attribute.Key("tool.name")
	AttrAgentID     = attribute.Key("agent.id")
	AttrWorkflow    = attribute.Key("workflow.name")
	AttrWebhookSlug = attribute.Key("webhook.slug")
	AttrStatus      = attribute.Key("status")
)
