package observer

import (
	"context"
	"time"

	"github.com/nevindra/yae"

	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedProvider wraps a yae.Provider with OTEL instrumentation. Each call
// produces one span, a request-count increment, and a duration sample.
type ObservedProvider struct {
	inner yae.Provider
	inst  *Instruments
}

var _ yae.Provider = (*ObservedProvider)(nil)

// WrapProvider returns an instrumented provider that emits traces, metrics,
// and logs for every LLM call.
func WrapProvider(inner yae.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) UserAgentTurn(ctx context.Context, req yae.TurnRequest) (yae.AgentTurn, error) {
	ctx, span := o.start(ctx, "llm.user_agent_turn")
	defer span.End()

	start := time.Now()
	turn, err := o.inner.UserAgentTurn(ctx, req)
	o.record(ctx, span, "user_agent_turn", start, err)
	return turn, err
}

func (o *ObservedProvider) SummarizeChunk(ctx context.Context, msgs []yae.Message) (yae.ChunkSummary, error) {
	ctx, span := o.start(ctx, "llm.summarize_chunk")
	defer span.End()

	start := time.Now()
	summary, err := o.inner.SummarizeChunk(ctx, msgs)
	o.record(ctx, span, "summarize_chunk", start, err)
	return summary, err
}

func (o *ObservedProvider) MergeSummaries(ctx context.Context, summaries []yae.ChunkSummary, existing string) (string, error) {
	ctx, span := o.start(ctx, "llm.merge_summaries")
	defer span.End()

	start := time.Now()
	merged, err := o.inner.MergeSummaries(ctx, summaries, existing)
	o.record(ctx, span, "merge_summaries", start, err)
	return merged, err
}

func (o *ObservedProvider) start(ctx context.Context, name string) (context.Context, trace.Span) {
	return o.inst.Tracer.Start(ctx, name, trace.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
	))
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, method string, start time.Time, err error) {
	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
		AttrStatus.String(status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, metric.WithAttributes(
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
	))

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
