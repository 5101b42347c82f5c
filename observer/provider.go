package observer

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	superagent "github.com/superagent-core/superagent"
)

// ObservedProvider wraps a Provider with OTEL instrumentation. Cost comes
// from the response, which the router computes from model pricing.
type ObservedProvider struct {
	inner superagent.Provider
	inst  *Instruments
}

var _ superagent.Provider = (*ObservedProvider)(nil)

// WrapProvider returns an instrumented provider that emits traces, metrics,
// and logs around every call.
func WrapProvider(inner superagent.Provider, inst *Instruments) *ObservedProvider {
	return &ObservedProvider{inner: inner, inst: inst}
}

func (o *ObservedProvider) Name() string { return o.inner.Name() }

func (o *ObservedProvider) CountTokens(model, text string) (int, error) {
	return o.inner.CountTokens(model, text)
}

func (o *ObservedProvider) ModelInfo(model string) (superagent.ModelInfo, bool) {
	return o.inner.ModelInfo(model)
}

func (o *ObservedProvider) Generate(ctx context.Context, req superagent.LLMRequest) (superagent.LLMResponse, error) {
	spanAttrs := []trace.SpanStartOption{
		trace.WithAttributes(
			AttrLLMModel.String(req.Model),
			AttrLLMProvider.String(o.inner.Name()),
		),
	}
	spanName := "llm.generate"
	method := "generate"
	if len(req.Tools) > 0 {
		toolNames := make([]string, len(req.Tools))
		for i, t := range req.Tools {
			toolNames[i] = t.Name
		}
		spanAttrs = append(spanAttrs, trace.WithAttributes(
			AttrToolCount.Int(len(req.Tools)),
			AttrToolNames.StringSlice(toolNames),
		))
		spanName = "llm.generate_with_tools"
		method = "generate_with_tools"
	}

	ctx, span := o.inst.Tracer.Start(ctx, spanName, spanAttrs...)
	defer span.End()
	start := time.Now()

	resp, err := o.inner.Generate(ctx, req)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	o.record(ctx, span, req.Model, method, status, durationMs, resp)
	return resp, err
}

// Stream wraps the inner stream. The wrapper forwards through its own
// channel so it can count chunks; like any provider it never closes the
// caller's channel.
func (o *ObservedProvider) Stream(ctx context.Context, req superagent.LLMRequest, ch chan<- superagent.LLMStreamChunk) (superagent.LLMResponse, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "llm.stream", trace.WithAttributes(
		AttrLLMModel.String(req.Model),
		AttrLLMProvider.String(o.inner.Name()),
	))
	defer span.End()
	start := time.Now()

	// Buffer the inner channel generously so the provider never blocks on
	// send while the forwarder waits on the caller.
	inner := make(chan superagent.LLMStreamChunk, 64)
	chunks := 0
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range inner {
			chunks++
			select {
			case ch <- chunk:
			case <-ctx.Done():
				return
			}
		}
	}()

	resp, err := o.inner.Stream(ctx, req, inner)
	close(inner)
	<-done

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(AttrStreamChunks.Int(chunks))
	o.record(ctx, span, req.Model, "stream", status, durationMs, resp)
	return resp, err
}

func (o *ObservedProvider) record(ctx context.Context, span trace.Span, model, method, status string, durationMs float64, resp superagent.LLMResponse) {
	attrs := metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
	)

	span.SetAttributes(
		AttrTokensInput.Int(resp.Usage.PromptTokens),
		AttrTokensOutput.Int(resp.Usage.CompletionTokens),
		AttrCostUSD.Float64(resp.Cost),
	)

	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.PromptTokens), metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "input"),
	))
	o.inst.TokenUsage.Add(ctx, int64(resp.Usage.CompletionTokens), metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		attribute.String("direction", "output"),
	))
	o.inst.CostTotal.Add(ctx, resp.Cost, attrs)
	o.inst.LLMRequests.Add(ctx, 1, metric.WithAttributes(
		AttrLLMModel.String(model),
		AttrLLMProvider.String(o.inner.Name()),
		AttrLLMMethod.String(method),
		attribute.String("status", status),
	))
	o.inst.LLMDuration.Record(ctx, durationMs, attrs)

	var rec otellog.Record
	rec.SetSeverity(otellog.SeverityInfo)
	rec.SetBody(otellog.StringValue("llm call completed"))
	rec.AddAttributes(
		otellog.String("llm.model", model),
		otellog.String("llm.provider", o.inner.Name()),
		otellog.String("llm.method", method),
		otellog.Int("llm.tokens.input", resp.Usage.PromptTokens),
		otellog.Int("llm.tokens.output", resp.Usage.CompletionTokens),
		otellog.Float64("llm.cost_usd", resp.Cost),
		otellog.Float64("llm.duration_ms", durationMs),
		otellog.String("status", status),
	)
	o.inst.Logger.Emit(ctx, rec)
}
