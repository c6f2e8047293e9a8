package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/stackspotai/stackspot-go/llm"

// Tracer 为每次 completion 调用包装一个 OpenTelemetry span。
type Tracer struct {
	tracer oteltrace.Tracer
}

// NewTracer 创建追踪器, 使用全局 TracerProvider。
func NewTracer() *Tracer {
	return &Tracer{tracer: otel.Tracer(instrumentationName)}
}

// StartCompletion 开启 llm.completion span。
func (t *Tracer) StartCompletion(ctx context.Context, provider, model, traceID string) (context.Context, oteltrace.Span) {
	return t.tracer.Start(ctx, "llm.completion",
		oteltrace.WithAttributes(
			attribute.String("llm.provider", provider),
			attribute.String("llm.model", model),
			attribute.String("llm.trace_id", traceID),
		))
}

// EndCompletion 结束 span 并记录终态属性。
func (t *Tracer) EndCompletion(span oteltrace.Span, promptTokens, completionTokens int, err error) {
	defer span.End()

	span.SetAttributes(
		attribute.Int("llm.tokens.prompt", promptTokens),
		attribute.Int("llm.tokens.completion", completionTokens),
	)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return
	}
	span.SetStatus(codes.Ok, "")
}
