package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys for tc spans.
var (
	AttrTaskID      = attribute.Key("tc.task.id")
	AttrDependsOn   = attribute.Key("tc.task.depends_on")
	AttrAgent       = attribute.Key("tc.agent")
	AttrTargetAgent = attribute.Key("tc.agent.target")
	AttrOutcome     = attribute.Key("tc.outcome")
	AttrCommand     = attribute.Key("tc.command")
)

// StartSpan is a convenience wrapper that starts an internal span with common attributes.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartCommandSpan starts the root span for one CLI invocation.
func StartCommandSpan(ctx context.Context, tracer trace.Tracer, command string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "tc "+command,
		trace.WithAttributes(AttrCommand.String(command)),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}
