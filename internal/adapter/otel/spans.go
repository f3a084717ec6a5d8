package otel

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "tenantforge"

// StartOperationSpan starts a span for a lifecycle operation.
func StartOperationSpan(ctx context.Context, op, username, backend string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "tenant."+op,
		trace.WithAttributes(
			attribute.String("tenant.username", username),
			attribute.String("tenant.backend", backend),
		),
	)
}

// StartBackendSpan starts a span for a single backend driver call.
func StartBackendSpan(ctx context.Context, verb, workload string) (context.Context, trace.Span) {
	return otel.Tracer(tracerName).Start(ctx, "backend."+verb,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("backend.workload", workload)),
	)
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
