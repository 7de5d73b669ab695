package shipper

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerOrDefault returns t, or the global tracer for the partner when t is nil.
func TracerOrDefault(t trace.Tracer, partner string) trace.Tracer {
	if t != nil {
		return t
	}
	return otel.Tracer("github.com/tournevent/shipbroker/pkg/shipper/" + partner)
}

// StartSpan opens a client span for one partner call.
func StartSpan(ctx context.Context, t trace.Tracer, partner, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs,
		attribute.String("shipper.partner", partner),
		attribute.String("shipper.op", op),
	)
	return t.Start(ctx, partner+"."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

// EndSpan records err on the span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
