package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new span with the given name and attributes
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartClientSpan creates a new client span (for outgoing backend calls)
func StartClientSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// SpanFromContext returns the current span from context
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanError marks the span as errored
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks the span as successful
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Common attribute keys for sellerd spans
var (
	AttrCacheKey         = attribute.Key("sellerd.cache.key")
	AttrOrderID          = attribute.Key("sellerd.order.id")
	AttrMutationKind     = attribute.Key("sellerd.mutation.kind")
	AttrRequestID        = attribute.Key("sellerd.request_id")
	AttrIdempotencyToken = attribute.Key("sellerd.idempotency_token")
	AttrErrorKind        = attribute.Key("sellerd.error.kind")
	AttrOptimistic       = attribute.Key("sellerd.optimistic")
	AttrEndpoint         = attribute.Key("sellerd.endpoint")
)
