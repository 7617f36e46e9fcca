package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StartSpan creates a new internal span with the given name and attributes.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

// StartServerSpan creates a new server span, for an inbound Request call.
func StartServerSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return Tracer().Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindServer),
	)
}

// SpanFromContext returns the current span from ctx.
func SpanFromContext(ctx context.Context) trace.Span {
	return trace.SpanFromContext(ctx)
}

// SetSpanError marks span as errored.
func SetSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK marks span as successful.
func SetSpanOK(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// Attribute keys attached to transaction and dispatch spans.
var (
	AttrSchematic     = attribute.Key("flowhost.schematic")
	AttrTransactionID = attribute.Key("flowhost.transaction_id")
	AttrInstanceRef   = attribute.Key("flowhost.instance_ref")
	AttrProvider      = attribute.Key("flowhost.provider")
	AttrOperation     = attribute.Key("flowhost.operation")
	AttrDurationMs    = attribute.Key("flowhost.duration_ms")
	AttrPacketsIn     = attribute.Key("flowhost.packets_in")
	AttrPacketsOut    = attribute.Key("flowhost.packets_out")
	AttrDispatches    = attribute.Key("flowhost.dispatches")
)
