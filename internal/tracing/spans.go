package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys.
const (
	AttrFlowName    = "beatshim.flow.name"
	AttrInterceptor = "beatshim.interceptor.name"
	AttrOutcome     = "beatshim.outcome"
	AttrPayloadSize = "beatshim.payload.size"
	AttrErrorType   = "error.type"
)

// Span names.
const (
	SpanEventReceived = "beatshim.event.receive"
	SpanIntercept     = "beatshim.intercept"
	SpanDeliver       = "beatshim.deliver"
)

// StartSpan starts a new span with the given name and options.
// If tracer is nil, the span already in ctx is returned.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// SetSpanError records an error on the span and sets the status to Error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to Ok.
func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// SetSpanOKWithMessage sets the span status to Ok with a description.
func SetSpanOKWithMessage(span trace.Span, message string) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, message)
}

// FlowAttr returns an attribute for the flow name.
func FlowAttr(name string) attribute.KeyValue {
	return attribute.String(AttrFlowName, name)
}

// InterceptorAttr returns an attribute for the interceptor name.
func InterceptorAttr(name string) attribute.KeyValue {
	return attribute.String(AttrInterceptor, name)
}

// OutcomeAttr returns an attribute for an event outcome.
func OutcomeAttr(outcome string) attribute.KeyValue {
	return attribute.String(AttrOutcome, outcome)
}

// PayloadSizeAttr returns an attribute for the payload length in bytes.
func PayloadSizeAttr(n int) attribute.KeyValue {
	return attribute.Int(AttrPayloadSize, n)
}

// ErrorTypeAttr returns an attribute for the error type.
func ErrorTypeAttr(errType string) attribute.KeyValue {
	return attribute.String(AttrErrorType, errType)
}

// IsTraced returns true if there is a valid recording span in the context.
func IsTraced(ctx context.Context) bool {
	span := trace.SpanFromContext(ctx)
	return span.SpanContext().IsValid() && span.IsRecording()
}
