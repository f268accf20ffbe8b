package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanBridgeRequest = "bridge.request"
	SpanEventsLine    = "events.line"
)

// Attribute keys.
const (
	AttrSessionID  = "session.id"
	AttrBridgeOp   = "bridge.op"
	AttrRequestID  = "bridge.request.id"
	AttrEventType  = "event.type"
	AttrRemoteAddr = "net.peer.addr"
	AttrErrorCode  = "error.code"
)

// Fail marks span as failed with a protocol error code.
func Fail(span trace.Span, code string, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(attribute.String(AttrErrorCode, code))
}
