package instrumentation

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/teemow/homesheet/internal/logging"
)

// TracerName is the default tracer name for the homesheet packages.
const TracerName = "github.com/teemow/homesheet"

// Span attribute keys.
const (
	SpanAttrTool        = "homesheet.tool"
	SpanAttrUserHash    = "homesheet.user_hash"
	SpanAttrRequestType = "homesheet.request_type"
	SpanAttrState       = "homesheet.state"
	SpanAttrIteration   = "homesheet.iteration"
	SpanAttrResults     = "homesheet.num_results"

	// SpanAttrService is the Google service name attribute.
	SpanAttrService = "google.service"

	// SpanAttrOperation is the operation type attribute.
	SpanAttrOperation = "google.operation"
)

// SpanAttributeBuilder helps construct OpenTelemetry span attributes
// with consistent naming.
type SpanAttributeBuilder struct {
	attrs []attribute.KeyValue
}

// NewSpanAttributeBuilder creates a new SpanAttributeBuilder.
func NewSpanAttributeBuilder() *SpanAttributeBuilder {
	return &SpanAttributeBuilder{
		attrs: make([]attribute.KeyValue, 0, 6),
	}
}

// WithTool adds the tool name attribute.
func (b *SpanAttributeBuilder) WithTool(tool string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrTool, tool))
	return b
}

// WithUser adds the hashed user identity. Empty ids are skipped.
func (b *SpanAttributeBuilder) WithUser(userID string) *SpanAttributeBuilder {
	if userID != "" {
		b.attrs = append(b.attrs, attribute.String(SpanAttrUserHash, logging.AnonymizeUser(userID)))
	}
	return b
}

// WithRequestType adds the request type ("search" or "followup").
func (b *SpanAttributeBuilder) WithRequestType(requestType string) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.String(SpanAttrRequestType, requestType))
	return b
}

// WithIteration adds the loop iteration.
func (b *SpanAttributeBuilder) WithIteration(iteration int) *SpanAttributeBuilder {
	b.attrs = append(b.attrs, attribute.Int(SpanAttrIteration, iteration))
	return b
}

// Build returns the constructed attributes.
func (b *SpanAttributeBuilder) Build() []attribute.KeyValue {
	return b.attrs
}

// StartSpan starts a new span with the given name and attributes.
// The caller is responsible for ending the span with defer span.End().
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, name, trace.SpanKindInternal, attrs)
}

// StartWorkflowSpan starts the root span of a housing request.
func StartWorkflowSpan(ctx context.Context, requestType string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, "workflow."+requestType, trace.SpanKindServer,
		append([]attribute.KeyValue{attribute.String(SpanAttrRequestType, requestType)}, attrs...))
}

// StartToolSpan starts a span for a tool invocation.
func StartToolSpan(ctx context.Context, toolName string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, "tool."+toolName, trace.SpanKindInternal,
		append([]attribute.KeyValue{attribute.String(SpanAttrTool, toolName)}, attrs...))
}

// StartGoogleAPISpan starts a client span for a Sheets or Drive call.
func StartGoogleAPISpan(ctx context.Context, service, operation string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return startSpan(ctx, "google."+service+"."+operation, trace.SpanKindClient,
		append([]attribute.KeyValue{
			attribute.String(SpanAttrService, service),
			attribute.String(SpanAttrOperation, operation),
		}, attrs...))
}

func startSpan(ctx context.Context, name string, kind trace.SpanKind, attrs []attribute.KeyValue) (context.Context, trace.Span) {
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name,
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(kind),
	)
}

// SetSpanOutcome records the terminal state of a request and how many
// listings it produced.
func SetSpanOutcome(span trace.Span, state string, numResults int) {
	span.SetAttributes(
		attribute.String(SpanAttrState, state),
		attribute.Int(SpanAttrResults, numResults),
	)
}

// SetSpanError records an error on the span and sets the status to error.
func SetSpanError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
}

// SetSpanSuccess sets the span status to OK.
func SetSpanSuccess(span trace.Span) {
	span.SetStatus(codes.Ok, "")
}

// GetTraceID returns the trace ID from the current span in context.
// Returns empty string if no valid span is present.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}
