package instrumentation

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric attribute keys
const (
	attrMethod      = "method"
	attrPath        = "path"
	attrStatus      = "status"
	attrRequestType = "request_type"
	attrOutcome     = "outcome"
	attrTool        = "tool"
	attrResult      = "result"
)

// Metrics provides methods for recording observability metrics.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation in tests.
type Metrics struct {
	// HTTP metrics
	httpRequestsTotal   metric.Int64Counter
	httpRequestDuration metric.Float64Histogram
	activeSessions      metric.Int64UpDownCounter

	// Workflow metrics
	workflowRequestsTotal   metric.Int64Counter
	workflowRequestDuration metric.Float64Histogram
	loopIterations          metric.Int64Histogram

	// Tool metrics
	toolInvocationsTotal metric.Int64Counter
	toolDuration         metric.Float64Histogram

	// Auth metrics
	deviceFlowTotal   metric.Int64Counter
	tokenRefreshTotal metric.Int64Counter

	// Search metrics
	searchCacheTotal metric.Int64Counter

	// detailedLabels controls whether high-cardinality labels are included
	detailedLabels bool
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
func NewMetrics(meter metric.Meter, detailedLabels bool) (*Metrics, error) {
	m := &Metrics{
		detailedLabels: detailedLabels,
	}

	var err error

	m.httpRequestsTotal, err = meter.Int64Counter(
		"http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_requests_total counter: %w", err)
	}

	m.httpRequestDuration, err = meter.Float64Histogram(
		"http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.01, 0.1, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create http_request_duration_seconds histogram: %w", err)
	}

	m.activeSessions, err = meter.Int64UpDownCounter(
		"active_sessions",
		metric.WithDescription("Number of live user sessions"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create active_sessions gauge: %w", err)
	}

	m.workflowRequestsTotal, err = meter.Int64Counter(
		"workflow_requests_total",
		metric.WithDescription("Total number of housing requests by type and terminal state"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_requests_total counter: %w", err)
	}

	m.workflowRequestDuration, err = meter.Float64Histogram(
		"workflow_request_duration_seconds",
		metric.WithDescription("Housing request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_request_duration_seconds histogram: %w", err)
	}

	m.loopIterations, err = meter.Int64Histogram(
		"workflow_loop_iterations",
		metric.WithDescription("Reasoning loop iterations used per request"),
		metric.WithUnit("{iteration}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 4, 5, 6, 7, 8),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow_loop_iterations histogram: %w", err)
	}

	m.toolInvocationsTotal, err = meter.Int64Counter(
		"tool_invocations_total",
		metric.WithDescription("Total number of tool invocations"),
		metric.WithUnit("{invocation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_invocations_total counter: %w", err)
	}

	m.toolDuration, err = meter.Float64Histogram(
		"tool_duration_seconds",
		metric.WithDescription("Tool execution duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create tool_duration_seconds histogram: %w", err)
	}

	m.deviceFlowTotal, err = meter.Int64Counter(
		"oauth_device_flow_total",
		metric.WithDescription("Device authorization events by outcome"),
		metric.WithUnit("{event}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_device_flow_total counter: %w", err)
	}

	m.tokenRefreshTotal, err = meter.Int64Counter(
		"oauth_token_refresh_total",
		metric.WithDescription("Total number of OAuth token refresh attempts"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create oauth_token_refresh_total counter: %w", err)
	}

	m.searchCacheTotal, err = meter.Int64Counter(
		"search_cache_lookups_total",
		metric.WithDescription("Search cache lookups by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create search_cache_lookups_total counter: %w", err)
	}

	return m, nil
}

// RecordHTTPRequest records an HTTP request with method, path, status code, and duration.
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.httpRequestsTotal == nil || m.httpRequestDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrMethod, method),
		attribute.String(attrPath, path),
		attribute.String(attrStatus, strconv.Itoa(statusCode)),
	}

	m.httpRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.httpRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordWorkflowRequest records a finished housing request.
//
// Parameters:
//   - requestType: "search" or "followup"
//   - outcome: terminal state (DONE, FAILED, AUTH_REQUIRED)
//   - failureKind: error kind for FAILED requests; only attached when
//     detailed labels are enabled
func (m *Metrics) RecordWorkflowRequest(ctx context.Context, requestType, outcome, failureKind string, duration time.Duration) {
	if m == nil || m.workflowRequestsTotal == nil || m.workflowRequestDuration == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrRequestType, requestType),
		attribute.String(attrOutcome, outcome),
	}
	if m.detailedLabels && failureKind != "" {
		attrs = append(attrs, attribute.String("failure_kind", failureKind))
	}

	m.workflowRequestsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.workflowRequestDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordLoopIterations records how many reasoning iterations a request used.
func (m *Metrics) RecordLoopIterations(ctx context.Context, iterations int) {
	if m == nil || m.loopIterations == nil {
		return
	}
	m.loopIterations.Record(ctx, int64(iterations))
}

// RecordToolInvocation records a tool invocation with tool name, status, and duration.
func (m *Metrics) RecordToolInvocation(ctx context.Context, toolName, status string, duration time.Duration) {
	if m == nil || m.toolInvocationsTotal == nil || m.toolDuration == nil {
		return // Instrumentation not initialized
	}

	attrs := []attribute.KeyValue{
		attribute.String(attrTool, toolName),
		attribute.String(attrStatus, status),
	}

	m.toolInvocationsTotal.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.toolDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(attrs...))
}

// RecordDeviceFlow records a device authorization event.
// Outcome is issued, resumed, pending, authenticated, expired, denied or error.
func (m *Metrics) RecordDeviceFlow(ctx context.Context, outcome string) {
	if m == nil || m.deviceFlowTotal == nil {
		return
	}
	m.deviceFlowTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrOutcome, outcome)))
}

// RecordTokenRefresh records an OAuth token refresh attempt with result.
// Result should be one of: "success", "revoked", "error"
func (m *Metrics) RecordTokenRefresh(ctx context.Context, result string) {
	if m == nil || m.tokenRefreshTotal == nil {
		return
	}
	m.tokenRefreshTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// RecordSearchCache records a search cache lookup ("hit", "miss" or "error").
func (m *Metrics) RecordSearchCache(ctx context.Context, result string) {
	if m == nil || m.searchCacheTotal == nil {
		return
	}
	m.searchCacheTotal.Add(ctx, 1, metric.WithAttributes(attribute.String(attrResult, result)))
}

// IncrementActiveSessions increments the active sessions counter.
func (m *Metrics) IncrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, 1)
}

// DecrementActiveSessions decrements the active sessions counter.
func (m *Metrics) DecrementActiveSessions(ctx context.Context) {
	if m == nil || m.activeSessions == nil {
		return
	}
	m.activeSessions.Add(ctx, -1)
}
