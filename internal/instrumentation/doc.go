// Package instrumentation provides OpenTelemetry instrumentation for the
// homesheet service.
//
// # Metrics
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of live user sessions
//
// Workflow Metrics:
//   - workflow_requests_total: Counter of housing requests by type and terminal state
//   - workflow_request_duration_seconds: Histogram of housing request durations
//   - workflow_loop_iterations: Histogram of reasoning iterations per request
//
// Tool Metrics:
//   - tool_invocations_total: Counter of tool invocations by tool name and status
//   - tool_duration_seconds: Histogram of tool execution durations
//
// Authorization Metrics:
//   - oauth_device_flow_total: Counter of device authorization events by outcome
//   - oauth_token_refresh_total: Counter of token refresh attempts by result
//
// Search Metrics:
//   - search_cache_lookups_total: Counter of search cache lookups by result
//
// Circuit breaker state gauges are registered on the default Prometheus
// registry by the breaker package and served by the same handler.
//
// # Tracing
//
// Spans are created for:
//   - housing requests (workflow.<type>)
//   - tool invocations (tool.<name>)
//   - Google API calls (google.<service>.<operation>)
//
// # Configuration
//
// Config carries env tags and is filled by the config package:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: homesheet)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.DefaultConfig())
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	recorder := provider.Metrics()
//	recorder.RecordWorkflowRequest(ctx, "search", "DONE", "", time.Since(start))
package instrumentation
