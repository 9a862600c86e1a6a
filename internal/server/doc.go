// Package server exposes homesheet over HTTP.
//
// # Key Components
//
// ServerContext holds the services every transport shares: the workflow
// engine, the Google device flow manager, the session store, and the
// metrics and audit hooks used by tool instrumentation.
//
// HTTPServer puts three surfaces on one chi router:
//   - the JSON API under /v1 (housing requests in the agent bridge shape,
//     device flow start/poll/status/revoke, session inspection and reset)
//   - Kubernetes probes on /healthz, /readyz and /healthz/detailed
//   - the streamable HTTP MCP endpoint on /mcp
//
// MetricsServer serves Prometheus metrics on a dedicated port.
//
// # User identity
//
// A request's user comes from the body's user_id, then the X-User-ID
// header, then a hash of the Bearer token. Requests with none of these
// share the "default" user, as a local single-user install does.
package server
