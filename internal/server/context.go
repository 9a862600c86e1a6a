package server

import (
	"context"
	"sync"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/session"
	"github.com/teemow/homesheet/internal/workflow"
)

// RequestHandler runs housing requests. *workflow.Engine implements it.
type RequestHandler interface {
	Handle(ctx context.Context, req workflow.Request) workflow.Response
}

// AuthService is the device flow surface exposed to clients.
// *auth.Manager implements it.
type AuthService interface {
	StartOrResume(ctx context.Context, userID string) (auth.Prompt, error)
	Poll(ctx context.Context, userID string) (auth.PollResult, error)
	Status(ctx context.Context, userID string) (auth.State, error)
	Revoke(ctx context.Context, userID string) error
}

// ServerContext holds the services shared by the HTTP API and the MCP tools.
type ServerContext struct {
	ctx         context.Context
	cancel      context.CancelFunc
	handler     RequestHandler
	auth        AuthService
	sessions    *session.Store
	metrics     *instrumentation.Metrics
	auditLogger *instrumentation.AuditLogger
	mu          sync.RWMutex
	shutdown    bool
}

// NewServerContext creates a new server context
func NewServerContext(ctx context.Context, handler RequestHandler, authService AuthService, sessions *session.Store) *ServerContext {
	shutdownCtx, cancel := context.WithCancel(ctx)
	return &ServerContext{
		ctx:      shutdownCtx,
		cancel:   cancel,
		handler:  handler,
		auth:     authService,
		sessions: sessions,
	}
}

// Context returns the server context
func (sc *ServerContext) Context() context.Context {
	return sc.ctx
}

// Handler returns the request handler.
func (sc *ServerContext) Handler() RequestHandler {
	return sc.handler
}

// Auth returns the device flow service.
func (sc *ServerContext) Auth() AuthService {
	return sc.auth
}

// Sessions returns the session store. It may be nil in tests.
func (sc *ServerContext) Sessions() *session.Store {
	return sc.sessions
}

// SetMetrics sets the metrics recorder used by tool and HTTP instrumentation.
func (sc *ServerContext) SetMetrics(m *instrumentation.Metrics) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.metrics = m
}

// Metrics returns the metrics recorder, or nil.
func (sc *ServerContext) Metrics() *instrumentation.Metrics {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.metrics
}

// SetAuditLogger sets the audit logger for MCP tool invocations.
func (sc *ServerContext) SetAuditLogger(a *instrumentation.AuditLogger) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.auditLogger = a
}

// AuditLogger returns the audit logger, or nil.
func (sc *ServerContext) AuditLogger() *instrumentation.AuditLogger {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.auditLogger
}

// IsShutdown returns whether the server has been shutdown
func (sc *ServerContext) IsShutdown() bool {
	sc.mu.RLock()
	defer sc.mu.RUnlock()
	return sc.shutdown
}

// Shutdown shuts down the server context
func (sc *ServerContext) Shutdown() error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	if sc.shutdown {
		return nil
	}

	sc.shutdown = true
	sc.cancel()
	return nil
}
