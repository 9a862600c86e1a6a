package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// MCPEndpoint is the path of the streamable HTTP MCP endpoint.
const MCPEndpoint = "/mcp"

// HTTPServerConfig configures an HTTPServer.
type HTTPServerConfig struct {
	Addr string
	// DisableStreaming turns off SSE streaming on the MCP endpoint for
	// clients that cannot handle it.
	DisableStreaming bool
	Logger           *slog.Logger
}

// HTTPServer serves the JSON API, the health endpoints and, when an MCP
// server is given, the streamable HTTP MCP endpoint on one listener.
type HTTPServer struct {
	config  HTTPServerConfig
	handler http.Handler
	health  *HealthChecker

	mu         sync.Mutex
	httpServer *http.Server
	listener   net.Listener
	closed     bool
}

// NewHTTPServer wires the router. mcpSrv may be nil.
func NewHTTPServer(sc *ServerContext, mcpSrv *mcpserver.MCPServer, config HTTPServerConfig) *HTTPServer {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	health := NewHealthChecker(sc)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(instrument(sc, config.Logger))

	health.RegisterHealthEndpoints(r)
	NewAPI(sc, config.Logger).RegisterRoutes(r)

	if mcpSrv != nil {
		streamable := mcpserver.NewStreamableHTTPServer(mcpSrv,
			mcpserver.WithEndpointPath(MCPEndpoint),
			mcpserver.WithHTTPContextFunc(UserContextFunc),
			mcpserver.WithDisableStreaming(config.DisableStreaming),
		)
		r.Handle(MCPEndpoint, streamable)
	}

	return &HTTPServer{
		config:  config,
		handler: r,
		health:  health,
	}
}

// Handler returns the root handler, for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.handler
}

// Health returns the health checker so callers can add dependency checks.
func (s *HTTPServer) Health() *HealthChecker {
	return s.health
}

// Start listens on the configured address and serves until Shutdown.
func (s *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = ln.Close()
		return nil
	}
	s.listener = ln
	// No WriteTimeout: a request may run the whole reasoning loop and MCP
	// responses may stream.
	s.httpServer = &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown marks the server not ready and drains in-flight requests.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	s.mu.Lock()
	s.closed = true
	srv := s.httpServer
	s.mu.Unlock()
	if srv != nil {
		return srv.Shutdown(ctx)
	}
	return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *HTTPServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.config.Addr
}
