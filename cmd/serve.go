package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/teemow/homesheet/internal/config"
	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/logging"
	"github.com/teemow/homesheet/internal/server"
	"github.com/teemow/homesheet/internal/tools/housing_tools"
)

const (
	transportStdio          = "stdio"
	transportStreamableHTTP = "streamable-http"
)

// serveOptions holds the serve flags. Flags override the environment only
// when set explicitly.
type serveOptions struct {
	transport        string
	httpAddr         string
	disableStreaming bool
	readOnly         bool
	debugMode        bool
	metricsEnabled   bool
	metricsAddr      string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and MCP server",
		Long: `Start homesheet as a server.

Transports:
  - streamable-http: JSON API under /v1, MCP over streamable HTTP at /mcp,
    health endpoints at /healthz and /readyz (default)
  - stdio: MCP over standard input/output for local AI assistants

Configuration is read from the environment and an optional .env file in the
working directory. Flags override the corresponding environment variables.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			applyServeFlags(cmd, cfg, opts)
			return runServe(cmd.Context(), cfg, opts)
		},
	}

	bindServeFlags(cmd, &opts)
	return cmd
}

func bindServeFlags(cmd *cobra.Command, opts *serveOptions) {
	cmd.Flags().StringVar(&opts.transport, "transport", transportStreamableHTTP, "Transport type: stdio or streamable-http")
	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", ":8080", "HTTP server address (env: HTTP_ADDR)")
	cmd.Flags().BoolVar(&opts.disableStreaming, "disable-streaming", false, "Disable SSE streaming on the MCP endpoint")
	cmd.Flags().BoolVar(&opts.readOnly, "read-only", false, "Do not register tools that delete stored credentials")
	cmd.Flags().BoolVar(&opts.debugMode, "debug", false, "Enable debug logging (same as --log-level=debug)")
	cmd.Flags().BoolVar(&opts.metricsEnabled, "metrics-enabled", true, "Serve Prometheus metrics (env: METRICS_ENABLED)")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", ":9090", "Metrics server address (env: METRICS_ADDR)")
}

func applyServeFlags(cmd *cobra.Command, cfg *config.Config, opts serveOptions) {
	flags := cmd.Flags()
	if flags.Changed("http-addr") {
		cfg.HTTP.Addr = opts.httpAddr
	}
	if flags.Changed("metrics-enabled") {
		cfg.Metrics.Enabled = opts.metricsEnabled
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Addr = opts.metricsAddr
	}
	if opts.debugMode {
		cfg.LogLevel = "debug"
	}
}

func runServe(parent context.Context, cfg *config.Config, opts serveOptions) error {
	if opts.transport != transportStdio && opts.transport != transportStreamableHTTP {
		return fmt.Errorf("unsupported transport type: %s (supported: stdio, streamable-http)", opts.transport)
	}
	if parent == nil {
		parent = context.Background()
	}

	// Setup graceful shutdown
	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger := newLogger(cfg)

	instrConfig := cfg.Instrumentation
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig, instrumentation.WithProviderLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	var metrics *instrumentation.Metrics
	if provider.Enabled() {
		metrics = provider.Metrics()
	}

	a, err := newApp(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to release resources", logging.Err(err))
		}
	}()
	a.sessions.Start()

	serverContext := server.NewServerContext(ctx, a.engine, a.auth, a.sessions)
	if provider.Enabled() {
		serverContext.SetMetrics(metrics)
		serverContext.SetAuditLogger(instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging))
	}
	defer func() {
		if err := serverContext.Shutdown(); err != nil {
			logger.Error("server context shutdown failed", logging.Err(err))
		}
	}()

	// Note: mcp.Implementation has Title field but WithTitle() ServerOption not available in v0.43.0
	mcpSrv := mcpserver.NewMCPServer("homesheet", version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithRecovery(),
	)
	if err := housing_tools.RegisterHousingTools(mcpSrv, serverContext, opts.readOnly); err != nil {
		return fmt.Errorf("failed to register housing tools: %w", err)
	}

	switch opts.transport {
	case transportStdio:
		return runStdioServer(mcpSrv)
	default:
		logger.Info("starting homesheet",
			"transport", opts.transport,
			"addr", cfg.HTTP.Addr,
			"search_source", cfg.Search.Source,
			"reasoner", cfg.Reasoner.Backend,
			"read_only", opts.readOnly)
		return runHTTPServers(ctx, cfg, opts, serverContext, mcpSrv, provider, a.checks, logger)
	}
}

func runStdioServer(mcpSrv *mcpserver.MCPServer) error {
	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := mcpserver.ServeStdio(mcpSrv); err != nil {
			serverDone <- err
		}
	}()

	err := <-serverDone
	if err != nil {
		return fmt.Errorf("server stopped with error: %w", err)
	}
	return nil
}

// runHTTPServers runs the API server and, when enabled, the metrics server
// until ctx is cancelled or one of them fails.
func runHTTPServers(ctx context.Context, cfg *config.Config, opts serveOptions, sc *server.ServerContext, mcpSrv *mcpserver.MCPServer, provider *instrumentation.Provider, checks map[string]server.CheckFunc, logger *slog.Logger) error {
	httpServer := server.NewHTTPServer(sc, mcpSrv, server.HTTPServerConfig{
		Addr:             cfg.HTTP.Addr,
		DisableStreaming: opts.disableStreaming,
		Logger:           logger,
	})
	for name, check := range checks {
		httpServer.Health().AddCheck(name, check)
	}

	var metricsServer *server.MetricsServer
	if cfg.Metrics.Enabled && provider.Enabled() && provider.PrometheusHandler() != nil {
		var err error
		metricsServer, err = server.NewMetricsServer(server.MetricsServerConfig{
			Addr:                    cfg.Metrics.Addr,
			Enabled:                 true,
			InstrumentationProvider: provider,
		})
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("HTTP server stopped with error: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.Start(); err != nil {
				return fmt.Errorf("metrics server stopped with error: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down HTTP servers")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("error shutting down HTTP server: %w", err))
		}
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("error shutting down metrics server: %w", err))
			}
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("HTTP servers gracefully stopped")
	return nil
}
