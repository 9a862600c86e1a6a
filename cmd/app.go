package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/giantswarm/mcp-oauth/storage/memory"
	"github.com/redis/go-redis/v9"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/breaker"
	"github.com/teemow/homesheet/internal/config"
	"github.com/teemow/homesheet/internal/events"
	"github.com/teemow/homesheet/internal/google"
	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/logging"
	"github.com/teemow/homesheet/internal/reasoning/anthropic"
	"github.com/teemow/homesheet/internal/reasoning/rules"
	"github.com/teemow/homesheet/internal/search"
	"github.com/teemow/homesheet/internal/server"
	"github.com/teemow/homesheet/internal/session"
	"github.com/teemow/homesheet/internal/sheets"
	"github.com/teemow/homesheet/internal/store"
	"github.com/teemow/homesheet/internal/workflow"
)

// app is the wired service graph shared by serve and the CLI harness.
type app struct {
	config   *config.Config
	logger   *slog.Logger
	metrics  *instrumentation.Metrics
	sessions *session.Store
	auth     *auth.Manager
	engine   *workflow.Engine

	// checks are readiness probes for external dependencies.
	checks  map[string]server.CheckFunc
	closers []func() error
}

// newApp builds every component from cfg. metrics may be nil.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *instrumentation.Metrics) (_ *app, err error) {
	a := &app{
		config:  cfg,
		logger:  logger,
		metrics: metrics,
		checks:  make(map[string]server.CheckFunc),
	}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	authManager, err := a.buildAuth()
	if err != nil {
		return nil, err
	}
	a.auth = authManager

	searcher, err := a.buildSearch(ctx)
	if err != nil {
		return nil, err
	}

	reasoner, err := a.buildReasoner()
	if err != nil {
		return nil, err
	}

	publisher, err := a.buildPublisher()
	if err != nil {
		return nil, err
	}

	sheetsBreaker := breaker.DefaultConfig("sheets")
	writer := sheets.NewWriter(sheets.Config{
		ShareEmail: cfg.Google.SheetShareEmail,
		Breaker:    sheetsBreaker,
	}, sheets.WithLogger(logging.WithComponent(logger, "sheets")))

	a.sessions = session.NewStore(cfg.SessionStore(),
		session.WithMetrics(metrics),
		session.WithLogger(logging.WithComponent(logger, "session")))

	a.engine = workflow.NewEngine(reasoner, searcher, writer, authManager, a.sessions, cfg.Engine(),
		workflow.WithPublisher(publisher),
		workflow.WithMetrics(metrics),
		workflow.WithLogger(logging.WithComponent(logger, "workflow")))

	return a, nil
}

func (a *app) buildAuth() (*auth.Manager, error) {
	cfg := a.config
	logger := logging.WithComponent(a.logger, "auth")

	key, err := cfg.EncryptionKey()
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	enc, err := store.NewTokenEncryption(key)
	if err != nil {
		return nil, fmt.Errorf("failed to set up token encryption: %w", err)
	}
	if !enc.Enabled() {
		logger.Warn("credential encryption at rest is disabled; set AUTH_ENCRYPTION_KEY to enable it")
	}

	var tokens store.TokenStore
	switch cfg.Auth.TokenBackend {
	case config.TokenBackendMemory:
		backend := memory.New()
		a.closers = append(a.closers, func() error {
			backend.Stop()
			return nil
		})
		tokens = store.NewOAuthLibraryTokenStore(backend)
	default:
		tokens = store.NewFileTokenStore(cfg.Google.TokenStoreFile, enc)
	}
	flows := store.NewFileDeviceFlowStore(cfg.Google.DeviceStoreFile, enc)

	var provider auth.Provider
	creds, err := google.LoadClientCredentials(cfg.Google.OAuthClientJSON, cfg.Google.OAuthClientFile)
	switch {
	case errors.Is(err, google.ErrClientNotConfigured):
		logger.Warn("google oauth client is not configured; sheet creation will be unavailable")
		provider = google.Unconfigured{}
	case err != nil:
		return nil, fmt.Errorf("failed to load google oauth client: %w", err)
	default:
		provider = google.NewDeviceFlow(google.OAuthConfig(creds, google.DefaultOAuthScopes))
	}

	return auth.NewManager(provider, tokens, flows, cfg.AuthManager(),
		auth.WithMetrics(a.metrics),
		auth.WithLogger(logger)), nil
}

func (a *app) buildSearch(ctx context.Context) (*search.Service, error) {
	cfg := a.config
	logger := logging.WithComponent(a.logger, "search")

	var source search.Source
	switch cfg.Search.Source {
	case config.SourceElasticsearch:
		es, err := search.NewElasticsearchSource(search.ElasticsearchConfig{
			Addresses: cfg.Elasticsearch.Addresses,
			Index:     cfg.Elasticsearch.Index,
			Username:  cfg.Elasticsearch.Username,
			Password:  cfg.Elasticsearch.Password,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create elasticsearch source: %w", err)
		}
		a.checks["elasticsearch"] = es.Ping
		source = es
	default:
		fs, err := search.NewFileSource(cfg.Search.FixtureFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load listings fixture: %w", err)
		}
		source = fs
	}

	opts := []search.Option{
		search.WithMetrics(a.metrics),
		search.WithLogger(logger),
	}
	if cfg.Redis.Addr != "" {
		client, err := search.NewRedisClient(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, client.Close)
		a.checks["redis"] = redisCheck(client)
		opts = append(opts, search.WithCache(search.NewRedisCache(client, cfg.Search.CacheTTL)))
	}

	return search.NewService(source, cfg.SearchService(), opts...), nil
}

func redisCheck(client *redis.Client) server.CheckFunc {
	return func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}
}

func (a *app) buildReasoner() (workflow.Reasoner, error) {
	cfg := a.config
	if cfg.Reasoner.Backend != config.ReasonerAnthropic {
		return rules.New(), nil
	}
	r, err := anthropic.New(anthropic.Config{
		APIKey:               cfg.Anthropic.APIKey,
		BaseURL:              cfg.Anthropic.BaseURL,
		ParseModel:           cfg.Anthropic.ParseModel,
		LoopModel:            cfg.Anthropic.LoopModel,
		MaxTokens:            cfg.Anthropic.MaxTokens,
		RetryMaxTries:        cfg.Workflow.ToolMaxTries,
		RetryInitialInterval: cfg.Workflow.RetryInitialInterval,
	}, logging.WithComponent(a.logger, "reasoner"))
	if err != nil {
		return nil, fmt.Errorf("failed to create anthropic reasoner: %w", err)
	}
	return r, nil
}

func (a *app) buildPublisher() (events.Publisher, error) {
	cfg := a.config
	if len(cfg.Kafka.Brokers) == 0 {
		return events.Nop{}, nil
	}
	p, err := events.NewKafkaPublisher(cfg.Events(), logging.WithComponent(a.logger, "events"))
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	a.closers = append(a.closers, p.Close)
	return p, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() error {
	if a.sessions != nil {
		a.sessions.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
