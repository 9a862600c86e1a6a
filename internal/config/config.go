// Package config loads homesheet's runtime configuration from the
// environment.
//
// Every setting has an environment variable; a .env file in the working
// directory is read first when present. Cobra flags on the serve command
// override individual values after Load returns.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"

	"github.com/teemow/homesheet/internal/auth"
	"github.com/teemow/homesheet/internal/breaker"
	"github.com/teemow/homesheet/internal/events"
	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/search"
	"github.com/teemow/homesheet/internal/session"
	"github.com/teemow/homesheet/internal/store"
	"github.com/teemow/homesheet/internal/validation"
	"github.com/teemow/homesheet/internal/workflow"
)

// Search source backends.
const (
	SourceFile          = "file"
	SourceElasticsearch = "elasticsearch"
)

// Reasoner backends.
const (
	ReasonerRules     = "rules"
	ReasonerAnthropic = "anthropic"
)

// Token store backends.
const (
	TokenBackendFile   = "file"
	TokenBackendMemory = "memory"
)

// Config is the complete runtime configuration.
type Config struct {
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info" validate:"oneof=debug info warn error"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"text" validate:"oneof=text json"`

	HTTP            HTTPConfig    `envPrefix:"HTTP_"`
	Metrics         MetricsConfig `envPrefix:"METRICS_"`
	Instrumentation instrumentation.Config
	Session         SessionConfig   `envPrefix:"SESSION_"`
	Workflow        WorkflowConfig  `envPrefix:"WORKFLOW_"`
	Search          SearchConfig    `envPrefix:"SEARCH_"`
	Elasticsearch   ESConfig        `envPrefix:"ELASTICSEARCH_"`
	Redis           RedisConfig     `envPrefix:"REDIS_"`
	Google          GoogleConfig    `envPrefix:"GOOGLE_"`
	Auth            AuthConfig      `envPrefix:"AUTH_"`
	Reasoner        ReasonerConfig  `envPrefix:"REASONER_"`
	Anthropic       AnthropicConfig `envPrefix:"ANTHROPIC_"`
	Kafka           KafkaConfig     `envPrefix:"KAFKA_"`
}

// HTTPConfig configures the API and MCP listener.
type HTTPConfig struct {
	Addr string `env:"ADDR" envDefault:":8080" validate:"required"`
	// BaseURL is the externally visible URL, used in log output only.
	BaseURL string `env:"BASE_URL" validate:"omitempty,url"`
	// ShutdownTimeout bounds graceful shutdown of the listeners.
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`
}

// MetricsConfig configures the dedicated metrics listener.
type MetricsConfig struct {
	Enabled bool   `env:"ENABLED" envDefault:"true"`
	Addr    string `env:"ADDR" envDefault:":9090"`
}

// SessionConfig configures the session store.
type SessionConfig struct {
	TTL             time.Duration `env:"TTL" envDefault:"30m" validate:"gt=0"`
	CleanupInterval time.Duration `env:"CLEANUP_INTERVAL" envDefault:"5m" validate:"gt=0"`
	ConflictPolicy  string        `env:"CONFLICT_POLICY" envDefault:"reject" validate:"oneof=reject wait"`
}

// WorkflowConfig bounds the reasoning loop and tool execution.
type WorkflowConfig struct {
	MaxIterations        int           `env:"MAX_ITERATIONS" envDefault:"8" validate:"min=1,max=50"`
	ReasonerTimeout      time.Duration `env:"REASONER_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	ToolTimeout          time.Duration `env:"TOOL_TIMEOUT" envDefault:"60s" validate:"gt=0"`
	ToolMaxTries         uint          `env:"TOOL_MAX_TRIES" envDefault:"3" validate:"min=1"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"5s"`
}

// SearchConfig configures the listing search service.
type SearchConfig struct {
	Source string `env:"SOURCE" envDefault:"file" validate:"oneof=file elasticsearch"`
	// FixtureFile is the listings file read by the file source.
	FixtureFile string        `env:"FIXTURE_FILE" envDefault:"listings.json"`
	Cooldown    time.Duration `env:"COOLDOWN" envDefault:"8s"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"30s" validate:"gt=0"`
	Limit       int           `env:"LIMIT" envDefault:"20" validate:"min=1,max=100"`
	CacheTTL    time.Duration `env:"CACHE_TTL" envDefault:"10m"`
}

// ESConfig locates the listings index.
type ESConfig struct {
	Addresses []string `env:"ADDRESSES" envSeparator:","`
	Index     string   `env:"INDEX" envDefault:"listings"`
	Username  string   `env:"USERNAME"`
	Password  string   `env:"PASSWORD"`
}

// RedisConfig enables the search result cache when Addr is set.
type RedisConfig struct {
	Addr     string `env:"ADDR" validate:"omitempty,hostname_port"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" validate:"min=0"`
}

// GoogleConfig holds the OAuth client and sheet sharing settings.
type GoogleConfig struct {
	// OAuthClientJSON is an inline client secrets document; it wins over
	// OAuthClientFile.
	OAuthClientJSON string `env:"OAUTH_CLIENT_JSON"`
	OAuthClientFile string `env:"OAUTH_CLIENT_FILE"`
	SheetShareEmail string `env:"SHEET_SHARE_EMAIL" validate:"omitempty,email"`
	// TokenStoreFile and DeviceStoreFile back the file token backend.
	TokenStoreFile  string `env:"OAUTH_TOKEN_STORE_FILE" envDefault:"google_user_tokens.json"`
	DeviceStoreFile string `env:"OAUTH_DEVICE_STORE_FILE" envDefault:"google_device_flows.json"`
}

// AuthConfig tunes the device flow manager and credential storage.
type AuthConfig struct {
	TokenBackend string `env:"TOKEN_BACKEND" envDefault:"file" validate:"oneof=file memory"`
	// EncryptionKey is a base64 AES-256 key for credentials at rest.
	EncryptionKey        string        `env:"ENCRYPTION_KEY"`
	RetryMaxTries        uint          `env:"RETRY_MAX_TRIES" envDefault:"3" validate:"min=1"`
	RetryInitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	RetryMaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"5s"`
}

// ReasonerConfig selects the reasoning backend.
type ReasonerConfig struct {
	Backend string `env:"BACKEND" envDefault:"rules" validate:"oneof=rules anthropic"`
}

// AnthropicConfig configures the Messages API reasoner.
type AnthropicConfig struct {
	APIKey     string `env:"API_KEY"`
	BaseURL    string `env:"BASE_URL" validate:"omitempty,url"`
	ParseModel string `env:"PARSE_MODEL"`
	LoopModel  string `env:"LOOP_MODEL"`
	MaxTokens  int    `env:"MAX_TOKENS" envDefault:"2048" validate:"min=1"`
}

// KafkaConfig enables completed-request events when Brokers is set.
type KafkaConfig struct {
	Brokers []string `env:"BROKERS" envSeparator:","`
	Topic   string   `env:"TOPIC" envDefault:"homesheet.requests"`
}

// Load reads .env (when present) and the environment into a validated
// Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return Parse()
}

// Parse reads the process environment into a validated Config without
// touching .env files.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the settings that depend on each
// other.
func (c *Config) Validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.Instrumentation.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	verr := &validation.Error{}
	if c.Search.Source == SourceElasticsearch && len(c.Elasticsearch.Addresses) == 0 {
		verr.Add("ELASTICSEARCH_ADDRESSES", "is required when SEARCH_SOURCE is elasticsearch")
	}
	if c.Reasoner.Backend == ReasonerAnthropic && c.Anthropic.APIKey == "" {
		verr.Add("ANTHROPIC_API_KEY", "is required when REASONER_BACKEND is anthropic")
	}
	if c.Auth.EncryptionKey != "" {
		if _, err := store.EncryptionKeyFromBase64(c.Auth.EncryptionKey); err != nil {
			verr.Add("AUTH_ENCRYPTION_KEY", err.Error())
		}
	}
	if c.Workflow.RetryMaxInterval < c.Workflow.RetryInitialInterval {
		verr.Add("WORKFLOW_RETRY_MAX_INTERVAL", "must not be shorter than WORKFLOW_RETRY_INITIAL_INTERVAL")
	}
	if err := verr.OrNil(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// EncryptionKey returns the decoded credential encryption key, or nil when
// encryption at rest is disabled.
func (c *Config) EncryptionKey() ([]byte, error) {
	if c.Auth.EncryptionKey == "" {
		return nil, nil
	}
	return store.EncryptionKeyFromBase64(c.Auth.EncryptionKey)
}

// SessionStore converts the session settings.
func (c *Config) SessionStore() session.Config {
	return session.Config{
		TTL:             c.Session.TTL,
		CleanupInterval: c.Session.CleanupInterval,
		Policy:          session.ConflictPolicy(c.Session.ConflictPolicy),
	}
}

// Engine converts the workflow settings.
func (c *Config) Engine() workflow.Config {
	return workflow.Config{
		MaxIterations:        c.Workflow.MaxIterations,
		ReasonerTimeout:      c.Workflow.ReasonerTimeout,
		ToolTimeout:          c.Workflow.ToolTimeout,
		ToolMaxTries:         c.Workflow.ToolMaxTries,
		RetryInitialInterval: c.Workflow.RetryInitialInterval,
		RetryMaxInterval:     c.Workflow.RetryMaxInterval,
	}
}

// SearchService converts the search settings.
func (c *Config) SearchService() search.Config {
	return search.Config{
		Cooldown: c.Search.Cooldown,
		Timeout:  c.Search.Timeout,
		Limit:    c.Search.Limit,
		Breaker:  breaker.DefaultConfig("search"),
	}
}

// AuthManager converts the device flow settings.
func (c *Config) AuthManager() auth.Config {
	cfg := auth.DefaultConfig()
	cfg.RetryMaxTries = c.Auth.RetryMaxTries
	cfg.RetryInitialInterval = c.Auth.RetryInitialInterval
	cfg.RetryMaxInterval = c.Auth.RetryMaxInterval
	return cfg
}

// Events converts the Kafka settings.
func (c *Config) Events() events.KafkaConfig {
	return events.KafkaConfig{
		Brokers: c.Kafka.Brokers,
		Topic:   c.Kafka.Topic,
	}
}
