package config

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/homesheet/internal/session"
)

func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, ":9090", cfg.Metrics.Addr)
	assert.Equal(t, 30*time.Minute, cfg.Session.TTL)
	assert.Equal(t, "reject", cfg.Session.ConflictPolicy)
	assert.Equal(t, 8, cfg.Workflow.MaxIterations)
	assert.Equal(t, uint(3), cfg.Workflow.ToolMaxTries)
	assert.Equal(t, SourceFile, cfg.Search.Source)
	assert.Equal(t, 8*time.Second, cfg.Search.Cooldown)
	assert.Equal(t, 20, cfg.Search.Limit)
	assert.Equal(t, "google_user_tokens.json", cfg.Google.TokenStoreFile)
	assert.Equal(t, "google_device_flows.json", cfg.Google.DeviceStoreFile)
	assert.Equal(t, ReasonerRules, cfg.Reasoner.Backend)
	assert.Equal(t, "homesheet.requests", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "homesheet", cfg.Instrumentation.ServiceName)
}

func TestParse_Overrides(t *testing.T) {
	setEnvs(t, map[string]string{
		"SESSION_CONFLICT_POLICY":  "wait",
		"WORKFLOW_MAX_ITERATIONS":  "4",
		"SEARCH_SOURCE":            "elasticsearch",
		"ELASTICSEARCH_ADDRESSES":  "http://es-1:9200,http://es-2:9200",
		"REDIS_ADDR":               "localhost:6379",
		"GOOGLE_SHEET_SHARE_EMAIL": "agent@example.com",
		"KAFKA_BROKERS":            "kafka-1:9092,kafka-2:9092",
		"REASONER_BACKEND":         "anthropic",
		"ANTHROPIC_API_KEY":        "sk-test",
		"AUDIT_LOGGING_ENABLED":    "false",
	})

	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, session.PolicyWait, cfg.SessionStore().Policy)
	assert.Equal(t, 4, cfg.Engine().MaxIterations)
	assert.Equal(t, []string{"http://es-1:9200", "http://es-2:9200"}, cfg.Elasticsearch.Addresses)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "agent@example.com", cfg.Google.SheetShareEmail)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Events().Brokers)
	assert.Equal(t, "sk-test", cfg.Anthropic.APIKey)
	assert.False(t, cfg.Instrumentation.AuditLogging.Enabled)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		envs    map[string]string
		wantErr string
	}{
		{
			name:    "unknown conflict policy",
			envs:    map[string]string{"SESSION_CONFLICT_POLICY": "queue"},
			wantErr: "CONFLICT_POLICY",
		},
		{
			name:    "zero iterations",
			envs:    map[string]string{"WORKFLOW_MAX_ITERATIONS": "0"},
			wantErr: "MAX_ITERATIONS",
		},
		{
			name:    "elasticsearch without addresses",
			envs:    map[string]string{"SEARCH_SOURCE": "elasticsearch"},
			wantErr: "ELASTICSEARCH_ADDRESSES",
		},
		{
			name:    "anthropic without key",
			envs:    map[string]string{"REASONER_BACKEND": "anthropic"},
			wantErr: "ANTHROPIC_API_KEY",
		},
		{
			name:    "bad share email",
			envs:    map[string]string{"GOOGLE_SHEET_SHARE_EMAIL": "not-an-email"},
			wantErr: "SHEET_SHARE_EMAIL",
		},
		{
			name:    "short encryption key",
			envs:    map[string]string{"AUTH_ENCRYPTION_KEY": base64.StdEncoding.EncodeToString([]byte("short"))},
			wantErr: "32 bytes",
		},
		{
			name:    "bad exporter",
			envs:    map[string]string{"METRICS_EXPORTER": "statsd"},
			wantErr: "invalid metrics exporter",
		},
		{
			name:    "unparseable duration",
			envs:    map[string]string{"SESSION_TTL": "soon"},
			wantErr: "failed to parse config",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnvs(t, tt.envs)
			cfg, err := Parse()
			assert.Nil(t, cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestEncryptionKey(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	t.Setenv("AUTH_ENCRYPTION_KEY", base64.StdEncoding.EncodeToString(key))

	cfg, err := Parse()
	require.NoError(t, err)
	got, err := cfg.EncryptionKey()
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SEARCH_LIMIT=7\n"), 0o600))
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(wd)
		_ = os.Unsetenv("SEARCH_LIMIT")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Search.Limit)
}

func TestLoad_WithoutDotEnv(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	_, err = Load()
	require.NoError(t, err)
}
