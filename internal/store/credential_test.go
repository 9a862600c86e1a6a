package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/giantswarm/mcp-oauth/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func TestCredentialFromToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tok := (&oauth2.Token{AccessToken: "at", RefreshToken: "rt", TokenType: "Bearer", Expiry: now.Add(time.Hour)}).
		WithExtra(map[string]interface{}{"scope": "a b"})

	cred := CredentialFromToken(tok, []string{"fallback"}, now)
	assert.Equal(t, []string{"a", "b"}, cred.Scopes)
	assert.Equal(t, now, cred.UpdatedAt)
	assert.Equal(t, "rt", cred.Token().RefreshToken)

	plain := CredentialFromToken(&oauth2.Token{AccessToken: "at"}, []string{"fallback"}, now)
	assert.Equal(t, []string{"fallback"}, plain.Scopes)
}

func TestCredentialExpiry(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		expiry time.Time
		skew   time.Duration
		want   bool
	}{
		{"no expiry", time.Time{}, time.Minute, false},
		{"future", now.Add(time.Hour), time.Minute, false},
		{"within skew", now.Add(30 * time.Second), time.Minute, true},
		{"past", now.Add(-time.Second), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Credential{Expiry: tt.expiry}.ExpiredAt(now, tt.skew))
		})
	}

	assert.True(t, Credential{RefreshToken: "rt"}.Refreshable())
	assert.False(t, Credential{RefreshToken: "rt", Revoked: true}.Refreshable())
	assert.False(t, Credential{}.Refreshable())
}

func TestFileTokenStoreEncryptsAtRest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	key, _ := GenerateEncryptionKey()
	enc, err := NewTokenEncryption(key)
	require.NoError(t, err)

	s := NewFileTokenStore(path, enc)
	cred := Credential{
		AccessToken:  "ya29.secret-access",
		RefreshToken: "1//secret-refresh",
		Expiry:       time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Scopes:       []string{"https://www.googleapis.com/auth/spreadsheets"},
	}
	require.NoError(t, s.Put(ctx, "agent1", cred))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret-access")
	assert.NotContains(t, string(raw), "secret-refresh")

	got, err := s.Get(ctx, "agent1")
	require.NoError(t, err)
	assert.Equal(t, cred, got)

	_, err = s.Get(ctx, "other")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "agent1"))
	_, err = s.Get(ctx, "agent1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileTokenStorePlaintext(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tokens.json")
	s := NewFileTokenStore(path, nil)

	require.NoError(t, s.Put(ctx, "u", Credential{AccessToken: "visible"}))
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "visible")
}

func TestOAuthLibraryTokenStore(t *testing.T) {
	ctx := context.Background()
	backend := memory.New()
	defer backend.Stop()

	s := NewOAuthLibraryTokenStore(backend)

	_, err := s.Get(ctx, "u")
	assert.ErrorIs(t, err, ErrNotFound)

	expiry := time.Now().Add(time.Hour).Truncate(time.Second)
	cred := Credential{
		AccessToken:  "at",
		RefreshToken: "rt",
		Expiry:       expiry,
		Scopes:       []string{"s1"},
		Revoked:      true,
	}
	require.NoError(t, s.Put(ctx, "u", cred))

	got, err := s.Get(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
	assert.Equal(t, "rt", got.RefreshToken)
	assert.True(t, got.Expiry.Equal(expiry))
	assert.Equal(t, []string{"s1"}, got.Scopes)
	assert.True(t, got.Revoked)

	require.NoError(t, s.Delete(ctx, "u"))
	_, err = s.Get(ctx, "u")
	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, s.Delete(ctx, "never-stored"))
}
