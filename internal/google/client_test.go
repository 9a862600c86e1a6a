package google

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClientCredentials(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ClientCredentials
		wantErr bool
	}{
		{
			name:  "installed",
			input: `{"installed":{"client_id":"id","client_secret":"secret"}}`,
			want:  ClientCredentials{ClientID: "id", ClientSecret: "secret"},
		},
		{
			name:  "web",
			input: `{"web":{"client_id":"wid","client_secret":"wsecret"}}`,
			want:  ClientCredentials{ClientID: "wid", ClientSecret: "wsecret"},
		},
		{name: "no section", input: `{"other":{}}`, wantErr: true},
		{name: "missing secret", input: `{"installed":{"client_id":"id"}}`, wantErr: true},
		{name: "not json", input: `nope`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseClientCredentials([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadClientCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"installed":{"client_id":"file-id","client_secret":"s"}}`), 0o600))

	got, err := LoadClientCredentials("", path)
	require.NoError(t, err)
	assert.Equal(t, "file-id", got.ClientID)

	got, err = LoadClientCredentials(`{"web":{"client_id":"inline-id","client_secret":"s"}}`, path)
	require.NoError(t, err)
	assert.Equal(t, "inline-id", got.ClientID, "inline json wins")

	_, err = LoadClientCredentials("", "")
	assert.ErrorIs(t, err, ErrClientNotConfigured)
	assert.True(t, IsPermanent(err))

	_, err = LoadClientCredentials("", filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestOAuthConfig(t *testing.T) {
	conf := OAuthConfig(ClientCredentials{ClientID: "id", ClientSecret: "s"}, nil)
	assert.Equal(t, DefaultOAuthScopes, conf.Scopes)
	assert.NotEmpty(t, conf.Endpoint.DeviceAuthURL)
	assert.NotEmpty(t, conf.Endpoint.TokenURL)
}

func TestUnconfigured(t *testing.T) {
	var p Unconfigured
	_, err := p.DeviceAuth(context.Background())
	assert.ErrorIs(t, err, ErrClientNotConfigured)
	_, err = p.Refresh(context.Background(), nil)
	assert.ErrorIs(t, err, ErrClientNotConfigured)
}
