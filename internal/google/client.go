package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ErrClientNotConfigured is returned when no OAuth client is available.
var ErrClientNotConfigured = errors.New("google oauth client is not configured: set GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")

// ClientCredentials identify the OAuth client used for device flows.
type ClientCredentials struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

type clientSecretsFile struct {
	Installed *ClientCredentials `json:"installed"`
	Web       *ClientCredentials `json:"web"`
}

// LoadClientCredentials reads the OAuth client from inline JSON, or from
// the file at path when inline is empty. Both accept the client secrets
// format Google Cloud Console downloads, with an "installed" or "web"
// section.
func LoadClientCredentials(inline, path string) (ClientCredentials, error) {
	raw := strings.TrimSpace(inline)
	if raw == "" && path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return ClientCredentials{}, fmt.Errorf("failed to read oauth client file: %w", err)
		}
		raw = string(data)
	}
	if raw == "" {
		return ClientCredentials{}, ErrClientNotConfigured
	}
	return ParseClientCredentials([]byte(raw))
}

// ParseClientCredentials decodes a client secrets document.
func ParseClientCredentials(data []byte) (ClientCredentials, error) {
	var doc clientSecretsFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return ClientCredentials{}, fmt.Errorf("failed to parse oauth client json: %w", err)
	}
	section := doc.Installed
	if section == nil {
		section = doc.Web
	}
	if section == nil {
		return ClientCredentials{}, errors.New("oauth client json must contain an 'installed' or 'web' section")
	}
	if section.ClientID == "" || section.ClientSecret == "" {
		return ClientCredentials{}, errors.New("oauth client json is missing client_id or client_secret")
	}
	return *section, nil
}

// OAuthConfig returns the oauth2 configuration for the device flow.
func OAuthConfig(creds ClientCredentials, scopes []string) *oauth2.Config {
	if len(scopes) == 0 {
		scopes = DefaultOAuthScopes
	}
	return &oauth2.Config{
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       append([]string(nil), scopes...),
	}
}

// Unconfigured stands in for the device flow when no OAuth client is
// available. Every call fails with ErrClientNotConfigured.
type Unconfigured struct{}

func (Unconfigured) DeviceAuth(context.Context) (*oauth2.DeviceAuthResponse, error) {
	return nil, ErrClientNotConfigured
}

func (Unconfigured) Exchange(context.Context, *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	return nil, ErrClientNotConfigured
}

func (Unconfigured) Refresh(context.Context, *oauth2.Token) (*oauth2.Token, error) {
	return nil, ErrClientNotConfigured
}
