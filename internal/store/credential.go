package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Credential is the stored OAuth grant for one user.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
	Scopes       []string  `json:"scopes,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
	// Revoked is set when the provider rejected a refresh. The record is
	// kept until it is replaced by a new grant or removed manually.
	Revoked bool `json:"revoked,omitempty"`
}

// CredentialFromToken converts an oauth2 token. Scopes come from the
// token's "scope" extra when present, else fallback.
func CredentialFromToken(tok *oauth2.Token, fallbackScopes []string, now time.Time) Credential {
	scopes := fallbackScopes
	if raw, ok := tok.Extra("scope").(string); ok && raw != "" {
		scopes = strings.Fields(raw)
	}
	return Credential{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		Expiry:       tok.Expiry,
		Scopes:       append([]string(nil), scopes...),
		UpdatedAt:    now,
	}
}

// Token returns the credential as an oauth2 token.
func (c Credential) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		TokenType:    c.TokenType,
		Expiry:       c.Expiry,
	}
}

// ExpiredAt reports whether the access token is expired at now, or will be
// within skew. Tokens without an expiry never expire.
func (c Credential) ExpiredAt(now time.Time, skew time.Duration) bool {
	if c.Expiry.IsZero() {
		return false
	}
	return now.Add(skew).After(c.Expiry)
}

// Refreshable reports whether a refresh can be attempted.
func (c Credential) Refreshable() bool {
	return c.RefreshToken != "" && !c.Revoked
}

// TokenStore persists one Credential per user.
type TokenStore interface {
	Get(ctx context.Context, userID string) (Credential, error)
	Put(ctx context.Context, userID string, cred Credential) error
	Delete(ctx context.Context, userID string) error
}

// FileTokenStore is a TokenStore backed by a JSON file. Access and
// refresh tokens are sealed on disk when enc is enabled.
type FileTokenStore struct {
	file *JSONFile[Credential]
	enc  *TokenEncryption
}

// NewFileTokenStore returns a FileTokenStore at path. enc may be nil.
func NewFileTokenStore(path string, enc *TokenEncryption) *FileTokenStore {
	return &FileTokenStore{file: NewJSONFile[Credential](path), enc: enc}
}

// Get returns the credential for userID or ErrNotFound.
func (s *FileTokenStore) Get(_ context.Context, userID string) (Credential, error) {
	cred, err := s.file.Get(userID)
	if err != nil {
		return Credential{}, err
	}
	if cred.AccessToken, err = s.enc.Decrypt(cred.AccessToken); err != nil {
		return Credential{}, fmt.Errorf("failed to decrypt access token: %w", err)
	}
	if cred.RefreshToken, err = s.enc.Decrypt(cred.RefreshToken); err != nil {
		return Credential{}, fmt.Errorf("failed to decrypt refresh token: %w", err)
	}
	return cred, nil
}

// Put replaces the credential for userID.
func (s *FileTokenStore) Put(_ context.Context, userID string, cred Credential) error {
	var err error
	if cred.AccessToken, err = s.enc.Encrypt(cred.AccessToken); err != nil {
		return fmt.Errorf("failed to encrypt access token: %w", err)
	}
	if cred.RefreshToken, err = s.enc.Encrypt(cred.RefreshToken); err != nil {
		return fmt.Errorf("failed to encrypt refresh token: %w", err)
	}
	return s.file.Put(userID, cred)
}

// Delete removes the credential for userID.
func (s *FileTokenStore) Delete(_ context.Context, userID string) error {
	return s.file.Delete(userID)
}
