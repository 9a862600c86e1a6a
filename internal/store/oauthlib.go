package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/giantswarm/mcp-oauth/storage"
	"golang.org/x/oauth2"
)

// OAuthLibraryTokenStore adapts an mcp-oauth storage.TokenStore to
// TokenStore. The library keeps oauth2 tokens only, so scopes and the
// revoked flag are tracked alongside in memory.
type OAuthLibraryTokenStore struct {
	backend storage.TokenStore

	mu   sync.RWMutex
	meta map[string]credentialMeta
}

type credentialMeta struct {
	scopes    []string
	updatedAt time.Time
	revoked   bool
}

// NewOAuthLibraryTokenStore wraps backend.
func NewOAuthLibraryTokenStore(backend storage.TokenStore) *OAuthLibraryTokenStore {
	return &OAuthLibraryTokenStore{
		backend: backend,
		meta:    make(map[string]credentialMeta),
	}
}

// Get returns the credential for userID or ErrNotFound.
func (s *OAuthLibraryTokenStore) Get(ctx context.Context, userID string) (Credential, error) {
	s.mu.RLock()
	m, known := s.meta[userID]
	s.mu.RUnlock()
	if !known {
		return Credential{}, ErrNotFound
	}

	tok, err := s.backend.GetToken(ctx, userID)
	if err != nil {
		return Credential{}, fmt.Errorf("failed to get token: %w", err)
	}
	if tok == nil {
		return Credential{}, ErrNotFound
	}

	cred := CredentialFromToken(tok, m.scopes, m.updatedAt)
	cred.Revoked = m.revoked
	return cred, nil
}

// Put replaces the credential for userID.
func (s *OAuthLibraryTokenStore) Put(ctx context.Context, userID string, cred Credential) error {
	tok := &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		TokenType:    cred.TokenType,
		Expiry:       cred.Expiry,
	}
	if err := s.backend.SaveToken(ctx, userID, tok); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	s.mu.Lock()
	s.meta[userID] = credentialMeta{
		scopes:    append([]string(nil), cred.Scopes...),
		updatedAt: cred.UpdatedAt,
		revoked:   cred.Revoked,
	}
	s.mu.Unlock()
	return nil
}

// Delete removes the credential for userID.
func (s *OAuthLibraryTokenStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	_, known := s.meta[userID]
	delete(s.meta, userID)
	s.mu.Unlock()
	if !known {
		return nil
	}
	if err := s.backend.DeleteToken(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete token: %w", err)
	}
	return nil
}
