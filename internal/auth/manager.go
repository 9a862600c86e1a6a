package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/oauth2"

	"github.com/teemow/homesheet/internal/google"
	"github.com/teemow/homesheet/internal/instrumentation"
	"github.com/teemow/homesheet/internal/logging"
	"github.com/teemow/homesheet/internal/store"
)

// Provider is the authorization server as seen by the Manager.
// Exchange makes one bounded attempt and returns
// google.ErrAuthorizationPending while the user has not approved.
type Provider interface {
	DeviceAuth(ctx context.Context) (*oauth2.DeviceAuthResponse, error)
	Exchange(ctx context.Context, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error)
	Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error)
}

// Config tunes the Manager.
type Config struct {
	// Scopes recorded on credentials when the token response omits them.
	Scopes []string
	// RetryMaxTries bounds attempts for device code issue, exchange and
	// refresh calls.
	RetryMaxTries uint
	// RetryInitialInterval and RetryMaxInterval shape the backoff.
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	// ExpirySkew treats tokens expiring within this window as expired.
	ExpirySkew time.Duration
}

// DefaultConfig returns the defaults used by the serve command.
func DefaultConfig() Config {
	return Config{
		Scopes:               google.DefaultOAuthScopes,
		RetryMaxTries:        3,
		RetryInitialInterval: 500 * time.Millisecond,
		RetryMaxInterval:     5 * time.Second,
		ExpirySkew:           time.Minute,
	}
}

// Manager runs the device flow and keeps credentials fresh.
type Manager struct {
	provider Provider
	tokens   store.TokenStore
	flows    store.DeviceFlowStore
	config   Config
	locks    *keyedMutex
	metrics  *instrumentation.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics records device flow and refresh outcomes.
func WithMetrics(m *instrumentation.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(mgr *Manager) {
		if l != nil {
			mgr.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(mgr *Manager) { mgr.now = now }
}

// NewManager returns a Manager. Zero fields in config take DefaultConfig values.
func NewManager(provider Provider, tokens store.TokenStore, flows store.DeviceFlowStore, config Config, opts ...Option) *Manager {
	def := DefaultConfig()
	if len(config.Scopes) == 0 {
		config.Scopes = def.Scopes
	}
	if config.RetryMaxTries == 0 {
		config.RetryMaxTries = def.RetryMaxTries
	}
	if config.RetryInitialInterval <= 0 {
		config.RetryInitialInterval = def.RetryInitialInterval
	}
	if config.RetryMaxInterval <= 0 {
		config.RetryMaxInterval = def.RetryMaxInterval
	}
	if config.ExpirySkew < 0 {
		config.ExpirySkew = 0
	}

	m := &Manager{
		provider: provider,
		tokens:   tokens,
		flows:    flows,
		config:   config,
		locks:    newKeyedMutex(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.WithComponent(m.logger, "auth")
	return m
}

// StartOrResume returns the prompt of the user's active device flow, or
// issues a new device code when there is none.
func (m *Manager) StartOrResume(ctx context.Context, userID string) (Prompt, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.startOrResume(ctx, userID)
}

// Poll makes one bounded exchange attempt for the user's active device flow.
func (m *Manager) Poll(ctx context.Context, userID string) (PollResult, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.poll(ctx, userID)
}

// ValidCredential returns the user's credential if it is unexpired,
// refreshing it first when needed. It returns nil without error when the
// user has to authorize again.
func (m *Manager) ValidCredential(ctx context.Context, userID string) (*store.Credential, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()
	return m.validCredential(ctx, userID)
}

// Authorize returns a valid credential when one exists or a pending device
// flow completes on this poll. Otherwise it returns the prompt the user
// needs to approve access.
func (m *Manager) Authorize(ctx context.Context, userID string) (*store.Credential, *Prompt, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	cred, err := m.validCredential(ctx, userID)
	if err != nil || cred != nil {
		return cred, nil, err
	}

	res, err := m.poll(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if res.Status == PollAuthenticated {
		cred, err = m.validCredential(ctx, userID)
		if err != nil || cred != nil {
			return cred, nil, err
		}
	}
	if res.Status == PollPending && res.Prompt != nil {
		return nil, res.Prompt, nil
	}

	prompt, err := m.startOrResume(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	return nil, &prompt, nil
}

// Status reports the user's current state without contacting the provider.
func (m *Manager) Status(ctx context.Context, userID string) (State, error) {
	unlock := m.locks.Lock(userID)
	defer unlock()

	now := m.now()
	cred, err := m.tokens.Get(ctx, userID)
	switch {
	case err == nil && !cred.Revoked:
		if !cred.ExpiredAt(now, m.config.ExpirySkew) {
			return StateAuthenticated, nil
		}
		if cred.Refreshable() {
			return StateExpired, nil
		}
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("failed to load credential: %w", err)
	}

	flow, err := m.flows.Get(ctx, userID)
	switch {
	case err == nil && flow.ActiveAt(now):
		return StatePending, nil
	case err != nil && !errors.Is(err, store.ErrNotFound):
		return "", fmt.Errorf("failed to load device flow: %w", err)
	}
	return StateUnauthenticated, nil
}

// Revoke removes the user's credential and any pending device flow.
func (m *Manager) Revoke(ctx context.Context, userID string) error {
	unlock := m.locks.Lock(userID)
	defer unlock()

	if err := m.tokens.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete credential: %w", err)
	}
	if err := m.flows.Delete(ctx, userID); err != nil {
		return fmt.Errorf("failed to delete device flow: %w", err)
	}
	m.logger.Info("credential revoked", logging.UserHash(userID))
	return nil
}

func (m *Manager) startOrResume(ctx context.Context, userID string) (Prompt, error) {
	now := m.now()
	flow, err := m.flows.Get(ctx, userID)
	switch {
	case err == nil && flow.ActiveAt(now):
		m.metrics.RecordDeviceFlow(ctx, "resumed")
		return promptFor(flow, now), nil
	case err == nil:
		if err := m.flows.Delete(ctx, userID); err != nil {
			return Prompt{}, fmt.Errorf("failed to discard stale device flow: %w", err)
		}
	case !errors.Is(err, store.ErrNotFound):
		return Prompt{}, fmt.Errorf("failed to load device flow: %w", err)
	}

	var da *oauth2.DeviceAuthResponse
	err = m.retry(ctx, "device_auth", func() error {
		var err error
		da, err = m.provider.DeviceAuth(ctx)
		return err
	})
	if err != nil {
		m.metrics.RecordDeviceFlow(ctx, "error")
		return Prompt{}, err
	}

	now = m.now()
	flow = store.DeviceFlow{
		DeviceCode:              da.DeviceCode,
		UserCode:                da.UserCode,
		VerificationURL:         da.VerificationURI,
		VerificationURLComplete: da.VerificationURIComplete,
		Interval:                int(da.Interval),
		IssuedAt:                now,
		ExpiresAt:               da.Expiry,
	}
	if flow.ExpiresAt.IsZero() {
		flow.ExpiresAt = now.Add(google.DefaultExpiresIn)
	}
	if err := m.flows.Put(ctx, userID, flow); err != nil {
		return Prompt{}, fmt.Errorf("failed to store device flow: %w", err)
	}

	m.metrics.RecordDeviceFlow(ctx, "issued")
	m.logger.Info("device flow started",
		logging.UserHash(userID),
		slog.Time("expires_at", flow.ExpiresAt))
	return promptFor(flow, now), nil
}

func (m *Manager) poll(ctx context.Context, userID string) (PollResult, error) {
	now := m.now()
	flow, err := m.flows.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return PollResult{Status: PollNoAttempt}, nil
	}
	if err != nil {
		return PollResult{}, fmt.Errorf("failed to load device flow: %w", err)
	}
	if !flow.ActiveAt(now) {
		return m.discard(ctx, userID, PollExpired)
	}

	da := &oauth2.DeviceAuthResponse{
		DeviceCode:      flow.DeviceCode,
		UserCode:        flow.UserCode,
		VerificationURI: flow.VerificationURL,
		Expiry:          flow.ExpiresAt,
		Interval:        int64(flow.Interval),
	}
	var tok *oauth2.Token
	err = m.retry(ctx, "exchange", func() error {
		var err error
		tok, err = m.provider.Exchange(ctx, da)
		return err
	})

	switch {
	case err == nil:
		cred := store.CredentialFromToken(tok, m.config.Scopes, m.now())
		if err := m.tokens.Put(ctx, userID, cred); err != nil {
			flow.Consumed = true
			if putErr := m.flows.Put(ctx, userID, flow); putErr != nil {
				m.logger.Warn("failed to mark device flow consumed", logging.UserHash(userID), logging.Err(putErr))
			}
			return PollResult{}, fmt.Errorf("failed to store credential: %w", err)
		}
		if err := m.flows.Delete(ctx, userID); err != nil {
			m.logger.Warn("failed to remove consumed device flow", logging.UserHash(userID), logging.Err(err))
		}
		m.metrics.RecordDeviceFlow(ctx, "authenticated")
		m.logger.Info("device flow completed", logging.UserHash(userID))
		return PollResult{Status: PollAuthenticated}, nil
	case errors.Is(err, google.ErrAuthorizationPending):
		m.metrics.RecordDeviceFlow(ctx, "pending")
		prompt := promptFor(flow, m.now())
		return PollResult{Status: PollPending, Prompt: &prompt}, nil
	case errors.Is(err, google.ErrExpiredToken):
		return m.discard(ctx, userID, PollExpired)
	case errors.Is(err, google.ErrAccessDenied):
		return m.discard(ctx, userID, PollDenied)
	case errors.Is(err, google.ErrInvalidGrant):
		return m.discard(ctx, userID, PollExpired)
	default:
		m.metrics.RecordDeviceFlow(ctx, "error")
		return PollResult{}, err
	}
}

func (m *Manager) discard(ctx context.Context, userID string, status PollStatus) (PollResult, error) {
	if err := m.flows.Delete(ctx, userID); err != nil {
		return PollResult{}, fmt.Errorf("failed to discard device flow: %w", err)
	}
	m.metrics.RecordDeviceFlow(ctx, string(status))
	m.logger.Info("device flow discarded", logging.UserHash(userID), logging.Status(string(status)))
	return PollResult{Status: status}, nil
}

func (m *Manager) validCredential(ctx context.Context, userID string) (*store.Credential, error) {
	now := m.now()
	cred, err := m.tokens.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred.Revoked {
		return nil, nil
	}
	if !cred.ExpiredAt(now, m.config.ExpirySkew) {
		return &cred, nil
	}
	if !cred.Refreshable() {
		return nil, nil
	}

	var tok *oauth2.Token
	err = m.retry(ctx, "refresh", func() error {
		var err error
		tok, err = m.provider.Refresh(ctx, cred.Token())
		return err
	})
	if err != nil {
		if google.IsPermanent(err) {
			cred.Revoked = true
			cred.UpdatedAt = m.now()
			if perr := m.tokens.Put(ctx, userID, cred); perr != nil {
				return nil, fmt.Errorf("failed to mark credential revoked: %w", perr)
			}
			m.metrics.RecordTokenRefresh(ctx, "revoked")
			m.logger.Warn("refresh rejected, re-authorization required", logging.UserHash(userID), logging.Err(err))
			return nil, nil
		}
		m.metrics.RecordTokenRefresh(ctx, "error")
		return nil, err
	}

	fresh := store.CredentialFromToken(tok, cred.Scopes, m.now())
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = cred.RefreshToken
	}
	if err := m.tokens.Put(ctx, userID, fresh); err != nil {
		return nil, fmt.Errorf("failed to store refreshed credential: %w", err)
	}
	m.metrics.RecordTokenRefresh(ctx, "success")
	m.logger.Debug("credential refreshed",
		logging.UserHash(userID),
		slog.String("access_token", logging.SanitizeToken(fresh.AccessToken)))
	return &fresh, nil
}

// retry runs fn with exponential backoff. Permanent provider errors and
// device flow outcomes stop immediately and are returned unchanged;
// anything else still failing after the last try is reported as
// ErrTemporarilyUnavailable.
func (m *Manager) retry(ctx context.Context, op string, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.config.RetryInitialInterval
	b.MaxInterval = m.config.RetryMaxInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := fn()
		if err != nil && isFinal(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(m.config.RetryMaxTries))
	if err == nil {
		return nil
	}
	if isFinal(err) {
		return err
	}
	m.logger.Warn("authorization server call failed",
		logging.Operation(op),
		logging.Err(err))
	return fmt.Errorf("%w: %s: %w", ErrTemporarilyUnavailable, op, err)
}

func isFinal(err error) bool {
	return errors.Is(err, google.ErrAuthorizationPending) || google.IsPermanent(err)
}
