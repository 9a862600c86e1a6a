package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

const (
	// DefaultExpiresIn applies when the server omits expires_in.
	DefaultExpiresIn = 900 * time.Second
	// DefaultInterval applies when the server omits interval.
	DefaultInterval = 5 * time.Second
	// DefaultPollSlack is added to the polling interval to bound one
	// exchange attempt.
	DefaultPollSlack = 3 * time.Second
)

// DeviceFlow issues device codes and exchanges them for tokens.
type DeviceFlow struct {
	config     *oauth2.Config
	httpClient *http.Client
	pollSlack  time.Duration
	now        func() time.Time
}

// DeviceFlowOption configures a DeviceFlow.
type DeviceFlowOption func(*DeviceFlow)

// WithHTTPClient sets the client used for token endpoint calls.
func WithHTTPClient(c *http.Client) DeviceFlowOption {
	return func(d *DeviceFlow) { d.httpClient = c }
}

// WithPollSlack sets how long one exchange waits beyond the interval.
func WithPollSlack(slack time.Duration) DeviceFlowOption {
	return func(d *DeviceFlow) {
		if slack > 0 {
			d.pollSlack = slack
		}
	}
}

// NewDeviceFlow returns a DeviceFlow for config.
func NewDeviceFlow(config *oauth2.Config, opts ...DeviceFlowOption) *DeviceFlow {
	d := &DeviceFlow{
		config:    config,
		pollSlack: DefaultPollSlack,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *DeviceFlow) context(ctx context.Context) context.Context {
	if d.httpClient != nil {
		return context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	}
	return ctx
}

// DeviceAuth requests a new device and user code. Missing expiry and
// interval fields are filled with Google's documented defaults.
func (d *DeviceFlow) DeviceAuth(ctx context.Context) (*oauth2.DeviceAuthResponse, error) {
	resp, err := d.config.DeviceAuth(d.context(ctx))
	if err != nil {
		return nil, classify(err)
	}
	if resp.Expiry.IsZero() {
		resp.Expiry = d.now().Add(DefaultExpiresIn)
	}
	if resp.Interval <= 0 {
		resp.Interval = int64(DefaultInterval / time.Second)
	}
	if resp.VerificationURI == "" {
		return nil, errors.New("device authorization response has no verification url")
	}
	return resp, nil
}

// Exchange makes one bounded attempt to trade the device code for a token.
// It waits at most the polling interval plus the configured slack and
// returns ErrAuthorizationPending when the user has not approved yet.
func (d *DeviceFlow) Exchange(ctx context.Context, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	interval := time.Duration(da.Interval) * time.Second
	if interval <= 0 {
		interval = DefaultInterval
	}

	pollCtx, cancel := context.WithTimeout(d.context(ctx), interval+d.pollSlack)
	defer cancel()

	tok, err := d.config.DeviceAccessToken(pollCtx, da)
	if err == nil {
		return tok, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		if !da.Expiry.IsZero() && !d.now().Before(da.Expiry) {
			return nil, ErrExpiredToken
		}
		return nil, ErrAuthorizationPending
	}
	return nil, classify(err)
}

// Refresh exchanges the refresh token in tok for a new access token. The
// refresh token is carried over when the server does not rotate it.
func (d *DeviceFlow) Refresh(ctx context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	if tok == nil || tok.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token available", ErrInvalidGrant)
	}
	stale := &oauth2.Token{RefreshToken: tok.RefreshToken, TokenType: tok.TokenType}
	fresh, err := d.config.TokenSource(d.context(ctx), stale).Token()
	if err != nil {
		return nil, classify(err)
	}
	if fresh.RefreshToken == "" {
		fresh.RefreshToken = tok.RefreshToken
	}
	return fresh, nil
}
