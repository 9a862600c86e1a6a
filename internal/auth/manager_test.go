package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/teemow/homesheet/internal/google"
	"github.com/teemow/homesheet/internal/store"
)

type fakeProvider struct {
	mu sync.Mutex

	deviceCalls   int
	exchangeCalls int
	refreshCalls  int

	deviceErrs   []error
	exchangeErrs []error
	refreshErrs  []error

	approved bool
	codeSeq  int
	now      func() time.Time
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

func (p *fakeProvider) DeviceAuth(context.Context) (*oauth2.DeviceAuthResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deviceCalls++
	if err := pop(&p.deviceErrs); err != nil {
		return nil, err
	}
	p.codeSeq++
	code := string(rune('A' + p.codeSeq - 1))
	return &oauth2.DeviceAuthResponse{
		DeviceCode:      "device-" + code,
		UserCode:        "CODE-" + code,
		VerificationURI: "https://www.google.com/device",
		Expiry:          p.now().Add(15 * time.Minute),
		Interval:        5,
	}, nil
}

func (p *fakeProvider) Exchange(_ context.Context, da *oauth2.DeviceAuthResponse) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exchangeCalls++
	if err := pop(&p.exchangeErrs); err != nil {
		return nil, err
	}
	if !p.approved {
		return nil, google.ErrAuthorizationPending
	}
	return &oauth2.Token{
		AccessToken:  "access-for-" + da.DeviceCode,
		RefreshToken: "refresh",
		TokenType:    "Bearer",
		Expiry:       p.now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) Refresh(_ context.Context, tok *oauth2.Token) (*oauth2.Token, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshCalls++
	if err := pop(&p.refreshErrs); err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: "refreshed", TokenType: "Bearer", Expiry: p.now().Add(time.Hour)}, nil
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	mgr      *Manager
	provider *fakeProvider
	tokens   store.TokenStore
	flows    store.DeviceFlowStore
	clock    *clock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := &fakeProvider{now: c.Now}
	tokens := store.NewFileTokenStore(filepath.Join(dir, "tokens.json"), nil)
	flows := store.NewFileDeviceFlowStore(filepath.Join(dir, "flows.json"), nil)
	mgr := NewManager(p, tokens, flows, Config{
		RetryMaxTries:        3,
		RetryInitialInterval: time.Millisecond,
		RetryMaxInterval:     2 * time.Millisecond,
	}, WithClock(c.Now))
	return &fixture{mgr: mgr, provider: p, tokens: tokens, flows: flows, clock: c}
}

func TestStartOrResumeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.StartOrResume(ctx, "alice")
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	second, err := f.mgr.StartOrResume(ctx, "alice")
	require.NoError(t, err)

	assert.Equal(t, first.UserCode, second.UserCode)
	assert.Equal(t, first.VerificationURL, second.VerificationURL)
	assert.Equal(t, 1, f.provider.deviceCalls)
	assert.Equal(t, 14*time.Minute, second.ExpiresIn)

	other, err := f.mgr.StartOrResume(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, first.UserCode, other.UserCode)

	state, err := f.mgr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StatePending, state)
}

func TestStartOrResumeReissuesAfterExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.mgr.StartOrResume(ctx, "alice")
	require.NoError(t, err)
	f.clock.Advance(16 * time.Minute)

	second, err := f.mgr.StartOrResume(ctx, "alice")
	require.NoError(t, err)
	assert.NotEqual(t, first.UserCode, second.UserCode)
	assert.Equal(t, 2, f.provider.deviceCalls)
}

func TestConcurrentStartsIssueOneCode(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	codes := make([]string, 8)
	for i := range codes {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := f.mgr.StartOrResume(ctx, "alice")
			assert.NoError(t, err)
			codes[i] = p.UserCode
		}(i)
	}
	wg.Wait()

	for _, c := range codes {
		assert.Equal(t, codes[0], c)
	}
	assert.Equal(t, 1, f.provider.deviceCalls)
}

func TestPollLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.mgr.Poll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, PollNoAttempt, res.Status)

	_, err = f.mgr.StartOrResume(ctx, "alice")
	require.NoError(t, err)

	cred, err := f.mgr.ValidCredential(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, cred, "no credential before exchange")

	res, err = f.mgr.Poll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, PollPending, res.Status)
	require.NotNil(t, res.Prompt)
	assert.Equal(t, "CODE-A", res.Prompt.UserCode)

	f.provider.approved = true
	res, err = f.mgr.Poll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, PollAuthenticated, res.Status)

	cred, err = f.mgr.ValidCredential(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "access-for-device-A", cred.AccessToken)
	assert.Equal(t, google.DefaultOAuthScopes, cred.Scopes)

	_, err = f.flows.Get(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound, "attempt destroyed after exchange")

	state, err := f.mgr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, state)
}

type failingTokens struct {
	store.TokenStore
}

func (failingTokens) Put(context.Context, string, store.Credential) error {
	return errors.New("disk full")
}

type switchableFlows struct {
	store.DeviceFlowStore
	failPut bool
}

func (s *switchableFlows) Put(ctx context.Context, userID string, flow store.DeviceFlow) error {
	if s.failPut {
		return errors.New("disk full")
	}
	return s.DeviceFlowStore.Put(ctx, userID, flow)
}

func TestPollCredentialWriteFailure(t *testing.T) {
	dir := t.TempDir()
	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	p := &fakeProvider{now: c.Now}
	tokens := failingTokens{store.NewFileTokenStore(filepath.Join(dir, "tokens.json"), nil)}
	flows := &switchableFlows{DeviceFlowStore: store.NewFileDeviceFlowStore(filepath.Join(dir, "flows.json"), nil)}
	var logs bytes.Buffer
	mgr := NewManager(p, tokens, flows, Config{
		RetryMaxTries:        1,
		RetryInitialInterval: time.Millisecond,
	}, WithClock(c.Now), WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	ctx := context.Background()

	_, err := mgr.StartOrResume(ctx, "alice")
	require.NoError(t, err)

	p.approved = true
	flows.failPut = true
	_, err = mgr.Poll(ctx, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to store credential")
	assert.Contains(t, logs.String(), "failed to mark device flow consumed")
	assert.Contains(t, logs.String(), "disk full")
}

func TestPollExpiredAndDenied(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture)
		want    PollStatus
		calls   int
		wantErr error
	}{
		{
			name:  "expired locally",
			setup: func(f *fixture) { f.clock.Advance(20 * time.Minute) },
			want:  PollExpired,
			calls: 0,
		},
		{
			name:  "expired at provider",
			setup: func(f *fixture) { f.provider.exchangeErrs = []error{google.ErrExpiredToken} },
			want:  PollExpired,
			calls: 1,
		},
		{
			name:  "denied",
			setup: func(f *fixture) { f.provider.exchangeErrs = []error{google.ErrAccessDenied} },
			want:  PollDenied,
			calls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			_, err := f.mgr.StartOrResume(ctx, "alice")
			require.NoError(t, err)
			tt.setup(f)

			res, err := f.mgr.Poll(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, tt.calls, f.provider.exchangeCalls)

			_, err = f.flows.Get(ctx, "alice")
			assert.ErrorIs(t, err, store.ErrNotFound)

			state, err := f.mgr.Status(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, StateUnauthenticated, state)
		})
	}
}

func TestPollRetriesTransientErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.StartOrResume(ctx, "alice")
	require.NoError(t, err)

	f.provider.approved = true
	f.provider.exchangeErrs = []error{errors.New("connection reset"), &google.ProviderError{Code: "server_error", Status: 503}}

	res, err := f.mgr.Poll(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, PollAuthenticated, res.Status)
	assert.Equal(t, 3, f.provider.exchangeCalls)
}

func TestPollRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.mgr.StartOrResume(ctx, "alice")
	require.NoError(t, err)

	boom := errors.New("connection refused")
	f.provider.exchangeErrs = []error{boom, boom, boom, boom}

	_, err = f.mgr.Poll(ctx, "alice")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTemporarilyUnavailable)
	assert.Equal(t, 3, f.provider.exchangeCalls)

	_, err = f.flows.Get(ctx, "alice")
	assert.NoError(t, err, "attempt kept for a later poll")
}

func TestStartRetriesExhausted(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("no route to host")
	f.provider.deviceErrs = []error{boom, boom, boom}

	_, err := f.mgr.StartOrResume(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrTemporarilyUnavailable)
	assert.Equal(t, 3, f.provider.deviceCalls)
}

func TestValidCredentialRefresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tokens.Put(ctx, "alice", store.Credential{
		AccessToken:  "old",
		RefreshToken: "refresh",
		Expiry:       f.clock.Now().Add(30 * time.Second),
		Scopes:       []string{"s"},
	}))

	state, err := f.mgr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StateExpired, state, "inside expiry skew")

	cred, err := f.mgr.ValidCredential(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, "refreshed", cred.AccessToken)
	assert.Equal(t, "refresh", cred.RefreshToken, "refresh token kept")
	assert.Equal(t, []string{"s"}, cred.Scopes)

	stored, err := f.tokens.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "refreshed", stored.AccessToken)

	state, err = f.mgr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, state)
}

func TestValidCredentialRefreshRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tokens.Put(ctx, "alice", store.Credential{
		AccessToken:  "old",
		RefreshToken: "refresh",
		Expiry:       f.clock.Now().Add(-time.Hour),
	}))
	f.provider.refreshErrs = []error{google.ErrInvalidGrant}

	cred, err := f.mgr.ValidCredential(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, cred)
	assert.Equal(t, 1, f.provider.refreshCalls, "permanent errors are not retried")

	stored, err := f.tokens.Get(ctx, "alice")
	require.NoError(t, err, "credential is kept, not deleted")
	assert.True(t, stored.Revoked)

	state, err := f.mgr.Status(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, StateUnauthenticated, state)
}

func TestValidCredentialRefreshUnavailable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.tokens.Put(ctx, "alice", store.Credential{
		AccessToken:  "old",
		RefreshToken: "refresh",
		Expiry:       f.clock.Now().Add(-time.Hour),
	}))
	boom := errors.New("i/o timeout")
	f.provider.refreshErrs = []error{boom, boom, boom}

	cred, err := f.mgr.ValidCredential(ctx, "alice")
	assert.Nil(t, cred)
	assert.ErrorIs(t, err, ErrTemporarilyUnavailable)

	stored, err := f.tokens.Get(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, stored.Revoked)
}

func TestValidCredentialExpiredWithoutRefreshToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tokens.Put(ctx, "alice", store.Credential{
		AccessToken: "old",
		Expiry:      f.clock.Now().Add(-time.Hour),
	}))

	cred, err := f.mgr.ValidCredential(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, cred)
	assert.Equal(t, 0, f.provider.refreshCalls)
}

func TestAuthorize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cred, prompt, err := f.mgr.Authorize(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, cred)
	require.NotNil(t, prompt)
	assert.Equal(t, "CODE-A", prompt.UserCode)

	cred, prompt, err = f.mgr.Authorize(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, cred)
	require.NotNil(t, prompt)
	assert.Equal(t, "CODE-A", prompt.UserCode, "pending attempt resumed")

	f.provider.approved = true
	cred, prompt, err = f.mgr.Authorize(ctx, "alice")
	require.NoError(t, err)
	assert.Nil(t, prompt)
	require.NotNil(t, cred)
	assert.Equal(t, "access-for-device-A", cred.AccessToken)

	exchanges := f.provider.exchangeCalls
	cred, _, err = f.mgr.Authorize(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, cred)
	assert.Equal(t, exchanges, f.provider.exchangeCalls, "valid credential needs no exchange")
}

func TestAuthorizeReissuesAfterDenial(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, first, err := f.mgr.Authorize(ctx, "alice")
	require.NoError(t, err)

	f.provider.exchangeErrs = []error{google.ErrAccessDenied}
	_, second, err := f.mgr.Authorize(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, second)
	assert.NotEqual(t, first.UserCode, second.UserCode)
}

func TestRevoke(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.tokens.Put(ctx, "alice", store.Credential{AccessToken: "a", Expiry: f.clock.Now().Add(time.Hour)}))

	require.NoError(t, f.mgr.Revoke(ctx, "alice"))
	_, err := f.tokens.Get(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)
	require.NoError(t, f.mgr.Revoke(ctx, "alice"))
}

func TestPromptMessage(t *testing.T) {
	p := Prompt{VerificationURL: "https://www.google.com/device", UserCode: "ABCD-EFGH", ExpiresIn: 14*time.Minute + 30*time.Second}
	want := "Google authorization required for sheet creation.\n" +
		"1) Open: https://www.google.com/device\n" +
		"2) Enter code: ABCD-EFGH\n" +
		"3) Approve Drive/Sheets access\n" +
		"4) Re-run the same search request\n" +
		"Code expires in about 14 minute(s)."
	assert.Equal(t, want, p.Message())

	p.ExpiresIn = 10 * time.Second
	assert.Contains(t, p.Message(), "about 1 minute(s)")
}
