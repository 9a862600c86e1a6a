package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// UserHeader carries the caller's user identity on HTTP requests.
const UserHeader = "X-User-ID"

type userKey struct{}

// WithUser returns ctx carrying userID.
func WithUser(ctx context.Context, userID string) context.Context {
	if userID == "" {
		return ctx
	}
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFromContext returns the user identity resolved for the transport.
func UserFromContext(ctx context.Context) (string, bool) {
	userID, ok := ctx.Value(userKey{}).(string)
	return userID, ok && userID != ""
}

// ResolveUser derives a user identity from an HTTP request. An explicit
// X-User-ID header wins; otherwise a Bearer token maps to a stable
// identity derived from its hash, so one token always reaches the same
// session. Requests with neither resolve to "".
func ResolveUser(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get(UserHeader)); v != "" {
		return v
	}
	authHeader := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return ""
	}
	return "bearer:" + hashToken(strings.TrimSpace(token))
}

// UserContextFunc attaches the resolved user to the request context. It
// has the shape mcp-go expects for HTTP context functions.
func UserContextFunc(ctx context.Context, r *http.Request) context.Context {
	return WithUser(ctx, ResolveUser(r))
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])[:16]
}
