package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"
)

// Sentinel outcomes of a device code exchange.
var (
	// ErrAuthorizationPending means the user has not approved yet.
	ErrAuthorizationPending = errors.New("authorization pending")
	// ErrAccessDenied means the user declined the request.
	ErrAccessDenied = errors.New("access denied by user")
	// ErrExpiredToken means the device code expired before approval.
	ErrExpiredToken = errors.New("device code expired")
	// ErrInvalidGrant means a refresh token or device code was rejected.
	ErrInvalidGrant = errors.New("invalid grant")
)

// ProviderError is an error response from the authorization server.
type ProviderError struct {
	Code        string
	Description string
	Status      int
}

func (e *ProviderError) Error() string {
	msg := e.Code
	if msg == "" {
		msg = "oauth provider error"
	}
	if e.Description != "" {
		msg += ": " + e.Description
	}
	if e.Status != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.Status)
	}
	return msg
}

// Temporary reports whether the provider signalled a retryable condition.
func (e *ProviderError) Temporary() bool {
	return e.Status >= http.StatusInternalServerError ||
		e.Status == http.StatusTooManyRequests ||
		e.Code == "temporarily_unavailable" ||
		e.Code == "server_error" ||
		e.Code == "slow_down"
}

// classify maps an oauth2 library error onto this package's errors.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}
	pe := &ProviderError{Code: re.ErrorCode, Description: re.ErrorDescription}
	if re.Response != nil {
		pe.Status = re.Response.StatusCode
	}
	switch re.ErrorCode {
	case "authorization_pending":
		return ErrAuthorizationPending
	case "access_denied":
		return fmt.Errorf("%w: %w", ErrAccessDenied, pe)
	case "expired_token":
		return fmt.Errorf("%w: %w", ErrExpiredToken, pe)
	case "invalid_grant":
		return fmt.Errorf("%w: %w", ErrInvalidGrant, pe)
	}
	return pe
}

// IsPermanent reports whether retrying err cannot succeed. Context errors,
// network failures and temporary provider errors are not permanent.
func IsPermanent(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrAccessDenied) || errors.Is(err, ErrExpiredToken) || errors.Is(err, ErrInvalidGrant) ||
		errors.Is(err, ErrClientNotConfigured) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return !pe.Temporary()
	}
	return false
}
