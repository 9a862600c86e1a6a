// Package google talks to Google's OAuth 2.0 device authorization endpoints.
//
// It loads the OAuth client (installed or web application) from inline JSON
// or a client secrets file, issues device codes, performs a single bounded
// exchange attempt per call, and refreshes access tokens. Provider errors are
// mapped onto sentinel errors and a ProviderError so callers can tell
// permanent rejections from transient failures.
package google
