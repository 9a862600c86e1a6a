// Package auth owns the per-user OAuth device flow state machine.
//
// A user moves through UNAUTHENTICATED, PENDING (device code issued and
// awaiting approval), AUTHENTICATED and EXPIRED (access token past expiry).
// An expired credential is refreshed transparently; a refresh the provider
// rejects marks the credential revoked and the user falls back to
// UNAUTHENTICATED.
//
// Polling is explicit: callers invoke Poll (or Authorize) on their own
// schedule and each call performs at most one bounded exchange attempt.
// Provider and network failures are retried with exponential backoff; when
// retries run out the caller gets ErrTemporarilyUnavailable instead of a
// grant or a denial.
//
// Operations for the same user are serialized. Different users never wait
// on each other.
package auth
