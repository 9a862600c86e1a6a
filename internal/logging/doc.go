// Package logging provides structured logging utilities for homesheet.
//
// This package centralizes logging patterns to ensure consistent, structured logging
// throughout the codebase using the standard library's slog package.
//
// # Usage Patterns
//
// Create a logger with standard attributes:
//
//	logger := logging.WithOperation(slog.Default(), "workflow.handle")
//	logger.Info("request finished",
//	    logging.State("DONE"))
//
// User identities are hashed before they reach a log line:
//
//	logger.Info("device flow started",
//	    logging.UserHash(userID))
//
// Tokens are never logged directly; use SanitizeToken.
package logging
